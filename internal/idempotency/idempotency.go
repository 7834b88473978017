package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-memdb"
	"github.com/redis/go-redis/v9"
)

var ErrAlreadyClaimed = errors.New("already claimed")

// Guard lets exactly one caller claim a key.
type Guard interface {
	// Claim returns ErrAlreadyClaimed when key was claimed before.
	Claim(ctx context.Context, key string) error
	// Release forgets key so it can be claimed again.
	Release(ctx context.Context, key string) error
}

type claim struct {
	Key       string
	ClaimedAt time.Time
}

// MemoryGuard is a process-local guard backed by go-memdb.
type MemoryGuard struct {
	db *memdb.MemDB
}

var _ Guard = (*MemoryGuard)(nil)

func NewMemoryGuard() (*MemoryGuard, error) {
	db, err := memdb.NewMemDB(&memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			"claims": {
				Name: "claims",
				Indexes: map[string]*memdb.IndexSchema{
					"id": {Name: "id", Unique: true, Indexer: &memdb.StringFieldIndex{Field: "Key"}},
				},
			},
		},
	})
	if err != nil {
		return nil, err
	}
	return &MemoryGuard{db: db}, nil
}

func (g *MemoryGuard) Claim(ctx context.Context, key string) error {
	txn := g.db.Txn(true)
	defer txn.Abort()
	existing, err := txn.First("claims", "id", key)
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("%s: %w", key, ErrAlreadyClaimed)
	}
	if err := txn.Insert("claims", &claim{Key: key, ClaimedAt: time.Now()}); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

func (g *MemoryGuard) Release(ctx context.Context, key string) error {
	txn := g.db.Txn(true)
	defer txn.Abort()
	if _, err := txn.DeleteAll("claims", "id", key); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

// RedisGuard shares claims across processes with SET NX.
type RedisGuard struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

var _ Guard = (*RedisGuard)(nil)

// NewRedisGuard keeps claims for ttl. A zero ttl keeps them forever.
func NewRedisGuard(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisGuard {
	if prefix == "" {
		prefix = "studioflow:trigger:"
	}
	return &RedisGuard{client: client, prefix: prefix, ttl: ttl}
}

func (g *RedisGuard) Claim(ctx context.Context, key string) error {
	ok, err := g.client.SetNX(ctx, g.prefix+key, time.Now().UTC().Format(time.RFC3339Nano), g.ttl).Result()
	if err != nil {
		return fmt.Errorf("claiming %s: %w", key, err)
	}
	if !ok {
		return fmt.Errorf("%s: %w", key, ErrAlreadyClaimed)
	}
	return nil
}

func (g *RedisGuard) Release(ctx context.Context, key string) error {
	if err := g.client.Del(ctx, g.prefix+key).Err(); err != nil {
		return fmt.Errorf("releasing %s: %w", key, err)
	}
	return nil
}
