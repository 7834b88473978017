package repository

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/davidroman0O/studioflow/internal/types"
	"github.com/hashicorp/go-memdb"
)

const (
	tableUsers       = "users"
	tableRecords     = "records"
	tableLedger      = "ledger"
	tableExecutions  = "executions"
	tableAttempts    = "attempts"
	tableCheckpoints = "checkpoints"
)

func memorySchema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			tableUsers: {
				Name: tableUsers,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {Name: "id", Unique: true, Indexer: &memdb.StringFieldIndex{Field: "ID"}},
				},
			},
			tableRecords: {
				Name: tableRecords,
				Indexes: map[string]*memdb.IndexSchema{
					"id":   {Name: "id", Unique: true, Indexer: &memdb.StringFieldIndex{Field: "ID"}},
					"user": {Name: "user", Indexer: &memdb.StringFieldIndex{Field: "UserID"}},
				},
			},
			tableLedger: {
				Name: tableLedger,
				Indexes: map[string]*memdb.IndexSchema{
					"id":   {Name: "id", Unique: true, Indexer: &memdb.IntFieldIndex{Field: "ID"}},
					"user": {Name: "user", Indexer: &memdb.StringFieldIndex{Field: "UserID"}},
				},
			},
			tableExecutions: {
				Name: tableExecutions,
				Indexes: map[string]*memdb.IndexSchema{
					"id":      {Name: "id", Unique: true, Indexer: &memdb.IntFieldIndex{Field: "ID"}},
					"trigger": {Name: "trigger", Unique: true, Indexer: &triggerIndex{}},
					"status":  {Name: "status", Indexer: &memdb.StringFieldIndex{Field: "Status"}},
				},
			},
			tableAttempts: {
				Name: tableAttempts,
				Indexes: map[string]*memdb.IndexSchema{
					"id":        {Name: "id", Unique: true, Indexer: &memdb.IntFieldIndex{Field: "ID"}},
					"execution": {Name: "execution", Indexer: &memdb.IntFieldIndex{Field: "ExecutionID"}},
				},
			},
			tableCheckpoints: {
				Name: tableCheckpoints,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:   "id",
						Unique: true,
						Indexer: &memdb.CompoundIndex{Indexes: []memdb.Indexer{
							&memdb.IntFieldIndex{Field: "ExecutionID"},
							&memdb.IntFieldIndex{Field: "Attempt"},
							&memdb.StringFieldIndex{Field: "Step"},
						}},
					},
					"attempt": {
						Name: "attempt",
						Indexer: &memdb.CompoundIndex{Indexes: []memdb.Indexer{
							&memdb.IntFieldIndex{Field: "ExecutionID"},
							&memdb.IntFieldIndex{Field: "Attempt"},
						}},
					},
				},
			},
		},
	}
}

// triggerIndex indexes executions by their trigger ID which lives in a
// nested struct that memdb's field indexers cannot reach.
type triggerIndex struct{}

func (triggerIndex) FromObject(obj interface{}) (bool, []byte, error) {
	e, ok := obj.(*types.Execution)
	if !ok {
		return false, nil, fmt.Errorf("unexpected type %T", obj)
	}
	if e.Trigger.ID == types.NoTriggerID {
		return false, nil, nil
	}
	return true, []byte(string(e.Trigger.ID) + "\x00"), nil
}

func (triggerIndex) FromArgs(args ...interface{}) ([]byte, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("must provide only a single argument")
	}
	id, ok := args[0].(string)
	if !ok {
		return nil, fmt.Errorf("argument must be a string: %#v", args[0])
	}
	return []byte(id + "\x00"), nil
}

// MemoryRepository keeps everything in a go-memdb database. Write
// transactions are serialized by memdb, which is what makes ApplyCredits
// atomic.
type MemoryRepository struct {
	db *memdb.MemDB

	ledgerID    atomic.Int64
	executionID atomic.Int64
	attemptID   atomic.Int64

	users       *memoryUsers
	records     *memoryRecords
	executions  *memoryExecutions
	checkpoints *memoryCheckpoints
}

var _ Repository = (*MemoryRepository)(nil)

func NewMemoryRepository() (*MemoryRepository, error) {
	db, err := memdb.NewMemDB(memorySchema())
	if err != nil {
		return nil, err
	}
	r := &MemoryRepository{db: db}
	r.users = &memoryUsers{r}
	r.records = &memoryRecords{r}
	r.executions = &memoryExecutions{r}
	r.checkpoints = &memoryCheckpoints{r}
	return r, nil
}

func (r *MemoryRepository) Users() UserRepository             { return r.users }
func (r *MemoryRepository) Records() RecordRepository         { return r.records }
func (r *MemoryRepository) Executions() ExecutionRepository   { return r.executions }
func (r *MemoryRepository) Checkpoints() CheckpointRepository { return r.checkpoints }
func (r *MemoryRepository) Close() error                      { return nil }

type memoryUsers struct{ r *MemoryRepository }

func (m *memoryUsers) Create(ctx context.Context, user types.User) (types.User, error) {
	if user.ID == types.NoUserID {
		user.ID = types.NewUserID()
	}
	if user.Credits < 0 {
		return types.User{}, fmt.Errorf("negative opening balance: %w", ErrInvalidInput)
	}
	if user.Language == "" {
		user.Language = types.LanguageEnglish
	}
	user.CreatedAt = time.Now()

	txn := m.r.db.Txn(true)
	defer txn.Abort()

	existing, err := txn.First(tableUsers, "id", string(user.ID))
	if err != nil {
		return types.User{}, err
	}
	if existing != nil {
		return types.User{}, fmt.Errorf("user %s: %w", user.ID, ErrAlreadyExists)
	}

	stored := user
	if err := txn.Insert(tableUsers, &stored); err != nil {
		return types.User{}, err
	}
	if user.Credits > 0 {
		if _, err := m.r.appendLedger(txn, types.LedgerEntry{
			UserID:       user.ID,
			Amount:       user.Credits,
			Type:         types.LedgerTypeBonus,
			BalanceAfter: user.Credits,
			Metadata:     types.Metadata{"reason": "opening balance"},
		}); err != nil {
			return types.User{}, err
		}
	}
	txn.Commit()
	return user, nil
}

func (m *memoryUsers) Get(ctx context.Context, id types.UserID) (types.User, error) {
	txn := m.r.db.Txn(false)
	defer txn.Abort()
	raw, err := txn.First(tableUsers, "id", string(id))
	if err != nil {
		return types.User{}, err
	}
	if raw == nil {
		return types.User{}, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	return *raw.(*types.User), nil
}

func (m *memoryUsers) ApplyCredits(ctx context.Context, id types.UserID, delta int, kind types.LedgerType, metadata types.Metadata) (types.LedgerEntry, error) {
	if delta == 0 {
		return types.LedgerEntry{}, fmt.Errorf("zero credit delta: %w", ErrInvalidInput)
	}

	txn := m.r.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(tableUsers, "id", string(id))
	if err != nil {
		return types.LedgerEntry{}, err
	}
	if raw == nil {
		return types.LedgerEntry{}, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	user := *raw.(*types.User)
	if user.Credits+delta < 0 {
		return types.LedgerEntry{}, fmt.Errorf("user %s has %d credits, needs %d: %w", id, user.Credits, -delta, ErrInsufficientCredits)
	}
	user.Credits += delta
	if err := txn.Insert(tableUsers, &user); err != nil {
		return types.LedgerEntry{}, err
	}

	entry := types.LedgerEntry{
		UserID:       id,
		Amount:       delta,
		Type:         kind,
		BalanceAfter: user.Credits,
		Metadata:     cloneMetadata(metadata),
	}
	if entry, err = m.r.appendLedger(txn, entry); err != nil {
		return types.LedgerEntry{}, err
	}
	txn.Commit()
	return cloneLedgerEntry(entry), nil
}

func (r *MemoryRepository) appendLedger(txn *memdb.Txn, entry types.LedgerEntry) (types.LedgerEntry, error) {
	entry.ID = int(r.ledgerID.Add(1))
	entry.CreatedAt = time.Now()
	stored := cloneLedgerEntry(entry)
	if err := txn.Insert(tableLedger, &stored); err != nil {
		return types.LedgerEntry{}, err
	}
	return entry, nil
}

func (m *memoryUsers) Ledger(ctx context.Context, id types.UserID) ([]types.LedgerEntry, error) {
	txn := m.r.db.Txn(false)
	defer txn.Abort()
	it, err := txn.Get(tableLedger, "user", string(id))
	if err != nil {
		return nil, err
	}
	entries := []types.LedgerEntry{}
	for obj := it.Next(); obj != nil; obj = it.Next() {
		entries = append(entries, cloneLedgerEntry(*obj.(*types.LedgerEntry)))
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return entries, nil
}

type memoryRecords struct{ r *MemoryRepository }

func (m *memoryRecords) Create(ctx context.Context, record types.Record) (types.Record, error) {
	if record.ID == types.NoRecordID {
		record.ID = types.NewRecordID()
	}
	if record.Status == "" {
		record.Status = types.RecordStatusPending
	}
	now := time.Now()
	record.CreatedAt = now
	record.UpdatedAt = now

	txn := m.r.db.Txn(true)
	defer txn.Abort()
	existing, err := txn.First(tableRecords, "id", string(record.ID))
	if err != nil {
		return types.Record{}, err
	}
	if existing != nil {
		return types.Record{}, fmt.Errorf("record %s: %w", record.ID, ErrAlreadyExists)
	}
	stored := cloneRecord(record)
	if err := txn.Insert(tableRecords, &stored); err != nil {
		return types.Record{}, err
	}
	txn.Commit()
	return cloneRecord(record), nil
}

func (m *memoryRecords) Get(ctx context.Context, id types.RecordID) (types.Record, error) {
	txn := m.r.db.Txn(false)
	defer txn.Abort()
	raw, err := txn.First(tableRecords, "id", string(id))
	if err != nil {
		return types.Record{}, err
	}
	if raw == nil {
		return types.Record{}, fmt.Errorf("record %s: %w", id, ErrNotFound)
	}
	return cloneRecord(*raw.(*types.Record)), nil
}

func (m *memoryRecords) Update(ctx context.Context, id types.RecordID, patch types.Patch) (types.Record, error) {
	txn := m.r.db.Txn(true)
	defer txn.Abort()
	raw, err := txn.First(tableRecords, "id", string(id))
	if err != nil {
		return types.Record{}, err
	}
	if raw == nil {
		return types.Record{}, fmt.Errorf("record %s: %w", id, ErrNotFound)
	}
	updated := patch.Apply(cloneRecord(*raw.(*types.Record)))
	updated.UpdatedAt = time.Now()
	if err := txn.Insert(tableRecords, &updated); err != nil {
		return types.Record{}, err
	}
	txn.Commit()
	return cloneRecord(updated), nil
}

func (m *memoryRecords) Delete(ctx context.Context, id types.RecordID) error {
	txn := m.r.db.Txn(true)
	defer txn.Abort()
	n, err := txn.DeleteAll(tableRecords, "id", string(id))
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("record %s: %w", id, ErrNotFound)
	}
	txn.Commit()
	return nil
}

func (m *memoryRecords) ListByUser(ctx context.Context, userID types.UserID) ([]types.Record, error) {
	txn := m.r.db.Txn(false)
	defer txn.Abort()
	it, err := txn.Get(tableRecords, "user", string(userID))
	if err != nil {
		return nil, err
	}
	records := []types.Record{}
	for obj := it.Next(); obj != nil; obj = it.Next() {
		records = append(records, cloneRecord(*obj.(*types.Record)))
	}
	sort.Slice(records, func(i, j int) bool { return records[i].CreatedAt.Before(records[j].CreatedAt) })
	return records, nil
}

type memoryExecutions struct{ r *MemoryRepository }

func (m *memoryExecutions) Create(ctx context.Context, execution types.Execution) (types.Execution, error) {
	txn := m.r.db.Txn(true)
	defer txn.Abort()

	if execution.Trigger.ID != types.NoTriggerID {
		existing, err := txn.First(tableExecutions, "trigger", string(execution.Trigger.ID))
		if err != nil {
			return types.Execution{}, err
		}
		if existing != nil {
			return types.Execution{}, fmt.Errorf("trigger %s: %w", execution.Trigger.ID, ErrAlreadyExists)
		}
	}

	now := time.Now()
	execution.ID = types.ExecutionID(m.r.executionID.Add(1))
	execution.CreatedAt = now
	execution.UpdatedAt = now
	if execution.Status == "" {
		execution.Status = types.ExecutionStatusPending
	}
	stored := cloneExecution(execution)
	if err := txn.Insert(tableExecutions, &stored); err != nil {
		return types.Execution{}, err
	}
	txn.Commit()
	return cloneExecution(execution), nil
}

func (m *memoryExecutions) Get(ctx context.Context, id types.ExecutionID) (types.Execution, error) {
	txn := m.r.db.Txn(false)
	defer txn.Abort()
	raw, err := txn.First(tableExecutions, "id", int(id))
	if err != nil {
		return types.Execution{}, err
	}
	if raw == nil {
		return types.Execution{}, fmt.Errorf("execution %d: %w", id, ErrNotFound)
	}
	return cloneExecution(*raw.(*types.Execution)), nil
}

func (m *memoryExecutions) Update(ctx context.Context, execution types.Execution) error {
	txn := m.r.db.Txn(true)
	defer txn.Abort()
	raw, err := txn.First(tableExecutions, "id", int(execution.ID))
	if err != nil {
		return err
	}
	if raw == nil {
		return fmt.Errorf("execution %d: %w", execution.ID, ErrNotFound)
	}
	current := *raw.(*types.Execution)
	current.Status = execution.Status
	current.Attempt = execution.Attempt
	current.Error = execution.Error
	current.Compensated = execution.Compensated
	current.UpdatedAt = time.Now()
	if err := txn.Insert(tableExecutions, &current); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

func (m *memoryExecutions) ListUnfinished(ctx context.Context) ([]types.Execution, error) {
	txn := m.r.db.Txn(false)
	defer txn.Abort()
	executions := []types.Execution{}
	for _, status := range []types.ExecutionStatus{types.ExecutionStatusPending, types.ExecutionStatusRunning, types.ExecutionStatusFailed} {
		it, err := txn.Get(tableExecutions, "status", string(status))
		if err != nil {
			return nil, err
		}
		for obj := it.Next(); obj != nil; obj = it.Next() {
			e := obj.(*types.Execution)
			if e.Status == types.ExecutionStatusFailed && e.Compensated {
				continue
			}
			executions = append(executions, cloneExecution(*e))
		}
	}
	sort.Slice(executions, func(i, j int) bool { return executions[i].ID < executions[j].ID })
	return executions, nil
}

func (m *memoryExecutions) CreateAttempt(ctx context.Context, attempt types.Attempt) (types.Attempt, error) {
	attempt.ID = types.AttemptID(m.r.attemptID.Add(1))
	if attempt.StartedAt.IsZero() {
		attempt.StartedAt = time.Now()
	}
	txn := m.r.db.Txn(true)
	defer txn.Abort()
	stored := attempt
	if err := txn.Insert(tableAttempts, &stored); err != nil {
		return types.Attempt{}, err
	}
	txn.Commit()
	return attempt, nil
}

func (m *memoryExecutions) FinishAttempt(ctx context.Context, id types.AttemptID, status types.AttemptStatus, errMsg string) error {
	txn := m.r.db.Txn(true)
	defer txn.Abort()
	raw, err := txn.First(tableAttempts, "id", int(id))
	if err != nil {
		return err
	}
	if raw == nil {
		return fmt.Errorf("attempt %d: %w", id, ErrNotFound)
	}
	attempt := *raw.(*types.Attempt)
	now := time.Now()
	attempt.Status = status
	attempt.Error = errMsg
	attempt.EndedAt = &now
	if err := txn.Insert(tableAttempts, &attempt); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

func (m *memoryExecutions) Attempts(ctx context.Context, id types.ExecutionID) ([]types.Attempt, error) {
	txn := m.r.db.Txn(false)
	defer txn.Abort()
	it, err := txn.Get(tableAttempts, "execution", int(id))
	if err != nil {
		return nil, err
	}
	attempts := []types.Attempt{}
	for obj := it.Next(); obj != nil; obj = it.Next() {
		attempts = append(attempts, *obj.(*types.Attempt))
	}
	sort.Slice(attempts, func(i, j int) bool { return attempts[i].Number < attempts[j].Number })
	return attempts, nil
}

type memoryCheckpoints struct{ r *MemoryRepository }

func (m *memoryCheckpoints) Save(ctx context.Context, checkpoint types.Checkpoint) error {
	checkpoint.CreatedAt = time.Now()
	checkpoint.Output = append([]byte(nil), checkpoint.Output...)
	txn := m.r.db.Txn(true)
	defer txn.Abort()
	if err := txn.Insert(tableCheckpoints, &checkpoint); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

func (m *memoryCheckpoints) Get(ctx context.Context, id types.ExecutionID, attempt int, step string) (types.Checkpoint, error) {
	txn := m.r.db.Txn(false)
	defer txn.Abort()
	raw, err := txn.First(tableCheckpoints, "id", int(id), attempt, step)
	if err != nil {
		return types.Checkpoint{}, err
	}
	if raw == nil {
		return types.Checkpoint{}, fmt.Errorf("checkpoint %d/%d/%s: %w", id, attempt, step, ErrNotFound)
	}
	cp := *raw.(*types.Checkpoint)
	cp.Output = append([]byte(nil), cp.Output...)
	return cp, nil
}

func (m *memoryCheckpoints) List(ctx context.Context, id types.ExecutionID, attempt int) ([]types.Checkpoint, error) {
	txn := m.r.db.Txn(false)
	defer txn.Abort()
	it, err := txn.Get(tableCheckpoints, "attempt", int(id), attempt)
	if err != nil {
		return nil, err
	}
	checkpoints := []types.Checkpoint{}
	for obj := it.Next(); obj != nil; obj = it.Next() {
		cp := *obj.(*types.Checkpoint)
		cp.Output = append([]byte(nil), cp.Output...)
		checkpoints = append(checkpoints, cp)
	}
	sort.Slice(checkpoints, func(i, j int) bool { return checkpoints[i].CreatedAt.Before(checkpoints[j].CreatedAt) })
	return checkpoints, nil
}
