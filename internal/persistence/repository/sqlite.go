package repository

import (
	"context"
	stdsql "database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"entgo.io/ent/dialect"
	"entgo.io/ent/dialect/sql"
	"github.com/davidroman0O/comfylite3"
	"github.com/davidroman0O/studioflow/internal/types"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	email TEXT NOT NULL DEFAULT '',
	display_name TEXT NOT NULL DEFAULT '',
	language TEXT NOT NULL DEFAULT 'en',
	credits INTEGER NOT NULL DEFAULT 0 CHECK (credits >= 0),
	created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS records (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	user_id TEXT NOT NULL REFERENCES users(id),
	name TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	progress INTEGER NOT NULL DEFAULT 0,
	current_step TEXT NOT NULL DEFAULT '',
	metadata TEXT NOT NULL DEFAULT '{}',
	output_url TEXT NOT NULL DEFAULT '',
	thumbnail_url TEXT NOT NULL DEFAULT '',
	preview_images TEXT NOT NULL DEFAULT '[]',
	weights_url TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT '',
	event TEXT NOT NULL DEFAULT '',
	payload BLOB,
	cost INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	completed_at INTEGER
);
CREATE INDEX IF NOT EXISTS records_user_id ON records(user_id);
CREATE TABLE IF NOT EXISTS ledger (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id TEXT NOT NULL REFERENCES users(id),
	amount INTEGER NOT NULL,
	type TEXT NOT NULL,
	balance_after INTEGER NOT NULL,
	metadata TEXT NOT NULL DEFAULT '{}',
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS ledger_user_id ON ledger(user_id);
CREATE TABLE IF NOT EXISTS executions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	workflow TEXT NOT NULL,
	trigger_id TEXT NOT NULL UNIQUE,
	event TEXT NOT NULL,
	payload BLOB,
	emitted_at INTEGER NOT NULL,
	status TEXT NOT NULL,
	attempt INTEGER NOT NULL DEFAULT 0,
	error TEXT NOT NULL DEFAULT '',
	compensated INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS executions_status ON executions(status);
CREATE TABLE IF NOT EXISTS attempts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	execution_id INTEGER NOT NULL REFERENCES executions(id),
	number INTEGER NOT NULL,
	status TEXT NOT NULL,
	error TEXT NOT NULL DEFAULT '',
	started_at INTEGER NOT NULL,
	ended_at INTEGER
);
CREATE INDEX IF NOT EXISTS attempts_execution_id ON attempts(execution_id);
CREATE TABLE IF NOT EXISTS checkpoints (
	execution_id INTEGER NOT NULL REFERENCES executions(id),
	attempt INTEGER NOT NULL,
	step TEXT NOT NULL,
	output BLOB,
	created_at INTEGER NOT NULL,
	PRIMARY KEY (execution_id, attempt, step)
);
`

type SQLiteConfig struct {
	memory   bool
	filePath string
}

type SQLiteOption func(*SQLiteConfig)

func WithSQLiteMemory() SQLiteOption {
	return func(c *SQLiteConfig) {
		c.memory = true
	}
}

func WithSQLitePath(filePath string) SQLiteOption {
	return func(c *SQLiteConfig) {
		c.filePath = filePath
	}
}

// SQLiteRepository persists everything through comfylite3. Queries are
// built with ent's SQL builder.
type SQLiteRepository struct {
	comfy *comfylite3.ComfyDB
	db    *stdsql.DB

	users       *sqliteUsers
	records     *sqliteRecords
	executions  *sqliteExecutions
	checkpoints *sqliteCheckpoints
}

var _ Repository = (*SQLiteRepository)(nil)

func NewSQLiteRepository(ctx context.Context, opts ...SQLiteOption) (*SQLiteRepository, error) {
	cfg := &SQLiteConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	var comfyOptions []comfylite3.ComfyOption
	switch {
	case cfg.memory || cfg.filePath == "":
		comfyOptions = append(comfyOptions, comfylite3.WithMemory())
	default:
		comfyOptions = append(comfyOptions, comfylite3.WithPath(cfg.filePath))
		// Ensure folder exists
		if err := os.MkdirAll(filepath.Dir(cfg.filePath), 0755); err != nil {
			return nil, err
		}
	}

	comfy, err := comfylite3.New(comfyOptions...)
	if err != nil {
		return nil, err
	}

	db := comfylite3.OpenDB(
		comfy,
		comfylite3.WithOption("_fk=1"),
		comfylite3.WithOption("cache=shared"),
		comfylite3.WithOption("mode=rwc"),
		comfylite3.WithForeignKeys(),
	)

	for _, stmt := range strings.Split(sqliteSchema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			comfy.Close()
			return nil, fmt.Errorf("migrating schema: %w", err)
		}
	}

	r := &SQLiteRepository{comfy: comfy, db: db}
	r.users = &sqliteUsers{r}
	r.records = &sqliteRecords{r}
	r.executions = &sqliteExecutions{r}
	r.checkpoints = &sqliteCheckpoints{r}
	return r, nil
}

func (r *SQLiteRepository) Users() UserRepository             { return r.users }
func (r *SQLiteRepository) Records() RecordRepository         { return r.records }
func (r *SQLiteRepository) Executions() ExecutionRepository   { return r.executions }
func (r *SQLiteRepository) Checkpoints() CheckpointRepository { return r.checkpoints }

func (r *SQLiteRepository) Close() error {
	err := r.db.Close()
	r.comfy.Close()
	return err
}

func builder() *sql.DialectBuilder {
	return sql.Dialect(dialect.SQLite)
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (stdsql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*stdsql.Rows, error)
}

func exec(ctx context.Context, q querier, b sql.Querier) (stdsql.Result, error) {
	query, args := b.Query()
	return q.ExecContext(ctx, query, args...)
}

func (r *SQLiteRepository) withTx(ctx context.Context, fn func(tx *stdsql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		if rerr := tx.Rollback(); rerr != nil {
			return errors.Join(err, rerr)
		}
		return err
	}
	return tx.Commit()
}

func encodeJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func unixNano(t time.Time) int64 {
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	return time.Unix(0, n)
}

func nullTime(n stdsql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromUnixNano(n.Int64)
	return &t
}

type sqliteUsers struct{ r *SQLiteRepository }

var userColumns = []string{"id", "email", "display_name", "language", "credits", "created_at"}

func (s *sqliteUsers) Create(ctx context.Context, user types.User) (types.User, error) {
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

	err := s.r.withTx(ctx, func(tx *stdsql.Tx) error {
		if _, err := s.get(ctx, tx, user.ID); err == nil {
			return fmt.Errorf("user %s: %w", user.ID, ErrAlreadyExists)
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}
		if _, err := exec(ctx, tx, builder().Insert("users").
			Columns(userColumns...).
			Values(string(user.ID), user.Email, user.DisplayName, string(user.Language), user.Credits, unixNano(user.CreatedAt))); err != nil {
			return err
		}
		if user.Credits > 0 {
			_, err := appendLedger(ctx, tx, types.LedgerEntry{
				UserID:       user.ID,
				Amount:       user.Credits,
				Type:         types.LedgerTypeBonus,
				BalanceAfter: user.Credits,
				Metadata:     types.Metadata{"reason": "opening balance"},
			})
			return err
		}
		return nil
	})
	if err != nil {
		return types.User{}, err
	}
	return user, nil
}

func (s *sqliteUsers) get(ctx context.Context, q querier, id types.UserID) (types.User, error) {
	query, args := builder().Select(userColumns...).
		From(sql.Table("users")).
		Where(sql.EQ("id", string(id))).
		Query()
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return types.User{}, err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return types.User{}, err
		}
		return types.User{}, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	var (
		user      types.User
		uid, lang string
		createdAt int64
	)
	if err := rows.Scan(&uid, &user.Email, &user.DisplayName, &lang, &user.Credits, &createdAt); err != nil {
		return types.User{}, err
	}
	user.ID = types.UserID(uid)
	user.Language = types.Language(lang)
	user.CreatedAt = fromUnixNano(createdAt)
	return user, nil
}

func (s *sqliteUsers) Get(ctx context.Context, id types.UserID) (types.User, error) {
	return s.get(ctx, s.r.db, id)
}

func (s *sqliteUsers) ApplyCredits(ctx context.Context, id types.UserID, delta int, kind types.LedgerType, metadata types.Metadata) (types.LedgerEntry, error) {
	if delta == 0 {
		return types.LedgerEntry{}, fmt.Errorf("zero credit delta: %w", ErrInvalidInput)
	}

	var entry types.LedgerEntry
	err := s.r.withTx(ctx, func(tx *stdsql.Tx) error {
		res, err := exec(ctx, tx, builder().Update("users").
			Add("credits", delta).
			Where(sql.And(
				sql.EQ("id", string(id)),
				sql.ExprP("credits + ? >= 0", delta),
			)))
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		user, err := s.get(ctx, tx, id)
		if err != nil {
			return err
		}
		if affected == 0 {
			return fmt.Errorf("user %s has %d credits, needs %d: %w", id, user.Credits, -delta, ErrInsufficientCredits)
		}
		entry, err = appendLedger(ctx, tx, types.LedgerEntry{
			UserID:       id,
			Amount:       delta,
			Type:         kind,
			BalanceAfter: user.Credits,
			Metadata:     metadata,
		})
		return err
	})
	if err != nil {
		return types.LedgerEntry{}, err
	}
	return entry, nil
}

func appendLedger(ctx context.Context, q querier, entry types.LedgerEntry) (types.LedgerEntry, error) {
	meta, err := encodeJSON(entry.Metadata)
	if err != nil {
		return types.LedgerEntry{}, err
	}
	entry.CreatedAt = time.Now()
	res, err := exec(ctx, q, builder().Insert("ledger").
		Columns("user_id", "amount", "type", "balance_after", "metadata", "created_at").
		Values(string(entry.UserID), entry.Amount, string(entry.Type), entry.BalanceAfter, meta, unixNano(entry.CreatedAt)))
	if err != nil {
		return types.LedgerEntry{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return types.LedgerEntry{}, err
	}
	entry.ID = int(id)
	entry.Metadata = cloneMetadata(entry.Metadata)
	return entry, nil
}

func (s *sqliteUsers) Ledger(ctx context.Context, id types.UserID) ([]types.LedgerEntry, error) {
	query, args := builder().Select("id", "user_id", "amount", "type", "balance_after", "metadata", "created_at").
		From(sql.Table("ledger")).
		Where(sql.EQ("user_id", string(id))).
		OrderBy("id").
		Query()
	rows, err := s.r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []types.LedgerEntry{}
	for rows.Next() {
		var (
			entry          types.LedgerEntry
			uid, kind, raw string
			createdAt      int64
		)
		if err := rows.Scan(&entry.ID, &uid, &entry.Amount, &kind, &entry.BalanceAfter, &raw, &createdAt); err != nil {
			return nil, err
		}
		entry.UserID = types.UserID(uid)
		entry.Type = types.LedgerType(kind)
		entry.CreatedAt = fromUnixNano(createdAt)
		if err := json.Unmarshal([]byte(raw), &entry.Metadata); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

type sqliteRecords struct{ r *SQLiteRepository }

var recordColumns = []string{
	"id", "kind", "user_id", "name", "status", "progress", "current_step", "metadata",
	"output_url", "thumbnail_url", "preview_images", "weights_url", "error_message",
	"event", "payload", "cost", "created_at", "updated_at", "completed_at",
}

func recordValues(r types.Record) ([]any, error) {
	meta, err := encodeJSON(r.Metadata)
	if err != nil {
		return nil, err
	}
	previews := r.PreviewImages
	if previews == nil {
		previews = []string{}
	}
	images, err := encodeJSON(previews)
	if err != nil {
		return nil, err
	}
	var completedAt any
	if r.CompletedAt != nil {
		completedAt = unixNano(*r.CompletedAt)
	}
	return []any{
		string(r.ID), string(r.Kind), string(r.UserID), r.Name, string(r.Status), r.Progress, r.CurrentStep, meta,
		r.OutputURL, r.ThumbnailURL, images, r.WeightsURL, r.ErrorMessage,
		string(r.Event), r.Payload, r.Cost, unixNano(r.CreatedAt), unixNano(r.UpdatedAt), completedAt,
	}, nil
}

func scanRecord(rows *stdsql.Rows) (types.Record, error) {
	var (
		rec                          types.Record
		id, kind, uid, status, event string
		meta, images                 string
		createdAt, updatedAt         int64
		completedAt                  stdsql.NullInt64
	)
	if err := rows.Scan(
		&id, &kind, &uid, &rec.Name, &status, &rec.Progress, &rec.CurrentStep, &meta,
		&rec.OutputURL, &rec.ThumbnailURL, &images, &rec.WeightsURL, &rec.ErrorMessage,
		&event, &rec.Payload, &rec.Cost, &createdAt, &updatedAt, &completedAt,
	); err != nil {
		return types.Record{}, err
	}
	rec.ID = types.RecordID(id)
	rec.Kind = types.RecordKind(kind)
	rec.UserID = types.UserID(uid)
	rec.Status = types.RecordStatus(status)
	rec.Event = types.EventName(event)
	rec.CreatedAt = fromUnixNano(createdAt)
	rec.UpdatedAt = fromUnixNano(updatedAt)
	rec.CompletedAt = nullTime(completedAt)
	if err := json.Unmarshal([]byte(meta), &rec.Metadata); err != nil {
		return types.Record{}, err
	}
	if err := json.Unmarshal([]byte(images), &rec.PreviewImages); err != nil {
		return types.Record{}, err
	}
	if len(rec.PreviewImages) == 0 {
		rec.PreviewImages = nil
	}
	return rec, nil
}

func (s *sqliteRecords) Create(ctx context.Context, record types.Record) (types.Record, error) {
	if record.ID == types.NoRecordID {
		record.ID = types.NewRecordID()
	}
	if record.Status == "" {
		record.Status = types.RecordStatusPending
	}
	now := time.Now()
	record.CreatedAt = now
	record.UpdatedAt = now

	values, err := recordValues(record)
	if err != nil {
		return types.Record{}, err
	}
	err = s.r.withTx(ctx, func(tx *stdsql.Tx) error {
		if _, err := s.get(ctx, tx, record.ID); err == nil {
			return fmt.Errorf("record %s: %w", record.ID, ErrAlreadyExists)
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}
		_, err := exec(ctx, tx, builder().Insert("records").Columns(recordColumns...).Values(values...))
		return err
	})
	if err != nil {
		return types.Record{}, err
	}
	return cloneRecord(record), nil
}

func (s *sqliteRecords) get(ctx context.Context, q querier, id types.RecordID) (types.Record, error) {
	query, args := builder().Select(recordColumns...).
		From(sql.Table("records")).
		Where(sql.EQ("id", string(id))).
		Query()
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return types.Record{}, err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return types.Record{}, err
		}
		return types.Record{}, fmt.Errorf("record %s: %w", id, ErrNotFound)
	}
	return scanRecord(rows)
}

func (s *sqliteRecords) Get(ctx context.Context, id types.RecordID) (types.Record, error) {
	return s.get(ctx, s.r.db, id)
}

func (s *sqliteRecords) Update(ctx context.Context, id types.RecordID, patch types.Patch) (types.Record, error) {
	var updated types.Record
	err := s.r.withTx(ctx, func(tx *stdsql.Tx) error {
		current, err := s.get(ctx, tx, id)
		if err != nil {
			return err
		}
		updated = patch.Apply(current)
		updated.UpdatedAt = time.Now()
		values, err := recordValues(updated)
		if err != nil {
			return err
		}
		ub := builder().Update("records")
		// identity and trigger columns are immutable
		for i, col := range recordColumns {
			switch col {
			case "id", "kind", "user_id", "name", "created_at", "event", "payload", "cost":
				continue
			}
			ub.Set(col, values[i])
		}
		_, err = exec(ctx, tx, ub.Where(sql.EQ("id", string(id))))
		return err
	})
	if err != nil {
		return types.Record{}, err
	}
	return cloneRecord(updated), nil
}

func (s *sqliteRecords) Delete(ctx context.Context, id types.RecordID) error {
	res, err := exec(ctx, s.r.db, builder().Delete("records").Where(sql.EQ("id", string(id))))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("record %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *sqliteRecords) ListByUser(ctx context.Context, userID types.UserID) ([]types.Record, error) {
	query, args := builder().Select(recordColumns...).
		From(sql.Table("records")).
		Where(sql.EQ("user_id", string(userID))).
		OrderBy("created_at").
		Query()
	rows, err := s.r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	records := []types.Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

type sqliteExecutions struct{ r *SQLiteRepository }

var executionColumns = []string{
	"id", "workflow", "trigger_id", "event", "payload", "emitted_at",
	"status", "attempt", "error", "compensated", "created_at", "updated_at",
}

func scanExecution(rows *stdsql.Rows) (types.Execution, error) {
	var (
		e                               types.Execution
		id                              int64
		triggerID, event, status        string
		emittedAt, createdAt, updatedAt int64
	)
	if err := rows.Scan(&id, &e.Workflow, &triggerID, &event, &e.Trigger.Payload, &emittedAt,
		&status, &e.Attempt, &e.Error, &e.Compensated, &createdAt, &updatedAt); err != nil {
		return types.Execution{}, err
	}
	e.ID = types.ExecutionID(id)
	e.Trigger.ID = types.TriggerID(triggerID)
	e.Trigger.Event = types.EventName(event)
	e.Trigger.EmittedAt = fromUnixNano(emittedAt)
	e.Status = types.ExecutionStatus(status)
	e.CreatedAt = fromUnixNano(createdAt)
	e.UpdatedAt = fromUnixNano(updatedAt)
	return e, nil
}

func (s *sqliteExecutions) Create(ctx context.Context, execution types.Execution) (types.Execution, error) {
	now := time.Now()
	execution.CreatedAt = now
	execution.UpdatedAt = now
	if execution.Status == "" {
		execution.Status = types.ExecutionStatusPending
	}
	if execution.Trigger.ID == types.NoTriggerID {
		execution.Trigger.ID = types.NewTriggerID()
	}

	err := s.r.withTx(ctx, func(tx *stdsql.Tx) error {
		query, args := builder().Select("id").
			From(sql.Table("executions")).
			Where(sql.EQ("trigger_id", string(execution.Trigger.ID))).
			Query()
		rows, err := tx.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		exists := rows.Next()
		if err := errors.Join(rows.Err(), rows.Close()); err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("trigger %s: %w", execution.Trigger.ID, ErrAlreadyExists)
		}

		res, err := exec(ctx, tx, builder().Insert("executions").
			Columns(executionColumns[1:]...).
			Values(execution.Workflow, string(execution.Trigger.ID), string(execution.Trigger.Event), execution.Trigger.Payload,
				unixNano(execution.Trigger.EmittedAt), string(execution.Status), execution.Attempt, execution.Error,
				execution.Compensated, unixNano(execution.CreatedAt), unixNano(execution.UpdatedAt)))
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		execution.ID = types.ExecutionID(id)
		return nil
	})
	if err != nil {
		return types.Execution{}, err
	}
	return cloneExecution(execution), nil
}

func (s *sqliteExecutions) Get(ctx context.Context, id types.ExecutionID) (types.Execution, error) {
	query, args := builder().Select(executionColumns...).
		From(sql.Table("executions")).
		Where(sql.EQ("id", int(id))).
		Query()
	rows, err := s.r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return types.Execution{}, err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return types.Execution{}, err
		}
		return types.Execution{}, fmt.Errorf("execution %d: %w", id, ErrNotFound)
	}
	return scanExecution(rows)
}

func (s *sqliteExecutions) Update(ctx context.Context, execution types.Execution) error {
	res, err := exec(ctx, s.r.db, builder().Update("executions").
		Set("status", string(execution.Status)).
		Set("attempt", execution.Attempt).
		Set("error", execution.Error).
		Set("compensated", execution.Compensated).
		Set("updated_at", unixNano(time.Now())).
		Where(sql.EQ("id", int(execution.ID))))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("execution %d: %w", execution.ID, ErrNotFound)
	}
	return nil
}

func (s *sqliteExecutions) ListUnfinished(ctx context.Context) ([]types.Execution, error) {
	query, args := builder().Select(executionColumns...).
		From(sql.Table("executions")).
		Where(sql.Or(
			sql.In("status", string(types.ExecutionStatusPending), string(types.ExecutionStatusRunning)),
			sql.And(sql.EQ("status", string(types.ExecutionStatusFailed)), sql.EQ("compensated", false)),
		)).
		OrderBy("id").
		Query()
	rows, err := s.r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	executions := []types.Execution{}
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		executions = append(executions, e)
	}
	return executions, rows.Err()
}

func (s *sqliteExecutions) CreateAttempt(ctx context.Context, attempt types.Attempt) (types.Attempt, error) {
	if attempt.StartedAt.IsZero() {
		attempt.StartedAt = time.Now()
	}
	res, err := exec(ctx, s.r.db, builder().Insert("attempts").
		Columns("execution_id", "number", "status", "error", "started_at").
		Values(int(attempt.ExecutionID), attempt.Number, string(attempt.Status), attempt.Error, unixNano(attempt.StartedAt)))
	if err != nil {
		return types.Attempt{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return types.Attempt{}, err
	}
	attempt.ID = types.AttemptID(id)
	return attempt, nil
}

func (s *sqliteExecutions) FinishAttempt(ctx context.Context, id types.AttemptID, status types.AttemptStatus, errMsg string) error {
	res, err := exec(ctx, s.r.db, builder().Update("attempts").
		Set("status", string(status)).
		Set("error", errMsg).
		Set("ended_at", unixNano(time.Now())).
		Where(sql.EQ("id", int(id))))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("attempt %d: %w", id, ErrNotFound)
	}
	return nil
}

func (s *sqliteExecutions) Attempts(ctx context.Context, id types.ExecutionID) ([]types.Attempt, error) {
	query, args := builder().Select("id", "execution_id", "number", "status", "error", "started_at", "ended_at").
		From(sql.Table("attempts")).
		Where(sql.EQ("execution_id", int(id))).
		OrderBy("number").
		Query()
	rows, err := s.r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	attempts := []types.Attempt{}
	for rows.Next() {
		var (
			a         types.Attempt
			aid, eid  int64
			status    string
			startedAt int64
			endedAt   stdsql.NullInt64
		)
		if err := rows.Scan(&aid, &eid, &a.Number, &status, &a.Error, &startedAt, &endedAt); err != nil {
			return nil, err
		}
		a.ID = types.AttemptID(aid)
		a.ExecutionID = types.ExecutionID(eid)
		a.Status = types.AttemptStatus(status)
		a.StartedAt = fromUnixNano(startedAt)
		a.EndedAt = nullTime(endedAt)
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

type sqliteCheckpoints struct{ r *SQLiteRepository }

func (s *sqliteCheckpoints) Save(ctx context.Context, checkpoint types.Checkpoint) error {
	_, err := exec(ctx, s.r.db, builder().Insert("checkpoints").
		Columns("execution_id", "attempt", "step", "output", "created_at").
		Values(int(checkpoint.ExecutionID), checkpoint.Attempt, checkpoint.Step, checkpoint.Output, unixNano(time.Now())).
		OnConflict(
			sql.ConflictColumns("execution_id", "attempt", "step"),
			sql.ResolveWithNewValues(),
		))
	return err
}

func (s *sqliteCheckpoints) query(ctx context.Context, pred *sql.Predicate) ([]types.Checkpoint, error) {
	query, args := builder().Select("execution_id", "attempt", "step", "output", "created_at").
		From(sql.Table("checkpoints")).
		Where(pred).
		OrderBy("created_at").
		Query()
	rows, err := s.r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	checkpoints := []types.Checkpoint{}
	for rows.Next() {
		var (
			cp        types.Checkpoint
			eid       int64
			createdAt int64
		)
		if err := rows.Scan(&eid, &cp.Attempt, &cp.Step, &cp.Output, &createdAt); err != nil {
			return nil, err
		}
		cp.ExecutionID = types.ExecutionID(eid)
		cp.CreatedAt = fromUnixNano(createdAt)
		checkpoints = append(checkpoints, cp)
	}
	return checkpoints, rows.Err()
}

func (s *sqliteCheckpoints) Get(ctx context.Context, id types.ExecutionID, attempt int, step string) (types.Checkpoint, error) {
	checkpoints, err := s.query(ctx, sql.And(
		sql.EQ("execution_id", int(id)),
		sql.EQ("attempt", attempt),
		sql.EQ("step", step),
	))
	if err != nil {
		return types.Checkpoint{}, err
	}
	if len(checkpoints) == 0 {
		return types.Checkpoint{}, fmt.Errorf("checkpoint %d/%d/%s: %w", id, attempt, step, ErrNotFound)
	}
	return checkpoints[0], nil
}

func (s *sqliteCheckpoints) List(ctx context.Context, id types.ExecutionID, attempt int) ([]types.Checkpoint, error) {
	return s.query(ctx, sql.And(
		sql.EQ("execution_id", int(id)),
		sql.EQ("attempt", attempt),
	))
}
