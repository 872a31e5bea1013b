package journal

import (
	"context"
	"crypto/rand"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/oklog/ulid/v2"

	"github.com/horizonanalytic/lattice-sub007/internal/core"
	"github.com/horizonanalytic/lattice-sub007/internal/invocation"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - orphans table
const currentSchemaVersion = 1

// Entry is one journaled orphan.
type Entry struct {
	ID           string                `json:"id"`
	InvocationID uint64                `json:"invocation_id"`
	Command      invocation.Descriptor `json:"command"`
	RegisteredAt time.Time             `json:"registered_at"`
	ReapedAt     time.Time             `json:"reaped_at"`
}

// Journal is the SQLite-backed orphan journal.
type Journal struct {
	db    *sql.DB
	clock core.Clock

	entropyMu sync.Mutex
	entropy   io.Reader
}

var _ invocation.Journal = (*Journal)(nil)

// Option configures a Journal.
type Option func(*Journal)

// WithClock sets the clock used for reap timestamps and ULIDs.
func WithClock(c core.Clock) Option {
	return func(j *Journal) {
		j.clock = c
	}
}

// Open creates or opens the journal database at path.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode
//   - 5-second busy timeout for lock contention
//
// Open is idempotent.
func Open(path string, opts ...Option) (*Journal, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect journal: %w", err)
	}

	// SQLite supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	j := &Journal{
		db:      db,
		clock:   core.SystemClock{},
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	if j.db == nil {
		return nil
	}
	return j.db.Close()
}

// Record journals one reclaimed invocation and returns its entry id.
func (j *Journal) Record(ctx context.Context, p invocation.Pending) (string, error) {
	now := j.clock.Now()
	id, err := j.newID(now)
	if err != nil {
		return "", fmt.Errorf("record orphan %d: %w", p.ID, err)
	}
	if err := j.insert(ctx, j.db, id, p, now); err != nil {
		return "", fmt.Errorf("record orphan %d: %w", p.ID, err)
	}
	return id, nil
}

// RecordOrphans journals a batch of reclaimed invocations in one transaction.
// It implements invocation.Journal.
func (j *Journal) RecordOrphans(ctx context.Context, orphans []invocation.Pending) error {
	if len(orphans) == 0 {
		return nil
	}

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("record orphans: %w", err)
	}
	defer tx.Rollback()

	now := j.clock.Now()
	for _, p := range orphans {
		id, err := j.newID(now)
		if err != nil {
			return fmt.Errorf("record orphans: %w", err)
		}
		if err := j.insert(ctx, tx, id, p, now); err != nil {
			return fmt.Errorf("record orphan %d: %w", p.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("record orphans: %w", err)
	}
	return nil
}

// List returns up to limit entries in reap order. limit <= 0 returns all.
func (j *Journal) List(ctx context.Context, limit int) ([]Entry, error) {
	q := `SELECT id, invocation_id, descriptor, registered_at, reaped_at FROM orphans ORDER BY id`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := j.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list orphans: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e          Entry
			desc       string
			invID      int64
			regAt, rAt int64
		)
		if err := rows.Scan(&e.ID, &invID, &desc, &regAt, &rAt); err != nil {
			return nil, fmt.Errorf("scan orphan: %w", err)
		}
		if err := json.Unmarshal([]byte(desc), &e.Command); err != nil {
			return nil, fmt.Errorf("decode descriptor for %s: %w", e.ID, err)
		}
		e.InvocationID = uint64(invID)
		e.RegisteredAt = time.Unix(0, regAt).UTC()
		e.ReapedAt = time.Unix(0, rAt).UTC()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list orphans: %w", err)
	}
	return out, nil
}

// Count returns the number of journaled orphans.
func (j *Journal) Count(ctx context.Context) (int, error) {
	var n int
	if err := j.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM orphans`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count orphans: %w", err)
	}
	return n, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (j *Journal) insert(ctx context.Context, db execer, id string, p invocation.Pending, reapedAt time.Time) error {
	desc, err := json.Marshal(p.Command)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO orphans
		(id, invocation_id, command_type, descriptor, registered_at, reaped_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		id,
		int64(p.ID),
		p.Command.Type,
		string(desc),
		p.RegisteredAt.UnixNano(),
		reapedAt.UnixNano(),
	)
	return err
}

// newID returns a ULID for t. The shared monotonic entropy keeps ids
// ordered within the same millisecond.
func (j *Journal) newID(t time.Time) (string, error) {
	j.entropyMu.Lock()
	defer j.entropyMu.Unlock()
	id, err := ulid.New(ulid.Timestamp(t), j.entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}
