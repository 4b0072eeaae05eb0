package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ringba-rpc-alerts/internal/source"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	// One row per (day, window); at most one baseline row per day.
	// The partial unique index is what makes concurrent baseline
	// writes converge on a single winner.
	schemaSQL = `CREATE TABLE IF NOT EXISTS day_windows (
        day         date        NOT NULL,
        window_name text        NOT NULL,
        role        text        NOT NULL,
        snapshots   jsonb       NOT NULL,
        recorded_at timestamptz NOT NULL DEFAULT now(),
        PRIMARY KEY (day, window_name)
    );
    CREATE UNIQUE INDEX IF NOT EXISTS day_windows_one_baseline
        ON day_windows (day) WHERE role = 'baseline';`

	insertBaselineSQL = `INSERT INTO day_windows (day, window_name, role, snapshots)
    VALUES ($1, $2, 'baseline', $3)
    ON CONFLICT DO NOTHING;`

	upsertComparisonSQL = `INSERT INTO day_windows (day, window_name, role, snapshots)
    VALUES ($1, $2, 'comparison', $3)
    ON CONFLICT (day, window_name) DO UPDATE
    SET snapshots   = EXCLUDED.snapshots,
        role        = EXCLUDED.role,
        recorded_at = now();`

	selectBaselineSQL = `SELECT day, window_name, role, snapshots, recorded_at
    FROM day_windows
    WHERE day = $1 AND role = 'baseline';`

	selectWindowSQL = `SELECT day, window_name, role, snapshots, recorded_at
    FROM day_windows
    WHERE day = $1 AND window_name = $2;`

	listWindowsSQL = `SELECT day, window_name, role, snapshots, recorded_at
    FROM day_windows
    WHERE day = $1
    ORDER BY recorded_at;`

	pruneSQL = `DELETE FROM day_windows WHERE day < $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// DayStateStore defines cross-invocation persistence of check-window
// outcomes. It is the single source of truth between scheduled runs.
type DayStateStore interface {
	// RecordBaseline writes the day's baseline set unless one already
	// exists, in which case the stored set is returned untouched.
	RecordBaseline(ctx context.Context, day, window string, snaps []source.Snapshot) (stored []source.Snapshot, existed bool, err error)
	// RecordComparison records (or re-records, latest wins) a
	// comparison window's snapshot set.
	RecordComparison(ctx context.Context, day, window string, snaps []source.Snapshot) error
	GetBaseline(ctx context.Context, day string) (*WindowRecord, error)
	GetWindow(ctx context.Context, day, window string) (*WindowRecord, error)
	ListWindows(ctx context.Context, day string) ([]WindowRecord, error)
	Prune(ctx context.Context, keep time.Duration) error
}

// AdvisoryLocker exposes advisory lock helpers for run serialization.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store persists day state in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the day-state table and indexes if missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// RecordBaseline inserts the baseline set for day. If a baseline row
// already exists (idempotent re-run, or a concurrent invocation won
// the insert), the stored set is returned with existed=true.
func (s *Store) RecordBaseline(ctx context.Context, day, window string, snaps []source.Snapshot) ([]source.Snapshot, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	payload, err := json.Marshal(snaps)
	if err != nil {
		return nil, false, fmt.Errorf("marshal snapshots: %w", err)
	}

	tag, err := pool.Exec(ctx, insertBaselineSQL, day, window, payload)
	if err != nil {
		return nil, false, fmt.Errorf("insert baseline: %w", err)
	}
	existed := tag.RowsAffected() == 0

	record, err := s.GetBaseline(ctx, day)
	if err != nil {
		return nil, existed, err
	}
	if record == nil {
		return nil, existed, errors.New("baseline missing after insert")
	}
	return record.Snapshots, existed, nil
}

// RecordComparison upserts a comparison window's snapshot set; the
// latest write for the window wins atomically.
func (s *Store) RecordComparison(ctx context.Context, day, window string, snaps []source.Snapshot) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(snaps)
	if err != nil {
		return fmt.Errorf("marshal snapshots: %w", err)
	}

	if _, err := pool.Exec(ctx, upsertComparisonSQL, day, window, payload); err != nil {
		return fmt.Errorf("upsert comparison window: %w", err)
	}
	return nil
}

// GetBaseline returns the day's baseline window, or nil when no
// baseline has been recorded.
func (s *Store) GetBaseline(ctx context.Context, day string) (*WindowRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	record, err := scanWindow(pool.QueryRow(ctx, selectBaselineSQL, day))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get baseline: %w", err)
	}
	return record, nil
}

// GetWindow returns one named window for the day, or nil when absent.
func (s *Store) GetWindow(ctx context.Context, day, window string) (*WindowRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	record, err := scanWindow(pool.QueryRow(ctx, selectWindowSQL, day, window))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get window: %w", err)
	}
	return record, nil
}

// ListWindows returns every recorded window for the day in recording
// order.
func (s *Store) ListWindows(ctx context.Context, day string) ([]WindowRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, listWindowsSQL, day)
	if err != nil {
		return nil, fmt.Errorf("list windows: %w", err)
	}
	defer rows.Close()

	records := make([]WindowRecord, 0)
	for rows.Next() {
		record, err := scanWindow(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *record)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

// Prune deletes day state older than the retention period. Pruning is
// hygiene only; correctness within a day never depends on it.
func (s *Store) Prune(ctx context.Context, keep time.Duration) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	cutoff := time.Now().Add(-keep).Format("2006-01-02")
	if _, err := pool.Exec(ctx, pruneSQL, cutoff); err != nil {
		return fmt.Errorf("prune day state: %w", err)
	}
	return nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctxUnlock, advisoryUnlockSQL, key); err != nil {
			// unlock best effort; log omitted in storage package
		}
		conn.Release()
	}
	return unlock, true, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWindow(row rowScanner) (*WindowRecord, error) {
	var (
		day        time.Time
		window     string
		role       string
		payload    []byte
		recordedAt time.Time
	)
	if err := row.Scan(&day, &window, &role, &payload, &recordedAt); err != nil {
		return nil, err
	}

	var snaps []source.Snapshot
	if err := json.Unmarshal(payload, &snaps); err != nil {
		return nil, fmt.Errorf("decode snapshots: %w", err)
	}

	return &WindowRecord{
		Day:        day.Format("2006-01-02"),
		Window:     window,
		Role:       WindowRole(role),
		Snapshots:  snaps,
		RecordedAt: recordedAt,
	}, nil
}

var _ DayStateStore = (*Store)(nil)
var _ AdvisoryLocker = (*Store)(nil)
