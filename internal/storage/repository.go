package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	createSchemaSQL = `
    CREATE TABLE IF NOT EXISTS alert_events (
        id          BIGSERIAL PRIMARY KEY,
        occurred_at TIMESTAMPTZ NOT NULL,
        kind        TEXT NOT NULL,
        metric      TEXT NOT NULL DEFAULT '',
        value       NUMERIC(12,6) NOT NULL,
        threshold   NUMERIC(6,2) NOT NULL,
        message     TEXT NOT NULL,
        host        TEXT NOT NULL DEFAULT '',
        created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
    );
    CREATE INDEX IF NOT EXISTS alert_events_occurred_at_idx ON alert_events (occurred_at DESC);
    CREATE TABLE IF NOT EXISTS anomaly_verdicts (
        id          BIGSERIAL PRIMARY KEY,
        detected_at TIMESTAMPTZ NOT NULL,
        score       NUMERIC(12,6) NOT NULL,
        cpu         NUMERIC(6,3) NOT NULL,
        memory      NUMERIC(6,3) NOT NULL,
        disk        NUMERIC(6,3) NOT NULL,
        host        TEXT NOT NULL DEFAULT '',
        created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
    );
    CREATE INDEX IF NOT EXISTS anomaly_verdicts_detected_at_idx ON anomaly_verdicts (detected_at DESC);`

	insertEventSQL = `INSERT INTO alert_events (
        occurred_at,
        kind,
        metric,
        value,
        threshold,
        message,
        host
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7
    )
    RETURNING id, created_at;`

	listRecentEventsSQL = `SELECT
        id,
        occurred_at,
        kind,
        metric,
        value::text,
        threshold::text,
        message,
        host,
        created_at
    FROM alert_events
    ORDER BY occurred_at DESC
    LIMIT $1;`

	insertVerdictSQL = `INSERT INTO anomaly_verdicts (
        detected_at,
        score,
        cpu,
        memory,
        disk,
        host
    ) VALUES (
        $1,$2,$3,$4,$5,$6
    )
    RETURNING id, created_at;`

	listRecentVerdictsSQL = `SELECT
        id,
        detected_at,
        score::text,
        cpu::text,
        memory::text,
        disk::text,
        host,
        created_at
    FROM anomaly_verdicts
    ORDER BY detected_at DESC
    LIMIT $1;`

	deleteEventsBeforeSQL   = `DELETE FROM alert_events WHERE occurred_at < $1;`
	deleteVerdictsBeforeSQL = `DELETE FROM anomaly_verdicts WHERE detected_at < $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// EventStore defines operations for alert event auditing.
type EventStore interface {
	InsertEvent(ctx context.Context, event EventRecord) (EventRecord, error)
	ListRecentEvents(ctx context.Context, limit int) ([]EventRecord, error)
}

// VerdictStore defines operations for anomaly verdict auditing.
type VerdictStore interface {
	InsertVerdict(ctx context.Context, verdict VerdictRecord) (VerdictRecord, error)
	ListRecentVerdicts(ctx context.Context, limit int) ([]VerdictRecord, error)
}

// Purger removes audit rows older than a cutoff.
type Purger interface {
	DeleteBefore(ctx context.Context, olderThan time.Time) (int64, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to alert events and anomaly verdicts.
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

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// EnsureSchema creates the audit tables when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, createSchemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
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
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

// InsertEvent persists an alert log entry.
func (s *Store) InsertEvent(ctx context.Context, event EventRecord) (EventRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return EventRecord{}, err
	}

	row := pool.QueryRow(ctx, insertEventSQL,
		event.OccurredAt,
		event.Kind,
		event.Metric,
		event.Value.String(),
		event.Threshold.String(),
		event.Message,
		event.Host,
	)
	if scanErr := row.Scan(&event.ID, &event.CreatedAt); scanErr != nil {
		return EventRecord{}, fmt.Errorf("insert event: %w", scanErr)
	}
	return event, nil
}

// ListRecentEvents lists the most recent events, newest first.
func (s *Store) ListRecentEvents(ctx context.Context, limit int) ([]EventRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentEventsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent events: %w", queryErr)
	}
	defer rows.Close()

	events := make([]EventRecord, 0, limit)
	for rows.Next() {
		rec, scanErr := scanEvent(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		events = append(events, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return events, nil
}

// InsertVerdict persists an anomalous verdict.
func (s *Store) InsertVerdict(ctx context.Context, verdict VerdictRecord) (VerdictRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return VerdictRecord{}, err
	}

	row := pool.QueryRow(ctx, insertVerdictSQL,
		verdict.DetectedAt,
		verdict.Score.String(),
		verdict.CPU.String(),
		verdict.Memory.String(),
		verdict.Disk.String(),
		verdict.Host,
	)
	if scanErr := row.Scan(&verdict.ID, &verdict.CreatedAt); scanErr != nil {
		return VerdictRecord{}, fmt.Errorf("insert verdict: %w", scanErr)
	}
	return verdict, nil
}

// ListRecentVerdicts lists the most recent verdicts, newest first.
func (s *Store) ListRecentVerdicts(ctx context.Context, limit int) ([]VerdictRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentVerdictsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent verdicts: %w", queryErr)
	}
	defer rows.Close()

	verdicts := make([]VerdictRecord, 0, limit)
	for rows.Next() {
		rec, scanErr := scanVerdict(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		verdicts = append(verdicts, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return verdicts, nil
}

// DeleteBefore removes events and verdicts older than olderThan and reports
// how many rows went.
func (s *Store) DeleteBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}

	var removed int64
	err = pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		for _, stmt := range []string{deleteEventsBeforeSQL, deleteVerdictsBeforeSQL} {
			tag, execErr := tx.Exec(ctx, stmt, olderThan)
			if execErr != nil {
				return execErr
			}
			removed += tag.RowsAffected()
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("delete before: %w", err)
	}
	return removed, nil
}

func scanEvent(rows pgx.Rows) (EventRecord, error) {
	var (
		rec          EventRecord
		valueStr     string
		thresholdStr string
	)
	if err := rows.Scan(
		&rec.ID,
		&rec.OccurredAt,
		&rec.Kind,
		&rec.Metric,
		&valueStr,
		&thresholdStr,
		&rec.Message,
		&rec.Host,
		&rec.CreatedAt,
	); err != nil {
		return EventRecord{}, err
	}

	var err error
	if rec.Value, err = decimal.NewFromString(valueStr); err != nil {
		return EventRecord{}, fmt.Errorf("parse event value: %w", err)
	}
	if rec.Threshold, err = decimal.NewFromString(thresholdStr); err != nil {
		return EventRecord{}, fmt.Errorf("parse event threshold: %w", err)
	}
	return rec, nil
}

func scanVerdict(rows pgx.Rows) (VerdictRecord, error) {
	var (
		rec                      VerdictRecord
		scoreStr, cpuStr, memStr string
		diskStr                  string
	)
	if err := rows.Scan(
		&rec.ID,
		&rec.DetectedAt,
		&scoreStr,
		&cpuStr,
		&memStr,
		&diskStr,
		&rec.Host,
		&rec.CreatedAt,
	); err != nil {
		return VerdictRecord{}, err
	}

	parsed := make([]decimal.Decimal, 4)
	for i, raw := range []string{scoreStr, cpuStr, memStr, diskStr} {
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return VerdictRecord{}, fmt.Errorf("parse verdict column %d: %w", i, err)
		}
		parsed[i] = d
	}
	rec.Score, rec.CPU, rec.Memory, rec.Disk = parsed[0], parsed[1], parsed[2], parsed[3]
	return rec, nil
}
