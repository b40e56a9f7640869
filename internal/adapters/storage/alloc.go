package storage

// alloc.go holds allocation state for the capital allocator.
//
// Unlike the audit tables this data mutates, but only through guarded
// transitions: status updates are compare-and-set on the current status, the
// hour-bucket table makes rebalance passes at-most-once, and a single-row
// lock with a stale timeout protects batch operations.

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/alejandrodnm/tradegate/internal/domain"
)

const allocSchema = `
CREATE TABLE IF NOT EXISTS allocations (
    id                TEXT PRIMARY KEY,
    session_id        TEXT NOT NULL,
    strategy_ref      TEXT NOT NULL,
    pool              TEXT NOT NULL,
    allocation        REAL NOT NULL,
    status            TEXT NOT NULL,
    ttl_until         INTEGER NOT NULL,
    consistency_token TEXT NOT NULL,
    created_at        INTEGER NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_alloc_token
    ON allocations(session_id, strategy_ref, consistency_token);
CREATE INDEX IF NOT EXISTS idx_alloc_status ON allocations(status, created_at);

CREATE TABLE IF NOT EXISTS rebalance_buckets (
    bucket       INTEGER PRIMARY KEY,
    result_json  TEXT NOT NULL,
    processed_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS rebalance_lock (
    id          INTEGER PRIMARY KEY CHECK (id = 1),
    holder      TEXT NOT NULL,
    acquired_at INTEGER NOT NULL
);
`

// AllocDB implements ports.AllocationStore on SQLite.
type AllocDB struct {
	db *sql.DB
}

// NewAllocDB opens (or creates) the allocation database at path.
func NewAllocDB(path string) (*AllocDB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewAllocDB: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(allocSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewAllocDB: apply schema: %w", err)
	}
	return &AllocDB{db: db}, nil
}

// Close closes the database connection.
func (s *AllocDB) Close() error {
	return s.db.Close()
}

// InsertAllocation stores a new allocation row.
func (s *AllocDB) InsertAllocation(ctx context.Context, a domain.Allocation) error {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO allocations
			(id, session_id, strategy_ref, pool, allocation, status, ttl_until, consistency_token, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.SessionID, a.StrategyRef, a.Pool, a.Allocation, string(a.Status),
		a.TTLUntil.UnixNano(), a.ConsistencyToken, a.CreatedAt.UnixNano(),
	); err != nil {
		return fmt.Errorf("storage.InsertAllocation: insert %s: %w", a.ID, err)
	}
	return nil
}

// UpdateStatus transitions id from one status to another. It is a
// compare-and-set: when the row is not currently in from, nothing changes
// and an error is returned. Terminal states therefore never revert.
func (s *AllocDB) UpdateStatus(ctx context.Context, id string, from, to domain.AllocationStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE allocations SET status = ? WHERE id = ? AND status = ?`,
		string(to), id, string(from))
	if err != nil {
		return fmt.Errorf("storage.UpdateStatus: update %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("storage.UpdateStatus: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("storage.UpdateStatus: allocation %s is not %s", id, from)
	}
	return nil
}

// AllocationsByStatus returns allocations in the given status, FIFO by
// creation time.
func (s *AllocDB) AllocationsByStatus(ctx context.Context, status domain.AllocationStatus) ([]domain.Allocation, error) {
	return s.queryAllocations(ctx, `
		SELECT id, session_id, strategy_ref, pool, allocation, status, ttl_until, consistency_token, created_at
		FROM allocations WHERE status = ? ORDER BY created_at ASC`, string(status))
}

// AllAllocations returns every allocation, FIFO by creation time.
func (s *AllocDB) AllAllocations(ctx context.Context) ([]domain.Allocation, error) {
	return s.queryAllocations(ctx, `
		SELECT id, session_id, strategy_ref, pool, allocation, status, ttl_until, consistency_token, created_at
		FROM allocations ORDER BY created_at ASC`)
}

// FindByToken returns the allocation created under this consistency token,
// or nil when the token has not been used.
func (s *AllocDB) FindByToken(ctx context.Context, sessionID, strategyRef, token string) (*domain.Allocation, error) {
	allocs, err := s.queryAllocations(ctx, `
		SELECT id, session_id, strategy_ref, pool, allocation, status, ttl_until, consistency_token, created_at
		FROM allocations WHERE session_id = ? AND strategy_ref = ? AND consistency_token = ? LIMIT 1`,
		sessionID, strategyRef, token)
	if err != nil {
		return nil, err
	}
	if len(allocs) == 0 {
		return nil, nil
	}
	return &allocs[0], nil
}

// BucketResult returns the recorded rebalance result for an hour bucket, or
// nil when the bucket has not been processed.
func (s *AllocDB) BucketResult(ctx context.Context, bucket time.Time) (*domain.RebalanceResult, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT result_json FROM rebalance_buckets WHERE bucket = ?`,
		bucket.UnixNano()).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage.BucketResult: query: %w", err)
	}

	var r domain.RebalanceResult
	if err := json.Unmarshal([]byte(payload), &r); err != nil {
		return nil, fmt.Errorf("storage.BucketResult: decode: %w", err)
	}
	return &r, nil
}

// SaveBucketResult records the bucket as processed together with its
// result. The primary key makes a second insert for the same bucket fail,
// which is exactly the at-most-once guarantee.
func (s *AllocDB) SaveBucketResult(ctx context.Context, r domain.RebalanceResult) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("storage.SaveBucketResult: encode: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO rebalance_buckets (bucket, result_json, processed_at) VALUES (?, ?, ?)`,
		r.Bucket.UnixNano(), string(payload), time.Now().UTC().UnixNano(),
	); err != nil {
		return fmt.Errorf("storage.SaveBucketResult: insert bucket %s: %w", r.Bucket.Format(time.RFC3339), err)
	}
	return nil
}

// AcquireRebalanceLock takes the single rebalance lock. A holder that died
// mid-batch cannot block subsequent runs: a lock older than staleAfter is
// taken over.
func (s *AllocDB) AcquireRebalanceLock(ctx context.Context, holder string, staleAfter time.Duration) (bool, error) {
	now := time.Now().UTC().UnixNano()
	staleCutoff := now - staleAfter.Nanoseconds()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO rebalance_lock (id, holder, acquired_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET holder = excluded.holder, acquired_at = excluded.acquired_at
		WHERE rebalance_lock.holder = excluded.holder OR rebalance_lock.acquired_at < ?`,
		holder, now, staleCutoff)
	if err != nil {
		return false, fmt.Errorf("storage.AcquireRebalanceLock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("storage.AcquireRebalanceLock: rows affected: %w", err)
	}
	return n > 0, nil
}

// ReleaseRebalanceLock releases the lock if holder still owns it.
func (s *AllocDB) ReleaseRebalanceLock(ctx context.Context, holder string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM rebalance_lock WHERE id = 1 AND holder = ?`, holder); err != nil {
		return fmt.Errorf("storage.ReleaseRebalanceLock: %w", err)
	}
	return nil
}

func (s *AllocDB) queryAllocations(ctx context.Context, query string, args ...any) ([]domain.Allocation, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage.queryAllocations: query: %w", err)
	}
	defer rows.Close()

	var allocs []domain.Allocation
	for rows.Next() {
		var a domain.Allocation
		var status string
		var ttl, created int64
		if err := rows.Scan(&a.ID, &a.SessionID, &a.StrategyRef, &a.Pool, &a.Allocation,
			&status, &ttl, &a.ConsistencyToken, &created); err != nil {
			return nil, fmt.Errorf("storage.queryAllocations: scan: %w", err)
		}
		a.Status = domain.AllocationStatus(status)
		a.TTLUntil = time.Unix(0, ttl)
		a.CreatedAt = time.Unix(0, created)
		allocs = append(allocs, a)
	}
	return allocs, rows.Err()
}
