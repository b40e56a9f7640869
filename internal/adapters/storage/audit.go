package storage

// audit.go implements the WORM audit store.
//
// Strategy:
//   - One append-only table per record kind plus an `audit_trail` table
//     holding the provenance stamp for every written row.
//   - Insert-only surface: the type exposes no UPDATE or DELETE for audit
//     tables, and writes run with worm_mode stamped on each row.
//   - Timestamps are stored as unix nanoseconds (INTEGER). NBBO-nearest
//     lookups and freshness math need exact arithmetic, not text dates.
//   - Single connection: SQLite is single-writer.

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/alejandrodnm/tradegate/internal/domain"
)

const auditSchema = `
CREATE TABLE IF NOT EXISTS quotes (
    id      TEXT PRIMARY KEY,
    symbol  TEXT NOT NULL,
    bid     REAL NOT NULL,
    ask     REAL NOT NULL,
    ts_feed INTEGER NOT NULL,
    ts_recv INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS chain_legs (
    id       TEXT PRIMARY KEY,
    symbol   TEXT NOT NULL,
    contract TEXT NOT NULL,
    strike   REAL NOT NULL,
    expiry   INTEGER NOT NULL,
    bid      REAL NOT NULL,
    ask      REAL NOT NULL,
    delta    REAL NOT NULL,
    ts_feed  INTEGER NOT NULL,
    ts_recv  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS orders (
    id       TEXT PRIMARY KEY,
    plan_id  TEXT NOT NULL,
    strategy TEXT NOT NULL DEFAULT '',
    symbol   TEXT NOT NULL,
    side    TEXT NOT NULL,
    qty     REAL NOT NULL,
    price   REAL NOT NULL,
    ts_feed INTEGER NOT NULL,
    ts_recv INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS fills (
    id          TEXT PRIMARY KEY,
    plan_id     TEXT NOT NULL,
    strategy    TEXT NOT NULL DEFAULT '',
    symbol      TEXT NOT NULL,
    side        TEXT NOT NULL,
    price       REAL NOT NULL,
    qty         REAL NOT NULL,
    fees        REAL NOT NULL,
    fee_ratio   REAL NOT NULL,
    attestation TEXT NOT NULL DEFAULT '',
    ts_fill     INTEGER NOT NULL,
    ts_recv     INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS ledger_changes (
    id      TEXT PRIMARY KEY,
    account TEXT NOT NULL,
    kind    TEXT NOT NULL,
    delta   REAL NOT NULL,
    ref_id  TEXT NOT NULL DEFAULT '',
    ts_feed INTEGER NOT NULL,
    ts_recv INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS proofs (
    id           TEXT PRIMARY KEY,
    plan_id      TEXT NOT NULL,
    symbol       TEXT NOT NULL,
    route        TEXT NOT NULL DEFAULT '',
    passed       INTEGER NOT NULL,
    fallback     INTEGER NOT NULL DEFAULT 0,
    reasons      TEXT NOT NULL DEFAULT '',
    verified_at  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS audit_trail (
    id          TEXT PRIMARY KEY,
    record_kind TEXT NOT NULL,
    record_id   TEXT NOT NULL,
    server_ts   INTEGER NOT NULL,
    commit_hash TEXT NOT NULL,
    policy_hash TEXT NOT NULL,
    environment TEXT NOT NULL,
    worm_mode   INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_quotes_sym_recv ON quotes(symbol, ts_recv DESC);
CREATE INDEX IF NOT EXISTS idx_fills_plan      ON fills(plan_id);
CREATE INDEX IF NOT EXISTS idx_fills_recv      ON fills(ts_recv);
CREATE INDEX IF NOT EXISTS idx_ledger_feed     ON ledger_changes(ts_feed);
CREATE INDEX IF NOT EXISTS idx_proofs_at       ON proofs(verified_at);
CREATE INDEX IF NOT EXISTS idx_trail_record    ON audit_trail(record_kind, record_id);
`

// Provenance identifies the build and policy under which records are
// written; it is stamped onto every row's audit_trail entry.
type Provenance struct {
	CommitHash  string
	PolicyHash  string
	Environment string
}

// AuditDB implements ports.AuditStore on SQLite.
type AuditDB struct {
	db   *sql.DB
	prov Provenance
}

// NewAuditDB opens (or creates) the audit database at path and applies the
// schema. No pruning: audit records are retained forever.
func NewAuditDB(path string, prov Provenance) (*AuditDB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewAuditDB: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(auditSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewAuditDB: apply schema: %w", err)
	}

	return &AuditDB{db: db, prov: prov}, nil
}

// Close closes the database connection.
func (s *AuditDB) Close() error {
	return s.db.Close()
}

// RecordQuote appends one NBBO snapshot.
func (s *AuditDB) RecordQuote(ctx context.Context, q domain.Quote) error {
	id := uuid.New().String()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO quotes (id, symbol, bid, ask, ts_feed, ts_recv) VALUES (?, ?, ?, ?, ?, ?)`,
			id, q.Symbol, q.Bid, q.Ask, q.TsFeed.UnixNano(), q.TsRecv.UnixNano(),
		); err != nil {
			return fmt.Errorf("storage.RecordQuote: insert: %w", err)
		}
		return s.stamp(ctx, tx, "quote", id)
	})
}

// RecordChain appends an option-chain snapshot, one row per leg. Legs and
// their provenance stamps commit together.
func (s *AuditDB) RecordChain(ctx context.Context, legs []domain.ChainLeg) error {
	if len(legs) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO chain_legs (id, symbol, contract, strike, expiry, bid, ask, delta, ts_feed, ts_recv)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("storage.RecordChain: prepare: %w", err)
		}
		defer stmt.Close()

		for _, l := range legs {
			id := uuid.New().String()
			if _, err := stmt.ExecContext(ctx,
				id, l.Symbol, l.Contract, l.Strike, l.Expiry.UnixNano(),
				l.Bid, l.Ask, l.Delta, l.TsFeed.UnixNano(), l.TsRecv.UnixNano(),
			); err != nil {
				return fmt.Errorf("storage.RecordChain: insert leg %s: %w", l.Contract, err)
			}
			if err := s.stamp(ctx, tx, "chain_leg", id); err != nil {
				return err
			}
		}
		return nil
	})
}

// RecordOrder appends one submitted order.
func (s *AuditDB) RecordOrder(ctx context.Context, o domain.OrderRecord) error {
	id := uuid.New().String()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO orders (id, plan_id, strategy, symbol, side, qty, price, ts_feed, ts_recv)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, o.PlanID, o.StrategyID, o.Symbol, string(o.Side), o.Qty, o.Price,
			o.TsFeed.UnixNano(), o.TsRecv.UnixNano(),
		); err != nil {
			return fmt.Errorf("storage.RecordOrder: insert: %w", err)
		}
		return s.stamp(ctx, tx, "order", id)
	})
}

// RecordFill appends one broker fill. The fee ratio is materialized at
// write time so friction stats stay a single aggregate query.
func (s *AuditDB) RecordFill(ctx context.Context, f domain.FillRecord) error {
	id := uuid.New().String()
	ratio := 0.0
	if n := f.Notional(); n > 0 {
		ratio = f.Fees / n
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO fills (id, plan_id, strategy, symbol, side, price, qty, fees, fee_ratio, attestation, ts_fill, ts_recv)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, f.PlanID, f.StrategyID, f.Symbol, string(f.Side), f.Price, f.Qty, f.Fees, ratio,
			f.Attestation, f.TsFill.UnixNano(), f.TsRecv.UnixNano(),
		); err != nil {
			return fmt.Errorf("storage.RecordFill: insert: %w", err)
		}
		return s.stamp(ctx, tx, "fill", id)
	})
}

// RecordLedgerChange appends one cash/position delta.
func (s *AuditDB) RecordLedgerChange(ctx context.Context, lc domain.LedgerChange) error {
	id := uuid.New().String()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO ledger_changes (id, account, kind, delta, ref_id, ts_feed, ts_recv)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			id, lc.Account, lc.Kind, lc.Delta, lc.RefID,
			lc.TsFeed.UnixNano(), lc.TsRecv.UnixNano(),
		); err != nil {
			return fmt.Errorf("storage.RecordLedgerChange: insert: %w", err)
		}
		return s.stamp(ctx, tx, "ledger_change", id)
	})
}

// RecordProof appends one verification result.
func (s *AuditDB) RecordProof(ctx context.Context, p domain.ProofRecord) error {
	id := uuid.New().String()
	passed, fallback := 0, 0
	if p.Passed {
		passed = 1
	}
	if p.UsingFallback {
		fallback = 1
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO proofs (id, plan_id, symbol, route, passed, fallback, reasons, verified_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			id, p.PlanID, p.Symbol, p.Route, passed, fallback,
			strings.Join(p.Reasons, "|"), p.VerifiedAt.UnixNano(),
		); err != nil {
			return fmt.Errorf("storage.RecordProof: insert: %w", err)
		}
		return s.stamp(ctx, tx, "proof", id)
	})
}

// LatestFreshQuote returns the newest quote for symbol received within
// maxAge of now, or nil when none qualifies.
func (s *AuditDB) LatestFreshQuote(ctx context.Context, symbol string, maxAge time.Duration) (*domain.Quote, error) {
	cutoff := time.Now().Add(-maxAge).UnixNano()
	row := s.db.QueryRowContext(ctx, `
		SELECT symbol, bid, ask, ts_feed, ts_recv FROM quotes
		WHERE symbol = ? AND ts_recv >= ?
		ORDER BY ts_recv DESC LIMIT 1`, symbol, cutoff)

	q, err := scanQuote(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage.LatestFreshQuote: %w", err)
	}
	return q, nil
}

// NBBONear returns the quote closest to at within tolerance, or nil. The
// window is small, so rows are fetched and the nearest picked in Go.
func (s *AuditDB) NBBONear(ctx context.Context, symbol string, at time.Time, tolerance time.Duration) (*domain.Quote, error) {
	lo := at.Add(-tolerance).UnixNano()
	hi := at.Add(tolerance).UnixNano()
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, bid, ask, ts_feed, ts_recv FROM quotes
		WHERE symbol = ? AND ts_recv >= ? AND ts_recv <= ?`, symbol, lo, hi)
	if err != nil {
		return nil, fmt.Errorf("storage.NBBONear: query: %w", err)
	}
	defer rows.Close()

	var best *domain.Quote
	bestDiff := int64(math.MaxInt64)
	for rows.Next() {
		q, err := scanQuote(rows)
		if err != nil {
			return nil, fmt.Errorf("storage.NBBONear: scan: %w", err)
		}
		diff := q.TsRecv.UnixNano() - at.UnixNano()
		if diff < 0 {
			diff = -diff
		}
		if diff < bestDiff {
			bestDiff = diff
			best = q
		}
	}
	return best, rows.Err()
}

// FillsForPlan returns all fills recorded for a plan id, oldest first.
func (s *AuditDB) FillsForPlan(ctx context.Context, planID string) ([]domain.FillRecord, error) {
	return s.queryFills(ctx, `
		SELECT plan_id, strategy, symbol, side, price, qty, fees, attestation, ts_fill, ts_recv
		FROM fills WHERE plan_id = ? ORDER BY ts_fill ASC`, planID)
}

// FillsBetween returns fills received in [from, to), oldest first.
func (s *AuditDB) FillsBetween(ctx context.Context, from, to time.Time) ([]domain.FillRecord, error) {
	return s.queryFills(ctx, `
		SELECT plan_id, strategy, symbol, side, price, qty, fees, attestation, ts_fill, ts_recv
		FROM fills WHERE ts_recv >= ? AND ts_recv < ? ORDER BY ts_fill ASC`,
		from.UnixNano(), to.UnixNano())
}

// LedgerChangesBetween returns ledger deltas in [from, to) by feed time.
func (s *AuditDB) LedgerChangesBetween(ctx context.Context, from, to time.Time) ([]domain.LedgerChange, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT account, kind, delta, ref_id, ts_feed, ts_recv FROM ledger_changes
		WHERE ts_feed >= ? AND ts_feed < ? ORDER BY ts_feed ASC`,
		from.UnixNano(), to.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("storage.LedgerChangesBetween: query: %w", err)
	}
	defer rows.Close()

	var changes []domain.LedgerChange
	for rows.Next() {
		var lc domain.LedgerChange
		var feed, recv int64
		if err := rows.Scan(&lc.Account, &lc.Kind, &lc.Delta, &lc.RefID, &feed, &recv); err != nil {
			return nil, fmt.Errorf("storage.LedgerChangesBetween: scan: %w", err)
		}
		lc.TsFeed = time.Unix(0, feed)
		lc.TsRecv = time.Unix(0, recv)
		changes = append(changes, lc)
	}
	return changes, rows.Err()
}

// FrictionStats aggregates fee friction over fills received in [from, to).
func (s *AuditDB) FrictionStats(ctx context.Context, from, to time.Time) (domain.FrictionStats, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(AVG(fee_ratio), 0),
		       COALESCE(SUM(fee_ratio <= 0.20), 0),
		       COALESCE(SUM(fee_ratio <= 0.25), 0)
		FROM fills WHERE ts_recv >= ? AND ts_recv < ?`,
		from.UnixNano(), to.UnixNano())

	var fs domain.FrictionStats
	if err := row.Scan(&fs.Fills, &fs.AvgFeeRatio, &fs.Within20Pct, &fs.Within25Pct); err != nil {
		return domain.FrictionStats{}, fmt.Errorf("storage.FrictionStats: scan: %w", err)
	}
	return fs, nil
}

// ProofsBetween returns proof records verified in [from, to).
func (s *AuditDB) ProofsBetween(ctx context.Context, from, to time.Time) ([]domain.ProofRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT plan_id, symbol, route, passed, fallback, reasons, verified_at FROM proofs
		WHERE verified_at >= ? AND verified_at < ? ORDER BY verified_at ASC`,
		from.UnixNano(), to.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("storage.ProofsBetween: query: %w", err)
	}
	defer rows.Close()

	var proofs []domain.ProofRecord
	for rows.Next() {
		var p domain.ProofRecord
		var passed, fallback int
		var reasons string
		var at int64
		if err := rows.Scan(&p.PlanID, &p.Symbol, &p.Route, &passed, &fallback, &reasons, &at); err != nil {
			return nil, fmt.Errorf("storage.ProofsBetween: scan: %w", err)
		}
		p.Passed = passed == 1
		p.UsingFallback = fallback == 1
		if reasons != "" {
			p.Reasons = strings.Split(reasons, "|")
		}
		p.VerifiedAt = time.Unix(0, at)
		proofs = append(proofs, p)
	}
	return proofs, rows.Err()
}

// QuoteFreshness counts quotes in [from, to) whose feed→receive lag is
// within maxLag, against the window total.
func (s *AuditDB) QuoteFreshness(ctx context.Context, from, to time.Time, maxLag time.Duration) (fresh, total int, err error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(ts_recv - ts_feed <= ?), 0), COUNT(*)
		FROM quotes WHERE ts_recv >= ? AND ts_recv < ?`,
		maxLag.Nanoseconds(), from.UnixNano(), to.UnixNano())
	if err := row.Scan(&fresh, &total); err != nil {
		return 0, 0, fmt.Errorf("storage.QuoteFreshness: scan: %w", err)
	}
	return fresh, total, nil
}

// --- internal helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanQuote(r rowScanner) (*domain.Quote, error) {
	var q domain.Quote
	var feed, recv int64
	if err := r.Scan(&q.Symbol, &q.Bid, &q.Ask, &feed, &recv); err != nil {
		return nil, err
	}
	q.TsFeed = time.Unix(0, feed)
	q.TsRecv = time.Unix(0, recv)
	return &q, nil
}

func (s *AuditDB) queryFills(ctx context.Context, query string, args ...any) ([]domain.FillRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage.queryFills: query: %w", err)
	}
	defer rows.Close()

	var fills []domain.FillRecord
	for rows.Next() {
		var f domain.FillRecord
		var side string
		var tsFill, tsRecv int64
		if err := rows.Scan(&f.PlanID, &f.StrategyID, &f.Symbol, &side, &f.Price, &f.Qty, &f.Fees, &f.Attestation, &tsFill, &tsRecv); err != nil {
			return nil, fmt.Errorf("storage.queryFills: scan: %w", err)
		}
		f.Side = domain.Side(side)
		f.TsFill = time.Unix(0, tsFill)
		f.TsRecv = time.Unix(0, tsRecv)
		fills = append(fills, f)
	}
	return fills, rows.Err()
}

// withTx runs fn inside a transaction, so a record and its provenance stamp
// commit or roll back together.
func (s *AuditDB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage: commit: %w", err)
	}
	return nil
}

// stamp writes the audit_trail provenance row for a record inside the
// caller's transaction.
func (s *AuditDB) stamp(ctx context.Context, tx *sql.Tx, kind, recordID string) error {
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO audit_trail (id, record_kind, record_id, server_ts, commit_hash, policy_hash, environment, worm_mode)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 1)`,
		uuid.New().String(), kind, recordID, time.Now().UTC().UnixNano(),
		s.prov.CommitHash, s.prov.PolicyHash, s.prov.Environment,
	); err != nil {
		return fmt.Errorf("storage.stamp: insert %s/%s: %w", kind, recordID, err)
	}
	return nil
}
