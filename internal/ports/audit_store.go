package ports

import (
	"context"
	"time"

	"github.com/alejandrodnm/tradegate/internal/domain"
)

// AuditWriter appends records to the historical log. Implementations only
// ever insert; written records are immutable.
type AuditWriter interface {
	RecordQuote(ctx context.Context, q domain.Quote) error
	RecordChain(ctx context.Context, legs []domain.ChainLeg) error
	RecordOrder(ctx context.Context, o domain.OrderRecord) error
	RecordFill(ctx context.Context, f domain.FillRecord) error
	RecordLedgerChange(ctx context.Context, lc domain.LedgerChange) error
	RecordProof(ctx context.Context, p domain.ProofRecord) error
}

// AuditReader serves the historical reads the pipeline depends on.
// Time windows are [from, to).
type AuditReader interface {
	// LatestFreshQuote returns the newest quote for symbol whose receive
	// timestamp is within maxAge of now, or nil when none qualifies.
	LatestFreshQuote(ctx context.Context, symbol string, maxAge time.Duration) (*domain.Quote, error)

	// NBBONear returns the quote closest to at within tolerance, or nil.
	// Used to compute real, not self-reported, slippage.
	NBBONear(ctx context.Context, symbol string, at time.Time, tolerance time.Duration) (*domain.Quote, error)

	FillsForPlan(ctx context.Context, planID string) ([]domain.FillRecord, error)
	FillsBetween(ctx context.Context, from, to time.Time) ([]domain.FillRecord, error)
	LedgerChangesBetween(ctx context.Context, from, to time.Time) ([]domain.LedgerChange, error)
	FrictionStats(ctx context.Context, from, to time.Time) (domain.FrictionStats, error)
	ProofsBetween(ctx context.Context, from, to time.Time) ([]domain.ProofRecord, error)

	// QuoteFreshness counts quotes in the window whose feed→receive lag is
	// within maxLag, against the window total.
	QuoteFreshness(ctx context.Context, from, to time.Time, maxLag time.Duration) (fresh, total int, err error)
}

// AuditStore is the write-once-read-many source of historical truth.
type AuditStore interface {
	AuditWriter
	AuditReader
	Close() error
}
