package storage

import (
	"context"
	"log/slog"
	"time"

	"github.com/alejandrodnm/tradegate/internal/domain"
	"github.com/alejandrodnm/tradegate/internal/ports"
)

const defaultWriteTimeout = 2 * time.Second

// BestEffortWriter wraps an AuditWriter so recording failures never block or
// roll back the trading action that triggered them. Failures are logged and
// swallowed; each write runs under a short timeout. Availability over
// completeness is the explicit trade-off here.
type BestEffortWriter struct {
	inner   ports.AuditWriter
	timeout time.Duration
}

// NewBestEffortWriter wraps inner. A non-positive timeout uses the default.
func NewBestEffortWriter(inner ports.AuditWriter, timeout time.Duration) *BestEffortWriter {
	if timeout <= 0 {
		timeout = defaultWriteTimeout
	}
	return &BestEffortWriter{inner: inner, timeout: timeout}
}

func (w *BestEffortWriter) RecordQuote(ctx context.Context, q domain.Quote) error {
	w.write(ctx, "quote", func(ctx context.Context) error { return w.inner.RecordQuote(ctx, q) })
	return nil
}

func (w *BestEffortWriter) RecordChain(ctx context.Context, legs []domain.ChainLeg) error {
	w.write(ctx, "chain", func(ctx context.Context) error { return w.inner.RecordChain(ctx, legs) })
	return nil
}

func (w *BestEffortWriter) RecordOrder(ctx context.Context, o domain.OrderRecord) error {
	w.write(ctx, "order", func(ctx context.Context) error { return w.inner.RecordOrder(ctx, o) })
	return nil
}

func (w *BestEffortWriter) RecordFill(ctx context.Context, f domain.FillRecord) error {
	w.write(ctx, "fill", func(ctx context.Context) error { return w.inner.RecordFill(ctx, f) })
	return nil
}

func (w *BestEffortWriter) RecordLedgerChange(ctx context.Context, lc domain.LedgerChange) error {
	w.write(ctx, "ledger_change", func(ctx context.Context) error { return w.inner.RecordLedgerChange(ctx, lc) })
	return nil
}

func (w *BestEffortWriter) RecordProof(ctx context.Context, p domain.ProofRecord) error {
	w.write(ctx, "proof", func(ctx context.Context) error { return w.inner.RecordProof(ctx, p) })
	return nil
}

// write runs fn detached from the caller's cancellation but bounded by the
// writer's own timeout, logging any failure.
func (w *BestEffortWriter) write(_ context.Context, kind string, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		slog.Warn("audit: record dropped", "kind", kind, "err", err)
	}
}
