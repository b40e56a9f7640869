package allocator

import (
	"context"
	"fmt"
	"time"

	"github.com/alejandrodnm/tradegate/internal/domain"
)

const ledgerLookback = 30 * 24 * time.Hour

// Ledger is the read-only projection of all allocations with realized and
// unrealized PnL computed from recorded fills and current market prices.
// Partial read failures degrade to zero PnL for the affected entry rather
// than failing the projection.
func (a *Allocator) Ledger(ctx context.Context) ([]domain.LedgerEntry, error) {
	allocs, err := a.store.AllAllocations(ctx)
	if err != nil {
		return nil, fmt.Errorf("allocator.Ledger: list allocations: %w", err)
	}

	now := a.now().UTC()
	fills, err := a.audit.FillsBetween(ctx, now.Add(-ledgerLookback), now)
	if err != nil {
		// Safe default: the ledger still lists allocations, PnL reads 0.
		fills = nil
	}

	pnl := pnlByStrategy(ctx, a, fills)

	entries := make([]domain.LedgerEntry, 0, len(allocs))
	for _, alloc := range allocs {
		p := pnl[alloc.StrategyRef]
		entries = append(entries, domain.LedgerEntry{
			Allocation:    alloc,
			RealizedPnL:   p.realized,
			UnrealizedPnL: p.unrealized,
		})
	}
	return entries, nil
}

type strategyPnL struct {
	realized   float64
	unrealized float64
}

// pnlByStrategy reduces fills into per-strategy PnL. Cash flow per symbol is
// signed (sells add, buys subtract, fees always subtract); flat symbols
// contribute realized PnL, open symbols are marked to the latest fresh mid.
// Symbols without a fresh quote contribute nothing unrealized.
func pnlByStrategy(ctx context.Context, a *Allocator, fills []domain.FillRecord) map[string]strategyPnL {
	type position struct {
		qty  float64
		cash float64
	}
	book := make(map[string]map[string]*position) // strategy → symbol → position

	for _, f := range fills {
		if f.StrategyID == "" {
			continue
		}
		if book[f.StrategyID] == nil {
			book[f.StrategyID] = make(map[string]*position)
		}
		pos := book[f.StrategyID][f.Symbol]
		if pos == nil {
			pos = &position{}
			book[f.StrategyID][f.Symbol] = pos
		}
		switch f.Side {
		case domain.SideBuy:
			pos.qty += f.Qty
			pos.cash -= f.Price * f.Qty
		case domain.SideSell:
			pos.qty -= f.Qty
			pos.cash += f.Price * f.Qty
		}
		pos.cash -= f.Fees
	}

	out := make(map[string]strategyPnL, len(book))
	for strategy, positions := range book {
		var p strategyPnL
		for symbol, pos := range positions {
			if pos.qty == 0 {
				p.realized += pos.cash
				continue
			}
			quote, err := a.audit.LatestFreshQuote(ctx, symbol, maxQuoteAge)
			if err != nil || quote == nil {
				continue
			}
			p.unrealized += pos.qty*quote.Mid() + pos.cash
		}
		out[strategy] = p
	}
	return out
}
