package allocator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/tradegate/internal/domain"
)

func ledgerFill(strategy, symbol string, side domain.Side, price, qty, fees float64) domain.FillRecord {
	return domain.FillRecord{
		PlanID:     "plan-" + strategy,
		StrategyID: strategy,
		Symbol:     symbol,
		Side:       side,
		Price:      price,
		Qty:        qty,
		Fees:       fees,
		TsFill:     time.Now().UTC(),
		TsRecv:     time.Now().UTC(),
	}
}

func TestLedger_RealizedPnLOnFlatPosition(t *testing.T) {
	audit := freshAudit()
	audit.fills = []domain.FillRecord{
		ledgerFill("strat-a1", "AAPL", domain.SideBuy, 100, 10, 1),
		ledgerFill("strat-a1", "AAPL", domain.SideSell, 110, 10, 1),
	}
	a, store := newTestAllocator(t, &stubPerf{}, audit)

	now := time.Now().UTC()
	insertAlloc(t, store, "a1", 0.02, domain.AllocationActive, now.Add(24*time.Hour), now)

	entries, err := a.Ledger(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	// bought 1000 + 1 fee, sold 1100 - 1 fee
	assert.InDelta(t, 98, entries[0].RealizedPnL, 1e-9)
	assert.Zero(t, entries[0].UnrealizedPnL)
}

func TestLedger_UnrealizedMarkedToMid(t *testing.T) {
	audit := &stubAudit{
		quote: &domain.Quote{Symbol: "AAPL", Bid: 110, Ask: 110.2},
		fills: []domain.FillRecord{
			ledgerFill("strat-a1", "AAPL", domain.SideBuy, 100, 10, 0),
		},
	}
	a, store := newTestAllocator(t, &stubPerf{}, audit)

	now := time.Now().UTC()
	insertAlloc(t, store, "a1", 0.02, domain.AllocationActive, now.Add(24*time.Hour), now)

	entries, err := a.Ledger(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	// 10 shares marked at mid 110.1, cost 1000
	assert.InDelta(t, 101, entries[0].UnrealizedPnL, 1e-9)
}

func TestLedger_NoFreshQuoteSkipsMark(t *testing.T) {
	audit := &stubAudit{
		quote: nil,
		fills: []domain.FillRecord{
			ledgerFill("strat-a1", "AAPL", domain.SideBuy, 100, 10, 0),
		},
	}
	a, store := newTestAllocator(t, &stubPerf{}, audit)

	now := time.Now().UTC()
	insertAlloc(t, store, "a1", 0.02, domain.AllocationActive, now.Add(24*time.Hour), now)

	entries, err := a.Ledger(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Zero(t, entries[0].UnrealizedPnL)
}

func TestLedger_FillReadFailureDegradesToZero(t *testing.T) {
	audit := freshAudit()
	audit.fillsErr = errors.New("store down")
	a, store := newTestAllocator(t, &stubPerf{}, audit)

	now := time.Now().UTC()
	insertAlloc(t, store, "a1", 0.02, domain.AllocationActive, now.Add(24*time.Hour), now)

	entries, err := a.Ledger(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Zero(t, entries[0].RealizedPnL)
	assert.Zero(t, entries[0].UnrealizedPnL)
}

func TestLedger_ListsEveryAllocation(t *testing.T) {
	a, store := newTestAllocator(t, &stubPerf{}, freshAudit())

	now := time.Now().UTC()
	insertAlloc(t, store, "a1", 0.02, domain.AllocationActive, now.Add(24*time.Hour), now)
	insertAlloc(t, store, "s1", 0.01, domain.AllocationStaged, now.Add(24*time.Hour), now)
	insertAlloc(t, store, "e1", 0.01, domain.AllocationExpired, now.Add(-time.Hour), now)

	entries, err := a.Ledger(context.Background())
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}
