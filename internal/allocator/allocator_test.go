package allocator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/tradegate/internal/adapters/storage"
	"github.com/alejandrodnm/tradegate/internal/domain"
)

// stubPerf serves canned performance records.
type stubPerf struct {
	perf domain.StrategyPerformance
	prod domain.ProductionStats
}

func (s *stubPerf) StrategyPerformance(context.Context, string) (domain.StrategyPerformance, error) {
	return s.perf, nil
}

func (s *stubPerf) ProductionStats(context.Context) (domain.ProductionStats, error) {
	return s.prod, nil
}

// stubAudit serves one quote for freshness checks and canned fills.
type stubAudit struct {
	quote    *domain.Quote
	fills    []domain.FillRecord
	fillsErr error
}

func (s *stubAudit) LatestFreshQuote(context.Context, string, time.Duration) (*domain.Quote, error) {
	return s.quote, nil
}

func (s *stubAudit) NBBONear(context.Context, string, time.Time, time.Duration) (*domain.Quote, error) {
	return s.quote, nil
}

func (s *stubAudit) FillsForPlan(context.Context, string) ([]domain.FillRecord, error) {
	return nil, nil
}

func (s *stubAudit) FillsBetween(context.Context, time.Time, time.Time) ([]domain.FillRecord, error) {
	return s.fills, s.fillsErr
}

func (s *stubAudit) LedgerChangesBetween(context.Context, time.Time, time.Time) ([]domain.LedgerChange, error) {
	return nil, nil
}

func (s *stubAudit) FrictionStats(context.Context, time.Time, time.Time) (domain.FrictionStats, error) {
	return domain.FrictionStats{}, nil
}

func (s *stubAudit) ProofsBetween(context.Context, time.Time, time.Time) ([]domain.ProofRecord, error) {
	return nil, nil
}

func (s *stubAudit) QuoteFreshness(context.Context, time.Time, time.Time, time.Duration) (int, int, error) {
	return 0, 0, nil
}

func goodStrategyPerf() domain.StrategyPerformance {
	return domain.StrategyPerformance{
		Sharpe:            1.5,
		MaxDrawdown:       0.08,
		WinRate:           0.58,
		Trades:            60,
		AvgSlippageBps:    4,
		TraceCompleteness: 0.99,
	}
}

func defaultParams() CapParams {
	return CapParams{Base: 0.05, SharpeBonus: 0.02, PenaltyCap: 0.03, MinCap: 0.01, MaxCap: 0.10}
}

func newTestAllocator(t *testing.T, perf *stubPerf, audit *stubAudit) (*Allocator, *storage.AllocDB) {
	t.Helper()
	store, err := storage.NewAllocDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	a := New(store, audit, perf, defaultParams())
	return a, store
}

func freshAudit() *stubAudit {
	return &stubAudit{quote: &domain.Quote{Symbol: "SPY", Bid: 500, Ask: 500.1}}
}

func stageReq(token string) StageRequest {
	return StageRequest{
		SessionID:        "sess-1",
		StrategyRef:      "theta-harvest",
		Symbol:           "SPY",
		Allocation:       0.03,
		Pool:             "options",
		TTLDays:          7,
		ConsistencyToken: token,
	}
}

func TestPoolCap_BonusAndPenalty(t *testing.T) {
	p := defaultParams()

	// bonus applies, drawdown penalty is 2x but capped
	got := PoolCap(p, domain.ProductionStats{Sharpe20d: 1.5, Drawdown: 0.04})
	assert.InDelta(t, 0.05+0.02-0.03, got, 1e-9)

	// no bonus below the floor
	got = PoolCap(p, domain.ProductionStats{Sharpe20d: 1.0, Drawdown: 0.01})
	assert.InDelta(t, 0.05-0.02, got, 1e-9)
}

func TestPoolCap_Clamped(t *testing.T) {
	p := defaultParams()

	got := PoolCap(p, domain.ProductionStats{Sharpe20d: 0, Drawdown: 1})
	assert.InDelta(t, p.MinCap, got, 1e-9)

	p.SharpeBonus = 0.2
	got = PoolCap(p, domain.ProductionStats{Sharpe20d: 2, Drawdown: 0})
	assert.InDelta(t, p.MaxCap, got, 1e-9)
}

func TestStage_CreatesStagedAllocation(t *testing.T) {
	a, store := newTestAllocator(t, &stubPerf{perf: goodStrategyPerf()}, freshAudit())
	ctx := context.Background()

	res, err := a.Stage(ctx, stageReq("tok-1"))
	require.NoError(t, err)
	assert.False(t, res.Rejected)
	require.NotNil(t, res.Allocation)
	assert.Equal(t, domain.AllocationStaged, res.Allocation.Status)

	staged, err := store.AllocationsByStatus(ctx, domain.AllocationStaged)
	require.NoError(t, err)
	require.Len(t, staged, 1)
	assert.Equal(t, "theta-harvest", staged[0].StrategyRef)
}

func TestStage_TokenReplayReturnsOriginal(t *testing.T) {
	a, _ := newTestAllocator(t, &stubPerf{perf: goodStrategyPerf()}, freshAudit())
	ctx := context.Background()

	first, err := a.Stage(ctx, stageReq("tok-1"))
	require.NoError(t, err)

	second, err := a.Stage(ctx, stageReq("tok-1"))
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Allocation.ID, second.Allocation.ID)
}

func TestStage_PrecheckRejectsItemized(t *testing.T) {
	perf := &stubPerf{perf: domain.StrategyPerformance{
		Sharpe:            0.8,
		MaxDrawdown:       0.20,
		WinRate:           0.58,
		Trades:            10,
		AvgSlippageBps:    4,
		TraceCompleteness: 0.99,
	}}
	a, store := newTestAllocator(t, perf, freshAudit())
	ctx := context.Background()

	res, err := a.Stage(ctx, stageReq("tok-1"))
	require.NoError(t, err)
	assert.True(t, res.Rejected)
	assert.Len(t, res.Reasons, 3) // sharpe, drawdown, trades

	staged, err := store.AllocationsByStatus(ctx, domain.AllocationStaged)
	require.NoError(t, err)
	assert.Empty(t, staged)
}

func TestStage_NoFreshQuoteRejects(t *testing.T) {
	a, _ := newTestAllocator(t, &stubPerf{perf: goodStrategyPerf()}, &stubAudit{quote: nil})

	res, err := a.Stage(context.Background(), stageReq("tok-1"))
	require.NoError(t, err)
	assert.True(t, res.Rejected)
	require.Len(t, res.Reasons, 1)
	assert.Contains(t, res.Reasons[0], "no NBBO")
}

func TestStage_AllocationOutOfRange(t *testing.T) {
	a, _ := newTestAllocator(t, &stubPerf{perf: goodStrategyPerf()}, freshAudit())

	req := stageReq("tok-1")
	req.Allocation = 1.5
	res, err := a.Stage(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, res.Rejected)
}

func insertAlloc(t *testing.T, store *storage.AllocDB, id string, amount float64, status domain.AllocationStatus, ttl, created time.Time) {
	t.Helper()
	require.NoError(t, store.InsertAllocation(context.Background(), domain.Allocation{
		ID:               id,
		SessionID:        "sess-1",
		StrategyRef:      "strat-" + id,
		Pool:             "options",
		Allocation:       amount,
		Status:           status,
		TTLUntil:         ttl,
		ConsistencyToken: "tok-" + id,
		CreatedAt:        created,
	}))
}

func TestRebalance_FIFOUnderCap(t *testing.T) {
	// pool cap 0.05: active 0.02 leaves room for the 0.03 staged earlier,
	// the later 0.01 would overflow and is rejected.
	perf := &stubPerf{prod: domain.ProductionStats{Sharpe20d: 0.5, Drawdown: 0}}
	a, store := newTestAllocator(t, perf, freshAudit())

	now := time.Date(2026, 8, 30, 14, 30, 0, 0, time.UTC)
	a.now = func() time.Time { return now }

	ttl := now.Add(24 * time.Hour)
	insertAlloc(t, store, "a1", 0.02, domain.AllocationActive, ttl, now.Add(-3*time.Hour))
	insertAlloc(t, store, "s1", 0.03, domain.AllocationStaged, ttl, now.Add(-2*time.Hour))
	insertAlloc(t, store, "s2", 0.01, domain.AllocationStaged, ttl, now.Add(-1*time.Hour))

	res, err := a.Rebalance(context.Background(), domain.RebalanceExecute)
	require.NoError(t, err)

	assert.InDelta(t, 0.05, res.PoolCap, 1e-9)
	require.Len(t, res.Activated, 1)
	assert.Equal(t, "s1", res.Activated[0].AllocationID)
	require.Len(t, res.Rejected, 1)
	assert.Equal(t, "s2", res.Rejected[0].AllocationID)
	assert.Equal(t, "would exceed pool cap", res.Rejected[0].Reason)
	assert.InDelta(t, 0.05, res.ActiveTotal, 1e-9)

	active, err := store.AllocationsByStatus(context.Background(), domain.AllocationActive)
	require.NoError(t, err)
	assert.Len(t, active, 2)
}

func TestRebalance_ShrunkCapDemotesNewestActives(t *testing.T) {
	// drawdown 0.05 hits the penalty cap: pool cap 0.05 - 0.03 = 0.02. The
	// newer 0.04 active no longer fits and is frozen; the older 0.02 stays.
	perf := &stubPerf{prod: domain.ProductionStats{Sharpe20d: 0, Drawdown: 0.05}}
	a, store := newTestAllocator(t, perf, freshAudit())

	now := time.Date(2026, 8, 30, 14, 30, 0, 0, time.UTC)
	a.now = func() time.Time { return now }

	ttl := now.Add(24 * time.Hour)
	insertAlloc(t, store, "a1", 0.02, domain.AllocationActive, ttl, now.Add(-3*time.Hour))
	insertAlloc(t, store, "a2", 0.04, domain.AllocationActive, ttl, now.Add(-1*time.Hour))

	res, err := a.Rebalance(context.Background(), domain.RebalanceExecute)
	require.NoError(t, err)

	assert.InDelta(t, 0.02, res.PoolCap, 1e-9)
	require.Len(t, res.Demoted, 1)
	assert.Equal(t, "a2", res.Demoted[0].AllocationID)
	assert.Equal(t, "pool cap contracted", res.Demoted[0].Reason)
	assert.LessOrEqual(t, res.ActiveTotal, res.PoolCap)

	active, err := store.AllocationsByStatus(context.Background(), domain.AllocationActive)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "a1", active[0].ID)

	frozen, err := store.AllocationsByStatus(context.Background(), domain.AllocationFrozen)
	require.NoError(t, err)
	require.Len(t, frozen, 1)
	assert.Equal(t, "a2", frozen[0].ID)
}

func TestRebalance_ShrunkCapRecordStaysUnderCap(t *testing.T) {
	// cap 0.02 against two 0.04 actives: both demote and the persisted
	// bucket result never carries an active total above the cap.
	perf := &stubPerf{prod: domain.ProductionStats{Sharpe20d: 0, Drawdown: 0.05}}
	a, store := newTestAllocator(t, perf, freshAudit())

	now := time.Date(2026, 8, 30, 14, 30, 0, 0, time.UTC)
	a.now = func() time.Time { return now }

	ttl := now.Add(24 * time.Hour)
	insertAlloc(t, store, "a1", 0.04, domain.AllocationActive, ttl, now.Add(-2*time.Hour))
	insertAlloc(t, store, "a2", 0.04, domain.AllocationActive, ttl, now.Add(-1*time.Hour))

	res, err := a.Rebalance(context.Background(), domain.RebalanceExecute)
	require.NoError(t, err)
	assert.Len(t, res.Demoted, 2)
	assert.Zero(t, res.ActiveTotal)

	recorded, err := store.BucketResult(context.Background(), res.Bucket)
	require.NoError(t, err)
	require.NotNil(t, recorded)
	assert.LessOrEqual(t, recorded.ActiveTotal, recorded.PoolCap)
}

func TestRebalance_PreviewDoesNotPersist(t *testing.T) {
	perf := &stubPerf{prod: domain.ProductionStats{Sharpe20d: 0.5}}
	a, store := newTestAllocator(t, perf, freshAudit())

	now := time.Date(2026, 8, 30, 14, 30, 0, 0, time.UTC)
	a.now = func() time.Time { return now }
	insertAlloc(t, store, "s1", 0.03, domain.AllocationStaged, now.Add(24*time.Hour), now.Add(-time.Hour))

	res, err := a.Rebalance(context.Background(), domain.RebalancePreview)
	require.NoError(t, err)
	require.Len(t, res.Activated, 1)

	staged, err := store.AllocationsByStatus(context.Background(), domain.AllocationStaged)
	require.NoError(t, err)
	assert.Len(t, staged, 1) // still staged

	// preview leaves no bucket marker: an execute in the same bucket is
	// not a replay
	res2, err := a.Rebalance(context.Background(), domain.RebalanceExecute)
	require.NoError(t, err)
	assert.False(t, res2.Replayed)
}

func TestRebalance_SameBucketReplays(t *testing.T) {
	perf := &stubPerf{prod: domain.ProductionStats{Sharpe20d: 0.5}}
	a, store := newTestAllocator(t, perf, freshAudit())

	now := time.Date(2026, 8, 30, 14, 5, 0, 0, time.UTC)
	a.now = func() time.Time { return now }
	insertAlloc(t, store, "s1", 0.03, domain.AllocationStaged, now.Add(24*time.Hour), now.Add(-time.Hour))

	first, err := a.Rebalance(context.Background(), domain.RebalanceExecute)
	require.NoError(t, err)
	assert.False(t, first.Replayed)

	// later inside the same hour: recorded result comes back untouched
	a.now = func() time.Time { return now.Add(40 * time.Minute) }
	second, err := a.Rebalance(context.Background(), domain.RebalanceExecute)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Bucket, second.Bucket)
	assert.Equal(t, first.Activated, second.Activated)

	// next hour is a fresh bucket
	a.now = func() time.Time { return now.Add(time.Hour) }
	third, err := a.Rebalance(context.Background(), domain.RebalanceExecute)
	require.NoError(t, err)
	assert.False(t, third.Replayed)
}

func TestRebalance_ExpiresPastTTL(t *testing.T) {
	perf := &stubPerf{prod: domain.ProductionStats{Sharpe20d: 0.5}}
	a, store := newTestAllocator(t, perf, freshAudit())

	now := time.Date(2026, 8, 30, 14, 30, 0, 0, time.UTC)
	a.now = func() time.Time { return now }

	insertAlloc(t, store, "a1", 0.02, domain.AllocationActive, now.Add(-time.Minute), now.Add(-48*time.Hour))
	insertAlloc(t, store, "s1", 0.01, domain.AllocationStaged, now.Add(-time.Minute), now.Add(-24*time.Hour))

	res, err := a.Rebalance(context.Background(), domain.RebalanceExecute)
	require.NoError(t, err)
	require.Len(t, res.Expired, 2)
	assert.Equal(t, "ttl elapsed", res.Expired[0].Reason)
	assert.Equal(t, "ttl elapsed before activation", res.Expired[1].Reason)
	assert.Zero(t, res.ActiveTotal)

	expired, err := store.AllocationsByStatus(context.Background(), domain.AllocationExpired)
	require.NoError(t, err)
	assert.Len(t, expired, 2)
}

func TestFreezeAll(t *testing.T) {
	a, store := newTestAllocator(t, &stubPerf{}, freshAudit())
	ctx := context.Background()

	now := time.Now().UTC()
	insertAlloc(t, store, "a1", 0.02, domain.AllocationActive, now.Add(24*time.Hour), now)
	insertAlloc(t, store, "s1", 0.01, domain.AllocationStaged, now.Add(24*time.Hour), now)

	frozen, err := a.FreezeAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a1"}, frozen)

	byStatus, err := store.AllocationsByStatus(ctx, domain.AllocationFrozen)
	require.NoError(t, err)
	require.Len(t, byStatus, 1)
	assert.Equal(t, "a1", byStatus[0].ID)

	// staged rows are untouched
	staged, err := store.AllocationsByStatus(ctx, domain.AllocationStaged)
	require.NoError(t, err)
	assert.Len(t, staged, 1)
}
