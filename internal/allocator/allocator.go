// Package allocator manages the capped pool of capital granted to competing
// strategies. Allocations move staged → active | expired, active → expired |
// frozen, and never leave a terminal state. Staging and rebalancing are
// idempotent: consistency tokens and persisted hour-bucket markers make
// repeat calls return the recorded outcome instead of double-applying it.
package allocator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alejandrodnm/tradegate/internal/domain"
	"github.com/alejandrodnm/tradegate/internal/ports"
)

// Promotion precheck thresholds. All must hold before a strategy may stage.
const (
	minSharpe            = 1.2
	maxDrawdown          = 0.12
	minWinRate           = 0.52
	minTrades            = 25
	maxAvgSlippageBps    = 10.0
	minTraceCompleteness = 0.98
)

const (
	// prodSharpeBonusFloor is the trailing production Sharpe above which
	// the pool cap earns its bonus.
	prodSharpeBonusFloor = 1.2

	// maxQuoteAge bounds how old market data may be for staging. No fresh
	// NBBO, no stage.
	maxQuoteAge = 30 * time.Second

	// lockStaleAfter is how long a crashed rebalance may hold the batch
	// lock before another runner takes it over.
	lockStaleAfter = 5 * time.Minute
)

// CapParams parameterizes the pool-cap thermostat.
type CapParams struct {
	Base        float64
	SharpeBonus float64
	PenaltyCap  float64
	MinCap      float64
	MaxCap      float64
}

// PoolCap recomputes the allocation ceiling from trailing production
// performance: a bonus for sustained Sharpe, a drawdown penalty capped at
// PenaltyCap, the result clamped to [MinCap, MaxCap].
func PoolCap(p CapParams, prod domain.ProductionStats) float64 {
	cap := p.Base
	if prod.Sharpe20d >= prodSharpeBonusFloor {
		cap += p.SharpeBonus
	}
	penalty := prod.Drawdown * 2
	if penalty > p.PenaltyCap {
		penalty = p.PenaltyCap
	}
	cap -= penalty

	if cap < p.MinCap {
		cap = p.MinCap
	}
	if cap > p.MaxCap {
		cap = p.MaxCap
	}
	return cap
}

// StageRequest asks for a staged allocation.
type StageRequest struct {
	SessionID        string
	StrategyRef      string
	Symbol           string // strategy's primary symbol, used for the freshness check
	Allocation       float64
	Pool             string
	TTLDays          int
	ConsistencyToken string
}

// StageResult is the structured outcome of a stage call. Precheck failures
// are rejections, not errors.
type StageResult struct {
	Allocation *domain.Allocation
	Rejected   bool
	Reasons    []string
	Replayed   bool // true when the consistency token had already been used
}

// Allocator owns allocation state. It is the single writer of the
// allocation store.
type Allocator struct {
	store  ports.AllocationStore
	audit  ports.AuditReader
	perf   ports.PerformanceProvider
	params CapParams
	holder string // rebalance lock identity
	now    func() time.Time
}

// New creates an Allocator.
func New(store ports.AllocationStore, audit ports.AuditReader, perf ports.PerformanceProvider, params CapParams) *Allocator {
	return &Allocator{
		store:  store,
		audit:  audit,
		perf:   perf,
		params: params,
		holder: uuid.New().String(),
		now:    time.Now,
	}
}

// Stage verifies the strategy against the promotion precheck and current
// market-data freshness, then creates a staged allocation. Reusing a
// consistency token for the same (session, strategy) pair returns the
// previously created allocation unchanged.
func (a *Allocator) Stage(ctx context.Context, req StageRequest) (StageResult, error) {
	if req.Allocation <= 0 || req.Allocation > 1 {
		return StageResult{Rejected: true, Reasons: []string{
			fmt.Sprintf("allocation %.4f outside (0,1]", req.Allocation),
		}}, nil
	}

	existing, err := a.store.FindByToken(ctx, req.SessionID, req.StrategyRef, req.ConsistencyToken)
	if err != nil {
		return StageResult{}, fmt.Errorf("allocator.Stage: token lookup: %w", err)
	}
	if existing != nil {
		return StageResult{Allocation: existing, Replayed: true}, nil
	}

	perf, err := a.perf.StrategyPerformance(ctx, req.StrategyRef)
	if err != nil {
		return StageResult{}, fmt.Errorf("allocator.Stage: performance for %s: %w", req.StrategyRef, err)
	}
	if reasons := precheck(perf); len(reasons) > 0 {
		return StageResult{Rejected: true, Reasons: reasons}, nil
	}

	// No stage without recent NBBO. A missing or old quote rejects.
	quote, err := a.audit.LatestFreshQuote(ctx, req.Symbol, maxQuoteAge)
	if err != nil {
		return StageResult{}, fmt.Errorf("allocator.Stage: freshness check: %w", err)
	}
	if quote == nil {
		return StageResult{Rejected: true, Reasons: []string{
			fmt.Sprintf("no NBBO for %s within %s", req.Symbol, maxQuoteAge),
		}}, nil
	}

	now := a.now().UTC()
	alloc := domain.Allocation{
		ID:               uuid.New().String(),
		SessionID:        req.SessionID,
		StrategyRef:      req.StrategyRef,
		Pool:             req.Pool,
		Allocation:       req.Allocation,
		Status:           domain.AllocationStaged,
		TTLUntil:         now.Add(time.Duration(req.TTLDays) * 24 * time.Hour),
		ConsistencyToken: req.ConsistencyToken,
		CreatedAt:        now,
	}
	if err := a.store.InsertAllocation(ctx, alloc); err != nil {
		// A concurrent call with the same token may have won the unique
		// index race; return its row.
		if existing, lookupErr := a.store.FindByToken(ctx, req.SessionID, req.StrategyRef, req.ConsistencyToken); lookupErr == nil && existing != nil {
			return StageResult{Allocation: existing, Replayed: true}, nil
		}
		return StageResult{}, fmt.Errorf("allocator.Stage: insert: %w", err)
	}

	slog.Info("allocator: staged",
		"id", alloc.ID, "strategy", req.StrategyRef, "allocation", req.Allocation, "ttl_until", alloc.TTLUntil)
	return StageResult{Allocation: &alloc}, nil
}

// precheck returns the itemized threshold violations, empty when the
// strategy qualifies.
func precheck(p domain.StrategyPerformance) []string {
	var reasons []string
	if p.Sharpe < minSharpe {
		reasons = append(reasons, fmt.Sprintf("sharpe %.2f < %.2f", p.Sharpe, minSharpe))
	}
	if p.MaxDrawdown > maxDrawdown {
		reasons = append(reasons, fmt.Sprintf("max drawdown %.1f%% > %.1f%%", p.MaxDrawdown*100, maxDrawdown*100))
	}
	if p.WinRate < minWinRate {
		reasons = append(reasons, fmt.Sprintf("win rate %.1f%% < %.1f%%", p.WinRate*100, minWinRate*100))
	}
	if p.Trades < minTrades {
		reasons = append(reasons, fmt.Sprintf("trades %d < %d", p.Trades, minTrades))
	}
	if p.AvgSlippageBps > maxAvgSlippageBps {
		reasons = append(reasons, fmt.Sprintf("avg slippage %.1fbps > %.1fbps", p.AvgSlippageBps, maxAvgSlippageBps))
	}
	if p.TraceCompleteness < minTraceCompleteness {
		reasons = append(reasons, fmt.Sprintf("trace completeness %.1f%% < %.1f%%", p.TraceCompleteness*100, minTraceCompleteness*100))
	}
	return reasons
}

// FreezeAll is the kill-switch: every active allocation becomes frozen
// immediately, bypassing TTL and cap logic. Returns the ids frozen.
func (a *Allocator) FreezeAll(ctx context.Context) ([]string, error) {
	active, err := a.store.AllocationsByStatus(ctx, domain.AllocationActive)
	if err != nil {
		return nil, fmt.Errorf("allocator.FreezeAll: list active: %w", err)
	}

	var frozen []string
	for _, alloc := range active {
		if err := a.store.UpdateStatus(ctx, alloc.ID, domain.AllocationActive, domain.AllocationFrozen); err != nil {
			return frozen, fmt.Errorf("allocator.FreezeAll: freeze %s: %w", alloc.ID, err)
		}
		frozen = append(frozen, alloc.ID)
	}
	slog.Warn("allocator: emergency freeze", "count", len(frozen))
	return frozen, nil
}
