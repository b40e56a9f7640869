package domain

import "time"

// AllocationStatus is the lifecycle state of a capital allocation.
// staged → active | expired; active → expired | frozen. Terminal states
// never revert.
type AllocationStatus string

const (
	AllocationStaged  AllocationStatus = "staged"
	AllocationActive  AllocationStatus = "active"
	AllocationExpired AllocationStatus = "expired"
	AllocationFrozen  AllocationStatus = "frozen"
)

// Terminal reports whether the status admits no further transitions.
func (s AllocationStatus) Terminal() bool {
	return s == AllocationExpired || s == AllocationFrozen
}

// Allocation is a slice of the capital pool granted to a strategy.
type Allocation struct {
	ID               string
	SessionID        string
	StrategyRef      string
	Pool             string
	Allocation       float64 // fraction of the pool, (0,1]
	Status           AllocationStatus
	TTLUntil         time.Time
	ConsistencyToken string
	CreatedAt        time.Time
}

// Expired reports whether the allocation's TTL has passed at t.
func (a Allocation) Expired(t time.Time) bool {
	return !a.TTLUntil.IsZero() && t.After(a.TTLUntil)
}

// StrategyPerformance is the production record checked before staging.
type StrategyPerformance struct {
	Sharpe            float64
	MaxDrawdown       float64 // fraction, positive magnitude
	WinRate           float64 // [0,1]
	Trades            int
	AvgSlippageBps    float64
	TraceCompleteness float64 // [0,1]
}

// ProductionStats feeds the pool-cap thermostat.
type ProductionStats struct {
	Sharpe20d float64
	Drawdown  float64 // trailing production drawdown, positive magnitude
}

// RebalanceMode selects whether a rebalance persists its effects.
type RebalanceMode string

const (
	RebalancePreview RebalanceMode = "preview"
	RebalanceExecute RebalanceMode = "execute"
)

// AllocationChange is one allocation touched by a rebalance, with the
// reason it was activated, rejected, expired, or demoted.
type AllocationChange struct {
	AllocationID string
	StrategyRef  string
	Amount       float64
	Reason       string
}

// RebalanceResult is the full outcome of one rebalance pass.
type RebalanceResult struct {
	Bucket      time.Time // hour bucket this pass belongs to
	Mode        RebalanceMode
	PoolCap     float64
	ActiveTotal float64 // sum of active allocations after the pass
	Activated   []AllocationChange
	Rejected    []AllocationChange
	Expired     []AllocationChange
	Demoted     []AllocationChange // actives frozen because the cap shrank below the running total
	Replayed    bool // true when returning a previously recorded bucket result
}

// LedgerEntry is the read-only projection of one allocation with PnL.
type LedgerEntry struct {
	Allocation    Allocation
	RealizedPnL   float64
	UnrealizedPnL float64
}
