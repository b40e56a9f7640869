package domain

import "time"

// Side is the direction of a proposed trade.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// TradingSignal is a single strategy's proposal for one symbol in one cycle.
// Signals are ephemeral: produced per tick, consumed once, discarded.
type TradingSignal struct {
	Symbol     string
	Side       Side
	StrategyID string
	Confidence float64 // [0,1]
	Price      float64
	SpreadBps  float64
	CostsEst   float64 // estimated round-trip costs in price units
	Quantity   float64
}

// StrategyStats is the performance snapshot used to score a strategy's
// signals. All signals within one cycle see the same snapshot.
type StrategyStats struct {
	ProfitFactor float64 // after costs when available
	Trades       int
	WinRate      float64 // [0,1]
	AvgWin       float64
	AvgLoss      float64 // positive magnitude
}

// ScoredSignal is a TradingSignal with its scoring breakdown attached.
// Derived per cycle, never persisted.
type ScoredSignal struct {
	TradingSignal
	Reliability     float64
	Liquidity       float64
	AfterCostEV     float64
	Score           float64
	RejectionReason string // empty for the winner
}

// Contender is a losing same-symbol signal kept for audit detail.
type Contender struct {
	StrategyID string
	Score      float64
}

// IntentMeta explains why a winning intent was chosen.
type IntentMeta struct {
	Reason     string
	Score      float64
	Contenders []Contender // up to the top 5 losers, best first
}

// WinningIntent is the single chosen signal for a symbol in a cycle.
type WinningIntent struct {
	ScoredSignal
	Key  string // symbol@cycle key, unique within the cycle
	Meta IntentMeta
}

// SymbolConflict records a multi-signal contest on one symbol.
type SymbolConflict struct {
	Symbol     string
	Winner     string
	Contenders []Contender
}

// CycleAudit is the coordinator's snapshot of its last completed cycle.
type CycleAudit struct {
	At         time.Time
	RawSignals int
	Scored     int
	Winners    int
	Conflicts  []SymbolConflict
}
