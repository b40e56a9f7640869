package domain

import "time"

// Option leg sides as reported by the broker.
const (
	LegBuyToOpen   = "BUY_TO_OPEN"
	LegSellToOpen  = "SELL_TO_OPEN"
	LegBuyToClose  = "BUY_TO_CLOSE"
	LegSellToClose = "SELL_TO_CLOSE"
)

// Greeks is a delta/theta/vega exposure triple.
type Greeks struct {
	Delta float64
	Theta float64
	Vega  float64
}

// Sizing is the capital and exposure a promise reserves.
type Sizing struct {
	Notional float64 // promised net debit, dollars
	Greeks   Greeks  // reserved exposure
}

// ExecutionPlan is the execution quality the promise commits to.
type ExecutionPlan struct {
	MaxSlippage float64 // fraction of price
}

// PreTradePromise is the contract recorded before execution. The prover
// verifies the eventual fill against it.
type PreTradePromise struct {
	OptionType    string // e.g. "debit_vertical", "long_call"
	Sizing        Sizing
	GreeksLimits  Greeks
	ExecutionPlan ExecutionPlan
}

// Valid reports whether the promise carries enough information to prove
// against. An invalid promise must fail proofs, never skip them.
func (p *PreTradePromise) Valid() bool {
	if p == nil {
		return false
	}
	return p.OptionType != "" && p.Sizing.Notional > 0 && p.ExecutionPlan.MaxSlippage > 0
}

// PostTradeFact is what actually happened, as reported by the broker and the
// account ledger.
type PostTradeFact struct {
	ID                string
	Symbol            string
	Side              Side
	Price             float64
	Qty               float64
	Fees              float64
	Timestamp         time.Time
	NetDebit          float64 // negative means a credit was received
	TotalCost         float64
	CashBefore        float64
	CashAfter         float64
	FillPct           float64 // filled / requested, [0,1]
	ReportedSlippage  float64 // broker self-reported, fraction
	StructureType     string
	PortfolioGreeks   Greeks
	Sides             []string // legs, e.g. BUY_TO_OPEN
	BrokerAttestation string
}
