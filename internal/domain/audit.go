package domain

import "time"

// AuditStamp is attached to every audit record at write time. It captures
// where and under which policy the record was produced.
type AuditStamp struct {
	ServerTS    time.Time
	CommitHash  string
	PolicyHash  string
	Environment string
	WormMode    bool
}

// Quote is an NBBO snapshot at ingestion time.
type Quote struct {
	Symbol string
	Bid    float64
	Ask    float64
	TsFeed time.Time
	TsRecv time.Time
}

// Mid returns the NBBO midpoint, 0 when the book is empty.
func (q Quote) Mid() float64 {
	if q.Bid <= 0 && q.Ask <= 0 {
		return 0
	}
	return (q.Bid + q.Ask) / 2
}

// ChainLeg is one leg of an option-chain snapshot.
type ChainLeg struct {
	Symbol   string
	Contract string
	Strike   float64
	Expiry   time.Time
	Bid      float64
	Ask      float64
	Delta    float64
	TsFeed   time.Time
	TsRecv   time.Time
}

// OrderRecord is an order as it was submitted to the broker.
type OrderRecord struct {
	PlanID     string
	StrategyID string
	Symbol     string
	Side       Side
	Qty        float64
	Price      float64
	TsFeed     time.Time
	TsRecv     time.Time
}

// FillRecord is an execution confirmation from the broker.
type FillRecord struct {
	PlanID      string
	StrategyID  string
	Symbol      string
	Side        Side
	Price       float64
	Qty         float64
	Fees        float64
	Attestation string
	TsFill      time.Time
	TsRecv      time.Time
}

// Notional returns the gross value of the fill.
func (f FillRecord) Notional() float64 {
	n := f.Price * f.Qty
	if n < 0 {
		return -n
	}
	return n
}

// LedgerChange is a cash or position delta applied to the account.
type LedgerChange struct {
	Account string
	Kind    string // cash | position
	Delta   float64
	RefID   string // plan or fill reference
	TsFeed  time.Time
	TsRecv  time.Time
}

// FrictionStats summarizes execution friction over a window of fills.
type FrictionStats struct {
	Fills       int
	AvgFeeRatio float64 // mean fees/notional
	Within20Pct int     // fills with fee ratio <= 0.20
	Within25Pct int     // fills with fee ratio <= 0.25
}
