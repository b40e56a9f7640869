package domain

// Gate rejection reason codes (business rules, not errors).
const (
	ReasonStaleData        = "STALE_DATA"
	ReasonPortfolioHeat    = "PORTFOLIO_HEAT"
	ReasonStrategyHeat     = "STRATEGY_HEAT"
	ReasonInsufficientCash = "INSUFFICIENT_CASH"
	ReasonSizeZero         = "SIZE_ZERO"
)

// Decision is the outcome of a pre-trade admission check.
type Decision string

const (
	DecisionAccept Decision = "ACCEPT"
	DecisionReject Decision = "REJECT"
)

// HealthSnapshot is the market-data/broker freshness view at gate time.
// A nil snapshot means health is unknown and must be treated as stale.
type HealthSnapshot struct {
	QuoteAgeS  float64
	BrokerAgeS float64
	Stale      bool
}

// AccountState is the live portfolio view sampled once per cycle.
type AccountState struct {
	NAV           float64
	PortfolioHeat float64
	StrategyHeat  map[string]float64 // by strategy id
	DDMult        float64
	AvailableCash float64
}

// GateInput is everything the pre-trade gate evaluates. Inputs are validated
// and fully populated at the boundary; the gate itself never applies
// defaults.
type GateInput struct {
	NAV           float64
	PortfolioHeat float64
	StrategyHeat  float64
	DDMult        float64 // drawdown sizing multiplier, [0,1]
	RequestedQty  float64
	Price         float64
	AvailableCash float64
	Health        *HealthSnapshot
}

// GateDecision is the structured result of the gate. Rejections always carry
// a reason code and RoutedQty 0.
type GateDecision struct {
	Decision  Decision
	Reason    string // empty on ACCEPT
	Message   string
	RoutedQty float64
}

// Accepted reports whether the trade may proceed.
func (d GateDecision) Accepted() bool {
	return d.Decision == DecisionAccept
}
