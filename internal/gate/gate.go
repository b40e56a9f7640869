// Package gate implements the stateless pre-trade admission check. Rules
// run in a strict order and the first match wins; anything the gate cannot
// verify counts against the trade, never for it.
package gate

import (
	"fmt"
	"math"

	"github.com/alejandrodnm/tradegate/internal/domain"
)

// Caps are the configured admission limits.
type Caps struct {
	QuoteStaleSec    float64
	BrokerStaleSec   float64
	MaxPortfolioHeat float64
	MaxStrategyHeat  float64
}

// Evaluate runs the admission rules against one proposed trade.
//
// Check order: staleness, portfolio heat, strategy heat, cash, then sizing.
// A nil health snapshot is treated as stale data: the gate fails closed
// rather than assuming a healthy feed.
func Evaluate(in domain.GateInput, caps Caps) domain.GateDecision {
	h := in.Health
	if h == nil || h.Stale || h.QuoteAgeS > caps.QuoteStaleSec || h.BrokerAgeS > caps.BrokerStaleSec {
		return reject(domain.ReasonStaleData, staleMessage(h, caps))
	}

	if in.PortfolioHeat >= caps.MaxPortfolioHeat {
		return reject(domain.ReasonPortfolioHeat,
			fmt.Sprintf("portfolio heat %.4f >= cap %.4f", in.PortfolioHeat, caps.MaxPortfolioHeat))
	}

	if in.StrategyHeat >= caps.MaxStrategyHeat {
		return reject(domain.ReasonStrategyHeat,
			fmt.Sprintf("strategy heat %.4f >= cap %.4f", in.StrategyHeat, caps.MaxStrategyHeat))
	}

	if math.Abs(in.RequestedQty*in.Price) > in.AvailableCash {
		return reject(domain.ReasonInsufficientCash,
			fmt.Sprintf("need %.2f, have %.2f", math.Abs(in.RequestedQty*in.Price), in.AvailableCash))
	}

	routed := in.RequestedQty * in.DDMult
	if routed > in.RequestedQty {
		routed = in.RequestedQty
	}
	if routed <= 0 {
		return reject(domain.ReasonSizeZero, "drawdown multiplier sized the order to zero")
	}

	return domain.GateDecision{
		Decision:  domain.DecisionAccept,
		RoutedQty: routed,
	}
}

func reject(reason, message string) domain.GateDecision {
	return domain.GateDecision{
		Decision: domain.DecisionReject,
		Reason:   reason,
		Message:  message,
	}
}

func staleMessage(h *domain.HealthSnapshot, caps Caps) string {
	if h == nil {
		return "health snapshot missing"
	}
	if h.Stale {
		return "health feed flagged stale"
	}
	return fmt.Sprintf("quote age %.1fs (max %.1fs), broker age %.1fs (max %.1fs)",
		h.QuoteAgeS, caps.QuoteStaleSec, h.BrokerAgeS, caps.BrokerStaleSec)
}
