package gate_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/alejandrodnm/tradegate/internal/domain"
	"github.com/alejandrodnm/tradegate/internal/gate"
)

func caps() gate.Caps {
	return gate.Caps{
		QuoteStaleSec:    10,
		BrokerStaleSec:   30,
		MaxPortfolioHeat: 0.06,
		MaxStrategyHeat:  0.02,
	}
}

func healthyInput() domain.GateInput {
	return domain.GateInput{
		NAV:           100_000,
		PortfolioHeat: 0.01,
		StrategyHeat:  0.005,
		DDMult:        1,
		RequestedQty:  10,
		Price:         100,
		AvailableCash: 5_000,
		Health:        &domain.HealthSnapshot{QuoteAgeS: 1, BrokerAgeS: 2},
	}
}

func TestEvaluate_Accepts(t *testing.T) {
	d := gate.Evaluate(healthyInput(), caps())
	assert.Equal(t, domain.DecisionAccept, d.Decision)
	assert.Empty(t, d.Reason)
	assert.Equal(t, 10.0, d.RoutedQty)
}

func TestEvaluate_StaleQuoteAge(t *testing.T) {
	in := healthyInput()
	in.Health.QuoteAgeS = 15

	d := gate.Evaluate(in, caps())
	assert.Equal(t, domain.DecisionReject, d.Decision)
	assert.Equal(t, domain.ReasonStaleData, d.Reason)
	assert.Equal(t, 0.0, d.RoutedQty)
}

func TestEvaluate_StaleBrokerAge(t *testing.T) {
	in := healthyInput()
	in.Health.BrokerAgeS = 31

	d := gate.Evaluate(in, caps())
	assert.Equal(t, domain.ReasonStaleData, d.Reason)
}

func TestEvaluate_StaleFlag(t *testing.T) {
	in := healthyInput()
	in.Health.Stale = true

	d := gate.Evaluate(in, caps())
	assert.Equal(t, domain.ReasonStaleData, d.Reason)
}

func TestEvaluate_MissingHealthFailsClosed(t *testing.T) {
	in := healthyInput()
	in.Health = nil

	d := gate.Evaluate(in, caps())
	assert.Equal(t, domain.DecisionReject, d.Decision)
	assert.Equal(t, domain.ReasonStaleData, d.Reason)
	assert.Equal(t, "health snapshot missing", d.Message)
}

func TestEvaluate_PortfolioHeat(t *testing.T) {
	in := healthyInput()
	in.PortfolioHeat = 0.06 // at the cap counts as breached

	d := gate.Evaluate(in, caps())
	assert.Equal(t, domain.ReasonPortfolioHeat, d.Reason)
}

func TestEvaluate_StrategyHeat(t *testing.T) {
	in := healthyInput()
	in.StrategyHeat = 0.02

	d := gate.Evaluate(in, caps())
	assert.Equal(t, domain.ReasonStrategyHeat, d.Reason)
}

func TestEvaluate_InsufficientCash(t *testing.T) {
	in := healthyInput()
	in.AvailableCash = 999 // trade needs 1000

	d := gate.Evaluate(in, caps())
	assert.Equal(t, domain.ReasonInsufficientCash, d.Reason)
}

func TestEvaluate_StalenessBeatsHeat(t *testing.T) {
	// first matching rule wins: stale data masks every later rejection
	in := healthyInput()
	in.Health.QuoteAgeS = 60
	in.PortfolioHeat = 0.99
	in.AvailableCash = 0

	d := gate.Evaluate(in, caps())
	assert.Equal(t, domain.ReasonStaleData, d.Reason)
}

func TestEvaluate_DDMultShrinksSize(t *testing.T) {
	in := healthyInput()
	in.DDMult = 0.5

	d := gate.Evaluate(in, caps())
	assert.Equal(t, domain.DecisionAccept, d.Decision)
	assert.Equal(t, 5.0, d.RoutedQty)
}

func TestEvaluate_DDMultZeroRejects(t *testing.T) {
	in := healthyInput()
	in.DDMult = 0

	d := gate.Evaluate(in, caps())
	assert.Equal(t, domain.ReasonSizeZero, d.Reason)
	assert.Equal(t, 0.0, d.RoutedQty)
}

func TestEvaluate_RoutedNeverExceedsRequested(t *testing.T) {
	in := healthyInput()
	in.DDMult = 1.7 // a multiplier above 1 must not upsize

	d := gate.Evaluate(in, caps())
	assert.Equal(t, domain.DecisionAccept, d.Decision)
	assert.Equal(t, in.RequestedQty, d.RoutedQty)
}
