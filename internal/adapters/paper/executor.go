// Package paper simulates the broker boundary: admitted intents fill at the
// touch of the latest quote, with fees and cash tracked locally. It keeps
// real broker adapters out of the core while giving the pipeline a complete
// execution path to verify against.
package paper

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alejandrodnm/tradegate/internal/domain"
	"github.com/alejandrodnm/tradegate/internal/ports"
)

const (
	defaultFeeRate = 0.0005
	quoteMaxAge    = 30 * time.Second
)

// Executor is a paper broker. It also serves the account view the gate
// evaluates, since the simulated cash lives here.
type Executor struct {
	quotes  ports.QuoteFeed
	feeRate float64

	mu   sync.Mutex
	cash float64
	nav  float64
}

// NewExecutor creates a paper broker with the given starting cash.
func NewExecutor(quotes ports.QuoteFeed, startingCash, feeRate float64) *Executor {
	if feeRate <= 0 {
		feeRate = defaultFeeRate
	}
	return &Executor{
		quotes:  quotes,
		feeRate: feeRate,
		cash:    startingCash,
		nav:     startingCash,
	}
}

// Submit fills the intent at the current touch. A quote failure is a broker
// error and propagates: no fill confirmation, no safe continuation.
func (e *Executor) Submit(ctx context.Context, intent domain.WinningIntent, routedQty float64) (domain.PostTradeFact, error) {
	quote, err := e.quotes.Quote(ctx, intent.Symbol)
	if err != nil {
		return domain.PostTradeFact{}, fmt.Errorf("paper.Submit: quote %s: %w", intent.Symbol, err)
	}

	price := quote.Ask
	if intent.Side == domain.SideSell {
		price = quote.Bid
	}
	if price <= 0 {
		return domain.PostTradeFact{}, fmt.Errorf("paper.Submit: empty book for %s", intent.Symbol)
	}

	notional := price * routedQty
	fees := notional * e.feeRate

	// Sells credit the account and report a negative net debit; the
	// verifier sees the fill as it happened, not as promised.
	netDebit := notional
	leg := domain.LegBuyToOpen
	cashDelta := -(notional + fees)
	if intent.Side == domain.SideSell {
		netDebit = -notional
		leg = domain.LegSellToClose
		cashDelta = notional - fees
	}

	e.mu.Lock()
	cashBefore := e.cash
	e.cash += cashDelta
	cashAfter := e.cash
	e.mu.Unlock()

	slippage := 0.0
	if mid := quote.Mid(); mid > 0 {
		slippage = math.Abs(price-mid) / mid
	}

	return domain.PostTradeFact{
		ID:                uuid.New().String(),
		Symbol:            intent.Symbol,
		Side:              intent.Side,
		Price:             price,
		Qty:               routedQty,
		Fees:              fees,
		Timestamp:         time.Now().UTC(),
		NetDebit:          netDebit,
		TotalCost:         netDebit + fees,
		CashBefore:        cashBefore,
		CashAfter:         cashAfter,
		FillPct:           1.0,
		ReportedSlippage:  slippage,
		StructureType:     "delta_one",
		Sides:             []string{leg},
		BrokerAttestation: "paper",
	}, nil
}

// State reports the simulated account. Heat is cash at risk over NAV; the
// drawdown multiplier stays 1 in paper trading.
func (e *Executor) State(_ context.Context) (domain.AccountState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	deployed := e.nav - e.cash
	heat := 0.0
	if e.nav > 0 {
		heat = deployed / e.nav
	}
	return domain.AccountState{
		NAV:           e.nav,
		PortfolioHeat: heat,
		StrategyHeat:  map[string]float64{},
		DDMult:        1,
		AvailableCash: e.cash,
	}, nil
}
