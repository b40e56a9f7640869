package ports

import (
	"context"

	"github.com/alejandrodnm/tradegate/internal/domain"
)

// SignalProvider delivers the raw signals and the per-strategy stats
// snapshot for one coordination cycle.
type SignalProvider interface {
	Signals(ctx context.Context) ([]domain.TradingSignal, map[string]domain.StrategyStats, error)
}

// HealthProvider reports market-data and broker freshness. Returning an
// error or a nil snapshot means health is unknown; callers must fail closed.
type HealthProvider interface {
	Snapshot(ctx context.Context) (*domain.HealthSnapshot, error)
}

// QuoteFeed serves live quotes from the market-data boundary.
type QuoteFeed interface {
	Quote(ctx context.Context, symbol string) (domain.Quote, error)
}

// OrderExecutor submits an admitted intent to the broker. A nil error means
// the broker confirmed the fill; any error is fatal to that trade and must
// propagate.
type OrderExecutor interface {
	Submit(ctx context.Context, intent domain.WinningIntent, routedQty float64) (domain.PostTradeFact, error)
}

// AccountProvider reports the live account view the gate evaluates against.
// An error means the view is unknown; callers must fail closed.
type AccountProvider interface {
	State(ctx context.Context) (domain.AccountState, error)
}

// PerformanceProvider serves strategy and production performance records
// for promotion prechecks and the pool-cap thermostat.
type PerformanceProvider interface {
	StrategyPerformance(ctx context.Context, strategyRef string) (domain.StrategyPerformance, error)
	ProductionStats(ctx context.Context) (domain.ProductionStats, error)
}
