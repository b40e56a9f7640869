package feed

import (
	"context"
	"fmt"

	"github.com/alejandrodnm/tradegate/internal/domain"
)

type signalPayload struct {
	Symbol     string  `json:"symbol"`
	Side       string  `json:"side"`
	StrategyID string  `json:"strategy_id"`
	Confidence float64 `json:"confidence"`
	Price      float64 `json:"price"`
	SpreadBps  float64 `json:"spread_bps"`
	CostsEst   float64 `json:"costs_est"`
	Quantity   float64 `json:"quantity"`
}

type statsPayload struct {
	ProfitFactor float64 `json:"pf_after_costs"`
	Trades       int     `json:"trades_count"`
	WinRate      float64 `json:"win_rate"`
	AvgWin       float64 `json:"avg_win"`
	AvgLoss      float64 `json:"avg_loss"`
}

type cyclePayload struct {
	Signals []signalPayload         `json:"signals"`
	Stats   map[string]statsPayload `json:"stats"`
}

// Signals fetches the raw signals and strategy stats for one cycle from the
// signal-producer boundary. The stats arrive as one snapshot so every signal
// in the cycle is scored against the same numbers.
func (c *Client) Signals(ctx context.Context) ([]domain.TradingSignal, map[string]domain.StrategyStats, error) {
	var payload cyclePayload
	if err := c.get(ctx, c.quotesLimiter, c.base+"/v1/signals", &payload); err != nil {
		return nil, nil, fmt.Errorf("feed.Signals: %w", err)
	}

	signals := make([]domain.TradingSignal, 0, len(payload.Signals))
	for _, s := range payload.Signals {
		signals = append(signals, domain.TradingSignal{
			Symbol:     s.Symbol,
			Side:       domain.Side(s.Side),
			StrategyID: s.StrategyID,
			Confidence: clamp01(s.Confidence),
			Price:      s.Price,
			SpreadBps:  s.SpreadBps,
			CostsEst:   s.CostsEst,
			Quantity:   s.Quantity,
		})
	}

	stats := make(map[string]domain.StrategyStats, len(payload.Stats))
	for id, st := range payload.Stats {
		stats[id] = domain.StrategyStats{
			ProfitFactor: st.ProfitFactor,
			Trades:       st.Trades,
			WinRate:      clamp01(st.WinRate),
			AvgWin:       st.AvgWin,
			AvgLoss:      st.AvgLoss,
		}
	}
	return signals, stats, nil
}

type performancePayload struct {
	Sharpe            float64 `json:"sharpe"`
	MaxDrawdown       float64 `json:"max_drawdown"`
	WinRate           float64 `json:"win_rate"`
	Trades            int     `json:"trades"`
	AvgSlippageBps    float64 `json:"avg_slippage_bps"`
	TraceCompleteness float64 `json:"trace_completeness"`
}

type productionPayload struct {
	Sharpe20d float64 `json:"sharpe_20d"`
	Drawdown  float64 `json:"drawdown"`
}

// StrategyPerformance fetches the production record for one strategy.
func (c *Client) StrategyPerformance(ctx context.Context, strategyRef string) (domain.StrategyPerformance, error) {
	var payload performancePayload
	url := fmt.Sprintf("%s/v1/performance/%s", c.base, strategyRef)
	if err := c.get(ctx, c.healthLimiter, url, &payload); err != nil {
		return domain.StrategyPerformance{}, fmt.Errorf("feed.StrategyPerformance: %s: %w", strategyRef, err)
	}
	return domain.StrategyPerformance{
		Sharpe:            payload.Sharpe,
		MaxDrawdown:       payload.MaxDrawdown,
		WinRate:           clamp01(payload.WinRate),
		Trades:            payload.Trades,
		AvgSlippageBps:    payload.AvgSlippageBps,
		TraceCompleteness: clamp01(payload.TraceCompleteness),
	}, nil
}

// ProductionStats fetches the trailing production stats for the pool-cap
// thermostat.
func (c *Client) ProductionStats(ctx context.Context) (domain.ProductionStats, error) {
	var payload productionPayload
	if err := c.get(ctx, c.healthLimiter, c.base+"/v1/performance/production", &payload); err != nil {
		return domain.ProductionStats{}, fmt.Errorf("feed.ProductionStats: %w", err)
	}
	return domain.ProductionStats{
		Sharpe20d: payload.Sharpe20d,
		Drawdown:  payload.Drawdown,
	}, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
