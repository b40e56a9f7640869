package coordinator

// Scoring math for competing signals. All functions are pure; the formulas
// weight a strategy's expected value by how much its track record and the
// symbol's liquidity can be trusted.

// Reliability scales a strategy's profit factor by sample size.
// Capped trades at 500 so a huge history cannot dominate, result clamped to
// [0.5, 2.0].
func Reliability(profitFactor float64, trades int) float64 {
	if trades > 500 {
		trades = 500
	}
	r := profitFactor * (1 + float64(trades)/1000)
	return clamp(r, 0.5, 2.0)
}

// Liquidity discounts wide spreads. 0 bps → 1.0, clamped to [0.5, 1.5].
func Liquidity(spreadBps float64) float64 {
	return clamp(1-spreadBps/10000, 0.5, 1.5)
}

// AfterCostEV is the expected value of one trade net of estimated costs.
func AfterCostEV(pWin, avgWin, avgLoss, costsEst float64) float64 {
	return pWin*avgWin - (1-pWin)*avgLoss - costsEst
}

// Score combines expected value with the trust multipliers and the
// strategy's own confidence.
func Score(afterCostEV, reliability, liquidity, confidence float64) float64 {
	return afterCostEV * reliability * liquidity * confidence
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
