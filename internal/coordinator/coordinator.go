package coordinator

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alejandrodnm/tradegate/internal/domain"
)

const (
	maxContenders = 5

	rejectionLowerScore = "lower_score"
)

// Coordinator arbitrates conflicting per-symbol signals: every cycle it
// scores all signals against one stats snapshot and selects exactly one
// winner per symbol. Aside from the last-cycle audit snapshot it is a pure
// function of its inputs.
type Coordinator struct {
	mu        sync.RWMutex
	lastAudit domain.CycleAudit
}

// New creates a Coordinator.
func New() *Coordinator {
	return &Coordinator{}
}

// PickWinningIntents scores the cycle's signals and returns one winning
// intent per symbol. Signals from strategies missing in stats are scored
// with zero-value stats, which drives their EV negative rather than
// guessing a track record.
//
// Ties on score are broken deterministically: the signal with the
// lexicographically smallest strategy id wins.
func (c *Coordinator) PickWinningIntents(signals []domain.TradingSignal, stats map[string]domain.StrategyStats) []domain.WinningIntent {
	now := time.Now().UTC()
	cycleKey := now.Format("20060102T150405")

	scored := scoreAll(signals, stats)

	bySymbol := make(map[string][]domain.ScoredSignal)
	for _, s := range scored {
		bySymbol[s.Symbol] = append(bySymbol[s.Symbol], s)
	}

	symbols := make([]string, 0, len(bySymbol))
	for sym := range bySymbol {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	var winners []domain.WinningIntent
	var conflicts []domain.SymbolConflict

	for _, sym := range symbols {
		group := bySymbol[sym]
		sort.Slice(group, func(i, j int) bool {
			if group[i].Score != group[j].Score {
				return group[i].Score > group[j].Score
			}
			return group[i].StrategyID < group[j].StrategyID
		})

		winner := group[0]
		losers := group[1:]

		contenders := make([]domain.Contender, 0, len(losers))
		for i := range losers {
			losers[i].RejectionReason = rejectionLowerScore
			if len(contenders) < maxContenders {
				contenders = append(contenders, domain.Contender{
					StrategyID: losers[i].StrategyID,
					Score:      losers[i].Score,
				})
			}
		}

		winners = append(winners, domain.WinningIntent{
			ScoredSignal: winner,
			Key:          fmt.Sprintf("%s@%s", sym, cycleKey),
			Meta: domain.IntentMeta{
				Reason:     fmt.Sprintf("highest score among %d signals", len(group)),
				Score:      winner.Score,
				Contenders: contenders,
			},
		})

		if len(group) > 1 {
			conflicts = append(conflicts, domain.SymbolConflict{
				Symbol:     sym,
				Winner:     winner.StrategyID,
				Contenders: contenders,
			})
		}
	}

	c.mu.Lock()
	c.lastAudit = domain.CycleAudit{
		At:         now,
		RawSignals: len(signals),
		Scored:     len(scored),
		Winners:    len(winners),
		Conflicts:  conflicts,
	}
	c.mu.Unlock()

	return winners
}

// LastCycleAudit returns the audit snapshot of the most recent cycle.
func (c *Coordinator) LastCycleAudit() domain.CycleAudit {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastAudit
}

// scoreAll attaches the scoring breakdown to every signal using a single
// stats snapshot for the whole cycle.
func scoreAll(signals []domain.TradingSignal, stats map[string]domain.StrategyStats) []domain.ScoredSignal {
	scored := make([]domain.ScoredSignal, 0, len(signals))
	for _, sig := range signals {
		st := stats[sig.StrategyID]

		rel := Reliability(st.ProfitFactor, st.Trades)
		liq := Liquidity(sig.SpreadBps)
		ev := AfterCostEV(st.WinRate, st.AvgWin, st.AvgLoss, sig.CostsEst)

		scored = append(scored, domain.ScoredSignal{
			TradingSignal: sig,
			Reliability:   rel,
			Liquidity:     liq,
			AfterCostEV:   ev,
			Score:         Score(ev, rel, liq, sig.Confidence),
		})
	}
	return scored
}
