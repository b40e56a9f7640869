// Package prover verifies executed fills against their pre-trade promises.
// Each postcondition is an independent sub-proof; the overall proof passes
// only when every sub-proof passes. A missing or malformed promise fails the
// proof outright; an execution is never presumed correct.
package prover

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/alejandrodnm/tradegate/internal/domain"
	"github.com/alejandrodnm/tradegate/internal/ports"
)

const (
	slippageMultiplier = 1.5  // planned slippage grace factor
	minFillPct         = 0.8  // minimum acceptable fill percentage
	netDebitTolerance  = 0.01 // dollars
	costTolerancePct   = 0.05 // fraction of promised cost
	headroomBuffer     = 0.95 // actual headroom must keep 95% of reserved headroom
	etfSlippageBonus   = 0.005

	nbboTolerance = time.Second

	criticalBreachCount = 2
)

// Config holds the verification tolerances that vary by deployment.
type Config struct {
	MaxGreeksDriftPct float64  // default 0.02
	LeveragedETFs     []string // symbols granted etfSlippageBonus
}

// Prover verifies executions. The Greeks-headroom breach counter is owned by
// the instance: a fresh Prover starts a fresh session, so isolated instances
// can verify in parallel in tests.
type Prover struct {
	store ports.AuditReader
	cfg   Config
	etfs  map[string]bool

	mu       sync.Mutex
	breaches int
}

// New creates a Prover reading NBBO data from store.
func New(store ports.AuditReader, cfg Config) *Prover {
	if cfg.MaxGreeksDriftPct <= 0 {
		cfg.MaxGreeksDriftPct = 0.02
	}
	etfs := make(map[string]bool, len(cfg.LeveragedETFs))
	for _, s := range cfg.LeveragedETFs {
		etfs[s] = true
	}
	return &Prover{store: store, cfg: cfg, etfs: etfs}
}

// SessionBreaches returns the running count of Greeks-headroom buffer
// violations for this instance.
func (p *Prover) SessionBreaches() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.breaches
}

// VerifyExecution checks fact against promise and returns the itemized
// proof. It never returns an error: verification problems are proof
// failures, and a store outage during the NBBO lookup degrades to
// self-reported slippage marked as fallback evidence.
func (p *Prover) VerifyExecution(ctx context.Context, promise *domain.PreTradePromise, fact domain.PostTradeFact) domain.Proof {
	proof := domain.Proof{
		PlanID:     fact.ID,
		Symbol:     fact.Symbol,
		VerifiedAt: time.Now().UTC(),
	}

	if !promise.Valid() {
		failed := domain.FailedSubProof(domain.ProofMissingPromise)
		proof.Execution = failed
		proof.Structure = failed
		proof.Cash = failed
		proof.Greeks = failed
		proof.NetDebitOnly = failed
		proof.SidesOK = failed
		proof.SlippageWithin = failed
		proof.GreeksCapsWithin = failed
		proof.Aggregate()
		return proof
	}

	proof.Execution = executionBounds(promise, fact)
	proof.Structure = structureBounds(promise, fact)
	proof.Cash = cashBounds(promise, fact)
	proof.Greeks = p.greeksDrift(promise, fact, &proof)
	proof.NetDebitOnly = netDebitOnly(fact)
	proof.SidesOK = sidesOK(fact)
	proof.SlippageWithin = p.slippageWithinPlan(ctx, promise, fact, &proof)
	proof.GreeksCapsWithin = greeksCapsWithin(promise, fact)

	proof.Aggregate()
	return proof
}

// executionBounds checks self-reported slippage against the planned maximum
// and enforces the minimum fill percentage.
func executionBounds(promise *domain.PreTradePromise, fact domain.PostTradeFact) domain.SubProof {
	sp := domain.PassedSubProof()

	maxAllowed := promise.ExecutionPlan.MaxSlippage * slippageMultiplier
	if fact.ReportedSlippage > maxAllowed {
		sp.Fail(fmt.Sprintf("%s: reported %.4f > allowed %.4f", domain.ProofSlippageExceeded, fact.ReportedSlippage, maxAllowed))
	}
	if fact.FillPct < minFillPct {
		sp.Fail(fmt.Sprintf("%s: filled %.0f%% < %.0f%%", domain.ProofPartialFill, fact.FillPct*100, minFillPct*100))
	}
	return sp
}

// structureBounds enforces the cash-only structure promise: net debit within
// a cent of the promised notional, no credits, same structure type.
func structureBounds(promise *domain.PreTradePromise, fact domain.PostTradeFact) domain.SubProof {
	sp := domain.PassedSubProof()

	diff := math.Abs(fact.NetDebit - promise.Sizing.Notional)
	if diff > netDebitTolerance {
		sp.Fail(fmt.Sprintf("%s: |%.2f - %.2f| = %.2f > %.2f", domain.ProofNetDebitMismatch,
			fact.NetDebit, promise.Sizing.Notional, diff, netDebitTolerance))
	}
	if fact.NetDebit < 0 {
		sp.Fail(fmt.Sprintf("%s: net debit %.2f", domain.ProofCreditExecuted, fact.NetDebit))
	}
	if fact.StructureType != promise.OptionType {
		sp.Fail(fmt.Sprintf("%s: executed %q, promised %q", domain.ProofStructureMismatch,
			fact.StructureType, promise.OptionType))
	}
	return sp
}

// cashBounds checks total cost deviation and that the account did not go
// negative.
func cashBounds(promise *domain.PreTradePromise, fact domain.PostTradeFact) domain.SubProof {
	sp := domain.PassedSubProof()

	promised := promise.Sizing.Notional
	tolerance := math.Abs(promised) * costTolerancePct
	if math.Abs(fact.TotalCost-promised) > tolerance {
		sp.Fail(fmt.Sprintf("%s: cost %.2f deviates from %.2f by more than %.2f",
			domain.ProofCostDeviation, fact.TotalCost, promised, tolerance))
	}
	if fact.CashAfter < 0 {
		sp.Fail(fmt.Sprintf("%s: post-trade cash %.2f", domain.ProofNegativeCash, fact.CashAfter))
	}
	return sp
}

// greeksDrift verifies that the risk headroom which existed when exposure
// was reserved still exists after execution, within a 5% buffer, and that
// the relative drift stays under the configured maximum. A second buffer
// violation within the session escalates the proof to critical.
func (p *Prover) greeksDrift(promise *domain.PreTradePromise, fact domain.PostTradeFact, proof *domain.Proof) domain.SubProof {
	sp := domain.PassedSubProof()

	type axis struct {
		name                    string
		limit, reserved, actual float64
	}
	axes := []axis{
		{"delta", promise.GreeksLimits.Delta, promise.Sizing.Greeks.Delta, fact.PortfolioGreeks.Delta},
		{"theta", promise.GreeksLimits.Theta, promise.Sizing.Greeks.Theta, fact.PortfolioGreeks.Theta},
		{"vega", promise.GreeksLimits.Vega, promise.Sizing.Greeks.Vega, fact.PortfolioGreeks.Vega},
	}

	breached := false
	for _, a := range axes {
		reservedHeadroom := a.limit - math.Abs(a.reserved)
		actualHeadroom := a.limit - math.Abs(a.actual)

		if actualHeadroom < reservedHeadroom*headroomBuffer {
			breached = true
			sp.Fail(fmt.Sprintf("%s: %s headroom %.4f < %.4f (95%% of reserved %.4f)",
				domain.ProofHeadroomEroded, a.name, actualHeadroom, reservedHeadroom*headroomBuffer, reservedHeadroom))
		}

		if reservedHeadroom != 0 {
			drift := math.Abs(actualHeadroom-reservedHeadroom) / math.Abs(reservedHeadroom)
			if drift > p.cfg.MaxGreeksDriftPct {
				sp.Fail(fmt.Sprintf("%s: %s drift %.2f%% > %.2f%%",
					domain.ProofDriftExceeded, a.name, drift*100, p.cfg.MaxGreeksDriftPct*100))
			}
		}
	}

	if breached {
		p.mu.Lock()
		p.breaches++
		if p.breaches >= criticalBreachCount {
			proof.CriticalEscalated = true
		}
		count := p.breaches
		p.mu.Unlock()
		slog.Warn("prover: greeks headroom buffer violated",
			"plan_id", fact.ID, "session_breaches", count, "critical", proof.CriticalEscalated)
	}

	return sp
}

// netDebitOnly is the standalone cash-only policy check; credits are a hard
// violation even when the structure math happens to balance.
func netDebitOnly(fact domain.PostTradeFact) domain.SubProof {
	if fact.NetDebit < 0 {
		return domain.FailedSubProof(fmt.Sprintf("%s: net debit %.2f", domain.ProofCreditExecuted, fact.NetDebit))
	}
	return domain.PassedSubProof()
}

// sidesOK forbids naked short opens and requires an opening long leg.
func sidesOK(fact domain.PostTradeFact) domain.SubProof {
	sp := domain.PassedSubProof()

	hasOpen := false
	for _, side := range fact.Sides {
		if side == domain.LegSellToOpen {
			sp.Fail(fmt.Sprintf("%s: leg %q", domain.ProofSellToOpen, side))
		}
		if side == domain.LegBuyToOpen {
			hasOpen = true
		}
	}
	if !hasOpen {
		sp.Fail(domain.ProofNoOpeningLeg)
	}
	return sp
}

// slippageWithinPlan computes real slippage against the NBBO mid recorded
// nearest the fill time. Without NBBO data inside the tolerance window it
// falls back to the broker's self-reported number and marks the proof as
// fallback evidence.
func (p *Prover) slippageWithinPlan(ctx context.Context, promise *domain.PreTradePromise, fact domain.PostTradeFact, proof *domain.Proof) domain.SubProof {
	sp := domain.PassedSubProof()

	allowed := promise.ExecutionPlan.MaxSlippage * slippageMultiplier
	if p.etfs[fact.Symbol] {
		allowed += etfSlippageBonus
	}

	nbbo, err := p.store.NBBONear(ctx, fact.Symbol, fact.Timestamp, nbboTolerance)
	if err != nil {
		slog.Warn("prover: nbbo lookup failed, using self-reported slippage",
			"symbol", fact.Symbol, "err", err)
		nbbo = nil
	}

	if nbbo == nil || nbbo.Mid() <= 0 {
		proof.UsingFallback = true
		if fact.ReportedSlippage > allowed {
			sp.Fail(fmt.Sprintf("%s: self-reported %.4f > allowed %.4f (fallback)",
				domain.ProofRealSlippage, fact.ReportedSlippage, allowed))
		}
		return sp
	}

	mid := nbbo.Mid()
	real := math.Abs(fact.Price-mid) / mid
	if real > allowed {
		sp.Fail(fmt.Sprintf("%s: real %.4f > allowed %.4f (mid %.4f)",
			domain.ProofRealSlippage, real, allowed, mid))
	}
	if fact.Price < nbbo.Bid || fact.Price > nbbo.Ask {
		sp.Fail(fmt.Sprintf("%s: fill %.4f outside [%.4f, %.4f]",
			domain.ProofOutsideNBBO, fact.Price, nbbo.Bid, nbbo.Ask))
	}
	return sp
}

// greeksCapsWithin enforces the absolute post-trade exposure caps.
func greeksCapsWithin(promise *domain.PreTradePromise, fact domain.PostTradeFact) domain.SubProof {
	sp := domain.PassedSubProof()

	if math.Abs(fact.PortfolioGreeks.Delta) > promise.GreeksLimits.Delta {
		sp.Fail(fmt.Sprintf("%s: |%.4f| > %.4f", domain.ProofDeltaCap,
			fact.PortfolioGreeks.Delta, promise.GreeksLimits.Delta))
	}
	if fact.PortfolioGreeks.Theta > promise.GreeksLimits.Theta {
		sp.Fail(fmt.Sprintf("%s: %.4f > %.4f", domain.ProofThetaCap,
			fact.PortfolioGreeks.Theta, promise.GreeksLimits.Theta))
	}
	return sp
}
