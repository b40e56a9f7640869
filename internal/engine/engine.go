// Package engine runs the decision-safety pipeline: every cycle it arbitrates
// signals, admits or rejects the winners, executes admitted trades, records
// the facts, and verifies the executions. An independent ticker drives the
// allocator's hourly rebalance.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/tradegate/internal/allocator"
	"github.com/alejandrodnm/tradegate/internal/coordinator"
	"github.com/alejandrodnm/tradegate/internal/domain"
	"github.com/alejandrodnm/tradegate/internal/gate"
	"github.com/alejandrodnm/tradegate/internal/ports"
	"github.com/alejandrodnm/tradegate/internal/prover"
	"github.com/alejandrodnm/tradegate/internal/summary"
)

const summaryWindow = 24 * time.Hour

// PromiseBuilder derives the pre-trade promise for an admitted intent.
// Injected so the execution-planning boundary stays outside the engine.
type PromiseBuilder func(intent domain.WinningIntent, routedQty float64) *domain.PreTradePromise

// DefaultPromiseBuilder promises the intent's notional as a cash-only debit
// with the quoted spread as the slippage budget.
func DefaultPromiseBuilder(intent domain.WinningIntent, routedQty float64) *domain.PreTradePromise {
	maxSlippage := intent.SpreadBps / 10000
	if maxSlippage <= 0 {
		maxSlippage = 0.001
	}
	return &domain.PreTradePromise{
		OptionType: "delta_one",
		Sizing: domain.Sizing{
			Notional: intent.Price * routedQty,
		},
		ExecutionPlan: domain.ExecutionPlan{MaxSlippage: maxSlippage},
	}
}

// Config holds the engine's loop periods and gate caps.
type Config struct {
	CycleInterval     time.Duration
	RebalanceInterval time.Duration
	GateCaps          gate.Caps
	Once              bool // run a single cycle and return
}

// CycleStats summarizes one coordination cycle.
type CycleStats struct {
	Signals  int
	Winners  int
	Admitted int
	Rejected int
	Proven   int
	Failed   int
}

// Engine wires the pipeline components together.
type Engine struct {
	cfg      Config
	coord    *coordinator.Coordinator
	signals  ports.SignalProvider
	health   ports.HealthProvider
	account  ports.AccountProvider
	executor ports.OrderExecutor
	audit    ports.AuditWriter
	prover   *prover.Prover
	alloc    *allocator.Allocator
	summ     *summary.Summarizer
	promise  PromiseBuilder
}

// New creates an Engine with all dependencies injected.
func New(
	cfg Config,
	coord *coordinator.Coordinator,
	signals ports.SignalProvider,
	health ports.HealthProvider,
	account ports.AccountProvider,
	executor ports.OrderExecutor,
	audit ports.AuditWriter,
	pv *prover.Prover,
	alloc *allocator.Allocator,
	summ *summary.Summarizer,
	promise PromiseBuilder,
) *Engine {
	if promise == nil {
		promise = DefaultPromiseBuilder
	}
	return &Engine{
		cfg:      cfg,
		coord:    coord,
		signals:  signals,
		health:   health,
		account:  account,
		executor: executor,
		audit:    audit,
		prover:   pv,
		alloc:    alloc,
		summ:     summ,
		promise:  promise,
	}
}

// Run executes the coordination and rebalance loops until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	slog.Info("engine starting",
		"cycle", e.cfg.CycleInterval,
		"rebalance", e.cfg.RebalanceInterval,
		"once", e.cfg.Once,
	)

	if err := e.runCycle(ctx); err != nil {
		slog.Error("cycle failed", "err", err)
		if e.cfg.Once {
			return err
		}
	}
	if e.cfg.Once {
		return nil
	}

	cycle := time.NewTicker(e.cfg.CycleInterval)
	defer cycle.Stop()
	rebalance := time.NewTicker(e.cfg.RebalanceInterval)
	defer rebalance.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("engine stopped")
			return nil
		case <-cycle.C:
			if err := e.runCycle(ctx); err != nil {
				slog.Error("cycle failed", "err", err)
			}
		case <-rebalance.C:
			if _, err := e.alloc.Rebalance(ctx, domain.RebalanceExecute); err != nil {
				slog.Error("rebalance failed", "err", err)
			}
		}
	}
}

// runCycle runs one full coordination pass. Broker errors are fatal to their
// trade and surface in the returned error; audit writes never are.
func (e *Engine) runCycle(ctx context.Context) error {
	start := time.Now()

	signals, stats, err := e.signals.Signals(ctx)
	if err != nil {
		return fmt.Errorf("engine.runCycle: fetch signals: %w", err)
	}
	winners := e.coord.PickWinningIntents(signals, stats)
	if len(winners) == 0 {
		slog.Debug("cycle: no winning intents", "signals", len(signals))
		return nil
	}

	// One health and account sample per cycle: every gate decision in the
	// cycle sees the same snapshot.
	health, err := e.health.Snapshot(ctx)
	if err != nil {
		slog.Warn("cycle: health unavailable, gating closed", "err", err)
		health = nil
	}
	account, accountErr := e.account.State(ctx)
	if accountErr != nil {
		slog.Warn("cycle: account state unavailable, gating closed", "err", accountErr)
	}

	cycleStats := CycleStats{Signals: len(signals), Winners: len(winners)}
	var tradeErrs []error

	for _, intent := range winners {
		decision := e.admit(intent, health, account, accountErr)
		if !decision.Accepted() {
			cycleStats.Rejected++
			slog.Info("gate rejected",
				"symbol", intent.Symbol, "strategy", intent.StrategyID,
				"reason", decision.Reason, "detail", decision.Message)
			continue
		}
		cycleStats.Admitted++

		proven, err := e.execute(ctx, intent, decision.RoutedQty)
		if err != nil {
			tradeErrs = append(tradeErrs, err)
			continue
		}
		if proven {
			cycleStats.Proven++
		} else {
			cycleStats.Failed++
		}
	}

	now := time.Now().UTC()
	if _, err := e.summ.Summarize(ctx, now.Add(-summaryWindow), now); err != nil {
		slog.Warn("cycle: summary failed", "err", err)
	}

	slog.Info("cycle done",
		"signals", cycleStats.Signals,
		"winners", cycleStats.Winners,
		"admitted", cycleStats.Admitted,
		"rejected", cycleStats.Rejected,
		"proven", cycleStats.Proven,
		"proof_failed", cycleStats.Failed,
		"took", time.Since(start).Round(time.Millisecond),
	)
	return errors.Join(tradeErrs...)
}

// recordAudit logs and swallows an audit write failure. The trade already
// happened; a degraded trail must not undo it.
func (e *Engine) recordAudit(kind string, err error) {
	if err != nil {
		slog.Warn("cycle: audit write failed", "kind", kind, "err", err)
	}
}

// admit builds the gate input for one intent. An unavailable account view
// zeroes the cash and the sizing multiplier, which rejects.
func (e *Engine) admit(intent domain.WinningIntent, health *domain.HealthSnapshot, account domain.AccountState, accountErr error) domain.GateDecision {
	in := domain.GateInput{
		RequestedQty: intent.Quantity,
		Price:        intent.Price,
		Health:       health,
	}
	if accountErr == nil {
		in.NAV = account.NAV
		in.PortfolioHeat = account.PortfolioHeat
		in.StrategyHeat = account.StrategyHeat[intent.StrategyID]
		in.DDMult = account.DDMult
		in.AvailableCash = account.AvailableCash
	} else {
		in.Health = nil // unknown account ⇒ unknown health ⇒ reject
	}
	return gate.Evaluate(in, e.cfg.GateCaps)
}

// execute submits one admitted intent, records the facts, and verifies the
// fill. Returns whether the proof passed; broker errors propagate.
func (e *Engine) execute(ctx context.Context, intent domain.WinningIntent, routedQty float64) (bool, error) {
	now := time.Now().UTC()
	e.recordAudit("order", e.audit.RecordOrder(ctx, domain.OrderRecord{
		PlanID:     intent.Key,
		StrategyID: intent.StrategyID,
		Symbol:     intent.Symbol,
		Side:       intent.Side,
		Qty:        routedQty,
		Price:      intent.Price,
		TsFeed:     now,
		TsRecv:     now,
	}))

	fact, err := e.executor.Submit(ctx, intent, routedQty)
	if err != nil {
		return false, fmt.Errorf("engine.execute: submit %s: %w", intent.Key, err)
	}

	e.recordAudit("fill", e.audit.RecordFill(ctx, domain.FillRecord{
		PlanID:      intent.Key,
		StrategyID:  intent.StrategyID,
		Symbol:      fact.Symbol,
		Side:        fact.Side,
		Price:       fact.Price,
		Qty:         fact.Qty,
		Fees:        fact.Fees,
		Attestation: fact.BrokerAttestation,
		TsFill:      fact.Timestamp,
		TsRecv:      time.Now().UTC(),
	}))
	e.recordAudit("ledger_change", e.audit.RecordLedgerChange(ctx, domain.LedgerChange{
		Account: "trading",
		Kind:    "cash",
		Delta:   fact.CashAfter - fact.CashBefore,
		RefID:   intent.Key,
		TsFeed:  fact.Timestamp,
		TsRecv:  time.Now().UTC(),
	}))

	promise := e.promise(intent, routedQty)
	proof := e.prover.VerifyExecution(ctx, promise, fact)

	e.recordAudit("proof", e.audit.RecordProof(ctx, domain.ProofRecord{
		PlanID:        intent.Key,
		Symbol:        intent.Symbol,
		Route:         intent.StrategyID,
		Passed:        proof.Overall.Passed,
		UsingFallback: proof.UsingFallback,
		Reasons:       proof.Overall.Reasons,
		VerifiedAt:    proof.VerifiedAt,
	}))

	if !proof.Overall.Passed {
		slog.Warn("proof failed",
			"plan", intent.Key,
			"reasons", proof.Overall.Reasons,
			"fallback", proof.UsingFallback,
			"critical", proof.CriticalEscalated,
		)
	}
	return proof.Overall.Passed, nil
}
