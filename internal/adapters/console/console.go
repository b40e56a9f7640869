// Package console renders operator-facing tables for the allocation ledger
// and rebalance outcomes.
package console

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/alejandrodnm/tradegate/internal/domain"
	"github.com/alejandrodnm/tradegate/internal/summary"
)

// Console writes tables to an io.Writer.
type Console struct {
	out io.Writer
}

// New creates a Console writing to stdout.
func New() *Console {
	return &Console{out: os.Stdout}
}

// NewWriter creates a Console for tests.
func NewWriter(w io.Writer) *Console {
	return &Console{out: w}
}

// PrintLedger renders the allocation ledger with PnL.
func (c *Console) PrintLedger(entries []domain.LedgerEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(c.out, "ledger: no allocations")
		return
	}

	table := tablewriter.NewWriter(c.out)
	table.Header("Strategy", "Pool", "Alloc", "Status", "TTL", "Realized", "Unrealized")

	for _, e := range entries {
		a := e.Allocation
		ttl := "-"
		if !a.TTLUntil.IsZero() {
			ttl = a.TTLUntil.Format("01-02 15:04")
		}
		table.Append(
			a.StrategyRef,
			a.Pool,
			fmt.Sprintf("%.2f%%", a.Allocation*100),
			string(a.Status),
			ttl,
			fmt.Sprintf("%+.2f", e.RealizedPnL),
			fmt.Sprintf("%+.2f", e.UnrealizedPnL),
		)
	}
	table.Render()
}

// PrintRebalance renders one rebalance result.
func (c *Console) PrintRebalance(r domain.RebalanceResult) {
	replayed := ""
	if r.Replayed {
		replayed = " (replayed)"
	}
	fmt.Fprintf(c.out, "rebalance %s%s: cap %.2f%%, active %.2f%%\n",
		r.Bucket.Format(time.RFC3339), replayed, r.PoolCap*100, r.ActiveTotal*100)

	if len(r.Activated)+len(r.Rejected)+len(r.Expired)+len(r.Demoted) == 0 {
		fmt.Fprintln(c.out, "  no changes")
		return
	}

	table := tablewriter.NewWriter(c.out)
	table.Header("Outcome", "Strategy", "Amount", "Reason")
	for _, ch := range r.Activated {
		table.Append("activated", ch.StrategyRef, fmt.Sprintf("%.2f%%", ch.Amount*100), ch.Reason)
	}
	for _, ch := range r.Rejected {
		table.Append("rejected", ch.StrategyRef, fmt.Sprintf("%.2f%%", ch.Amount*100), ch.Reason)
	}
	for _, ch := range r.Expired {
		table.Append("expired", ch.StrategyRef, fmt.Sprintf("%.2f%%", ch.Amount*100), ch.Reason)
	}
	for _, ch := range r.Demoted {
		table.Append("demoted", ch.StrategyRef, fmt.Sprintf("%.2f%%", ch.Amount*100), ch.Reason)
	}
	table.Render()
}

// PrintSummary renders a compliance summary in compact form.
func (c *Console) PrintSummary(s summary.ComplianceSummary) {
	fmt.Fprintf(c.out,
		"[%s → %s] proofs %d (pass %.1f%%, fallback %d) | freshness %.1f%% | friction ok %.1f%%@20 %.1f%%@25\n",
		s.From.Format("15:04"), s.To.Format("15:04"),
		s.Proofs, s.ProofPassRate*100, s.FallbackUsed,
		s.FreshnessRatio*100,
		s.FrictionOK20Pct*100, s.FrictionOK25Pct*100,
	)
}
