// Package summary reduces a rolling window of proof results, quote
// freshness, and execution friction into a compliance report. The reduction
// is pure over the stored facts: the same window over the same records
// always yields the same summary. Windows are [from, to).
package summary

import (
	"context"
	"fmt"
	"time"

	"github.com/alejandrodnm/tradegate/internal/domain"
	"github.com/alejandrodnm/tradegate/internal/ports"
)

// maxFeedLag is the feed→receive lag under which a quote counts as fresh.
const maxFeedLag = 2 * time.Second

// RouteSummary is the proof breakdown for one route.
type RouteSummary struct {
	Proofs   int
	Passed   int
	Fallback int
}

// PassRate is passed/proofs, 1 for an empty route.
func (r RouteSummary) PassRate() float64 {
	if r.Proofs == 0 {
		return 1
	}
	return float64(r.Passed) / float64(r.Proofs)
}

// ComplianceSummary is the aggregate health report over one window.
type ComplianceSummary struct {
	From, To time.Time

	Proofs        int
	ProofsPassed  int
	ProofPassRate float64
	FallbackUsed  int

	FreshQuotes    int
	TotalQuotes    int
	FreshnessRatio float64

	Friction        domain.FrictionStats
	FrictionOK20Pct float64 // share of fills with fee ratio <= 20%
	FrictionOK25Pct float64

	PerRoute map[string]RouteSummary
}

// Summarizer aggregates audit-store history for observability surfaces and
// the allocator's promotion gate.
type Summarizer struct {
	audit ports.AuditReader
}

// New creates a Summarizer over the given reader.
func New(audit ports.AuditReader) *Summarizer {
	return &Summarizer{audit: audit}
}

// Summarize reduces the window [from, to) and publishes the result to the
// Prometheus gauges.
func (s *Summarizer) Summarize(ctx context.Context, from, to time.Time) (ComplianceSummary, error) {
	out := ComplianceSummary{
		From:     from,
		To:       to,
		PerRoute: make(map[string]RouteSummary),
	}

	proofs, err := s.audit.ProofsBetween(ctx, from, to)
	if err != nil {
		return ComplianceSummary{}, fmt.Errorf("summary.Summarize: proofs: %w", err)
	}
	for _, p := range proofs {
		out.Proofs++
		route := out.PerRoute[p.Route]
		route.Proofs++
		if p.Passed {
			out.ProofsPassed++
			route.Passed++
		}
		if p.UsingFallback {
			out.FallbackUsed++
			route.Fallback++
		}
		out.PerRoute[p.Route] = route
	}
	out.ProofPassRate = ratio(out.ProofsPassed, out.Proofs)

	fresh, total, err := s.audit.QuoteFreshness(ctx, from, to, maxFeedLag)
	if err != nil {
		return ComplianceSummary{}, fmt.Errorf("summary.Summarize: freshness: %w", err)
	}
	out.FreshQuotes = fresh
	out.TotalQuotes = total
	out.FreshnessRatio = ratio(fresh, total)

	friction, err := s.audit.FrictionStats(ctx, from, to)
	if err != nil {
		return ComplianceSummary{}, fmt.Errorf("summary.Summarize: friction: %w", err)
	}
	out.Friction = friction
	out.FrictionOK20Pct = ratio(friction.Within20Pct, friction.Fills)
	out.FrictionOK25Pct = ratio(friction.Within25Pct, friction.Fills)

	publish(out)
	return out, nil
}

// ratio is n/d with the empty window reading as fully compliant: an empty
// history is absence of evidence of violation, and the promotion precheck
// gates on trade count separately.
func ratio(n, d int) float64 {
	if d == 0 {
		return 1
	}
	return float64(n) / float64(d)
}
