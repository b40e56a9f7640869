package console_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/alejandrodnm/tradegate/internal/adapters/console"
	"github.com/alejandrodnm/tradegate/internal/domain"
	"github.com/alejandrodnm/tradegate/internal/summary"
)

func TestPrintLedger(t *testing.T) {
	var buf bytes.Buffer
	c := console.NewWriter(&buf)

	c.PrintLedger([]domain.LedgerEntry{{
		Allocation: domain.Allocation{
			StrategyRef: "theta-harvest",
			Pool:        "options",
			Allocation:  0.03,
			Status:      domain.AllocationActive,
			TTLUntil:    time.Date(2026, 9, 6, 15, 0, 0, 0, time.UTC),
		},
		RealizedPnL:   98,
		UnrealizedPnL: -12.5,
	}})

	out := buf.String()
	assert.Contains(t, out, "theta-harvest")
	assert.Contains(t, out, "3.00%")
	assert.Contains(t, out, "active")
	assert.Contains(t, out, "+98.00")
	assert.Contains(t, out, "-12.50")
}

func TestPrintLedger_Empty(t *testing.T) {
	var buf bytes.Buffer
	console.NewWriter(&buf).PrintLedger(nil)
	assert.Contains(t, buf.String(), "no allocations")
}

func TestPrintRebalance(t *testing.T) {
	var buf bytes.Buffer
	c := console.NewWriter(&buf)

	c.PrintRebalance(domain.RebalanceResult{
		Bucket:      time.Date(2026, 8, 30, 15, 0, 0, 0, time.UTC),
		Mode:        domain.RebalanceExecute,
		PoolCap:     0.05,
		ActiveTotal: 0.05,
		Activated: []domain.AllocationChange{
			{AllocationID: "a-1", StrategyRef: "alpha", Amount: 0.03, Reason: "within pool cap"},
		},
		Rejected: []domain.AllocationChange{
			{AllocationID: "a-2", StrategyRef: "beta", Amount: 0.01, Reason: "would exceed pool cap"},
		},
	})

	out := buf.String()
	assert.Contains(t, out, "cap 5.00%")
	assert.Contains(t, out, "activated")
	assert.Contains(t, out, "alpha")
	assert.Contains(t, out, "would exceed pool cap")
}

func TestPrintRebalance_Replayed(t *testing.T) {
	var buf bytes.Buffer
	c := console.NewWriter(&buf)

	c.PrintRebalance(domain.RebalanceResult{
		Bucket:   time.Date(2026, 8, 30, 15, 0, 0, 0, time.UTC),
		Replayed: true,
	})
	out := buf.String()
	assert.Contains(t, out, "(replayed)")
	assert.Contains(t, out, "no changes")
}

func TestPrintSummary(t *testing.T) {
	var buf bytes.Buffer
	c := console.NewWriter(&buf)

	c.PrintSummary(summary.ComplianceSummary{
		From:            time.Date(2026, 8, 29, 15, 0, 0, 0, time.UTC),
		To:              time.Date(2026, 8, 30, 15, 0, 0, 0, time.UTC),
		Proofs:          12,
		ProofPassRate:   0.75,
		FallbackUsed:    2,
		FreshnessRatio:  0.98,
		FrictionOK20Pct: 0.9,
		FrictionOK25Pct: 1,
	})

	out := buf.String()
	assert.Contains(t, out, "proofs 12")
	assert.Contains(t, out, "pass 75.0%")
	assert.Contains(t, out, "fallback 2")
	assert.Contains(t, out, "freshness 98.0%")
}
