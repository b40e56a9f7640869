package summary

import "github.com/prometheus/client_golang/prometheus"

var (
	mtxProofPassRate = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tradegate_proof_pass_rate",
		Help: "Share of post-trade proofs that passed in the last window",
	})
	mtxFreshnessRatio = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tradegate_nbbo_freshness_ratio",
		Help: "Share of quotes within the freshness lag in the last window",
	})
	mtxFallbackProofs = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tradegate_proofs_fallback",
		Help: "Proofs verified against self-reported slippage (no NBBO)",
	})
	mtxFrictionOK = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tradegate_friction_compliance_ratio",
		Help: "Share of fills under the fee-ratio threshold",
	}, []string{"threshold"})
	mtxRouteProofs = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tradegate_route_proof_pass_rate",
		Help: "Proof pass rate per route in the last window",
	}, []string{"route"})
)

func init() {
	prometheus.MustRegister(
		mtxProofPassRate,
		mtxFreshnessRatio,
		mtxFallbackProofs,
		mtxFrictionOK,
		mtxRouteProofs,
	)
}

// publish pushes a summary to the exposition gauges.
func publish(s ComplianceSummary) {
	mtxProofPassRate.Set(s.ProofPassRate)
	mtxFreshnessRatio.Set(s.FreshnessRatio)
	mtxFallbackProofs.Set(float64(s.FallbackUsed))
	mtxFrictionOK.WithLabelValues("20pct").Set(s.FrictionOK20Pct)
	mtxFrictionOK.WithLabelValues("25pct").Set(s.FrictionOK25Pct)
	for route, r := range s.PerRoute {
		mtxRouteProofs.WithLabelValues(route).Set(r.PassRate())
	}
}
