package allocator

import "github.com/prometheus/client_golang/prometheus"

var (
	mtxPoolCap = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tradegate_pool_cap",
		Help: "Current allocation pool cap as a fraction of capital",
	})
	mtxActiveTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tradegate_active_allocation_total",
		Help: "Sum of active allocations after the last rebalance",
	})
)

func init() {
	prometheus.MustRegister(mtxPoolCap, mtxActiveTotal)
}

func publishRebalance(poolCap, activeTotal float64) {
	mtxPoolCap.Set(poolCap)
	mtxActiveTotal.Set(activeTotal)
}
