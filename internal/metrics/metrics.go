// Package metrics exposes ledger outcomes as Prometheus collectors.
package metrics

import (
	"math/big"

	"github.com/prometheus/client_golang/prometheus"
	"lukechampine.com/uint128"
)

const namespace = "ledger"

// Ledger records mint and transfer outcomes and tracks total issuance.
type Ledger struct {
	operations *prometheus.CounterVec
	issuance   prometheus.Gauge
}

// NewLedger builds the ledger collectors and registers them with reg.
func NewLedger(reg prometheus.Registerer) (*Ledger, error) {
	m := &Ledger{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Ledger state transitions by operation and result.",
		}, []string{"operation", "result"}),
		issuance: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "total_issuance",
			Help:      "Total issuance after the last successful mint. Precision is limited to float64.",
		}),
	}
	for _, c := range []prometheus.Collector{m.operations, m.issuance} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ObserveOperation counts one operation outcome.
func (m *Ledger) ObserveOperation(operation, result string) {
	m.operations.WithLabelValues(operation, result).Inc()
}

// SetTotalIssuance publishes the current issuance.
func (m *Ledger) SetTotalIssuance(total uint128.Uint128) {
	f, _ := new(big.Float).SetInt(total.Big()).Float64()
	m.issuance.Set(f)
}
