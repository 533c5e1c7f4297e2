package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors of the pool client.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	TxTotal         *prometheus.CounterVec
	PoolsListed     prometheus.Gauge
	CorruptValues   *prometheus.CounterVec
	LedgerWriteTime *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		TxTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "microinsure_transactions_total",
			Help: "Finished pool transactions by action and outcome",
		}, []string{"action", "status"}),
		PoolsListed: f.NewGauge(prometheus.GaugeOpts{
			Name: "microinsure_pools_listed",
			Help: "Pools returned by the most recent full listing",
		}),
		CorruptValues: f.NewCounterVec(prometheus.CounterOpts{
			Name: "microinsure_corrupt_values_total",
			Help: "Ledger values that failed to deserialize, by kind (index, pool)",
		}, []string{"kind"}),
		LedgerWriteTime: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "microinsure_ledger_write_seconds",
			Help:    "Time from write submission to ledger confirmation",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"kind"}),
	}
}

// ObserveTx counts a finished transaction.
func (m *Metrics) ObserveTx(action, status string) {
	if m == nil {
		return
	}
	m.TxTotal.WithLabelValues(action, status).Inc()
}

// SetPoolsListed records the size of the latest listing.
func (m *Metrics) SetPoolsListed(n int) {
	if m == nil {
		return
	}
	m.PoolsListed.Set(float64(n))
}

// IncCorrupt counts a value that failed to deserialize.
func (m *Metrics) IncCorrupt(kind string) {
	if m == nil {
		return
	}
	m.CorruptValues.WithLabelValues(kind).Inc()
}

// ObserveWrite records a confirmed or failed ledger write.
func (m *Metrics) ObserveWrite(kind string, d time.Duration) {
	if m == nil {
		return
	}
	m.LedgerWriteTime.WithLabelValues(kind).Observe(d.Seconds())
}
