package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chainrelay/chainhooks/internal/chain"
)

// Metrics holds Prometheus counters/gauges for the router's live and
// backfill paths (spec §4.F, §4.G).
type Metrics struct {
	blocksApplied      *prometheus.CounterVec
	blocksRolledBack   *prometheus.CounterVec
	occurrencesMatched *prometheus.CounterVec
	dispatchesSent     *prometheus.CounterVec
	dispatchesFailed   *prometheus.CounterVec
	scannerLag         *prometheus.GaugeVec
	errors             prometheus.Counter
}

var (
	once   sync.Once
	global *Metrics
)

// Init initializes global metrics (idempotent).
func Init() *Metrics {
	once.Do(func() {
		global = &Metrics{
			blocksApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "chainhooks_blocks_applied_total",
				Help: "Total number of canonical blocks applied",
			}, []string{"chain"}),
			blocksRolledBack: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "chainhooks_blocks_rolled_back_total",
				Help: "Total number of blocks rolled back during reorgs",
			}, []string{"chain"}),
			occurrencesMatched: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "chainhooks_occurrences_matched_total",
				Help: "Total number of predicate occurrences matched",
			}, []string{"chain"}),
			dispatchesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "chainhooks_dispatches_sent_total",
				Help: "Total number of successful action dispatches",
			}, []string{"chain", "action"}),
			dispatchesFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "chainhooks_dispatches_failed_total",
				Help: "Total number of action dispatches that exhausted retries",
			}, []string{"chain", "action"}),
			scannerLag: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "chainhooks_scanner_lag_blocks",
				Help: "Blocks remaining between a scanning predicate's cursor and the chain tip",
			}, []string{"chain"}),
			errors: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "chainhooks_errors_total",
				Help: "Total number of errors encountered",
			}),
		}
		prometheus.MustRegister(
			global.blocksApplied,
			global.blocksRolledBack,
			global.occurrencesMatched,
			global.dispatchesSent,
			global.dispatchesFailed,
			global.scannerLag,
			global.errors,
		)
	})
	return global
}

func (m *Metrics) BlocksApplied(c chain.Name) {
	if m != nil {
		m.blocksApplied.WithLabelValues(string(c)).Inc()
	}
}

func (m *Metrics) BlocksRolledBack(c chain.Name) {
	if m != nil {
		m.blocksRolledBack.WithLabelValues(string(c)).Inc()
	}
}

func (m *Metrics) OccurrencesMatched(c chain.Name) {
	if m != nil {
		m.occurrencesMatched.WithLabelValues(string(c)).Inc()
	}
}

func (m *Metrics) DispatchSent(c chain.Name, action string) {
	if m != nil {
		m.dispatchesSent.WithLabelValues(string(c), action).Inc()
	}
}

func (m *Metrics) DispatchFailed(c chain.Name, action string) {
	if m != nil {
		m.dispatchesFailed.WithLabelValues(string(c), action).Inc()
	}
}

func (m *Metrics) ScannerLag(c chain.Name, blocksBehind uint64) {
	if m != nil {
		m.scannerLag.WithLabelValues(string(c)).Set(float64(blocksBehind))
	}
}

func (m *Metrics) Errors() {
	if m != nil {
		m.errors.Inc()
	}
}

// Handler returns an HTTP handler for /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
