package observer

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusObserver implements Observer by recording Prometheus metrics,
// generalizing the teacher's src/metrics/prometheus.go business-metric set
// from ad-hoc counters to the ledger's own vocabulary (balance operations,
// transaction states, limit denials, upstream failures).
type PrometheusObserver struct {
	balanceOpDuration   *prometheus.HistogramVec
	balanceOpTotal      *prometheus.CounterVec
	transactionTotal    *prometheus.CounterVec
	transactionDuration *prometheus.HistogramVec
	limitDenials        *prometheus.CounterVec
	upstreamFailures    *prometheus.CounterVec
}

// NewPrometheusObserver registers and returns a PrometheusObserver. Register
// it once per process; promauto registers against the default registry.
func NewPrometheusObserver() *PrometheusObserver {
	return &PrometheusObserver{
		balanceOpDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ledger_balance_operation_duration_seconds",
			Help:    "Duration of balance engine operations.",
			Buckets: prometheus.DefBuckets,
		}, []string{"status"}),
		balanceOpTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_balance_operations_total",
			Help: "Total balance operations processed by status.",
		}, []string{"status"}),
		transactionTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_transactions_total",
			Help: "Total transactions reaching a terminal status.",
		}, []string{"status"}),
		transactionDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ledger_transaction_duration_seconds",
			Help:    "Time from initiation to terminal status.",
			Buckets: prometheus.DefBuckets,
		}, []string{"status"}),
		limitDenials: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_limit_denials_total",
			Help: "Total transactions denied by the limit evaluator.",
		}, []string{"reason"}),
		upstreamFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_upstream_failures_total",
			Help: "Total resilient-client failures by endpoint and reason.",
		}, []string{"endpoint", "reason"}),
	}
}

func (p *PrometheusObserver) BalanceOperationApplied(accountID, operationID, status string, delta string, d time.Duration) {
	p.balanceOpTotal.WithLabelValues(status).Inc()
	p.balanceOpDuration.WithLabelValues(status).Observe(d.Seconds())
}

func (p *PrometheusObserver) TransactionStateChanged(transactionID, fromState, toState string) {}

func (p *PrometheusObserver) TransactionTerminal(transactionID, status string, d time.Duration) {
	p.transactionTotal.WithLabelValues(status).Inc()
	p.transactionDuration.WithLabelValues(status).Observe(d.Seconds())
}

func (p *PrometheusObserver) LimitCheckDenied(accountID, reason string) {
	p.limitDenials.WithLabelValues(reason).Inc()
}

func (p *PrometheusObserver) UpstreamCallFailed(endpoint, reason string) {
	p.upstreamFailures.WithLabelValues(endpoint, reason).Inc()
}
