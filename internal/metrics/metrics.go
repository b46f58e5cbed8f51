package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const Namespace = "earn"

// Indicators observes the lifecycle of vault transactions and contract reads.
type Indicators interface {
	ObserveConfirmationLatencyMs(kind string, latencyMs int64)
	ObserveGasUsed(kind string, gasUsed uint64)
	IncrementProcessingTxCount()
	DecrementProcessingTxCount()
	IncrementProcessedTxsTotal(kind, outcome string)
	IncrementReadErrors(method string)
}

type PromIndicators struct {
	confirmationLatencyMs *prometheus.SummaryVec
	gasUsed               *prometheus.SummaryVec
	processingTxCount     prometheus.Gauge
	processedTxsTotal     *prometheus.CounterVec
	readErrorsTotal       *prometheus.CounterVec
}

var _ Indicators = (*PromIndicators)(nil)

func NewPromIndicators(reg prometheus.Registerer) *PromIndicators {
	return &PromIndicators{
		confirmationLatencyMs: promauto.With(reg).NewSummaryVec(
			prometheus.SummaryOpts{
				Namespace:  Namespace,
				Subsystem:  "tx",
				Name:       "confirmation_latency_ms",
				Help:       "submit to receipt latency in milliseconds",
				Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
			},
			[]string{"kind"},
		),
		gasUsed: promauto.With(reg).NewSummaryVec(
			prometheus.SummaryOpts{
				Namespace:  Namespace,
				Subsystem:  "tx",
				Name:       "gas_used",
				Help:       "gas used by mined vault transactions",
				Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
			},
			[]string{"kind"},
		),
		processingTxCount: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "tx",
				Name:      "processing_count",
				Help:      "number of transactions between submission and outcome",
			},
		),
		processedTxsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "tx",
				Name:      "processed_total",
				Help:      "number of transactions by kind and terminal phase",
			},
			[]string{"kind", "outcome"},
		),
		readErrorsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "rpc",
				Name:      "read_errors_total",
				Help:      "number of failed contract reads by method",
			},
			[]string{"method"},
		),
	}
}

func (p *PromIndicators) ObserveConfirmationLatencyMs(kind string, latencyMs int64) {
	p.confirmationLatencyMs.WithLabelValues(kind).Observe(float64(latencyMs))
}

func (p *PromIndicators) ObserveGasUsed(kind string, gasUsed uint64) {
	p.gasUsed.WithLabelValues(kind).Observe(float64(gasUsed))
}

func (p *PromIndicators) IncrementProcessingTxCount() {
	p.processingTxCount.Inc()
}

func (p *PromIndicators) DecrementProcessingTxCount() {
	p.processingTxCount.Dec()
}

func (p *PromIndicators) IncrementProcessedTxsTotal(kind, outcome string) {
	p.processedTxsTotal.WithLabelValues(kind, outcome).Inc()
}

func (p *PromIndicators) IncrementReadErrors(method string) {
	p.readErrorsTotal.WithLabelValues(method).Inc()
}

// Noop discards every observation. Used by tests and tools that do not expose /metrics.
type Noop struct{}

var _ Indicators = Noop{}

func (Noop) ObserveConfirmationLatencyMs(string, int64) {}
func (Noop) ObserveGasUsed(string, uint64)              {}
func (Noop) IncrementProcessingTxCount()                {}
func (Noop) DecrementProcessingTxCount()                {}
func (Noop) IncrementProcessedTxsTotal(string, string)  {}
func (Noop) IncrementReadErrors(string)                 {}
