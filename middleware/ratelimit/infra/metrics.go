package infra

import (
	"time"

	"admission-gateway/middleware/ratelimit/domain"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "admission"

// Metrics agrupa os coletores Prometheus do controle de admissão.
//
// Métodos aceitam receiver nil (métricas desligadas).
type Metrics struct {
	checks       *prometheus.CounterVec
	configErrors *prometheus.CounterVec
	sweepRemoved prometheus.Counter
	sweepSeconds prometheus.Histogram
}

// NewMetrics registra os coletores em reg. sizeFn, se não for nil, vira o gauge
// admission_window_keys (lido a cada scrape).
func NewMetrics(reg prometheus.Registerer, sizeFn func() int) (*Metrics, error) {
	m := &Metrics{
		checks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "checks_total",
				Help:      "Total number of admission checks by category and result",
			},
			[]string{"category", "result"},
		),
		configErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "config_errors_total",
				Help:      "Admission checks that referenced an unknown category",
			},
			[]string{"category"},
		),
		sweepRemoved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "sweep_removed_total",
			Help:      "Expired windows removed by the background sweep",
		}),
		sweepSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "sweep_duration_seconds",
			Help:      "Duration of one sweep pass",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
		}),
	}

	collectors := []prometheus.Collector{m.checks, m.configErrors, m.sweepRemoved, m.sweepSeconds}
	if sizeFn != nil {
		collectors = append(collectors, prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "window_keys",
				Help:      "Windows currently held in memory, including expired ones not yet swept",
			},
			func() float64 { return float64(sizeFn()) },
		))
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) ObserveCheck(cat domain.Category, allowed bool) {
	if m == nil {
		return
	}
	result := "denied"
	if allowed {
		result = "allowed"
	}
	m.checks.WithLabelValues(string(cat), result).Inc()
}

func (m *Metrics) ObserveConfigError(cat domain.Category) {
	if m == nil {
		return
	}
	m.configErrors.WithLabelValues(string(cat)).Inc()
}

func (m *Metrics) ObserveSweep(removed int, took time.Duration) {
	if m == nil {
		return
	}
	m.sweepRemoved.Add(float64(removed))
	m.sweepSeconds.Observe(took.Seconds())
}
