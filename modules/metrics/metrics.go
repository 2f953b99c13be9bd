package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Счётчики синхронизации. Нулевой указатель допустим и ничего не считает
type Metrics struct {
	registry *prometheus.Registry

	fetches  *prometheus.CounterVec
	runs     *prometheus.CounterVec
	groups   *prometheus.CounterVec
	lessons  *prometheus.CounterVec
	duration prometheus.Histogram
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "raspsync",
			Name:      "fetch_attempts_total",
			Help:      "Page fetch attempts by outcome.",
		}, []string{"outcome"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "raspsync",
			Name:      "sync_runs_total",
			Help:      "Finished sync runs by status.",
		}, []string{"status"}),
		groups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "raspsync",
			Name:      "groups_total",
			Help:      "Group reconciliations by result.",
		}, []string{"result"}),
		lessons: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "raspsync",
			Name:      "lessons_changed_total",
			Help:      "Lesson rows changed by reconciliation.",
		}, []string{"kind"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "raspsync",
			Name:      "sync_duration_seconds",
			Help:      "Full sync pass duration.",
			Buckets:   []float64{10, 30, 60, 120, 300, 600, 1200, 2400},
		}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.fetches, m.runs, m.groups, m.lessons, m.duration,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}

	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}

	return m.registry
}

// outcome: ok, timeout, network, http_status
func (m *Metrics) Fetch(outcome string) {
	if m == nil {
		return
	}
	m.fetches.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Run(status string, seconds float64) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(status).Inc()
	m.duration.Observe(seconds)
}

// result: ok, failed
func (m *Metrics) Group(result string) {
	if m == nil {
		return
	}
	m.groups.WithLabelValues(result).Inc()
}

func (m *Metrics) Lessons(created, updated, removed int) {
	if m == nil {
		return
	}
	m.lessons.WithLabelValues("created").Add(float64(created))
	m.lessons.WithLabelValues("updated").Add(float64(updated))
	m.lessons.WithLabelValues("removed").Add(float64(removed))
}
