package split

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zombor/snapsplit/internal/scanning"
)

// Metrics holds the service's Prometheus collectors. A nil *Metrics records
// nothing.
type Metrics struct {
	extractions        *prometheus.CounterVec
	extractionDuration prometheus.Histogram
	breakdowns         prometheus.Counter
	requests           *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		extractions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "snapsplit",
			Name:      "extractions_total",
			Help:      "Receipt extractions by outcome.",
		}, []string{"outcome"}),
		extractionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "snapsplit",
			Name:      "extraction_duration_seconds",
			Help:      "Time spent waiting on the vision model.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
		}),
		breakdowns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "snapsplit",
			Name:      "breakdowns_total",
			Help:      "Breakdowns computed.",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "snapsplit",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route, method, and status code.",
		}, []string{"route", "method", "code"}),
	}
	reg.MustRegister(m.extractions, m.extractionDuration, m.breakdowns, m.requests)
	return m
}

func (m *Metrics) observeExtraction(err error, itemCount int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.extractions.WithLabelValues(extractionOutcome(err, itemCount)).Inc()
	m.extractionDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) observeBreakdown() {
	if m == nil {
		return
	}
	m.breakdowns.Inc()
}

// instrument counts requests served by h under the given route label
func (m *Metrics) instrument(route string, h http.HandlerFunc) http.HandlerFunc {
	if m == nil {
		return h
	}
	counter := m.requests.MustCurryWith(prometheus.Labels{"route": route})
	return promhttp.InstrumentHandlerCounter(counter, h).ServeHTTP
}

func extractionOutcome(err error, itemCount int) string {
	switch {
	case err == nil && itemCount == 0:
		return "empty"
	case err == nil:
		return "ok"
	case errors.Is(err, scanning.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, scanning.ErrTimeout):
		return "timeout"
	case errors.Is(err, scanning.ErrMalformedResponse):
		return "malformed"
	case errors.Is(err, scanning.ErrUnsupportedImage):
		return "unsupported"
	default:
		return "error"
	}
}
