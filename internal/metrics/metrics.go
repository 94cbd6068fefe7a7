// Package metrics exposes Prometheus counters for API calls and desk events.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/labelhub/supportdesk/internal/errs"
	"github.com/labelhub/supportdesk/internal/events"
	"github.com/labelhub/supportdesk/internal/models"
)

const namespace = "supportdesk"

// Recorder owns a private registry so tests and embedders never collide with
// the global one.
type Recorder struct {
	registry *prometheus.Registry

	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	events   *prometheus.CounterVec
	typing   prometheus.Gauge
}

// New creates a Recorder with Go runtime collectors registered.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_requests_total",
			Help:      "API requests by operation and outcome.",
		}, []string{"op", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "api_request_duration_seconds",
			Help:      "API request latency by operation.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Desk events by type.",
		}, []string{"type"}),
		typing: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "counterpart_typing",
			Help:      "1 while the watched ticket's counterpart is typing.",
		}),
	}
	r.registry.MustRegister(
		r.requests,
		r.latency,
		r.events,
		r.typing,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// ObserveRequest implements api.Observer.
func (r *Recorder) ObserveRequest(op string, kind errs.Kind, elapsed time.Duration) {
	outcome := string(kind)
	if outcome == "" {
		outcome = "ok"
	}
	r.requests.WithLabelValues(op, outcome).Inc()
	r.latency.WithLabelValues(op).Observe(elapsed.Seconds())
}

// Attach counts every event published on pub. It returns the subscription id.
func (r *Recorder) Attach(pub *events.InMemoryPublisher) (string, error) {
	return pub.Subscribe(events.Filter{}, r.observeEvent)
}

func (r *Recorder) observeEvent(event *models.Event) {
	r.events.WithLabelValues(string(event.Type)).Inc()
	if event.Type != models.EventTypeTypingChanged {
		return
	}
	var payload models.TypingPayload
	if err := event.DecodePayload(&payload); err != nil {
		return
	}
	if payload.Visible {
		r.typing.Set(1)
	} else {
		r.typing.Set(0)
	}
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}
