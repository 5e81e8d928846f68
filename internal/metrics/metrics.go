// Package metrics exposes prometheus collectors for the credential store and the request gateway.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace string = "authclient"

const (
	ResultSuccess string = "success"
	ResultFailure string = "failure"
)

type Metrics struct {
	logins          *prometheus.CounterVec
	refreshes       *prometheus.CounterVec
	refreshDuration prometheus.Histogram
	requests        *prometheus.CounterVec
	queued          prometheus.Counter
	pending         prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := Metrics{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logins_total",
			Help:      "Number of login and registration attempts by result.",
		}, []string{"result"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_total",
			Help:      "Number of token refresh calls by result.",
		}, []string{"result"}),
		refreshDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "refresh_duration_seconds",
			Help:      "Duration of the token refresh calls.",
			Buckets:   prometheus.DefBuckets,
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Number of requests executed by the gateway by outcome.",
		}, []string{"outcome"}),
		queued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queued_requests_total",
			Help:      "Number of requests that waited for an outstanding token refresh.",
		}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_requests",
			Help:      "Number of requests currently waiting for a token refresh.",
		}),
	}
	collectors := []prometheus.Collector{m.logins, m.refreshes, m.refreshDuration, m.requests, m.queued, m.pending}
	for _, c := range collectors {
		err := reg.Register(c)
		if err != nil {
			return &Metrics{}, err
		}
	}
	return &m, nil
}

func result(err error) string {
	if err != nil {
		return ResultFailure
	}
	return ResultSuccess
}

func (m *Metrics) LoginAttempted(err error) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(result(err)).Inc()
}

func (m *Metrics) RefreshCompleted(started time.Time, err error) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(result(err)).Inc()
	m.refreshDuration.Observe(time.Since(started).Seconds())
}

// RequestCompleted counts a finished request, outcome is a category such as "ok" or "timeout"
func (m *Metrics) RequestCompleted(outcome string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RequestQueued() {
	if m == nil {
		return
	}
	m.queued.Inc()
	m.pending.Inc()
}

func (m *Metrics) RequestsDrained(n int) {
	if m == nil {
		return
	}
	m.pending.Sub(float64(n))
}
