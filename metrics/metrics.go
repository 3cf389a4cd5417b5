// Package metrics provides Prometheus-based implementations of the registry and stream observers.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/next-trace/scg-bridge/registry"
	"github.com/next-trace/scg-bridge/stream"
)

const namespace = "bridge"

// Prometheus implements registry.Metrics and stream.Metrics.
type Prometheus struct {
	initDuration *prometheus.HistogramVec
	initFailures *prometheus.CounterVec
	openSessions *prometheus.GaugeVec
	sessionsOpen *prometheus.CounterVec
	closes       *prometheus.CounterVec
}

var (
	_ registry.Metrics = (*Prometheus)(nil)
	_ stream.Metrics   = (*Prometheus)(nil)
)

// NewPrometheus registers the collectors on reg. A nil reg uses prometheus.DefaultRegisterer.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	f := promauto.With(reg)

	return &Prometheus{
		initDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "service_init_duration_seconds",
			Help:      "Duration of service Init calls",
			Buckets:   prometheus.DefBuckets,
		}, []string{"service"}),
		initFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "service_init_failures_total",
			Help:      "Total number of failed service Init calls",
		}, []string{"service"}),
		openSessions: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stream_sessions_open",
			Help:      "Number of live callback sessions",
		}, []string{"channel"}),
		sessionsOpen: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_sessions_opened_total",
			Help:      "Total number of opened callback sessions",
		}, []string{"channel"}),
		closes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_sessions_closed_total",
			Help:      "Total number of closed callback sessions",
		}, []string{"channel", "reason"}), // reason: host, peer, error, shutdown
	}
}

func (p *Prometheus) ObserveInit(token registry.Token, took time.Duration, err error) {
	p.initDuration.WithLabelValues(string(token)).Observe(took.Seconds())

	if err != nil {
		p.initFailures.WithLabelValues(string(token)).Inc()
	}
}

func (p *Prometheus) SessionOpened(key string) {
	p.sessionsOpen.WithLabelValues(key).Inc()
	p.openSessions.WithLabelValues(key).Inc()
}

func (p *Prometheus) SessionClosed(key, reason string) {
	p.closes.WithLabelValues(key, reason).Inc()
	p.openSessions.WithLabelValues(key).Dec()
}
