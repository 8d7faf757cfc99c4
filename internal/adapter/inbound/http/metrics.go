// Package http provides the HTTP transport for the admin console.
package http

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the console.
// Pass to components that need to record metrics.
type Metrics struct {
	LoginsTotal         *prometheus.CounterVec
	TokenRefreshesTotal *prometheus.CounterVec
	GuardDenialsTotal   *prometheus.CounterVec
	SessionActive       prometheus.Gauge
	RequestDuration     *prometheus.HistogramVec
}

// NewMetrics creates and registers all metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		LoginsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "keygate",
				Name:      "logins_total",
				Help:      "Total login attempts",
			},
			[]string{"result"}, // result=ok/error
		),
		TokenRefreshesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "keygate",
				Name:      "token_refreshes_total",
				Help:      "Total token renewal attempts, scheduled and explicit",
			},
			[]string{"result"}, // result=ok/error
		),
		GuardDenialsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "keygate",
				Name:      "guard_denials_total",
				Help:      "Total navigations denied by a route guard",
			},
			[]string{"reason"}, // reason=unauthenticated/forbidden
		),
		SessionActive: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "keygate",
				Name:      "session_active",
				Help:      "1 while an authenticated session is held",
			},
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "keygate",
				Name:      "request_duration_seconds",
				Help:      "Request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
	}
}
