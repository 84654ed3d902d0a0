package gateway

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts gateway traffic and refresh activity.
type Metrics struct {
	requests     prometheus.Counter
	authFailures prometheus.Counter
	refreshes    *prometheus.CounterVec
	retries      prometheus.Counter
}

// NewMetrics creates the gateway metrics and registers them with reg.
// A nil registerer leaves them unregistered, which tests use to avoid
// polluting the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "portal_gateway_requests_total",
			Help: "Outbound requests dispatched through the gateway.",
		}),
		authFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "portal_gateway_auth_failures_total",
			Help: "Responses rejected for an expired or invalid access token.",
		}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_gateway_refreshes_total",
			Help: "Credential refresh attempts driven by the gateway, by outcome.",
		}, []string{"outcome"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "portal_gateway_retries_total",
			Help: "Requests re-dispatched after a successful refresh.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.requests, m.authFailures, m.refreshes, m.retries)
	}

	return m
}
