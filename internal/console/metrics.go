package console

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/litimahmed/universal-hub/pkg/session"
)

// Metrics exposes session health on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	transitions   *prometheus.CounterVec
	refreshes     *prometheus.CounterVec
	authenticated prometheus.Gauge
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hub_session_transitions_total",
			Help: "Session state transitions by resulting phase.",
		}, []string{"phase"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hub_session_refresh_total",
			Help: "Token refresh attempts by outcome.",
		}, []string{"result"}),
		authenticated: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hub_session_authenticated",
			Help: "1 while the console holds an authenticated session.",
		}),
	}

	m.registry.MustRegister(
		m.transitions,
		m.refreshes,
		m.authenticated,
		collectors.NewGoCollector(),
	)
	return m
}

// ObserveState records a controller transition.
func (m *Metrics) ObserveState(st session.State) {
	m.transitions.WithLabelValues(phaseLabel(st)).Inc()
	if st.Authenticated {
		m.authenticated.Set(1)
	} else {
		m.authenticated.Set(0)
	}
}

// ObserveRefresh records the outcome of a refresh that reached the authority.
func (m *Metrics) ObserveRefresh(err error) {
	result := "ok"
	switch {
	case errors.Is(err, session.ErrStaleRefresh):
		result = "stale"
	case err != nil:
		result = "failed"
	}
	m.refreshes.WithLabelValues(result).Inc()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func phaseLabel(st session.State) string {
	switch {
	case st.Authenticated:
		return session.PhaseAuthenticated.String()
	case st.Loading:
		return session.PhaseUnknown.String()
	default:
		return session.PhaseUnauthenticated.String()
	}
}
