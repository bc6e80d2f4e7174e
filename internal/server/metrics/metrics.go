// Package metrics exposes Prometheus counters for the token lifecycle. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	tokensIssued *prometheus.CounterVec
	refresh      *prometheus.CounterVec
	replay       prometheus.Counter
	logins       *prometheus.CounterVec
	logouts      prometheus.Counter
}

// New registers the counters on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		tokensIssued: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "codex",
			Name:      "tokens_issued_total",
			Help:      "Signed tokens issued, by token type.",
		}, []string{"type"}),
		refresh: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "codex",
			Name:      "refresh_total",
			Help:      "Refresh attempts, by outcome.",
		}, []string{"outcome"}),
		replay: f.NewCounter(prometheus.CounterOpts{
			Namespace: "codex",
			Name:      "refresh_replay_total",
			Help:      "Refresh tokens presented again after they were revoked.",
		}),
		logins: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "codex",
			Name:      "login_total",
			Help:      "Login attempts, by method and outcome.",
		}, []string{"method", "outcome"}),
		logouts: f.NewCounter(prometheus.CounterOpts{
			Namespace: "codex",
			Name:      "logout_total",
			Help:      "Logout requests.",
		}),
	}
}

func (m *Metrics) TokenIssued(tokenType string) {
	if m == nil {
		return
	}
	m.tokensIssued.WithLabelValues(tokenType).Inc()
}

// Refresh records a refresh attempt; outcome is "ok" or a rejection reason.
func (m *Metrics) Refresh(outcome string) {
	if m == nil {
		return
	}
	m.refresh.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ReplayDetected() {
	if m == nil {
		return
	}
	m.replay.Inc()
}

func (m *Metrics) Login(method, outcome string) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(method, outcome).Inc()
}

func (m *Metrics) Logout() {
	if m == nil {
		return
	}
	m.logouts.Inc()
}
