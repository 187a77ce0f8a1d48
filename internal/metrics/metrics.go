package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "billing_console"

// Result label values.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Metrics holds the Prometheus collectors for the session lifecycle.
type Metrics struct {
	Logins       *prometheus.CounterVec
	Refreshes    *prometheus.CounterVec
	Logouts      *prometheus.CounterVec
	Broadcasts   *prometheus.CounterVec
	SyncReceived *prometheus.CounterVec
}

// New creates the collectors and registers them on reg. A nil reg leaves
// them unregistered, which is what tests want.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Logins: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logins_total",
			Help:      "Login attempts by result",
		}, []string{"result"}),
		Refreshes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_refreshes_total",
			Help:      "Access token refreshes by result",
		}, []string{"result"}),
		Logouts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logouts_total",
			Help:      "Local logouts by kind and outcome of the remote call",
		}, []string{"kind", "remote"}),
		Broadcasts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_broadcasts_total",
			Help:      "Sync messages sent by kind and delivery path",
		}, []string{"kind", "path"}),
		SyncReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_received_total",
			Help:      "Sync messages applied from other instances by kind",
		}, []string{"kind"}),
	}
}

func result(err error) string {
	if err != nil {
		return ResultFailure
	}
	return ResultSuccess
}

func (m *Metrics) ObserveLogin(err error) {
	if m == nil {
		return
	}
	m.Logins.WithLabelValues(result(err)).Inc()
}

func (m *Metrics) ObserveRefresh(err error) {
	if m == nil {
		return
	}
	m.Refreshes.WithLabelValues(result(err)).Inc()
}

func (m *Metrics) ObserveLogout(kind string, remoteErr error) {
	if m == nil {
		return
	}
	m.Logouts.WithLabelValues(kind, result(remoteErr)).Inc()
}

func (m *Metrics) ObserveBroadcast(kind, path string) {
	if m == nil {
		return
	}
	m.Broadcasts.WithLabelValues(kind, path).Inc()
}

func (m *Metrics) ObserveSyncReceived(kind string) {
	if m == nil {
		return
	}
	m.SyncReceived.WithLabelValues(kind).Inc()
}
