// Package metrics provides Prometheus metrics for trustless.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "trustless"
)

// Metrics contains all Prometheus metrics for the service.
type Metrics struct {
	// Store metrics
	StoresOpen     prometheus.Gauge
	StoresUnlocked prometheus.Gauge
	Unlocks        prometheus.Counter
	UnlockFailures prometheus.Counter
	Locks          prometheus.Counter
	AutolocksTotal prometheus.Counter

	// Secret metrics
	SecretsAdded  prometheus.Counter
	SecretsRead   prometheus.Counter
	BlocksWritten prometheus.Counter
	IndexRebuilds prometheus.Counter

	// Clipboard metrics
	ClipboardSessionsTotal prometheus.Counter
	ClipboardActive        prometheus.Gauge

	// Control plane metrics
	ControlRequests *prometheus.CounterVec
}

var (
	defaultMetrics *Metrics
	metricsOnce    sync.Once
)

// Default returns the default metrics instance.
func Default() *Metrics {
	metricsOnce.Do(func() {
		defaultMetrics = NewMetrics()
	})
	return defaultMetrics
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry creates a new Metrics instance with a custom registry.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		StoresOpen: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stores_open",
			Help:      "Number of currently opened stores",
		}),
		StoresUnlocked: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stores_unlocked",
			Help:      "Number of stores currently unlocked",
		}),
		Unlocks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unlocks_total",
			Help:      "Total number of successful unlocks",
		}),
		UnlockFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unlock_failures_total",
			Help:      "Total number of failed unlock attempts",
		}),
		Locks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "locks_total",
			Help:      "Total number of lock operations",
		}),
		AutolocksTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "autolocks_total",
			Help:      "Total number of stores locked by the autolock sweeper",
		}),
		SecretsAdded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "secrets_added_total",
			Help:      "Total number of secret versions added",
		}),
		SecretsRead: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "secrets_read_total",
			Help:      "Total number of secret reads",
		}),
		BlocksWritten: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blocks_written_total",
			Help:      "Total number of blocks written to the block store",
		}),
		IndexRebuilds: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "index_rebuilds_total",
			Help:      "Total number of index rebuilds on unlock",
		}),
		ClipboardSessionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "clipboard_sessions_total",
			Help:      "Total number of clipboard provider sessions",
		}),
		ClipboardActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "clipboard_active",
			Help:      "Whether a clipboard provider session is currently active",
		}),
		ControlRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "control_requests_total",
			Help:      "Control plane requests by endpoint and status",
		}, []string{"endpoint", "status"}),
	}
}
