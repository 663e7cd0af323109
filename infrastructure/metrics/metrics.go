// Package metrics provides Prometheus metrics collection for the indexer service.
package metrics

import (
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the indexer's Prometheus collectors, registered against a private registry so
// concurrent tests (and concurrent chains within one process) never collide on the global
// DefaultRegisterer.
type Metrics struct {
	EventsIndexedTotal *prometheus.CounterVec
	LastSyncedBlock    *prometheus.GaugeVec
	RPCRequestsTotal   *prometheus.CounterVec
	ProviderAvailable  *prometheus.GaugeVec
	ProviderCooldown   *prometheus.GaugeVec
	BroadcastSubs      *prometheus.GaugeVec
	CacheSize          prometheus.Gauge
	CacheMaxSize       prometheus.Gauge

	registry *prometheus.Registry
}

// New creates a Metrics instance backed by its own private registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.NewRegistry())
}

// NewWithRegistry creates a Metrics instance registered against the given registry. A nil
// registry is accepted for tests that only want the collectors constructed, not registered.
func NewWithRegistry(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		EventsIndexedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "events_indexed_total",
				Help: "Total number of events successfully persisted by the indexer.",
			},
			[]string{"chain_id", "event_type", "contract"},
		),
		LastSyncedBlock: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "last_synced_block",
				Help: "Highest block number committed to storage for a chain.",
			},
			[]string{"chain_id"},
		),
		RPCRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rpc_requests_total",
				Help: "Total number of RPC calls made to chain providers.",
			},
			[]string{"chain_id", "method", "status"},
		),
		ProviderAvailable: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "provider_available",
				Help: "1 if an RPC provider is available for selection, 0 otherwise.",
			},
			[]string{"chain_id", "provider_url"},
		),
		ProviderCooldown: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "provider_cooldown",
				Help: "1 if an RPC provider is currently in its error cooldown window.",
			},
			[]string{"chain_id", "provider_url"},
		),
		BroadcastSubs: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "broadcast_subscribers",
				Help: "Current number of subscribers on the broadcast bus.",
			},
			[]string{"chain_id"},
		),
		CacheSize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "cache_size",
				Help: "Current number of entries held in the event dedup cache.",
			},
		),
		CacheMaxSize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "cache_max_size",
				Help: "Configured capacity of the event dedup cache.",
			},
		),
		registry: registry,
	}

	if registry != nil {
		registry.MustRegister(
			m.EventsIndexedTotal,
			m.LastSyncedBlock,
			m.RPCRequestsTotal,
			m.ProviderAvailable,
			m.ProviderCooldown,
			m.BroadcastSubs,
			m.CacheSize,
			m.CacheMaxSize,
		)
	}

	return m
}

// Registry returns the private registry backing this instance, for an external HTTP mux to
// expose via promhttp.HandlerFor.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordEventIndexed increments the per-chain/event-type/contract indexed-event counter.
func (m *Metrics) RecordEventIndexed(chainID uint64, eventType, contract string) {
	m.EventsIndexedTotal.WithLabelValues(chainIDLabel(chainID), eventType, contract).Inc()
}

// SetLastSyncedBlock records the highest block committed for a chain.
func (m *Metrics) SetLastSyncedBlock(chainID uint64, block uint64) {
	m.LastSyncedBlock.WithLabelValues(chainIDLabel(chainID)).Set(float64(block))
}

// RecordRPCRequest increments the RPC call counter for a chain/method/status triple.
func (m *Metrics) RecordRPCRequest(chainID uint64, method, status string) {
	m.RPCRequestsTotal.WithLabelValues(chainIDLabel(chainID), method, status).Inc()
}

// SetProviderState records a provider's availability and cooldown state as 0/1 gauges.
func (m *Metrics) SetProviderState(chainID uint64, providerURL string, available, cooldown bool) {
	labels := []string{chainIDLabel(chainID), providerURL}
	m.ProviderAvailable.WithLabelValues(labels...).Set(boolToFloat(available))
	m.ProviderCooldown.WithLabelValues(labels...).Set(boolToFloat(cooldown))
}

// SetBroadcastSubscribers records the current subscriber count for a chain's bus.
func (m *Metrics) SetBroadcastSubscribers(chainID uint64, count int) {
	m.BroadcastSubs.WithLabelValues(chainIDLabel(chainID)).Set(float64(count))
}

// SetCacheStats mirrors the dedup cache's current size and configured capacity.
func (m *Metrics) SetCacheStats(size, max int) {
	m.CacheSize.Set(float64(size))
	m.CacheMaxSize.Set(float64(max))
}

func chainIDLabel(chainID uint64) string {
	return strconv.FormatUint(chainID, 10)
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Enabled returns whether the metrics registry should be exposed over HTTP by an external mux.
// The core always records into the registry regardless of this flag; only exposure is gated.
//
// Defaults to enabled unless explicitly disabled via METRICS_ENABLED.
func Enabled() bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv("METRICS_ENABLED")))
	if raw == "" {
		return true
	}
	switch raw {
	case "0", "false", "no", "off":
		return false
	default:
		return true
	}
}

var (
	global   *Metrics
	globalMu sync.Mutex
)

// Init initializes the global metrics instance exactly once.
func Init() *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()

	if global == nil {
		global = New()
	}
	return global
}

// Global returns the global metrics instance, initializing it if needed.
func Global() *Metrics {
	return Init()
}
