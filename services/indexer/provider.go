package indexer

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// RPCProviderConfig is the static, file-supplied description of one RPC endpoint.
type RPCProviderConfig struct {
	URL                  string
	Weight               int           // requests handled before rotating to the next provider
	Priority             int           // tie-break among providers; lower runs first
	MaxRequestsPerMinute int
	CooldownOnError      time.Duration
}

// providerState is the dynamic, in-memory-only state for one RPC endpoint (spec §3 ProviderState).
type providerState struct {
	cfg RPCProviderConfig

	requestCount       int
	requestsThisMinute int
	minuteWindowStart  time.Time
	lastErrorAt        time.Time
	inCooldown         bool
	consecutiveErrors  int
}

func (p *providerState) isAvailable(now time.Time) bool {
	if p.inCooldown {
		return false
	}
	return p.requestsThisMinute < p.cfg.MaxRequestsPerMinute
}

func (p *providerState) shouldRotate() bool {
	return p.requestCount >= p.cfg.Weight
}

func (p *providerState) rollMinuteWindow(now time.Time) {
	if p.minuteWindowStart.IsZero() || now.Sub(p.minuteWindowStart) >= time.Minute {
		p.minuteWindowStart = now
		p.requestsThisMinute = 0
	}
}

func (p *providerState) releaseCooldownIfElapsed(now time.Time) {
	if p.inCooldown && now.Sub(p.lastErrorAt) >= p.cfg.CooldownOnError {
		p.inCooldown = false
		p.consecutiveErrors = 0
	}
}

// ErrAllProvidersUnavailable is returned by GetCurrentProvider when a full pass over the pool
// finds no available endpoint (all in cooldown or rate-limited).
var ErrAllProvidersUnavailable = fmt.Errorf("all providers unavailable")

// ProviderStats summarizes pool health for the metrics layer and the read API.
type ProviderStats struct {
	TotalProviders     int
	AvailableProviders int
	CooldownProviders  int
	CurrentIndex       int
	CurrentURL         string
}

// ProviderManager manages the ordered pool of RPC endpoints for a single chain: priority-sorted,
// weight-rotated, rate-limited, with cooldown-on-error failover. All pool state is held behind
// a single writer lock (mu) — the cursor and the pool slice are always mutated together to
// avoid the "rotate past available" race described in spec §5.
type ProviderManager struct {
	mu           sync.Mutex
	providers    []*providerState
	currentIndex int
	chainName    string
}

// NewProviderManager builds a pool for chainName, sorted ascending by priority (stable, so
// providers with equal priority keep their configured order — the weight-based rotation then
// acts as the tie-break in practice).
func NewProviderManager(chainName string, configs []RPCProviderConfig) (*ProviderManager, error) {
	if len(configs) == 0 {
		return nil, fmt.Errorf("provider manager for chain %s: at least one RPC provider is required", chainName)
	}
	states := make([]*providerState, len(configs))
	for i, cfg := range configs {
		if cfg.Weight <= 0 {
			cfg.Weight = 30
		}
		if cfg.MaxRequestsPerMinute <= 0 {
			cfg.MaxRequestsPerMinute = 100
		}
		if cfg.CooldownOnError <= 0 {
			cfg.CooldownOnError = 60 * time.Second
		}
		states[i] = &providerState{cfg: cfg}
	}
	sort.SliceStable(states, func(i, j int) bool {
		return states[i].cfg.Priority < states[j].cfg.Priority
	})
	return &ProviderManager{providers: states, chainName: chainName}, nil
}

// GetCurrentProvider returns the URL of the provider that should handle the next request (P1:
// the cursor always references a valid position; the pool is non-empty by construction).
//
// Before selection it rolls each provider's minute window and releases expired cooldowns. It
// then loops at most len(providers) positions: if the current slot should rotate (its request
// count reached its weight, and the pool has more than one member), it resets that slot's count
// and advances the cursor. If the current provider is available, its URL is returned. Otherwise
// the cursor advances and the loop continues. If a full pass finds nothing, it fails with
// ErrAllProvidersUnavailable.
func (m *ProviderManager) GetCurrentProvider() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for _, p := range m.providers {
		p.rollMinuteWindow(now)
		p.releaseCooldownIfElapsed(now)
	}

	n := len(m.providers)
	for attempts := 0; attempts < n; attempts++ {
		cur := m.providers[m.currentIndex]
		if cur.shouldRotate() && n > 1 {
			cur.requestCount = 0
			m.currentIndex = (m.currentIndex + 1) % n
			cur = m.providers[m.currentIndex]
		}
		if cur.isAvailable(now) {
			return cur.cfg.URL, nil
		}
		m.currentIndex = (m.currentIndex + 1) % n
	}
	return "", ErrAllProvidersUnavailable
}

// MarkSuccess records a successful call against the currently selected provider (P3: exactly
// one mark_success/mark_error per GetCurrentProvider-returned attempt).
func (m *ProviderManager) MarkSuccess() {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur := m.providers[m.currentIndex]
	cur.requestCount++
	cur.requestsThisMinute++
	cur.consecutiveErrors = 0
}

// MarkError records a failed call against the currently selected provider: puts it into
// cooldown, stamps the error time, increments its consecutive-error count, resets its request
// count, and advances the cursor to the next available successor (wrap-around, at most n-1
// further attempts) so the subsequent GetCurrentProvider call does not immediately retry the
// provider that just failed.
func (m *ProviderManager) MarkError() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	cur := m.providers[m.currentIndex]
	cur.inCooldown = true
	cur.lastErrorAt = now
	cur.consecutiveErrors++
	cur.requestCount = 0

	n := len(m.providers)
	for attempts := 0; attempts < n-1; attempts++ {
		m.currentIndex = (m.currentIndex + 1) % n
		candidate := m.providers[m.currentIndex]
		candidate.rollMinuteWindow(now)
		candidate.releaseCooldownIfElapsed(now)
		if candidate.isAvailable(now) {
			break
		}
	}
}

// ProviderURLState is one provider's availability/cooldown snapshot, for the per-provider
// provider_available/provider_cooldown metrics.
type ProviderURLState struct {
	URL       string
	Available bool
	Cooldown  bool
}

// PerProviderStats reports a point-in-time snapshot of every provider in the pool, rolling minute
// windows and cooldowns first so the snapshot reflects current reality.
func (m *ProviderManager) PerProviderStats() []ProviderURLState {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	out := make([]ProviderURLState, 0, len(m.providers))
	for _, p := range m.providers {
		p.rollMinuteWindow(now)
		p.releaseCooldownIfElapsed(now)
		out = append(out, ProviderURLState{
			URL:       p.cfg.URL,
			Available: p.isAvailable(now),
			Cooldown:  p.inCooldown,
		})
	}
	return out
}

// Stats reports pool health snapshot.
func (m *ProviderManager) Stats() ProviderStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	stats := ProviderStats{
		TotalProviders: len(m.providers),
		CurrentIndex:   m.currentIndex,
		CurrentURL:     m.providers[m.currentIndex].cfg.URL,
	}
	for _, p := range m.providers {
		p.rollMinuteWindow(now)
		p.releaseCooldownIfElapsed(now)
		if p.inCooldown {
			stats.CooldownProviders++
		}
		if p.isAvailable(now) {
			stats.AvailableProviders++
		}
	}
	return stats
}
