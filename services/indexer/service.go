package indexer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/R3E-Network/agent-registry-indexer/infrastructure/metrics"
)

// Service orchestrates one Supervisor per enabled chain against a shared Storage, Bus, and
// StatsTracker, plus a cron schedule for cross-chain maintenance (cache-stats logging and a
// stale-chain sweep).
type Service struct {
	storage *Storage
	bus     *Bus
	stats   *StatsTracker
	log     *logrus.Entry
	cron    *cron.Cron
	metrics *metrics.Metrics

	mu          sync.Mutex
	running     bool
	supervisors []*Supervisor
	cancel      context.CancelFunc
}

// NewService constructs the shared components and one supervisor per enabled chain. A chain
// whose provider pool fails to construct (spec §7 "Configuration" errors) does not prevent the
// other chains from starting; its construction failure is logged and that chain is left out of
// the returned Service's supervisor list, with no status written for it to chain_sync_state.
// NewService fails only when every enabled chain is left out this way.
func NewService(cfg *ChainsConfig, dsn string, cacheMax int, log *logrus.Entry) (*Service, error) {
	storage, err := NewStorage(dsn, 25, 5, 5*time.Minute, cacheMax)
	if err != nil {
		return nil, fmt.Errorf("create storage: %w", err)
	}

	mtr := metrics.Global()
	storage.SetMetrics(mtr)

	svc := &Service{
		storage: storage,
		bus:     NewBus(),
		stats:   NewStatsTracker(),
		log:     log.WithField("component", "indexer-service"),
		cron:    cron.New(),
		metrics: mtr,
	}
	svc.bus.SetMetrics(mtr)

	policy := cfg.Global.ToRestartPolicy()
	var enabledChains int
	for _, chain := range cfg.Chains {
		if !chain.Enabled {
			continue
		}
		enabledChains++
		chain := chain
		providers, err := NewProviderManager(chain.Name, chain.ToProviderConfigs())
		if err != nil {
			svc.log.WithError(err).WithField("chain", chain.Name).Error("skipping chain: failed to construct provider pool")
			continue
		}

		factory := func() (ChainRunner, error) {
			syncer, err := NewSyncer(chain.ToIndexerConfig(), providers, storage, svc.bus, svc.stats, svc.log)
			if err != nil {
				return nil, err
			}
			syncer.SetMetrics(svc.metrics)
			return syncer, nil
		}
		sup := NewSupervisor(chain.ChainID, chain.Name, policy, factory, storage, svc.log)
		svc.supervisors = append(svc.supervisors, sup)
	}

	if len(svc.supervisors) == 0 && enabledChains > 0 {
		storage.Close()
		return nil, fmt.Errorf("no chain could be started: every enabled chain failed to construct its provider pool")
	}

	return svc, nil
}

// Start launches every chain's supervisor as well as the maintenance cron schedule. It returns
// once all are launched; supervisors run until ctx passed to them is canceled.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("service already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	for _, sup := range s.supervisors {
		sup := sup
		go sup.Run(runCtx)
	}

	if _, err := s.cron.AddFunc("@every 1m", s.logCacheStats); err != nil {
		cancel()
		return fmt.Errorf("schedule cache-stats maintenance: %w", err)
	}
	if _, err := s.cron.AddFunc("@every 5m", s.sweepStaleChains); err != nil {
		cancel()
		return fmt.Errorf("schedule stale-chain sweep: %w", err)
	}
	s.cron.Start()

	s.log.WithField("chains", len(s.supervisors)).Info("indexer service started")
	s.running = true
	return nil
}

// Stop cancels every supervisor's context and stops the maintenance cron.
func (s *Service) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	s.cron.Stop()
	if s.cancel != nil {
		s.cancel()
	}
	err := s.storage.Close()
	s.running = false
	return err
}

// logCacheStats is the cron-scheduled maintenance task: logs the event cache's occupancy so
// operators can see cache pressure without a dedicated metrics scrape.
func (s *Service) logCacheStats() {
	size, max := s.storage.CacheStats()
	if s.metrics != nil {
		s.metrics.SetCacheStats(size, max)
	}
	s.log.WithFields(logrus.Fields{"cache_size": size, "cache_max": max}).Debug("event cache stats")
}

// staleAfter is how long a chain may go without a sync before the sweep flags it; it does not
// mutate chain_sync_state, since status ownership belongs to that chain's own supervisor.
const staleAfter = 10 * time.Minute

// sweepStaleChains is the cron-scheduled maintenance task that logs any enabled chain whose last
// sync is older than staleAfter, so an operator notices a wedged supervisor even if its chain was
// never marked failed (e.g. stuck retrying transient errors under an Always/OnFailure policy).
func (s *Service) sweepStaleChains() {
	chains, err := s.storage.GetEnabledChains(context.Background())
	if err != nil {
		s.log.WithError(err).Warn("stale-chain sweep: failed to list enabled chains")
		return
	}
	now := time.Now().UTC()
	for _, c := range chains {
		if c.LastSyncTime == nil {
			continue
		}
		if now.Sub(*c.LastSyncTime) > staleAfter {
			s.log.WithFields(logrus.Fields{
				"chain_id":       c.ChainID,
				"name":           c.Name,
				"last_sync_time": c.LastSyncTime,
			}).Warn("chain has not synced recently")
		}
	}
}

// Storage returns the shared storage instance, for the read API.
func (s *Service) Storage() *Storage {
	return s.storage
}

// Bus returns the shared broadcast bus, for the read API's streaming endpoint.
func (s *Service) Bus() *Bus {
	return s.bus
}

// Stats returns the shared stats tracker, for the read API.
func (s *Service) Stats() *StatsTracker {
	return s.stats
}
