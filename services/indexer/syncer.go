package indexer

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/R3E-Network/agent-registry-indexer/infrastructure/metrics"
)

// IndexerConfig is the static configuration for one chain's sync loop (spec §4.E).
type IndexerConfig struct {
	ChainID            uint64
	ChainName          string
	IdentityRegistry   string
	ReputationRegistry string
	ValidationRegistry string
	StartingBlock      uint64 // 0 means "latest head", resolved at boot
	PollInterval       time.Duration
	BatchSize          int
	AdaptivePolling    bool
}

// EventStore is the subset of Storage the syncer depends on.
type EventStore interface {
	StoreEvent(ctx context.Context, e Event) error
	UpdateLastSyncedBlockForChain(ctx context.Context, chainID uint64, block uint64) error
	GetLastSyncedBlockForChain(ctx context.Context, chainID uint64) (uint64, error)
}

// Syncer is the per-chain indexer loop (component E). It implements ChainRunner, so a Supervisor
// can own its lifecycle and restart it under a RestartPolicy.
type Syncer struct {
	cfg       IndexerConfig
	rpc       *RPCClient
	providers *ProviderManager
	decoder   *Decoder
	storage   EventStore
	bus       *Bus
	stats     *StatsTracker
	log       *logrus.Entry
	metrics   *metrics.Metrics

	currentBlock uint64
}

// SetMetrics attaches a metrics collector; nil-safe, so Syncer works unmodified in tests that
// never call it.
func (s *Syncer) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

func (s *Syncer) recordRPC(method string, err error) {
	if s.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	s.metrics.RecordRPCRequest(s.cfg.ChainID, method, status)
}

func (s *Syncer) recordProviderStats() {
	if s.metrics == nil {
		return
	}
	for _, p := range s.providers.PerProviderStats() {
		s.metrics.SetProviderState(s.cfg.ChainID, p.URL, p.Available, p.Cooldown)
	}
}

// NewSyncer constructs a syncer for one chain. providers must hold at least one RPC endpoint.
func NewSyncer(cfg IndexerConfig, providers *ProviderManager, storage EventStore, bus *Bus, stats *StatsTracker, log *logrus.Entry) (*Syncer, error) {
	url, err := providers.GetCurrentProvider()
	if err != nil {
		return nil, fmt.Errorf("syncer %d: %w", cfg.ChainID, err)
	}
	return &Syncer{
		cfg:       cfg,
		rpc:       NewRPCClient(url),
		providers: providers,
		decoder:   NewDecoder(cfg.IdentityRegistry, cfg.ReputationRegistry, cfg.ValidationRegistry),
		storage:   storage,
		bus:       bus,
		stats:     stats,
		log:       log.WithField("chain_id", cfg.ChainID),
	}, nil
}

// Run executes the boot sequence then the main loop until ctx is canceled (spec §4.E).
func (s *Syncer) Run(ctx context.Context) error {
	if err := s.boot(ctx); err != nil {
		return fmt.Errorf("boot: %w", err)
	}

	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := s.iterate(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// boot resumes from last_synced_block-1 if the chain has synced before (one-block replay,
// idempotent per I1), otherwise starts at config.starting_block, resolving 0 to the live head.
//
// currentBlock always holds the last block considered synced; every iterate call fetches from
// currentBlock+1 onward (see syncRange), so the boot cursor must be set one below the first
// block that should actually be (re-)synced.
func (s *Syncer) boot(ctx context.Context) error {
	last, err := s.storage.GetLastSyncedBlockForChain(ctx, s.cfg.ChainID)
	if err != nil {
		return fmt.Errorf("read last synced block: %w", err)
	}

	if last > 1 {
		s.currentBlock = last - 2
		return nil
	}

	if s.cfg.StartingBlock != 0 {
		s.currentBlock = s.cfg.StartingBlock - 1
		return nil
	}

	head, err := s.headBlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("resolve latest head: %w", err)
	}
	s.currentBlock = head
	return nil
}

func (s *Syncer) headBlockNumber(ctx context.Context) (uint64, error) {
	callCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	n, err := s.rpc.BlockNumber(callCtx)
	s.recordRPC("eth_blockNumber", err)
	return n, err
}

// iterate runs one pass of the main loop (spec §4.E steps 1-6). A nil error with no action taken
// means the caller should loop again immediately (e.g. after a poll-interval sleep).
func (s *Syncer) iterate(ctx context.Context) error {
	s.refreshProviderIfRotated()
	s.stats.RecordPoll(s.cfg.ChainID)

	head, err := s.headBlockNumber(ctx)
	if err != nil {
		s.providers.MarkError()
		s.recordProviderStats()
		s.log.WithError(err).Warn("failed to fetch head block number")
		sleepOrDone(ctx, 5*time.Second)
		return nil
	}
	s.providers.MarkSuccess()
	s.recordProviderStats()
	s.stats.UpdateCurrentBlock(s.cfg.ChainID, head)

	var blocksBehind uint64
	if head > s.currentBlock {
		blocksBehind = head - s.currentBlock
	}

	interval := s.adaptiveInterval(blocksBehind)

	switch {
	case blocksBehind == 0:
		sleepOrDone(ctx, interval)
		return nil

	case blocksBehind <= 10:
		if err := s.syncRange(ctx, s.currentBlock+1, s.currentBlock+1, 0); err != nil {
			s.log.WithError(err).Warn("single block sync failed")
			sleepOrDone(ctx, 5*time.Second)
			return nil
		}
		s.currentBlock++

	case blocksBehind <= 100:
		to := s.currentBlock + uint64(s.cfg.BatchSize)
		if to > head {
			to = head
		}
		if err := s.syncRange(ctx, s.currentBlock+1, to, 50*time.Millisecond); err != nil {
			s.log.WithError(err).Warn("batch sync failed")
			sleepOrDone(ctx, 5*time.Second)
			return nil
		}
		s.currentBlock = to

	default:
		to := s.currentBlock + 100
		if to > head {
			to = head
		}
		if err := s.syncRange(ctx, s.currentBlock+1, to, 0); err != nil {
			s.log.WithError(err).Warn("catch-up sync failed")
			sleepOrDone(ctx, 5*time.Second)
			return nil
		}
		s.currentBlock = to
	}

	if err := s.storage.UpdateLastSyncedBlockForChain(ctx, s.cfg.ChainID, s.currentBlock); err != nil {
		s.log.WithError(err).Error("failed to persist last synced block")
	}

	sleepOrDone(ctx, interval)
	return nil
}

// adaptiveInterval implements the table in spec §4.E.
func (s *Syncer) adaptiveInterval(blocksBehind uint64) time.Duration {
	if !s.cfg.AdaptivePolling {
		return s.cfg.PollInterval
	}
	switch {
	case blocksBehind == 0:
		return s.cfg.PollInterval
	case blocksBehind <= 10:
		return s.cfg.PollInterval / 2
	case blocksBehind <= 100:
		return s.cfg.PollInterval / 5
	default:
		return 100 * time.Millisecond
	}
}

// syncRange syncs blocks [from, to] serially, sleeping pacing between each if pacing > 0.
func (s *Syncer) syncRange(ctx context.Context, from, to uint64, pacing time.Duration) error {
	for n := from; n <= to; n++ {
		if err := s.syncBlock(ctx, n); err != nil {
			return fmt.Errorf("sync block %d: %w", n, err)
		}
		if pacing > 0 && n < to {
			sleepOrDone(ctx, pacing)
		}
	}
	return nil
}

// syncBlock is the atomic sync unit (spec §4.E "sync_block(n) procedure").
func (s *Syncer) syncBlock(ctx context.Context, n uint64) error {
	headerCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	header, err := s.rpc.GetBlockByNumber(headerCtx, n)
	cancel()
	s.recordRPC("eth_getBlockByNumber", err)
	if err != nil {
		return fmt.Errorf("fetch block header: %w", err)
	}

	logsCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	logs, err := s.rpc.GetLogs(logsCtx, LogFilter{
		FromBlock: n,
		ToBlock:   n,
		Addresses: []string{s.cfg.IdentityRegistry, s.cfg.ReputationRegistry, s.cfg.ValidationRegistry},
	})
	cancel()
	s.recordRPC("eth_getLogs", err)
	if err != nil {
		return fmt.Errorf("fetch logs: %w", err)
	}

	for _, l := range logs {
		e, err := s.decoder.Decode(s.cfg.ChainID, header.Timestamp, l)
		if err != nil {
			s.log.WithError(err).WithField("block", n).Debug("skipping undecodable log")
			continue
		}
		if err := s.storage.StoreEvent(ctx, e); err != nil {
			return fmt.Errorf("store event: %w", err)
		}
		s.bus.Publish(e)
	}
	return nil
}

// refreshProviderIfRotated swaps the RPC transport when the provider manager has moved to a
// different endpoint since the last call (spec §4.E step 1).
func (s *Syncer) refreshProviderIfRotated() {
	url, err := s.providers.GetCurrentProvider()
	if err != nil {
		return
	}
	if url != s.rpc.url {
		s.rpc = NewRPCClient(url)
	}
}
