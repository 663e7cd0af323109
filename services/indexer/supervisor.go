package indexer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// RestartPolicyKind selects how the supervisor reacts to a failed indexer run.
type RestartPolicyKind string

const (
	RestartAlways      RestartPolicyKind = "always"
	RestartOnFailure   RestartPolicyKind = "on_failure"
	RestartExponential RestartPolicyKind = "exponential"
)

// RestartPolicy configures supervisor restart behavior (spec §4.F).
type RestartPolicy struct {
	Kind       RestartPolicyKind
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// calculateBackoff returns min(base * 2^retry, max), matching
// original_source/src/indexer/supervisor.rs's calculate_backoff exactly, including its test
// values: (1, 1s, 60s) -> 2s, (2, ...) -> 4s, (3, ...) -> 8s, (10, ...) -> 60s (capped).
func calculateBackoff(retry int, base, max time.Duration) time.Duration {
	if retry < 0 {
		retry = 0
	}
	// Guard against overflow for large retry counts by capping the shift once it would already
	// exceed max.
	d := base
	for i := 0; i < retry; i++ {
		if d >= max {
			return max
		}
		d *= 2
	}
	if d > max {
		return max
	}
	return d
}

// ChainRunner constructs and runs one chain's indexer loop; it blocks until ctx is canceled or
// an unrecoverable error occurs. Implemented by *Syncer in production and fakeable in tests.
type ChainRunner interface {
	Run(ctx context.Context) error
}

// ChainRunnerFactory constructs a ChainRunner, returning an error if construction itself fails
// (e.g. invalid contract addresses, empty provider list — spec §7 "Configuration" errors, which
// are fatal at startup for that chain).
type ChainRunnerFactory func() (ChainRunner, error)

// Supervisor runs one chain's indexer under crash isolation: it recovers panics, restarts per
// RestartPolicy, and reports status transitions to storage so the read API can see a
// permanently-failed chain without the process exiting (spec §4.F).
type Supervisor struct {
	chainID  uint64
	chainName string
	policy   RestartPolicy
	newRunner ChainRunnerFactory
	storage  ChainStatusReporter
	log      *logrus.Entry

	mu         sync.Mutex
	retryCount int
}

// ChainStatusReporter is the subset of the storage layer the supervisor needs to report
// chain_sync_state.status transitions.
type ChainStatusReporter interface {
	UpdateChainStatus(ctx context.Context, chainID uint64, status ChainStatus, errMsg *string) error
}

// NewSupervisor builds a supervisor for one chain.
func NewSupervisor(chainID uint64, chainName string, policy RestartPolicy, newRunner ChainRunnerFactory, storage ChainStatusReporter, log *logrus.Entry) *Supervisor {
	return &Supervisor{
		chainID:   chainID,
		chainName: chainName,
		policy:    policy,
		newRunner: newRunner,
		storage:   storage,
		log:       log.WithField("chain_id", chainID),
	}
}

// Run executes the supervisor loop until ctx is canceled, the chain is marked failed (Exponential
// policy exhausted), or the indexer exits cleanly.
func (s *Supervisor) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		s.setStatus(ctx, ChainStatusSyncing, nil)

		runner, err := s.newRunner()
		if err != nil {
			msg := err.Error()
			s.log.WithError(err).Error("constructing indexer failed")
			s.setStatus(ctx, ChainStatusFailed, &msg)
			return
		}

		runErr := s.runIsolated(ctx, runner)

		if runErr == nil {
			s.setStatus(ctx, ChainStatusActive, nil)
			return
		}

		if ctx.Err() != nil {
			return
		}

		if s.handleFailure(ctx, runErr) {
			return
		}
	}
}

// runIsolated runs the indexer in a goroutine so a panic can be recovered and reported as an
// error instead of taking down the process (spec §4.F step 3/6).
func (s *Supervisor) runIsolated(ctx context.Context, runner ChainRunner) (result error) {
	done := make(chan struct{})
	go func() {
		defer func() {
			if r := recover(); r != nil {
				result = fmt.Errorf("panic: %v", r)
			}
			close(done)
		}()
		result = runner.Run(ctx)
	}()
	<-done
	return result
}

// handleFailure applies the restart policy to a failed run. Returns true if the supervisor
// should stop (chain permanently failed or context canceled).
func (s *Supervisor) handleFailure(ctx context.Context, runErr error) bool {
	msg := runErr.Error()
	s.log.WithError(runErr).Warn("indexer run ended with error")

	switch s.policy.Kind {
	case RestartAlways, RestartOnFailure:
		s.setStatus(ctx, ChainStatusStalled, &msg)
		sleepOrDone(ctx, time.Second)
		return ctx.Err() != nil

	case RestartExponential:
		s.mu.Lock()
		if s.retryCount >= s.policy.MaxRetries {
			s.mu.Unlock()
			s.setStatus(ctx, ChainStatusFailed, &msg)
			return true
		}
		s.retryCount++
		retry := s.retryCount
		s.mu.Unlock()

		s.setStatus(ctx, ChainStatusStalled, &msg)
		delay := calculateBackoff(retry, s.policy.BaseDelay, s.policy.MaxDelay)
		sleepOrDone(ctx, delay)

		return ctx.Err() != nil

	default:
		s.setStatus(ctx, ChainStatusStalled, &msg)
		sleepOrDone(ctx, time.Second)
		return ctx.Err() != nil
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (s *Supervisor) setStatus(ctx context.Context, status ChainStatus, errMsg *string) {
	if s.storage == nil {
		return
	}
	if err := s.storage.UpdateChainStatus(ctx, s.chainID, status, errMsg); err != nil {
		s.log.WithError(err).Error("failed to report chain status")
	}
}
