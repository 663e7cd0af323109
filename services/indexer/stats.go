package indexer

import (
	"sync"
	"time"
)

const pollWindow = 60 * time.Second

// chainStats is one chain's rolling window of poll timestamps plus its last observed head block.
// Each chain's entry is written only by its own indexer task (spec §5), but reads may come from
// the read API's /stats handler concurrently, so access is still guarded by the tracker's map
// mutex.
type chainStats struct {
	polls        []time.Time
	currentBlock uint64
}

// StatsTracker maintains, per chain, a bounded sliding window of poll-event timestamps (last 60s)
// and the latest observed head block (spec §4.D).
type StatsTracker struct {
	mu    sync.Mutex
	byChn map[uint64]*chainStats
}

// NewStatsTracker builds an empty tracker.
func NewStatsTracker() *StatsTracker {
	return &StatsTracker{byChn: make(map[uint64]*chainStats)}
}

func (s *StatsTracker) entry(chainID uint64) *chainStats {
	e, ok := s.byChn[chainID]
	if !ok {
		e = &chainStats{}
		s.byChn[chainID] = e
	}
	return e
}

// RecordPoll appends now to chainID's window and trims entries older than 60s.
func (s *StatsTracker) RecordPoll(chainID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	e := s.entry(chainID)
	e.polls = append(e.polls, now)
	e.polls = trimOlderThan(e.polls, now, pollWindow)
}

func trimOlderThan(ts []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	i := 0
	for i < len(ts) && ts[i].Before(cutoff) {
		i++
	}
	if i == 0 {
		return ts
	}
	return append([]time.Time(nil), ts[i:]...)
}

// GetPollingRate returns the number of polls recorded for chainID in the last 60s.
func (s *StatsTracker) GetPollingRate(chainID uint64) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.byChn[chainID]
	if !ok {
		return 0
	}
	e.polls = trimOlderThan(e.polls, time.Now(), pollWindow)
	return len(e.polls)
}

// UpdateCurrentBlock records the latest observed head block for chainID.
func (s *StatsTracker) UpdateCurrentBlock(chainID, block uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entry(chainID).currentBlock = block
}

// GetCurrentBlock returns the latest observed head block for chainID, or 0 if unknown.
func (s *StatsTracker) GetCurrentBlock(chainID uint64) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.byChn[chainID]
	if !ok {
		return 0
	}
	return e.currentBlock
}
