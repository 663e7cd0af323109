package indexer

import (
	"testing"
	"time"
)

func TestStatsTracker_RecordAndRate(t *testing.T) {
	s := NewStatsTracker()

	for i := 0; i < 3; i++ {
		s.RecordPoll(1)
	}
	s.RecordPoll(2)

	if got := s.GetPollingRate(1); got != 3 {
		t.Fatalf("GetPollingRate(1) = %d, want 3", got)
	}
	if got := s.GetPollingRate(2); got != 1 {
		t.Fatalf("GetPollingRate(2) = %d, want 1", got)
	}
	if got := s.GetPollingRate(999); got != 0 {
		t.Fatalf("GetPollingRate(unknown) = %d, want 0", got)
	}
}

func TestStatsTracker_CurrentBlock(t *testing.T) {
	s := NewStatsTracker()

	if got := s.GetCurrentBlock(1); got != 0 {
		t.Fatalf("GetCurrentBlock(unset) = %d, want 0", got)
	}

	s.UpdateCurrentBlock(1, 12345)
	if got := s.GetCurrentBlock(1); got != 12345 {
		t.Fatalf("GetCurrentBlock(1) = %d, want 12345", got)
	}
}

func TestTrimOlderThanKeepsRecentOnly(t *testing.T) {
	s := NewStatsTracker()
	s.RecordPoll(1)
	if got := s.GetPollingRate(1); got != 1 {
		t.Fatalf("GetPollingRate(1) = %d, want 1", got)
	}

	now := time.Now()
	recent := now.Add(-10 * time.Second)
	kept := trimOlderThan([]time.Time{now.Add(-2 * time.Minute), recent}, now, pollWindow)
	if len(kept) != 1 || !kept[0].Equal(recent) {
		t.Fatalf("trimOlderThan kept %v, want only the entry inside the window", kept)
	}
}
