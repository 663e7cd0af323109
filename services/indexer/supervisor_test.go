package indexer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func TestCalculateBackoff(t *testing.T) {
	base := time.Second
	max := 60 * time.Second

	tests := []struct {
		retry int
		want  time.Duration
	}{
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{10, 60 * time.Second}, // capped
	}
	for _, tt := range tests {
		if got := calculateBackoff(tt.retry, base, max); got != tt.want {
			t.Errorf("calculateBackoff(%d, 1s, 60s) = %v, want %v", tt.retry, got, tt.want)
		}
	}
}

func TestCalculateBackoff_Sequence(t *testing.T) {
	base := time.Second
	max := 60 * time.Second
	want := []time.Duration{
		2 * time.Second, 4 * time.Second, 8 * time.Second,
		16 * time.Second, 32 * time.Second, 60 * time.Second, 60 * time.Second,
	}
	for i, w := range want {
		if got := calculateBackoff(i+1, base, max); got != w {
			t.Errorf("retry %d: got %v, want %v", i+1, got, w)
		}
	}
}

type fakeRunner struct {
	runFn func(ctx context.Context) error
}

func (f *fakeRunner) Run(ctx context.Context) error { return f.runFn(ctx) }

type fakeStatusReporter struct {
	mu       sync.Mutex
	statuses []ChainStatus
}

func (f *fakeStatusReporter) UpdateChainStatus(ctx context.Context, chainID uint64, status ChainStatus, errMsg *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, status)
	return nil
}

func (f *fakeStatusReporter) last() ChainStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.statuses) == 0 {
		return ""
	}
	return f.statuses[len(f.statuses)-1]
}

func TestSupervisor_CleanExitMarksActive(t *testing.T) {
	reporter := &fakeStatusReporter{}
	sup := NewSupervisor(1, "test", RestartPolicy{Kind: RestartAlways}, func() (ChainRunner, error) {
		return &fakeRunner{runFn: func(ctx context.Context) error { return nil }}, nil
	}, reporter, logrus.NewEntry(logrus.New()))

	sup.Run(context.Background())

	if got := reporter.last(); got != ChainStatusActive {
		t.Fatalf("expected final status active, got %s", got)
	}
}

func TestSupervisor_ConstructionFailureMarksFailed(t *testing.T) {
	reporter := &fakeStatusReporter{}
	sup := NewSupervisor(1, "test", RestartPolicy{Kind: RestartAlways}, func() (ChainRunner, error) {
		return nil, errors.New("bad config")
	}, reporter, logrus.NewEntry(logrus.New()))

	sup.Run(context.Background())

	if got := reporter.last(); got != ChainStatusFailed {
		t.Fatalf("expected status failed on construction error, got %s", got)
	}
}

func TestSupervisor_ExponentialExhaustsToFailed(t *testing.T) {
	reporter := &fakeStatusReporter{}
	policy := RestartPolicy{Kind: RestartExponential, MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}

	attempts := 0
	sup := NewSupervisor(1, "test", policy, func() (ChainRunner, error) {
		attempts++
		return &fakeRunner{runFn: func(ctx context.Context) error {
			return fmt.Errorf("boom %d", attempts)
		}}, nil
	}, reporter, logrus.NewEntry(logrus.New()))

	sup.Run(context.Background())

	if got := reporter.last(); got != ChainStatusFailed {
		t.Fatalf("expected status failed after exhausting retries, got %s", got)
	}
	// MaxRetries=2: attempts happen at retry 0 and retry 1, then retry==MaxRetries fails.
	if attempts != policy.MaxRetries+1 {
		t.Fatalf("expected %d attempts, got %d", policy.MaxRetries+1, attempts)
	}
}

func TestSupervisor_HandleFailureUsesPostIncrementRetryCountForBackoff(t *testing.T) {
	reporter := &fakeStatusReporter{}
	policy := RestartPolicy{Kind: RestartExponential, MaxRetries: 5, BaseDelay: time.Millisecond, MaxDelay: time.Second}
	sup := NewSupervisor(1, "test", policy, func() (ChainRunner, error) { return nil, nil }, reporter, logrus.NewEntry(logrus.New()))

	// The first call into handleFailure must back off by calculateBackoff(1, ...), i.e. base*2,
	// not calculateBackoff(0, ...) == base: retryCount is incremented before it is used to compute
	// the delay (scenario 6 / original_source/src/indexer/supervisor.rs:169-171).
	start := time.Now()
	sup.handleFailure(context.Background(), errors.New("boom"))
	elapsed := time.Since(start)

	if elapsed < 2*policy.BaseDelay {
		t.Fatalf("first retry backoff took %v, want at least %v (base*2)", elapsed, 2*policy.BaseDelay)
	}
	if sup.retryCount != 1 {
		t.Fatalf("retryCount = %d, want 1 after one failure", sup.retryCount)
	}
}

func TestSupervisor_PanicIsRecoveredAndRestarted(t *testing.T) {
	reporter := &fakeStatusReporter{}
	calls := 0
	sup := NewSupervisor(1, "test", RestartPolicy{Kind: RestartExponential, MaxRetries: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}, func() (ChainRunner, error) {
		calls++
		n := calls
		return &fakeRunner{runFn: func(ctx context.Context) error {
			if n == 1 {
				panic("simulated crash")
			}
			return nil
		}}, nil
	}, reporter, logrus.NewEntry(logrus.New()))

	sup.Run(context.Background())

	if calls < 2 {
		t.Fatalf("expected supervisor to restart after panic, got %d calls", calls)
	}
	if got := reporter.last(); got != ChainStatusActive {
		t.Fatalf("expected eventual clean exit to mark active, got %s", got)
	}
}

func TestSupervisor_ContextCancelStopsLoop(t *testing.T) {
	reporter := &fakeStatusReporter{}
	ctx, cancel := context.WithCancel(context.Background())
	sup := NewSupervisor(1, "test", RestartPolicy{Kind: RestartAlways}, func() (ChainRunner, error) {
		return &fakeRunner{runFn: func(ctx context.Context) error {
			cancel()
			return errors.New("transient")
		}}, nil
	}, reporter, logrus.NewEntry(logrus.New()))

	done := make(chan struct{})
	go func() {
		sup.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not stop after context cancellation")
	}
}
