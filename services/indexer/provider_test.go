package indexer

import (
	"testing"
	"time"
)

func twoProviders(weight, maxRPM int, cooldown time.Duration) []RPCProviderConfig {
	return []RPCProviderConfig{
		{URL: "p1", Weight: weight, Priority: 1, MaxRequestsPerMinute: maxRPM, CooldownOnError: cooldown},
		{URL: "p2", Weight: weight, Priority: 2, MaxRequestsPerMinute: maxRPM, CooldownOnError: cooldown},
	}
}

func TestProviderManager_RotationAfterWeight(t *testing.T) {
	pm, err := NewProviderManager("test", twoProviders(2, 100, time.Minute))
	if err != nil {
		t.Fatal(err)
	}

	url, err := pm.GetCurrentProvider()
	if err != nil {
		t.Fatal(err)
	}
	if url != "p1" {
		t.Fatalf("expected p1 first, got %s", url)
	}

	pm.MarkSuccess()
	pm.MarkSuccess()

	url, err = pm.GetCurrentProvider()
	if err != nil {
		t.Fatal(err)
	}
	if url != "p2" {
		t.Fatalf("expected rotation to p2 after weight exhausted, got %s", url)
	}
}

func TestProviderManager_Failover(t *testing.T) {
	pm, err := NewProviderManager("test", twoProviders(30, 100, time.Minute))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := pm.GetCurrentProvider(); err != nil {
		t.Fatal(err)
	}
	pm.MarkError()

	url, err := pm.GetCurrentProvider()
	if err != nil {
		t.Fatal(err)
	}
	if url != "p2" {
		t.Fatalf("expected failover to p2 after p1 error, got %s", url)
	}
}

func TestProviderManager_RateLimiting(t *testing.T) {
	pm, err := NewProviderManager("test", []RPCProviderConfig{
		{URL: "only", Weight: 1000, Priority: 1, MaxRequestsPerMinute: 3, CooldownOnError: time.Minute},
	})
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		if _, err := pm.GetCurrentProvider(); err != nil {
			t.Fatalf("attempt %d: unexpected error %v", i, err)
		}
		pm.MarkSuccess()
	}

	if _, err := pm.GetCurrentProvider(); err != ErrAllProvidersUnavailable {
		t.Fatalf("expected ErrAllProvidersUnavailable after exhausting per-minute quota, got %v", err)
	}
}

func TestProviderManager_CooldownRecovery(t *testing.T) {
	pm, err := NewProviderManager("test", twoProviders(30, 100, 100*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := pm.GetCurrentProvider(); err != nil {
		t.Fatal(err)
	}
	pm.MarkError()

	time.Sleep(150 * time.Millisecond)

	stats := pm.Stats()
	if stats.AvailableProviders != 2 {
		t.Fatalf("expected both providers available after cooldown elapses, got %d", stats.AvailableProviders)
	}
}

func TestProviderManager_RequiresAtLeastOneProvider(t *testing.T) {
	if _, err := NewProviderManager("test", nil); err == nil {
		t.Fatal("expected error constructing provider manager with no providers")
	}
}

func TestProviderManager_MarkSuccessIncrementsCounters(t *testing.T) {
	pm, err := NewProviderManager("test", twoProviders(30, 100, time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	pm.MarkSuccess()
	if p := pm.providers[0]; p.requestCount != 1 || p.requestsThisMinute != 1 {
		t.Fatalf("after MarkSuccess: requestCount=%d requestsThisMinute=%d, want 1 and 1", p.requestCount, p.requestsThisMinute)
	}
	stats := pm.Stats()
	if stats.CurrentURL != "p1" {
		t.Fatalf("expected current provider p1, got %s", stats.CurrentURL)
	}
}
