package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNew(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry(reg)

	if m == nil {
		t.Fatal("Expected metrics instance, got nil")
	}
	if m.EventsIndexedTotal == nil {
		t.Error("EventsIndexedTotal should not be nil")
	}
	if m.LastSyncedBlock == nil {
		t.Error("LastSyncedBlock should not be nil")
	}
	if m.RPCRequestsTotal == nil {
		t.Error("RPCRequestsTotal should not be nil")
	}
}

func TestRecordEventIndexed(t *testing.T) {
	m := NewWithRegistry(prometheus.NewRegistry())

	m.RecordEventIndexed(1, "Registered", "0xIdentity")
	m.RecordEventIndexed(1, "Registered", "0xIdentity")
	m.RecordEventIndexed(8453, "NewFeedback", "0xReputation")

	got := testutil.ToFloat64(m.EventsIndexedTotal.WithLabelValues("1", "Registered", "0xIdentity"))
	if got != 2 {
		t.Fatalf("EventsIndexedTotal = %v, want 2", got)
	}
}

func TestSetLastSyncedBlock(t *testing.T) {
	m := NewWithRegistry(prometheus.NewRegistry())

	m.SetLastSyncedBlock(1, 1000)
	m.SetLastSyncedBlock(1, 1001)

	got := testutil.ToFloat64(m.LastSyncedBlock.WithLabelValues("1"))
	if got != 1001 {
		t.Fatalf("LastSyncedBlock = %v, want 1001", got)
	}
}

func TestRecordRPCRequest(t *testing.T) {
	m := NewWithRegistry(prometheus.NewRegistry())

	m.RecordRPCRequest(1, "eth_getLogs", "success")
	m.RecordRPCRequest(1, "eth_getLogs", "error")

	if got := testutil.ToFloat64(m.RPCRequestsTotal.WithLabelValues("1", "eth_getLogs", "success")); got != 1 {
		t.Fatalf("success count = %v, want 1", got)
	}
}

func TestSetProviderState(t *testing.T) {
	m := NewWithRegistry(prometheus.NewRegistry())

	m.SetProviderState(1, "https://rpc.example.com", true, false)
	if got := testutil.ToFloat64(m.ProviderAvailable.WithLabelValues("1", "https://rpc.example.com")); got != 1 {
		t.Fatalf("available = %v, want 1", got)
	}

	m.SetProviderState(1, "https://rpc.example.com", false, true)
	if got := testutil.ToFloat64(m.ProviderCooldown.WithLabelValues("1", "https://rpc.example.com")); got != 1 {
		t.Fatalf("cooldown = %v, want 1", got)
	}
}

func TestSetBroadcastSubscribers(t *testing.T) {
	m := NewWithRegistry(prometheus.NewRegistry())

	m.SetBroadcastSubscribers(1, 3)
	if got := testutil.ToFloat64(m.BroadcastSubs.WithLabelValues("1")); got != 3 {
		t.Fatalf("subscribers = %v, want 3", got)
	}
}

func TestSetCacheStats(t *testing.T) {
	m := NewWithRegistry(prometheus.NewRegistry())

	m.SetCacheStats(42, 1000)

	if v := testutil.ToFloat64(m.CacheSize); v != 42 {
		t.Fatalf("CacheSize = %v, want 42", v)
	}
	if v := testutil.ToFloat64(m.CacheMaxSize); v != 1000 {
		t.Fatalf("CacheMaxSize = %v, want 1000", v)
	}
}

func TestRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry(reg)
	if m.Registry() != reg {
		t.Fatal("Registry() should return the registry passed to NewWithRegistry")
	}
}
