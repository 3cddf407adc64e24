package peer

import (
	"net"
	"path/filepath"
	"testing"
	"time"
)

func addr(port int) net.Addr {
	return &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: port}
}

func TestAddOrTouchAndGet(t *testing.T) {
	m := NewManager("our-node", 7700)
	m.AddOrTouch("peer1", addr(8081))

	p, ok := m.Get("peer1")
	if !ok {
		t.Fatal("expected peer1 to be present")
	}
	if p.NodeID != "peer1" {
		t.Fatalf("NodeID = %q, want peer1", p.NodeID)
	}
	if p.State != Disconnected {
		t.Fatalf("new peer state = %v, want Disconnected", p.State)
	}
}

func TestLegalStateTransitions(t *testing.T) {
	m := NewManager("our-node", 7700)
	m.AddOrTouch("peer1", addr(8081))

	steps := []ConnectionState{Connecting, Handshaking, Connected}
	for _, s := range steps {
		if !m.SetState("peer1", s) {
			t.Fatalf("transition to %v rejected", s)
		}
	}
	p, _ := m.Get("peer1")
	if p.State != Connected {
		t.Fatalf("state = %v, want Connected", p.State)
	}
	if p.ConnectedAt.IsZero() {
		t.Fatal("ConnectedAt not set after transitioning to Connected")
	}
}

func TestIllegalStateTransitionRejected(t *testing.T) {
	m := NewManager("our-node", 7700)
	m.AddOrTouch("peer1", addr(8081))

	if m.SetState("peer1", Connected) {
		t.Fatal("Disconnected -> Connected should be rejected")
	}
	p, _ := m.Get("peer1")
	if p.State != Disconnected {
		t.Fatalf("state changed despite illegal transition: %v", p.State)
	}
}

func TestConnectedFiltersOnlyConnectedPeers(t *testing.T) {
	m := NewManager("our-node", 7700)
	m.AddOrTouch("peer1", addr(8081))
	m.AddOrTouch("peer2", addr(8082))

	m.SetState("peer1", Connecting)
	m.SetState("peer1", Handshaking)
	m.SetState("peer1", Connected)

	connected := m.Connected()
	if len(connected) != 1 || connected[0].NodeID != "peer1" {
		t.Fatalf("Connected() = %+v, want only peer1", connected)
	}
}

func TestRemoveStaleSparesActiveConnections(t *testing.T) {
	m := NewManager("our-node", 7700)
	m.AddOrTouch("peer1", addr(8081))
	m.SetState("peer1", Connecting)

	removed := m.RemoveStale(0)
	if removed != 0 {
		t.Fatalf("RemoveStale removed %d, want 0 (peer is Connecting)", removed)
	}
}

func TestMetricsLatencyEMA(t *testing.T) {
	metrics := &Metrics{}
	metrics.UpdateLatency(100 * time.Millisecond)
	latency, has := metrics.Latency()
	if !has || latency != 100*time.Millisecond {
		t.Fatalf("first sample should set EMA directly, got %v", latency)
	}

	metrics.UpdateLatency(200 * time.Millisecond)
	latency, _ = metrics.Latency()
	want := time.Duration(0.3*float64(200*time.Millisecond) + 0.7*float64(100*time.Millisecond))
	if latency != want {
		t.Fatalf("EMA latency = %v, want %v", latency, want)
	}
}

func TestMetricsReliabilityDefault(t *testing.T) {
	metrics := &Metrics{}
	if r := metrics.Reliability(); r != 0.5 {
		t.Fatalf("Reliability with no samples = %v, want 0.5", r)
	}

	metrics.RecordPing(true)
	metrics.RecordPing(true)
	metrics.RecordPing(false)
	if r := metrics.Reliability(); r < 0.66 || r > 0.67 {
		t.Fatalf("Reliability = %v, want ~0.667", r)
	}
}

func TestPeerCacheRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "peers.json")

	m := NewManager("our-node", 7700)
	m.AddOrTouch("peer1", addr(8081))
	m.AddOrTouch("peer2", addr(8082))

	if err := m.SaveCache(path); err != nil {
		t.Fatalf("SaveCache failed: %v", err)
	}

	cached, err := LoadCache(path)
	if err != nil {
		t.Fatalf("LoadCache failed: %v", err)
	}
	if len(cached) != 2 {
		t.Fatalf("LoadCache returned %d entries, want 2", len(cached))
	}
}

func TestLoadCacheMissingFile(t *testing.T) {
	cached, err := LoadCache("/nonexistent/peers.json")
	if err != nil {
		t.Fatalf("LoadCache on missing file should not error, got %v", err)
	}
	if cached != nil {
		t.Fatalf("expected nil peer cache, got %+v", cached)
	}
}
