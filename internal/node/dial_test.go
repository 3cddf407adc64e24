package node

import (
	"testing"
	"time"
)

func TestRankDialCandidatesOrdersByAttemptsThenAgeThenLatency(t *testing.T) {
	now := time.Now()
	candidates := []dialCandidate{
		{addr: "many-attempts", addedAt: now, attempts: 3},
		{addr: "no-attempts-newer", addedAt: now, attempts: 0},
		{addr: "no-attempts-older", addedAt: now.Add(-time.Minute), attempts: 0},
	}
	rankDialCandidates(candidates)

	if candidates[0].addr != "no-attempts-newer" {
		t.Fatalf("expected the newer zero-attempt candidate first, got %q", candidates[0].addr)
	}
	if candidates[1].addr != "no-attempts-older" {
		t.Fatalf("expected the older zero-attempt candidate second, got %q", candidates[1].addr)
	}
	if candidates[2].addr != "many-attempts" {
		t.Fatalf("expected the many-attempts candidate last, got %q", candidates[2].addr)
	}
}

func TestRankDialCandidatesUnknownLatencySortsLast(t *testing.T) {
	now := time.Now()
	candidates := []dialCandidate{
		{addr: "unknown-latency", addedAt: now, attempts: 0, hasLatency: false},
		{addr: "known-latency", addedAt: now, attempts: 0, hasLatency: true, latency: 200 * time.Millisecond},
	}
	rankDialCandidates(candidates)

	if candidates[0].addr != "known-latency" {
		t.Fatalf("expected known-latency candidate first, got %q", candidates[0].addr)
	}
	if candidates[1].addr != "unknown-latency" {
		t.Fatalf("expected unknown-latency candidate last, got %q", candidates[1].addr)
	}
}

func TestRankDialCandidatesLowerLatencyFirst(t *testing.T) {
	now := time.Now()
	candidates := []dialCandidate{
		{addr: "slow", addedAt: now, attempts: 0, hasLatency: true, latency: 500 * time.Millisecond},
		{addr: "fast", addedAt: now, attempts: 0, hasLatency: true, latency: 10 * time.Millisecond},
	}
	rankDialCandidates(candidates)

	if candidates[0].addr != "fast" {
		t.Fatalf("expected the lower-latency candidate first, got %q", candidates[0].addr)
	}
}
