package inbox

import (
	"testing"
	"time"
)

func TestComputeConversationIDBroadcast(t *testing.T) {
	if id := ComputeConversationID("alice", ""); id != "broadcast" {
		t.Fatalf("ComputeConversationID = %q, want broadcast", id)
	}
}

func TestComputeConversationIDDMIsOrderIndependent(t *testing.T) {
	a := ComputeConversationID("alice", "bob")
	b := ComputeConversationID("bob", "alice")
	if a != b {
		t.Fatalf("conversation id not symmetric: %q != %q", a, b)
	}
	if a != "dm:alice:bob" {
		t.Fatalf("conversation id = %q, want dm:alice:bob", a)
	}
}

func TestPushAndListConversation(t *testing.T) {
	s := New()
	s.Push(DirectionIn, KindMesh, "bob", "alice", "bob", []byte("hi"), "m1")
	s.Push(DirectionIn, KindMesh, "alice", "bob", "alice", []byte("hey"), "m2")

	msgs := s.ListConversation("dm:alice:bob")
	if len(msgs) != 2 {
		t.Fatalf("ListConversation returned %d messages, want 2", len(msgs))
	}
	if msgs[0].Seq > msgs[1].Seq {
		t.Fatal("ListConversation should return messages oldest-first")
	}
}

func TestRingBufferEviction(t *testing.T) {
	s := NewWithCapacity(3)
	for i := 0; i < 5; i++ {
		s.Push(DirectionOut, KindData, "", "alice", "", []byte("x"), "m")
	}
	msgs := s.ListConversation("broadcast")
	if len(msgs) != 3 {
		t.Fatalf("expected capacity-bounded 3 messages, got %d", len(msgs))
	}
	if msgs[0].Seq != 3 {
		t.Fatalf("oldest retained message should have seq 3, got %d", msgs[0].Seq)
	}
}

func TestMarkDelivered(t *testing.T) {
	s := New()
	s.Push(DirectionOut, KindData, "bob", "alice", "bob", []byte("hi"), "m1")

	if !s.MarkDelivered("m1") {
		t.Fatal("MarkDelivered returned false for existing message")
	}
	msgs := s.ListConversation("dm:alice:bob")
	if msgs[0].Delivery != Delivered {
		t.Fatal("message should be marked Delivered")
	}

	if s.MarkDelivered("nonexistent") {
		t.Fatal("MarkDelivered should return false for unknown message")
	}
}

func TestWatchWakesOnPush(t *testing.T) {
	s := New()

	done := make(chan ListResult, 1)
	go func() {
		done <- s.Watch(0, time.Second, 10)
	}()

	time.Sleep(10 * time.Millisecond)
	s.Push(DirectionOut, KindData, "", "alice", "", []byte("hi"), "m1")

	select {
	case result := <-done:
		if len(result.Messages) != 1 {
			t.Fatalf("expected 1 message from Watch, got %d", len(result.Messages))
		}
	case <-time.After(time.Second):
		t.Fatal("watcher was not woken within timeout")
	}
}

func TestWatchReturnsImmediatelyWhenAlreadyNewer(t *testing.T) {
	s := New()
	s.Push(DirectionOut, KindData, "", "alice", "", []byte("hi"), "m1")

	start := time.Now()
	result := s.Watch(0, time.Second, 10)
	if time.Since(start) > 100*time.Millisecond {
		t.Fatal("Watch should return immediately when newer messages already exist")
	}
	if len(result.Messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(result.Messages))
	}
}

func TestWatchTimesOutWithNoNewMessages(t *testing.T) {
	s := New()
	result := s.Watch(0, 20*time.Millisecond, 10)
	if len(result.Messages) != 0 {
		t.Fatalf("expected no messages, got %d", len(result.Messages))
	}
	if result.NextSince != 0 {
		t.Fatalf("next_since should not regress below since, got %d", result.NextSince)
	}
}

func TestListNextSinceNeverRegresses(t *testing.T) {
	s := New()
	s.Push(DirectionOut, KindData, "", "alice", "", []byte("1"), "m1")
	s.Push(DirectionOut, KindData, "", "alice", "", []byte("2"), "m2")

	first := s.List(0, 10)
	if first.NextSince < 2 {
		t.Fatalf("next_since should be at least 2, got %d", first.NextSince)
	}

	second := s.List(first.NextSince, 10)
	if second.NextSince < first.NextSince {
		t.Fatalf("list_inbox(None,limit).next_since must never regress: %d < %d", second.NextSince, first.NextSince)
	}
	if len(second.Messages) != 0 {
		t.Fatalf("expected no new messages, got %d", len(second.Messages))
	}
}

func TestListRespectsLimit(t *testing.T) {
	s := New()
	for i := 0; i < 5; i++ {
		s.Push(DirectionOut, KindData, "", "alice", "", []byte("x"), "m")
	}
	result := s.List(0, 2)
	if len(result.Messages) != 2 {
		t.Fatalf("expected limit-bounded 2 messages, got %d", len(result.Messages))
	}
}

func TestConversationsOrderedByRecency(t *testing.T) {
	s := New()
	s.Push(DirectionOut, KindData, "bob", "alice", "bob", []byte("1"), "m1")
	s.Push(DirectionOut, KindData, "carol", "alice", "carol", []byte("2"), "m2")
	s.Push(DirectionOut, KindData, "bob", "alice", "bob", []byte("3"), "m3")

	convs := s.Conversations()
	if len(convs) != 2 {
		t.Fatalf("expected 2 conversations, got %d", len(convs))
	}
	if convs[0] != "dm:alice:bob" {
		t.Fatalf("most recently active conversation should be dm:alice:bob, got %s", convs[0])
	}
}
