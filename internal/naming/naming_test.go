package naming

import (
	"testing"

	"github.com/elysium-mesh/elysium/internal/store"
)

func TestPublishAndResolve(t *testing.T) {
	r := New(store.NewMemory())
	if err := r.Publish("alice", "node123"); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	rec, ok, err := r.Resolve("alice")
	if err != nil || !ok {
		t.Fatalf("Resolve returned ok=%v err=%v", ok, err)
	}
	if rec.NodeID != "node123" || rec.Kind != KindName {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestResolveMissing(t *testing.T) {
	r := New(store.NewMemory())
	_, ok, err := r.Resolve("nobody")
	if err != nil {
		t.Fatalf("Resolve errored: %v", err)
	}
	if ok {
		t.Fatal("Resolve should return false for unknown name")
	}
}

func TestContactsDoNotShadowNames(t *testing.T) {
	r := New(store.NewMemory())
	_ = r.Publish("alice", "node123")
	_ = r.AddContact("alice", "node456")

	names, err := r.List(KindName)
	if err != nil {
		t.Fatalf("List(KindName) failed: %v", err)
	}
	contacts, err := r.List(KindContact)
	if err != nil {
		t.Fatalf("List(KindContact) failed: %v", err)
	}

	if len(names) != 1 || names[0].NodeID != "node123" {
		t.Fatalf("unexpected names: %+v", names)
	}
	if len(contacts) != 1 || contacts[0].NodeID != "node456" {
		t.Fatalf("unexpected contacts: %+v", contacts)
	}
}

func TestRemove(t *testing.T) {
	r := New(store.NewMemory())
	_ = r.Publish("alice", "node123")
	if err := r.Remove(KindName, "alice"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	_, ok, _ := r.Resolve("alice")
	if ok {
		t.Fatal("record should be gone after Remove")
	}
}
