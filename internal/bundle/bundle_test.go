package bundle

import (
	"path/filepath"
	"testing"
	"time"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bundle.json")

	b := New([]Entry{{From: "alice", To: "bob", Data: []byte("hi"), MessageID: "m1"}}, time.Hour)
	if err := b.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(loaded.Messages) != 1 || loaded.Messages[0].MessageID != "m1" {
		t.Fatalf("unexpected messages after round trip: %+v", loaded.Messages)
	}
}

func TestExpired(t *testing.T) {
	b := New(nil, -time.Second)
	if !b.Expired() {
		t.Fatal("bundle created with negative TTL should already be expired")
	}
}

func TestInspectDoesNotNeedFullImport(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bundle.json")

	b := New([]Entry{{From: "a", MessageID: "m1"}, {From: "a", MessageID: "m2"}}, time.Hour)
	_ = b.Save(path)

	info, err := Inspect(path)
	if err != nil {
		t.Fatalf("Inspect failed: %v", err)
	}
	if info.MessageCount != 2 {
		t.Fatalf("MessageCount = %d, want 2", info.MessageCount)
	}
	if info.Expired {
		t.Fatal("fresh bundle should not be expired")
	}
}

func TestLoadRejectsWrongVersion(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bundle.json")

	b := New(nil, time.Hour)
	b.Version = 99
	_ = b.Save(path)

	if _, err := Load(path); err == nil {
		t.Fatal("Load should reject an unsupported bundle version")
	}
}
