package identity

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestNewDerivesStableNodeID(t *testing.T) {
	id, err := New()
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if id.NodeID == "" {
		t.Fatal("NodeID is empty")
	}

	again, err := DeriveNodeID(id.Manager.PublicKey())
	if err != nil {
		t.Fatalf("DeriveNodeID failed: %v", err)
	}
	if again != id.NodeID {
		t.Fatalf("DeriveNodeID not stable: %s != %s", again, id.NodeID)
	}

	if !strings.HasPrefix(id.Address(), "ely://") {
		t.Fatalf("Address() = %q, want ely:// prefix", id.Address())
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "identity.json")

	id, err := New()
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := id.Save(path, ""); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path, "")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.NodeID != id.NodeID {
		t.Fatalf("loaded NodeID %s != original %s", loaded.NodeID, id.NodeID)
	}
}

func TestSaveLoadWithPassphrase(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "identity.json")

	id, err := New()
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := id.Save(path, "correct horse"); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if _, err := Load(path, ""); err == nil {
		t.Fatal("Load without passphrase should fail on encrypted identity")
	}

	loaded, err := Load(path, "correct horse")
	if err != nil {
		t.Fatalf("Load with correct passphrase failed: %v", err)
	}
	if loaded.NodeID != id.NodeID {
		t.Fatalf("loaded NodeID %s != original %s", loaded.NodeID, id.NodeID)
	}
}

func TestLoadOrCreate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "identity.json")

	first, err := LoadOrCreate(path, "")
	if err != nil {
		t.Fatalf("LoadOrCreate (create) failed: %v", err)
	}

	second, err := LoadOrCreate(path, "")
	if err != nil {
		t.Fatalf("LoadOrCreate (load) failed: %v", err)
	}

	if first.NodeID != second.NodeID {
		t.Fatalf("LoadOrCreate not idempotent: %s != %s", first.NodeID, second.NodeID)
	}
}
