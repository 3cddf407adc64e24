package store

import (
	"path/filepath"
	"testing"
)

func TestMemoryPutGetDelete(t *testing.T) {
	s := NewMemory()
	defer s.Close()

	if err := s.Put("key1", []byte("hello")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	data, ok, err := s.Get("key1")
	if err != nil || !ok {
		t.Fatalf("Get returned ok=%v err=%v", ok, err)
	}
	if string(data) != "hello" {
		t.Fatalf("Get returned %q, want %q", data, "hello")
	}

	if err := s.Delete("key1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, ok, _ := s.Get("key1"); ok {
		t.Fatal("Get returned found for deleted key")
	}
}

func TestMemoryPrefixScan(t *testing.T) {
	s := NewMemory()
	defer s.Close()

	_ = s.Put("msg:1", []byte("a"))
	_ = s.Put("msg:2", []byte("b"))
	_ = s.Put("name:alice", []byte("c"))

	results, err := s.PrefixScan("msg:")
	if err != nil {
		t.Fatalf("PrefixScan failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("PrefixScan returned %d entries, want 2", len(results))
	}
}

func TestFileBackedSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wal.log")

	s, err := OpenFileBacked(path)
	if err != nil {
		t.Fatalf("OpenFileBacked failed: %v", err)
	}
	if err := s.Put("key1", []byte("hello")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := s.Put("key2", []byte("world")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := s.Delete("key2"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := OpenFileBacked(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	data, ok, err := reopened.Get("key1")
	if err != nil || !ok {
		t.Fatalf("Get key1 after reopen: ok=%v err=%v", ok, err)
	}
	if string(data) != "hello" {
		t.Fatalf("Get key1 = %q, want %q", data, "hello")
	}

	if _, ok, _ := reopened.Get("key2"); ok {
		t.Fatal("key2 should have been deleted before close")
	}
}
