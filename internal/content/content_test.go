package content

import (
	"testing"
	"time"

	"github.com/elysium-mesh/elysium/internal/store"
)

func TestPutGet(t *testing.T) {
	s := NewStore(store.NewMemory())
	if err := s.Put("k1", []byte("v1")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	data, ok, err := s.Get("k1")
	if err != nil || !ok {
		t.Fatalf("Get returned ok=%v err=%v", ok, err)
	}
	if string(data) != "v1" {
		t.Fatalf("Get = %q, want v1", data)
	}
}

func TestProfilePublishAndFetch(t *testing.T) {
	s := NewStore(store.NewMemory())
	if err := s.PublishProfile("node123", Profile{DisplayName: "Alice", About: "hi"}); err != nil {
		t.Fatalf("PublishProfile failed: %v", err)
	}
	p, ok, err := s.LocalProfile("node123")
	if err != nil || !ok {
		t.Fatalf("LocalProfile ok=%v err=%v", ok, err)
	}
	if p.DisplayName != "Alice" {
		t.Fatalf("DisplayName = %q, want Alice", p.DisplayName)
	}
}

func TestWaitersResolve(t *testing.T) {
	w := NewWaiters()
	id, ch := w.Register()

	go func() {
		w.Resolve(id, Response{Found: true, Data: []byte("payload")})
	}()

	resp, err := w.Fetch(id, ch, time.Second)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if !resp.Found || string(resp.Data) != "payload" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestWaitersTimeout(t *testing.T) {
	w := NewWaiters()
	id, ch := w.Register()

	_, err := w.Fetch(id, ch, 10*time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestResolveUnknownRequestIsNoop(t *testing.T) {
	w := NewWaiters()
	if w.Resolve("nonexistent", Response{Found: true}) {
		t.Fatal("Resolve should return false for unknown request_id")
	}
}
