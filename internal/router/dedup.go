package router

import (
	"sync"
	"time"
)

// Dedup tracks recently-seen message IDs to suppress reprocessing and
// provide the flood's loop-damping window, mirroring router.rs's
// seen_messages map: 60s "already seen" suppression, entries swept after
// 300s (5 minutes).
type Dedup struct {
	mu             sync.Mutex
	seen           map[string]time.Time
	suppressWindow time.Duration
	retention      time.Duration
}

// NewDedup constructs a Dedup cache with the given suppress/retention
// windows.
func NewDedup(suppressWindow, retention time.Duration) *Dedup {
	return &Dedup{
		seen:           make(map[string]time.Time),
		suppressWindow: suppressWindow,
		retention:      retention,
	}
}

// SeenRecently reports whether messageID was marked seen within the
// suppress window.
func (d *Dedup) SeenRecently(messageID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.seen[messageID]
	if !ok {
		return false
	}
	return time.Since(t) < d.suppressWindow
}

// MarkSeen records messageID as seen now, and opportunistically sweeps
// entries older than the retention window.
func (d *Dedup) MarkSeen(messageID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen[messageID] = time.Now()
	for id, t := range d.seen {
		if time.Since(t) > d.retention {
			delete(d.seen, id)
		}
	}
}
