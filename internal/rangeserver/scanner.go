package rangeserver

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/hypertable-go/rangeserver/internal/rng"
)

// scannerHandle is one server-held cursor, registered by create_scanner
// and resumed by fetch_scanblock until it either exhausts its range (the
// block reported with More=false) or is explicitly destroyed, matching
// spec.md §3's Scanner lifecycle.
type scannerHandle struct {
	id       uint64
	scanner  *rng.Scanner
	rangeID  string
	lastUsed atomic.Int64 // UnixNano, refreshed by fetch_scanblock
}

func (h *scannerHandle) touch(now time.Time) { h.lastUsed.Store(now.UnixNano()) }

func (h *scannerHandle) idleSince(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, h.lastUsed.Load()))
}

// scannerRegistry owns every live server-side scanner, keyed by an opaque
// id handed to the client. Idle scanners are reclaimed by Sweep once
// their TTL elapses (spec.md §5 Cancellation & timeouts).
type scannerRegistry struct {
	mu      sync.Mutex
	byID    map[uint64]*scannerHandle
	nextID  uint64
	ttl     time.Duration
}

func newScannerRegistry(ttl time.Duration) *scannerRegistry {
	return &scannerRegistry{byID: make(map[uint64]*scannerHandle), ttl: ttl}
}

// Register assigns a fresh scanner id and stores the handle.
func (r *scannerRegistry) Register(rangeID string, s *rng.Scanner) *scannerHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	h := &scannerHandle{id: r.nextID, scanner: s, rangeID: rangeID}
	h.touch(time.Now())
	r.byID[h.id] = h
	return h
}

// Get returns the handle for id and refreshes its TTL, or ok=false if the
// scanner does not exist (never created, already destroyed, or expired).
func (r *scannerRegistry) Get(id uint64) (*scannerHandle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.byID[id]
	if ok {
		h.touch(time.Now())
	}
	return h, ok
}

// Remove destroys a scanner, called on EOS, explicit destroy_scanner, or
// TTL sweep.
func (r *scannerRegistry) Remove(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, id)
}

// Sweep removes and returns every scanner idle longer than the configured
// TTL, for the maintenance loop to call periodically.
func (r *scannerRegistry) Sweep() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	var expired []uint64
	for id, h := range r.byID {
		if h.idleSince(now) > r.ttl {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		delete(r.byID, id)
	}
	return expired
}

// Len reports the number of live scanners, for get_statistics.
func (r *scannerRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}
