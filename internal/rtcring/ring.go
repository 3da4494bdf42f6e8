// Package rtcring implements the outbound retransmit buffer spec.md
// §4.6 calls "a rolling ring (default 3s of packets)": every packet a
// transceiver sends is kept, keyed by sequence number, until it ages
// out, so a later NACK can find and resend it. Grounded on the
// teacher's pkg/media/samplebuilder circular-buffer indexing, adapted
// from "keep until maxLate sequence numbers pass" to "keep until
// retainDuration elapses".
package rtcring

import (
	"sync"
	"time"
)

// Entry is one previously-sent packet kept for possible retransmission.
type Entry struct {
	Sequence uint16
	SentAt   time.Time
	Payload  []byte // the exact wire bytes that were sent (post-SRTP)
}

// Ring is a time-bounded, sequence-keyed store of recently sent
// packets. Safe for concurrent use: the send path writes, the NACK
// handler reads, potentially from different goroutines.
type Ring struct {
	mu             sync.Mutex
	entries        map[uint16]Entry
	retainDuration time.Duration
}

// DefaultRetain is spec.md §4.6's "default 3s of packets".
const DefaultRetain = 3 * time.Second

// New creates a Ring retaining entries for retainDuration (DefaultRetain if zero).
func New(retainDuration time.Duration) *Ring {
	if retainDuration <= 0 {
		retainDuration = DefaultRetain
	}
	return &Ring{
		entries:        make(map[uint16]Entry),
		retainDuration: retainDuration,
	}
}

// Store records a sent packet and evicts anything older than the
// retain window, relative to now.
func (r *Ring) Store(seq uint16, payload []byte, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[seq] = Entry{Sequence: seq, SentAt: now, Payload: payload}
	r.evictLocked(now)
}

// Lookup returns the stored payload for seq, if it hasn't fallen out
// of the retransmit window, per spec.md §4.6 "Missing sequences are
// silently skipped (they have fallen out of the retransmit window)".
func (r *Ring) Lookup(seq uint16) ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[seq]
	if !ok {
		return nil, false
	}
	return e.Payload, true
}

// evictLocked drops entries older than retainDuration. Called with mu held.
func (r *Ring) evictLocked(now time.Time) {
	cutoff := now.Add(-r.retainDuration)
	for seq, e := range r.entries {
		if e.SentAt.Before(cutoff) {
			delete(r.entries, seq)
		}
	}
}

// Len reports the number of currently retained packets (diagnostic use).
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
