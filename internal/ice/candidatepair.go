package ice

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nimbusrtc/webrtc/internal/txid"
)

// PairState is a candidate pair's position in the connectivity-check
// lifecycle, per spec.md §3.
type PairState byte

// Candidate pair states.
const (
	PairFrozen PairState = iota
	PairWaiting
	PairInProgress
	PairSucceeded
	PairFailed
)

func (s PairState) String() string {
	switch s {
	case PairFrozen:
		return "frozen"
	case PairWaiting:
		return "waiting"
	case PairInProgress:
		return "in-progress"
	case PairSucceeded:
		return "succeeded"
	case PairFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Pair is a (local, remote) candidate pair under consideration for, or
// already used for, connectivity. Its priority and state are managed
// by the owning Agent under the agent lock (spec.md §5).
type Pair struct {
	Local  *Candidate
	Remote *Candidate

	Priority   uint64
	state      atomic.Int32
	Nominated  atomic.Bool
	Controlled bool // this side's role when the pair's checks were sent

	IDs *txid.Store

	RTT time.Duration

	// rolling counters, spec.md §3 "rolling counters for stats"
	ChecksSent     atomic.Uint64
	ChecksReceived atomic.Uint64
	lastActivity   atomic.Int64 // unix nanos
}

// NewPair forms a pair and computes its RFC 8445 §5.1.2.1 priority,
// needing the tie-breaking "controlling" role to decide which side's
// priority is treated as G (the controlling agent's) vs D.
func NewPair(local, remote *Candidate, controlling bool) *Pair {
	p := &Pair{
		Local:  local,
		Remote: remote,
		IDs:    txid.NewStore(txid.DefaultCapacity),
	}
	var g, d uint32
	if controlling {
		g, d = local.Priority, remote.Priority
	} else {
		g, d = remote.Priority, local.Priority
	}
	p.Priority = pairPriority(g, d)
	p.state.Store(int32(PairFrozen))
	return p
}

// pairPriority implements the exact RFC 8445 formula spec.md §3
// mandates, carried out in 64-bit arithmetic end-to-end (Design Notes
// open question: the source sometimes narrows to 32 bits mid-formula;
// this implementation never does).
func pairPriority(g, d uint32) uint64 {
	min64, max64 := uint64(g), uint64(d)
	if min64 > max64 {
		min64, max64 = max64, min64
	}
	var tieBit uint64
	if g > d {
		tieBit = 1
	}
	return (min64 << 32) + 2*max64 + tieBit
}

// State returns the pair's current state.
func (p *Pair) State() PairState { return PairState(p.state.Load()) }

// SetState transitions the pair. Invalid transitions are the caller's
// responsibility to avoid; the agent lock serializes all callers.
func (p *Pair) SetState(s PairState) { p.state.Store(int32(s)) }

// Nominate marks the pair nominated. Per spec.md §8 invariant 5, once a
// pair is selected it is only replaced by a strictly higher-priority,
// also-succeeded pair — callers must check that before calling this.
func (p *Pair) Nominate() { p.Nominated.Store(true) }

// MarkActivity records that traffic was just observed on this pair,
// used by the disconnected-detection timer (spec.md §4.4 state table).
func (p *Pair) MarkActivity(now time.Time) {
	p.lastActivity.Store(now.UnixNano())
}

// Idle reports how long it has been since MarkActivity was last called.
func (p *Pair) Idle(now time.Time) time.Duration {
	last := p.lastActivity.Load()
	if last == 0 {
		return 0
	}
	return now.Sub(time.Unix(0, last))
}

// SameAgent reports whether local and remote both belong to this
// agent's own candidate sets, the invariant spec.md §3 requires.
func SameAgent(local, remote *Candidate, localSet, remoteSet []*Candidate) bool {
	inSet := func(c *Candidate, set []*Candidate) bool {
		for _, x := range set {
			if x == c {
				return true
			}
		}
		return false
	}
	return inSet(local, localSet) && inSet(remote, remoteSet)
}

func (p *Pair) String() string {
	return fmt.Sprintf("pair(local=%s remote=%s prio=%d state=%s nominated=%v)",
		p.Local, p.Remote, p.Priority, p.State(), p.Nominated.Load())
}
