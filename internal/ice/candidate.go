package ice

import (
	"fmt"
	"sync/atomic"

	"github.com/nimbusrtc/webrtc/internal/netio"
	"github.com/nimbusrtc/webrtc/internal/txid"
)

// Kind enumerates the candidate types RFC 8445 §5.1.2.1 assigns a
// type preference to.
type Kind byte

// Candidate kinds.
const (
	KindHost Kind = iota
	KindServerReflexive
	KindPeerReflexive
	KindRelay
)

func (k Kind) String() string {
	switch k {
	case KindHost:
		return "host"
	case KindServerReflexive:
		return "srflx"
	case KindPeerReflexive:
		return "prflx"
	case KindRelay:
		return "relay"
	default:
		return "unknown"
	}
}

// typePreference implements RFC 8445's fixed type-preference table.
func (k Kind) typePreference() uint32 {
	switch k {
	case KindHost:
		return 126
	case KindPeerReflexive:
		return 110
	case KindServerReflexive:
		return 100
	case KindRelay:
		return 0
	default:
		return 0
	}
}

// Transport enumerates the transport a candidate was gathered over.
type Transport byte

// Candidate transports.
const (
	TransportUDP Transport = iota
	TransportTCP
)

func (t Transport) String() string {
	if t == TransportTCP {
		return "tcp"
	}
	return "udp"
}

// State is the lifecycle state of a single candidate.
type State byte

// Candidate states.
const (
	StateNew State = iota
	StateValid
	StateInvalid
)

// Candidate is one (transport, address) tuple an agent may propose for
// connectivity checks, per spec.md §3.
type Candidate struct {
	Kind      Kind
	Transport Transport

	Base      Address // the local socket address this candidate was gathered from
	Reflexive Address // server-reflexive or relay address, if any
	Component int

	Foundation string
	Priority   uint32

	Endpoint *netio.Endpoint
	IDs      *txid.Store

	state atomic.Int32
}

// NewCandidate builds a Candidate and computes its RFC 8445 priority.
// localPreference should rank interfaces the way spec.md §3 describes
// (non point-to-point interfaces ranked above VPN/point-to-point ones).
func NewCandidate(kind Kind, transport Transport, base, reflexive Address, component int, foundation string, localPreference uint32) *Candidate {
	c := &Candidate{
		Kind:       kind,
		Transport:  transport,
		Base:       base,
		Reflexive:  reflexive,
		Component:  component,
		Foundation: foundation,
		IDs:        txid.NewStore(txid.DefaultCapacity),
	}
	c.Priority = candidatePriority(kind.typePreference(), localPreference, component)
	c.state.Store(int32(StateNew))
	return c
}

// candidatePriority computes the RFC 8445 §5.1.2.1 candidate priority:
// (2^24)*typePref + (2^8)*localPref + (256-component).
func candidatePriority(typePref, localPref uint32, component int) uint32 {
	return (1<<24)*typePref + (1<<8)*localPref + (256 - uint32(component))
}

// Addr returns the address a remote peer should use to reach this
// candidate: the reflexive/relay address if set, otherwise the base.
func (c *Candidate) Addr() Address {
	if !c.Reflexive.Zero() {
		return c.Reflexive
	}
	return c.Base
}

// State returns the candidate's current lifecycle state.
func (c *Candidate) State() State { return State(c.state.Load()) }

// SetState updates the candidate's lifecycle state.
func (c *Candidate) SetState(s State) { c.state.Store(int32(s)) }

func (c *Candidate) String() string {
	return fmt.Sprintf("%s/%s %s (prio=%d)", c.Kind, c.Transport, c.Addr(), c.Priority)
}

// compatible reports whether a local and remote candidate may be
// paired: matching family and transport, per spec.md §4.4 "Pair formation".
func compatible(local, remote *Candidate) bool {
	return local.Transport == remote.Transport && local.Addr().Family == remote.Addr().Family
}
