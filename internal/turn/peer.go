package turn

import (
	"net"
	"time"

	"github.com/nimbusrtc/webrtc/internal/txid"
)

// PeerState is a TURN peer's position in the permission/channel-bind
// lifecycle, per spec.md §3.
type PeerState int

// Peer states.
const (
	PeerCreatePermission PeerState = iota
	PeerBindChannel
	PeerReady
	PeerFailed
)

// permissionLifetime is the RFC 5766 §8 fixed permission lifetime.
const permissionLifetime = 5 * time.Minute

// permissionRefreshWindow is how far ahead of expiry spec.md §4.3
// triggers a refresh ("within 30 s of its 5-minute expiry").
const permissionRefreshWindow = 30 * time.Second

// peerResendInterval is the RTO-like spacing spec.md §4.3 requires
// ("RTO-spaced (≥ 500 ms, with 50 ms · peerCount jitter)").
const peerResendInterval = 500 * time.Millisecond

// Peer is one remote address a TURN client has been asked to relay
// to/from, per spec.md §3 "TURN peer".
type Peer struct {
	Remote  net.IP
	Port    int
	Channel uint16 // assigned channel number, >= 0x4000

	State PeerState

	PermissionExpiry time.Time
	NextSend         time.Time

	IDs *txid.Store
}

// NewPeer creates a peer in the create-permission state with the
// channel number spec.md §4.3 assigns: 0x4000 + peer-index.
func NewPeer(remote net.IP, port int, index int) *Peer {
	return &Peer{
		Remote:  remote,
		Port:    port,
		Channel: uint16(0x4000 + index),
		State:   PeerCreatePermission,
		IDs:     txid.NewStore(txid.DefaultCapacity),
	}
}

// NeedsPermissionRefresh reports whether the peer's permission is
// within permissionRefreshWindow of expiry.
func (p *Peer) NeedsPermissionRefresh(now time.Time) bool {
	return p.State == PeerReady && !p.PermissionExpiry.IsZero() && p.PermissionExpiry.Sub(now) < permissionRefreshWindow
}

// MatchesIP reports whether addr matches this peer's address ignoring
// port, the lookup spec.md §4.3 "Send" describes.
func (p *Peer) MatchesIP(ip net.IP) bool {
	return p.Remote.Equal(ip)
}
