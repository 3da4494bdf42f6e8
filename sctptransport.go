package webrtc

import "github.com/pion/sctp"

// SCTPTransport carries the DataChannel registry's DCEP streams over a
// single SCTP association running atop the DTLS transport, per spec.md
// §3 "Data channel registry". The association itself is out-of-scope
// per spec.md (an external collaborator satisfied by
// github.com/pion/sctp running over the DTLS transport's exported
// keying material).
type SCTPTransport struct {
	association *sctp.Association

	// MaxChannels bounds the stream identifiers generateDataChannelID
	// will hand out. nil until an association exists to negotiate one.
	MaxChannels *uint16
}

// NewSCTPTransport wraps an already-established SCTP association.
func NewSCTPTransport(association *sctp.Association) *SCTPTransport {
	max := sctpMaxChannels
	return &SCTPTransport{association: association, MaxChannels: &max}
}
