// Package turn implements one TURN client per TURN server: the
// allocation lifecycle, permission/channel-bind multiplexing,
// nonce/realm refresh, and framed channel-data parsing over a
// possibly-fragmented stream (spec.md §4.3, component D).
package turn

import (
	"crypto/md5" //nolint:gosec // MD5 is the TURN long-term-credential key derivation RFC 5766 mandates
	"net"

	"github.com/pion/stun/v3"

	"github.com/nimbusrtc/webrtc/internal/stunattr"
)

// TURN methods (RFC 5766 §13), not defined by pion/stun's core Binding-only set.
var (
	methodAllocate         = stun.NewType(stun.NewMethod(0x003), stun.ClassRequest)
	methodRefresh          = stun.NewType(stun.NewMethod(0x004), stun.ClassRequest)
	methodCreatePermission = stun.NewType(stun.NewMethod(0x008), stun.ClassRequest)
	methodChannelBind      = stun.NewType(stun.NewMethod(0x009), stun.ClassRequest)
)

// longTermKey derives MD5("user:realm:password") per spec.md §4.3.
func longTermKey(user, realm, password string) []byte {
	sum := md5.Sum([]byte(user + ":" + realm + ":" + password)) //nolint:gosec
	return sum[:]
}

func buildAllocateNoAuth() (*stun.Message, error) {
	return stun.Build(stun.TransactionID, methodAllocate,
		stunattr.RequestedTransport{Protocol: stunattr.RequestedTransportUDP},
		stun.Fingerprint,
	)
}

func buildAllocateAuthed(username, realm, nonce string, key []byte) (*stun.Message, error) {
	integrity := stun.NewLongTermIntegrity(username, realm, string(key))
	return stun.Build(stun.TransactionID, methodAllocate,
		stunattr.RequestedTransport{Protocol: stunattr.RequestedTransportUDP},
		stun.NewUsername(username),
		stun.NewRealm(realm),
		stun.NewNonce(nonce),
		integrity,
		stun.Fingerprint,
	)
}

func buildRefresh(username, realm, nonce string, key []byte, lifetimeSeconds uint32) (*stun.Message, error) {
	integrity := stun.NewLongTermIntegrity(username, realm, string(key))
	return stun.Build(stun.TransactionID, methodRefresh,
		stunattr.Lifetime(lifetimeSeconds),
		stun.NewUsername(username),
		stun.NewRealm(realm),
		stun.NewNonce(nonce),
		integrity,
		stun.Fingerprint,
	)
}

func buildCreatePermission(username, realm, nonce string, key []byte, peer net.IP) (*stun.Message, error) {
	integrity := stun.NewLongTermIntegrity(username, realm, string(key))
	return stun.Build(stun.TransactionID, methodCreatePermission,
		stunattr.XORPeerAddress(peer, 0),
		stun.NewUsername(username),
		stun.NewRealm(realm),
		stun.NewNonce(nonce),
		integrity,
		stun.Fingerprint,
	)
}

func buildChannelBind(username, realm, nonce string, key []byte, channel uint16, peer net.IP, peerPort int) (*stun.Message, error) {
	integrity := stun.NewLongTermIntegrity(username, realm, string(key))
	return stun.Build(stun.TransactionID, methodChannelBind,
		stunattr.ChannelNumber(channel),
		stunattr.XORPeerAddress(peer, peerPort),
		stun.NewUsername(username),
		stun.NewRealm(realm),
		stun.NewNonce(nonce),
		integrity,
		stun.Fingerprint,
	)
}

// rawAttr re-adds an already decoded attribute unchanged.
type rawAttr stun.RawAttribute

func (r rawAttr) AddTo(m *stun.Message) error {
	m.Add(r.Type, r.Value)
	return nil
}

// patchNonce builds a new message with msg's type, transaction ID and
// attributes, replacing USERNAME, REALM and NONCE and re-computing
// MESSAGE-INTEGRITY and FINGERPRINT (spec.md §4.3 "Nonce rotation").
func patchNonce(msg *stun.Message, username, realm, nonce string, key []byte) (*stun.Message, error) {
	setters := []stun.Setter{msg.Type, stun.SetTransactionID(msg.TransactionID[:])}
	for _, attr := range msg.Attributes {
		switch attr.Type {
		case stun.AttrNonce, stun.AttrRealm, stun.AttrUsername, stun.AttrMessageIntegrity, stun.AttrFingerprint:
			continue
		default:
			setters = append(setters, rawAttr(attr))
		}
	}
	integrity := stun.NewLongTermIntegrity(username, realm, string(key))
	setters = append(setters, stun.NewUsername(username), stun.NewRealm(realm), stun.NewNonce(nonce), integrity, stun.Fingerprint)
	return stun.Build(setters...)
}

func decodeSTUN(raw []byte) (*stun.Message, error) {
	m := &stun.Message{Raw: append([]byte(nil), raw...)}
	if err := m.Decode(); err != nil {
		return nil, err
	}
	return m, nil
}

// staleNonceOrUnauthorized reports whether m is a 401 or 438 error
// response carrying a fresh realm/nonce (spec.md §4.3 "Nonce rotation").
func staleNonceOrUnauthorized(m *stun.Message) (realm, nonce string, ok bool) {
	if m.Type.Class != stun.ClassErrorResponse {
		return "", "", false
	}
	var ec stun.ErrorCodeAttribute
	if err := ec.GetFrom(m); err != nil {
		return "", "", false
	}
	if ec.Code != stun.CodeUnauthorized && ec.Code != stun.CodeStaleNonce {
		return "", "", false
	}
	var r stun.Realm
	var n stun.Nonce
	if err := r.GetFrom(m); err != nil {
		return "", "", false
	}
	if err := n.GetFrom(m); err != nil {
		return "", "", false
	}
	return r.String(), n.String(), true
}
