package ice

import (
	"github.com/pion/stun/v3"

	"github.com/nimbusrtc/webrtc/internal/stunattr"
)

// buildConnectivityCheck constructs the Binding request spec.md §4.4
// "Connectivity check" names: PRIORITY, optionally USE-CANDIDATE,
// ICE-CONTROLLING/CONTROLLED, USERNAME "rfrag:lfrag", short-term
// MESSAGE-INTEGRITY keyed on the remote password, and FINGERPRINT.
func buildConnectivityCheck(localUfrag, remoteUfrag, remotePwd string, priority uint32, tieBreaker stunattr.TieBreaker, controlling, nominate bool) (*stun.Message, error) {
	setters := []stun.Setter{
		stun.TransactionID,
		stun.BindingRequest,
		stun.NewUsername(remoteUfrag + ":" + localUfrag),
		stunattr.Priority(priority),
	}
	if controlling {
		setters = append(setters, stunattr.ICEControlling(tieBreaker))
		if nominate {
			setters = append(setters, stunattr.UseCandidate)
		}
	} else {
		setters = append(setters, stunattr.ICEControlled(tieBreaker))
	}
	setters = append(setters, stun.NewShortTermIntegrity(remotePwd), stun.Fingerprint)
	return stun.Build(setters...)
}

// buildBindingSuccess answers a connectivity check with the local
// candidate's address as XOR-MAPPED-ADDRESS, integrity-protected with
// the local password (the key our peer used to address us).
func buildBindingSuccess(txID stun.TransactionID, mappedIP Address, localPwd string) (*stun.Message, error) {
	xma := &stun.XORMappedAddress{IP: mappedIP.NetIP(), Port: int(mappedIP.Port)}
	return stun.Build(
		stun.BindingSuccess,
		stun.SetTransactionID(txID[:]),
		xma,
		stun.NewShortTermIntegrity(localPwd),
		stun.Fingerprint,
	)
}

// buildBindingIndication builds the keep-alive indication spec.md §4.4 sends
// on the selected pair every 15 s.
func buildBindingIndication() (*stun.Message, error) {
	return stun.Build(stun.TransactionID, stun.NewType(stun.MethodBinding, stun.ClassIndication))
}

// buildRoleConflict answers with error 487 (Role Conflict).
func buildRoleConflict(txID stun.TransactionID) (*stun.Message, error) {
	return stun.Build(
		stun.NewType(stun.MethodBinding, stun.ClassErrorResponse),
		stun.SetTransactionID(txID[:]),
		&stun.ErrorCodeAttribute{Code: stun.CodeRoleConflict},
		stun.Fingerprint,
	)
}

func decodeSTUN(raw []byte) (*stun.Message, error) {
	m := &stun.Message{Raw: append([]byte(nil), raw...)}
	if err := m.Decode(); err != nil {
		return nil, err
	}
	return m, nil
}
