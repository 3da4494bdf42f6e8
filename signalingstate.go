package webrtc

// SignalingState indicates the signaling state of an offer/answer
// exchange, per https://www.w3.org/TR/webrtc/#rtcsignalingstate-enum.
type SignalingState int

// SignalingState enumeration.
const (
	SignalingStateStable SignalingState = iota + 1
	SignalingStateHaveLocalOffer
	SignalingStateHaveRemoteOffer
	SignalingStateHaveLocalPranswer
	SignalingStateHaveRemotePranswer
	SignalingStateClosed
)

func (s SignalingState) String() string {
	switch s {
	case SignalingStateStable:
		return "stable"
	case SignalingStateHaveLocalOffer:
		return "have-local-offer"
	case SignalingStateHaveRemoteOffer:
		return "have-remote-offer"
	case SignalingStateHaveLocalPranswer:
		return "have-local-pranswer"
	case SignalingStateHaveRemotePranswer:
		return "have-remote-pranswer"
	case SignalingStateClosed:
		return "closed"
	default:
		return unknownStr
	}
}

// checkNextSignalingState validates the state transition table per
// https://www.w3.org/TR/webrtc/#dom-rtcsignalingstate (setLocalDescription
// / setRemoteDescription rows only — renegotiation always restarts from stable).
func checkNextSignalingState(cur, next SignalingState, op string, sdType SDPType) error {
	if cur == SignalingStateClosed || next == SignalingStateClosed {
		return nil
	}

	switch op {
	case "local":
		switch cur {
		case SignalingStateStable:
			if sdType == SDPTypeOffer && next == SignalingStateHaveLocalOffer {
				return nil
			}
		case SignalingStateHaveRemoteOffer:
			if (sdType == SDPTypeAnswer && next == SignalingStateStable) ||
				(sdType == SDPTypePranswer && next == SignalingStateHaveLocalPranswer) {
				return nil
			}
		case SignalingStateHaveLocalPranswer:
			if sdType == SDPTypeAnswer && next == SignalingStateStable {
				return nil
			}
		}
	case "remote":
		switch cur {
		case SignalingStateStable:
			if sdType == SDPTypeOffer && next == SignalingStateHaveRemoteOffer {
				return nil
			}
		case SignalingStateHaveLocalOffer:
			if (sdType == SDPTypeAnswer && next == SignalingStateStable) ||
				(sdType == SDPTypePranswer && next == SignalingStateHaveRemotePranswer) {
				return nil
			}
		case SignalingStateHaveRemotePranswer:
			if sdType == SDPTypeAnswer && next == SignalingStateStable {
				return nil
			}
		}
	}

	return &InvalidStateError{Err: ErrSignalingStateCannotRollback}
}
