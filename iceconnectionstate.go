package webrtc

// ICEConnectionState mirrors the underlying internal/ice agent's
// ConnectionState one level up, in the W3C-dictionary vocabulary the
// rest of this package's state types use.
type ICEConnectionState int

// ICEConnectionState enumeration, per
// https://www.w3.org/TR/webrtc/#dom-rtciceconnectionstate.
const (
	ICEConnectionStateNew ICEConnectionState = iota + 1
	ICEConnectionStateChecking
	ICEConnectionStateConnected
	ICEConnectionStateCompleted
	ICEConnectionStateDisconnected
	ICEConnectionStateFailed
	ICEConnectionStateClosed
)

func (c ICEConnectionState) String() string {
	switch c {
	case ICEConnectionStateNew:
		return "new"
	case ICEConnectionStateChecking:
		return "checking"
	case ICEConnectionStateConnected:
		return "connected"
	case ICEConnectionStateCompleted:
		return "completed"
	case ICEConnectionStateDisconnected:
		return "disconnected"
	case ICEConnectionStateFailed:
		return "failed"
	case ICEConnectionStateClosed:
		return "closed"
	default:
		return unknownStr
	}
}

// NewICEConnectionState takes a string and converts it into
// ICEConnectionState.
func NewICEConnectionState(raw string) ICEConnectionState {
	switch raw {
	case "new":
		return ICEConnectionStateNew
	case "checking":
		return ICEConnectionStateChecking
	case "connected":
		return ICEConnectionStateConnected
	case "completed":
		return ICEConnectionStateCompleted
	case "disconnected":
		return ICEConnectionStateDisconnected
	case "failed":
		return ICEConnectionStateFailed
	case "closed":
		return ICEConnectionStateClosed
	default:
		return ICEConnectionState(Unknown)
	}
}
