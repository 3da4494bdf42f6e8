package webrtc

// ICEGatheringState describes the progress of a PeerConnection's local
// candidate gathering, driven by internal/ice's agent state.
type ICEGatheringState int

const (
	// ICEGatheringStateUnknown is returned when a gathering state value is invalid.
	ICEGatheringStateUnknown ICEGatheringState = iota

	// ICEGatheringStateNew indicates that any of the ICETransports are
	// in the "new" gathering state and none of the transports are in
	// the "gathering" state.
	ICEGatheringStateNew

	// ICEGatheringStateGathering indicates that any of the
	// ICETransports are in the "gathering" state.
	ICEGatheringStateGathering

	// ICEGatheringStateComplete indicates that at least one
	// ICETransport exists, and all ICETransports are in the
	// "completed" gathering state.
	ICEGatheringStateComplete
)

func (s ICEGatheringState) String() string {
	switch s {
	case ICEGatheringStateNew:
		return "new"
	case ICEGatheringStateGathering:
		return "gathering"
	case ICEGatheringStateComplete:
		return "complete"
	default:
		return ErrUnknownType.Error()
	}
}

// NewICEGatheringState defines a procedure for creating a new
// ICEGatheringState from a raw string naming one.
func NewICEGatheringState(raw string) ICEGatheringState {
	switch raw {
	case "new":
		return ICEGatheringStateNew
	case "gathering":
		return ICEGatheringStateGathering
	case "complete":
		return ICEGatheringStateComplete
	default:
		return ICEGatheringStateUnknown
	}
}
