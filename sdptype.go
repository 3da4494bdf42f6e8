package webrtc

// SDPType describes the type of an SDPDescription, per
// https://www.w3.org/TR/webrtc/#rtcsdptype.
type SDPType int

const (
	// SDPTypeUnknown is returned when a SDP type value is invalid.
	SDPTypeUnknown SDPType = iota

	// SDPTypeOffer indicates that a description MUST be treated as an
	// SDP offer.
	SDPTypeOffer

	// SDPTypePranswer indicates that a description MUST be treated as
	// an SDP answer, but not a final answer.
	SDPTypePranswer

	// SDPTypeAnswer indicates that a description MUST be treated as an
	// SDP final answer, and the offer-answer exchange MUST be
	// considered complete.
	SDPTypeAnswer

	// SDPTypeRollback indicates that a description MUST be treated as
	// canceling the current SDP negotiation and moving the SDP offer
	// and answer back to what it was in the previous stable state.
	SDPTypeRollback
)

// NewSDPType defines a procedure for creating a new SDPType from a raw
// string naming one.
func NewSDPType(raw string) SDPType {
	switch raw {
	case "offer":
		return SDPTypeOffer
	case "pranswer":
		return SDPTypePranswer
	case "answer":
		return SDPTypeAnswer
	case "rollback":
		return SDPTypeRollback
	default:
		return SDPTypeUnknown
	}
}

func (t SDPType) String() string {
	switch t {
	case SDPTypeOffer:
		return "offer"
	case SDPTypePranswer:
		return "pranswer"
	case SDPTypeAnswer:
		return "answer"
	case SDPTypeRollback:
		return "rollback"
	default:
		return ErrUnknownType.Error()
	}
}
