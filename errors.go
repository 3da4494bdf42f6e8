package webrtc

import (
	"errors"
	"fmt"
)

// InvalidStateError indicates the object is in an invalid state.
type InvalidStateError struct {
	Err error
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("webrtc: InvalidStateError: %v", e.Err)
}

// Types of InvalidStateErrors
var (
	ErrConnectionClosed  = errors.New("connection closed")
	ErrDataChannelNotOpen = errors.New("data channel not open")

	// ErrSignalingStateCannotRollback indicates that a SDP of type
	// "rollback" was used when the signaling state did not allow one;
	// also returned for any setLocalDescription/setRemoteDescription
	// call that doesn't match a valid row of the signaling state
	// transition table.
	ErrSignalingStateCannotRollback = errors.New("invalid signaling state transition")

	// ErrSDPUnmarshalling indicates that a SDP failed to unmarshal into
	// a SessionDescription.
	ErrSDPUnmarshalling = errors.New("failed to unmarshal SDP")

	// ErrSessionDescriptionNoFingerprint indicates that setRemoteDescription
	// was called with a SessionDescription that has no fingerprint.
	ErrSessionDescriptionNoFingerprint = errors.New("session description has no fingerprint")

	// ErrSessionDescriptionInvalidFingerprint indicates that
	// setRemoteDescription was called with a SessionDescription that
	// has an invalid fingerprint.
	ErrSessionDescriptionInvalidFingerprint = errors.New("session description has invalid fingerprint")

	// ErrSessionDescriptionConflictingFingerprints indicates that
	// setRemoteDescription was called with a SessionDescription that
	// has multiple conflicting fingerprints.
	ErrSessionDescriptionConflictingFingerprints = errors.New("session description has conflicting fingerprints")

	// ErrSessionDescriptionMissingIceUfrag indicates that
	// setRemoteDescription was called with a SessionDescription that
	// is missing an ice-ufrag value.
	ErrSessionDescriptionMissingIceUfrag = errors.New("session description is missing ice-ufrag")

	// ErrSessionDescriptionMissingIcePwd indicates that
	// setRemoteDescription was called with a SessionDescription that
	// is missing an ice-pwd value.
	ErrSessionDescriptionMissingIcePwd = errors.New("session description is missing ice-pwd")

	// ErrSessionDescriptionConflictingIceUfrag indicates that
	// setRemoteDescription was called with a SessionDescription that
	// has multiple conflicting ice-ufrag values.
	ErrSessionDescriptionConflictingIceUfrag = errors.New("session description has conflicting ice-ufrag values")

	// ErrSessionDescriptionConflictingIcePwd indicates that
	// setRemoteDescription was called with a SessionDescription that
	// has multiple conflicting ice-pwd values.
	ErrSessionDescriptionConflictingIcePwd = errors.New("session description has conflicting ice-pwd values")

	// ErrNoRemoteDescription indicates that CreateAnswer was called
	// before a remote offer was set.
	ErrNoRemoteDescription = errors.New("remote description is not set")
)

// UnknownError indicates the operation failed for an unknown transient reason
type UnknownError struct {
	Err error
}

func (e *UnknownError) Error() string {
	return fmt.Sprintf("webrtc: UnknownError: %v", e.Err)
}

// Types of UnknownErrors
var (
	ErrNoConfig = errors.New("no configuration provided")
)

// InvalidAccessError indicates the object does not support the operation or argument.
type InvalidAccessError struct {
	Err error
}

func (e *InvalidAccessError) Error() string {
	return fmt.Sprintf("webrtc: InvalidAccessError: %v", e.Err)
}

// Types of InvalidAccessErrors
var (
	ErrCertificateExpired = errors.New("certificate expired")
	ErrNoTurnCred         = errors.New("turn server credentials required")
	ErrTurnCred           = errors.New("invalid turn server credentials")
	ErrExistingTrack      = errors.New("track aready exists")
)

// NotSupportedError indicates the operation is not supported.
type NotSupportedError struct {
	Err error
}

func (e *NotSupportedError) Error() string {
	return fmt.Sprintf("webrtc: NotSupportedError: %v", e.Err)
}

// Types of NotSupportedErrors
var (
	ErrPrivateKeyType = errors.New("private key type not supported")
)

// InvalidModificationError indicates the object can not be modified in this way.
type InvalidModificationError struct {
	Err error
}

func (e *InvalidModificationError) Error() string {
	return fmt.Sprintf("webrtc: InvalidModificationError: %v", e.Err)
}

// Types of InvalidModificationErrors
var (
	ErrModifyingPeerIdentity         = errors.New("peerIdentity cannot be modified")
	ErrModifyingCertificates         = errors.New("certificates cannot be modified")
	ErrModifyingBundlePolicy         = errors.New("bundle policy cannot be modified")
	ErrModifyingRtcpMuxPolicy        = errors.New("rtcp mux policy cannot be modified")
	ErrModifyingIceCandidatePoolSize = errors.New("ice candidate pool size cannot be modified")
)

// SyntaxError indicates the string did not match the expected pattern.
type SyntaxError struct {
	Err error
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("webrtc: SyntaxError: %v", e.Err)
}

// Types of SyntaxErrors
var ()

// TypeError indicates an issue with a supplied value
type TypeError struct {
	Err error
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("webrtc: TypeError: %v", e.Err)
}

// Types of TypeError
var (
	ErrInvalidValue    = errors.New("invalid value")
	ErrStringSizeLimit = errors.New("data channel label exceeds 65535 bytes")
)

// OperationError indicates an issue with execution
type OperationError struct {
	Err error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("webrtc: OperationError: %v", e.Err)
}

// Types of OperationError
var (
	ErrMaxDataChannels             = errors.New("maximum number of datachannels reached")
	ErrMaxDataChannelID            = errors.New("no available data channel ID")
	ErrRetransmitsOrPacketLifeTime = errors.New("both MaxPacketLifeTime and MaxRetransmits were set")
)

// ErrUnknownType indicates a Unknown info
var ErrUnknownType = errors.New("unknown")

// ErrCodecNotFound is returned when a lookup or fuzzy search over a
// codec list comes up empty.
var ErrCodecNotFound = errors.New("codec not found")

// ErrNoPayloaderForCodec is returned when no out-of-scope codec
// payloader (pion/rtp/codecs) is registered for a negotiated mime type.
var ErrNoPayloaderForCodec = errors.New("no payloader for this codec type")
