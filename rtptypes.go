package webrtc

// PayloadType identifies the format of an RTP payload, negotiated via
// the SDP m-line and rtpmap/fmtp attributes, per spec.md §4.7 "SDP".
type PayloadType uint8

// SSRC is an RTP synchronization source identifier.
type SSRC uint32
