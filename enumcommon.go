package webrtc

// Unknown is the zero-value sentinel every string-backed enum in this
// package converts to when a value fails to parse (e.g.
// BundlePolicy(Unknown), RTPTransceiverDirection(Unknown)).
const Unknown = 0

// unknownStr is the String() text paired with Unknown.
const unknownStr = "unknown"
