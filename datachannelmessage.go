package webrtc

// DataChannelMessage represents a message received over a DataChannel,
// per RFC 8831's distinction between the WebSocket-style binary and
// text DCEP payload types.
type DataChannelMessage struct {
	IsString bool
	Data     []byte
}
