package jitter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// alwaysStart treats every packet as a partition head, i.e. one
// packet equals one frame — the simplest depacketizer shape.
type alwaysStart struct{}

func (alwaysStart) IsPartitionHead([]byte) bool { return true }

// markerStart treats a payload whose first byte is 'S' as a partition
// head, letting tests build multi-packet frames.
type markerStart struct{}

func (markerStart) IsPartitionHead(payload []byte) bool {
	return len(payload) > 0 && payload[0] == 'S'
}

func TestBufferEmitsSinglePacketFrames(t *testing.T) {
	var ready [][2]uint16
	b := New(90000, alwaysStart{})
	b.OnFrameReady = func(start, end uint16, size int) {
		ready = append(ready, [2]uint16{start, end})
	}

	b.Push(Packet{Sequence: 100, Timestamp: 1000, Payload: []byte("a"), Size: 1}, 1000)
	b.Push(Packet{Sequence: 101, Timestamp: 2000, Payload: []byte("b"), Size: 1}, 2000)

	if assert.Len(t, ready, 1) {
		assert.Equal(t, [2]uint16{100, 100}, ready[0])
	}
}

func TestBufferAssemblesMultiPacketFrame(t *testing.T) {
	var ready [][2]uint16
	var sizes []int
	b := New(90000, markerStart{})
	b.OnFrameReady = func(start, end uint16, size int) {
		ready = append(ready, [2]uint16{start, end})
		sizes = append(sizes, size)
	}

	b.Push(Packet{Sequence: 10, Timestamp: 100, Payload: []byte("Start"), Size: 5}, 100)
	b.Push(Packet{Sequence: 11, Timestamp: 100, Payload: []byte("mid"), Size: 3}, 100)
	b.Push(Packet{Sequence: 12, Timestamp: 100, Payload: []byte("end"), Size: 3}, 100)
	// next frame's start packet closes out [10,12].
	b.Push(Packet{Sequence: 13, Timestamp: 200, Payload: []byte("Start2"), Size: 6}, 200)

	if assert.Len(t, ready, 1) {
		assert.Equal(t, [2]uint16{10, 12}, ready[0])
		assert.Equal(t, 11, sizes[0])
	}
}

func TestBufferHandlesOutOfOrderArrival(t *testing.T) {
	var ready [][2]uint16
	b := New(90000, markerStart{})
	b.OnFrameReady = func(start, end uint16, size int) {
		ready = append(ready, [2]uint16{start, end})
	}

	b.Push(Packet{Sequence: 5, Timestamp: 100, Payload: []byte("Start"), Size: 5}, 100)
	// sequence 6 delayed; 7 arrives early.
	b.Push(Packet{Sequence: 7, Timestamp: 100, Payload: []byte("end"), Size: 3}, 100)
	assert.Empty(t, ready, "frame incomplete until seq 6 arrives")

	b.Push(Packet{Sequence: 6, Timestamp: 100, Payload: []byte("mid"), Size: 3}, 100)
	b.Push(Packet{Sequence: 8, Timestamp: 200, Payload: []byte("Start2"), Size: 6}, 200)

	if assert.Len(t, ready, 1) {
		assert.Equal(t, [2]uint16{5, 7}, ready[0])
	}
}

func TestBufferDropsFrameMissingPacketOnClose(t *testing.T) {
	var dropped [][2]uint16
	b := New(90000, markerStart{})
	b.OnFrameDropped = func(start, end uint16, ts uint32) {
		dropped = append(dropped, [2]uint16{start, end})
	}

	b.Push(Packet{Sequence: 20, Timestamp: 100, Payload: []byte("Start"), Size: 5}, 100)
	// seq 21 never arrives.
	b.Push(Packet{Sequence: 22, Timestamp: 100, Payload: []byte("end"), Size: 3}, 100)
	b.Close()

	if assert.Len(t, dropped, 1) {
		assert.Equal(t, uint16(20), dropped[0][0])
	}
}

func TestBufferDiscardsPacketsOlderThanHorizon(t *testing.T) {
	var discarded []uint16
	b := New(1000, alwaysStart{})
	b.OnDiscarded = func(seq uint16) { discarded = append(discarded, seq) }

	b.Push(Packet{Sequence: 1, Timestamp: 5000, Payload: []byte("a"), Size: 1}, 5000)
	b.Push(Packet{Sequence: 2, Timestamp: 100, Payload: []byte("b"), Size: 1}, 100)

	if assert.Len(t, discarded, 1) {
		assert.Equal(t, uint16(2), discarded[0])
	}
}

func TestBufferSequenceWrapAround(t *testing.T) {
	var ready [][2]uint16
	b := New(90000, alwaysStart{})
	b.OnFrameReady = func(start, end uint16, size int) {
		ready = append(ready, [2]uint16{start, end})
	}

	b.Push(Packet{Sequence: 65534, Timestamp: 100, Payload: []byte("a"), Size: 1}, 100)
	b.Push(Packet{Sequence: 65535, Timestamp: 200, Payload: []byte("b"), Size: 1}, 200)
	b.Push(Packet{Sequence: 0, Timestamp: 300, Payload: []byte("c"), Size: 1}, 300)
	b.Push(Packet{Sequence: 1, Timestamp: 400, Payload: []byte("d"), Size: 1}, 400)
	b.Close()

	if assert.Len(t, ready, 4) {
		assert.Equal(t, [2]uint16{0, 0}, ready[2])
		assert.Equal(t, [2]uint16{1, 1}, ready[3])
	}
}

func TestJitterEstimateConverges(t *testing.T) {
	b := New(90000, alwaysStart{})
	b.Push(Packet{Sequence: 1, Timestamp: 0, Payload: []byte("a"), Size: 1}, 0)
	assert.Zero(t, b.Jitter())

	b.Push(Packet{Sequence: 2, Timestamp: 160, Payload: []byte("b"), Size: 1}, 200)
	assert.Greater(t, b.Jitter(), 0.0)
}

func TestSeqBeforeWrapAware(t *testing.T) {
	assert.True(t, seqBefore(65535, 0))
	assert.False(t, seqBefore(0, 65535))
	assert.True(t, seqLTE(100, 100))
}
