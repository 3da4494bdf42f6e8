package turn

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEncodeDecodeChannelDataUDP(t *testing.T) {
	payload := []byte("hello turn")
	framed := encodeChannelData(0x4001, payload, false)

	ch, got, ok := decodeChannelData(framed)
	assert.True(t, ok)
	assert.Equal(t, uint16(0x4001), ch)
	assert.Equal(t, payload, got)
}

func TestReassemblerHandlesSplitAcrossReads(t *testing.T) {
	payload := []byte("fragmented payload over tcp")
	framed := encodeChannelData(0x4002, payload, true)

	var r reassembler
	mid := len(framed) / 2
	msgs := r.Feed(framed[:mid])
	assert.Empty(t, msgs, "partial frame should not yet decode")

	msgs = r.Feed(framed[mid:])
	if assert.Len(t, msgs, 1) {
		assert.Equal(t, uint16(0x4002), msgs[0].channel)
		assert.Equal(t, payload, msgs[0].payload)
	}
}

func TestReassemblerHandlesMultipleFramesInOneRead(t *testing.T) {
	a := encodeChannelData(0x4003, []byte("one"), true)
	b := encodeChannelData(0x4004, []byte("two"), true)

	var r reassembler
	msgs := r.Feed(append(append([]byte(nil), a...), b...))
	if assert.Len(t, msgs, 2) {
		assert.Equal(t, []byte("one"), msgs[0].payload)
		assert.Equal(t, []byte("two"), msgs[1].payload)
	}
}

func TestIsChannelDataGuard(t *testing.T) {
	assert.True(t, isChannelData(0x40))
	assert.True(t, isChannelData(0x7F))
	assert.False(t, isChannelData(0x00)) // STUN
	assert.False(t, isChannelData(0x80)) // SRTP range, not channel-data
}
