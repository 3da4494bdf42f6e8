package webrtc

import (
	"errors"
	"testing"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePacketizer struct{}

func (fakePacketizer) Packetize(payload []byte, samples uint32) [][]byte {
	return [][]byte{payload}
}

type fakeEncryptor struct {
	decryptErr error
}

func (fakeEncryptor) EncryptRTP(header *rtp.Header, payload []byte) ([]byte, error) {
	return append([]byte{byte(header.SequenceNumber)}, payload...), nil
}

func (fakeEncryptor) EncryptRTCP(pkt rtcp.Packet) ([]byte, error) {
	return []byte("rtcp"), nil
}

func (e fakeEncryptor) DecryptRTP(packet []byte) (*rtp.Packet, error) {
	if e.decryptErr != nil {
		return nil, e.decryptErr
	}
	return &rtp.Packet{
		Header:  rtp.Header{SequenceNumber: uint16(packet[0]), Timestamp: 1000},
		Payload: packet[1:],
	}, nil
}

type fakeSender struct {
	sent [][]byte
	err  error
}

func (s *fakeSender) SendPacket(payload []byte) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, payload)
	return nil
}

type fakeDepacketizer struct{}

func (fakeDepacketizer) IsPartitionHead([]byte) bool { return true }

func newTestTransceiver(t *testing.T, sender *fakeSender, enc *fakeEncryptor) *RTPTransceiver {
	t.Helper()
	tr, err := NewRTPTransceiver("0", SSRC(1234), 90000, fakePacketizer{}, enc, sender, fakeDepacketizer{}, 90000)
	require.NoError(t, err)
	return tr
}

func TestNewRTPTransceiverRequiresEncryptor(t *testing.T) {
	_, err := NewRTPTransceiver("0", SSRC(1), 90000, fakePacketizer{}, nil, &fakeSender{}, fakeDepacketizer{}, 90000)
	assert.ErrorIs(t, err, errTransceiverNoSRTP)
}

func TestWriteFrameSendsAndStoresForRetransmit(t *testing.T) {
	sender := &fakeSender{}
	tr := newTestTransceiver(t, sender, &fakeEncryptor{})

	err := tr.WriteFrame([]byte("hello"), time.Now(), 3000, true)
	require.NoError(t, err)

	assert.Len(t, sender.sent, 1)
	stats := tr.Stats()
	assert.Equal(t, uint64(1), stats.FramesEncoded)
	assert.Equal(t, uint64(1), stats.FramesSent)
	assert.Equal(t, uint64(1), stats.KeyframesEncoded)
	assert.Equal(t, uint64(1), stats.PacketsSent)

	wire, ok := tr.retransmit.Lookup(0)
	assert.True(t, ok)
	assert.Equal(t, sender.sent[0], wire)
}

func TestWriteFrameRejectsWhenClosed(t *testing.T) {
	sender := &fakeSender{}
	tr := newTestTransceiver(t, sender, &fakeEncryptor{})
	require.NoError(t, tr.Close())

	err := tr.WriteFrame([]byte("hello"), time.Now(), 3000, false)
	assert.ErrorIs(t, err, errTransceiverClosed)
}

func TestHandleNACKRetransmitsStoredPacket(t *testing.T) {
	sender := &fakeSender{}
	tr := newTestTransceiver(t, sender, &fakeEncryptor{})

	require.NoError(t, tr.WriteFrame([]byte("a"), time.Now(), 3000, false))
	require.NoError(t, tr.WriteFrame([]byte("b"), time.Now(), 3000, false))
	require.Len(t, sender.sent, 2)

	tr.HandleNACK(&rtcp.TransportLayerNack{
		MediaSSRC: 1234,
		Nacks:     []rtcp.NackPair{{PacketID: 0}},
	})

	assert.Len(t, sender.sent, 3, "retransmit should resend the missing packet")
}

func TestHandleNACKIgnoresOtherSSRC(t *testing.T) {
	sender := &fakeSender{}
	tr := newTestTransceiver(t, sender, &fakeEncryptor{})
	require.NoError(t, tr.WriteFrame([]byte("a"), time.Now(), 3000, false))

	tr.HandleNACK(&rtcp.TransportLayerNack{MediaSSRC: 9999, Nacks: []rtcp.NackPair{{PacketID: 0}}})

	assert.Len(t, sender.sent, 1)
}

func TestShouldSendSRRespectsMinimumSinceFirstFrame(t *testing.T) {
	sender := &fakeSender{}
	tr := newTestTransceiver(t, sender, &fakeEncryptor{})

	start := time.Now()
	require.NoError(t, tr.WriteFrame([]byte("a"), start, 3000, false))

	assert.False(t, tr.ShouldSendSR(start.Add(1*time.Second), srJitterSpread))
	assert.True(t, tr.ShouldSendSR(start.Add(3*time.Second), srJitterSpread))
}

func TestBuildSRReflectsSendCounters(t *testing.T) {
	sender := &fakeSender{}
	tr := newTestTransceiver(t, sender, &fakeEncryptor{})
	now := time.Now()
	require.NoError(t, tr.WriteFrame([]byte("abc"), now, 3000, false))

	sr, err := tr.BuildSR(now.Add(3 * time.Second))
	require.NoError(t, err)
	assert.Equal(t, uint32(1234), sr.SSRC)
	assert.Equal(t, uint32(1), sr.PacketCount)
}

func TestReceivePacketFeedsJitterBuffer(t *testing.T) {
	sender := &fakeSender{}
	tr := newTestTransceiver(t, sender, &fakeEncryptor{})

	var gotReady bool
	countFrame := tr.jitterBuf.OnFrameReady
	tr.jitterBuf.OnFrameReady = func(start, end uint16, size int) {
		gotReady = true
		countFrame(start, end, size)
	}

	tr.ReceivePacket([]byte{0, 'x'}, 1000)
	tr.ReceivePacket([]byte{1, 'y'}, 2000)

	assert.True(t, gotReady)
	assert.Equal(t, uint64(1), tr.Stats().FramesReceived)
}

func TestReceivePacketCountsFailedDecryption(t *testing.T) {
	sender := &fakeSender{}
	tr := newTestTransceiver(t, sender, &fakeEncryptor{decryptErr: errors.New("bad auth tag")})

	tr.ReceivePacket([]byte{0, 'x'}, 1000)

	assert.Equal(t, uint64(1), tr.Stats().PacketsFailedDecryption)
}

func TestCloseIsIdempotent(t *testing.T) {
	sender := &fakeSender{}
	tr := newTestTransceiver(t, sender, &fakeEncryptor{})
	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())
}
