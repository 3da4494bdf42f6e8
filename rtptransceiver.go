package webrtc

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"

	"github.com/nimbusrtc/webrtc/internal/jitter"
	"github.com/nimbusrtc/webrtc/internal/rtcring"
)

var (
	errTransceiverClosed  = errors.New("webrtc: transceiver closed")
	errTransceiverNoSRTP  = errors.New("webrtc: SRTP not yet ready")
	errTransceiverEncoder = errors.New("webrtc: packetizer returned no packets")
)

const (
	srMeanInterval       = 200 * time.Millisecond
	srJitterSpread       = 100 * time.Millisecond
	srMinSinceFirstFrame = 2500 * time.Millisecond
	hugeFrameFactor      = 2.5
	fpsWindow            = 1 * time.Second

	ntpEpochOffset = 2208988800 // seconds between 1900-01-01 and 1970-01-01
)

// Encryptor is the SRTP/SRTCP collaborator a transceiver encrypts
// outbound packets through and decrypts inbound packets through. It is
// an out-of-scope external collaborator per spec.md §4.6; production
// callers satisfy it with github.com/pion/srtp/v3.
type Encryptor interface {
	EncryptRTP(header *rtp.Header, payload []byte) ([]byte, error)
	EncryptRTCP(pkt rtcp.Packet) ([]byte, error)
	DecryptRTP(packet []byte) (*rtp.Packet, error)
}

// Sender transmits already-encrypted wire bytes, typically a thin
// wrapper over internal/netio's demuxed SRTP/SRTCP endpoint.
type Sender interface {
	SendPacket(payload []byte) error
}

// Packetizer splits one encoded frame into RTP payloads, out-of-scope
// per spec.md (satisfied by github.com/pion/rtp/codecs in production).
type Packetizer interface {
	Packetize(payload []byte, samples uint32) [][]byte
}

// TransceiverStats mirrors the named counters spec.md §4.6 requires.
type TransceiverStats struct {
	FramesEncoded    uint64
	FramesSent       uint64
	KeyframesEncoded uint64
	BytesSent        uint64
	PacketsSent      uint64
	HugeFramesSent   uint64
	FramesPerSecond  float64

	FramesDiscardedOnSend  uint64
	BytesDiscardedOnSend   uint64
	PacketsDiscardedOnSend uint64

	FramesReceived          uint64
	PacketsDiscarded        uint64
	PacketsFailedDecryption uint64
	JitterBufferDelay       time.Duration
}

// RTPTransceiver owns one SSRC's send and receive path: packetize,
// stamp RTP headers, store outbound packets in a retransmit ring,
// encrypt and transmit on send; decrypt, feed the jitter buffer and
// assemble frames on receive. Replaces the teacher's split
// RTPSender/RTPReceiver pair with the single object spec.md §4.6
// describes.
type RTPTransceiver struct {
	mu sync.Mutex

	id        string
	ssrc      SSRC
	clockRate uint32

	packetizer Packetizer
	encryptor  Encryptor
	sender     Sender
	retransmit *rtcring.Ring
	jitterBuf  *jitter.Buffer

	nextSeq uint16

	firstFrameAt time.Time
	lastSRAt     time.Time

	fpsWindowStart time.Time
	fpsWindowCount uint64

	stats  TransceiverStats
	closed bool

	// OnPictureLoss fires when a PLI/FIR is handled for this SSRC.
	OnPictureLoss func()
	// OnBandwidthEstimation fires when a REMB names this SSRC.
	OnBandwidthEstimation func(bps uint64)
}

// NewRTPTransceiver constructs a transceiver for one SSRC. depacketizer
// and maxLatency are forwarded to the embedded jitter buffer
// (internal/jitter) unchanged.
func NewRTPTransceiver(id string, ssrc SSRC, clockRate uint32, packetizer Packetizer, encryptor Encryptor, sender Sender, depacketizer jitter.Depacketizer, maxLatency uint32) (*RTPTransceiver, error) {
	if encryptor == nil {
		return nil, errTransceiverNoSRTP
	}

	t := &RTPTransceiver{
		id:         id,
		ssrc:       ssrc,
		clockRate:  clockRate,
		packetizer: packetizer,
		encryptor:  encryptor,
		sender:     sender,
		retransmit: rtcring.New(rtcring.DefaultRetain),
		jitterBuf:  jitter.New(maxLatency, depacketizer),
	}
	t.jitterBuf.OnFrameReady = t.handleFrameReady
	t.jitterBuf.OnFrameDropped = t.handleFrameDropped
	t.jitterBuf.OnDiscarded = func(uint16) {
		t.mu.Lock()
		t.stats.PacketsDiscarded++
		t.mu.Unlock()
	}
	return t, nil
}

// ID returns the transceiver's mid-like identifier.
func (t *RTPTransceiver) ID() string { return t.id }

// SetEncryptor rebinds the transceiver's Encryptor. PeerConnection
// calls this once its DTLS handshake completes and real SRTP keys
// become available, since transceivers are routinely registered
// before that point.
func (t *RTPTransceiver) SetEncryptor(e Encryptor) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.encryptor = e
}

// SSRC returns the synchronization source this transceiver sends/receives as.
func (t *RTPTransceiver) SSRC() SSRC { return t.ssrc }

// WriteFrame packetizes, RTP-stamps, stores for retransmission,
// encrypts, and transmits one encoded frame, per spec.md §4.6 "send
// path". presentedAt feeds the RTP timestamp; samples is the duration
// of this frame in clockRate units.
func (t *RTPTransceiver) WriteFrame(frame []byte, presentedAt time.Time, samples uint32, keyframe bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return errTransceiverClosed
	}

	payloads := t.packetizer.Packetize(frame, samples)
	if len(payloads) == 0 {
		t.stats.FramesDiscardedOnSend++
		t.stats.BytesDiscardedOnSend += uint64(len(frame))
		return errTransceiverEncoder
	}

	if t.firstFrameAt.IsZero() {
		t.firstFrameAt = presentedAt
	}

	rtpTimestamp := uint32(presentedAt.Unix())*t.clockRate + uint32(presentedAt.Nanosecond())/(1e9/t.clockRate)

	var frameBytes int
	for i, payload := range payloads {
		header := &rtp.Header{
			Version:        2,
			Marker:         i == len(payloads)-1,
			SequenceNumber: t.nextSeq,
			Timestamp:      rtpTimestamp,
			SSRC:           uint32(t.ssrc),
		}

		wire, err := t.encryptor.EncryptRTP(header, payload)
		if err != nil {
			t.stats.PacketsDiscardedOnSend++
			t.stats.BytesDiscardedOnSend += uint64(len(payload))
			t.nextSeq++
			continue
		}

		t.retransmit.Store(t.nextSeq, wire, presentedAt)

		if err := t.sender.SendPacket(wire); err != nil {
			t.stats.PacketsDiscardedOnSend++
			t.stats.BytesDiscardedOnSend += uint64(len(wire))
			t.nextSeq++
			continue
		}

		t.stats.PacketsSent++
		t.stats.BytesSent += uint64(len(wire))
		frameBytes += len(wire)
		t.nextSeq++
	}

	t.stats.FramesEncoded++
	t.stats.FramesSent++
	if keyframe {
		t.stats.KeyframesEncoded++
	}
	if float64(frameBytes) >= hugeFrameFactor*float64(len(frame)+1) {
		t.stats.HugeFramesSent++
	}

	t.updateFramesPerSecondLocked(presentedAt)

	return nil
}

// updateFramesPerSecondLocked maintains an EMA of frames/sec over
// fpsWindow-sized windows. Must be called with t.mu held.
func (t *RTPTransceiver) updateFramesPerSecondLocked(now time.Time) {
	if t.fpsWindowStart.IsZero() {
		t.fpsWindowStart = now
	}
	t.fpsWindowCount++

	elapsed := now.Sub(t.fpsWindowStart)
	if elapsed < fpsWindow {
		return
	}

	instant := float64(t.fpsWindowCount) / elapsed.Seconds()
	const alpha = 0.2
	if t.stats.FramesPerSecond == 0 {
		t.stats.FramesPerSecond = instant
	} else {
		t.stats.FramesPerSecond = alpha*instant + (1-alpha)*t.stats.FramesPerSecond
	}

	t.fpsWindowStart = now
	t.fpsWindowCount = 0
}

// HandleNACK decodes a TransportLayerNack's PID+BLP bitmasks and
// retransmits any packets this transceiver still has in its ring, per
// spec.md §4.6 "NACK-driven retransmission".
func (t *RTPTransceiver) HandleNACK(nack *rtcp.TransportLayerNack) {
	if nack == nil || nack.MediaSSRC != uint32(t.ssrc) {
		return
	}

	for _, pair := range nack.Nacks {
		t.retransmitIfPresent(pair.PacketID)
		blp := uint16(pair.LostPackets)
		for bit := uint16(0); bit < 16; bit++ {
			if blp&(1<<bit) != 0 {
				t.retransmitIfPresent(pair.PacketID + bit + 1)
			}
		}
	}
}

func (t *RTPTransceiver) retransmitIfPresent(seq uint16) {
	wire, ok := t.retransmit.Lookup(seq)
	if !ok {
		return
	}
	if err := t.sender.SendPacket(wire); err == nil {
		t.mu.Lock()
		t.stats.PacketsSent++
		t.stats.BytesSent += uint64(len(wire))
		t.mu.Unlock()
	}
}

// ShouldSendSR reports whether a Sender Report is due: spec.md §4.6
// schedules SRs on a 200ms±100ms interval, no sooner than 2.5s after
// the first frame was sent.
func (t *RTPTransceiver) ShouldSendSR(now time.Time, jitterSpread time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.firstFrameAt.IsZero() || now.Sub(t.firstFrameAt) < srMinSinceFirstFrame {
		return false
	}
	if t.lastSRAt.IsZero() {
		return true
	}
	return now.Sub(t.lastSRAt) >= srMeanInterval-jitterSpread
}

// BuildSR constructs a Sender Report for the current send-side counters.
func (t *RTPTransceiver) BuildSR(now time.Time) (*rtcp.SenderReport, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, errTransceiverClosed
	}

	t.lastSRAt = now
	rtpTimestamp := uint32(now.Unix())*t.clockRate + uint32(now.Nanosecond())/(1e9/t.clockRate)

	return &rtcp.SenderReport{
		SSRC:        uint32(t.ssrc),
		NTPTime:     toNTP(now),
		RTPTime:     rtpTimestamp,
		PacketCount: uint32(t.stats.PacketsSent),
		OctetCount:  uint32(t.stats.BytesSent),
	}, nil
}

// toNTP converts a wall-clock time to the 64-bit fixed-point NTP
// timestamp RTCP Sender Reports use: seconds since 1900-01-01 in the
// high 32 bits, fractional seconds in the low 32.
func toNTP(t time.Time) uint64 {
	secs := uint64(t.Unix() + ntpEpochOffset)
	frac := uint64(t.Nanosecond()) << 32 / 1e9
	return secs<<32 | frac
}

// ReceivePacket decrypts an inbound wire packet and feeds it to the
// jitter buffer, per spec.md §4.6 "receive path". arrivalClock is a
// monotonic clock sample used for jitter estimation, independent of
// the RTP timestamp's media clock.
func (t *RTPTransceiver) ReceivePacket(wire []byte, arrivalClock int64) {
	pkt, err := t.encryptor.DecryptRTP(wire)
	if err != nil {
		t.mu.Lock()
		t.stats.PacketsFailedDecryption++
		t.mu.Unlock()
		return
	}

	t.jitterBuf.Push(jitter.Packet{
		Sequence:  pkt.SequenceNumber,
		Timestamp: pkt.Timestamp,
		Payload:   pkt.Payload,
		Size:      len(wire),
	}, arrivalClock)
}

func (t *RTPTransceiver) handleFrameReady(start, end uint16, totalSize int) {
	t.mu.Lock()
	t.stats.FramesReceived++
	t.stats.JitterBufferDelay = time.Duration(t.jitterBuf.Jitter()) * time.Millisecond
	t.mu.Unlock()
}

func (t *RTPTransceiver) handleFrameDropped(start, end uint16, ts uint32) {
	t.mu.Lock()
	t.stats.PacketsDiscarded++
	t.mu.Unlock()
}

// Stats returns a snapshot of this transceiver's counters.
func (t *RTPTransceiver) Stats() TransceiverStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}

// Close stops accepting new frames and flushes the jitter buffer.
func (t *RTPTransceiver) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	t.jitterBuf.Close()
	return nil
}

func (t *RTPTransceiver) String() string {
	return fmt.Sprintf("RTPTransceiver(id=%s ssrc=%d)", t.id, t.ssrc)
}
