// Package jitter implements the RTP jitter buffer spec.md §4.5
// (component F): a wrap-aware, sequence-keyed map with frame-boundary
// detection, latency-bounded eviction, and RFC 3550 §A.8 interarrival
// jitter estimation. Grounded on the teacher's
// pkg/media/samplebuilder, generalized from "maxLate in sequence
// numbers" to the spec's "maxLatency in clock-rate units" and given
// the spec's explicit onFrameReady/onFrameDropped event shape instead
// of a single blocking Pop call.
package jitter

// Depacketizer is the codec-specific probe spec.md §4.5 step 2 calls
// "isStart" — a closed sum-type dispatch per Design Notes "Dynamic
// dispatch", implemented by the out-of-scope codec packagers.
type Depacketizer interface {
	IsPartitionHead(payload []byte) bool
}

// Packet is the minimal view the buffer needs of an RTP packet.
type Packet struct {
	Sequence  uint16
	Timestamp uint32
	Payload   []byte
	Size      int // raw wire length, for onFrameReady's totalSize
	Arrival   int64 // arrival time in clock-rate-comparable units (caller-supplied)
}

// Buffer is the per-receiving-transceiver jitter buffer, keyed by
// 16-bit sequence number with wrap-aware arithmetic, per spec.md §3/§4.5.
type Buffer struct {
	entries map[uint16]Packet

	maxLatency uint32 // clock-rate units

	started       bool
	lastPush      uint32
	lastRemoved   uint16
	lastRemovedOK bool

	depacketizer Depacketizer

	// RFC 3550 §A.8 interarrival jitter state.
	jitter         float64
	haveTransit    bool
	previousTransit int64

	OnFrameReady   func(startSeq, endSeq uint16, totalSize int)
	OnFrameDropped func(startSeq, endSeq uint16, timestamp uint32)
	OnDiscarded    func(seq uint16)

	closed bool
}

// New creates an empty Buffer. maxLatency is in the media clock's
// units (e.g. 90000 for a 1s video horizon at a 90kHz clock).
func New(maxLatency uint32, depacketizer Depacketizer) *Buffer {
	return &Buffer{
		entries:      make(map[uint16]Packet),
		maxLatency:   maxLatency,
		depacketizer: depacketizer,
	}
}

// seqBefore reports whether a comes strictly before b in modular
// 16-bit sequence space (wrap-aware, per spec.md §8 "Boundary behaviors").
func seqBefore(a, b uint16) bool {
	return int16(a-b) < 0
}

// seqLTE is seqBefore or equal.
func seqLTE(a, b uint16) bool { return a == b || seqBefore(a, b) }

// tsBefore is the 32-bit analogue used for RTP timestamp comparisons.
func tsBefore(a, b uint32) bool { return int32(a-b) < 0 }

// Push inserts pkt, per spec.md §4.5's numbered push algorithm, then
// runs Pop. arrivalClock is "now" expressed in the same clock-rate
// units as pkt.Timestamp, needed for the jitter estimate.
func (b *Buffer) Push(pkt Packet, arrivalClock int64) {
	if !b.started {
		b.lastRemoved = pkt.Sequence - 1
		b.lastRemovedOK = true
		b.started = true
	}

	if tsBefore(pkt.Timestamp, b.lastPush-b.maxLatency) {
		if b.OnDiscarded != nil {
			b.OnDiscarded(pkt.Sequence)
		}
		return
	}

	if _, exists := b.entries[pkt.Sequence]; exists {
		delete(b.entries, pkt.Sequence)
	}
	b.entries[pkt.Sequence] = pkt

	if tsBefore(b.lastPush, pkt.Timestamp) {
		b.lastPush = pkt.Timestamp
	}

	b.updateJitter(pkt, arrivalClock)
	b.pop(false)
}

// updateJitter implements RFC 3550 §A.8: J += (|D| - J) / 16, where
// D = (arrival - rtpTimestamp) - previousTransit.
func (b *Buffer) updateJitter(pkt Packet, arrivalClock int64) {
	transit := arrivalClock - int64(pkt.Timestamp)
	if !b.haveTransit {
		b.previousTransit = transit
		b.haveTransit = true
		return
	}
	d := float64(transit - b.previousTransit)
	if d < 0 {
		d = -d
	}
	b.jitter += (d - b.jitter) / 16
	b.previousTransit = transit
}

// Jitter returns the current RFC 3550 interarrival jitter estimate.
func (b *Buffer) Jitter() float64 { return b.jitter }

// Close flushes every remaining packet, emitting whatever
// frame-ready/frame-dropped events the contents warrant, per spec.md
// §4.5 "On pop ... or on close".
func (b *Buffer) Close() {
	b.closed = true
	b.pop(true)
}

// pop scans forward from lastRemoved+1 looking for complete frame
// boundaries, per spec.md §4.5's numbered pop algorithm.
func (b *Buffer) pop(closing bool) {
	if !b.lastRemovedOK {
		return
	}

	seq := b.lastRemoved + 1
	startDrop := seq
	haveStart := false

	for {
		pkt, ok := b.entries[seq]
		if !ok {
			if closing {
				if haveStart {
					// [startDrop, seq-1] is contiguous by construction
					// (the scan only advances through present entries).
					// Whether it's complete or truncated depends on
					// whether anything was orphaned past this point:
					// a lone trailing run with nothing left in the map
					// is just the stream's natural end; leftover
					// entries elsewhere mean a real gap forced data loss.
					runLen := int(seq - startDrop)
					if len(b.entries) > runLen {
						b.emitDropped(startDrop, seq-1, b.entries[startDrop].Timestamp)
					} else {
						b.emitReady(startDrop, seq-1)
					}
				}
				b.advanceRemoved(seq - 1)
				return
			}
			break
		}

		if b.depacketizer != nil && b.depacketizer.IsPartitionHead(pkt.Payload) {
			if haveStart {
				// Found the NEXT frame's start: the previous frame,
				// [startDrop, seq-1], is contiguous and definitively
				// complete, regardless of whether we're closing.
				b.emitReady(startDrop, seq-1)
				startDrop = seq
			}
			haveStart = true
		}

		seq++
		if seq == b.lastRemoved {
			break // wrapped all the way around; avoid an infinite loop
		}
	}

	if closing && haveStart {
		// Reached the end of the buffer still inside a frame: it's
		// either contiguous-but-never-closed or has an internal gap;
		// either way, on forced close we drop it.
		b.emitDropped(startDrop, seq-1, b.entries[startDrop].Timestamp)
	}
}

// emitReady fires OnFrameReady for the contiguous, complete frame
// [start,end] and evicts it, per spec.md §4.5 step 3.
func (b *Buffer) emitReady(start, end uint16) {
	totalSize := 0
	for s := start; ; s++ {
		if pkt, ok := b.entries[s]; ok {
			totalSize += pkt.Size
		}
		if s == end {
			break
		}
	}
	if b.OnFrameReady != nil {
		b.OnFrameReady(start, end, totalSize)
	}
	b.dropRange(start, end)
	b.advanceRemoved(end)
}

func (b *Buffer) emitDropped(start, end uint16, ts uint32) {
	if b.OnFrameDropped != nil {
		b.OnFrameDropped(start, end, ts)
	}
	b.dropRange(start, end)
	b.advanceRemoved(end)
}

func (b *Buffer) dropRange(start, end uint16) {
	for s := start; ; s++ {
		delete(b.entries, s)
		if s == end {
			break
		}
	}
}

func (b *Buffer) advanceRemoved(seq uint16) {
	if !b.lastRemovedOK || seqBefore(b.lastRemoved, seq) {
		b.lastRemoved = seq
		b.lastRemovedOK = true
	}
}

// Len reports how many packets are currently buffered (test/diagnostic use).
func (b *Buffer) Len() int { return len(b.entries) }
