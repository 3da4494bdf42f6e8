package turn

import "encoding/binary"

// channelDataHeaderLen is the fixed [channel-number:2][length:2] prefix.
const channelDataHeaderLen = 4

// isChannelData reports whether the first byte's top two bits are 01
// (0x40-0x7F), marking a channel-data message, the guard spec.md §4.3
// "Channel-data framing" uses.
func isChannelData(firstByte byte) bool {
	return firstByte&0xC0 == 0x40
}

// encodeChannelData builds [channel-number:2 BE][length:2 BE][payload][pad
// to 4 over a stream transport], per spec.md §6 "TURN channel-data (wire-exact)".
func encodeChannelData(channel uint16, payload []byte, padToFour bool) []byte {
	total := channelDataHeaderLen + len(payload)
	padded := total
	if padToFour {
		if rem := total % 4; rem != 0 {
			padded += 4 - rem
		}
	}
	buf := make([]byte, padded)
	binary.BigEndian.PutUint16(buf[0:2], channel)
	binary.BigEndian.PutUint16(buf[2:4], uint16(len(payload)))
	copy(buf[4:], payload)
	return buf
}

// decodeChannelData parses a single, complete channel-data message
// (the UDP case: spec.md guarantees exactly one per datagram).
func decodeChannelData(buf []byte) (channel uint16, payload []byte, ok bool) {
	if len(buf) < channelDataHeaderLen {
		return 0, nil, false
	}
	channel = binary.BigEndian.Uint16(buf[0:2])
	length := binary.BigEndian.Uint16(buf[2:4])
	if int(length) > len(buf)-channelDataHeaderLen {
		return 0, nil, false
	}
	return channel, buf[channelDataHeaderLen : channelDataHeaderLen+int(length)], true
}

// reassembler accumulates channel-data fragments arriving over a
// stream transport (TCP/TLS), where messages are 4-byte-padded and may
// split across reads, per spec.md §4.3. It is keyed implicitly by call
// order: one reassembler per TURN connection's single TCP stream.
type reassembler struct {
	buf []byte
}

// Feed appends newly read bytes and returns every complete channel-data
// message it can now extract, leaving any partial tail buffered for
// the next call. Non-channel-data bytes (STUN responses interleaved on
// the same stream) are returned as one message flagged stun, holding
// the whole remaining buffer, for the caller to hand to the STUN decoder.
func (r *reassembler) Feed(data []byte) (messages []decodedMessage) {
	r.buf = append(r.buf, data...)

	for {
		if len(r.buf) < channelDataHeaderLen {
			return messages
		}
		if !isChannelData(r.buf[0]) {
			// Not channel-data: the remaining buffer is one or more
			// STUN messages back-to-back; the STUN codec determines
			// its own length from the header, so hand the whole
			// remainder over. Bytes after the first STUN message in
			// it are not fed back into the reassembler.
			messages = append(messages, decodedMessage{stun: true, raw: r.buf})
			r.buf = nil
			return messages
		}

		length := int(binary.BigEndian.Uint16(r.buf[2:4]))
		padded := channelDataHeaderLen + length
		if rem := padded % 4; rem != 0 {
			padded += 4 - rem
		}
		if len(r.buf) < padded {
			return messages // wait for the rest
		}

		channel := binary.BigEndian.Uint16(r.buf[0:2])
		payload := append([]byte(nil), r.buf[channelDataHeaderLen:channelDataHeaderLen+length]...)
		messages = append(messages, decodedMessage{channel: channel, payload: payload})
		r.buf = r.buf[padded:]
	}
}

type decodedMessage struct {
	stun    bool
	raw     []byte
	channel uint16
	payload []byte
}
