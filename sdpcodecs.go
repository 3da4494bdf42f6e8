package webrtc

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pion/sdp/v3"
)

// codecsFromMediaDescription extracts every negotiated codec out of a
// remote m-line: rtpmap gives name/clock-rate/channels, fmtp gives
// format parameters, rtcp-fb gives feedback mechanisms. It reads back
// the shape buildSessionDescription writes with WithCodec, for
// updateFromRemoteDescription.
func codecsFromMediaDescription(m *sdp.MediaDescription) ([]RTPCodecParameters, error) {
	out := []RTPCodecParameters{}

	codecParams := map[string]*RTPCodecParameters{}
	order := []string{}

	for _, payloadStr := range m.MediaName.Formats {
		pt, err := strconv.ParseUint(payloadStr, 10, 8)
		if err != nil {
			return nil, fmt.Errorf("webrtc: invalid payload type %q: %w", payloadStr, err)
		}
		order = append(order, payloadStr)
		codecParams[payloadStr] = &RTPCodecParameters{
			PayloadType: PayloadType(pt),
		}
	}

	for _, attr := range m.Attributes {
		switch attr.Key {
		case "rtpmap":
			pt, name, clockRate, channels, err := parseRTPMap(attr.Value)
			if err != nil {
				continue
			}
			if c, ok := codecParams[pt]; ok {
				c.MimeType = m.MediaName.Media + "/" + name
				c.ClockRate = clockRate
				c.Channels = channels
			}
		case "fmtp":
			fields := strings.SplitN(attr.Value, " ", 2)
			if len(fields) != 2 {
				continue
			}
			if c, ok := codecParams[fields[0]]; ok {
				c.SDPFmtpLine = fields[1]
			}
		case "rtcp-fb":
			fields := strings.SplitN(attr.Value, " ", 2)
			if len(fields) == 0 {
				continue
			}
			c, ok := codecParams[fields[0]]
			if !ok {
				continue
			}
			fb := RTCPFeedback{}
			if len(fields) == 2 {
				fbFields := strings.SplitN(fields[1], " ", 2)
				fb.Type = fbFields[0]
				if len(fbFields) == 2 {
					fb.Parameter = fbFields[1]
				}
			}
			c.RTCPFeedback = append(c.RTCPFeedback, fb)
		}
	}

	for _, pt := range order {
		c := codecParams[pt]
		if c.MimeType == "" {
			continue // format listed in the m-line but never rtpmap'd
		}
		out = append(out, *c)
	}
	return out, nil
}

// parseRTPMap splits an "rtpmap:<pt> <name>/<clockrate>[/<channels>]"
// attribute value (the "rtpmap:" key has already been stripped by the
// sdp parser) into its fields.
func parseRTPMap(value string) (pt, name string, clockRate uint32, channels uint16, err error) {
	fields := strings.SplitN(value, " ", 2)
	if len(fields) != 2 {
		return "", "", 0, 0, fmt.Errorf("webrtc: malformed rtpmap %q", value)
	}
	pt = fields[0]

	parts := strings.Split(fields[1], "/")
	name = parts[0]

	if len(parts) > 1 {
		rate, convErr := strconv.ParseUint(parts[1], 10, 32)
		if convErr != nil {
			return "", "", 0, 0, convErr
		}
		clockRate = uint32(rate)
	}

	channels = 1
	if len(parts) > 2 {
		ch, convErr := strconv.ParseUint(parts[2], 10, 16)
		if convErr == nil {
			channels = uint16(ch)
		}
	}

	return pt, name, clockRate, channels, nil
}

// rtpExtensionsFromMediaDescription reads every extmap attribute in an
// m-line into a uri -> id map, per RFC 8285, using pion/sdp/v3's
// ExtMap parser.
func rtpExtensionsFromMediaDescription(m *sdp.MediaDescription) (map[string]int, error) {
	out := map[string]int{}

	for _, attr := range m.Attributes {
		if attr.Key != "extmap" {
			continue
		}
		var e sdp.ExtMap
		if err := e.Unmarshal("extmap:" + attr.Value); err != nil {
			return nil, err
		}
		out[e.URI.String()] = e.Value
	}

	return out, nil
}
