// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package webrtc

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/nimbusrtc/webrtc/internal/ice"
)

// errICECandidateMalformed is returned when an SDP a=candidate value
// has too few fields or an unparseable numeric field.
var errICECandidateMalformed = errors.New("malformed ice candidate attribute")

// ICECandidate represents a ice candidate.
type ICECandidate struct {
	statsID        string
	Foundation     string           `json:"foundation"`
	Priority       uint32           `json:"priority"`
	Address        string           `json:"address"`
	Protocol       ICEProtocol      `json:"protocol"`
	Port           uint16           `json:"port"`
	Typ            ICECandidateType `json:"type"`
	Component      uint16           `json:"component"`
	RelatedAddress string           `json:"relatedAddress"`
	RelatedPort    uint16           `json:"relatedPort"`
	TCPType        string           `json:"tcpType"`
	SDPMid         string           `json:"sdpMid"`
	SDPMLineIndex  uint16           `json:"sdpMLineIndex"`
	extensions     string
}

// newICECandidatesFromAgent converts the agent's local candidates into
// the SDP-facing ICECandidate form, one per agent candidate, each
// carrying that candidate's own component number.
func newICECandidatesFromAgent(candidates []*ice.Candidate, sdpMid string, sdpMLineIndex uint16) []ICECandidate {
	out := make([]ICECandidate, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, newICECandidateFromAgent(c, sdpMid, sdpMLineIndex))
	}
	return out
}

func newICECandidateFromAgent(c *ice.Candidate, sdpMid string, sdpMLineIndex uint16) ICECandidate {
	typ, _ := convertTypeFromAgent(c.Kind)

	addr := c.Addr()
	newCandidate := ICECandidate{
		Foundation:    c.Foundation,
		Priority:      c.Priority,
		Address:       addr.NetIP().String(),
		Protocol:      candidateProtocol(c.Transport),
		Port:          addr.Port,
		Component:     uint16(c.Component), //nolint:gosec // G115
		Typ:           typ,
		SDPMid:        sdpMid,
		SDPMLineIndex: sdpMLineIndex,
	}

	if !c.Reflexive.Zero() {
		newCandidate.RelatedAddress = c.Reflexive.NetIP().String()
		newCandidate.RelatedPort = c.Reflexive.Port
	}

	return newCandidate
}

func candidateProtocol(t ice.Transport) ICEProtocol {
	switch t {
	case ice.TransportTCP:
		return ICEProtocolTCP
	default:
		return ICEProtocolUDP
	}
}

func convertTypeFromAgent(k ice.Kind) (ICECandidateType, error) {
	switch k {
	case ice.KindHost:
		return ICECandidateTypeHost, nil
	case ice.KindServerReflexive:
		return ICECandidateTypeSrflx, nil
	case ice.KindPeerReflexive:
		return ICECandidateTypePrflx, nil
	case ice.KindRelay:
		return ICECandidateTypeRelay, nil
	default:
		return ICECandidateType(k), fmt.Errorf("%w: %d", errICECandidateTypeUnknown, k)
	}
}

// marshal renders the SDP a=candidate attribute value (without the
// "candidate:" prefix or the "a=" line marker), per RFC 8445 §15.1:
// foundation component protocol priority address port "typ" type
// [rel-addr addr rel-port port] [tcptype type].
func (c ICECandidate) marshal() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %d %s %d %s %d typ %s",
		c.Foundation, c.Component, c.Protocol, c.Priority, c.Address, c.Port, c.Typ)

	if c.RelatedAddress != "" {
		fmt.Fprintf(&b, " raddr %s rport %d", c.RelatedAddress, c.RelatedPort)
	}

	if c.TCPType != "" {
		fmt.Fprintf(&b, " tcptype %s", c.TCPType)
	}

	if c.extensions != "" {
		fmt.Fprintf(&b, " %s", c.extensions)
	}

	return b.String()
}

func (c ICECandidate) String() string {
	return c.marshal()
}

// parseICECandidateAttr parses an SDP a=candidate attribute value
// (the part after "candidate:") per RFC 8445 §15.1:
// foundation component protocol priority address port "typ" type
// [rel-addr addr rel-port port] [tcptype type] [extension-att-name
// extension-att-value]*.
func parseICECandidateAttr(value, sdpMid string, sdpMLineIndex uint16) (ICECandidate, error) {
	fields := strings.Fields(value)
	if len(fields) < 8 {
		return ICECandidate{}, fmt.Errorf("%w: %q", errICECandidateMalformed, value)
	}

	component, err := strconv.ParseUint(fields[1], 10, 16)
	if err != nil {
		return ICECandidate{}, fmt.Errorf("%w: component: %v", errICECandidateMalformed, err)
	}
	protocol, err := NewICEProtocol(fields[2])
	if err != nil {
		return ICECandidate{}, err
	}
	priority, err := strconv.ParseUint(fields[3], 10, 32)
	if err != nil {
		return ICECandidate{}, fmt.Errorf("%w: priority: %v", errICECandidateMalformed, err)
	}
	port, err := strconv.ParseUint(fields[5], 10, 16)
	if err != nil {
		return ICECandidate{}, fmt.Errorf("%w: port: %v", errICECandidateMalformed, err)
	}
	if fields[6] != "typ" {
		return ICECandidate{}, fmt.Errorf("%w: missing typ", errICECandidateMalformed)
	}
	typ, err := newICECandidateType(fields[7])
	if err != nil {
		return ICECandidate{}, err
	}

	c := ICECandidate{
		Foundation:    fields[0],
		Component:     uint16(component), //nolint:gosec // G115
		Protocol:      protocol,
		Priority:      uint32(priority), //nolint:gosec // G115
		Address:       fields[4],
		Port:          uint16(port), //nolint:gosec // G115
		Typ:           typ,
		SDPMid:        sdpMid,
		SDPMLineIndex: sdpMLineIndex,
	}

	for i := 8; i+1 < len(fields); i += 2 {
		switch fields[i] {
		case "raddr":
			c.RelatedAddress = fields[i+1]
		case "rport":
			if p, err := strconv.ParseUint(fields[i+1], 10, 16); err == nil {
				c.RelatedPort = uint16(p) //nolint:gosec // G115
			}
		case "tcptype":
			c.TCPType = fields[i+1]
		}
	}

	return c, nil
}

// toAgentCandidate converts a parsed SDP candidate into the form the
// ICE agent pairs against, per spec.md §4.7 remote-candidate ingestion.
func (c ICECandidate) toAgentCandidate() (*ice.Candidate, error) {
	ip := net.ParseIP(c.Address)
	if ip == nil {
		return nil, fmt.Errorf("%w: unparseable address %q", errICECandidateMalformed, c.Address)
	}

	var transport ice.Transport
	if c.Protocol == ICEProtocolTCP {
		transport = ice.TransportTCP
	}

	kind, err := convertTypeToAgent(c.Typ)
	if err != nil {
		return nil, err
	}

	remote := ice.NewAddress(ip, c.Port, false)

	var related ice.Address
	if c.RelatedAddress != "" {
		if relatedIP := net.ParseIP(c.RelatedAddress); relatedIP != nil {
			related = ice.NewAddress(relatedIP, c.RelatedPort, false)
		}
	}

	ac := ice.NewCandidate(kind, transport, remote, related, int(c.Component), c.Foundation, 0)
	ac.Priority = c.Priority
	return ac, nil
}

func convertTypeToAgent(t ICECandidateType) (ice.Kind, error) {
	switch t {
	case ICECandidateTypeHost:
		return ice.KindHost, nil
	case ICECandidateTypeSrflx:
		return ice.KindServerReflexive, nil
	case ICECandidateTypePrflx:
		return ice.KindPeerReflexive, nil
	case ICECandidateTypeRelay:
		return ice.KindRelay, nil
	default:
		return 0, fmt.Errorf("%w: %d", errICECandidateTypeUnknown, t)
	}
}

// ToJSON returns an ICECandidateInit
// as indicated by the spec https://w3c.github.io/webrtc-pc/#dom-rtcicecandidate-tojson
func (c ICECandidate) ToJSON() ICECandidateInit {
	return ICECandidateInit{
		Candidate:     fmt.Sprintf("candidate:%s", c.marshal()),
		SDPMid:        &c.SDPMid,
		SDPMLineIndex: &c.SDPMLineIndex,
	}
}
