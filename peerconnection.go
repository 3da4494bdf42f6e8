// +build !js

package webrtc

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/pion/datachannel"
	"github.com/pion/dtls/v3"
	"github.com/pion/logging"
	"github.com/pion/rtcp"
	"github.com/pion/sctp"
	"github.com/pion/sdp/v3"

	"github.com/nimbusrtc/webrtc/internal/ice"
)

// Byte ranges the inbound demultiplexer uses to classify a datagram
// once the ICE agent has already pulled STUN (0-3) out, per spec.md
// §4.7 "Inbound Demultiplexer": DTLS occupies 20-63, SRTP/SRTCP
// occupies 128-191 with the second byte distinguishing SRTCP
// (192-223) from SRTP.
const (
	firstByteDTLSMin  = 20
	firstByteDTLSMax  = 63
	firstByteRTPMin   = 128
	firstByteRTPMax   = 191
	secondByteRTCPMin = 192
	secondByteRTCPMax = 223
)

var errNoCertificate = errors.New("webrtc: no certificate configured")

// PeerConnection represents a WebRTC connection that establishes a
// peer-to-peer communication with another PeerConnection instance,
// per spec.md §4.7. It owns one internal/ice.Agent, the DTLS session
// built over the agent's selected pair, the SCTP association carrying
// data channels, and the registry of per-SSRC RTPTransceivers.
type PeerConnection struct {
	mu sync.Mutex

	api           *API
	configuration Configuration
	certificate   *Certificate
	log           logging.LeveledLogger
	logFactory    logging.LoggerFactory

	agent *ice.Agent

	signalingState     SignalingState
	iceGatheringState  ICEGatheringState
	iceConnectionState ICEConnectionState
	dtlsState          DTLSTransportState
	connectionState    PeerConnectionState

	currentLocalDescription  *SessionDescription
	pendingLocalDescription  *SessionDescription
	currentRemoteDescription *SessionDescription
	pendingRemoteDescription *SessionDescription

	remoteUfrag string
	remotePwd   string

	dtlsRole DTLSRole
	dtlsConn *dtls.Conn

	srtpEncryptor *dtlsSRTPEncryptor

	sctpTransport *SCTPTransport
	dataChannels  map[uint16]*DataChannel

	transceivers []*transceiverEntry

	inbound chan inboundDTLSRecord

	closed bool

	onSignalingStateChangeHandler     func(SignalingState)
	onICEConnectionStateChangeHandler func(ICEConnectionState)
	onICEGatheringStateChangeHandler  func(ICEGatheringState)
	onConnectionStateChangeHandler    func(PeerConnectionState)
	onICECandidateHandler             func(*ICECandidate)
	onDataChannelHandler              func(*DataChannel)
	onTrackHandler                    func(*RTPTransceiver)
}

// transceiverEntry pairs a registered RTPTransceiver with the mid and
// media kind it negotiates under, since RTPTransceiver itself (per
// spec.md §4.6) is scoped to one SSRC's send/receive path only.
type transceiverEntry struct {
	mid         string
	kind        RTPCodecType
	direction   RTPTransceiverDirection
	transceiver *RTPTransceiver
}

// inboundDTLSRecord is one demultiplexed DTLS datagram queued for the
// dtlsConn adapter's Read side.
type inboundDTLSRecord struct {
	data []byte
}

// NewPeerConnection creates a PeerConnection with the default codec
// set. See API.NewPeerConnection for the full constructor.
func NewPeerConnection(configuration Configuration) (*PeerConnection, error) {
	m := MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}
	api := NewAPI(WithMediaEngine(m))
	return api.NewPeerConnection(configuration)
}

// NewPeerConnection constructs a new PeerConnection against the
// receiver's MediaEngine/SettingEngine, starting ICE gathering
// immediately (spec.md §4.4 "Gathering" begins at construction, not
// at the first setLocalDescription).
func (api *API) NewPeerConnection(configuration Configuration) (*PeerConnection, error) {
	logFactory := api.settingEngine.LoggerFactory
	if logFactory == nil {
		logFactory = logging.NewDefaultLoggerFactory()
	}

	pc := &PeerConnection{
		api:                api,
		configuration:      configuration,
		log:                logFactory.NewLogger("pc"),
		logFactory:         logFactory,
		signalingState:     SignalingStateStable,
		iceGatheringState:  ICEGatheringStateNew,
		iceConnectionState: ICEConnectionStateNew,
		dtlsState:          DTLSTransportStateNew,
		connectionState:    PeerConnectionStateNew,
		dataChannels:       make(map[uint16]*DataChannel),
		inbound:            make(chan inboundDTLSRecord, 64),
	}

	if len(configuration.Certificates) > 0 {
		pc.certificate = &configuration.Certificates[0]
	} else {
		key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			return nil, err
		}
		cert, err := GenerateCertificate(key)
		if err != nil {
			return nil, err
		}
		pc.certificate = cert
	}

	iceConfig := ice.Config{Controlling: false}
	for _, server := range configuration.getICEServers() {
		urls, err := server.urls()
		if err != nil {
			return nil, err
		}
		cred, _ := server.Credential.(string)
		for _, u := range urls {
			iceConfig.Servers = append(iceConfig.Servers, ice.ServerConfig{
				URL:        u,
				Username:   server.Username,
				Credential: cred,
				Transport:  ice.TransportUDP,
			})
		}
	}

	agent, err := ice.NewAgent(iceConfig, logFactory)
	if err != nil {
		return nil, err
	}
	pc.agent = agent
	agent.OnStateChange = pc.handleICEStateChange
	agent.OnLocalCandidate = pc.handleLocalCandidate
	agent.OnData = pc.handleAgentData

	pc.iceGatheringState = ICEGatheringStateGathering
	if err := agent.Start(); err != nil {
		return nil, err
	}
	pc.iceGatheringState = ICEGatheringStateComplete
	if pc.onICEGatheringStateChangeHandler != nil {
		pc.onICEGatheringStateChangeHandler(pc.iceGatheringState)
	}

	return pc, nil
}

// OnICECandidate sets an event handler fired once per newly gathered
// local candidate.
func (pc *PeerConnection) OnICECandidate(f func(*ICECandidate)) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.onICECandidateHandler = f
}

// OnICEConnectionStateChange sets an event handler fired on ICE
// connection state transitions.
func (pc *PeerConnection) OnICEConnectionStateChange(f func(ICEConnectionState)) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.onICEConnectionStateChangeHandler = f
}

// OnICEGatheringStateChange sets an event handler fired on ICE
// gathering state transitions.
func (pc *PeerConnection) OnICEGatheringStateChange(f func(ICEGatheringState)) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.onICEGatheringStateChangeHandler = f
}

// OnConnectionStateChange sets an event handler fired whenever the
// aggregate PeerConnectionState changes.
func (pc *PeerConnection) OnConnectionStateChange(f func(PeerConnectionState)) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.onConnectionStateChangeHandler = f
}

// OnSignalingStateChange sets an event handler fired on every
// signaling state transition.
func (pc *PeerConnection) OnSignalingStateChange(f func(SignalingState)) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.onSignalingStateChangeHandler = f
}

// OnDataChannel sets an event handler fired when the remote peer opens
// a data channel on this connection.
func (pc *PeerConnection) OnDataChannel(f func(*DataChannel)) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.onDataChannelHandler = f
}

// OnTrack sets an event handler fired when a new RTPTransceiver is
// negotiated for an SSRC described in the remote description.
func (pc *PeerConnection) OnTrack(f func(*RTPTransceiver)) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.onTrackHandler = f
}

// AddTransceiver registers an already-constructed RTPTransceiver under
// a mid, so CreateOffer/CreateAnswer include a media section for it
// and inbound RTP/RTCP for its SSRC dispatches to it.
func (pc *PeerConnection) AddTransceiver(kind RTPCodecType, direction RTPTransceiverDirection, t *RTPTransceiver) string {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	mid := fmt.Sprintf("%d", len(pc.transceivers))
	pc.transceivers = append(pc.transceivers, &transceiverEntry{
		mid:         mid,
		kind:        kind,
		direction:   direction,
		transceiver: t,
	})
	if pc.srtpEncryptor != nil {
		t.SetEncryptor(pc.srtpEncryptor)
	}
	return mid
}

// CreateDataChannel creates a new DataChannel object with the given
// label and optional DataChannelInit used to configure properties of
// the underlying channel such as data reliability, per spec.md §3's
// Data channel registry component. If the SCTP association is already
// up the channel opens immediately; otherwise it opens once
// maybeStartDTLSAndSCTP completes.
func (pc *PeerConnection) CreateDataChannel(label string, options *DataChannelInit) (*DataChannel, error) {
	pc.mu.Lock()
	if pc.closed {
		pc.mu.Unlock()
		return nil, &InvalidStateError{Err: ErrConnectionClosed}
	}

	params := &DataChannelParameters{
		Label:   label,
		Ordered: true,
	}

	if options == nil || options.ID == nil {
		id, err := pc.generateDataChannelID(pc.dtlsRole == DTLSRoleClient)
		if err != nil {
			pc.mu.Unlock()
			return nil, err
		}
		params.ID = id
	} else {
		params.ID = *options.ID
	}

	if options != nil {
		if options.Ordered != nil {
			params.Ordered = *options.Ordered
		}
		if options.MaxPacketLifeTime != nil {
			params.MaxPacketLifeTime = options.MaxPacketLifeTime
		}
		if options.MaxRetransmits != nil {
			params.MaxRetransmits = options.MaxRetransmits
		}
		if options.Protocol != nil {
			params.Protocol = *options.Protocol
		}
		if options.Negotiated != nil {
			params.Negotiated = *options.Negotiated
		}
	}

	if params.MaxPacketLifeTime != nil && params.MaxRetransmits != nil {
		pc.mu.Unlock()
		return nil, &TypeError{Err: ErrRetransmitsOrPacketLifeTime}
	}

	sctpTransport := pc.sctpTransport
	log := pc.log
	pc.mu.Unlock()

	d, err := pc.api.newDataChannel(params, log)
	if err != nil {
		return nil, err
	}

	pc.mu.Lock()
	pc.dataChannels[params.ID] = d
	pc.mu.Unlock()

	if sctpTransport != nil {
		if err := d.open(sctpTransport); err != nil {
			return nil, err
		}
	}

	return d, nil
}

// generateDataChannelID picks the next free stream identifier for a
// locally-initiated data channel. Per RFC 8832 §6, channels opened by
// the DTLS client use even IDs and the server uses odd IDs so the two
// sides never collide without negotiation.
func (pc *PeerConnection) generateDataChannelID(client bool) (uint16, error) {
	var id uint16
	if !client {
		id++
	}

	max := sctpMaxChannels
	if pc.sctpTransport != nil && pc.sctpTransport.MaxChannels != nil {
		max = *pc.sctpTransport.MaxChannels
	}

	for ; id < max-1; id += 2 {
		if _, ok := pc.dataChannels[id]; !ok {
			return id, nil
		}
	}
	return 0, &OperationError{Err: ErrMaxDataChannelID}
}

func (pc *PeerConnection) transceiverForSSRC(ssrc uint32) *RTPTransceiver {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	for _, e := range pc.transceivers {
		if uint32(e.transceiver.SSRC()) == ssrc {
			return e.transceiver
		}
	}
	return nil
}

// SignalingState returns the current signaling state.
func (pc *PeerConnection) SignalingState() SignalingState {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.signalingState
}

// ICEConnectionState returns the current ICE connection state.
func (pc *PeerConnection) ICEConnectionState() ICEConnectionState {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.iceConnectionState
}

// ConnectionState returns the current aggregate connection state.
func (pc *PeerConnection) ConnectionState() PeerConnectionState {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.connectionState
}

// LocalDescription returns the pending local description if one is
// set, otherwise the current local description.
func (pc *PeerConnection) LocalDescription() *SessionDescription {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if pc.pendingLocalDescription != nil {
		return pc.pendingLocalDescription
	}
	return pc.currentLocalDescription
}

// RemoteDescription returns the pending remote description if one is
// set, otherwise the current remote description.
func (pc *PeerConnection) RemoteDescription() *SessionDescription {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if pc.pendingRemoteDescription != nil {
		return pc.pendingRemoteDescription
	}
	return pc.currentRemoteDescription
}

// CreateOffer builds a local SDP offer describing every registered
// transceiver and, if data channels are in use, an application media
// section for SCTP, per spec.md §4.7 "SDP".
func (pc *PeerConnection) CreateOffer() (SessionDescription, error) {
	return pc.buildSessionDescription(SDPTypeOffer)
}

// CreateAnswer builds a local SDP answer once a remote offer is
// pending. The media sections come from the local transceivers, as in
// CreateOffer, with setup set from the negotiated DTLS role; the
// offer's sections and directions are not mirrored.
func (pc *PeerConnection) CreateAnswer() (SessionDescription, error) {
	pc.mu.Lock()
	remote := pc.pendingRemoteDescription
	pc.mu.Unlock()
	if remote == nil {
		return SessionDescription{}, ErrNoRemoteDescription
	}
	return pc.buildSessionDescription(SDPTypeAnswer)
}

func (pc *PeerConnection) buildSessionDescription(sdpType SDPType) (SessionDescription, error) {
	pc.mu.Lock()
	ufrag, pwd := pc.agent.LocalCredentials()
	certificate := pc.certificate
	transceivers := append([]*transceiverEntry(nil), pc.transceivers...)
	haveData := len(pc.dataChannels) > 0
	dtlsSetup := "actpass"
	if sdpType == SDPTypeAnswer {
		if pc.dtlsRole == DTLSRoleServer {
			dtlsSetup = "passive"
		} else {
			dtlsSetup = "active"
		}
	}
	pc.mu.Unlock()

	if certificate == nil {
		return SessionDescription{}, errNoCertificate
	}
	fingerprints := certificate.GetFingerprints()
	if len(fingerprints) == 0 {
		return SessionDescription{}, errNoCertificate
	}

	d := sdp.NewJSEPSessionDescription(false).
		WithValueAttribute("ice-options", "trickle").
		WithFingerprint(fingerprints[0].Algorithm, fingerprints[0].Value)

	for _, e := range transceivers {
		md := sdp.NewJSEPMediaDescription(e.kind.String(), nil).
			WithICECredentials(ufrag, pwd).
			WithPropertyAttribute(e.direction.String()).
			WithValueAttribute(sdp.AttrKeyMID, e.mid).
			WithPropertyAttribute("rtcp-mux").
			WithValueAttribute("setup", dtlsSetup)

		for _, codec := range pc.api.mediaEngine.getCodecsByKind(e.kind) {
			md = md.WithCodec(uint8(codec.PayloadType), codec.MimeType, codec.ClockRate, codec.Channels, codec.SDPFmtpLine)
		}
		md = md.WithMediaSource(uint32(e.transceiver.SSRC()), "nimbusrtc", e.mid, e.mid)

		for _, c := range pc.localICECandidates(e.mid, uint16(len(d.MediaDescriptions))) {
			md = md.WithCandidate(c.marshal())
		}

		d = d.WithMedia(md)
	}

	if haveData {
		md := sdp.NewJSEPMediaDescription(mediaSectionApplication, nil).
			WithICECredentials(ufrag, pwd).
			WithValueAttribute(sdp.AttrKeyMID, "data").
			WithValueAttribute("setup", dtlsSetup).
			WithPropertyAttribute("sctp-port:5000")
		d = d.WithMedia(md)
	}

	raw, err := d.Marshal()
	if err != nil {
		return SessionDescription{}, fmt.Errorf("%w: %w", ErrSDPUnmarshalling, err)
	}

	return SessionDescription{Type: sdpType, SDP: string(raw)}, nil
}

func (pc *PeerConnection) localICECandidates(mid string, mLineIndex uint16) []ICECandidate {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	var out []ICECandidate
	for _, c := range pc.agent.LocalCandidatesSnapshot() {
		out = append(out, newICECandidateFromAgent(c, mid, mLineIndex))
	}
	return out
}

// SetLocalDescription commits a CreateOffer/CreateAnswer result as
// this side's description, transitioning the signaling state per the
// table in signalingstate.go.
func (pc *PeerConnection) SetLocalDescription(desc SessionDescription) error {
	pc.mu.Lock()
	if pc.closed {
		pc.mu.Unlock()
		return &InvalidStateError{Err: ErrConnectionClosed}
	}

	var next SignalingState
	switch desc.Type {
	case SDPTypeOffer:
		next = SignalingStateHaveLocalOffer
	case SDPTypeAnswer, SDPTypePranswer:
		next = SignalingStateStable
	default:
		next = pc.signalingState
	}
	if err := checkNextSignalingState(pc.signalingState, next, "local", desc.Type); err != nil {
		pc.mu.Unlock()
		return err
	}

	if desc.Type == SDPTypeOffer {
		pc.pendingLocalDescription = &desc
	} else {
		pc.currentLocalDescription = &desc
		pc.pendingLocalDescription = nil
	}
	pc.signalingState = next
	handler := pc.onSignalingStateChangeHandler
	pc.mu.Unlock()

	if handler != nil {
		handler(next)
	}
	return nil
}

// SetRemoteDescription parses the remote SDP, detects ICE restarts
// (spec.md §4.7 "ICE restart on ufrag/pwd change"), installs the
// remote ICE credentials and candidates, and starts the DTLS handshake
// once a selected pair is available.
func (pc *PeerConnection) SetRemoteDescription(desc SessionDescription) error {
	pc.mu.Lock()
	if pc.closed {
		pc.mu.Unlock()
		return &InvalidStateError{Err: ErrConnectionClosed}
	}
	agent := pc.agent
	pc.mu.Unlock()

	parsed, err := desc.Unmarshal()
	if err != nil {
		return err
	}

	if _, _, err := extractFingerprint(parsed); err != nil {
		return err
	}
	setupValue := extractSetup(parsed)

	ufrag, pwd, candidates, err := extractICEDetails(parsed)
	if err != nil {
		return err
	}

	pc.mu.Lock()
	restarted := pc.remoteUfrag != "" && (pc.remoteUfrag != ufrag || pc.remotePwd != pwd)
	pc.remoteUfrag, pc.remotePwd = ufrag, pwd

	switch setupValue {
	case "active":
		pc.dtlsRole = DTLSRoleServer
	case "passive":
		pc.dtlsRole = DTLSRoleClient
	default:
		pc.dtlsRole = DTLSRoleClient
	}

	var next SignalingState
	switch desc.Type {
	case SDPTypeOffer:
		next = SignalingStateHaveRemoteOffer
	case SDPTypeAnswer, SDPTypePranswer:
		next = SignalingStateStable
	default:
		next = pc.signalingState
	}
	if err := checkNextSignalingState(pc.signalingState, next, "remote", desc.Type); err != nil {
		pc.mu.Unlock()
		return err
	}

	if desc.Type == SDPTypeOffer {
		pc.pendingRemoteDescription = &desc
	} else {
		pc.currentRemoteDescription = &desc
		pc.pendingRemoteDescription = nil
	}
	pc.signalingState = next
	dataMedia := haveDataChannel(&desc)
	pc.mu.Unlock()

	if restarted {
		pc.log.Infof("ice restart: remote ufrag/pwd changed")
	}

	agent.SetRemoteCredentials(ufrag, pwd)
	for i := range candidates {
		c, err := candidates[i].toAgentCandidate()
		if err != nil {
			pc.log.Warnf("skip unparseable remote candidate: %v", err)
			continue
		}
		agent.AddRemoteCandidate(c)
	}

	if dataMedia != nil {
		pc.mu.Lock()
		needStart := pc.sctpTransport == nil && (pc.iceConnectionState == ICEConnectionStateConnected || pc.iceConnectionState == ICEConnectionStateCompleted)
		pc.mu.Unlock()
		if needStart {
			go pc.maybeStartDTLSAndSCTP()
		}
	}

	return nil
}

// AddICECandidate adds a single trickled remote candidate after
// SetRemoteDescription has installed the base ufrag/pwd.
func (pc *PeerConnection) AddICECandidate(init ICECandidateInit) error {
	mid := ""
	if init.SDPMid != nil {
		mid = *init.SDPMid
	}
	var idx uint16
	if init.SDPMLineIndex != nil {
		idx = *init.SDPMLineIndex
	}
	candidate, err := parseICECandidateAttr(init.Candidate, mid, idx)
	if err != nil {
		return err
	}
	c, err := candidate.toAgentCandidate()
	if err != nil {
		return err
	}
	pc.agent.AddRemoteCandidate(c)
	return nil
}

func (pc *PeerConnection) handleLocalCandidate(c *ice.Candidate) {
	pc.mu.Lock()
	handler := pc.onICECandidateHandler
	pc.mu.Unlock()
	if handler == nil {
		return
	}
	for _, ic := range newICECandidatesFromAgent([]*ice.Candidate{c}, "", 0) {
		icCopy := ic
		handler(&icCopy)
	}
}

func (pc *PeerConnection) handleICEStateChange(s ice.ConnectionState) {
	iceState := convertAgentConnectionState(s)

	pc.mu.Lock()
	pc.iceConnectionState = iceState
	handler := pc.onICEConnectionStateChangeHandler
	pc.mu.Unlock()

	if handler != nil {
		handler(iceState)
	}

	if iceState == ICEConnectionStateConnected || iceState == ICEConnectionStateCompleted {
		go pc.maybeStartDTLSAndSCTP()
	}

	pc.updateConnectionState()
}

func convertAgentConnectionState(s ice.ConnectionState) ICEConnectionState {
	switch s {
	case ice.StateNewAgent:
		return ICEConnectionStateNew
	case ice.StateCheckConnection:
		return ICEConnectionStateChecking
	case ice.StateConnected, ice.StateNominating:
		return ICEConnectionStateConnected
	case ice.StateReady:
		return ICEConnectionStateCompleted
	case ice.StateDisconnected:
		return ICEConnectionStateDisconnected
	case ice.StateFailed:
		return ICEConnectionStateFailed
	default:
		return ICEConnectionStateNew
	}
}

// updateConnectionState derives PeerConnectionState from the ICE and
// DTLS states, per spec.md §4.7 "Lifecycle state":
// new -> connecting -> connected -> disconnected -> failed/closed.
func (pc *PeerConnection) updateConnectionState() {
	pc.mu.Lock()
	iceState := pc.iceConnectionState
	dtlsState := pc.dtlsState
	closed := pc.closed
	prev := pc.connectionState

	var next PeerConnectionState
	switch {
	case closed:
		next = PeerConnectionStateClosed
	case iceState == ICEConnectionStateFailed || dtlsState == DTLSTransportStateFailed:
		next = PeerConnectionStateFailed
	case iceState == ICEConnectionStateDisconnected:
		next = PeerConnectionStateDisconnected
	case dtlsState == DTLSTransportStateConnected:
		next = PeerConnectionStateConnected
	case iceState == ICEConnectionStateChecking || iceState == ICEConnectionStateConnected || iceState == ICEConnectionStateCompleted:
		next = PeerConnectionStateConnecting
	default:
		next = PeerConnectionStateNew
	}
	pc.connectionState = next
	handler := pc.onConnectionStateChangeHandler
	pc.mu.Unlock()

	if handler != nil && next != prev {
		handler(next)
	}
}

// handleAgentData is installed as the ICE agent's OnData callback: the
// demultiplexer's second stage, splitting DTLS from SRTP/SRTCP once
// STUN has already been pulled out by the agent itself.
func (pc *PeerConnection) handleAgentData(data []byte, pair *ice.Pair) {
	if len(data) == 0 {
		return
	}

	switch {
	case data[0] >= firstByteDTLSMin && data[0] <= firstByteDTLSMax:
		select {
		case pc.inbound <- inboundDTLSRecord{data: data}:
		default:
			pc.log.Warnf("dtls inbound queue full, dropping record")
		}
	case data[0] >= firstByteRTPMin && data[0] <= firstByteRTPMax:
		if len(data) < 2 {
			return
		}
		if data[1] >= secondByteRTCPMin && data[1] <= secondByteRTCPMax {
			pc.handleSRTCP(data)
		} else {
			pc.handleSRTP(data)
		}
	default:
		pc.log.Warnf("dropping inbound packet with unrecognized first byte %d", data[0])
	}
}

func (pc *PeerConnection) handleSRTP(wire []byte) {
	ssrc := readSSRC(wire)
	t := pc.transceiverForSSRC(ssrc)
	if t == nil {
		return
	}
	t.ReceivePacket(wire, time.Now().UnixNano())
}

func (pc *PeerConnection) handleSRTCP(wire []byte) {
	pc.mu.Lock()
	enc := pc.srtpEncryptor
	pc.mu.Unlock()
	if enc == nil {
		pc.log.Warnf("dropping srtcp packet: srtp session not yet established")
		return
	}

	plaintext, err := enc.decryptRTCP(wire)
	if err != nil {
		pc.log.Warnf("failed to decrypt srtcp: %v", err)
		return
	}

	pkts, err := rtcp.Unmarshal(plaintext)
	if err != nil {
		pc.log.Warnf("failed to unmarshal RTCP: %v", err)
		return
	}
	pc.handleRTCP(pkts)
}

// readSSRC extracts the SSRC field (bytes 8-11) from an RTP header
// without a full unmarshal, so the demultiplexer can route before
// decrypting.
func readSSRC(wire []byte) uint32 {
	if len(wire) < 12 {
		return 0
	}
	return uint32(wire[8])<<24 | uint32(wire[9])<<16 | uint32(wire[10])<<8 | uint32(wire[11])
}

// handleRTCP dispatches each decoded packet per spec.md §4.8's
// SR/RR/NACK/PLI/SLI/REMB/FIR/BYE/SDES/APP table.
func (pc *PeerConnection) handleRTCP(pkts []rtcp.Packet) {
	for _, pkt := range pkts {
		switch p := pkt.(type) {
		case *rtcp.SenderReport:
			// SR(200): remote send-side stats; not recorded.
		case *rtcp.ReceiverReport:
			// RR(201): remote receive-side stats.
		case *rtcp.TransportLayerNack:
			if t := pc.transceiverForSSRC(p.MediaSSRC); t != nil {
				t.HandleNACK(p)
			}
		case *rtcp.PictureLossIndication:
			if t := pc.transceiverForSSRC(p.MediaSSRC); t != nil && t.OnPictureLoss != nil {
				t.OnPictureLoss()
			}
		case *rtcp.SliceLossIndication:
			if t := pc.transceiverForSSRC(p.MediaSSRC); t != nil && t.OnPictureLoss != nil {
				t.OnPictureLoss()
			}
		case *rtcp.ReceiverEstimatedMaximumBitrate:
			for _, ssrc := range p.SSRCs {
				if t := pc.transceiverForSSRC(ssrc); t != nil && t.OnBandwidthEstimation != nil {
					t.OnBandwidthEstimation(uint64(p.Bitrate))
				}
			}
		case *rtcp.FullIntraRequest:
			for _, entry := range p.FIR {
				if t := pc.transceiverForSSRC(entry.SSRC); t != nil && t.OnPictureLoss != nil {
					t.OnPictureLoss()
				}
			}
		case *rtcp.Goodbye:
			// BYE(203): peer is tearing down these SSRCs.
		case *rtcp.SourceDescription:
			// SDES(202): CNAME/mid bindings, informational only here.
		default:
			// APP(204) and anything else: no defined action.
		}
	}
}

// maybeStartDTLSAndSCTP runs the DTLS handshake once, guarded so ICE
// reconnection or repeated remote-description processing never starts
// a second handshake over the same connection.
func (pc *PeerConnection) maybeStartDTLSAndSCTP() {
	pc.mu.Lock()
	if pc.dtlsConn != nil || pc.dtlsState == DTLSTransportStateConnecting || pc.closed {
		pc.mu.Unlock()
		return
	}
	role := pc.dtlsRole
	cert := pc.certificate
	pc.dtlsState = DTLSTransportStateConnecting
	pc.mu.Unlock()

	conn := newAgentConn(pc.agent, pc.inbound)
	cfg := &dtls.Config{
		Certificates: []tls.Certificate{{
			Certificate: [][]byte{cert.x509Cert.Raw},
			PrivateKey:  cert.privateKey,
		}},
		SRTPProtectionProfiles: defaultSrtpProtectionProfiles(),
		ClientAuth:             dtls.RequireAnyClientCert,
		InsecureSkipVerify:     true,
	}

	var dtlsConn *dtls.Conn
	var err error
	if role == DTLSRoleServer {
		dtlsConn, err = dtls.Server(conn, cfg)
	} else {
		dtlsConn, err = dtls.Client(conn, cfg)
	}

	pc.mu.Lock()
	if err != nil {
		pc.dtlsState = DTLSTransportStateFailed
		pc.mu.Unlock()
		pc.log.Errorf("dtls handshake failed: %v", err)
		pc.updateConnectionState()
		return
	}
	pc.dtlsConn = dtlsConn
	pc.dtlsState = DTLSTransportStateConnected
	pc.mu.Unlock()

	pc.updateConnectionState()
	pc.startSRTP(dtlsConn, role)
	pc.startSCTP()
}

// startSRTP allocates the SRTP/SRTCP encrypt and decrypt contexts from
// the just-completed DTLS handshake's exported keying material, per
// spec.md §4.7, and rebinds every already-registered transceiver onto
// the resulting Encryptor.
func (pc *PeerConnection) startSRTP(conn *dtls.Conn, role DTLSRole) {
	enc, err := newDTLSSRTPEncryptor(conn, role == DTLSRoleClient, pc.logFactory)
	if err != nil {
		pc.log.Errorf("failed to allocate srtp session: %v", err)
		return
	}

	pc.mu.Lock()
	pc.srtpEncryptor = enc
	transceivers := append([]*transceiverEntry(nil), pc.transceivers...)
	pc.mu.Unlock()

	for _, e := range transceivers {
		e.transceiver.SetEncryptor(enc)
	}
}

func (pc *PeerConnection) startSCTP() {
	pc.mu.Lock()
	conn := pc.dtlsConn
	role := pc.dtlsRole
	pc.mu.Unlock()
	if conn == nil {
		return
	}

	cfg := sctp.Config{
		NetConn:       conn,
		LoggerFactory: pc.logFactory,
	}

	var assoc *sctp.Association
	var err error
	if role == DTLSRoleServer {
		assoc, err = sctp.Server(cfg)
	} else {
		assoc, err = sctp.Client(cfg)
	}
	if err != nil {
		pc.log.Errorf("sctp association failed: %v", err)
		return
	}

	transport := NewSCTPTransport(assoc)

	pc.mu.Lock()
	pc.sctpTransport = transport
	pending := make([]*DataChannel, 0, len(pc.dataChannels))
	for _, d := range pc.dataChannels {
		pending = append(pending, d)
	}
	pc.mu.Unlock()

	for _, d := range pending {
		if err := d.open(transport); err != nil {
			pc.log.Errorf("failed to open data channel %q: %v", d.Label(), err)
		}
	}

	go pc.acceptDataChannels(transport)
}

// acceptDataChannels services remotely-initiated data channels: every
// non-negotiated channel the peer opens arrives here as a completed
// DCEP handshake, gets wrapped in a DataChannel, registered, and
// handed to the OnDataChannel callback.
func (pc *PeerConnection) acceptDataChannels(transport *SCTPTransport) {
	for {
		pc.mu.Lock()
		existing := make([]*datachannel.DataChannel, 0, len(pc.dataChannels))
		for _, d := range pc.dataChannels {
			d.mu.RLock()
			if d.dataChannel != nil {
				existing = append(existing, d.dataChannel)
			}
			d.mu.RUnlock()
		}
		pc.mu.Unlock()

		dc, err := datachannel.Accept(transport.association, &datachannel.Config{
			LoggerFactory: pc.logFactory,
		}, existing)
		if err != nil {
			if err != io.EOF {
				pc.log.Debugf("data channel accept loop stopped: %v", err)
			}
			return
		}

		sid := dc.StreamIdentifier()
		config := dc.Config

		pc.mu.Lock()
		if pc.closed {
			pc.mu.Unlock()
			_ = dc.Close()
			return
		}
		params := &DataChannelParameters{
			Label:    config.Label,
			ID:       sid,
			Ordered:  config.ChannelType == datachannel.ChannelTypeReliable || config.ChannelType == datachannel.ChannelTypePartialReliableRexmit || config.ChannelType == datachannel.ChannelTypePartialReliableTimed,
			Protocol: config.Protocol,
		}
		handler := pc.onDataChannelHandler
		log := pc.log
		pc.mu.Unlock()

		d, err := pc.api.newDataChannel(params, log)
		if err != nil {
			pc.log.Errorf("failed to wrap accepted data channel: %v", err)
			_ = dc.Close()
			continue
		}

		pc.mu.Lock()
		pc.dataChannels[sid] = d
		pc.mu.Unlock()

		d.handleOpen(dc)

		if handler != nil {
			handler(d)
		}
	}
}

// Close closes every data channel, the DTLS session and the ICE agent,
// and moves the signaling and connection states to closed. The SCTP
// association is not closed directly.
func (pc *PeerConnection) Close() error {
	pc.mu.Lock()
	if pc.closed {
		pc.mu.Unlock()
		return nil
	}
	pc.closed = true
	pc.signalingState = SignalingStateClosed
	dtlsConn := pc.dtlsConn
	dataChannels := pc.dataChannels
	pc.mu.Unlock()

	for _, dc := range dataChannels {
		_ = dc.Close()
	}
	if dtlsConn != nil {
		_ = dtlsConn.Close()
	}
	if pc.agent != nil {
		_ = pc.agent.Close()
	}

	pc.updateConnectionState()
	return nil
}

// agentConn adapts the ICE agent's selected pair to net.Conn so
// pion/dtls/v3 can run its handshake over it: Read drains the
// demultiplexer's DTLS queue, Write transmits via the agent's
// currently selected pair.
type agentConn struct {
	agent   *ice.Agent
	inbound chan inboundDTLSRecord
	buf     []byte
}

func newAgentConn(agent *ice.Agent, inbound chan inboundDTLSRecord) *agentConn {
	return &agentConn{agent: agent, inbound: inbound}
}

func (c *agentConn) Read(p []byte) (int, error) {
	if len(c.buf) > 0 {
		n := copy(p, c.buf)
		c.buf = c.buf[n:]
		return n, nil
	}
	rec, ok := <-c.inbound
	if !ok {
		return 0, io.EOF
	}
	n := copy(p, rec.data)
	if n < len(rec.data) {
		c.buf = rec.data[n:]
	}
	return n, nil
}

func (c *agentConn) Write(p []byte) (int, error) {
	if err := c.agent.Send(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *agentConn) Close() error                    { return nil }
func (c *agentConn) LocalAddr() net.Addr             { return nil }
func (c *agentConn) RemoteAddr() net.Addr            { return nil }
func (c *agentConn) SetDeadline(time.Time) error     { return nil }
func (c *agentConn) SetReadDeadline(time.Time) error { return nil }
func (c *agentConn) SetWriteDeadline(time.Time) error { return nil }
