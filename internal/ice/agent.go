package ice

import (
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/pion/logging"
	"github.com/pion/randutil"
	"github.com/pion/stun/v3"

	"github.com/nimbusrtc/webrtc/internal/netio"
	"github.com/nimbusrtc/webrtc/internal/stunattr"
	"github.com/nimbusrtc/webrtc/internal/turn"
)

const (
	keepaliveInterval   = 15 * time.Second
	nominationGrace     = 100 * time.Millisecond
	disconnectThreshold = 2 * keepaliveInterval
	checkTick           = 50 * time.Millisecond
)

// OnStateChangeFunc is invoked whenever the agent's ConnectionState changes.
type OnStateChangeFunc func(ConnectionState)

// OnSelectedPairChangeFunc is invoked whenever the selected pair changes.
type OnSelectedPairChangeFunc func(*Pair)

// OnLocalCandidateFunc is invoked for every new local candidate, the
// trickle-ICE signal the peer connection forwards to its onIceCandidate callback.
type OnLocalCandidateFunc func(*Candidate)

// OnDataFunc is invoked for inbound bytes that are not STUN — handed
// back to the peer connection's demultiplexer.
type OnDataFunc func(data []byte, pair *Pair)

// Agent gathers candidates, runs connectivity checks, nominates a
// pair, and keeps it alive, per spec.md §4.4 (component E).
type Agent struct {
	mu sync.Mutex // the single agent lock spec.md §5 requires

	config     Config
	log        logging.LeveledLogger
	logFactory logging.LoggerFactory

	listener *netio.Listener

	localUfrag, localPwd   string
	remoteUfrag, remotePwd string

	tieBreaker   stunattr.TieBreaker
	controlling  bool
	nominating   bool
	roleSwitched bool

	localCandidates  []*Candidate
	remoteCandidates []*Candidate
	checklist        []*Pair
	selected         *Pair

	state ConnectionState

	started  bool
	shutdown chan struct{}
	gatherAt time.Time

	OnStateChange        OnStateChangeFunc
	OnSelectedPairChange OnSelectedPairChangeFunc
	OnLocalCandidate     OnLocalCandidateFunc
	OnData               OnDataFunc

	// turnSend and turnClients map a relay candidate to the send
	// function and the TURN client that carry its data.
	turnSend    map[*Candidate]func(buf []byte, dst Address) error
	turnClients map[*Candidate]*turn.Client
}

// NewAgent creates an Agent in the "new" state. Call Start to begin
// gathering and checking.
func NewAgent(config Config, logFactory logging.LoggerFactory) (*Agent, error) {
	config.defaults()
	if logFactory == nil {
		logFactory = logging.NewDefaultLoggerFactory()
	}

	ufrag, err := randutil.GenerateCryptoRandomString(16, randutil.RunesAlpha)
	if err != nil {
		return nil, fmt.Errorf("ice: generate ufrag: %w", err)
	}
	pwd, err := randutil.GenerateCryptoRandomString(32, randutil.RunesAlpha)
	if err != nil {
		return nil, fmt.Errorf("ice: generate pwd: %w", err)
	}
	tb, err := randutil.NewMathRandomGenerator().Uint64()
	if err != nil {
		return nil, fmt.Errorf("ice: generate tie-breaker: %w", err)
	}

	a := &Agent{
		config:      config,
		log:         logFactory.NewLogger("ice"),
		logFactory:  logFactory,
		listener:    netio.NewListener(logFactory.NewLogger("ice-netio")),
		localUfrag:  ufrag,
		localPwd:    pwd,
		tieBreaker:  stunattr.TieBreaker(tb),
		controlling: config.Controlling,
		state:       StateNewAgent,
		shutdown:    make(chan struct{}),
		turnSend:    make(map[*Candidate]func([]byte, Address) error),
		turnClients: make(map[*Candidate]*turn.Client),
	}
	return a, nil
}

// LocalCredentials returns the local ufrag/pwd to carry in local SDP.
func (a *Agent) LocalCredentials() (ufrag, pwd string) {
	return a.localUfrag, a.localPwd
}

// SetRemoteCredentials installs the remote ufrag/pwd read from SDP (spec.md §4.7).
func (a *Agent) SetRemoteCredentials(ufrag, pwd string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.remoteUfrag, a.remotePwd = ufrag, pwd
}

// LocalCandidatesSnapshot returns a copy of the local candidates
// gathered so far, for the SDP builder to render as candidate lines.
func (a *Agent) LocalCandidatesSnapshot() []*Candidate {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*Candidate, len(a.localCandidates))
	copy(out, a.localCandidates)
	return out
}

// Start begins gathering and transitions to check-connection.
func (a *Agent) Start() error {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return nil
	}
	a.started = true
	a.gatherAt = time.Now()
	a.mu.Unlock()

	a.listener.Start()
	if err := a.gatherHostCandidates(); err != nil {
		return err
	}
	a.mu.Lock()
	hosts := append([]*Candidate(nil), a.localCandidates...)
	a.mu.Unlock()
	a.gatherServerReflexive(hosts)
	a.gatherRelayCandidates()

	a.setState(StateCheckConnection)
	go a.loop()
	return nil
}

// AddRemoteCandidate pairs a newly learned remote candidate (trickle
// or from the remote SDP) with every compatible local candidate, per
// spec.md §4.4 "Pair formation".
func (a *Agent) AddRemoteCandidate(c *Candidate) {
	a.mu.Lock()
	a.remoteCandidates = append(a.remoteCandidates, c)
	var followUps []func()
	for _, local := range a.localCandidates {
		if compatible(local, c) {
			if f := a.addPairLocked(local, c); f != nil {
				followUps = append(followUps, f)
			}
		}
	}
	a.mu.Unlock()

	for _, f := range followUps {
		f()
	}
}

func (a *Agent) addLocalCandidate(c *Candidate) {
	a.mu.Lock()
	a.localCandidates = append(a.localCandidates, c)
	var followUps []func()
	for _, remote := range a.remoteCandidates {
		if compatible(c, remote) {
			if f := a.addPairLocked(c, remote); f != nil {
				followUps = append(followUps, f)
			}
		}
	}
	a.mu.Unlock()

	for _, f := range followUps {
		f()
	}
}

func (a *Agent) onNewLocalCandidate(c *Candidate) {
	if a.OnLocalCandidate != nil {
		a.OnLocalCandidate(c)
	}
}

// addPairLocked forms the pair, computes its priority, and inserts it
// into the checklist ordered by priority; the top candidates per
// spec.md §4.4 become waiting, the rest frozen. Caller holds a.mu.
// When local is a relay candidate, the returned closure registers
// remote as a TURN peer (CreatePermission/ChannelBind) — deferred so
// the caller can run it after releasing a.mu, since it does socket I/O.
func (a *Agent) addPairLocked(local, remote *Candidate) func() {
	for _, p := range a.checklist {
		if p.Local == local && p.Remote == remote {
			return nil
		}
	}
	p := NewPair(local, remote, a.controlling)
	a.checklist = append(a.checklist, p)
	sort.Slice(a.checklist, func(i, j int) bool { return a.checklist[i].Priority > a.checklist[j].Priority })

	var followUp func()
	if local.Kind == KindRelay {
		if client := a.turnClients[local]; client != nil {
			remoteAddr := remote.Addr()
			followUp = func() { client.AddPeer(remoteAddr.NetIP(), int(remoteAddr.Port)) }
		}
	}

	waitingBudget := 1
	if a.config.PairEstablishmentPolicy == PolicyAll {
		waitingBudget = len(a.checklist)
	}
	for i, pair := range a.checklist {
		if i < waitingBudget && pair.State() == PairFrozen {
			pair.SetState(PairWaiting)
		}
	}
	return followUp
}

func (a *Agent) setState(s ConnectionState) {
	a.mu.Lock()
	if a.state == s {
		a.mu.Unlock()
		return
	}
	a.state = s
	cb := a.OnStateChange
	a.mu.Unlock()
	if cb != nil {
		cb(s)
	}
}

// State returns the agent's current connection state.
func (a *Agent) State() ConnectionState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// SelectedPair returns the currently selected pair, or nil.
func (a *Agent) SelectedPair() *Pair {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.selected
}

// loop is the agent's timer-driven task: sends waiting checks,
// evaluates nomination, runs keepalive, and detects failure/timeout —
// the single-lock-serialized state machine spec.md §4.4/§5 describes.
func (a *Agent) loop() {
	ticker := time.NewTicker(checkTick)
	defer ticker.Stop()
	lastKeepalive := time.Time{}

	for {
		select {
		case <-a.shutdown:
			return
		case now := <-ticker.C:
			a.sendWaitingChecks()
			a.evaluateNomination(now)
			if now.Sub(lastKeepalive) >= keepaliveInterval {
				a.sendKeepalive()
				lastKeepalive = now
			}
			a.checkDisconnected(now)
			a.checkGatherTimeout(now)
		}
	}
}

func (a *Agent) sendWaitingChecks() {
	a.mu.Lock()
	var toSend []*Pair
	for _, p := range a.checklist {
		if p.State() == PairWaiting {
			toSend = append(toSend, p)
		}
	}
	a.mu.Unlock()

	for _, p := range toSend {
		a.sendConnectivityCheck(p, false)
	}
}

func (a *Agent) sendConnectivityCheck(p *Pair, nominate bool) {
	a.mu.Lock()
	localUfrag, remoteUfrag, remotePwd := a.localUfrag, a.remoteUfrag, a.remotePwd
	controlling := a.controlling
	tb := a.tieBreaker
	a.mu.Unlock()

	if remoteUfrag == "" {
		return // remote credentials not yet known
	}

	msg, err := buildConnectivityCheck(localUfrag, remoteUfrag, remotePwd, p.Local.Priority, tb, controlling, nominate)
	if err != nil {
		a.log.Warnf("ice: build connectivity check: %v", err)
		return
	}
	p.IDs.Insert(msg.TransactionID)
	p.SetState(PairInProgress)
	p.ChecksSent.Add(1)

	if err := a.sendVia(p.Local, msg.Raw, p.Remote.Addr()); err != nil {
		a.log.Debugf("ice: connectivity check send failed: %v", err)
	}
}

// sendVia writes raw bytes from local's endpoint to dst, routing
// through the TURN client's channel-data path if local is a relay
// candidate, per spec.md §4.4 "Data I/O".
func (a *Agent) sendVia(local *Candidate, raw []byte, dst Address) error {
	a.mu.Lock()
	turnSend, isRelay := a.turnSend[local], local.Kind == KindRelay
	a.mu.Unlock()
	if isRelay && turnSend != nil {
		return turnSend(raw, dst)
	}
	_, err := local.Endpoint.SendTo(raw, dst.UDPAddr())
	return err
}

// BindRelay registers the send function a TURN connection exposes for
// a relay candidate it owns.
func (a *Agent) BindRelay(c *Candidate, send func(buf []byte, dst Address) error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.turnSend[c] = send
}

// HandleInbound is the ICE agent's half of the peer connection's
// demultiplexer (spec.md §4.7): every inbound STUN datagram on any of
// the agent's endpoints is routed here.
func (a *Agent) HandleInbound(raw []byte, local *Candidate, src Address) {
	msg, err := decodeSTUN(raw)
	if err != nil {
		a.log.Debugf("ice: drop malformed STUN: %v", err)
		return
	}

	switch {
	case msg.Type == stun.BindingRequest:
		a.handleBindingRequest(msg, local, src)
	case msg.Type == stun.BindingSuccess:
		a.handleBindingSuccess(msg, local, src)
	case msg.Type.Class == stun.ClassErrorResponse:
		a.handleBindingError(msg, local, src)
	default:
		a.log.Debugf("ice: unhandled STUN message type %v", msg.Type)
	}
}

// handleEndpointData is installed as every gathered endpoint's
// DataAvailableFunc (spec.md §4.7's demultiplexer, first-byte split):
// bytes 0-3 are STUN and stay inside the agent; everything else is
// handed to OnData for the peer connection's DTLS/SRTP routing.
func (a *Agent) handleEndpointData(customData interface{}, _ *netio.Endpoint, data []byte, src, _ net.Addr) error {
	local, _ := customData.(*Candidate)
	if local == nil || len(data) == 0 {
		return nil
	}

	srcAddr := addressFromNetAddr(src)
	if data[0] <= 3 {
		a.HandleInbound(data, local, srcAddr)
		return nil
	}

	if a.OnData != nil {
		a.OnData(data, a.pairForRemote(srcAddr))
	}
	return nil
}

// pairForRemote finds the checklist pair whose remote candidate
// matches addr, so OnData callers can attribute inbound media to a
// component without re-deriving it from raw addresses.
func (a *Agent) pairForRemote(addr Address) *Pair {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, p := range a.checklist {
		if p.Remote.Addr().Equal(addr) {
			return p
		}
	}
	return nil
}

func addressFromNetAddr(addr net.Addr) Address {
	switch v := addr.(type) {
	case *net.UDPAddr:
		return NewAddress(v.IP, uint16(v.Port), false)
	case *net.TCPAddr:
		return NewAddress(v.IP, uint16(v.Port), false)
	default:
		return Address{}
	}
}

// pairForRemoteIP is pairForRemote's relaxed sibling: a TURN client only
// learns the peer's IP from channel-data framing, not its port, so relay
// attribution matches on address alone.
func (a *Agent) pairForRemoteIP(ip net.IP) *Pair {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, p := range a.checklist {
		if p.Remote.Addr().NetIP().Equal(ip) {
			return p
		}
	}
	return nil
}

func (a *Agent) findPairByTx(id stun.TransactionID) *Pair {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, p := range a.checklist {
		if p.IDs.Has([12]byte(id)) {
			return p
		}
	}
	return nil
}

func (a *Agent) handleBindingRequest(msg *stun.Message, local *Candidate, src Address) {
	a.mu.Lock()
	localPwd := a.localPwd
	controlling := a.controlling
	myTB := a.tieBreaker
	a.mu.Unlock()

	// Role-conflict detection, spec.md §4.4 "Role & nomination".
	if controlling {
		if peerTB, ok := stunattr.GetTieBreaker(msg, stunattr.AttrICEControlling); ok {
			if uint64(peerTB) > uint64(myTB) {
				a.switchRole(false)
			} else {
				a.replyRoleConflict(msg, local, src)
				return
			}
		}
	} else {
		if peerTB, ok := stunattr.GetTieBreaker(msg, stunattr.AttrICEControlled); ok {
			if uint64(peerTB) > uint64(myTB) {
				a.switchRole(true)
			}
		}
	}

	// A request from an address we don't yet have a pair for creates a
	// peer-reflexive candidate, per RFC 8445 §7.3.1.3.
	remote := a.findOrCreatePeerReflexive(local, src)

	resp, err := buildBindingSuccess(msg.TransactionID, local.Addr(), localPwd)
	if err != nil {
		return
	}
	_ = a.sendVia(local, resp.Raw, src)

	if stunattr.HasUseCandidate(msg) && !a.controlling {
		if p := a.pairFor(local, remote); p != nil {
			a.nominatePair(p)
		}
	}
}

func (a *Agent) replyRoleConflict(msg *stun.Message, local *Candidate, src Address) {
	resp, err := buildRoleConflict(msg.TransactionID)
	if err == nil {
		_ = a.sendVia(local, resp.Raw, src)
	}
}

func (a *Agent) switchRole(controlling bool) {
	a.mu.Lock()
	a.controlling = controlling
	for _, p := range a.checklist {
		if p.State() != PairSucceeded {
			p.SetState(PairWaiting)
		}
	}
	a.mu.Unlock()
}

func (a *Agent) findOrCreatePeerReflexive(local *Candidate, src Address) *Candidate {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, r := range a.remoteCandidates {
		if r.Addr().Equal(src) {
			return r
		}
	}
	c := NewCandidate(KindPeerReflexive, local.Transport, src, Address{}, local.Component, foundation(KindPeerReflexive, local.Transport, src), 0xFFFE)
	c.SetState(StateValid)
	a.remoteCandidates = append(a.remoteCandidates, c)
	if f := a.addPairLocked(local, c); f != nil {
		go f()
	}
	return c
}

func (a *Agent) pairFor(local, remote *Candidate) *Pair {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, p := range a.checklist {
		if p.Local == local && p.Remote == remote {
			return p
		}
	}
	return nil
}

func (a *Agent) handleBindingSuccess(msg *stun.Message, local *Candidate, src Address) {
	p := a.findPairByTx(msg.TransactionID)
	if p == nil {
		// Not a pair check: it may answer a gather Binding request sent
		// from this host candidate to a STUN server.
		if local != nil && local.IDs.Has([12]byte(msg.TransactionID)) {
			var xma stun.XORMappedAddress
			if err := xma.GetFrom(msg); err == nil {
				a.handleGatherResponse(local, NewAddress(xma.IP, uint16(xma.Port), false))
			}
		}
		return
	}
	// Invariant 1 (spec.md §8): the transaction ID must have been in
	// this pair's own store — findPairByTx already enforced that.
	p.ChecksReceived.Add(1)
	p.SetState(PairSucceeded)
	p.MarkActivity(time.Now())

	if a.State() == StateCheckConnection {
		a.setState(StateConnected)
	}

	if stunattr.HasUseCandidate(msg) && !a.controlling {
		a.nominatePair(p)
	}
}

func (a *Agent) handleBindingError(msg *stun.Message, local *Candidate, src Address) {
	var ec stun.ErrorCodeAttribute
	if err := ec.GetFrom(msg); err == nil && ec.Code == stun.CodeRoleConflict {
		p := a.findPairByTx(msg.TransactionID)
		a.switchRole(!a.controlling)
		if p != nil {
			a.sendConnectivityCheck(p, false)
		}
		return
	}
	if p := a.findPairByTx(msg.TransactionID); p != nil {
		p.SetState(PairFailed)
	}
}

// evaluateNomination implements the controlling side's
// "aggressive-nomination-lite": once a pair has succeeded and a grace
// window elapses, pick the highest-priority succeeded pair and re-send
// its check with USE-CANDIDATE.
func (a *Agent) evaluateNomination(now time.Time) {
	a.mu.Lock()
	controlling := a.controlling
	if !controlling || a.selected != nil {
		a.mu.Unlock()
		return
	}
	var best *Pair
	for _, p := range a.checklist {
		if p.State() == PairSucceeded && (best == nil || p.Priority > best.Priority) {
			best = p
		}
	}
	if best == nil {
		a.mu.Unlock()
		return
	}
	if !a.nominating {
		a.nominating = true
		a.mu.Unlock()
		a.setState(StateNominating)
		time.AfterFunc(nominationGrace, func() { a.sendConnectivityCheck(best, true) })
		return
	}
	a.mu.Unlock()
}

// nominatePair commits the agent to pair p, per spec.md §8 invariant 5
// (replaced only by strictly-greater-priority, also-succeeded pairs).
func (a *Agent) nominatePair(p *Pair) {
	a.mu.Lock()
	if a.selected != nil && p.Priority <= a.selected.Priority {
		a.mu.Unlock()
		return
	}
	p.Nominate()
	a.selected = p
	cb := a.OnSelectedPairChange
	a.mu.Unlock()

	if cb != nil {
		cb(p)
	}
	p.MarkActivity(time.Now())
	a.setState(StateReady)
}

func (a *Agent) sendKeepalive() {
	p := a.SelectedPair()
	if p == nil {
		return
	}
	msg, err := buildBindingIndication()
	if err != nil {
		return
	}
	_ = a.sendVia(p.Local, msg.Raw, p.Remote.Addr())
}

func (a *Agent) checkDisconnected(now time.Time) {
	p := a.SelectedPair()
	if p == nil {
		return
	}
	if p.Idle(now) > disconnectThreshold {
		a.setState(StateDisconnected)
	} else if a.State() == StateDisconnected {
		a.setState(StateReady)
	}
}

func (a *Agent) checkGatherTimeout(now time.Time) {
	a.mu.Lock()
	empty := len(a.checklist) == 0
	timedOut := now.Sub(a.gatherAt) > a.config.ConnectionCheckTimeout && a.selected == nil
	a.mu.Unlock()
	if empty && now.Sub(a.gatherAt) > a.config.LocalCandidateGatheringTimeout {
		a.setState(StateFailed)
		return
	}
	if timedOut && a.State() != StateFailed && a.State() != StateReady {
		a.setState(StateFailed)
	}
}

// Send writes a data-plane datagram over the selected pair, routing
// through TURN if the local candidate is a relay (spec.md §4.4 "Data I/O").
func (a *Agent) Send(buf []byte) error {
	p := a.SelectedPair()
	if p == nil {
		return fmt.Errorf("ice: no selected pair")
	}
	return a.sendVia(p.Local, buf, p.Remote.Addr())
}

// Close tears down the listener, every TURN allocation, and stops the
// agent's task loop.
func (a *Agent) Close() error {
	a.mu.Lock()
	if !a.started {
		a.mu.Unlock()
		return nil
	}
	clients := make([]*turn.Client, 0, len(a.turnClients))
	for _, c := range a.turnClients {
		clients = append(clients, c)
	}
	a.mu.Unlock()

	for _, c := range clients {
		_ = c.Close()
	}

	close(a.shutdown)
	return a.listener.Close()
}
