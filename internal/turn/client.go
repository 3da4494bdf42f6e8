package turn

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/pion/logging"
	"github.com/pion/stun/v3"

	"github.com/nimbusrtc/webrtc/internal/netio"
	"github.com/nimbusrtc/webrtc/internal/stunattr"
	"github.com/nimbusrtc/webrtc/internal/txid"
)

const (
	relayedAddrAttr = stunattr.AttrXORRelayedAddress
	lifetimeAttr    = stunattr.AttrLifetime
)

// FSMState is the TURN connection's state machine position, per spec.md §3.
type FSMState int

// FSM states, in the order spec.md's "TURN connection" data model lists them.
const (
	StateNew FSMState = iota
	StateCheckSocket
	StateGetCredentials
	StateAllocation
	StateCreatePermission
	StateBindChannel
	StateReady
	StateCleanUp
	StateFailed
)

const (
	preReadyTick  = 100 * time.Millisecond
	postReadyTick = 1 * time.Second

	allocationLifetime = 600 * time.Second
	allocationRefreshAt = 30 * time.Second

	permissionDeadline = 5 * time.Second
)

// RelayCallback is invoked once with the relayed address and the base
// address it was gathered from, per spec.md §9 "cyclic ownership":
// the TURN connection reports up to its owner (the ICE agent) through
// a one-way callback, never a back-pointer.
type RelayCallback func(base, relay net.Addr)

// Config configures one TURN connection (one per TURN server).
type Config struct {
	ServerAddr string // host:port
	Username   string
	Password   string
	Transport  string // "udp" or "tcp"
}

// Client is one TURN client, per TURN server (spec.md §4.3, component D).
type Client struct {
	mu sync.Mutex

	cfg    Config
	log    logging.LeveledLogger
	ep     *netio.Endpoint
	server net.Addr

	state FSMState

	realm, nonce string
	key          []byte

	allocIDs        *txid.Store
	allocationExpiry time.Time
	hasAllocation    bool

	peers      []*Peer
	peerByAddr map[string]*Peer

	// the last Refresh request sent, kept as built.
	refreshPkt *stun.Message

	lastRefresh time.Time

	reasm reassembler

	shutdown chan struct{}
	done     chan struct{}

	OnRelayAddress RelayCallback
	OnFailed       func(error)
	OnData         onDataFunc
}

// NewClient creates a Client bound to ep (already connected to the
// TURN server for TCP, or a plain UDP endpoint).
func NewClient(cfg Config, ep *netio.Endpoint, server net.Addr, logFactory logging.LoggerFactory) *Client {
	if logFactory == nil {
		logFactory = logging.NewDefaultLoggerFactory()
	}
	return &Client{
		cfg:        cfg,
		log:        logFactory.NewLogger("turn"),
		ep:         ep,
		server:     server,
		state:      StateNew,
		allocIDs:   txid.NewStore(txid.DefaultCapacity),
		peerByAddr: make(map[string]*Peer),
		shutdown:   make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start kicks off the allocation handshake and the timer-driven FSM
// loop spec.md §4.3 "Timer-driven FSM" describes.
func (c *Client) Start() {
	c.setState(StateCheckSocket)
	c.setState(StateGetCredentials)
	c.sendAllocateNoAuth()
	c.setState(StateAllocation)
	go c.loop()
}

func (c *Client) setState(s FSMState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// State returns the connection's current FSM state.
func (c *Client) State() FSMState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) sendAllocateNoAuth() {
	msg, err := buildAllocateNoAuth()
	if err != nil {
		return
	}
	c.allocIDs.Insert(msg.TransactionID)
	c.writeRaw(msg.Raw)
}

func (c *Client) writeRaw(b []byte) {
	if _, err := c.ep.SendTo(b, c.server); err != nil {
		c.log.Debugf("turn: send failed: %v", err)
	}
}

// loop runs the single timer tick that resends, refreshes, and
// transitions, ticking faster before the allocation is ready.
func (c *Client) loop() {
	defer close(c.done)
	start := time.Now()

	for {
		interval := preReadyTick
		if c.State() == StateReady {
			interval = postReadyTick
		}
		select {
		case <-c.shutdown:
			return
		case <-time.After(interval):
		}

		now := time.Now()
		switch c.State() {
		case StateAllocation:
			if now.Sub(start) > permissionDeadline && !c.hasAllocationLocked() {
				c.fail(fmt.Errorf("turn: allocation timed out"))
				return
			}
		case StateCreatePermission, StateBindChannel, StateReady:
			c.tickPeers(now)
			c.maybeRefreshAllocation(now)
			if c.allPeersFailedOrNoneReachedPermission(now, start) {
				c.fail(fmt.Errorf("turn: no peer reached create-permission in time"))
				return
			}
		}
	}
}

func (c *Client) hasAllocationLocked() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hasAllocation
}

func (c *Client) allPeersFailedOrNoneReachedPermission(now, start time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.peers) == 0 {
		return false
	}
	if now.Sub(start) < permissionDeadline {
		return false
	}
	for _, p := range c.peers {
		if p.State != PeerFailed {
			return false
		}
	}
	return true
}

// AddPeer registers a peer to relay to/from: sends CreatePermission,
// and on success proceeds to ChannelBind, per spec.md §4.3.
func (c *Client) AddPeer(remote net.IP, port int) *Peer {
	c.mu.Lock()
	index := len(c.peers)
	p := NewPeer(remote, port, index)
	c.peers = append(c.peers, p)
	c.peerByAddr[remote.String()] = p
	key := c.key
	realm, nonce := c.realm, c.nonce
	c.mu.Unlock()

	c.sendCreatePermission(p, realm, nonce, key)
	return p
}

func (c *Client) sendCreatePermission(p *Peer, realm, nonce string, key []byte) {
	msg, err := buildCreatePermission(c.cfg.Username, realm, nonce, key, p.Remote)
	if err != nil {
		return
	}
	p.IDs.Insert(msg.TransactionID)
	p.NextSend = time.Now().Add(peerResendInterval + time.Duration(len(c.peers))*50*time.Millisecond)
	c.writeRaw(msg.Raw)
}

func (c *Client) sendChannelBind(p *Peer, realm, nonce string, key []byte) {
	msg, err := buildChannelBind(c.cfg.Username, realm, nonce, key, p.Channel, p.Remote, p.Port)
	if err != nil {
		return
	}
	p.IDs.Insert(msg.TransactionID)
	c.writeRaw(msg.Raw)
}

func (c *Client) tickPeers(now time.Time) {
	c.mu.Lock()
	realm, nonce, key := c.realm, c.nonce, c.key
	peers := append([]*Peer(nil), c.peers...)
	c.mu.Unlock()

	for _, p := range peers {
		switch p.State {
		case PeerCreatePermission:
			if now.After(p.NextSend) {
				c.sendCreatePermission(p, realm, nonce, key)
			}
		case PeerReady:
			if p.NeedsPermissionRefresh(now) {
				// Refresh forces all peers back through
				// create-permission then bind-channel, spec.md §4.3.
				c.mu.Lock()
				for _, peer := range c.peers {
					peer.State = PeerCreatePermission
				}
				c.mu.Unlock()
			}
		}
	}
}

func (c *Client) maybeRefreshAllocation(now time.Time) {
	c.mu.Lock()
	expiry := c.allocationExpiry
	last := c.lastRefresh
	realm, nonce, key := c.realm, c.nonce, c.key
	c.mu.Unlock()

	if expiry.IsZero() || expiry.Sub(now) > allocationRefreshAt {
		return
	}
	if now.Sub(last) < allocationRefreshAt {
		return
	}
	msg, err := buildRefresh(c.cfg.Username, realm, nonce, key, uint32(allocationLifetime.Seconds()))
	if err != nil {
		return
	}
	c.allocIDs.Insert(msg.TransactionID)
	c.mu.Lock()
	c.lastRefresh = now
	c.refreshPkt = msg
	c.mu.Unlock()
	c.writeRaw(msg.Raw)
}

// HandleInbound is fed every datagram/stream-chunk the socket endpoint
// delivers. It demultiplexes STUN responses from channel-data.
func (c *Client) HandleInbound(data []byte, isStream bool) {
	if !isStream {
		if len(data) > 0 && isChannelData(data[0]) {
			if ch, payload, ok := decodeChannelData(data); ok {
				c.dispatchChannelData(ch, payload)
			}
			return
		}
		c.handleSTUN(data)
		return
	}

	for _, m := range c.reasm.Feed(data) {
		if m.stun {
			c.handleSTUN(m.raw)
		} else {
			c.dispatchChannelData(m.channel, m.payload)
		}
	}
}

// dispatchChannelData hands the unwrapped payload and its originating
// peer to the owner, letting it re-dispatch as if it had arrived
// directly (spec.md §2 "D ... re-dispatches").
func (c *Client) dispatchChannelData(channel uint16, payload []byte) {
	c.mu.Lock()
	var peerAddr net.IP
	for _, p := range c.peers {
		if p.Channel == channel {
			peerAddr = p.Remote
			break
		}
	}
	cb := c.OnData
	c.mu.Unlock()
	if cb != nil {
		cb(peerAddr, payload)
	}
}

// OnData is invoked with (peerIP, payload) for every de-channeled packet.
type onDataFunc func(peerIP net.IP, payload []byte)

func (c *Client) handleSTUN(raw []byte) {
	msg, err := decodeSTUN(raw)
	if err != nil {
		c.log.Debugf("turn: drop malformed STUN: %v", err)
		return
	}

	if realm, nonce, ok := staleNonceOrUnauthorized(msg); ok {
		c.handleAuthChallenge(msg, realm, nonce)
		return
	}

	switch {
	case isSuccessFor(msg, methodAllocate):
		c.handleAllocateSuccess(msg)
	case isSuccessFor(msg, methodRefresh):
		c.handleRefreshSuccess(msg)
	case isSuccessFor(msg, methodCreatePermission):
		c.handleCreatePermissionSuccess(msg)
	case isSuccessFor(msg, methodChannelBind):
		c.handleChannelBindSuccess(msg)
	case msg.Type.Class == stun.ClassErrorResponse:
		c.handlePeerError(msg)
	}
}

func isSuccessFor(msg *stun.Message, reqType stun.MessageType) bool {
	return msg.Type.Method == reqType.Method && msg.Type.Class == stun.ClassSuccessResponse
}

// handleAuthChallenge records the realm and nonce from a 401/438 and
// re-derives the long-term key. On the first challenge, or one that
// answers an Allocate, it resends an authenticated Allocate; other
// requests pick up the new nonce the next time they are built.
func (c *Client) handleAuthChallenge(msg *stun.Message, realm, nonce string) {
	c.mu.Lock()
	firstChallenge := c.realm == ""
	c.realm, c.nonce = realm, nonce
	c.key = longTermKey(c.cfg.Username, realm, c.cfg.Password)
	key := c.key
	c.mu.Unlock()

	switch {
	case isSuccessOrRequestFor(msg, methodAllocate) || firstChallenge:
		authed, err := buildAllocateAuthed(c.cfg.Username, realm, nonce, key)
		if err == nil {
			c.allocIDs.Insert(authed.TransactionID)
			c.writeRaw(authed.Raw)
		}
	}
}

func isSuccessOrRequestFor(msg *stun.Message, t stun.MessageType) bool {
	return msg.Type.Method == t.Method
}

func (c *Client) handleAllocateSuccess(msg *stun.Message) {
	if !c.allocIDs.Has([12]byte(msg.TransactionID)) {
		return
	}
	ip, port, err := relayAddressFrom(msg)
	if err != nil {
		return
	}
	var lifetime uint32 = uint32(allocationLifetime.Seconds())
	if l, err := lifetimeFrom(msg); err == nil {
		lifetime = l
	}

	c.mu.Lock()
	c.hasAllocation = true
	c.allocationExpiry = time.Now().Add(time.Duration(lifetime) * time.Second)
	c.lastRefresh = time.Now()
	cb := c.OnRelayAddress
	c.mu.Unlock()

	c.setState(StateCreatePermission)
	if cb != nil {
		cb(c.ep.LocalAddr(), &net.UDPAddr{IP: ip, Port: port})
	}
}

func (c *Client) handleRefreshSuccess(msg *stun.Message) {
	if !c.allocIDs.Has([12]byte(msg.TransactionID)) {
		return
	}
	lifetime, err := lifetimeFrom(msg)
	if err != nil {
		lifetime = uint32(allocationLifetime.Seconds())
	}
	c.mu.Lock()
	if lifetime == 0 {
		c.hasAllocation = false
	} else {
		c.allocationExpiry = time.Now().Add(time.Duration(lifetime) * time.Second)
	}
	c.mu.Unlock()
}

func (c *Client) handleCreatePermissionSuccess(msg *stun.Message) {
	p := c.peerByTx(msg.TransactionID)
	if p == nil {
		return
	}
	c.mu.Lock()
	p.State = PeerBindChannel
	p.PermissionExpiry = time.Now().Add(permissionLifetime)
	realm, nonce, key := c.realm, c.nonce, c.key
	c.mu.Unlock()
	c.sendChannelBind(p, realm, nonce, key)
}

func (c *Client) handleChannelBindSuccess(msg *stun.Message) {
	p := c.peerByTx(msg.TransactionID)
	if p == nil {
		return
	}
	p.State = PeerReady
	if c.allReady() {
		c.setState(StateReady)
	}
}

func (c *Client) handlePeerError(msg *stun.Message) {
	if p := c.peerByTx(msg.TransactionID); p != nil {
		p.State = PeerFailed
	}
}

func (c *Client) peerByTx(id stun.TransactionID) *Peer {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range c.peers {
		if p.IDs.Has([12]byte(id)) {
			return p
		}
	}
	return nil
}

func (c *Client) allReady() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range c.peers {
		if p.State != PeerReady {
			return false
		}
	}
	return len(c.peers) > 0
}

// Send looks up the peer by IP (ignoring port) and frames the payload
// as channel-data; silently dropped if the peer is not ready, per
// spec.md §4.3 "Send".
func (c *Client) Send(payload []byte, dst net.IP) error {
	c.mu.Lock()
	p := c.peerByAddr[dst.String()]
	transport := c.cfg.Transport
	c.mu.Unlock()
	if p == nil || p.State != PeerReady {
		return nil
	}
	framed := encodeChannelData(p.Channel, payload, transport == "tcp")
	c.writeRaw(framed)
	return nil
}

func (c *Client) fail(err error) {
	c.setState(StateFailed)
	c.mu.Lock()
	cb := c.OnFailed
	c.mu.Unlock()
	if cb != nil {
		cb(err)
	}
}

// Close tears the allocation down with a lifetime-0 Refresh, per
// spec.md §4.3 "Failure semantics" — freed is assumed even if the
// response never arrives.
func (c *Client) Close() error {
	c.setState(StateCleanUp)
	c.mu.Lock()
	realm, nonce, key := c.realm, c.nonce, c.key
	c.mu.Unlock()
	if c.hasAllocationLocked() {
		msg, err := buildRefresh(c.cfg.Username, realm, nonce, key, 0)
		if err == nil {
			c.writeRaw(msg.Raw)
		}
	}
	close(c.shutdown)
	c.mu.Lock()
	c.hasAllocation = false
	c.mu.Unlock()
	return nil
}

func relayAddressFrom(msg *stun.Message) (net.IP, int, error) {
	v, err := msg.Get(relayedAddrAttr)
	if err != nil {
		return nil, 0, err
	}
	scratch := &stun.Message{}
	scratch.TransactionID = msg.TransactionID
	scratch.WriteHeader()
	scratch.Add(stun.AttrXORMappedAddress, v)
	var xma stun.XORMappedAddress
	if err := xma.GetFrom(scratch); err != nil {
		return nil, 0, err
	}
	return xma.IP, xma.Port, nil
}

func lifetimeFrom(msg *stun.Message) (uint32, error) {
	v, err := msg.Get(lifetimeAttr)
	if err != nil {
		return 0, err
	}
	if len(v) != 4 {
		return 0, fmt.Errorf("turn: malformed LIFETIME")
	}
	return uint32(v[0])<<24 | uint32(v[1])<<16 | uint32(v[2])<<8 | uint32(v[3]), nil
}
