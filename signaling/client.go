package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// emptySHA256 is the SigV4 payload hash for a body-less GET request,
// used when presigning the WSS connect URL.
const emptySHA256 = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

// inboundQueueDepth is spec.md §4.9's bounded reader-to-dispatch queue
// depth.
const inboundQueueDepth = 32

// ctrlClose is injected into the inbound queue when the WebSocket
// peer sends a CLOSE frame, so the dispatch loop can unwind through
// the same path as any other inbound message per spec.md §4.9.
const ctrlClose MessageType = "ctrl-close"

// MessageReceivedFunc receives each decoded inbound message.
type MessageReceivedFunc func(Message)

// Client drives the signaling FSM described in spec.md §4.9: it
// resolves a channel's control-plane identity, opens a SigV4-signed
// WebSocket session to it, and exchanges SDP/ICE messages with a
// single remote peer.
type Client struct {
	info  *ChannelInfo
	creds CredentialProvider
	cp    *controlPlane
	cache *fileCache

	clientID string // empty for master role

	metrics     *metricsTracker
	correlation *correlationTracker

	onMessage MessageReceivedFunc

	mu          sync.Mutex
	state       State
	description *ChannelDescription
	iceServers  iceConfigEntry

	connMu sync.Mutex
	conn   *websocket.Conn
	sendMu sync.Mutex

	inbound chan Message
	closed  chan struct{}
	closeOnce sync.Once
}

// NewClient constructs a signaling Client. clientID is the viewer's
// self-assigned identifier (spec.md §6's X-Amz-ClientId); it must be
// empty for RoleMaster.
func NewClient(info *ChannelInfo, creds CredentialProvider, clientID string, onMessage MessageReceivedFunc) (*Client, error) {
	if info == nil || info.Name == "" {
		return nil, ErrChannelNameRequired
	}
	if creds == nil {
		return nil, ErrNoCredentialProvider
	}
	info.defaults()

	c := &Client{
		info:        info,
		creds:       creds,
		cp:          newControlPlane(info, creds),
		clientID:    clientID,
		metrics:     newMetricsTracker(),
		correlation: newCorrelationTracker(),
		onMessage:   onMessage,
		inbound:     make(chan Message, inboundQueueDepth),
		closed:      make(chan struct{}),
	}
	if info.CachingPolicy == CachingPolicyFile && info.CertPath != "" {
		c.cache = newFileCache(info.CertPath + ".signaling-cache")
	}
	return c, nil
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// State reports the FSM's current position.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Stats returns a snapshot of the diagnostics counters spec.md's
// supplemented metrics feature tracks.
func (c *Client) Stats() Metrics {
	return c.metrics.snapshot()
}

// Connect drives the FSM from new through connected, per spec.md
// §4.9's state diagram: get-credentials, describe, (create on 404),
// get-endpoint, get-ice-config, ready, connect.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.resolveChannel(ctx); err != nil {
		return err
	}
	if err := c.resolveIceConfig(ctx); err != nil {
		return err
	}
	c.setState(StateReady)
	return c.dial(ctx)
}

func (c *Client) resolveChannel(ctx context.Context) error {
	c.setState(StateGetCredentials)
	if _, err := c.creds.Retrieve(ctx); err != nil {
		return fmt.Errorf("signaling: get-credentials: %w", err)
	}

	if c.cache != nil {
		if entry, ok := c.cache.load(c.info.Name); ok && entry.fresh(c.info.CachingPeriod) {
			c.mu.Lock()
			c.description = &ChannelDescription{
				ARN:           entry.channelARN,
				HTTPSEndpoint: entry.httpsEndpoint,
				WSSEndpoint:   entry.wssEndpoint,
				CreatedAt:     entry.createdAt,
			}
			c.mu.Unlock()
			return nil
		}
	}

	c.setState(StateDescribe)
	err := c.withRetry(ctx, func() error {
		d, describeErr := c.cp.describeChannel(ctx, c.info.Name)
		if describeErr != nil {
			return describeErr
		}
		c.mu.Lock()
		c.description = d
		c.mu.Unlock()
		return nil
	})

	if err == ErrChannelNotFound {
		c.setState(StateCreate)
		arn, createErr := c.cp.createChannel(ctx, c.info)
		if createErr != nil {
			c.setState(StateFailed)
			return fmt.Errorf("signaling: create: %w", createErr)
		}
		c.mu.Lock()
		c.description = &ChannelDescription{ARN: arn, CreatedAt: time.Now()}
		c.mu.Unlock()
	} else if err != nil {
		c.setState(StateFailed)
		return fmt.Errorf("signaling: describe: %w", err)
	}

	c.setState(StateGetEndpoint)
	c.mu.Lock()
	arn := c.description.ARN
	c.mu.Unlock()

	httpsEP, err := withRetryValue(ctx, c.info.RetryCount, func() (struct{ https, wss string }, error) {
		h, w, epErr := c.cp.getSignalingChannelEndpoint(ctx, arn, c.info.Role)
		return struct{ https, wss string }{h, w}, epErr
	})
	if err != nil {
		c.setState(StateFailed)
		return fmt.Errorf("signaling: get-endpoint: %w", err)
	}

	c.mu.Lock()
	c.description.HTTPSEndpoint = httpsEP.https
	c.description.WSSEndpoint = httpsEP.wss
	desc2 := *c.description
	c.mu.Unlock()

	if c.cache != nil {
		_ = c.cache.store(&cacheEntry{
			channelName:   c.info.Name,
			region:        c.info.Region,
			role:          c.info.Role,
			channelARN:    desc2.ARN,
			httpsEndpoint: desc2.HTTPSEndpoint,
			wssEndpoint:   desc2.WSSEndpoint,
			createdAt:     time.Now(),
		})
	}
	return nil
}

func (c *Client) resolveIceConfig(ctx context.Context) error {
	c.setState(StateGetIceConfig)
	c.mu.Lock()
	arn := c.description.ARN
	httpsEP := c.description.HTTPSEndpoint
	c.mu.Unlock()

	servers, err := c.withRetryServers(ctx, func() ([]IceServer, error) {
		return c.cp.getIceServerConfig(ctx, httpsEP, arn, c.clientID)
	})
	if err != nil {
		c.setState(StateFailed)
		return fmt.Errorf("signaling: get-ice-config: %w", err)
	}

	expiry := time.Now().Add(5 * time.Minute)
	for _, s := range servers {
		if s.TTL > 0 {
			expiry = time.Now().Add(s.TTL)
			break
		}
	}
	c.mu.Lock()
	c.iceServers = iceConfigEntry{servers: servers, expiry: expiry}
	c.mu.Unlock()
	return nil
}

// IceServers returns the most recently fetched ICE server list,
// refreshing it first if it has expired.
func (c *Client) IceServers(ctx context.Context) ([]IceServer, error) {
	c.mu.Lock()
	entry := c.iceServers
	c.mu.Unlock()

	if time.Now().Before(entry.expiry) {
		return entry.servers, nil
	}
	if err := c.resolveIceConfig(ctx); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.iceServers.servers, nil
}

func (c *Client) withRetry(ctx context.Context, fn func() error) error {
	var err error
	backoff := 200 * time.Millisecond
	for attempt := 0; attempt < c.info.RetryCount; attempt++ {
		err = fn()
		if err == nil || err == ErrChannelNotFound {
			return err
		}
		if httpErr, ok := err.(*HTTPError); ok && !httpErr.Retryable() {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return err
}

func withRetryValue[T any](ctx context.Context, retries int, fn func() (T, error)) (T, error) {
	var (
		result T
		err    error
	)
	backoff := 200 * time.Millisecond
	for attempt := 0; attempt < retries; attempt++ {
		result, err = fn()
		if err == nil {
			return result, nil
		}
		if httpErr, ok := err.(*HTTPError); ok && !httpErr.Retryable() {
			return result, err
		}
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return result, err
}

func (c *Client) withRetryServers(ctx context.Context, fn func() ([]IceServer, error)) ([]IceServer, error) {
	return withRetryValue(ctx, c.info.RetryCount, fn)
}

// dial opens the WebSocket session, per spec.md §4.9's "connect"
// state, and spawns the reader and dispatch goroutines.
func (c *Client) dial(ctx context.Context) error {
	c.setState(StateConnect)

	signedURL, err := c.presignWSSURL(ctx)
	if err != nil {
		c.setState(StateFailed)
		return fmt.Errorf("signaling: presign connect url: %w", err)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, signedURL, nil)
	if err != nil {
		c.setState(StateDisconnected)
		return fmt.Errorf("signaling: dial: %w", err)
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()

	c.setState(StateConnected)
	go c.readLoop()
	go c.dispatchLoop()
	return nil
}

func (c *Client) presignWSSURL(ctx context.Context) (string, error) {
	c.mu.Lock()
	wssEndpoint := c.description.WSSEndpoint
	arn := c.description.ARN
	c.mu.Unlock()

	httpsForm := strings.Replace(wssEndpoint, "wss://", "https://", 1)
	q := url.Values{}
	q.Set("X-Amz-ChannelARN", arn)
	if c.info.Role == RoleViewer {
		q.Set("X-Amz-ClientId", c.clientID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, httpsForm+"?"+q.Encode(), nil)
	if err != nil {
		return "", err
	}

	creds, err := c.creds.Retrieve(ctx)
	if err != nil {
		return "", err
	}

	signer := v4.NewSigner()
	signedURI, _, err := signer.PresignHTTP(ctx, creds, req, emptySHA256, "kinesisvideo", c.info.Region, time.Now())
	if err != nil {
		return "", err
	}
	return strings.Replace(signedURI, "https://", "wss://", 1), nil
}

// readLoop pulls frames off the WebSocket connection and pushes
// decoded messages onto the bounded inbound queue, per spec.md §4.9's
// reader-task description: PING/PONG are handled transparently, a
// CLOSE frame becomes a synthetic ctrl-close message, and a message
// that finds the queue full is dropped and counted in the error
// counter rather than blocking the socket.
func (c *Client) readLoop() {
	defer c.handleDisconnect()

	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()
	if conn == nil {
		return
	}

	conn.SetPingHandler(func(data string) error {
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(5*time.Second))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.enqueue(Message{Type: ctrlClose})
			}
			return
		}

		msg, decodeErr := c.decode(data)
		if decodeErr != nil {
			c.metrics.recordError()
			continue
		}
		c.metrics.recordReceived()
		c.enqueue(msg)
	}
}

func (c *Client) enqueue(msg Message) {
	select {
	case c.inbound <- msg:
	default:
		c.metrics.recordError()
	}
}

func (c *Client) decode(data []byte) (Message, error) {
	var wire wireMessage
	if err := json.Unmarshal(data, &wire); err != nil {
		return Message{}, err
	}
	if len(wire.MessagePayload) > maxMessagePayloadBytes {
		return Message{}, ErrMessageTooLarge
	}

	msgType := MessageType(wire.Action)
	if msgType == MessageTypeOffer || msgType == MessageTypeAnswer || msgType == MessageTypeICECandidate {
		if wire.SenderClientId == "" {
			return Message{}, ErrMissingRecipient
		}
	}
	if msgType == MessageTypeStatusResponse {
		if sentAt, ok := c.correlation.sentAt(wire.CorrelationId); ok {
			c.metrics.observeControlPlaneLatency(time.Since(sentAt))
		}
		c.correlation.complete(wire.CorrelationId)
		if wire.StatusCode != "" && wire.StatusCode != "200" {
			return Message{}, &StatusError{StatusCode: wire.StatusCode, Description: wire.Description}
		}
	}

	return Message{
		Type:           msgType,
		SenderClientID: wire.SenderClientId,
		Payload:        wire.MessagePayload,
		CorrelationID:  wire.CorrelationId,
	}, nil
}

// dispatchLoop is the single consumer of the inbound queue, invoking
// the caller's callback. GO_AWAY and a CLOSE frame mark the session
// disconnected and end the loop; no reconnect is started.
// RECONNECT_ICE_SERVER re-fetches the ICE config in the background and
// does not reconnect. A non-200 STATUS_RESPONSE never reaches this
// loop: decode turns it into a StatusError, which readLoop counts as
// an error.
func (c *Client) dispatchLoop() {
	for {
		select {
		case <-c.closed:
			return
		case msg := <-c.inbound:
			switch msg.Type {
			case ctrlClose:
				c.handleDisconnect()
				return
			case MessageTypeGoAway:
				c.handleDisconnect()
				return
			case MessageTypeReconnectIceServer:
				go func() {
					ctx := context.Background()
					_ = c.resolveIceConfig(ctx)
				}()
				continue
			}
			if c.onMessage != nil {
				c.onMessage(msg)
			}
		}
	}
}

func (c *Client) handleDisconnect() {
	c.setState(StateDisconnected)
	c.metrics.recordReconnect()
}

// send marshals and writes a wireMessage, registering it with the
// correlation tracker first so a duplicate in-flight send is rejected
// before any I/O happens.
func (c *Client) send(msgType MessageType, recipient, payload, correlationID string) error {
	if c.State() != StateConnected {
		return ErrNotConnected
	}
	if len(payload) > maxMessagePayloadBytes {
		return ErrMessageTooLarge
	}
	if (msgType == MessageTypeOffer || msgType == MessageTypeAnswer || msgType == MessageTypeICECandidate) && recipient == "" {
		return ErrMissingRecipient
	}

	id, err := c.correlation.begin(correlationID, recipient)
	if err != nil {
		return err
	}

	wire := wireMessage{
		Action:            string(msgType),
		RecipientClientId: recipient,
		MessagePayload:    payload,
		CorrelationId:     id,
	}
	data, err := json.Marshal(wire)
	if err != nil {
		c.correlation.complete(id)
		return err
	}

	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()
	if conn == nil {
		c.correlation.complete(id)
		return ErrNotConnected
	}

	c.sendMu.Lock()
	err = conn.WriteMessage(websocket.TextMessage, data)
	c.sendMu.Unlock()
	if err != nil {
		c.correlation.complete(id)
		return err
	}
	c.metrics.recordSent()
	return nil
}

// SendOffer sends an SDP offer to recipient.
func (c *Client) SendOffer(recipient, sdp string) error {
	return c.send(MessageTypeOffer, recipient, sdp, "")
}

// SendAnswer sends an SDP answer to recipient.
func (c *Client) SendAnswer(recipient, sdp string) error {
	return c.send(MessageTypeAnswer, recipient, sdp, "")
}

// SendICECandidate sends a trickled ICE candidate to recipient.
func (c *Client) SendICECandidate(recipient, candidate string) error {
	return c.send(MessageTypeICECandidate, recipient, candidate, "")
}

// NewClientID generates a random viewer client id, for callers that
// don't supply their own.
func NewClientID() string {
	return uuid.NewString()
}

// Close tears down the WebSocket session and stops the reader/dispatch
// goroutines.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()
		if conn != nil {
			err = conn.Close()
		}
	})
	c.setState(StateDeleted)
	return err
}
