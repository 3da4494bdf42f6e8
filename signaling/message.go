package signaling

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// MessageType mirrors spec.md §6's WebSocket JSON "action" field.
type MessageType string

const (
	MessageTypeOffer               MessageType = "SDP_OFFER"
	MessageTypeAnswer              MessageType = "SDP_ANSWER"
	MessageTypeICECandidate        MessageType = "ICE_CANDIDATE"
	MessageTypeStatusResponse      MessageType = "STATUS_RESPONSE"
	MessageTypeGoAway              MessageType = "GO_AWAY"
	MessageTypeReconnectIceServer  MessageType = "RECONNECT_ICE_SERVER"
)

// maxMessagePayloadBytes is spec.md §4.9's 10KB inbound/outbound
// payload ceiling.
const maxMessagePayloadBytes = 10 * 1024

// wireMessage is the JSON shape exchanged over the WebSocket session,
// per spec.md §6's template:
// {"action", "RecipientClientId", "MessagePayload", "CorrelationId"}.
type wireMessage struct {
	Action            string `json:"action"`
	RecipientClientId string `json:"RecipientClientId,omitempty"`
	MessagePayload    string `json:"MessagePayload"`
	CorrelationId     string `json:"CorrelationId,omitempty"`

	// Populated only on inbound STATUS_RESPONSE messages.
	StatusCode  string `json:"statusCode,omitempty"`
	Description string `json:"description,omitempty"`
	SenderClientId string `json:"senderClientId,omitempty"`
}

// Message is the decoded, application-facing form of an inbound
// signaling message, handed to the caller's message-received
// callback.
type Message struct {
	Type          MessageType
	SenderClientID string
	Payload       string
	CorrelationID string
}

// outgoing tracks a sent message awaiting its STATUS_RESPONSE, per
// spec.md §4.9's "outgoing message correlation" rule: entries are
// removed on a matching STATUS_RESPONSE or on send failure, and a
// duplicate send (same correlation id, or same empty-correlation +
// peer client id pair) is rejected outright.
type outgoing struct {
	correlationID string
	recipient     string
	sentAt        time.Time
	generatedID   bool // true if the caller supplied no correlation id
}

// correlationTracker implements that de-duplication and removal rule.
type correlationTracker struct {
	mu      sync.Mutex
	ongoing map[string]*outgoing // keyed by correlation id
	byPeer  map[string]*outgoing // keyed by recipient, for empty-correlation sends
}

func newCorrelationTracker() *correlationTracker {
	return &correlationTracker{
		ongoing: make(map[string]*outgoing),
		byPeer:  make(map[string]*outgoing),
	}
}

// begin registers a new outgoing message, generating a correlation id
// if the caller didn't supply one. It returns ErrDuplicateCorrelation
// if an identical send is already in flight.
func (t *correlationTracker) begin(correlationID, recipient string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if correlationID != "" {
		if _, exists := t.ongoing[correlationID]; exists {
			return "", ErrDuplicateCorrelation
		}
	} else if _, exists := t.byPeer[recipient]; exists {
		return "", ErrDuplicateCorrelation
	}

	callerSuppliedNoID := correlationID == ""
	if callerSuppliedNoID {
		correlationID = uuid.NewString()
	}

	o := &outgoing{correlationID: correlationID, recipient: recipient, sentAt: time.Now(), generatedID: callerSuppliedNoID}
	t.ongoing[correlationID] = o
	if callerSuppliedNoID {
		t.byPeer[recipient] = o
	}
	return correlationID, nil
}

// complete removes a tracked send, either because its STATUS_RESPONSE
// arrived or because the send itself failed.
func (t *correlationTracker) complete(correlationID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if o, ok := t.ongoing[correlationID]; ok {
		delete(t.ongoing, correlationID)
		if existing := t.byPeer[o.recipient]; existing == o {
			delete(t.byPeer, o.recipient)
		}
	}
}

// sentAt reports when correlationID was sent, for control-plane
// latency EMA sampling on the matching STATUS_RESPONSE.
func (t *correlationTracker) sentAt(correlationID string) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	o, ok := t.ongoing[correlationID]
	if !ok {
		return time.Time{}, false
	}
	return o.sentAt, true
}
