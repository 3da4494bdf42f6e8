package netio

import (
	"sync"
	"time"

	"github.com/pion/logging"
)

// pollInterval bounds how long the receive loop waits for readability
// on any one endpoint before cycling back to check the others and the
// shutdown flag, per spec.md §4.2.
const pollInterval = 200 * time.Millisecond

// shutdownGrace bounds how long Close waits for the receive loop to
// observe the shutdown flag and release every endpoint.
const shutdownGrace = 1 * time.Second

// MaxEndpoints is the default cap on endpoints a single Listener owns.
const MaxEndpoints = 32

// Listener owns a set of socket endpoints and drives a single receive
// loop that delivers bytes to each endpoint's callback. It holds no
// application state of its own.
type Listener struct {
	mu        sync.Mutex
	endpoints []*Endpoint
	logger    logging.LeveledLogger

	shutdown chan struct{}
	done     chan struct{}
	once     sync.Once
}

// NewListener creates an idle Listener. Call Start to begin the receive loop.
func NewListener(logger logging.LeveledLogger) *Listener {
	if logger == nil {
		logger = logging.NewDefaultLoggerFactory().NewLogger("netio")
	}
	return &Listener{
		logger:   logger,
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// AddEndpoint registers ep with the listener. Returns false if the
// listener already owns MaxEndpoints endpoints.
func (l *Listener) AddEndpoint(ep *Endpoint) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.endpoints) >= MaxEndpoints {
		return false
	}
	l.endpoints = append(l.endpoints, ep)
	return true
}

// RemoveEndpoint drops ep from the listener's set without closing it.
func (l *Listener) RemoveEndpoint(ep *Endpoint) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, e := range l.endpoints {
		if e == ep {
			l.endpoints = append(l.endpoints[:i], l.endpoints[i+1:]...)
			return
		}
	}
}

// Start launches the receive loop goroutine.
func (l *Listener) Start() {
	go l.receiveLoop()
}

func (l *Listener) snapshot() []*Endpoint {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*Endpoint, len(l.endpoints))
	copy(out, l.endpoints)
	return out
}

func (l *Listener) receiveLoop() {
	defer close(l.done)
	for {
		select {
		case <-l.shutdown:
			l.closeAll()
			return
		default:
		}

		endpoints := l.snapshot()
		if len(endpoints) == 0 {
			time.Sleep(pollInterval)
			continue
		}

		for _, ep := range endpoints {
			if ep.Closed() {
				continue
			}
			ep.setReadDeadline(pollInterval / time.Duration(len(endpoints)))
			if _, _, err := ep.readOnce(l.logger); err != nil {
				if !isTimeout(err) {
					l.logger.Debugf("endpoint read error: %v", err)
				}
			}
		}
	}
}

func isTimeout(err error) bool {
	type timeout interface{ Timeout() bool }
	te, ok := err.(timeout)
	return ok && te.Timeout()
}

func (l *Listener) closeAll() {
	for _, ep := range l.snapshot() {
		_ = ep.Close()
	}
}

// Close signals the receive loop to stop and waits up to shutdownGrace
// for it to close every endpoint. Idempotent.
func (l *Listener) Close() error {
	l.once.Do(func() { close(l.shutdown) })
	select {
	case <-l.done:
	case <-time.After(shutdownGrace):
		l.logger.Warn("listener shutdown exceeded grace period, forcing endpoint close")
		l.closeAll()
	}
	return nil
}
