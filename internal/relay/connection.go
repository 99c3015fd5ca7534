// Package relay maintains the service's connections to upstream Nostr
// relays: one Connection per configured address running a reconnecting
// subscription state machine, and a Dispatcher that supervises them,
// deduplicates inbound events, and forwards unique gift wraps downstream.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
	"github.com/nbd-wtf/go-nostr"

	"github.com/reportinator/relay-bot/internal/metrics"
	"github.com/reportinator/relay-bot/internal/wire"
)

// State is a relay connection's position in its session state machine.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateSubscribed
	StateRetrying
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	case StateRetrying:
		return "retrying"
	}
	return "unknown"
}

// ErrNotConnected is returned by Publish when the connection has no live
// session. It is a transient condition.
var ErrNotConnected = errors.New("relay: not connected")

// ErrTooManySessionFailures is returned by Run after the configured number
// of rapid consecutive session failures, handing the crash loop back to the
// Dispatcher so it can escalate the respawn delay.
var ErrTooManySessionFailures = errors.New("relay: too many consecutive session failures")

// RejectedError is a relay's explicit refusal of a published event.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("relay: event rejected: %s", e.Reason)
}

// IsTransientPublishError classifies a relay publish failure. Explicit
// rejections whose machine-readable reason prefix marks the event itself as
// unacceptable are permanent; network failures, timeouts, and throttling
// rejections are worth retrying.
func IsTransientPublishError(err error) bool {
	var rej *RejectedError
	if errors.As(err, &rej) {
		reason := rej.Reason
		return !strings.HasPrefix(reason, "invalid:") &&
			!strings.HasPrefix(reason, "blocked:") &&
			!strings.HasPrefix(reason, "duplicate:")
	}
	return true
}

// Inbound is one event delivery from one relay, before deduplication.
type Inbound struct {
	Relay string
	Event *nostr.Event
}

// ConnectionConfig tunes a single relay connection.
type ConnectionConfig struct {
	Address            string
	RecipientPubkey    string // the service's own identity; scopes the subscription
	Backoff            BackoffConfig
	DialTimeout        time.Duration
	PublishTimeout     time.Duration
	MaxSessionFailures int           // consecutive failures before Run gives up
	SustainedSuccess   time.Duration // subscribed this long resets the failure budget
}

// DefaultConnectionConfig returns production defaults for everything except
// Address and RecipientPubkey.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		Backoff:            DefaultBackoffConfig(),
		DialTimeout:        10 * time.Second,
		PublishTimeout:     10 * time.Second,
		MaxSessionFailures: 8,
		SustainedSuccess:   5 * time.Minute,
	}
}

// Connection owns a single relay session. Its state machine is
// Disconnected -> Connecting -> Subscribed, with any I/O error moving it to
// Retrying for a backoff delay before the next Connecting attempt. While
// subscribed it forwards every matching event to its owner exactly once per
// delivery. Publish is usable whenever a session is live, independent of
// the subscription.
type Connection struct {
	cfg     ConnectionConfig
	out     chan<- Inbound
	backoff *Backoff

	mu        sync.Mutex
	conn      net.Conn
	state     State
	lastError error
	subID     string
	pending   map[string]chan wire.OKResult // event id -> publish ack waiter
}

// NewConnection creates a connection for cfg.Address delivering events into
// out. Call Run to start it.
func NewConnection(cfg ConnectionConfig, out chan<- Inbound) *Connection {
	return &Connection{
		cfg:     cfg,
		out:     out,
		backoff: NewBackoff(cfg.Backoff),
		pending: make(map[string]chan wire.OKResult),
	}
}

// Address returns the relay address this connection is bound to.
func (c *Connection) Address() string {
	return c.cfg.Address
}

// State returns the connection's current state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastError returns the most recent session error, if any.
func (c *Connection) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastError
}

func (c *Connection) setState(s State, err error) {
	c.mu.Lock()
	c.state = s
	if err != nil {
		c.lastError = err
	}
	c.mu.Unlock()
	metrics.RelayState.WithLabelValues(c.cfg.Address).Set(float64(s))
}

// Run drives the session loop until ctx is cancelled. Each failed session
// moves through Retrying with exponential backoff; a session that stays
// subscribed for the sustained-success window resets both the backoff and
// the failure budget. After MaxSessionFailures rapid consecutive failures
// Run returns ErrTooManySessionFailures so the Dispatcher can respawn the
// connection with an escalated delay instead of spinning here.
func (c *Connection) Run(ctx context.Context) error {
	failures := 0
	for {
		if ctx.Err() != nil {
			c.setState(StateDisconnected, nil)
			return nil
		}

		c.setState(StateConnecting, nil)
		subscribedFor, err := c.session(ctx)
		if ctx.Err() != nil {
			c.setState(StateDisconnected, nil)
			return nil
		}

		if subscribedFor >= c.cfg.SustainedSuccess {
			c.backoff.Reset()
			failures = 0
		}
		failures++
		if failures >= c.cfg.MaxSessionFailures {
			c.setState(StateDisconnected, err)
			return fmt.Errorf("%w on %s: last error: %v",
				ErrTooManySessionFailures, c.cfg.Address, err)
		}

		delay := c.backoff.Next()
		c.setState(StateRetrying, err)
		log.Printf("[relay] session error addr=%s retry_in=%s: %v", c.cfg.Address, delay, err)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			c.setState(StateDisconnected, nil)
			return nil
		}
	}
}

// session dials, subscribes, and reads frames until an error or shutdown.
// It returns how long the subscription was live.
func (c *Connection) session(ctx context.Context) (time.Duration, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	conn, _, _, err := ws.Dial(dialCtx, c.cfg.Address)
	cancel()
	if err != nil {
		return 0, fmt.Errorf("relay: dial %s: %w", c.cfg.Address, err)
	}

	subID := uuid.NewString()
	c.mu.Lock()
	c.conn = conn
	c.subID = subID
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		conn.Close()
	}()

	// Unblock the read loop when the process shuts down.
	sessionDone := make(chan struct{})
	defer close(sessionDone)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-sessionDone:
		}
	}()

	req, err := wire.Subscribe(subID, wire.GiftWrapFilter(c.cfg.RecipientPubkey))
	if err != nil {
		return 0, err
	}
	if err := c.write(req); err != nil {
		return 0, fmt.Errorf("relay: subscribe %s: %w", c.cfg.Address, err)
	}

	c.setState(StateSubscribed, nil)
	log.Printf("[relay] subscribed addr=%s sub=%s", c.cfg.Address, subID)
	subscribedAt := time.Now()

	for {
		data, err := wsutil.ReadServerText(conn)
		if err != nil {
			return time.Since(subscribedAt), fmt.Errorf("relay: read %s: %w", c.cfg.Address, err)
		}
		if err := c.handleFrame(ctx, subID, data); err != nil {
			return time.Since(subscribedAt), err
		}
	}
}

// handleFrame routes one relay frame. A non-nil return ends the session.
func (c *Connection) handleFrame(ctx context.Context, subID string, data []byte) error {
	msg, err := wire.ParseRelayMessage(data)
	if err != nil {
		log.Printf("[relay] unparseable frame addr=%s: %v", c.cfg.Address, err)
		return nil
	}

	switch m := msg.(type) {
	case wire.InboundEvent:
		if m.SubscriptionID != subID || m.Event == nil {
			return nil
		}
		if m.Event.Kind != wire.KindGiftWrap || m.Event.ID == "" {
			return nil
		}
		metrics.EventsReceived.WithLabelValues(c.cfg.Address).Inc()
		// Blocking send: a saturated pipeline throttles this relay's read
		// loop instead of dropping events.
		select {
		case c.out <- Inbound{Relay: c.cfg.Address, Event: m.Event}:
		case <-ctx.Done():
		}
		return nil

	case wire.OKResult:
		c.mu.Lock()
		waiter, ok := c.pending[m.EventID]
		if ok {
			delete(c.pending, m.EventID)
		}
		c.mu.Unlock()
		if ok {
			waiter <- m
		}
		return nil

	case wire.EndOfStoredEvents:
		return nil

	case wire.Notice:
		log.Printf("[relay] notice addr=%s: %s", c.cfg.Address, m.Text)
		return nil

	case wire.Closed:
		if m.SubscriptionID == subID {
			return fmt.Errorf("relay: subscription closed by %s: %s", c.cfg.Address, m.Reason)
		}
		return nil
	}
	return nil
}

// write sends one frame, serialized against concurrent publishers.
func (c *Connection) write(data []byte) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	return wsutil.WriteClientMessage(conn, ws.OpText, data)
}

// Publish broadcasts a signed event and waits for the relay's OK
// acknowledgement. Failures are reported to the caller and never retried
// here; retry policy belongs to the caller.
func (c *Connection) Publish(ctx context.Context, event *nostr.Event) error {
	data, err := wire.Submit(event)
	if err != nil {
		return err
	}

	waiter := make(chan wire.OKResult, 1)
	c.mu.Lock()
	if c.conn == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	c.pending[event.ID] = waiter
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, event.ID)
		c.mu.Unlock()
	}()

	if err := c.write(data); err != nil {
		return fmt.Errorf("relay: publish to %s: %w", c.cfg.Address, err)
	}

	timer := time.NewTimer(c.cfg.PublishTimeout)
	defer timer.Stop()
	select {
	case res := <-waiter:
		if res.Accepted {
			return nil
		}
		return &RejectedError{Reason: res.Reason}
	case <-timer.C:
		return fmt.Errorf("relay: publish to %s timed out after %s", c.cfg.Address, c.cfg.PublishTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}
