// Package messaging provides the NATS JetStream client used at the
// pipeline's two external pub/sub boundaries: publishing validated
// moderation requests to the shared moderation topic, and receiving
// moderator decisions from the chat tool's bridge.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// Subjects used by the reportinator pipeline.
const (
	SubjectModerationRequest  = "moderation.request"
	SubjectModerationDecision = "moderation.decision"
)

// Config holds NATS connection settings.
type Config struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		Name:          "reportinator",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}
}

// Client wraps the NATS connection and its JetStream context.
type Client struct {
	conn *nats.Conn
	js   nats.JetStreamContext
	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// NewClient connects to NATS with the given config and returns a ready
// client. It returns an error if the initial connection fails.
func NewClient(config Config) (*Client, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[nats] disconnected: %v", err)
			} else {
				log.Printf("[nats] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[nats] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[nats] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("nats jetstream: %w", err)
	}

	log.Printf("[nats] connected to %s", nc.ConnectedUrl())

	return &Client{
		conn: nc,
		js:   js,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// PublishModerationRequest publishes an envelope to the moderation request
// subject and returns the acknowledged message id.
func (c *Client) PublishModerationRequest(ctx context.Context, data []byte) (string, error) {
	ack, err := c.js.Publish(SubjectModerationRequest, data, nats.Context(ctx))
	if err != nil {
		return "", fmt.Errorf("nats publish %s: %w", SubjectModerationRequest, err)
	}
	return fmt.Sprintf("%s/%d", ack.Stream, ack.Sequence), nil
}

// SubscribeModerationDecision registers a handler for moderator decisions.
func (c *Client) SubscribeModerationDecision(handler func(data []byte)) error {
	sub, err := c.conn.Subscribe(SubjectModerationDecision, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", SubjectModerationDecision, err)
	}

	c.mu.Lock()
	c.subs[SubjectModerationDecision] = sub
	c.mu.Unlock()
	return nil
}

// Close drains all active subscriptions and closes the NATS connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for subject, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			log.Printf("[nats] drain %s: %v", subject, err)
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		log.Printf("[nats] connection drain: %v", err)
	}

	log.Printf("[nats] client closed")
}

// permanentErrors are publish failures that no amount of retrying will fix:
// the item must be dropped and counted.
var permanentErrors = []error{
	nats.ErrAuthorization,
	nats.ErrAuthExpired,
	nats.ErrMaxPayload,
	nats.ErrBadSubject,
	nats.ErrInvalidJSAck,
}

// IsTransient classifies a publish failure. Timeouts, unavailability, and
// other infrastructure hiccups are transient; authorization and payload
// errors are permanent. Unknown errors are treated as transient so that an
// unrecognized broker condition degrades to bounded retries rather than
// silent data loss.
func IsTransient(err error) bool {
	for _, perm := range permanentErrors {
		if errors.Is(err, perm) {
			return false
		}
	}
	return true
}
