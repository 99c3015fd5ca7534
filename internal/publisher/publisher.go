// Package publisher is the pipeline's final stage: it converts each
// moderation request into a wire envelope and drives it through a
// bounded-retry publish call to the shared moderation topic.
package publisher

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/reportinator/relay-bot/internal/messaging"
	"github.com/reportinator/relay-bot/internal/metrics"
	"github.com/reportinator/relay-bot/internal/moderation"
)

// Envelope is the canonical serialization of a moderation request plus
// provenance metadata. It exists only for the duration of a publish call.
type Envelope struct {
	ID         string              `json:"id"`
	Source     string              `json:"source"`
	ReceivedAt time.Time           `json:"receivedAt"`
	Request    *moderation.Request `json:"request"`
}

// Queue is the external publish collaborator. The only thing required of it
// is that its errors distinguish retryable from non-retryable failures (via
// messaging.IsTransient).
type Queue interface {
	PublishModerationRequest(ctx context.Context, data []byte) (string, error)
}

// Auditor records successfully published requests. May be nil.
type Auditor interface {
	RecordRequest(ctx context.Context, req *moderation.Request, messageID string) error
}

// Config tunes the publisher's retry policy.
type Config struct {
	Source      string // provenance tag stamped on every envelope
	MaxAttempts int
	RetryMin    time.Duration
	RetryMax    time.Duration
}

// DefaultConfig returns the production retry policy: 4 attempts with
// 1s..30s exponential backoff.
func DefaultConfig() Config {
	return Config{
		Source:      "reportinator",
		MaxAttempts: 4,
		RetryMin:    1 * time.Second,
		RetryMax:    30 * time.Second,
	}
}

// Publisher consumes moderation requests and publishes them. There is no
// durable outbox: items in flight when the process dies are lost, by
// design; durability, if required, belongs to an upstream queue.
type Publisher struct {
	cfg   Config
	queue Queue
	in    <-chan *moderation.Request
	audit Auditor
}

// New creates a Publisher reading from in. audit may be nil.
func New(cfg Config, queue Queue, in <-chan *moderation.Request, audit Auditor) *Publisher {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &Publisher{cfg: cfg, queue: queue, in: in, audit: audit}
}

// Run consumes requests until ctx is cancelled.
func (p *Publisher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-p.in:
			if req == nil {
				continue
			}
			p.Process(ctx, req)
		}
	}
}

// Process publishes one request with bounded retry. Transient failures are
// retried with exponential backoff up to the attempt budget; permanent
// failures drop the item immediately.
func (p *Publisher) Process(ctx context.Context, req *moderation.Request) {
	env := Envelope{
		ID:         uuid.NewString(),
		Source:     p.cfg.Source,
		ReceivedAt: time.Now().UTC(),
		Request:    req,
	}
	data, err := json.Marshal(env)
	if err != nil {
		// Requests are plain structs; this cannot happen with valid input.
		log.Printf("[publisher] marshal envelope request=%s: %v", req.RequestID, err)
		metrics.PublishFailures.WithLabelValues("permanent").Inc()
		return
	}

	delay := p.cfg.RetryMin
	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		metrics.PublishAttempts.Inc()
		if attempt > 1 {
			metrics.PublishRetries.Inc()
		}

		msgID, err := p.queue.PublishModerationRequest(ctx, data)
		if err == nil {
			metrics.RequestsPublished.Inc()
			log.Printf("[publisher] published request=%s msg=%s", req.RequestID, msgID)
			if p.audit != nil {
				if err := p.audit.RecordRequest(ctx, req, msgID); err != nil {
					log.Printf("[publisher] audit record request=%s: %v", req.RequestID, err)
				}
			}
			return
		}

		if !messaging.IsTransient(err) {
			log.Printf("[publisher] dropping request=%s, permanent failure: %v", req.RequestID, err)
			metrics.PublishFailures.WithLabelValues("permanent").Inc()
			return
		}
		if attempt == p.cfg.MaxAttempts {
			break
		}

		log.Printf("[publisher] transient failure request=%s attempt=%d retry_in=%s: %v",
			req.RequestID, attempt, delay, err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			log.Printf("[publisher] shutdown while retrying request=%s", req.RequestID)
			metrics.PublishFailures.WithLabelValues("exhausted").Inc()
			return
		}
		delay *= 2
		if delay > p.cfg.RetryMax {
			delay = p.cfg.RetryMax
		}
	}

	log.Printf("[publisher] dropping request=%s after %d attempts", req.RequestID, p.cfg.MaxAttempts)
	metrics.PublishFailures.WithLabelValues("exhausted").Inc()
}
