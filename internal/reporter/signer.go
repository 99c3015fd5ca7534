// Package reporter builds, signs, and publishes the public report events
// that result from confirmed moderation decisions. Reports are always
// signed with the service's own key: neither the reporter's nor the
// moderator's identity ever appears on the network.
package reporter

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/reportinator/relay-bot/internal/metrics"
	"github.com/reportinator/relay-bot/internal/moderation"
	"github.com/reportinator/relay-bot/internal/relay"
	"github.com/reportinator/relay-bot/internal/wire"
)

// RelayPublisher submits a signed event to the relay network. Implemented
// by relay.Dispatcher.
type RelayPublisher interface {
	Publish(ctx context.Context, event *nostr.Event) error
}

// Auditor records published report events. May be nil.
type Auditor interface {
	RecordReport(ctx context.Context, event *nostr.Event, decision moderation.Decision) error
}

// Config tunes the signer's publish retry policy.
type Config struct {
	MaxAttempts int
	RetryMin    time.Duration
	RetryMax    time.Duration
}

// DefaultConfig returns the production retry policy.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 4,
		RetryMin:    1 * time.Second,
		RetryMax:    30 * time.Second,
	}
}

// Signer consumes moderation decisions. On "flag" it signs a report event
// once and publishes it with bounded retry; on "ignore" it does nothing.
type Signer struct {
	cfg       Config
	secretKey string
	relays    RelayPublisher
	in        <-chan moderation.Decision
	audit     Auditor
}

// New creates a Signer reading decisions from in. audit may be nil.
func New(cfg Config, secretKey string, relays RelayPublisher, in <-chan moderation.Decision, audit Auditor) *Signer {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &Signer{cfg: cfg, secretKey: secretKey, relays: relays, in: in, audit: audit}
}

// Run consumes decisions until ctx is cancelled.
func (s *Signer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case d := <-s.in:
			s.Process(ctx, d)
		}
	}
}

// Process handles one decision. Signing happens exactly once; a publish
// failure after successful signing retries with the already-signed event,
// whose signature remains valid regardless of retry count.
func (s *Signer) Process(ctx context.Context, d moderation.Decision) {
	if !d.Flagged() {
		metrics.DecisionsIgnored.Inc()
		log.Printf("[reporter] ignoring decision for target=%s", d.TargetEventID)
		return
	}

	event, err := BuildReportEvent(s.secretKey, d)
	if err != nil {
		metrics.ReportFailures.WithLabelValues("build").Inc()
		log.Printf("[reporter] dropping decision for target=%s: %v", d.TargetEventID, err)
		return
	}

	delay := s.cfg.RetryMin
	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		err := s.relays.Publish(ctx, event)
		if err == nil {
			metrics.ReportsPublished.Inc()
			log.Printf("[reporter] published report id=%s target=%s category=%s",
				event.ID, d.TargetEventID, d.Category)
			if s.audit != nil {
				if err := s.audit.RecordReport(ctx, event, d); err != nil {
					log.Printf("[reporter] audit record report=%s: %v", event.ID, err)
				}
			}
			return
		}

		if !relay.IsTransientPublishError(err) {
			metrics.ReportFailures.WithLabelValues("permanent").Inc()
			log.Printf("[reporter] dropping report id=%s, permanent failure: %v", event.ID, err)
			return
		}
		if attempt == s.cfg.MaxAttempts {
			break
		}

		log.Printf("[reporter] transient failure report=%s attempt=%d retry_in=%s: %v",
			event.ID, attempt, delay, err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			metrics.ReportFailures.WithLabelValues("exhausted").Inc()
			return
		}
		delay *= 2
		if delay > s.cfg.RetryMax {
			delay = s.cfg.RetryMax
		}
	}

	metrics.ReportFailures.WithLabelValues("exhausted").Inc()
	log.Printf("[reporter] dropping report id=%s after %d attempts", event.ID, s.cfg.MaxAttempts)
}

// BuildReportEvent constructs and signs the public report event for a
// confirmed decision. The event tags the reported pubkey and event id with
// the category's NIP-56 report type, labels it under the MOD namespace with
// the category's NIP-69 code, and carries the category description as
// content.
func BuildReportEvent(secretKey string, d moderation.Decision) (*nostr.Event, error) {
	category, err := moderation.ParseCategory(d.Category)
	if err != nil {
		return nil, err
	}
	if d.TargetEventID == "" && d.TargetPubkey == "" {
		return nil, fmt.Errorf("reporter: decision names no target")
	}

	tags := nostr.Tags{}
	if d.TargetPubkey != "" {
		tags = append(tags, nostr.Tag{"p", d.TargetPubkey, category.ReportType()})
	}
	if d.TargetEventID != "" {
		tags = append(tags, nostr.Tag{"e", d.TargetEventID, category.ReportType()})
	}
	tags = append(tags,
		nostr.Tag{"L", "MOD"},
		nostr.Tag{"l", "MOD>" + category.LabelCode(), "MOD"},
	)

	event := nostr.Event{
		CreatedAt: nostr.Now(),
		Kind:      wire.KindReport,
		Tags:      tags,
		Content:   category.Description(),
	}
	if err := event.Sign(secretKey); err != nil {
		return nil, fmt.Errorf("reporter: sign report event: %w", err)
	}
	return &event, nil
}
