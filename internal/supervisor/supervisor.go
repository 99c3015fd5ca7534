// Package supervisor wires the pipeline together: relay connections feed
// the dispatcher, which feeds the gift unwrapper pool, which feeds the
// publisher; orthogonally, moderator decisions feed the report signer,
// which publishes back through the relay connections. Every stage is an
// independently scheduled goroutine with a private bounded channel;
// saturation propagates backwards as blocking sends rather than drops.
package supervisor

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/reportinator/relay-bot/internal/audit"
	"github.com/reportinator/relay-bot/internal/config"
	"github.com/reportinator/relay-bot/internal/messaging"
	"github.com/reportinator/relay-bot/internal/moderation"
	"github.com/reportinator/relay-bot/internal/publisher"
	"github.com/reportinator/relay-bot/internal/relay"
	"github.com/reportinator/relay-bot/internal/reporter"
	"github.com/reportinator/relay-bot/internal/unwrapper"
)

// Supervisor owns the pipeline's lifecycle.
type Supervisor struct {
	cfg     *config.Config
	queue   *messaging.Client
	limiter unwrapper.ReporterLimiter // nil disables rate limiting
	store   *audit.Store              // nil disables auditing
}

// New creates a Supervisor. limiter and store may be nil.
func New(cfg *config.Config, queue *messaging.Client, limiter unwrapper.ReporterLimiter, store *audit.Store) *Supervisor {
	return &Supervisor{cfg: cfg, queue: queue, limiter: limiter, store: store}
}

// Run starts every component and blocks until ctx is cancelled and all
// components have stopped. Intake stages (relay connections, dispatcher,
// unwrapper) stop as soon as ctx fires; the publisher and report signer
// get a grace window to finish in-flight publishes and drain their queues
// before being aborted.
func (s *Supervisor) Run(ctx context.Context) error {
	wraps := make(chan *nostr.Event, s.cfg.EventQueueSize)
	requests := make(chan *moderation.Request, s.cfg.RequestQueueSize)
	decisions := make(chan moderation.Decision, s.cfg.DecisionQueueSize)

	graceCtx, graceCancel := context.WithCancel(context.Background())
	defer graceCancel()
	finished := make(chan struct{})
	go func() {
		select {
		case <-finished:
			return
		case <-ctx.Done():
		}
		timer := time.NewTimer(s.cfg.ShutdownGrace)
		defer timer.Stop()
		select {
		case <-timer.C:
			log.Printf("[supervisor] grace period over, aborting in-flight publishes")
			graceCancel()
		case <-finished:
		}
	}()

	dispatcherCfg := relay.DefaultDispatcherConfig()
	dispatcherCfg.Addresses = s.cfg.RelayAddrs
	dispatcherCfg.RecipientPubkey = s.cfg.PublicKey
	dispatcher := relay.NewDispatcher(dispatcherCfg, wraps)

	pool := unwrapper.NewPool(s.cfg.SecretKey, s.cfg.UnwrapWorkers, wraps, requests, s.limiter)

	var requestAudit publisher.Auditor
	var reportAudit reporter.Auditor
	if s.store != nil {
		requestAudit = s.store
		reportAudit = s.store
	}
	pub := publisher.New(publisher.DefaultConfig(), s.queue, requests, requestAudit)
	signer := reporter.New(reporter.DefaultConfig(), s.cfg.SecretKey, dispatcher, decisions, reportAudit)

	// Decisions arrive from the moderation chat tool's bridge. The handler
	// blocks when the signer is saturated, pushing backpressure into NATS
	// delivery instead of dropping decisions.
	err := s.queue.SubscribeModerationDecision(func(data []byte) {
		var d moderation.Decision
		if err := json.Unmarshal(data, &d); err != nil {
			log.Printf("[supervisor] unparseable decision: %v", err)
			return
		}
		select {
		case decisions <- d:
		case <-ctx.Done():
		}
	})
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	wg.Add(4)
	go func() {
		defer wg.Done()
		dispatcher.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		pool.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		pub.Run(graceCtx)
	}()
	go func() {
		defer wg.Done()
		signer.Run(graceCtx)
	}()

	log.Printf("[supervisor] pipeline running: %d relays, %d unwrap workers",
		len(s.cfg.RelayAddrs), s.cfg.UnwrapWorkers)

	<-ctx.Done()
	log.Printf("[supervisor] shutting down, grace=%s", s.cfg.ShutdownGrace)

	// The publisher and signer keep draining their queues during the grace
	// window; once it expires graceCancel aborts them.
	drainDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(drainDone)
	}()
	select {
	case <-drainDone:
	case <-time.After(s.cfg.ShutdownGrace + 5*time.Second):
		log.Printf("[supervisor] components did not stop in time")
	}
	close(finished)
	return nil
}
