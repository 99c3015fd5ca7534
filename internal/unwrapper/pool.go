// Package unwrapper runs the gift unwrapper stage: a pool of stateless
// workers that apply the giftwrap unwrap protocol to each deduplicated
// event and forward the resulting moderation requests downstream. Because
// the workers hold no mutable state and deduplication already happened in
// the dispatcher, the pool can be replicated freely for throughput.
package unwrapper

import (
	"context"
	"log"
	"sync"

	"github.com/nbd-wtf/go-nostr"

	"github.com/reportinator/relay-bot/internal/giftwrap"
	"github.com/reportinator/relay-bot/internal/metrics"
	"github.com/reportinator/relay-bot/internal/moderation"
	"github.com/reportinator/relay-bot/internal/ratelimit"
)

// ReporterLimiter throttles individual reporters. Implemented by
// ratelimit.Limiter; nil disables limiting.
type ReporterLimiter interface {
	Allow(ctx context.Context, identifier string, rule ratelimit.Rule) (bool, error)
}

// Pool is the gift unwrapper worker pool.
type Pool struct {
	secretKey string
	workers   int
	in        <-chan *nostr.Event
	out       chan<- *moderation.Request
	limiter   ReporterLimiter
}

// NewPool creates a pool of the given size reading gift wraps from in and
// writing validated requests to out. limiter may be nil.
func NewPool(secretKey string, workers int, in <-chan *nostr.Event, out chan<- *moderation.Request, limiter ReporterLimiter) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{
		secretKey: secretKey,
		workers:   workers,
		in:        in,
		out:       out,
		limiter:   limiter,
	}
}

// Run processes events until ctx is cancelled. It blocks until all workers
// have stopped.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.work(ctx)
		}()
	}
	wg.Wait()
}

func (p *Pool) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-p.in:
			if evt == nil {
				continue
			}
			p.handle(ctx, evt)
		}
	}
}

// handle unwraps one event. Failures are fail-closed: the event is dropped,
// the per-failure-kind counter incremented, and nothing is emitted.
func (p *Pool) handle(ctx context.Context, evt *nostr.Event) {
	req, err := giftwrap.Unwrap(evt, p.secretKey)
	if err != nil {
		kind := giftwrap.Failure(err)
		if kind == "" {
			kind = giftwrap.FailureDecryption
		}
		metrics.UnwrapDrops.WithLabelValues(string(kind)).Inc()
		log.Printf("[unwrapper] dropped event id=%s: %v", evt.ID, err)
		return
	}

	if p.limiter != nil {
		allowed, _ := p.limiter.Allow(ctx, req.ReporterPubkey, ratelimit.RuleReport)
		if !allowed {
			metrics.RateLimitedRequests.Inc()
			log.Printf("[unwrapper] rate limited request id=%s", req.RequestID)
			return
		}
	}

	log.Printf("[unwrapper] request id=%s target=%s", req.RequestID, req.TargetEventID)
	select {
	case p.out <- req:
	case <-ctx.Done():
	}
}
