package relay

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/reportinator/relay-bot/internal/metrics"
)

// DispatcherConfig tunes the dispatcher and the connections it owns.
type DispatcherConfig struct {
	Addresses       []string
	RecipientPubkey string
	Connection      ConnectionConfig // template; Address is filled per relay
	SeenCacheSize   int
	EventBuffer     int           // fan-in channel capacity
	RestartPause    time.Duration // initial respawn delay after a crash-looping connection gives up
	MaxRestartPause time.Duration
}

// DefaultDispatcherConfig returns production defaults for everything except
// Addresses and RecipientPubkey.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		Connection:      DefaultConnectionConfig(),
		SeenCacheSize:   4096,
		EventBuffer:     256,
		RestartPause:    5 * time.Second,
		MaxRestartPause: 5 * time.Minute,
	}
}

// Dispatcher owns every relay Connection and the seen-ID cache. Events
// fan in from all connections; ids already in the cache are discarded,
// everything else is forwarded downstream. Connection failures are
// independent: one relay's outage never blocks forwarding from the others.
type Dispatcher struct {
	cfg    DispatcherConfig
	out    chan<- *nostr.Event
	events chan Inbound
	seen   *SeenCache // touched only by the Run goroutine

	mu    sync.RWMutex
	conns map[string]*Connection
}

// NewDispatcher creates a dispatcher forwarding deduplicated gift wraps
// into out.
func NewDispatcher(cfg DispatcherConfig, out chan<- *nostr.Event) *Dispatcher {
	return &Dispatcher{
		cfg:    cfg,
		out:    out,
		events: make(chan Inbound, cfg.EventBuffer),
		seen:   NewSeenCache(cfg.SeenCacheSize),
		conns:  make(map[string]*Connection),
	}
}

// Run starts one supervised connection per configured address and then
// forwards deduplicated events until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, addr := range d.cfg.Addresses {
		wg.Add(1)
		go func(addr string) {
			defer wg.Done()
			d.supervise(ctx, addr)
		}(addr)
	}

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return nil
		case in := <-d.events:
			if d.seen.Seen(in.Event.ID) {
				metrics.DuplicateEvents.Inc()
				continue
			}
			select {
			case d.out <- in.Event:
			case <-ctx.Done():
				wg.Wait()
				return nil
			}
		}
	}
}

// supervise respawns the connection for addr whenever its task terminates
// other than by shutdown. A connection that gave up after rapid consecutive
// failures is respawned with an escalating pause so a dead relay does not
// produce a tight crash loop; a connection that ran healthily for a while
// resets the pause.
func (d *Dispatcher) supervise(ctx context.Context, addr string) {
	pause := d.cfg.RestartPause
	for {
		cfg := d.cfg.Connection
		cfg.Address = addr
		cfg.RecipientPubkey = d.cfg.RecipientPubkey
		conn := NewConnection(cfg, d.events)

		d.mu.Lock()
		d.conns[addr] = conn
		d.mu.Unlock()

		started := time.Now()
		err := conn.Run(ctx)
		if ctx.Err() != nil {
			return
		}

		if time.Since(started) > cfg.SustainedSuccess {
			pause = d.cfg.RestartPause
		}
		log.Printf("[dispatcher] connection addr=%s terminated: %v; respawning in %s", addr, err, pause)

		select {
		case <-time.After(pause):
		case <-ctx.Done():
			return
		}
		pause *= 2
		if pause > d.cfg.MaxRestartPause {
			pause = d.cfg.MaxRestartPause
		}
	}
}

// Deliver feeds one event delivery into the dispatcher, blocking when the
// pipeline is saturated. Connections use the same channel internally.
func (d *Dispatcher) Deliver(ctx context.Context, in Inbound) error {
	select {
	case d.events <- in:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Publish broadcasts a signed event through the managed connections,
// returning on the first relay that accepts it. Callers own the retry
// policy.
func (d *Dispatcher) Publish(ctx context.Context, event *nostr.Event) error {
	d.mu.RLock()
	conns := make([]*Connection, 0, len(d.conns))
	for _, addr := range d.cfg.Addresses {
		if c, ok := d.conns[addr]; ok {
			conns = append(conns, c)
		}
	}
	d.mu.RUnlock()

	if len(conns) == 0 {
		return ErrNotConnected
	}

	var lastErr error = ErrNotConnected
	for _, c := range conns {
		err := c.Publish(ctx, event)
		if err == nil {
			return nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return lastErr
		}
	}
	return fmt.Errorf("relay: publish failed on all %d relays: %w", len(conns), lastErr)
}
