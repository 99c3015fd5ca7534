package relay

import (
	"context"
	"testing"
	"time"

	"github.com/reportinator/relay-bot/internal/wire"
)

func testConnection(t *testing.T) (*Connection, chan Inbound) {
	t.Helper()
	cfg := DefaultConnectionConfig()
	cfg.Address = "wss://relay.test"
	cfg.RecipientPubkey = "service-pk"
	out := make(chan Inbound, 8)
	return NewConnection(cfg, out), out
}

func TestHandleFrameForwardsGiftWraps(t *testing.T) {
	c, out := testConnection(t)
	ctx := context.Background()

	frame := []byte(`["EVENT","sub-1",{"id":"evt-1","kind":1059,"content":"cipher"}]`)
	if err := c.handleFrame(ctx, "sub-1", frame); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case in := <-out:
		if in.Event.ID != "evt-1" {
			t.Errorf("forwarded id %s", in.Event.ID)
		}
		if in.Relay != "wss://relay.test" {
			t.Errorf("forwarded relay %s", in.Relay)
		}
	default:
		t.Fatal("event not forwarded")
	}
}

func TestHandleFrameFiltersForeignTraffic(t *testing.T) {
	c, out := testConnection(t)
	ctx := context.Background()

	frames := [][]byte{
		[]byte(`["EVENT","other-sub",{"id":"evt-1","kind":1059}]`),  // not our subscription
		[]byte(`["EVENT","sub-1",{"id":"evt-2","kind":1}]`),         // not a gift wrap
		[]byte(`["EVENT","sub-1",{"kind":1059}]`),                   // no id
		[]byte(`["EOSE","sub-1"]`),                                  // marker only
		[]byte(`["NOTICE","maintenance tonight"]`),                  // informational
		[]byte(`["CLOSED","other-sub","error: whatever"]`),          // someone else's sub
		[]byte(`garbage that is not json`),                          // unparseable, skipped
	}
	for _, frame := range frames {
		if err := c.handleFrame(ctx, "sub-1", frame); err != nil {
			t.Fatalf("frame %s: unexpected error: %v", frame, err)
		}
	}

	select {
	case in := <-out:
		t.Fatalf("unexpected forwarded event %s", in.Event.ID)
	default:
	}
}

func TestHandleFrameClosedOwnSubscriptionEndsSession(t *testing.T) {
	c, _ := testConnection(t)

	frame := []byte(`["CLOSED","sub-1","error: shutting down"]`)
	if err := c.handleFrame(context.Background(), "sub-1", frame); err == nil {
		t.Fatal("expected session error when our subscription is closed")
	}
}

func TestHandleFrameRoutesPublishAcks(t *testing.T) {
	c, _ := testConnection(t)

	waiter := make(chan wire.OKResult, 1)
	c.mu.Lock()
	c.pending["evt-9"] = waiter
	c.mu.Unlock()

	frame := []byte(`["OK","evt-9",false,"invalid: bad sig"]`)
	if err := c.handleFrame(context.Background(), "sub-1", frame); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case res := <-waiter:
		if res.Accepted {
			t.Error("expected rejection")
		}
		if res.Reason != "invalid: bad sig" {
			t.Errorf("reason = %q", res.Reason)
		}
	case <-time.After(time.Second):
		t.Fatal("ack never routed to waiter")
	}

	c.mu.Lock()
	_, stillPending := c.pending["evt-9"]
	c.mu.Unlock()
	if stillPending {
		t.Error("waiter not removed after ack")
	}
}

func TestPublishWithoutSession(t *testing.T) {
	c, _ := testConnection(t)

	err := c.Publish(context.Background(), testEvent("evt-1"))
	if err != ErrNotConnected {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}

func TestConnectionStateString(t *testing.T) {
	cases := map[State]string{
		StateDisconnected: "disconnected",
		StateConnecting:   "connecting",
		StateSubscribed:   "subscribed",
		StateRetrying:     "retrying",
		State(99):         "unknown",
	}
	for s, want := range cases {
		if s.String() != want {
			t.Errorf("State(%d).String() = %q, want %q", s, s.String(), want)
		}
	}
}
