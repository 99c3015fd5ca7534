// Command giftwrapper wraps a moderation request payload as a NIP-59 gift
// wrap and publishes it to a relay. It is a development utility for
// exercising the pipeline end to end without a full client.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/nbd-wtf/go-nostr"

	"github.com/reportinator/relay-bot/internal/giftwrap"
	"github.com/reportinator/relay-bot/internal/moderation"
	"github.com/reportinator/relay-bot/internal/wire"
)

func main() {
	var (
		relayAddr    = flag.String("relay", "ws://localhost:7777", "relay websocket URL")
		senderKey    = flag.String("sender-key", "", "sender secret key (hex); generated if empty")
		recipient    = flag.String("recipient", "", "recipient (service) pubkey, hex")
		targetEvent  = flag.String("target-event", "", "event id to report, hex")
		targetPubkey = flag.String("target-pubkey", "", "pubkey to report, hex (optional)")
		category     = flag.String("category", "", "suggested reason category (optional)")
		note         = flag.String("note", "", "free-form note for moderators (optional)")
		timeout      = flag.Duration("timeout", 10*time.Second, "publish timeout")
	)
	flag.Parse()

	if *recipient == "" || *targetEvent == "" {
		flag.Usage()
		os.Exit(2)
	}

	sk := *senderKey
	if sk == "" {
		sk = nostr.GeneratePrivateKey()
		log.Printf("generated sender key %s", sk)
	}

	payload, err := json.Marshal(moderation.Payload{
		TargetEventID:  *targetEvent,
		TargetPubkey:   *targetPubkey,
		ReasonCategory: *category,
		Note:           *note,
	})
	if err != nil {
		log.Fatalf("marshal payload: %v", err)
	}

	wrap, err := giftwrap.Wrap(string(payload), sk, *recipient)
	if err != nil {
		log.Fatalf("wrap: %v", err)
	}

	if err := publish(*relayAddr, wrap, *timeout); err != nil {
		log.Fatalf("publish: %v", err)
	}
	log.Printf("published gift wrap %s to %s", wrap.ID, *relayAddr)
}

// publish sends the event and waits for the relay's OK acknowledgement.
func publish(addr string, event *nostr.Event, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	conn, _, _, err := ws.Dial(ctx, addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	frame, err := wire.Submit(event)
	if err != nil {
		return err
	}
	if err := wsutil.WriteClientMessage(conn, ws.OpText, frame); err != nil {
		return fmt.Errorf("write: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(timeout))
	for {
		data, err := wsutil.ReadServerText(conn)
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		msg, err := wire.ParseRelayMessage(data)
		if err != nil {
			continue
		}
		if ok, isOK := msg.(wire.OKResult); isOK && ok.EventID == event.ID {
			if !ok.Accepted {
				return fmt.Errorf("relay rejected event: %s", ok.Reason)
			}
			return nil
		}
	}
}
