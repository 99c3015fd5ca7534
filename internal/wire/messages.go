// Package wire implements the client side of the Nostr relay wire protocol.
// Relay traffic is framed as JSON arrays whose first element is a string
// label ("EVENT", "REQ", "OK", ...); the rest of the array is positional.
// This package parses relay -> client messages into typed structs and builds
// the client -> relay messages the service sends.
package wire

import (
	"encoding/json"
	"fmt"

	"github.com/nbd-wtf/go-nostr"
)

// Event kinds fixed by the interoperating protocol standard. These must
// match exactly for compatibility with other clients and relays.
const (
	KindSeal      = 13   // NIP-59 seal, signed by the real sender
	KindPrivateDM = 14   // NIP-17 private direct message rumor
	KindReport    = 1984 // NIP-56 report
	KindGiftWrap  = 1059 // NIP-59 gift wrap, signed by a throwaway key
)

// ---------------------------------------------------------------------------
// Relay -> client messages
// ---------------------------------------------------------------------------

// RelayMessage is implemented by every message a relay can push to a client.
type RelayMessage interface {
	relayMessage()
}

// InboundEvent is an ["EVENT", <sub id>, <event>] delivery for one of our
// subscriptions.
type InboundEvent struct {
	SubscriptionID string
	Event          *nostr.Event
}

// OKResult is an ["OK", <event id>, <accepted>, <reason>] acknowledgement of
// an event we published.
type OKResult struct {
	EventID  string
	Accepted bool
	Reason   string
}

// EndOfStoredEvents is an ["EOSE", <sub id>] marker: everything after it is
// live traffic rather than stored history.
type EndOfStoredEvents struct {
	SubscriptionID string
}

// Notice is a ["NOTICE", <text>] human-readable message from the relay.
type Notice struct {
	Text string
}

// Closed is a ["CLOSED", <sub id>, <reason>] notification that the relay
// dropped one of our subscriptions.
type Closed struct {
	SubscriptionID string
	Reason         string
}

func (InboundEvent) relayMessage()      {}
func (OKResult) relayMessage()          {}
func (EndOfStoredEvents) relayMessage() {}
func (Notice) relayMessage()            {}
func (Closed) relayMessage()            {}

// ParseRelayMessage decodes one relay frame into its typed representation.
// Unknown labels and malformed frames return an error; callers are expected
// to log and skip them.
func ParseRelayMessage(data []byte) (RelayMessage, error) {
	var arr []json.RawMessage
	if err := json.Unmarshal(data, &arr); err != nil {
		return nil, fmt.Errorf("wire: message is not a JSON array: %w", err)
	}
	if len(arr) == 0 {
		return nil, fmt.Errorf("wire: empty message array")
	}

	var label string
	if err := json.Unmarshal(arr[0], &label); err != nil {
		return nil, fmt.Errorf("wire: message label is not a string: %w", err)
	}

	switch label {
	case "EVENT":
		if len(arr) < 3 {
			return nil, fmt.Errorf("wire: EVENT needs 3 elements, got %d", len(arr))
		}
		var msg InboundEvent
		if err := json.Unmarshal(arr[1], &msg.SubscriptionID); err != nil {
			return nil, fmt.Errorf("wire: EVENT subscription id: %w", err)
		}
		msg.Event = &nostr.Event{}
		if err := json.Unmarshal(arr[2], msg.Event); err != nil {
			return nil, fmt.Errorf("wire: EVENT payload: %w", err)
		}
		return msg, nil

	case "OK":
		if len(arr) < 3 {
			return nil, fmt.Errorf("wire: OK needs at least 3 elements, got %d", len(arr))
		}
		var msg OKResult
		if err := json.Unmarshal(arr[1], &msg.EventID); err != nil {
			return nil, fmt.Errorf("wire: OK event id: %w", err)
		}
		if err := json.Unmarshal(arr[2], &msg.Accepted); err != nil {
			return nil, fmt.Errorf("wire: OK accepted flag: %w", err)
		}
		if len(arr) > 3 {
			if err := json.Unmarshal(arr[3], &msg.Reason); err != nil {
				return nil, fmt.Errorf("wire: OK reason: %w", err)
			}
		}
		return msg, nil

	case "EOSE":
		if len(arr) < 2 {
			return nil, fmt.Errorf("wire: EOSE needs 2 elements, got %d", len(arr))
		}
		var msg EndOfStoredEvents
		if err := json.Unmarshal(arr[1], &msg.SubscriptionID); err != nil {
			return nil, fmt.Errorf("wire: EOSE subscription id: %w", err)
		}
		return msg, nil

	case "NOTICE":
		if len(arr) < 2 {
			return nil, fmt.Errorf("wire: NOTICE needs 2 elements, got %d", len(arr))
		}
		var msg Notice
		if err := json.Unmarshal(arr[1], &msg.Text); err != nil {
			return nil, fmt.Errorf("wire: NOTICE text: %w", err)
		}
		return msg, nil

	case "CLOSED":
		if len(arr) < 2 {
			return nil, fmt.Errorf("wire: CLOSED needs at least 2 elements, got %d", len(arr))
		}
		var msg Closed
		if err := json.Unmarshal(arr[1], &msg.SubscriptionID); err != nil {
			return nil, fmt.Errorf("wire: CLOSED subscription id: %w", err)
		}
		if len(arr) > 2 {
			if err := json.Unmarshal(arr[2], &msg.Reason); err != nil {
				return nil, fmt.Errorf("wire: CLOSED reason: %w", err)
			}
		}
		return msg, nil
	}

	return nil, fmt.Errorf("wire: unknown message label %q", label)
}

// ---------------------------------------------------------------------------
// Client -> relay messages
// ---------------------------------------------------------------------------

// Subscribe builds a ["REQ", <sub id>, <filter>...] frame.
func Subscribe(subscriptionID string, filters ...nostr.Filter) ([]byte, error) {
	parts := make([]interface{}, 0, len(filters)+2)
	parts = append(parts, "REQ", subscriptionID)
	for _, f := range filters {
		parts = append(parts, f)
	}
	data, err := json.Marshal(parts)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal REQ: %w", err)
	}
	return data, nil
}

// Submit builds an ["EVENT", <event>] frame for broadcasting a signed event.
func Submit(event *nostr.Event) ([]byte, error) {
	data, err := json.Marshal([]interface{}{"EVENT", event})
	if err != nil {
		return nil, fmt.Errorf("wire: marshal EVENT: %w", err)
	}
	return data, nil
}

// Unsubscribe builds a ["CLOSE", <sub id>] frame.
func Unsubscribe(subscriptionID string) ([]byte, error) {
	data, err := json.Marshal([]interface{}{"CLOSE", subscriptionID})
	if err != nil {
		return nil, fmt.Errorf("wire: marshal CLOSE: %w", err)
	}
	return data, nil
}

// GiftWrapFilter returns the standing filter for the service's inbound
// subscription: gift-wrap events addressed to the given recipient. No
// `since` backlog window is requested; only events delivered while
// subscribed are processed.
func GiftWrapFilter(recipientPubkey string) nostr.Filter {
	return nostr.Filter{
		Kinds: []int{KindGiftWrap},
		Tags:  nostr.TagMap{"p": []string{recipientPubkey}},
	}
}
