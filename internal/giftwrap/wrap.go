package giftwrap

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip44"

	"github.com/reportinator/relay-bot/internal/wire"
)

// maxTimestampTweak is how far into the past the seal and wrap timestamps
// are randomized, per the gift-wrap convention.
const maxTimestampTweak = 2 * 24 * time.Hour

// Wrap builds a gift-wrapped private direct message carrying content for
// the given recipient. The rumor is authored (but not signed) by the
// sender, the seal is signed by the sender, and the outer wrap is signed by
// a freshly generated throwaway key so relay operators learn nothing about
// the real sender. Seal and wrap timestamps are randomized into the past.
//
// Used by the giftwrapper CLI and by tests; the service itself only
// unwraps.
func Wrap(content, senderSecretKey, recipientPubkey string) (*nostr.Event, error) {
	senderPubkey, err := nostr.GetPublicKey(senderSecretKey)
	if err != nil {
		return nil, fmt.Errorf("giftwrap: derive sender pubkey: %w", err)
	}

	// Unsigned rumor.
	rumor := nostr.Event{
		PubKey:    senderPubkey,
		CreatedAt: nostr.Now(),
		Kind:      wire.KindPrivateDM,
		Tags:      nostr.Tags{{"p", recipientPubkey}},
		Content:   content,
	}
	rumor.ID = rumor.GetID()
	rumorJSON, err := json.Marshal(rumor)
	if err != nil {
		return nil, fmt.Errorf("giftwrap: marshal rumor: %w", err)
	}

	// Seal: rumor encrypted sender -> recipient, signed by the sender.
	sealKey, err := nip44.GenerateConversationKey(recipientPubkey, senderSecretKey)
	if err != nil {
		return nil, fmt.Errorf("giftwrap: seal conversation key: %w", err)
	}
	sealContent, err := nip44.Encrypt(string(rumorJSON), sealKey)
	if err != nil {
		return nil, fmt.Errorf("giftwrap: encrypt rumor: %w", err)
	}
	seal := nostr.Event{
		CreatedAt: tweakedNow(),
		Kind:      wire.KindSeal,
		Tags:      nostr.Tags{},
		Content:   sealContent,
	}
	if err := seal.Sign(senderSecretKey); err != nil {
		return nil, fmt.Errorf("giftwrap: sign seal: %w", err)
	}
	sealJSON, err := json.Marshal(seal)
	if err != nil {
		return nil, fmt.Errorf("giftwrap: marshal seal: %w", err)
	}

	// Wrap: seal encrypted throwaway -> recipient, signed by the throwaway.
	ephemeralSecret := nostr.GeneratePrivateKey()
	wrapKey, err := nip44.GenerateConversationKey(recipientPubkey, ephemeralSecret)
	if err != nil {
		return nil, fmt.Errorf("giftwrap: wrap conversation key: %w", err)
	}
	wrapContent, err := nip44.Encrypt(string(sealJSON), wrapKey)
	if err != nil {
		return nil, fmt.Errorf("giftwrap: encrypt seal: %w", err)
	}
	wrap := nostr.Event{
		CreatedAt: tweakedNow(),
		Kind:      wire.KindGiftWrap,
		Tags:      nostr.Tags{{"p", recipientPubkey}},
		Content:   wrapContent,
	}
	if err := wrap.Sign(ephemeralSecret); err != nil {
		return nil, fmt.Errorf("giftwrap: sign wrap: %w", err)
	}

	return &wrap, nil
}

// tweakedNow returns the current time shifted backwards by a random amount
// up to maxTimestampTweak.
func tweakedNow() nostr.Timestamp {
	tweak := time.Duration(rand.Int63n(int64(maxTimestampTweak)))
	return nostr.Timestamp(time.Now().Add(-tweak).Unix())
}
