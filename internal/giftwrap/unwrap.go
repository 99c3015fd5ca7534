// Package giftwrap implements the NIP-59 three-layer envelope protocol used
// for private moderation requests: a gift wrap signed by a throwaway key,
// containing an encrypted seal signed by the real sender, containing an
// encrypted unsigned rumor that carries the request payload.
//
// Unwrap is pure and fail-closed: any failure at any layer yields a typed
// error and no partial request. Counting drops is the caller's job, which
// keeps this package free of side effects and directly property-testable.
package giftwrap

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip44"

	"github.com/reportinator/relay-bot/internal/moderation"
	"github.com/reportinator/relay-bot/internal/wire"
)

// MaxTimestampSkew is how far a rumor's created_at may sit from wall clock
// before it is dropped. Gift wraps intentionally randomize timestamps to
// resist timing correlation, so the window is generous: only grossly
// implausible timestamps are rejected.
const MaxTimestampSkew = 7 * 24 * time.Hour

// FailureKind labels why an unwrap failed. The values double as metric
// label values for the per-failure-kind drop counters.
type FailureKind string

const (
	FailureDecryption         FailureKind = "decryption_failure"
	FailureMalformedSeal      FailureKind = "malformed_seal"
	FailureInvalidSignature   FailureKind = "invalid_signature"
	FailureUnexpectedKind     FailureKind = "unexpected_rumor_kind"
	FailureUnparseablePayload FailureKind = "unparseable_payload"
)

// UnwrapError is the typed failure returned by Unwrap.
type UnwrapError struct {
	Kind FailureKind
	Err  error
}

func (e *UnwrapError) Error() string {
	return fmt.Sprintf("giftwrap: %s: %v", e.Kind, e.Err)
}

func (e *UnwrapError) Unwrap() error {
	return e.Err
}

// Failure returns the failure kind of an unwrap error, or "" if err is not
// one.
func Failure(err error) FailureKind {
	if ue, ok := err.(*UnwrapError); ok {
		return ue.Kind
	}
	return ""
}

func failf(kind FailureKind, format string, args ...interface{}) *UnwrapError {
	return &UnwrapError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// Unwrap decrypts and validates a gift-wrapped event with the service's
// secret key and extracts the moderation request it carries.
//
// Layer by layer: the wrap's signature (by the throwaway key) is verified
// and its ciphertext decrypted with the wrap-author/recipient conversation
// key to recover the seal; the seal's kind and signature (by the real
// sender) are verified and its ciphertext decrypted with the
// seal-author/recipient conversation key to recover the rumor; the rumor's
// kind, authorship, and timestamp are validated and its content parsed as a
// moderation request payload.
func Unwrap(wrap *nostr.Event, secretKey string) (*moderation.Request, error) {
	return unwrapAt(wrap, secretKey, time.Now())
}

// unwrapAt is Unwrap with an injectable clock for the skew check.
func unwrapAt(wrap *nostr.Event, secretKey string, now time.Time) (*moderation.Request, error) {
	if wrap == nil {
		return nil, failf(FailureMalformedSeal, "nil event")
	}
	if wrap.Kind != wire.KindGiftWrap {
		return nil, failf(FailureUnexpectedKind, "kind %d is not a gift wrap", wrap.Kind)
	}
	if ok, err := wrap.CheckSignature(); err != nil || !ok {
		return nil, failf(FailureInvalidSignature, "gift wrap signature does not verify: %v", err)
	}

	// Layer 1: wrap ciphertext -> seal.
	wrapKey, err := nip44.GenerateConversationKey(wrap.PubKey, secretKey)
	if err != nil {
		return nil, failf(FailureDecryption, "wrap conversation key: %v", err)
	}
	sealJSON, err := nip44.Decrypt(wrap.Content, wrapKey)
	if err != nil {
		return nil, failf(FailureDecryption, "decrypt wrap: %v", err)
	}

	// Layer 2: seal validation and ciphertext -> rumor.
	var seal nostr.Event
	if err := json.Unmarshal([]byte(sealJSON), &seal); err != nil {
		return nil, failf(FailureMalformedSeal, "decode seal: %v", err)
	}
	if seal.Kind != wire.KindSeal {
		return nil, failf(FailureMalformedSeal, "kind %d is not a seal", seal.Kind)
	}
	if ok, err := seal.CheckSignature(); err != nil || !ok {
		return nil, failf(FailureInvalidSignature, "seal signature does not verify: %v", err)
	}

	sealKey, err := nip44.GenerateConversationKey(seal.PubKey, secretKey)
	if err != nil {
		return nil, failf(FailureDecryption, "seal conversation key: %v", err)
	}
	rumorJSON, err := nip44.Decrypt(seal.Content, sealKey)
	if err != nil {
		return nil, failf(FailureDecryption, "decrypt seal: %v", err)
	}

	// Layer 3: rumor validation and payload extraction.
	var rumor nostr.Event
	if err := json.Unmarshal([]byte(rumorJSON), &rumor); err != nil {
		return nil, failf(FailureUnexpectedKind, "decode rumor: %v", err)
	}
	if rumor.Kind != wire.KindPrivateDM {
		return nil, failf(FailureUnexpectedKind, "rumor kind %d is not a private DM", rumor.Kind)
	}
	// The seal vouches for the rumor: a rumor claiming a different author
	// than the seal's signing key is a forgery attempt.
	if rumor.PubKey != seal.PubKey {
		return nil, failf(FailureMalformedSeal, "rumor author %s does not match seal author %s", rumor.PubKey, seal.PubKey)
	}
	if skew := now.Sub(rumor.CreatedAt.Time()); skew > MaxTimestampSkew || skew < -MaxTimestampSkew {
		return nil, failf(FailureUnexpectedKind, "rumor timestamp %d outside skew tolerance", rumor.CreatedAt)
	}

	payload, err := moderation.ParsePayload(rumor.Content)
	if err != nil {
		return nil, failf(FailureUnparseablePayload, "rumor content: %v", err)
	}

	return &moderation.Request{
		RequestID:      wrap.ID,
		ReporterPubkey: seal.PubKey,
		TargetEventID:  payload.TargetEventID,
		TargetPubkey:   payload.TargetPubkey,
		ReasonCategory: payload.ReasonCategory,
		Note:           payload.Note,
	}, nil
}
