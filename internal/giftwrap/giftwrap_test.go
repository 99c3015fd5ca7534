package giftwrap

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip44"

	"github.com/reportinator/relay-bot/internal/wire"
)

const testTargetEvent = "39fba06a4d881591ac4d9b1bbbd0870bc25a92a0420fed47d50d6ab4b5c11f32"
const testTargetPubkey = "9e9d1b563e33db1e1b5caca076d0a26c4a3a222ce0eef6e428ff4cd07eb1a4a3"

func validPayload() string {
	return `{"targetEventId":"` + testTargetEvent + `","targetPubkey":"` + testTargetPubkey + `","reasonCategory":"spam","note":"please look at this"}`
}

// encryptTo encrypts plaintext from the holder of senderSecret to recipient.
func encryptTo(t *testing.T, plaintext, senderSecret, recipientPubkey string) string {
	t.Helper()
	key, err := nip44.GenerateConversationKey(recipientPubkey, senderSecret)
	if err != nil {
		t.Fatalf("conversation key: %v", err)
	}
	ciphertext, err := nip44.Encrypt(plaintext, key)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	return ciphertext
}

// makeSeal builds a signed seal of the given kind around rumorJSON.
func makeSeal(t *testing.T, senderSecret, recipientPubkey string, kind int, rumorJSON string) nostr.Event {
	t.Helper()
	seal := nostr.Event{
		CreatedAt: nostr.Now(),
		Kind:      kind,
		Tags:      nostr.Tags{},
		Content:   encryptTo(t, rumorJSON, senderSecret, recipientPubkey),
	}
	if err := seal.Sign(senderSecret); err != nil {
		t.Fatalf("sign seal: %v", err)
	}
	return seal
}

// makeWrap builds a signed gift wrap around sealJSON using a throwaway key.
func makeWrap(t *testing.T, recipientPubkey, sealJSON string) *nostr.Event {
	t.Helper()
	ephemeral := nostr.GeneratePrivateKey()
	wrap := nostr.Event{
		CreatedAt: nostr.Now(),
		Kind:      wire.KindGiftWrap,
		Tags:      nostr.Tags{{"p", recipientPubkey}},
		Content:   encryptTo(t, sealJSON, ephemeral, recipientPubkey),
	}
	if err := wrap.Sign(ephemeral); err != nil {
		t.Fatalf("sign wrap: %v", err)
	}
	return &wrap
}

func mustJSON(t *testing.T, v interface{}) string {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(data)
}

func TestWrapUnwrapRoundTrip(t *testing.T) {
	senderSecret := nostr.GeneratePrivateKey()
	senderPubkey, _ := nostr.GetPublicKey(senderSecret)
	serviceSecret := nostr.GeneratePrivateKey()
	servicePubkey, _ := nostr.GetPublicKey(serviceSecret)

	wrap, err := Wrap(validPayload(), senderSecret, servicePubkey)
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}
	if wrap.Kind != wire.KindGiftWrap {
		t.Errorf("wrap kind = %d, want %d", wrap.Kind, wire.KindGiftWrap)
	}
	if wrap.PubKey == senderPubkey {
		t.Error("wrap is signed by the real sender, throwaway key expected")
	}
	if strings.Contains(wrap.Content, testTargetEvent) {
		t.Error("wrap ciphertext leaks the payload")
	}

	req, err := Unwrap(wrap, serviceSecret)
	if err != nil {
		t.Fatalf("unwrap: %v", err)
	}
	if req.RequestID != wrap.ID {
		t.Errorf("RequestID = %s, want wrap id %s", req.RequestID, wrap.ID)
	}
	if req.ReporterPubkey != senderPubkey {
		t.Errorf("ReporterPubkey = %s, want %s", req.ReporterPubkey, senderPubkey)
	}
	if req.TargetEventID != testTargetEvent {
		t.Errorf("TargetEventID = %s, want %s", req.TargetEventID, testTargetEvent)
	}
	if req.TargetPubkey != testTargetPubkey {
		t.Errorf("TargetPubkey = %s, want %s", req.TargetPubkey, testTargetPubkey)
	}
	if req.ReasonCategory != "spam" {
		t.Errorf("ReasonCategory = %s, want spam", req.ReasonCategory)
	}
	if req.Note != "please look at this" {
		t.Errorf("Note = %q", req.Note)
	}
}

func TestUnwrapWrongRecipient(t *testing.T) {
	senderSecret := nostr.GeneratePrivateKey()
	servicePubkey, _ := nostr.GetPublicKey(nostr.GeneratePrivateKey())
	otherSecret := nostr.GeneratePrivateKey()

	wrap, err := Wrap(validPayload(), senderSecret, servicePubkey)
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}

	_, err = Unwrap(wrap, otherSecret)
	if Failure(err) != FailureDecryption {
		t.Errorf("failure = %q, want %q (err=%v)", Failure(err), FailureDecryption, err)
	}
}

func TestUnwrapNotAGiftWrap(t *testing.T) {
	serviceSecret := nostr.GeneratePrivateKey()

	event := nostr.Event{Kind: 1, CreatedAt: nostr.Now(), Tags: nostr.Tags{}, Content: "hello"}
	if err := event.Sign(nostr.GeneratePrivateKey()); err != nil {
		t.Fatalf("sign: %v", err)
	}

	_, err := Unwrap(&event, serviceSecret)
	if Failure(err) != FailureUnexpectedKind {
		t.Errorf("failure = %q, want %q", Failure(err), FailureUnexpectedKind)
	}
}

func TestUnwrapTamperedWrapSignature(t *testing.T) {
	senderSecret := nostr.GeneratePrivateKey()
	serviceSecret := nostr.GeneratePrivateKey()
	servicePubkey, _ := nostr.GetPublicKey(serviceSecret)

	wrap, err := Wrap(validPayload(), senderSecret, servicePubkey)
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}
	wrap.Sig = flipLastHex(wrap.Sig)

	_, err = Unwrap(wrap, serviceSecret)
	if Failure(err) != FailureInvalidSignature {
		t.Errorf("failure = %q, want %q", Failure(err), FailureInvalidSignature)
	}
}

func TestUnwrapGarbledWrapCiphertext(t *testing.T) {
	serviceSecret := nostr.GeneratePrivateKey()
	servicePubkey, _ := nostr.GetPublicKey(serviceSecret)

	// Properly signed wrap whose content was never valid ciphertext.
	ephemeral := nostr.GeneratePrivateKey()
	wrap := nostr.Event{
		CreatedAt: nostr.Now(),
		Kind:      wire.KindGiftWrap,
		Tags:      nostr.Tags{{"p", servicePubkey}},
		Content:   "definitely not nip44 ciphertext",
	}
	if err := wrap.Sign(ephemeral); err != nil {
		t.Fatalf("sign: %v", err)
	}

	_, err := Unwrap(&wrap, serviceSecret)
	if Failure(err) != FailureDecryption {
		t.Errorf("failure = %q, want %q", Failure(err), FailureDecryption)
	}
}

func TestUnwrapSealNotJSON(t *testing.T) {
	serviceSecret := nostr.GeneratePrivateKey()
	servicePubkey, _ := nostr.GetPublicKey(serviceSecret)

	wrap := makeWrap(t, servicePubkey, "this is not a seal")

	_, err := Unwrap(wrap, serviceSecret)
	if Failure(err) != FailureMalformedSeal {
		t.Errorf("failure = %q, want %q", Failure(err), FailureMalformedSeal)
	}
}

func TestUnwrapWrongSealKind(t *testing.T) {
	senderSecret := nostr.GeneratePrivateKey()
	serviceSecret := nostr.GeneratePrivateKey()
	servicePubkey, _ := nostr.GetPublicKey(serviceSecret)

	rumor := rumorEvent(senderSecret, validPayload(), nostr.Now())
	seal := makeSeal(t, senderSecret, servicePubkey, 1, mustJSON(t, rumor))
	wrap := makeWrap(t, servicePubkey, mustJSON(t, seal))

	_, err := Unwrap(wrap, serviceSecret)
	if Failure(err) != FailureMalformedSeal {
		t.Errorf("failure = %q, want %q", Failure(err), FailureMalformedSeal)
	}
}

func TestUnwrapTamperedSealSignature(t *testing.T) {
	senderSecret := nostr.GeneratePrivateKey()
	serviceSecret := nostr.GeneratePrivateKey()
	servicePubkey, _ := nostr.GetPublicKey(serviceSecret)

	rumor := rumorEvent(senderSecret, validPayload(), nostr.Now())
	seal := makeSeal(t, senderSecret, servicePubkey, wire.KindSeal, mustJSON(t, rumor))
	seal.Sig = flipLastHex(seal.Sig)
	wrap := makeWrap(t, servicePubkey, mustJSON(t, seal))

	_, err := Unwrap(wrap, serviceSecret)
	if Failure(err) != FailureInvalidSignature {
		t.Errorf("failure = %q, want %q", Failure(err), FailureInvalidSignature)
	}
}

func TestUnwrapWrongRumorKind(t *testing.T) {
	senderSecret := nostr.GeneratePrivateKey()
	serviceSecret := nostr.GeneratePrivateKey()
	servicePubkey, _ := nostr.GetPublicKey(serviceSecret)

	rumor := rumorEvent(senderSecret, validPayload(), nostr.Now())
	rumor.Kind = 1
	rumor.ID = rumor.GetID()
	seal := makeSeal(t, senderSecret, servicePubkey, wire.KindSeal, mustJSON(t, rumor))
	wrap := makeWrap(t, servicePubkey, mustJSON(t, seal))

	_, err := Unwrap(wrap, serviceSecret)
	if Failure(err) != FailureUnexpectedKind {
		t.Errorf("failure = %q, want %q", Failure(err), FailureUnexpectedKind)
	}
}

func TestUnwrapRumorAuthorMismatch(t *testing.T) {
	senderSecret := nostr.GeneratePrivateKey()
	serviceSecret := nostr.GeneratePrivateKey()
	servicePubkey, _ := nostr.GetPublicKey(serviceSecret)
	impostorPubkey, _ := nostr.GetPublicKey(nostr.GeneratePrivateKey())

	rumor := rumorEvent(senderSecret, validPayload(), nostr.Now())
	rumor.PubKey = impostorPubkey
	rumor.ID = rumor.GetID()
	seal := makeSeal(t, senderSecret, servicePubkey, wire.KindSeal, mustJSON(t, rumor))
	wrap := makeWrap(t, servicePubkey, mustJSON(t, seal))

	_, err := Unwrap(wrap, serviceSecret)
	if Failure(err) != FailureMalformedSeal {
		t.Errorf("failure = %q, want %q", Failure(err), FailureMalformedSeal)
	}
}

func TestUnwrapUnparseablePayload(t *testing.T) {
	senderSecret := nostr.GeneratePrivateKey()
	serviceSecret := nostr.GeneratePrivateKey()
	servicePubkey, _ := nostr.GetPublicKey(serviceSecret)

	for _, content := range []string{
		`{"oops`,
		`{"note":"no target at all"}`,
		`{"targetEventId":"tooshort"}`,
		`{"targetEventId":"` + testTargetEvent + `","reasonCategory":"not-a-category"}`,
	} {
		rumor := rumorEvent(senderSecret, content, nostr.Now())
		seal := makeSeal(t, senderSecret, servicePubkey, wire.KindSeal, mustJSON(t, rumor))
		wrap := makeWrap(t, servicePubkey, mustJSON(t, seal))

		_, err := Unwrap(wrap, serviceSecret)
		if Failure(err) != FailureUnparseablePayload {
			t.Errorf("content %q: failure = %q, want %q", content, Failure(err), FailureUnparseablePayload)
		}
	}
}

func TestUnwrapTimestampSkew(t *testing.T) {
	senderSecret := nostr.GeneratePrivateKey()
	serviceSecret := nostr.GeneratePrivateKey()
	servicePubkey, _ := nostr.GetPublicKey(serviceSecret)

	now := time.Now()
	cases := []struct {
		name      string
		createdAt time.Time
		ok        bool
	}{
		{"recent", now.Add(-time.Hour), true},
		{"edge of window", now.Add(-MaxTimestampSkew + time.Hour), true},
		{"far past", now.Add(-MaxTimestampSkew - time.Hour), false},
		{"far future", now.Add(MaxTimestampSkew + time.Hour), false},
	}

	for _, tc := range cases {
		rumor := rumorEvent(senderSecret, validPayload(), nostr.Timestamp(tc.createdAt.Unix()))
		seal := makeSeal(t, senderSecret, servicePubkey, wire.KindSeal, mustJSON(t, rumor))
		wrap := makeWrap(t, servicePubkey, mustJSON(t, seal))

		_, err := unwrapAt(wrap, serviceSecret, now)
		if tc.ok && err != nil {
			t.Errorf("%s: unexpected error: %v", tc.name, err)
		}
		if !tc.ok && Failure(err) != FailureUnexpectedKind {
			t.Errorf("%s: failure = %q, want %q", tc.name, Failure(err), FailureUnexpectedKind)
		}
	}
}

// rumorEvent builds an unsigned kind-14 rumor from the sender.
func rumorEvent(senderSecret, content string, createdAt nostr.Timestamp) nostr.Event {
	senderPubkey, _ := nostr.GetPublicKey(senderSecret)
	rumor := nostr.Event{
		PubKey:    senderPubkey,
		CreatedAt: createdAt,
		Kind:      wire.KindPrivateDM,
		Tags:      nostr.Tags{},
		Content:   content,
	}
	rumor.ID = rumor.GetID()
	return rumor
}

// flipLastHex changes the final hex digit of a signature so it no longer
// verifies but stays well-formed.
func flipLastHex(s string) string {
	if s == "" {
		return "0"
	}
	last := s[len(s)-1]
	replacement := byte('0')
	if last == '0' {
		replacement = '1'
	}
	return s[:len(s)-1] + string(replacement)
}
