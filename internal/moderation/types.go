// Package moderation defines the domain objects that travel through the
// pipeline: the moderation request recovered from a gift-wrapped direct
// message, the category vocabulary used on published reports, and the
// decision delivered by the moderation chat tool.
package moderation

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Request is a validated moderation request. It is created by the gift
// unwrapper from a decrypted rumor and consumed exactly once by the
// publisher.
type Request struct {
	RequestID      string `json:"requestId"`      // gift wrap event id
	ReporterPubkey string `json:"reporterPubkey"` // seal author, never exposed publicly
	TargetEventID  string `json:"targetEventId"`
	TargetPubkey   string `json:"targetPubkey,omitempty"`
	ReasonCategory string `json:"reasonCategory,omitempty"`
	Note           string `json:"note,omitempty"`
}

// Payload is the free-form JSON carried in a rumor's content field. Only
// TargetEventID is required; everything else is optional.
type Payload struct {
	TargetEventID  string `json:"targetEventId"`
	TargetPubkey   string `json:"targetPubkey,omitempty"`
	ReasonCategory string `json:"reasonCategory,omitempty"`
	Note           string `json:"note,omitempty"`
}

// ParsePayload decodes and validates a rumor content string. A missing or
// non-hex target event id, or a reason category outside the known
// vocabulary, is rejected the same way as unparseable JSON: the caller
// drops the message.
func ParsePayload(content string) (*Payload, error) {
	var p Payload
	if err := json.Unmarshal([]byte(content), &p); err != nil {
		return nil, fmt.Errorf("moderation: decode payload: %w", err)
	}
	if !isHexID(p.TargetEventID) {
		return nil, fmt.Errorf("moderation: payload missing valid targetEventId")
	}
	if p.TargetPubkey != "" && !isHexID(p.TargetPubkey) {
		return nil, fmt.Errorf("moderation: targetPubkey is not a 64-char hex key")
	}
	if p.ReasonCategory != "" {
		if _, err := ParseCategory(p.ReasonCategory); err != nil {
			return nil, err
		}
	}
	return &p, nil
}

// isHexID reports whether s is a 64 character lowercase hex string, the
// canonical form of event ids and public keys.
func isHexID(s string) bool {
	if len(s) != 64 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// Decision is delivered by the moderation-decision collaborator after a
// human moderator confirms or dismisses a request. Authenticity of the
// decision is the collaborator's responsibility.
type Decision struct {
	Decision      string `json:"decision"` // "flag" or "ignore"
	TargetEventID string `json:"targetEventId"`
	TargetPubkey  string `json:"targetPubkey,omitempty"`
	Category      string `json:"category"`
}

// Flagged reports whether the moderator confirmed the request. Anything
// other than an explicit "flag" produces no report event.
func (d Decision) Flagged() bool {
	return strings.EqualFold(d.Decision, "flag")
}
