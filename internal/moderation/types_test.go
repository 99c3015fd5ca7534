package moderation

import (
	"encoding/json"
	"strings"
	"testing"
)

const hexID = "39fba06a4d881591ac4d9b1bbbd0870bc25a92a0420fed47d50d6ab4b5c11f32"

func TestParsePayload(t *testing.T) {
	p, err := ParsePayload(`{"targetEventId":"` + hexID + `","reasonCategory":"spam","note":"hi"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.TargetEventID != hexID {
		t.Errorf("TargetEventID = %s", p.TargetEventID)
	}
	if p.ReasonCategory != "spam" || p.Note != "hi" {
		t.Errorf("unexpected payload %+v", p)
	}
}

func TestParsePayloadMinimal(t *testing.T) {
	p, err := ParsePayload(`{"targetEventId":"` + hexID + `"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.TargetPubkey != "" || p.ReasonCategory != "" || p.Note != "" {
		t.Errorf("optional fields should be empty: %+v", p)
	}
}

func TestParsePayloadRejects(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"not json", `hello world`},
		{"missing target", `{"note":"x"}`},
		{"short target", `{"targetEventId":"abc"}`},
		{"uppercase hex", `{"targetEventId":"` + strings.ToUpper(hexID) + `"}`},
		{"bad pubkey", `{"targetEventId":"` + hexID + `","targetPubkey":"nope"}`},
		{"unknown category", `{"targetEventId":"` + hexID + `","reasonCategory":"gossip"}`},
	}
	for _, tc := range cases {
		if _, err := ParsePayload(tc.content); err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
	}
}

func TestRequestJSONShape(t *testing.T) {
	req := Request{
		RequestID:      "r1",
		ReporterPubkey: "pk",
		TargetEventID:  hexID,
		ReasonCategory: "spam",
	}
	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, field := range []string{`"requestId"`, `"reporterPubkey"`, `"targetEventId"`, `"reasonCategory"`} {
		if !strings.Contains(string(data), field) {
			t.Errorf("serialized request missing %s: %s", field, data)
		}
	}
	if strings.Contains(string(data), `"targetPubkey"`) {
		t.Errorf("empty targetPubkey should be omitted: %s", data)
	}
}

func TestDecisionFlagged(t *testing.T) {
	cases := []struct {
		decision string
		want     bool
	}{
		{"flag", true},
		{"FLAG", true},
		{"Flag", true},
		{"ignore", false},
		{"", false},
		{"delete", false},
	}
	for _, tc := range cases {
		d := Decision{Decision: tc.decision}
		if d.Flagged() != tc.want {
			t.Errorf("Flagged(%q) = %v, want %v", tc.decision, d.Flagged(), tc.want)
		}
	}
}

func TestParseCategory(t *testing.T) {
	for _, valid := range []string{"hate", "hate/threatening", "sexual/minors", "spam", "impersonation", "other"} {
		if _, err := ParseCategory(valid); err != nil {
			t.Errorf("ParseCategory(%q): %v", valid, err)
		}
	}
	for _, invalid := range []string{"", "Spam", "hate/", "politics"} {
		if _, err := ParseCategory(invalid); err == nil {
			t.Errorf("ParseCategory(%q): expected error", invalid)
		}
	}
}

func TestCategoryMappings(t *testing.T) {
	cases := []struct {
		category   Category
		reportType string
		labelCode  string
	}{
		{CategorySpam, "spam", "SP"},
		{CategorySexual, "nudity", "NS"},
		{CategorySexualMinors, "illegal", "IL-csa"},
		{CategoryImpersonation, "impersonation", "IM"},
		{CategoryHate, "other", "IH"},
		{CategoryOther, "other", "NA"},
	}
	for _, tc := range cases {
		if got := tc.category.ReportType(); got != tc.reportType {
			t.Errorf("%s: ReportType = %q, want %q", tc.category, got, tc.reportType)
		}
		if got := tc.category.LabelCode(); got != tc.labelCode {
			t.Errorf("%s: LabelCode = %q, want %q", tc.category, got, tc.labelCode)
		}
		if tc.category.Description() == "" {
			t.Errorf("%s: empty description", tc.category)
		}
	}
}
