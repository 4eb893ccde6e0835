package msgdb

import (
	"strings"
	"testing"
)

func TestParseEnvelopeUsesReferencesWhenPresent(t *testing.T) {
	raw := "Message-Id: <c@x>\r\n" +
		"References: <a@x> <b@x>\r\n" +
		"In-Reply-To: <b@x>\r\n" +
		"Subject: Re: Hello\r\n\r\n"

	msgID, refs, err := ParseEnvelope(strings.NewReader(raw))
	if err != nil {
		t.Fatalf("ParseEnvelope: %v", err)
	}
	if msgID != "c@x" {
		t.Fatalf("expected message id c@x, got %q", msgID)
	}
	if len(refs) != 2 || refs[0] != "a@x" || refs[1] != "b@x" {
		t.Fatalf("expected References to win over In-Reply-To, got %v", refs)
	}
}

func TestParseEnvelopeFallsBackToInReplyTo(t *testing.T) {
	raw := "Message-Id: <c@x>\r\n" +
		"In-Reply-To: <b@x>\r\n" +
		"Subject: Re: Hello\r\n\r\n"

	_, refs, err := ParseEnvelope(strings.NewReader(raw))
	if err != nil {
		t.Fatalf("ParseEnvelope: %v", err)
	}
	if len(refs) != 1 || refs[0] != "b@x" {
		t.Fatalf("expected In-Reply-To fallback, got %v", refs)
	}
}

func TestParseEnvelopeNoLinkage(t *testing.T) {
	raw := "Message-Id: <c@x>\r\nSubject: Hello\r\n\r\n"

	msgID, refs, err := ParseEnvelope(strings.NewReader(raw))
	if err != nil {
		t.Fatalf("ParseEnvelope: %v", err)
	}
	if msgID != "c@x" {
		t.Fatalf("expected message id c@x, got %q", msgID)
	}
	if len(refs) != 0 {
		t.Fatalf("expected no references, got %v", refs)
	}
}
