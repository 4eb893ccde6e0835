package mailuri

import (
	"testing"

	"github.com/hkdb/aerion/internal/dberr"
)

func TestParseNewsGroupListing(t *testing.T) {
	u, err := Parse("news://news.example.org:119/?group=comp.lang.go")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if u.Scheme != SchemeNews {
		t.Fatalf("expected scheme news, got %v", u.Scheme)
	}
	if u.Host != "news.example.org" || u.Port != 119 {
		t.Fatalf("expected news.example.org:119, got %s:%d", u.Host, u.Port)
	}
	if u.Group != "comp.lang.go" {
		t.Fatalf("expected group comp.lang.go, got %q", u.Group)
	}
	if u.Action != ActionListGroups {
		t.Fatalf("expected ActionListGroups, got %v", u.Action)
	}
}

func TestParseNewsMessageFetchPart(t *testing.T) {
	raw := "news://news.mozilla.org:119/3D612B96.1050301%40netscape.com?part=1.2&type=image/gif&filename=hp_icon_logo.gif"
	u, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if u.Part != "1.2" || u.Type != "image/gif" || u.Filename != "hp_icon_logo.gif" {
		t.Fatalf("unexpected part/type/filename: %+v", u)
	}
	if u.Action != ActionSaveToDisk {
		t.Fatalf("expected ActionSaveToDisk for a non-display attachment, got %v", u.Action)
	}
}

func TestParseNewsMessageDisplayPartIsFetchPart(t *testing.T) {
	u, err := Parse("news://news.example.org/msgid?part=1&type=message/rfc822")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if u.Action != ActionFetchPart {
		t.Fatalf("expected ActionFetchPart for an inline-display part, got %v", u.Action)
	}
}

func TestParseHeaderFilter(t *testing.T) {
	u, err := Parse("news://news.example.org/msgid?header=filter")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if u.Header != "filter" || u.Action != ActionFetch {
		t.Fatalf("expected header=filter with ActionFetch, got %+v", u)
	}
}

func TestParseMailto(t *testing.T) {
	u, err := Parse("mailto:someone@example.com")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if u.Scheme != SchemeMailto {
		t.Fatalf("expected scheme mailto, got %v", u.Scheme)
	}
}

func TestParseRejectsUnknownScheme(t *testing.T) {
	_, err := Parse("ftp://example.com/file")
	if !dberr.Is(err, dberr.InvalidOrMissingServer) {
		t.Fatalf("expected InvalidOrMissingServer, got %v", err)
	}
}

func TestStringRoundTripsQueryParams(t *testing.T) {
	u, err := Parse("nntp://news.example.org:119/comp.lang.go?group=comp.lang.go&key=42")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	again, err := Parse(u.String())
	if err != nil {
		t.Fatalf("Parse(String()): %v", err)
	}
	if again.Group != u.Group || again.Key != u.Key || again.Host != u.Host || again.Port != u.Port {
		t.Fatalf("round trip mismatch: %+v vs %+v", u, again)
	}
}
