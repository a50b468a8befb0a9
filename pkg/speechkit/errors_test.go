package speechkit

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSnippetRedactsKeyAcrossCut(t *testing.T) {
	key := "AQVNabcdefghijklmnopqrstuvwxyz012345"
	body := strings.Repeat("x", 500) + " " + key
	got := snippet([]byte(body))
	if strings.Contains(got, "AQVN") {
		t.Fatalf("key fragment leaked: %q", got[len(got)-40:])
	}
	if !strings.HasSuffix(got, "...") {
		t.Fatalf("expected truncation marker, got tail %q", got[len(got)-20:])
	}
}

func TestSnippetKeepsRunesWhole(t *testing.T) {
	body := "a" + strings.Repeat("я", 300)
	got := snippet([]byte(body))
	if !utf8.ValidString(got) {
		t.Fatalf("snippet is invalid UTF-8: tail %q", got[len(got)-8:])
	}
	if len(got) > maxBodyInError+len("...") {
		t.Fatalf("snippet too long: %d bytes", len(got))
	}
	if !strings.HasSuffix(got, "я...") {
		t.Fatalf("unexpected tail %q", got[len(got)-8:])
	}
}

func TestSnippetShortAndEmpty(t *testing.T) {
	if got := snippet(nil); got != "<empty body>" {
		t.Fatalf("snippet(nil) = %q", got)
	}
	if got := snippet([]byte(`{"message":"bad"}`)); got != `{"message":"bad"}` {
		t.Fatalf("short body changed: %q", got)
	}
}
