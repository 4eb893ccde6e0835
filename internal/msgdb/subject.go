package msgdb

import (
	"io"
	"mime"
	"regexp"
	"strings"

	msgcharset "github.com/emersion/go-message/charset"
)

// rePrefix matches a leading "Re:", its localised/bracketed-counter
// variants ("Re[2]:", "RE: RE:", "[3]"), and surrounding whitespace. It is
// applied repeatedly so multiply-prefixed subjects fully normalise in one
// call, keeping StripRe idempotent (testable property 9).
var rePrefix = regexp.MustCompile(`(?i)^\s*(re(\[\d+\])?|aw|sv|antw|vs)\s*:\s*`)

var bracketedCounter = regexp.MustCompile(`^\s*(\[\d+\]|\(\d+\))\s*`)

var subjectDecoder = &mime.WordDecoder{
	CharsetReader: func(charsetName string, r io.Reader) (io.Reader, error) {
		return msgcharset.Reader(charsetName, r)
	},
}

// StripRe removes a leading reply marker from subject, decoding RFC 2047
// encoded-words on the fly. The decoded form is never persisted — callers
// use the stripped result only for thread-subject comparison.
func StripRe(subject string) string {
	decoded, err := subjectDecoder.DecodeHeader(subject)
	if err != nil || decoded == "" {
		decoded = subject
	}

	s := decoded
	for {
		stripped := rePrefix.ReplaceAllString(s, "")
		stripped = bracketedCounter.ReplaceAllString(stripped, "")
		if stripped == s {
			break
		}
		s = stripped
	}
	return strings.TrimSpace(s)
}
