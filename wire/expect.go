package wire

import "strings"

// ExpectKind classifies an Expect request header value per RFC 7231 §5.1.1,
// the way the engine's exchange setup (SPEC_FULL.md §4.6 "100-continue
// gate") needs before it decides whether to interject a 100 Continue ahead
// of reading the body.
type ExpectKind int

const (
	ExpectNone ExpectKind = iota
	ExpectContinue
	ExpectUnknown
)

// ParseExpect inspects the raw Expect header value (absent means the header
// wasn't sent at all, which callers represent as the empty string).
func ParseExpect(value string) ExpectKind {
	if value == "" {
		return ExpectNone
	}
	for _, part := range strings.Split(value, ",") {
		if strings.EqualFold(trimOWS(part), "100-continue") {
			return ExpectContinue
		}
	}
	return ExpectUnknown
}
