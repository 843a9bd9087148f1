package protocol

import (
	"unicode/utf8"

	"github.com/rflandau/udprec/udprec"
)

// FitText returns the longest prefix of text that is at most max bytes and ends on a code point boundary.
// Encode never truncates; callers that would rather shorten than fail can run their text through FitText first.
// Stray continuation bytes directly before the cut are dropped along with the partial sequence.
//
// A max < 0 is treated as 0.
func FitText(text string, max int) string {
	if max < 0 {
		max = 0
	}
	if len(text) <= max {
		return text
	}
	// walk back from the limit to the first byte that starts a sequence
	cut := max
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	// the rune starting at cut does not fit (it crosses max), so it is dropped along with everything after it
	return text[:cut]
}

// Fit returns a copy of r whose text is guaranteed to fit within a single frame.
func Fit(r Record) Record {
	return Record{ID: r.ID, Text: FitText(r.Text, udprec.MaxTextSize)}
}
