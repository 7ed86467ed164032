package lesson

import (
	"regexp"
	"strings"
)

// SessionCompleteSentinel marks natural lesson conclusion anywhere in a turn.
const SessionCompleteSentinel = "SESSION_COMPLETE"

var statusTagPattern = regexp.MustCompile(`\[STATUS:([a-z_]+)\]`)

// ExtractStatus pulls the embedded status tag out of a completed assistant
// turn. It returns the display text with every recognized tag removed and
// whitespace collapsed, the stage named by the first recognized tag, and
// whether any recognized tag was present. Unrecognized tag names are left in
// the text untouched and never change the stage.
func ExtractStatus(raw string) (display string, stage Stage, found bool) {
	display = statusTagPattern.ReplaceAllStringFunc(raw, func(tag string) string {
		name := statusTagPattern.FindStringSubmatch(tag)[1]
		s, ok := ParseStage(name)
		if !ok {
			return tag
		}
		if !found {
			stage = s
			found = true
		}
		return " "
	})
	display = NormalizeText(display)
	return display, stage, found
}

// StripSessionComplete removes the completion sentinel and surrounding
// separator noise from a turn's text.
func StripSessionComplete(raw string) string {
	out := strings.ReplaceAll(raw, SessionCompleteSentinel, " ")
	out = NormalizeText(out)
	out = strings.TrimLeft(out, "-–: ")
	return NormalizeText(out)
}

// NormalizeText collapses runs of whitespace into single spaces and trims.
func NormalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
