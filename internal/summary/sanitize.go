package summary

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	speechURLPattern          = regexp.MustCompile(`https?://\S+`)
	speechFencedCodePattern   = regexp.MustCompile("(?s)```.*?```")
	speechInlineCodePattern   = regexp.MustCompile("`[^`]*`")
	speechMarkdownLinkPattern = regexp.MustCompile(`\[(.*?)\]\((.*?)\)`)
)

// SanitizeSpeech strips markup and symbol noise from model text so the
// spoken recap sounds natural. Sharps are kept: "C#" must survive for note
// names to read correctly.
func SanitizeSpeech(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	raw = speechFencedCodePattern.ReplaceAllString(raw, " ")
	raw = speechInlineCodePattern.ReplaceAllString(raw, " ")
	raw = speechMarkdownLinkPattern.ReplaceAllString(raw, "$1")
	raw = speechURLPattern.ReplaceAllString(raw, " ")

	raw = strings.NewReplacer(
		"*", " ",
		"_", " ",
		"\\", " ",
		"|", " ",
		"~", " ",
		"<", " ",
		">", " ",
	).Replace(raw)

	var b strings.Builder
	b.Grow(len(raw))
	prevSpace := true

	for _, r := range raw {
		switch {
		case r == '‍' || r == '️' || r == '⃣':
			continue
		case unicode.IsSpace(r):
			if !prevSpace {
				b.WriteByte(' ')
				prevSpace = true
			}
		case unicode.IsControl(r):
			continue
		case unicode.In(r, unicode.So, unicode.Sm, unicode.Sk):
			// Emoji and symbol glyphs sound wrong when spoken.
			continue
		case isSpeechSafeRune(r):
			b.WriteRune(r)
			prevSpace = false
		case unicode.IsPunct(r):
			if !prevSpace {
				b.WriteByte(' ')
				prevSpace = true
			}
		default:
			b.WriteRune(r)
			prevSpace = false
		}
	}

	return strings.TrimSpace(b.String())
}

func isSpeechSafeRune(r rune) bool {
	switch r {
	case '.', ',', '!', '?', ':', ';', '\'', '"', '-', '(', ')', '#':
		return true
	default:
		return false
	}
}
