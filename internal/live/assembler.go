package live

import (
	"strings"

	"github.com/pianocoach/pianocoach/internal/lesson"
)

// TurnResult is the outcome of one completed turn: either an ordinary
// assistant utterance or the distinguished session-complete signal.
type TurnResult struct {
	Text            string
	SessionComplete bool
}

// Assembler reconstructs complete assistant utterances from streamed
// fragments. Fragments between two turn-complete markers belong to the same
// turn and are concatenated in arrival order; the underlying channel
// guarantees ordering, so no reordering or de-duplication happens here.
// Not safe for concurrent use; the controller feeds it from a single loop.
type Assembler struct {
	buf strings.Builder
}

// Append accumulates one fragment.
func (a *Assembler) Append(fragment string) {
	a.buf.WriteString(fragment)
}

// Pending returns the text accumulated so far in the open turn.
func (a *Assembler) Pending() string {
	return a.buf.String()
}

// Complete closes the current turn and resets the accumulator. Exactly one
// result is produced per turn-complete marker: a SessionComplete result when
// the sentinel appears anywhere in the accumulated text, an ordinary turn
// otherwise.
func (a *Assembler) Complete() TurnResult {
	raw := a.buf.String()
	a.buf.Reset()

	if strings.Contains(raw, lesson.SessionCompleteSentinel) {
		return TurnResult{
			Text:            lesson.StripSessionComplete(raw),
			SessionComplete: true,
		}
	}
	return TurnResult{Text: raw}
}
