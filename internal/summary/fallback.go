package summary

import "fmt"

// FallbackText is the recap used when the summarizer is unavailable. It is
// intentionally generic: warm, short, and true for any lesson.
func FallbackText(durationSeconds int) string {
	minutes := durationSeconds / 60
	switch {
	case minutes <= 0:
		return "Great job showing up to practice today! Every minute at the piano counts. See you next time!"
	case minutes == 1:
		return "Great job practicing today! You spent a whole minute focused at the piano. Keep it up and see you next time!"
	default:
		return fmt.Sprintf("Great job practicing today! You spent about %d minutes at the piano, and that focus really adds up. Keep it going and see you next time!", minutes)
	}
}
