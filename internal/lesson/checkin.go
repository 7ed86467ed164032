package lesson

// CheckInPrompt returns the verification prompt sent alongside a fresh frame
// for the given stage. waiting_song requires user input rather than polling,
// and idle means no lesson is running, so both return ok=false and the
// periodic check-in skips them entirely.
func CheckInPrompt(s Stage) (string, bool) {
	switch s {
	case StageCheckingKeyboard:
		return "Look at the attached frame. Can you clearly see the piano keyboard now? " +
			"If yes, move on and ask to see my hands.", true
	case StageCheckingHands:
		return "Look at the attached frame. Are both of my hands visible over the keyboard? " +
			"If yes, check my hand position next.", true
	case StageCheckingHandPos:
		return "Look at the attached frame. Is my hand position correct (curved fingers, " +
			"wrists level)? If yes, we are ready for the song.", true
	case StageTeaching:
		return "Here is a fresh frame. Check my hands and posture and keep coaching me " +
			"through the piece.", true
	case StageAdjustingPosition:
		return "Here is a fresh frame. Can you see my hands and the keyboard clearly again? " +
			"If visibility is back, return to teaching.", true
	default:
		return "", false
	}
}
