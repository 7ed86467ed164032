package lesson

// Stage identifies the current step of the lesson protocol.
type Stage string

const (
	StageIdle              Stage = "idle"
	StageCheckingKeyboard  Stage = "checking_keyboard"
	StageCheckingHands     Stage = "checking_hands"
	StageCheckingHandPos   Stage = "checking_hand_position"
	StageWaitingSong       Stage = "waiting_song"
	StageTeaching          Stage = "teaching"
	StageAdjustingPosition Stage = "adjusting_position"
)

// Stages lists every recognized stage in protocol order.
var Stages = []Stage{
	StageIdle,
	StageCheckingKeyboard,
	StageCheckingHands,
	StageCheckingHandPos,
	StageWaitingSong,
	StageTeaching,
	StageAdjustingPosition,
}

// ParseStage resolves a stage name embedded in a status tag.
func ParseStage(name string) (Stage, bool) {
	switch Stage(name) {
	case StageIdle, StageCheckingKeyboard, StageCheckingHands,
		StageCheckingHandPos, StageWaitingSong, StageTeaching,
		StageAdjustingPosition:
		return Stage(name), true
	default:
		return "", false
	}
}

// WantsAudio reports whether microphone capture should run in this stage.
// Audio is only streamed once the lesson reaches the playing stages so the
// backend never transcribes setup chatter.
func (s Stage) WantsAudio() bool {
	return s == StageWaitingSong || s == StageTeaching
}
