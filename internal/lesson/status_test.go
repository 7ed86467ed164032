package lesson

import "testing"

func TestExtractStatus(t *testing.T) {
	cases := []struct {
		name        string
		in          string
		wantDisplay string
		wantStage   Stage
		wantFound   bool
	}{
		{
			name:        "tag at end of sentence",
			in:          "I can see the keyboard. [STATUS:checking_hands]",
			wantDisplay: "I can see the keyboard.",
			wantStage:   StageCheckingHands,
			wantFound:   true,
		},
		{
			name:        "tag mid text with surrounding whitespace",
			in:          "Great posture!  [STATUS:teaching]  Keep going.",
			wantDisplay: "Great posture! Keep going.",
			wantStage:   StageTeaching,
			wantFound:   true,
		},
		{
			name:        "no tag",
			in:          "Let me take another look.",
			wantDisplay: "Let me take another look.",
			wantFound:   false,
		},
		{
			name:        "unrecognized stage name left in place",
			in:          "Hmm. [STATUS:doing_scales]",
			wantDisplay: "Hmm. [STATUS:doing_scales]",
			wantFound:   false,
		},
		{
			name:        "first recognized tag wins, all recognized tags stripped",
			in:          "[STATUS:waiting_song] Play when ready. [STATUS:teaching]",
			wantDisplay: "Play when ready.",
			wantStage:   StageWaitingSong,
			wantFound:   true,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			display, stage, found := ExtractStatus(tc.in)
			if display != tc.wantDisplay {
				t.Fatalf("display = %q, want %q", display, tc.wantDisplay)
			}
			if found != tc.wantFound {
				t.Fatalf("found = %v, want %v", found, tc.wantFound)
			}
			if found && stage != tc.wantStage {
				t.Fatalf("stage = %q, want %q", stage, tc.wantStage)
			}
		})
	}
}

func TestStripSessionComplete(t *testing.T) {
	got := StripSessionComplete("SESSION_COMPLETE - done")
	if got != "done" {
		t.Fatalf("StripSessionComplete() = %q, want %q", got, "done")
	}

	got = StripSessionComplete("That was wonderful! SESSION_COMPLETE")
	if got != "That was wonderful!" {
		t.Fatalf("StripSessionComplete() = %q, want %q", got, "That was wonderful!")
	}
}

func TestParseStage(t *testing.T) {
	if _, ok := ParseStage("teaching"); !ok {
		t.Fatalf("ParseStage(teaching) not recognized")
	}
	if _, ok := ParseStage("TEACHING"); ok {
		t.Fatalf("ParseStage should be case-sensitive")
	}
	if _, ok := ParseStage("warmup"); ok {
		t.Fatalf("ParseStage(warmup) should not be recognized")
	}
}

func TestStageWantsAudio(t *testing.T) {
	for _, s := range Stages {
		want := s == StageWaitingSong || s == StageTeaching
		if got := s.WantsAudio(); got != want {
			t.Fatalf("%s.WantsAudio() = %v, want %v", s, got, want)
		}
	}
}
