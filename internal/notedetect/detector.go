package notedetect

import "sync"

// DetectedEvent describes one detected piano note. Display-only: nothing in
// the lesson flow branches on it.
type DetectedEvent struct {
	Note       string  `json:"note"`
	Octave     int     `json:"octave"`
	Frequency  float64 `json:"frequency"`
	Confidence float64 `json:"confidence"`
	Stable     bool    `json:"stable"`
}

// Detector turns raw microphone chunks into note events.
type Detector interface {
	OnNoteDetected(fn func(DetectedEvent))
	Feed(mono []int16, sampleRate int)
	Start()
	Stop()
}

// stableRuns is how many consecutive identical detections mark a note stable.
const stableRuns = 3

// PitchDetector is an autocorrelation pitch tracker over mono PCM16 chunks.
type PitchDetector struct {
	mu       sync.Mutex
	callback func(DetectedEvent)
	running  bool

	lastNote   string
	lastOctave int
	runLength  int
}

func NewPitchDetector() *PitchDetector {
	return &PitchDetector{}
}

func (d *PitchDetector) OnNoteDetected(fn func(DetectedEvent)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.callback = fn
}

func (d *PitchDetector) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.running = true
	d.runLength = 0
	d.lastNote = ""
}

func (d *PitchDetector) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.running = false
}

// Feed analyzes one chunk. Chunks arriving while the detector is stopped are
// ignored so a source swap cannot leak stale events.
func (d *PitchDetector) Feed(mono []int16, sampleRate int) {
	d.mu.Lock()
	if !d.running || d.callback == nil {
		d.mu.Unlock()
		return
	}
	cb := d.callback
	d.mu.Unlock()

	freq, conf := estimatePitch(mono, sampleRate)
	if conf < minConfidence {
		d.mu.Lock()
		d.runLength = 0
		d.lastNote = ""
		d.mu.Unlock()
		return
	}
	note, octave := noteForFrequency(freq)

	d.mu.Lock()
	if note == d.lastNote && octave == d.lastOctave {
		d.runLength++
	} else {
		d.lastNote = note
		d.lastOctave = octave
		d.runLength = 1
	}
	stable := d.runLength >= stableRuns
	d.mu.Unlock()

	cb(DetectedEvent{
		Note:       note,
		Octave:     octave,
		Frequency:  freq,
		Confidence: conf,
		Stable:     stable,
	})
}
