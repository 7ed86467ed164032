package notedetect

import "math"

// Piano range: A0 (27.5Hz) up to C8 (4186Hz).
const (
	minPitchHz    = 27.5
	maxPitchHz    = 4186.0
	minConfidence = 0.6
)

var noteNames = [12]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

// estimatePitch runs normalized autocorrelation over the chunk and returns
// the best fundamental with its correlation strength in [0,1].
func estimatePitch(mono []int16, sampleRate int) (float64, float64) {
	if sampleRate <= 0 || len(mono) < 2 {
		return 0, 0
	}
	n := len(mono)
	samples := make([]float64, n)
	var energy float64
	for i, s := range mono {
		v := float64(s) / 32768.0
		samples[i] = v
		energy += v * v
	}
	if energy == 0 {
		return 0, 0
	}

	minLag := int(float64(sampleRate) / maxPitchHz)
	maxLag := int(float64(sampleRate) / minPitchHz)
	if minLag < 1 {
		minLag = 1
	}
	if maxLag >= n {
		maxLag = n - 1
	}
	if minLag > maxLag {
		return 0, 0
	}

	bestLag, bestCorr := 0, 0.0
	for lag := minLag; lag <= maxLag; lag++ {
		var corr float64
		for i := 0; i+lag < n; i++ {
			corr += samples[i] * samples[i+lag]
		}
		corr /= energy
		if corr > bestCorr {
			bestCorr = corr
			bestLag = lag
		}
	}
	if bestLag == 0 {
		return 0, 0
	}
	return float64(sampleRate) / float64(bestLag), bestCorr
}

// noteForFrequency maps a frequency to its nearest equal-temperament note,
// A4 = 440Hz.
func noteForFrequency(freq float64) (string, int) {
	if freq <= 0 {
		return "", 0
	}
	midi := int(math.Round(69 + 12*math.Log2(freq/440.0)))
	if midi < 0 {
		midi = 0
	}
	return noteNames[midi%12], midi/12 - 1
}
