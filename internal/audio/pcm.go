package audio

// Helpers for shaping captured microphone audio into the wire format:
// 16 kHz mono 16-bit signed little-endian PCM.

const WireSampleRate = 16000

// DownmixToMono averages interleaved channels into a mono signal. A mono
// input is returned unchanged.
func DownmixToMono(samples []int16, channels int) []int16 {
	if channels <= 1 {
		return samples
	}
	frames := len(samples) / channels
	out := make([]int16, frames)
	for i := 0; i < frames; i++ {
		var sum int
		for c := 0; c < channels; c++ {
			sum += int(samples[i*channels+c])
		}
		out[i] = int16(sum / channels)
	}
	return out
}

// Resample converts mono PCM between sample rates by linear interpolation.
// Quality is adequate for speech and far cheaper than a polyphase filter.
func Resample(in []int16, fromRate, toRate int) []int16 {
	if fromRate <= 0 || toRate <= 0 || fromRate == toRate || len(in) == 0 {
		return in
	}
	outLen := int(int64(len(in)) * int64(toRate) / int64(fromRate))
	if outLen == 0 {
		return nil
	}
	out := make([]int16, outLen)
	ratio := float64(fromRate) / float64(toRate)
	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= len(in)-1 {
			out[i] = in[len(in)-1]
			continue
		}
		frac := pos - float64(idx)
		out[i] = int16(float64(in[idx])*(1-frac) + float64(in[idx+1])*frac)
	}
	return out
}

// BytesFromInt16 packs samples as little-endian 16-bit PCM.
func BytesFromInt16(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[i*2] = byte(s)
		out[i*2+1] = byte(uint16(s) >> 8)
	}
	return out
}

// MeanAmplitude returns the average absolute sample value, normalized to
// [0, 1]. Used as a cheap short-window voice-activity level for UI display.
func MeanAmplitude(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		if v < 0 {
			v = -v
		}
		sum += v
	}
	return sum / float64(len(samples)) / 32768.0
}
