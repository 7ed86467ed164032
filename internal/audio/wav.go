package audio

import (
	"bytes"
	"encoding/binary"
	"io"
)

type wavHeader struct {
	RIFF          [4]byte
	ChunkSize     uint32
	WAVE          [4]byte
	Fmt           [4]byte
	FmtSize       uint32
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Data          [4]byte
	DataSize      uint32
}

// EncodeWAV wraps raw mono PCM16LE bytes in a WAV container so synthesized
// summary audio can be served as a downloadable file.
func EncodeWAV(pcm []byte, sampleRate int) []byte {
	var buf bytes.Buffer
	_ = WriteWAV(&buf, pcm, sampleRate)
	return buf.Bytes()
}

// WriteWAV streams raw mono PCM16LE bytes to out as a WAV stream.
func WriteWAV(out io.Writer, pcm []byte, sampleRate int) error {
	if sampleRate <= 0 {
		sampleRate = WireSampleRate
	}
	const (
		channels      = 1
		bitsPerSample = 16
	)
	h := wavHeader{
		RIFF:          [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + uint32(len(pcm)),
		WAVE:          [4]byte{'W', 'A', 'V', 'E'},
		Fmt:           [4]byte{'f', 'm', 't', ' '},
		FmtSize:       16,
		AudioFormat:   1, // PCM
		NumChannels:   channels,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate * channels * bitsPerSample / 8),
		BlockAlign:    channels * bitsPerSample / 8,
		BitsPerSample: bitsPerSample,
		Data:          [4]byte{'d', 'a', 't', 'a'},
		DataSize:      uint32(len(pcm)),
	}
	if err := binary.Write(out, binary.LittleEndian, h); err != nil {
		return err
	}
	_, err := out.Write(pcm)
	return err
}
