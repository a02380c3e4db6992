// Package audio turns uploaded audio files into the mono 16 kHz PCM the recognizer consumes.
package audio

import (
	"encoding/binary"
	"time"
)

// PCM holds interleaved signed 16-bit samples. BitDepth records the sample
// width of the source the samples were decoded from.
type PCM struct {
	Channels   int
	SampleRate int
	BitDepth   int
	Samples    []int16
}

// Frames returns the number of sample frames (one sample per channel).
func (p PCM) Frames() int {
	if p.Channels <= 0 {
		return 0
	}
	return len(p.Samples) / p.Channels
}

func (p PCM) Duration() time.Duration {
	if p.SampleRate <= 0 {
		return 0
	}
	return time.Duration(p.Frames()) * time.Second / time.Duration(p.SampleRate)
}

// Bytes returns the samples as little-endian s16 bytes.
func (p PCM) Bytes() []byte {
	out := make([]byte, len(p.Samples)*2)
	for i, s := range p.Samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// IsSilent reports whether every sample is zero.
func (p PCM) IsSilent() bool {
	for _, s := range p.Samples {
		if s != 0 {
			return false
		}
	}
	return true
}

// FromBytes builds PCM from little-endian s16 bytes. A trailing odd byte is dropped.
func FromBytes(data []byte, channels, sampleRate int) PCM {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return PCM{Channels: channels, SampleRate: sampleRate, BitDepth: 16, Samples: samples}
}
