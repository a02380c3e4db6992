package audio

import (
	"fmt"
	"io"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// EncodeWAV writes p as a 16-bit PCM WAV file.
func EncodeWAV(w io.WriteSeeker, p PCM) error {
	channels := max(p.Channels, 1)
	buffer := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: p.SampleRate},
		SourceBitDepth: 16,
		Data:           make([]int, len(p.Samples)),
	}
	for i, s := range p.Samples {
		buffer.Data[i] = int(s)
	}

	enc := wav.NewEncoder(w, p.SampleRate, 16, channels, wavFormatPCM)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}
