package stt

import (
	"context"
	"fmt"

	"github.com/loqalabs/loqa-scribe/internal/audio"
)

// Driver feeds normalized PCM through a fresh Stream in fixed-size windows.
type Driver struct {
	model      Model
	sampleRate int
	chunkBytes int
}

func NewDriver(model Model, sampleRate, chunkBytes int) *Driver {
	return &Driver{model: model, sampleRate: sampleRate, chunkBytes: chunkBytes}
}

func (d *Driver) SampleRate() int { return d.sampleRate }

// Recognize transcribes pcm, which must already be mono at the driver's
// sample rate. The session is closed on every return path, including
// cancellation between windows.
func (d *Driver) Recognize(ctx context.Context, pcm audio.PCM) (TranscriptResult, error) {
	if pcm.Channels != 1 || pcm.SampleRate != d.sampleRate {
		return TranscriptResult{}, fmt.Errorf("driver expects mono %d Hz pcm, got %d channels at %d Hz", d.sampleRate, pcm.Channels, pcm.SampleRate)
	}

	stream, err := Open(ctx, d.model, d.sampleRate)
	if err != nil {
		return TranscriptResult{}, err
	}
	defer stream.Close()

	for _, window := range audio.Windows(pcm.Bytes(), d.chunkBytes) {
		if err := ctx.Err(); err != nil {
			return TranscriptResult{}, err
		}
		if err := stream.Accept(window); err != nil {
			return TranscriptResult{}, err
		}
	}
	if err := ctx.Err(); err != nil {
		return TranscriptResult{}, err
	}
	return stream.Finalize()
}
