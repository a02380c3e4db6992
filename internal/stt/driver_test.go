package stt

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/loqalabs/loqa-scribe/internal/audio"
)

func monoPCM(n int) audio.PCM {
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = int16(i*7 - 3000)
	}
	return audio.PCM{Channels: 1, SampleRate: 16000, BitDepth: 16, Samples: samples}
}

func TestDriverFeedsEveryByteInOrder(t *testing.T) {
	for _, n := range []int{1, 1999, 2000, 2001, 16000} {
		model := &recordingModel{}
		driver := NewDriver(model, 16000, 4000)
		pcm := monoPCM(n)

		if _, err := driver.Recognize(context.Background(), pcm); err != nil {
			t.Fatalf("%d samples: recognize: %v", n, err)
		}

		session := model.last()
		var joined []byte
		for i, chunk := range session.chunks {
			if i < len(session.chunks)-1 && len(chunk) != 4000 {
				t.Fatalf("%d samples: chunk %d has %d bytes", n, i, len(chunk))
			}
			joined = append(joined, chunk...)
		}
		if !bytes.Equal(joined, pcm.Bytes()) {
			t.Fatalf("%d samples: fed bytes differ from source", n)
		}
		if session.finals != 1 || session.closes != 1 {
			t.Fatalf("%d samples: finals=%d closes=%d", n, session.finals, session.closes)
		}
		if session.sampleRate != 16000 {
			t.Fatalf("session opened at %d Hz", session.sampleRate)
		}
	}
}

func TestDriverChunkedEqualsSingleFeed(t *testing.T) {
	pcm := monoPCM(12345)
	chunked := &recordingModel{}
	whole := &recordingModel{}
	if _, err := NewDriver(chunked, 16000, 4000).Recognize(context.Background(), pcm); err != nil {
		t.Fatalf("chunked: %v", err)
	}
	if _, err := NewDriver(whole, 16000, len(pcm.Bytes())).Recognize(context.Background(), pcm); err != nil {
		t.Fatalf("whole: %v", err)
	}
	if got, want := bytes.Join(chunked.last().chunks, nil), bytes.Join(whole.last().chunks, nil); !bytes.Equal(got, want) {
		t.Fatal("chunked feed differs from single feed")
	}
	if len(whole.last().chunks) != 1 {
		t.Fatalf("expected one chunk for whole feed, got %d", len(whole.last().chunks))
	}
}

func TestDriverClosesSessionOnFailure(t *testing.T) {
	model := &recordingModel{acceptErr: errEngineFault}
	_, err := NewDriver(model, 16000, 4000).Recognize(context.Background(), monoPCM(4000))
	if !errors.Is(err, ErrRecognition) {
		t.Fatalf("expected ErrRecognition, got %v", err)
	}
	if session := model.last(); session.closes != 1 || session.finals != 0 {
		t.Fatalf("expected closed, unfinalized session; closes=%d finals=%d", session.closes, session.finals)
	}
}

func TestDriverStopsOnCancellation(t *testing.T) {
	model := &recordingModel{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewDriver(model, 16000, 4000).Recognize(ctx, monoPCM(16000))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	session := model.last()
	if session.closes != 1 || session.finals != 0 || len(session.chunks) != 0 {
		t.Fatalf("cancelled session: chunks=%d finals=%d closes=%d", len(session.chunks), session.finals, session.closes)
	}
}

func TestDriverRejectsUnnormalizedPCM(t *testing.T) {
	model := &recordingModel{}
	pcm := audio.PCM{Channels: 2, SampleRate: 44100, Samples: make([]int16, 10)}
	if _, err := NewDriver(model, 16000, 4000).Recognize(context.Background(), pcm); err == nil {
		t.Fatal("expected error for stereo 44.1 kHz input")
	}
	if model.last() != nil {
		t.Fatal("no session should be opened for rejected input")
	}
}
