package audio

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// wavBytes encodes p as a 16-bit WAV file and returns its bytes.
func wavBytes(t *testing.T, p PCM) []byte {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create wav: %v", err)
	}
	if err := EncodeWAV(f, p); err != nil {
		f.Close()
		t.Fatalf("encode wav: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close wav: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read wav: %v", err)
	}
	return data
}

// wav24Bytes encodes raw 24-bit samples.
func wav24Bytes(t *testing.T, samples []int, channels, rate int) []byte {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip24.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create wav: %v", err)
	}
	enc := wav.NewEncoder(f, rate, 24, channels, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: rate},
		SourceBitDepth: 24,
		Data:           samples,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("write wav: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close encoder: %v", err)
	}
	f.Close()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read wav: %v", err)
	}
	return data
}

// sine returns interleaved samples with the same tone on every channel.
func sine(freq float64, rate, channels int, d float64) PCM {
	frames := int(float64(rate) * d)
	samples := make([]int16, frames*channels)
	for f := 0; f < frames; f++ {
		v := int16(8000 * math.Sin(2*math.Pi*freq*float64(f)/float64(rate)))
		for c := 0; c < channels; c++ {
			samples[f*channels+c] = v
		}
	}
	return PCM{Channels: channels, SampleRate: rate, BitDepth: 16, Samples: samples}
}

// rawWAV builds a WAV file byte by byte so tests can produce headers the
// encoder never writes. A non-zero subFormat switches to WAVE_FORMAT_EXTENSIBLE.
func rawWAV(subFormat uint16, channels int, rate uint32, bits int, payload []byte) []byte {
	le := binary.LittleEndian
	blockAlign := channels * bits / 8

	var fmtChunk []byte
	fmtChunk = le.AppendUint16(fmtChunk, wavFormatPCM)
	if subFormat != 0 {
		fmtChunk[0], fmtChunk[1] = 0xFE, 0xFF
	}
	fmtChunk = le.AppendUint16(fmtChunk, uint16(channels))
	fmtChunk = le.AppendUint32(fmtChunk, rate)
	fmtChunk = le.AppendUint32(fmtChunk, rate*uint32(blockAlign))
	fmtChunk = le.AppendUint16(fmtChunk, uint16(blockAlign))
	fmtChunk = le.AppendUint16(fmtChunk, uint16(bits))
	if subFormat != 0 {
		fmtChunk = le.AppendUint16(fmtChunk, 22)
		fmtChunk = le.AppendUint16(fmtChunk, uint16(bits))
		fmtChunk = le.AppendUint32(fmtChunk, 0)
		fmtChunk = le.AppendUint16(fmtChunk, subFormat)
		fmtChunk = append(fmtChunk, pcmSubFormatTail...)
	}

	var out []byte
	out = append(out, "RIFF"...)
	out = le.AppendUint32(out, uint32(4+8+len(fmtChunk)+8+len(payload)))
	out = append(out, "WAVE"...)
	out = append(out, "fmt "...)
	out = le.AppendUint32(out, uint32(len(fmtChunk)))
	out = append(out, fmtChunk...)
	out = append(out, "data"...)
	out = le.AppendUint32(out, uint32(len(payload)))
	return append(out, payload...)
}
