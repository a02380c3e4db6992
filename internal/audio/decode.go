package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-audio/riff"
	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
)

const (
	wavFormatPCM        = 1
	wavFormatExtensible = 0xFFFE
	// streaming writers leave the data chunk size at its maximum
	wavUnknownSize = 0xFFFFFFFF

	// sources outside these bounds are rejected before normalization
	minSampleRate = 1000
	maxSampleRate = 384000
	maxChannels   = 32
)

// pcmSubFormatTail is bytes 2..15 of the KSDATAFORMAT_SUBTYPE_* GUIDs.
var pcmSubFormatTail = []byte{0x00, 0x00, 0x00, 0x00, 0x10, 0x00, 0x80, 0x00, 0x00, 0xAA, 0x00, 0x38, 0x9B, 0x71}

// Detect sniffs the container from content. When the content carries no
// recognisable signature the declared format is used instead.
func Detect(data []byte, hint Format) (Format, error) {
	mtype := mimetype.Detect(data)
	switch {
	case mtype.Is("audio/wav"):
		return FormatWAV, nil
	case mtype.Is("audio/mpeg"):
		return FormatMP3, nil
	case mtype.Is("application/octet-stream"):
		if hint == "" {
			return "", fmt.Errorf("%w: unrecognised content", ErrDecode)
		}
		return hint, nil
	default:
		return "", fmt.Errorf("%w: content is %s, not audio", ErrDecode, mtype.String())
	}
}

// Decode turns a WAV or MP3 byte stream into PCM at the source's native
// channel count and sample rate. Empty input, and input that decodes to no
// samples, is an error.
func Decode(data []byte, hint Format) (PCM, error) {
	if len(data) == 0 {
		return PCM{}, fmt.Errorf("%w: empty upload", ErrDecode)
	}
	format, err := Detect(data, hint)
	if err != nil {
		return PCM{}, err
	}
	var pcm PCM
	switch format {
	case FormatWAV:
		pcm, err = decodeWAV(data)
	case FormatMP3:
		pcm, err = decodeMP3(data)
	default:
		return PCM{}, fmt.Errorf("%w: no decoder for %q", ErrDecode, format)
	}
	if err != nil {
		return PCM{}, err
	}
	if err := checkShape(pcm); err != nil {
		return PCM{}, err
	}
	return pcm, nil
}

func checkShape(p PCM) error {
	if p.SampleRate < minSampleRate || p.SampleRate > maxSampleRate {
		return fmt.Errorf("%w: sample rate %d Hz outside %d-%d Hz", ErrDecode, p.SampleRate, minSampleRate, maxSampleRate)
	}
	if p.Channels < 1 || p.Channels > maxChannels {
		return fmt.Errorf("%w: %d channels not supported", ErrDecode, p.Channels)
	}
	return nil
}

func decodeWAV(data []byte) (PCM, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return PCM{}, fmt.Errorf("%w: not a valid wav stream", ErrDecode)
	}
	if dec.WavAudioFormat != wavFormatPCM && dec.WavAudioFormat != wavFormatExtensible {
		return PCM{}, fmt.Errorf("%w: unsupported wav encoding %d", ErrDecode, dec.WavAudioFormat)
	}
	if dec.WavAudioFormat == wavFormatExtensible {
		sub, err := extensibleSubFormat(data)
		if err != nil {
			return PCM{}, fmt.Errorf("%w: read wav sub-format: %v", ErrDecode, err)
		}
		if sub != wavFormatPCM {
			return PCM{}, fmt.Errorf("%w: unsupported wav sub-format %d", ErrDecode, sub)
		}
	}
	if dec.SampleRate < minSampleRate || dec.SampleRate > maxSampleRate {
		return PCM{}, fmt.Errorf("%w: sample rate %d Hz outside %d-%d Hz", ErrDecode, dec.SampleRate, minSampleRate, maxSampleRate)
	}
	switch dec.BitDepth {
	case 8, 16, 24, 32:
	default:
		return PCM{}, fmt.Errorf("%w: unsupported wav bit depth %d", ErrDecode, dec.BitDepth)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return PCM{}, fmt.Errorf("%w: read wav samples: %v", ErrDecode, err)
	}

	channels := int(dec.NumChans)
	bytesPerSample := int(dec.BitDepth) / 8
	if declared := dec.PCMSize; declared > 0 && int64(declared) != wavUnknownSize && len(buf.Data)*bytesPerSample < declared-bytesPerSample {
		return PCM{}, fmt.Errorf("%w: wav data truncated (%d of %d bytes)", ErrDecode, len(buf.Data)*bytesPerSample, declared)
	}

	frames := len(buf.Data) / channels
	if frames == 0 {
		return PCM{}, fmt.Errorf("%w: wav contains no samples", ErrDecode)
	}
	samples := make([]int16, frames*channels)
	for i := range samples {
		samples[i] = toInt16(buf.Data[i], int(dec.BitDepth))
	}
	return PCM{
		Channels:   channels,
		SampleRate: int(dec.SampleRate),
		BitDepth:   int(dec.BitDepth),
		Samples:    samples,
	}, nil
}

// extensibleSubFormat returns the format code carried in the SubFormat GUID
// of a WAVE_FORMAT_EXTENSIBLE fmt chunk. A GUID outside the KSDATAFORMAT
// family reports 0.
func extensibleSubFormat(data []byte) (uint16, error) {
	parser := riff.New(bytes.NewReader(data))
	if err := parser.ParseHeaders(); err != nil {
		return 0, err
	}
	for {
		chunk, err := parser.NextChunk()
		if err != nil {
			return 0, fmt.Errorf("find fmt chunk: %w", err)
		}
		if chunk.ID != riff.FmtID {
			chunk.Drain()
			continue
		}
		// 16 base bytes, cbSize, valid bits, channel mask, then the GUID
		if chunk.Size < 40 {
			return 0, errors.New("extensible fmt chunk too short")
		}
		body := make([]byte, 40)
		if _, err := io.ReadFull(chunk, body); err != nil {
			return 0, fmt.Errorf("read fmt chunk: %w", err)
		}
		if !bytes.Equal(body[26:40], pcmSubFormatTail) {
			return 0, nil
		}
		return binary.LittleEndian.Uint16(body[24:26]), nil
	}
}

// toInt16 rescales an integer sample of the given width to 16 bits.
// 8-bit WAV samples are unsigned.
func toInt16(v int, bitDepth int) int16 {
	switch bitDepth {
	case 8:
		return int16((v - 128) << 8)
	case 24:
		return int16(v >> 8)
	case 32:
		return int16(v >> 16)
	default:
		return int16(v)
	}
}

func decodeMP3(data []byte) (PCM, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return PCM{}, fmt.Errorf("%w: open mp3 stream: %v", ErrDecode, err)
	}
	raw, err := io.ReadAll(dec)
	if err != nil {
		return PCM{}, fmt.Errorf("%w: read mp3 frames: %v", ErrDecode, err)
	}
	// go-mp3 always emits interleaved stereo s16le
	pcm := FromBytes(raw, 2, dec.SampleRate())
	pcm.Samples = pcm.Samples[:pcm.Frames()*2]
	if len(pcm.Samples) == 0 {
		return PCM{}, fmt.Errorf("%w: mp3 contains no samples", ErrDecode)
	}
	return pcm, nil
}
