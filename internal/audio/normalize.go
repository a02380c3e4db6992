package audio

import (
	"math"
)

const (
	// zero crossings of the sinc kernel on each side of the interpolation point
	sincZeroCrossings = 8
	// kernel table samples per input sample of distance
	kernelResolution = 256
)

// Normalize downmixes to mono and then resamples to rate. Downmixing first
// means the resampler runs over one channel only.
func Normalize(p PCM, rate int) PCM {
	return Resample(Downmix(p), rate)
}

// Downmix averages all channels of each frame into a single channel.
func Downmix(p PCM) PCM {
	if p.Channels <= 1 {
		out := p
		out.Channels = 1
		return out
	}
	frames := p.Frames()
	mono := make([]int16, frames)
	for f := 0; f < frames; f++ {
		var sum int64
		base := f * p.Channels
		for c := 0; c < p.Channels; c++ {
			sum += int64(p.Samples[base+c])
		}
		mono[f] = int16(math.Round(float64(sum) / float64(p.Channels)))
	}
	return PCM{Channels: 1, SampleRate: p.SampleRate, BitDepth: p.BitDepth, Samples: mono}
}

// Resample converts p to rate using windowed-sinc interpolation. The output
// keeps the input duration: round(frames * rate / p.SampleRate) frames.
func Resample(p PCM, rate int) PCM {
	if p.SampleRate == rate || rate <= 0 || p.SampleRate <= 0 {
		return p
	}
	channels := p.Channels
	if channels <= 0 {
		channels = 1
	}
	inFrames := len(p.Samples) / channels
	ratio := float64(rate) / float64(p.SampleRate)
	outFrames := int(math.Round(float64(inFrames) * ratio))
	out := PCM{Channels: channels, SampleRate: rate, BitDepth: p.BitDepth, Samples: make([]int16, outFrames*channels)}
	if outFrames == 0 {
		return out
	}

	kernel := newSincKernel(math.Min(1, ratio))
	for i := 0; i < outFrames; i++ {
		t := float64(i) / ratio
		center := int(math.Floor(t))
		lo := max(center-kernel.half+1, 0)
		hi := min(center+kernel.half, inFrames-1)
		for c := 0; c < channels; c++ {
			var acc, weights float64
			for k := lo; k <= hi; k++ {
				w := kernel.at(t - float64(k))
				acc += w * float64(p.Samples[k*channels+c])
				weights += w
			}
			if weights != 0 {
				acc /= weights
			}
			out.Samples[i*channels+c] = clampInt16(acc)
		}
	}
	return out
}

// sincKernel is a Blackman-windowed sinc low-pass with cutoff fc (relative to
// the input Nyquist frequency), tabulated over distance in input samples.
type sincKernel struct {
	half  int
	table []float64
}

func newSincKernel(fc float64) sincKernel {
	width := float64(sincZeroCrossings) / fc
	half := int(math.Ceil(width))
	table := make([]float64, half*kernelResolution+2)
	for i := range table {
		x := float64(i) / kernelResolution
		if x > width {
			break
		}
		table[i] = fc * sinc(fc*x) * blackman(x/width)
	}
	return sincKernel{half: half, table: table}
}

func (k sincKernel) at(x float64) float64 {
	pos := math.Abs(x) * kernelResolution
	idx := int(pos)
	if idx+1 >= len(k.table) {
		return 0
	}
	frac := pos - float64(idx)
	return k.table[idx] + frac*(k.table[idx+1]-k.table[idx])
}

func sinc(x float64) float64 {
	if x == 0 {
		return 1
	}
	px := math.Pi * x
	return math.Sin(px) / px
}

// blackman is the symmetric Blackman window for u in [-1, 1].
func blackman(u float64) float64 {
	if u < -1 || u > 1 {
		return 0
	}
	return 0.42 + 0.5*math.Cos(math.Pi*u) + 0.08*math.Cos(2*math.Pi*u)
}

func clampInt16(v float64) int16 {
	v = math.Round(v)
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}
