// ABOUTME: Format converter for device and mixer inputs
// ABOUTME: Maps channel layouts and resamples to one fixed target format
package resample

// Converter brings interleaved samples of any rate and channel count to a
// fixed target format. It keeps resampler state between calls, so one
// Converter serves one continuous source.
type Converter struct {
	rate     int
	channels int

	resampler *Resampler
	inRate    int
	mapped    []float32
}

// NewConverter creates a converter targeting rate and channels
func NewConverter(rate, channels int) *Converter {
	return &Converter{rate: rate, channels: channels}
}

// Rate returns the target sample rate
func (c *Converter) Rate() int { return c.rate }

// Channels returns the target channel count
func (c *Converter) Channels() int { return c.channels }

// Matches reports whether input in this format passes through unchanged
func (c *Converter) Matches(rate, channels int) bool {
	return rate == c.rate && channels == c.channels
}

// Convert converts in to the target format, reusing dst's storage, and
// returns the converted samples
func (c *Converter) Convert(in []float32, inRate, inChannels int, dst []float32) []float32 {
	samples := in
	if inChannels != c.channels {
		c.mapped = MapChannels(in, inChannels, c.channels, c.mapped[:0])
		samples = c.mapped
	}

	if inRate == c.rate || inRate <= 0 {
		return append(dst[:0], samples...)
	}

	if c.resampler == nil || c.inRate != inRate {
		c.resampler = New(inRate, c.rate, c.channels)
		c.inRate = inRate
	}

	need := c.resampler.OutputSamplesNeeded(len(samples))
	if cap(dst) < need {
		dst = make([]float32, need)
	}
	n := c.resampler.Resample(samples, dst[:need])
	return dst[:n]
}

// Reset drops resampler state, for use when the source changes
func (c *Converter) Reset() {
	c.resampler = nil
	c.inRate = 0
}

// MapChannels converts interleaved samples from one channel count to another.
// Mono is duplicated into every output channel, anything folded down to mono
// is averaged, other layouts keep the shared channels and zero the rest.
func MapChannels(in []float32, from, to int, dst []float32) []float32 {
	if from < 1 || to < 1 {
		return dst[:0]
	}
	frames := len(in) / from
	need := frames * to
	if cap(dst) < need {
		dst = make([]float32, need)
	}
	dst = dst[:need]

	for f := 0; f < frames; f++ {
		src := in[f*from : f*from+from]
		out := dst[f*to : f*to+to]
		switch {
		case from == 1:
			for c := range out {
				out[c] = src[0]
			}
		case to == 1:
			var sum float32
			for _, s := range src {
				sum += s
			}
			out[0] = sum / float32(from)
		default:
			for c := range out {
				if c < from {
					out[c] = src[c]
				} else {
					out[c] = 0
				}
			}
		}
	}
	return dst
}
