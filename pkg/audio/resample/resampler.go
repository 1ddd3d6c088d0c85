// ABOUTME: Linear resampler for converting audio sample rates
// ABOUTME: Keeps interpolation state across chunks of interleaved float32 samples
package resample

// Resampler performs linear interpolation to convert between sample rates
type Resampler struct {
	inputRate  int
	outputRate int
	channels   int
	ratio      float64
	// position indexes a virtual frame array where frame 0 is the last
	// frame of the previous chunk and frame k is input frame k-1
	position float64
	prev     []float32
	primed   bool
}

// New creates a new resampler
func New(inputRate, outputRate, channels int) *Resampler {
	if channels < 1 {
		channels = 1
	}
	return &Resampler{
		inputRate:  inputRate,
		outputRate: outputRate,
		channels:   channels,
		ratio:      float64(inputRate) / float64(outputRate),
		prev:       make([]float32, channels),
	}
}

// Resample converts interleaved input at inputRate into output at outputRate
// and returns the number of samples written. The last input frame is carried
// into the next call. Size output with OutputSamplesNeeded; input that does
// not fit is dropped.
func (r *Resampler) Resample(input []float32, output []float32) int {
	ch := r.channels
	frames := len(input) / ch
	if frames == 0 {
		return 0
	}

	if !r.primed {
		copy(r.prev, input[:ch])
		r.position = 1
		r.primed = true
	}

	outFrames := len(output) / ch
	out := 0
	for out < outFrames {
		idx := int(r.position)
		if idx >= frames {
			break
		}
		frac := float32(r.position - float64(idx))
		for c := 0; c < ch; c++ {
			a := r.frame(input, idx, c)
			b := input[idx*ch+c] // virtual frame idx+1
			output[out*ch+c] = a + (b-a)*frac
		}
		out++
		r.position += r.ratio
	}

	r.position -= float64(frames)
	if r.position < 0 {
		r.position = 0
	}
	copy(r.prev, input[(frames-1)*ch:frames*ch])

	return out * ch
}

func (r *Resampler) frame(input []float32, virtual, c int) float32 {
	if virtual == 0 {
		return r.prev[c]
	}
	return input[(virtual-1)*r.channels+c]
}

// Reset resets the resampler state
func (r *Resampler) Reset() {
	r.position = 0
	r.primed = false
	for i := range r.prev {
		r.prev[i] = 0
	}
}

// Ratio returns input rate divided by output rate
func (r *Resampler) Ratio() float64 {
	return r.ratio
}

// OutputSamplesNeeded returns an upper bound on the samples produced from
// inputSamples samples of input
func (r *Resampler) OutputSamplesNeeded(inputSamples int) int {
	inputFrames := inputSamples / r.channels
	outputFrames := int(float64(inputFrames)/r.ratio) + 2
	return outputFrames * r.channels
}

// InputSamplesNeeded calculates how many input samples are needed to produce output samples
func (r *Resampler) InputSamplesNeeded(outputSamples int) int {
	outputFrames := outputSamples / r.channels
	inputFrames := int(float64(outputFrames) * r.ratio)
	return inputFrames * r.channels
}
