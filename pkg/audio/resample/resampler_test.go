// ABOUTME: Tests for audio resampler
// ABOUTME: Tests linear interpolation resampling between sample rates
package resample

import (
	"math"
	"testing"
)

func TestNewResampler(t *testing.T) {
	r := New(44100, 48000, 2)

	if r == nil {
		t.Fatal("expected resampler to be created")
	}
	if r.inputRate != 44100 {
		t.Errorf("expected inputRate 44100, got %d", r.inputRate)
	}
	if r.outputRate != 48000 {
		t.Errorf("expected outputRate 48000, got %d", r.outputRate)
	}
	if r.channels != 2 {
		t.Errorf("expected channels 2, got %d", r.channels)
	}
}

func TestResampleUpsampling(t *testing.T) {
	r := New(44100, 48000, 2)

	input := make([]float32, 200)
	for i := range input {
		input[i] = float32(i) / 200
	}

	expectedSize := int(float64(len(input)) * 48000 / 44100)
	output := make([]float32, r.OutputSamplesNeeded(len(input)))

	n := r.Resample(input, output)
	if n == 0 {
		t.Fatal("resampler produced no output")
	}
	if n < expectedSize-10 || n > expectedSize+10 {
		t.Errorf("expected ~%d samples, got %d", expectedSize, n)
	}
}

func TestResampleDownsampling(t *testing.T) {
	r := New(48000, 44100, 2)

	input := make([]float32, 200)
	for i := range input {
		input[i] = float32(i) / 200
	}

	expectedSize := int(float64(len(input)) * 44100 / 48000)
	output := make([]float32, r.OutputSamplesNeeded(len(input)))

	n := r.Resample(input, output)
	if n < expectedSize-10 || n > expectedSize+10 {
		t.Errorf("expected ~%d samples, got %d", expectedSize, n)
	}
}

func TestResampleSameRate(t *testing.T) {
	r := New(48000, 48000, 2)

	input := make([]float32, 200)
	for i := range input {
		input[i] = float32(i) / 200
	}

	output := make([]float32, r.OutputSamplesNeeded(len(input)))
	n := r.Resample(input, output)
	// the final frame is held back until the next chunk supplies its neighbour
	if n != len(input)-2 {
		t.Fatalf("expected %d samples, got %d", len(input)-2, n)
	}
	for i := 0; i < n; i++ {
		if output[i] != input[i] {
			t.Errorf("sample %d: expected %v, got %v", i, input[i], output[i])
		}
	}
}

func TestResampleStereo(t *testing.T) {
	r := New(44100, 48000, 2)

	input := make([]float32, 20)
	for i := 0; i < 10; i++ {
		input[i*2] = 0.5
		input[i*2+1] = -0.5
	}

	output := make([]float32, r.OutputSamplesNeeded(len(input)))
	n := r.Resample(input, output)
	if n == 0 {
		t.Fatal("resampler produced no output")
	}

	for i := 0; i < n/2; i++ {
		if output[i*2] != 0.5 {
			t.Errorf("left frame %d: expected 0.5, got %v", i, output[i*2])
		}
		if output[i*2+1] != -0.5 {
			t.Errorf("right frame %d: expected -0.5, got %v", i, output[i*2+1])
		}
	}
}

func TestResampleChunkedMatchesWhole(t *testing.T) {
	const frames = 1000
	input := make([]float32, frames)
	for i := range input {
		input[i] = float32(i) / frames
	}

	whole := New(44100, 48000, 1)
	wholeOut := make([]float32, whole.OutputSamplesNeeded(frames))
	wholeOut = wholeOut[:whole.Resample(input, wholeOut)]

	chunked := New(44100, 48000, 1)
	var chunkedOut []float32
	for start := 0; start < frames; start += 37 {
		end := min(start+37, frames)
		buf := make([]float32, chunked.OutputSamplesNeeded(end-start))
		n := chunked.Resample(input[start:end], buf)
		chunkedOut = append(chunkedOut, buf[:n]...)
	}

	if diff := len(wholeOut) - len(chunkedOut); diff > 1 || diff < -1 {
		t.Fatalf("expected matching lengths, got %d whole and %d chunked", len(wholeOut), len(chunkedOut))
	}
	for i := 0; i < min(len(wholeOut), len(chunkedOut)); i++ {
		if math.Abs(float64(wholeOut[i]-chunkedOut[i])) > 1e-4 {
			t.Fatalf("sample %d: whole %v, chunked %v", i, wholeOut[i], chunkedOut[i])
		}
	}
}

func TestResampleLargeRatioUp(t *testing.T) {
	r := New(44100, 192000, 2)

	input := make([]float32, 200)
	output := make([]float32, r.OutputSamplesNeeded(len(input)))

	n := r.Resample(input, output)
	if n < len(input)*3 {
		t.Errorf("expected at least 3x upsampling, got %d from %d", n, len(input))
	}
}

func TestResampleReset(t *testing.T) {
	r := New(22050, 44100, 1)
	out := make([]float32, 64)
	r.Resample([]float32{1, 1, 1, 1}, out)
	r.Reset()

	n := r.Resample([]float32{0, 0}, out)
	for i := 0; i < n; i++ {
		if out[i] != 0 {
			t.Fatalf("expected no carry-over after Reset, got %v at %d", out[i], i)
		}
	}
}
