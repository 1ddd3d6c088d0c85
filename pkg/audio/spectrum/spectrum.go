// ABOUTME: Spectrum analyzer fed with played buffers
// ABOUTME: Hamming-windowed FFT per channel, averaged into decibel bins
// Package spectrum turns played audio into frequency bins for display.
package spectrum

import (
	"math"
	"math/cmplx"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"

	"github.com/Resonate-Protocol/resonate-engine/pkg/audio"
)

// DefaultSize is the FFT length; it yields DefaultSize/2 bins
const DefaultSize = 512

// Analyzer keeps the spectrum of the most recent buffer that was long
// enough to analyze. It is safe for concurrent use.
type Analyzer struct {
	size int
	fft  *fourier.FFT

	mu    sync.Mutex
	seq   []float64
	coeff []complex128
	sum   []float64
	bins  []float32
}

// NewAnalyzer creates an analyzer with an FFT of size samples per channel.
// size <= 0 uses DefaultSize.
func NewAnalyzer(size int) *Analyzer {
	if size <= 0 {
		size = DefaultSize
	}
	return &Analyzer{
		size:  size,
		fft:   fourier.NewFFT(size),
		seq:   make([]float64, size),
		coeff: make([]complex128, size/2+1),
		sum:   make([]float64, size/2),
		bins:  make([]float32, size/2),
	}
}

// Size returns the FFT length
func (a *Analyzer) Size() int { return a.size }

// Write analyzes buf. Every whole window of every channel contributes to the
// average; buffers holding less than one window per channel are ignored.
func (a *Analyzer) Write(buf *audio.Buffer) {
	channels := buf.Channels()
	if channels <= 0 {
		return
	}
	samples := buf.Samples()
	frames := len(samples) / channels
	if frames < a.size {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	clear(a.sum)
	windows := 0
	for ch := 0; ch < channels; ch++ {
		for start := 0; start+a.size <= frames; start += a.size {
			for i := range a.seq {
				a.seq[i] = float64(samples[(start+i)*channels+ch])
			}
			window.Hamming(a.seq)
			a.coeff = a.fft.Coefficients(a.coeff, a.seq)
			for k := range a.sum {
				a.sum[k] += decibels(a.coeff[k])
			}
			windows++
		}
	}
	for k := range a.bins {
		a.bins[k] = float32(a.sum[k] / float64(windows))
	}
}

// Bins returns a copy of the latest spectrum, Size()/2 values in dB
func (a *Analyzer) Bins() []float32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]float32(nil), a.bins...)
}

// decibels is the magnitude of c in dB, floored at 0
func decibels(c complex128) float64 {
	m := cmplx.Abs(c)
	if m < 1 {
		return 0
	}
	return 20 * math.Log10(m)
}
