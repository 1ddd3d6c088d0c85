// ABOUTME: DSP stage contract and built-in stages
// ABOUTME: Stages transform one chunk into a scratch buffer or pass it through
// Package dsp defines the processing stage contract applied by a stream to
// every chunk it hands out, plus a few stages the engine ships with.
package dsp

import (
	"math"

	"github.com/Resonate-Protocol/resonate-engine/pkg/audio"
)

// DSP processes one chunk. Implementations write their result into out and
// return true, or return false to leave in unchanged. out arrives with the
// format and position of in already set.
type DSP interface {
	Process(in, out *audio.Buffer) bool
}

// Func adapts a plain function to the DSP interface
type Func func(in, out *audio.Buffer) bool

// Process calls f
func (f Func) Process(in, out *audio.Buffer) bool {
	return f(in, out)
}

// Preamp applies a fixed gain
type Preamp struct {
	gain float32
}

// NewPreamp creates a preamp stage from a gain in decibels
func NewPreamp(db float64) *Preamp {
	return &Preamp{gain: float32(math.Pow(10, db/20))}
}

// Gain returns the linear gain factor
func (p *Preamp) Gain() float32 {
	return p.gain
}

// Process scales every sample by the preamp gain
func (p *Preamp) Process(in, out *audio.Buffer) bool {
	if p.gain == 1 {
		return false
	}
	src := in.Samples()
	dst := out.Resize(len(src))
	for i, s := range src {
		dst[i] = s * p.gain
	}
	return true
}

// Limiter hard clips samples to [-1, 1]
type Limiter struct{}

// Process clamps out-of-range samples, passing clean chunks through
func (Limiter) Process(in, out *audio.Buffer) bool {
	src := in.Samples()
	clipped := false
	for _, s := range src {
		if s > 1 || s < -1 {
			clipped = true
			break
		}
	}
	if !clipped {
		return false
	}
	dst := out.Resize(len(src))
	for i, s := range src {
		dst[i] = audio.Clamp(s)
	}
	return true
}
