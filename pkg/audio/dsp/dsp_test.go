// ABOUTME: Tests for built-in DSP stages
// ABOUTME: Covers preamp scaling, limiter clipping and pass-through signalling
package dsp

import (
	"testing"

	"github.com/Resonate-Protocol/resonate-engine/pkg/audio"
)

func newChunk(samples ...float32) *audio.Buffer {
	b := audio.NewBuffer(len(samples))
	b.SetFormat(44100, 1)
	b.Append(samples...)
	return b
}

func TestPreampZeroDBPassesThrough(t *testing.T) {
	p := NewPreamp(0)
	if p.Process(newChunk(0.5), audio.NewBuffer(1)) {
		t.Error("expected 0dB preamp to pass through")
	}
}

func TestPreampScales(t *testing.T) {
	p := NewPreamp(-6.0206) // ~0.5
	in := newChunk(0.8, -0.4)
	out := audio.NewBuffer(0)

	if !p.Process(in, out) {
		t.Fatal("expected preamp to process")
	}
	want := []float32{0.4, -0.2}
	for i, s := range out.Samples() {
		if diff := s - want[i]; diff > 1e-3 || diff < -1e-3 {
			t.Errorf("sample %d: expected ~%v, got %v", i, want[i], s)
		}
	}
}

func TestLimiter(t *testing.T) {
	var l Limiter

	if l.Process(newChunk(0.2, -0.9), audio.NewBuffer(2)) {
		t.Error("expected clean chunk to pass through")
	}

	out := audio.NewBuffer(0)
	if !l.Process(newChunk(1.5, -0.5, -3), out) {
		t.Fatal("expected clipping chunk to be processed")
	}
	want := []float32{1, -0.5, -1}
	for i, s := range out.Samples() {
		if s != want[i] {
			t.Errorf("sample %d: expected %v, got %v", i, want[i], s)
		}
	}
}

func TestFuncAdapter(t *testing.T) {
	called := false
	var d DSP = Func(func(in, out *audio.Buffer) bool {
		called = true
		return false
	})
	d.Process(newChunk(0), audio.NewBuffer(0))
	if !called {
		t.Error("expected adapter to call function")
	}
}
