// ABOUTME: Tests for the spectrum analyzer
// ABOUTME: Feeds pure tones and silence and checks where the energy lands
package spectrum

import (
	"math"
	"testing"

	"github.com/Resonate-Protocol/resonate-engine/pkg/audio"
)

// tone builds a stereo buffer with a sine of the given bin on the left
// channel and silence on the right
func tone(size, frames, bin int) *audio.Buffer {
	buf := audio.NewBuffer(frames * 2)
	buf.SetFormat(8000, 2)
	for i := 0; i < frames; i++ {
		buf.Append(float32(math.Sin(2*math.Pi*float64(bin*i)/float64(size))), 0)
	}
	return buf
}

func peak(bins []float32) int {
	best := 0
	for i, v := range bins {
		if v > bins[best] {
			best = i
		}
	}
	return best
}

func TestNewAnalyzerDefaults(t *testing.T) {
	a := NewAnalyzer(0)
	if a.Size() != DefaultSize {
		t.Errorf("expected size %d, got %d", DefaultSize, a.Size())
	}
	if n := len(a.Bins()); n != DefaultSize/2 {
		t.Errorf("expected %d bins, got %d", DefaultSize/2, n)
	}
}

func TestToneLandsInItsBin(t *testing.T) {
	tests := []struct {
		name   string
		frames int
		bin    int
	}{
		{"one window", 64, 8},
		{"several windows", 256, 5},
		{"partial window ignored", 100, 12},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAnalyzer(64)
			a.Write(tone(64, tt.frames, tt.bin))

			bins := a.Bins()
			if got := peak(bins); got != tt.bin {
				t.Errorf("expected peak at bin %d, got %d (%v)", tt.bin, got, bins)
			}
			if bins[tt.bin] <= 0 {
				t.Errorf("expected energy in bin %d, got %f", tt.bin, bins[tt.bin])
			}
		})
	}
}

func TestSilenceAndShortBuffers(t *testing.T) {
	a := NewAnalyzer(64)
	a.Write(tone(64, 64, 8))
	before := a.Bins()

	a.Write(tone(64, 32, 3))
	after := a.Bins()
	for i := range before {
		if before[i] != after[i] {
			t.Fatalf("expected a short buffer to leave bin %d at %f, got %f", i, before[i], after[i])
		}
	}

	silent := audio.NewBuffer(128)
	silent.SetFormat(8000, 2)
	silent.Resize(128)
	a.Write(silent)
	for i, v := range a.Bins() {
		if v != 0 {
			t.Fatalf("expected silent bin %d to be 0, got %f", i, v)
		}
	}
}
