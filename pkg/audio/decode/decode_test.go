// ABOUTME: Tests for the decoder registry and codec decoders
// ABOUTME: Uses WAV fixtures written with go-audio/wav and garbage inputs
package decode

import (
	"context"
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/Resonate-Protocol/resonate-engine/pkg/audio"
	"github.com/Resonate-Protocol/resonate-engine/pkg/audio/source"
)

func writeWAV(t *testing.T, rate, channels, bitDepth, frames int) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "fixture.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create fixture: %v", err)
	}

	enc := wav.NewEncoder(f, rate, bitDepth, channels, 1)
	data := make([]int, frames*channels)
	scale := float64(int(1)<<(bitDepth-1)) - 1
	for i := 0; i < frames; i++ {
		v := int(math.Round(scale * 0.5 * math.Sin(2*math.Pi*float64(i)/64)))
		for c := 0; c < channels; c++ {
			data[i*channels+c] = v
		}
	}
	buf := &goaudio.IntBuffer{
		Data:           data,
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: rate},
		SourceBitDepth: bitDepth,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("failed to close encoder: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("failed to close fixture: %v", err)
	}
	return path
}

func openSource(t *testing.T, path string) source.DataSource {
	t.Helper()
	src, err := source.FileFactory{}.Open(context.Background(), path)
	if err != nil {
		t.Fatalf("failed to open source: %v", err)
	}
	t.Cleanup(func() { src.Close() })
	return src
}

func writeGarbage(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	data := make([]byte, 8192)
	for i := range data {
		data[i] = byte(i * 7)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("failed to write garbage: %v", err)
	}
	return path
}

func TestRegistryLookup(t *testing.T) {
	reg := NewDefaultRegistry()

	tests := []struct {
		contentType string
		want        Factory
	}{
		{"mp3", MP3Factory{}},
		{"flac", FLACFactory{}},
		{"ogg", VorbisFactory{}},
		{"wav", WAVFactory{}},
		{"audio/mpeg", MP3Factory{}},
		{"audio/flac", FLACFactory{}},
		{"WAV", WAVFactory{}},
	}

	for _, tt := range tests {
		t.Run(tt.contentType, func(t *testing.T) {
			got, err := reg.Lookup(tt.contentType)
			if err != nil {
				t.Fatalf("lookup failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %T, got %T", tt.want, got)
			}
		})
	}
}

func TestRegistryUnsupported(t *testing.T) {
	reg := NewDefaultRegistry()
	_, err := reg.Lookup("midi")
	if !errors.Is(err, audio.ErrUnsupportedFormat) {
		t.Errorf("expected ErrUnsupportedFormat, got %v", err)
	}
}

type claimAll struct{ name string }

func (claimAll) CanHandle(string) bool  { return true }
func (claimAll) CreateDecoder() Decoder { return &WAVDecoder{} }

func TestRegistryFirstMatchWins(t *testing.T) {
	reg := NewRegistry(claimAll{name: "first"})
	reg.Register(claimAll{name: "second"})

	got, err := reg.Lookup("anything")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if got.(claimAll).name != "first" {
		t.Errorf("expected first factory, got %s", got.(claimAll).name)
	}
}

func TestWAVDecoder(t *testing.T) {
	tests := []struct {
		name     string
		rate     int
		channels int
		bitDepth int
	}{
		{"16-bit stereo", 44100, 2, 16},
		{"24-bit stereo", 48000, 2, 24},
		{"16-bit mono", 22050, 1, 16},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			const frames = 10000
			src := openSource(t, writeWAV(t, tt.rate, tt.channels, tt.bitDepth, frames))

			dec := WAVFactory{}.CreateDecoder()
			if err := dec.Open(src); err != nil {
				t.Fatalf("open failed: %v", err)
			}
			defer dec.Close()

			wantDuration := float64(frames) / float64(tt.rate)
			if math.Abs(dec.Duration()-wantDuration) > 1e-6 {
				t.Errorf("expected duration %f, got %f", wantDuration, dec.Duration())
			}

			buf := audio.NewBuffer(0)
			total := 0
			for {
				err := dec.GetBuffer(buf)
				if err == io.EOF {
					break
				}
				if err != nil {
					t.Fatalf("decode failed: %v", err)
				}
				if buf.SampleRate() != tt.rate || buf.Channels() != tt.channels {
					t.Fatalf("expected %dHz %dch, got %dHz %dch",
						tt.rate, tt.channels, buf.SampleRate(), buf.Channels())
				}
				for _, s := range buf.Samples() {
					if s < -1 || s > 1 {
						t.Fatalf("sample out of range: %f", s)
					}
				}
				total += buf.Frames()
			}
			if total != frames {
				t.Errorf("expected %d frames, got %d", frames, total)
			}
		})
	}
}

func TestWAVDecoderSeek(t *testing.T) {
	const rate, frames = 8000, 16000
	src := openSource(t, writeWAV(t, rate, 2, 16, frames))

	dec := &WAVDecoder{}
	if err := dec.Open(src); err != nil {
		t.Fatalf("open failed: %v", err)
	}

	pos, err := dec.SetPosition(1.5, dec.Duration())
	if err != nil {
		t.Fatalf("seek failed: %v", err)
	}
	if pos != 1.5 {
		t.Errorf("expected position 1.5, got %f", pos)
	}

	buf := audio.NewBuffer(0)
	remaining := 0
	for {
		err := dec.GetBuffer(buf)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		remaining += buf.Frames()
	}
	if want := frames - int(1.5*rate); remaining != want {
		t.Errorf("expected %d frames after seek, got %d", want, remaining)
	}

	pos, err = dec.SetPosition(-3, dec.Duration())
	if err != nil {
		t.Fatalf("seek failed: %v", err)
	}
	if pos != 0 {
		t.Errorf("expected negative seek to clamp to 0, got %f", pos)
	}
}

func TestDecodersRejectGarbage(t *testing.T) {
	tests := []struct {
		name    string
		factory Factory
		file    string
	}{
		{"mp3", MP3Factory{}, "garbage.mp3"},
		{"flac", FLACFactory{}, "garbage.flac"},
		{"ogg", VorbisFactory{}, "garbage.ogg"},
		{"wav", WAVFactory{}, "garbage.wav"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := openSource(t, writeGarbage(t, tt.file))
			dec := tt.factory.CreateDecoder()
			if err := dec.Open(src); err == nil {
				dec.Close()
				t.Errorf("expected open to fail for garbage %s", tt.name)
			}
		})
	}
}
