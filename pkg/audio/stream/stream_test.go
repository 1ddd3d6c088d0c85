// ABOUTME: Tests for chunking, recycling, seeking and DSP in Stream
// ABOUTME: Uses synthetic ramp tracks so every sample value is predictable
package stream

import (
	"context"
	"errors"
	"io"
	"math"
	"testing"

	"github.com/Resonate-Protocol/resonate-engine/internal/audiotest"
	"github.com/Resonate-Protocol/resonate-engine/pkg/audio"
	"github.com/Resonate-Protocol/resonate-engine/pkg/audio/decode"
	"github.com/Resonate-Protocol/resonate-engine/pkg/audio/dsp"
)

func openStream(t *testing.T, track audiotest.Track, config Config) *Stream {
	t.Helper()
	lib := audiotest.NewLibrary()
	lib.Add("test://track", track)

	s := New(lib.Sources(), lib.Decoders(), config)
	if err := s.Open(context.Background(), "test://track"); err != nil {
		t.Fatalf("open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// drain collects every sample and chunk length, recycling as it goes
func drain(t *testing.T, s *Stream) ([]float32, []int) {
	t.Helper()
	var all []float32
	var frames []int
	for {
		buf, err := s.NextBuffer()
		if errors.Is(err, io.EOF) {
			return all, frames
		}
		if err != nil {
			t.Fatalf("next buffer failed: %v", err)
		}
		all = append(all, buf.Samples()...)
		frames = append(frames, buf.Frames())
		s.RecycleBuffer(buf)
	}
}

func TestSplittingPreservesSamples(t *testing.T) {
	tests := []struct {
		name        string
		frames      int
		blockFrames int
		chunk       int
	}{
		{"chunk divides block", 4000, 1000, 250},
		{"chunk larger than block", 3000, 700, 1024},
		{"odd sizes", 5003, 997, 333},
		{"single frame chunks", 40, 7, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := openStream(t, audiotest.Track{
				Frames:      tt.frames,
				BlockFrames: tt.blockFrames,
			}, Config{SamplesPerChannel: tt.chunk, BufferCount: 4})

			all, chunks := drain(t, s)
			if len(all) != tt.frames*2 {
				t.Fatalf("expected %d samples, got %d", tt.frames*2, len(all))
			}
			for i, v := range all {
				if v != audiotest.RampSample(i) {
					t.Fatalf("sample %d: expected %f, got %f", i, audiotest.RampSample(i), v)
				}
			}

			// only the last chunk of each decoder block may be short
			consumed := 0
			for i, frames := range chunks {
				if frames > tt.chunk {
					t.Fatalf("chunk %d has %d frames, max %d", i, frames, tt.chunk)
				}
				blockEnd := (consumed/tt.blockFrames + 1) * tt.blockFrames
				if blockEnd > tt.frames {
					blockEnd = tt.frames
				}
				if frames < tt.chunk && consumed+frames != blockEnd {
					t.Fatalf("chunk %d short (%d frames) before block end", i, frames)
				}
				consumed += frames
			}
		})
	}
}

func TestPositionTags(t *testing.T) {
	s := openStream(t, audiotest.Track{Frames: 3000, SampleRate: 1000}, Config{SamplesPerChannel: 500, BufferCount: 4})

	want := 0.0
	for {
		buf, err := s.NextBuffer()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("next buffer failed: %v", err)
		}
		if math.Abs(buf.Position()-want) > 1e-9 {
			t.Fatalf("expected position %f, got %f", want, buf.Position())
		}
		want += buf.Duration()
		s.RecycleBuffer(buf)
	}
	if want != 3 {
		t.Errorf("expected 3 seconds of audio, got %f", want)
	}
}

func TestBufferQuota(t *testing.T) {
	s := openStream(t, audiotest.Track{Frames: 100000, BlockFrames: 100}, Config{SamplesPerChannel: 100, BufferCount: 8})

	if err := s.Prefill(); err != nil {
		t.Fatalf("prefill failed: %v", err)
	}
	if s.Filled() != 8 {
		t.Errorf("expected 8 filled buffers after prefill, got %d", s.Filled())
	}

	// recycling keeps the pool bounded
	for i := 0; i < 200; i++ {
		buf, err := s.NextBuffer()
		if err != nil {
			t.Fatalf("next buffer failed: %v", err)
		}
		s.RecycleBuffer(buf)
	}
	if got := s.Allocated(); got > 9 {
		t.Errorf("expected at most 9 buffers allocated, got %d", got)
	}
}

func TestRecycledBufferIsOverwritten(t *testing.T) {
	s := openStream(t, audiotest.Track{Frames: 2000, BlockFrames: 100}, Config{SamplesPerChannel: 100, BufferCount: 2})

	first, err := s.NextBuffer()
	if err != nil {
		t.Fatalf("next buffer failed: %v", err)
	}
	s.RecycleBuffer(first)

	reused := false
	offset := 200
	for i := 0; i < 10; i++ {
		buf, err := s.NextBuffer()
		if err != nil {
			t.Fatalf("next buffer failed: %v", err)
		}
		reused = reused || buf == first
		for j, v := range buf.Samples() {
			if v != audiotest.RampSample(offset+j) {
				t.Fatalf("buffer %d sample %d: expected %f, got %f", i, j, audiotest.RampSample(offset+j), v)
			}
		}
		offset += buf.SampleCount()
		s.RecycleBuffer(buf)
	}
	if !reused {
		t.Error("expected the recycled buffer to be handed out again")
	}
}

func TestSeek(t *testing.T) {
	s := openStream(t, audiotest.Track{Frames: 10000, SampleRate: 1000}, Config{SamplesPerChannel: 250, BufferCount: 4})

	if _, err := s.NextBuffer(); err != nil {
		t.Fatalf("next buffer failed: %v", err)
	}

	reached, err := s.SetPosition(4)
	if err != nil {
		t.Fatalf("seek failed: %v", err)
	}
	if reached != 4 {
		t.Errorf("expected 4, got %f", reached)
	}

	buf, err := s.NextBuffer()
	if err != nil {
		t.Fatalf("next buffer failed: %v", err)
	}
	if buf.Position() != 4 {
		t.Errorf("expected buffer at 4s, got %f", buf.Position())
	}
	if buf.Samples()[0] != audiotest.RampSample(4000*2) {
		t.Errorf("expected sample of frame 4000, got %f", buf.Samples()[0])
	}
}

func TestSeekFailureLeavesPosition(t *testing.T) {
	s := openStream(t, audiotest.Track{Frames: 10000, SampleRate: 1000, SeekFails: true}, Config{SamplesPerChannel: 250, BufferCount: 4})

	first, err := s.NextBuffer()
	if err != nil {
		t.Fatalf("next buffer failed: %v", err)
	}
	before := s.Position()

	if _, err := s.SetPosition(5); !errors.Is(err, audio.ErrSeekFailed) {
		t.Fatalf("expected ErrSeekFailed, got %v", err)
	}
	if s.Position() != before {
		t.Errorf("expected position %f unchanged, got %f", before, s.Position())
	}

	next, err := s.NextBuffer()
	if err != nil {
		t.Fatalf("next buffer failed: %v", err)
	}
	if next.Position() != first.Position()+first.Duration() {
		t.Errorf("expected playback to continue at %f, got %f", first.Position()+first.Duration(), next.Position())
	}
}

func TestSeekBeforeFormatKnown(t *testing.T) {
	s := openStream(t, audiotest.Track{Frames: 10000, SampleRate: 1000, UnknownDuration: true}, Config{SamplesPerChannel: 250, BufferCount: 4})

	if _, err := s.SetPosition(2); err != nil {
		t.Fatalf("seek failed: %v", err)
	}
	if s.Position() != 2 {
		t.Errorf("expected pending position 2, got %f", s.Position())
	}

	buf, err := s.NextBuffer()
	if err != nil {
		t.Fatalf("next buffer failed: %v", err)
	}
	if buf.Position() != 2 {
		t.Errorf("expected first buffer at 2s, got %f", buf.Position())
	}
}

func TestDecodeErrorMidStream(t *testing.T) {
	s := openStream(t, audiotest.Track{Frames: 10000, FailAfter: 1500}, Config{SamplesPerChannel: 500, BufferCount: 4})

	var err error
	for i := 0; i < 100 && err == nil; i++ {
		var buf *audio.Buffer
		buf, err = s.NextBuffer()
		if buf != nil {
			s.RecycleBuffer(buf)
		}
	}
	if !errors.Is(err, audio.ErrDecode) {
		t.Errorf("expected ErrDecode, got %v", err)
	}
}

func TestOpenErrors(t *testing.T) {
	lib := audiotest.NewLibrary()
	lib.Add("test://broken", audiotest.Track{Frames: 10, FailOpen: true})

	s := New(lib.Sources(), lib.Decoders(), Config{})
	if err := s.Open(context.Background(), "test://broken"); !errors.Is(err, audio.ErrOpenFailed) {
		t.Errorf("expected ErrOpenFailed, got %v", err)
	}

	s = New(lib.Sources(), lib.Decoders(), Config{})
	if err := s.Open(context.Background(), "test://missing"); !errors.Is(err, audio.ErrOpenFailed) {
		t.Errorf("expected ErrOpenFailed for missing source, got %v", err)
	}

	// a registry without the ramp decoder cannot claim the type
	s = New(lib.Sources(), decode.NewRegistry(decode.WAVFactory{}), Config{})
	lib.Add("test://ok", audiotest.Track{Frames: 10})
	if err := s.Open(context.Background(), "test://ok"); !errors.Is(err, audio.ErrUnsupportedFormat) {
		t.Errorf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestDSPChain(t *testing.T) {
	double := dsp.Func(func(in, out *audio.Buffer) bool {
		dst := out.Resize(in.SampleCount())
		for i, s := range in.Samples() {
			dst[i] = s * 2
		}
		return true
	})
	passThrough := dsp.Func(func(in, out *audio.Buffer) bool { return false })
	offset := dsp.Func(func(in, out *audio.Buffer) bool {
		dst := out.Resize(in.SampleCount())
		for i, s := range in.Samples() {
			dst[i] = s + 0.25
		}
		return true
	})

	s := openStream(t, audiotest.Track{Frames: 1000}, Config{
		SamplesPerChannel: 100,
		BufferCount:       4,
		DSP:               []dsp.DSP{double, passThrough, offset},
	})

	all, _ := drain(t, s)
	if len(all) != 2000 {
		t.Fatalf("expected 2000 samples, got %d", len(all))
	}
	for i, v := range all {
		want := audiotest.RampSample(i)*2 + 0.25
		if v != want {
			t.Fatalf("sample %d: expected %f, got %f", i, want, v)
		}
	}
}
