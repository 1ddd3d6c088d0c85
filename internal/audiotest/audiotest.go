// ABOUTME: Deterministic in-memory tracks, decoders and outputs for tests
// ABOUTME: Ramp tracks under test:// URIs plus a recording output with controllable pace
package audiotest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/Resonate-Protocol/resonate-engine/pkg/audio"
	"github.com/Resonate-Protocol/resonate-engine/pkg/audio/decode"
	"github.com/Resonate-Protocol/resonate-engine/pkg/audio/source"
)

// ContentType is the type reported by library sources
const ContentType = "ramp"

// Track describes a synthetic track
type Track struct {
	Frames      int
	Channels    int
	SampleRate  int
	BlockFrames int // frames per decoder buffer (default: 1000)

	// FailAfter makes decoding fail once this many frames were produced
	FailAfter int
	// FailOpen makes the decoder reject the source
	FailOpen bool
	// SeekFails makes every seek fail
	SeekFails bool
	// UnknownDuration hides the duration until the first buffer
	UnknownDuration bool
	// Stall blocks decoding after this many frames until interrupted
	Stall int
}

// RampSample is the value of the n-th interleaved sample of every track
func RampSample(n int) float32 {
	return float32(n%1000)/1000 - 0.5
}

// Library serves registered tracks under test:// URIs
type Library struct {
	mu     sync.Mutex
	tracks map[string]Track
}

// NewLibrary creates an empty library
func NewLibrary() *Library {
	return &Library{tracks: make(map[string]Track)}
}

// Add registers a track; uri should start with test://
func (l *Library) Add(uri string, t Track) {
	if t.Channels == 0 {
		t.Channels = 2
	}
	if t.SampleRate == 0 {
		t.SampleRate = 1000
	}
	if t.BlockFrames == 0 {
		t.BlockFrames = 1000
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tracks[uri] = t
}

// Sources returns a source registry that resolves library URIs
func (l *Library) Sources() *source.Registry {
	return source.NewRegistry(l)
}

// Decoders returns a decoder registry with the ramp decoder
func (l *Library) Decoders() *decode.Registry {
	return decode.NewRegistry(RampFactory{})
}

// CanRead claims test:// URIs
func (l *Library) CanRead(uri string) bool {
	return strings.HasPrefix(uri, "test://")
}

// Open returns a source for a registered track
func (l *Library) Open(_ context.Context, uri string) (source.DataSource, error) {
	l.mu.Lock()
	t, ok := l.tracks[uri]
	l.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no such track: %s", uri)
	}
	return &Source{uri: uri, track: t, interrupted: make(chan struct{})}, nil
}

// Source is a data source carrying a Track description
type Source struct {
	uri         string
	track       Track
	once        sync.Once
	interrupted chan struct{}
}

func (s *Source) Read([]byte) (int, error)       { return 0, io.EOF }
func (s *Source) Seek(int64, int) (int64, error) { return 0, nil }
func (s *Source) URI() string                    { return s.uri }
func (s *Source) Length() int64                  { return -1 }
func (s *Source) Type() string                   { return ContentType }
func (s *Source) Track() Track                   { return s.track }
func (s *Source) Interrupt()                     { s.once.Do(func() { close(s.interrupted) }) }
func (s *Source) Close() error                   { return nil }

// RampFactory creates ramp decoders
type RampFactory struct{}

// CanHandle claims the ramp content type
func (RampFactory) CanHandle(contentType string) bool { return contentType == ContentType }

// CreateDecoder creates a ramp decoder
func (RampFactory) CreateDecoder() decode.Decoder { return &RampDecoder{} }

// RampDecoder produces RampSample values for a Source's track
type RampDecoder struct {
	src     *Source
	track   Track
	frame   int
	started bool
}

// Open binds the decoder to a library source
func (d *RampDecoder) Open(src source.DataSource) error {
	s, ok := src.(*Source)
	if !ok {
		return errors.New("not a library source")
	}
	if s.track.FailOpen {
		return errors.New("corrupt track")
	}
	d.src = s
	d.track = s.track
	return nil
}

// GetBuffer produces the next block
func (d *RampDecoder) GetBuffer(buf *audio.Buffer) error {
	t := d.track
	if t.Stall > 0 && d.frame >= t.Stall {
		<-d.src.interrupted
		return source.ErrInterrupted
	}
	select {
	case <-d.src.interrupted:
		return source.ErrInterrupted
	default:
	}
	if t.FailAfter > 0 && d.frame >= t.FailAfter {
		return errors.New("corrupt frame")
	}
	if d.frame >= t.Frames {
		return io.EOF
	}

	n := min(t.BlockFrames, t.Frames-d.frame)
	if t.Stall > 0 {
		n = min(n, t.Stall-d.frame)
	}
	if t.FailAfter > 0 {
		n = min(n, t.FailAfter-d.frame)
	}
	buf.SetFormat(t.SampleRate, t.Channels)
	out := buf.Resize(n * t.Channels)
	base := d.frame * t.Channels
	for i := range out {
		out[i] = RampSample(base + i)
	}
	d.frame += n
	d.started = true
	return nil
}

// SetPosition seeks to a frame boundary
func (d *RampDecoder) SetPosition(seconds, totalSeconds float64) (float64, error) {
	if d.track.SeekFails {
		return -1, audio.ErrSeekFailed
	}
	if seconds < 0 {
		seconds = 0
	}
	frame := int(seconds * float64(d.track.SampleRate))
	if frame > d.track.Frames {
		frame = d.track.Frames
	}
	d.frame = frame
	return float64(frame) / float64(d.track.SampleRate), nil
}

// Duration returns the track length
func (d *RampDecoder) Duration() float64 {
	if d.track.UnknownDuration && !d.started {
		return -1
	}
	return float64(d.track.Frames) / float64(d.track.SampleRate)
}

// Close releases nothing
func (d *RampDecoder) Close() error { return nil }

// WaitFor polls cond until it holds or the timeout expires
func WaitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for {
		if cond() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(2 * time.Millisecond)
	}
}
