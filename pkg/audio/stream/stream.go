// ABOUTME: Decoded audio stream bound to one URI
// ABOUTME: Splits decoder output into fixed-size chunks, applies DSP and recycles buffers
// Package stream turns one track URI into a sequence of chunk-sized PCM
// buffers.
//
// A Stream owns exactly one decoder. NextBuffer hands out buffers in
// decode order; the consumer returns each one with RecycleBuffer once it
// has been played. The number of buffers alive is bounded by
// Config.BufferCount.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/Resonate-Protocol/resonate-engine/pkg/audio"
	"github.com/Resonate-Protocol/resonate-engine/pkg/audio/decode"
	"github.com/Resonate-Protocol/resonate-engine/pkg/audio/dsp"
	"github.com/Resonate-Protocol/resonate-engine/pkg/audio/source"
)

const (
	DefaultSamplesPerChannel = 2048
	DefaultBufferCount       = 32
)

// Config holds stream configuration
type Config struct {
	// SamplesPerChannel is the chunk size in frames (default: 2048)
	SamplesPerChannel int

	// BufferCount is the target number of buffers in flight (default: 32)
	BufferCount int

	// DSP stages applied to every chunk in order. The slice is copied at
	// construction so later changes do not affect an open stream.
	DSP []dsp.DSP
}

func (c Config) withDefaults() Config {
	if c.SamplesPerChannel <= 0 {
		c.SamplesPerChannel = DefaultSamplesPerChannel
	}
	if c.BufferCount <= 0 {
		c.BufferCount = DefaultBufferCount
	}
	c.DSP = append([]dsp.DSP(nil), c.DSP...)
	return c
}

// Stream decodes one URI into chunk-sized buffers
type Stream struct {
	config   Config
	sources  *source.Registry
	decoders *decode.Registry

	uri     string
	srcMu   sync.Mutex
	src     source.DataSource
	decoder decode.Decoder

	raw        *audio.Buffer
	dspBuffer  *audio.Buffer
	filled     []*audio.Buffer
	sampleRate int
	channels   int
	decoded    int64 // samples across all channels since the last seek
	base       float64
	duration   float64
	eof        bool
	err        error
	closed     bool

	// set by SetPosition before the format is known
	pendingSeek float64
	hasPending  bool

	recycledMu sync.Mutex
	recycled   []*audio.Buffer
	allocated  int
}

// New creates an unopened stream
func New(sources *source.Registry, decoders *decode.Registry, config Config) *Stream {
	return &Stream{
		config:    config.withDefaults(),
		sources:   sources,
		decoders:  decoders,
		raw:       audio.NewBuffer(0),
		dspBuffer: audio.NewBuffer(0),
		duration:  -1,
	}
}

// Open resolves a data source and a decoder for uri
func (s *Stream) Open(ctx context.Context, uri string) error {
	if s.decoder != nil {
		return fmt.Errorf("%w: stream already open", audio.ErrInvalidState)
	}

	src, err := s.sources.Open(ctx, uri)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", audio.ErrOpenFailed, uri, err)
	}

	factory, err := s.decoders.Lookup(src.Type())
	if err != nil {
		src.Close()
		return fmt.Errorf("%s: %w", uri, err)
	}

	decoder := factory.CreateDecoder()
	if err := decoder.Open(src); err != nil {
		decoder.Close()
		src.Close()
		return fmt.Errorf("%w: %s: %w", audio.ErrOpenFailed, uri, err)
	}

	s.uri = uri
	s.srcMu.Lock()
	s.src = src
	s.srcMu.Unlock()
	s.decoder = decoder
	s.duration = decoder.Duration()

	log.Debug().
		Str("uri", uri).
		Str("type", src.Type()).
		Float64("duration", s.duration).
		Msg("stream opened")
	return nil
}

// URI returns the URI the stream was opened for
func (s *Stream) URI() string {
	return s.uri
}

// Duration returns the track length in seconds, or -1 when unknown
func (s *Stream) Duration() float64 {
	return s.duration
}

// Format returns the sample rate and channel count, both zero until the
// decoder produced its first buffer
func (s *Stream) Format() (sampleRate, channels int) {
	return s.sampleRate, s.channels
}

// Position returns the position of the next sample to be decoded
func (s *Stream) Position() float64 {
	if s.sampleRate == 0 || s.channels == 0 {
		if s.hasPending {
			return s.pendingSeek
		}
		return s.base
	}
	return s.base + float64(s.decoded)/float64(s.channels)/float64(s.sampleRate)
}

// NextBuffer returns the next chunk. It returns io.EOF once every decoded
// buffer was handed out. A decode error is returned after the buffers
// decoded before it.
func (s *Stream) NextBuffer() (*audio.Buffer, error) {
	if err := s.fill(); err != nil {
		return nil, err
	}
	if len(s.filled) == 0 {
		if s.err != nil {
			return nil, s.err
		}
		return nil, io.EOF
	}

	buf := s.filled[0]
	s.filled[0] = nil
	s.filled = s.filled[1:]
	return buf, nil
}

// Prefill decodes up to the buffer quota without handing anything out
func (s *Stream) Prefill() error {
	if err := s.fill(); err != nil {
		return err
	}
	if len(s.filled) == 0 {
		return s.err
	}
	return nil
}

// Filled returns the number of decoded buffers waiting to be handed out
func (s *Stream) Filled() int {
	return len(s.filled)
}

func (s *Stream) fill() error {
	if s.decoder == nil {
		return fmt.Errorf("%w: stream not open", audio.ErrInvalidState)
	}

	count := s.config.BufferCount
	for !s.eof && s.err == nil && (len(s.filled) < count/2 || len(s.filled)+s.recycledCount() < count) {
		s.raw.Reset()
		err := s.decoder.GetBuffer(s.raw)
		if errors.Is(err, io.EOF) {
			s.eof = true
			break
		}
		if err != nil {
			s.err = fmt.Errorf("%w: %s: %w", audio.ErrDecode, s.uri, err)
			break
		}
		if s.raw.SampleCount() == 0 {
			continue
		}
		if err := s.checkFormat(s.raw); err != nil {
			s.err = err
			break
		}
		s.split(s.raw)
	}
	return nil
}

// checkFormat latches the format from the first decoded buffer
func (s *Stream) checkFormat(raw *audio.Buffer) error {
	if s.sampleRate == 0 {
		if raw.SampleRate() <= 0 || raw.Channels() <= 0 {
			return fmt.Errorf("%w: %s: decoder reported no format", audio.ErrDecode, s.uri)
		}
		s.sampleRate = raw.SampleRate()
		s.channels = raw.Channels()
		if s.duration < 0 {
			s.duration = s.decoder.Duration()
		}
		if s.hasPending {
			s.base = s.pendingSeek
			s.hasPending = false
		}
		return nil
	}

	if raw.SampleRate() != s.sampleRate || raw.Channels() != s.channels {
		return fmt.Errorf("%w: %s: format changed from %dHz %dch to %dHz %dch",
			audio.ErrDecode, s.uri, s.sampleRate, s.channels, raw.SampleRate(), raw.Channels())
	}
	return nil
}

// split cuts raw into chunks of SamplesPerChannel frames; only the last
// chunk may be shorter
func (s *Stream) split(raw *audio.Buffer) {
	chunk := s.config.SamplesPerChannel * s.channels
	total := raw.SampleCount()

	for offset := 0; offset < total; offset += chunk {
		n := min(chunk, total-offset)

		buf := s.obtain(chunk)
		buf.Copy(raw, offset, n)
		buf.SetPosition(s.Position())
		s.decoded += int64(n)

		s.filled = append(s.filled, s.applyDSP(buf))
	}
}

// applyDSP runs every stage; a stage that produced output swaps its scratch
// buffer in as the current chunk
func (s *Stream) applyDSP(buf *audio.Buffer) *audio.Buffer {
	for _, stage := range s.config.DSP {
		out := s.dspBuffer
		out.Reset()
		if stage.Process(buf, out) {
			out.CopyFormat(buf)
			s.dspBuffer = buf
			buf = out
		}
	}
	return buf
}

// obtain takes the oldest recycled buffer or allocates one
func (s *Stream) obtain(capacity int) *audio.Buffer {
	s.recycledMu.Lock()
	defer s.recycledMu.Unlock()

	if len(s.recycled) > 0 {
		buf := s.recycled[0]
		s.recycled[0] = nil
		s.recycled = s.recycled[1:]
		return buf
	}
	s.allocated++
	return audio.NewBuffer(capacity)
}

func (s *Stream) recycledCount() int {
	s.recycledMu.Lock()
	defer s.recycledMu.Unlock()
	return len(s.recycled)
}

// RecycleBuffer returns a played buffer to the pool. It may be called from
// any goroutine.
func (s *Stream) RecycleBuffer(buf *audio.Buffer) {
	if buf == nil {
		return
	}

	s.recycledMu.Lock()
	defer s.recycledMu.Unlock()

	if s.closed || len(s.recycled) >= s.config.BufferCount {
		s.allocated--
		return
	}
	buf.Reset()
	s.recycled = append(s.recycled, buf)
}

// Allocated returns the number of buffers created and not yet evicted
func (s *Stream) Allocated() int {
	s.recycledMu.Lock()
	defer s.recycledMu.Unlock()
	return s.allocated
}

// SetPosition seeks the decoder. On failure the position is unchanged and
// the error wraps audio.ErrSeekFailed.
func (s *Stream) SetPosition(seconds float64) (float64, error) {
	if s.decoder == nil {
		return -1, fmt.Errorf("%w: stream not open", audio.ErrSeekFailed)
	}

	reached, err := s.decoder.SetPosition(seconds, s.duration)
	if err != nil || reached < 0 {
		if err == nil {
			err = errors.New("decoder did not seek")
		}
		if !errors.Is(err, audio.ErrSeekFailed) {
			err = fmt.Errorf("%w: %w", audio.ErrSeekFailed, err)
		}
		return -1, err
	}

	for _, buf := range s.filled {
		s.RecycleBuffer(buf)
	}
	s.filled = s.filled[:0]
	s.decoded = 0
	s.eof = false
	s.err = nil

	if s.sampleRate == 0 {
		s.pendingSeek = reached
		s.hasPending = true
	} else {
		s.base = reached
	}

	log.Debug().Str("uri", s.uri).Float64("position", reached).Msg("stream seeked")
	return reached, nil
}

// Interrupt unblocks pending data source I/O. It may be called from any
// goroutine.
func (s *Stream) Interrupt() {
	s.srcMu.Lock()
	defer s.srcMu.Unlock()
	if s.src != nil {
		s.src.Interrupt()
	}
}

// Close releases the decoder, the data source and every pooled buffer
func (s *Stream) Close() error {
	s.recycledMu.Lock()
	s.closed = true
	s.allocated -= len(s.recycled)
	s.recycled = nil
	s.recycledMu.Unlock()

	s.filled = nil

	var errs []error
	if s.decoder != nil {
		errs = append(errs, s.decoder.Close())
		s.decoder = nil
	}
	s.srcMu.Lock()
	if s.src != nil {
		errs = append(errs, s.src.Close())
		s.src = nil
	}
	s.srcMu.Unlock()
	return errors.Join(errs...)
}
