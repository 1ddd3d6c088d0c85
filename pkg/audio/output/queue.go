// ABOUTME: Ordered buffer queue shared by the output backends
// ABOUTME: Converts accepted buffers to the device format and releases them once played
package output

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Resonate-Protocol/resonate-engine/pkg/audio"
	"github.com/Resonate-Protocol/resonate-engine/pkg/audio/resample"
)

// DefaultQueueDuration bounds how much audio an output accepts ahead of playback
const DefaultQueueDuration = 500 * time.Millisecond

type entry struct {
	buf      *audio.Buffer
	provider BufferProvider
	samples  []float32
	offset   int
}

type release struct {
	buf      *audio.Buffer
	provider BufferProvider
}

// Queue holds accepted buffers until a consumer pulls their samples. It
// converts every buffer to one target format and releases each buffer to its
// provider once all of its samples were pulled or the queue was flushed.
type Queue struct {
	mu        sync.Mutex
	entries   []*entry
	free      []*entry
	converter *resample.Converter
	duration  time.Duration
	queued    int
	volume    float64
	paused    bool
	drained   bool
	underrun  bool
}

// NewQueue creates a queue accepting about duration of audio
func NewQueue(duration time.Duration) *Queue {
	if duration <= 0 {
		duration = DefaultQueueDuration
	}
	return &Queue{duration: duration, volume: 1}
}

// SetFormat fixes the target format; later buffers are converted to it
func (q *Queue) SetFormat(rate, channels int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.converter == nil || !q.converter.Matches(rate, channels) {
		q.converter = resample.NewConverter(rate, channels)
	}
}

// Format returns the target format, zero until set
func (q *Queue) Format() (rate, channels int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.converter == nil {
		return 0, 0
	}
	return q.converter.Rate(), q.converter.Channels()
}

func (q *Queue) capacity() int {
	return int(q.duration.Seconds() * float64(q.converter.Rate()*q.converter.Channels()))
}

// Push accepts buf or reports ErrBufferFull. The first buffer fixes the
// target format when SetFormat was not called.
func (q *Queue) Push(buf *audio.Buffer, provider BufferProvider) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.converter == nil {
		q.converter = resample.NewConverter(buf.SampleRate(), buf.Channels())
	}
	if q.queued > 0 && q.queued >= q.capacity() {
		return ErrBufferFull
	}

	var e *entry
	if n := len(q.free); n > 0 {
		e = q.free[n-1]
		q.free = q.free[:n-1]
	} else {
		e = &entry{}
	}
	e.buf = buf
	e.provider = provider
	e.offset = 0
	e.samples = q.converter.Convert(buf.Samples(), buf.SampleRate(), buf.Channels(), e.samples[:0])

	q.entries = append(q.entries, e)
	q.queued += len(e.samples)
	q.drained = false
	return nil
}

// Pull fills dst with queued samples scaled by the volume, zero-filling on
// underrun or pause, and releases buffers that were fully played. It returns
// the number of real samples written.
func (q *Queue) Pull(dst []float32) int {
	q.mu.Lock()

	if q.paused {
		q.mu.Unlock()
		clear(dst)
		return 0
	}

	var done []release
	n := 0
	volume := float32(q.volume)
	for n < len(dst) && len(q.entries) > 0 {
		e := q.entries[0]
		m := copy(dst[n:], e.samples[e.offset:])
		for i := n; i < n+m; i++ {
			dst[i] *= volume
		}
		n += m
		e.offset += m
		q.queued -= m

		if e.offset >= len(e.samples) {
			done = append(done, release{e.buf, e.provider})
			q.entries[0] = nil
			q.entries = q.entries[1:]
			e.buf, e.provider = nil, nil
			q.free = append(q.free, e)
		}
	}
	clear(dst[n:])

	if n < len(dst) && !q.drained && !q.underrun {
		q.underrun = true
		log.Debug().Int("missing", len(dst)-n).Msg("output underrun")
	} else if n == len(dst) {
		q.underrun = false
	}
	q.mu.Unlock()

	for _, r := range done {
		r.provider.OnBufferProcessed(r.buf)
	}
	return n
}

// Flush drops every queued buffer and hands each back to its provider
func (q *Queue) Flush() {
	q.mu.Lock()
	done := make([]release, 0, len(q.entries))
	for i, e := range q.entries {
		done = append(done, release{e.buf, e.provider})
		e.buf, e.provider = nil, nil
		q.free = append(q.free, e)
		q.entries[i] = nil
	}
	q.entries = q.entries[:0]
	q.queued = 0
	if q.converter != nil {
		q.converter.Reset()
	}
	q.mu.Unlock()

	for _, r := range done {
		r.provider.OnBufferProcessed(r.buf)
	}
}

// SetPaused makes Pull return silence without consuming
func (q *Queue) SetPaused(paused bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.paused = paused
}

// Drain marks the end of input until the next Push
func (q *Queue) Drain() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.drained = true
}

// SetVolume sets the gain applied in Pull, clamped to [0, 1]
func (q *Queue) SetVolume(volume float64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.volume = clampVolume(volume)
}

// Volume returns the gain applied in Pull
func (q *Queue) Volume() float64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.volume
}

// Latency returns the queued audio in seconds
func (q *Queue) Latency() float64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.converter == nil {
		return 0
	}
	return float64(q.queued) / float64(q.converter.Rate()*q.converter.Channels())
}

// Available returns the number of queued samples
func (q *Queue) Available() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.queued
}

// Drained reports whether Drain was called since the last Push
func (q *Queue) Drained() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.drained
}

// Paused reports whether the queue is paused
func (q *Queue) Paused() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.paused
}

func clampVolume(volume float64) float64 {
	if volume < 0 {
		return 0
	}
	if volume > 1 {
		return 1
	}
	return volume
}
