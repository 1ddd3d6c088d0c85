// ABOUTME: Recording output that consumes buffers on its own goroutine
// ABOUTME: Records played samples and positions so tests can assert on continuity
package audiotest

import (
	"sync"
	"time"

	"github.com/Resonate-Protocol/resonate-engine/pkg/audio"
	"github.com/Resonate-Protocol/resonate-engine/pkg/audio/output"
)

type queued struct {
	buf      *audio.Buffer
	provider output.BufferProvider
}

// Output is an output.Output that plays into memory
type Output struct {
	name     string
	capacity int
	delay    time.Duration

	mu        sync.Mutex
	cond      *sync.Cond
	queue     []queued
	samples   []float32
	positions []float64
	paused    bool
	closed    bool
	volume    float64
	stops     int
	drains    int
	playErr   error
	done      chan struct{}
}

// NewOutput creates a recording output accepting capacity buffers and
// spending delay on each
func NewOutput(capacity int, delay time.Duration) *Output {
	o := &Output{
		name:     "recording",
		capacity: capacity,
		delay:    delay,
		volume:   1,
		done:     make(chan struct{}),
	}
	o.cond = sync.NewCond(&o.mu)
	go o.consume()
	return o
}

func (o *Output) consume() {
	defer close(o.done)
	for {
		o.mu.Lock()
		for !o.closed && (o.paused || len(o.queue) == 0) {
			o.cond.Wait()
		}
		if o.closed {
			o.mu.Unlock()
			return
		}
		item := o.queue[0]
		o.mu.Unlock()

		if o.delay > 0 {
			time.Sleep(o.delay)
		}

		o.mu.Lock()
		// Stop may have flushed the item while we slept
		if len(o.queue) == 0 || o.queue[0].buf != item.buf {
			o.mu.Unlock()
			continue
		}
		o.queue = o.queue[1:]
		for _, s := range item.buf.Samples() {
			o.samples = append(o.samples, s*float32(o.volume))
		}
		o.positions = append(o.positions, item.buf.Position())
		o.mu.Unlock()

		item.provider.OnBufferProcessed(item.buf)
	}
}

// Name identifies the output
func (o *Output) Name() string { return o.name }

// FailPlay makes every later Play return err
func (o *Output) FailPlay(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.playErr = err
}

// Play queues a buffer
func (o *Output) Play(buf *audio.Buffer, provider output.BufferProvider) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.playErr != nil {
		return o.playErr
	}
	if len(o.queue) >= o.capacity {
		return output.ErrBufferFull
	}
	o.queue = append(o.queue, queued{buf, provider})
	o.cond.Broadcast()
	return nil
}

// Pause halts consumption
func (o *Output) Pause() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.paused = true
}

// Resume continues consumption
func (o *Output) Resume() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.paused = false
	o.cond.Broadcast()
}

// Stop releases every queued buffer without playing it
func (o *Output) Stop() {
	o.mu.Lock()
	flushed := o.queue
	o.queue = nil
	o.stops++
	o.mu.Unlock()

	for _, item := range flushed {
		item.provider.OnBufferProcessed(item.buf)
	}
}

// Drain counts end-of-input notifications
func (o *Output) Drain() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.drains++
}

// SetVolume sets the recorded volume
func (o *Output) SetVolume(volume float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.volume = volume
}

// Volume returns the volume
func (o *Output) Volume() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.volume
}

// Latency reports queued audio
func (o *Output) Latency() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	var latency float64
	for _, item := range o.queue {
		latency += item.buf.Duration()
	}
	return latency
}

// Close stops the consumer and releases queued buffers
func (o *Output) Close() error {
	o.Stop()
	o.mu.Lock()
	o.closed = true
	o.cond.Broadcast()
	o.mu.Unlock()
	<-o.done
	return nil
}

// Samples returns a copy of everything played so far
func (o *Output) Samples() []float32 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]float32(nil), o.samples...)
}

// Positions returns the position tag of every played buffer
func (o *Output) Positions() []float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]float64(nil), o.positions...)
}

// Queued returns the number of buffers waiting to be played
func (o *Output) Queued() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.queue)
}

// Stops returns how often Stop was called
func (o *Output) Stops() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stops
}

// Drains returns how often Drain was called
func (o *Output) Drains() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.drains
}

// WaitPlayed waits until at least n samples were played
func (o *Output) WaitPlayed(n int, timeout time.Duration) bool {
	return WaitFor(timeout, func() bool {
		o.mu.Lock()
		defer o.mu.Unlock()
		return len(o.samples) >= n
	})
}
