// ABOUTME: Real-time clocked output that consumes the queue without a device
// ABOUTME: Base of the null output and of network sinks that need PCM at wall-clock pace
package output

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Resonate-Protocol/resonate-engine/pkg/audio"
)

// DefaultClockPeriod is how often a clocked output pulls audio
const DefaultClockPeriod = 20 * time.Millisecond

// SinkFunc receives each period of audio from a clocked output. samples is
// only valid for the duration of the call.
type SinkFunc func(samples []float32, sampleRate, channels int)

// ClockedConfig holds clocked output configuration
type ClockedConfig struct {
	// Name identifies the output (default: "null")
	Name string

	// SampleRate and Channels fix the output format. When zero the format
	// of the first buffer is used.
	SampleRate int
	Channels   int

	// Period is the pull interval (default: 20ms)
	Period time.Duration

	// QueueDuration bounds accepted audio (default: 500ms)
	QueueDuration time.Duration

	// Sink receives pulled audio; nil discards it
	Sink SinkFunc
}

// Clocked is an output that consumes queued audio in real time on its own
// goroutine and hands it to a sink
type Clocked struct {
	config ClockedConfig
	queue  *Queue

	mu      sync.Mutex
	started bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewClocked creates a clocked output
func NewClocked(config ClockedConfig) *Clocked {
	if config.Name == "" {
		config.Name = "null"
	}
	if config.Period <= 0 {
		config.Period = DefaultClockPeriod
	}
	c := &Clocked{
		config: config,
		queue:  NewQueue(config.QueueDuration),
		done:   make(chan struct{}),
	}
	if config.SampleRate > 0 && config.Channels > 0 {
		c.queue.SetFormat(config.SampleRate, config.Channels)
	}
	return c
}

// NewNull creates an output that plays into nothing at real-time pace
func NewNull() Output {
	return NewClocked(ClockedConfig{})
}

// Name identifies the output
func (c *Clocked) Name() string { return c.config.Name }

// Play queues a buffer and starts the clock on first use
func (c *Clocked) Play(buf *audio.Buffer, provider BufferProvider) error {
	if err := c.queue.Push(buf, provider); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		select {
		case <-c.done:
		default:
			c.started = true
			c.wg.Add(1)
			go c.run()
		}
	}
	return nil
}

func (c *Clocked) run() {
	defer c.wg.Done()

	rate, channels := c.queue.Format()
	frames := int(float64(rate) * c.config.Period.Seconds())
	samples := make([]float32, frames*channels)

	log.Debug().
		Str("output", c.config.Name).
		Int("rate", rate).Int("channels", channels).
		Msg("clocked output started")

	ticker := time.NewTicker(c.config.Period)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.queue.Pull(samples)
			if c.config.Sink != nil {
				c.config.Sink(samples, rate, channels)
			}
		}
	}
}

// Pause makes the clock emit silence
func (c *Clocked) Pause() { c.queue.SetPaused(true) }

// Resume continues consuming the queue
func (c *Clocked) Resume() { c.queue.SetPaused(false) }

// Stop discards queued audio
func (c *Clocked) Stop() { c.queue.Flush() }

// Drain marks the end of input
func (c *Clocked) Drain() { c.queue.Drain() }

// SetVolume sets the software volume
func (c *Clocked) SetVolume(volume float64) { c.queue.SetVolume(volume) }

// Volume returns the software volume
func (c *Clocked) Volume() float64 { return c.queue.Volume() }

// Latency reports queued audio
func (c *Clocked) Latency() float64 { return c.queue.Latency() }

// Close stops the clock and releases queued buffers
func (c *Clocked) Close() error {
	c.mu.Lock()
	select {
	case <-c.done:
	default:
		close(c.done)
	}
	c.mu.Unlock()

	c.wg.Wait()
	c.queue.Flush()
	return nil
}
