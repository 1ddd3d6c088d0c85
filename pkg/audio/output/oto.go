// ABOUTME: Oto-based audio output implementation
// ABOUTME: Streams the buffer queue as 16-bit PCM through a persistent oto player
package output

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/ebitengine/oto/v3"
	"github.com/rs/zerolog/log"

	"github.com/Resonate-Protocol/resonate-engine/pkg/audio"
)

// oto allows a single context per process
var (
	otoOnce     sync.Once
	otoContext  *oto.Context
	otoErr      error
	otoRate     int
	otoChannels int
)

func sharedOtoContext(sampleRate, channels int) (*oto.Context, error) {
	otoOnce.Do(func() {
		ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   sampleRate,
			ChannelCount: channels,
			Format:       oto.FormatSignedInt16LE,
		})
		if err != nil {
			otoErr = err
			return
		}
		<-ready
		otoContext = ctx
		otoRate = sampleRate
		otoChannels = channels
		log.Info().Int("rate", sampleRate).Int("channels", channels).Msg("oto context initialized")
	})
	return otoContext, otoErr
}

// Oto output implementation using oto library
type Oto struct {
	mu     sync.Mutex
	queue  *Queue
	player *oto.Player
	reader *otoReader
	paused bool
	closed bool
}

// NewOto creates a new Oto output
func NewOto() Output {
	return &Oto{queue: NewQueue(DefaultQueueDuration)}
}

// Name identifies the backend
func (o *Oto) Name() string { return "oto" }

// open creates the player on first use. The process-wide context keeps the
// format of the first stream; other formats are converted.
func (o *Oto) open(buf *audio.Buffer) error {
	if o.player != nil {
		return nil
	}
	if o.closed {
		return fmt.Errorf("%w: oto output closed", audio.ErrOutput)
	}

	ctx, err := sharedOtoContext(buf.SampleRate(), buf.Channels())
	if err != nil {
		return fmt.Errorf("%w: failed to create oto context: %w", audio.ErrOutput, err)
	}
	if otoRate != buf.SampleRate() || otoChannels != buf.Channels() {
		log.Warn().
			Int("rate", buf.SampleRate()).Int("channels", buf.Channels()).
			Int("device_rate", otoRate).Int("device_channels", otoChannels).
			Msg("format differs from oto context, converting")
	}

	o.queue.SetFormat(otoRate, otoChannels)
	o.reader = &otoReader{queue: o.queue}
	o.player = ctx.NewPlayer(o.reader)
	if !o.paused {
		o.player.Play()
	}
	return nil
}

// Play queues a buffer
func (o *Oto) Play(buf *audio.Buffer, provider BufferProvider) error {
	o.mu.Lock()
	err := o.open(buf)
	o.mu.Unlock()
	if err != nil {
		return err
	}
	return o.queue.Push(buf, provider)
}

// Pause suspends the device
func (o *Oto) Pause() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.paused = true
	o.queue.SetPaused(true)
	if o.player != nil {
		o.player.Pause()
	}
}

// Resume continues the device
func (o *Oto) Resume() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.paused = false
	o.queue.SetPaused(false)
	if o.player != nil {
		o.player.Play()
	}
}

// Stop discards queued audio
func (o *Oto) Stop() {
	o.queue.Flush()
}

// Drain marks the end of input
func (o *Oto) Drain() {
	o.queue.Drain()
}

// SetVolume sets the software volume
func (o *Oto) SetVolume(volume float64) {
	o.queue.SetVolume(volume)
}

// Volume returns the software volume
func (o *Oto) Volume() float64 {
	return o.queue.Volume()
}

// Latency includes audio already handed to oto
func (o *Oto) Latency() float64 {
	latency := o.queue.Latency()

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.player != nil && otoRate > 0 {
		latency += float64(o.player.BufferedSize()) / float64(otoRate*otoChannels*2)
	}
	return latency
}

// Close releases output resources; the process-wide context stays alive
func (o *Oto) Close() error {
	o.queue.Flush()

	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	if o.player != nil {
		err := o.player.Close()
		o.player = nil
		if err != nil {
			return fmt.Errorf("%w: %w", audio.ErrOutput, err)
		}
	}
	return nil
}

// otoReader feeds oto from the queue and never reports EOF
type otoReader struct {
	queue   *Queue
	scratch []float32
}

func (r *otoReader) Read(p []byte) (int, error) {
	n := len(p) / 2
	if cap(r.scratch) < n {
		r.scratch = make([]float32, n)
	}
	samples := r.scratch[:n]
	r.queue.Pull(samples)

	for i, s := range samples {
		binary.LittleEndian.PutUint16(p[i*2:], uint16(audio.FloatToInt16(s)))
	}
	return n * 2, nil
}
