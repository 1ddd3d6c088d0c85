// ABOUTME: Malgo-based audio output implementation
// ABOUTME: Uses miniaudio via malgo with a callback that pulls from the buffer queue
package output

import (
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/rs/zerolog/log"

	"github.com/Resonate-Protocol/resonate-engine/pkg/audio"
)

// Malgo output implementation using malgo/miniaudio library
type Malgo struct {
	mu         sync.Mutex
	malgoCtx   *malgo.AllocatedContext
	device     *malgo.Device
	queue      *Queue
	sampleRate int
	channels   int
	paused     bool

	// only touched from the device callback
	scratch []float32
}

// NewMalgo creates a new Malgo output
func NewMalgo() Output {
	return &Malgo{queue: NewQueue(DefaultQueueDuration)}
}

// Name identifies the backend
func (m *Malgo) Name() string { return "malgo" }

// open initializes the device for the format of the first buffer (must hold m.mu)
func (m *Malgo) open(sampleRate, channels int) error {
	if m.device != nil {
		return nil
	}

	if m.malgoCtx == nil {
		ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
		if err != nil {
			return fmt.Errorf("%w: failed to initialize malgo context: %w", audio.ErrOutput, err)
		}
		m.malgoCtx = ctx
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = uint32(channels)
	deviceConfig.SampleRate = uint32(sampleRate)
	deviceConfig.Alsa.NoMMap = 1

	callbacks := malgo.DeviceCallbacks{
		Data: func(pOutput, _ []byte, frameCount uint32) {
			m.dataCallback(pOutput, frameCount)
		},
	}

	m.queue.SetFormat(sampleRate, channels)
	m.sampleRate = sampleRate
	m.channels = channels

	device, err := malgo.InitDevice(m.malgoCtx.Context, deviceConfig, callbacks)
	if err != nil {
		return fmt.Errorf("%w: failed to initialize playback device: %w", audio.ErrOutput, err)
	}
	if !m.paused {
		if err := device.Start(); err != nil {
			device.Uninit()
			return fmt.Errorf("%w: failed to start device: %w", audio.ErrOutput, err)
		}
	}
	m.device = device

	log.Info().Int("rate", sampleRate).Int("channels", channels).Msg("audio output initialized (malgo/S16)")
	return nil
}

// Play queues a buffer
func (m *Malgo) Play(buf *audio.Buffer, provider BufferProvider) error {
	m.mu.Lock()
	err := m.open(buf.SampleRate(), buf.Channels())
	m.mu.Unlock()
	if err != nil {
		return err
	}
	return m.queue.Push(buf, provider)
}

// dataCallback is called by malgo to fill the audio output buffer
func (m *Malgo) dataCallback(pOutput []byte, frameCount uint32) {
	n := int(frameCount) * m.channels
	if cap(m.scratch) < n {
		m.scratch = make([]float32, n)
	}
	samples := m.scratch[:n]
	m.queue.Pull(samples)

	for i, s := range samples {
		v := audio.FloatToInt16(s)
		pOutput[i*2] = byte(v)
		pOutput[i*2+1] = byte(v >> 8)
	}
}

// Pause stops the device
func (m *Malgo) Pause() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paused = true
	m.queue.SetPaused(true)
	if m.device != nil {
		if err := m.device.Stop(); err != nil {
			log.Warn().Err(err).Msg("device stop error")
		}
	}
}

// Resume restarts the device
func (m *Malgo) Resume() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paused = false
	m.queue.SetPaused(false)
	if m.device != nil {
		if err := m.device.Start(); err != nil {
			log.Warn().Err(err).Msg("device start error")
		}
	}
}

// Stop discards queued audio
func (m *Malgo) Stop() {
	m.queue.Flush()
}

// Drain marks the end of input
func (m *Malgo) Drain() {
	m.queue.Drain()
}

// SetVolume sets the software volume
func (m *Malgo) SetVolume(volume float64) {
	m.queue.SetVolume(volume)
}

// Volume returns the software volume
func (m *Malgo) Volume() float64 {
	return m.queue.Volume()
}

// Latency reports queued audio
func (m *Malgo) Latency() float64 {
	return m.queue.Latency()
}

// Close releases output resources
func (m *Malgo) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.device != nil {
		if err := m.device.Stop(); err != nil {
			log.Warn().Err(err).Msg("device stop error")
		}
		m.device.Uninit()
		m.device = nil
	}
	m.queue.Flush()

	if m.malgoCtx != nil {
		if err := m.malgoCtx.Uninit(); err != nil {
			log.Warn().Err(err).Msg("malgo context uninit error")
		}
		m.malgoCtx.Free()
		m.malgoCtx = nil
	}
	return nil
}
