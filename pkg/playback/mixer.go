// ABOUTME: Mixer sums per-player inputs into one output with linear fade envelopes
// ABOUTME: Envelopes advance in mixed frames so fades stay deterministic under load
package playback

import (
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Resonate-Protocol/resonate-engine/pkg/audio"
	"github.com/Resonate-Protocol/resonate-engine/pkg/audio/output"
)

const (
	// DefaultMixHeadroom is how far the summed gains may exceed 1 before a
	// frame is normalised
	DefaultMixHeadroom = 0.01

	// DefaultMixChunkFrames is the number of frames mixed per output buffer
	DefaultMixChunkFrames = 1024

	mixerRetryInterval = 10 * time.Millisecond
)

// fade is one transition shared by every envelope it retargeted. It starts
// once its incoming input has audio, so incoming and outgoing ramps stay
// aligned frame for frame.
type fade struct {
	window   time.Duration
	incoming *MixerInput
	start    int64 // first mixed frame, -1 until started
	length   int64
}

type envelope struct {
	from, to float64
	fade     *fade
}

func (e envelope) gainAt(frame int64) float64 {
	if e.fade == nil {
		return e.to
	}
	if e.fade.start < 0 {
		return e.from
	}
	if e.fade.length <= 0 {
		return e.to
	}
	x := float64(frame-e.fade.start) / float64(e.fade.length)
	if x <= 0 {
		return e.from
	}
	if x >= 1 {
		return e.to
	}
	return e.from + (e.to-e.from)*x
}

func (e envelope) done(frame int64) bool {
	return e.fade == nil || (e.fade.start >= 0 && frame >= e.fade.start+e.fade.length)
}

// Mixer owns the real output and mixes every attached input into it
type Mixer struct {
	chunkFrames int
	headroom    float64

	mu       sync.Mutex
	out      output.Output
	inputs   []*MixerInput
	fades    []*fade
	rate     int
	channels int
	mixed    int64
	gen      int
	free     []*audio.Buffer
	closed   bool

	notifyCh chan struct{}
	done     chan struct{}
	exited   chan struct{}
}

// MixerConfig holds mixer configuration
type MixerConfig struct {
	// Headroom is how far summed gains may exceed 1 (default: 0.01)
	Headroom float64

	// ChunkFrames is the size of each mixed buffer (default: 1024)
	ChunkFrames int
}

// NewMixer creates a mixer writing to out and starts its goroutine
func NewMixer(out output.Output, config MixerConfig) *Mixer {
	if config.Headroom <= 0 {
		config.Headroom = DefaultMixHeadroom
	}
	if config.ChunkFrames <= 0 {
		config.ChunkFrames = DefaultMixChunkFrames
	}
	m := &Mixer{
		chunkFrames: config.ChunkFrames,
		headroom:    config.Headroom,
		out:         out,
		notifyCh:    make(chan struct{}, 1),
		done:        make(chan struct{}),
		exited:      make(chan struct{}),
	}
	go m.run()
	return m
}

// NewInput creates a detached input. It accepts audio right away but is
// only mixed once attached by Crossfade.
func (m *Mixer) NewInput(name string) *MixerInput {
	in := &MixerInput{
		mixer: m,
		name:  name,
		queue: output.NewQueue(output.DefaultQueueDuration),
		env:   envelope{to: 1},
	}
	m.mu.Lock()
	if m.rate > 0 {
		in.queue.SetFormat(m.rate, m.channels)
		in.formatSet = true
	}
	m.mu.Unlock()
	return in
}

// Crossfade attaches incoming and ramps it from 0 to 1 over window while
// every other attached input ramps from its current gain to 0 over the same
// frames. The gains keep summing to what they summed to before, at most 1.
// onFaded runs for each input that reached 0; the input is already detached.
func (m *Mixer) Crossfade(incoming *MixerInput, window time.Duration, onFaded func(*MixerInput)) {
	m.mu.Lock()
	f := &fade{window: window, incoming: incoming, start: -1}
	for _, in := range m.inputs {
		if in == incoming {
			continue
		}
		in.env = envelope{from: in.env.gainAt(m.mixed), to: 0, fade: f}
		in.onFaded = onFaded
	}
	incoming.env = envelope{from: 0, to: 1, fade: f}
	if window <= 0 {
		incoming.env = envelope{to: 1}
	}
	if !slices.Contains(m.inputs, incoming) {
		m.inputs = append(m.inputs, incoming)
	}
	m.fades = append(m.fades, f)
	m.mu.Unlock()

	log.Debug().Str("input", incoming.name).Dur("window", window).Msg("crossfade scheduled")
	m.notify()
}

// FadeOut ramps every attached input to 0 over window
func (m *Mixer) FadeOut(window time.Duration, onFaded func(*MixerInput)) {
	m.mu.Lock()
	f := &fade{window: window, start: -1}
	for _, in := range m.inputs {
		in.env = envelope{from: in.env.gainAt(m.mixed), to: 0, fade: f}
		in.onFaded = onFaded
	}
	m.fades = append(m.fades, f)
	m.mu.Unlock()
	m.notify()
}

// Remove detaches in and releases its queued buffers
func (m *Mixer) Remove(in *MixerInput) {
	m.mu.Lock()
	m.inputs = slices.DeleteFunc(m.inputs, func(i *MixerInput) bool { return i == in })
	m.mu.Unlock()

	in.queue.Flush()
	m.notify()
}

// Flush detaches every input, releases their buffers and stops the output
func (m *Mixer) Flush() {
	m.mu.Lock()
	inputs := m.inputs
	m.inputs = nil
	m.fades = nil
	m.gen++
	out := m.out
	m.mu.Unlock()

	for _, in := range inputs {
		in.queue.Flush()
	}
	out.Stop()
	m.notify()
}

// SetOutput replaces the output; the caller closes the old one
func (m *Mixer) SetOutput(out output.Output) {
	m.mu.Lock()
	m.out = out
	m.gen++
	m.mu.Unlock()
	m.notify()
}

// Output returns the output the mixer writes to
func (m *Mixer) Output() output.Output {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.out
}

// Inputs returns the number of attached inputs
func (m *Mixer) Inputs() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inputs)
}

// GainSum returns the sum of the attached inputs' gains at the next frame
func (m *Mixer) GainSum() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var sum float64
	for _, in := range m.inputs {
		sum += in.env.gainAt(m.mixed)
	}
	return sum
}

// Close stops the mixer goroutine and releases every queued buffer
func (m *Mixer) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	close(m.done)
	m.mu.Unlock()

	<-m.exited
	m.Flush()
}

// OnBufferProcessed takes mixed buffers back from the output
func (m *Mixer) OnBufferProcessed(buf *audio.Buffer) {
	m.mu.Lock()
	m.free = append(m.free, buf)
	m.mu.Unlock()
	m.notify()
}

func (m *Mixer) notify() {
	select {
	case m.notifyCh <- struct{}{}:
	default:
	}
}

// adoptFormat fixes the mixer format from the first buffer any input sees
func (m *Mixer) adoptFormat(in *MixerInput, buf *audio.Buffer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if in.formatSet {
		return
	}
	if m.rate == 0 {
		m.rate = buf.SampleRate()
		m.channels = buf.Channels()
		log.Debug().Int("rate", m.rate).Int("channels", m.channels).Msg("mixer format set")
	}
	in.queue.SetFormat(m.rate, m.channels)
	in.formatSet = true
}

func (m *Mixer) run() {
	defer close(m.exited)

	var scratch, sum []float32
	var gains []float64
	for {
		if !m.waitReady() {
			return
		}

		m.mu.Lock()
		frames := m.chunkFrames
		channels := m.channels
		rate := m.rate
		base := m.mixed
		gen := m.gen
		inputs := make([]*MixerInput, 0, len(m.inputs))
		envs := make([]envelope, 0, len(m.inputs))
		for _, in := range m.inputs {
			if in.queue.Paused() {
				continue
			}
			inputs = append(inputs, in)
		}
		m.startFades(base)
		for _, in := range inputs {
			envs = append(envs, in.env)
		}
		m.mu.Unlock()

		n := frames * channels
		if cap(scratch) < n {
			scratch = make([]float32, n)
			sum = make([]float32, n)
			gains = make([]float64, frames)
		}
		scratch, sum, gains = scratch[:n], sum[:n], gains[:frames]
		clear(sum)
		clear(gains)

		for i, in := range inputs {
			if in.queue.Pull(scratch) == 0 {
				continue
			}
			env := envs[i]
			for f := 0; f < frames; f++ {
				g := env.gainAt(base + int64(f))
				gains[f] += g
				gf := float32(g)
				for c := 0; c < channels; c++ {
					sum[f*channels+c] += scratch[f*channels+c] * gf
				}
			}
		}

		for f, g := range gains {
			if g > 1+m.headroom {
				scale := float32(1 / g)
				for c := 0; c < channels; c++ {
					sum[f*channels+c] *= scale
				}
			}
		}

		faded, onFaded := m.advance(base + int64(frames))
		for i, in := range faded {
			in.queue.Flush()
			if onFaded[i] != nil {
				onFaded[i](in)
			}
		}

		m.mu.Lock()
		stale := m.gen != gen
		var buf *audio.Buffer
		if k := len(m.free); k > 0 {
			buf = m.free[k-1]
			m.free = m.free[:k-1]
		}
		m.mu.Unlock()
		if stale {
			continue
		}
		if buf == nil {
			buf = audio.NewBuffer(n)
		}
		buf.SetFormat(rate, channels)
		copy(buf.Resize(n), sum)
		buf.SetPosition(float64(base) / float64(rate))

		if !m.send(buf, gen) {
			return
		}
	}
}

// startFades starts every fade whose incoming input has audio (must hold m.mu)
func (m *Mixer) startFades(frame int64) {
	for _, f := range m.fades {
		if f.start >= 0 {
			continue
		}
		if f.incoming != nil && slices.Contains(m.inputs, f.incoming) &&
			f.incoming.queue.Available() == 0 && !f.incoming.queue.Drained() {
			continue
		}
		f.start = frame
		f.length = int64(f.window.Seconds() * float64(m.rate))
	}
}

// advance moves the mix clock and detaches inputs whose fade reached 0
func (m *Mixer) advance(frame int64) ([]*MixerInput, []func(*MixerInput)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.mixed = frame
	var faded []*MixerInput
	var callbacks []func(*MixerInput)
	kept := m.inputs[:0]
	for _, in := range m.inputs {
		if in.env.fade != nil && in.env.done(frame) {
			if in.env.to == 0 {
				faded = append(faded, in)
				callbacks = append(callbacks, in.onFaded)
				continue
			}
			in.env = envelope{to: in.env.to}
		}
		kept = append(kept, in)
	}
	clear(m.inputs[len(kept):])
	m.inputs = kept

	m.fades = slices.DeleteFunc(m.fades, func(f *fade) bool {
		return f.start >= 0 && frame >= f.start+f.length
	})
	return faded, callbacks
}

// waitReady blocks until there is something to mix. It waits up to one
// chunk for slow inputs before mixing what is there.
func (m *Mixer) waitReady() bool {
	var timeout <-chan time.Time
	for {
		m.mu.Lock()
		ready, complete := m.readiness()
		chunk := time.Duration(0)
		if m.rate > 0 {
			chunk = time.Duration(float64(m.chunkFrames) / float64(m.rate) * float64(time.Second))
		}
		m.mu.Unlock()

		if ready && complete {
			return true
		}
		if ready && timeout == nil {
			t := time.NewTimer(chunk)
			defer t.Stop()
			timeout = t.C
		}

		select {
		case <-m.done:
			return false
		case <-m.notifyCh:
		case <-timeout:
			return true
		}
	}
}

// readiness must be called with m.mu held
func (m *Mixer) readiness() (ready, complete bool) {
	if m.rate == 0 {
		return false, false
	}
	need := m.chunkFrames * m.channels
	complete = true
	for _, in := range m.inputs {
		if in.queue.Paused() {
			continue
		}
		avail := in.queue.Available()
		if avail > 0 {
			ready = true
		}
		if avail < need && !in.queue.Drained() {
			complete = false
		}
	}
	return ready, complete
}

// send offers buf to the output until accepted or the mix was flushed
func (m *Mixer) send(buf *audio.Buffer, gen int) bool {
	for {
		m.mu.Lock()
		out := m.out
		stale := m.gen != gen
		m.mu.Unlock()
		if stale {
			m.OnBufferProcessed(buf)
			return true
		}

		err := out.Play(buf, m)
		if err == nil {
			return true
		}
		if !errors.Is(err, output.ErrBufferFull) {
			log.Error().Err(err).Str("output", out.Name()).Msg("mixer output failed")
			m.OnBufferProcessed(buf)
			return true
		}

		t := time.NewTimer(mixerRetryInterval)
		select {
		case <-m.done:
			t.Stop()
			return false
		case <-m.notifyCh:
		case <-t.C:
		}
		t.Stop()
	}
}

// MixerInput is the output a crossfaded player writes to
type MixerInput struct {
	mixer *Mixer
	name  string
	queue *output.Queue

	// guarded by mixer.mu
	env       envelope
	onFaded   func(*MixerInput)
	formatSet bool
}

// Name identifies the input
func (in *MixerInput) Name() string { return "mixer:" + in.name }

// Play queues a buffer for mixing
func (in *MixerInput) Play(buf *audio.Buffer, provider output.BufferProvider) error {
	in.mixer.adoptFormat(in, buf)
	if err := in.queue.Push(buf, provider); err != nil {
		return err
	}
	in.mixer.notify()
	return nil
}

// Pause excludes the input from the mix
func (in *MixerInput) Pause() {
	in.queue.SetPaused(true)
	in.mixer.notify()
}

// Resume includes the input in the mix again
func (in *MixerInput) Resume() {
	in.queue.SetPaused(false)
	in.mixer.notify()
}

// Stop releases queued buffers
func (in *MixerInput) Stop() {
	in.queue.Flush()
	in.mixer.notify()
}

// Drain marks the end of the input's audio
func (in *MixerInput) Drain() {
	in.queue.Drain()
	in.mixer.notify()
}

// SetVolume sets the input's own volume
func (in *MixerInput) SetVolume(volume float64) { in.queue.SetVolume(volume) }

// Volume returns the input's own volume
func (in *MixerInput) Volume() float64 { return in.queue.Volume() }

// Latency includes the mixer's output
func (in *MixerInput) Latency() float64 {
	return in.queue.Latency() + in.mixer.Output().Latency()
}

// Gain returns the input's current envelope gain
func (in *MixerInput) Gain() float64 {
	in.mixer.mu.Lock()
	defer in.mixer.mu.Unlock()
	return in.env.gainAt(in.mixer.mixed)
}

// Close detaches the input
func (in *MixerInput) Close() error {
	in.mixer.Remove(in)
	return nil
}
