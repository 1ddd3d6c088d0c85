// ABOUTME: Crossfade transport: overlapping tracks mixed with linear envelopes
// ABOUTME: Each player writes to its own mixer input; the mixer owns the device output
package playback

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Resonate-Protocol/resonate-engine/pkg/audio"
	"github.com/Resonate-Protocol/resonate-engine/pkg/audio/output"
)

// CrossfadeTransport overlaps consecutive tracks. Starting a track fades in
// the new one while everything audible fades out over the same window. A
// prepared next track is started when the active one is almost done.
type CrossfadeTransport struct {
	emitter
	config TransportConfig
	mixer  *Mixer

	mu           sync.Mutex
	out          output.Output
	active       *Player
	next         *Player
	fading       []*Player
	stopping     map[*Player]bool
	inputs       map[*Player]*MixerInput
	nextCanStart bool
	state        PlaybackState
	volume       float64
	muted        bool
}

// NewCrossfadeTransport creates a crossfade transport
func NewCrossfadeTransport(config TransportConfig) *CrossfadeTransport {
	config = config.withDefaults()
	config.Player.AlmostDoneLead = config.CrossfadeDuration

	t := &CrossfadeTransport{
		config:   config,
		out:      config.Output,
		mixer:    NewMixer(config.Output, MixerConfig{Headroom: config.MixHeadroom, ChunkFrames: config.MixChunkFrames}),
		stopping: make(map[*Player]bool),
		inputs:   make(map[*Player]*MixerInput),
		volume:   config.Volume,
		state:    PlaybackStopped,
	}
	t.out.SetVolume(t.volume)
	return t
}

// Mixer returns the transport's mixer
func (t *CrossfadeTransport) Mixer() *Mixer { return t.mixer }

func (t *CrossfadeTransport) newPlayer(uri string, gain Gain) (*Player, error) {
	in := t.mixer.NewInput(uri)
	p := NewPlayer(t.config.Player, in, t)

	t.mu.Lock()
	t.inputs[p] = in
	t.mu.Unlock()

	if err := p.Start(uri, gain, StartStaged); err != nil {
		t.forget(p)
		return nil, err
	}
	return p, nil
}

// forget detaches p's input and drops every reference to it
func (t *CrossfadeTransport) forget(p *Player) *MixerInput {
	t.mu.Lock()
	in := t.inputs[p]
	delete(t.inputs, p)
	delete(t.stopping, p)
	t.fading = slices.DeleteFunc(t.fading, func(f *Player) bool { return f == p })
	if t.active == p {
		t.active = nil
	}
	if t.next == p {
		t.next = nil
	}
	t.mu.Unlock()

	if in != nil {
		t.mixer.Remove(in)
	}
	return in
}

func (t *CrossfadeTransport) playerFor(in *MixerInput) *Player {
	t.mu.Lock()
	defer t.mu.Unlock()
	for p, i := range t.inputs {
		if i == in {
			return p
		}
	}
	return nil
}

// window is the overlap between old and p: the configured duration,
// shortened to what is left of old and to the length of p
func (t *CrossfadeTransport) window(old, p *Player) time.Duration {
	w := t.config.CrossfadeDuration.Seconds()
	if old != nil {
		if d := old.Duration(); d > 0 {
			w = min(w, max(d-old.Position(), 0))
		}
	}
	if d := p.Duration(); d > 0 {
		w = min(w, d)
	}
	return time.Duration(w * float64(time.Second))
}

// Start opens uri and fades it in over whatever is playing
func (t *CrossfadeTransport) Start(uri string, gain Gain, mode StartMode) error {
	log.Info().Str("uri", uri).Msg("starting track")

	p, err := t.newPlayer(uri, gain)
	if err != nil {
		t.streamEvent(StreamError, uri)
		return err
	}

	t.mu.Lock()
	old := t.active
	stale := t.next
	t.next = nil
	t.nextCanStart = false
	t.active = p
	if old != nil {
		t.fading = append(t.fading, old)
	}
	t.mu.Unlock()

	if stale != nil {
		stale.Destroy(Flush)
		t.forget(stale)
	}

	t.streamEvent(StreamScheduled, uri)

	if mode == StartStaged {
		t.mixer.FadeOut(t.window(old, p), t.onFaded)
		t.streamEvent(StreamPrepared, uri)
		t.setState(PlaybackPrepared)
		return nil
	}

	t.fadeIn(old, p)
	t.setState(PlaybackPlaying)
	return nil
}

// fadeIn makes p audible, fading out everything else
func (t *CrossfadeTransport) fadeIn(old, p *Player) {
	t.mu.Lock()
	in := t.inputs[p]
	paused := t.state == PlaybackPaused
	out := t.out
	fading := slices.Clone(t.fading)
	t.mu.Unlock()
	if in == nil {
		return
	}

	window := t.window(old, p)
	if old == nil && len(fading) == 0 {
		// nothing to fade from
		window = 0
	}
	log.Debug().Str("uri", p.URI()).Dur("window", window).Msg("crossfading")
	t.mixer.Crossfade(in, window, t.onFaded)
	p.Play()

	if paused {
		// tracks paused before the fade must play it out
		out.Resume()
		for _, f := range fading {
			f.Resume()
		}
	}
}

// PrepareNextTrack stages uri to be crossfaded in when the active track is
// almost done. An empty uri clears the staged track.
func (t *CrossfadeTransport) PrepareNextTrack(uri string, gain Gain) error {
	t.mu.Lock()
	old := t.next
	t.next = nil
	t.mu.Unlock()
	if old != nil {
		old.Destroy(Flush)
		t.forget(old)
	}
	if uri == "" {
		return nil
	}

	p, err := t.newPlayer(uri, gain)
	if err != nil {
		t.streamEvent(StreamError, uri)
		return err
	}

	t.mu.Lock()
	t.next = p
	startNow := t.nextCanStart && t.active != nil
	t.mu.Unlock()

	if startNow {
		t.promote()
	}
	return nil
}

// promote makes the staged track active and crossfades into it
func (t *CrossfadeTransport) promote() {
	t.mu.Lock()
	next := t.next
	if next == nil {
		t.mu.Unlock()
		return
	}
	old := t.active
	t.active = next
	t.next = nil
	t.nextCanStart = false
	if old != nil {
		t.fading = append(t.fading, old)
	}
	t.mu.Unlock()

	t.streamEvent(StreamScheduled, next.URI())
	t.fadeIn(old, next)
}

// onFaded runs on the mixer goroutine once an input's envelope reached 0
func (t *CrossfadeTransport) onFaded(in *MixerInput) {
	p := t.playerFor(in)
	if p == nil {
		return
	}

	t.mu.Lock()
	stopped := t.stopping[p]
	t.mu.Unlock()

	uri := p.URI()
	p.Destroy(Flush)
	t.forget(p)
	if !stopped {
		t.streamEvent(StreamFinished, uri)
	}
}

// OnPlayerEvent reacts to the transport's players
func (t *CrossfadeTransport) OnPlayerEvent(p *Player, ev PlayerEvent) {
	t.mu.Lock()
	isActive := p == t.active
	isNext := p == t.next
	isFading := slices.Contains(t.fading, p)
	t.mu.Unlock()

	switch ev.Type {
	case EventOpened:
		t.streamEvent(StreamOpened, ev.URI)

	case EventStarted, EventTrackChanged:
		if isActive {
			t.streamEvent(StreamPlaying, ev.URI)
		}

	case EventBufferProcessed:
		if isActive {
			t.timeChanged(ev.Position)
		}

	case EventAlmostDone:
		if !isActive {
			return
		}
		t.streamEvent(StreamAlmostDone, ev.URI)
		t.mu.Lock()
		hasNext := t.next != nil
		if !hasNext {
			t.nextCanStart = true
		}
		t.mu.Unlock()
		if hasNext {
			t.promote()
		}

	case EventFinished:
		if !isActive && !isFading {
			return
		}
		p.Destroy(NoFlush)
		t.forget(p)
		t.streamEvent(StreamFinished, ev.URI)
		if isActive {
			t.mu.Lock()
			idle := t.active == nil && len(t.fading) == 0
			t.mu.Unlock()
			if idle {
				t.setState(PlaybackStopped)
			}
		}

	case EventError:
		if !isActive && !isNext && !isFading {
			return
		}
		p.Destroy(Flush)
		t.forget(p)
		t.streamEvent(StreamError, ev.URI)
		if isActive {
			t.mu.Lock()
			idle := t.active == nil
			t.mu.Unlock()
			if idle {
				t.setState(PlaybackStopped)
			}
		}
	}
}

// Stop fades everything out. A paused transport stops immediately.
func (t *CrossfadeTransport) Stop() {
	t.mu.Lock()
	if t.state == PlaybackPaused || t.state == PlaybackPrepared {
		t.mu.Unlock()
		t.StopImmediately()
		return
	}
	active := t.active
	next := t.next
	t.active = nil
	t.next = nil
	t.nextCanStart = false
	if active != nil {
		t.fading = append(t.fading, active)
	}
	for _, f := range t.fading {
		t.stopping[f] = true
	}
	t.mu.Unlock()

	if next != nil {
		next.Destroy(Flush)
		t.forget(next)
	}
	t.mixer.FadeOut(t.config.CrossfadeDuration, t.onFaded)

	if active != nil {
		t.streamEvent(StreamStopped, active.URI())
	}
	t.setState(PlaybackStopped)
}

// StopImmediately flushes the mixer and the output and joins every player
func (t *CrossfadeTransport) StopImmediately() {
	t.mu.Lock()
	players := append([]*Player{t.active, t.next}, t.fading...)
	uri := ""
	if t.active != nil {
		uri = t.active.URI()
	}
	t.active = nil
	t.next = nil
	t.fading = nil
	t.nextCanStart = false
	clear(t.stopping)
	clear(t.inputs)
	out := t.out
	t.mu.Unlock()

	for _, p := range players {
		if p != nil {
			p.Destroy(Flush)
		}
	}
	t.mixer.Flush()
	out.Resume()
	for _, p := range players {
		if p != nil {
			p.Stop()
		}
	}

	if uri != "" {
		t.streamEvent(StreamStopped, uri)
	}
	t.setState(PlaybackStopped)
}

// Pause pauses the output and every audible player
func (t *CrossfadeTransport) Pause() bool {
	t.mu.Lock()
	if t.active == nil || t.state != PlaybackPlaying {
		t.mu.Unlock()
		return false
	}
	players := append([]*Player{t.active}, t.fading...)
	out := t.out
	t.mu.Unlock()

	out.Pause()
	for _, p := range players {
		p.Pause()
	}
	t.setState(PlaybackPaused)
	return true
}

// Resume continues a paused or prepared transport
func (t *CrossfadeTransport) Resume() bool {
	t.mu.Lock()
	active := t.active
	state := t.state
	players := slices.Clone(t.fading)
	out := t.out
	t.mu.Unlock()

	if active == nil {
		return false
	}
	switch state {
	case PlaybackPaused:
		out.Resume()
		active.Resume()
		for _, p := range players {
			p.Resume()
		}
	case PlaybackPrepared:
		out.Resume()
		t.fadeIn(nil, active)
	default:
		return false
	}
	t.setState(PlaybackPlaying)
	return true
}

// Position returns the active track's position
func (t *CrossfadeTransport) Position() float64 {
	if active := t.activePlayer(); active != nil {
		return active.Position()
	}
	return 0
}

// SetPosition seeks the active track
func (t *CrossfadeTransport) SetPosition(seconds float64) (float64, error) {
	active := t.activePlayer()
	if active == nil {
		return -1, fmt.Errorf("%w: nothing playing", audio.ErrSeekFailed)
	}
	position, err := active.SetPosition(seconds)
	if err != nil {
		return -1, err
	}
	t.timeChanged(position)
	return position, nil
}

// Duration returns the active track's duration, -1 when unknown
func (t *CrossfadeTransport) Duration() float64 {
	if active := t.activePlayer(); active != nil {
		return active.Duration()
	}
	return -1
}

// URI returns the active track's URI
func (t *CrossfadeTransport) URI() string {
	if active := t.activePlayer(); active != nil {
		return active.URI()
	}
	return ""
}

func (t *CrossfadeTransport) activePlayer() *Player {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// Volume returns the volume, unaffected by mute
func (t *CrossfadeTransport) Volume() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.volume
}

// SetVolume sets the master volume, clamped to [0, 1]. Changing it unmutes.
func (t *CrossfadeTransport) SetVolume(volume float64) {
	volume = clamp01(volume)

	t.mu.Lock()
	changed := t.volume != volume
	t.volume = volume
	if changed {
		t.muted = false
	}
	t.mu.Unlock()

	t.applyVolume()
	if changed {
		t.volumeChanged()
	}
}

// IsMuted reports the mute state
func (t *CrossfadeTransport) IsMuted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.muted
}

// SetMuted mutes or unmutes without touching the volume
func (t *CrossfadeTransport) SetMuted(muted bool) {
	t.mu.Lock()
	changed := t.muted != muted
	t.muted = muted
	t.mu.Unlock()

	if changed {
		t.applyVolume()
		t.volumeChanged()
	}
}

func (t *CrossfadeTransport) applyVolume() {
	t.mu.Lock()
	volume := t.volume
	if t.muted {
		volume = 0
	}
	out := t.out
	t.mu.Unlock()
	out.SetVolume(volume)
}

// ReloadOutput replaces the output and restarts the active track where it was
func (t *CrossfadeTransport) ReloadOutput() error {
	t.mu.Lock()
	active := t.active
	state := t.state
	t.mu.Unlock()

	var uri string
	var gain Gain
	var position float64
	if active != nil {
		uri, gain, position = active.URI(), active.Gain(), active.Position()
	}

	t.StopImmediately()

	if t.config.NewOutput != nil {
		t.mu.Lock()
		old := t.out
		t.out = t.config.NewOutput()
		out := t.out
		t.mu.Unlock()
		t.mixer.SetOutput(out)
		if err := old.Close(); err != nil {
			log.Warn().Err(err).Msg("closing replaced output")
		}
	}
	t.applyVolume()

	if uri == "" {
		return nil
	}
	if err := t.Start(uri, gain, StartImmediate); err != nil {
		return err
	}
	if position > 0 {
		if _, err := t.SetPosition(position); err != nil {
			log.Warn().Err(err).Msg("restoring position after output reload")
		}
	}
	if state == PlaybackPaused {
		t.Pause()
	}
	return nil
}

// PlaybackState returns the transport state
func (t *CrossfadeTransport) PlaybackState() PlaybackState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Output returns the device output
func (t *CrossfadeTransport) Output() output.Output {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.out
}

func (t *CrossfadeTransport) setOutput(out output.Output) {
	t.mu.Lock()
	t.out = out
	t.mu.Unlock()
	t.mixer.SetOutput(out)
	t.applyVolume()
}

// Close stops playback immediately and shuts the mixer down
func (t *CrossfadeTransport) Close() error {
	t.StopImmediately()
	t.mixer.Close()
	return nil
}

func (t *CrossfadeTransport) setState(state PlaybackState) {
	t.mu.Lock()
	changed := t.state != state
	t.state = state
	t.mu.Unlock()

	if changed {
		t.playbackEvent(state)
	}
}
