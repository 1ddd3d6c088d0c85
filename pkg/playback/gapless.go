// ABOUTME: Gapless transport: the next track queues directly behind the current one
// ABOUTME: One shared output, an active player, a staged next player and draining tails
package playback

import (
	"fmt"
	"slices"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/Resonate-Protocol/resonate-engine/pkg/audio"
	"github.com/Resonate-Protocol/resonate-engine/pkg/audio/output"
)

// GaplessTransport plays tracks back to back on one output. When the active
// player has decoded its last buffer, the staged next player starts so its
// buffers queue right behind; the old player stays alive until its tail has
// played.
type GaplessTransport struct {
	emitter
	config TransportConfig

	mu           sync.Mutex
	out          output.Output
	active       *Player
	next         *Player
	draining     []*Player
	nextCanStart bool
	state        PlaybackState
	volume       float64
	muted        bool
}

// NewGaplessTransport creates a gapless transport
func NewGaplessTransport(config TransportConfig) *GaplessTransport {
	config = config.withDefaults()
	// the swap happens when decoding ends, not ahead of it
	config.Player.AlmostDoneLead = 0

	t := &GaplessTransport{
		config: config,
		out:    config.Output,
		volume: config.Volume,
		state:  PlaybackStopped,
	}
	t.out.SetVolume(t.volume)
	return t
}

func (t *GaplessTransport) newPlayer() *Player {
	t.mu.Lock()
	out := t.out
	t.mu.Unlock()
	return NewPlayer(t.config.Player, out, t)
}

// Start opens uri and makes it the active track, replacing whatever played
func (t *GaplessTransport) Start(uri string, gain Gain, mode StartMode) error {
	log.Info().Str("uri", uri).Msg("starting track")

	p := t.newPlayer()
	if err := p.Start(uri, gain, StartStaged); err != nil {
		t.streamEvent(StreamError, uri)
		return err
	}
	t.startWithPlayer(p, mode, false)
	return nil
}

// startWithPlayer makes p active. playingNext is set for an automatic
// transition: the old player's queued audio keeps playing ahead of p's.
func (t *GaplessTransport) startWithPlayer(p *Player, mode StartMode, playingNext bool) {
	t.mu.Lock()
	var stale []*Player
	if t.active != nil && t.active != p {
		if playingNext {
			t.draining = append(t.draining, t.active)
		} else {
			stale = append(stale, t.active)
		}
	}
	if t.next != nil && t.next != p {
		stale = append(stale, t.next)
	}
	if !playingNext {
		stale = append(stale, t.draining...)
		t.draining = nil
	}
	t.active = p
	t.next = nil
	t.nextCanStart = false
	paused := t.state == PlaybackPaused
	volume := t.effectiveVolume()
	out := t.out
	t.mu.Unlock()

	for _, old := range stale {
		old.Destroy(Flush)
	}
	p.SetVolume(volume)

	if !playingNext {
		// anything still queued belongs to a replaced track
		out.Stop()
		out.Resume()
		paused = false
	}

	t.streamEvent(StreamScheduled, p.URI())

	if mode == StartStaged {
		t.streamEvent(StreamPrepared, p.URI())
		t.setState(PlaybackPrepared)
		return
	}

	p.Play()
	if paused {
		p.Pause()
		return
	}
	t.setState(PlaybackPlaying)
}

// PrepareNextTrack stages uri to follow the active track. An empty uri
// clears the staged track.
func (t *GaplessTransport) PrepareNextTrack(uri string, gain Gain) error {
	if uri == "" {
		t.mu.Lock()
		old := t.next
		t.next = nil
		t.mu.Unlock()
		if old != nil {
			old.Destroy(NoFlush)
		}
		return nil
	}

	p := t.newPlayer()
	if err := p.Start(uri, gain, StartStaged); err != nil {
		t.streamEvent(StreamError, uri)
		return err
	}

	t.mu.Lock()
	old := t.next
	t.next = p
	startNow := t.nextCanStart && t.active != nil
	t.mu.Unlock()

	if old != nil {
		old.Destroy(NoFlush)
	}
	if startNow {
		t.startWithPlayer(p, StartImmediate, true)
	}
	return nil
}

// OnPlayerEvent reacts to the transport's players
func (t *GaplessTransport) OnPlayerEvent(p *Player, ev PlayerEvent) {
	t.mu.Lock()
	isActive := p == t.active
	isNext := p == t.next
	isDraining := slices.Contains(t.draining, p)
	t.mu.Unlock()

	switch ev.Type {
	case EventOpened:
		t.streamEvent(StreamOpened, ev.URI)

	case EventStarted, EventTrackChanged:
		if isActive {
			if ev.Type == EventStarted {
				t.finishDraining()
			}
			t.streamEvent(StreamPlaying, ev.URI)
		}

	case EventBufferProcessed:
		if isActive || isDraining {
			t.timeChanged(ev.Position)
		}

	case EventAlmostDone:
		if isActive {
			t.streamEvent(StreamAlmostDone, ev.URI)
			t.onAlmostDone(p)
		}

	case EventFinished:
		switch {
		case isDraining:
			if t.removeDraining(p) {
				t.streamEvent(StreamFinished, ev.URI)
			}
			p.Destroy(NoFlush)
		case isActive:
			t.onActiveFinished(p, ev.URI)
		}

	case EventError:
		switch {
		case isActive:
			t.mu.Lock()
			if t.active == p {
				t.active = nil
			}
			t.mu.Unlock()
			p.Destroy(Flush)
			t.streamEvent(StreamError, ev.URI)
			t.setState(PlaybackStopped)
		case isNext:
			t.mu.Lock()
			if t.next == p {
				t.next = nil
			}
			t.mu.Unlock()
			p.Destroy(NoFlush)
			t.streamEvent(StreamError, ev.URI)
		case isDraining:
			if t.removeDraining(p) {
				t.streamEvent(StreamError, ev.URI)
			}
			p.Destroy(NoFlush)
		}
	}
}

// onAlmostDone starts the staged player, or remembers that it may start as
// soon as one is prepared
func (t *GaplessTransport) onAlmostDone(p *Player) {
	t.mu.Lock()
	if t.active != p {
		t.mu.Unlock()
		return
	}
	next := t.next
	if next == nil {
		t.nextCanStart = true
	}
	t.mu.Unlock()

	if next != nil {
		t.startWithPlayer(next, StartImmediate, true)
	}
}

func (t *GaplessTransport) onActiveFinished(p *Player, uri string) {
	t.mu.Lock()
	if t.active != p {
		t.mu.Unlock()
		return
	}
	next := t.next
	t.active = nil
	if next == nil {
		t.nextCanStart = false
	}
	t.mu.Unlock()

	t.streamEvent(StreamFinished, uri)
	if next != nil {
		t.startWithPlayer(next, StartImmediate, true)
		p.Destroy(NoFlush)
		return
	}
	p.Destroy(NoFlush)
	t.setState(PlaybackStopped)
}

// removeDraining reports whether p was still draining
func (t *GaplessTransport) removeDraining(p *Player) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := len(t.draining)
	t.draining = slices.DeleteFunc(t.draining, func(d *Player) bool { return d == p })
	return len(t.draining) != n
}

// finishDraining reports the end of every draining track. It runs when the
// active player's first buffer played, so all audio queued ahead of it has
// played too.
func (t *GaplessTransport) finishDraining() {
	t.mu.Lock()
	tails := t.draining
	t.draining = nil
	t.mu.Unlock()

	for _, d := range tails {
		t.streamEvent(StreamFinished, d.URI())
		d.Destroy(NoFlush)
	}
}

// Stop flushes the output and tears down every player
func (t *GaplessTransport) Stop() {
	t.mu.Lock()
	players := append([]*Player{t.active, t.next}, t.draining...)
	uri := ""
	if t.active != nil {
		uri = t.active.URI()
	}
	t.active = nil
	t.next = nil
	t.draining = nil
	t.nextCanStart = false
	out := t.out
	t.mu.Unlock()

	for _, p := range players {
		if p != nil {
			p.Destroy(Flush)
		}
	}
	out.Stop()
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

// Pause pauses the output and the active player
func (t *GaplessTransport) Pause() bool {
	t.mu.Lock()
	active := t.active
	playing := t.state == PlaybackPlaying
	out := t.out
	t.mu.Unlock()

	if active == nil || !playing {
		return false
	}
	out.Pause()
	active.Pause()
	t.setState(PlaybackPaused)
	return true
}

// Resume continues a paused transport
func (t *GaplessTransport) Resume() bool {
	t.mu.Lock()
	active := t.active
	state := t.state
	out := t.out
	t.mu.Unlock()

	if active == nil {
		return false
	}
	switch state {
	case PlaybackPaused:
		out.Resume()
		active.Resume()
	case PlaybackPrepared:
		out.Resume()
		active.Play()
	default:
		return false
	}
	t.setState(PlaybackPlaying)
	return true
}

// Position returns the active track's position
func (t *GaplessTransport) Position() float64 {
	t.mu.Lock()
	active := t.active
	t.mu.Unlock()
	if active == nil {
		return 0
	}
	return active.Position()
}

// SetPosition seeks the active track
func (t *GaplessTransport) SetPosition(seconds float64) (float64, error) {
	t.mu.Lock()
	active := t.active
	t.mu.Unlock()
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
func (t *GaplessTransport) Duration() float64 {
	t.mu.Lock()
	active := t.active
	t.mu.Unlock()
	if active == nil {
		return -1
	}
	return active.Duration()
}

// URI returns the active track's URI
func (t *GaplessTransport) URI() string {
	t.mu.Lock()
	active := t.active
	t.mu.Unlock()
	if active == nil {
		return ""
	}
	return active.URI()
}

// Volume returns the volume, unaffected by mute
func (t *GaplessTransport) Volume() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.volume
}

// SetVolume sets the volume, clamped to [0, 1]. Changing it unmutes.
func (t *GaplessTransport) SetVolume(volume float64) {
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
func (t *GaplessTransport) IsMuted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.muted
}

// SetMuted mutes or unmutes without touching the volume
func (t *GaplessTransport) SetMuted(muted bool) {
	t.mu.Lock()
	changed := t.muted != muted
	t.muted = muted
	t.mu.Unlock()

	if changed {
		t.applyVolume()
		t.volumeChanged()
	}
}

// effectiveVolume must be called with t.mu held
func (t *GaplessTransport) effectiveVolume() float64 {
	if t.muted {
		return 0
	}
	return t.volume
}

func (t *GaplessTransport) applyVolume() {
	t.mu.Lock()
	volume := t.effectiveVolume()
	active := t.active
	out := t.out
	t.mu.Unlock()

	if active != nil {
		active.SetVolume(volume)
		return
	}
	out.SetVolume(volume)
}

// ReloadOutput replaces the output and restarts the active track where it was
func (t *GaplessTransport) ReloadOutput() error {
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

	t.Stop()

	if t.config.NewOutput != nil {
		t.mu.Lock()
		old := t.out
		t.out = t.config.NewOutput()
		t.mu.Unlock()
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
func (t *GaplessTransport) PlaybackState() PlaybackState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Output returns the shared output
func (t *GaplessTransport) Output() output.Output {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.out
}

func (t *GaplessTransport) setOutput(out output.Output) {
	t.mu.Lock()
	t.out = out
	t.mu.Unlock()
	t.applyVolume()
}

// Close stops playback
func (t *GaplessTransport) Close() error {
	t.Stop()
	return nil
}

func (t *GaplessTransport) setState(state PlaybackState) {
	t.mu.Lock()
	changed := t.state != state
	t.state = state
	t.mu.Unlock()

	if changed {
		t.playbackEvent(state)
	}
}
