// ABOUTME: Playlist application driving a playback transport
// ABOUTME: Queues the next track as soon as the current one is audible
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/Resonate-Protocol/resonate-engine/pkg/playback"
)

// restartThreshold is how far into a track Prev restarts it instead of
// going back one entry
const restartThreshold = 3.0

// ErrEmptyPlaylist is returned when no track could be played
var ErrEmptyPlaylist = errors.New("playlist has no playable tracks")

// Switcher is implemented by transports that can change strategy at runtime
type Switcher interface {
	CurrentType() playback.TransportType
	SwitchTo(kind playback.TransportType) error
}

// Config holds playlist configuration
type Config struct {
	Tracks    []string
	Transport playback.Transport
	Gain      playback.Gain

	// Repeat wraps from the last track to the first
	Repeat bool

	// OnChange receives a snapshot after every batch of transport events
	OnChange func(Status)
}

// Status is a snapshot of the playlist and its transport
type Status struct {
	Index     int
	Count     int
	URI       string
	State     playback.PlaybackState
	Position  float64
	Duration  float64
	Volume    float64
	Muted     bool
	Transport string
	Repeat    bool
}

type event struct {
	stream bool
	kind   playback.StreamEventType
	uri    string
}

// Player plays a list of tracks on a transport
type Player struct {
	config Config
	tr     playback.Transport

	mu       sync.Mutex
	current  int
	prepared int
	gen      int
	ended    bool
	finished bool
	pending  []event

	signal chan struct{}
}

// New creates a playlist player
func New(config Config) (*Player, error) {
	if config.Transport == nil {
		return nil, fmt.Errorf("transport is required")
	}
	if len(config.Tracks) == 0 {
		return nil, ErrEmptyPlaylist
	}
	if config.Gain == (playback.Gain{}) {
		config.Gain = playback.UnityGain
	}

	return &Player{
		config:   config,
		tr:       config.Transport,
		prepared: -1,
		signal:   make(chan struct{}, 1),
	}, nil
}

// Run plays the playlist until it ends or ctx is cancelled
func (p *Player) Run(ctx context.Context) error {
	unsubscribe := p.tr.Subscribe(playback.ListenerFuncs{
		PlaybackEvent: func(playback.PlaybackState) { p.push(event{}) },
		StreamEvent: func(kind playback.StreamEventType, uri string) {
			p.push(event{stream: true, kind: kind, uri: uri})
		},
		TimeChanged:   func(float64) { p.push(event{}) },
		VolumeChanged: func() { p.push(event{}) },
	})
	defer unsubscribe()

	p.mu.Lock()
	start := p.current
	p.mu.Unlock()
	if err := p.playFrom(start); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			p.tr.Stop()
			return nil
		case <-p.signal:
		}

		p.mu.Lock()
		events := p.pending
		p.pending = nil
		p.mu.Unlock()

		for _, ev := range events {
			if ev.stream {
				p.handle(ev)
			}
		}
		p.advanceIfEnded()

		if p.config.OnChange != nil {
			p.config.OnChange(p.Status())
		}

		p.mu.Lock()
		done := p.finished
		p.mu.Unlock()
		if done {
			log.Info().Msg("playlist finished")
			return nil
		}
	}
}

func (p *Player) push(ev event) {
	p.mu.Lock()
	p.pending = append(p.pending, ev)
	p.mu.Unlock()

	select {
	case p.signal <- struct{}{}:
	default:
	}
}

func (p *Player) handle(ev event) {
	switch ev.kind {
	case playback.StreamPlaying:
		p.mu.Lock()
		if p.prepared >= 0 && p.config.Tracks[p.prepared] == ev.uri {
			p.current = p.prepared
			p.prepared = -1
		}
		p.ended = false
		p.mu.Unlock()
		log.Info().Str("uri", ev.uri).Msg("now playing")
		p.prepareNext()

	case playback.StreamFinished:
		p.mu.Lock()
		if p.config.Tracks[p.current] == ev.uri {
			p.ended = true
		}
		p.mu.Unlock()

	case playback.StreamError:
		p.mu.Lock()
		if p.prepared >= 0 && p.config.Tracks[p.prepared] == ev.uri {
			p.prepared = -1
			p.mu.Unlock()
			return
		}
		failed := p.config.Tracks[p.current] == ev.uri
		next := p.current + 1
		p.mu.Unlock()
		if !failed {
			return
		}
		log.Warn().Str("uri", ev.uri).Msg("track failed, skipping")
		if err := p.playFrom(next); err != nil {
			p.mu.Lock()
			p.finished = true
			p.mu.Unlock()
		}
	}
}

// advanceIfEnded starts the following entry when the current one finished
// without a handoff, which happens when it ended before the next was staged
func (p *Player) advanceIfEnded() {
	p.mu.Lock()
	ended := p.ended
	next, ok := p.wrap(p.current + 1)
	p.mu.Unlock()
	if !ended || p.tr.PlaybackState() != playback.PlaybackStopped {
		return
	}

	p.mu.Lock()
	p.ended = false
	p.mu.Unlock()
	if ok && p.playFrom(next) == nil {
		return
	}
	p.mu.Lock()
	p.finished = true
	p.mu.Unlock()
}

// prepareNext queues the entry after the current one behind it
func (p *Player) prepareNext() {
	p.mu.Lock()
	gen := p.gen
	index := p.current
	p.mu.Unlock()

	for i := 1; i <= len(p.config.Tracks); i++ {
		next, ok := p.wrap(index + i)
		if !ok {
			return
		}
		uri := p.config.Tracks[next]
		if err := p.tr.PrepareNextTrack(uri, p.config.Gain); err != nil {
			log.Warn().Err(err).Str("uri", uri).Msg("failed to prepare next track")
			continue
		}

		p.mu.Lock()
		if p.gen == gen {
			p.prepared = next
		}
		p.mu.Unlock()
		return
	}
}

func (p *Player) wrap(index int) (int, bool) {
	n := len(p.config.Tracks)
	if index < n {
		return index, true
	}
	if !p.config.Repeat {
		return 0, false
	}
	return index % n, true
}

// playFrom starts the first entry at or after index that opens
func (p *Player) playFrom(index int) error {
	for i := 0; i < len(p.config.Tracks); i++ {
		at, ok := p.wrap(index + i)
		if !ok {
			break
		}

		p.mu.Lock()
		p.current = at
		p.prepared = -1
		p.ended = false
		p.finished = false
		p.gen++
		p.mu.Unlock()

		uri := p.config.Tracks[at]
		err := p.tr.Start(uri, p.config.Gain, playback.StartImmediate)
		if err == nil {
			return nil
		}
		log.Error().Err(err).Str("uri", uri).Msg("failed to start track")
	}
	return ErrEmptyPlaylist
}

// Next skips to the following entry
func (p *Player) Next() error {
	p.mu.Lock()
	next, ok := p.wrap(p.current + 1)
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("already at the last track")
	}
	return p.playFrom(next)
}

// Prev restarts the current entry, or goes back one when near its start
func (p *Player) Prev() error {
	if p.tr.Position() > restartThreshold {
		_, err := p.tr.SetPosition(0)
		return err
	}

	p.mu.Lock()
	prev := p.current - 1
	if prev < 0 {
		prev = 0
		if p.config.Repeat {
			prev = len(p.config.Tracks) - 1
		}
	}
	p.mu.Unlock()
	return p.playFrom(prev)
}

// Jump plays the entry at index
func (p *Player) Jump(index int) error {
	if index < 0 || index >= len(p.config.Tracks) {
		return fmt.Errorf("track %d out of range [0, %d)", index, len(p.config.Tracks))
	}
	return p.playFrom(index)
}

// TogglePause pauses a playing transport and resumes a paused one
func (p *Player) TogglePause() bool {
	if p.tr.PlaybackState() == playback.PlaybackPlaying {
		return p.tr.Pause()
	}
	return p.tr.Resume()
}

// Seek moves by delta seconds within the current track
func (p *Player) Seek(delta float64) (float64, error) {
	return p.tr.SetPosition(p.tr.Position() + delta)
}

// AdjustVolume changes the volume by delta
func (p *Player) AdjustVolume(delta float64) {
	p.tr.SetVolume(p.tr.Volume() + delta)
}

// ToggleMute flips the mute state
func (p *Player) ToggleMute() {
	p.tr.SetMuted(!p.tr.IsMuted())
}

// ToggleTransport switches between gapless and crossfade when supported
func (p *Player) ToggleTransport() error {
	sw, ok := p.tr.(Switcher)
	if !ok {
		return fmt.Errorf("transport cannot switch strategy")
	}
	next := playback.TransportCrossfade
	if sw.CurrentType() == playback.TransportCrossfade {
		next = playback.TransportGapless
	}

	wasPlaying := p.tr.PlaybackState() == playback.PlaybackPlaying
	pos := p.tr.Position()
	if err := sw.SwitchTo(next); err != nil {
		return err
	}
	log.Info().Str("transport", next.String()).Msg("switched transport")
	defer p.push(event{})

	// switching stops playback; pick the track up where it was
	if !wasPlaying {
		return nil
	}
	p.mu.Lock()
	index := p.current
	p.mu.Unlock()
	if err := p.playFrom(index); err != nil {
		return err
	}
	if pos > 0 {
		if _, err := p.tr.SetPosition(pos); err != nil {
			log.Warn().Err(err).Msg("failed to restore position after switch")
		}
	}
	return nil
}

// Current returns the index of the playing entry
func (p *Player) Current() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Status returns a snapshot for display
func (p *Player) Status() Status {
	p.mu.Lock()
	index := p.current
	p.mu.Unlock()

	s := Status{
		Index:    index,
		Count:    len(p.config.Tracks),
		URI:      p.config.Tracks[index],
		State:    p.tr.PlaybackState(),
		Position: p.tr.Position(),
		Duration: p.tr.Duration(),
		Volume:   p.tr.Volume(),
		Muted:    p.tr.IsMuted(),
		Repeat:   p.config.Repeat,
	}
	if sw, ok := p.tr.(Switcher); ok {
		s.Transport = sw.CurrentType().String()
	}
	return s
}
