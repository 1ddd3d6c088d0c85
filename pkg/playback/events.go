// ABOUTME: Observer registration for player and transport events
// ABOUTME: Listeners are called synchronously, outside any transport lock
package playback

import (
	"fmt"
	"sync"

	"github.com/Resonate-Protocol/resonate-engine/pkg/audio"
)

// PlayerEventType identifies a Player event
type PlayerEventType int

const (
	// EventOpened follows a successful open, before any audio
	EventOpened PlayerEventType = iota
	// EventStarted fires when the first buffer was played
	EventStarted
	// EventBufferProcessed carries the position after each played buffer
	EventBufferProcessed
	// EventAlmostDone fires the configured lead time before the end, or
	// when decoding reached the end, whichever comes first
	EventAlmostDone
	// EventFinished fires once the last buffer was played
	EventFinished
	// EventError carries a decode or output failure
	EventError
	// EventTrackChanged fires when a prepared next track becomes audible
	EventTrackChanged
	// EventDestroyed is the last event of a player
	EventDestroyed
)

var playerEventNames = [...]string{
	EventOpened:          "opened",
	EventStarted:         "started",
	EventBufferProcessed: "buffer-processed",
	EventAlmostDone:      "almost-done",
	EventFinished:        "finished",
	EventError:           "error",
	EventTrackChanged:    "track-changed",
	EventDestroyed:       "destroyed",
}

func (t PlayerEventType) String() string {
	if t >= 0 && int(t) < len(playerEventNames) {
		return playerEventNames[t]
	}
	return fmt.Sprintf("PlayerEventType(%d)", int(t))
}

// PlayerEvent is delivered to the Player's listener
type PlayerEvent struct {
	Type     PlayerEventType
	URI      string
	Position float64
	Err      error
}

// PlayerListener receives events from players. Events arrive on the decode
// goroutine, the output's goroutine or the caller of Start.
type PlayerListener interface {
	OnPlayerEvent(p *Player, ev PlayerEvent)
}

// PlayerListenerFunc adapts a function to PlayerListener
type PlayerListenerFunc func(p *Player, ev PlayerEvent)

// OnPlayerEvent calls f
func (f PlayerListenerFunc) OnPlayerEvent(p *Player, ev PlayerEvent) { f(p, ev) }

// Visualizer observes audio as it is played. Write runs on the output's
// goroutine once the player's position covers buf; it must return quickly
// and must not keep buf. During a crossfade every audible player writes.
type Visualizer interface {
	Write(buf *audio.Buffer)
}

// Listener receives transport events. Callbacks run on engine goroutines;
// a listener that needs to call blocking transport methods such as Stop
// should hand the event off to its own goroutine.
type Listener interface {
	OnPlaybackEvent(state PlaybackState)
	OnStreamEvent(ev StreamEventType, uri string)
	OnTimeChanged(seconds float64)
	OnVolumeChanged()
}

// ListenerFuncs adapts optional functions to Listener
type ListenerFuncs struct {
	PlaybackEvent func(state PlaybackState)
	StreamEvent   func(ev StreamEventType, uri string)
	TimeChanged   func(seconds float64)
	VolumeChanged func()
}

func (l ListenerFuncs) OnPlaybackEvent(state PlaybackState) {
	if l.PlaybackEvent != nil {
		l.PlaybackEvent(state)
	}
}

func (l ListenerFuncs) OnStreamEvent(ev StreamEventType, uri string) {
	if l.StreamEvent != nil {
		l.StreamEvent(ev, uri)
	}
}

func (l ListenerFuncs) OnTimeChanged(seconds float64) {
	if l.TimeChanged != nil {
		l.TimeChanged(seconds)
	}
}

func (l ListenerFuncs) OnVolumeChanged() {
	if l.VolumeChanged != nil {
		l.VolumeChanged()
	}
}

// emitter fans transport events out to subscribers
type emitter struct {
	mu        sync.RWMutex
	nextID    int
	listeners map[int]Listener
	order     []int
}

// Subscribe registers l and returns a function that removes it
func (e *emitter) Subscribe(l Listener) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.listeners == nil {
		e.listeners = make(map[int]Listener)
	}
	id := e.nextID
	e.nextID++
	e.listeners[id] = l
	e.order = append(e.order, id)

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			delete(e.listeners, id)
			for i, v := range e.order {
				if v == id {
					e.order = append(e.order[:i], e.order[i+1:]...)
					break
				}
			}
		})
	}
}

func (e *emitter) snapshot() []Listener {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Listener, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, e.listeners[id])
	}
	return out
}

func (e *emitter) playbackEvent(state PlaybackState) {
	for _, l := range e.snapshot() {
		l.OnPlaybackEvent(state)
	}
}

func (e *emitter) streamEvent(ev StreamEventType, uri string) {
	for _, l := range e.snapshot() {
		l.OnStreamEvent(ev, uri)
	}
}

func (e *emitter) timeChanged(seconds float64) {
	for _, l := range e.snapshot() {
		l.OnTimeChanged(seconds)
	}
}

func (e *emitter) volumeChanged() {
	for _, l := range e.snapshot() {
		l.OnVolumeChanged()
	}
}
