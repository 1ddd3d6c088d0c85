// ABOUTME: Shared fixtures for playback tests: libraries, event recorders
// ABOUTME: Tracks run at 1 kHz so durations are easy to reason about
package playback

import (
	"sync"
	"testing"
	"time"

	"github.com/Resonate-Protocol/resonate-engine/internal/audiotest"
	"github.com/Resonate-Protocol/resonate-engine/pkg/audio/stream"
)

const waitTimeout = 5 * time.Second

func newLibrary(tracks map[string]audiotest.Track) *audiotest.Library {
	lib := audiotest.NewLibrary()
	for uri, track := range tracks {
		lib.Add(uri, track)
	}
	return lib
}

func playerConfig(lib *audiotest.Library) PlayerConfig {
	return PlayerConfig{
		Sources:       lib.Sources(),
		Decoders:      lib.Decoders(),
		Stream:        stream.Config{SamplesPerChannel: 100, BufferCount: 8},
		RetryInterval: 2 * time.Millisecond,
	}
}

// playerRecorder collects player events
type playerRecorder struct {
	mu     sync.Mutex
	events []PlayerEvent
}

func (r *playerRecorder) OnPlayerEvent(_ *Player, ev PlayerEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *playerRecorder) all() []PlayerEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]PlayerEvent(nil), r.events...)
}

func (r *playerRecorder) count(typ PlayerEventType) int {
	n := 0
	for _, ev := range r.all() {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

func (r *playerRecorder) first(typ PlayerEventType) (PlayerEvent, int) {
	for i, ev := range r.all() {
		if ev.Type == typ {
			return ev, i
		}
	}
	return PlayerEvent{}, -1
}

func (r *playerRecorder) waitFor(t *testing.T, typ PlayerEventType) PlayerEvent {
	t.Helper()
	if !audiotest.WaitFor(waitTimeout, func() bool { return r.count(typ) > 0 }) {
		t.Fatalf("timed out waiting for %v, got %v", typ, r.all())
	}
	ev, _ := r.first(typ)
	return ev
}

type streamEvent struct {
	typ StreamEventType
	uri string
}

// transportRecorder collects transport events in order
type transportRecorder struct {
	mu      sync.Mutex
	states  []PlaybackState
	streams []streamEvent
	times   []float64
	volumes int
}

func (r *transportRecorder) OnPlaybackEvent(state PlaybackState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
}

func (r *transportRecorder) OnStreamEvent(ev StreamEventType, uri string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.streams = append(r.streams, streamEvent{ev, uri})
}

func (r *transportRecorder) OnTimeChanged(seconds float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.times = append(r.times, seconds)
}

func (r *transportRecorder) OnVolumeChanged() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.volumes++
}

func (r *transportRecorder) has(typ StreamEventType, uri string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.streams {
		if ev.typ == typ && ev.uri == uri {
			return true
		}
	}
	return false
}

func (r *transportRecorder) count(typ StreamEventType, uri string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.streams {
		if ev.typ == typ && ev.uri == uri {
			n++
		}
	}
	return n
}

func (r *transportRecorder) events() []streamEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]streamEvent(nil), r.streams...)
}

// index returns the position of the first matching stream event, or -1
func (r *transportRecorder) index(typ StreamEventType, uri string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, ev := range r.streams {
		if ev.typ == typ && ev.uri == uri {
			return i
		}
	}
	return -1
}

func (r *transportRecorder) waitStream(t *testing.T, typ StreamEventType, uri string) {
	t.Helper()
	if !audiotest.WaitFor(waitTimeout, func() bool { return r.has(typ, uri) }) {
		r.mu.Lock()
		defer r.mu.Unlock()
		t.Fatalf("timed out waiting for %v %s, got %v", typ, uri, r.streams)
	}
}

func (r *transportRecorder) timeline() []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]float64(nil), r.times...)
}

func (r *transportRecorder) lastState() PlaybackState {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.states) == 0 {
		return PlaybackStopped
	}
	return r.states[len(r.states)-1]
}
