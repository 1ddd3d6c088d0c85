// ABOUTME: Transport contract shared by gapless, crossfade and master transports
// ABOUTME: Also holds the transport configuration and preference storage contract
package playback

import (
	"sync"
	"time"

	"github.com/Resonate-Protocol/resonate-engine/pkg/audio/output"
)

// DefaultCrossfadeDuration is the default overlap between crossfaded tracks
const DefaultCrossfadeDuration = 1500 * time.Millisecond

// Transport is the control surface the application drives
type Transport interface {
	Start(uri string, gain Gain, mode StartMode) error
	PrepareNextTrack(uri string, gain Gain) error
	Stop()
	Pause() bool
	Resume() bool
	Position() float64
	SetPosition(seconds float64) (float64, error)
	Volume() float64
	SetVolume(volume float64)
	Duration() float64
	IsMuted() bool
	SetMuted(muted bool)
	ReloadOutput() error
	PlaybackState() PlaybackState
	URI() string
	Subscribe(l Listener) func()

	// Output returns the device output the transport plays to
	Output() output.Output

	// Close stops playback. The output stays open; its owner closes it.
	Close() error
}

// TransportConfig holds transport configuration
type TransportConfig struct {
	// Player configures every player the transport creates
	Player PlayerConfig

	// Output is the device output; required
	Output output.Output

	// NewOutput creates a replacement output for ReloadOutput. When nil,
	// ReloadOutput restarts the current track on the existing output.
	NewOutput func() output.Output

	// CrossfadeDuration is the overlap between tracks (default: 1.5s)
	CrossfadeDuration time.Duration

	// MixHeadroom is how far the sum of crossfade gains may exceed 1 before
	// the mix is normalised (default: 0.01)
	MixHeadroom float64

	// MixChunkFrames is the number of frames per mixed buffer (default: 1024)
	MixChunkFrames int

	// Volume is the initial volume (default: 1)
	Volume float64
}

func (c TransportConfig) withDefaults() TransportConfig {
	if c.CrossfadeDuration <= 0 {
		c.CrossfadeDuration = DefaultCrossfadeDuration
	}
	if c.MixHeadroom <= 0 {
		c.MixHeadroom = DefaultMixHeadroom
	}
	if c.Volume <= 0 || c.Volume > 1 {
		c.Volume = 1
	}
	if c.Output == nil {
		c.Output = output.NewNull()
	}
	return c
}

// PrefTransportType is the preference key holding the last transport type
const PrefTransportType = "transport_type"

// Preferences stores integer settings
type Preferences interface {
	Int(key string, def int) int
	SetInt(key string, value int) error
}

// MemoryPreferences keeps preferences in memory
type MemoryPreferences struct {
	mu     sync.Mutex
	values map[string]int
}

// NewMemoryPreferences creates an empty store
func NewMemoryPreferences() *MemoryPreferences {
	return &MemoryPreferences{values: make(map[string]int)}
}

// Int returns the value for key or def
func (m *MemoryPreferences) Int(key string, def int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.values[key]; ok {
		return v
	}
	return def
}

// SetInt stores value under key
func (m *MemoryPreferences) SetInt(key string, value int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}
