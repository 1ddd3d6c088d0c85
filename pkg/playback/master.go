// ABOUTME: Master transport forwards to the gapless or crossfade transport
// ABOUTME: Switching preserves volume and mute and persists the choice
package playback

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/Resonate-Protocol/resonate-engine/pkg/audio/output"
)

type outputSetter interface {
	setOutput(out output.Output)
}

// MasterTransport is the transport applications hold. It owns both
// transports, forwards every call to the current one and re-emits its
// events to its own subscribers.
type MasterTransport struct {
	emitter
	prefs Preferences

	mu          sync.Mutex
	transports  map[TransportType]Transport
	current     Transport
	currentType TransportType
	unsubscribe func()
}

// NewMasterTransport creates both transports on config.Output and activates
// the one stored in prefs. prefs may be nil.
func NewMasterTransport(config TransportConfig, prefs Preferences) *MasterTransport {
	config = config.withDefaults()
	if prefs == nil {
		prefs = NewMemoryPreferences()
	}

	m := &MasterTransport{
		prefs: prefs,
		transports: map[TransportType]Transport{
			TransportGapless:   NewGaplessTransport(config),
			TransportCrossfade: NewCrossfadeTransport(config),
		},
	}

	kind := TransportType(prefs.Int(PrefTransportType, int(TransportGapless)))
	if _, ok := m.transports[kind]; !ok {
		log.Warn().Int("type", int(kind)).Msg("unknown stored transport type, using gapless")
		kind = TransportGapless
	}
	m.activate(kind)
	return m
}

// activate subscribes to kind's transport and makes it current
func (m *MasterTransport) activate(kind TransportType) {
	t := m.transports[kind]
	unsubscribe := t.Subscribe(ListenerFuncs{
		PlaybackEvent: func(state PlaybackState) { m.forward(t, func() { m.playbackEvent(state) }) },
		StreamEvent: func(ev StreamEventType, uri string) {
			m.forward(t, func() { m.streamEvent(ev, uri) })
		},
		TimeChanged:   func(seconds float64) { m.forward(t, func() { m.timeChanged(seconds) }) },
		VolumeChanged: func() { m.forward(t, m.volumeChanged) },
	})

	m.mu.Lock()
	old := m.unsubscribe
	m.current = t
	m.currentType = kind
	m.unsubscribe = unsubscribe
	m.mu.Unlock()

	if old != nil {
		old()
	}
}

// forward re-emits an event only while from is current
func (m *MasterTransport) forward(from Transport, emit func()) {
	m.mu.Lock()
	current := m.current == from
	m.mu.Unlock()
	if current {
		emit()
	}
}

func (m *MasterTransport) transport() Transport {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// CurrentType returns the active transport type
func (m *MasterTransport) CurrentType() TransportType {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentType
}

// SwitchTo stops playback on the current transport and activates kind,
// carrying volume and mute over. The choice is written to the preferences.
func (m *MasterTransport) SwitchTo(kind TransportType) error {
	m.mu.Lock()
	from := m.current
	fromType := m.currentType
	_, known := m.transports[kind]
	m.mu.Unlock()

	if !known {
		return fmt.Errorf("unknown transport type %d", int(kind))
	}
	if kind == fromType {
		return nil
	}

	log.Info().Stringer("from", fromType).Stringer("to", kind).Msg("switching transport")

	volume, muted := from.Volume(), from.IsMuted()
	if cf, ok := from.(*CrossfadeTransport); ok {
		cf.StopImmediately()
	} else {
		from.Stop()
	}

	m.activate(kind)
	to := m.transport()
	to.SetVolume(volume)
	to.SetMuted(muted)
	return m.prefs.SetInt(PrefTransportType, int(kind))
}

// Start opens uri on the current transport
func (m *MasterTransport) Start(uri string, gain Gain, mode StartMode) error {
	return m.transport().Start(uri, gain, mode)
}

// PrepareNextTrack stages uri on the current transport
func (m *MasterTransport) PrepareNextTrack(uri string, gain Gain) error {
	return m.transport().PrepareNextTrack(uri, gain)
}

func (m *MasterTransport) Stop()         { m.transport().Stop() }
func (m *MasterTransport) Pause() bool   { return m.transport().Pause() }
func (m *MasterTransport) Resume() bool  { return m.transport().Resume() }
func (m *MasterTransport) IsMuted() bool { return m.transport().IsMuted() }
func (m *MasterTransport) URI() string   { return m.transport().URI() }

func (m *MasterTransport) Position() float64 { return m.transport().Position() }
func (m *MasterTransport) Duration() float64 { return m.transport().Duration() }
func (m *MasterTransport) Volume() float64   { return m.transport().Volume() }

func (m *MasterTransport) SetPosition(seconds float64) (float64, error) {
	return m.transport().SetPosition(seconds)
}

func (m *MasterTransport) SetVolume(volume float64) { m.transport().SetVolume(volume) }
func (m *MasterTransport) SetMuted(muted bool)      { m.transport().SetMuted(muted) }

// ReloadOutput reloads the current transport's output and hands the new
// output to the other transport
func (m *MasterTransport) ReloadOutput() error {
	current := m.transport()
	if err := current.ReloadOutput(); err != nil {
		return err
	}
	out := current.Output()

	m.mu.Lock()
	transports := m.transports
	m.mu.Unlock()
	for _, t := range transports {
		if s, ok := t.(outputSetter); ok && t != current {
			s.setOutput(out)
		}
	}
	return nil
}

func (m *MasterTransport) PlaybackState() PlaybackState { return m.transport().PlaybackState() }
func (m *MasterTransport) Output() output.Output        { return m.transport().Output() }

// Close closes both transports
func (m *MasterTransport) Close() error {
	m.mu.Lock()
	unsubscribe := m.unsubscribe
	m.unsubscribe = nil
	transports := m.transports
	m.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	for _, t := range transports {
		if err := t.Close(); err != nil {
			return err
		}
	}
	return nil
}
