// ABOUTME: Shared playback types: gain, player and transport states, modes
// ABOUTME: String forms are used in logs and the terminal UI
package playback

import "fmt"

// Gain is ReplayGain-style loudness information for a track. Zero Preamp or
// Gain fields count as 1.
type Gain struct {
	Preamp    float64
	Gain      float64
	Peak      float64
	PeakValid bool
}

// UnityGain leaves samples unchanged
var UnityGain = Gain{Preamp: 1, Gain: 1}

// Linear returns the scale factor applied to samples. When a valid peak
// would clip, the factor is limited so the peak lands at full scale.
func (g Gain) Linear() float64 {
	preamp, gain := g.Preamp, g.Gain
	if preamp == 0 {
		preamp = 1
	}
	if gain == 0 {
		gain = 1
	}
	scale := preamp * gain
	if g.PeakValid && g.Peak > 0 && scale*g.Peak > 1 {
		scale = 1 / g.Peak
	}
	return scale
}

// PlayerState is the lifecycle state of a Player
type PlayerState int

const (
	PlayerIdle PlayerState = iota
	PlayerOpening
	PlayerPrepared
	PlayerPlaying
	PlayerPaused
	PlayerFinished
	PlayerError
	PlayerDestroyed
)

func (s PlayerState) String() string {
	switch s {
	case PlayerIdle:
		return "idle"
	case PlayerOpening:
		return "opening"
	case PlayerPrepared:
		return "prepared"
	case PlayerPlaying:
		return "playing"
	case PlayerPaused:
		return "paused"
	case PlayerFinished:
		return "finished"
	case PlayerError:
		return "error"
	case PlayerDestroyed:
		return "destroyed"
	default:
		return fmt.Sprintf("PlayerState(%d)", int(s))
	}
}

// StartMode selects whether a started track is audible right away
type StartMode int

const (
	// StartImmediate begins playback as soon as the track is open
	StartImmediate StartMode = iota
	// StartStaged opens and pre-buffers the track; Play makes it audible
	StartStaged
)

// DestroyMode selects what happens to audio already queued at the output
type DestroyMode int

const (
	// Flush discards queued audio
	Flush DestroyMode = iota
	// NoFlush lets queued audio play out
	NoFlush
)

// PlaybackState is the state a transport reports to its listeners
type PlaybackState int

const (
	PlaybackStopped PlaybackState = iota
	PlaybackPrepared
	PlaybackPlaying
	PlaybackPaused
)

func (s PlaybackState) String() string {
	switch s {
	case PlaybackStopped:
		return "stopped"
	case PlaybackPrepared:
		return "prepared"
	case PlaybackPlaying:
		return "playing"
	case PlaybackPaused:
		return "paused"
	default:
		return fmt.Sprintf("PlaybackState(%d)", int(s))
	}
}

// StreamEventType is a coarse per-track event code
type StreamEventType int

const (
	StreamScheduled StreamEventType = iota
	StreamOpened
	StreamPrepared
	StreamPlaying
	StreamAlmostDone
	StreamFinished
	StreamStopped
	StreamError
)

func (e StreamEventType) String() string {
	switch e {
	case StreamScheduled:
		return "scheduled"
	case StreamOpened:
		return "opened"
	case StreamPrepared:
		return "prepared"
	case StreamPlaying:
		return "playing"
	case StreamAlmostDone:
		return "almost_done"
	case StreamFinished:
		return "finished"
	case StreamStopped:
		return "stopped"
	case StreamError:
		return "error"
	default:
		return fmt.Sprintf("StreamEventType(%d)", int(e))
	}
}

// TransportType identifies a transport strategy. The values are persisted.
type TransportType int

const (
	TransportGapless   TransportType = 0
	TransportCrossfade TransportType = 1
)

func (t TransportType) String() string {
	switch t {
	case TransportGapless:
		return "gapless"
	case TransportCrossfade:
		return "crossfade"
	default:
		return fmt.Sprintf("TransportType(%d)", int(t))
	}
}

// ParseTransportType parses "gapless" or "crossfade"
func ParseTransportType(s string) (TransportType, error) {
	switch s {
	case "gapless":
		return TransportGapless, nil
	case "crossfade":
		return TransportCrossfade, nil
	default:
		return TransportGapless, fmt.Errorf("unknown transport type %q", s)
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
