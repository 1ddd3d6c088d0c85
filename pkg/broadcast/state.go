// ABOUTME: Playback state shared with broadcast listeners
// ABOUTME: Tracks what the engine plays and pushes server/state on changes
package broadcast

import (
	"time"

	"github.com/Resonate-Protocol/resonate-engine/pkg/playback"
	"github.com/Resonate-Protocol/resonate-engine/pkg/protocol"
)

// positionInterval limits how often position alone triggers an update
const positionInterval = time.Second

// SetPlaybackState publishes "playing", "paused" or "stopped"
func (s *Server) SetPlaybackState(state string) {
	s.stateMu.Lock()
	if s.state.PlaybackState == state {
		s.stateMu.Unlock()
		return
	}
	s.state.PlaybackState = state
	s.stateMu.Unlock()

	s.publishState()
}

// SetTrack publishes the current track. duration is in seconds, 0 or
// negative when unknown.
func (s *Server) SetTrack(uri, title string, duration float64) {
	s.stateMu.Lock()
	s.state.URI = uri
	s.state.Title = nil
	if title != "" {
		s.state.Title = &title
	}
	s.state.Position = 0
	s.state.Duration = 0
	if duration > 0 {
		s.state.Duration = int(duration * 1000)
	}
	s.stateMu.Unlock()

	s.publishState()
}

// SetPosition records the playback position, publishing at most once a second
func (s *Server) SetPosition(seconds float64) {
	s.stateMu.Lock()
	s.state.Position = int(seconds * 1000)
	due := time.Since(s.lastPublish) >= positionInterval
	s.stateMu.Unlock()

	if due {
		s.publishState()
	}
}

func (s *Server) snapshotState() protocol.ServerState {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	st := s.state
	st.Timestamp = s.clockMicros()
	return st
}

func (s *Server) publishState() {
	st := s.snapshotState()

	s.stateMu.Lock()
	s.lastPublish = time.Now()
	s.stateMu.Unlock()

	s.sendAll(protocol.TypeServerState, st)
}

// Follow mirrors a transport's events to listeners until the returned
// function is called
func (s *Server) Follow(t playback.Transport) func() {
	return t.Subscribe(playback.ListenerFuncs{
		PlaybackEvent: func(state playback.PlaybackState) {
			switch state {
			case playback.PlaybackPlaying:
				s.SetPlaybackState("playing")
			case playback.PlaybackPaused:
				s.SetPlaybackState("paused")
			case playback.PlaybackStopped:
				s.SetPlaybackState("stopped")
			}
		},
		StreamEvent: func(ev playback.StreamEventType, uri string) {
			if ev != playback.StreamPlaying {
				return
			}
			// listeners must not call back into the transport
			go s.SetTrack(uri, "", t.Duration())
		},
		TimeChanged: s.SetPosition,
	})
}
