// ABOUTME: Playback engine package: players and track transition transports
// ABOUTME: Gapless, crossfade and switchable master transports over one output
// Package playback turns track URIs into audio on an output.
//
// A Player couples one decoded stream to one output and runs one decode
// goroutine. Transports own players and decide how tracks follow each other:
//
//   - GaplessTransport queues the next track directly behind the current one
//   - CrossfadeTransport mixes overlapping players with linear fade envelopes
//   - MasterTransport switches between the two at runtime
//
// Example:
//
//	t := playback.NewMasterTransport(config, prefs)
//	unsubscribe := t.Subscribe(playback.ListenerFuncs{
//		StreamEvent: func(ev playback.StreamEventType, uri string) { ... },
//	})
//	err := t.Start("file:///music/a.flac", playback.UnityGain, playback.StartImmediate)
package playback
