// ABOUTME: High-level resonate-engine library API
// ABOUTME: Assembles registries, output, preferences and transports into an Engine
// Package resonate is the main entry point for embedding the playback engine.
//
// NewEngine wires the default data sources (file, HTTP), decoders (MP3,
// FLAC, Ogg Vorbis, WAV), the DSP chain and an output into a transport
// that switches between gapless and crossfade playback.
//
// For lower-level control, see the audio, stream, output and playback packages.
//
// Example:
//
//	engine, err := resonate.NewEngine(resonate.Config{OutputName: "oto"})
//	if err != nil {
//	    return err
//	}
//	defer engine.Close()
//
//	err = engine.Start("/music/a.flac", playback.Gain{}, playback.StartImmediate)
//	err = engine.PrepareNextTrack("/music/b.flac", playback.Gain{})
package resonate
