// ABOUTME: Audio output package for playing audio
// ABOUTME: Provides the Output contract plus oto, malgo and clocked backends
// Package output provides audio playback backends.
//
// Every backend accepts float32 buffers through Play and hands them back to
// their BufferProvider once played or discarded. Buffers in a format other
// than the device format are converted on the way in, so a track change
// does not reopen the device.
//
// Supports: oto (default), malgo (miniaudio), null and other clocked sinks.
//
// Example:
//
//	out := output.NewDefaultRegistry().Select("oto")
//	err := out.Play(buf, provider) // ErrBufferFull means retry later
//	out.SetVolume(0.8)
package output
