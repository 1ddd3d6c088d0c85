// ABOUTME: Audio encoder package for network sinks
// ABOUTME: Provides the Encoder interface and PCM and Opus implementations
// Package encode turns normalised float32 samples into wire packets.
//
// Supports: PCM (16-bit and 24-bit little-endian) and Opus (20ms frames).
//
// Encoders are stateful: Opus accumulates samples until a whole frame is
// available, so one Encode call yields zero or more packets.
//
// Example:
//
//	enc, err := encode.New(audio.Format{Codec: "opus", SampleRate: 48000, Channels: 2})
//	packets, err := enc.Encode(samples)
package encode
