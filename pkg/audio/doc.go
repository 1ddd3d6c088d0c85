// ABOUTME: Audio fundamentals package providing core types and utilities
// ABOUTME: Defines Buffer, Format, shared error taxonomy and sample conversion
// Package audio provides the fundamental types shared by the playback engine.
//
// This package defines:
//   - Buffer: a reusable container of interleaved float32 PCM samples with a
//     position tag, handed between the stream, the player and an output
//   - Format: describes a stream format (codec, sample rate, channels, bit depth)
//   - the error taxonomy used by every layer (ErrUnsupportedFormat, ErrOpenFailed,
//     ErrDecode, ErrOutput, ErrSeekFailed)
//
// Samples are normalised to [-1, 1]. Conversion helpers move between float32
// and 16-bit / 24-bit integer PCM.
//
// Example:
//
//	buf := audio.NewBuffer(4096)
//	buf.SetFormat(44100, 2)
//	buf.Append(0.25, -0.25)
//
//	pcm := audio.FloatToInt16(buf.Samples()[0])
package audio
