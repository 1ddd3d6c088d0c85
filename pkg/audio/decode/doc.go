// ABOUTME: Audio decoder package for file and stream codecs
// ABOUTME: Provides the Decoder/Factory contract, a registry and MP3, FLAC, Vorbis, WAV
// Package decode turns a data source into float32 PCM buffers.
//
// Supports: MP3 (go-mp3), FLAC (mewkiz/flac), Ogg Vorbis (oggvorbis),
// WAV (go-audio/wav)
//
// Factories claim content types; the Registry asks them in registration
// order and the first match wins. The registry is built explicitly by
// whoever assembles the engine and is passed to every stream.
//
// Example:
//
//	reg := decode.NewDefaultRegistry()
//	factory, err := reg.Lookup(src.Type())
//	dec := factory.CreateDecoder()
//	err = dec.Open(src)
//	err = dec.GetBuffer(buf) // io.EOF at end of stream
package decode
