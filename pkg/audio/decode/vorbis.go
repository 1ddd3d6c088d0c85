// ABOUTME: Ogg Vorbis audio decoder
// ABOUTME: Decodes Vorbis via jfreymuth/oggvorbis into float32 buffers
package decode

import (
	"errors"
	"fmt"
	"io"

	"github.com/Resonate-Protocol/resonate-engine/pkg/audio"
	"github.com/Resonate-Protocol/resonate-engine/pkg/audio/source"
	"github.com/jfreymuth/oggvorbis"
)

const vorbisBlockFrames = 4096

// VorbisFactory creates Ogg Vorbis decoders
type VorbisFactory struct{}

// CanHandle claims ogg
func (VorbisFactory) CanHandle(contentType string) bool {
	return matchType(contentType, "ogg", "vorbis")
}

// CreateDecoder creates a new Vorbis decoder
func (VorbisFactory) CreateDecoder() Decoder {
	return &VorbisDecoder{}
}

// VorbisDecoder decodes Ogg Vorbis audio
type VorbisDecoder struct {
	reader *oggvorbis.Reader
}

// Open reads the Vorbis headers
func (d *VorbisDecoder) Open(src source.DataSource) error {
	reader, err := oggvorbis.NewReader(src)
	if err != nil {
		return fmt.Errorf("failed to open ogg vorbis stream: %w", err)
	}
	d.reader = reader
	return nil
}

// GetBuffer decodes the next block of interleaved samples
func (d *VorbisDecoder) GetBuffer(buf *audio.Buffer) error {
	channels := d.reader.Channels()
	buf.SetFormat(d.reader.SampleRate(), channels)
	out := buf.Resize(vorbisBlockFrames * channels)

	n, err := d.reader.Read(out)
	n -= n % channels
	buf.Resize(n)
	if n > 0 {
		return nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		return io.EOF
	}
	return fmt.Errorf("vorbis decode error: %w", err)
}

// SetPosition seeks to the sample at seconds
func (d *VorbisDecoder) SetPosition(seconds, totalSeconds float64) (float64, error) {
	rate := float64(d.reader.SampleRate())
	seconds = clampSeek(seconds, totalSeconds)
	if err := d.reader.SetPosition(int64(seconds * rate)); err != nil {
		return -1, fmt.Errorf("%w: %w", audio.ErrSeekFailed, err)
	}
	return float64(d.reader.Position()) / rate, nil
}

// Duration returns the track length when the stream is seekable
func (d *VorbisDecoder) Duration() float64 {
	length := d.reader.Length()
	if length <= 0 {
		return -1
	}
	return float64(length) / float64(d.reader.SampleRate())
}

// Close releases decoder resources
func (d *VorbisDecoder) Close() error {
	return nil
}
