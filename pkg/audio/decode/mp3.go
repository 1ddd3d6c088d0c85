// ABOUTME: MP3 audio decoder
// ABOUTME: Decodes MP3 via go-mp3 into stereo float32 buffers
package decode

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/Resonate-Protocol/resonate-engine/pkg/audio"
	"github.com/Resonate-Protocol/resonate-engine/pkg/audio/source"
	"github.com/hajimehoshi/go-mp3"
)

const (
	mp3BlockFrames = 4096
	// go-mp3 always produces 16-bit stereo
	mp3BytesPerFrame = 4
)

// MP3Factory creates MP3 decoders
type MP3Factory struct{}

// CanHandle claims mp3
func (MP3Factory) CanHandle(contentType string) bool {
	return matchType(contentType, "mp3")
}

// CreateDecoder creates a new MP3 decoder
func (MP3Factory) CreateDecoder() Decoder {
	return &MP3Decoder{}
}

// MP3Decoder decodes MP3 audio
type MP3Decoder struct {
	decoder    *mp3.Decoder
	raw        []byte
	sampleRate int
	length     int64 // decoded bytes, -1 when unknown
}

// Open creates the underlying go-mp3 decoder
func (d *MP3Decoder) Open(src source.DataSource) error {
	decoder, err := mp3.NewDecoder(src)
	if err != nil {
		return fmt.Errorf("failed to create mp3 decoder: %w", err)
	}
	d.decoder = decoder
	d.sampleRate = decoder.SampleRate()
	d.length = decoder.Length()
	d.raw = make([]byte, mp3BlockFrames*mp3BytesPerFrame)
	return nil
}

// GetBuffer decodes the next block
func (d *MP3Decoder) GetBuffer(buf *audio.Buffer) error {
	n, err := io.ReadFull(d.decoder, d.raw)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("mp3 decode error: %w", err)
	}
	n -= n % mp3BytesPerFrame
	if n == 0 {
		return io.EOF
	}

	buf.SetFormat(d.sampleRate, 2)
	out := buf.Resize(n / 2)
	for i := range out {
		out[i] = audio.Int16ToFloat(int16(binary.LittleEndian.Uint16(d.raw[i*2:])))
	}
	return nil
}

// SetPosition seeks within the decoded PCM
func (d *MP3Decoder) SetPosition(seconds, totalSeconds float64) (float64, error) {
	if d.length < 0 || d.sampleRate == 0 {
		return -1, audio.ErrSeekFailed
	}
	seconds = clampSeek(seconds, totalSeconds)
	frame := int64(seconds * float64(d.sampleRate))
	if maxFrame := d.length / mp3BytesPerFrame; frame > maxFrame {
		frame = maxFrame
	}
	if _, err := d.decoder.Seek(frame*mp3BytesPerFrame, io.SeekStart); err != nil {
		return -1, fmt.Errorf("%w: %w", audio.ErrSeekFailed, err)
	}
	return float64(frame) / float64(d.sampleRate), nil
}

// Duration returns the track length
func (d *MP3Decoder) Duration() float64 {
	if d.length < 0 || d.sampleRate == 0 {
		return -1
	}
	return float64(d.length/mp3BytesPerFrame) / float64(d.sampleRate)
}

// Close releases decoder resources
func (d *MP3Decoder) Close() error {
	return nil
}
