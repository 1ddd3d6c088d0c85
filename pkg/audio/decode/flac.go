// ABOUTME: FLAC audio decoder
// ABOUTME: Decodes FLAC frames via mewkiz/flac into float32 buffers
package decode

import (
	"errors"
	"fmt"
	"io"

	"github.com/Resonate-Protocol/resonate-engine/pkg/audio"
	"github.com/Resonate-Protocol/resonate-engine/pkg/audio/source"
	"github.com/mewkiz/flac"
)

// FLACFactory creates FLAC decoders
type FLACFactory struct{}

// CanHandle claims flac
func (FLACFactory) CanHandle(contentType string) bool {
	return matchType(contentType, "flac")
}

// CreateDecoder creates a new FLAC decoder
func (FLACFactory) CreateDecoder() Decoder {
	return &FLACDecoder{}
}

// FLACDecoder decodes FLAC audio
type FLACDecoder struct {
	stream       *flac.Stream
	sampleRate   int
	channels     int
	bitDepth     int
	totalSamples uint64
}

// Open parses the stream info block
func (d *FLACDecoder) Open(src source.DataSource) error {
	// the source belongs to the stream, hide its Close from the parser
	stream, err := flac.NewSeek(struct{ io.ReadSeeker }{src})
	if err != nil {
		return fmt.Errorf("failed to open flac stream: %w", err)
	}

	d.stream = stream
	d.sampleRate = int(stream.Info.SampleRate)
	d.channels = int(stream.Info.NChannels)
	d.bitDepth = int(stream.Info.BitsPerSample)
	d.totalSamples = stream.Info.NSamples
	return nil
}

// GetBuffer decodes one FLAC frame
func (d *FLACDecoder) GetBuffer(buf *audio.Buffer) error {
	frame, err := d.stream.ParseNext()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return io.EOF
		}
		return fmt.Errorf("flac decode error: %w", err)
	}

	blockSize := int(frame.BlockSize)
	channels := len(frame.Subframes)
	buf.SetFormat(d.sampleRate, channels)
	out := buf.Resize(blockSize * channels)
	for ch, sub := range frame.Subframes {
		for i := 0; i < blockSize && i < len(sub.Samples); i++ {
			out[i*channels+ch] = audio.IntToFloat(sub.Samples[i], d.bitDepth)
		}
	}
	return nil
}

// SetPosition seeks to the frame containing the target sample
func (d *FLACDecoder) SetPosition(seconds, totalSeconds float64) (float64, error) {
	if d.sampleRate == 0 {
		return -1, audio.ErrSeekFailed
	}
	seconds = clampSeek(seconds, totalSeconds)
	target := uint64(seconds * float64(d.sampleRate))
	if d.totalSamples > 0 && target >= d.totalSamples {
		target = d.totalSamples - 1
	}
	reached, err := d.stream.Seek(target)
	if err != nil {
		return -1, fmt.Errorf("%w: %w", audio.ErrSeekFailed, err)
	}
	return float64(reached) / float64(d.sampleRate), nil
}

// Duration returns the track length from the stream info block
func (d *FLACDecoder) Duration() float64 {
	if d.totalSamples == 0 || d.sampleRate == 0 {
		return -1
	}
	return float64(d.totalSamples) / float64(d.sampleRate)
}

// Close releases the parser
func (d *FLACDecoder) Close() error {
	if d.stream == nil {
		return nil
	}
	return d.stream.Close()
}
