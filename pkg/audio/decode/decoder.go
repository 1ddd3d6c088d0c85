// ABOUTME: Decoder and factory contracts plus the ordered factory registry
// ABOUTME: Lookup resolves a content type to the first claiming factory
package decode

import (
	"fmt"
	"strings"
	"sync"

	"github.com/Resonate-Protocol/resonate-engine/pkg/audio"
	"github.com/Resonate-Protocol/resonate-engine/pkg/audio/source"
)

// Decoder decodes one data source into PCM buffers
type Decoder interface {
	// Open binds the decoder to src and reads stream headers
	Open(src source.DataSource) error

	// GetBuffer fills buf with the next block of samples and sets its
	// format. Returns io.EOF once the stream is exhausted.
	GetBuffer(buf *audio.Buffer) error

	// SetPosition seeks to seconds and returns the position actually
	// reached. totalSeconds is the stream duration, or -1 when unknown.
	SetPosition(seconds, totalSeconds float64) (float64, error)

	// Duration returns the stream length in seconds, or -1 when unknown
	Duration() float64

	// Close releases decoder resources; the data source is closed by its owner
	Close() error
}

// Factory creates decoders for the content types it claims
type Factory interface {
	CanHandle(contentType string) bool
	CreateDecoder() Decoder
}

// Registry holds factories in registration order
type Registry struct {
	mu        sync.RWMutex
	factories []Factory
}

// NewRegistry creates a registry with the given factories
func NewRegistry(factories ...Factory) *Registry {
	return &Registry{factories: factories}
}

// NewDefaultRegistry registers every built-in codec
func NewDefaultRegistry() *Registry {
	return NewRegistry(MP3Factory{}, FLACFactory{}, VorbisFactory{}, WAVFactory{})
}

// Register appends a factory
func (r *Registry) Register(f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories = append(r.factories, f)
}

// Lookup returns the first factory claiming contentType
func (r *Registry) Lookup(contentType string) (Factory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, f := range r.factories {
		if f.CanHandle(contentType) {
			return f, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", audio.ErrUnsupportedFormat, contentType)
}

// matchType compares a content type against codec names and MIME types
func matchType(contentType string, names ...string) bool {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if mapped := source.TypeFromMIME(ct); mapped != "" {
		ct = mapped
	}
	for _, n := range names {
		if ct == n {
			return true
		}
	}
	return false
}

// clampSeek bounds a seek target to the stream
func clampSeek(seconds, totalSeconds float64) float64 {
	if seconds < 0 {
		return 0
	}
	if totalSeconds > 0 && seconds > totalSeconds {
		return totalSeconds
	}
	return seconds
}
