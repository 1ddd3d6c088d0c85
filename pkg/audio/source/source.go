// ABOUTME: Data source contract and registry for track URIs
// ABOUTME: Resolves a URI to a seekable byte source with a content type
// Package source resolves track URIs into seekable byte streams.
//
// A DataSource is what decoders read from. Sources are created by factories
// held in an explicitly constructed Registry; the first factory that can
// read a URI wins.
//
// Example:
//
//	reg := source.NewDefaultRegistry(nil)
//	src, err := reg.Open(ctx, "https://example.com/track.flac")
//	contentType := src.Type() // "flac"
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"
	"sync"
)

var (
	// ErrNoSource means no registered factory can read the URI
	ErrNoSource = errors.New("no data source for uri")

	// ErrInterrupted is returned by reads after Interrupt
	ErrInterrupted = errors.New("data source interrupted")

	// ErrNotSeekable is returned when the underlying transport cannot seek
	ErrNotSeekable = errors.New("data source not seekable")
)

// DataSource is a seekable byte stream for one URI.
// Seek is the data-source SetPosition operation.
type DataSource interface {
	io.ReadSeeker
	io.Closer

	// URI returns the URI the source was opened for
	URI() string

	// Length returns the size in bytes, or -1 when unknown
	Length() int64

	// Type returns the content type, normalised to a short codec name
	// such as "mp3" or "flac" when it is recognised
	Type() string

	// Interrupt makes pending and future reads fail with ErrInterrupted
	Interrupt()
}

// Factory creates data sources for the URIs it understands
type Factory interface {
	CanRead(uri string) bool
	Open(ctx context.Context, uri string) (DataSource, error)
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

// Register appends a factory
func (r *Registry) Register(f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories = append(r.factories, f)
}

// Open resolves uri with the first factory that can read it
func (r *Registry) Open(ctx context.Context, uri string) (DataSource, error) {
	r.mu.RLock()
	var factory Factory
	for _, f := range r.factories {
		if f.CanRead(uri) {
			factory = f
			break
		}
	}
	r.mu.RUnlock()

	if factory == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoSource, uri)
	}
	return factory.Open(ctx, uri)
}

var mimeTypes = map[string]string{
	"audio/mpeg":      "mp3",
	"audio/mp3":       "mp3",
	"audio/flac":      "flac",
	"audio/x-flac":    "flac",
	"audio/ogg":       "ogg",
	"audio/vorbis":    "ogg",
	"application/ogg": "ogg",
	"audio/wav":       "wav",
	"audio/wave":      "wav",
	"audio/x-wav":     "wav",
	"audio/opus":      "opus",
}

var aliases = map[string]string{
	"oga":  "ogg",
	"wave": "wav",
	"fla":  "flac",
}

// TypeFromName derives a content type from a file name or URL path
func TypeFromName(name string) string {
	if i := strings.IndexAny(name, "?#"); i >= 0 {
		name = name[:i]
	}
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(name), "."))
	if alias, ok := aliases[ext]; ok {
		return alias
	}
	return ext
}

// TypeFromMIME maps a Content-Type header to a content type, or "" when
// the media type is not an audio type we know
func TypeFromMIME(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	return mimeTypes[strings.ToLower(mediaType)]
}

// NewDefaultRegistry registers the HTTP factory followed by local files
func NewDefaultRegistry(client *http.Client) *Registry {
	return NewRegistry(NewHTTPFactory(client), FileFactory{})
}
