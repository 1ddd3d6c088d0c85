// ABOUTME: Local file data source
// ABOUTME: Opens plain paths and file:// URIs
package source

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
)

// FileFactory opens local files
type FileFactory struct{}

// CanRead accepts file:// URIs and anything without a scheme
func (FileFactory) CanRead(uri string) bool {
	return strings.HasPrefix(uri, "file://") || !strings.Contains(uri, "://")
}

// Open opens the file behind uri
func (FileFactory) Open(_ context.Context, uri string) (DataSource, error) {
	p := strings.TrimPrefix(uri, "file://")
	f, err := os.Open(p)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	return &File{
		file: f,
		uri:  uri,
		size: info.Size(),
		typ:  TypeFromName(p),
	}, nil
}

// File is a DataSource backed by an os.File
type File struct {
	file        *os.File
	uri         string
	size        int64
	typ         string
	interrupted atomic.Bool
}

func (f *File) Read(p []byte) (int, error) {
	if f.interrupted.Load() {
		return 0, ErrInterrupted
	}
	return f.file.Read(p)
}

func (f *File) Seek(offset int64, whence int) (int64, error) {
	return f.file.Seek(offset, whence)
}

func (f *File) Close() error  { return f.file.Close() }
func (f *File) URI() string   { return f.uri }
func (f *File) Length() int64 { return f.size }
func (f *File) Type() string  { return f.typ }
func (f *File) Interrupt()    { f.interrupted.Store(true) }
