// ABOUTME: HTTP(S) data source with Range based seeking
// ABOUTME: Streams a remote track and reconnects at an offset on seek
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

// HTTPFactory opens http and https URIs
type HTTPFactory struct {
	client *http.Client
}

// NewHTTPFactory creates a factory using client, or http.DefaultClient
func NewHTTPFactory(client *http.Client) *HTTPFactory {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPFactory{client: client}
}

// CanRead accepts http:// and https:// URIs
func (h *HTTPFactory) CanRead(uri string) bool {
	return strings.HasPrefix(uri, "http://") || strings.HasPrefix(uri, "https://")
}

// Open issues the initial request and reads length and content type
func (h *HTTPFactory) Open(ctx context.Context, uri string) (DataSource, error) {
	ctx, cancel := context.WithCancel(ctx)
	s := &HTTP{
		client: h.client,
		uri:    uri,
		ctx:    ctx,
		cancel: cancel,
		length: -1,
	}
	if err := s.connect(); err != nil {
		cancel()
		return nil, err
	}

	s.typ = TypeFromMIME(s.body.contentType)
	if s.typ == "" {
		if u, err := url.Parse(uri); err == nil {
			s.typ = TypeFromName(u.Path)
		}
	}
	return s, nil
}

type httpBody struct {
	rc          io.ReadCloser
	contentType string
}

// HTTP is a DataSource reading from an HTTP response body
type HTTP struct {
	client *http.Client
	uri    string
	typ    string

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	body     *httpBody
	offset   int64
	length   int64
	seekable bool
}

// connect requests the resource from the current offset
func (s *HTTP) connect() error {
	req, err := http.NewRequestWithContext(s.ctx, http.MethodGet, s.uri, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if s.offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", s.offset))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		if s.ctx.Err() != nil {
			return ErrInterrupted
		}
		return fmt.Errorf("request failed: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		if s.offset > 0 {
			// server ignored the range
			_ = resp.Body.Close()
			return fmt.Errorf("%w: server ignored range request", ErrNotSeekable)
		}
		s.length = resp.ContentLength
		s.seekable = resp.Header.Get("Accept-Ranges") == "bytes"
	case http.StatusPartialContent:
		s.seekable = true
		if total := totalFromContentRange(resp.Header.Get("Content-Range")); total >= 0 {
			s.length = total
		}
	default:
		_ = resp.Body.Close()
		return fmt.Errorf("unexpected status: %s", resp.Status)
	}

	s.body = &httpBody{rc: resp.Body, contentType: resp.Header.Get("Content-Type")}
	log.Debug().Str("uri", s.uri).Int64("offset", s.offset).Int64("length", s.length).Msg("http source connected")
	return nil
}

func (s *HTTP) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx.Err() != nil {
		return 0, ErrInterrupted
	}
	if s.body == nil {
		if err := s.connect(); err != nil {
			return 0, err
		}
	}

	n, err := s.body.rc.Read(p)
	s.offset += int64(n)
	if err != nil && !errors.Is(err, io.EOF) && s.ctx.Err() != nil {
		err = ErrInterrupted
	}
	return n, err
}

// Seek moves the read offset; the next Read reconnects with a Range header
func (s *HTTP) Seek(offset int64, whence int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = s.offset + offset
	case io.SeekEnd:
		if s.length < 0 {
			return s.offset, fmt.Errorf("%w: unknown length", ErrNotSeekable)
		}
		abs = s.length + offset
	default:
		return s.offset, fmt.Errorf("invalid whence: %d", whence)
	}
	if abs < 0 {
		return s.offset, fmt.Errorf("negative position: %d", abs)
	}
	if abs == s.offset {
		return abs, nil
	}
	if !s.seekable {
		return s.offset, ErrNotSeekable
	}

	if s.body != nil {
		_ = s.body.rc.Close()
		s.body = nil
	}
	s.offset = abs
	return abs, nil
}

// Close cancels any request in flight and releases the body
func (s *HTTP) Close() error {
	s.cancel()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.body != nil {
		err := s.body.rc.Close()
		s.body = nil
		return err
	}
	return nil
}

func (s *HTTP) URI() string   { return s.uri }
func (s *HTTP) Length() int64 { return s.length }
func (s *HTTP) Type() string  { return s.typ }

// Interrupt cancels the request context, unblocking a pending Read
func (s *HTTP) Interrupt() { s.cancel() }

// totalFromContentRange parses "bytes a-b/total"
func totalFromContentRange(h string) int64 {
	i := strings.LastIndexByte(h, '/')
	if i < 0 || h[i+1:] == "*" {
		return -1
	}
	total, err := strconv.ParseInt(h[i+1:], 10, 64)
	if err != nil {
		return -1
	}
	return total
}
