// ABOUTME: Error taxonomy shared by streams, players and transports
// ABOUTME: Sentinel errors are wrapped with context and matched with errors.Is
package audio

import "errors"

var (
	// ErrUnsupportedFormat means no registered decoder claims the content type
	ErrUnsupportedFormat = errors.New("unsupported format")

	// ErrOpenFailed means the data source or the decoder could not be opened
	ErrOpenFailed = errors.New("open failed")

	// ErrDecode is a mid-stream decoder failure
	ErrDecode = errors.New("decode error")

	// ErrOutput is a device level failure reported by an output
	ErrOutput = errors.New("output error")

	// ErrSeekFailed means no seek occurred and the position is unchanged
	ErrSeekFailed = errors.New("seek failed")

	// ErrInvalidState is returned for operations the current state does not allow
	ErrInvalidState = errors.New("invalid state")
)
