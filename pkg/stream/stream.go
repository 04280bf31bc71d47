// Package stream presents a random-access block image as a sequential byte
// stream for backup and restore pipelines.
package stream

import (
	"errors"
	"fmt"
	"io"

	"k8s.io/klog/v2"

	"git.srvlab.io/whiskey/rbd-volume-driver/pkg/observability"
	"git.srvlab.io/whiskey/rbd-volume-driver/pkg/rbd"
)

// ErrInvalidSeek indicates seek arguments that make no sense: an
// unrecognized origin, or a resulting offset before the start of the
// stream. Use errors.Is() to check for it.
var ErrInvalidSeek = errors.New("invalid seek")

// Image is the slice of image behavior the stream needs.
type Image interface {
	Size() (uint64, error)
	ReadAt(p []byte, off int64) (int, error)
	WriteAt(p []byte, off int64) (int, error)
	Flush() error
}

// Config holds configuration for a Stream.
type Config struct {
	// Image is the open image to stream over (required). The image's
	// lifetime is owned by the caller, not the stream.
	Image Image

	// Metrics is an optional recorder for streamed byte counts (may be nil)
	Metrics *observability.Metrics
}

// Stream is a sequential cursor over an image. It implements io.Reader,
// io.Writer and io.Seeker. A Stream is owned by a single goroutine; it is
// not safe for concurrent use.
type Stream struct {
	image   Image
	metrics *observability.Metrics
	offset  int64
	size    uint64 // size reported by the backend at last refresh
}

// New creates a Stream positioned at offset zero.
func New(config Config) (*Stream, error) {
	if config.Image == nil {
		return nil, fmt.Errorf("Image is required")
	}
	return &Stream{image: config.Image, metrics: config.Metrics}, nil
}

// Offset returns the current stream offset.
func (s *Stream) Offset() int64 {
	return s.offset
}

// refreshSize re-reads the image size from the backend.
func (s *Stream) refreshSize() error {
	size, err := s.image.Size()
	if err != nil {
		return fmt.Errorf("failed to get image size: %w", err)
	}
	s.size = size
	return nil
}

// Read reads up to len(p) bytes at the current offset and advances it by
// the number of bytes read. Reads past the end of the image are clamped to
// the remaining bytes. At end of image Read returns 0, io.EOF: the
// designed end-of-stream outcome, not a failure.
func (s *Stream) Read(p []byte) (int, error) {
	if err := s.refreshSize(); err != nil {
		return 0, err
	}

	if uint64(s.offset) >= s.size {
		return 0, io.EOF
	}

	remaining := s.size - uint64(s.offset)
	if uint64(len(p)) > remaining {
		p = p[:remaining]
	}

	n, err := s.image.ReadAt(p, s.offset)
	s.offset += int64(n)
	if s.metrics != nil {
		s.metrics.RecordStreamRead(n)
	}
	if err == io.EOF && n > 0 {
		// The clamped read ended exactly at the image boundary; the
		// next Read reports end of stream.
		err = nil
	}
	return n, err
}

// Write writes p at the current offset and advances it by the number of
// bytes written. The underlying image is never grown; writing past its end
// is a backend error.
func (s *Stream) Write(p []byte) (int, error) {
	at := s.offset
	n, err := s.image.WriteAt(p, at)
	s.offset += int64(n)
	if s.metrics != nil {
		s.metrics.RecordStreamWrite(n)
	}
	if err != nil {
		return n, fmt.Errorf("failed to write %d bytes at offset %d: %w", len(p), at, err)
	}
	return n, nil
}

// Seek sets the offset relative to io.SeekStart, io.SeekCurrent or
// io.SeekEnd. End-relative seeks use the size the backend reports at call
// time. A resulting negative offset or an unrecognized whence fails with
// ErrInvalidSeek.
func (s *Stream) Seek(offset int64, whence int) (int64, error) {
	var next int64
	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next = s.offset + offset
	case io.SeekEnd:
		if err := s.refreshSize(); err != nil {
			return s.offset, err
		}
		next = int64(s.size) + offset
	default:
		return s.offset, fmt.Errorf("%w: whence=%d not supported", ErrInvalidSeek, whence)
	}

	if next < 0 {
		return s.offset, fmt.Errorf("%w: resulting offset %d is negative", ErrInvalidSeek, next)
	}

	s.offset = next
	return s.offset, nil
}

// Flush persists outstanding writes. A backend without flush support is
// logged and treated as a no-op, not an error.
func (s *Stream) Flush() error {
	if err := s.image.Flush(); err != nil {
		if errors.Is(err, rbd.ErrNotSupported) {
			klog.Warningf("flush() not supported by the connected backend version: %v", err)
			return nil
		}
		return fmt.Errorf("failed to flush image: %w", err)
	}
	return nil
}

// Close is deliberately a no-op. The image lifetime belongs to the owning
// handle, and flushing implicitly during stream teardown after the image
// may already be closed is unsafe against certain backend versions.
func (s *Stream) Close() error {
	return nil
}
