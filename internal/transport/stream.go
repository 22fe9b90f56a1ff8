package transport

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
)

// Stream is a Channel over a reader/writer pair carrying NDJSON, such as
// a child's stdout/stdin or an in-process pipe.
type Stream struct {
	r io.ReadCloser
	w io.WriteCloser

	writeMu sync.Mutex
	in      *inbox

	closed    atomic.Bool
	closeOnce sync.Once
}

// NewStream starts reading frames from r. maxBytes <= 0 uses
// DefaultMaxFrameBytes.
func NewStream(r io.ReadCloser, w io.WriteCloser, maxBytes int) *Stream {
	s := &Stream{r: r, w: w, in: newInbox()}
	frames := NewFrameReader(r, maxBytes)
	go s.in.pump(frames.Next)
	return s
}

func (s *Stream) Send(ctx context.Context, frame []byte) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	line, err := EncodeFrame(frame)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.w.Write(line); err != nil {
		return fmt.Errorf("%w: write: %v", ErrClosed, err)
	}
	return nil
}

func (s *Stream) Receive(ctx context.Context) ([]byte, error) {
	return s.in.receive(ctx)
}

// Close releases both ends. The peer sees EOF on its input.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.in.shut()
		_ = s.w.Close()
		_ = s.r.Close()
	})
	return nil
}
