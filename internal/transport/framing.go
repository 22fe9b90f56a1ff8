package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

// FrameReader splits a byte stream into newline-delimited JSON frames.
// Short reads are reassembled; blank lines are skipped.
type FrameReader struct {
	r   *bufio.Reader
	max int
}

func NewFrameReader(r io.Reader, maxBytes int) *FrameReader {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxFrameBytes
	}
	return &FrameReader{r: bufio.NewReaderSize(r, 64<<10), max: maxBytes}
}

// Next returns the next frame. Errors wrap ErrClosed or ErrCorrupt.
func (f *FrameReader) Next() ([]byte, error) {
	var buf []byte
	for {
		chunk, err := f.r.ReadSlice('\n')
		buf = append(buf, chunk...)
		if len(buf) > f.max {
			return nil, fmt.Errorf("%w: frame exceeds %d bytes", ErrCorrupt, f.max)
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if err != nil {
			if len(bytes.TrimSpace(buf)) > 0 {
				return nil, fmt.Errorf("%w: truncated frame: %v", ErrClosed, err)
			}
			return nil, fmt.Errorf("%w: %v", ErrClosed, err)
		}

		line := bytes.TrimSpace(buf)
		if len(line) == 0 {
			buf = nil
			continue
		}
		if !json.Valid(line) {
			return nil, fmt.Errorf("%w: %q", ErrCorrupt, preview(line))
		}
		return line, nil
	}
}

// EncodeFrame returns frame compacted onto a single line with the trailing
// newline delimiter.
func EncodeFrame(frame []byte) ([]byte, error) {
	var out bytes.Buffer
	if err := json.Compact(&out, frame); err != nil {
		return nil, fmt.Errorf("transport: encode frame: %w", err)
	}
	out.WriteByte('\n')
	return out.Bytes(), nil
}

func preview(b []byte) []byte {
	if len(b) > 120 {
		return append(b[:120:120], "..."...)
	}
	return b
}

// inbox hands frames from a reader goroutine to Receive callers and
// remembers the first failure.
type inbox struct {
	frames  chan []byte
	done    chan struct{}
	closing chan struct{}

	failOnce  sync.Once
	closeOnce sync.Once
	err       error
}

func newInbox() *inbox {
	return &inbox{
		frames:  make(chan []byte, 64),
		done:    make(chan struct{}),
		closing: make(chan struct{}),
	}
}

// pump reads frames until next fails or the inbox is shut.
func (in *inbox) pump(next func() ([]byte, error)) {
	for {
		frame, err := next()
		if err != nil {
			in.fail(err)
			return
		}
		select {
		case in.frames <- frame:
		case <-in.closing:
			in.fail(ErrClosed)
			return
		}
	}
}

func (in *inbox) fail(err error) {
	in.failOnce.Do(func() {
		in.err = err
		close(in.done)
	})
}

func (in *inbox) shut() {
	in.closeOnce.Do(func() { close(in.closing) })
}

func (in *inbox) receive(ctx context.Context) ([]byte, error) {
	select {
	case f := <-in.frames:
		return f, nil
	default:
	}
	select {
	case f := <-in.frames:
		return f, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-in.done:
		// Frames read before the failure are still delivered.
		select {
		case f := <-in.frames:
			return f, nil
		default:
			return nil, in.err
		}
	}
}
