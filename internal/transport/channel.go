// Package transport moves framed JSON messages between toolrelay and a tool
// server. A Channel carries the frames; a Lifecycle is whatever backs the
// channel (a child process or a socket) and reports when it goes away.
package transport

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned once the peer has closed its side, or after Close.
	ErrClosed = errors.New("transport: channel closed")
	// ErrCorrupt is returned for a frame that cannot be parsed. It is fatal
	// to the channel; no further frames are read.
	ErrCorrupt = errors.New("transport: corrupt frame")
)

// DefaultMaxFrameBytes bounds a single frame.
const DefaultMaxFrameBytes = 4 << 20

// Channel is a bidirectional pipe of complete JSON frames.
type Channel interface {
	// Send writes one frame. Concurrent callers are serialized.
	Send(ctx context.Context, frame []byte) error
	// Receive blocks until a full frame is available, the channel fails,
	// or ctx is done. Failures are sticky.
	Receive(ctx context.Context) ([]byte, error)
	// Close releases the pipes. It is idempotent and does not stop the peer.
	Close() error
}

// Lifecycle tracks the thing on the other end of a Channel.
type Lifecycle interface {
	// Done is closed when the peer has gone away.
	Done() <-chan struct{}
	// Err reports why, once Done is closed.
	Err() error
	// Terminate stops the peer, waiting for a graceful exit until ctx is done.
	Terminate(ctx context.Context) error
}

// Kind selects the transport implementation.
type Kind string

const (
	KindStdio     Kind = "stdio"
	KindWebsocket Kind = "websocket"
)

// Spec describes how to reach one tool server.
type Spec struct {
	Kind    Kind
	Command string
	Args    []string
	Env     map[string]string
	Dir     string
	URL     string
	Headers map[string]string

	MaxFrameBytes int
}

func (s Spec) maxFrame() int {
	if s.MaxFrameBytes <= 0 {
		return DefaultMaxFrameBytes
	}
	return s.MaxFrameBytes
}

// Open starts the peer described by spec and returns its channel and lifecycle.
func Open(ctx context.Context, spec Spec) (Channel, Lifecycle, error) {
	switch spec.Kind {
	case "", KindStdio:
		p, err := StartProcess(spec)
		if err != nil {
			return nil, nil, err
		}
		return p, p, nil
	case KindWebsocket:
		ws, err := DialWebsocket(ctx, spec)
		if err != nil {
			return nil, nil, err
		}
		return ws, ws, nil
	}
	return nil, nil, fmt.Errorf("transport: unknown kind %q", spec.Kind)
}
