package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// WebsocketChannel carries one JSON frame per websocket text message. The
// connection itself is the Lifecycle.
type WebsocketChannel struct {
	conn *websocket.Conn
	url  string

	writeMu sync.Mutex
	in      *inbox

	closed    atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

// DialWebsocket connects to spec.URL with spec.Headers.
func DialWebsocket(ctx context.Context, spec Spec) (*WebsocketChannel, error) {
	if spec.URL == "" {
		return nil, errors.New("transport: websocket url is required")
	}
	header := http.Header{}
	for k, v := range spec.Headers {
		header.Set(k, v)
	}

	dialer := websocket.DefaultDialer
	conn, _, err := dialer.DialContext(ctx, spec.URL, header)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", spec.URL, err)
	}
	conn.SetReadLimit(int64(spec.maxFrame()))

	ws := &WebsocketChannel{
		conn: conn,
		url:  spec.URL,
		in:   newInbox(),
		done: make(chan struct{}),
	}
	go func() {
		defer close(ws.done)
		ws.in.pump(ws.next)
	}()
	return ws, nil
}

func (ws *WebsocketChannel) next() ([]byte, error) {
	for {
		mt, data, err := ws.conn.ReadMessage()
		if err != nil {
			if errors.Is(err, websocket.ErrReadLimit) {
				return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
			}
			return nil, fmt.Errorf("%w: %v", ErrClosed, err)
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		frame := bytes.TrimSpace(data)
		if len(frame) == 0 {
			continue
		}
		if !json.Valid(frame) {
			return nil, fmt.Errorf("%w: %q", ErrCorrupt, preview(frame))
		}
		return frame, nil
	}
}

func (ws *WebsocketChannel) Send(ctx context.Context, frame []byte) error {
	if ws.closed.Load() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	ws.writeMu.Lock()
	defer ws.writeMu.Unlock()
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Time{}
	}
	_ = ws.conn.SetWriteDeadline(deadline)
	if err := ws.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("%w: write: %v", ErrClosed, err)
	}
	return nil
}

func (ws *WebsocketChannel) Receive(ctx context.Context) ([]byte, error) {
	return ws.in.receive(ctx)
}

// Close sends a close control message and drops the connection.
func (ws *WebsocketChannel) Close() error {
	ws.closeOnce.Do(func() {
		ws.closed.Store(true)
		ws.in.shut()
		ws.writeMu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = ws.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		ws.writeMu.Unlock()
		_ = ws.conn.Close()
	})
	return nil
}

func (ws *WebsocketChannel) Done() <-chan struct{} { return ws.done }

func (ws *WebsocketChannel) Err() error {
	select {
	case <-ws.done:
		return ws.in.err
	default:
		return nil
	}
}

func (ws *WebsocketChannel) Terminate(ctx context.Context) error {
	_ = ws.Close()
	select {
	case <-ws.done:
	case <-ctx.Done():
	}
	return nil
}
