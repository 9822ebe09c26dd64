package transport

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gsharad007/spacerama/internal/telemetry"
)

const (
	writeWait            = 10 * time.Second
	defaultInboxCapacity = 1024
)

// WebSocketConfig describes a relay connection.
type WebSocketConfig struct {
	// URL is the relay endpoint, e.g. ws://127.0.0.1:5000/ws.
	URL           string
	Peer          Peer
	InboxCapacity int
	Dialer        *websocket.Dialer
	Logger        telemetry.Logger
	Metrics       telemetry.Metrics
}

// WebSocket is a relay client. A reader goroutine moves inbound frames into
// a bounded inbox; Send writes directly under a write lock.
type WebSocket struct {
	conn   *websocket.Conn
	peer   Peer
	inbox  *Inbox
	logger telemetry.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
	done      chan struct{}
}

// DialWebSocket connects to the relay and starts the reader. The connection
// is closed when ctx is cancelled.
func DialWebSocket(ctx context.Context, cfg WebSocketConfig) (*WebSocket, error) {
	if cfg.Peer == "" || cfg.Peer == Broadcast {
		return nil, fmt.Errorf("dial relay: invalid peer %q", cfg.Peer)
	}
	target, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}
	query := target.Query()
	query.Set("id", string(cfg.Peer))
	target.RawQuery = query.Encode()

	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, target.String(), nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial relay %s: %w", target.Redacted(), err)
	}

	capacity := cfg.InboxCapacity
	if capacity <= 0 {
		capacity = defaultInboxCapacity
	}
	ws := &WebSocket{
		conn:   conn,
		peer:   cfg.Peer,
		inbox:  NewInbox(capacity, cfg.Metrics),
		logger: cfg.Logger,
		closed: make(chan struct{}),
		done:   make(chan struct{}),
	}
	go ws.readLoop()
	go func() {
		select {
		case <-ctx.Done():
			ws.Close()
		case <-ws.closed:
		}
	}()
	return ws, nil
}

func (w *WebSocket) readLoop() {
	defer close(w.done)
	for {
		_, data, err := w.conn.ReadMessage()
		if err != nil {
			w.shutdown()
			return
		}
		frame, err := DecodeFrame(data)
		if err != nil {
			w.logf("[transport] discarding malformed relay frame: %v", err)
			continue
		}
		w.inbox.Push(frame.Payload)
	}
}

func (w *WebSocket) Send(peer Peer, payload []byte) error {
	select {
	case <-w.closed:
		return ErrClosed
	default:
	}
	data, err := EncodeFrame(RelayFrame{From: w.peer, To: peer, Payload: payload})
	if err != nil {
		return err
	}
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := w.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return fmt.Errorf("relay write: %w", err)
	}
	return nil
}

func (w *WebSocket) Recv() [][]byte {
	return w.inbox.Drain()
}

// Done is closed once the reader has exited.
func (w *WebSocket) Done() <-chan struct{} {
	return w.done
}

// Close sends a close frame, tears down the socket and waits for the reader.
func (w *WebSocket) Close() error {
	w.writeMu.Lock()
	select {
	case <-w.closed:
	default:
		w.conn.SetWriteDeadline(time.Now().Add(writeWait))
		w.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}
	w.writeMu.Unlock()
	w.shutdown()
	<-w.done
	return nil
}

func (w *WebSocket) shutdown() {
	w.closeOnce.Do(func() {
		close(w.closed)
		w.conn.Close()
	})
}

func (w *WebSocket) logf(format string, args ...any) {
	if w.logger == nil {
		return
	}
	w.logger.Printf(format, args...)
}
