package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/OCAP2/mapmarkers/pkg/streaming"
	ws "github.com/gorilla/websocket"
)

const (
	exportQueueSize = 16
	ackQueueSize    = 16
	maxReconnect    = 10
	maxBackoff      = 30 * time.Second
	writeWait       = 10 * time.Second
	ackTimeout      = 10 * time.Second
)

// link is the connection to the map viewer. Export frames are queued and
// acknowledged one by one. State frames supersede each other, so only the
// newest unsent one is kept.
type link struct {
	mu      sync.Mutex
	conn    *ws.Conn
	closed  bool
	latest  []byte // last state frame, replayed after a reconnect
	pending bool   // latest has not been written on the current conn

	exports  chan []byte
	stateDue chan struct{}
	acks     chan streaming.AckMessage
	done     chan struct{}

	target string
	log    *slog.Logger
}

func newLink(log *slog.Logger) *link {
	return &link{
		exports:  make(chan []byte, exportQueueSize),
		stateDue: make(chan struct{}, 1),
		acks:     make(chan streaming.AckMessage, ackQueueSize),
		done:     make(chan struct{}),
		log:      log,
	}
}

// open dials rawURL with the secret as query parameter and starts the
// reader and writer of the connection.
func (l *link) open(rawURL, secret string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid websocket URL: %w", err)
	}
	q := u.Query()
	q.Set("secret", secret)
	u.RawQuery = q.Encode()
	l.target = u.String()

	conn, err := l.dial()
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.conn = conn
	l.mu.Unlock()

	l.start(conn)
	return nil
}

func (l *link) dial() (*ws.Conn, error) {
	conn, _, err := ws.DefaultDialer.Dial(l.target, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	return conn, nil
}

func (l *link) start(conn *ws.Conn) {
	go l.writer(conn)
	go l.reader(conn)
}

func writeFrame(conn *ws.Conn, data []byte) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteMessage(ws.TextMessage, data)
}

// takeState returns the pending state frame, if any, and marks it written.
func (l *link) takeState() []byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.pending {
		return nil
	}
	l.pending = false
	return l.latest
}

// writer is the only goroutine writing frames to conn. It exits on shutdown
// or on the first write error, handing over to reconnect.
func (l *link) writer(conn *ws.Conn) {
	for {
		var data []byte
		select {
		case <-l.done:
			return
		case data = <-l.exports:
		case <-l.stateDue:
			if data = l.takeState(); data == nil {
				continue
			}
		}

		if err := writeFrame(conn, data); err != nil {
			l.log.Warn("WebSocket write error", "error", err)
			go l.reconnect(conn)
			return
		}
	}
}

// reader routes ack frames received on conn to the acks channel.
func (l *link) reader(conn *ws.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-l.done:
				return
			default:
			}
			l.log.Warn("WebSocket read error", "error", err)
			go l.reconnect(conn)
			return
		}

		var ack streaming.AckMessage
		if err := json.Unmarshal(message, &ack); err != nil || ack.Type != streaming.TypeAck {
			l.log.Debug("Ignoring viewer message", "raw", string(message))
			continue
		}

		select {
		case l.acks <- ack:
		default:
			l.log.Debug("Ack queue full, dropping", "for", ack.For, "id", ack.ID)
		}
	}
}

// reconnect replaces broken with a fresh connection, backing off
// exponentially between attempts. Reader and writer may both report the same
// broken conn; only the first report does anything.
func (l *link) reconnect(broken *ws.Conn) {
	l.mu.Lock()
	if l.closed || l.conn != broken {
		l.mu.Unlock()
		return
	}
	_ = broken.Close()
	l.conn = nil
	l.mu.Unlock()

	backoff := time.Second
	for attempt := 1; attempt <= maxReconnect; attempt++ {
		l.log.Info("Reconnecting to WebSocket", "attempt", attempt, "backoff", backoff)
		select {
		case <-l.done:
			return
		case <-time.After(backoff):
		}

		conn, err := l.dial()
		if err != nil {
			l.log.Warn("Reconnect dial failed", "attempt", attempt, "error", err)
			backoff = min(backoff*2, maxBackoff)
			continue
		}

		l.mu.Lock()
		if l.closed {
			l.mu.Unlock()
			_ = conn.Close()
			return
		}
		l.conn = conn
		l.pending = l.latest != nil
		l.mu.Unlock()

		l.log.Info("WebSocket reconnected", "attempt", attempt)
		l.start(conn)
		l.signalState()
		return
	}

	l.log.Error("WebSocket reconnect failed after max attempts", "maxAttempts", maxReconnect)
}

func (l *link) signalState() {
	select {
	case l.stateDue <- struct{}{}:
	default:
	}
}

// publishState replaces the pending state frame. It never blocks.
func (l *link) publishState(data []byte) {
	l.mu.Lock()
	l.latest = data
	l.pending = true
	l.mu.Unlock()
	l.signalState()
}

// deliver queues an export frame and waits until the viewer acknowledges
// the export id. Without a deadline on ctx the wait is bounded by ackTimeout.
func (l *link) deliver(ctx context.Context, data []byte, id string) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, ackTimeout)
		defer cancel()
	}

	select {
	case l.exports <- data:
	case <-ctx.Done():
		return fmt.Errorf("timeout queueing export %s: %w", id, ctx.Err())
	case <-l.done:
		return fmt.Errorf("connection closed before export %s was sent", id)
	}

	for {
		select {
		case ack := <-l.acks:
			if ack.For == streaming.TypeExport && ack.ID == id {
				return nil
			}
			l.log.Debug("Unmatched ack", "for", ack.For, "id", ack.ID, "want", id)
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for ack of export %s: %w", id, ctx.Err())
		case <-l.done:
			return fmt.Errorf("connection closed while waiting for ack of export %s", id)
		}
	}
}

// close sends a close frame and stops reader, writer and any reconnect.
func (l *link) close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.done)
	conn := l.conn
	l.conn = nil
	l.mu.Unlock()

	if conn == nil {
		return nil
	}
	_ = conn.WriteControl(
		ws.CloseMessage,
		ws.FormatCloseMessage(ws.CloseNormalClosure, ""),
		time.Now().Add(writeWait),
	)
	return conn.Close()
}
