package socketserver

import (
	"errors"
	"sync"
	"time"

	"github.com/codefionn/diffbridge/internal/consts"
	"github.com/codefionn/diffbridge/internal/logger"
	"github.com/codefionn/diffbridge/internal/registry"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = consts.Timeout10Seconds

	// Time allowed to read the next pong message from the peer.
	pongWait = consts.Timeout60Seconds

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. Diff requests carry whole files.
	maxMessageSize = consts.BufferSize10MB
)

var (
	// ErrPeerClosed is returned by Send after the peer was closed
	ErrPeerClosed = errors.New("peer closed")
	// ErrSendBufferFull is returned by Send when the send queue is full
	ErrSendBufferFull = errors.New("peer send buffer full")
)

// Handler receives the traffic of every peer
type Handler interface {
	HandleMessage(source registry.Socket, raw []byte)
	HandleClose(source registry.Socket)
}

// Peer represents one WebSocket connection
type Peer struct {
	id      string
	conn    *websocket.Conn
	hub     *Hub
	handler Handler

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

var _ registry.Socket = (*Peer)(nil)

// NewPeer wraps an upgraded connection
func NewPeer(conn *websocket.Conn, hub *Hub, handler Handler) *Peer {
	return &Peer{
		id:      uuid.NewString(),
		conn:    conn,
		hub:     hub,
		handler: handler,
		send:    make(chan []byte, consts.SendQueueSize),
	}
}

// ID returns the peer's unique identifier
func (p *Peer) ID() string {
	return p.id
}

// IsOpen reports whether Close has not been called yet
func (p *Peer) IsOpen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.closed
}

// Send queues data as one text frame
func (p *Peer) Send(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPeerClosed
	}
	select {
	case p.send <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Close ends the write pump, which sends a close frame and closes the
// connection. Safe to call more than once.
func (p *Peer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true
	close(p.send)
}

// Start runs both pumps in the background
func (p *Peer) Start() {
	go p.WritePump()
	go p.ReadPump()
}

// ReadPump pumps frames from the connection to the handler
func (p *Peer) ReadPump() {
	defer func() {
		p.Close()
		p.hub.Unregister(p)
		p.conn.Close()
		p.handler.HandleClose(p)
	}()

	p.conn.SetReadLimit(maxMessageSize)
	_ = p.conn.SetReadDeadline(time.Now().Add(pongWait))
	p.conn.SetPongHandler(func(string) error {
		return p.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, message, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				logger.Error("WebSocket read error on %s: %v", p.id, err)
			}
			return
		}
		// Any frame proves the peer is alive
		_ = p.conn.SetReadDeadline(time.Now().Add(pongWait))

		if messageType != websocket.TextMessage {
			logger.Debug("Ignoring non-text frame from %s", p.id)
			continue
		}

		logger.Debug("WebSocket received from %s: %d bytes", p.id, len(message))
		p.handler.HandleMessage(p, message)
	}
}

// WritePump pumps queued messages to the connection
func (p *Peer) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		p.conn.Close()
	}()

	for {
		select {
		case message, ok := <-p.send:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Close was called
				_ = p.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			if err := p.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logger.Error("Failed to write message to %s: %v", p.id, err)
				return
			}

		case <-ticker.C:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
