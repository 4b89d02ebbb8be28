package socketclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/codefionn/diffbridge/internal/bridge"
	"github.com/codefionn/diffbridge/internal/consts"
	"github.com/codefionn/diffbridge/internal/logger"
	"github.com/gorilla/websocket"
)

// ConnectionState represents the current state of the connection
type ConnectionState int

const (
	// StateDisconnected indicates the client is not connected
	StateDisconnected ConnectionState = iota
	// StateConnecting indicates the client is dialing or identifying
	StateConnecting
	// StateConnected indicates the client is connected and identified
	StateConnected
	// StateClosed indicates the client has been closed
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ErrClosed is returned once the connection has ended
var ErrClosed = errors.New("connection closed")

// SocketError is an error envelope sent by the server
type SocketError struct {
	Code    string
	Message string
}

func (e *SocketError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Message is one decoded server message. Raw keeps the full payload.
type Message struct {
	Type    string          `json:"type,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
	Code    string          `json:"code,omitempty"`
	Message string          `json:"message,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// Decode unmarshals the full payload into v
func (m *Message) Decode(v any) error {
	return json.Unmarshal(m.Raw, v)
}

func (m *Message) asError() *SocketError {
	if m.Type != bridge.MessageTypeError {
		return nil
	}
	return &SocketError{Code: m.Code, Message: m.Message}
}

// Config holds client configuration
type Config struct {
	// URL is the WebSocket endpoint, e.g. ws://127.0.0.1:4711/ws
	URL string
	// ClientType is sent in identify: vim, claude, editor or assistant.
	// Empty skips identification.
	ClientType string
	// ConnectTimeout bounds dialing and identification
	ConnectTimeout time.Duration
	// WriteTimeout is the deadline for a single write
	WriteTimeout time.Duration
	// AutoPong answers relay pings from the server's liveness probe
	AutoPong bool
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		ConnectTimeout: consts.Timeout10Seconds,
		WriteTimeout:   consts.Timeout10Seconds,
		AutoPong:       true,
	}
}

// URLForPort builds the WebSocket URL of a server on host:port
func URLForPort(host string, port int) string {
	return "ws://" + net.JoinHostPort(host, strconv.Itoa(port)) + "/ws"
}

// Client is one bridge peer
type Client struct {
	config *Config

	conn    *websocket.Conn
	writeMu sync.Mutex
	state   atomic.Int32 // ConnectionState

	incoming     chan *Message
	connectionID atomic.Value // string

	closeOnce sync.Once
	done      chan struct{}
}

// NewClient creates a client for url that identifies as clientType
func NewClient(url, clientType string) (*Client, error) {
	config := DefaultConfig()
	config.URL = url
	config.ClientType = clientType
	return NewClientWithConfig(config)
}

// NewClientWithConfig creates a client with custom configuration
func NewClientWithConfig(config *Config) (*Client, error) {
	if config.URL == "" {
		return nil, errors.New("server URL is required")
	}

	client := &Client{
		config:   config,
		incoming: make(chan *Message, consts.SendQueueSize),
		done:     make(chan struct{}),
	}
	client.state.Store(int32(StateDisconnected))
	client.connectionID.Store("")
	return client, nil
}

// Connect dials the server and identifies when ClientType is set
func (c *Client) Connect(ctx context.Context) error {
	if c.State() != StateDisconnected {
		return errors.New("already connected")
	}
	c.setState(StateConnecting)

	ctx, cancel := context.WithTimeout(ctx, c.config.ConnectTimeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.config.URL, nil)
	if err != nil {
		c.setState(StateDisconnected)
		return fmt.Errorf("failed to connect to %s: %w", c.config.URL, err)
	}
	c.conn = conn
	go c.readPump()

	if c.config.ClientType != "" {
		if _, err := c.Identify(ctx, c.config.ClientType); err != nil {
			c.Close()
			return fmt.Errorf("identify failed: %w", err)
		}
	}

	c.setState(StateConnected)
	return nil
}

// Identify announces the client's role and returns the connection ID
// assigned by the server
func (c *Client) Identify(ctx context.Context, clientType string) (string, error) {
	if err := c.Send(map[string]any{"type": bridge.MessageTypeIdentify, "client_type": clientType}); err != nil {
		return "", err
	}

	msg, err := c.Expect(ctx, bridge.MessageTypeIdentifyResponse)
	if err != nil {
		return "", err
	}

	var resp bridge.IdentifyResponse
	if err := msg.Decode(&resp); err != nil {
		return "", fmt.Errorf("failed to parse identify response: %w", err)
	}
	c.connectionID.Store(resp.ConnectionID)
	return resp.ConnectionID, nil
}

// Send writes v as one JSON text frame
func (c *Client) Send(v any) error {
	if c.conn == nil {
		return errors.New("not connected")
	}
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	if err := c.conn.WriteJSON(v); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// Next returns the next message from the server
func (c *Client) Next(ctx context.Context) (*Message, error) {
	select {
	case msg, ok := <-c.incoming:
		if !ok {
			return nil, ErrClosed
		}
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Expect skips messages until one of msgType arrives. An error envelope on
// the way is returned as *SocketError.
func (c *Client) Expect(ctx context.Context, msgType string) (*Message, error) {
	for {
		msg, err := c.Next(ctx)
		if err != nil {
			return nil, err
		}
		if msg.Type == msgType {
			return msg, nil
		}
		if sockErr := msg.asError(); sockErr != nil {
			return nil, sockErr
		}
		logger.Debug("socketclient: skipping %q while waiting for %q", msg.Type, msgType)
	}
}

// ConnectionID returns the ID assigned on identify
func (c *Client) ConnectionID() string {
	return c.connectionID.Load().(string)
}

// State returns the current connection state
func (c *Client) State() ConnectionState {
	return ConnectionState(c.state.Load())
}

func (c *Client) setState(state ConnectionState) {
	c.state.Store(int32(state))
}

// Close sends a close frame and closes the connection. Safe to call more
// than once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.setState(StateClosed)
		if c.conn == nil {
			return
		}

		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(c.config.WriteTimeout))
		c.writeMu.Unlock()

		err = c.conn.Close()
	})
	return err
}

// readPump decodes frames into the incoming queue until the connection ends
func (c *Client) readPump() {
	defer func() {
		close(c.incoming)
		if c.State() != StateClosed {
			c.setState(StateDisconnected)
		}
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("socketclient: read error: %v", err)
			}
			return
		}

		msg := &Message{Raw: json.RawMessage(data)}
		if err := json.Unmarshal(data, msg); err != nil {
			logger.Warn("socketclient: dropping unparsable message: %v", err)
			continue
		}

		if c.config.AutoPong && msg.Type == bridge.MessageTypePing {
			if err := c.Send(bridge.Pong{Type: bridge.MessageTypePong, ID: msg.ID}); err != nil {
				logger.Warn("socketclient: failed to answer ping: %v", err)
			}
			continue
		}

		select {
		case c.incoming <- msg:
		case <-c.done:
			return
		}
	}
}

// FetchStatus reads the diagnostics endpoint of the server on host:port
func FetchStatus(ctx context.Context, httpClient *http.Client, host string, port int) (*bridge.Status, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	url := "http://" + net.JoinHostPort(host, strconv.Itoa(port)) + "/status"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s from %s", resp.Status, url)
	}

	var status bridge.Status
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("failed to decode status: %w", err)
	}
	return &status, nil
}
