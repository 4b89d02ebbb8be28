package socketserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/codefionn/diffbridge/internal/consts"
	"github.com/codefionn/diffbridge/internal/logger"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

// StatusFunc returns the diagnostics served on /status
type StatusFunc func() any

// Server is the WebSocket listener
type Server struct {
	addr     string
	handler  Handler
	status   StatusFunc
	hub      *Hub
	router   *httprouter.Router
	upgrader websocket.Upgrader

	mu         sync.Mutex
	listener   net.Listener
	httpServer *http.Server
	stopOnce   sync.Once
}

// NewServer creates a server for addr ("host:port", port 0 picks a free one)
func NewServer(addr string, handler Handler, status StatusFunc) *Server {
	s := &Server{
		addr:    addr,
		handler: handler,
		status:  status,
		hub:     NewHub(),
		router:  httprouter.New(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  consts.BufferSize1KB,
			WriteBufferSize: consts.BufferSize1KB,
			CheckOrigin: func(r *http.Request) bool {
				return true // loopback only
			},
		},
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router.GET("/", s.handleWebSocket)
	s.router.GET("/ws", s.handleWebSocket)
	s.router.GET("/status", s.handleStatus)
}

// Handler returns the HTTP handler, for embedding in tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the router so callers can mount extra routes before Listen
func (s *Server) Router() *httprouter.Router {
	return s.router
}

// Hub returns the peer hub
func (s *Server) Hub() *Hub {
	return s.hub
}

// Listen binds the listening socket and starts the hub. Addr is valid
// afterwards.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return fmt.Errorf("server is already listening on %s", s.listener.Addr())
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = listener
	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: consts.Timeout10Seconds,
	}

	go s.hub.Run()

	logger.Info("WebSocket server listening on %s", listener.Addr())
	return nil
}

// Addr returns the bound address, or nil before Listen
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Port returns the bound TCP port, or 0 before Listen
func (s *Server) Port() int {
	if addr, ok := s.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return 0
}

// Serve accepts connections until ctx is cancelled or Stop is called. A
// clean stop returns nil.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	listener, httpServer := s.listener, s.httpServer
	s.mu.Unlock()

	if listener == nil {
		return errors.New("server is not listening")
	}

	stopped := make(chan struct{})
	defer close(stopped)
	go func() {
		select {
		case <-ctx.Done():
			if err := s.Stop(); err != nil {
				logger.Error("Error stopping server: %v", err)
			}
		case <-stopped:
		}
	}()

	if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("websocket server: %w", err)
	}
	return nil
}

// Stop closes the listener and every peer connection. Safe to call more
// than once.
func (s *Server) Stop() error {
	var stopErr error
	s.stopOnce.Do(func() {
		logger.Info("Stopping WebSocket server...")

		s.mu.Lock()
		httpServer := s.httpServer
		s.mu.Unlock()

		if httpServer != nil {
			ctx, cancel := context.WithTimeout(context.Background(), consts.Timeout5Seconds)
			defer cancel()
			if err := httpServer.Shutdown(ctx); err != nil {
				stopErr = fmt.Errorf("failed to shutdown HTTP server: %w", err)
			}
		}

		// Hijacked WebSocket connections are not covered by Shutdown
		s.hub.Shutdown()

		logger.Info("WebSocket server stopped")
	})
	return stopErr
}

// handleWebSocket upgrades the request and starts a peer
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("Failed to upgrade WebSocket from %s: %v", r.RemoteAddr, err)
		return
	}

	peer := NewPeer(conn, s.hub, s.handler)
	s.hub.Register(peer)
	peer.Start()

	logger.Info("New connection from %s (%s)", r.RemoteAddr, peer.ID())
}

// handleStatus serves the session diagnostics
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var body any = map[string]any{"peers": s.hub.Count()}
	if s.status != nil {
		body = s.status()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("Failed to encode status: %v", err)
	}
}
