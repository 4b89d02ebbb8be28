package socketserver

import (
	"sync"

	"github.com/codefionn/diffbridge/internal/logger"
)

// Hub maintains the set of active peers
type Hub struct {
	peers map[*Peer]bool
	mu    sync.RWMutex

	// Register/unregister requests from peers
	register   chan *Peer
	unregister chan *Peer

	quit     chan struct{}
	quitOnce sync.Once
}

// NewHub creates a new hub
func NewHub() *Hub {
	return &Hub{
		peers:      make(map[*Peer]bool),
		register:   make(chan *Peer),
		unregister: make(chan *Peer),
		quit:       make(chan struct{}),
	}
}

// Run starts the hub's event loop. It returns after Stop.
func (h *Hub) Run() {
	logger.Info("WebSocket hub started")
	defer logger.Info("WebSocket hub stopped")

	for {
		select {
		case peer := <-h.register:
			h.mu.Lock()
			h.peers[peer] = true
			count := len(h.peers)
			h.mu.Unlock()
			logger.Info("Peer registered: %s (total: %d)", peer.ID(), count)

		case peer := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.peers[peer]; ok {
				delete(h.peers, peer)
			}
			count := len(h.peers)
			h.mu.Unlock()
			logger.Info("Peer unregistered: %s (total: %d)", peer.ID(), count)

		case <-h.quit:
			return
		}
	}
}

// Register adds a peer (called from the upgrade handler)
func (h *Hub) Register(peer *Peer) {
	select {
	case h.register <- peer:
	case <-h.quit:
	}
}

// Unregister removes a peer (called from the read pump)
func (h *Hub) Unregister(peer *Peer) {
	select {
	case h.unregister <- peer:
	case <-h.quit:
	}
}

// Count returns the number of connected peers
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.peers)
}

// Shutdown stops the event loop and closes all peer connections
func (h *Hub) Shutdown() {
	h.quitOnce.Do(func() {
		close(h.quit)
	})

	h.mu.RLock()
	peers := make([]*Peer, 0, len(h.peers))
	for peer := range h.peers {
		peers = append(peers, peer)
	}
	h.mu.RUnlock()

	if len(peers) > 0 {
		logger.Info("Closing %d peer connections", len(peers))
	}
	for _, peer := range peers {
		peer.Close()
	}
}
