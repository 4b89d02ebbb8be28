package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// BoundPeer is a socket currently bound to a role by the session
type BoundPeer struct {
	Role   Role
	Socket Socket
}

// PeerSource returns the sockets the probe should ping. It is called on
// every tick so the probe always sees the current bindings.
type PeerSource func() []BoundPeer

type pingMessage struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

type probe struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// StartLivenessProbe starts pinging peers every probe interval until ctx is
// cancelled or StopLivenessProbe is called. A running probe is replaced.
func (r *Registry) StartLivenessProbe(ctx context.Context, peers PeerSource) {
	r.StopLivenessProbe()

	ctx, cancel := context.WithCancel(ctx)
	p := &probe{cancel: cancel, done: make(chan struct{})}

	r.mu.Lock()
	r.probe = p
	r.mu.Unlock()

	go func() {
		defer close(p.done)
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.ProbeOnce(peers)
			}
		}
	}()

	r.log.Debug("Liveness probe started (interval %s)", r.interval)
}

// StopLivenessProbe stops the probe and waits for an in-flight tick. Calling
// it when no probe runs is a no-op.
func (r *Registry) StopLivenessProbe() {
	r.mu.Lock()
	p := r.probe
	r.probe = nil
	r.mu.Unlock()

	if p == nil {
		return
	}
	p.cancel()
	<-p.done
	r.log.Debug("Liveness probe stopped")
}

// ProbeOnce runs one probe tick: evict dead connections, then ping every
// open bound peer. Send failures are logged and do not stop the tick.
func (r *Registry) ProbeOnce(peers PeerSource) {
	if evicted := r.CheckHealth(); len(evicted) > 0 {
		r.log.Info("Evicted dead connections: %v", evicted)
	}
	if peers == nil {
		return
	}

	for _, peer := range peers() {
		if peer.Socket == nil || !peer.Socket.IsOpen() {
			continue
		}

		payload, err := json.Marshal(pingMessage{
			Type: "ping",
			ID:   fmt.Sprintf("ping_%s_%d", peer.Role, r.now().UnixMilli()),
		})
		if err != nil {
			r.log.Error("Failed to encode ping: %v", err)
			continue
		}

		if err := peer.Socket.Send(payload); err != nil {
			r.log.Error("Error pinging %s client: %v", peer.Role, err)
			continue
		}

		if id, ok := r.Lookup(peer.Socket); ok {
			r.RecordPing(id)
		}
	}
}
