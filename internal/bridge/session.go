// Package bridge owns the editor/assistant role bindings and dispatches every
// inbound message from either peer.
//
// All dispatch runs on one event-loop goroutine started by Session.Run.
// Transports hand messages over with HandleMessage and report disconnects
// with HandleClose; neither blocks on handler work.
package bridge

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/codefionn/diffbridge/internal/config"
	"github.com/codefionn/diffbridge/internal/consts"
	"github.com/codefionn/diffbridge/internal/diffexchange"
	"github.com/codefionn/diffbridge/internal/logger"
	"github.com/codefionn/diffbridge/internal/registry"
)

// ErrSessionClosed is returned by Run when the session was already shut down
var ErrSessionClosed = errors.New("session closed")

// Options configures a Session
type Options struct {
	Registry *registry.Registry
	Diffs    *diffexchange.Coordinator

	// UnknownMethod is config.UnknownMethodError or config.UnknownMethodIgnore
	UnknownMethod string
	StaleAfter    time.Duration
	SweepInterval time.Duration
	ServerInfo    ServerInfo

	// OnShutdown runs once after the session stopped, e.g. to close the
	// listener.
	OnShutdown func()
}

type eventKind int

const (
	eventMessage eventKind = iota
	eventClose
	eventStatus
)

type event struct {
	kind   eventKind
	source registry.Socket
	raw    []byte
	status chan Status
}

// Session is the protocol dispatcher for one editor/assistant pair
type Session struct {
	reg   *registry.Registry
	diffs *diffexchange.Coordinator
	opts  Options

	// bindings are written only by the loop and read by the probe
	mu        sync.RWMutex
	editor    registry.Socket
	assistant registry.Socket

	events chan event
	done   chan struct{}
	once   sync.Once

	log *logger.Logger
}

// Status is the diagnostic view of a session
type Status struct {
	Registry       registry.Status `json:"registry"`
	EditorBound    bool            `json:"editor_bound"`
	AssistantBound bool            `json:"assistant_bound"`
	OpenDiffs      []string        `json:"open_diffs"`
}

// New creates a session. Run must be called to start dispatching.
func New(opts Options) *Session {
	if opts.UnknownMethod == "" {
		opts.UnknownMethod = config.UnknownMethodError
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = consts.DefaultStaleArtifactAge
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = consts.DefaultSweepInterval
	}
	if opts.ServerInfo.Name == "" {
		opts.ServerInfo = ServerInfo{Name: "diffbridge", Version: "dev"}
	}

	return &Session{
		reg:    opts.Registry,
		diffs:  opts.Diffs,
		opts:   opts,
		events: make(chan event, consts.EventQueueSize),
		done:   make(chan struct{}),
		log:    logger.Global().WithPrefix("bridge"),
	}
}

// Run dispatches events until ctx is cancelled or the editor disconnects,
// then shuts the session down. It returns nil in both cases.
func (s *Session) Run(ctx context.Context) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer s.shutdown()

	s.reg.StartLivenessProbe(ctx, s.Bindings)
	s.sweep()

	ticker := time.NewTicker(s.opts.SweepInterval)
	defer ticker.Stop()

	s.log.Info("Session started")
	for {
		select {
		case <-ctx.Done():
			s.log.Info("Session cancelled: %v", context.Cause(ctx))
			return nil
		case <-ticker.C:
			s.sweep()
		case ev := <-s.events:
			if stop := s.dispatch(ev); stop {
				return nil
			}
		}
	}
}

// Done is closed once the session has shut down
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// HandleMessage queues raw bytes received on source
func (s *Session) HandleMessage(source registry.Socket, raw []byte) {
	s.enqueue(event{kind: eventMessage, source: source, raw: raw})
}

// HandleClose queues the disconnect of source
func (s *Session) HandleClose(source registry.Socket) {
	s.enqueue(event{kind: eventClose, source: source})
}

func (s *Session) enqueue(ev event) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

// Status returns the registry status, the bound roles and the open diff
// exchanges. After shutdown only the registry part is filled.
func (s *Session) Status() Status {
	reply := make(chan Status, 1)
	select {
	case s.events <- event{kind: eventStatus, status: reply}:
	case <-s.done:
		return s.snapshot(nil)
	}
	select {
	case st := <-reply:
		return st
	case <-s.done:
		return s.snapshot(nil)
	}
}

func (s *Session) snapshot(open []string) Status {
	if open == nil {
		open = []string{}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Status{
		Registry:       s.reg.Status(),
		EditorBound:    s.editor != nil,
		AssistantBound: s.assistant != nil,
		OpenDiffs:      open,
	}
}

// Bindings returns the currently bound peers. Safe for concurrent use.
func (s *Session) Bindings() []registry.BoundPeer {
	s.mu.RLock()
	defer s.mu.RUnlock()

	peers := make([]registry.BoundPeer, 0, 2)
	if s.editor != nil {
		peers = append(peers, registry.BoundPeer{Role: registry.RoleEditor, Socket: s.editor})
	}
	if s.assistant != nil {
		peers = append(peers, registry.BoundPeer{Role: registry.RoleAssistant, Socket: s.assistant})
	}
	return peers
}

func (s *Session) bound(role registry.Role) registry.Socket {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch role {
	case registry.RoleEditor:
		return s.editor
	case registry.RoleAssistant:
		return s.assistant
	}
	return nil
}

func (s *Session) bind(role registry.Role, sock registry.Socket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch role {
	case registry.RoleEditor:
		s.editor = sock
	case registry.RoleAssistant:
		s.assistant = sock
	}
}

// roleOf returns the role sock is bound to, if any
func (s *Session) roleOf(sock registry.Socket) (registry.Role, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch {
	case s.editor != nil && s.editor.ID() == sock.ID():
		return registry.RoleEditor, true
	case s.assistant != nil && s.assistant.ID() == sock.ID():
		return registry.RoleAssistant, true
	}
	return registry.RoleUnassigned, false
}

// unbind clears every role bound to sock and returns the roles it held
func (s *Session) unbind(sock registry.Socket) []registry.Role {
	s.mu.Lock()
	defer s.mu.Unlock()

	var roles []registry.Role
	if s.editor != nil && s.editor.ID() == sock.ID() {
		s.editor = nil
		roles = append(roles, registry.RoleEditor)
	}
	if s.assistant != nil && s.assistant.ID() == sock.ID() {
		s.assistant = nil
		roles = append(roles, registry.RoleAssistant)
	}
	return roles
}

func (s *Session) sweep() {
	if removed := s.diffs.Sweep(s.opts.StaleAfter); removed > 0 {
		s.log.Info("Maintenance sweep removed %d stale files", removed)
	}
}

// shutdown stops the probe, drops all state and runs OnShutdown. In-flight
// diff exchanges are abandoned.
func (s *Session) shutdown() {
	s.once.Do(func() {
		s.log.Info("Shutting down session")
		s.reg.Cleanup()
		s.diffs.Abandon()

		s.mu.Lock()
		s.editor = nil
		s.assistant = nil
		s.mu.Unlock()

		close(s.done)
		if s.opts.OnShutdown != nil {
			s.opts.OnShutdown()
		}
	})
}
