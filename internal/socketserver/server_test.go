package socketserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/codefionn/diffbridge/internal/artifact"
	"github.com/codefionn/diffbridge/internal/bridge"
	"github.com/codefionn/diffbridge/internal/diffexchange"
	"github.com/codefionn/diffbridge/internal/registry"
	"github.com/gorilla/websocket"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	server  *Server
	session *bridge.Session
	fs      afero.Fs
	errc    chan error
}

func startEnv(t *testing.T) *testEnv {
	t.Helper()

	fs := afero.NewMemMapFs()
	store, err := artifact.New(fs, "/cache/diff")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	env := &testEnv{fs: fs, errc: make(chan error, 2)}

	env.session = bridge.New(bridge.Options{
		Registry:   registry.New(time.Hour),
		Diffs:      diffexchange.New(store),
		OnShutdown: cancel,
	})
	env.server = NewServer("127.0.0.1:0", env.session, func() any { return env.session.Status() })
	require.NoError(t, env.server.Listen())

	go func() { env.errc <- env.session.Run(ctx) }()
	go func() { env.errc <- env.server.Serve(ctx) }()

	t.Cleanup(func() {
		cancel()
		for i := 0; i < 2; i++ {
			select {
			case err := <-env.errc:
				assert.NoError(t, err)
			case <-time.After(5 * time.Second):
				t.Error("server did not stop")
				return
			}
		}
	})
	return env
}

func (e *testEnv) dial(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+e.server.Addr().String()+path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msg map[string]any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(msg))
}

func receive(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg map[string]any
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func identify(t *testing.T, conn *websocket.Conn, clientType string) {
	t.Helper()
	send(t, conn, map[string]any{"type": "identify", "client_type": clientType})
	require.Equal(t, "identify_response", receive(t, conn)["type"])
}

func TestServerBindsEphemeralPort(t *testing.T) {
	env := startEnv(t)
	assert.NotZero(t, env.server.Port())
}

func TestPingOverWebSocket(t *testing.T) {
	env := startEnv(t)
	conn := env.dial(t, "/")

	send(t, conn, map[string]any{"type": "ping", "id": "p1"})
	msg := receive(t, conn)
	assert.Equal(t, "pong", msg["type"])
	assert.Equal(t, "p1", msg["id"])
}

func TestDiffExchangeOverWebSocket(t *testing.T) {
	env := startEnv(t)
	editor := env.dial(t, "/ws")
	assistant := env.dial(t, "/ws")
	identify(t, editor, "vim")
	identify(t, assistant, "claude")

	send(t, assistant, map[string]any{
		"type":             "diff_request",
		"id":               "r1",
		"file_path":        "a.md",
		"original_content": "x",
		"modified_content": "y",
	})

	show := receive(t, editor)
	require.Equal(t, "show_diff", show["type"])
	original, err := afero.ReadFile(env.fs, show["temp_original"].(string))
	require.NoError(t, err)
	assert.Equal(t, "x", string(original))

	send(t, editor, map[string]any{"type": "diff_response", "id": "r1", "action": "reject"})
	result := receive(t, assistant)
	assert.Equal(t, "diff_result", result["type"])
	assert.Equal(t, "rejected", result["result"])

	exists, err := afero.Exists(env.fs, show["temp_modified"].(string))
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestStatusEndpoint(t *testing.T) {
	env := startEnv(t)
	editor := env.dial(t, "/ws")
	identify(t, editor, "editor")

	resp, err := http.Get("http://" + env.server.Addr().String() + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var status bridge.Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.True(t, status.EditorBound)
	assert.Equal(t, 1, status.Registry.Editor)
}

func TestStatusWithoutProvider(t *testing.T) {
	srv := NewServer("127.0.0.1:0", nil, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"peers":0}`, rec.Body.String())
}

func TestEditorDisconnectStopsSession(t *testing.T) {
	env := startEnv(t)
	editor := env.dial(t, "/ws")
	assistant := env.dial(t, "/ws")
	identify(t, editor, "vim")
	identify(t, assistant, "claude")

	require.NoError(t, editor.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")))
	editor.Close()

	select {
	case <-env.session.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session still running after editor disconnect")
	}

	// The assistant's connection is closed by the server shutdown
	require.NoError(t, assistant.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := assistant.ReadMessage()
	assert.Error(t, err)
}

type recordingHandler struct {
	mu     sync.Mutex
	closed int
}

func (h *recordingHandler) HandleMessage(registry.Socket, []byte) {}

func (h *recordingHandler) HandleClose(registry.Socket) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed++
}

func TestPeerSendAfterClose(t *testing.T) {
	peer := NewPeer(nil, NewHub(), &recordingHandler{})
	assert.True(t, peer.IsOpen())
	require.NoError(t, peer.Send([]byte("{}")))

	peer.Close()
	peer.Close()
	assert.False(t, peer.IsOpen())
	assert.ErrorIs(t, peer.Send([]byte("{}")), ErrPeerClosed)
}

func TestPeerSendBufferFull(t *testing.T) {
	peer := NewPeer(nil, NewHub(), &recordingHandler{})
	for i := 0; i < cap(peer.send); i++ {
		require.NoError(t, peer.Send([]byte("{}")))
	}
	assert.ErrorIs(t, peer.Send([]byte("{}")), ErrSendBufferFull)
}

func TestServerStopClosesPeers(t *testing.T) {
	handler := &recordingHandler{}
	srv := NewServer("127.0.0.1:0", handler, nil)
	require.NoError(t, srv.Listen())

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(context.Background()) }()

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+srv.Addr().String()+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return srv.Hub().Count() == 1 }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, srv.Stop())
	require.NoError(t, srv.Stop())
	assert.NoError(t, <-errc)

	require.Eventually(t, func() bool {
		handler.mu.Lock()
		defer handler.mu.Unlock()
		return handler.closed == 1
	}, 5*time.Second, 10*time.Millisecond)
}
