package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/codefionn/diffbridge/internal/bridge"
	"github.com/codefionn/diffbridge/internal/config"
	"github.com/codefionn/diffbridge/internal/lockfile"
	"github.com/codefionn/diffbridge/internal/logger"
	"github.com/codefionn/diffbridge/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionCommand(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})

	require.NoError(t, cmd.ExecuteContext(context.Background()))
	assert.Equal(t, version+"\n", out.String())
}

func TestInvalidConfigFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"unknown_method": "explode"}`), 0o600))

	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs([]string{"--config", path})

	err := cmd.ExecuteContext(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load config")
	assert.Empty(t, out.String())
}

func TestRejectsPositionalArgs(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"extra"})

	assert.Error(t, cmd.ExecuteContext(context.Background()))
}

func TestInitLoggerConsoleModes(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.DefaultConfig()
	cfg.LogConsole = config.ConsoleOn

	require.NoError(t, initLogger(cfg, &buf))
	t.Cleanup(func() { _ = initLogger(&config.Config{LogLevel: "none", LogConsole: config.ConsoleOff}, &buf) })

	// Not a terminal: on forces the console sink, auto leaves it off
	logger.Info("visible")
	assert.Contains(t, buf.String(), "visible")

	buf.Reset()
	cfg.LogConsole = config.ConsoleAuto
	require.NoError(t, initLogger(cfg, &buf))
	logger.Info("hidden")
	assert.Empty(t, buf.String())
}

func TestStatusCommand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/status", r.URL.Path)
		_ = json.NewEncoder(w).Encode(bridge.Status{
			EditorBound: true,
			OpenDiffs:   []string{"r1"},
			Registry: registry.Status{
				Total:  1,
				Editor: 1,
				Connections: []registry.ConnectionStatus{
					{ID: "c1", Role: registry.RoleEditor, IsAlive: true, State: "idle"},
				},
			},
		})
	}))
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"status", "--host", u.Hostname(), "--port", u.Port()})

	require.NoError(t, cmd.ExecuteContext(context.Background()))
	assert.Contains(t, out.String(), "open diffs: 1")
	assert.Contains(t, out.String(), "c1")

	out.Reset()
	cmd = newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"status", "--host", u.Hostname(), "--port", u.Port(), "--json"})
	require.NoError(t, cmd.ExecuteContext(context.Background()))

	var status bridge.Status
	require.NoError(t, json.Unmarshal(out.Bytes(), &status))
	assert.True(t, status.EditorBound)
}

func TestStatusCommandWithoutRunningServer(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"status", "--run-dir", t.TempDir()})

	err := cmd.ExecuteContext(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, lockfile.ErrNotFound)
}
