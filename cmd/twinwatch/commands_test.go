package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/loykin/twinwatch/internal/auth"
	"github.com/loykin/twinwatch/internal/config"
	"github.com/loykin/twinwatch/internal/history/sqlite"
	"github.com/loykin/twinwatch/internal/registry"
	"github.com/loykin/twinwatch/internal/server"
	"github.com/loykin/twinwatch/internal/watchdog"
)

type cli struct {
	t        *testing.T
	url      string
	sessions *SessionManager
}

func (c cli) run(stdin string, args ...string) (string, error) {
	var out bytes.Buffer
	root := buildRoot(&out, strings.NewReader(stdin), c.sessions)
	if c.url != "" {
		args = append(args, "--api-url", c.url)
	}
	root.SetArgs(args)
	root.SetErr(&out)
	err := root.Execute()
	return out.String(), err
}

func startDaemon(t *testing.T, opts server.Options) (*watchdog.Watchdog, cli) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w, err := watchdog.New(watchdog.DefaultConfig())
	require.NoError(t, err)
	ts := httptest.NewServer(server.NewRouter(w, "/api", opts).Handler())
	t.Cleanup(ts.Close)
	return w, cli{t: t, url: ts.URL + "/api", sessions: newSessionManagerAt(t.TempDir())}
}

func TestStatusAndRunOnceCommands(t *testing.T) {
	w, c := startDaemon(t, server.Options{})
	w.RegisterProcess("sim-server", 99999999, "/nonexistent/s.log",
		registry.RestarterFunc(func(context.Context) (int, error) { return 4242, nil }), registry.TypeServer)

	out, err := c.run("", "status")
	require.NoError(t, err, out)
	assert.Contains(t, out, "scheduler: stopped, interval 30s")
	assert.Contains(t, out, "sim-server")
	assert.Contains(t, out, "dead")

	out, err = c.run("", "run-once")
	require.NoError(t, err, out)
	var res watchdog.RunResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, 1, res.ProcessesRestarted)

	out, err = c.run("", "status", "--id", "sim-server", "--json")
	require.NoError(t, err, out)
	assert.Contains(t, out, `"pid": 4242`)

	_, err = c.run("", "status", "--id", "missing")
	assert.Error(t, err)
}

func TestHistoryCommand(t *testing.T) {
	_, c := startDaemon(t, server.Options{})
	_, err := c.run("", "history")
	assert.Error(t, err, "no queryable sink configured")

	sink, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = sink.Close() })
	w, err := watchdog.New(watchdog.DefaultConfig(), watchdog.WithHistory(sink))
	require.NoError(t, err)
	ts := httptest.NewServer(server.NewRouter(w, "/api", server.Options{History: sink}).Handler())
	t.Cleanup(ts.Close)
	c.url = ts.URL + "/api"

	out, err := c.run("", "history")
	require.NoError(t, err, out)
	assert.Contains(t, out, "no restart events")

	w.RegisterProcess("sim-client", 99999999, "/nonexistent/c.log",
		registry.RestarterFunc(func(context.Context) (int, error) { return 0, errors.New("spawn failed") }), registry.TypeClient)
	w.RunOnce(context.Background())

	out, err = c.run("", "history", "--id", "sim-client")
	require.NoError(t, err, out)
	assert.Contains(t, out, "restart_failed")
	assert.Contains(t, out, "spawn failed")
	assert.Contains(t, out, "99999999")
}

func TestIntervalPIDAndUnregisterCommands(t *testing.T) {
	w, c := startDaemon(t, server.Options{})
	w.RegisterProcess("sim-client", 1, "", nil, registry.TypeClient)

	out, err := c.run("", "set-interval", "--interval", "500ms")
	require.NoError(t, err, out)
	assert.Contains(t, out, "check interval set to 1s")
	assert.Equal(t, time.Second, w.Config().CheckInterval)

	_, err = c.run("", "update-pid", "--id", "sim-client", "--pid", "77")
	require.NoError(t, err)
	p, _ := w.Process("sim-client")
	assert.Equal(t, 77, p.PID)

	_, err = c.run("", "update-pid", "--id", "ghost", "--pid", "77")
	assert.Error(t, err)

	_, err = c.run("", "unregister", "--id", "sim-client")
	require.NoError(t, err)
	_, ok := w.Process("sim-client")
	assert.False(t, ok)

	_, err = c.run("", "unregister")
	assert.Error(t, err, "--id is required")
}

func TestLoginSavesSession(t *testing.T) {
	hash, err := auth.HashPassword("pw")
	require.NoError(t, err)
	svc, err := auth.New(auth.Config{
		Enabled:   true,
		JWTSecret: "s",
		Users:     []auth.User{{Username: "ops", PasswordHash: hash, Role: auth.RoleAdmin}},
	})
	require.NoError(t, err)
	_, c := startDaemon(t, server.Options{Auth: svc})

	_, err = c.run("", "status")
	require.Error(t, err)

	out, err := c.run("pw\n", "login", "--username", "ops")
	require.NoError(t, err, out)
	assert.Contains(t, out, "logged in as ops")
	s, err := c.sessions.LoadSession(c.url)
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, c.url, s.ServerURL)

	_, err = c.run("", "run-once")
	require.NoError(t, err)

	_, err = c.run("", "logout")
	require.NoError(t, err)
	_, err = c.run("", "status")
	assert.Error(t, err)
}

func TestHashPasswordCommand(t *testing.T) {
	c := cli{t: t, sessions: newSessionManagerAt(t.TempDir())}
	out, err := c.run("secret\n", "hash-password")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	hash := strings.TrimPrefix(lines[len(lines)-1], "Password: ")
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("secret")))

	_, err = c.run("", "hash-password")
	assert.Error(t, err)
}

func TestInitWritesLoadableConfig(t *testing.T) {
	c := cli{t: t, sessions: newSessionManagerAt(t.TempDir())}
	dir := t.TempDir()
	path := filepath.Join(dir, "conf", "twinwatch.toml")

	out, err := c.run("", "init", "--output", path, "--log-dir", filepath.Join(dir, "logs"))
	require.NoError(t, err, out)
	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Processes, 2)
	assert.Equal(t, "sim-server", cfg.Processes[0].ID)

	_, err = c.run("", "init", "--output", path)
	assert.Error(t, err, "existing file without --force")
	_, err = c.run("", "init", "--output", path, "--force", "--type", "client", "--name", "cli")
	require.NoError(t, err)
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), "cli")

	_, err = c.run("", "init", "--output", filepath.Join(dir, "x.toml"), "--type", "cron")
	assert.Error(t, err)
}
