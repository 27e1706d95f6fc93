package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/twinwatch/internal/auth"
	"github.com/loykin/twinwatch/internal/registry"
)

func writeFile(t *testing.T, name, data string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(data), 0o644))
	return p
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.Watchdog.CheckInterval)
	assert.Equal(t, 300*time.Second, cfg.Watchdog.HeartbeatTimeout)
	assert.Equal(t, 3, cfg.Watchdog.MaxRestartAttempts)
	assert.Equal(t, 60*time.Second, cfg.Watchdog.RestartCooldown)
	assert.Equal(t, "127.0.0.1:8090", cfg.Server.Listen)
	assert.Equal(t, "/api", cfg.Server.BasePath)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Empty(t, cfg.Processes)
}

func TestLoadFullTOML(t *testing.T) {
	p := writeFile(t, "twinwatch.toml", `
env = ["SHARED=1"]

[watchdog]
check_interval = "5s"
heartbeat_timeout = "2m"
max_restart_attempts = 5
restart_cooldown = "10s"
restart_timeout = "30s"

[log]
level = "debug"
format = "json"

[server]
listen = ":9000"
base_path = "/twin"

[server.auth]
enabled = true
token = "t0k"

[[server.auth.users]]
username = "ops"
password_hash = "$2a$10$abc"
role = "admin"

[history]
dsns = ["sqlite:///tmp/history.db"]

[metrics]
listen = ":9100"

[[processes]]
id = "sim-server"
type = "server"
command = "./server --port 7000"
workdir = "/srv"
env = ["PORT=7000"]
log_file = "/var/log/sim/server.log"
stop_timeout = "3s"

  [processes.rotation]
  max_size_mb = 10
  max_backups = 2

[[processes]]
id = "sim-client"
type = "client"
pid = 4242
log_file = "/var/log/sim/client.log"
`)
	cfg, err := Load(p)
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, cfg.Watchdog.CheckInterval)
	assert.Equal(t, 2*time.Minute, cfg.Watchdog.HeartbeatTimeout)
	assert.Equal(t, 5, cfg.Watchdog.MaxRestartAttempts)
	assert.Equal(t, 10*time.Second, cfg.Watchdog.RestartCooldown)
	assert.Equal(t, 30*time.Second, cfg.Watchdog.RestartTimeout)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, ":9000", cfg.Server.Listen)
	assert.Equal(t, "/twin", cfg.Server.BasePath)
	assert.True(t, cfg.Server.Auth.Enabled)
	require.Len(t, cfg.Server.Auth.Users, 1)
	assert.Equal(t, auth.RoleAdmin, cfg.Server.Auth.Users[0].Role)
	assert.Equal(t, []string{"sqlite:///tmp/history.db"}, cfg.History.DSNs)
	assert.Equal(t, ":9100", cfg.Metrics.Listen)

	require.Len(t, cfg.Processes, 2)
	srv := cfg.Processes[0]
	assert.Equal(t, registry.TypeServer, srv.ProcessType())
	assert.Equal(t, "/srv", srv.WorkDir)
	assert.Equal(t, []string{"PORT=7000"}, srv.Env)
	assert.Equal(t, 3*time.Second, srv.StopTimeout)
	assert.Equal(t, 10, srv.Rotation.MaxSizeMB)
	cli := cfg.Processes[1]
	assert.Equal(t, registry.TypeClient, cli.ProcessType())
	assert.Equal(t, 4242, cli.PID)
	assert.Empty(t, cli.Command)
}

func TestLoadYAML(t *testing.T) {
	p := writeFile(t, "twinwatch.yaml", `
watchdog:
  check_interval: 2s
processes:
  - id: a
    type: client
    command: "sleep 60"
`)
	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, cfg.Watchdog.CheckInterval)
	require.Len(t, cfg.Processes, 1)
	assert.Equal(t, "a", cfg.Processes[0].ID)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TWINWATCH_WATCHDOG_CHECK_INTERVAL", "7s")
	t.Setenv("TWINWATCH_SERVER_LISTEN", ":7777")
	p := writeFile(t, "c.toml", "[watchdog]\ncheck_interval = \"5s\"\n")
	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, 7*time.Second, cfg.Watchdog.CheckInterval)
	assert.Equal(t, ":7777", cfg.Server.Listen)
}

func TestValidationErrors(t *testing.T) {
	cases := map[string]string{
		"negative timeout": "[watchdog]\nheartbeat_timeout = \"-1s\"\n",
		"missing id":       "[[processes]]\ntype = \"server\"\ncommand = \"x\"\n",
		"bad type":         "[[processes]]\nid = \"a\"\ntype = \"worker\"\ncommand = \"x\"\n",
		"nothing to watch": "[[processes]]\nid = \"a\"\ntype = \"server\"\n",
		"duplicate id": `
[[processes]]
id = "a"
type = "server"
command = "x"
[[processes]]
id = "a"
type = "client"
command = "y"
`,
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeFile(t, "c.toml", data))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestGlobalEnv(t *testing.T) {
	none := &Config{}
	e, err := none.GlobalEnv()
	require.NoError(t, err)
	assert.Nil(t, e)

	envFile := writeFile(t, "app.env", "# comment\nFROM_FILE=f\nSHARED=file\n")
	cfg := &Config{Env: []string{"SHARED=top", "DERIVED=${FROM_FILE}-x"}, EnvFiles: []string{envFile}}
	e, err = cfg.GlobalEnv()
	require.NoError(t, err)
	got := strings.Join(e.Merge(nil), ",")
	assert.Equal(t, "DERIVED=f-x,FROM_FILE=f,SHARED=top", got)

	cfg.EnvFiles = []string{filepath.Join(t.TempDir(), "nope.env")}
	_, err = cfg.GlobalEnv()
	assert.Error(t, err)
}

func TestWatchReportsChanges(t *testing.T) {
	p := writeFile(t, "w.toml", "[watchdog]\ncheck_interval = \"5s\"\n")
	l := NewLoader(p)
	_, err := l.Load()
	require.NoError(t, err)

	got := make(chan time.Duration, 16)
	l.Watch(func(c *Config, err error) {
		if err != nil {
			return
		}
		select {
		case got <- c.Watchdog.CheckInterval:
		default:
		}
	})
	require.NoError(t, os.WriteFile(p, []byte("[watchdog]\ncheck_interval = \"9s\"\n"), 0o644))

	// a truncating write may surface an intermediate empty file first
	deadline := time.After(5 * time.Second)
	for {
		select {
		case d := <-got:
			if d == 9*time.Second {
				return
			}
		case <-deadline:
			t.Fatal("config change not observed")
		}
	}
}
