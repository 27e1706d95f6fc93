package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/loykin/twinwatch/internal/auth"
	"github.com/loykin/twinwatch/internal/env"
	"github.com/loykin/twinwatch/internal/logger"
	"github.com/loykin/twinwatch/internal/registry"
	"github.com/loykin/twinwatch/internal/tls"
	"github.com/loykin/twinwatch/internal/watchdog"
)

// EnvPrefix prefixes environment overrides, e.g. TWINWATCH_WATCHDOG_CHECK_INTERVAL.
const EnvPrefix = "TWINWATCH"

// Config is the daemon's file configuration.
type Config struct {
	Watchdog  watchdog.Config `mapstructure:"watchdog"`
	Log       logger.Config   `mapstructure:"log"`
	Server    ServerConfig    `mapstructure:"server"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	History   HistoryConfig   `mapstructure:"history"`
	Env       []string        `mapstructure:"env"`
	EnvFiles  []string        `mapstructure:"env_files"`
	UseOSEnv  bool            `mapstructure:"use_os_env"`
	Processes []Process       `mapstructure:"processes"`
}

// ServerConfig configures the admin HTTP API.
type ServerConfig struct {
	Enabled      bool        `mapstructure:"enabled"`
	Listen       string      `mapstructure:"listen"`
	BasePath     string      `mapstructure:"base_path"`
	RunOnceRate  float64     `mapstructure:"run_once_rate"`
	RunOnceBurst int         `mapstructure:"run_once_burst"`
	TLS          tls.Options `mapstructure:"tls"`
	Auth         auth.Config `mapstructure:"auth"`
}

// MetricsConfig controls Prometheus registration. When Listen is set the
// collectors are also served on a dedicated listener.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

// HistoryConfig lists restart history sink DSNs.
type HistoryConfig struct {
	DSNs []string `mapstructure:"dsns"`
}

// Process is one [[processes]] entry. A process is either launched from
// Command, adopted from PID or PIDFile, or both: an adopted process is
// replaced by Command on its first restart.
type Process struct {
	ID          string            `mapstructure:"id"`
	Type        string            `mapstructure:"type"`
	Command     string            `mapstructure:"command"`
	WorkDir     string            `mapstructure:"workdir"`
	Env         []string          `mapstructure:"env"`
	LogFile     string            `mapstructure:"log_file"`
	PIDFile     string            `mapstructure:"pid_file"`
	PID         int               `mapstructure:"pid"`
	StopTimeout time.Duration     `mapstructure:"stop_timeout"`
	Rotation    logger.FileConfig `mapstructure:"rotation"`
}

// ProcessType returns the validated type.
func (p Process) ProcessType() registry.ProcessType {
	t, _ := registry.ParseType(p.Type)
	return t
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Watchdog: watchdog.DefaultConfig(),
		Log:      logger.Config{Level: "info", Format: "text"},
		Server: ServerConfig{
			Enabled:      true,
			Listen:       "127.0.0.1:8090",
			BasePath:     "/api",
			RunOnceRate:  1,
			RunOnceBurst: 3,
		},
		Metrics: MetricsConfig{Enabled: true},
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("watchdog.check_interval", d.Watchdog.CheckInterval)
	v.SetDefault("watchdog.heartbeat_timeout", d.Watchdog.HeartbeatTimeout)
	v.SetDefault("watchdog.max_restart_attempts", d.Watchdog.MaxRestartAttempts)
	v.SetDefault("watchdog.restart_cooldown", d.Watchdog.RestartCooldown)
	v.SetDefault("watchdog.restart_timeout", d.Watchdog.RestartTimeout)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.file.path", "")
	v.SetDefault("server.enabled", d.Server.Enabled)
	v.SetDefault("server.listen", d.Server.Listen)
	v.SetDefault("server.base_path", d.Server.BasePath)
	v.SetDefault("server.run_once_rate", d.Server.RunOnceRate)
	v.SetDefault("server.run_once_burst", d.Server.RunOnceBurst)
	v.SetDefault("server.tls.enabled", false)
	v.SetDefault("server.auth.enabled", false)
	v.SetDefault("server.auth.token", "")
	v.SetDefault("server.auth.jwt_secret", "")
	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.listen", "")
	v.SetDefault("history.dsns", []string{})
	v.SetDefault("use_os_env", false)
}

// Loader reads a config file through viper and can watch it for changes.
type Loader struct {
	v    *viper.Viper
	path string
}

// NewLoader prepares a loader for path. An empty path yields defaults plus
// environment overrides.
func NewLoader(path string) *Loader {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType(configType(path))
	}
	return &Loader{v: v, path: path}
}

// Load reads path and returns the validated configuration.
func Load(path string) (*Config, error) {
	return NewLoader(path).Load()
}

// Load reads the file (if any) and decodes it.
func (l *Loader) Load() (*Config, error) {
	if l.path != "" {
		if err := l.v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", l.path, err)
		}
	}
	return l.decode()
}

func (l *Loader) decode() (*Config, error) {
	var c Config
	if err := l.v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Watch calls fn with the re-decoded configuration every time the file
// changes. Decode or validation failures are passed as err and the
// previous configuration stays in effect. Watch is a no-op without a file.
func (l *Loader) Watch(fn func(*Config, error)) {
	if l.path == "" {
		return
	}
	l.v.OnConfigChange(func(ev fsnotify.Event) {
		if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
			return
		}
		fn(l.decode())
	})
	l.v.WatchConfig()
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	var errs []error
	if err := c.Watchdog.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("watchdog: %w", err))
	}
	if c.Server.RunOnceRate < 0 || c.Server.RunOnceBurst < 0 {
		errs = append(errs, errors.New("server: run_once_rate and run_once_burst must be >= 0"))
	}
	seen := make(map[string]bool, len(c.Processes))
	for i, p := range c.Processes {
		if p.ID == "" {
			errs = append(errs, fmt.Errorf("processes[%d]: id is required", i))
			continue
		}
		if seen[p.ID] {
			errs = append(errs, fmt.Errorf("processes[%d]: duplicate id %q", i, p.ID))
		}
		seen[p.ID] = true
		if _, err := registry.ParseType(p.Type); err != nil {
			errs = append(errs, fmt.Errorf("process %s: %w", p.ID, err))
		}
		if p.Command == "" && p.PID <= 0 && p.PIDFile == "" {
			errs = append(errs, fmt.Errorf("process %s: one of command, pid or pid_file is required", p.ID))
		}
		if p.PID < 0 {
			errs = append(errs, fmt.Errorf("process %s: pid must be >= 0", p.ID))
		}
	}
	return errors.Join(errs...)
}

// GlobalEnv composes the environment shared by launched processes: the
// OS environment when use_os_env is set, then env_files in order, then
// the top-level env list. It returns nil when none of these is set, so
// children inherit the daemon's environment.
func (c *Config) GlobalEnv() (*env.Env, error) {
	if !c.UseOSEnv && len(c.Env) == 0 && len(c.EnvFiles) == 0 {
		return nil, nil
	}
	e := env.New()
	if c.UseOSEnv {
		e.FromOS()
	}
	for _, f := range c.EnvFiles {
		vars, err := env.LoadFile(f)
		if err != nil {
			return nil, err
		}
		for k, v := range vars {
			e.Set(k, v)
		}
	}
	e.AddPairs(c.Env)
	return e, nil
}

func configType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	case ".json":
		return "json"
	default:
		return "toml"
	}
}
