package twinwatch

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/twinwatch/internal/config"
	"github.com/loykin/twinwatch/internal/launcher"
	"github.com/loykin/twinwatch/internal/metrics"
	"github.com/loykin/twinwatch/internal/registry"
	iapi "github.com/loykin/twinwatch/internal/server"
	"github.com/loykin/twinwatch/internal/watchdog"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Watchdog = watchdog.Watchdog

type Config = watchdog.Config

type Option = watchdog.Option

type Status = watchdog.Status

type RunResult = watchdog.RunResult

type Restarter = registry.Restarter

type RestarterFunc = registry.RestarterFunc

type ProcessType = registry.ProcessType

// CommandRestarter launches a worker from a shell command and restarts it.
type CommandRestarter = launcher.CommandRestarter

const (
	TypeServer = registry.TypeServer
	TypeClient = registry.TypeClient
)

var ErrNotFound = registry.ErrNotFound

var (
	WithLogger  = watchdog.WithLogger
	WithProbe   = watchdog.WithProbe
	WithClock   = watchdog.WithClock
	WithHistory = watchdog.WithHistory
)

func DefaultConfig() Config { return watchdog.DefaultConfig() }

// New returns an independent, stopped watchdog.
func New(cfg Config, opts ...Option) (*Watchdog, error) { return watchdog.New(cfg, opts...) }

func LoadConfig(path string) (*config.Config, error) { return config.Load(path) }

// NewHTTPServer exposes the admin API for w on addr.
func NewHTTPServer(addr, basePath string, w *Watchdog) *http.Server {
	return iapi.NewServer(addr, basePath, w)
}

// NewHandler returns the admin API as a handler for mounting in another router.
func NewHandler(basePath string, w *Watchdog) http.Handler {
	return iapi.NewRouter(w, basePath, iapi.Options{}).Handler()
}

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// Process-wide default watchdog. It is a convenience layer only; every
// accessor goes through defaultMu and the Watchdog type itself holds no
// global state.
var (
	defaultMu sync.Mutex
	defaultWD *Watchdog
)

// Get returns the process-wide watchdog, creating it with DefaultConfig and
// opts and starting it on first use. Later calls ignore opts.
func Get(opts ...Option) (*Watchdog, error) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultWD != nil {
		return defaultWD, nil
	}
	w, err := watchdog.New(watchdog.DefaultConfig(), opts...)
	if err != nil {
		return nil, err
	}
	w.Start()
	defaultWD = w
	return w, nil
}

// StopDefault stops and discards the process-wide watchdog. A later Get
// creates a fresh one. It is a no-op when none exists.
func StopDefault() {
	defaultMu.Lock()
	w := defaultWD
	defaultWD = nil
	defaultMu.Unlock()
	if w != nil {
		w.Stop()
	}
}

// RunDefaultOnce runs one synchronous check pass on the process-wide
// watchdog, creating it if needed.
func RunDefaultOnce(ctx context.Context) (RunResult, error) {
	w, err := Get()
	if err != nil {
		return RunResult{}, err
	}
	return w.RunOnce(ctx), nil
}

// SetDefaultInterval changes the check interval of the process-wide
// watchdog, creating it if needed, and returns the clamped value.
func SetDefaultInterval(d time.Duration) (time.Duration, error) {
	w, err := Get()
	if err != nil {
		return 0, err
	}
	return w.SetInterval(d), nil
}
