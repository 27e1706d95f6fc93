package watchdog

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/twinwatch/internal/detector"
	"github.com/loykin/twinwatch/internal/history"
	"github.com/loykin/twinwatch/internal/metrics"
	"github.com/loykin/twinwatch/internal/registry"
)

// stopJoinTimeout bounds how long Stop waits for the loop goroutine.
const stopJoinTimeout = 5 * time.Second

// Watchdog supervises registered worker processes. It is safe for concurrent
// use; construct one with New and call Start to run the background loop.
type Watchdog struct {
	reg   *registry.Registry
	probe detector.Probe
	log   *slog.Logger
	now   func() time.Time
	hist  history.Sink

	stopJoin time.Duration

	mu      sync.Mutex // guards cfg and scheduler state below
	cfg     Config
	running bool
	stopCh  chan struct{}
	done    chan struct{}
	lastRun time.Time
	nextRun time.Time
}

// Option customizes a Watchdog at construction.
type Option func(*Watchdog)

func WithLogger(l *slog.Logger) Option {
	return func(w *Watchdog) {
		if l != nil {
			w.log = l
		}
	}
}

// WithProbe replaces the OS/filesystem probe.
func WithProbe(p detector.Probe) Option {
	return func(w *Watchdog) {
		if p != nil {
			w.probe = p
		}
	}
}

// WithClock replaces time.Now for health and restart bookkeeping.
func WithClock(now func() time.Time) Option {
	return func(w *Watchdog) {
		if now != nil {
			w.now = now
		}
	}
}

// WithHistory sends restart events to s.
func WithHistory(s history.Sink) Option {
	return func(w *Watchdog) { w.hist = s }
}

// New constructs a stopped watchdog. The check interval is clamped to
// MinCheckInterval.
func New(cfg Config, opts ...Option) (*Watchdog, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.CheckInterval = clampInterval(cfg.CheckInterval)
	w := &Watchdog{
		probe:    detector.System{},
		log:      slog.Default(),
		now:      time.Now,
		stopJoin: stopJoinTimeout,
		cfg:      cfg,
	}
	for _, o := range opts {
		o(w)
	}
	w.log = w.log.With("component", "watchdog")
	w.reg = registry.New(w.now)
	return w, nil
}

// Config returns the current tunables.
func (w *Watchdog) Config() Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cfg
}

// SetInterval changes the check interval, clamped to MinCheckInterval.
// A running loop picks it up during its current sleep.
func (w *Watchdog) SetInterval(d time.Duration) time.Duration {
	d = clampInterval(d)
	w.mu.Lock()
	w.cfg.CheckInterval = d
	if w.running && !w.lastRun.IsZero() {
		w.nextRun = w.lastRun.Add(d)
	}
	w.mu.Unlock()
	w.log.Info("check interval updated", "interval", d)
	return d
}

// RegisterProcess starts tracking id, replacing any existing record.
func (w *Watchdog) RegisterProcess(id string, pid int, logFile string, rs registry.Restarter, typ registry.ProcessType) {
	w.reg.Register(id, pid, logFile, rs, typ)
	metrics.SetTrackedProcesses(w.reg.Len())
	w.log.Info("process registered", "id", id, "pid", pid, "type", typ, "log_file", logFile)
}

// UnregisterProcess stops tracking id. Unknown ids are ignored.
func (w *Watchdog) UnregisterProcess(id string) {
	w.reg.Unregister(id)
	metrics.SetTrackedProcesses(w.reg.Len())
	w.log.Info("process unregistered", "id", id)
}

// UpdatePID records a new pid for id and resets its heartbeat.
// Unknown ids are logged and reported as registry.ErrNotFound.
func (w *Watchdog) UpdatePID(id string, pid int) error {
	if err := w.reg.UpdatePID(id, pid); err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			w.log.Warn("update_pid for unregistered process", "id", id, "pid", pid)
		}
		return err
	}
	w.log.Info("process pid updated", "id", id, "pid", pid)
	return nil
}

// Process returns a copy of the tracked record for id.
func (w *Watchdog) Process(id string) (registry.TrackedProcess, bool) {
	return w.reg.Get(id)
}

// Running reports whether the background loop is active.
func (w *Watchdog) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Start launches the background loop. Calling it while running is a no-op.
// If an earlier loop outlived Stop, the new one waits for it to exit
// before its first tick, so at most one pass is ever scheduled at a time.
func (w *Watchdog) Start() {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	prev := w.done
	w.running = true
	w.stopCh = make(chan struct{})
	w.done = make(chan struct{})
	w.nextRun = w.now().Add(w.cfg.CheckInterval)
	stop, done := w.stopCh, w.done
	interval := w.cfg.CheckInterval
	w.mu.Unlock()

	w.log.Info("watchdog started", "interval", interval)
	go func() {
		if prev != nil {
			<-prev
		}
		w.loop(stop, done)
	}()
}

// Stop signals the loop and waits up to a bounded timeout for it to exit.
// Calling it while stopped is a no-op.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.stopCh)
	done := w.done
	w.nextRun = time.Time{}
	w.mu.Unlock()

	t := time.NewTimer(w.stopJoin)
	defer t.Stop()
	select {
	case <-done:
		w.log.Info("watchdog stopped")
	case <-t.C:
		w.log.Warn("watchdog loop did not exit in time; a restart action may be blocking", "timeout", w.stopJoin)
	}
}

func (w *Watchdog) emit(ctx context.Context, e history.Event) {
	if w.hist == nil {
		return
	}
	if err := w.hist.Send(ctx, e); err != nil {
		w.log.Warn("history sink failed", "event", e.Type, "id", e.ProcessID, "error", err)
	}
}
