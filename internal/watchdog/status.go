package watchdog

import (
	"context"
	"time"

	"github.com/samber/lo"

	"github.com/loykin/twinwatch/internal/health"
	"github.com/loykin/twinwatch/internal/registry"
)

// ProcessStatus is the reported view of one tracked process.
type ProcessStatus struct {
	PID           int                  `json:"pid"`
	Type          registry.ProcessType `json:"type"`
	Running       bool                 `json:"running"`
	State         health.State         `json:"state"`
	LogFile       string               `json:"log_file"`
	LastHeartbeat time.Time            `json:"last_heartbeat"`
	LogMTime      *time.Time           `json:"log_mtime,omitempty"`
	RestartCount  int                  `json:"restart_count"`
	LastRestartAt *time.Time           `json:"last_restart_at,omitempty"`
	GaveUp        bool                 `json:"gave_up"`
	RegisteredAt  time.Time            `json:"registered_at"`
}

// SchedulerStatus describes the background loop.
type SchedulerStatus struct {
	Running  bool          `json:"running"`
	Interval time.Duration `json:"interval"`
	LastRun  *time.Time    `json:"last_run,omitempty"`
	NextRun  *time.Time    `json:"next_run,omitempty"`
}

// Status is a read-only snapshot of the watchdog.
type Status struct {
	Processes map[string]ProcessStatus `json:"processes"`
	Scheduler SchedulerStatus          `json:"scheduler"`
}

// Status probes every tracked process for liveness and reports it together
// with the scheduler state. The reported state is classified from the fresh
// probe but never written back; Status restarts nothing.
func (w *Watchdog) Status() Status {
	snap := w.reg.Snapshot()
	timeout := w.Config().HeartbeatTimeout
	now := w.now()
	procs := lo.SliceToMap(snap, func(p registry.TrackedProcess) (string, ProcessStatus) {
		running := w.probe.IsRunning(p.PID)
		mt, hasMT := w.probe.LogMTime(p.LogFile)
		res := health.Classify(health.Input{
			Running:       running,
			MTime:         mt,
			HasMTime:      hasMT,
			LastHeartbeat: p.LastHeartbeat,
			HeartbeatSeen: p.HeartbeatSeen,
			Timeout:       timeout,
			Now:           now,
		})
		ps := ProcessStatus{
			PID:           p.PID,
			Type:          p.Type,
			Running:       running,
			State:         res.State,
			LogFile:       p.LogFile,
			LastHeartbeat: p.LastHeartbeat,
			RestartCount:  p.RestartCount,
			LastRestartAt: p.LastRestartAt,
			GaveUp:        p.GaveUp,
			RegisteredAt:  p.RegisteredAt,
		}
		if hasMT {
			ps.LogMTime = &mt
		}
		return p.ID, ps
	})

	w.mu.Lock()
	sched := SchedulerStatus{Running: w.running, Interval: w.cfg.CheckInterval}
	if !w.lastRun.IsZero() {
		sched.LastRun = lo.ToPtr(w.lastRun)
	}
	if w.running && !w.nextRun.IsZero() {
		sched.NextRun = lo.ToPtr(w.nextRun)
	}
	w.mu.Unlock()

	return Status{Processes: procs, Scheduler: sched}
}

// RunOnce performs one synchronous check pass with the same ordering and
// restart rules as a scheduled tick.
func (w *Watchdog) RunOnce(ctx context.Context) RunResult {
	res := w.pass(ctx, ctx.Done())
	w.log.Info("manual check pass complete", "run_id", res.RunID, "checked", res.ProcessesChecked,
		"restarted", res.ProcessesRestarted, "healthy", res.ProcessesHealthy)
	return res
}
