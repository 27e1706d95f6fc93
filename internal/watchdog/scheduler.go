package watchdog

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/loykin/twinwatch/internal/health"
	"github.com/loykin/twinwatch/internal/history"
	"github.com/loykin/twinwatch/internal/metrics"
	"github.com/loykin/twinwatch/internal/registry"
	"github.com/loykin/twinwatch/internal/restart"
)

// maxSleepSlice caps each sleep so Stop and SetInterval take effect promptly.
const maxSleepSlice = time.Second

// Action is what a check did about the process.
type Action string

const (
	ActionNone          Action = "none"
	ActionRestarted     Action = "restarted"
	ActionRestartFailed Action = "restart_failed"
	ActionCoolingDown   Action = "cooling_down"
	ActionGivenUp       Action = "given_up"
	ActionRestarting    Action = "restarting"
	ActionCheckPanicked Action = "panicked"
)

// CheckDetail describes one process check.
type CheckDetail struct {
	ID           string               `json:"id"`
	Type         registry.ProcessType `json:"type"`
	PID          int                  `json:"pid"`
	State        health.State         `json:"state"`
	Action       Action               `json:"action"`
	NewPID       int                  `json:"new_pid,omitempty"`
	RestartCount int                  `json:"restart_count"`
	Error        string               `json:"error,omitempty"`
}

// RunResult aggregates one full check pass.
type RunResult struct {
	RunID              string        `json:"run_id"`
	StartedAt          time.Time     `json:"started_at"`
	Duration           time.Duration `json:"duration"`
	ProcessesChecked   int           `json:"processes_checked"`
	ProcessesRestarted int           `json:"processes_restarted"`
	ProcessesHealthy   int           `json:"processes_healthy"`
	Details            []CheckDetail `json:"details"`
}

func (w *Watchdog) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		if !w.sleep(stop) {
			return
		}
		res := w.pass(context.Background(), stop)
		w.log.Debug("tick complete", "run_id", res.RunID, "checked", res.ProcessesChecked,
			"restarted", res.ProcessesRestarted, "healthy", res.ProcessesHealthy, "duration", res.Duration)
	}
}

// sleep waits until nextRun in slices of at most maxSleepSlice.
// It returns false when stop is closed.
func (w *Watchdog) sleep(stop <-chan struct{}) bool {
	for {
		w.mu.Lock()
		next := w.nextRun
		w.mu.Unlock()
		remaining := next.Sub(w.now())
		if remaining <= 0 {
			return true
		}
		if remaining > maxSleepSlice {
			remaining = maxSleepSlice
		}
		t := time.NewTimer(remaining)
		select {
		case <-stop:
			t.Stop()
			return false
		case <-t.C:
		}
	}
}

// pass checks every registered process once, servers before clients.
// A closed stop channel aborts the remaining checks. Panics are contained
// to the pass so the loop survives a bad cycle.
func (w *Watchdog) pass(ctx context.Context, stop <-chan struct{}) (res RunResult) {
	start := w.now()
	res = RunResult{RunID: uuid.NewString(), StartedAt: start, Details: []CheckDetail{}}
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("check pass panicked", "run_id", res.RunID, "panic", r)
		}
		end := w.now()
		res.Duration = end.Sub(start)
		metrics.ObserveTick(res.Duration.Seconds())
		w.mu.Lock()
		w.lastRun = end
		if w.running {
			w.nextRun = end.Add(w.cfg.CheckInterval)
		}
		w.mu.Unlock()
	}()

	ids := w.reg.IDs()
	for _, id := range ids {
		if stopped(stop) {
			w.log.Debug("check pass aborted by stop", "run_id", res.RunID)
			return res
		}
		d, ok := w.checkSafe(ctx, id)
		if !ok {
			continue
		}
		res.ProcessesChecked++
		switch {
		case d.Action == ActionRestarted:
			res.ProcessesRestarted++
		case d.State == health.Healthy:
			res.ProcessesHealthy++
		}
		res.Details = append(res.Details, d)
	}
	return res
}

func stopped(stop <-chan struct{}) bool {
	if stop == nil {
		return false
	}
	select {
	case <-stop:
		return true
	default:
		return false
	}
}

// checkSafe isolates a panicking check so the remaining processes still run.
func (w *Watchdog) checkSafe(ctx context.Context, id string) (d CheckDetail, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("process check panicked", "id", id, "panic", r)
			d = CheckDetail{ID: id, Action: ActionCheckPanicked, Error: fmt.Sprint(r)}
			ok = true
		}
	}()
	return w.check(ctx, id)
}

// check probes, classifies and, when unhealthy and eligible, restarts one
// process. The registry lock is never held across probing or the restart.
func (w *Watchdog) check(ctx context.Context, id string) (CheckDetail, bool) {
	rec, ok := w.reg.Get(id)
	if !ok {
		// unregistered since the snapshot
		return CheckDetail{}, false
	}
	cfg := w.Config()

	running := w.probe.IsRunning(rec.PID)
	mtime, hasMTime := w.probe.LogMTime(rec.LogFile)
	now := w.now()
	res := health.Classify(health.Input{
		Running:       running,
		MTime:         mtime,
		HasMTime:      hasMTime,
		LastHeartbeat: rec.LastHeartbeat,
		HeartbeatSeen: rec.HeartbeatSeen,
		Timeout:       cfg.HeartbeatTimeout,
		Now:           now,
	})
	policy := restart.Policy{
		MaxAttempts: cfg.MaxRestartAttempts,
		Cooldown:    cfg.RestartCooldown,
		Timeout:     cfg.RestartTimeout,
	}
	// The decision is taken on the live record in the same update that
	// reserves the attempt, so concurrent passes cannot both restart.
	var (
		decision    restart.Decision
		inFlight    bool
		firstGiveUp bool
		lastAt      *time.Time
	)
	if !w.updateSame(rec, func(p *registry.TrackedProcess) {
		p.LastHeartbeat = res.LastHeartbeat
		p.HeartbeatSeen = res.HeartbeatSeen
		if !res.State.Unhealthy() {
			return
		}
		if p.Restarting {
			inFlight = true
			return
		}
		decision = policy.Check(p.RestartCount, p.LastRestartAt, now)
		rec.RestartCount = p.RestartCount
		if p.LastRestartAt != nil {
			t := *p.LastRestartAt
			lastAt = &t
		}
		switch decision {
		case restart.Eligible:
			restart.Reserve(p, now)
		case restart.GivenUp:
			firstGiveUp = !p.GaveUp
			p.GaveUp = true
		}
	}) {
		return CheckDetail{}, false
	}
	metrics.IncCheck(string(rec.Type), res.State.String())

	d := CheckDetail{
		ID:           rec.ID,
		Type:         rec.Type,
		PID:          rec.PID,
		State:        res.State,
		Action:       ActionNone,
		RestartCount: rec.RestartCount,
	}
	if !res.State.Unhealthy() {
		return d, true
	}
	if inFlight {
		d.Action = ActionRestarting
		w.log.Debug("restart already in progress", "id", rec.ID, "state", res.State)
		return d, true
	}

	switch decision {
	case restart.GivenUp:
		d.Action = ActionGivenUp
		metrics.IncSkippedRestart(rec.ID, restart.GivenUp.String())
		if firstGiveUp {
			w.log.Error("restart budget exhausted; giving up until re-registered",
				"id", rec.ID, "state", res.State, "restart_count", rec.RestartCount, "max", cfg.MaxRestartAttempts)
			e := history.NewEvent(history.EventGivenUp, now)
			fillEvent(&e, rec, res.State)
			w.emit(ctx, e)
		}
		return d, true
	case restart.CoolingDown:
		d.Action = ActionCoolingDown
		metrics.IncSkippedRestart(rec.ID, restart.CoolingDown.String())
		w.log.Debug("restart deferred by cooldown", "id", rec.ID, "state", res.State,
			"last_restart_at", *lastAt, "cooldown", cfg.RestartCooldown)
		return d, true
	}

	w.log.Warn("process unhealthy, restarting", "id", rec.ID, "pid", rec.PID, "state", res.State,
		"silence", res.Elapsed, "attempt", rec.RestartCount+1, "max", cfg.MaxRestartAttempts)
	newPID, err := policy.Invoke(ctx, rec.Restarter)
	done := w.now()
	w.updateSame(rec, func(p *registry.TrackedProcess) { restart.Settle(p, newPID, err, done) })
	metrics.IncRestartAttempt(rec.ID, err == nil)
	d.RestartCount = rec.RestartCount + 1

	var e history.Event
	if err != nil {
		d.Action = ActionRestartFailed
		d.Error = err.Error()
		w.log.Error("restart failed", "id", rec.ID, "attempt", d.RestartCount, "error", err)
		e = history.NewEvent(history.EventRestartFailed, done)
		e.Error = err.Error()
	} else {
		d.Action = ActionRestarted
		d.NewPID = newPID
		w.log.Info("process restarted", "id", rec.ID, "old_pid", rec.PID, "new_pid", newPID, "attempt", d.RestartCount)
		e = history.NewEvent(history.EventRestartSucceeded, done)
		e.NewPID = newPID
	}
	fillEvent(&e, rec, res.State)
	e.Attempt = d.RestartCount
	w.emit(ctx, e)
	return d, true
}

// updateSame mutates the record only if it is still the registration the
// check started from; a concurrent re-register wins.
func (w *Watchdog) updateSame(rec registry.TrackedProcess, fn func(p *registry.TrackedProcess)) bool {
	applied := false
	w.reg.Update(rec.ID, func(p *registry.TrackedProcess) {
		if !p.RegisteredAt.Equal(rec.RegisteredAt) {
			return
		}
		fn(p)
		applied = true
	})
	return applied
}

func fillEvent(e *history.Event, rec registry.TrackedProcess, st health.State) {
	e.ProcessID = rec.ID
	e.ProcessType = string(rec.Type)
	e.State = st.String()
	e.OldPID = rec.PID
	e.Attempt = rec.RestartCount
}
