package restart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/loykin/twinwatch/internal/registry"
)

var (
	// ErrNoPID is returned when a restarter reports success without a usable pid.
	ErrNoPID = errors.New("restart returned no pid")
	// ErrTimeout is returned when a restarter exceeds Policy.Timeout.
	ErrTimeout = errors.New("restart timed out")
	// ErrPanic wraps a panic raised inside a restarter.
	ErrPanic = errors.New("restart panicked")
	// ErrNoRestarter is returned for records registered without a restart capability.
	ErrNoRestarter = errors.New("no restarter configured")
)

// Policy bounds restart attempts per process.
type Policy struct {
	MaxAttempts int
	Cooldown    time.Duration
	// Timeout bounds a single restart call. Zero runs it synchronously with no limit.
	Timeout time.Duration
}

// Decision is the eligibility verdict for one restart.
type Decision int

const (
	Eligible Decision = iota
	GivenUp
	CoolingDown
)

func (d Decision) String() string {
	switch d {
	case Eligible:
		return "eligible"
	case GivenUp:
		return "given_up"
	case CoolingDown:
		return "cooling_down"
	default:
		return "unknown"
	}
}

// Check evaluates the attempt budget first, then the cooldown.
func (p Policy) Check(count int, lastRestartAt *time.Time, now time.Time) Decision {
	if count >= p.MaxAttempts {
		return GivenUp
	}
	if lastRestartAt != nil && now.Sub(*lastRestartAt) < p.Cooldown {
		return CoolingDown
	}
	return Eligible
}

// Invoke runs the restarter and normalizes every failure mode into an error.
// Panics are recovered. A non-positive pid is a failure.
func (p Policy) Invoke(ctx context.Context, rs registry.Restarter) (int, error) {
	if rs == nil {
		return 0, ErrNoRestarter
	}
	if p.Timeout <= 0 {
		return call(ctx, rs)
	}
	cctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()
	type result struct {
		pid int
		err error
	}
	done := make(chan result, 1)
	go func() {
		pid, err := call(cctx, rs)
		done <- result{pid, err}
	}()
	t := time.NewTimer(p.Timeout)
	defer t.Stop()
	select {
	case r := <-done:
		return r.pid, r.err
	case <-t.C:
		// The restarter keeps running; its late result is dropped.
		return 0, ErrTimeout
	}
}

func call(ctx context.Context, rs registry.Restarter) (pid int, err error) {
	defer func() {
		if r := recover(); r != nil {
			pid = 0
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()
	pid, err = rs.Restart(ctx)
	if err != nil {
		return 0, err
	}
	if pid <= 0 {
		return 0, ErrNoPID
	}
	return pid, nil
}

// Reserve claims an attempt on the live record before the restarter runs.
// The budget and cooldown are spent whether or not the attempt succeeds.
func Reserve(p *registry.TrackedProcess, now time.Time) {
	p.RestartCount++
	t := now
	p.LastRestartAt = &t
	p.Restarting = true
}

// Settle records the outcome of a reserved attempt. The cooldown runs from
// now; pid and heartbeat change only on success.
func Settle(p *registry.TrackedProcess, newPID int, err error, now time.Time) {
	t := now
	p.LastRestartAt = &t
	p.Restarting = false
	if err == nil {
		p.PID = newPID
		p.LastHeartbeat = now
	}
}
