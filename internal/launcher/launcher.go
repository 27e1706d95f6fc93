package launcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/loykin/twinwatch/internal/detector"
	"github.com/loykin/twinwatch/internal/env"
	"github.com/loykin/twinwatch/internal/logger"
)

// DefaultStopTimeout is how long a previous instance gets to exit after
// SIGTERM before it is killed.
const DefaultStopTimeout = 5 * time.Second

// ProcessIDEnv carries the registration id into every spawned worker.
const ProcessIDEnv = "TWINWATCH_PROCESS_ID"

var ErrEmptyCommand = errors.New("launcher: empty command")

// CommandRestarter runs a shell command as a worker. Its stdout and stderr
// are appended to LogFile so the worker's own output is its heartbeat.
// Restart terminates the previous instance, if any, then spawns a fresh one.
type CommandRestarter struct {
	ID          string
	Command     string
	WorkDir     string
	Env         []string
	LogFile     string
	PIDFile     string
	Rotation    logger.FileConfig
	BaseEnv     *env.Env
	StopTimeout time.Duration
	Logger      *slog.Logger

	mu      sync.Mutex
	cmd     *exec.Cmd
	done    chan struct{}
	adopted int
}

// Adopt records a pid started by someone else so the next Restart
// terminates it before spawning.
func (c *CommandRestarter) Adopt(pid int) {
	c.mu.Lock()
	c.adopted = pid
	c.mu.Unlock()
}

// PID returns the pid of the running child, or 0.
func (c *CommandRestarter) PID() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cmd != nil && c.cmd.Process != nil && c.done != nil {
		select {
		case <-c.done:
		default:
			return c.cmd.Process.Pid
		}
	}
	return 0
}

// Start spawns the command unless a child from this restarter is still running.
func (c *CommandRestarter) Start(ctx context.Context) (int, error) {
	if pid := c.PID(); pid > 0 {
		return pid, nil
	}
	return c.spawn(ctx)
}

// Restart stops the previous instance and spawns a new one.
func (c *CommandRestarter) Restart(ctx context.Context) (int, error) {
	if err := c.Stop(); err != nil {
		c.logger().Warn("previous instance did not stop cleanly", "id", c.ID, "error", err)
	}
	return c.spawn(ctx)
}

// Stop terminates the running or adopted instance, escalating to a kill
// after StopTimeout.
func (c *CommandRestarter) Stop() error {
	c.mu.Lock()
	cmd, done, adopted := c.cmd, c.done, c.adopted
	c.adopted = 0
	c.mu.Unlock()

	timeout := c.StopTimeout
	if timeout <= 0 {
		timeout = DefaultStopTimeout
	}
	var errs []error
	if cmd != nil && cmd.Process != nil && done != nil {
		if err := stopChild(cmd.Process.Pid, done, timeout); err != nil {
			errs = append(errs, err)
		}
	}
	if adopted > 0 && detector.IsRunning(adopted) {
		if err := stopForeign(adopted, timeout); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *CommandRestarter) spawn(ctx context.Context) (int, error) {
	if c.Command == "" {
		return 0, ErrEmptyCommand
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	out, err := c.output()
	if err != nil {
		return 0, err
	}

	// The child must outlive ctx, so it is not bound to it.
	cmd := shellCommand(c.Command)
	if c.WorkDir != "" {
		cmd.Dir = c.WorkDir
	}
	base := c.BaseEnv
	if base == nil {
		base = env.New().FromOS()
	}
	cmd.Env = base.WithSet(ProcessIDEnv, c.ID).Merge(c.Env)
	cmd.Stdout = out
	cmd.Stderr = out
	configureSysProcAttr(cmd)
	if err := cmd.Start(); err != nil {
		_ = out.Close()
		return 0, fmt.Errorf("start %s: %w", c.ID, err)
	}
	pid := cmd.Process.Pid
	done := make(chan struct{})

	c.mu.Lock()
	c.cmd = cmd
	c.done = done
	c.mu.Unlock()

	go c.reap(cmd, out, done)
	c.writePIDFile(pid)
	c.logger().Info("worker spawned", "id", c.ID, "pid", pid, "command", c.Command)
	return pid, nil
}

// reap waits for the child so it never lingers as a zombie.
func (c *CommandRestarter) reap(cmd *exec.Cmd, out io.Closer, done chan struct{}) {
	err := cmd.Wait()
	_ = out.Close()
	close(done)
	c.logger().Info("worker exited", "id", c.ID, "pid", cmd.Process.Pid, "error", err)
}

func (c *CommandRestarter) output() (io.WriteCloser, error) {
	if c.LogFile == "" {
		return os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	}
	if err := os.MkdirAll(filepath.Dir(c.LogFile), 0o750); err != nil {
		return nil, fmt.Errorf("create log dir for %s: %w", c.ID, err)
	}
	return c.Rotation.Writer(c.LogFile), nil
}

func (c *CommandRestarter) writePIDFile(pid int) {
	if c.PIDFile == "" {
		return
	}
	if err := os.WriteFile(c.PIDFile, []byte(strconv.Itoa(pid)+"\n"), 0o644); err != nil {
		c.logger().Warn("write pid file failed", "id", c.ID, "path", c.PIDFile, "error", err)
	}
}

func (c *CommandRestarter) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func stopChild(pid int, done <-chan struct{}, timeout time.Duration) error {
	select {
	case <-done:
		return nil
	default:
	}
	_ = terminate(pid, true)
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-done:
		return nil
	case <-t.C:
	}
	if err := kill(pid, true); err != nil {
		return fmt.Errorf("kill pid %d: %w", pid, err)
	}
	select {
	case <-done:
		return nil
	case <-time.After(time.Second):
		return fmt.Errorf("pid %d still running after kill", pid)
	}
}

// stopForeign stops a process this restarter did not spawn; it cannot be
// waited on, so liveness is polled.
func stopForeign(pid int, timeout time.Duration) error {
	_ = terminate(pid, false)
	if waitGone(pid, timeout) {
		return nil
	}
	if err := kill(pid, false); err != nil {
		return fmt.Errorf("kill pid %d: %w", pid, err)
	}
	if waitGone(pid, time.Second) {
		return nil
	}
	return fmt.Errorf("pid %d still running after kill", pid)
}

func waitGone(pid int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !detector.IsRunning(pid) {
			return true
		}
		time.Sleep(20 * time.Millisecond)
	}
	return !detector.IsRunning(pid)
}
