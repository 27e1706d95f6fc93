package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/loykin/twinwatch/internal/detector"
)

var errAlreadyRunning = errors.New("daemon already running")

// spawnDaemon re-executes the current command line detached, minus the
// parent-only flags, and returns the child's pid.
func spawnDaemon(logFile string) (int, error) {
	exe, err := os.Executable()
	if err != nil {
		return 0, fmt.Errorf("locate executable: %w", err)
	}
	cmd := exec.Command(exe, daemonArgs(os.Args[1:])...) // #nosec G204
	configureDaemonAttrs(cmd)
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644) // #nosec G304
		if err != nil {
			return 0, fmt.Errorf("open daemon log: %w", err)
		}
		defer func() { _ = f.Close() }()
		cmd.Stdout, cmd.Stderr = f, f
	}
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("start daemon: %w", err)
	}
	pid := cmd.Process.Pid
	_ = cmd.Process.Release()
	return pid, nil
}

// daemonArgs drops --daemonize and --logfile. The child keeps --pidfile
// so it records and removes its own pid.
func daemonArgs(args []string) []string {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		a := args[i]
		switch {
		case a == "--daemonize" || strings.HasPrefix(a, "--daemonize="):
		case a == "--logfile":
			i++
		case strings.HasPrefix(a, "--logfile="):
		default:
			out = append(out, a)
		}
	}
	return out
}

// checkPidFile fails when path names a live process. Stale or unreadable
// files are ignored and will be overwritten.
func checkPidFile(path string) error {
	if path == "" {
		return nil
	}
	pid, err := detector.ReadPIDFile(path)
	if err != nil {
		return nil
	}
	if pid != os.Getpid() && detector.IsRunning(pid) {
		return fmt.Errorf("%w: pid %d in %s", errAlreadyRunning, pid, path)
	}
	return nil
}

func writePidFile(path string, pid int) error {
	if err := checkPidFile(path); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(pid)+"\n"), 0o644)
}

// removePidFile deletes path only while it still holds pid, so a newer
// daemon's file survives.
func removePidFile(path string, pid int) error {
	if path == "" {
		return nil
	}
	got, err := detector.ReadPIDFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err == nil && got != pid {
		return nil
	}
	return os.Remove(path)
}
