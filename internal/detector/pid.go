package detector

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"runtime"
	"strconv"
	"strings"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// IsRunning reports whether pid names a live, non-zombie process.
// Lookup errors (absent, access denied) read as not running.
func IsRunning(pid int) bool {
	if pid <= 0 || pid > math.MaxInt32 {
		return false
	}
	// An exited but unreaped child still exists as a zombie.
	if runtime.GOOS == "linux" && isZombieLinux(pid) {
		return false
	}
	exists, err := gopsproc.PidExists(int32(pid))
	if err != nil || !exists {
		return false
	}
	p, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		return false
	}
	states, err := p.Status()
	if err != nil {
		// Status is not available everywhere; existence is enough then.
		return true
	}
	for _, s := range states {
		if s == gopsproc.Zombie {
			return false
		}
	}
	return true
}

// isZombieLinux returns true if /proc/<pid>/status reports a zombie state (Z).
func isZombieLinux(pid int) bool {
	b, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/status")
	if err != nil {
		return false
	}
	return bytes.Contains(b, []byte("State:\tZ"))
}

// ReadPIDFile reads the first line of a pid file.
func ReadPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	first, _, _ := strings.Cut(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n")
	pid, err := strconv.Atoi(strings.TrimSpace(first))
	if err != nil {
		return 0, fmt.Errorf("invalid pid in %s: %w", path, err)
	}
	return pid, nil
}
