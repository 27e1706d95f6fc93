package detector

import "time"

// Probe is the heartbeat source used by the watchdog on every check.
// Implementations never return errors; failures read as "not running"
// and "no heartbeat".
type Probe interface {
	IsRunning(pid int) bool
	LogMTime(path string) (time.Time, bool)
}

// System probes the local OS and filesystem.
type System struct{}

func (System) IsRunning(pid int) bool                 { return IsRunning(pid) }
func (System) LogMTime(path string) (time.Time, bool) { return LogMTime(path) }
