package health

import (
	"fmt"
	"time"
)

// State is the outcome of one health check.
type State int

const (
	Healthy State = iota
	Dead
	Hung
)

func (s State) String() string {
	switch s {
	case Healthy:
		return "healthy"
	case Dead:
		return "dead"
	case Hung:
		return "hung"
	default:
		return "unknown"
	}
}

// Unhealthy reports whether s calls for a restart.
func (s State) Unhealthy() bool { return s == Dead || s == Hung }

// MarshalText lets State render as its name in JSON and logs.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(b []byte) error {
	switch string(b) {
	case "healthy":
		*s = Healthy
	case "dead":
		*s = Dead
	case "hung":
		*s = Hung
	default:
		return fmt.Errorf("unknown health state %q", b)
	}
	return nil
}

// Input carries the probe results and the record's heartbeat baseline.
type Input struct {
	Running       bool
	MTime         time.Time
	HasMTime      bool
	LastHeartbeat time.Time
	HeartbeatSeen bool
	Timeout       time.Duration
	Now           time.Time
}

// Result is the classified state plus the advanced heartbeat baseline,
// which the caller writes back to the registry.
type Result struct {
	State         State
	LastHeartbeat time.Time
	HeartbeatSeen bool
	Elapsed       time.Duration
}

// Classify decides the state for one check.
// A process is only Hung once a heartbeat has actually been observed, so a
// cold-starting worker with no log yet is never restarted for silence.
// The baseline only moves forward: a log left over from before a restart
// must not pull it back behind the restart time.
func Classify(in Input) Result {
	res := Result{LastHeartbeat: in.LastHeartbeat, HeartbeatSeen: in.HeartbeatSeen}
	if in.HasMTime {
		if in.MTime.After(res.LastHeartbeat) {
			res.LastHeartbeat = in.MTime
		}
		res.HeartbeatSeen = true
	}
	res.Elapsed = in.Now.Sub(res.LastHeartbeat)
	switch {
	case !in.Running:
		res.State = Dead
	case res.HeartbeatSeen && res.Elapsed > in.Timeout:
		res.State = Hung
	default:
		res.State = Healthy
	}
	return res
}
