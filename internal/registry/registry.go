package registry

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrNotFound is returned when an operation targets an unregistered process id.
var ErrNotFound = errors.New("process not registered")

// ProcessType drives restart ordering only.
type ProcessType string

const (
	TypeServer ProcessType = "server"
	TypeClient ProcessType = "client"
)

// Valid reports whether t is a known process type.
func (t ProcessType) Valid() bool { return t == TypeServer || t == TypeClient }

// ParseType converts a config/API string into a ProcessType.
func ParseType(s string) (ProcessType, error) {
	t := ProcessType(s)
	if !t.Valid() {
		return "", errors.New("invalid process type: " + s)
	}
	return t, nil
}

// Restarter is the recovery capability supplied by whoever launched the process.
// A successful restart returns the new pid (> 0) and a nil error.
type Restarter interface {
	Restart(ctx context.Context) (int, error)
}

// RestarterFunc adapts a plain function to Restarter.
type RestarterFunc func(ctx context.Context) (int, error)

func (f RestarterFunc) Restart(ctx context.Context) (int, error) { return f(ctx) }

// TrackedProcess is one monitored subprocess.
type TrackedProcess struct {
	ID            string
	PID           int
	LogFile       string
	Restarter     Restarter
	Type          ProcessType
	RegisteredAt  time.Time
	LastHeartbeat time.Time
	// HeartbeatSeen is set once a log mtime has been observed.
	HeartbeatSeen bool
	RestartCount  int
	LastRestartAt *time.Time
	// GaveUp is set the first time a check finds the restart budget spent.
	GaveUp bool
	// Restarting is set while an attempt for this registration is in flight.
	Restarting bool
}

func (p TrackedProcess) clone() TrackedProcess {
	if p.LastRestartAt != nil {
		t := *p.LastRestartAt
		p.LastRestartAt = &t
	}
	return p
}

// Registry is a concurrency-safe map of process id to tracked record.
// The lock is held only around map and field access.
type Registry struct {
	mu    sync.Mutex
	procs map[string]*TrackedProcess
	now   func() time.Time
}

// New returns an empty registry. now may be nil to use time.Now.
func New(now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{procs: make(map[string]*TrackedProcess), now: now}
}

// Register inserts or overwrites the record for id. Counters start from zero.
func (r *Registry) Register(id string, pid int, logFile string, rs Restarter, typ ProcessType) {
	now := r.now()
	r.mu.Lock()
	r.procs[id] = &TrackedProcess{
		ID:            id,
		PID:           pid,
		LogFile:       logFile,
		Restarter:     rs,
		Type:          typ,
		RegisteredAt:  now,
		LastHeartbeat: now,
	}
	r.mu.Unlock()
}

// Unregister removes id. Unknown ids are ignored.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	delete(r.procs, id)
	r.mu.Unlock()
}

// UpdatePID replaces the pid of id and resets its heartbeat to now.
func (r *Registry) UpdatePID(id string, pid int) error {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.procs[id]
	if !ok {
		return ErrNotFound
	}
	p.PID = pid
	p.LastHeartbeat = now
	return nil
}

// Get returns a copy of the record for id.
func (r *Registry) Get(id string) (TrackedProcess, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.procs[id]
	if !ok {
		return TrackedProcess{}, false
	}
	return p.clone(), true
}

// Update applies fn to the live record under the lock. fn must not block
// or call back into the registry. Returns false if id is gone.
func (r *Registry) Update(id string, fn func(p *TrackedProcess)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.procs[id]
	if !ok {
		return false
	}
	fn(p)
	return true
}

// Len returns the number of tracked processes.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.procs)
}

// Snapshot returns copies of every record, servers first, then by
// registration time and id.
func (r *Registry) Snapshot() []TrackedProcess {
	r.mu.Lock()
	out := make([]TrackedProcess, 0, len(r.procs))
	for _, p := range r.procs {
		out = append(out, p.clone())
	}
	r.mu.Unlock()
	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := typeRank(out[i].Type), typeRank(out[j].Type)
		if ri != rj {
			return ri < rj
		}
		if !out[i].RegisteredAt.Equal(out[j].RegisteredAt) {
			return out[i].RegisteredAt.Before(out[j].RegisteredAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// IDs returns the ids in check order (servers before clients).
func (r *Registry) IDs() []string {
	snap := r.Snapshot()
	ids := make([]string, len(snap))
	for i, p := range snap {
		ids[i] = p.ID
	}
	return ids
}

func typeRank(t ProcessType) int {
	if t == TypeServer {
		return 0
	}
	return 1
}
