package env

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Var maps variable names to values.
type Var map[string]string

// Env composes the environment handed to restarted workers.
type Env struct {
	Var  Var // shared overrides (K->V)
	base Var // cached OS environment
}

// New returns an Env with no base. Call FromOS to inherit the daemon's
// own environment.
func New() *Env {
	return &Env{Var: make(Var)}
}

// FromOS caches the current process environment as the base.
func (e *Env) FromOS() *Env {
	base := make(Var)
	for _, kv := range os.Environ() {
		if k, v, ok := split(kv); ok {
			base[k] = v
		}
	}
	e.base = base
	return e
}

// Set sets a shared variable K=V.
func (e *Env) Set(k, v string) {
	if e.Var == nil {
		e.Var = make(Var)
	}
	e.Var[k] = v
}

// WithSet returns a copy of e with K=V added.
func (e *Env) WithSet(k, v string) *Env {
	cp := &Env{Var: make(Var, len(e.Var)+1), base: e.base}
	for kk, vv := range e.Var {
		cp.Var[kk] = vv
	}
	cp.Var[k] = v
	return cp
}

// AddPairs applies "K=V" entries as shared overrides. Malformed entries are skipped.
func (e *Env) AddPairs(kvs []string) {
	for _, kv := range kvs {
		if k, v, ok := split(kv); ok {
			e.Set(k, v)
		}
	}
}

// Merge composes the final environment in this order: OS base (when
// FromOS was called), shared overrides, then perProc "K=V" entries.
// $VAR references are expanded once against the composed map. The
// result is sorted by key.
func (e *Env) Merge(perProc []string) []string {
	m := make(Var, len(e.base)+len(e.Var)+len(perProc))
	for k, v := range e.base {
		m[k] = v
	}
	for k, v := range e.Var {
		if k == "" {
			continue
		}
		m[k] = v
	}
	for _, kv := range perProc {
		if k, v, ok := split(kv); ok {
			m[k] = v
		}
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+expand(m[k], m))
	}
	return out
}

// LoadFile parses a .env file with KEY=VALUE lines. Blank lines and lines
// starting with # are ignored; no quoting or export syntax.
func LoadFile(path string) (Var, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read env file %s: %w", path, err)
	}
	m := make(Var)
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexByte(line, '='); i > 0 {
			m[strings.TrimSpace(line[:i])] = strings.TrimSpace(line[i+1:])
		}
	}
	return m, nil
}

func split(kv string) (string, string, bool) {
	i := strings.IndexByte(kv, '=')
	if i <= 0 {
		return "", "", false
	}
	return kv[:i], kv[i+1:], true
}

// expand resolves $VAR and ${VAR} against m; unknown names expand to "".
func expand(s string, m Var) string {
	if !strings.Contains(s, "$") {
		return s
	}
	return os.Expand(s, func(k string) string { return m[k] })
}
