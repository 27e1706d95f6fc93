package env

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeOrderAndExpansion(t *testing.T) {
	e := New()
	e.Set("HOME_DIR", "/srv/twin")
	e.Set("MODE", "global")
	out := e.Merge([]string{"MODE=local", "LOG=${HOME_DIR}/logs", "=skipped", "BROKEN"})
	assert.Equal(t, []string{"HOME_DIR=/srv/twin", "LOG=/srv/twin/logs", "MODE=local"}, out)
}

func TestMergeFromOS(t *testing.T) {
	t.Setenv("TWINWATCH_ENV_TEST", "from-os")
	e := New().FromOS()
	out := e.Merge(nil)
	assert.Contains(t, out, "TWINWATCH_ENV_TEST=from-os")

	e.Set("TWINWATCH_ENV_TEST", "override")
	out = e.Merge(nil)
	assert.Contains(t, out, "TWINWATCH_ENV_TEST=override")
	assert.NotContains(t, out, "TWINWATCH_ENV_TEST=from-os")
}

func TestWithSetDoesNotMutate(t *testing.T) {
	a := New()
	a.Set("A", "1")
	b := a.WithSet("B", "2")
	assert.Equal(t, []string{"A=1"}, a.Merge(nil))
	assert.Equal(t, []string{"A=1", "B=2"}, b.Merge(nil))
}

func TestAddPairs(t *testing.T) {
	e := New()
	e.AddPairs([]string{"X=1", "noeq", "Y=a=b"})
	assert.Equal(t, []string{"X=1", "Y=a=b"}, e.Merge(nil))
}

func TestLoadFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "sim.env")
	require.NoError(t, os.WriteFile(p, []byte("# comment\n\nSEED = 42\nNAME=twin\n=bad\n"), 0o644))
	m, err := LoadFile(p)
	require.NoError(t, err)
	assert.Equal(t, Var{"SEED": "42", "NAME": "twin"}, m)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.env"))
	assert.Error(t, err)
}
