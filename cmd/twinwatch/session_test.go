package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionPerServer(t *testing.T) {
	dir := t.TempDir()
	sm := newSessionManagerAt(dir)
	const a, b = "http://a:8090/api", "http://b:8090/api"

	s, err := sm.LoadSession(a)
	require.NoError(t, err)
	assert.Nil(t, s)

	exp := time.Now().Add(time.Hour)
	require.NoError(t, sm.SaveSession(&Session{Token: "ta", ExpiresAt: exp, ServerURL: a}))
	require.NoError(t, sm.SaveSession(&Session{Token: "tb", ExpiresAt: exp, ServerURL: b}))

	s, err = sm.LoadSession(a)
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, "ta", s.Token)

	require.NoError(t, sm.ClearSession(a))
	s, err = sm.LoadSession(a)
	require.NoError(t, err)
	assert.Nil(t, s)
	s, err = sm.LoadSession(b)
	require.NoError(t, err)
	require.NotNil(t, s, "clearing one server keeps the others")
	assert.Equal(t, "tb", s.Token)

	require.NoError(t, sm.ClearSession(b))
	require.NoError(t, sm.ClearSession(b))
	_, err = os.Stat(filepath.Join(dir, "sessions.json"))
	assert.True(t, os.IsNotExist(err), "file removed once empty")
}

func TestSessionExpiry(t *testing.T) {
	sm := newSessionManagerAt(t.TempDir())
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	sm.now = func() time.Time { return now }
	const u = "http://x/api"

	require.NoError(t, sm.SaveSession(&Session{Token: "t", ExpiresAt: now.Add(time.Minute), ServerURL: u}))
	s, err := sm.LoadSession(u)
	require.NoError(t, err)
	require.NotNil(t, s)

	now = now.Add(2 * time.Minute)
	s, err = sm.LoadSession(u)
	require.NoError(t, err)
	assert.Nil(t, s)
}
