package main

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/samber/lo"
)

// Session is a token saved by login for one daemon API.
type Session struct {
	Token     string    `json:"token"`
	TokenType string    `json:"token_type"`
	ExpiresAt time.Time `json:"expires_at"`
	Username  string    `json:"username"`
	ServerURL string    `json:"server_url"`
}

func (s Session) expired(now time.Time) bool { return !now.Before(s.ExpiresAt) }

// SessionManager keeps one session per API base URL in a single JSON file.
type SessionManager struct {
	path string
	now  func() time.Time
}

// NewSessionManager stores sessions in ~/.twinwatch/sessions.json.
func NewSessionManager() *SessionManager {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return newSessionManagerAt(filepath.Join(home, ".twinwatch"))
}

func newSessionManagerAt(dir string) *SessionManager {
	return &SessionManager{path: filepath.Join(dir, "sessions.json"), now: time.Now}
}

// SaveSession stores s under its ServerURL, replacing any previous login
// for that server and pruning expired ones.
func (sm *SessionManager) SaveSession(s *Session) error {
	all, err := sm.read()
	if err != nil {
		return err
	}
	all[s.ServerURL] = *s
	return sm.write(all)
}

// LoadSession returns the live session for serverURL, or nil.
func (sm *SessionManager) LoadSession(serverURL string) (*Session, error) {
	all, err := sm.read()
	if err != nil {
		return nil, err
	}
	s, ok := all[serverURL]
	if !ok || s.expired(sm.now()) {
		return nil, nil
	}
	return &s, nil
}

// ClearSession forgets the session for serverURL. Clearing an unknown
// server is not an error.
func (sm *SessionManager) ClearSession(serverURL string) error {
	all, err := sm.read()
	if err != nil {
		return err
	}
	if _, ok := all[serverURL]; !ok {
		return nil
	}
	delete(all, serverURL)
	return sm.write(all)
}

func (sm *SessionManager) read() (map[string]Session, error) {
	data, err := os.ReadFile(sm.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]Session{}, nil
	}
	if err != nil {
		return nil, err
	}
	all := map[string]Session{}
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, err
	}
	return all, nil
}

func (sm *SessionManager) write(all map[string]Session) error {
	now := sm.now()
	live := lo.PickBy(all, func(_ string, s Session) bool { return !s.expired(now) })
	if len(live) == 0 {
		if err := os.Remove(sm.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(sm.path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(live, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(sm.path, data, 0o600)
}
