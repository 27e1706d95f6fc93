package main

import "time"

// GlobalFlags holds persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
	APIUrl     string
	APITimeout time.Duration
	Token      string
	Insecure   bool
	CACert     string
}

// ServeFlags holds flags for the serve command.
type ServeFlags struct {
	ConfigPath string
	Daemonize  bool
	PidFile    string
	LogFile    string
}

// HistoryFlags holds flags for the history command.
type HistoryFlags struct {
	ID    string
	Limit int
	JSON  bool
}

// StatusFlags holds flags for the status command.
type StatusFlags struct {
	ID   string
	JSON bool
}

// IntervalFlags holds flags for set-interval.
type IntervalFlags struct {
	Interval time.Duration
}

// UpdatePIDFlags holds flags for update-pid.
type UpdatePIDFlags struct {
	ID  string
	PID int
}

// UnregisterFlags holds flags for unregister.
type UnregisterFlags struct {
	ID string
}

// LoginFlags holds flags for login.
type LoginFlags struct {
	Username string
	Password string
}

// TemplateCreateFlags holds flags for init.
type TemplateCreateFlags struct {
	Type   string
	Name   string
	Output string
	LogDir string
	Force  bool
}
