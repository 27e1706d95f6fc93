package client

import (
	"github.com/loykin/twinwatch/internal/auth"
	"github.com/loykin/twinwatch/internal/history"
	"github.com/loykin/twinwatch/internal/watchdog"
)

// Wire types shared with the daemon.

type Status = watchdog.Status

type ProcessStatus = watchdog.ProcessStatus

type RunResult = watchdog.RunResult

type Token = auth.Token

type HistoryEvent = history.Event

// IntervalResponse is returned by SetInterval.
type IntervalResponse struct {
	Interval        string  `json:"interval"`
	IntervalSeconds float64 `json:"interval_seconds"`
}

// ErrorResponse is the daemon's error body.
type ErrorResponse struct {
	Error string `json:"error"`
}
