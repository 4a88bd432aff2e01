package serving

import (
	"fmt"
	"time"
)

// Policy decides when a published artifact is re-read from disk.
type Policy string

const (
	// PolicyAlways reloads on every request, asynchronously.
	PolicyAlways Policy = "always"
	// PolicyIfModified reloads when the file's modification time changes.
	PolicyIfModified Policy = "if_modified"
	// PolicyNever keeps the first published artifact until an explicit reload.
	PolicyNever Policy = "never"
)

func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(s); p {
	case PolicyAlways, PolicyIfModified, PolicyNever:
		return p, nil
	default:
		return "", fmt.Errorf("unknown reload policy %q", s)
	}
}

// Trigger records what caused a load attempt.
type Trigger string

const (
	TriggerStartup Trigger = "startup"
	TriggerRequest Trigger = "request"
	TriggerWatch   Trigger = "watch"
	TriggerSignal  Trigger = "signal"
	TriggerManual  Trigger = "manual"
)

// LoadEvent describes one load or reload attempt.
type LoadEvent struct {
	Path     string
	ModTime  time.Time
	Trigger  Trigger
	Success  bool
	Error    string
	Duration time.Duration
	At       time.Time
}
