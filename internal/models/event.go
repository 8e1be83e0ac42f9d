package models

import "time"

// EventKind identifies an agent event sent to notifiers.
type EventKind string

// Event kinds.
const (
	EventPowerPulse       EventKind = "power_pulse"
	EventConnected        EventKind = "connected"
	EventConnectionFailed EventKind = "connection_failed"
	EventFatalRestart     EventKind = "fatal_restart"
)

// Event is a notable agent occurrence.
type Event struct {
	Kind      EventKind
	Time      time.Time
	TargetMAC string
	Source    string // sender address of the magic packet, if any
	Failures  int
	Threshold int
	Message   string
}
