package models

import "time"

// DeviceState is the sensed power state of the monitored device.
type DeviceState int

// Device states.
const (
	DeviceOff DeviceState = iota
	DeviceOn
)

func (s DeviceState) String() string {
	if s == DeviceOn {
		return "on"
	}
	return "off"
}

// Indicator identifies one of the status LEDs.
type Indicator int

// Indicators.
const (
	IndicatorStatus   Indicator = iota // blue: connecting / connected
	IndicatorActivity                  // green: button press in progress
	IndicatorFailure                   // red: connection failure
)

func (i Indicator) String() string {
	switch i {
	case IndicatorStatus:
		return "status"
	case IndicatorActivity:
		return "activity"
	case IndicatorFailure:
		return "failure"
	default:
		return "unknown"
	}
}

// BlinkPattern describes how an indicator is blinked.
type BlinkPattern struct {
	Name      string
	Indicator Indicator
	Times     int
	Interval  time.Duration // on time and off time of each blink
}
