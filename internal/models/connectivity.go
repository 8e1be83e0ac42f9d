package models

// ConnectivityState is the state of the connectivity supervisor.
type ConnectivityState int32

// Connectivity states.
const (
	StateDisconnected ConnectivityState = iota
	StateConnecting
	StateConnected
	StateFatalRestartPending
)

func (s ConnectivityState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFatalRestartPending:
		return "fatal_restart_pending"
	default:
		return "unknown"
	}
}

// ConnectRequest holds everything the network collaborator needs to bring the link up.
type ConnectRequest struct {
	SSID      string
	Password  string
	Interface string
	Static    *StaticAddress // nil means DHCP
}
