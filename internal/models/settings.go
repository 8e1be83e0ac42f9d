// Package models contains the data structures used throughout wol-power-agent.
package models

import (
	"net"
	"net/netip"
	"time"
)

// Settings holds the complete, immutable agent configuration.
// It is loaded once at startup and never reloaded.
type Settings struct {
	TargetMAC     net.HardwareAddr
	WiFi          WiFiSettings
	Static        *StaticAddress // nil means dynamic addressing
	CheckInterval time.Duration
	FailThreshold int
	GPIO          GPIOSettings
	RestartMode   RestartMode
	MetricsAddr   string          // empty disables the metrics endpoint
	Telegram      *TelegramConfig // nil if not configured
	MQTT          *MQTTConfig     // nil if not configured
}

// WiFiSettings holds the credentials and link parameters for the supervisor.
type WiFiSettings struct {
	SSID           string
	Password       string
	Interface      string
	ConnectTimeout time.Duration
}

// StaticAddress is the optional static IPv4 tuple.
// It is only set when address, mask and gateway are all valid.
type StaticAddress struct {
	Address netip.Addr
	Mask    netip.Addr
	Gateway netip.Addr
	DNS     netip.Addr // zero value if not configured
}

// Prefix returns the address in CIDR notation derived from the subnet mask.
func (s StaticAddress) Prefix() netip.Prefix {
	mask := s.Mask.As4()
	ones, _ := net.IPv4Mask(mask[0], mask[1], mask[2], mask[3]).Size()
	return netip.PrefixFrom(s.Address, ones)
}

// GPIOSettings maps the hardware collaborators to GPIO line offsets.
type GPIOSettings struct {
	Chip           string
	TransistorPin  int
	DeviceStatePin int
	RedLEDPin      int
	GreenLEDPin    int
	BlueLEDPin     int
}

// RestartMode selects how a fatal restart is carried out.
type RestartMode string

// Restart modes.
const (
	RestartReboot RestartMode = "reboot" // reboot the whole device
	RestartExit   RestartMode = "exit"   // exit non-zero and let the service manager restart us
)
