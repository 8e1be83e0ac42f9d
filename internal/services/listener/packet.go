package listener

import (
	"bytes"
	"net"
)

// Magic packet layout: a sync stream of six 0xFF bytes followed by the target
// hardware address repeated sixteen times.
const (
	syncLen         = 6
	macLen          = 6
	macRepetitions  = 16
	MagicPacketSize = syncLen + macLen*macRepetitions // 102
)

// IsMagicPacket reports whether b is exactly a Wake-on-LAN magic packet for target.
func IsMagicPacket(b []byte, target net.HardwareAddr) bool {
	if len(b) != MagicPacketSize || len(target) != macLen {
		return false
	}

	for _, c := range b[:syncLen] {
		if c != 0xFF {
			return false
		}
	}

	for i := range macRepetitions {
		off := syncLen + i*macLen
		if !bytes.Equal(b[off:off+macLen], target) {
			return false
		}
	}

	return true
}
