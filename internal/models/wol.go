package models

import "time"

// WakeRequest holds the parameters for sending a magic packet.
type WakeRequest struct {
	MACAddress  string
	BroadcastIP string
	Port        int
	Count       int           // number of packets to send
	Interval    time.Duration // delay between packets
}

// WakeResult holds the result of sending magic packets.
type WakeResult struct {
	PacketsSent int
	Duration    time.Duration
	Error       error
}
