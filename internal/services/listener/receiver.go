package listener

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"
)

// Port is the Wake-on-LAN port the agent listens on.
const Port = 9

// DefaultPollInterval bounds a single receive.
const DefaultPollInterval = time.Second

// bufferSize bounds a single read. Longer datagrams are truncated to this
// size and then fail the length check.
const bufferSize = 1024

// Datagram is one received UDP payload.
type Datagram struct {
	Payload []byte
	From    net.Addr
}

// Receiver polls a socket for datagrams.
type Receiver interface {
	// Receive waits at most one poll interval. ok is false when no datagram
	// arrived in that time; that is not an error.
	Receive(ctx context.Context) (d Datagram, ok bool, err error)
	Close() error
}

// UDPReceiver is the default Receiver backed by a UDP socket.
type UDPReceiver struct {
	conn         net.PacketConn
	pollInterval time.Duration
	buf          []byte
}

// ListenUDP binds addr (e.g. "0.0.0.0:9") for receiving.
func ListenUDP(ctx context.Context, addr string, pollInterval time.Duration) (*UDPReceiver, error) {
	var lc net.ListenConfig
	conn, err := lc.ListenPacket(ctx, "udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return &UDPReceiver{
		conn:         conn,
		pollInterval: pollInterval,
		buf:          make([]byte, bufferSize),
	}, nil
}

// Addr returns the bound local address.
func (r *UDPReceiver) Addr() net.Addr {
	return r.conn.LocalAddr()
}

// Receive implements Receiver.
func (r *UDPReceiver) Receive(ctx context.Context) (Datagram, bool, error) {
	deadline := time.Now().Add(r.pollInterval)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := r.conn.SetReadDeadline(deadline); err != nil {
		return Datagram{}, false, fmt.Errorf("failed to set read deadline: %w", err)
	}

	n, from, err := r.conn.ReadFrom(r.buf)
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return Datagram{}, false, nil
		}
		return Datagram{}, false, fmt.Errorf("failed to receive: %w", err)
	}

	payload := make([]byte, n)
	copy(payload, r.buf[:n])
	return Datagram{Payload: payload, From: from}, true, nil
}

// Close closes the socket.
func (r *UDPReceiver) Close() error {
	return r.conn.Close()
}
