//go:build e2e

package e2e

import (
	"context"
	"io"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/fgeck/wol-power-agent/internal/models"
	"github.com/fgeck/wol-power-agent/internal/services/listener"
	"github.com/fgeck/wol-power-agent/internal/services/power"
	"github.com/fgeck/wol-power-agent/internal/services/wol"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var target = net.HardwareAddr{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF}

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

// fakePin is an in-memory GPIO line.
type fakePin struct {
	mu     sync.Mutex
	value  int
	writes []int
}

func (p *fakePin) SetValue(v int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.value = v
	p.writes = append(p.writes, v)
	return nil
}

func (p *fakePin) Value() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.value, nil
}

func (p *fakePin) Presses() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, v := range p.writes {
		if v == 1 {
			n++
		}
	}
	return n
}

type board struct {
	transistor *fakePin
	sense      *fakePin
	power      *power.Impl
}

func newBoard() *board {
	b := &board{transistor: &fakePin{}, sense: &fakePin{}}
	b.power = power.NewWithSleeper(testLogger(), power.Pins{
		Transistor:  b.transistor,
		DeviceState: b.sense,
		Red:         &fakePin{},
		Green:       &fakePin{},
		Blue:        &fakePin{},
	}, func(time.Duration) {})
	return b
}

func startListener(t *testing.T, b *board) net.Addr {
	t.Helper()

	receiver, err := listener.ListenUDP(context.Background(), "127.0.0.1:0", 20*time.Millisecond)
	require.NoError(t, err)
	addr := receiver.Addr()

	svc := listener.New(testLogger(), listener.Config{
		Target:   target,
		Receiver: receiver,
		Power:    b.power,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = svc.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return addr
}

func sendWake(t *testing.T, addr net.Addr, mac string, count int) {
	t.Helper()
	udp := addr.(*net.UDPAddr)

	result, err := wol.New(testLogger()).Send(context.Background(), models.WakeRequest{
		MACAddress:  mac,
		BroadcastIP: udp.IP.String(),
		Port:        udp.Port,
		Count:       count,
		Interval:    10 * time.Millisecond,
	})
	require.NoError(t, err)
	require.NoError(t, result.Error)
	require.Equal(t, count, result.PacketsSent)
}

func TestWake_DeviceOff_PressesPowerButton_E2E(t *testing.T) {
	b := newBoard()
	addr := startListener(t, b)

	sendWake(t, addr, "AA:BB:CC:DD:EE:FF", 1)

	require.Eventually(t, func() bool { return b.transistor.Presses() == 1 }, 2*time.Second, 10*time.Millisecond)
	v, _ := b.transistor.Value()
	assert.Equal(t, 0, v)
}

func TestWake_DeviceOn_NoPress_E2E(t *testing.T) {
	b := newBoard()
	require.NoError(t, b.sense.SetValue(1))
	addr := startListener(t, b)

	sendWake(t, addr, "AA:BB:CC:DD:EE:FF", 3)

	time.Sleep(200 * time.Millisecond)
	assert.Zero(t, b.transistor.Presses())
}

func TestWake_OtherTarget_NoPress_E2E(t *testing.T) {
	b := newBoard()
	addr := startListener(t, b)

	sendWake(t, addr, "00:11:22:33:44:55", 3)

	time.Sleep(200 * time.Millisecond)
	assert.Zero(t, b.transistor.Presses())
}

func TestWake_Garbage_NoPress_E2E(t *testing.T) {
	b := newBoard()
	addr := startListener(t, b)

	conn, err := net.Dial("udp4", addr.String())
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write(make([]byte, 101))
	require.NoError(t, err)

	// A valid packet afterwards is still handled.
	sendWake(t, addr, "aa-bb-cc-dd-ee-ff", 1)

	require.Eventually(t, func() bool { return b.transistor.Presses() == 1 }, 2*time.Second, 10*time.Millisecond)
}

// RealWOL tests - only run if explicitly configured
func TestRealWOL_E2E(t *testing.T) {
	mac := os.Getenv("TEST_WOL_MAC")
	if mac == "" {
		t.Skip("TEST_WOL_MAC not set")
	}

	result, err := wol.New(testLogger()).Send(context.Background(), models.WakeRequest{
		MACAddress:  mac,
		BroadcastIP: os.Getenv("TEST_WOL_BROADCAST"),
	})

	require.NoError(t, err)
	require.NoError(t, result.Error)
	assert.Equal(t, 1, result.PacketsSent)
}
