//go:build integration

package integration

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/fgeck/wol-power-agent/internal/models"
	"github.com/fgeck/wol-power-agent/internal/services/network"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func getConnectRequest(t *testing.T) models.ConnectRequest {
	t.Helper()

	ssid := os.Getenv("TEST_WIFI_SSID")
	if ssid == "" {
		t.Skip("TEST_WIFI_SSID not set")
	}

	iface := os.Getenv("TEST_WIFI_INTERFACE")
	if iface == "" {
		iface = "wlan0"
	}

	return models.ConnectRequest{
		SSID:      ssid,
		Password:  os.Getenv("TEST_WIFI_PASSWORD"),
		Interface: iface,
	}
}

func TestNetworkConnect_Integration(t *testing.T) {
	req := getConnectRequest(t)
	svc := network.New(testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	require.NoError(t, svc.Connect(ctx, req))

	up, err := svc.Connected(context.Background(), req.Interface)
	require.NoError(t, err)
	assert.True(t, up)
}

func TestNetworkConnect_WrongPassword_Integration(t *testing.T) {
	req := getConnectRequest(t)
	req.Password = "definitely-not-the-password"
	svc := network.New(testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	assert.Error(t, svc.Connect(ctx, req))
}

func TestNetworkConnected_UnknownInterface_Integration(t *testing.T) {
	if os.Getenv("TEST_WIFI_SSID") == "" {
		t.Skip("TEST_WIFI_SSID not set")
	}
	svc := network.New(testLogger())

	_, err := svc.Connected(context.Background(), "does-not-exist0")

	assert.Error(t, err)
}
