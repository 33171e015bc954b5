package main

import (
	"context"
	"net"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ltc-node/config"
)

func TestArtnetIdentity(t *testing.T) {
	_, ipnet, err := net.ParseCIDR("2.0.0.15/8")
	require.NoError(t, err)
	ipnet.IP = net.IPv4(2, 0, 0, 15)

	id := artnetIdentity(ipnet, net.HardwareAddr{0xb8, 0x27, 0xeb, 1, 2, 3}, "ltc", "ltc long")
	assert.Equal(t, netip.MustParseAddr("2.0.0.15"), id.IP)
	assert.Equal(t, netip.MustParseAddr("255.0.0.0"), id.SubnetMask)
	assert.Equal(t, [6]byte{0xb8, 0x27, 0xeb, 1, 2, 3}, id.MAC)
	assert.Equal(t, "ltc", id.ShortName)

	empty := artnetIdentity(nil, nil, "ltc", "")
	assert.False(t, empty.IP.IsValid())
}

func TestNewApp_InternalSourceOnly(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Source = config.SourceInternal
	cfg.DisableDisplay = true
	cfg.DisableMax7219 = true
	cfg.DisableMidi = true
	cfg.DisableArtNet = true
	cfg.DisableLtc = true
	cfg.DisableLeds = true
	cfg.DisableWebSocket = true
	require.NoError(t, cfg.Validate())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a, err := newApp(ctx, cfg, true)
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.artnet)
	assert.Nil(t, a.status)
	require.NotNil(t, a.generator)
	assert.Empty(t, a.fanout.Outputs())

	target := a.ConsoleTarget()
	assert.Nil(t, target.Nodes)
	assert.Nil(t, target.Poller)

	done := a.Start(ctx)
	cancel()
	<-done
}
