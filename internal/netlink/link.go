// Package netlink brings up the network link the speaker streams over.
package netlink

import (
	"context"
	"fmt"
	"net"

	"github.com/rs/zerolog"

	"github.com/lexiqai/wit-speaker/internal/resilience"
)

// Link is the station-mode network interface (Wi-Fi on a board)
type Link interface {
	// Join starts associating with the network; it does not wait
	Join(ssid, password string) error

	// Connected reports whether the link is up with an address
	Connected() bool

	// LocalIP returns the link address, or "" when down
	LocalIP() string
}

// Connect joins the network and polls until the link is up or the
// attempts run out.
func Connect(ctx context.Context, link Link, ssid, password string, config *resilience.AwaitConfig, logger zerolog.Logger) error {
	logger.Info().Str("ssid", ssid).Msg("Connecting to WiFi")

	if err := link.Join(ssid, password); err != nil {
		return fmt.Errorf("failed to join %q: %w", ssid, err)
	}

	err := resilience.Await(ctx, link.Connected, config, func(attempt int) {
		logger.Debug().Int("attempt", attempt).Msg("Waiting for WiFi")
	})
	if err != nil {
		return fmt.Errorf("failed to connect to %q: %w", ssid, err)
	}

	logger.Info().Str("ip", link.LocalIP()).Msg("WiFi Connected")
	return nil
}

// HostLink is a Link for hosts whose network is managed by the OS.
// Join is a no-op; the link is up when any non-loopback interface has an address.
type HostLink struct{}

// Join does nothing on a host
func (HostLink) Join(ssid, password string) error {
	return nil
}

// Connected reports whether a non-loopback interface is up with an address
func (l HostLink) Connected() bool {
	return l.LocalIP() != ""
}

// LocalIP returns the first non-loopback IPv4 address, falling back to IPv6
func (HostLink) LocalIP() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return ""
	}

	var fallback string
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok || ipNet.IP.IsLoopback() || ipNet.IP.IsLinkLocalUnicast() {
				continue
			}
			if ip4 := ipNet.IP.To4(); ip4 != nil {
				return ip4.String()
			}
			if fallback == "" {
				fallback = ipNet.IP.String()
			}
		}
	}
	return fallback
}
