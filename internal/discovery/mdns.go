package discovery

import (
	"fmt"

	"github.com/grandcat/zeroconf"
	"github.com/rs/zerolog/log"

	"github.com/turbotransfer/host/internal/config"
)

// Advertiser publishes the host's HTTP service over multicast DNS so
// devices on the LAN can find it without typing an address.
type Advertiser struct {
	server *zeroconf.Server
}

func Advertise(instance string, port int) (*Advertiser, error) {
	server, err := zeroconf.Register(
		instance,
		config.MDNSServiceType,
		config.MDNSDomain,
		port,
		[]string{"path=/", "app=turbo-transfer"},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("register mdns service: %w", err)
	}

	log.Info().
		Str("instance", instance).
		Str("service", config.MDNSServiceType).
		Int("port", port).
		Msg("mdns service registered")

	return &Advertiser{server: server}, nil
}

func (a *Advertiser) Shutdown() {
	if a == nil || a.server == nil {
		return
	}
	a.server.Shutdown()
	log.Info().Msg("mdns service unregistered")
}
