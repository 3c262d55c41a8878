package hostexec

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const ssidLookupTimeout = 2 * time.Second

type Info struct {
	HostName string `json:"host_name"`
	Status   string `json:"status"`
	Platform string `json:"platform"`
}

// Info reports the name shown to devices during pairing. On Windows the
// connected WiFi network name is preferred over the machine name.
func (e *Executor) Info(ctx context.Context) Info {
	return Info{
		HostName: e.hostName(ctx),
		Status:   "online",
		Platform: e.goos,
	}
}

func (e *Executor) hostName(ctx context.Context) string {
	if e.goos == "windows" {
		ctx, cancel := context.WithTimeout(ctx, ssidLookupTimeout)
		defer cancel()
		out, err := e.run(ctx, "netsh", "wlan", "show", "interfaces")
		if err == nil {
			if ssid := parseSSID(string(out)); ssid != "" {
				return "WiFi: " + ssid
			}
		} else {
			log.Debug().Err(err).Msg("wifi name lookup failed")
		}
	}

	name, err := os.Hostname()
	if err != nil {
		log.Warn().Err(err).Msg("hostname lookup failed")
		return "Turbo Host"
	}
	return name
}

func parseSSID(output string) string {
	for _, line := range strings.Split(output, "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok || strings.TrimSpace(key) != "SSID" {
			continue
		}
		if ssid := strings.TrimSpace(value); ssid != "" {
			return ssid
		}
	}
	return ""
}
