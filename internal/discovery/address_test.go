package discovery

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseIPs(addrs ...string) []net.IP {
	ips := make([]net.IP, 0, len(addrs))
	for _, a := range addrs {
		ips = append(ips, net.ParseIP(a))
	}
	return ips
}

func TestSelectPrimary(t *testing.T) {
	tests := []struct {
		name  string
		addrs []string
		want  string
	}{
		{"prefers home lan", []string{"127.0.0.1", "172.17.0.1", "100.64.0.2", "192.168.1.20"}, "192.168.1.20"},
		{"ten network is preferred", []string{"100.64.0.2", "10.0.0.7"}, "10.0.0.7"},
		{"falls back to other ipv4", []string{"127.0.0.1", "100.64.0.2"}, "100.64.0.2"},
		{"skips docker bridge and ipv6", []string{"172.17.0.1", "fe80::1", "::1"}, ""},
		{"skips link local", []string{"169.254.10.1"}, ""},
		{"empty", nil, ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, selectPrimary(parseIPs(tc.addrs...)))
		})
	}
}

func TestPrimaryIP(t *testing.T) {
	ip, err := PrimaryIP()
	require.NoError(t, err)
	assert.NotNil(t, net.ParseIP(ip))
}
