package discovery

import (
	"net"
	"strings"
)

// PrimaryIP returns the address devices on the LAN are most likely to reach
// the host on.
func PrimaryIP() (string, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "", err
	}

	ips := make([]net.IP, 0, len(addrs))
	for _, addr := range addrs {
		if ipNet, ok := addr.(*net.IPNet); ok {
			ips = append(ips, ipNet.IP)
		}
	}
	if ip := selectPrimary(ips); ip != "" {
		return ip, nil
	}
	return outboundIP(), nil
}

// selectPrimary picks the first private 192.168/16 or 10/8 address, then any
// other IPv4 address. Loopback and 172.x (container bridges) are skipped.
func selectPrimary(ips []net.IP) string {
	var fallback string
	for _, ip := range ips {
		v4 := ip.To4()
		if v4 == nil {
			continue
		}
		s := v4.String()
		if v4.IsLoopback() || strings.HasPrefix(s, "172.") || v4.IsUnspecified() || v4.IsLinkLocalUnicast() {
			continue
		}
		if strings.HasPrefix(s, "192.168.") || strings.HasPrefix(s, "10.") {
			return s
		}
		if fallback == "" {
			fallback = s
		}
	}
	return fallback
}

// outboundIP asks the kernel which source address it would route a LAN
// packet from. No packet is sent.
func outboundIP() string {
	conn, err := net.Dial("udp4", "10.255.255.255:1")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()

	if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		return addr.IP.String()
	}
	return "127.0.0.1"
}
