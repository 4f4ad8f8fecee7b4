package netutil

import (
	"net"
)

// LocalIP returns the first non-loopback IPv4 address of the machine, so the
// configuration URL in the QR code is reachable from a phone on the same
// network. Falls back to the loopback address when nothing else is up.
func LocalIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "127.0.0.1"
	}

	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		ip := ipNet.IP.To4()
		if ip == nil || ip.IsLoopback() {
			continue
		}
		return ip.String()
	}
	return "127.0.0.1"
}
