package utils

import "net"

// GetOutboundIP finds the IP this machine would use for outbound
// traffic, without sending anything. Falls back to loopback when the
// host has no route.
func GetOutboundIP() (string, error) {
	conn, err := net.Dial("udp", "1.1.1.1:53")
	if err != nil {
		return "127.0.0.1", err
	}
	defer conn.Close()
	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return "127.0.0.1", nil
	}
	return addr.IP.String(), nil
}
