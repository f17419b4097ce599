package client

import (
	"fmt"
	"net"
	"os"

	"github.com/google/uuid"
)

// NewInstanceID builds a consumer id unique within its group:
// "<group>_<host>-<pid>-<8 random hex digits>".
func NewInstanceID(group string) string {
	suffix := uuid.New().String()[:8]
	return fmt.Sprintf("%s_%s-%d-%s", group, localHost(), os.Getpid(), suffix)
}

// localHost returns the first non-loopback IPv4 address, falling back to
// the host name.
func localHost() string {
	addrs, err := net.InterfaceAddrs()
	if err == nil {
		for _, addr := range addrs {
			ipnet, ok := addr.(*net.IPNet)
			if !ok || ipnet.IP.IsLoopback() {
				continue
			}
			if ip4 := ipnet.IP.To4(); ip4 != nil {
				return ip4.String()
			}
		}
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "localhost"
}
