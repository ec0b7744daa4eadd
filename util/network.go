package util

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// FormatAddr returns "host:port", bracketing IPv6 literals.
func FormatAddr(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// SplitHostPort parses "host", "host:port", "[v6]" or "[v6]:port".
// A missing port yields defaultPort.  A bare IPv6 literal without
// brackets is accepted as a host.
func SplitHostPort(spec string, defaultPort int) (string, int, error) {
	if spec == "" {
		return "", 0, fmt.Errorf("empty address")
	}
	if ip := net.ParseIP(spec); ip != nil {
		return spec, defaultPort, nil
	}
	if strings.HasPrefix(spec, "[") && strings.HasSuffix(spec, "]") {
		return spec[1 : len(spec)-1], defaultPort, nil
	}
	if !strings.Contains(spec, ":") {
		return spec, defaultPort, nil
	}

	host, portStr, err := net.SplitHostPort(spec)
	if err != nil {
		return "", 0, fmt.Errorf("invalid address %q: %w", spec, err)
	}
	if host == "" {
		return "", 0, fmt.Errorf("invalid address %q: host is empty", spec)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return "", 0, fmt.Errorf("invalid port %q", portStr)
	}
	return host, port, nil
}
