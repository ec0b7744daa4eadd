package transport

import (
	"context"
	"fmt"
	"net"
	"time"

	"synclient/util"
)

// TCPDialer establishes plain TCP connections, optionally binding to a
// specific source port.
type TCPDialer struct {
	Timeout   time.Duration
	LocalPort int // optional source-port binding (0 = ephemeral)
}

// Dial connects to address over TCP.
func (d *TCPDialer) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	dialer := net.Dialer{Timeout: d.Timeout}

	if d.LocalPort > 0 {
		local := fmt.Sprintf(":%d", d.LocalPort)
		a, err := net.ResolveTCPAddr(network, local)
		if err != nil {
			return nil, fmt.Errorf("resolve local addr: %w", err)
		}
		dialer.LocalAddr = a
	}

	return dialer.DialContext(ctx, network, address)
}

// DNSResolver resolves through the system resolver, keeping the order
// it returns (both address families, as getaddrinfo with AF_UNSPEC).
type DNSResolver struct {
	// NoDNS accepts numeric addresses only.
	NoDNS bool
	// Resolver overrides net.DefaultResolver.
	Resolver *net.Resolver
}

// Resolve implements [Resolver].
func (r *DNSResolver) Resolve(ctx context.Context, host string, port int) ([]string, error) {
	if ip := net.ParseIP(host); ip != nil {
		return []string{util.FormatAddr(ip.String(), port)}, nil
	}
	if r.NoDNS {
		return nil, fmt.Errorf("cannot parse %q as an IP address (DNS disabled)", host)
	}

	res := r.Resolver
	if res == nil {
		res = net.DefaultResolver
	}
	addrs, err := res.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("lookup %q: %w", host, err)
	}

	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		ip := a.IP.String()
		if a.Zone != "" {
			ip += "%" + a.Zone
		}
		out = append(out, util.FormatAddr(ip, port))
	}
	return out, nil
}
