package tcpkit

import (
	"context"
	"log/slog"
	"net"
	"strings"
	"time"
)

// lookupTimeout bounds best-effort DNS lookups performed while resolving
// endpoints. A lookup that takes longer simply yields no name.
const lookupTimeout = time.Second

// Endpoint describes one side of a TCP connection. It is purely descriptive
// and is typically used for logging and client filtering.
type Endpoint struct {
	// IP is the dotted-quad IPv4 address, empty if resolution failed.
	IP string

	// Port is the TCP port in host byte order, 0 if resolution failed.
	Port int

	// Name is the reverse-DNS hostname of the endpoint. Empty if the
	// lookup failed or timed out.
	Name string
}

// LocalEndpoint returns the Endpoint of the local side of conn.
// It never fails: on any resolution problem an empty Endpoint is returned
// and the problem is logged.
func LocalEndpoint(conn net.Conn) Endpoint {
	if conn == nil {
		return Endpoint{}
	}

	addr := conn.LocalAddr()
	if addr == nil {
		slog.Debug("failed to resolve local endpoint: connection has no local address")
		return Endpoint{}
	}

	return endpointFromAddr(addr)
}

// RemoteEndpoint builds an Endpoint from the peer address captured when the
// connection was established. Reverse DNS is attempted best-effort; a failed
// lookup leaves Name empty and is never an error.
func RemoteEndpoint(addr net.Addr) Endpoint {
	if addr == nil {
		return Endpoint{}
	}

	return endpointFromAddr(addr)
}

func endpointFromAddr(addr net.Addr) Endpoint {
	tcpAddr, ok := addr.(*net.TCPAddr)
	if !ok {
		slog.Debug("failed to resolve endpoint: not a TCP address", "addr", addr.String())
		return Endpoint{}
	}

	return Endpoint{
		IP:   tcpAddr.IP.String(),
		Port: tcpAddr.Port,
		Name: lookupName(tcpAddr.IP.String()),
	}
}

// lookupName performs a bounded reverse-DNS lookup for ip. Returns an empty
// string if the lookup fails or exceeds lookupTimeout.
func lookupName(ip string) string {
	ctx, cancel := context.WithTimeout(context.Background(), lookupTimeout)
	defer cancel()

	names, err := net.DefaultResolver.LookupAddr(ctx, ip)
	if err != nil || len(names) == 0 {
		return ""
	}

	return strings.TrimSuffix(names[0], ".")
}

// IsValidIP reports whether text is a strict dotted-quad IPv4 literal.
// Hostnames, IPv6 literals and partial matches are rejected.
func IsValidIP(text string) bool {
	if strings.Count(text, ".") != 3 {
		return false
	}

	ip := net.ParseIP(text)
	return ip != nil && ip.To4() != nil
}

// AddressToIP resolves address to a dotted-quad IPv4 string. A valid IPv4
// literal is returned unchanged; anything else goes through a bounded
// forward DNS lookup and the first IPv4 result is returned. Returns an
// empty string if resolution fails. Never returns an error.
func AddressToIP(address string) string {
	if IsValidIP(address) {
		return address
	}

	ctx, cancel := context.WithTimeout(context.Background(), lookupTimeout)
	defer cancel()

	ips, err := net.DefaultResolver.LookupIP(ctx, "ip4", address)
	if err != nil || len(ips) == 0 {
		return ""
	}

	return ips[0].String()
}
