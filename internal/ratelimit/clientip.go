package ratelimit

import (
	"fmt"
	"net"
	"net/http"
	"strings"
)

// ClientIPExtractor derives the address a request should be attributed to.
// Forwarded headers are only believed when the socket peer is a trusted
// proxy hop; otherwise whatever machine connected is the client.
type ClientIPExtractor struct {
	behindProxy bool
	trusted     []*net.IPNet
}

// NewClientIPExtractor parses the trusted-proxy CIDR list once.
func NewClientIPExtractor(behindProxy bool, trustedCIDRs []string) (*ClientIPExtractor, error) {
	trusted := make([]*net.IPNet, 0, len(trustedCIDRs))
	for _, cidr := range trustedCIDRs {
		_, network, err := net.ParseCIDR(strings.TrimSpace(cidr))
		if err != nil {
			return nil, fmt.Errorf("ratelimit: trusted proxy CIDR %q: %w", cidr, err)
		}
		trusted = append(trusted, network)
	}
	return &ClientIPExtractor{behindProxy: behindProxy, trusted: trusted}, nil
}

// FromRequest returns the client address for r, or "" when the peer is
// unknown. With proxying disabled the socket peer always wins. Behind a
// trusted proxy the X-Forwarded-For chain is scanned right to left for the
// first hop that is not itself a trusted proxy, falling back to X-Real-IP
// and finally the peer.
func (e *ClientIPExtractor) FromRequest(r *http.Request) string {
	peer := peerIP(r.RemoteAddr)
	if peer == "" {
		return ""
	}
	if !e.behindProxy {
		return peer
	}
	if !e.isTrustedProxy(peer) {
		return peer
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		hops := strings.Split(xff, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if hop != "" && !e.isTrustedProxy(hop) {
				return hop
			}
		}
	}

	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	return peer
}

// isTrustedProxy reports whether ip falls in a trusted CIDR. Unparsable
// addresses are never trusted.
func (e *ClientIPExtractor) isTrustedProxy(ip string) bool {
	addr := net.ParseIP(ip)
	if addr == nil {
		return false
	}
	for _, network := range e.trusted {
		if network.Contains(addr) {
			return true
		}
	}
	return false
}

// peerIP strips the port from a socket peer address. Listeners hand out
// host:port, but a bare address is accepted too.
func peerIP(remoteAddr string) string {
	if remoteAddr == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return host
	}
	if net.ParseIP(remoteAddr) != nil {
		return remoteAddr
	}
	return ""
}
