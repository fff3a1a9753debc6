package api

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// clientIP returns the client IP using the API's configured trusted proxies.
func (a *API) clientIP(r *http.Request) string {
	return extractClientIPWithProxies(r, a.trustedProxies)
}

// forwardedHeaders are consulted in order once the peer is a trusted proxy.
var forwardedHeaders = []func(http.Header) (string, bool){
	firstXForwardedFor,
	firstForwardedFor,
	xRealIP,
}

// extractClientIPWithProxies returns the client address of r. Forwarding
// headers (X-Forwarded-For, then Forwarded, then X-Real-IP) are honored
// only when RemoteAddr lies inside one of trustedProxies; without trusted
// proxies the peer address is always used.
func extractClientIPWithProxies(r *http.Request, trustedProxies []netip.Prefix) string {
	peer, _ := parseIPCandidate(r.RemoteAddr)
	if !peerTrusted(peer, trustedProxies) {
		return peer
	}
	for _, fromHeader := range forwardedHeaders {
		if ip, ok := fromHeader(r.Header); ok {
			return ip
		}
	}
	return peer
}

func peerTrusted(peer string, trustedProxies []netip.Prefix) bool {
	addr, err := netip.ParseAddr(peer)
	if err != nil {
		return false
	}
	for _, p := range trustedProxies {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func firstXForwardedFor(h http.Header) (string, bool) {
	for _, part := range strings.Split(h.Get("X-Forwarded-For"), ",") {
		if ip, ok := parseIPCandidate(part); ok {
			return ip, true
		}
	}
	return "", false
}

// firstForwardedFor reads the first usable for= parameter of an RFC 7239
// Forwarded header.
func firstForwardedFor(h http.Header) (string, bool) {
	for _, elem := range strings.Split(h.Get("Forwarded"), ",") {
		for _, param := range strings.Split(elem, ";") {
			name, value, ok := strings.Cut(strings.TrimSpace(param), "=")
			if !ok || !strings.EqualFold(name, "for") {
				continue
			}
			if ip, ok := parseIPCandidate(value); ok {
				return ip, true
			}
		}
	}
	return "", false
}

func xRealIP(h http.Header) (string, bool) {
	return parseIPCandidate(h.Get("X-Real-IP"))
}

// parseIPCandidate normalizes a host, host:port, quoted or bracketed IPv6
// value into a plain address string. IPv4-mapped IPv6 is unmapped and zones
// are dropped.
func parseIPCandidate(raw string) (string, bool) {
	s := strings.Trim(strings.TrimSpace(raw), `"`)
	if s == "" {
		return "", false
	}
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}
	s = strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
	if i := strings.IndexByte(s, '%'); i >= 0 {
		s = s[:i]
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return "", false
	}
	return addr.Unmap().String(), true
}
