package util

import (
	"net"
	"net/netip"
)

// IsPrivateOrInternal reports whether ip can belong to one of our own
// reverse proxies: loopback, RFC 1918 / ULA, link-local or unspecified.
// A nil ip counts as internal so callers must parse before trusting.
func IsPrivateOrInternal(ip net.IP) bool {
	if ip == nil {
		return true
	}
	addr, ok := netip.AddrFromSlice(ip)
	if !ok {
		return true
	}
	addr = addr.Unmap()
	return addr.IsUnspecified() ||
		addr.IsLoopback() ||
		addr.IsPrivate() ||
		addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast()
}

// IsInternalPeer is IsPrivateOrInternal for a "host:port" or bare host
// taken from http.Request.RemoteAddr. Hostnames are never internal.
func IsInternalPeer(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return IsPrivateOrInternal(ip)
}
