package security

import (
	"net"
	"net/http"
	"strings"

	"github.com/folio-works/adminguard/internal/util"
)

// GetClientIP returns the client address used for rate limiting and audit.
//
// Forwarding headers are honoured only when trustProxy is set and the
// direct peer is itself a private or loopback address, so a client talking
// to the service directly cannot pick its own identity. trustedProxyCount
// is the number of proxies we run; the client is the entry just left of
// them in X-Forwarded-For. Zero means one.
func GetClientIP(r *http.Request, trustProxy bool, trustedProxyCount int) string {
	peer := remoteIP(r.RemoteAddr)
	if !trustProxy || !util.IsInternalPeer(r.RemoteAddr) {
		return peer
	}

	if ip := clientFromXFF(r.Header.Get("X-Forwarded-For"), trustedProxyCount); ip != "" {
		return ip
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(ip) != nil {
		return ip
	}
	return peer
}

func clientFromXFF(xff string, trustedProxyCount int) string {
	if xff == "" {
		return ""
	}
	hops := strings.Split(xff, ",")

	proxies := trustedProxyCount
	if proxies <= 0 {
		proxies = 1
	}
	// the last proxy appends the address it saw, which is not in the header
	idx := len(hops) - proxies
	if idx < 0 {
		idx = 0
	}

	ip := strings.TrimSpace(hops[idx])
	if net.ParseIP(ip) == nil {
		return ""
	}
	return ip
}

func remoteIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
