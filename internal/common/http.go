package common

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP returns the caller's address without the port. The router runs
// middleware.RealIP first, so RemoteAddr already reflects X-Real-IP or
// X-Forwarded-For when a proxy set them.
func ClientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
