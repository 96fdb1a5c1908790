package observability

import (
	"net"
	"net/http"
	"strings"
)

const (
	deviceIDHeader  = "X-Device-Id"
	requestIDHeader = "X-Request-Id"
	forwardedHeader = "X-Forwarded-For"
	realIPHeader    = "X-Real-Ip"
)

// DeviceIDFromRequest returns the client-supplied device id, tagged onto
// session socket events so several sockets of one user can be told apart.
func DeviceIDFromRequest(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(deviceIDHeader))
}

// RequestIDFromRequest returns the caller's request id, or "" when the
// request carries none.
func RequestIDFromRequest(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(requestIDHeader))
}

// IPFromRequest returns the client address: the first X-Forwarded-For hop,
// then X-Real-Ip, then the connection's remote host.
func IPFromRequest(r *http.Request) string {
	if forwarded := r.Header.Get(forwardedHeader); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get(realIPHeader)); ip != "" {
		return ip
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
