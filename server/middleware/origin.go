package middleware

import (
	"net"
	"net/http"
	"net/netip"
	"strings"

	"github.com/godamri/helix-actionlog/pkg/contextx"
)

// maxClientSignature caps the stored user agent; some clients send kilobytes.
const maxClientSignature = 512

// RequestOrigin captures the client address and user agent for the records emitted
// while serving the request. Unparseable addresses are left out rather than stored.
func RequestOrigin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if addr, err := netip.ParseAddr(getRealIP(r)); err == nil {
			ctx = contextx.WithOriginAddress(ctx, addr.Unmap().String())
		}
		if ua := strings.TrimSpace(r.UserAgent()); ua != "" {
			if len(ua) > maxClientSignature {
				ua = ua[:maxClientSignature]
			}
			ctx = contextx.WithClientSignature(ctx, ua)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// getRealIP takes the first X-Forwarded-For hop, then X-Real-Ip, then the peer address.
// The forwarding headers are only meaningful behind an ingress that overwrites them.
func getRealIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xr := strings.TrimSpace(r.Header.Get("X-Real-Ip")); xr != "" {
		return xr
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
