package httpmw

import (
	"context"
	"net"
	"net/http"
	"strings"
)

type clientIPKey struct{}

// ClientIPOptions configures client IP extraction behavior.
type ClientIPOptions struct {
	// TrustedHops is the number of trusted reverse proxies between the client
	// and this server. 0 = no proxies (X-Forwarded-For ignored), 1 = single ALB
	// (rightmost XFF entry), 2 = CDN + ALB (second from end), etc.
	TrustedHops int
}

// ClientIPWithOptions resolves the client address once per request and
// stores it in the context. Rate limiting and logging both key off it, so
// a client cannot pick its own bucket by sending X-Forwarded-For.
func ClientIPWithOptions(opts ClientIPOptions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := resolveClientIP(r, opts.TrustedHops)
			next.ServeHTTP(w, r.WithContext(WithClientIP(r.Context(), ip)))
		})
	}
}

// resolveClientIP trusts forwarded headers only from a private peer with
// proxies configured. Headers that are not trusted are removed so nothing
// downstream reads them by accident.
func resolveClientIP(r *http.Request, trustedHops int) string {
	if r.RemoteAddr == "" {
		return "0.0.0.0"
	}
	peer, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	peerIP := net.ParseIP(peer)
	if peerIP == nil {
		return "0.0.0.0"
	}

	if !peerIP.IsPrivate() || trustedHops <= 0 {
		stripForwarded(r)
		return peer
	}

	xf := r.Header.Get("X-Forwarded-For")
	if xf == "" {
		return peer
	}
	candidate, ok := forwardedHop(xf, trustedHops)
	if !ok {
		// fewer entries than proxies is a misconfiguration or a forgery
		stripForwarded(r)
		return peer
	}
	if net.ParseIP(candidate) == nil {
		return peer
	}
	return candidate
}

// forwardedHop picks the entry appended by the outermost trusted proxy,
// counting from the right
func forwardedHop(xf string, trustedHops int) (string, bool) {
	parts := strings.Split(xf, ",")
	idx := len(parts) - trustedHops
	if idx < 0 {
		return "", false
	}
	return strings.TrimSpace(parts[idx]), true
}

func stripForwarded(r *http.Request) {
	r.Header.Del("X-Forwarded-For")
	r.Header.Del("X-Forwarded-Proto")
}

func ClientIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey{}).(string)
	return ip
}

func WithClientIP(ctx context.Context, ip string) context.Context {
	if ip == "" {
		return ctx
	}
	return context.WithValue(ctx, clientIPKey{}, ip)
}
