package httpmw

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestResolveClientIP(t *testing.T) {
	tests := []struct {
		name        string
		remote      string
		xff         string
		trustedHops int
		want        string
		keepsXFF    bool
	}{
		{"public peer ignores xff", "203.0.113.10:5000", "1.1.1.1", 1, "203.0.113.10", false},
		{"private peer no hops ignores xff", "10.0.0.2:5000", "1.1.1.1", 0, "10.0.0.2", false},
		{"single alb takes rightmost", "10.0.0.2:5000", "9.9.9.9, 198.51.100.4", 1, "198.51.100.4", true},
		{"cdn and alb take second from end", "10.0.0.2:5000", "9.9.9.9, 198.51.100.4, 192.0.2.1", 2, "198.51.100.4", true},
		{"too few entries fails closed", "10.0.0.2:5000", "198.51.100.4", 2, "10.0.0.2", false},
		{"garbage entry falls back to peer", "10.0.0.2:5000", "not-an-ip", 1, "10.0.0.2", true},
		{"private peer without xff", "192.168.1.9:80", "", 1, "192.168.1.9", false},
		{"ipv6 peer", "[2001:db8::1]:443", "1.1.1.1", 1, "2001:db8::1", false},
		{"missing port", "203.0.113.10", "", 0, "203.0.113.10", false},
		{"empty remote", "", "", 0, "0.0.0.0", false},
		{"unparseable host", "nope:80", "", 0, "0.0.0.0", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
				r.Header.Set("X-Forwarded-Proto", "https")
			}

			if got := resolveClientIP(r, tt.trustedHops); got != tt.want {
				t.Fatalf("client ip = %q, want %q", got, tt.want)
			}
			if kept := r.Header.Get("X-Forwarded-For") != ""; kept != tt.keepsXFF {
				t.Fatalf("X-Forwarded-For kept = %v, want %v", kept, tt.keepsXFF)
			}
		})
	}
}

func TestResolveClientIP_StripsProtoWhenUntrusted(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "203.0.113.10:5000"
	r.Header.Set("X-Forwarded-Proto", "https")

	resolveClientIP(r, 1)

	if r.Header.Get("X-Forwarded-Proto") != "" {
		t.Fatal("X-Forwarded-Proto from an untrusted peer must be removed")
	}
	if schemeFromRequest(r) != "http" {
		t.Fatal("scheme should fall back once the header is gone")
	}
}

func TestClientIPWithOptions_StoresInContext(t *testing.T) {
	var got string
	h := ClientIPWithOptions(ClientIPOptions{TrustedHops: 1})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = ClientIPFromContext(r.Context())
	}))

	r := httptest.NewRequest(http.MethodPost, "/api/upload", nil)
	r.RemoteAddr = "10.1.2.3:4000"
	r.Header.Set("X-Forwarded-For", "198.51.100.4")
	h.ServeHTTP(httptest.NewRecorder(), r)

	if got != "198.51.100.4" {
		t.Fatalf("context client ip = %q", got)
	}
}

func TestWithClientIP_EmptyIsNoop(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	if ctx := WithClientIP(r.Context(), ""); ctx != r.Context() {
		t.Fatal("empty ip should not add a context value")
	}
	if ClientIPFromContext(r.Context()) != "" {
		t.Fatal("no ip expected")
	}
}
