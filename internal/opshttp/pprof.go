package opshttp

import (
	"net"
	"net/http"
	"net/http/pprof"

	"github.com/keithlinneman/sitedrop/internal/log"
)

// RegisterPprof mounts the runtime profiling handlers under /debug/pprof/
func RegisterPprof(mux *http.ServeMux) {
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
}

// nonPublic reports loopback, private and link-local peers. IPv4-mapped
// IPv6 addresses are judged by their IPv4 form.
func nonPublic(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return false
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	if v4 := ip.To4(); v4 != nil {
		ip = v4
	}
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast()
}

// privateOnly keeps the ops port closed to the internet even when a
// security group is misconfigured
func privateOnly(L log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !nonPublic(r.RemoteAddr) {
				L.Warn(r.Context(), "ops request from public address rejected", "remote_addr", r.RemoteAddr, "path", r.URL.Path)
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
