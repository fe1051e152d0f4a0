package opshttp

import (
	"context"
	"fmt"
	"net/http"

	"github.com/keithlinneman/sitedrop/internal/health"
	"github.com/keithlinneman/sitedrop/internal/httpmw"
	"github.com/keithlinneman/sitedrop/internal/httpserver"
	"github.com/keithlinneman/sitedrop/internal/log"
)

// DefaultPort is the admin listener port when none is configured
const DefaultPort = 9000

func listenAddr(port int) string {
	if port == 0 {
		port = DefaultPort
	}
	return fmt.Sprintf(":%d", port)
}

// NewHandler serves probes, /metrics and optionally pprof, to private
// networks only. Probes answer on both /healthz and the /-/ paths the
// public listener uses.
func NewHandler(L log.Logger, opts *Options) http.Handler {
	if L == nil {
		L = log.Nop()
	}
	mux := http.NewServeMux()

	healthz := health.HealthzHandler(opts.Health)
	readyz := health.ReadyzHandler(opts.Readiness)
	for _, p := range []string{"/healthz", "/-/healthy"} {
		mux.Handle(p, healthz)
	}
	for _, p := range []string{"/readyz", "/-/ready"} {
		mux.Handle(p, readyz)
	}

	if opts.Metrics != nil {
		mux.Handle("/metrics", opts.Metrics)
	}

	if opts.EnablePprof {
		RegisterPprof(mux)
	} else {
		// shadow the prefix so a default mux registration cannot leak through
		mux.HandleFunc("/debug/pprof/", http.NotFound)
	}

	var recoverMW func(http.Handler) http.Handler
	if opts.UseRecoverMW {
		recoverMW = httpmw.Recover(L, opts.OnPanic)
	}
	return httpmw.Chain(mux, recoverMW, privateOnly(L))
}

// Start listens on the admin port and returns stop(ctx) for graceful shutdown
func Start(ctx context.Context, L log.Logger, opts *Options) (func(context.Context) error, error) {
	if L == nil {
		L = log.Nop()
	}
	srv := httpserver.NewServer(listenAddr(opts.Port), NewHandler(L, opts))
	return httpserver.Listen(ctx, L, "ops", "tcp", srv)
}
