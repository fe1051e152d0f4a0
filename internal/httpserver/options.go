package httpserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/sitedrop/internal/health"
	"github.com/keithlinneman/sitedrop/internal/httpmw"
	"github.com/keithlinneman/sitedrop/internal/log"
)

// DefaultMaxBodyBytes applies when no route needs to accept uploads
const DefaultMaxBodyBytes = 1024

type Options struct {
	Logger       log.Logger
	Port         int
	UseRecoverMW bool
	OnPanic      func() // Optional callback for when panics are recovered, e.g. to increment a prometheus counter
	MetricsMW    func(http.Handler) http.Handler
	RateLimitMW  func(http.Handler) http.Handler
	ClientIPOpts httpmw.ClientIPOptions
	Health       health.Probe
	Readiness    health.Probe

	// APIRoutes registers JSON endpoints on the router before the site fallback
	APIRoutes func(chi.Router)

	// SiteHandler serves everything no other route matched
	SiteHandler http.Handler

	// MaxBodyBytes caps every request body. Upload routes apply their own
	// tighter limit underneath. Default DefaultMaxBodyBytes.
	MaxBodyBytes int64

	// ReadTimeout and WriteTimeout override the server defaults, uploads on
	// slow links need longer than a static site does
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}
