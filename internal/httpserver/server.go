package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/keithlinneman/sitedrop/internal/health"
	"github.com/keithlinneman/sitedrop/internal/httpmw"
	"github.com/keithlinneman/sitedrop/internal/log"
	"github.com/keithlinneman/sitedrop/internal/xerrors"
)

// NewHandler routes probes, the API and the site fallback, wrapped in the
// request middleware
func NewHandler(opts Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	maxBody := opts.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}

	r := chi.NewRouter()

	// text responses only, archives and images are already compressed
	r.Use(middleware.Compress(5,
		"text/html",
		"text/css",
		"application/javascript",
		"text/javascript",
		"application/json",
		"image/svg+xml",
		"image/x-icon",
	))

	r.Use(httpmw.AnnotateHTTPRoute)
	r.Use(httpmw.AccessLog())

	// only the upload route has a reason to send a body
	r.Use(httpmw.MaxBody(maxBody))

	r.Get("/-/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("pong\n"))
	})

	if opts.Health != nil {
		r.Get("/-/healthy", health.HealthzHandler(opts.Health))
	}
	if opts.Readiness != nil {
		r.Get("/-/ready", health.ReadyzHandler(opts.Readiness))
	}

	if opts.APIRoutes != nil {
		opts.APIRoutes(r)
	}

	// published sites own every path no route claimed
	if opts.SiteHandler != nil {
		r.NotFound(opts.SiteHandler.ServeHTTP)
		r.MethodNotAllowed(opts.SiteHandler.ServeHTTP)
	}

	var recoverMW func(http.Handler) http.Handler
	if opts.UseRecoverMW {
		recoverMW = httpmw.Recover(opts.Logger, opts.OnPanic)
	}

	// outermost first. Client IP must resolve before the rate limiter keys
	// on it, and the logger sits inside tracing so it sees trace_id.
	return httpmw.Chain(r,
		httpmw.SecurityHeaders,
		recoverMW,
		httpmw.RequestID("X-Request-Id"),
		httpmw.ClientIPWithOptions(opts.ClientIPOpts),
		opts.RateLimitMW,
		traced,
		httpmw.TraceResponseHeaders("X-Trace-Id", "X-Span-Id"),
		opts.MetricsMW,
		httpmw.WithLogger(opts.Logger),
	)
}

// traced starts a server span for everything except probes, robots.txt
// and static assets of published sites
func traced(next http.Handler) http.Handler {
	return otelhttp.NewHandler(next, "http.server",
		otelhttp.WithFilter(func(r *http.Request) bool {
			return !httpmw.Quiet(r.URL.Path)
		}),
		// renamed to the route pattern once chi or the site handler resolves it
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
		otelhttp.WithPublicEndpointFn(func(*http.Request) bool { return true }),
	)
}

// DefaultPort is the public listener port when none is configured
const DefaultPort = 8080

func listenAddr(port int) string {
	if port == 0 {
		port = DefaultPort
	}
	return fmt.Sprintf(":%d", port)
}

// Server timeout defaults, shared with opshttp.
const (
	DefaultReadHeaderTimeout = 5 * time.Second
	DefaultReadTimeout       = 10 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	DefaultIdleTimeout       = 60 * time.Second
	DefaultMaxHeaderBytes    = 1 << 20 // 1 MB
)

// NewServer applies the default timeouts and header limit
func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
		ReadTimeout:       DefaultReadTimeout,
		WriteTimeout:      DefaultWriteTimeout,
		IdleTimeout:       DefaultIdleTimeout,
		MaxHeaderBytes:    DefaultMaxHeaderBytes,
	}
}

// shutdownGrace bounds how long Shutdown waits for open connections
const shutdownGrace = 5 * time.Second

// Start serves the public handler in the background and returns stop(ctx)
// for graceful shutdown
func Start(ctx context.Context, opts Options) (func(context.Context) error, error) {
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	srv := NewServer(listenAddr(opts.Port), NewHandler(opts))
	if opts.ReadTimeout > 0 {
		srv.ReadTimeout = opts.ReadTimeout
	}
	if opts.WriteTimeout > 0 {
		srv.WriteTimeout = opts.WriteTimeout
	}
	return Listen(ctx, opts.Logger, "site", "tcp4", srv)
}

// Listen binds srv.Addr on network and serves in the background. The
// returned stop shuts the server down once; later calls return the
// first result.
func Listen(ctx context.Context, L log.Logger, name, network string, srv *http.Server) (func(context.Context) error, error) {
	ln, err := (&net.ListenConfig{}).Listen(ctx, network, srv.Addr)
	if err != nil {
		return nil, xerrors.Wrapf(err, "%s listener on %s", name, srv.Addr)
	}
	L = L.With("server", name, "addr", ln.Addr().String())

	go func() {
		L.Info(ctx, "http server listening")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			L.Error(ctx, err, "http server stopped serving")
		}
	}()

	var (
		once    sync.Once
		stopErr error
	)
	return func(sctx context.Context) error {
		once.Do(func() {
			L.Info(sctx, "http server shutting down")
			c, cancel := context.WithTimeout(sctx, shutdownGrace)
			defer cancel()
			stopErr = srv.Shutdown(c)
		})
		return stopErr
	}, nil
}
