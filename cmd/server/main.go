// Command server accepts ZIP uploads of static sites, publishes each under
// its own id and serves the published sites alongside the upload API.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/keithlinneman/sitedrop/internal/archive"
	"github.com/keithlinneman/sitedrop/internal/cfg"
	"github.com/keithlinneman/sitedrop/internal/health"
	"github.com/keithlinneman/sitedrop/internal/httpmw"
	"github.com/keithlinneman/sitedrop/internal/httpserver"
	"github.com/keithlinneman/sitedrop/internal/log"
	"github.com/keithlinneman/sitedrop/internal/metrics"
	"github.com/keithlinneman/sitedrop/internal/opshttp"
	"github.com/keithlinneman/sitedrop/internal/otelx"
	"github.com/keithlinneman/sitedrop/internal/prof"
	"github.com/keithlinneman/sitedrop/internal/publish"
	"github.com/keithlinneman/sitedrop/internal/publishhttp"
	"github.com/keithlinneman/sitedrop/internal/sitehandler"
	v "github.com/keithlinneman/sitedrop/internal/version"
	"github.com/keithlinneman/sitedrop/internal/webassets"
)

// envPrefix namespaces every flag's environment variable
const envPrefix = "SITEDROP_"

func main() {
	vi := v.Get()
	conf, showVersion := loadConfig()
	if showVersion {
		fmt.Println(vi)
		return
	}

	L, err := newLogger(conf, vi)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		os.Exit(1)
	}
	defer func() { _ = L.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = log.WithContext(ctx, L)

	if err := run(ctx, L, conf, vi); err != nil {
		L.Error(context.Background(), err, "server exited")
		_ = L.Sync()
		os.Exit(1)
	}
}

// loadConfig parses flags, fills the rest from the environment and exits
// with every validation problem listed when the result is unusable
func loadConfig() (cfg.App, bool) {
	var conf cfg.App
	var showVersion bool
	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "print version and build information, then exit")
	flag.Parse()
	if showVersion {
		return conf, true
	}

	cfg.FillFromEnv(flag.CommandLine, envPrefix, func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})
	if err := cfg.Validate(conf); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(2)
	}
	return conf, false
}

// newLogger only fails on levels Validate already accepted, so errors
// here mean the two disagree
func newLogger(conf cfg.App, vi v.Info) (log.Logger, error) {
	lvl, err := log.ParseLevel(conf.LogLevel)
	if err != nil {
		return nil, err
	}
	stackLvl, err := log.ParseLevel(conf.StacktraceLevel)
	if err != nil {
		return nil, err
	}
	return log.New(log.Options{
		App:               v.AppName,
		Component:         v.Component,
		Version:           vi.Version,
		Commit:            vi.Commit,
		BuildId:           vi.BuildId,
		Level:             lvl,
		StacktraceLevel:   stackLvl,
		JsonFormat:        conf.LogJSON,
		MaxErrorLinks:     conf.MaxErrorLinks,
		IncludeErrorLinks: conf.IncludeErrorLinks,
	})
}

func run(ctx context.Context, L log.Logger, conf cfg.App, vi v.Info) error {
	L.Info(ctx, "starting",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_id", vi.BuildId,
		"build_date", vi.BuildDate,
		"go_version", vi.GoVersion,
		"vcs_dirty", vi.Dirty(),
		"http_port", conf.HTTPPort,
		"admin_port", conf.AdminPort,
		"sites_dir", conf.SitesDir,
		"public_prefix", conf.PublicPrefix,
		"max_upload_bytes", conf.MaxUploadBytes,
		"max_extract_bytes", conf.MaxExtractBytes,
		"owner_header", conf.OwnerHeader,
		"trusted_hops", conf.TrustedHops,
		"db_configured", conf.DBDSN != "" || conf.DBDSNSSMParam != "",
		"mirror_s3_bucket", conf.MirrorS3Bucket,
		"enable_tracing", conf.EnableTracing,
		"enable_pyroscope", conf.EnablePyroscope,
	)

	stopProf, profErr := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       v.AppName,
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		MutexFraction: conf.PyroMutexFraction,
		BlockRate:     conf.PyroBlockRate,
		Tags:          vi.Tags(),
	})
	if profErr != nil {
		L.Error(ctx, profErr, "profiling unavailable, continuing without it")
	}
	defer stopProf()

	// the collector runs on localhost, so the exporter skips tls
	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:   conf.EnableTracing,
		Endpoint:  conf.OTLPEndpoint,
		Insecure:  true,
		Sample:    conf.TraceSample,
		Service:   v.AppName,
		Component: v.Component,
		Version:   vi.Version,
	})
	if err != nil {
		L.Error(ctx, err, "trace export unavailable, spans stay local")
	}

	m := metrics.New()
	m.SetBuildInfoFromVersion(v.AppName, v.Component, vi)
	m.SetProfilingActive(conf.EnablePyroscope && profErr == nil)

	d, err := openDeps(ctx, L, conf)
	if err != nil {
		return err
	}
	defer d.close(ctx)

	coord, err := publish.New(publish.Options{
		Logger:         L,
		Store:          d.store,
		Root:           conf.SitesDir,
		SpoolDir:       conf.SpoolDir,
		URLPrefix:      conf.PublicPrefix,
		MaxUploadBytes: conf.MaxUploadBytes,
		Limits: archive.Limits{
			MaxFileBytes:  conf.MaxFileBytes,
			MaxTotalBytes: conf.MaxExtractBytes,
			MaxEntries:    conf.MaxArchiveEntries,
		},
		Mirror:  d.mirror,
		Metrics: m,
	})
	if err != nil {
		return err
	}

	siteHandler, err := sitehandler.New(&sitehandler.Options{
		Logger:     L,
		Root:       coord.Root(),
		Prefix:     conf.PublicPrefix,
		FallbackFS: webassets.FallbackFS(),
	})
	if err != nil {
		return err
	}

	general, uploads := newLimiters(ctx, L, m, conf)

	api, err := publishhttp.NewAPI(publishhttp.Options{
		Logger:         L,
		Publisher:      coord,
		OwnerHeader:    conf.OwnerHeader,
		MaxUploadBytes: conf.MaxUploadBytes,
		MutationMW:     uploads.Middleware,
	})
	if err != nil {
		return err
	}

	var gate health.ShutdownGate
	readiness := health.All(
		gate.Probe(),
		health.Named("store", health.WithTimeout(2*time.Second, health.CheckFunc(func(ctx context.Context) error {
			err := d.store.Ping(ctx)
			m.SetStoreUp(err == nil)
			return err
		}))),
		health.Named("publish root", health.CheckFunc(coord.Ready)),
	)

	stopSite, err := httpserver.Start(ctx, httpserver.Options{
		Port:         conf.HTTPPort,
		Health:       health.Fixed(true, ""),
		Readiness:    readiness,
		APIRoutes:    api.RegisterRoutes,
		SiteHandler:  siteHandler,
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
		MetricsMW:    m.Middleware,
		RateLimitMW:  general.Middleware,
		ClientIPOpts: httpmw.ClientIPOptions{TrustedHops: conf.TrustedHops},
		MaxBodyBytes: api.MaxRequestBytes(),
		ReadTimeout:  conf.RequestTimeout,
		WriteTimeout: conf.RequestTimeout,
		Logger:       L,
	})
	if err != nil {
		return err
	}

	// the admin listener also refuses public peers in case a security
	// group or load balancer ever routes to it
	stopOps, err := opshttp.Start(ctx, L, &opshttp.Options{
		Port:         conf.AdminPort,
		Metrics:      m.Handler(),
		EnablePprof:  conf.EnablePprof,
		Health:       health.Fixed(true, ""),
		Readiness:    readiness,
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
	})
	if err != nil {
		_ = stopSite(context.Background())
		return err
	}

	if err := notifySystemd(); err != nil {
		L.Warn(ctx, "systemd readiness notification failed", "error", err)
	}

	<-ctx.Done()
	L.Info(context.Background(), "shutdown signal received")
	gate.Set("draining")
	drain(L, drainPeriod)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	stopAll(shutdownCtx, L,
		namedStop{"site http server", stopSite},
		namedStop{"ops http server", stopOps},
		namedStop{"otel", shutdownOTEL},
	)
	L.Info(context.Background(), "shutdown complete")
	return nil
}
