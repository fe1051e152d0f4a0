// Package cfg holds the server configuration. Every field is a flag, any
// flag can also come from the environment, and Validate reports every
// problem at once so a bad deploy fails with the whole list.
package cfg

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-sql-driver/mysql"

	"github.com/keithlinneman/sitedrop/internal/log"
)

// App is the full server configuration. The env tag names the field in
// validation errors and matches the unprefixed environment variable.
type App struct {
	LogJSON           bool    `env:"LOG_JSON"`
	LogLevel          string  `env:"LOG_LEVEL"`
	StacktraceLevel   string  `env:"STACKTRACE_LEVEL"`
	IncludeErrorLinks bool    `env:"INCLUDE_ERROR_LINKS"`
	MaxErrorLinks     int     `env:"MAX_ERROR_LINKS"`
	HTTPPort          int     `env:"HTTP_PORT" validate:"min=1,max=65535"`
	AdminPort         int     `env:"ADMIN_PORT" validate:"min=1,max=65535,nefield=HTTPPort"`
	EnablePprof       bool    `env:"ENABLE_PPROF"`
	EnableTracing     bool    `env:"ENABLE_TRACING"`
	OTLPEndpoint      string  `env:"OTLP_ENDPOINT" validate:"required_if=EnableTracing true,omitempty,hostname_port"`
	TraceSample       float64 `env:"TRACE_SAMPLE" validate:"gte=0,lte=1"`
	EnablePyroscope   bool    `env:"ENABLE_PYROSCOPE"`
	PyroServer        string  `env:"PYRO_SERVER" validate:"required_if=EnablePyroscope true,omitempty,http_url"`
	PyroTenantID      string  `env:"PYRO_TENANT" validate:"required_if=EnablePyroscope true"`
	PyroMutexFraction int     `env:"PYRO_MUTEX_FRACTION" validate:"gte=0"`
	PyroBlockRate     int     `env:"PYRO_BLOCK_RATE" validate:"gte=0"`

	// publication
	SitesDir          string `env:"SITES_DIR" validate:"required"`
	SpoolDir          string `env:"SPOOL_DIR"`
	PublicPrefix      string `env:"PUBLIC_PREFIX"`
	MaxUploadBytes    int64  `env:"MAX_UPLOAD_BYTES" validate:"min=1"`
	MaxExtractBytes   int64  `env:"MAX_EXTRACT_BYTES" validate:"min=1"`
	MaxFileBytes      int64  `env:"MAX_FILE_BYTES" validate:"min=1,ltefield=MaxExtractBytes"`
	MaxArchiveEntries int    `env:"MAX_ARCHIVE_ENTRIES" validate:"min=1"`

	// identity and abuse controls
	OwnerHeader    string        `env:"OWNER_HEADER" validate:"required"`
	TrustedHops    int           `env:"TRUSTED_HOPS" validate:"min=0,max=10"`
	UploadRate     float64       `env:"UPLOAD_RATE" validate:"gt=0"`
	UploadBurst    int           `env:"UPLOAD_BURST" validate:"min=1"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" validate:"min=1s"`

	// record store, in-memory when both are empty
	DBDSN         string `env:"DB_DSN"`
	DBDSNSSMParam string `env:"DB_DSN_SSM_PARAM"`

	// optional S3 copy of every original upload
	MirrorS3Bucket string `env:"MIRROR_S3_BUCKET"`
	MirrorS3Prefix string `env:"MIRROR_S3_PREFIX"`
}

// Register binds every field to fs with its default
func Register(fs *flag.FlagSet, c *App) {
	// logging
	fs.BoolVar(&c.LogJSON, "log-json", true, "JSON logs (true) or logfmt (false)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.StringVar(&c.StacktraceLevel, "stacktrace-level", "error", "lowest level that carries a stack, debug|info|warn|error")
	fs.BoolVar(&c.IncludeErrorLinks, "include-error-links", true, "log where each error in a chain was created")
	fs.IntVar(&c.MaxErrorLinks, "max-error-links", 5, "error chain depth logged (1..64)")

	// listeners and telemetry
	fs.IntVar(&c.HTTPPort, "http-port", 8080, "public listener TCP port")
	fs.IntVar(&c.AdminPort, "admin-port", 9000, "probes, metrics and pprof listener TCP port")
	fs.BoolVar(&c.EnablePprof, "enable-pprof", true, "serve pprof on the admin port")
	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "export traces to -otlp-endpoint")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP gRPC collector (host:port)")
	fs.Float64Var(&c.TraceSample, "trace-sample", 0.0, "root span sampling ratio (0..1)")
	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "push continuous profiles to -pyro-server")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server url")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "pyroscope tenant (x-scope-orgid)")
	fs.IntVar(&c.PyroMutexFraction, "pyro-mutex-fraction", 0, "mutex profile fraction, 0 leaves mutex profiling off")
	fs.IntVar(&c.PyroBlockRate, "pyro-block-rate", 0, "block profile rate in ns, 0 leaves block profiling off")

	fs.StringVar(&c.SitesDir, "sites-dir", "./public/sites", "publication root, site {id} is served from sites-dir/{id}")
	fs.StringVar(&c.SpoolDir, "spool-dir", "", "directory uploads are spooled to while processing (default: os temp dir)")
	fs.StringVar(&c.PublicPrefix, "public-prefix", "/site", "URL path published sites are served under")
	fs.Int64Var(&c.MaxUploadBytes, "max-upload-bytes", 10<<20, "largest accepted upload in bytes")
	fs.Int64Var(&c.MaxExtractBytes, "max-extract-bytes", 100<<20, "largest total extracted size of one archive in bytes")
	fs.Int64Var(&c.MaxFileBytes, "max-file-bytes", 25<<20, "largest single file inside an archive in bytes")
	fs.IntVar(&c.MaxArchiveEntries, "max-archive-entries", 10000, "most entries accepted in one archive")

	fs.StringVar(&c.OwnerHeader, "owner-header", "X-Owner-Id", "request header carrying the authenticated user id, set by the fronting proxy")
	fs.IntVar(&c.TrustedHops, "trusted-hops", 1, "number of trusted reverse proxies in front of the server (0..10)")
	fs.Float64Var(&c.UploadRate, "upload-rate", 0.2, "per-ip upload/delete refill rate per second")
	fs.IntVar(&c.UploadBurst, "upload-burst", 10, "per-ip upload/delete burst")
	fs.DurationVar(&c.RequestTimeout, "request-timeout", 60*time.Second, "read and write timeout for the public listener")

	fs.StringVar(&c.DBDSN, "db-dsn", "", "MySQL DSN for site records (user:pass@tcp(host:3306)/db)")
	fs.StringVar(&c.DBDSNSSMParam, "db-dsn-ssm-param", "", "SSM SecureString parameter holding the MySQL DSN, used when db-dsn is empty")

	fs.StringVar(&c.MirrorS3Bucket, "mirror-s3-bucket", "", "s3 bucket to copy original uploads to (disabled when empty)")
	fs.StringVar(&c.MirrorS3Prefix, "mirror-s3-prefix", "sitedrop/uploads", "s3 key prefix for mirrored uploads")
}

// UsesAWS reports whether any configured component needs AWS credentials
func (c App) UsesAWS() bool {
	return c.MirrorS3Bucket != "" || (c.DBDSN == "" && c.DBDSNSSMParam != "")
}

// EnvKey is the variable FillFromEnv reads for flag name, "max-file-bytes"
// with prefix "SITEDROP_" is SITEDROP_MAX_FILE_BYTES
func EnvKey(prefix, name string) string {
	return prefix + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
}

// FillFromEnv sets every flag the command line left alone from its
// environment variable. Order of precedence is cli, then env, then default.
// Conflicts and unparseable values are reported through logf, which may be nil.
func FillFromEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	if logf == nil {
		logf = func(string, ...any) {}
	}
	onCLI := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { onCLI[f.Name] = true })

	fs.VisitAll(func(f *flag.Flag) {
		key := EnvKey(prefix, f.Name)
		val, ok := os.LookupEnv(key)
		switch {
		case !ok:
		case onCLI[f.Name]:
			logf("flag -%s: cli value %q overrides env %s=%q", f.Name, f.Value.String(), key, val)
		default:
			before := f.Value.String()
			if err := fs.Set(f.Name, val); err != nil {
				_ = fs.Set(f.Name, before)
				logf("flag -%s: ignoring invalid env %s=%q: %v", f.Name, key, val, err)
			}
		}
	})
}

var rules = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		return envName(f.Name)
	})
	return v
}

// envName maps an App field name to its env tag
func envName(field string) string {
	if f, ok := reflect.TypeOf(App{}).FieldByName(field); ok {
		if name := f.Tag.Get("env"); name != "" {
			return name
		}
	}
	return field
}

// Validate returns every invalid field joined into one error, or nil
func Validate(c App) error {
	var errs []error

	var fields validator.ValidationErrors
	if err := rules.Struct(c); errors.As(err, &fields) {
		for _, fe := range fields {
			errs = append(errs, describe(fe))
		}
	} else if err != nil {
		errs = append(errs, err)
	}

	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err))
	}
	if c.StacktraceLevel != "" {
		if _, err := log.ParseLevel(c.StacktraceLevel); err != nil {
			errs = append(errs, fmt.Errorf("invalid STACKTRACE_LEVEL %q: %w", c.StacktraceLevel, err))
		}
	}
	if c.IncludeErrorLinks && (c.MaxErrorLinks < 1 || c.MaxErrorLinks > 64) {
		errs = append(errs, fmt.Errorf("MAX_ERROR_LINKS must be 1..64 when INCLUDE_ERROR_LINKS is set (got %d)", c.MaxErrorLinks))
	}
	if !validPrefix(c.PublicPrefix) {
		errs = append(errs, fmt.Errorf("invalid PUBLIC_PREFIX %q (one path segment, not api or -)", c.PublicPrefix))
	}
	if c.DBDSN != "" {
		if _, err := mysql.ParseDSN(c.DBDSN); err != nil {
			errs = append(errs, fmt.Errorf("DB_DSN is not a valid MySQL DSN: %w", err))
		}
	}

	return errors.Join(errs...)
}

// validPrefix accepts one path segment that cannot shadow the api or the
// probe routes
func validPrefix(prefix string) bool {
	p := strings.Trim(prefix, "/")
	return p != "" && p != "api" && !strings.HasPrefix(p, "-") && !strings.ContainsAny(p, "/?#")
}

// describe renders one failed rule in operator terms
func describe(fe validator.FieldError) error {
	name, got := fe.Field(), fe.Value()
	switch fe.Tag() {
	case "required":
		return fmt.Errorf("%s is required", name)
	case "required_if":
		cond := strings.Fields(fe.Param())
		return fmt.Errorf("%s is required when %s=%s", name, envName(cond[0]), cond[len(cond)-1])
	case "min", "gte":
		return fmt.Errorf("invalid %s %v (must be at least %s)", name, got, fe.Param())
	case "max", "lte":
		return fmt.Errorf("invalid %s %v (must be at most %s)", name, got, fe.Param())
	case "gt":
		return fmt.Errorf("invalid %s %v (must be above %s)", name, got, fe.Param())
	case "nefield":
		return fmt.Errorf("invalid %s %v (must differ from %s)", name, got, envName(fe.Param()))
	case "ltefield":
		return fmt.Errorf("invalid %s %v (must not exceed %s)", name, got, envName(fe.Param()))
	case "http_url":
		return fmt.Errorf("%s must be an http(s) URL (got %q)", name, got)
	case "hostname_port":
		return fmt.Errorf("%s must be host:port (got %q)", name, got)
	}
	return fmt.Errorf("invalid %s %v (%s)", name, got, fe.Tag())
}
