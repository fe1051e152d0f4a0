// Package prof pushes continuous profiles to a Pyroscope server and labels
// expensive work so profiles can be sliced by operation.
package prof

import (
	"context"
	"net/url"
	"runtime"

	"github.com/grafana/pyroscope-go"

	"github.com/keithlinneman/sitedrop/internal/log"
	"github.com/keithlinneman/sitedrop/internal/xerrors"
)

// Options configures the profiler. Contention rates of zero leave the
// runtime defaults untouched and skip the matching profile types.
type Options struct {
	Enabled       bool
	AppName       string
	ServerAddress string
	AuthToken     string
	TenantID      string
	Tags          map[string]string

	MutexFraction int
	BlockRate     int
}

// Start begins pushing profiles. The returned stop func is never nil, so
// callers can defer it whether or not Start failed.
func Start(ctx context.Context, opts Options) (stop func(), err error) {
	L := log.FromContext(ctx)
	stop = func() {}

	if !opts.Enabled {
		L.Info(ctx, "profiling disabled")
		return stop, nil
	}
	if err := checkAddress(opts.ServerAddress); err != nil {
		return stop, err
	}

	if opts.MutexFraction > 0 {
		runtime.SetMutexProfileFraction(opts.MutexFraction)
	}
	if opts.BlockRate > 0 {
		runtime.SetBlockProfileRate(opts.BlockRate)
	}

	p, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: opts.AppName,
		ServerAddress:   opts.ServerAddress,
		AuthToken:       opts.AuthToken,
		TenantID:        opts.TenantID,
		Tags:            opts.Tags,
		ProfileTypes:    profileTypes(opts),
		DisableGCRuns:   true,
	})
	if err != nil {
		return stop, xerrors.Wrapf(err, "start profiler for %s", opts.ServerAddress)
	}

	L.Info(ctx, "profiling started", "server_address", opts.ServerAddress, "app_name", opts.AppName)
	return func() {
		_ = p.Stop()
		L.Info(context.Background(), "profiling stopped")
	}, nil
}

func checkAddress(addr string) error {
	if addr == "" {
		return xerrors.New("profiling enabled without a server address")
	}
	u, err := url.Parse(addr)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return xerrors.Newf("profiling server address %q is not an absolute url", addr)
	}
	return nil
}

// profileTypes always includes cpu, heap and goroutines. Contention
// profiles are only useful once their sampling rate is switched on.
func profileTypes(opts Options) []pyroscope.ProfileType {
	types := []pyroscope.ProfileType{
		pyroscope.ProfileCPU,
		pyroscope.ProfileAllocObjects,
		pyroscope.ProfileAllocSpace,
		pyroscope.ProfileInuseObjects,
		pyroscope.ProfileInuseSpace,
		pyroscope.ProfileGoroutines,
	}
	if opts.MutexFraction > 0 {
		types = append(types, pyroscope.ProfileMutexCount, pyroscope.ProfileMutexDuration)
	}
	if opts.BlockRate > 0 {
		types = append(types, pyroscope.ProfileBlockCount, pyroscope.ProfileBlockDuration)
	}
	return types
}

// Do runs fn with the operation label attached to its goroutine, so cpu
// spent extracting an upload shows up under operation=publish. Labels are
// plain pprof labels and cost nothing when profiling is off.
func Do(ctx context.Context, operation string, fn func(context.Context)) {
	pyroscope.TagWrapper(ctx, pyroscope.Labels("operation", operation), fn)
}
