package main

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/jmoiron/sqlx"

	"github.com/keithlinneman/sitedrop/internal/cfg"
	"github.com/keithlinneman/sitedrop/internal/log"
	"github.com/keithlinneman/sitedrop/internal/metrics"
	"github.com/keithlinneman/sitedrop/internal/mirror"
	"github.com/keithlinneman/sitedrop/internal/publish"
	"github.com/keithlinneman/sitedrop/internal/ratelimit"
	"github.com/keithlinneman/sitedrop/internal/store"
	"github.com/keithlinneman/sitedrop/internal/xerrors"
)

// deps are the external systems the coordinator writes through
type deps struct {
	L      log.Logger
	store  store.Store
	db     *sqlx.DB
	mirror publish.Mirror
}

// openDeps connects the record store and the upload mirror. AWS is only
// loaded when the DSN lives in SSM or the mirror is on, so a local
// install never touches the credential chain.
func openDeps(ctx context.Context, L log.Logger, conf cfg.App) (*deps, error) {
	d := &deps{L: L}

	var awsCfg *aws.Config
	var params store.ParameterGetter
	if conf.UsesAWS() {
		c, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, xerrors.Wrap(err, "load aws config")
		}
		awsCfg = &c
		params = ssm.NewFromConfig(c)
	}

	dsn, err := store.ResolveDSN(ctx, params, conf.DBDSN, conf.DBDSNSSMParam)
	if err != nil {
		return nil, err
	}
	if dsn == "" {
		d.store = store.NewMemory()
		L.Warn(ctx, "no database configured, site records are kept in memory and lost on restart")
	} else {
		db, err := store.Open(ctx, dsn)
		if err != nil {
			return nil, err
		}
		st := store.NewMySQL(db)
		if err := st.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, xerrors.Wrap(err, "apply schema")
		}
		d.db, d.store = db, st
		L.Info(ctx, "using mysql record store")
	}

	if conf.MirrorS3Bucket != "" {
		mir, err := mirror.New(ctx, mirror.Options{
			Logger:    L,
			Bucket:    conf.MirrorS3Bucket,
			Prefix:    conf.MirrorS3Prefix,
			AWSConfig: awsCfg,
		})
		if err != nil {
			d.close(ctx)
			return nil, err
		}
		d.mirror = mir
	}
	return d, nil
}

func (d *deps) close(ctx context.Context) {
	if d.db == nil {
		return
	}
	if err := d.db.Close(); err != nil {
		d.L.Error(ctx, err, "database close")
	}
	d.db = nil
}

// newLimiters returns the limiter for every request and the tighter one
// for uploads and deletes, which write to disk and the store
func newLimiters(ctx context.Context, L log.Logger, m *metrics.ServerMetrics, conf cfg.App) (general, uploads *ratelimit.Limiter) {
	hooks := func(scope string) []ratelimit.Option {
		return []ratelimit.Option{
			ratelimit.WithOnDenied(func(string) { m.IncRateLimitDenied() }),
			// once per ip until its bucket is evicted
			ratelimit.WithOnFirstDenied(func(ip string) {
				L.Warn(ctx, "rate limit triggered", "scope", scope, "ip", ip)
			}),
			ratelimit.WithOnCapacity(func() {
				m.IncRateLimitCapacity()
				L.Warn(ctx, "rate limiter full, rejecting new clients until idle ones are evicted", "scope", scope)
			}),
		}
	}
	general = ratelimit.New(ctx, hooks("all")...)
	uploads = ratelimit.New(ctx, append(hooks("mutations"),
		ratelimit.WithRate(conf.UploadRate, conf.UploadBurst),
		ratelimit.WithTTL(30*time.Minute),
	)...)
	return general, uploads
}
