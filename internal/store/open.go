package store

import (
	"context"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"github.com/keithlinneman/sitedrop/internal/xerrors"
)

// Pool defaults for the publication workload
const (
	defaultMaxOpen     = 15
	defaultMaxIdle     = 5
	defaultConnMaxLife = 30 * time.Minute
)

// Open connects to MySQL and pings before returning so startup fails fast.
// parseTime is forced on so published_at scans into time.Time.
func Open(ctx context.Context, dsn string) (*sqlx.DB, error) {
	mc, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, xerrors.Wrap(err, "parse mysql dsn")
	}
	mc.ParseTime = true
	if mc.Loc == nil {
		mc.Loc = time.UTC
	}

	db, err := sqlx.Open("mysql", mc.FormatDSN())
	if err != nil {
		return nil, xerrors.Wrap(err, "open mysql")
	}
	db.SetMaxOpenConns(defaultMaxOpen)
	db.SetMaxIdleConns(defaultMaxIdle)
	db.SetConnMaxLifetime(defaultConnMaxLife)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, xerrors.Wrap(err, "ping mysql")
	}
	return db, nil
}
