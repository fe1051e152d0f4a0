package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"github.com/keithlinneman/sitedrop/internal/site"
	"github.com/keithlinneman/sitedrop/internal/xerrors"
)

// mysqlDuplicateEntry is ER_DUP_ENTRY
const mysqlDuplicateEntry = 1062

// Schema creates the sites table. custom_alias is stored as "" when absent.
const Schema = `CREATE TABLE IF NOT EXISTS sites (
	id                VARCHAR(255) NOT NULL PRIMARY KEY,
	owner_id          VARCHAR(128) NOT NULL,
	original_filename VARCHAR(255) NOT NULL,
	custom_alias      VARCHAR(255) NOT NULL DEFAULT '',
	kind              VARCHAR(16)  NOT NULL,
	size_bytes        BIGINT       NOT NULL DEFAULT 0,
	sha256            CHAR(64)     NOT NULL DEFAULT '',
	published_at      DATETIME(6)  NOT NULL,
	INDEX idx_sites_owner (owner_id, published_at)
)`

const siteColumns = `id, owner_id, original_filename, custom_alias, kind, size_bytes, sha256, published_at`

var _ Store = (*MySQL)(nil)

// MySQL is a Store backed by a sites table.
type MySQL struct {
	db *sqlx.DB
}

// NewMySQL wraps an open handle. The caller owns db and closes it.
func NewMySQL(db *sqlx.DB) *MySQL {
	return &MySQL{db: db}
}

// Migrate creates the sites table when it does not exist.
func (m *MySQL) Migrate(ctx context.Context) error {
	if _, err := m.db.ExecContext(ctx, Schema); err != nil {
		return xerrors.Wrap(err, "create sites table")
	}
	return nil
}

func (m *MySQL) Exists(ctx context.Context, id string) (bool, error) {
	var n int
	err := m.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM sites WHERE id = ?`, id)
	if err != nil {
		return false, xerrors.Wrapf(err, "check site %s", id)
	}
	return n > 0, nil
}

func (m *MySQL) Insert(ctx context.Context, s site.Site) error {
	const q = `INSERT INTO sites (` + siteColumns + `)
		VALUES (:id, :owner_id, :original_filename, :custom_alias, :kind, :size_bytes, :sha256, :published_at)`

	if !s.Kind.Valid() {
		return xerrors.Newf("insert site %s: unknown kind %q", s.ID, s.Kind)
	}
	if s.PublishedAt.IsZero() {
		s.PublishedAt = time.Now().UTC()
	}
	if _, err := m.db.NamedExecContext(ctx, q, s); err != nil {
		var me *mysql.MySQLError
		if errors.As(err, &me) && me.Number == mysqlDuplicateEntry {
			return ErrDuplicate
		}
		return xerrors.Wrapf(err, "insert site %s", s.ID)
	}
	return nil
}

func (m *MySQL) Get(ctx context.Context, id string) (site.Site, error) {
	var s site.Site
	err := m.db.GetContext(ctx, &s, `SELECT `+siteColumns+` FROM sites WHERE id = ? LIMIT 1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return site.Site{}, ErrNotFound
	}
	if err != nil {
		return site.Site{}, xerrors.Wrapf(err, "get site %s", id)
	}
	// a row written by something other than Insert could name a kind the
	// handlers do not know how to serve
	if !s.Kind.Valid() {
		return site.Site{}, xerrors.Newf("site %s has unknown kind %q", id, s.Kind)
	}
	return s, nil
}

func (m *MySQL) Delete(ctx context.Context, id, ownerID string) error {
	res, err := m.db.ExecContext(ctx, `DELETE FROM sites WHERE id = ? AND owner_id = ?`, id, ownerID)
	if err != nil {
		return xerrors.Wrapf(err, "delete site %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return xerrors.Wrapf(err, "delete site %s", id)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (m *MySQL) ListByOwner(ctx context.Context, ownerID string) ([]site.Site, error) {
	out := make([]site.Site, 0)
	err := m.db.SelectContext(ctx, &out,
		`SELECT `+siteColumns+` FROM sites WHERE owner_id = ? ORDER BY published_at DESC, id ASC`, ownerID)
	if err != nil {
		return nil, xerrors.Wrapf(err, "list sites for %s", ownerID)
	}
	return out, nil
}

func (m *MySQL) Ping(ctx context.Context) error {
	return m.db.PingContext(ctx)
}
