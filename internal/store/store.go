// Package store persists site records.
//
// A record exists exactly when its publication directory exists and is
// populated; the publish package keeps the two in step. Implementations
// only need to be safe for concurrent use and report duplicates and missing
// records with the sentinel errors below.
package store

import (
	"context"
	"errors"

	"github.com/keithlinneman/sitedrop/internal/site"
)

var (
	// ErrNotFound is returned when no record matches.
	ErrNotFound = errors.New("site record not found")

	// ErrDuplicate is returned by Insert when the id is already recorded.
	ErrDuplicate = errors.New("site record already exists")
)

// Store is the record store behind the publication pipeline.
type Store interface {
	// Exists reports whether a record with this id is present.
	Exists(ctx context.Context, id string) (bool, error)

	// Insert adds a record. A second record with the same id is ErrDuplicate.
	Insert(ctx context.Context, s site.Site) error

	// Get returns the record for id or ErrNotFound.
	Get(ctx context.Context, id string) (site.Site, error)

	// Delete removes the record for id owned by ownerID, or returns ErrNotFound.
	Delete(ctx context.Context, id, ownerID string) error

	// ListByOwner returns the owner's records, newest first.
	ListByOwner(ctx context.Context, ownerID string) ([]site.Site, error)

	// Ping checks the backing store is reachable.
	Ping(ctx context.Context) error
}
