// Package store abstracts where journey-map documents live.
package store

import (
	"context"
	"database/sql"

	"contour/internal/domain"
	"contour/internal/repo"
)

// ErrNotFound is returned by every MapStore for a missing map or version.
var ErrNotFound = repo.ErrNotFound

// MapStore loads and saves map documents by slug. Slugs are matched
// case-insensitively.
type MapStore interface {
	GetMap(ctx context.Context, slug string) (domain.MapRecord, error)
	SaveMap(ctx context.Context, slug string, ds domain.Dataset, snapshot bool) (domain.MapRecord, error)
	ListMaps(ctx context.Context) ([]domain.MapSummary, error)
	ListVersions(ctx context.Context, slug string) ([]domain.MapVersion, error)
	GetVersion(ctx context.Context, slug string, version int) (domain.MapVersion, error)
}

// TxMapStore is a MapStore sharing the event log's database, so a map write
// and its event commit together.
type TxMapStore interface {
	MapStore
	GetMapTx(ctx context.Context, tx *sql.Tx, slug string) (domain.MapRecord, error)
	SaveMapTx(ctx context.Context, tx *sql.Tx, slug string, ds domain.Dataset, snapshot bool) (domain.MapRecord, error)
}

var _ TxMapStore = repo.Repo{}
