package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"contour/internal/domain"
)

func (r Repo) GetMap(ctx context.Context, slug string) (domain.MapRecord, error) {
	return getMap(ctx, r.DB, slug)
}

// GetMapTx reads a map inside tx, so a following SaveMapTx cannot lose a
// concurrent write.
func (r Repo) GetMapTx(ctx context.Context, tx *sql.Tx, slug string) (domain.MapRecord, error) {
	return getMap(ctx, tx, slug)
}

func getMap(ctx context.Context, q querier, slug string) (domain.MapRecord, error) {
	slug = NormalizeSlug(slug)
	var rec domain.MapRecord
	var data string
	err := q.QueryRowContext(ctx, `SELECT id,slug,data_json,created_at,updated_at FROM maps WHERE slug=?`, slug).
		Scan(&rec.ID, &rec.Slug, &data, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.MapRecord{}, ErrNotFound
	}
	if err != nil {
		return domain.MapRecord{}, err
	}
	ds, err := domain.ParseDataset([]byte(data))
	if err != nil {
		return domain.MapRecord{}, fmt.Errorf("decode map %s: %w", slug, err)
	}
	rec.Data = ds
	return rec, nil
}

// SaveMap upserts the map document by slug. With snapshot set, a copy is also
// stored as the next version.
func (r Repo) SaveMap(ctx context.Context, slug string, ds domain.Dataset, snapshot bool) (domain.MapRecord, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.MapRecord{}, err
	}
	defer tx.Rollback()
	rec, err := r.SaveMapTx(ctx, tx, slug, ds, snapshot)
	if err != nil {
		return domain.MapRecord{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.MapRecord{}, err
	}
	return rec, nil
}

func (r Repo) SaveMapTx(ctx context.Context, tx *sql.Tx, slug string, ds domain.Dataset, snapshot bool) (domain.MapRecord, error) {
	slug = NormalizeSlug(slug)
	if slug == "" {
		return domain.MapRecord{}, errors.New("slug is required")
	}
	data, err := marshalJSON(ds)
	if err != nil {
		return domain.MapRecord{}, fmt.Errorf("encode map: %w", err)
	}
	now := r.now()
	rec := domain.MapRecord{Slug: slug, Data: ds, UpdatedAt: now}
	err = tx.QueryRowContext(ctx, `SELECT id,created_at FROM maps WHERE slug=?`, slug).Scan(&rec.ID, &rec.CreatedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		rec.ID = uuid.NewString()
		rec.CreatedAt = now
		if _, err := tx.ExecContext(ctx, `INSERT INTO maps(id,slug,data_json,created_at,updated_at) VALUES (?,?,?,?,?)`,
			rec.ID, slug, data, now, now); err != nil {
			return domain.MapRecord{}, fmt.Errorf("insert map: %w", err)
		}
	case err != nil:
		return domain.MapRecord{}, err
	default:
		if _, err := tx.ExecContext(ctx, `UPDATE maps SET data_json=?, updated_at=? WHERE id=?`, data, now, rec.ID); err != nil {
			return domain.MapRecord{}, fmt.Errorf("update map: %w", err)
		}
	}
	if !snapshot {
		return rec, nil
	}
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(version),0)+1 FROM map_versions WHERE map_id=?`, rec.ID).Scan(&rec.Version); err != nil {
		return domain.MapRecord{}, err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO map_versions(map_id,slug,version,data_json,created_at) VALUES (?,?,?,?,?)`,
		rec.ID, slug, rec.Version, data, now); err != nil {
		return domain.MapRecord{}, fmt.Errorf("insert map version: %w", err)
	}
	return rec, nil
}

// ListMaps returns every map, most recently updated first.
func (r Repo) ListMaps(ctx context.Context) ([]domain.MapSummary, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT m.id, m.slug, COALESCE(json_array_length(m.data_json,'$.moments'),0), m.updated_at,
  (SELECT COUNT(*) FROM map_versions v WHERE v.map_id=m.id)
FROM maps m ORDER BY m.updated_at DESC, m.slug ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.MapSummary{}
	for rows.Next() {
		var s domain.MapSummary
		if err := rows.Scan(&s.ID, &s.Slug, &s.Moments, &s.UpdatedAt, &s.Versions); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// ListVersions returns the snapshots of a map, newest first, without their
// data. A map that does not exist has no versions.
func (r Repo) ListVersions(ctx context.Context, slug string) ([]domain.MapVersion, error) {
	slug = NormalizeSlug(slug)
	rows, err := r.DB.QueryContext(ctx, `SELECT v.map_id, v.slug, v.version, v.created_at
FROM map_versions v JOIN maps m ON m.id = v.map_id
WHERE m.slug=? ORDER BY v.version DESC`, slug)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.MapVersion{}
	for rows.Next() {
		var v domain.MapVersion
		if err := rows.Scan(&v.MapID, &v.Slug, &v.Version, &v.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, v)
	}
	return res, rows.Err()
}

func (r Repo) GetVersion(ctx context.Context, slug string, version int) (domain.MapVersion, error) {
	slug = NormalizeSlug(slug)
	var v domain.MapVersion
	var data string
	err := r.DB.QueryRowContext(ctx, `SELECT v.map_id, v.slug, v.version, v.data_json, v.created_at
FROM map_versions v JOIN maps m ON m.id = v.map_id
WHERE m.slug=? AND v.version=?`, slug, version).Scan(&v.MapID, &v.Slug, &v.Version, &data, &v.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.MapVersion{}, ErrNotFound
	}
	if err != nil {
		return domain.MapVersion{}, err
	}
	ds, err := domain.ParseDataset([]byte(data))
	if err != nil {
		return domain.MapVersion{}, fmt.Errorf("decode map %s version %d: %w", slug, version, err)
	}
	v.Data = &ds
	return v, nil
}
