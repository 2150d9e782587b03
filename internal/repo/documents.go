package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
)

// GetDocument returns a stored JSON document and when it was last written.
func (r Repo) GetDocument(ctx context.Context, key string) (json.RawMessage, string, error) {
	var data, updated string
	err := r.DB.QueryRowContext(ctx, `SELECT data_json, updated_at FROM documents WHERE key=?`, key).Scan(&data, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", ErrNotFound
	}
	if err != nil {
		return nil, "", err
	}
	return json.RawMessage(data), updated, nil
}

func (r Repo) PutDocumentTx(ctx context.Context, tx *sql.Tx, key string, data json.RawMessage) (string, error) {
	now := r.now()
	_, err := tx.ExecContext(ctx, `INSERT INTO documents(key,data_json,updated_at) VALUES (?,?,?)
ON CONFLICT(key) DO UPDATE SET data_json=excluded.data_json, updated_at=excluded.updated_at`, key, string(data), now)
	if err != nil {
		return "", err
	}
	return now, nil
}

func (r Repo) DeleteDocumentTx(ctx context.Context, tx *sql.Tx, key string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE key=?`, key)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}
