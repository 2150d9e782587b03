package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"contour/internal/domain"
)

func (r Repo) InsertPersonaSetTx(ctx context.Context, tx *sql.Tx, s domain.PersonaSet) error {
	tags, err := marshalJSON(nonNil(s.Tags))
	if err != nil {
		return err
	}
	var meta any
	if s.Meta != nil {
		encoded, err := marshalJSON(s.Meta)
		if err != nil {
			return err
		}
		meta = encoded
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO persona_sets(id,name,context,tags_json,meta_json,created_at) VALUES (?,?,?,?,?,?)`,
		s.ID, s.Name, nullable(s.Context), tags, meta, s.CreatedAt)
	return err
}

func (r Repo) InsertPersonaTx(ctx context.Context, tx *sql.Tx, p domain.Persona) error {
	tags, err := marshalJSON(nonNil(p.Tags))
	if err != nil {
		return err
	}
	var data any
	if p.Data != nil {
		encoded, err := marshalJSON(p.Data)
		if err != nil {
			return err
		}
		data = encoded
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO personas(id,set_id,name,role,tags_json,data_json,created_at) VALUES (?,?,?,?,?,?,?)`,
		p.ID, p.SetID, p.Name, nullable(p.Role), tags, data, p.CreatedAt)
	return err
}

const personaSetColumns = `s.id, s.name, COALESCE(s.context,''), s.tags_json, s.meta_json, s.created_at,
  (SELECT COUNT(*) FROM personas p WHERE p.set_id = s.id)`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPersonaSet(row rowScanner) (domain.PersonaSet, error) {
	var s domain.PersonaSet
	var tags, meta sql.NullString
	if err := row.Scan(&s.ID, &s.Name, &s.Context, &tags, &meta, &s.CreatedAt, &s.PersonaCount); err != nil {
		return s, err
	}
	s.Tags = decodeStrings(tags)
	m, err := decodeObject(meta)
	if err != nil {
		return s, err
	}
	s.Meta = m
	return s, nil
}

// ListPersonaSets returns the sets newest first with their persona counts.
func (r Repo) ListPersonaSets(ctx context.Context) ([]domain.PersonaSet, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+personaSetColumns+` FROM persona_sets s ORDER BY s.created_at DESC, s.rowid DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.PersonaSet{}
	for rows.Next() {
		s, err := scanPersonaSet(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

func (r Repo) GetPersonaSet(ctx context.Context, id string) (domain.PersonaSet, error) {
	s, err := scanPersonaSet(r.DB.QueryRowContext(ctx, `SELECT `+personaSetColumns+` FROM persona_sets s WHERE s.id=?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.PersonaSet{}, ErrNotFound
	}
	return s, err
}

func (r Repo) DeletePersonaSetTx(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM persona_sets WHERE id=?`, id)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

func scanPersona(row rowScanner) (domain.Persona, error) {
	var p domain.Persona
	var tags, data sql.NullString
	if err := row.Scan(&p.ID, &p.SetID, &p.Name, &p.Role, &tags, &data, &p.CreatedAt); err != nil {
		return p, err
	}
	p.Tags = decodeStrings(tags)
	d, err := decodeObject(data)
	if err != nil {
		return p, fmt.Errorf("persona %s: %w", p.ID, err)
	}
	p.Data = d
	return p, nil
}

const personaColumns = `id, set_id, name, COALESCE(role,''), tags_json, data_json, created_at`

// ListPersonas returns the personas of a set in creation order.
func (r Repo) ListPersonas(ctx context.Context, setID string) ([]domain.Persona, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+personaColumns+` FROM personas WHERE set_id=? ORDER BY created_at ASC, rowid ASC`, setID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Persona{}
	for rows.Next() {
		p, err := scanPersona(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) GetPersona(ctx context.Context, id string) (domain.Persona, error) {
	p, err := scanPersona(r.DB.QueryRowContext(ctx, `SELECT `+personaColumns+` FROM personas WHERE id=?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Persona{}, ErrNotFound
	}
	return p, err
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
