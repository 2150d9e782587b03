package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"

	"contour/internal/domain"
	"contour/internal/events"
	"contour/internal/playbook"
	"contour/internal/repo"
)

// Playbook returns the stored playbook, or the built-in one with an empty
// updatedAt when none was saved.
func (e Engine) Playbook(ctx context.Context) (json.RawMessage, string, error) {
	raw, updated, err := e.Repo.GetDocument(ctx, playbook.DocumentKey)
	if errors.Is(err, repo.ErrNotFound) {
		return playbook.Default(), "", nil
	}
	return raw, updated, err
}

func (e Engine) SavePlaybook(ctx context.Context, raw json.RawMessage, actorID string) (string, error) {
	if err := playbook.Validate(raw); err != nil {
		return "", invalid("playbook", "%v", err)
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, raw); err != nil {
		return "", invalid("playbook", "%v", err)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()
	updated, err := e.Repo.PutDocumentTx(ctx, tx, playbook.DocumentKey, compact.Bytes())
	if err != nil {
		return "", err
	}
	if err := e.Events.Append(ctx, tx, events.Entry{Type: events.PlaybookSaved, EntityKind: "document", EntityID: playbook.DocumentKey,
		ActorID: actorID, Payload: events.Payload{"bytes": compact.Len()}}); err != nil {
		return "", err
	}
	return updated, tx.Commit()
}

// ResetPlaybook drops the stored playbook so the built-in one is served.
// Resetting when nothing is stored is not an error.
func (e Engine) ResetPlaybook(ctx context.Context, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteDocumentTx(ctx, tx, playbook.DocumentKey); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil
		}
		return err
	}
	if err := e.Events.Append(ctx, tx, events.Entry{Type: events.PlaybookReset, EntityKind: "document", EntityID: playbook.DocumentKey, ActorID: actorID}); err != nil {
		return err
	}
	return tx.Commit()
}

// LatestEvents lists audit events newest first.
func (e Engine) LatestEvents(ctx context.Context, f repo.EventFilters) ([]domain.Event, error) {
	return e.Repo.LatestEvents(ctx, f)
}

// EventsAfter lists events after cursor oldest first, for tailing.
func (e Engine) EventsAfter(ctx context.Context, limit int, cursor int64, mapSlug string) ([]domain.Event, error) {
	return e.Repo.EventsAfter(ctx, limit, cursor, mapSlug)
}
