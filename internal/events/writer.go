// Package events appends to the local audit log of map and persona changes.
package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event types written by the engine.
const (
	MapSaved        = "map.saved"
	MapImported     = "map.imported"
	MapRestored     = "map.restored"
	StagesSaved     = "stages.saved"
	MomentSaved     = "moment.saved"
	MomentDeleted   = "moment.deleted"
	MomentMoved     = "moment.moved"
	CommentAdded    = "comment.added"
	CommentDeleted  = "comment.deleted"
	KpiConfigSaved  = "kpi_config.saved"
	PersonaSetSaved = "persona_set.saved"
	PersonaSetDel   = "persona_set.deleted"
	PlaybookSaved   = "playbook.saved"
	PlaybookReset   = "playbook.reset"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type Payload map[string]any

// Entry describes one event; MapSlug and EntityID may be empty.
type Entry struct {
	Type       string
	MapSlug    string
	EntityKind string
	EntityID   string
	ActorID    string
	Payload    Payload
}

// Append writes the event inside tx so it commits or rolls back with the
// change it records.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, e Entry) error {
	now := w.Now
	if now == nil {
		now = time.Now
	}
	if e.ActorID == "" {
		e.ActorID = "anonymous"
	}
	payload := e.Payload
	if payload == nil {
		payload = Payload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,map_slug,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		now().UTC().Format(time.RFC3339), e.Type, nullable(e.MapSlug), e.EntityKind, nullable(e.EntityID), e.ActorID, string(data))
	if err != nil {
		return fmt.Errorf("append %s event: %w", e.Type, err)
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
