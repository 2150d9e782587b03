package server

import (
	"encoding/json"
	"strings"

	"contour/internal/domain"
	"contour/internal/journey"
)

// Request payloads

type MoveMomentRequest struct {
	Column int `json:"column" doc:"Grid column; values outside 1..12 are clamped"`
}

type AddCommentRequest struct {
	Text string `json:"text" minLength:"1"`
}

// StagesRequest is decoded from the raw body so stage aliases such as title
// for label are accepted.
type StagesRequest struct {
	Stages  []domain.Stage          `json:"stages"`
	Deleted []journey.StageDeletion `json:"deleted,omitempty"`
}

type CandidatesRequest struct {
	Role    string `json:"role,omitempty"`
	Sector  string `json:"sector,omitempty"`
	Geo     string `json:"geo,omitempty"`
	OrgType string `json:"org_type,omitempty"`
	Limit   int    `json:"limit,omitempty" minimum:"0" maximum:"30"`
}

// Response payloads

type CommentsResponse struct {
	MomentID string           `json:"moment_id"`
	Comments []domain.Comment `json:"comments"`
}

type PlaybookResponse struct {
	Playbook  json.RawMessage `json:"playbook"`
	UpdatedAt string          `json:"updated_at,omitempty"`
	Default   bool            `json:"default"`
}

type EventResponse struct {
	ID         int64           `json:"id"`
	TS         string          `json:"ts" format:"date-time"`
	Type       string          `json:"type"`
	MapSlug    string          `json:"map_slug,omitempty"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	ActorID    string          `json:"actor_id"`
	Payload    json.RawMessage `json:"payload"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

func eventResponse(e domain.Event) EventResponse {
	payload := json.RawMessage(`{}`)
	if e.Payload != "" && json.Valid([]byte(e.Payload)) {
		payload = json.RawMessage(e.Payload)
	}
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		MapSlug:    e.MapSlug,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    payload,
	}
}

// layerVisibility turns a comma separated layer list into a visibility map
// over every known layer. An empty list means no layer filtering.
func layerVisibility(list string) map[string]bool {
	list = strings.TrimSpace(list)
	if list == "" {
		return nil
	}
	vis := make(map[string]bool, len(domain.LayerKeys))
	for _, k := range domain.LayerKeys {
		vis[k] = false
	}
	for _, k := range strings.Split(list, ",") {
		if k = strings.TrimSpace(k); k != "" {
			vis[k] = true
		}
	}
	return vis
}

func normalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return 50
	case limit > 500:
		return 500
	default:
		return limit
	}
}
