package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/danielgtaylor/huma/v2"

	"contour/internal/domain"
	"contour/internal/engine"
	"contour/internal/repo"
	"contour/internal/research"
)

func registerPersonas(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-persona-sets",
		Method:      http.MethodGet,
		Path:        "/personas/sets",
		Summary:     "List persona sets",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.PersonaSet `json:"body"`
	}, error) {
		items, err := e.ListPersonaSets(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.PersonaSet `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "save-personas",
		Method:        http.MethodPost,
		Path:          "/personas/sets",
		Summary:       "Save a persona set",
		Description:   "Stores a team and its persona records in one transaction.",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ActorID string `header:"X-Actor-Id"`
		RawBody []byte `contentType:"application/json"`
	}) (*struct {
		Body engine.SavedPersonas `json:"body"`
	}, error) {
		if err := requireBody(input.RawBody); err != nil {
			return nil, err
		}
		var in engine.SavePersonasInput
		if err := json.Unmarshal(input.RawBody, &in); err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid persona body", map[string]any{"error": err.Error()})
		}
		out, err := e.SavePersonas(ctx, in, input.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.SavedPersonas `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-persona-set",
		Method:      http.MethodGet,
		Path:        "/personas/sets/{id}",
		Summary:     "Get a persona set with its personas",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body engine.PersonaSetDetail `json:"body"`
	}, error) {
		detail, err := e.GetPersonaSet(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.PersonaSetDetail `json:"body"`
		}{Body: detail}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-persona-set",
		Method:        http.MethodDelete,
		Path:          "/personas/sets/{id}",
		Summary:       "Delete a persona set and its personas",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID      string `path:"id"`
		ActorID string `header:"X-Actor-Id"`
	}) (*struct{}, error) {
		if err := e.DeletePersonaSet(ctx, input.ID, input.ActorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-persona",
		Method:      http.MethodGet,
		Path:        "/personas/{id}",
		Summary:     "Get a persona",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Persona `json:"body"`
	}, error) {
		p, err := e.GetPersona(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Persona `json:"body"`
		}{Body: p}, nil
	})
}

func registerResearch(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "persona-candidates",
		Method:      http.MethodPost,
		Path:        "/personas/candidates",
		Summary:     "Find research candidates",
		Description: "Proxies the candidates webhook. Answers with mock candidates when mock mode is on.",
		Errors:      []int{http.StatusNotImplemented, http.StatusBadGateway, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		Body CandidatesRequest
	}) (*struct {
		Body json.RawMessage `json:"body"`
	}, error) {
		out, err := e.Candidates(ctx, research.CandidateQuery{
			Role:    input.Body.Role,
			Sector:  input.Body.Sector,
			Geo:     input.Body.Geo,
			OrgType: input.Body.OrgType,
			Limit:   input.Body.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body json.RawMessage `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "generate-personas",
		Method:      http.MethodPost,
		Path:        "/personas/generate",
		Summary:     "Generate personas",
		Description: "Forwards the body to the generate webhook and returns its answer unchanged.",
		Errors:      []int{http.StatusBadRequest, http.StatusNotImplemented, http.StatusBadGateway, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		RawBody []byte `contentType:"application/json"`
	}) (*struct {
		Body json.RawMessage `json:"body"`
	}, error) {
		if err := requireBody(input.RawBody); err != nil {
			return nil, err
		}
		if !json.Valid(input.RawBody) {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body is not valid JSON", nil)
		}
		out, err := e.GeneratePersonas(ctx, input.RawBody)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body json.RawMessage `json:"body"`
		}{Body: out}, nil
	})
}

func registerPlaybook(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-playbook",
		Method:      http.MethodGet,
		Path:        "/playbook",
		Summary:     "Get the playbook document",
		Description: "Falls back to the built-in playbook when none was saved.",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body PlaybookResponse `json:"body"`
	}, error) {
		doc, updatedAt, err := e.Playbook(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PlaybookResponse `json:"body"`
		}{Body: PlaybookResponse{Playbook: doc, UpdatedAt: updatedAt, Default: updatedAt == ""}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "put-playbook",
		Method:      http.MethodPut,
		Path:        "/playbook",
		Summary:     "Replace the playbook document",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ActorID string `header:"X-Actor-Id"`
		RawBody []byte `contentType:"application/json"`
	}) (*struct {
		Body PlaybookResponse `json:"body"`
	}, error) {
		if err := requireBody(input.RawBody); err != nil {
			return nil, err
		}
		updatedAt, err := e.SavePlaybook(ctx, input.RawBody, input.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		doc, _, err := e.Playbook(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PlaybookResponse `json:"body"`
		}{Body: PlaybookResponse{Playbook: doc, UpdatedAt: updatedAt}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "reset-playbook",
		Method:        http.MethodDelete,
		Path:          "/playbook",
		Summary:       "Reset the playbook to the built-in default",
		DefaultStatus: http.StatusNoContent,
	}, func(ctx context.Context, input *struct {
		ActorID string `header:"X-Actor-Id"`
	}) (*struct{}, error) {
		if err := e.ResetPlaybook(ctx, input.ActorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List audit events",
		Description: "Newest first. Pass next_cursor back as cursor for the next page.",
	}, func(ctx context.Context, input *struct {
		Limit      int    `query:"limit" minimum:"0" maximum:"500"`
		Cursor     string `query:"cursor"`
		MapSlug    string `query:"map"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		var cursor int64
		if input.Cursor != "" {
			c, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil || c <= 0 {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursor = c
		}
		limit := normalizeLimit(input.Limit)
		items, err := e.LatestEvents(ctx, repo.EventFilters{
			Limit:      limit + 1,
			Cursor:     cursor,
			MapSlug:    input.MapSlug,
			Type:       input.Type,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		next := ""
		if len(items) > limit {
			items = items[:limit]
			next = strconv.FormatInt(items[len(items)-1].ID, 10)
		}
		out := make([]EventResponse, 0, len(items))
		for _, ev := range items {
			out = append(out, eventResponse(ev))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: paginatedEvents{Items: out, NextCursor: next}}, nil
	})
}
