package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"contour/internal/domain"
	"contour/internal/engine"
	"contour/internal/journey"
	"contour/internal/repo"
)

func requireBody(raw []byte) huma.StatusError {
	if len(bytes.TrimSpace(raw)) == 0 {
		return newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
	}
	return nil
}

func registerMaps(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-maps",
		Method:      http.MethodGet,
		Path:        "/maps",
		Summary:     "List journey maps",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.MapSummary `json:"body"`
	}, error) {
		items, err := e.ListMaps(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.MapSummary `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-map",
		Method:      http.MethodGet,
		Path:        "/maps/{slug}",
		Summary:     "Get a journey map",
		Description: "A map that was never saved is returned as an empty document.",
	}, func(ctx context.Context, input *struct {
		Slug string `path:"slug"`
	}) (*struct {
		Body domain.MapRecord `json:"body"`
	}, error) {
		rec, err := e.LoadMap(ctx, input.Slug)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.MapRecord `json:"body"`
		}{Body: rec}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "put-map",
		Method:      http.MethodPut,
		Path:        "/maps/{slug}",
		Summary:     "Replace a journey map",
		Description: "Accepts a dataset `{moments, stages, comments, kpiConfig}` and stores it as a new version.",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Slug    string `path:"slug"`
		ActorID string `header:"X-Actor-Id"`
		RawBody []byte `contentType:"application/json"`
	}) (*struct {
		Body domain.MapRecord `json:"body"`
	}, error) {
		if err := requireBody(input.RawBody); err != nil {
			return nil, err
		}
		rec, err := e.ImportMap(ctx, input.Slug, input.RawBody, input.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.MapRecord `json:"body"`
		}{Body: rec}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "export-map",
		Method:      http.MethodGet,
		Path:        "/maps/{slug}/export",
		Summary:     "Export a map as a dataset file",
	}, func(ctx context.Context, input *struct {
		Slug string `path:"slug"`
	}) (*struct {
		ContentType        string `header:"Content-Type"`
		ContentDisposition string `header:"Content-Disposition"`
		Body               []byte
	}, error) {
		data, err := e.ExportMap(ctx, input.Slug)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			ContentType        string `header:"Content-Type"`
			ContentDisposition string `header:"Content-Disposition"`
			Body               []byte
		}{
			ContentType:        "application/json",
			ContentDisposition: `attachment; filename="` + repo.NormalizeSlug(input.Slug) + `.json"`,
			Body:               data,
		}, nil
	})
}

func registerVersions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-versions",
		Method:      http.MethodGet,
		Path:        "/maps/{slug}/versions",
		Summary:     "List map versions",
	}, func(ctx context.Context, input *struct {
		Slug string `path:"slug"`
	}) (*struct {
		Body []domain.MapVersion `json:"body"`
	}, error) {
		items, err := e.ListVersions(ctx, input.Slug)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.MapVersion `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-version",
		Method:      http.MethodGet,
		Path:        "/maps/{slug}/versions/{version}",
		Summary:     "Get a map version",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Slug    string `path:"slug"`
		Version int    `path:"version" minimum:"1"`
	}) (*struct {
		Body domain.MapVersion `json:"body"`
	}, error) {
		v, err := e.GetVersion(ctx, input.Slug, input.Version)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.MapVersion `json:"body"`
		}{Body: v}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "restore-version",
		Method:      http.MethodPost,
		Path:        "/maps/{slug}/versions/{version}/restore",
		Summary:     "Restore a map version",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Slug    string `path:"slug"`
		Version int    `path:"version" minimum:"1"`
		ActorID string `header:"X-Actor-Id"`
	}) (*struct {
		Body domain.MapRecord `json:"body"`
	}, error) {
		rec, err := e.RestoreVersion(ctx, input.Slug, input.Version, input.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.MapRecord `json:"body"`
		}{Body: rec}, nil
	})
}

func registerView(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-view",
		Method:      http.MethodGet,
		Path:        "/maps/{slug}/view",
		Summary:     "Derived journey view",
		Description: "Stages resolved, moments filtered, sorted and grouped per stage, with optional KPI heat scores.",
	}, func(ctx context.Context, input *struct {
		Slug    string `path:"slug"`
		Query   string `query:"q" doc:"Case-insensitive text search"`
		Layers  string `query:"layers" doc:"Comma separated visible layers; empty disables layer filtering"`
		DPLevel string `query:"dp_level" enum:"all,tactical,integrated" default:"all"`
		Heatmap bool   `query:"heatmap"`
		Kpi     string `query:"kpi"`
	}) (*struct {
		Body journey.View `json:"body"`
	}, error) {
		opts := journey.ViewOptions{
			Filter: journey.FilterOptions{
				Query:           input.Query,
				LayerVisibility: layerVisibility(input.Layers),
				DPLevel:         input.DPLevel,
			},
			Heatmap: input.Heatmap,
			KpiKey:  input.Kpi,
		}
		v, err := e.View(ctx, input.Slug, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body journey.View `json:"body"`
		}{Body: v}, nil
	})
}

func registerStages(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-stages",
		Method:      http.MethodGet,
		Path:        "/maps/{slug}/stages",
		Summary:     "Resolved stages",
	}, func(ctx context.Context, input *struct {
		Slug string `path:"slug"`
	}) (*struct {
		Body []domain.Stage `json:"body"`
	}, error) {
		stages, err := e.Stages(ctx, input.Slug)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Stage `json:"body"`
		}{Body: stages}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "put-stages",
		Method:      http.MethodPut,
		Path:        "/maps/{slug}/stages",
		Summary:     "Replace stages",
		Description: "Body `{stages: [...], deleted: [{key, reassignTo}]}`. Stages are renumbered by position.",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Slug    string `path:"slug"`
		ActorID string `header:"X-Actor-Id"`
		RawBody []byte `contentType:"application/json"`
	}) (*struct {
		Body []domain.Stage `json:"body"`
	}, error) {
		if err := requireBody(input.RawBody); err != nil {
			return nil, err
		}
		var req StagesRequest
		if err := json.Unmarshal(input.RawBody, &req); err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid stages body", map[string]any{"error": err.Error()})
		}
		stages, err := e.SaveStages(ctx, input.Slug, req.Stages, req.Deleted, input.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Stage `json:"body"`
		}{Body: stages}, nil
	})
}

func registerMoments(api huma.API, e engine.Engine) {
	type momentResponse struct {
		Body domain.Moment `json:"body"`
	}
	upsert := func(ctx context.Context, slug, id, actor string, raw []byte) (*momentResponse, error) {
		if err := requireBody(raw); err != nil {
			return nil, err
		}
		var m domain.Moment
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid moment body", map[string]any{"error": err.Error()})
		}
		if id != "" {
			m.ID = id
		}
		saved, err := e.UpsertMoment(ctx, slug, m, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &momentResponse{Body: saved}, nil
	}

	huma.Register(api, huma.Operation{
		OperationID:   "create-moment",
		Method:        http.MethodPost,
		Path:          "/maps/{slug}/moments",
		Summary:       "Add a moment",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Slug    string `path:"slug"`
		ActorID string `header:"X-Actor-Id"`
		RawBody []byte `contentType:"application/json"`
	}) (*momentResponse, error) {
		return upsert(ctx, input.Slug, "", input.ActorID, input.RawBody)
	})

	huma.Register(api, huma.Operation{
		OperationID: "put-moment",
		Method:      http.MethodPut,
		Path:        "/maps/{slug}/moments/{id}",
		Summary:     "Replace a moment",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Slug    string `path:"slug"`
		ID      string `path:"id"`
		ActorID string `header:"X-Actor-Id"`
		RawBody []byte `contentType:"application/json"`
	}) (*momentResponse, error) {
		return upsert(ctx, input.Slug, input.ID, input.ActorID, input.RawBody)
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-moment",
		Method:        http.MethodDelete,
		Path:          "/maps/{slug}/moments/{id}",
		Summary:       "Delete a moment and its comments",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Slug    string `path:"slug"`
		ID      string `path:"id"`
		ActorID string `header:"X-Actor-Id"`
	}) (*struct{}, error) {
		if err := e.DeleteMoment(ctx, input.Slug, input.ID, input.ActorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "move-moment",
		Method:      http.MethodPost,
		Path:        "/maps/{slug}/moments/{id}/move",
		Summary:     "Move a moment to another column",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Slug    string `path:"slug"`
		ID      string `path:"id"`
		ActorID string `header:"X-Actor-Id"`
		Body    MoveMomentRequest
	}) (*momentResponse, error) {
		m, err := e.MoveMoment(ctx, input.Slug, input.ID, input.Body.Column, input.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &momentResponse{Body: m}, nil
	})
}

func registerComments(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-comments",
		Method:      http.MethodGet,
		Path:        "/maps/{slug}/moments/{id}/comments",
		Summary:     "List a moment's comments",
	}, func(ctx context.Context, input *struct {
		Slug string `path:"slug"`
		ID   string `path:"id"`
	}) (*struct {
		Body CommentsResponse `json:"body"`
	}, error) {
		items, err := e.Comments(ctx, input.Slug, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CommentsResponse `json:"body"`
		}{Body: CommentsResponse{MomentID: input.ID, Comments: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-comment",
		Method:        http.MethodPost,
		Path:          "/maps/{slug}/moments/{id}/comments",
		Summary:       "Comment on a moment",
		Description:   "The author is taken from X-Actor-Id, or anonymous.",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Slug    string `path:"slug"`
		ID      string `path:"id"`
		ActorID string `header:"X-Actor-Id"`
		Body    AddCommentRequest
	}) (*struct {
		Body domain.Comment `json:"body"`
	}, error) {
		c, err := e.AddComment(ctx, input.Slug, input.ID, input.Body.Text, input.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Comment `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-comment",
		Method:        http.MethodDelete,
		Path:          "/maps/{slug}/moments/{id}/comments/{comment_id}",
		Summary:       "Delete a comment",
		DefaultStatus: http.StatusNoContent,
	}, func(ctx context.Context, input *struct {
		Slug      string `path:"slug"`
		ID        string `path:"id"`
		CommentID string `path:"comment_id"`
		ActorID   string `header:"X-Actor-Id"`
	}) (*struct{}, error) {
		if err := e.DeleteComment(ctx, input.Slug, input.ID, input.CommentID, input.ActorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerKpis(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-kpis",
		Method:      http.MethodGet,
		Path:        "/maps/{slug}/kpis",
		Summary:     "KPI keys, observed ranges and scoring config",
	}, func(ctx context.Context, input *struct {
		Slug string `path:"slug"`
	}) (*struct {
		Body engine.KpiSummary `json:"body"`
	}, error) {
		sum, err := e.KpiSummary(ctx, input.Slug)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.KpiSummary `json:"body"`
		}{Body: sum}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "put-kpi-config",
		Method:      http.MethodPut,
		Path:        "/maps/{slug}/kpis/config",
		Summary:     "Replace KPI scoring config",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Slug    string `path:"slug"`
		ActorID string `header:"X-Actor-Id"`
		Body    map[string]domain.KpiConfig
	}) (*struct {
		Body map[string]domain.KpiConfig `json:"body"`
	}, error) {
		cfg, err := e.SetKpiConfig(ctx, input.Slug, input.Body, input.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]domain.KpiConfig `json:"body"`
		}{Body: cfg}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "infer-kpi-config",
		Method:      http.MethodPost,
		Path:        "/maps/{slug}/kpis/infer",
		Summary:     "Infer KPI min/max from the moments",
		Description: "Keeps each key's direction. With apply=true the inferred config is saved.",
	}, func(ctx context.Context, input *struct {
		Slug    string `path:"slug"`
		Apply   bool   `query:"apply"`
		ActorID string `header:"X-Actor-Id"`
	}) (*struct {
		Body map[string]domain.KpiConfig `json:"body"`
	}, error) {
		cfg, err := e.InferKpiConfig(ctx, input.Slug, input.Apply, input.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]domain.KpiConfig `json:"body"`
		}{Body: cfg}, nil
	})
}
