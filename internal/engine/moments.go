package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"contour/internal/domain"
	"contour/internal/events"
	"contour/internal/journey"
)

func (e Engine) Stages(ctx context.Context, slug string) ([]domain.Stage, error) {
	rec, err := e.LoadMap(ctx, slug)
	if err != nil {
		return nil, err
	}
	return journey.ResolveStages(&rec.Data), nil
}

// SaveStages replaces the stage list. Each deletion must name a stage that
// is not kept and a replacement that is.
func (e Engine) SaveStages(ctx context.Context, slug string, stages []domain.Stage, deleted []journey.StageDeletion, actorID string) ([]domain.Stage, error) {
	kept := make(map[string]bool, len(stages))
	for i, s := range stages {
		s.Key = strings.TrimSpace(s.Key)
		if s.Key == "" {
			return nil, invalid("stages", "stage %d has no key", i+1)
		}
		if kept[s.Key] {
			return nil, invalid("stages", "duplicate stage key %q", s.Key)
		}
		kept[s.Key] = true
		stages[i] = s
	}
	for _, d := range deleted {
		if kept[d.Key] {
			return nil, invalid("deleted", "stage %q is both kept and deleted", d.Key)
		}
		if d.ReassignTo != "" && !kept[d.ReassignTo] {
			return nil, invalid("deleted", "reassign target %q is not a stage", d.ReassignTo)
		}
	}
	rec, err := e.updateMap(ctx, update{
		slug: slug, actor: actorID, kind: "stages",
		apply: func(ds domain.Dataset) (domain.Dataset, events.Entry, error) {
			next := journey.SaveStages(ds, stages, deleted)
			return next, events.Entry{Type: events.StagesSaved, Payload: events.Payload{"stages": len(stages), "deleted": len(deleted)}}, nil
		},
	})
	if err != nil {
		return nil, err
	}
	return journey.ResolveStages(&rec.Data), nil
}

// UpsertMoment replaces the moment with the same id or appends it. A moment
// without an id gets a new one.
func (e Engine) UpsertMoment(ctx context.Context, slug string, m domain.Moment, actorID string) (domain.Moment, error) {
	m.Title = strings.TrimSpace(m.Title)
	if m.Title == "" {
		return domain.Moment{}, invalid("title", "is required")
	}
	if m.DPLevel != "" && m.DPLevel != domain.DPLevelTactical && m.DPLevel != domain.DPLevelIntegrated {
		return domain.Moment{}, invalid("dpLevel", "must be tactical or integrated")
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	// Comments are edited through AddComment and DeleteComment only.
	m.Comments = nil
	rec, err := e.updateMap(ctx, update{
		slug: slug, actor: actorID, kind: "moment",
		apply: func(ds domain.Dataset) (domain.Dataset, events.Entry, error) {
			_, existed := journey.FindMoment(ds, m.ID)
			next := journey.UpsertMoment(ds, m)
			return next, events.Entry{Type: events.MomentSaved, EntityKind: "moment", EntityID: m.ID,
				Payload: events.Payload{"title": m.Title, "created": !existed}}, nil
		},
	})
	if err != nil {
		return domain.Moment{}, err
	}
	saved, _ := journey.FindMoment(rec.Data, m.ID)
	return saved, nil
}

func (e Engine) DeleteMoment(ctx context.Context, slug, id, actorID string) error {
	_, err := e.updateMap(ctx, update{
		slug: slug, actor: actorID, kind: "moment",
		apply: func(ds domain.Dataset) (domain.Dataset, events.Entry, error) {
			if _, ok := journey.FindMoment(ds, id); !ok {
				return ds, events.Entry{}, notFound("moment", id)
			}
			return journey.DeleteMoment(ds, id), events.Entry{Type: events.MomentDeleted, EntityKind: "moment", EntityID: id}, nil
		},
	})
	return err
}

// MoveMoment sets a moment's grid column, clamped into [1,12].
func (e Engine) MoveMoment(ctx context.Context, slug, id string, column int, actorID string) (domain.Moment, error) {
	rec, err := e.updateMap(ctx, update{
		slug: slug, actor: actorID, kind: "moment",
		apply: func(ds domain.Dataset) (domain.Dataset, events.Entry, error) {
			cur, ok := journey.FindMoment(ds, id)
			if !ok {
				return ds, events.Entry{}, notFound("moment", id)
			}
			next := journey.MoveMoment(ds, id, column)
			moved, _ := journey.FindMoment(next, id)
			return next, events.Entry{Type: events.MomentMoved, EntityKind: "moment", EntityID: id,
				Payload: events.Payload{"from": cur.ClampedColumn(), "to": moved.Column}}, nil
		},
	})
	if err != nil {
		return domain.Moment{}, err
	}
	m, _ := journey.FindMoment(rec.Data, id)
	return m, nil
}

// Comments lists a moment's comments, oldest first.
func (e Engine) Comments(ctx context.Context, slug, momentID string) ([]domain.Comment, error) {
	rec, err := e.LoadMap(ctx, slug)
	if err != nil {
		return nil, err
	}
	out := journey.SortedComments(journey.CommentsMap(rec.Data)[momentID])
	if out == nil {
		out = []domain.Comment{}
	}
	return out, nil
}

// AddComment appends a comment by actorID to an existing moment.
func (e Engine) AddComment(ctx context.Context, slug, momentID, text, actorID string) (domain.Comment, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.Comment{}, invalid("text", "is required")
	}
	now := e.now()
	c := domain.Comment{
		ID:     journey.NewCommentID(momentID, now),
		Author: actorOrAnonymous(actorID),
		Text:   text,
		TS:     now.UTC().Format(time.RFC3339Nano),
	}
	_, err := e.updateMap(ctx, update{
		slug: slug, actor: actorID, kind: "comment",
		apply: func(ds domain.Dataset) (domain.Dataset, events.Entry, error) {
			if _, ok := journey.FindMoment(ds, momentID); !ok {
				return ds, events.Entry{}, notFound("moment", momentID)
			}
			base := c.ID
			for n := 2; hasComment(ds, momentID, c.ID); n++ {
				c.ID = fmt.Sprintf("%s-%d", base, n)
			}
			return journey.AddComment(ds, momentID, c), events.Entry{Type: events.CommentAdded, EntityKind: "comment", EntityID: c.ID,
				Payload: events.Payload{"moment_id": momentID}}, nil
		},
	})
	if err != nil {
		return domain.Comment{}, err
	}
	e.Metrics.ObserveComment("add")
	return c, nil
}

// DeleteComment removes a comment. Deleting an unknown comment succeeds
// without writing anything.
func (e Engine) DeleteComment(ctx context.Context, slug, momentID, commentID, actorID string) error {
	removed := false
	_, err := e.updateMap(ctx, update{
		slug: slug, actor: actorID, kind: "comment",
		apply: func(ds domain.Dataset) (domain.Dataset, events.Entry, error) {
			if !hasComment(ds, momentID, commentID) {
				return ds, events.Entry{}, errUnchanged
			}
			removed = true
			return journey.DeleteComment(ds, momentID, commentID), events.Entry{Type: events.CommentDeleted, EntityKind: "comment", EntityID: commentID,
				Payload: events.Payload{"moment_id": momentID}}, nil
		},
	})
	if err == nil && removed {
		e.Metrics.ObserveComment("delete")
	}
	return err
}

func hasComment(ds domain.Dataset, momentID, commentID string) bool {
	for _, c := range journey.CommentsMap(ds)[momentID] {
		if c.ID == commentID {
			return true
		}
	}
	return false
}

// KpiSummary lists the KPI keys of a map with their observed ranges and
// configured scoring.
type KpiSummary struct {
	Keys    []string                    `json:"keys"`
	Domains map[string]journey.Domain   `json:"domains"`
	Config  map[string]domain.KpiConfig `json:"config"`
}

func (e Engine) KpiSummary(ctx context.Context, slug string) (KpiSummary, error) {
	rec, err := e.LoadMap(ctx, slug)
	if err != nil {
		return KpiSummary{}, err
	}
	cfg := rec.Data.KpiConfig
	if cfg == nil {
		cfg = map[string]domain.KpiConfig{}
	}
	return KpiSummary{
		Keys:    journey.CollectKpiKeys(rec.Data.Moments),
		Domains: journey.InferDomains(rec.Data.Moments),
		Config:  cfg,
	}, nil
}

func (e Engine) SetKpiConfig(ctx context.Context, slug string, cfg map[string]domain.KpiConfig, actorID string) (map[string]domain.KpiConfig, error) {
	for key, c := range cfg {
		if strings.TrimSpace(key) == "" {
			return nil, invalid("kpiConfig", "empty KPI key")
		}
		if c.Min != nil && c.Max != nil && *c.Min > *c.Max {
			return nil, invalid("kpiConfig", "%s: min is greater than max", key)
		}
	}
	if cfg == nil {
		cfg = map[string]domain.KpiConfig{}
	}
	rec, err := e.updateMap(ctx, update{
		slug: slug, actor: actorID, kind: "kpi_config",
		apply: func(ds domain.Dataset) (domain.Dataset, events.Entry, error) {
			return journey.SetKpiConfig(ds, cfg), events.Entry{Type: events.KpiConfigSaved, Payload: events.Payload{"keys": len(cfg)}}, nil
		},
	})
	if err != nil {
		return nil, err
	}
	return rec.Data.KpiConfig, nil
}

// InferKpiConfig fills min/max from the observed KPI values, keeping each
// key's direction. With apply set the result is saved.
func (e Engine) InferKpiConfig(ctx context.Context, slug string, apply bool, actorID string) (map[string]domain.KpiConfig, error) {
	rec, err := e.LoadMap(ctx, slug)
	if err != nil {
		return nil, err
	}
	inferred := journey.InferConfig(rec.Data.Moments, rec.Data.KpiConfig)
	if !apply {
		return inferred, nil
	}
	return e.SetKpiConfig(ctx, slug, inferred, actorID)
}
