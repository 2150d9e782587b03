package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"contour/internal/domain"
	"contour/internal/events"
	"contour/internal/repo"
	"contour/internal/research"
)

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, repo.ErrNotFound)
}

// PersonaSetInput is the team a batch of personas is saved under.
type PersonaSetInput struct {
	Name    string         `json:"name"`
	Context string         `json:"context,omitempty"`
	Tags    []string       `json:"tags,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
}

// SavePersonasInput carries persona records as produced by the generate
// webhook. Each record is stored whole; name, role and tags are lifted out
// for listing.
type SavePersonasInput struct {
	Set      PersonaSetInput  `json:"set"`
	Personas []map[string]any `json:"personas"`
}

type SavedPersonas struct {
	SetID      string   `json:"set_id"`
	PersonaIDs []string `json:"persona_ids"`
}

// PersonaSetDetail is a set with its personas in creation order.
type PersonaSetDetail struct {
	Set      domain.PersonaSet `json:"set"`
	Personas []domain.Persona  `json:"personas"`
}

// SavePersonas stores a new set and its personas in one transaction, then
// notifies the save webhook when one is configured.
func (e Engine) SavePersonas(ctx context.Context, in SavePersonasInput, actorID string) (SavedPersonas, error) {
	in.Set.Name = strings.TrimSpace(in.Set.Name)
	if in.Set.Name == "" {
		return SavedPersonas{}, invalid("set.name", "is required")
	}
	if in.Personas == nil {
		return SavedPersonas{}, invalid("personas", "is required")
	}
	now := e.now().UTC().Format(time.RFC3339Nano)
	set := domain.PersonaSet{
		ID:        uuid.NewString(),
		Name:      in.Set.Name,
		Context:   in.Set.Context,
		Tags:      in.Set.Tags,
		Meta:      in.Set.Meta,
		CreatedAt: now,
	}
	out := SavedPersonas{SetID: set.ID, PersonaIDs: make([]string, 0, len(in.Personas))}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return SavedPersonas{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertPersonaSetTx(ctx, tx, set); err != nil {
		return SavedPersonas{}, fmt.Errorf("insert persona set: %w", err)
	}
	for i, record := range in.Personas {
		p := PersonaFromRecord(record, i)
		p.ID = uuid.NewString()
		p.SetID = set.ID
		p.CreatedAt = now
		if err := e.Repo.InsertPersonaTx(ctx, tx, p); err != nil {
			return SavedPersonas{}, fmt.Errorf("insert persona %d: %w", i+1, err)
		}
		out.PersonaIDs = append(out.PersonaIDs, p.ID)
	}
	if err := e.Events.Append(ctx, tx, events.Entry{
		Type: events.PersonaSetSaved, EntityKind: "persona_set", EntityID: set.ID, ActorID: actorID,
		Payload: events.Payload{"name": set.Name, "personas": len(out.PersonaIDs)},
	}); err != nil {
		return SavedPersonas{}, err
	}
	if err := tx.Commit(); err != nil {
		return SavedPersonas{}, err
	}
	e.notifySaved(ctx, in, out)
	return out, nil
}

func (e Engine) notifySaved(ctx context.Context, in SavePersonasInput, out SavedPersonas) {
	if e.Research == nil {
		return
	}
	_, err := e.Research.Save(ctx, map[string]any{"set_id": out.SetID, "set": in.Set, "personas": in.Personas})
	if errors.Is(err, research.ErrNotConfigured) {
		return
	}
	e.Metrics.ObserveResearch("save", err)
	if err != nil {
		e.log().Warn("persona save webhook failed", zap.String("set_id", out.SetID), zap.Error(err))
	}
}

// PersonaFromRecord lifts name, role and tags out of a persona record. The
// record itself is kept as the persona data. A record without a name is
// called "Persona N" after its position.
func PersonaFromRecord(record map[string]any, index int) domain.Persona {
	p := domain.Persona{Data: record, Tags: []string{}}
	p.Name = firstString(record, "name", "persona_name", "title")
	if p.Name == "" {
		p.Name = fmt.Sprintf("Persona %d", index+1)
	}
	p.Role = firstString(record, "role", "job_title")
	if raw, ok := record["tags"].([]any); ok {
		for _, t := range raw {
			if s, ok := t.(string); ok && s != "" {
				p.Tags = append(p.Tags, s)
			}
		}
	}
	return p
}

func firstString(record map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := record[k].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func (e Engine) ListPersonaSets(ctx context.Context) ([]domain.PersonaSet, error) {
	return e.Repo.ListPersonaSets(ctx)
}

func (e Engine) GetPersonaSet(ctx context.Context, id string) (PersonaSetDetail, error) {
	set, err := e.Repo.GetPersonaSet(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return PersonaSetDetail{}, notFound("persona set", id)
		}
		return PersonaSetDetail{}, err
	}
	personas, err := e.Repo.ListPersonas(ctx, id)
	if err != nil {
		return PersonaSetDetail{}, err
	}
	return PersonaSetDetail{Set: set, Personas: personas}, nil
}

func (e Engine) GetPersona(ctx context.Context, id string) (domain.Persona, error) {
	p, err := e.Repo.GetPersona(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Persona{}, notFound("persona", id)
	}
	return p, err
}

// DeletePersonaSet removes a set and, by cascade, its personas.
func (e Engine) DeletePersonaSet(ctx context.Context, id, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeletePersonaSetTx(ctx, tx, id); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return notFound("persona set", id)
		}
		return err
	}
	if err := e.Events.Append(ctx, tx, events.Entry{Type: events.PersonaSetDel, EntityKind: "persona_set", EntityID: id, ActorID: actorID}); err != nil {
		return err
	}
	return tx.Commit()
}

// Candidates searches for people to base personas on.
func (e Engine) Candidates(ctx context.Context, q research.CandidateQuery) (json.RawMessage, error) {
	out, err := e.Research.Candidates(ctx, q)
	e.Metrics.ObserveResearch("candidates", err)
	return out, err
}

// GeneratePersonas forwards a synthesis request to the generate webhook.
func (e Engine) GeneratePersonas(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
	out, err := e.Research.Generate(ctx, payload)
	if !errors.Is(err, research.ErrNotConfigured) {
		e.Metrics.ObserveResearch("generate", err)
	}
	return out, err
}

// ResearchState reports the research circuit breaker state.
func (e Engine) ResearchState() string {
	if e.Research == nil {
		return "disabled"
	}
	return e.Research.State()
}
