package domain

import "encoding/json"

const (
	DPLevelTactical   = "tactical"
	DPLevelIntegrated = "integrated"
	DPLevelAll        = "all"
)

// UncategorizedStage is the key and label of the stage that collects moments
// whose stage key does not resolve.
const UncategorizedStage = "Uncategorized"

// Lane is one of the four perspectives a moment's content is grouped by.
type Lane struct {
	Key   string `json:"key"`
	Label string `json:"label"`
}

var Lanes = []Lane{
	{Key: "experience", Label: "Value & Experience"},
	{Key: "ai", Label: "AI & Data"},
	{Key: "behaviour", Label: "Behavioural Adoption"},
	{Key: "governance", Label: "Governance & Risk"},
}

// LayerKeys are the capability layers moments can be tagged with.
var LayerKeys = []string{"service", "experience", "behaviour", "systems", "value", "ai", "governance"}

type Experience struct {
	Personas       StringList `json:"personas"`
	JobsToBeDone   StringList `json:"jobsToBeDone"`
	MomentsOfTruth StringList `json:"momentsOfTruth"`
	Artefacts      StringList `json:"artefacts"`
}

type AI struct {
	Signals     StringList `json:"signals"`
	Models      StringList `json:"models"`
	Automations StringList `json:"automations"`
	Risks       StringList `json:"risks"`
}

type Behaviour struct {
	Barriers   StringList `json:"barriers"`
	Nudges     StringList `json:"nudges"`
	Frameworks StringList `json:"frameworks"`
	Habit      string     `json:"habit"`
}

type Governance struct {
	Checks  StringList `json:"checks"`
	Metrics StringList `json:"metrics"`
}

// Moment is a single touchpoint of a journey, rendered as a card.
type Moment struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	StageKey    string         `json:"stageKey"`
	Stage       string         `json:"stage,omitempty"` // legacy display label; also the key when stageKey was absent
	Column      int            `json:"column,omitempty"` // 0 means unset
	Description string         `json:"description,omitempty"`
	Experience  Experience     `json:"experience"`
	AI          AI             `json:"ai"`
	Behaviour   Behaviour      `json:"behaviour"`
	Governance  Governance     `json:"governance"`
	Layers      []string       `json:"layers"`
	KPIs        map[string]any `json:"kpis"`
	DPLevel     string         `json:"dpLevel" enum:"tactical,integrated"`
	// Comments holds inline comments until Normalize moves them into Dataset.Comments.
	Comments []Comment                 `json:"comments,omitempty"`
	Extra    map[string]json.RawMessage `json:"-"`
}

// ClampedColumn returns the grid column in [1,12]; unset columns render at 1.
func (m Moment) ClampedColumn() int {
	switch {
	case m.Column < 1:
		return 1
	case m.Column > 12:
		return 12
	default:
		return m.Column
	}
}

// Level returns the design-pattern level, defaulting to tactical.
func (m Moment) Level() string {
	if m.DPLevel == "" {
		return DPLevelTactical
	}
	return m.DPLevel
}

type Stage struct {
	Key    string                     `json:"key"`
	Label  string                     `json:"label"`
	Title  string                     `json:"title,omitempty"`
	Order  int                        `json:"order"` // 0 means unset
	Letter string                     `json:"letter,omitempty"`
	Color  string                     `json:"color,omitempty"`
	Extra  map[string]json.RawMessage `json:"-"`
}

// DisplayLabel prefers the label, then the title, then the key.
func (s Stage) DisplayLabel() string {
	switch {
	case s.Label != "":
		return s.Label
	case s.Title != "":
		return s.Title
	default:
		return s.Key
	}
}

type Comment struct {
	ID     string `json:"id"`
	Author string `json:"author"`
	Text   string `json:"text"`
	TS     string `json:"ts" format:"date-time"`
}

// KpiConfig maps a raw KPI value onto a 0..1 score. Nil fields fall back to
// min 0, max 1 and higher-is-better.
type KpiConfig struct {
	Min            *float64 `json:"min,omitempty"`
	Max            *float64 `json:"max,omitempty"`
	HigherIsBetter *bool    `json:"higherIsBetter,omitempty"`
}

// Dataset is the journey-map document. It is treated as an immutable value:
// updates build a new Dataset and share untouched parts with the old one.
type Dataset struct {
	Moments   []Moment                   `json:"moments"`
	Stages    []Stage                    `json:"stages,omitempty"`
	Comments  map[string][]Comment       `json:"comments,omitempty"`
	KpiConfig map[string]KpiConfig       `json:"kpiConfig,omitempty"`
	Extra     map[string]json.RawMessage `json:"-"`
}

type MapRecord struct {
	ID        string  `json:"id"`
	Slug      string  `json:"slug"`
	Data      Dataset `json:"data"`
	CreatedAt string  `json:"created_at,omitempty" format:"date-time"`
	UpdatedAt string  `json:"updated_at,omitempty" format:"date-time"`
	// Version is the snapshot written by the save that returned this record.
	Version int `json:"version,omitempty"`
}

type MapSummary struct {
	ID        string `json:"id"`
	Slug      string `json:"slug"`
	Moments   int    `json:"moments"`
	Versions  int    `json:"versions"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

type MapVersion struct {
	MapID     string   `json:"map_id"`
	Slug      string   `json:"slug"`
	Version   int      `json:"version"`
	Data      *Dataset `json:"data,omitempty"`
	CreatedAt string   `json:"created_at" format:"date-time"`
}

// PersonaSet is a named suite of personas, shown to users as a Team.
type PersonaSet struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Context      string         `json:"context,omitempty"`
	Tags         []string       `json:"tags"`
	Meta         map[string]any `json:"meta,omitempty"`
	CreatedAt    string         `json:"created_at" format:"date-time"`
	PersonaCount int            `json:"persona_count"`
}

type Persona struct {
	ID        string         `json:"id"`
	SetID     string         `json:"set_id"`
	Name      string         `json:"name"`
	Role      string         `json:"role,omitempty"`
	Tags      []string       `json:"tags"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt string         `json:"created_at" format:"date-time"`
}

type Candidate struct {
	Name        string `json:"name"`
	Title       string `json:"title"`
	Company     string `json:"company"`
	LinkedInURL string `json:"linkedin_url"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	MapSlug    string `json:"map_slug,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
