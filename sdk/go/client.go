package contoursdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal Contour HTTP API client.
type Client struct {
	BaseURL string
	// Map is the slug used by map-scoped calls.
	Map string
	// ActorID is sent as X-Actor-Id and names the author of changes.
	ActorID    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, mapSlug string) *Client {
	return &Client{
		BaseURL: baseURL,
		Map:     mapSlug,
		Timeout: 10 * time.Second,
	}
}

// Moment is the API moment model (partial). Unknown fields are dropped.
type Moment struct {
	ID       string         `json:"id,omitempty"`
	Title    string         `json:"title"`
	StageKey string         `json:"stageKey,omitempty"`
	Column   int            `json:"column,omitempty"`
	Layers   []string       `json:"layers,omitempty"`
	KPIs     map[string]any `json:"kpis,omitempty"`
	DPLevel  string         `json:"dpLevel,omitempty"`
}

type Stage struct {
	Key   string `json:"key"`
	Label string `json:"label"`
	Order int    `json:"order"`
}

type Comment struct {
	ID     string `json:"id"`
	Author string `json:"author"`
	Text   string `json:"text"`
	TS     string `json:"ts"`
}

// Map is a stored journey map with its dataset left raw.
type Map struct {
	ID        string          `json:"id"`
	Slug      string          `json:"slug"`
	Data      json.RawMessage `json:"data"`
	UpdatedAt string          `json:"updated_at"`
	Version   int             `json:"version"`
}

type Version struct {
	Slug      string `json:"slug"`
	Version   int    `json:"version"`
	CreatedAt string `json:"created_at"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	MapSlug    string         `json:"map_slug"`
	EntityID   string         `json:"entity_id"`
	EntityKind string         `json:"entity_kind"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// GetMap fetches the current map. A map never saved comes back empty.
func (c *Client) GetMap(ctx context.Context) (Map, error) {
	var resp Map
	err := c.do(ctx, http.MethodGet, c.mapPath(""), nil, &resp)
	return resp, err
}

// PutMap replaces the map with a dataset and returns the stored record.
func (c *Client) PutMap(ctx context.Context, dataset any) (Map, error) {
	var resp Map
	err := c.do(ctx, http.MethodPut, c.mapPath(""), dataset, &resp)
	return resp, err
}

// ListVersions lists snapshots newest first.
func (c *Client) ListVersions(ctx context.Context) ([]Version, error) {
	var resp []Version
	err := c.do(ctx, http.MethodGet, c.mapPath("versions"), nil, &resp)
	return resp, err
}

// RestoreVersion writes an old snapshot as the newest version.
func (c *Client) RestoreVersion(ctx context.Context, version int) (Map, error) {
	var resp Map
	err := c.do(ctx, http.MethodPost, c.mapPath("versions/"+strconv.Itoa(version)+"/restore"), nil, &resp)
	return resp, err
}

// Stages returns the resolved stages.
func (c *Client) Stages(ctx context.Context) ([]Stage, error) {
	var resp []Stage
	err := c.do(ctx, http.MethodGet, c.mapPath("stages"), nil, &resp)
	return resp, err
}

// CreateMoment adds a moment; the server assigns the id.
func (c *Client) CreateMoment(ctx context.Context, m Moment) (Moment, error) {
	var resp Moment
	err := c.do(ctx, http.MethodPost, c.mapPath("moments"), m, &resp)
	return resp, err
}

// MoveMoment sets a moment's grid column.
func (c *Client) MoveMoment(ctx context.Context, id string, column int) (Moment, error) {
	var resp Moment
	err := c.do(ctx, http.MethodPost, c.mapPath("moments/"+url.PathEscape(id)+"/move"), map[string]any{"column": column}, &resp)
	return resp, err
}

// DeleteMoment removes a moment and its comments.
func (c *Client) DeleteMoment(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, c.mapPath("moments/"+url.PathEscape(id)), nil, nil)
}

// AddComment comments on a moment as ActorID.
func (c *Client) AddComment(ctx context.Context, momentID, text string) (Comment, error) {
	var resp Comment
	err := c.do(ctx, http.MethodPost, c.mapPath("moments/"+url.PathEscape(momentID)+"/comments"), map[string]any{"text": text}, &resp)
	return resp, err
}

// Comments lists a moment's comments oldest first.
func (c *Client) Comments(ctx context.Context, momentID string) ([]Comment, error) {
	var resp struct {
		Comments []Comment `json:"comments"`
	}
	err := c.do(ctx, http.MethodGet, c.mapPath("moments/"+url.PathEscape(momentID)+"/comments"), nil, &resp)
	return resp.Comments, err
}

// DeleteComment removes a comment. Unknown ids are not an error.
func (c *Client) DeleteComment(ctx context.Context, momentID, commentID string) error {
	endpoint := c.mapPath("moments/" + url.PathEscape(momentID) + "/comments/" + url.PathEscape(commentID))
	return c.do(ctx, http.MethodDelete, endpoint, nil, nil)
}

// ListEvents returns a page of events newest first; pass the returned
// NextCursor to continue.
func (c *Client) ListEvents(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	if c.Map != "" {
		q.Set("map", c.Map)
	}
	endpoint := "v0/events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.ActorID != "" {
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code, apiErr.Message = env.Error.Code, env.Error.Message
		}
		return apiErr
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) mapPath(p string) string {
	slug := c.Map
	if slug == "" {
		slug = "default"
	}
	endpoint := "v0/maps/" + url.PathEscape(slug)
	if p = strings.TrimLeft(p, "/"); p != "" {
		endpoint += "/" + p
	}
	return endpoint
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
