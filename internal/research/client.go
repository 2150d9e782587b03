// Package research calls the n8n-compatible webhooks that find and
// synthesise personas. Responses are passed through without interpretation.
package research

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"contour/internal/config"
	"contour/internal/domain"
)

const maxResponseBytes = 4 << 20

var (
	// ErrNotConfigured is returned when the webhook for an operation has no URL.
	ErrNotConfigured = errors.New("research webhook not configured")
	// ErrUnavailable is returned while the circuit breaker is open.
	ErrUnavailable = errors.New("research webhook unavailable")
)

// UpstreamError is a non-2xx webhook response.
type UpstreamError struct {
	Status  int
	Message string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %d: %s", e.Status, e.Message)
}

type Client struct {
	cfg     config.Research
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	log     *zap.Logger
}

// New builds a client. A nil logger discards logs.
func New(cfg config.Research, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &Client{cfg: cfg, http: &http.Client{Timeout: timeout}, log: log}
	minRequests := cfg.Breaker.MinRequests
	ratio := cfg.Breaker.FailureRatio
	if ratio <= 0 {
		ratio = 0.6
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "research",
		MaxRequests: cfg.Breaker.MaxRequests,
		Interval:    cfg.Breaker.Interval,
		Timeout:     cfg.Breaker.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < minRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= ratio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed", zap.String("breaker", name), zap.Stringer("from", from), zap.Stringer("to", to))
		},
		IsSuccessful: isSuccessful,
	})
	return c
}

// isSuccessful counts only transport failures and 5xx answers against the
// breaker; a rejected request says nothing about upstream health.
func isSuccessful(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return true
	}
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.Status < 500
	}
	return false
}

// State reports the breaker state, for health output.
func (c *Client) State() string {
	return c.breaker.State().String()
}

// CandidateQuery narrows a candidate search.
type CandidateQuery struct {
	Role    string `json:"role,omitempty"`
	Sector  string `json:"sector,omitempty"`
	Geo     string `json:"geo,omitempty"`
	OrgType string `json:"org_type,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

// Candidates asks the webhook for people matching q. Without a configured
// webhook it answers with placeholder candidates so the flow stays usable.
func (c *Client) Candidates(ctx context.Context, q CandidateQuery) (json.RawMessage, error) {
	if !c.configured(c.cfg.CandidatesPath) {
		return json.Marshal(map[string]any{"candidates": MockCandidates(q)})
	}
	return c.post(ctx, c.cfg.CandidatesPath, q)
}

// Generate forwards a persona synthesis request unchanged.
func (c *Client) Generate(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
	if !c.configured(c.cfg.GeneratePath) {
		return nil, ErrNotConfigured
	}
	if len(bytes.TrimSpace(payload)) == 0 {
		payload = json.RawMessage(`{}`)
	}
	return c.post(ctx, c.cfg.GeneratePath, payload)
}

// Save notifies the save webhook about a stored persona set. It returns
// ErrNotConfigured when there is no such webhook.
func (c *Client) Save(ctx context.Context, payload any) (json.RawMessage, error) {
	if !c.configured(c.cfg.SavePath) {
		return nil, ErrNotConfigured
	}
	return c.post(ctx, c.cfg.SavePath, payload)
}

func (c *Client) configured(path string) bool {
	return c.cfg.BaseURL != "" && path != ""
}

func (c *Client) post(ctx context.Context, path string, body any) (json.RawMessage, error) {
	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.do(ctx, path, body)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err != nil {
		return nil, err
	}
	return out.(json.RawMessage), nil
}

func (c *Client) do(ctx context.Context, path string, body any) (json.RawMessage, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode webhook request: %w", err)
	}
	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/" + strings.TrimLeft(path, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.cfg.AuthHeader != "" {
		req.Header.Set("Authorization", c.cfg.AuthHeader)
	}
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn("research webhook failed", zap.String("path", path), zap.Error(err))
		return nil, fmt.Errorf("call %s: %w", path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", path, err)
	}
	c.log.Debug("research webhook", zap.String("path", path), zap.Int("status", resp.StatusCode), zap.Duration("elapsed", time.Since(start)))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &UpstreamError{Status: resp.StatusCode, Message: upstreamMessage(raw)}
	}
	if !json.Valid(raw) {
		return nil, &UpstreamError{Status: http.StatusBadGateway, Message: "response is not JSON"}
	}
	return json.RawMessage(raw), nil
}

func upstreamMessage(raw []byte) string {
	var body struct {
		Error   any    `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		switch v := body.Error.(type) {
		case string:
			if v != "" {
				return v
			}
		case map[string]any:
			if msg, ok := v["message"].(string); ok && msg != "" {
				return msg
			}
		}
		if body.Message != "" {
			return body.Message
		}
	}
	return "upstream error"
}

// MockCandidates returns placeholder candidates: 20 when no limit is given,
// at most 30.
func MockCandidates(q CandidateQuery) []domain.Candidate {
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 30 {
		limit = 30
	}
	title := q.Role
	if title == "" {
		title = "Role"
	}
	company := "Company"
	if q.Sector != "" {
		company = q.Sector + " Co"
	}
	out := make([]domain.Candidate, limit)
	for i := range out {
		out[i] = domain.Candidate{Name: fmt.Sprintf("Candidate %d", i+1), Title: title, Company: company}
	}
	return out
}
