// Package notify forwards audit events to the hooks configured in
// contour.yml. Each hook keeps its own cursor and starts at the newest event
// present when the dispatcher starts.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"contour/internal/config"
	"contour/internal/domain"
)

const (
	DefaultInterval = 2 * time.Second
	defaultTimeout  = 5 * time.Second
	batchSize       = 100
)

// Source is the part of the event log the dispatcher reads.
type Source interface {
	EventsAfter(ctx context.Context, limit int, cursor int64, mapSlug string) ([]domain.Event, error)
	LatestEventID(ctx context.Context) (int64, error)
}

type hookState struct {
	hook    config.Hook
	filter  eventFilter
	client  *http.Client
	cursor  int64
	started bool
}

type Dispatcher struct {
	src      Source
	hooks    []*hookState
	interval time.Duration
	log      *zap.Logger
}

// New returns a dispatcher for the active hooks, or nil when there are none.
func New(src Source, hooks []config.Hook, interval time.Duration, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	d := &Dispatcher{src: src, interval: interval, log: log}
	for _, h := range hooks {
		if !h.Active() || strings.TrimSpace(h.URL) == "" {
			continue
		}
		timeout := h.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		d.hooks = append(d.hooks, &hookState{
			hook:   h,
			filter: newEventFilter(h.Events),
			client: &http.Client{Timeout: timeout},
		})
	}
	if len(d.hooks) == 0 {
		return nil
	}
	return d
}

// Run delivers events until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	defer d.Close()
	for {
		d.Flush(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Close drops idle hook connections.
func (d *Dispatcher) Close() {
	for _, st := range d.hooks {
		st.client.CloseIdleConnections()
	}
}

// Flush delivers every pending event once. A failed delivery stops that
// hook's batch; the event is retried on the next flush.
func (d *Dispatcher) Flush(ctx context.Context) {
	for _, st := range d.hooks {
		if ctx.Err() != nil {
			return
		}
		d.flushHook(ctx, st)
	}
}

func (d *Dispatcher) flushHook(ctx context.Context, st *hookState) {
	log := d.log.With(zap.String("hook", st.hook.URL))
	if !st.started {
		cur, err := d.src.LatestEventID(ctx)
		if err != nil {
			log.Warn("init hook cursor", zap.Error(err))
			return
		}
		st.cursor, st.started = cur, true
	}
	evts, err := d.src.EventsAfter(ctx, batchSize, st.cursor, "")
	if err != nil {
		log.Warn("fetch events", zap.Error(err))
		return
	}
	for _, evt := range evts {
		if st.filter.match(evt.Type) {
			if err := d.post(ctx, st, evt); err != nil {
				log.Warn("deliver event", zap.Int64("event", evt.ID), zap.String("type", evt.Type), zap.Error(err))
				return
			}
			log.Debug("delivered event", zap.Int64("event", evt.ID), zap.String("type", evt.Type))
		}
		st.cursor = evt.ID
	}
}

// Delivery is the JSON body posted to a hook.
type Delivery struct {
	ID         int64           `json:"id"`
	Type       string          `json:"type"`
	MapSlug    string          `json:"map_slug,omitempty"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	ActorID    string          `json:"actor_id"`
	TS         string          `json:"ts"`
	Payload    json.RawMessage `json:"payload"`
	PayloadRaw string          `json:"payload_raw,omitempty"`
}

func (d *Dispatcher) post(ctx context.Context, st *hookState, evt domain.Event) error {
	body := Delivery{
		ID:         evt.ID,
		Type:       evt.Type,
		MapSlug:    evt.MapSlug,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		TS:         evt.TS,
		Payload:    json.RawMessage(`{}`),
	}
	if evt.Payload != "" {
		if json.Valid([]byte(evt.Payload)) {
			body.Payload = json.RawMessage(evt.Payload)
		} else {
			body.PayloadRaw = evt.Payload
		}
	}
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, st.hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Contour-Event", evt.Type)
	req.Header.Set("X-Contour-Delivery", strconv.FormatInt(evt.ID, 10))
	if s := strings.TrimSpace(st.hook.Secret); s != "" {
		req.Header.Set("X-Contour-Secret", s)
	}
	res, err := st.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

type eventFilter map[string]struct{}

// newEventFilter returns nil, matching everything, for an empty list.
func newEventFilter(types []string) eventFilter {
	f := eventFilter{}
	for _, t := range types {
		if t = strings.TrimSpace(t); t != "" {
			f[t] = struct{}{}
		}
	}
	if len(f) == 0 {
		return nil
	}
	return f
}

func (f eventFilter) match(t string) bool {
	if f == nil {
		return true
	}
	_, ok := f[t]
	return ok
}
