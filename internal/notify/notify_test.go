package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"contour/internal/config"
	"contour/internal/domain"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type memSource struct {
	mu     sync.Mutex
	events []domain.Event
}

func (s *memSource) add(typ, payload string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, domain.Event{
		ID:         int64(len(s.events) + 1),
		Type:       typ,
		MapSlug:    "default",
		EntityKind: "map",
		ActorID:    "ana",
		Payload:    payload,
	})
}

func (s *memSource) EventsAfter(_ context.Context, limit int, cursor int64, _ string) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Event
	for _, e := range s.events {
		if e.ID > cursor && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *memSource) LatestEventID(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.events)), nil
}

type recorder struct {
	mu      sync.Mutex
	got     []Delivery
	headers []http.Header
	fail    bool
}

func (r *recorder) handler(w http.ResponseWriter, req *http.Request) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		http.Error(w, "down", http.StatusServiceUnavailable)
		return
	}
	var d Delivery
	_ = json.NewDecoder(req.Body).Decode(&d)
	r.got = append(r.got, d)
	r.headers = append(r.headers, req.Header.Clone())
}

func TestNewSkipsInactiveHooks(t *testing.T) {
	off := false
	assert.Nil(t, New(&memSource{}, nil, 0, nil))
	assert.Nil(t, New(&memSource{}, []config.Hook{{URL: "http://x", Enabled: &off}}, 0, nil))
}

func TestFlushDeliversNewEventsOnly(t *testing.T) {
	src := &memSource{}
	src.add("map.saved", `{"version":1}`)
	rec := &recorder{}
	srv := httptest.NewServer(http.HandlerFunc(rec.handler))
	defer srv.Close()

	d := New(src, []config.Hook{{URL: srv.URL, Secret: "s3"}}, 0, nil)
	require.NotNil(t, d)
	defer d.Close()
	ctx := context.Background()
	d.Flush(ctx)
	assert.Empty(t, rec.got, "events older than the dispatcher are not replayed")

	src.add("comment.added", `{"text":"hi"}`)
	src.add("map.saved", `not json`)
	d.Flush(ctx)
	require.Len(t, rec.got, 2)
	assert.Equal(t, int64(2), rec.got[0].ID)
	assert.JSONEq(t, `{"text":"hi"}`, string(rec.got[0].Payload))
	assert.Equal(t, "not json", rec.got[1].PayloadRaw)
	assert.Equal(t, "comment.added", rec.headers[0].Get("X-Contour-Event"))
	assert.Equal(t, "2", rec.headers[0].Get("X-Contour-Delivery"))
	assert.Equal(t, "s3", rec.headers[0].Get("X-Contour-Secret"))

	d.Flush(ctx)
	assert.Len(t, rec.got, 2)
}

func TestFlushFiltersAndRetries(t *testing.T) {
	src := &memSource{}
	rec := &recorder{fail: true}
	srv := httptest.NewServer(http.HandlerFunc(rec.handler))
	defer srv.Close()

	d := New(src, []config.Hook{{URL: srv.URL, Events: []string{"comment.added"}}}, 0, nil)
	defer d.Close()
	ctx := context.Background()
	d.Flush(ctx)
	src.add("map.saved", "")
	src.add("comment.added", "")
	d.Flush(ctx)
	assert.Empty(t, rec.got)

	rec.mu.Lock()
	rec.fail = false
	rec.mu.Unlock()
	d.Flush(ctx)
	require.Len(t, rec.got, 1)
	assert.Equal(t, "comment.added", rec.got[0].Type)
	assert.JSONEq(t, `{}`, string(rec.got[0].Payload))
}

func TestRunStopsWithContext(t *testing.T) {
	d := New(&memSource{}, []config.Hook{{URL: "http://127.0.0.1:1"}}, 0, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	cancel()
	require.NoError(t, <-done)
}
