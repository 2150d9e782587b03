package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contour/internal/config"
	"contour/internal/db"
	"contour/internal/domain"
	"contour/internal/engine"
	"contour/internal/metrics"
	"contour/internal/migrate"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	_, err = migrate.Migrate(context.Background(), conn)
	require.NoError(t, err)
	cfg := config.Default()
	e := engine.New(conn, cfg).WithClock(func() time.Time {
		return time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	})
	e.Metrics = metrics.New()
	handler, err := New(Config{Engine: e, BasePath: "/v0", Metrics: e.Metrics})
	require.NoError(t, err)
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader = bytes.NewReader(nil)
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(data, &v), string(data))
	return v
}

const sampleDataset = `{
  "stages": [
    {"key": "aware", "label": "Awareness", "order": 1},
    {"key": "buy", "title": "Purchase", "order": 2}
  ],
  "moments": [
    {"id": "m1", "title": "See an ad", "stageKey": "aware", "column": 3, "layers": ["experience"], "kpis": {"nps": 40},
     "comments": [{"id": "c0", "author": "ana", "text": "seed", "ts": "2025-01-01T00:00:00Z"}]},
    {"id": "m2", "title": "Checkout", "stage": "buy", "column": 20, "layers": ["service"], "kpis": {"nps": 80}, "dpLevel": "integrated"}
  ]
}`

func TestMapLifecycle(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	base := srv.URL + "/v0/maps/Retail"
	actor := map[string]string{"X-Actor-Id": "ana"}

	res, data := doJSON(t, client, http.MethodGet, base, nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	empty := decode[domain.MapRecord](t, data)
	assert.Empty(t, empty.Data.Moments)

	res, data = doJSON(t, client, http.MethodPut, base, sampleDataset, actor)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	saved := decode[domain.MapRecord](t, data)
	assert.Equal(t, "retail", saved.Slug)
	assert.Equal(t, 1, saved.Version)
	require.Len(t, saved.Data.Comments["m1"], 1, "inline comments are hoisted")

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/maps", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	list := decode[[]domain.MapSummary](t, data)
	require.Len(t, list, 1)
	assert.Equal(t, 2, list[0].Moments)

	res, data = doJSON(t, client, http.MethodGet, base+"/export", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, res.Header.Get("Content-Disposition"), "retail.json")
	assert.Contains(t, string(data), `"See an ad"`)

	res, data = doJSON(t, client, http.MethodPost, base+"/moments/m1/move", map[string]any{"column": 5}, actor)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.Equal(t, 5, decode[domain.Moment](t, data).Column)

	res, data = doJSON(t, client, http.MethodGet, base+"/versions", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Len(t, decode[[]domain.MapVersion](t, data), 1, "granular edits do not snapshot")

	res, data = doJSON(t, client, http.MethodPost, base+"/versions/1/restore", nil, actor)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	restored := decode[domain.MapRecord](t, data)
	assert.Equal(t, 2, restored.Version)
	assert.Equal(t, 3, restored.Data.Moments[0].Column)

	res, _ = doJSON(t, client, http.MethodGet, base+"/versions/9", nil, nil)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestViewEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	base := srv.URL + "/v0/maps/default"
	res, data := doJSON(t, client, http.MethodPut, base, sampleDataset, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))

	res, data = doJSON(t, client, http.MethodGet, base+"/view?heatmap=true&kpi=nps", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var view struct {
		Groups []struct {
			Stage   domain.Stage `json:"stage"`
			Moments []struct {
				Column int `json:"column"`
				Heat   *struct {
					OK bool `json:"ok"`
				} `json:"heat"`
				Comments int `json:"comments"`
			} `json:"moments"`
		} `json:"groups"`
		KpiKeys []string `json:"kpi_keys"`
		Total   int      `json:"total"`
		Visible int      `json:"visible"`
	}
	require.NoError(t, json.Unmarshal(data, &view))
	assert.Equal(t, []string{"nps"}, view.KpiKeys)
	assert.Equal(t, 2, view.Visible)
	require.Len(t, view.Groups, 2)
	assert.Equal(t, "aware", view.Groups[0].Stage.Key)
	assert.Equal(t, 1, view.Groups[0].Moments[0].Comments)
	assert.Equal(t, 12, view.Groups[1].Moments[0].Column, "columns are clamped")
	require.NotNil(t, view.Groups[1].Moments[0].Heat)

	res, data = doJSON(t, client, http.MethodGet, base+"/view?layers=service&dp_level=integrated", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	require.NoError(t, json.Unmarshal(data, &view))
	assert.Equal(t, 1, view.Visible)
	assert.Equal(t, 2, view.Total)

	res, _ = doJSON(t, client, http.MethodGet, base+"/view?dp_level=strategic", nil, nil)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestMomentsAndComments(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	base := srv.URL + "/v0/maps/default"

	res, data := doJSON(t, client, http.MethodPost, base+"/moments", map[string]any{"title": "  Browse  ", "stageKey": "aware"}, nil)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	m := decode[domain.Moment](t, data)
	assert.Equal(t, "Browse", m.Title)
	require.NotEmpty(t, m.ID)

	res, data = doJSON(t, client, http.MethodPost, base+"/moments", map[string]any{"title": " "}, nil)
	require.Equal(t, http.StatusBadRequest, res.StatusCode)
	apiErr := decode[apiError](t, data)
	assert.Equal(t, "bad_request", apiErr.Body.Code)
	assert.Equal(t, "title", apiErr.Body.Details["field"])

	comments := base + "/moments/" + m.ID + "/comments"
	res, data = doJSON(t, client, http.MethodPost, comments, map[string]any{"text": "needs copy"}, map[string]string{"X-Actor-Id": "lee"})
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	c := decode[domain.Comment](t, data)
	assert.Equal(t, "lee", c.Author)

	res, data = doJSON(t, client, http.MethodPost, comments, map[string]any{"text": "anon"}, nil)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	assert.Equal(t, "anonymous", decode[domain.Comment](t, data).Author)

	res, data = doJSON(t, client, http.MethodGet, comments, nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Len(t, decode[CommentsResponse](t, data).Comments, 2)

	res, _ = doJSON(t, client, http.MethodDelete, comments+"/"+c.ID, nil, nil)
	assert.Equal(t, http.StatusNoContent, res.StatusCode)
	res, _ = doJSON(t, client, http.MethodDelete, comments+"/missing", nil, nil)
	assert.Equal(t, http.StatusNoContent, res.StatusCode, "deleting an unknown comment is a no-op")

	res, _ = doJSON(t, client, http.MethodPost, base+"/moments/nope/comments", map[string]any{"text": "x"}, nil)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)

	res, _ = doJSON(t, client, http.MethodDelete, base+"/moments/"+m.ID, nil, nil)
	assert.Equal(t, http.StatusNoContent, res.StatusCode)
	res, data = doJSON(t, client, http.MethodDelete, base+"/moments/"+m.ID, nil, nil)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	assert.Equal(t, "not_found", decode[apiError](t, data).Body.Code)
}

func TestStagesAndKpis(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	base := srv.URL + "/v0/maps/default"
	res, data := doJSON(t, client, http.MethodPut, base, sampleDataset, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))

	res, data = doJSON(t, client, http.MethodPut, base+"/stages", map[string]any{
		"stages":  []map[string]any{{"key": "aware", "label": "Discover"}},
		"deleted": []map[string]any{{"key": "buy", "reassignTo": "aware"}},
	}, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	stages := decode[[]domain.Stage](t, data)
	require.Len(t, stages, 1)
	assert.Equal(t, "Discover", stages[0].Label)

	res, data = doJSON(t, client, http.MethodPut, base+"/kpis/config", map[string]any{
		"nps": map[string]any{"min": 100, "max": 0},
	}, nil)
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))

	res, data = doJSON(t, client, http.MethodPost, base+"/kpis/infer?apply=true", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	inferred := decode[map[string]domain.KpiConfig](t, data)
	require.NotNil(t, inferred["nps"].Min)
	assert.Equal(t, 40.0, *inferred["nps"].Min)

	res, data = doJSON(t, client, http.MethodGet, base+"/kpis", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	sum := decode[engine.KpiSummary](t, data)
	assert.Equal(t, []string{"nps"}, sum.Keys)
	assert.Contains(t, sum.Config, "nps")
}

func TestPersonasAndResearch(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	base := srv.URL + "/v0/personas"

	res, data := doJSON(t, client, http.MethodPost, base+"/sets", map[string]any{
		"set":      map[string]any{"name": "Ops team", "tags": []string{"ops"}},
		"personas": []map[string]any{{"persona_name": "Dana", "job_title": "Planner"}, {"title": "Sam"}},
	}, nil)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	saved := decode[engine.SavedPersonas](t, data)
	require.Len(t, saved.PersonaIDs, 2)

	res, data = doJSON(t, client, http.MethodGet, base+"/sets/"+saved.SetID, nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	detail := decode[engine.PersonaSetDetail](t, data)
	require.Len(t, detail.Personas, 2)
	assert.Equal(t, "Dana", detail.Personas[0].Name)
	assert.Equal(t, "Planner", detail.Personas[0].Role)

	res, data = doJSON(t, client, http.MethodGet, base+"/"+saved.PersonaIDs[1], nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "Sam", decode[domain.Persona](t, data).Name)

	res, _ = doJSON(t, client, http.MethodPost, base+"/sets", map[string]any{"set": map[string]any{"name": ""}, "personas": []any{}}, nil)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	res, data = doJSON(t, client, http.MethodPost, base+"/generate", map[string]any{"count": 2}, nil)
	require.Equal(t, http.StatusNotImplemented, res.StatusCode, string(data))
	assert.Equal(t, "not_configured", decode[apiError](t, data).Body.Code)

	res, _ = doJSON(t, client, http.MethodDelete, base+"/sets/"+saved.SetID, nil, nil)
	assert.Equal(t, http.StatusNoContent, res.StatusCode)
	res, _ = doJSON(t, client, http.MethodGet, base+"/sets/"+saved.SetID, nil, nil)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestPlaybookEndpoints(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	url := srv.URL + "/v0/playbook"

	res, data := doJSON(t, client, http.MethodGet, url, nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	pb := decode[PlaybookResponse](t, data)
	assert.True(t, pb.Default)
	assert.Contains(t, string(pb.Playbook), "sections")

	res, data = doJSON(t, client, http.MethodPut, url, `{"meta":{"title":"Ours"},"sections":[]}`, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	pb = decode[PlaybookResponse](t, data)
	assert.False(t, pb.Default)
	assert.JSONEq(t, `{"meta":{"title":"Ours"},"sections":[]}`, string(pb.Playbook))

	res, _ = doJSON(t, client, http.MethodPut, url, `[1,2]`, nil)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	res, _ = doJSON(t, client, http.MethodDelete, url, nil, nil)
	assert.Equal(t, http.StatusNoContent, res.StatusCode)
	res, data = doJSON(t, client, http.MethodGet, url, nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.True(t, decode[PlaybookResponse](t, data).Default)
}

func TestEventsPaging(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	base := srv.URL + "/v0/maps/default"
	for i := 0; i < 3; i++ {
		res, data := doJSON(t, client, http.MethodPost, base+"/moments", map[string]any{"title": "m"}, map[string]string{"X-Actor-Id": "ana"})
		require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	}

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/events?limit=2&type=moment.saved", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	page := decode[paginatedEvents](t, data)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "ana", page.Items[0].ActorID)
	assert.Equal(t, "default", page.Items[0].MapSlug)
	require.NotEmpty(t, page.NextCursor)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/events?limit=2&type=moment.saved&cursor="+page.NextCursor, nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	page = decode[paginatedEvents](t, data)
	assert.Len(t, page.Items, 1)
	assert.Empty(t, page.NextCursor)

	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/events?cursor=abc", nil, nil)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestHealthMetricsAndDocs(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.JSONEq(t, `{"status":"ok","research":"closed"}`, string(data))

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/openapi.json", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, string(data), `"operationId":"get-view"`)
	assert.Contains(t, string(data), `"default"`)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/docs", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, string(data), "/v0/openapi.json")

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/metrics", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, string(data), "contour_http_requests_total")
	assert.Contains(t, string(data), `route="/v0/health"`)
}
