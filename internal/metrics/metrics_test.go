package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareLabelsByRoutePattern(t *testing.T) {
	c := New()
	r := chi.NewRouter()
	r.Use(c.Middleware)
	r.Get("/maps/{slug}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	for _, slug := range []string{"a", "b", "c"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/maps/"+slug, nil))
		require.Equal(t, http.StatusTeapot, rec.Code)
	}

	assert.Equal(t, 3.0, testutil.ToFloat64(c.HTTPRequests.WithLabelValues("GET", "/maps/{slug}", "418")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.HTTPRequests))
}

func TestHandlerExposesBusinessCounters(t *testing.T) {
	c := New()
	c.ObserveMapSave("moment")
	c.ObserveComment("add")
	c.ObserveResearch("generate", errors.New("boom"))
	c.ObserveSeed(nil)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	text := string(body)
	assert.Contains(t, text, `contour_map_saves_total{kind="moment"} 1`)
	assert.Contains(t, text, `contour_comment_changes_total{op="add"} 1`)
	assert.Contains(t, text, `contour_research_calls_total{op="generate",outcome="error"} 1`)
	assert.Contains(t, text, `contour_seed_imports_total{outcome="ok"} 1`)
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.ObserveMapSave("map")
		c.ObserveComment("delete")
		c.ObserveResearch("save", nil)
		c.ObserveSeed(nil)
		c.ObserveView(0)
	})
}
