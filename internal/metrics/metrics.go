// Package metrics holds the Prometheus collectors of the service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "contour"

// Collector owns a private registry so several servers (tests) can coexist
// in one process.
type Collector struct {
	registry *prometheus.Registry

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	MapSaves        *prometheus.CounterVec
	CommentChanges  *prometheus.CounterVec
	ResearchCalls   *prometheus.CounterVec
	SeedImports     *prometheus.CounterVec
	ViewComputeTime prometheus.Histogram
}

func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method and route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		MapSaves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "map_saves_total",
			Help:      "Map document writes by kind of change.",
		}, []string{"kind"}),
		CommentChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "comment_changes_total",
			Help:      "Comments added and deleted.",
		}, []string{"op"}),
		ResearchCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "research_calls_total",
			Help:      "Persona research webhook calls by operation and outcome.",
		}, []string{"op", "outcome"}),
		SeedImports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "seed_imports_total",
			Help:      "Seed file imports by outcome.",
		}, []string{"outcome"}),
		ViewComputeTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "view_compute_seconds",
			Help:      "Time to derive a journey view.",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1},
		}),
	}
	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.HTTPRequests, c.HTTPDuration,
		c.MapSaves, c.CommentChanges, c.ResearchCalls, c.SeedImports, c.ViewComputeTime,
	)
	return c
}

func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		Registry:          c.registry,
		EnableOpenMetrics: true,
	})
}

// Middleware records request counts and latency labelled by chi route pattern,
// so path parameters do not explode label cardinality.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		c.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		c.HTTPDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// The Observe helpers accept a nil collector so the engine runs without one.

func (c *Collector) ObserveMapSave(kind string) {
	if c == nil {
		return
	}
	c.MapSaves.WithLabelValues(kind).Inc()
}

func (c *Collector) ObserveComment(op string) {
	if c == nil {
		return
	}
	c.CommentChanges.WithLabelValues(op).Inc()
}

func (c *Collector) ObserveResearch(op string, err error) {
	if c == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.ResearchCalls.WithLabelValues(op, outcome).Inc()
}

func (c *Collector) ObserveSeed(err error) {
	if c == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.SeedImports.WithLabelValues(outcome).Inc()
}

func (c *Collector) ObserveView(d time.Duration) {
	if c == nil {
		return
	}
	c.ViewComputeTime.Observe(d.Seconds())
}
