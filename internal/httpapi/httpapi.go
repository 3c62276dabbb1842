// Package httpapi is the thin gin read surface over introspect (spec §6
// "Introspection HTTP endpoints"): no mutation endpoints, matching the
// source's own read-only inspection commands.
package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/geocoder89/redisq/internal/introspect"
	"github.com/geocoder89/redisq/internal/observability"
)

func NewRouter(reader *introspect.Reader, prom *observability.Prom) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware("redisq-server"))
	if prom != nil {
		r.Use(prom.GinHandleMiddleware())
	}

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	r.GET("/readyz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	if prom != nil && prom.Registry != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(prom.Registry, promhttp.HandlerOpts{})))
	} else {
		r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	r.GET("/v1/workers", func(c *gin.Context) {
		workers, err := reader.AllWorkers(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, workers)
	})

	r.GET("/v1/functions", func(c *gin.Context) {
		funcs, err := reader.GetJobFuncs(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, funcs)
	})

	r.GET("/v1/jobs", func(c *gin.Context) {
		queue := c.Query("queue")
		if queue == "" {
			queue = "default:queue"
		}
		defs, err := reader.QueuedJobs(c.Request.Context(), queue)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, defs)
	})

	r.GET("/v1/jobs/:id", func(c *gin.Context) {
		id := c.Param("id")
		results, err := reader.AllJobResults(c.Request.Context(), []string{id})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if len(results) == 0 {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
			return
		}
		c.JSON(http.StatusOK, results[0])
	})

	r.GET("/v1/results", func(c *gin.Context) {
		ids := c.QueryArray("id")
		results, err := reader.AllJobResults(c.Request.Context(), ids)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, results)
	})

	return r
}
