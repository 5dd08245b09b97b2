package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/arkilian/tessera/internal/aggregate"
	"github.com/arkilian/tessera/internal/maintenance"
	"github.com/arkilian/tessera/internal/observability"
	"github.com/arkilian/tessera/internal/table"
)

// Handlers holds the API's collaborators. Checkpointer and stats are
// optional; their routes respond accordingly when absent.
type Handlers struct {
	store        *table.Store
	manager      *maintenance.Manager
	cache        *aggregate.Cache
	checkpointer *table.Checkpointer
	stats        *observability.ScanTracker

	// scanDegree is the configured parallel scan width used when a
	// request does not carry a degree param.
	scanDegree int
}

// NewHandlers creates the API handler set. scanDegree is the configured
// default parallel scan width; zero or negative falls back to
// table.DefaultScanDegree.
func NewHandlers(
	store *table.Store,
	manager *maintenance.Manager,
	cache *aggregate.Cache,
	checkpointer *table.Checkpointer,
	stats *observability.ScanTracker,
	scanDegree int,
) *Handlers {
	return &Handlers{
		store:        store,
		manager:      manager,
		cache:        cache,
		checkpointer: checkpointer,
		stats:        stats,
		scanDegree:   scanDegree,
	}
}

// NewRouter builds the gin engine with all routes registered. The
// gatherer backs the /metrics endpoint.
func NewRouter(h *Handlers, gatherer prometheus.Gatherer) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery(), RequestIDMiddleware())

	v1 := r.Group("/v1")
	{
		v1.POST("/rows", h.handleInsert)
		v1.DELETE("/rows/:id", h.handleDelete)

		v1.GET("/query/range", h.handleRangeQuery)
		v1.GET("/query/aggregate", h.handleAggregateQuery)

		v1.GET("/partitions", h.handlePartitions)
		v1.GET("/stats/scans", h.handleScanStats)

		v1.POST("/maintenance/split", h.handleSplit)
		v1.POST("/maintenance/merge", h.handleMerge)

		v1.POST("/checkpoints", h.handleCheckpoint)
		v1.POST("/checkpoints/:version/restore", h.handleRestore)
	}

	r.GET("/healthz", h.handleHealth)
	if gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	return r
}

// handleHealth handles GET /healthz. A degraded aggregate cache still
// reports healthy; queries fall back to base-store recomputation.
func (h *Handlers) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":             "healthy",
		"table":              h.store.Name(),
		"version":            h.store.Version(),
		"aggregate_degraded": h.cache.Degraded(),
	})
}
