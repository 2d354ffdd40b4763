package control

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRouter configures and returns the Gin router with all routes.
// A nil gatherer serves the default Prometheus registry.
func SetupRouter(deps *Dependencies, gatherer prometheus.Gatherer) *gin.Engine {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))

	h := NewHandler(deps)

	// Control protocol
	r.POST("/", h.Command)
	r.GET("/stats", h.Stats)

	r.GET("/health", h.Health)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	v1 := r.Group("/api/v1")
	{
		queues := v1.Group("/queues")
		{
			// GET /api/v1/queues/:queue_id - Settings, status and backlog
			queues.GET("/:queue_id", h.GetQueue)

			// POST /api/v1/queues/:queue_id/events - Enqueue an event
			queues.POST("/:queue_id/events", h.Enqueue)

			// GET /api/v1/queues/:queue_id/events - List events
			queues.GET("/:queue_id/events", h.ListEvents)
		}
	}

	return r
}
