package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/post-scheduler/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	r.GET("/health", healthHandler(deps))

	postHandler := handler.NewPostHandler(deps)
	schedulerHandler := handler.NewSchedulerHandler(deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		posts := v1.Group("/posts")
		{
			// GET /api/v1/posts - List scheduled posts
			posts.GET("", postHandler.ListPosts)

			// GET /api/v1/posts/:post_id - Get post details
			posts.GET("/:post_id", postHandler.GetPost)
		}

		sched := v1.Group("/scheduler")
		{
			// POST /api/v1/scheduler/trigger - Run one tick now
			sched.POST("/trigger", schedulerHandler.TriggerTick)

			// GET /api/v1/scheduler/status - Scheduler state and last tick
			sched.GET("/status", schedulerHandler.GetStatus)
		}
	}

	return r
}

func healthHandler(deps *handler.Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := deps.Health.HealthCheck(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "unhealthy",
				"service": deps.ServiceName,
				"error":   err.Error(),
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": deps.ServiceName,
		})
	}
}
