package http

import (
	"net/http"
	"time"

	"live-quiz-service/internal/app"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// NewRouter wires the REST control surface and the live WebSocket endpoints.
func NewRouter(svc *app.LiveService, logger *zap.Logger) *gin.Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	sessions := NewSessionHandler(svc, logger)
	live := NewWSHandler(svc, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))

	router.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	api := router.Group("/api/sessions")
	{
		api.POST("", sessions.Create)
		api.GET("/:id", sessions.Get)
		api.POST("/:id/:command", sessions.Control)
		api.GET("/:id/results", sessions.Results)
		api.GET("/:id/results.xlsx", sessions.ExportResults)
		api.DELETE("/:id/results", sessions.ClearResults)
	}

	router.GET("/ws/student", live.ServeStudent)
	router.GET("/ws/teacher", live.ServeTeacher)
	return router
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		logger.Info("request",
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
