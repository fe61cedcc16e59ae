package http

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"persona-runtime/internal/service"
)

// NewRouter arma el router gin con logging estructurado, recovery y las
// rutas del runtime. El chat queda detras del middleware JWT; healthz no.
func NewRouter(pipeline TurnProcessor, jwtService *service.JWTService, logger *zap.Logger) *gin.Engine {
	router := gin.New()
	router.Use(zapLoggerMiddleware(logger), gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	handler := NewChatHandler(pipeline, logger)

	api := router.Group("/v1")
	if jwtService != nil {
		api.Use(JWTMiddleware(jwtService))
	}
	api.POST("/chat", handler.HandleChat)

	return router
}

// zapLoggerMiddleware loguea cada request con latencia y status.
func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}
