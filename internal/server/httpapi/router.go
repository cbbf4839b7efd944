package httpapi

import (
	"context"
	"time"

	"github.com/fieldtrace/mediasync/internal/logging"
	"github.com/gin-gonic/gin"
)

// NewRouter builds the gin engine with all routes mounted. Registration,
// login and health are public; everything else requires a device token.
func NewRouter(h *Handler, log logging.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(log))

	router.GET("/healthz", h.healthz)

	v1 := router.Group("/v1")
	v1.POST("/devices/register", h.register)
	v1.POST("/devices/login", h.login)

	authed := v1.Group("")
	authed.Use(h.RequireAuth())
	authed.POST("/uploads/sign", h.signUpload)
	authed.POST("/operations", h.operations)
	authed.POST("/attachments/delete", h.deleteAttachment)

	return router
}

func requestLogger(log logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info(context.Background(), "request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start).String(),
		)
	}
}
