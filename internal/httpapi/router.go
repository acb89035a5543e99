package httpapi

import (
	"net/http"
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/ui-studio/internal/common"
	"github.com/suPer8Hu/ui-studio/internal/config"
	"github.com/suPer8Hu/ui-studio/internal/httpapi/handlers"
	"github.com/suPer8Hu/ui-studio/internal/httpapi/middleware"
)

func corsMiddleware(origins []string) gin.HandlerFunc {
	cc := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:  []string{"Authorization", "Content-Type", "Idempotency-Key", middleware.RequestIDHeader},
		ExposeHeaders: []string{middleware.RequestIDHeader},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || slices.Contains(origins, "*") {
		cc.AllowAllOrigins = true
	} else {
		cc.AllowOrigins = origins
	}
	return cors.New(cc)
}

func NewRouter(cfg config.Config, h *handlers.Handler) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(middleware.Recovery())
	r.Use(corsMiddleware(cfg.CORSAllowOrigins))

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.Use(middleware.RequestID())

	r.GET("/ping", h.Ping)

	authGroup := r.Group("/")
	authGroup.Use(middleware.AuthRequired(cfg.JWTSecret))

	authGroup.GET("/sessions", h.ListSessions)
	authGroup.POST("/sessions", h.CreateSession)
	authGroup.GET("/sessions/:id", h.GetSession)
	authGroup.PUT("/sessions/:id", h.UpdateSession)
	authGroup.POST("/sessions/:id/chat", h.Chat)
	authGroup.DELETE("/sessions/:id/messages", h.ClearTranscript)
	authGroup.DELETE("/sessions/:id/messages/:index", h.DeleteMessage)

	// async turns, run by cmd/worker
	authGroup.POST("/sessions/:id/chat/jobs", h.SubmitChatJob)
	authGroup.GET("/chat/jobs/:job_id", h.GetChatJob)
	return r
}
