package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/ui-studio/internal/common"
	"github.com/suPer8Hu/ui-studio/internal/httpapi/middleware"
	"github.com/suPer8Hu/ui-studio/internal/session"
)

type Handler struct {
	Sessions *session.Service
	// Jobs is nil when no queue is configured; the job endpoints then answer 503.
	Jobs     *session.JobRunner
}

func NewHandler(sessions *session.Service, jobs *session.JobRunner) *Handler {
	return &Handler{Sessions: sessions, Jobs: jobs}
}

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"pong": true})
}

func userIDFromContext(c *gin.Context) (uint64, bool) {
	v, ok := c.Get(middleware.UserIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(uint64)
	return id, ok
}

// mustUser writes 401 and returns false when the request carries no owner.
func mustUser(c *gin.Context) (uint64, bool) {
	uid, ok := userIDFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
	}
	return uid, ok
}

// writeError maps the session error kinds onto status codes.
func writeError(c *gin.Context, op string, err error) {
	var genErr *session.GenerationError
	var storeErr *session.StoreError
	switch {
	case errors.Is(err, session.ErrInvalidInput):
		common.Fail(c, http.StatusBadRequest, 40001, err.Error())
	case errors.Is(err, session.ErrNotFound):
		common.Fail(c, http.StatusNotFound, 40401, "session not found")
	case errors.Is(err, session.ErrJobNotFound):
		common.Fail(c, http.StatusNotFound, 40402, "job not found")
	case errors.Is(err, session.ErrStaleSnapshot):
		common.Fail(c, http.StatusConflict, 40901, err.Error())
	case errors.As(err, &genErr):
		common.Fail(c, http.StatusBadGateway, 50201, genErr.Error())
	case errors.As(err, &storeErr):
		slog.Error(op+" failed", "request_id", c.GetString(middleware.RequestIDKey), "error", err)
		common.Fail(c, http.StatusInternalServerError, 50001, "session store error")
	default:
		slog.Error(op+" failed", "request_id", c.GetString(middleware.RequestIDKey), "error", err)
		common.Fail(c, http.StatusInternalServerError, 50000, "internal error")
	}
}
