package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/ui-studio/internal/common"
)

// SubmitChatJob queues a chat turn for the worker. With an Idempotency-Key header a retry
// returns the job created by the first request.
func (h *Handler) SubmitChatJob(c *gin.Context) {
	uid, ok := mustUser(c)
	if !ok {
		return
	}
	if h.Jobs == nil {
		common.Fail(c, http.StatusServiceUnavailable, 50301, "job queue disabled")
		return
	}
	var req chatReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	idempoKey := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
	j, err := h.Jobs.Submit(c.Request.Context(), uid, c.Param("id"), req.Prompt, idempoKey)
	if err != nil {
		writeError(c, "submit chat job", err)
		return
	}
	common.OK(c, gin.H{"job_id": j.ID})
}

func (h *Handler) GetChatJob(c *gin.Context) {
	uid, ok := mustUser(c)
	if !ok {
		return
	}
	if h.Jobs == nil {
		common.Fail(c, http.StatusServiceUnavailable, 50301, "job queue disabled")
		return
	}
	j, err := h.Jobs.Get(c.Request.Context(), uid, c.Param("job_id"))
	if err != nil {
		writeError(c, "get chat job", err)
		return
	}
	common.OK(c, gin.H{"job": j})
}
