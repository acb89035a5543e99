package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/ui-studio/internal/common"
	"github.com/suPer8Hu/ui-studio/internal/session"
)

func (h *Handler) ListSessions(c *gin.Context) {
	uid, ok := mustUser(c)
	if !ok {
		return
	}
	list, err := h.Sessions.ListSessions(c.Request.Context(), uid)
	if err != nil {
		writeError(c, "list sessions", err)
		return
	}
	common.OK(c, gin.H{"sessions": list})
}

func (h *Handler) CreateSession(c *gin.Context) {
	uid, ok := mustUser(c)
	if !ok {
		return
	}
	var req session.CreateInput
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
			return
		}
	}
	sess, err := h.Sessions.CreateSession(c.Request.Context(), uid, req)
	if err != nil {
		writeError(c, "create session", err)
		return
	}
	common.Created(c, sess)
}

func (h *Handler) GetSession(c *gin.Context) {
	uid, ok := mustUser(c)
	if !ok {
		return
	}
	sess, err := h.Sessions.GetSession(c.Request.Context(), uid, c.Param("id"))
	if err != nil {
		writeError(c, "get session", err)
		return
	}
	common.OK(c, sess)
}

func (h *Handler) UpdateSession(c *gin.Context) {
	uid, ok := mustUser(c)
	if !ok {
		return
	}
	var p session.Patch
	if err := c.ShouldBindJSON(&p); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	sess, err := h.Sessions.UpdateSession(c.Request.Context(), uid, c.Param("id"), p)
	if err != nil {
		writeError(c, "update session", err)
		return
	}
	common.OK(c, sess)
}

type chatReq struct {
	Prompt string `json:"prompt" binding:"required"`
}

func (h *Handler) Chat(c *gin.Context) {
	uid, ok := mustUser(c)
	if !ok {
		return
	}
	var req chatReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	sess, err := h.Sessions.Chat(c.Request.Context(), uid, c.Param("id"), req.Prompt)
	if err != nil {
		writeError(c, "chat", err)
		return
	}
	common.OK(c, sess)
}

// DeleteMessage removes one transcript entry. The optional len query parameter is the
// transcript length the client saw; a mismatch answers 409.
func (h *Handler) DeleteMessage(c *gin.Context) {
	uid, ok := mustUser(c)
	if !ok {
		return
	}
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		common.Fail(c, http.StatusBadRequest, 10002, "index must be an integer")
		return
	}
	snapshotLen := 0
	if v := c.Query("len"); v != "" {
		if snapshotLen, err = strconv.Atoi(v); err != nil || snapshotLen < 0 {
			common.Fail(c, http.StatusBadRequest, 10002, "len must be a non-negative integer")
			return
		}
	}
	sess, err := h.Sessions.DeleteMessage(c.Request.Context(), uid, c.Param("id"), index, snapshotLen)
	if err != nil {
		writeError(c, "delete message", err)
		return
	}
	common.OK(c, sess)
}

func (h *Handler) ClearTranscript(c *gin.Context) {
	uid, ok := mustUser(c)
	if !ok {
		return
	}
	sess, err := h.Sessions.ClearTranscript(c.Request.Context(), uid, c.Param("id"))
	if err != nil {
		writeError(c, "clear transcript", err)
		return
	}
	common.OK(c, sess)
}
