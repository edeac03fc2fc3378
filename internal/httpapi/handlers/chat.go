package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mindgrove/companion/internal/chat"
	"github.com/mindgrove/companion/internal/common"
	"github.com/mindgrove/companion/internal/httpapi/middleware"
)

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"status": "up"})
}

func userIDFromContext(c *gin.Context) (uint64, bool) {
	v, ok := c.Get(middleware.UserIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(uint64)
	return id, ok
}

type startSessionReq struct {
	Category string `json:"category"`
}

// StartChatSession resolves the user's active session, creating one when
// none exists. Safe to call repeatedly; concurrent calls land on the same
// session.
func (h *Handler) StartChatSession(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	var req startSessionReq
	_ = c.ShouldBindJSON(&req) // allow empty {}
	if req.Category == "" {
		req.Category = chat.CategoryGeneral
	}

	sess, err := h.ChatSvc.ResolveOrCreateSession(c.Request.Context(), uid, req.Category)
	if err != nil {
		h.Log.Errorw("start session failed", "user_id", uid, "err", err)
		common.Fail(c, http.StatusInternalServerError, 50001, "failed to start session")
		return
	}

	common.OK(c, gin.H{
		"session_id": sess.SessionID,
		"category":   sess.Category,
		"is_active":  sess.IsActive,
		"title":      sess.Title,
	})
}

type sendMessageReq struct {
	SessionID  string `json:"session_id"`
	Message    string `json:"message" binding:"required"`
	Category   string `json:"category"`
	ResponseID string `json:"response_id"`
}

// SendChatMessage is the main conversational turn. A missing session_id
// means "my current session": the gateway resolves or creates one.
func (h *Handler) SendChatMessage(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	var req sendMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if req.Category == "" {
		req.Category = chat.CategoryGeneral
	}

	reply, err := h.ChatSvc.HandleMessage(c.Request.Context(), uid, req.SessionID, req.Message, req.Category, req.ResponseID)
	if err != nil {
		switch {
		case errors.Is(err, common.ErrNotFound):
			common.Fail(c, http.StatusNotFound, 40004, "session not found")
		case errors.Is(err, common.ErrProviderFailure):
			h.Log.Warnw("provider failure on message", "user_id", uid, "err", err)
			common.Fail(c, http.StatusBadGateway, 50201, "could not process your message right now")
		default:
			h.Log.Errorw("send message failed", "user_id", uid, "err", err)
			common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		}
		return
	}

	common.OK(c, reply)
}

// EndChatSession closes the session and releases the active claim. Ending
// an already-ended session succeeds.
func (h *Handler) EndChatSession(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	sessionID := c.Param("session_id")
	if err := h.ChatSvc.EndSession(c.Request.Context(), uid, sessionID); err != nil {
		if errors.Is(err, common.ErrNotFound) {
			common.Fail(c, http.StatusNotFound, 40004, "session not found")
			return
		}
		h.Log.Errorw("end session failed", "user_id", uid, "session_id", sessionID, "err", err)
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}

	common.OK(c, gin.H{"session_id": sessionID, "is_active": false})
}

func (h *Handler) ListChatSessions(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	sessions, err := h.ChatSvc.ListSessions(c.Request.Context(), uid, h.Cfg.SessionListSize)
	if err != nil {
		h.Log.Errorw("list sessions failed", "user_id", uid, "err", err)
		common.Fail(c, http.StatusInternalServerError, 50002, "failed to list sessions")
		return
	}
	total, err := h.ChatSvc.CountSessions(c.Request.Context(), uid)
	if err != nil {
		h.Log.Errorw("count sessions failed", "user_id", uid, "err", err)
		common.Fail(c, http.StatusInternalServerError, 50002, "failed to list sessions")
		return
	}

	common.OK(c, gin.H{"sessions": sessions, "total": total})
}

func (h *Handler) ListChatMessages(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	sessionID := c.Param("session_id")
	turns, err := h.ChatSvc.ListTurns(c.Request.Context(), uid, sessionID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			common.Fail(c, http.StatusNotFound, 40004, "session not found")
			return
		}
		h.Log.Errorw("list messages failed", "user_id", uid, "session_id", sessionID, "err", err)
		common.Fail(c, http.StatusInternalServerError, 50002, "failed to list messages")
		return
	}

	common.OK(c, gin.H{"session_id": sessionID, "messages": turns})
}

// GetLastSession reports which session the user was last looking at and
// whether they were browsing history.
func (h *Handler) GetLastSession(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	lv, err := h.ChatSvc.GetLastViewed(c.Request.Context(), uid)
	if err != nil {
		h.Log.Errorw("get last session failed", "user_id", uid, "err", err)
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}
	if lv == nil {
		common.OK(c, nil)
		return
	}

	common.OK(c, gin.H{"session_id": lv.SessionID, "is_historical": lv.IsHistorical})
}

type setLastSessionReq struct {
	SessionID    string `json:"session_id" binding:"required"`
	IsHistorical bool   `json:"is_historical"`
}

func (h *Handler) SetLastSession(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	var req setLastSessionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	if err := h.ChatSvc.MarkViewingHistory(c.Request.Context(), uid, req.SessionID, req.IsHistorical); err != nil {
		h.Log.Errorw("set last session failed", "user_id", uid, "err", err)
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}

	common.OK(c, gin.H{"session_id": req.SessionID, "is_historical": req.IsHistorical})
}

// GetLatestResponseID lets a client that lost its local state rejoin the
// conversation chain. An empty id just means a fresh context next turn.
func (h *Handler) GetLatestResponseID(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	id, err := h.ChatSvc.LatestResponseID(c.Request.Context(), uid)
	if err != nil {
		h.Log.Errorw("latest response id failed", "user_id", uid, "err", err)
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}

	common.OK(c, gin.H{"response_id": id})
}
