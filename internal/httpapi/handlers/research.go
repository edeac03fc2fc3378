package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/mindgrove/companion/internal/common"
	"github.com/mindgrove/companion/internal/insight"
)

// EnqueuePatternReduction creates a reduction job for a finished session and
// publishes it. With an Idempotency-Key header, repeat calls return the
// existing job instead of queueing twice.
func (h *Handler) EnqueuePatternReduction(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	sessionID := c.Param("session_id")
	if sessionID == "" {
		common.Fail(c, http.StatusBadRequest, 10002, "session_id required")
		return
	}

	idempoKey := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
	if len(idempoKey) > 128 {
		common.Fail(c, http.StatusBadRequest, 10003, "idempotency key too long")
		return
	}
	var idempoKeyPtr *string
	if idempoKey != "" {
		idempoKeyPtr = &idempoKey
	}

	jobID, err := insight.NewJobID()
	if err != nil {
		h.Log.Errorw("job id generation failed", "err", err)
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}

	j := &insight.ReduceJob{
		ID:             jobID,
		UserID:         uid,
		SessionID:      sessionID,
		IdempotencyKey: idempoKeyPtr,
		Status:         insight.JobQueued,
	}

	j, created, err := h.InsightRepo.CreateJobOrGetExisting(c.Request.Context(), j)
	if err != nil {
		h.Log.Errorw("create reduce job failed", "user_id", uid, "session_id", sessionID, "err", err)
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}

	if created {
		if err := h.Rabbit.PublishReduceJob(c.Request.Context(), j.ID); err != nil {
			h.Log.Errorw("publish reduce job failed", "job_id", j.ID, "err", err)
			common.Fail(c, http.StatusInternalServerError, 50002, "enqueue failed")
			return
		}
	}

	common.OK(c, gin.H{"job_id": j.ID, "status": j.Status})
}

func (h *Handler) GetReduceJob(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	jobID := c.Param("job_id")
	j, err := h.InsightRepo.GetJobByID(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			common.Fail(c, http.StatusNotFound, 40402, "job not found")
			return
		}
		h.Log.Errorw("get job failed", "job_id", jobID, "err", err)
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}
	if j.UserID != uid {
		// hide existence
		common.Fail(c, http.StatusNotFound, 40402, "job not found")
		return
	}

	common.OK(c, j)
}

func (h *Handler) ListPatterns(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	limit, _ := strconv.Atoi(c.Query("limit"))
	patterns, err := h.InsightRepo.ListPatternsDesc(c.Request.Context(), uid, limit)
	if err != nil {
		h.Log.Errorw("list patterns failed", "user_id", uid, "err", err)
		common.Fail(c, http.StatusInternalServerError, 50002, "failed to list patterns")
		return
	}

	common.OK(c, gin.H{"patterns": patterns})
}

// SummarizeSession runs the per-session insight synchronously. It is a
// lighter call than pattern reduction and the app waits on its result.
func (h *Handler) SummarizeSession(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	sessionID := c.Param("session_id")
	in, err := h.Reducer.SummarizeSession(c.Request.Context(), uid, sessionID)
	if err != nil {
		switch {
		case errors.Is(err, common.ErrNotFound):
			common.Fail(c, http.StatusNotFound, 40004, "session not found")
		case errors.Is(err, common.ErrProviderFailure), errors.Is(err, common.ErrMalformedOutput):
			h.Log.Warnw("summarize failed", "user_id", uid, "session_id", sessionID, "err", err)
			common.Fail(c, http.StatusBadGateway, 50201, "could not summarize this session right now")
		default:
			h.Log.Errorw("summarize failed", "user_id", uid, "session_id", sessionID, "err", err)
			common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		}
		return
	}

	common.OK(c, in)
}

func (h *Handler) ListInsights(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	limit, _ := strconv.Atoi(c.Query("limit"))
	insights, err := h.InsightRepo.ListInsightsDesc(c.Request.Context(), uid, limit)
	if err != nil {
		h.Log.Errorw("list insights failed", "user_id", uid, "err", err)
		common.Fail(c, http.StatusInternalServerError, 50002, "failed to list insights")
		return
	}

	common.OK(c, gin.H{"insights": insights})
}

// GetStats is the dashboard's counters card.
func (h *Handler) GetStats(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	ctx := c.Request.Context()
	sessions, err := h.ChatSvc.CountSessions(ctx, uid)
	if err != nil {
		h.Log.Errorw("count sessions failed", "user_id", uid, "err", err)
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}
	patterns, err := h.InsightRepo.CountPatterns(ctx, uid)
	if err != nil {
		h.Log.Errorw("count patterns failed", "user_id", uid, "err", err)
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}
	insights, err := h.InsightRepo.CountInsights(ctx, uid)
	if err != nil {
		h.Log.Errorw("count insights failed", "user_id", uid, "err", err)
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}
	checkins, err := h.CheckinRepo.Count(ctx, uid)
	if err != nil {
		h.Log.Errorw("count checkins failed", "user_id", uid, "err", err)
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}

	common.OK(c, gin.H{
		"sessions": sessions,
		"patterns": patterns,
		"insights": insights,
		"checkins": checkins,
	})
}

// GetCodexReport streams the generated PDF as a download.
func (h *Handler) GetCodexReport(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	doc, err := h.Synth.GenerateCodexReport(c.Request.Context(), uid)
	if err != nil {
		h.Log.Errorw("codex report failed", "user_id", uid, "err", err)
		common.Fail(c, http.StatusInternalServerError, 50001, "could not generate report")
		return
	}

	filename := fmt.Sprintf("neurodivergent-codex-%s.pdf", time.Now().Format("2006-01-02"))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, "application/pdf", doc)
}

// GetBrainInsights returns the three dashboard observation lists. Never
// fails on capability trouble; the payload degrades instead.
func (h *Handler) GetBrainInsights(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	di, err := h.Synth.GenerateDashboardInsights(c.Request.Context(), uid)
	if err != nil {
		h.Log.Errorw("brain insights failed", "user_id", uid, "err", err)
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}

	common.OK(c, di)
}
