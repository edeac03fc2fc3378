package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mindgrove/companion/internal/checkin"
	"github.com/mindgrove/companion/internal/common"
)

type createCheckinReq struct {
	Mood      int    `json:"mood" binding:"required"`
	Anxiety   int    `json:"anxiety" binding:"required"`
	Sensory   int    `json:"sensory" binding:"required"`
	Executive int    `json:"executive" binding:"required"`
	Energy    int    `json:"energy" binding:"required"`
	Notes     string `json:"notes"`
}

func (h *Handler) CreateCheckin(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	var req createCheckinReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	ck := &checkin.Checkin{
		UserID:    uid,
		Mood:      req.Mood,
		Anxiety:   req.Anxiety,
		Sensory:   req.Sensory,
		Executive: req.Executive,
		Energy:    req.Energy,
		Notes:     req.Notes,
	}
	if !ck.Valid() {
		common.Fail(c, http.StatusBadRequest, 10004, "scores must be between 1 and 10")
		return
	}

	if err := h.CheckinRepo.Create(c.Request.Context(), ck); err != nil {
		h.Log.Errorw("create checkin failed", "user_id", uid, "err", err)
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}

	common.OK(c, ck)
}

func (h *Handler) ListCheckins(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	limit, _ := strconv.Atoi(c.Query("limit"))
	checkins, err := h.CheckinRepo.ListRecent(c.Request.Context(), uid, limit)
	if err != nil {
		h.Log.Errorw("list checkins failed", "user_id", uid, "err", err)
		common.Fail(c, http.StatusInternalServerError, 50002, "failed to list check-ins")
		return
	}

	common.OK(c, gin.H{"checkins": checkins})
}
