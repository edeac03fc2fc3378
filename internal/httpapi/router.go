package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/mindgrove/companion/internal/common"
	"github.com/mindgrove/companion/internal/config"
	"github.com/mindgrove/companion/internal/httpapi/handlers"
	"github.com/mindgrove/companion/internal/httpapi/middleware"
	"github.com/mindgrove/companion/internal/store/rabbitmq"
	"github.com/mindgrove/companion/internal/store/redisstore"
)

func NewRouter(db *gorm.DB, cfg config.Config, rds *redisstore.Store, rabbit *rabbitmq.Publisher, log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(middleware.Recovery(log))
	r.Use(middleware.RequestID())

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	h := handlers.NewHandler(db, cfg, rds, rabbit, log)

	r.GET("/ping", h.Ping)

	authGroup := r.Group("/")
	authGroup.Use(middleware.AuthRequired(cfg.JWTSecret))

	// Conversation gateway
	authGroup.POST("/chat/sessions", h.StartChatSession)
	authGroup.POST("/chat/messages", h.SendChatMessage)
	authGroup.POST("/chat/sessions/:session_id/end", h.EndChatSession)
	authGroup.GET("/chat/sessions", h.ListChatSessions)
	authGroup.GET("/chat/sessions/:session_id/messages", h.ListChatMessages)
	authGroup.GET("/chat/lastsession", h.GetLastSession)
	authGroup.POST("/chat/lastsession", h.SetLastSession)
	authGroup.GET("/chat/latest-response-id", h.GetLatestResponseID)

	// Daily check-ins
	authGroup.POST("/checkins", h.CreateCheckin)
	authGroup.GET("/checkins", h.ListCheckins)

	// Pattern research and reports
	authGroup.POST("/research/patterns/:session_id", h.EnqueuePatternReduction)
	authGroup.GET("/research/jobs/:job_id", h.GetReduceJob)
	authGroup.GET("/research/patterns", h.ListPatterns)
	authGroup.POST("/research/insights/:session_id", h.SummarizeSession)
	authGroup.GET("/research/insights", h.ListInsights)
	authGroup.GET("/research/stats", h.GetStats)
	authGroup.GET("/research/codex-report", h.GetCodexReport)
	authGroup.GET("/research/brain-insights", h.GetBrainInsights)

	return r
}
