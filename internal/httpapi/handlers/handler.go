package handlers

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/mindgrove/companion/internal/ai"
	"github.com/mindgrove/companion/internal/chat"
	"github.com/mindgrove/companion/internal/checkin"
	"github.com/mindgrove/companion/internal/config"
	"github.com/mindgrove/companion/internal/insight"
	"github.com/mindgrove/companion/internal/report"
	"github.com/mindgrove/companion/internal/store/rabbitmq"
	"github.com/mindgrove/companion/internal/store/redisstore"
)

type Handler struct {
	Cfg config.Config
	Log *zap.SugaredLogger

	ChatSvc     *chat.Service
	Reducer     *insight.Reducer
	InsightRepo *insight.Repo
	CheckinRepo *checkin.Repo
	Synth       *report.Synthesizer
	Rabbit      *rabbitmq.Publisher
	Redis       *redisstore.Store
}

func NewHandler(db *gorm.DB, cfg config.Config, rds *redisstore.Store, rabbit *rabbitmq.Publisher, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}

	reg := BuildRegistry(cfg)
	name, model := DefaultProvider(cfg)

	chatRepo := chat.NewRepo(db)
	insightRepo := insight.NewRepo(db)
	checkinRepo := checkin.NewRepo(db)

	return &Handler{
		Cfg:         cfg,
		Log:         log.Sugar(),
		ChatSvc:     chat.NewService(chatRepo, reg, name, model, cfg.ProviderTimeout, log),
		Reducer:     insight.NewReducer(insightRepo, chatRepo, reg, name, model, cfg.ProviderTimeout, log),
		InsightRepo: insightRepo,
		CheckinRepo: checkinRepo,
		Synth: report.NewSynthesizer(chatRepo, insightRepo, checkinRepo,
			reg, name, model, cfg.ProviderTimeout, rds, cfg.InsightsCacheTTL, log),
		Rabbit: rabbit,
		Redis:  rds,
	}
}

// BuildRegistry registers every configured provider so per-request routing
// stays possible even when only one is the default.
func BuildRegistry(cfg config.Config) *ai.Registry {
	reg := ai.NewRegistry()

	reg.Register("openai", func(ctx context.Context, model string) (ai.Provider, error) {
		_ = ctx
		m := strings.TrimSpace(model)
		if m == "" {
			m = cfg.OpenAIModel
		}
		return ai.NewOpenAIProvider(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, m), nil
	})

	reg.Register("openrouter", func(ctx context.Context, model string) (ai.Provider, error) {
		_ = ctx
		m := strings.TrimSpace(model)
		if m == "" {
			m = cfg.OpenRouterModel
		}
		return ai.NewOpenRouterProvider(cfg.OpenRouterBaseURL, cfg.OpenRouterAPIKey, m,
			cfg.OpenRouterSiteURL, cfg.OpenRouterAppName), nil
	})

	reg.Register("ollama", func(ctx context.Context, model string) (ai.Provider, error) {
		_ = ctx
		m := strings.TrimSpace(model)
		if m == "" {
			m = cfg.OllamaModel
		}
		return ai.NewOllamaProvider(cfg.OllamaBaseURL, m), nil
	})

	return reg
}

// DefaultProvider maps AI_PROVIDER to a registry name and its default model.
func DefaultProvider(cfg config.Config) (name, model string) {
	switch strings.ToLower(strings.TrimSpace(cfg.AIProvider)) {
	case "openrouter":
		return "openrouter", cfg.OpenRouterModel
	case "ollama":
		return "ollama", cfg.OllamaModel
	default:
		return "openai", cfg.OpenAIModel
	}
}
