package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"

	"github.com/mindgrove/companion/internal/ai"
	"github.com/mindgrove/companion/internal/common"
)

// companionInstructions frames every conversational call. The continuation
// state carries the actual per-user context; this only sets the register.
const companionInstructions = "You are a supportive companion for ADHD and autistic minds. " +
	"Help the user work with their brain, not against it. Use plain, non-pathologizing " +
	"language, keep continuity with earlier parts of the conversation, and suggest " +
	"concrete, low-pressure next steps."

const titlePrompt = "Create a short, meaningful title for a chat session based on this assistant " +
	"reply. 3 to 4 words max, reflecting the main topic or emotional tone. Respond only with " +
	"the title, no quotation marks or punctuation.\n\nAssistant: %s"

type Service struct {
	repo            *Repo
	registry        *ai.Registry
	providerName    string
	providerModel   string
	providerTimeout time.Duration
	log             *zap.SugaredLogger

	// collapses concurrent first-message session creation per user in this
	// process; the active_sessions claim stays authoritative across processes
	group singleflight.Group
}

func NewService(repo *Repo, registry *ai.Registry, providerName, providerModel string, providerTimeout time.Duration, log *zap.Logger) *Service {
	if providerTimeout <= 0 {
		providerTimeout = 60 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		repo:            repo,
		registry:        registry,
		providerName:    providerName,
		providerModel:   providerModel,
		providerTimeout: providerTimeout,
		log:             log.Sugar(),
	}
}

// Reply is what the gateway hands back to the UI. ResponseID must be echoed
// on the next call; the server-stored pointer covers clients that lose it.
type Reply struct {
	SessionID  string `json:"session_id"`
	Text       string `json:"message"`
	ResponseID string `json:"response_id"`
}

// ResolveOrCreateSession returns the user's current active session, creating
// one when none exists. Concurrent calls for a user with no session settle on
// exactly one winner.
func (s *Service) ResolveOrCreateSession(ctx context.Context, userID uint64, category string) (*Session, error) {
	if !ValidCategory(category) {
		category = CategoryGeneral
	}

	v, err, _ := s.group.Do(fmt.Sprintf("resolve:%d", userID), func() (any, error) {
		claimed, err := s.repo.ActiveSessionID(ctx, userID)
		if err != nil {
			return nil, err
		}
		if claimed != "" {
			sess, err := s.repo.GetSessionBySessionID(ctx, claimed)
			if err == nil && sess.UserID == userID && sess.IsActive {
				return sess, nil
			}
			if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, err
			}
			// stale claim left by an ended or missing session
			if relErr := s.repo.ReleaseActiveSession(ctx, userID, claimed); relErr != nil {
				return nil, relErr
			}
		}

		sid, err := NewSessionID()
		if err != nil {
			return nil, err
		}
		sess, created, err := s.repo.CreateSessionIfNoneActive(ctx, &Session{
			SessionID: sid,
			UserID:    userID,
			Category:  category,
			IsActive:  true,
		})
		if err != nil {
			return nil, err
		}
		if created {
			if err := s.repo.UpsertLastViewed(ctx, userID, sess.SessionID, false); err != nil {
				s.log.Warnw("last-viewed upsert failed", "user", userID, "err", err)
			}
		}
		return sess, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

// EndSession marks a session inactive and releases its claim. Ending an
// already-ended session succeeds silently; only an unknown id is an error.
func (s *Service) EndSession(ctx context.Context, userID uint64, sessionID string) error {
	sess, err := s.repo.GetSessionBySessionID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return common.ErrNotFound
		}
		return err
	}
	if sess.UserID != userID {
		return common.ErrNotFound
	}
	if sess.IsActive {
		if err := s.repo.DeactivateSession(ctx, sessionID); err != nil {
			return err
		}
	}
	return s.repo.ReleaseActiveSession(ctx, userID, sessionID)
}

// MarkViewingHistory upserts the per-user last-viewed record. Viewing a
// historical session never touches that session's own active flag.
func (s *Service) MarkViewingHistory(ctx context.Context, userID uint64, sessionID string, isHistorical bool) error {
	return s.repo.UpsertLastViewed(ctx, userID, sessionID, isHistorical)
}

func (s *Service) GetLastViewed(ctx context.Context, userID uint64) (*LastViewed, error) {
	return s.repo.GetLastViewed(ctx, userID)
}

func (s *Service) GetToken(ctx context.Context, userID uint64) (string, error) {
	return s.repo.GetContinuation(ctx, userID)
}

func (s *Service) SetToken(ctx context.Context, userID uint64, token string) error {
	return s.repo.UpsertContinuation(ctx, userID, token)
}

func (s *Service) ListSessions(ctx context.Context, userID uint64, limit int) ([]Session, error) {
	return s.repo.ListSessions(ctx, userID, limit)
}

func (s *Service) CountSessions(ctx context.Context, userID uint64) (int64, error) {
	return s.repo.CountSessions(ctx, userID)
}

// ListTurns returns a session's turns oldest-first, after an ownership check.
func (s *Service) ListTurns(ctx context.Context, userID uint64, sessionID string) ([]Turn, error) {
	sess, err := s.repo.GetSessionBySessionID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, common.ErrNotFound
		}
		return nil, err
	}
	if sess.UserID != userID {
		return nil, common.ErrNotFound
	}
	return s.repo.ListTurns(ctx, userID, sessionID)
}

// LatestResponseID is the client-visible fallback for a lost continuation
// token: the stored pointer first, then the newest assistant turn.
func (s *Service) LatestResponseID(ctx context.Context, userID uint64) (string, error) {
	token, err := s.repo.GetContinuation(ctx, userID)
	if err != nil {
		return "", err
	}
	if token != "" {
		return token, nil
	}
	return s.repo.LatestAssistantResponseID(ctx, userID)
}

// HandleMessage runs one full gateway round trip:
// resolve session, append the user turn, resolve continuation, call the
// model, append the assistant turn, advance the pointer. A provider failure
// leaves the session exactly as it was after the user turn: no assistant
// turn, no token write, resumable with a fresh-context call.
func (s *Service) HandleMessage(ctx context.Context, userID uint64, sessionID, text, category, clientToken string) (*Reply, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("empty message")
	}

	var sess *Session
	var err error
	if sessionID != "" {
		sess, err = s.repo.GetSessionBySessionID(ctx, sessionID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, common.ErrNotFound
			}
			return nil, err
		}
		if sess.UserID != userID {
			return nil, common.ErrNotFound
		}
	} else {
		sess, err = s.ResolveOrCreateSession(ctx, userID, category)
		if err != nil {
			return nil, err
		}
	}

	if err := s.repo.InsertTurn(ctx, &Turn{
		SessionID: sess.SessionID,
		UserID:    userID,
		Role:      "user",
		Content:   text,
	}); err != nil {
		return nil, err
	}

	token := strings.TrimSpace(clientToken)
	if token == "" {
		token, err = s.GetToken(ctx, userID)
		if err != nil {
			return nil, err
		}
	}
	if token == "" {
		// best effort; a failed scan only costs context quality
		fallback, ferr := s.repo.LatestAssistantResponseID(ctx, userID)
		if ferr != nil {
			s.log.Warnw("continuation fallback scan failed", "user", userID, "err", ferr)
		} else {
			token = fallback
		}
	}

	provider, err := s.registry.GetChat(ctx, s.providerName, s.providerModel)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrProviderFailure, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.providerTimeout)
	defer cancel()

	replyText, newToken, err := provider.ChatWithState(callCtx, companionInstructions, text, token)
	if err != nil {
		s.log.Errorw("chat capability failed", "user", userID, "session", sess.SessionID, "err", err)
		return nil, fmt.Errorf("%w: %v", common.ErrProviderFailure, err)
	}

	if err := s.repo.InsertTurn(ctx, &Turn{
		SessionID:  sess.SessionID,
		UserID:     userID,
		Role:       "assistant",
		Content:    replyText,
		ResponseID: newToken,
	}); err != nil {
		return nil, err
	}

	if newToken != "" {
		if err := s.SetToken(ctx, userID, newToken); err != nil {
			// turn-without-token is an accepted partial state
			s.log.Warnw("continuation upsert failed", "user", userID, "err", err)
		}
	}

	if sess.Title == "" {
		// detached so the title call survives the request and the reply
		// never waits on it
		go s.deriveTitle(context.WithoutCancel(ctx), sess.SessionID, replyText)
	}

	return &Reply{SessionID: sess.SessionID, Text: replyText, ResponseID: newToken}, nil
}

// deriveTitle lazily names a session from its first assistant reply. Purely
// cosmetic, so failures are logged and dropped.
func (s *Service) deriveTitle(ctx context.Context, sessionID, replyText string) {
	provider, err := s.registry.Get(ctx, s.providerName, s.providerModel)
	if err != nil {
		return
	}
	callCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	title, err := provider.Generate(callCtx, fmt.Sprintf(titlePrompt, replyText))
	if err != nil {
		s.log.Debugw("title derivation failed", "session", sessionID, "err", err)
		return
	}
	title = strings.TrimSpace(strings.Trim(strings.TrimSpace(title), `"`))
	if title == "" {
		return
	}
	if len(title) > 120 {
		title = title[:120]
	}
	if err := s.repo.SetSessionTitle(ctx, sessionID, title); err != nil {
		s.log.Debugw("title save failed", "session", sessionID, "err", err)
	}
}
