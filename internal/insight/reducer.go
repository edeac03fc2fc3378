package insight

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/mindgrove/companion/internal/ai"
	"github.com/mindgrove/companion/internal/chat"
	"github.com/mindgrove/companion/internal/common"
)

// noNewPatternsSentinel is what the capability is told to answer when the
// session adds nothing to established knowledge. Matched case-insensitively
// on the trimmed prefix of the output.
const noNewPatternsSentinel = "NO NEW PATTERNS"

const patternPromptTemplate = `You are a neurodivergent research companion.

Your task is to analyze the current chat session and detect recurring behavioral, emotional, and contextual patterns.
The past patterns below are already recorded. Report ONLY observations that are not already covered by them.
If the session contains nothing new, respond with exactly "%s" and nothing else.

---

PAST PATTERNS:
%s

---

CURRENT SESSION CHAT:
%s

---

Identify and describe new patterns in:
- Emotional responses and mood trends over time
- Environmental or situational triggers
- Communication style preferences
- Energy fluctuations and social comfort zones
- Coping strategies or accommodations mentioned

Write findings as if contributing to the user's personal codex, using supportive research-focused language.`

const summaryPromptTemplate = `Summarize the following conversation in a short, supportive digest.
Respond with a JSON object: {"summary": "...", "mainConcern": "...", "moodInsight": "...", "tags": ["..."]}.

CONVERSATION:
%s`

type Reducer struct {
	repo          *Repo
	chatRepo      *chat.Repo
	registry      *ai.Registry
	providerName  string
	providerModel string
	timeout       time.Duration
	log           *zap.SugaredLogger
}

func NewReducer(repo *Repo, chatRepo *chat.Repo, registry *ai.Registry, providerName, providerModel string, timeout time.Duration, log *zap.Logger) *Reducer {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Reducer{
		repo:          repo,
		chatRepo:      chatRepo,
		registry:      registry,
		providerName:  providerName,
		providerModel: providerModel,
		timeout:       timeout,
		log:           log.Sugar(),
	}
}

// ReduceSession diffs one session against the user's established knowledge
// and persists at most one new PatternRecord. Returns nil (and writes
// nothing) when the capability reports nothing new or its output is unusable.
func (r *Reducer) ReduceSession(ctx context.Context, userID uint64, sessionID string) (*PatternRecord, error) {
	sess, err := r.chatRepo.GetSessionBySessionID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, common.ErrNotFound
		}
		return nil, err
	}
	if sess.UserID != userID {
		return nil, common.ErrNotFound
	}

	turns, err := r.chatRepo.ListTurns(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}

	prior, err := r.repo.ListPatternsAsc(ctx, userID)
	if err != nil {
		return nil, err
	}

	established := "No past patterns available."
	if len(prior) > 0 {
		parts := make([]string, 0, len(prior))
		for _, p := range prior {
			parts = append(parts, p.Body)
		}
		established = strings.Join(parts, "\n\n")
	}

	prompt := fmt.Sprintf(patternPromptTemplate, noNewPatternsSentinel, established, Transcript(turns))

	provider, err := r.registry.Get(ctx, r.providerName, r.providerModel)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrProviderFailure, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	out, err := provider.Generate(callCtx, prompt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrProviderFailure, err)
	}

	trimmed := strings.TrimSpace(out)
	if trimmed == "" || strings.HasPrefix(strings.ToUpper(trimmed), noNewPatternsSentinel) {
		return nil, nil
	}

	body := Sanitize(trimmed)
	if strings.TrimSpace(body) == "" {
		// output survived nothing but markup; treat as no pattern produced
		r.log.Warnw("pattern output reduced to nothing after sanitation", "session", sessionID)
		return nil, nil
	}

	record := &PatternRecord{
		UserID:    userID,
		SessionID: sessionID,
		Body:      body,
	}
	if err := r.repo.CreatePattern(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// SummarizeSession distills one session into an Insight document. Output is
// requested as JSON; when the capability ignores that, the raw text is kept
// as the summary.
func (r *Reducer) SummarizeSession(ctx context.Context, userID uint64, sessionID string) (*Insight, error) {
	sess, err := r.chatRepo.GetSessionBySessionID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, common.ErrNotFound
		}
		return nil, err
	}
	if sess.UserID != userID {
		return nil, common.ErrNotFound
	}

	turns, err := r.chatRepo.ListTurns(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}

	provider, err := r.registry.Get(ctx, r.providerName, r.providerModel)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrProviderFailure, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	out, err := provider.Generate(callCtx, fmt.Sprintf(summaryPromptTemplate, Transcript(turns)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrProviderFailure, err)
	}

	in := &Insight{UserID: userID, SessionID: sessionID}

	var parsed struct {
		Summary     string   `json:"summary"`
		MainConcern string   `json:"mainConcern"`
		MoodInsight string   `json:"moodInsight"`
		Tags        []string `json:"tags"`
	}
	cleaned := StripCodeFences(out)
	if err := json.Unmarshal([]byte(cleaned), &parsed); err == nil && parsed.Summary != "" {
		in.Summary = parsed.Summary
		in.MainConcern = parsed.MainConcern
		in.MoodInsight = parsed.MoodInsight
		in.Tags = parsed.Tags
	} else {
		in.Summary = strings.TrimSpace(out)
	}
	if in.Summary == "" {
		return nil, common.ErrMalformedOutput
	}

	if err := r.repo.CreateInsight(ctx, in); err != nil {
		return nil, err
	}
	return in, nil
}

// Transcript formats turns the way every capability prompt expects them.
func Transcript(turns []chat.Turn) string {
	var b strings.Builder
	for _, t := range turns {
		if t.Role == "user" {
			b.WriteString("User: ")
		} else {
			b.WriteString("Assistant: ")
		}
		b.WriteString(t.Content)
		b.WriteByte('\n')
	}
	return b.String()
}

// StripCodeFences removes a wrapping ```json ... ``` (or plain ```) block.
func StripCodeFences(text string) string {
	cleaned := strings.TrimSpace(text)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	return strings.TrimSpace(cleaned)
}
