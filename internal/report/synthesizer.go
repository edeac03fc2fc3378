package report

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/mindgrove/companion/internal/ai"
	"github.com/mindgrove/companion/internal/chat"
	"github.com/mindgrove/companion/internal/checkin"
	"github.com/mindgrove/companion/internal/insight"
)

// Gather windows for the full codex report.
const (
	reportSessionWindow = 50
	reportInsightWindow = 20
	reportPatternWindow = 10
	reportCheckinWindow = 30
)

const reportTitle = "Your Personal Neurodivergent Codex"

const reportDisclaimer = "This report is for informational purposes only and is not a substitute " +
	"for professional medical or psychological advice. Always consult a qualified healthcare " +
	"professional for any health concerns."

const reportPromptTemplate = `Generate a "Personal Neurodivergent Codex" report based on the following user data.
The report should be comprehensive, empathetic, and actionable, focusing on understanding and working with the user's neurodivergent profile. Use a friendly, supportive tone.

USER DATA:
%s

Report Structure (use exactly these numbered sections):
1. Title
2. Subtitle
3. Introduction
4. Key Themes & Concerns
5. Behavioral Patterns & Triggers
6. Communication Style Insights
7. Sensory Profile Observations
8. Personalized Strategies & Recommendations
9. Strengths & Unique Abilities
10. Next Steps & Resources
11. Disclaimer

Format the output as plain text with the numbered headings above. Do not use any markdown formatting.`

// bundle is the structured payload handed to the report capability.
type bundle struct {
	Sessions []sessionSummary `json:"sessions"`
	Insights []insightSummary `json:"insights"`
	Patterns []patternSummary `json:"patterns"`
	Checkins []checkinSummary `json:"checkins"`
}

type sessionSummary struct {
	Title     string    `json:"title"`
	Summary   string    `json:"summary,omitempty"`
	Category  string    `json:"category"`
	Messages  string    `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
}

type insightSummary struct {
	Summary     string    `json:"summary"`
	MainConcern string    `json:"main_concern,omitempty"`
	MoodInsight string    `json:"mood_insight,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type patternSummary struct {
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

type checkinSummary struct {
	Mood      int       `json:"mood"`
	Anxiety   int       `json:"anxiety"`
	Sensory   int       `json:"sensory"`
	Executive int       `json:"executive"`
	Energy    int       `json:"energy"`
	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// InsightsCache is the cache-only tier for dashboard payloads; redis in
// production, nil in tests.
type InsightsCache interface {
	GetDashboardInsights(ctx context.Context, userID uint64) (string, error)
	SetDashboardInsights(ctx context.Context, userID uint64, payload string, ttl time.Duration) error
}

type Synthesizer struct {
	chatRepo      *chat.Repo
	insightRepo   *insight.Repo
	checkinRepo   *checkin.Repo
	registry      *ai.Registry
	providerName  string
	providerModel string
	timeout       time.Duration
	cache         InsightsCache
	cacheTTL      time.Duration
	log           *zap.SugaredLogger
}

func NewSynthesizer(chatRepo *chat.Repo, insightRepo *insight.Repo, checkinRepo *checkin.Repo,
	registry *ai.Registry, providerName, providerModel string, timeout time.Duration,
	cache InsightsCache, cacheTTL time.Duration, log *zap.Logger) *Synthesizer {
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	if cacheTTL <= 0 {
		cacheTTL = time.Hour
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Synthesizer{
		chatRepo:      chatRepo,
		insightRepo:   insightRepo,
		checkinRepo:   checkinRepo,
		registry:      registry,
		providerName:  providerName,
		providerModel: providerModel,
		timeout:       timeout,
		cache:         cache,
		cacheTTL:      cacheTTL,
		log:           log.Sugar(),
	}
}

// GenerateCodexReport gathers bounded windows of the user's history, asks the
// report capability for the numbered-section text and renders it as a PDF.
// Pure read: no durable state changes. Capability trouble degrades to a
// placeholder-quality document instead of an error.
func (s *Synthesizer) GenerateCodexReport(ctx context.Context, userID uint64) ([]byte, error) {
	sessions, err := s.chatRepo.ListSessions(ctx, userID, reportSessionWindow)
	if err != nil {
		return nil, err
	}

	b, err := s.gather(ctx, userID, sessions, reportInsightWindow, reportPatternWindow, reportCheckinWindow)
	if err != nil {
		return nil, err
	}

	months := elapsedMonths(sessions)
	subtitle := fmt.Sprintf("Generated from %d conversations over %d months", len(sessions), months)

	sections := s.reportSections(ctx, b)
	return renderPDF(reportTitle, subtitle, time.Now(), sections, reportDisclaimer)
}

func (s *Synthesizer) reportSections(ctx context.Context, b *bundle) []Section {
	payload, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return placeholderSections()
	}

	provider, err := s.registry.Get(ctx, s.providerName, s.providerModel)
	if err != nil {
		s.log.Warnw("report provider unavailable", "err", err)
		return placeholderSections()
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	out, err := provider.Generate(callCtx, fmt.Sprintf(reportPromptTemplate, payload))
	if err != nil {
		s.log.Warnw("report capability failed", "err", err)
		return placeholderSections()
	}

	result := ParseNumberedSections(out)
	switch result.Kind {
	case KindStructured:
		return result.Sections
	case KindUnparseable:
		// keep the prose; the renderer treats it as a single section
		s.log.Warnw("report output had no numbered sections")
		return []Section{{Heading: "Your Codex", Body: result.Raw}}
	default:
		return placeholderSections()
	}
}

func placeholderSections() []Section {
	return []Section{
		{Heading: "Introduction", Body: "Your codex could not be written this time. Your conversations, check-ins and patterns are safe; try generating the report again in a little while."},
		{Heading: "Next Steps", Body: "Keep chatting and checking in. The more history there is, the richer this report becomes."},
	}
}

func (s *Synthesizer) gather(ctx context.Context, userID uint64, sessions []chat.Session, insightN, patternN, checkinN int) (*bundle, error) {
	b := &bundle{}

	for _, sess := range sessions {
		turns, err := s.chatRepo.ListTurns(ctx, userID, sess.SessionID)
		if err != nil {
			return nil, err
		}
		b.Sessions = append(b.Sessions, sessionSummary{
			Title:     sess.Title,
			Summary:   sess.Summary,
			Category:  sess.Category,
			Messages:  insight.Transcript(turns),
			CreatedAt: sess.CreatedAt,
		})
	}

	insights, err := s.insightRepo.ListInsightsDesc(ctx, userID, insightN)
	if err != nil {
		return nil, err
	}
	for _, in := range insights {
		b.Insights = append(b.Insights, insightSummary{
			Summary:     in.Summary,
			MainConcern: in.MainConcern,
			MoodInsight: in.MoodInsight,
			Tags:        in.Tags,
			CreatedAt:   in.CreatedAt,
		})
	}

	patterns, err := s.insightRepo.ListPatternsDesc(ctx, userID, patternN)
	if err != nil {
		return nil, err
	}
	for _, p := range patterns {
		b.Patterns = append(b.Patterns, patternSummary{Text: p.Body, CreatedAt: p.CreatedAt})
	}

	checkins, err := s.checkinRepo.ListRecent(ctx, userID, checkinN)
	if err != nil {
		return nil, err
	}
	for _, c := range checkins {
		b.Checkins = append(b.Checkins, checkinSummary{
			Mood:      c.Mood,
			Anxiety:   c.Anxiety,
			Sensory:   c.Sensory,
			Executive: c.Executive,
			Energy:    c.Energy,
			Notes:     c.Notes,
			CreatedAt: c.CreatedAt,
		})
	}

	return b, nil
}

// elapsedMonths is the ceiling of the span between the oldest and newest
// gathered session, in average-length months.
func elapsedMonths(sessions []chat.Session) int {
	if len(sessions) == 0 {
		return 0
	}
	oldest, newest := sessions[0].CreatedAt, sessions[0].CreatedAt
	for _, s := range sessions[1:] {
		if s.CreatedAt.Before(oldest) {
			oldest = s.CreatedAt
		}
		if s.CreatedAt.After(newest) {
			newest = s.CreatedAt
		}
	}
	span := newest.Sub(oldest)
	if span <= 0 {
		return 0
	}
	const month = time.Duration(30.44 * 24 * float64(time.Hour))
	return int(math.Ceil(float64(span) / float64(month)))
}
