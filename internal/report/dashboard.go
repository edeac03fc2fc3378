package report

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mindgrove/companion/internal/insight"
)

// Lighter gather windows for the dashboard cards.
const (
	dashSessionWindow = 10
	dashInsightWindow = 5
	dashPatternWindow = 3
	dashCheckinWindow = 7
)

const dashPlaceholder = "No clear patterns yet."

const dashPromptTemplate = `Analyze the following user data from a neurodivergent support app and produce three short lists of observations.

USER DATA:
%s

Respond with ONLY a JSON object in exactly this shape, no other text:
{"optimalTimes": ["..."], "sensoryProfile": ["..."], "communicationPatterns": ["..."]}

Each list holds 1-3 short observations. If the data does not support an observation for a list, use ["%s"] for that list.`

// DashboardInsights is the three-card payload the app renders on its home
// screen.
type DashboardInsights struct {
	OptimalTimes          []string `json:"optimalTimes"`
	SensoryProfile        []string `json:"sensoryProfile"`
	CommunicationPatterns []string `json:"communicationPatterns"`
}

func placeholderInsights() *DashboardInsights {
	return &DashboardInsights{
		OptimalTimes:          []string{dashPlaceholder},
		SensoryProfile:        []string{dashPlaceholder},
		CommunicationPatterns: []string{dashPlaceholder},
	}
}

// GenerateDashboardInsights returns the three observation lists for the
// user's dashboard. A cached payload is served when present; otherwise a
// fresh capability call runs and, on success, refills the cache. Any
// failure along the way degrades to the fixed placeholder lists rather
// than an error.
func (s *Synthesizer) GenerateDashboardInsights(ctx context.Context, userID uint64) (*DashboardInsights, error) {
	if s.cache != nil {
		if cached, err := s.cache.GetDashboardInsights(ctx, userID); err == nil && cached != "" {
			var di DashboardInsights
			if json.Unmarshal([]byte(cached), &di) == nil {
				return &di, nil
			}
		}
	}

	sessions, err := s.chatRepo.ListSessions(ctx, userID, dashSessionWindow)
	if err != nil {
		return nil, err
	}
	b, err := s.gather(ctx, userID, sessions, dashInsightWindow, dashPatternWindow, dashCheckinWindow)
	if err != nil {
		return nil, err
	}

	di, fresh := s.callDashboard(ctx, b)

	// only capability-produced payloads are worth caching; degraded
	// placeholders should be retried on the next request
	if s.cache != nil && fresh {
		if payload, err := json.Marshal(di); err == nil {
			if err := s.cache.SetDashboardInsights(ctx, userID, string(payload), s.cacheTTL); err != nil {
				s.log.Warnw("dashboard cache write failed", "err", err)
			}
		}
	}
	return di, nil
}

func (s *Synthesizer) callDashboard(ctx context.Context, b *bundle) (*DashboardInsights, bool) {
	payload, err := json.Marshal(b)
	if err != nil {
		return placeholderInsights(), false
	}

	provider, err := s.registry.Get(ctx, s.providerName, s.providerModel)
	if err != nil {
		s.log.Warnw("dashboard provider unavailable", "err", err)
		return placeholderInsights(), false
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	out, err := provider.Generate(callCtx, fmt.Sprintf(dashPromptTemplate, payload, dashPlaceholder))
	if err != nil {
		s.log.Warnw("dashboard capability failed", "err", err)
		return placeholderInsights(), false
	}

	var di DashboardInsights
	if err := json.Unmarshal([]byte(insight.StripCodeFences(out)), &di); err != nil {
		s.log.Warnw("dashboard output was not the expected JSON")
		return placeholderInsights(), false
	}
	if len(di.OptimalTimes) == 0 {
		di.OptimalTimes = []string{dashPlaceholder}
	}
	if len(di.SensoryProfile) == 0 {
		di.SensoryProfile = []string{dashPlaceholder}
	}
	if len(di.CommunicationPatterns) == 0 {
		di.CommunicationPatterns = []string{dashPlaceholder}
	}
	return &di, true
}
