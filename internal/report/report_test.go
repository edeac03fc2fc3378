package report

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/mindgrove/companion/internal/ai"
	"github.com/mindgrove/companion/internal/chat"
	"github.com/mindgrove/companion/internal/checkin"
	"github.com/mindgrove/companion/internal/insight"
)

type scriptedProvider struct {
	output  string
	err     error
	prompts []string
}

func (p *scriptedProvider) Generate(ctx context.Context, prompt string) (string, error) {
	_ = ctx
	p.prompts = append(p.prompts, prompt)
	if p.err != nil {
		return "", p.err
	}
	return p.output, nil
}

type memCache struct {
	payloads map[uint64]string
	sets     int
}

func (c *memCache) GetDashboardInsights(ctx context.Context, userID uint64) (string, error) {
	_ = ctx
	return c.payloads[userID], nil
}

func (c *memCache) SetDashboardInsights(ctx context.Context, userID uint64, payload string, ttl time.Duration) error {
	_ = ctx
	_ = ttl
	if c.payloads == nil {
		c.payloads = map[uint64]string{}
	}
	c.payloads[userID] = payload
	c.sets++
	return nil
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(gormsqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&chat.Session{}, &chat.Turn{},
		&insight.PatternRecord{}, &insight.Insight{},
		&checkin.Checkin{},
	))
	return db
}

func newTestSynthesizer(t *testing.T, prov ai.Provider, cache InsightsCache) (*Synthesizer, *gorm.DB) {
	t.Helper()
	db := openTestDB(t)
	reg := ai.NewRegistry()
	reg.Register("fake", func(ctx context.Context, model string) (ai.Provider, error) {
		_ = ctx
		_ = model
		return prov, nil
	})
	s := NewSynthesizer(chat.NewRepo(db), insight.NewRepo(db), checkin.NewRepo(db),
		reg, "fake", "default", 0, cache, 0, nil)
	return s, db
}

func seedSession(t *testing.T, db *gorm.DB, userID uint64, contents ...string) string {
	t.Helper()
	sid, err := chat.NewSessionID()
	require.NoError(t, err)
	require.NoError(t, db.Create(&chat.Session{SessionID: sid, UserID: userID, Category: "general", Title: "a chat"}).Error)
	role := "user"
	for _, c := range contents {
		require.NoError(t, db.Create(&chat.Turn{SessionID: sid, UserID: userID, Role: role, Content: c}).Error)
		if role == "user" {
			role = "assistant"
		} else {
			role = "user"
		}
	}
	return sid
}

func TestParseNumberedSections(t *testing.T) {
	res := ParseNumberedSections(`1. Title
Your Personal Codex

2. **Key Themes:**
Sensory overload comes up often.

3. Strengths
Pattern recognition, honesty.`)
	require.Equal(t, KindStructured, res.Kind)
	require.Len(t, res.Sections, 3)
	assert.Equal(t, "Title", res.Sections[0].Heading)
	assert.Equal(t, "Your Personal Codex", res.Sections[0].Body)
	assert.Equal(t, "Key Themes", res.Sections[1].Heading)
	assert.Equal(t, "Strengths", res.Sections[2].Heading)
}

func TestParseNumberedSectionsTagsProseAndBlank(t *testing.T) {
	prose := ParseNumberedSections("Here is a summary without any structure at all.")
	assert.Equal(t, KindUnparseable, prose.Kind)
	assert.NotEmpty(t, prose.Raw)

	blank := ParseNumberedSections("   \n  ")
	assert.Equal(t, KindEmpty, blank.Kind)
}

func TestCodexReportRendersPDFFromStructuredOutput(t *testing.T) {
	prov := &scriptedProvider{output: "1. Introduction\nWelcome to your codex.\n\n2. Strengths\nYou notice patterns others miss."}
	s, db := newTestSynthesizer(t, prov, nil)
	ctx := context.Background()

	seedSession(t, db, 301, "hello", "hi there")

	doc, err := s.GenerateCodexReport(ctx, 301)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(doc, []byte("%PDF")))

	require.Len(t, prov.prompts, 1)
	assert.Contains(t, prov.prompts[0], "User: hello")
}

func TestCodexReportDegradesInsteadOfFailing(t *testing.T) {
	prov := &scriptedProvider{err: errors.New("upstream down")}
	s, db := newTestSynthesizer(t, prov, nil)
	ctx := context.Background()

	seedSession(t, db, 302, "hello", "hi")

	doc, err := s.GenerateCodexReport(ctx, 302)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(doc, []byte("%PDF")))
}

func TestCodexReportOnEmptyHistory(t *testing.T) {
	prov := &scriptedProvider{output: "1. Introduction\nNot much here yet."}
	s, _ := newTestSynthesizer(t, prov, nil)

	doc, err := s.GenerateCodexReport(context.Background(), 303)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(doc, []byte("%PDF")))
}

func TestDashboardInsightsParsesStrictJSON(t *testing.T) {
	prov := &scriptedProvider{output: "```json\n{\"optimalTimes\":[\"mornings go best\"],\"sensoryProfile\":[\"noise is draining\"],\"communicationPatterns\":[\"direct questions help\"]}\n```"}
	cache := &memCache{}
	s, db := newTestSynthesizer(t, prov, cache)
	ctx := context.Background()

	seedSession(t, db, 304, "mornings are easier", "good to know")

	di, err := s.GenerateDashboardInsights(ctx, 304)
	require.NoError(t, err)
	assert.Equal(t, []string{"mornings go best"}, di.OptimalTimes)
	assert.Equal(t, 1, cache.sets)
}

func TestDashboardInsightsDegradeToPlaceholders(t *testing.T) {
	prov := &scriptedProvider{err: errors.New("timeout")}
	cache := &memCache{}
	s, db := newTestSynthesizer(t, prov, cache)
	ctx := context.Background()

	seedSession(t, db, 305, "hello", "hi")

	di, err := s.GenerateDashboardInsights(ctx, 305)
	require.NoError(t, err)
	assert.Equal(t, []string{"No clear patterns yet."}, di.OptimalTimes)
	assert.Equal(t, []string{"No clear patterns yet."}, di.SensoryProfile)
	assert.Equal(t, []string{"No clear patterns yet."}, di.CommunicationPatterns)
	assert.Zero(t, cache.sets, "placeholders are not cached")
}

func TestDashboardInsightsCachesPartialResults(t *testing.T) {
	// first list empty, so it degrades to the placeholder while the other
	// two carry real content; still a capability result, still cacheable
	prov := &scriptedProvider{output: `{"optimalTimes":[],"sensoryProfile":["noise is draining"],"communicationPatterns":["direct questions help"]}`}
	cache := &memCache{}
	s, db := newTestSynthesizer(t, prov, cache)
	ctx := context.Background()

	seedSession(t, db, 307, "hello", "hi")

	di, err := s.GenerateDashboardInsights(ctx, 307)
	require.NoError(t, err)
	assert.Equal(t, []string{"No clear patterns yet."}, di.OptimalTimes)
	assert.Equal(t, []string{"noise is draining"}, di.SensoryProfile)
	assert.Equal(t, 1, cache.sets)
}

func TestDashboardInsightsServedFromCache(t *testing.T) {
	prov := &scriptedProvider{output: "should not be called"}
	cache := &memCache{payloads: map[uint64]string{
		306: `{"optimalTimes":["cached"],"sensoryProfile":["cached"],"communicationPatterns":["cached"]}`,
	}}
	s, _ := newTestSynthesizer(t, prov, cache)

	di, err := s.GenerateDashboardInsights(context.Background(), 306)
	require.NoError(t, err)
	assert.Equal(t, []string{"cached"}, di.OptimalTimes)
	assert.Empty(t, prov.prompts)
}

func TestElapsedMonthsCeiling(t *testing.T) {
	now := time.Now()
	sessions := []chat.Session{
		{CreatedAt: now.Add(-40 * 24 * time.Hour)},
		{CreatedAt: now},
	}
	assert.Equal(t, 2, elapsedMonths(sessions))
	assert.Equal(t, 0, elapsedMonths(nil))
	assert.Equal(t, 0, elapsedMonths([]chat.Session{{CreatedAt: now}}))
}
