package insight

import (
	"context"
	"errors"
	"strings"
	"testing"

	gormsqlite "github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/mindgrove/companion/internal/ai"
	"github.com/mindgrove/companion/internal/chat"
	"github.com/mindgrove/companion/internal/common"
)

// scriptedProvider replays canned outputs and records prompts.
type scriptedProvider struct {
	outputs []string
	err     error
	prompts []string
}

func (p *scriptedProvider) Generate(ctx context.Context, prompt string) (string, error) {
	_ = ctx
	p.prompts = append(p.prompts, prompt)
	if p.err != nil {
		return "", p.err
	}
	if len(p.outputs) == 0 {
		return "", nil
	}
	out := p.outputs[0]
	p.outputs = p.outputs[1:]
	return out, nil
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(gormsqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&chat.Session{}, &chat.Turn{},
		&PatternRecord{}, &Insight{}, &ReduceJob{},
	))
	return db
}

func seedSession(t *testing.T, db *gorm.DB, userID uint64, contents ...string) string {
	t.Helper()
	sid, err := chat.NewSessionID()
	require.NoError(t, err)
	require.NoError(t, db.Create(&chat.Session{SessionID: sid, UserID: userID, Category: "general", IsActive: true}).Error)
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

func newTestReducer(t *testing.T, prov ai.Provider) (*Reducer, *Repo, *gorm.DB) {
	t.Helper()
	db := openTestDB(t)
	repo := NewRepo(db)
	reg := ai.NewRegistry()
	reg.Register("fake", func(ctx context.Context, model string) (ai.Provider, error) {
		_ = ctx
		_ = model
		return prov, nil
	})
	return NewReducer(repo, chat.NewRepo(db), reg, "fake", "default", 0, nil), repo, db
}

func TestReduceSessionPersistsNewObservation(t *testing.T) {
	prov := &scriptedProvider{outputs: []string{"**Noise sensitivity** spikes in open offices."}}
	reducer, repo, db := newTestReducer(t, prov)
	ctx := context.Background()

	sid := seedSession(t, db, 201, "open offices wreck me", "that sounds exhausting")

	rec, err := reducer.ReduceSession(ctx, 201, sid)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, uint64(201), rec.UserID)
	assert.Equal(t, sid, rec.SessionID)
	assert.Contains(t, rec.Body, "<strong>Noise sensitivity</strong>")

	all, err := repo.ListPatternsAsc(ctx, 201)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestReduceSessionSentinelWritesNothing(t *testing.T) {
	prov := &scriptedProvider{outputs: []string{"  no new patterns. everything here is already recorded."}}
	reducer, repo, db := newTestReducer(t, prov)
	ctx := context.Background()

	sid := seedSession(t, db, 202, "same as always", "noted")

	rec, err := reducer.ReduceSession(ctx, 202, sid)
	require.NoError(t, err)
	assert.Nil(t, rec)

	n, err := repo.CountPatterns(ctx, 202)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReduceSessionFeedsPriorKnowledgeOldestFirst(t *testing.T) {
	prov := &scriptedProvider{outputs: []string{"A fresh observation."}}
	reducer, repo, db := newTestReducer(t, prov)
	ctx := context.Background()

	require.NoError(t, repo.CreatePattern(ctx, &PatternRecord{UserID: 203, SessionID: "S1", Body: "older knowledge"}))
	require.NoError(t, repo.CreatePattern(ctx, &PatternRecord{UserID: 203, SessionID: "S2", Body: "newer knowledge"}))

	sid := seedSession(t, db, 203, "hello", "hi")
	_, err := reducer.ReduceSession(ctx, 203, sid)
	require.NoError(t, err)

	require.Len(t, prov.prompts, 1)
	prompt := prov.prompts[0]
	assert.Contains(t, prompt, "older knowledge")
	assert.Contains(t, prompt, "newer knowledge")
	assert.Less(t, strings.Index(prompt, "older knowledge"), strings.Index(prompt, "newer knowledge"))
	assert.Contains(t, prompt, "User: hello")
	assert.Contains(t, prompt, "Assistant: hi")
}

func TestReduceSessionWrongOwnerIsNotFound(t *testing.T) {
	prov := &scriptedProvider{}
	reducer, _, db := newTestReducer(t, prov)
	ctx := context.Background()

	sid := seedSession(t, db, 204, "mine", "yes")

	_, err := reducer.ReduceSession(ctx, 999204, sid)
	assert.ErrorIs(t, err, common.ErrNotFound)
	assert.Empty(t, prov.prompts)
}

func TestReduceSessionProviderErrorSurfacesAsProviderFailure(t *testing.T) {
	prov := &scriptedProvider{err: errors.New("timeout")}
	reducer, repo, db := newTestReducer(t, prov)
	ctx := context.Background()

	sid := seedSession(t, db, 205, "hello", "hi")
	_, err := reducer.ReduceSession(ctx, 205, sid)
	assert.ErrorIs(t, err, common.ErrProviderFailure)

	n, err := repo.CountPatterns(ctx, 205)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReduceSessionEmptyOutputProducesNoPattern(t *testing.T) {
	prov := &scriptedProvider{outputs: []string{"   "}}
	reducer, repo, db := newTestReducer(t, prov)
	ctx := context.Background()

	sid := seedSession(t, db, 206, "hello", "hi")
	rec, err := reducer.ReduceSession(ctx, 206, sid)
	require.NoError(t, err)
	assert.Nil(t, rec)

	n, _ := repo.CountPatterns(ctx, 206)
	assert.Zero(t, n)
}

func TestSummarizeSessionParsesJSONPayload(t *testing.T) {
	prov := &scriptedProvider{outputs: []string{"```json\n{\"summary\":\"a rough week\",\"mainConcern\":\"burnout\",\"moodInsight\":\"low but stabilizing\",\"tags\":[\"work\",\"energy\"]}\n```"}}
	reducer, repo, db := newTestReducer(t, prov)
	ctx := context.Background()

	sid := seedSession(t, db, 207, "rough week", "let's unpack that")

	in, err := reducer.SummarizeSession(ctx, 207, sid)
	require.NoError(t, err)
	assert.Equal(t, "a rough week", in.Summary)
	assert.Equal(t, "burnout", in.MainConcern)
	assert.Equal(t, []string{"work", "energy"}, in.Tags)

	stored, err := repo.ListInsightsDesc(ctx, 207, 0)
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

func TestSummarizeSessionKeepsRawTextWhenNotJSON(t *testing.T) {
	prov := &scriptedProvider{outputs: []string{"Just a plain prose summary of the session."}}
	reducer, _, db := newTestReducer(t, prov)
	ctx := context.Background()

	sid := seedSession(t, db, 208, "hello", "hi")
	in, err := reducer.SummarizeSession(ctx, 208, sid)
	require.NoError(t, err)
	assert.Equal(t, "Just a plain prose summary of the session.", in.Summary)
	assert.Empty(t, in.MainConcern)
}
