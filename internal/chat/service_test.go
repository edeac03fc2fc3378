package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/mindgrove/companion/internal/ai"
	"github.com/mindgrove/companion/internal/common"
)

// recordingChatProvider chains synthetic response ids r1, r2, ... and records
// the continuation each call received.
type recordingChatProvider struct {
	mu            sync.Mutex
	calls         int
	continuations []string
	failNext      bool
	title         string
}

func (p *recordingChatProvider) Generate(ctx context.Context, prompt string) (string, error) {
	_ = ctx
	_ = prompt
	if p.title == "" {
		return "Untitled", nil
	}
	return p.title, nil
}

func (p *recordingChatProvider) ChatWithState(ctx context.Context, instructions, prompt, previousResponseID string) (string, string, error) {
	_ = ctx
	_ = instructions
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failNext {
		p.failNext = false
		return "", "", errors.New("provider blew up")
	}
	p.calls++
	p.continuations = append(p.continuations, previousResponseID)
	return "ok: " + prompt, fmt.Sprintf("r%d", p.calls), nil
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(gormsqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Session{}, &Turn{}, &ContinuationPointer{}, &LastViewed{}, &ActiveSession{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// waitForTitle polls until the session has a title or the deadline passes.
// Title derivation runs detached from the request, so tests that care about
// the derived value have to wait for it.
func waitForTitle(t *testing.T, repo *Repo, sessionID string) string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		sess, err := repo.GetSessionBySessionID(context.Background(), sessionID)
		if err != nil {
			t.Fatalf("get session: %v", err)
		}
		if sess.Title != "" {
			return sess.Title
		}
		if time.Now().After(deadline) {
			t.Fatalf("title was never derived for session %q", sessionID)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func newTestService(t *testing.T, prov ai.Provider) (*Service, *Repo) {
	t.Helper()
	db := openTestDB(t)
	repo := NewRepo(db)
	reg := ai.NewRegistry()
	reg.Register("fake", func(ctx context.Context, model string) (ai.Provider, error) {
		_ = ctx
		_ = model
		return prov, nil
	})
	return NewService(repo, reg, "fake", "default", 0, nil), repo
}

func TestFirstMessageCreatesSessionAndToken(t *testing.T) {
	prov := &recordingChatProvider{title: "Feeling Overwhelmed Support"}
	svc, repo := newTestService(t, prov)
	ctx := context.Background()

	reply, err := svc.HandleMessage(ctx, 101, "", "I'm feeling overwhelmed", "general", "")
	if err != nil {
		t.Fatalf("handle message: %v", err)
	}
	if reply.SessionID == "" {
		t.Fatalf("expected a session id")
	}
	if reply.ResponseID != "r1" {
		t.Fatalf("expected token r1, got %q", reply.ResponseID)
	}
	if prov.continuations[0] != "" {
		t.Fatalf("first call must be fresh-context, got continuation %q", prov.continuations[0])
	}

	turns, err := repo.ListTurns(ctx, 101, reply.SessionID)
	if err != nil {
		t.Fatalf("list turns: %v", err)
	}
	if len(turns) != 2 || turns[0].Role != "user" || turns[1].Role != "assistant" {
		t.Fatalf("expected user+assistant turn pair, got %+v", turns)
	}
	if turns[1].ResponseID != "r1" {
		t.Fatalf("assistant turn should carry the response id, got %q", turns[1].ResponseID)
	}

	token, err := repo.GetContinuation(ctx, 101)
	if err != nil || token != "r1" {
		t.Fatalf("expected stored token r1, got %q err=%v", token, err)
	}

	if title := waitForTitle(t, repo, reply.SessionID); title != "Feeling Overwhelmed Support" {
		t.Fatalf("expected lazily derived title, got %q", title)
	}
	sess, err := repo.GetSessionBySessionID(ctx, reply.SessionID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if !sess.IsActive {
		t.Fatalf("new session must be active")
	}
}

func TestSecondMessageReusesSessionAndContinues(t *testing.T) {
	prov := &recordingChatProvider{}
	svc, _ := newTestService(t, prov)
	ctx := context.Background()

	first, err := svc.HandleMessage(ctx, 102, "", "hello", "general", "")
	if err != nil {
		t.Fatalf("first message: %v", err)
	}
	second, err := svc.HandleMessage(ctx, 102, first.SessionID, "still here", "general", first.ResponseID)
	if err != nil {
		t.Fatalf("second message: %v", err)
	}
	if second.SessionID != first.SessionID {
		t.Fatalf("expected session reuse, got %q then %q", first.SessionID, second.SessionID)
	}
	if got := prov.continuations[1]; got != "r1" {
		t.Fatalf("second call should continue from r1, got %q", got)
	}
}

func TestServerStoredTokenBacksMissingClientToken(t *testing.T) {
	prov := &recordingChatProvider{}
	svc, _ := newTestService(t, prov)
	ctx := context.Background()

	first, err := svc.HandleMessage(ctx, 103, "", "hello", "general", "")
	if err != nil {
		t.Fatalf("first message: %v", err)
	}
	// client "lost" the token; server pointer must cover it
	if _, err := svc.HandleMessage(ctx, 103, first.SessionID, "again", "general", ""); err != nil {
		t.Fatalf("second message: %v", err)
	}
	if got := prov.continuations[1]; got != "r1" {
		t.Fatalf("expected server-stored continuation r1, got %q", got)
	}
}

func TestConcurrentFirstMessagesCreateOneSession(t *testing.T) {
	prov := &recordingChatProvider{}
	svc, repo := newTestService(t, prov)
	ctx := context.Background()

	const n = 8
	ids := make([]string, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			sess, err := svc.ResolveOrCreateSession(ctx, 104, "general")
			if err != nil {
				t.Errorf("resolve %d: %v", i, err)
				return
			}
			ids[i] = sess.SessionID
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		if ids[i] != ids[0] {
			t.Fatalf("expected one session for all callers, got %q and %q", ids[0], ids[i])
		}
	}
	count, err := repo.CountSessions(ctx, 104)
	if err != nil {
		t.Fatalf("count sessions: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly 1 session, got %d", count)
	}
}

func TestEndSessionIsIdempotent(t *testing.T) {
	prov := &recordingChatProvider{}
	svc, repo := newTestService(t, prov)
	ctx := context.Background()

	sess, err := svc.ResolveOrCreateSession(ctx, 105, "clarity")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if err := svc.EndSession(ctx, 105, sess.SessionID); err != nil {
		t.Fatalf("first end: %v", err)
	}
	if err := svc.EndSession(ctx, 105, sess.SessionID); err != nil {
		t.Fatalf("ending an ended session must succeed, got %v", err)
	}
	got, err := repo.GetSessionBySessionID(ctx, sess.SessionID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.IsActive {
		t.Fatalf("session should be inactive after end")
	}

	if err := svc.EndSession(ctx, 105, "01UNKNOWNSESSION0000000000"); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("unknown session must be NotFound, got %v", err)
	}
}

func TestNewChatAfterEndStartsFreshSession(t *testing.T) {
	prov := &recordingChatProvider{}
	svc, _ := newTestService(t, prov)
	ctx := context.Background()

	a, err := svc.ResolveOrCreateSession(ctx, 106, "general")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if err := svc.EndSession(ctx, 106, a.SessionID); err != nil {
		t.Fatalf("end: %v", err)
	}
	b, err := svc.ResolveOrCreateSession(ctx, 106, "general")
	if err != nil {
		t.Fatalf("resolve after end: %v", err)
	}
	if b.SessionID == a.SessionID {
		t.Fatalf("expected a fresh session after ending %q", a.SessionID)
	}
}

func TestViewingHistoryLeavesActiveFlagAlone(t *testing.T) {
	prov := &recordingChatProvider{}
	svc, repo := newTestService(t, prov)
	ctx := context.Background()

	a, err := svc.ResolveOrCreateSession(ctx, 107, "general")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if err := svc.EndSession(ctx, 107, a.SessionID); err != nil {
		t.Fatalf("end: %v", err)
	}
	if err := svc.MarkViewingHistory(ctx, 107, a.SessionID, true); err != nil {
		t.Fatalf("mark viewing: %v", err)
	}

	lv, err := svc.GetLastViewed(ctx, 107)
	if err != nil {
		t.Fatalf("get last viewed: %v", err)
	}
	if lv == nil || lv.SessionID != a.SessionID || !lv.IsHistorical {
		t.Fatalf("unexpected last-viewed record: %+v", lv)
	}
	got, _ := repo.GetSessionBySessionID(ctx, a.SessionID)
	if got.IsActive {
		t.Fatalf("viewing history must not reactivate the session")
	}
}

func TestGetLastViewedNilForNewUser(t *testing.T) {
	prov := &recordingChatProvider{}
	svc, _ := newTestService(t, prov)

	lv, err := svc.GetLastViewed(context.Background(), 99108)
	if err != nil {
		t.Fatalf("get last viewed: %v", err)
	}
	if lv != nil {
		t.Fatalf("expected nil for a user with no record, got %+v", lv)
	}
}

func TestProviderFailureLeavesNoAssistantTurnOrToken(t *testing.T) {
	prov := &recordingChatProvider{failNext: true}
	svc, repo := newTestService(t, prov)
	ctx := context.Background()

	_, err := svc.HandleMessage(ctx, 109, "", "hello", "general", "")
	if !errors.Is(err, common.ErrProviderFailure) {
		t.Fatalf("expected ErrProviderFailure, got %v", err)
	}

	sess, err := svc.ResolveOrCreateSession(ctx, 109, "general")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	turns, err := repo.ListTurns(ctx, 109, sess.SessionID)
	if err != nil {
		t.Fatalf("list turns: %v", err)
	}
	if len(turns) != 1 || turns[0].Role != "user" {
		t.Fatalf("expected only the user turn to survive, got %+v", turns)
	}
	token, err := repo.GetContinuation(ctx, 109)
	if err != nil {
		t.Fatalf("get token: %v", err)
	}
	if token != "" {
		t.Fatalf("no token may be written on provider failure, got %q", token)
	}

	// the session stays usable with a fresh-context call
	reply, err := svc.HandleMessage(ctx, 109, sess.SessionID, "retry", "general", "")
	if err != nil {
		t.Fatalf("retry after failure: %v", err)
	}
	if prov.continuations[0] != "" {
		t.Fatalf("retry must start fresh, got continuation %q", prov.continuations[0])
	}
	_ = reply
}

func TestTurnOrderMatchesAcceptance(t *testing.T) {
	prov := &recordingChatProvider{}
	svc, repo := newTestService(t, prov)
	ctx := context.Background()

	sess, err := svc.ResolveOrCreateSession(ctx, 110, "general")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	for i := 0; i < 4; i++ {
		if _, err := svc.HandleMessage(ctx, 110, sess.SessionID, fmt.Sprintf("msg-%d", i), "general", ""); err != nil {
			t.Fatalf("message %d: %v", i, err)
		}
	}

	turns, err := repo.ListTurns(ctx, 110, sess.SessionID)
	if err != nil {
		t.Fatalf("list turns: %v", err)
	}
	if len(turns) != 8 {
		t.Fatalf("expected 8 turns, got %d", len(turns))
	}
	for i := 0; i < 4; i++ {
		if turns[2*i].Content != fmt.Sprintf("msg-%d", i) {
			t.Fatalf("turn order broken at %d: %q", i, turns[2*i].Content)
		}
	}
}

func TestLatestResponseIDFallsBackToTurnScan(t *testing.T) {
	prov := &recordingChatProvider{}
	svc, repo := newTestService(t, prov)
	ctx := context.Background()

	reply, err := svc.HandleMessage(ctx, 111, "", "hello", "general", "")
	if err != nil {
		t.Fatalf("message: %v", err)
	}

	// wipe the pointer; the assistant-turn scan should still find the id
	if err := repo.db.Where("user_id = ?", uint64(111)).Delete(&ContinuationPointer{}).Error; err != nil {
		t.Fatalf("delete pointer: %v", err)
	}
	got, err := svc.LatestResponseID(ctx, 111)
	if err != nil {
		t.Fatalf("latest response id: %v", err)
	}
	if got != reply.ResponseID {
		t.Fatalf("expected %q from turn scan, got %q", reply.ResponseID, got)
	}
}

// stalledTitleProvider answers chat calls instantly but parks the title call
// until released.
type stalledTitleProvider struct {
	recordingChatProvider
	release chan struct{}
}

func (p *stalledTitleProvider) Generate(ctx context.Context, prompt string) (string, error) {
	_ = prompt
	select {
	case <-p.release:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return "Late Title", nil
}

func TestReplyDoesNotWaitOnTitleDerivation(t *testing.T) {
	prov := &stalledTitleProvider{release: make(chan struct{})}
	svc, repo := newTestService(t, prov)
	ctx := context.Background()

	start := time.Now()
	reply, err := svc.HandleMessage(ctx, 112, "", "hello", "general", "")
	if err != nil {
		t.Fatalf("handle message: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("reply waited %v on title derivation", elapsed)
	}

	sess, err := repo.GetSessionBySessionID(ctx, reply.SessionID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if sess.Title != "" {
		t.Fatalf("title must still be pending, got %q", sess.Title)
	}

	close(prov.release)
	if title := waitForTitle(t, repo, reply.SessionID); title != "Late Title" {
		t.Fatalf("expected the derived title to land eventually, got %q", title)
	}
}
