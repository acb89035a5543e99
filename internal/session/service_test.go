package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	gormsqlite "github.com/glebarez/sqlite"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/ui-studio/internal/ai"
	"github.com/suPer8Hu/ui-studio/internal/store/redisstore"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type recordingProvider struct {
	mu    sync.Mutex
	reply string
	err   error
	delay time.Duration
	calls int
	last  []ai.Message
}

func (p *recordingProvider) Chat(ctx context.Context, messages []ai.Message) (string, error) {
	p.mu.Lock()
	p.calls++
	// copy to avoid mutations
	p.last = append([]ai.Message(nil), messages...)
	p.mu.Unlock()

	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return p.reply, p.err
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(gormsqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{
		Logger: logger.Discard,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

type fixture struct {
	db    *gorm.DB
	repo  *Repo
	mr    *miniredis.Miniredis
	cache *redisstore.Store
	prov  *recordingProvider
	svc   *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := openTestDB(t)
	mr := miniredis.RunT(t)
	cache := redisstore.NewWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), 200*time.Millisecond)
	t.Cleanup(func() { _ = cache.Close() })

	prov := &recordingProvider{}
	reg := ai.NewRegistry()
	reg.Register("fake", func(ctx context.Context, model string) (ai.Provider, error) {
		return prov, nil
	})

	repo := NewRepo(db)
	svc := NewService(repo, cache, reg, Options{Provider: "fake", GenerationTimeout: time.Second})
	return &fixture{db: db, repo: repo, mr: mr, cache: cache, prov: prov, svc: svc}
}

func (f *fixture) cached(t *testing.T, key string) (*Session, bool) {
	t.Helper()
	if !f.mr.Exists(key) {
		return nil, false
	}
	raw, err := f.mr.Get(key)
	require.NoError(t, err)
	var s Session
	require.NoError(t, json.Unmarshal([]byte(raw), &s))
	return &s, true
}

func TestChat_Scenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.prov.reply = "Sure!\n```jsx\nfunction Btn(){return <button>Hi</button>}\n```"

	sess, err := f.svc.CreateSession(ctx, 1, CreateInput{Title: "buttons"})
	require.NoError(t, err)

	got, err := f.svc.Chat(ctx, 1, sess.ID, "make a button")
	require.NoError(t, err)

	assert.Equal(t, Artifact{Markup: "function Btn(){return <button>Hi</button>}", Style: ""}, got.Artifact)
	require.Len(t, got.Transcript, 2)
	assert.Equal(t, RoleUser, got.Transcript[0].Role)
	assert.Equal(t, "make a button", got.Transcript[0].Content)
	assert.Equal(t, RoleAssistant, got.Transcript[1].Role)
	assert.Equal(t, f.prov.reply, got.Transcript[1].Content)

	// the generation call carries the assembled prompt as a single user message
	require.Len(t, f.prov.last, 1)
	assert.True(t, strings.HasPrefix(f.prov.last[0].Content, "User request: make a button"))

	stored, err := f.repo.Get(ctx, 1, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, got.Artifact, stored.Artifact)
	assert.Len(t, stored.Transcript, 2)

	cached, ok := f.cached(t, EntityKey(sess.ID, 1))
	require.True(t, ok)
	assert.Equal(t, got.Artifact, cached.Artifact)
	assert.Len(t, cached.Transcript, 2)
}

func TestChat_DedupOnResend(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.prov.reply = "```jsx\nfunction A(){}\n```"

	// sessions created from the dashboard start with the title as the first user message
	sess, err := f.svc.CreateSession(ctx, 1, CreateInput{
		Title:      "make a card",
		Transcript: []ChatMessage{{Role: RoleUser, Content: "make a card"}},
	})
	require.NoError(t, err)

	got, err := f.svc.Chat(ctx, 1, sess.ID, "make a card")
	require.NoError(t, err)

	require.Len(t, got.Transcript, 2)
	assert.Equal(t, RoleUser, got.Transcript[0].Role)
	assert.Equal(t, RoleAssistant, got.Transcript[1].Role)
	assert.Contains(t, f.prov.last[0].Content, "User request: make a card")
}

func TestChat_UsesBoundedContextAndCurrentArtifact(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.prov.reply = "no code this time"

	var transcript []ChatMessage
	for i := 0; i < 8; i++ {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		transcript = append(transcript, ChatMessage{Role: role, Content: fmt.Sprintf("seed-%d", i)})
	}
	sess, err := f.svc.CreateSession(ctx, 2, CreateInput{Transcript: transcript})
	require.NoError(t, err)
	artifact := Artifact{Markup: "function Old(){}", Style: ".old{}"}
	_, err = f.svc.UpdateSession(ctx, 2, sess.ID, Patch{Artifact: &artifact})
	require.NoError(t, err)

	got, err := f.svc.Chat(ctx, 2, sess.ID, "tweak it")
	require.NoError(t, err)

	sent := f.prov.last[0].Content
	for i := 0; i < 3; i++ {
		assert.NotContains(t, sent, fmt.Sprintf("seed-%d", i))
	}
	for i := 3; i < 8; i++ {
		assert.Contains(t, sent, fmt.Sprintf("seed-%d", i))
	}
	assert.Contains(t, sent, "```jsx\nfunction Old(){}\n```")

	// nothing extractable: the previous artifact survives
	assert.Equal(t, artifact, got.Artifact)
	assert.Len(t, got.Transcript, 10)
}

func TestChat_GenerationFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.prov.err = errors.New("upstream 503")

	sess, err := f.svc.CreateSession(ctx, 1, CreateInput{})
	require.NoError(t, err)
	before, _ := f.cached(t, EntityKey(sess.ID, 1))

	_, err = f.svc.Chat(ctx, 1, sess.ID, "make a button")
	var genErr *GenerationError
	require.ErrorAs(t, err, &genErr)
	assert.Contains(t, err.Error(), "upstream 503")

	stored, err := f.repo.Get(ctx, 1, sess.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.Transcript)

	after, ok := f.cached(t, EntityKey(sess.ID, 1))
	require.True(t, ok)
	assert.Equal(t, before.UpdatedAt, after.UpdatedAt)
	assert.Empty(t, after.Transcript)
}

func TestChat_GenerationTimeout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.prov.reply = "```jsx\nfunction A(){}\n```"
	f.prov.delay = 2 * time.Second
	f.svc.genTO = 50 * time.Millisecond

	sess, err := f.svc.CreateSession(ctx, 1, CreateInput{})
	require.NoError(t, err)

	_, err = f.svc.Chat(ctx, 1, sess.ID, "make a button")
	var genErr *GenerationError
	require.ErrorAs(t, err, &genErr)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	stored, err := f.repo.Get(ctx, 1, sess.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.Transcript)
	assert.True(t, stored.Artifact.IsEmpty())
}

type failingUpdateStore struct {
	Store
	err error
}

func (s failingUpdateStore) Update(ctx context.Context, sess *Session) error { return s.err }

func TestChat_StoreFailureLeavesCacheUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.prov.reply = "```jsx\nfunction A(){}\n```"

	sess, err := f.svc.CreateSession(ctx, 1, CreateInput{})
	require.NoError(t, err)
	_, err = f.svc.ListSessions(ctx, 1)
	require.NoError(t, err)
	require.True(t, f.mr.Exists(ListKey(1)))

	f.svc.store = failingUpdateStore{Store: f.repo, err: errors.New("disk full")}
	_, err = f.svc.Chat(ctx, 1, sess.ID, "make a button")
	var storeErr *StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, 1, f.prov.calls)

	cached, ok := f.cached(t, EntityKey(sess.ID, 1))
	require.True(t, ok)
	assert.Empty(t, cached.Transcript)
	assert.True(t, f.mr.Exists(ListKey(1)), "list entry must survive a failed write")
}

func TestChat_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Chat(ctx, 1, "missing", "hello")
	assert.ErrorIs(t, err, ErrNotFound)

	sess, err := f.svc.CreateSession(ctx, 1, CreateInput{})
	require.NoError(t, err)

	_, err = f.svc.Chat(ctx, 2, sess.ID, "hello")
	assert.ErrorIs(t, err, ErrNotFound, "other owners must not see the session")

	_, err = f.svc.Chat(ctx, 1, sess.ID, "   ")
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Equal(t, 0, f.prov.calls)
}

func TestGetSession_ReadAfterWrite(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess, err := f.svc.CreateSession(ctx, 1, CreateInput{Title: "first"})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		title := fmt.Sprintf("title-%d", i)
		_, err := f.svc.UpdateSession(ctx, 1, sess.ID, Patch{Title: &title})
		require.NoError(t, err)

		fromCache, err := f.svc.GetSession(ctx, 1, sess.ID)
		require.NoError(t, err)
		assert.Equal(t, title, fromCache.Title)

		f.mr.FlushAll()
		fromStore, err := f.svc.GetSession(ctx, 1, sess.ID)
		require.NoError(t, err)
		assert.Equal(t, title, fromStore.Title)

		// the miss repopulated the entity entry without expiry
		assert.True(t, f.mr.Exists(EntityKey(sess.ID, 1)))
		assert.Equal(t, time.Duration(0), f.mr.TTL(EntityKey(sess.ID, 1)))
	}
}

func TestGetSession_CorruptEntryFallsBackToStore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess, err := f.svc.CreateSession(ctx, 1, CreateInput{Title: "t"})
	require.NoError(t, err)
	require.NoError(t, f.mr.Set(EntityKey(sess.ID, 1), "{not json"))

	got, err := f.svc.GetSession(ctx, 1, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "t", got.Title)

	cached, ok := f.cached(t, EntityKey(sess.ID, 1))
	require.True(t, ok)
	assert.Equal(t, sess.ID, cached.ID)
}

func TestGetSession_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.GetSession(context.Background(), 1, "01NOPE")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, f.mr.Exists(EntityKey("01NOPE", 1)))
}

func TestListSessions_InvalidatedByMutations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.svc.CreateSession(ctx, 7, CreateInput{Title: "a"})
	require.NoError(t, err)
	assert.False(t, f.mr.Exists(ListKey(7)), "list entry is never written eagerly")

	list, err := f.svc.ListSessions(ctx, 7)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 300*time.Second, f.mr.TTL(ListKey(7)))

	_, err = f.svc.CreateSession(ctx, 7, CreateInput{Title: "b"})
	require.NoError(t, err)
	assert.False(t, f.mr.Exists(ListKey(7)))

	list, err = f.svc.ListSessions(ctx, 7)
	require.NoError(t, err)
	require.Len(t, list, 2)

	renamed := "a2"
	_, err = f.svc.UpdateSession(ctx, 7, a.ID, Patch{Title: &renamed})
	require.NoError(t, err)
	assert.False(t, f.mr.Exists(ListKey(7)))

	list, err = f.svc.ListSessions(ctx, 7)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, a.ID, list[0].ID, "most recently updated first")
	assert.Equal(t, "a2", list[0].Title)
}

func TestListSessions_ServesFromCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateSession(ctx, 3, CreateInput{Title: "a"})
	require.NoError(t, err)
	_, err = f.svc.ListSessions(ctx, 3)
	require.NoError(t, err)

	// a write that bypasses the service is invisible until the entry expires
	require.NoError(t, f.repo.Create(ctx, &Session{ID: "01BYPASS000000000000000000", OwnerID: 3, Title: "b", CreatedAt: time.Now(), UpdatedAt: time.Now()}))
	list, err := f.svc.ListSessions(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	f.mr.FastForward(301 * time.Second)
	list, err = f.svc.ListSessions(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestService_CacheDown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.prov.reply = "```jsx\nfunction A(){}\n```\n```css\n.a{}\n```"
	f.mr.Close()

	sess, err := f.svc.CreateSession(ctx, 1, CreateInput{Title: "offline"})
	require.NoError(t, err)

	list, err := f.svc.ListSessions(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	got, err := f.svc.Chat(ctx, 1, sess.ID, "make it")
	require.NoError(t, err)
	assert.Equal(t, Artifact{Markup: "function A(){}", Style: ".a{}"}, got.Artifact)

	read, err := f.svc.GetSession(ctx, 1, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, got.Artifact, read.Artifact)
}

func TestUpdateSession_Patch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess, err := f.svc.CreateSession(ctx, 1, CreateInput{Title: " "})
	require.NoError(t, err)
	assert.Equal(t, DefaultTitle, sess.Title)

	transcript := []ChatMessage{{Role: RoleUser, Content: "hi"}}
	got, err := f.svc.UpdateSession(ctx, 1, sess.ID, Patch{
		Transcript: &transcript,
		UIState:    map[string]any{"panel": "code"},
	})
	require.NoError(t, err)
	assert.Equal(t, DefaultTitle, got.Title)
	require.Len(t, got.Transcript, 1)
	assert.False(t, got.Transcript[0].Timestamp.IsZero())
	assert.Equal(t, "code", got.UIState["panel"])

	stored, err := f.repo.Get(ctx, 1, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "code", stored.UIState["panel"])

	bad := []ChatMessage{{Role: "ai", Content: "x"}}
	_, err = f.svc.UpdateSession(ctx, 1, sess.ID, Patch{Transcript: &bad})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.svc.UpdateSession(ctx, 2, sess.ID, Patch{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess, err := f.svc.CreateSession(ctx, 1, CreateInput{Transcript: []ChatMessage{
		{Role: RoleUser, Content: "a"},
		{Role: RoleAssistant, Content: "b"},
		{Role: RoleUser, Content: "c"},
	}})
	require.NoError(t, err)

	_, err = f.svc.DeleteMessage(ctx, 1, sess.ID, 0, 2)
	assert.ErrorIs(t, err, ErrStaleSnapshot)

	_, err = f.svc.DeleteMessage(ctx, 1, sess.ID, 3, 3)
	assert.ErrorIs(t, err, ErrInvalidInput)

	got, err := f.svc.DeleteMessage(ctx, 1, sess.ID, 1, 3)
	require.NoError(t, err)
	require.Len(t, got.Transcript, 2)
	assert.Equal(t, "a", got.Transcript[0].Content)
	assert.Equal(t, "c", got.Transcript[1].Content)

	cached, ok := f.cached(t, EntityKey(sess.ID, 1))
	require.True(t, ok)
	assert.Len(t, cached.Transcript, 2)

	cleared, err := f.svc.ClearTranscript(ctx, 1, sess.ID)
	require.NoError(t, err)
	assert.Empty(t, cleared.Transcript)
}
