package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/suPer8Hu/ui-studio/internal/ai"
	"github.com/suPer8Hu/ui-studio/internal/common"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Options struct {
	Provider string
	Model    string
	// ListTTL is the lifetime of the per-owner list entry. Entity entries never expire.
	ListTTL time.Duration
	// GenerationTimeout bounds one generation call; expiry fails the turn.
	GenerationTimeout time.Duration
	Extractor         Extractor
}

const (
	defaultProvider          = "gemini"
	defaultGenerationTimeout = 60 * time.Second
)

// Service coordinates the store, the cache and the generation pipeline.
type Service struct {
	store     Store
	cache     Cache
	registry  *ai.Registry
	provider  string
	model     string
	listTTL   time.Duration
	genTO     time.Duration
	extractor Extractor
	now       func() time.Time
	log       *slog.Logger
}

func NewService(store Store, cache Cache, registry *ai.Registry, opts Options) *Service {
	if cache == nil {
		cache = nopCache{}
	}
	if opts.Provider == "" {
		opts.Provider = defaultProvider
	}
	if opts.ListTTL <= 0 {
		opts.ListTTL = DefaultListTTL
	}
	if opts.GenerationTimeout <= 0 {
		opts.GenerationTimeout = defaultGenerationTimeout
	}
	if opts.Extractor == nil {
		opts.Extractor = FenceExtractor{}
	}
	return &Service{
		store:     store,
		cache:     cache,
		registry:  registry,
		provider:  opts.Provider,
		model:     opts.Model,
		listTTL:   opts.ListTTL,
		genTO:     opts.GenerationTimeout,
		extractor: opts.Extractor,
		now:       time.Now,
		log:       slog.Default().With("component", "session"),
	}
}

func NewSessionID() (string, error) {
	return common.NewULID()
}

// ListSessions serves the owner's summaries from the list entry, repopulating it from the
// store on a miss.
func (s *Service) ListSessions(ctx context.Context, ownerID uint64) ([]Summary, error) {
	key := ListKey(ownerID)
	if b, ok := s.cache.Get(ctx, key); ok {
		var out []Summary
		if err := json.Unmarshal(b, &out); err == nil {
			recordLookup(ctx, "list", true)
			return out, nil
		}
		s.log.Warn("discarding undecodable cache entry", "key", key)
	}
	recordLookup(ctx, "list", false)

	out, err := s.store.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, storeErr("list", err)
	}
	if b, err := json.Marshal(out); err == nil {
		s.cache.Set(ctx, key, b, s.listTTL)
	}
	return out, nil
}

// GetSession reads through the entity entry.
func (s *Service) GetSession(ctx context.Context, ownerID uint64, sessionID string) (*Session, error) {
	key := EntityKey(sessionID, ownerID)
	if b, ok := s.cache.Get(ctx, key); ok {
		var sess Session
		if err := json.Unmarshal(b, &sess); err == nil && sess.ID == sessionID && sess.OwnerID == ownerID {
			recordLookup(ctx, "entity", true)
			return &sess, nil
		}
		s.log.Warn("discarding undecodable cache entry", "key", key)
	}
	recordLookup(ctx, "entity", false)

	sess, err := s.store.Get(ctx, ownerID, sessionID)
	if err != nil {
		return nil, storeErr("get", err)
	}
	if b, err := json.Marshal(sess); err == nil {
		s.cache.Set(ctx, key, b, 0)
	}
	return sess, nil
}

func (s *Service) CreateSession(ctx context.Context, ownerID uint64, in CreateInput) (*Session, error) {
	now := s.now()
	title := strings.TrimSpace(in.Title)
	if title == "" {
		title = DefaultTitle
	}
	transcript := slices.Clone(in.Transcript)
	if transcript == nil {
		transcript = []ChatMessage{}
	}
	if err := validateTranscript(transcript, now); err != nil {
		return nil, err
	}

	id, err := NewSessionID()
	if err != nil {
		return nil, err
	}
	sess := &Session{
		ID:         id,
		OwnerID:    ownerID,
		Title:      title,
		Transcript: transcript,
		UIState:    map[string]any{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.Create(ctx, sess); err != nil {
		return nil, storeErr("create", err)
	}
	s.syncCache(ctx, sess)
	return sess, nil
}

// UpdateSession overwrites the fields set in p.
func (s *Service) UpdateSession(ctx context.Context, ownerID uint64, sessionID string, p Patch) (*Session, error) {
	return s.mutate(ctx, ownerID, sessionID, func(sess *Session, now time.Time) error {
		if p.Title != nil {
			title := strings.TrimSpace(*p.Title)
			if title == "" {
				title = DefaultTitle
			}
			sess.Title = title
		}
		if p.Transcript != nil {
			transcript := slices.Clone(*p.Transcript)
			if transcript == nil {
				transcript = []ChatMessage{}
			}
			if err := validateTranscript(transcript, now); err != nil {
				return err
			}
			sess.Transcript = transcript
		}
		if p.Artifact != nil {
			sess.Artifact = *p.Artifact
		}
		if p.UIState != nil {
			sess.UIState = p.UIState
		}
		return nil
	})
}

// DeleteMessage removes transcript[index]. A positive snapshotLen is the transcript length the
// caller saw; when the stored transcript has a different length the index may point at another
// entry, so the call fails with ErrStaleSnapshot.
func (s *Service) DeleteMessage(ctx context.Context, ownerID uint64, sessionID string, index, snapshotLen int) (*Session, error) {
	return s.mutate(ctx, ownerID, sessionID, func(sess *Session, _ time.Time) error {
		if snapshotLen > 0 && snapshotLen != len(sess.Transcript) {
			return ErrStaleSnapshot
		}
		if index < 0 || index >= len(sess.Transcript) {
			return fmt.Errorf("%w: message index %d out of range", ErrInvalidInput, index)
		}
		sess.Transcript = slices.Delete(slices.Clone(sess.Transcript), index, index+1)
		return nil
	})
}

func (s *Service) ClearTranscript(ctx context.Context, ownerID uint64, sessionID string) (*Session, error) {
	return s.mutate(ctx, ownerID, sessionID, func(sess *Session, _ time.Time) error {
		sess.Transcript = []ChatMessage{}
		return nil
	})
}

// mutate applies fn to the stored session and writes it back. The cache is touched only after
// the store write succeeded.
func (s *Service) mutate(ctx context.Context, ownerID uint64, sessionID string, fn func(*Session, time.Time) error) (*Session, error) {
	sess, err := s.store.Get(ctx, ownerID, sessionID)
	if err != nil {
		return nil, storeErr("get", err)
	}
	now := s.now()
	if err := fn(sess, now); err != nil {
		return nil, err
	}
	sess.UpdatedAt = now
	if err := s.store.Update(ctx, sess); err != nil {
		return nil, storeErr("update", err)
	}
	s.syncCache(ctx, sess)
	return sess, nil
}

// syncCache overwrites the entity entry and drops the owner's list entry. It runs detached
// from ctx cancellation: once the store write is done the cache must follow it.
func (s *Service) syncCache(ctx context.Context, sess *Session) {
	ctx = context.WithoutCancel(ctx)
	key := EntityKey(sess.ID, sess.OwnerID)
	if b, err := json.Marshal(sess); err == nil {
		s.cache.Set(ctx, key, b, 0)
	} else {
		s.log.Warn("encode session for cache", "session_id", sess.ID, "error", err)
		s.cache.Delete(ctx, key)
	}
	s.cache.Delete(ctx, ListKey(sess.OwnerID))
}

// Chat runs one conversational turn: build the prompt, generate, extract the artifact, persist,
// then sync the cache. Nothing is persisted when generation or the store write fails.
func (s *Service) Chat(ctx context.Context, ownerID uint64, sessionID string, prompt string) (*Session, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, fmt.Errorf("%w: prompt is empty", ErrInvalidInput)
	}

	ctx, span := tracer.Start(ctx, "session.chat_turn", trace.WithAttributes(
		attribute.String("session.id", sessionID),
	))
	defer span.End()

	t := newTurn(s.log, sessionID)
	sess, err := s.store.Get(ctx, ownerID, sessionID)
	if err != nil {
		err = storeErr("get", err)
		t.fail(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	t.advance(StatePromptBuilding)
	now := s.now()
	fullPrompt := BuildPrompt(sess.Transcript, sess.Artifact, prompt)
	transcript := appendUserMessage(slices.Clone(sess.Transcript), prompt, now)
	span.SetAttributes(attribute.Bool("turn.override", ClassifyIntent(prompt) == IntentOverride))

	t.advance(StateGenerating)
	reply, err := s.generate(ctx, fullPrompt)
	if err != nil {
		genErr := &GenerationError{Err: err}
		t.fail(genErr)
		span.SetStatus(codes.Error, genErr.Error())
		return nil, genErr
	}
	transcript = append(transcript, ChatMessage{Role: RoleAssistant, Content: reply, Timestamp: s.now()})

	t.advance(StateExtracting)
	artifact := s.extractor.Extract(reply, sess.Artifact)

	t.advance(StatePersisting)
	next := *sess
	next.Transcript = transcript
	next.Artifact = artifact
	next.UpdatedAt = s.now()
	if err := s.store.Update(ctx, &next); err != nil {
		err = storeErr("update", err)
		t.fail(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	t.advance(StateCacheSyncing)
	s.syncCache(ctx, &next)

	t.advance(StateDone)
	return &next, nil
}

func (s *Service) generate(ctx context.Context, prompt string) (string, error) {
	provider, err := s.registry.Get(ctx, s.provider, s.model)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, s.genTO)
	defer cancel()
	ctx, span := tracer.Start(ctx, "generation.call", trace.WithAttributes(
		attribute.String("ai.provider", s.provider),
		attribute.String("ai.model", s.model),
	))
	defer span.End()

	start := time.Now()
	reply, err := provider.Chat(ctx, []ai.Message{{Role: ai.RoleUser, Content: prompt}})
	generationDuration.Record(ctx, float64(time.Since(start).Milliseconds()))
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("timed out after %s: %w", s.genTO, err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	return reply, nil
}
