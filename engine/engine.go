// Package engine composes the session lifecycle, the mode classifier, the
// idea cache and the external generators into the chat operations.
package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/creastat/craftbot"
	"github.com/creastat/craftbot/assets"
	"github.com/creastat/craftbot/crafts"
	"github.com/creastat/craftbot/generator"
	"github.com/creastat/craftbot/ideas"
	"github.com/creastat/craftbot/session"
)

// OffTopicGuidance is the fixed answer to a first message that is not about crafts.
const OffTopicGuidance = "I can only help with craft ideas for reusable materials. " +
	"Tell me which materials you have, or send a photo of them, and I will suggest projects."

// Generator produces materials, idea batches and follow-up answers.
type Generator interface {
	ExtractMaterials(ctx context.Context, text string, image []byte, imageType string) ([]string, error)
	GenerateIdeas(ctx context.Context, req generator.GenerateRequest) (*ideas.Batch, error)
	FollowUp(ctx context.Context, req generator.FollowUpRequest) (string, error)
}

// TutorialFinder suggests tutorials for a fresh idea batch.
type TutorialFinder interface {
	Links(ctx context.Context, batch []craftbot.Idea) ([]crafts.Link, error)
}

// Engine handles chat requests. Work on one session is serialized through the
// lifecycle's per-session locks; the cleanup sweep honors the same locks.
type Engine struct {
	lifecycle    *session.Lifecycle
	generator    Generator
	images       generator.ImageGenerator
	assets       assets.Store
	relevance    crafts.RelevanceChecker
	tutorials    TutorialFinder
	memoryWindow int
	tokenBudget  int
	maxMessages  int
	maxPrompt    int
	logger       *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithImageGenerator sets the illustration generator.
func WithImageGenerator(g generator.ImageGenerator) Option {
	return func(e *Engine) {
		e.images = g
	}
}

// WithAssetStore sets where uploaded and generated images are written.
func WithAssetStore(s assets.Store) Option {
	return func(e *Engine) {
		e.assets = s
	}
}

// WithRelevance sets the craft-relevance check used on first turns that
// yielded no materials.
func WithRelevance(r crafts.RelevanceChecker) Option {
	return func(e *Engine) {
		e.relevance = r
	}
}

// WithTutorials sets the tutorial lookup run after each generation.
func WithTutorials(t TutorialFinder) Option {
	return func(e *Engine) {
		e.tutorials = t
	}
}

// WithMemoryWindow sets how many trailing messages go into prompts.
func WithMemoryWindow(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.memoryWindow = n
		}
	}
}

// WithTokenBudget caps the estimated token cost of the transcript sent with
// each prompt. Zero leaves only the message window.
func WithTokenBudget(n int) Option {
	return func(e *Engine) {
		if n >= 0 {
			e.tokenBudget = n
		}
	}
}

// WithMaxMessages bounds the stored history. Zero keeps every message.
func WithMaxMessages(n int) Option {
	return func(e *Engine) {
		if n >= 0 {
			e.maxMessages = n
		}
	}
}

// WithMaxPromptLength sets the longest illustration prompt, in runes.
func WithMaxPromptLength(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxPrompt = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// New creates an Engine.
func New(lifecycle *session.Lifecycle, gen Generator, opts ...Option) *Engine {
	e := &Engine{
		lifecycle:    lifecycle,
		generator:    gen,
		memoryWindow: craftbot.MemoryWindow,
		maxPrompt:    generator.MaxPromptLength,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(slog.String("component", "engine"))
	return e
}

// Lifecycle returns the session lifecycle the engine drives.
func (e *Engine) Lifecycle() *session.Lifecycle { return e.lifecycle }

// GetSession returns a session, expiring it first if it is overdue.
func (e *Engine) GetSession(ctx context.Context, id string) (*craftbot.Session, error) {
	if id == "" {
		return nil, craftbot.ErrSessionRequired
	}
	unlock := e.lifecycle.Locks().Lock(id)
	defer unlock()

	return e.load(ctx, id)
}

// EndSession ends an active session and reclaims its assets.
func (e *Engine) EndSession(ctx context.Context, id string) (*craftbot.Session, error) {
	if id == "" {
		return nil, craftbot.ErrSessionRequired
	}
	unlock := e.lifecycle.Locks().Lock(id)
	defer unlock()

	s, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := e.lifecycle.End(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// ListSessions returns session summaries, newest activity first. Overdue
// sessions the sweep has not reached yet are listed as expired.
func (e *Engine) ListSessions(ctx context.Context, opts session.ListOptions) ([]craftbot.Summary, error) {
	return e.lifecycle.List(ctx, opts)
}

// load reads a session and applies the lazy expiry check. The caller holds
// the session lock.
func (e *Engine) load(ctx context.Context, id string) (*craftbot.Session, error) {
	s, err := e.lifecycle.Store().Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}
	if s == nil {
		return nil, fmt.Errorf("%s: %w", id, craftbot.ErrSessionNotFound)
	}
	return e.lifecycle.Refresh(ctx, s)
}

// loadActive is load for mutating operations: terminal sessions are rejected.
func (e *Engine) loadActive(ctx context.Context, id string) (*craftbot.Session, error) {
	s, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !s.IsActive() {
		return nil, fmt.Errorf("%s is %s: %w", id, s.Status, craftbot.ErrSessionInactive)
	}
	return s, nil
}

// commit touches next and persists it, creating the record on a session's
// first successful turn.
func (e *Engine) commit(ctx context.Context, next *craftbot.Session, isNew bool) error {
	if err := e.lifecycle.Touch(next); err != nil {
		return err
	}
	next.Title = craftbot.DeriveTitle(next)

	if isNew {
		if err := e.lifecycle.Store().Create(ctx, next); err != nil {
			return fmt.Errorf("create session %s: %w", next.ID, err)
		}
		return nil
	}
	if err := e.lifecycle.Store().Update(ctx, next); err != nil {
		return fmt.Errorf("update session %s: %w", next.ID, err)
	}
	return nil
}

// discard removes an asset written for a turn that was not committed.
func (e *Engine) discard(ctx context.Context, ref string) {
	if ref == "" || e.assets == nil {
		return
	}
	if err := e.assets.Remove(ctx, ref); err != nil {
		e.logger.WarnContext(ctx, "Failed to remove uncommitted asset",
			slog.String("ref", ref),
			slog.Any("error", err),
		)
	}
}
