package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/creastat/craftbot"
	"github.com/creastat/craftbot/crafts"
	"github.com/creastat/craftbot/generator"
	"github.com/creastat/craftbot/ideas"
	"github.com/creastat/craftbot/mode"
)

// AnalyzeRequest is one inbound chat turn.
type AnalyzeRequest struct {
	SessionID string // empty starts a new session
	UserID    string
	Text      string
	Speech    bool // Text came from speech recognition
	Image     []byte
	ImageType string
}

// AnalyzeResult is the answer to a chat turn. Ideas is empty unless the turn
// generated a new batch.
type AnalyzeResult struct {
	SessionID    string          `json:"sessionId"`
	Mode         string          `json:"mode"`
	Materials    []string        `json:"materials"`
	Narration    string          `json:"narration"`
	Ideas        []craftbot.Idea `json:"ideas"`
	YouTubeLinks []crafts.Link   `json:"youtubeLinks"`
}

// Analyze routes a turn to material extraction and idea generation, a
// follow-up answer, or the off-topic guidance. Nothing is persisted unless
// the whole turn succeeds; a new session is created by its first
// successful turn.
func (e *Engine) Analyze(ctx context.Context, req AnalyzeRequest) (*AnalyzeResult, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" && len(req.Image) == 0 {
		return nil, &craftbot.ValidationError{Field: "text", Reason: "or image is required"}
	}

	id := req.SessionID
	if id == "" {
		id = craftbot.NewSessionID()
	} else if !craftbot.ValidSessionID(id) {
		return nil, &craftbot.ValidationError{Field: "sessionId", Reason: "is malformed"}
	}

	unlock := e.lifecycle.Locks().Lock(id)
	defer unlock()

	s, isNew, err := e.loadOrNew(ctx, id, req.UserID)
	if err != nil {
		return nil, err
	}

	decision := mode.Classify(mode.Input{
		HasImage:  len(req.Image) > 0,
		Text:      text,
		Materials: s.Materials,
		IdeaCount: len(s.LastIdeas),
		Messages:  len(s.Messages),
	})
	e.logger.DebugContext(ctx, "Classified turn",
		slog.String("session_id", id),
		slog.String("mode", decision.Mode.String()),
		slog.Bool("has_context", decision.HasContext),
		slog.Bool("wants_new_ideas", decision.WantsNewIdeas),
		slog.Int("requested_count", decision.RequestedCount),
	)

	if decision.Mode == mode.FollowUp {
		return e.followUp(ctx, s, req, text)
	}
	return e.generate(ctx, s, isNew, decision, req, text)
}

func (e *Engine) loadOrNew(ctx context.Context, id, userID string) (*craftbot.Session, bool, error) {
	s, err := e.lifecycle.Store().Get(ctx, id)
	if err != nil {
		return nil, false, fmt.Errorf("load session %s: %w", id, err)
	}
	if s == nil {
		return e.lifecycle.NewSession(id, userID), true, nil
	}
	if s, err = e.lifecycle.Refresh(ctx, s); err != nil {
		return nil, false, err
	}
	if !s.IsActive() {
		return nil, false, fmt.Errorf("%s is %s: %w", id, s.Status, craftbot.ErrSessionInactive)
	}
	return s, false, nil
}

func (e *Engine) generate(ctx context.Context, s *craftbot.Session, isNew bool, d mode.Decision, req AnalyzeRequest, text string) (*AnalyzeResult, error) {
	extracted, err := e.generator.ExtractMaterials(ctx, text, req.Image, req.ImageType)
	if err != nil {
		return nil, err
	}

	if mode.NeedsTopicalityCheck(d, extracted) {
		related, err := e.craftRelated(ctx, text)
		if err != nil {
			return nil, err
		}
		if !related {
			e.logger.InfoContext(ctx, "Off-topic first turn", slog.String("session_id", s.ID))
			return &AnalyzeResult{
				SessionID:    s.ID,
				Mode:         mode.OffTopic.String(),
				Materials:    []string{},
				Narration:    OffTopicGuidance,
				Ideas:        []craftbot.Idea{},
				YouTubeLinks: []crafts.Link{},
			}, nil
		}
	}

	// An empty extraction keeps the current materials.
	materials := s.Materials
	if len(extracted) > 0 {
		materials = extracted
	}

	batch, err := e.generator.GenerateIdeas(ctx, generator.GenerateRequest{
		Text:       text,
		Materials:  materials,
		Count:      d.RequestedCount,
		Transcript: e.transcript(s),
	})
	if err != nil {
		return nil, err
	}

	links := e.tutorialLinks(ctx, s.ID, batch.Ideas)

	imageRef, err := e.saveUpload(ctx, s.ID, req)
	if err != nil {
		return nil, err
	}

	next := s.Clone()
	next.Materials = append([]string{}, materials...)
	ideas.Replace(next, batch.Ideas)
	now := e.lifecycle.Now()
	next.AppendMessage(userMessage(req, text, imageRef, now), e.maxMessages)
	next.AppendMessage(craftbot.Message{
		Sender: craftbot.SenderAI,
		Output: &craftbot.MessageOutput{
			Narration: batch.Narration,
			Ideas:     craftbot.CloneIdeas(batch.Ideas),
		},
		Timestamp: now,
	}, e.maxMessages)

	if err := e.commit(ctx, next, isNew); err != nil {
		e.discard(ctx, imageRef)
		return nil, err
	}

	return &AnalyzeResult{
		SessionID:    next.ID,
		Mode:         mode.ExtractAndGenerate.String(),
		Materials:    next.Materials,
		Narration:    batch.Narration,
		Ideas:        craftbot.CloneIdeas(next.LastIdeas),
		YouTubeLinks: links,
	}, nil
}

func (e *Engine) followUp(ctx context.Context, s *craftbot.Session, req AnalyzeRequest, text string) (*AnalyzeResult, error) {
	narration, err := e.generator.FollowUp(ctx, generator.FollowUpRequest{
		Text:       text,
		Transcript: e.transcript(s),
		Materials:  s.Materials,
		Ideas:      s.LastIdeas,
	})
	if err != nil {
		return nil, err
	}

	next := s.Clone()
	now := e.lifecycle.Now()
	next.AppendMessage(userMessage(req, text, "", now), e.maxMessages)
	next.AppendMessage(craftbot.Message{
		Sender:    craftbot.SenderAI,
		Output:    &craftbot.MessageOutput{Narration: narration},
		Timestamp: now,
	}, e.maxMessages)

	if err := e.commit(ctx, next, false); err != nil {
		return nil, err
	}

	return &AnalyzeResult{
		SessionID:    next.ID,
		Mode:         mode.FollowUp.String(),
		Materials:    next.Materials,
		Narration:    narration,
		Ideas:        []craftbot.Idea{},
		YouTubeLinks: []crafts.Link{},
	}, nil
}

func (e *Engine) transcript(s *craftbot.Session) string {
	return craftbot.BuildTranscript(s.Messages, e.memoryWindow, e.tokenBudget)
}

// craftRelated runs the relevance check. Without a checker, a first turn that
// names no materials is off topic.
func (e *Engine) craftRelated(ctx context.Context, text string) (bool, error) {
	if e.relevance == nil || text == "" {
		return false, nil
	}
	related, err := e.relevance.IsCraftRelated(ctx, text)
	if err != nil {
		return false, fmt.Errorf("craft relevance: %w", err)
	}
	return related, nil
}

// tutorialLinks looks up tutorials for a batch. Lookup failures only cost the links.
func (e *Engine) tutorialLinks(ctx context.Context, sessionID string, batch []craftbot.Idea) []crafts.Link {
	if e.tutorials == nil || len(batch) == 0 {
		return []crafts.Link{}
	}
	links, err := e.tutorials.Links(ctx, batch)
	if err != nil {
		e.logger.WarnContext(ctx, "Tutorial lookup failed",
			slog.String("session_id", sessionID),
			slog.Any("error", err),
		)
		return []crafts.Link{}
	}
	return links
}

func (e *Engine) saveUpload(ctx context.Context, sessionID string, req AnalyzeRequest) (string, error) {
	if len(req.Image) == 0 || e.assets == nil {
		return "", nil
	}
	ref, err := e.assets.Save(ctx, sessionID, req.Image, req.ImageType)
	if err != nil {
		return "", fmt.Errorf("store upload: %w", err)
	}
	return ref, nil
}

func userMessage(req AnalyzeRequest, text, imageRef string, now time.Time) craftbot.Message {
	in := &craftbot.MessageInput{Type: craftbot.InputText, Text: text, ImageURL: imageRef}
	switch {
	case len(req.Image) > 0:
		in.Type = craftbot.InputImage
	case req.Speech:
		in.Type = craftbot.InputAudio
	}
	return craftbot.Message{Sender: craftbot.SenderUser, Input: in, Timestamp: now}
}
