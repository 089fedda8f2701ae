package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/creastat/craftbot"
	"github.com/creastat/craftbot/assets"
	"github.com/creastat/craftbot/generator"
	"github.com/creastat/craftbot/ideas"
)

// ImageRequest asks for an illustration. IdeaID or an ordinal in Text picks an
// idea from the current batch; otherwise ImagePrompt or Text is drawn as is.
type ImageRequest struct {
	SessionID   string `json:"sessionId"`
	IdeaID      string `json:"ideaId,omitempty"`
	ImagePrompt string `json:"imagePrompt,omitempty"`
	Text        string `json:"text,omitempty"`
}

// ImageResult describes a stored illustration.
type ImageResult struct {
	IdeaID     string `json:"ideaId"`
	Title      string `json:"title"`
	PromptUsed string `json:"promptUsed"`
	ImageURL   string `json:"imageUrl"`
}

var errNoImageBackend = errors.New("no image generator or asset store configured")

// GenerateImage draws an illustration and stores it as an asset. The session
// only records the asset reference. A failed generation changes nothing.
func (e *Engine) GenerateImage(ctx context.Context, req ImageRequest) (*ImageResult, error) {
	if req.SessionID == "" {
		return nil, craftbot.ErrSessionRequired
	}
	if e.images == nil || e.assets == nil {
		return nil, errNoImageBackend
	}

	unlock := e.lifecycle.Locks().Lock(req.SessionID)
	defer unlock()

	s, err := e.loadActive(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}

	idx, resolved := ideas.Resolve(s.LastIdeas, req.IdeaID, req.Text)
	prompt := strings.TrimSpace(req.ImagePrompt)
	result := &ImageResult{}
	if resolved {
		idea := s.LastIdeas[idx]
		result.IdeaID = idea.ID
		result.Title = idea.Title
		if prompt == "" {
			prompt = ideas.PromptFor(idea)
		}
	}
	if prompt == "" {
		prompt = strings.TrimSpace(req.Text)
	}
	if prompt == "" {
		return nil, craftbot.ErrPromptRequired
	}
	prompt = generator.TruncatePrompt(prompt, e.maxPrompt)
	result.PromptUsed = prompt

	img, err := e.images.Generate(ctx, prompt)
	if err != nil {
		e.logger.WarnContext(ctx, "Image generation failed",
			slog.String("session_id", s.ID),
			slog.Any("error", err),
		)
		return nil, err
	}

	ref, err := e.storeImage(ctx, s.ID, img)
	if err != nil {
		return nil, err
	}

	next := s.Clone()
	if resolved {
		next.LastIdeas[idx].GeneratedImageURL = ref
	}
	now := e.lifecycle.Now()
	userText := strings.TrimSpace(req.Text)
	if userText == "" {
		userText = prompt
	}
	next.AppendMessage(craftbot.Message{
		Sender:    craftbot.SenderUser,
		Input:     &craftbot.MessageInput{Type: craftbot.InputText, Text: userText},
		Timestamp: now,
	}, e.maxMessages)
	next.AppendMessage(craftbot.Message{
		Sender: craftbot.SenderAI,
		Output: &craftbot.MessageOutput{
			GeneratedImageURL: ref,
			IdeaID:            result.IdeaID,
		},
		Timestamp: now,
	}, e.maxMessages)

	if err := e.commit(ctx, next, false); err != nil {
		e.discard(ctx, ref)
		return nil, err
	}

	result.ImageURL = ref
	return result, nil
}

func (e *Engine) storeImage(ctx context.Context, sessionID string, img *generator.Image) (string, error) {
	if img.Encoded == "" {
		ref, err := e.assets.Save(ctx, sessionID, img.Data, img.ContentType)
		if err != nil {
			return "", fmt.Errorf("store image: %w", err)
		}
		return ref, nil
	}

	ref, err := e.assets.SaveEncoded(ctx, sessionID, img.Encoded)
	if errors.Is(err, assets.ErrInvalidPayload) {
		return "", &craftbot.ImageGenerationError{Kind: craftbot.ImageFailureGeneric, Err: err}
	}
	if err != nil {
		return "", fmt.Errorf("store image: %w", err)
	}
	return ref, nil
}
