package generator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/creastat/craftbot"
	"github.com/creastat/craftbot/ideas"
)

// DefaultTimeout bounds each language model call.
const DefaultTimeout = 90 * time.Second

const extractSystemPrompt = `You identify reusable household materials for upcycling crafts.
Reply with a JSON object: {"materials": ["..."]}.
List each distinct material the user has, using short lowercase names.
If the input mentions no usable materials, reply {"materials": []}.`

const ideasSystemPrompt = `You are a friendly upcycling craft assistant.
Reply with a JSON object:
{"narration": "short intro", "ideas": [{"ideaId": "idea_1", "title": "...", "narration": "one or two sentences",
"difficulty": "easy|medium|hard", "tools_required": ["..."], "steps": ["..."], "safety_notes": ["..."],
"imagePrompt": "a visual description of the finished project"}]}.
Only use the listed materials plus common tools.`

const followUpSystemPrompt = `You are a friendly upcycling craft assistant continuing a conversation.
Answer the user's latest message using the conversation, the materials and the current ideas.
Do not propose a new list of ideas. Reply with plain text or {"narration": "..."}.`

// GenerateRequest describes a new idea batch.
type GenerateRequest struct {
	Text       string
	Materials  []string
	Count      int
	Transcript string
}

// FollowUpRequest describes a conversational answer from existing context.
type FollowUpRequest struct {
	Text       string
	Transcript string
	Materials  []string
	Ideas      []craftbot.Idea
}

// Service turns chat turns into model prompts and parses the replies at the
// boundary. Unparsable output fails the call.
type Service struct {
	completer Completer
	timeout   time.Duration
	logger    *slog.Logger
}

// NewService creates a Service. A non-positive timeout selects DefaultTimeout.
func NewService(completer Completer, timeout time.Duration, logger *slog.Logger) *Service {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		completer: completer,
		timeout:   timeout,
		logger:    logger.With(slog.String("component", "generator")),
	}
}

// Completer returns the underlying model client.
func (s *Service) Completer() Completer { return s.completer }

// ExtractMaterials lists the materials in the user's text and optional photo.
func (s *Service) ExtractMaterials(ctx context.Context, text string, image []byte, imageType string) ([]string, error) {
	prompt := strings.TrimSpace(text)
	if prompt == "" {
		prompt = "What materials are in this photo?"
	}

	out, err := s.complete(ctx, CompletionRequest{
		System:    extractSystemPrompt,
		Prompt:    prompt,
		Image:     image,
		ImageType: imageType,
		JSON:      true,
	})
	if err != nil {
		return nil, fmt.Errorf("extract materials: %w", err)
	}
	return ideas.ParseMaterials(out)
}

// GenerateIdeas produces a batch of at most req.Count ideas.
func (s *Service) GenerateIdeas(ctx context.Context, req GenerateRequest) (*ideas.Batch, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Materials: %s\n", strings.Join(req.Materials, ", "))
	fmt.Fprintf(&b, "Give exactly %d ideas.\n", req.Count)
	if req.Transcript != "" {
		fmt.Fprintf(&b, "Conversation so far:\n%s\n", req.Transcript)
	}
	if t := strings.TrimSpace(req.Text); t != "" {
		fmt.Fprintf(&b, "User request: %s\n", t)
	}

	out, err := s.complete(ctx, CompletionRequest{
		System: ideasSystemPrompt,
		Prompt: b.String(),
		JSON:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("generate ideas: %w", err)
	}

	batch, err := ideas.ParseIdeas(out)
	if err != nil {
		return nil, err
	}
	if req.Count > 0 && len(batch.Ideas) > req.Count {
		batch.Ideas = batch.Ideas[:req.Count]
	}
	if len(batch.Ideas) < req.Count {
		s.logger.WarnContext(ctx, "Generator returned fewer ideas than requested",
			slog.Int("requested", req.Count),
			slog.Int("returned", len(batch.Ideas)),
		)
	}
	return batch, nil
}

// FollowUp answers the latest message without producing new ideas.
func (s *Service) FollowUp(ctx context.Context, req FollowUpRequest) (string, error) {
	var b strings.Builder
	if len(req.Materials) > 0 {
		fmt.Fprintf(&b, "Materials: %s\n", strings.Join(req.Materials, ", "))
	}
	if len(req.Ideas) > 0 {
		b.WriteString("Current ideas:\n")
		for i, idea := range req.Ideas {
			fmt.Fprintf(&b, "%d. [%s] %s: %s\n", i+1, idea.ID, idea.Title, idea.Narration)
		}
	}
	if req.Transcript != "" {
		fmt.Fprintf(&b, "Conversation so far:\n%s\n", req.Transcript)
	}
	fmt.Fprintf(&b, "User: %s\n", strings.TrimSpace(req.Text))

	out, err := s.complete(ctx, CompletionRequest{
		System: followUpSystemPrompt,
		Prompt: b.String(),
	})
	if err != nil {
		return "", fmt.Errorf("follow up: %w", err)
	}
	return ideas.ParseNarration(out)
}

func (s *Service) complete(ctx context.Context, req CompletionRequest) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	out, err := s.completer.Complete(ctx, req)
	s.logger.DebugContext(ctx, "Completion finished",
		slog.Duration("duration", time.Since(start)),
		slog.Bool("with_image", len(req.Image) > 0),
		slog.Bool("ok", err == nil),
	)
	return out, err
}
