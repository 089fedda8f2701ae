package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/creastat/craftbot"
)

const (
	// DefaultImageTimeout bounds a single image generation call.
	DefaultImageTimeout = 60 * time.Second
	// MaxPromptLength is the longest prompt sent to the image generator, in runes.
	MaxPromptLength = 500

	maxImageBytes = 20 << 20
	maxErrorBytes = 4 << 10
)

// Image is a generated illustration. Providers that answer with base64 set
// Encoded (bare or data URL) instead of Data; the asset store decodes it.
type Image struct {
	Data        []byte
	ContentType string
	Encoded     string
}

// ImageGenerator renders a prompt. Failures are *craftbot.ImageGenerationError.
type ImageGenerator interface {
	Generate(ctx context.Context, prompt string) (*Image, error)
}

// TruncatePrompt trims prompt to at most n runes.
func TruncatePrompt(prompt string, n int) string {
	prompt = strings.TrimSpace(prompt)
	if n <= 0 {
		return prompt
	}
	r := []rune(prompt)
	if len(r) <= n {
		return prompt
	}
	return string(r[:n])
}

// HTTPImageGenerator posts {"prompt": ...} to an endpoint that answers with
// raw image bytes. A response that is not image/* is an error payload.
type HTTPImageGenerator struct {
	endpoint  string
	apiKey    string
	client    *http.Client
	timeout   time.Duration
	maxPrompt int
}

// HTTPImageOption configures an HTTPImageGenerator.
type HTTPImageOption func(*HTTPImageGenerator)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(client *http.Client) HTTPImageOption {
	return func(g *HTTPImageGenerator) {
		if client != nil {
			g.client = client
		}
	}
}

// WithImageTimeout sets the per-call timeout.
func WithImageTimeout(d time.Duration) HTTPImageOption {
	return func(g *HTTPImageGenerator) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// WithMaxPromptLength sets the prompt truncation length.
func WithMaxPromptLength(n int) HTTPImageOption {
	return func(g *HTTPImageGenerator) {
		if n > 0 {
			g.maxPrompt = n
		}
	}
}

// NewHTTPImageGenerator creates a generator for endpoint.
func NewHTTPImageGenerator(endpoint, apiKey string, opts ...HTTPImageOption) *HTTPImageGenerator {
	g := &HTTPImageGenerator{
		endpoint:  endpoint,
		apiKey:    apiKey,
		client:    http.DefaultClient,
		timeout:   DefaultImageTimeout,
		maxPrompt: MaxPromptLength,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate implements ImageGenerator.
func (g *HTTPImageGenerator) Generate(ctx context.Context, prompt string) (*Image, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	body, err := json.Marshal(map[string]string{"prompt": TruncatePrompt(prompt, g.maxPrompt)})
	if err != nil {
		return nil, imageError(0, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, imageError(0, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "image/*")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		if timedOut(ctx, err) {
			return nil, g.timeoutError(0, err)
		}
		return nil, imageError(0, err)
	}
	defer resp.Body.Close()

	contentType := resp.Header.Get("Content-Type")
	mediaType, _, _ := mime.ParseMediaType(contentType)

	if resp.StatusCode < 200 || resp.StatusCode > 299 || !strings.HasPrefix(mediaType, "image/") {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBytes))
		return nil, imageError(resp.StatusCode, fmt.Errorf("upstream responded %s: %s", resp.Status, errorMessage(payload)))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		if timedOut(ctx, err) {
			return nil, g.timeoutError(resp.StatusCode, err)
		}
		return nil, imageError(resp.StatusCode, fmt.Errorf("read image: %w", err))
	}
	if len(data) == 0 {
		return nil, imageError(resp.StatusCode, errors.New("empty image body"))
	}

	return &Image{Data: data, ContentType: mediaType}, nil
}

// timedOut reports whether err stems from a deadline on ctx. A body read cut
// short by the deadline does not always wrap context.DeadlineExceeded.
func timedOut(ctx context.Context, err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded)
}

func (g *HTTPImageGenerator) timeoutError(status int, err error) *craftbot.ImageGenerationError {
	return &craftbot.ImageGenerationError{
		Kind:       craftbot.ImageFailureUpstreamBusy,
		StatusCode: status,
		Err:        fmt.Errorf("timed out after %s: %w", g.timeout, err),
	}
}

// OpenAIImageGenerator renders prompts with the OpenAI images API.
type OpenAIImageGenerator struct {
	client    *openai.Client
	model     string
	size      string
	timeout   time.Duration
	maxPrompt int
}

// NewOpenAIImageGenerator creates a generator. An empty model selects dall-e-3.
func NewOpenAIImageGenerator(client *openai.Client, model string, timeout time.Duration) *OpenAIImageGenerator {
	if model == "" {
		model = openai.CreateImageModelDallE3
	}
	if timeout <= 0 {
		timeout = DefaultImageTimeout
	}
	return &OpenAIImageGenerator{
		client:    client,
		model:     model,
		size:      openai.CreateImageSize1024x1024,
		timeout:   timeout,
		maxPrompt: MaxPromptLength,
	}
}

// Generate implements ImageGenerator.
func (g *OpenAIImageGenerator) Generate(ctx context.Context, prompt string) (*Image, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.client.CreateImage(ctx, openai.ImageRequest{
		Prompt:         TruncatePrompt(prompt, g.maxPrompt),
		Model:          g.model,
		N:              1,
		Size:           g.size,
		ResponseFormat: openai.CreateImageResponseFormatB64JSON,
	})
	if err != nil {
		return nil, imageError(openAIStatus(err), err)
	}
	if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		return nil, imageError(0, errors.New("no image in response"))
	}

	return &Image{Encoded: resp.Data[0].B64JSON, ContentType: "image/png"}, nil
}

func imageError(status int, err error) *craftbot.ImageGenerationError {
	return &craftbot.ImageGenerationError{
		Kind:       craftbot.ImageFailureKindForStatus(status),
		StatusCode: status,
		Err:        err,
	}
}

// errorMessage pulls a message out of a JSON error payload, falling back to the raw text.
func errorMessage(payload []byte) string {
	var body struct {
		Error   any    `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(payload, &body) == nil {
		switch e := body.Error.(type) {
		case string:
			if e != "" {
				return e
			}
		case map[string]any:
			if msg, ok := e["message"].(string); ok && msg != "" {
				return msg
			}
		}
		if body.Message != "" {
			return body.Message
		}
	}
	text := strings.TrimSpace(string(payload))
	if text == "" {
		return "no details"
	}
	return text
}

func openAIStatus(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}

var (
	_ ImageGenerator = (*HTTPImageGenerator)(nil)
	_ ImageGenerator = (*OpenAIImageGenerator)(nil)
)
