// Package crafts answers domain questions around the chat: whether a message
// is about crafting at all, and which indexed tutorials match new ideas.
package crafts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/creastat/craftbot"
	"github.com/creastat/craftbot/generator"
	"github.com/creastat/craftbot/ideas"
	"github.com/creastat/craftbot/vectorstore"
)

// RelevanceChecker decides whether free text is about crafts or reusable materials.
type RelevanceChecker interface {
	IsCraftRelated(ctx context.Context, text string) (bool, error)
}

// Embedder turns text into a vector for similarity search.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// OpenAIEmbedder implements Embedder with the embeddings API.
type OpenAIEmbedder struct {
	client *openai.Client
	model  openai.EmbeddingModel
}

// NewOpenAIEmbedder creates an embedder. An empty model selects text-embedding-3-small.
func NewOpenAIEmbedder(client *openai.Client, model string) *OpenAIEmbedder {
	m := openai.EmbeddingModel(model)
	if model == "" {
		m = openai.SmallEmbedding3
	}
	return &OpenAIEmbedder{client: client, model: m}
}

// Embed implements Embedder.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: e.model,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("create embedding: empty response")
	}
	return resp.Data[0].Embedding, nil
}

const relevanceSystemPrompt = `You classify messages for an upcycling craft assistant.
Reply with a JSON object: {"craftRelated": true} if the message is about crafts, DIY projects,
or reusable household materials, otherwise {"craftRelated": false}.`

// LLMRelevance asks the language model to classify the message.
type LLMRelevance struct {
	completer generator.Completer
}

// NewLLMRelevance creates a model-backed checker.
func NewLLMRelevance(completer generator.Completer) *LLMRelevance {
	return &LLMRelevance{completer: completer}
}

// IsCraftRelated implements RelevanceChecker.
func (r *LLMRelevance) IsCraftRelated(ctx context.Context, text string) (bool, error) {
	out, err := r.completer.Complete(ctx, generator.CompletionRequest{
		System: relevanceSystemPrompt,
		Prompt: text,
		JSON:   true,
	})
	if err != nil {
		return false, fmt.Errorf("relevance check: %w", err)
	}

	raw, err := ideas.ExtractJSON(out)
	if err != nil {
		return false, &craftbot.ParseError{Shape: "relevance", Err: err}
	}
	var verdict struct {
		CraftRelated *bool `json:"craftRelated"`
	}
	if err := json.Unmarshal([]byte(raw), &verdict); err != nil {
		return false, &craftbot.ParseError{Shape: "relevance", Err: err}
	}
	if verdict.CraftRelated == nil {
		return false, &craftbot.ParseError{Shape: "relevance", Err: errors.New(`missing "craftRelated"`)}
	}
	return *verdict.CraftRelated, nil
}

// DefaultMinScore is the similarity a tutorial needs for a message to count as on topic.
const DefaultMinScore = 0.45

// VectorRelevance treats a message as craft related when it lands near any
// indexed tutorial.
type VectorRelevance struct {
	embedder Embedder
	store    vectorstore.VectorStore
	minScore float32
}

// NewVectorRelevance creates a similarity-backed checker. A non-positive
// minScore selects DefaultMinScore.
func NewVectorRelevance(embedder Embedder, store vectorstore.VectorStore, minScore float32) *VectorRelevance {
	if minScore <= 0 {
		minScore = DefaultMinScore
	}
	return &VectorRelevance{embedder: embedder, store: store, minScore: minScore}
}

// IsCraftRelated implements RelevanceChecker.
func (r *VectorRelevance) IsCraftRelated(ctx context.Context, text string) (bool, error) {
	if strings.TrimSpace(text) == "" {
		return false, nil
	}
	vec, err := r.embedder.Embed(ctx, text)
	if err != nil {
		return false, err
	}
	results, err := r.store.Search(ctx, vec, vectorstore.SearchFilter{MinScore: r.minScore}, 1)
	if err != nil {
		return false, err
	}
	return len(results) > 0, nil
}

// AnyRelevance is positive when any checker is. It fails only when every
// checker failed.
type AnyRelevance []RelevanceChecker

// IsCraftRelated implements RelevanceChecker.
func (a AnyRelevance) IsCraftRelated(ctx context.Context, text string) (bool, error) {
	var errs []error
	for _, c := range a {
		ok, err := c.IsCraftRelated(ctx, text)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			return true, nil
		}
	}
	if len(a) > 0 && len(errs) == len(a) {
		return false, errors.Join(errs...)
	}
	return false, nil
}

var (
	_ RelevanceChecker = (*LLMRelevance)(nil)
	_ RelevanceChecker = (*VectorRelevance)(nil)
	_ RelevanceChecker = AnyRelevance(nil)
	_ Embedder         = (*OpenAIEmbedder)(nil)
)
