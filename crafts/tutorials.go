package crafts

import (
	"context"
	"strings"

	"github.com/creastat/craftbot"
	"github.com/creastat/craftbot/vectorstore"
)

// Link is a tutorial suggested for an idea.
type Link struct {
	IdeaID string  `json:"ideaId"`
	Title  string  `json:"title"`
	URL    string  `json:"url"`
	Score  float32 `json:"score"`
}

// TutorialIndex finds indexed video tutorials for generated ideas.
type TutorialIndex struct {
	embedder Embedder
	store    vectorstore.VectorStore
	perIdea  int
	minScore float32
}

// NewTutorialIndex creates an index lookup returning up to perIdea links per idea.
func NewTutorialIndex(embedder Embedder, store vectorstore.VectorStore, perIdea int, minScore float32) *TutorialIndex {
	if perIdea <= 0 {
		perIdea = 1
	}
	return &TutorialIndex{
		embedder: embedder,
		store:    store,
		perIdea:  perIdea,
		minScore: minScore,
	}
}

// Links returns tutorial links for the batch, each URL at most once, in
// batch order.
func (t *TutorialIndex) Links(ctx context.Context, batch []craftbot.Idea) ([]Link, error) {
	links := []Link{}
	seen := make(map[string]bool)

	for _, idea := range batch {
		query := strings.TrimSpace(idea.Title + " " + idea.Narration)
		if query == "" {
			continue
		}

		vec, err := t.embedder.Embed(ctx, query)
		if err != nil {
			return nil, err
		}
		results, err := t.store.Search(ctx, vec, vectorstore.SearchFilter{
			Kinds:    []string{"video"},
			MinScore: t.minScore,
		}, t.perIdea)
		if err != nil {
			return nil, err
		}

		for _, r := range results {
			if r.URL == "" || seen[r.URL] {
				continue
			}
			seen[r.URL] = true
			links = append(links, Link{
				IdeaID: idea.ID,
				Title:  r.Title,
				URL:    r.URL,
				Score:  r.Score,
			})
		}
	}
	return links, nil
}
