// Package ideas manages a session's current idea batch: id assignment,
// addressing by id or ordinal, and parsing generator output into batches.
package ideas

import (
	"strconv"
	"strings"

	"github.com/creastat/craftbot"
)

// IDPrefix prefixes ids assigned to ideas the generator left unnamed.
const IDPrefix = "idea_"

// Ordinal words in resolution priority; the index is the batch position.
var ordinals = []string{"first", "second", "third"}

// AssignIDs gives every idea without an id (or with a duplicate one) the id
// idea_<position>, counting from 1.
func AssignIDs(batch []craftbot.Idea) {
	seen := make(map[string]bool, len(batch))
	for i := range batch {
		id := strings.TrimSpace(batch[i].ID)
		if id == "" || seen[id] {
			id = IDPrefix + strconv.Itoa(i+1)
			for n := 2; seen[id]; n++ {
				id = IDPrefix + strconv.Itoa(i+1) + "_" + strconv.Itoa(n)
			}
		}
		batch[i].ID = id
		seen[id] = true
	}
}

// Replace installs batch as the session's current ideas. The previous batch
// is discarded; nothing from it stays addressable.
func Replace(s *craftbot.Session, batch []craftbot.Idea) {
	s.LastIdeas = craftbot.CloneIdeas(batch)
	if s.LastIdeas == nil {
		s.LastIdeas = []craftbot.Idea{}
	}
}

// Resolve finds the idea a request refers to: an exact id match first, then
// the first ordinal word ("first", "second", "third") found in text.
func Resolve(batch []craftbot.Idea, ideaID, text string) (int, bool) {
	if ideaID != "" {
		for i, idea := range batch {
			if idea.ID == ideaID {
				return i, true
			}
		}
	}

	lower := strings.ToLower(text)
	for pos, word := range ordinals {
		if strings.Contains(lower, word) {
			if pos < len(batch) {
				return pos, true
			}
			return -1, false
		}
	}
	return -1, false
}

// PromptFor returns the illustration prompt of an idea, falling back to its
// title and description.
func PromptFor(idea craftbot.Idea) string {
	if p := strings.TrimSpace(idea.ImagePrompt); p != "" {
		return p
	}
	parts := make([]string, 0, 2)
	if t := strings.TrimSpace(idea.Title); t != "" {
		parts = append(parts, t)
	}
	if n := strings.TrimSpace(idea.Narration); n != "" {
		parts = append(parts, n)
	}
	return strings.Join(parts, ": ")
}
