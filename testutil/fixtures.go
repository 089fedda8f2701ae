package testutil

import (
	"database/sql"
	"encoding/base64"
	"fmt"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/creastat/craftbot"
)

// A 1x1 transparent PNG.
const pngBase64 = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mNkYPhfDwAChwGA60e6kgAAAABJRU5ErkJggg=="

// PNG returns a tiny valid PNG image.
func PNG() []byte {
	data, _ := base64.StdEncoding.DecodeString(pngBase64)
	return data
}

// PNGBase64 returns the PNG fixture base64 encoded.
func PNGBase64() string { return pngBase64 }

// CreateInMemoryDB opens an in-memory SQLite database for testing.
func CreateInMemoryDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to create in-memory database: %v", err)
	}
	// Every connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// NewSession builds an unsaved active session whose expiry is idle after now.
func NewSession(id string, now time.Time, idle time.Duration) *craftbot.Session {
	return &craftbot.Session{
		ID:             id,
		Materials:      []string{},
		LastIdeas:      []craftbot.Idea{},
		Messages:       []craftbot.Message{},
		Status:         craftbot.StatusActive,
		CreatedAt:      now,
		LastActivityAt: now,
		ExpiresAt:      now.Add(idle),
	}
}

// Ideas builds a batch of n ideas with ids idea_1..idea_n.
func Ideas(n int) []craftbot.Idea {
	out := make([]craftbot.Idea, n)
	for i := range out {
		out[i] = craftbot.Idea{
			ID:            fmt.Sprintf("idea_%d", i+1),
			Title:         fmt.Sprintf("Idea %d", i+1),
			Narration:     fmt.Sprintf("Project number %d", i+1),
			Difficulty:    craftbot.DifficultyEasy,
			ToolsRequired: []string{"scissors"},
			Steps:         []string{"cut", "glue"},
			SafetyNotes:   []string{"mind the edges"},
			ImagePrompt:   fmt.Sprintf("illustration of idea %d", i+1),
		}
	}
	return out
}

// MaterialsJSON renders a materials reply.
func MaterialsJSON(materials ...string) string {
	quoted := make([]string, len(materials))
	for i, m := range materials {
		quoted[i] = fmt.Sprintf("%q", m)
	}
	return `{"materials": [` + strings.Join(quoted, ", ") + `]}`
}

// IdeasJSON renders an ideas reply with n ideas. Ids are left for the parser
// to assign.
func IdeasJSON(n int) string {
	items := make([]string, n)
	for i := range items {
		items[i] = fmt.Sprintf(
			`{"title": "Idea %d", "narration": "Project number %d", "difficulty": "easy", "tools_required": ["scissors"], "steps": ["cut", "glue"], "safety_notes": [], "imagePrompt": "illustration of idea %d"}`,
			i+1, i+1, i+1,
		)
	}
	return "```json\n{\"narration\": \"Here are some ideas.\", \"ideas\": [" + strings.Join(items, ", ") + "]}\n```"
}
