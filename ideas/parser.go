package ideas

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/creastat/craftbot"
)

// Output shapes understood at the generator boundary.
const (
	ShapeMaterials = "materials"
	ShapeIdeas     = "ideas"
	ShapeNarration = "narration"
)

var errNoJSON = errors.New("no JSON object found")

// Batch is a parsed generation result.
type Batch struct {
	Narration string
	Ideas     []craftbot.Idea
}

// ExtractJSON returns the JSON object carried by generator output. Code fences
// are stripped; when the rest is not valid JSON the first balanced {...} block
// is used instead.
func ExtractJSON(output string) (string, error) {
	output = stripFences(strings.TrimSpace(output))
	if output == "" {
		return "", errNoJSON
	}
	if strings.HasPrefix(output, "{") && json.Valid([]byte(output)) {
		return output, nil
	}

	block, ok := firstObject(output)
	if !ok {
		return "", errNoJSON
	}
	if !json.Valid([]byte(block)) {
		return "", fmt.Errorf("malformed JSON object: %.80q", block)
	}
	return block, nil
}

// ParseMaterials parses {"materials": [...]}. Names are trimmed and
// de-duplicated case-insensitively; an empty list is valid.
func ParseMaterials(output string) ([]string, error) {
	raw, err := ExtractJSON(output)
	if err != nil {
		return nil, &craftbot.ParseError{Shape: ShapeMaterials, Err: err}
	}

	var payload struct {
		Materials *[]string `json:"materials"`
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, &craftbot.ParseError{Shape: ShapeMaterials, Err: err}
	}
	if payload.Materials == nil {
		return nil, &craftbot.ParseError{Shape: ShapeMaterials, Err: errors.New(`missing "materials"`)}
	}

	out := make([]string, 0, len(*payload.Materials))
	seen := make(map[string]bool)
	for _, m := range *payload.Materials {
		m = strings.TrimSpace(m)
		key := strings.ToLower(m)
		if m == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, m)
	}
	return out, nil
}

// ParseIdeas parses {"narration": "...", "ideas": [...]}. At least one idea
// with a title is required. Ids are assigned where the generator left none.
func ParseIdeas(output string) (*Batch, error) {
	raw, err := ExtractJSON(output)
	if err != nil {
		return nil, &craftbot.ParseError{Shape: ShapeIdeas, Err: err}
	}

	var payload struct {
		Narration string          `json:"narration"`
		Ideas     []craftbot.Idea `json:"ideas"`
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, &craftbot.ParseError{Shape: ShapeIdeas, Err: err}
	}
	if len(payload.Ideas) == 0 {
		return nil, &craftbot.ParseError{Shape: ShapeIdeas, Err: errors.New(`missing "ideas"`)}
	}

	for i := range payload.Ideas {
		idea := &payload.Ideas[i]
		idea.Title = strings.TrimSpace(idea.Title)
		if idea.Title == "" {
			return nil, &craftbot.ParseError{Shape: ShapeIdeas, Err: fmt.Errorf("idea %d has no title", i+1)}
		}
		idea.Difficulty = normalizeDifficulty(idea.Difficulty)
		idea.GeneratedImageURL = ""
		idea.ToolsRequired = nonNil(idea.ToolsRequired)
		idea.Steps = nonNil(idea.Steps)
		idea.SafetyNotes = nonNil(idea.SafetyNotes)
	}
	AssignIDs(payload.Ideas)

	return &Batch{
		Narration: strings.TrimSpace(payload.Narration),
		Ideas:     payload.Ideas,
	}, nil
}

// ParseNarration reads a follow-up answer, which may be plain text or
// {"narration": "..."}. Empty output is an error.
func ParseNarration(output string) (string, error) {
	if raw, err := ExtractJSON(output); err == nil {
		var payload struct {
			Narration string `json:"narration"`
		}
		if json.Unmarshal([]byte(raw), &payload) == nil && strings.TrimSpace(payload.Narration) != "" {
			return strings.TrimSpace(payload.Narration), nil
		}
	}

	text := strings.TrimSpace(stripFences(strings.TrimSpace(output)))
	if text == "" || strings.HasPrefix(text, "{") {
		return "", &craftbot.ParseError{Shape: ShapeNarration, Err: errors.New("empty narration")}
	}
	return text, nil
}

// stripFences removes a surrounding ``` or ```json code fence.
func stripFences(s string) string {
	if !strings.HasPrefix(s, "```") || !strings.HasSuffix(s, "```") || len(s) < 6 {
		return s
	}
	body := strings.TrimSuffix(s[3:], "```")
	// Drop the language tag line.
	if nl := strings.Index(body, "\n"); nl >= 0 {
		tag := strings.TrimSpace(body[:nl])
		if tag == "" || !strings.ContainsAny(tag, "{}[]\"") {
			body = body[nl+1:]
		}
	}
	return strings.TrimSpace(body)
}

// firstObject scans for the first balanced {...} block, ignoring braces inside
// JSON strings.
func firstObject(s string) (string, bool) {
	start := strings.Index(s, "{")
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

func normalizeDifficulty(d string) string {
	switch strings.ToLower(strings.TrimSpace(d)) {
	case craftbot.DifficultyEasy, "beginner":
		return craftbot.DifficultyEasy
	case craftbot.DifficultyMedium, "intermediate", "moderate":
		return craftbot.DifficultyMedium
	case craftbot.DifficultyHard, "advanced", "difficult":
		return craftbot.DifficultyHard
	default:
		return ""
	}
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
