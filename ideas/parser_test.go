package ideas_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creastat/craftbot"
	"github.com/creastat/craftbot/ideas"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{
			name:  "bare object",
			input: `{"materials":["jar"]}`,
			want:  `{"materials":["jar"]}`,
		},
		{
			name:  "json fence",
			input: "```json\n{\"materials\":[\"jar\"]}\n```",
			want:  `{"materials":["jar"]}`,
		},
		{
			name:  "plain fence",
			input: "```\n{\"a\":1}\n```",
			want:  `{"a":1}`,
		},
		{
			name:  "prose around object",
			input: "Sure! Here you go: {\"a\": {\"b\": \"}\"}} Enjoy.",
			want:  `{"a": {"b": "}"}}`,
		},
		{
			name:  "fence inside prose",
			input: "Result:\n```json\n{\"a\":1}\n```",
			want:  `{"a":1}`,
		},
		{
			name:    "no object",
			input:   "I cannot help with that.",
			wantErr: true,
		},
		{
			name:    "unbalanced",
			input:   `{"a": [1, 2`,
			wantErr: true,
		},
		{
			name:    "empty",
			input:   "   ",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ideas.ExtractJSON(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, got)
		})
	}
}

func TestParseMaterials(t *testing.T) {
	got, err := ideas.ParseMaterials("```json\n{\"materials\": [\" Glass bottle \", \"glass bottle\", \"\", \"cardboard box\"]}\n```")
	require.NoError(t, err)
	assert.Equal(t, []string{"Glass bottle", "cardboard box"}, got)

	empty, err := ideas.ParseMaterials(`{"materials": []}`)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestParseMaterials_Invalid(t *testing.T) {
	for _, input := range []string{
		"no json here",
		`{"items": ["jar"]}`,
		`{"materials": "jar"}`,
	} {
		_, err := ideas.ParseMaterials(input)
		require.Error(t, err, input)
		assert.True(t, errors.Is(err, craftbot.ErrAIInvalidResponse), input)

		var perr *craftbot.ParseError
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, ideas.ShapeMaterials, perr.Shape)
	}
}

func TestParseIdeas(t *testing.T) {
	output := `Here are your ideas:
{
  "narration": "Three fun projects.",
  "ideas": [
    {"title": "Bottle lamp", "narration": "Light it up", "difficulty": "Beginner",
     "tools_required": ["drill"], "steps": ["clean", "drill"], "safety_notes": ["wear gloves"],
     "imagePrompt": "a glowing bottle lamp"},
    {"ideaId": "box-fort", "title": "Box fort", "difficulty": "hard", "generatedImageUrl": "http://x"},
    {"title": "Planter"}
  ]
}`

	batch, err := ideas.ParseIdeas(output)
	require.NoError(t, err)
	assert.Equal(t, "Three fun projects.", batch.Narration)
	require.Len(t, batch.Ideas, 3)

	assert.Equal(t, "idea_1", batch.Ideas[0].ID)
	assert.Equal(t, craftbot.DifficultyEasy, batch.Ideas[0].Difficulty)
	assert.Equal(t, []string{"drill"}, batch.Ideas[0].ToolsRequired)
	assert.Equal(t, "a glowing bottle lamp", batch.Ideas[0].ImagePrompt)

	assert.Equal(t, "box-fort", batch.Ideas[1].ID)
	assert.Equal(t, craftbot.DifficultyHard, batch.Ideas[1].Difficulty)
	assert.Empty(t, batch.Ideas[1].GeneratedImageURL)

	assert.Equal(t, "idea_3", batch.Ideas[2].ID)
	assert.NotNil(t, batch.Ideas[2].Steps)
	assert.Empty(t, batch.Ideas[2].Difficulty)
}

func TestParseIdeas_Invalid(t *testing.T) {
	tests := map[string]string{
		"not json":      "Sorry, no ideas today",
		"no ideas":      `{"narration": "hi"}`,
		"empty ideas":   `{"narration": "hi", "ideas": []}`,
		"untitled idea": `{"ideas": [{"narration": "x"}]}`,
		"wrong type":    `{"ideas": "lamp"}`,
	}

	for name, input := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ideas.ParseIdeas(input)
			require.Error(t, err)
			assert.ErrorIs(t, err, craftbot.ErrAIInvalidResponse)
		})
	}
}

func TestParseNarration(t *testing.T) {
	got, err := ideas.ParseNarration(`{"narration": "Use hot glue."}`)
	require.NoError(t, err)
	assert.Equal(t, "Use hot glue.", got)

	got, err = ideas.ParseNarration("  Sand the edges first.  ")
	require.NoError(t, err)
	assert.Equal(t, "Sand the edges first.", got)

	_, err = ideas.ParseNarration("")
	assert.ErrorIs(t, err, craftbot.ErrAIInvalidResponse)

	_, err = ideas.ParseNarration(`{"answer": 1}`)
	assert.ErrorIs(t, err, craftbot.ErrAIInvalidResponse)
}
