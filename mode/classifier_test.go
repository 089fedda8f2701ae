package mode_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/creastat/craftbot/mode"
)

func TestWantsNewIdeas(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"give me 5 ideas", true},
		{"I want three crafts", true},
		{"show 2 more projects please", false},
		{"which tools do the 2 hardest projects need?", false},
		{"three easy crafts", false},
		{"10 things to make", true},
		{"1 idea", true},
		{"any NEW IDEAS?", true},
		{"something different ideas wise", true},
		{"try another", true},
		{"generate again", true},
		{"Show me what else", true},
		{"tell me more", false},
		{"how long does the second one take?", false},
		{"what glue should I use", false},
		{"15 ideas", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, mode.WantsNewIdeas(tt.text))
		})
	}
}

func TestRequestedCount(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"give me 5 ideas", 5},
		{"give me 4 ideas", 4},
		{"seven crafts please", 7},
		{"Ten Projects", 10},
		{"1 idea", 3},
		{"two ideas", 3},
		{"some ideas", 3},
		{"", 3},
		{"6 easy projects", 3},
		{"6 projects", 6},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got := mode.RequestedCount(tt.text)
			assert.Equal(t, tt.want, got)
			assert.GreaterOrEqual(t, got, mode.MinCount)
		})
	}
}

func TestClassify(t *testing.T) {
	materials := []string{"glass bottle"}

	tests := []struct {
		name string
		in   mode.Input
		want mode.Mode
	}{
		{
			name: "first turn without context generates",
			in:   mode.Input{Text: "what can I make?"},
			want: mode.ExtractAndGenerate,
		},
		{
			name: "context and plain question follows up",
			in:   mode.Input{Text: "tell me more", Materials: materials, IdeaCount: 3},
			want: mode.FollowUp,
		},
		{
			name: "ideas alone count as context",
			in:   mode.Input{Text: "more about the second one", IdeaCount: 4},
			want: mode.FollowUp,
		},
		{
			name: "image forces extraction",
			in:   mode.Input{HasImage: true, Text: "tell me more", Materials: materials},
			want: mode.ExtractAndGenerate,
		},
		{
			name: "number before a qualified noun follows up",
			in:   mode.Input{Text: "which tools do the 2 hardest projects need?", Materials: materials, IdeaCount: 4},
			want: mode.FollowUp,
		},
		{
			name: "explicit quantity regenerates",
			in:   mode.Input{Text: "give me 6 ideas", Materials: materials, IdeaCount: 3},
			want: mode.ExtractAndGenerate,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := mode.Classify(tt.in)
			assert.Equal(t, tt.want, d.Mode)

			followUp := d.HasContext && !d.WantsNewIdeas && !tt.in.HasImage
			assert.Equal(t, followUp, d.Mode == mode.FollowUp)
		})
	}
}

func TestNeedsTopicalityCheck(t *testing.T) {
	first := mode.Classify(mode.Input{Text: "hello there"})
	assert.True(t, first.FirstTurn)
	assert.True(t, mode.NeedsTopicalityCheck(first, nil))
	assert.False(t, mode.NeedsTopicalityCheck(first, []string{"cardboard"}))

	later := mode.Classify(mode.Input{Text: "give me 3 ideas", Materials: []string{"jar"}})
	assert.False(t, mode.NeedsTopicalityCheck(later, nil))

	followUp := mode.Classify(mode.Input{Text: "ok", IdeaCount: 3})
	assert.False(t, mode.NeedsTopicalityCheck(followUp, nil))

	// A later turn that asks for more ideas without materials on record.
	regenerate := mode.Classify(mode.Input{Text: "give me 3 more ideas", IdeaCount: 3, Messages: 2})
	assert.Equal(t, mode.ExtractAndGenerate, regenerate.Mode)
	assert.False(t, regenerate.FirstTurn)
	assert.False(t, mode.NeedsTopicalityCheck(regenerate, nil))

	historyOnly := mode.Classify(mode.Input{Text: "hello again", Messages: 2})
	assert.False(t, historyOnly.FirstTurn)
}

func TestModeString(t *testing.T) {
	assert.Equal(t, "follow_up", mode.FollowUp.String())
	assert.Equal(t, "off_topic", mode.OffTopic.String())
	assert.Equal(t, "extract_and_generate", mode.ExtractAndGenerate.String())
}
