// Package mode decides how a chat turn is answered: a fresh idea batch, a
// follow-up from existing context, or an off-topic refusal.
package mode

import (
	"regexp"
	"strconv"
	"strings"
)

// Mode is the outcome of classifying a turn.
type Mode int

const (
	// ExtractAndGenerate extracts materials and produces a new idea batch.
	ExtractAndGenerate Mode = iota
	// FollowUp answers from the session's existing materials and ideas.
	FollowUp
	// OffTopic ends the turn with fixed guidance and no ideas.
	OffTopic
)

func (m Mode) String() string {
	switch m {
	case ExtractAndGenerate:
		return "extract_and_generate"
	case FollowUp:
		return "follow_up"
	case OffTopic:
		return "off_topic"
	default:
		return "unknown"
	}
}

const (
	// DefaultCount is the batch size when the user names none.
	DefaultCount = 3
	// MinCount is the floor applied to any requested batch size.
	MinCount = 3
	// MaxCount is the largest batch size a user can request.
	MaxCount = 10
)

var numberWords = map[string]int{
	"one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
	"six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10,
}

// A count directly followed by the noun ("5 ideas", "three crafts").
var quantityPattern = regexp.MustCompile(
	`(?i)\b(10|[1-9]|one|two|three|four|five|six|seven|eight|nine|ten)\s+(ideas?|crafts?|projects?|items?|things?)\b`,
)

var newIdeaPhrases = []string{
	"new ideas",
	"more ideas",
	"another",
	"different ideas",
	"generate again",
	"give me",
	"show me",
}

// Input is everything the classifier looks at.
type Input struct {
	HasImage  bool
	Text      string
	Materials []string
	IdeaCount int // size of the session's current batch
	Messages  int // stored history length
}

// Decision is the classifier's verdict for one turn.
type Decision struct {
	Mode           Mode
	HasContext     bool
	WantsNewIdeas  bool
	ShouldExtract  bool
	RequestedCount int
	// FirstTurn is set when the session has no materials, ideas or history.
	FirstTurn bool
}

// Classify routes a turn. It never returns OffTopic; that verdict needs the
// external relevance check, see NeedsTopicalityCheck.
func Classify(in Input) Decision {
	d := Decision{
		HasContext:     len(in.Materials) > 0 || in.IdeaCount > 0,
		WantsNewIdeas:  WantsNewIdeas(in.Text),
		RequestedCount: RequestedCount(in.Text),
	}
	d.FirstTurn = !d.HasContext && in.Messages == 0
	d.ShouldExtract = in.HasImage || d.WantsNewIdeas || !d.HasContext

	if !d.ShouldExtract {
		d.Mode = FollowUp
		return d
	}
	d.Mode = ExtractAndGenerate
	return d
}

// WantsNewIdeas reports whether text asks for a new batch, either by naming a
// quantity of ideas or by using one of the regeneration phrases.
func WantsNewIdeas(text string) bool {
	if quantityPattern.MatchString(text) {
		return true
	}
	lower := strings.ToLower(text)
	for _, phrase := range newIdeaPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// RequestedCount returns the batch size asked for in text, clamped to
// [MinCount, MaxCount]. Without a quantity it returns DefaultCount.
func RequestedCount(text string) int {
	m := quantityPattern.FindStringSubmatch(text)
	if m == nil {
		return DefaultCount
	}

	word := strings.ToLower(m[1])
	n, ok := numberWords[word]
	if !ok {
		var err error
		if n, err = strconv.Atoi(word); err != nil {
			return DefaultCount
		}
	}
	return clamp(n)
}

// NeedsTopicalityCheck reports whether a generation turn must be confirmed as
// craft-related: only on the first turn, when extraction found nothing.
func NeedsTopicalityCheck(d Decision, extracted []string) bool {
	return d.Mode == ExtractAndGenerate && d.FirstTurn && len(extracted) == 0
}

func clamp(n int) int {
	if n < MinCount {
		return MinCount
	}
	if n > MaxCount {
		return MaxCount
	}
	return n
}
