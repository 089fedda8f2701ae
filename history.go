package craftbot

import "strings"

// MemoryWindow is the number of trailing messages rendered into a transcript.
const MemoryWindow = 10

// RenderMessage renders a message as a transcript line. It returns "" for
// messages that carry no text.
func RenderMessage(m Message) string {
	switch m.Sender {
	case SenderUser:
		if m.Input == nil || strings.TrimSpace(m.Input.Text) == "" {
			return ""
		}
		return "USER: " + strings.TrimSpace(m.Input.Text)
	case SenderAI:
		if m.Output == nil || strings.TrimSpace(m.Output.Narration) == "" {
			return ""
		}
		return "AI: " + strings.TrimSpace(m.Output.Narration)
	}
	return ""
}

// TruncateHistory truncates the conversation history based on token and message limits.
// It applies the message limit first, then the token limit, removing oldest messages
// as needed. A non-positive limit disables that bound.
func TruncateHistory(history []Message, tokenLimit, messageLimit int) []Message {
	if len(history) == 0 {
		return history
	}

	if messageLimit > 0 && len(history) > messageLimit {
		history = history[len(history)-messageLimit:]
	}

	if tokenLimit <= 0 {
		return history
	}

	totalTokens := 0
	counts := make([]int, len(history))
	for i, msg := range history {
		counts[i] = EstimateTokens(RenderMessage(msg))
		totalTokens += counts[i]
	}

	for totalTokens > tokenLimit && len(history) > 0 {
		totalTokens -= counts[0]
		counts = counts[1:]
		history = history[1:]
	}

	return history
}

// BuildTranscript renders the last n messages in chronological order, one line
// per message, skipping messages that render empty. A positive tokenBudget
// drops further old messages until the rest fits. It is rebuilt from scratch
// on every call.
func BuildTranscript(history []Message, n, tokenBudget int) string {
	window := TruncateHistory(history, tokenBudget, n)
	lines := make([]string, 0, len(window))
	for _, m := range window {
		if line := RenderMessage(m); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}
