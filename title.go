package craftbot

import "strings"

const maxTitleRunes = 60

// DeriveTitle computes a listing title from the first user text, falling back
// to the material list. The title is informational only.
func DeriveTitle(s *Session) string {
	for _, m := range s.Messages {
		if m.Sender == SenderUser && m.Input != nil {
			if text := strings.Join(strings.Fields(m.Input.Text), " "); text != "" {
				return truncateRunes(text, maxTitleRunes)
			}
		}
	}
	if len(s.Materials) > 0 {
		return truncateRunes("Ideas for "+strings.Join(s.Materials, ", "), maxTitleRunes)
	}
	return "Untitled session"
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
