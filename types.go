package craftbot

import "time"

// Status is the lifecycle state of a session.
type Status string

const (
	StatusActive  Status = "active"
	StatusExpired Status = "expired"
	StatusEnded   Status = "ended"
)

// Terminal reports whether the status can no longer change.
func (s Status) Terminal() bool {
	return s == StatusExpired || s == StatusEnded
}

// Sender identifies who appended a message.
type Sender string

const (
	SenderUser Sender = "user"
	SenderAI   Sender = "ai"
)

// InputType is the modality of a user message.
type InputType string

const (
	InputText  InputType = "text"
	InputImage InputType = "image"
	InputAudio InputType = "audio"
)

// Difficulty levels an idea may carry.
const (
	DifficultyEasy   = "easy"
	DifficultyMedium = "medium"
	DifficultyHard   = "hard"
)

// Idea is one generated craft project. IDs are unique within the batch that
// produced them and are not stable across regenerations.
type Idea struct {
	ID                string   `json:"ideaId"`
	Title             string   `json:"title"`
	Narration         string   `json:"narration"`
	Difficulty        string   `json:"difficulty,omitempty"`
	ToolsRequired     []string `json:"tools_required"`
	Steps             []string `json:"steps"`
	SafetyNotes       []string `json:"safety_notes"`
	ImagePrompt       string   `json:"imagePrompt,omitempty"`
	GeneratedImageURL string   `json:"generatedImageUrl,omitempty"`
}

// MessageInput is the payload of a user message.
type MessageInput struct {
	Type     InputType `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL string    `json:"imageUrl,omitempty"`
}

// MessageOutput is the payload of an AI message.
type MessageOutput struct {
	Narration         string `json:"narration,omitempty"`
	Ideas             []Idea `json:"ideas,omitempty"`
	GeneratedImageURL string `json:"generatedImageUrl,omitempty"`
	IdeaID            string `json:"ideaId,omitempty"`
}

// Message is a single conversation turn. Messages are never modified once appended.
type Message struct {
	Sender    Sender         `json:"sender"`
	Input     *MessageInput  `json:"input,omitempty"`
	Output    *MessageOutput `json:"output,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Session is one conversation thread with its materials, idea batch and expiry clock.
//
// While Status is active, ExpiresAt equals LastActivityAt plus the idle window as of
// the last touch. Once the status leaves active it never returns.
type Session struct {
	ID             string     `json:"sessionId"`
	UserID         string     `json:"userId,omitempty"`
	Materials      []string   `json:"materials"`
	LastIdeas      []Idea     `json:"lastIdeas"`
	Messages       []Message  `json:"messages"`
	Status         Status     `json:"status"`
	ExpiresAt      time.Time  `json:"expiresAt"`
	LastActivityAt time.Time  `json:"lastActivityAt"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
	EndedAt        *time.Time `json:"endedAt,omitempty"`
	Title          string     `json:"title,omitempty"`
	Version        int64      `json:"version"` // Monotonically increasing for optimistic locking
}

// Summary is the listing projection of a session.
type Summary struct {
	ID             string     `json:"sessionId"`
	UserID         string     `json:"userId,omitempty"`
	Title          string     `json:"title"`
	Status         Status     `json:"status"`
	MessageCount   int        `json:"messageCount"`
	IdeaCount      int        `json:"ideaCount"`
	CreatedAt      time.Time  `json:"createdAt"`
	LastActivityAt time.Time  `json:"lastActivityAt"`
	ExpiresAt      time.Time  `json:"expiresAt"`
	EndedAt        *time.Time `json:"endedAt,omitempty"`
}

// IsActive reports whether the session still accepts mutations.
func (s *Session) IsActive() bool {
	return s.Status == StatusActive
}

// Overdue reports whether an active session has passed its expiry at now.
func (s *Session) Overdue(now time.Time) bool {
	return s.Status == StatusActive && now.After(s.ExpiresAt)
}

// Overdue reports whether the listed session is active past its expiry.
func (s Summary) Overdue(now time.Time) bool {
	return s.Status == StatusActive && now.After(s.ExpiresAt)
}

// Summarize projects the session to its listing fields.
func (s *Session) Summarize() Summary {
	return Summary{
		ID:             s.ID,
		UserID:         s.UserID,
		Title:          s.Title,
		Status:         s.Status,
		MessageCount:   len(s.Messages),
		IdeaCount:      len(s.LastIdeas),
		CreatedAt:      s.CreatedAt,
		LastActivityAt: s.LastActivityAt,
		ExpiresAt:      s.ExpiresAt,
		EndedAt:        s.EndedAt,
	}
}

// AppendMessage appends m to the history. When maxMessages is positive the oldest
// messages beyond that bound are dropped.
func (s *Session) AppendMessage(m Message, maxMessages int) {
	s.Messages = append(s.Messages, m)
	if maxMessages > 0 && len(s.Messages) > maxMessages {
		s.Messages = append([]Message(nil), s.Messages[len(s.Messages)-maxMessages:]...)
	}
}

// Clone returns a deep copy of the session. Stores hand out clones so callers
// never alias persisted state.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.Materials = cloneStrings(s.Materials)
	out.LastIdeas = CloneIdeas(s.LastIdeas)
	if s.Messages != nil {
		out.Messages = make([]Message, len(s.Messages))
		for i, m := range s.Messages {
			out.Messages[i] = m.clone()
		}
	}
	if s.EndedAt != nil {
		t := *s.EndedAt
		out.EndedAt = &t
	}
	return &out
}

// CloneIdeas deep-copies an idea batch.
func CloneIdeas(batch []Idea) []Idea {
	if batch == nil {
		return nil
	}
	out := make([]Idea, len(batch))
	for i, idea := range batch {
		out[i] = idea
		out[i].ToolsRequired = cloneStrings(idea.ToolsRequired)
		out[i].Steps = cloneStrings(idea.Steps)
		out[i].SafetyNotes = cloneStrings(idea.SafetyNotes)
	}
	return out
}

func (m Message) clone() Message {
	if m.Input != nil {
		in := *m.Input
		m.Input = &in
	}
	if m.Output != nil {
		o := *m.Output
		o.Ideas = CloneIdeas(m.Output.Ideas)
		m.Output = &o
	}
	return m
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string(nil), in...)
}
