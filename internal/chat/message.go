package chat

import (
	"time"

	"github.com/jayusctrojan/Empire-sub012/internal/api"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type ClarificationStatus string

const (
	ClarificationPending     ClarificationStatus = "pending"
	ClarificationAnswered    ClarificationStatus = "answered"
	ClarificationSkipped     ClarificationStatus = "skipped"
	ClarificationAutoSkipped ClarificationStatus = "auto_skipped"
)

// Terminal reports whether a clarification can no longer change state.
func (s ClarificationStatus) Terminal() bool {
	switch s {
	case ClarificationAnswered, ClarificationSkipped, ClarificationAutoSkipped:
		return true
	}
	return false
}

type Source struct {
	DocID          string
	Title          string
	Snippet        string
	RelevanceScore float64
	PageNumber     int
}

type Action struct {
	Name   string
	Params map[string]any
	Result map[string]any
}

type Message struct {
	ID                  string
	SessionID           string
	Role                Role
	Content             string
	Sources             []Source
	Actions             []Action
	IsClarification     bool
	ClarificationType   string
	ClarificationStatus ClarificationStatus
	ClarificationAnswer string
	Rating              int // -1, 0 (unrated), 1
	RatingFeedback      string
	CreatedAt           time.Time
	Streaming           bool
}

type Session struct {
	ID                    string
	Title                 string
	MessageCount          int
	PendingClarifications int
	ContextSummary        string
	CreatedAt             time.Time
	UpdatedAt             time.Time
	LastMessageAt         time.Time
}

func FromAPIMessage(m api.Message) Message {
	out := Message{
		ID:                  m.ID,
		SessionID:           m.SessionID,
		Role:                Role(m.Role),
		Content:             m.Content,
		IsClarification:     m.IsClarification,
		ClarificationType:   m.ClarificationType,
		ClarificationStatus: ClarificationStatus(m.ClarificationStatus),
		ClarificationAnswer: m.ClarificationAnswer,
		Rating:              m.Rating,
		RatingFeedback:      m.RatingFeedback,
		CreatedAt:           parseTime(m.CreatedAt),
	}
	for _, s := range m.Sources {
		out.Sources = append(out.Sources, FromAPISource(s))
	}
	for _, a := range m.ActionsPerformed {
		out.Actions = append(out.Actions, FromAPIAction(a))
	}
	return out
}

func FromAPISource(s api.Source) Source {
	return Source{
		DocID:          s.DocID,
		Title:          s.Title,
		Snippet:        s.Snippet,
		RelevanceScore: s.RelevanceScore,
		PageNumber:     s.PageNumber,
	}
}

func FromAPIAction(a api.Action) Action {
	return Action{Name: a.Action, Params: a.Params, Result: a.Result}
}

func FromAPISession(s api.Session) Session {
	return Session{
		ID:                    s.ID,
		Title:                 s.Title,
		MessageCount:          s.MessageCount,
		PendingClarifications: s.PendingClarifications,
		ContextSummary:        s.ContextSummary,
		CreatedAt:             parseTime(s.CreatedAt),
		UpdatedAt:             parseTime(s.UpdatedAt),
		LastMessageAt:         parseTime(s.LastMessageAt),
	}
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
