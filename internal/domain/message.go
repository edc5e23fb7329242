package domain

import (
	"time"

	"github.com/google/uuid"
)

// MessageKind identifies who produced a message and why.
type MessageKind string

const (
	// KindSystem is a session lifecycle notice.
	KindSystem MessageKind = "system"
	// KindPersonaQuestion is a question asked by the persona.
	KindPersonaQuestion MessageKind = "persona_question"
	// KindUserSuggestion is free-text help supplied by the human.
	KindUserSuggestion MessageKind = "user_suggestion"
	// KindPersonaResponse is the persona's evaluated reaction to a suggestion.
	KindPersonaResponse MessageKind = "persona_response"
)

// Status is the classification outcome of a suggestion.
type Status string

const (
	StatusSatisfied Status = "satisfied"
	StatusNeedsMore Status = "needs_more"
	StatusUnclear   Status = "unclear"
)

// Valid reports whether s is one of the three known outcomes.
func (s Status) Valid() bool {
	switch s {
	case StatusSatisfied, StatusNeedsMore, StatusUnclear:
		return true
	}
	return false
}

// Message is a single append-only entry of a session log.
// Status is set only on persona_response messages.
type Message struct {
	ID        string      `json:"id"`
	Kind      MessageKind `json:"type"`
	Content   string      `json:"content"`
	Timestamp time.Time   `json:"timestamp"`
	Status    *Status     `json:"status,omitempty"`
}

// NewMessage builds a message with a fresh id and the current time.
func NewMessage(kind MessageKind, content string) Message {
	return Message{
		ID:        uuid.NewString(),
		Kind:      kind,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
}

// NewResponse builds a persona_response carrying its status.
func NewResponse(content string, status Status) Message {
	msg := NewMessage(KindPersonaResponse, content)
	msg.Status = &status
	return msg
}

// CountKind returns how many messages of kind appear in history.
func CountKind(history []Message, kind MessageKind) int {
	n := 0
	for _, m := range history {
		if m.Kind == kind {
			n++
		}
	}
	return n
}

// LastOfKind returns the most recent message of kind, if any.
func LastOfKind(history []Message, kind MessageKind) (Message, bool) {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Kind == kind {
			return history[i], true
		}
	}
	return Message{}, false
}

// WithoutKind returns a copy of history with every message of kind removed.
func WithoutKind(history []Message, kind MessageKind) []Message {
	out := make([]Message, 0, len(history))
	for _, m := range history {
		if m.Kind != kind {
			out = append(out, m)
		}
	}
	return out
}
