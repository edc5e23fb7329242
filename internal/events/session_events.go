package events

import (
	"log/slog"
	"time"

	"github.com/ashureev/persona-lab/internal/session"
)

// Subjects carrying session lifecycle notifications.
const (
	SubjectStarted   = "persona.session.started"
	SubjectMessage   = "persona.session.message"
	SubjectCompleted = "persona.session.completed"
	SubjectFailed    = "persona.session.failed"
	SubjectReset     = "persona.session.reset"
)

// SessionEvent is the JSON payload published on every subject.
type SessionEvent struct {
	SessionID   string    `json:"session_id"`
	OwnerID     string    `json:"owner_id"`
	State       string    `json:"state"`
	Active      bool      `json:"active"`
	Persona     string    `json:"persona,omitempty"`
	Role        string    `json:"role,omitempty"`
	Company     string    `json:"company,omitempty"`
	Product     string    `json:"product,omitempty"`
	MessageID   string    `json:"message_id,omitempty"`
	MessageType string    `json:"message_type,omitempty"`
	Content     string    `json:"content,omitempty"`
	Status      string    `json:"status,omitempty"`
	Error       string    `json:"error,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Observer publishes session events. Publish errors are logged.
type Observer struct {
	pub    Publisher
	logger *slog.Logger
}

// NewObserver returns a session observer publishing through pub.
func NewObserver(pub Publisher, logger *slog.Logger) *Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Observer{pub: pub, logger: logger}
}

// OnEvent implements session.Observer.
func (o *Observer) OnEvent(ev session.Event) {
	subject, payload, ok := Translate(ev)
	if !ok {
		return
	}
	if err := o.pub.Publish(subject, payload); err != nil {
		o.logger.Warn("failed to publish session event",
			"subject", subject,
			"session_id", ev.SessionID,
			"error", err)
	}
}

// Translate maps a session event to its subject and payload. Intermediate
// state changes are not published.
func Translate(ev session.Event) (string, SessionEvent, bool) {
	payload := SessionEvent{
		SessionID: ev.SessionID,
		OwnerID:   ev.OwnerID,
		State:     string(ev.State),
		Active:    ev.Active,
		Error:     ev.Error,
		Timestamp: ev.At,
	}

	switch ev.Type {
	case session.EventStarted:
		if ev.Persona != nil {
			payload.Persona = ev.Persona.Name
			payload.Role = ev.Persona.Role
		}
		if ev.Company != nil {
			payload.Company = ev.Company.Name
			payload.Product = ev.Company.Product
		}
		return SubjectStarted, payload, true
	case session.EventMessage:
		if ev.Message == nil {
			return "", SessionEvent{}, false
		}
		payload.MessageID = ev.Message.ID
		payload.MessageType = string(ev.Message.Kind)
		payload.Content = ev.Message.Content
		if ev.Message.Status != nil {
			payload.Status = string(*ev.Message.Status)
		}
		return SubjectMessage, payload, true
	case session.EventState:
		switch ev.State {
		case session.StateCompleted:
			return SubjectCompleted, payload, true
		case session.StateGenerationFailed:
			return SubjectFailed, payload, true
		}
	case session.EventReset:
		return SubjectReset, payload, true
	}
	return "", SessionEvent{}, false
}
