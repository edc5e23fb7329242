package convlog

import (
	"time"

	"github.com/ashureev/persona-lab/internal/domain"
	"github.com/ashureev/persona-lab/internal/session"
)

const channel = "session"

// Observer feeds session events into a Logger.
type Observer struct {
	log Logger
}

// NewObserver returns a session observer writing to l.
func NewObserver(l Logger) *Observer {
	return &Observer{log: l}
}

// OnEvent implements session.Observer.
func (o *Observer) OnEvent(ev session.Event) {
	out := Event{
		Timestamp: ev.At.UTC().Format(time.RFC3339Nano),
		UserID:    ev.OwnerID,
		SessionID: ev.SessionID,
		Channel:   channel,
		Direction: "outbound",
		Meta:      map[string]any{"state": string(ev.State), "active": ev.Active},
	}

	switch ev.Type {
	case session.EventStarted:
		out.EventType = "session_started"
		if ev.Persona != nil {
			out.Meta["persona"] = ev.Persona.Name
			out.Meta["role"] = ev.Persona.Role
		}
		if ev.Company != nil {
			out.Meta["company"] = ev.Company.Name
			out.Meta["product"] = ev.Company.Product
		}
	case session.EventMessage:
		if ev.Message == nil {
			return
		}
		out.EventType = string(ev.Message.Kind)
		out.ContentRaw = ev.Message.Content
		out.Meta["message_id"] = ev.Message.ID
		if ev.Message.Kind == domain.KindUserSuggestion {
			out.Direction = "inbound"
		}
		if ev.Message.Status != nil {
			out.Meta["status"] = string(*ev.Message.Status)
		}
	case session.EventState:
		out.EventType = "state_changed"
		if ev.Error != "" {
			out.Meta["error"] = ev.Error
		}
	case session.EventReset:
		out.EventType = "session_reset"
	default:
		return
	}
	o.log.Log(out)
}
