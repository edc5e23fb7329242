package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashureev/persona-lab/internal/domain"
	"github.com/ashureev/persona-lab/internal/session"
)

const recordTimeout = 5 * time.Second

// Recorder is a session observer that persists headers, messages and state
// transitions. Write failures are logged and never reach the session.
type Recorder struct {
	repo   Repository
	logger *slog.Logger
}

// NewRecorder returns a Recorder writing to repo.
func NewRecorder(repo Repository, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{repo: repo, logger: logger}
}

// OnEvent implements session.Observer.
func (r *Recorder) OnEvent(ev session.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	var err error
	switch ev.Type {
	case session.EventStarted:
		if ev.Persona == nil || ev.Company == nil {
			return
		}
		err = r.repo.SaveSession(ctx, &domain.SessionRecord{
			ID:        ev.SessionID,
			OwnerID:   ev.OwnerID,
			Persona:   *ev.Persona,
			Company:   *ev.Company,
			State:     string(ev.State),
			Active:    ev.Active,
			CreatedAt: ev.At,
			UpdatedAt: ev.At,
		})
	case session.EventMessage:
		if ev.Message != nil {
			err = r.repo.AppendMessage(ctx, ev.SessionID, *ev.Message)
		}
	case session.EventState, session.EventReset:
		err = r.repo.UpdateSessionState(ctx, ev.SessionID, string(ev.State), ev.Active, ev.At)
	}
	if err != nil {
		r.logger.Error("failed to record session event",
			"session_id", ev.SessionID,
			"event", ev.Type,
			"error", err)
	}
}
