package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ashureev/persona-lab/internal/catalog"
	"github.com/ashureev/persona-lab/internal/domain"
	"github.com/ashureev/persona-lab/internal/identity"
	"github.com/ashureev/persona-lab/internal/session"
	"github.com/ashureev/persona-lab/internal/store"
)

// SessionHandler serves the training session endpoints.
type SessionHandler struct {
	sessions *session.Manager
	repo     store.Repository
	limit    func(http.Handler) http.Handler
}

// NewSessionHandler creates a session handler. limit wraps the suggestion
// endpoint and may be nil.
func NewSessionHandler(sessions *session.Manager, repo store.Repository, limit func(http.Handler) http.Handler) *SessionHandler {
	return &SessionHandler{sessions: sessions, repo: repo, limit: limit}
}

// RegisterRoutes registers the session routes on the router.
func (h *SessionHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/sessions", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Get("/", h.List)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.Get)
			r.Delete("/", h.Delete)
			r.Post("/retry", h.Retry)
			r.Get("/transcript", h.Transcript)
			if h.limit != nil {
				r.With(h.limit).Post("/suggestions", h.Suggest)
			} else {
				r.Post("/suggestions", h.Suggest)
			}
		})
	})
	r.Get("/api/transcripts", h.ListTranscripts)
	r.Delete("/api/transcripts/{id}", h.DeleteTranscript)
	r.Get("/api/me", Me)
}

type personaRequest struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Role         string   `json:"role"`
	Background   string   `json:"background"`
	Expertise    []string `json:"expertise"`
	ExpertiseCSV string   `json:"expertise_csv"`
}

type createSessionRequest struct {
	Persona   personaRequest  `json:"persona"`
	CompanyID string          `json:"company_id"`
	Company   *domain.Company `json:"company"`
}

type suggestionRequest struct {
	Text string `json:"text"`
}

type suggestionResponse struct {
	Response *domain.Message  `json:"response"`
	Session  session.Snapshot `json:"session"`
}

func (p personaRequest) persona() domain.Persona {
	persona := domain.Persona{
		ID:         strings.TrimSpace(p.ID),
		Name:       strings.TrimSpace(p.Name),
		Role:       strings.TrimSpace(p.Role),
		Background: strings.TrimSpace(p.Background),
	}
	if len(p.Expertise) > 0 {
		persona.Expertise = domain.NormalizeExpertise(p.Expertise)
	} else {
		persona.Expertise = domain.ParseExpertise(p.ExpertiseCSV)
	}
	if persona.ID == "" {
		persona.ID = uuid.NewString()
	}
	return persona
}

func (req createSessionRequest) company() (domain.Company, error) {
	if id := strings.TrimSpace(req.CompanyID); id != "" {
		c, ok := catalog.Get(id)
		if !ok {
			return domain.Company{}, session.ErrNotFound
		}
		return c, nil
	}
	if req.Company == nil {
		return domain.Company{}, errors.New("company_id or company is required")
	}
	return *req.Company, nil
}

// Create builds a session, generates the opening question and returns the snapshot.
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req createSessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	company, err := req.company()
	if errors.Is(err, session.ErrNotFound) {
		Error(w, http.StatusNotFound, "company not found")
		return
	}
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	sess, err := h.sessions.Create(ownerID, req.Persona.persona(), company)
	if err != nil {
		writeSessionError(w, err)
		return
	}

	// Generation outlives a client that hangs up; the session records the outcome.
	if err := sess.Start(context.WithoutCancel(r.Context())); err != nil {
		slog.Warn("Opening question failed", "session_id", sess.ID(), "error", err)
	}
	JSON(w, http.StatusCreated, sess.Snapshot())
}

// List returns the caller's live sessions.
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := requireUser(w, r)
	if !ok {
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"sessions": h.sessions.List(ownerID),
	})
}

// Get returns a live session snapshot.
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}
	JSON(w, http.StatusOK, sess.Snapshot())
}

// Suggest submits a suggestion and returns the persona's response.
func (h *SessionHandler) Suggest(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}

	var req suggestionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := sess.Submit(context.WithoutCancel(r.Context()), req.Text)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	if resp == nil {
		JSON(w, http.StatusAccepted, map[string]interface{}{
			"ignored": true,
			"session": sess.Snapshot(),
		})
		return
	}
	JSON(w, http.StatusOK, suggestionResponse{Response: resp, Session: sess.Snapshot()})
}

// Retry re-runs the generation that stalled the session.
func (h *SessionHandler) Retry(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if err := sess.Retry(context.WithoutCancel(r.Context())); err != nil {
		writeSessionError(w, err)
		return
	}
	JSON(w, http.StatusOK, sess.Snapshot())
}

// Delete resets the session. The persisted transcript is kept.
func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := requireUser(w, r)
	if !ok {
		return
	}
	if err := h.sessions.Reset(ownerID, chi.URLParam(r, "id")); err != nil {
		writeSessionError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Transcript returns the persisted log of a session, live or discarded.
func (h *SessionHandler) Transcript(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := requireUser(w, r)
	if !ok {
		return
	}

	t, err := h.repo.GetTranscript(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		slog.Error("Failed to load transcript", "error", err)
		Error(w, http.StatusInternalServerError, "failed to load transcript")
		return
	}
	if t == nil {
		Error(w, http.StatusNotFound, "transcript not found")
		return
	}
	if t.Session.OwnerID != ownerID {
		Error(w, http.StatusForbidden, "access denied")
		return
	}
	JSON(w, http.StatusOK, t)
}

// ListTranscripts returns the caller's persisted sessions, newest first.
func (h *SessionHandler) ListTranscripts(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := requireUser(w, r)
	if !ok {
		return
	}

	recs, err := h.repo.ListSessions(r.Context(), ownerID)
	if err != nil {
		slog.Error("Failed to list transcripts", "error", err)
		Error(w, http.StatusInternalServerError, "failed to list transcripts")
		return
	}
	if recs == nil {
		recs = []*domain.SessionRecord{}
	}
	JSON(w, http.StatusOK, map[string]interface{}{"sessions": recs})
}

// DeleteTranscript removes a persisted session and its messages, discarding
// the live session first when there is one.
func (h *SessionHandler) DeleteTranscript(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := requireUser(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")

	rec, err := h.repo.GetSession(r.Context(), id)
	if err != nil {
		slog.Error("Failed to load transcript", "error", err)
		Error(w, http.StatusInternalServerError, "failed to load transcript")
		return
	}
	if rec == nil {
		Error(w, http.StatusNotFound, "transcript not found")
		return
	}
	if rec.OwnerID != ownerID {
		Error(w, http.StatusForbidden, "access denied")
		return
	}

	if err := h.sessions.Reset(ownerID, id); err != nil && !errors.Is(err, session.ErrNotFound) {
		writeSessionError(w, err)
		return
	}
	if err := h.repo.DeleteSession(r.Context(), id); err != nil {
		slog.Error("Failed to delete transcript", "session_id", id, "error", err)
		Error(w, http.StatusInternalServerError, "failed to delete transcript")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Me returns the caller's anonymous identity.
func Me(w http.ResponseWriter, r *http.Request) {
	id, ok := identity.FromContext(r.Context())
	if !ok {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	JSON(w, http.StatusOK, map[string]string{
		"user_id":  id.UserID,
		"username": id.Username,
	})
}

func (h *SessionHandler) lookup(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	ownerID, ok := requireUser(w, r)
	if !ok {
		return nil, false
	}
	sess, err := h.sessions.Get(ownerID, chi.URLParam(r, "id"))
	if err != nil {
		writeSessionError(w, err)
		return nil, false
	}
	return sess, true
}

func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return "", false
	}
	return userID, true
}

func writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		Error(w, http.StatusNotFound, "session not found")
	case errors.Is(err, session.ErrForbidden):
		Error(w, http.StatusForbidden, "access denied")
	case errors.Is(err, domain.ErrInvalidPersona), errors.Is(err, domain.ErrInvalidCompany):
		Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, session.ErrBusy),
		errors.Is(err, session.ErrStalled),
		errors.Is(err, session.ErrNotStalled),
		errors.Is(err, session.ErrNotStarted),
		errors.Is(err, session.ErrAlreadyStarted):
		Error(w, http.StatusConflict, err.Error())
	case errors.Is(err, session.ErrDiscarded):
		Error(w, http.StatusGone, err.Error())
	default:
		slog.Error("Generation failed", "error", err)
		Error(w, http.StatusBadGateway, "generation failed, retry the session")
	}
}
