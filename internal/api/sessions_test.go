package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/persona-lab/internal/dialogue"
	"github.com/ashureev/persona-lab/internal/domain"
	"github.com/ashureev/persona-lab/internal/identity"
	"github.com/ashureev/persona-lab/internal/middleware"
	"github.com/ashureev/persona-lab/internal/session"
	"github.com/ashureev/persona-lab/internal/store"
)

const testUserHeader = "X-Test-User"

type scriptedGenerator struct {
	mu          sync.Mutex
	responseErr error
	statuses    []domain.Status
}

func (g *scriptedGenerator) GenerateQuestion(_ context.Context, persona domain.Persona, _ domain.Company, history []domain.Message) (string, error) {
	return persona.Name + " asks question " + string(rune('A'+domain.CountKind(history, domain.KindPersonaQuestion))), nil
}

func (g *scriptedGenerator) GenerateResponse(context.Context, domain.Persona, domain.Company, []domain.Message) (dialogue.Response, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.responseErr != nil {
		return dialogue.Response{}, g.responseErr
	}
	status := domain.StatusUnclear
	if len(g.statuses) > 0 {
		status, g.statuses = g.statuses[0], g.statuses[1:]
	}
	return dialogue.Response{Content: "reply " + string(status), Status: status}, nil
}

func (g *scriptedGenerator) failResponses(err error) {
	g.mu.Lock()
	g.responseErr = err
	g.mu.Unlock()
}

type testServer struct {
	router http.Handler
	repo   store.Repository
	gen    *scriptedGenerator
}

func newTestServer(t *testing.T, limiter *middleware.RateLimiter) *testServer {
	t.Helper()

	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	gen := &scriptedGenerator{}
	mgr := session.NewManager(gen, session.Timing{FollowUpDelay: time.Hour, CompletionDelay: time.Hour}, nil,
		store.NewRecorder(repo, nil))
	t.Cleanup(mgr.Close)

	var limit func(http.Handler) http.Handler
	if limiter != nil {
		limit = middleware.RateLimit(limiter, func(r *http.Request) string {
			return identity.UserIDFromContext(r.Context())
		})
	}

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if id := r.Header.Get(testUserHeader); id != "" {
				r = r.WithContext(identity.WithUserID(r.Context(), id))
			}
			next.ServeHTTP(w, r)
		})
	})
	NewSessionHandler(mgr, repo, limit).RegisterRoutes(r)
	return &testServer{router: r, repo: repo, gen: gen}
}

func (s *testServer) do(t *testing.T, user, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if user != "" {
		req.Header.Set(testUserHeader, user)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func validCreateBody() map[string]interface{} {
	return map[string]interface{}{
		"persona": map[string]interface{}{
			"name":          "Sarah Chen",
			"role":          "Marketing Manager",
			"background":    "Runs campaigns for a mid-size retailer",
			"expertise_csv": "marketing, analytics, marketing",
		},
		"company_id": "1",
	}
}

func decodeSnapshot(t *testing.T, w *httptest.ResponseRecorder) session.Snapshot {
	t.Helper()
	var snap session.Snapshot
	if err := json.NewDecoder(w.Body).Decode(&snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	return snap
}

func (s *testServer) create(t *testing.T, user string) session.Snapshot {
	t.Helper()
	w := s.do(t, user, http.MethodPost, "/api/sessions", validCreateBody())
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}
	return decodeSnapshot(t, w)
}

func TestCreateSessionAsksOpeningQuestion(t *testing.T) {
	srv := newTestServer(t, nil)
	snap := srv.create(t, "anon_a")

	if snap.State != session.StateAwaitingSuggestion || !snap.Active {
		t.Errorf("Expected active awaiting_suggestion, got %s active=%v", snap.State, snap.Active)
	}
	if len(snap.Messages) != 2 {
		t.Fatalf("Expected system message and question, got %d messages", len(snap.Messages))
	}
	if snap.Messages[0].Kind != domain.KindSystem || snap.Messages[1].Kind != domain.KindPersonaQuestion {
		t.Errorf("Unexpected message kinds: %s, %s", snap.Messages[0].Kind, snap.Messages[1].Kind)
	}
	if got := snap.Persona.Expertise; len(got) != 2 || got[0] != "marketing" || got[1] != "analytics" {
		t.Errorf("Expected deduplicated expertise, got %v", got)
	}
	if snap.Persona.ID == "" {
		t.Error("Expected generated persona id")
	}
}

func TestCreateSessionValidation(t *testing.T) {
	srv := newTestServer(t, nil)

	if w := srv.do(t, "", http.MethodPost, "/api/sessions", validCreateBody()); w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without identity, got %d", w.Code)
	}

	body := validCreateBody()
	body["persona"].(map[string]interface{})["name"] = " "
	if w := srv.do(t, "anon_a", http.MethodPost, "/api/sessions", body); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for blank name, got %d", w.Code)
	}

	body = validCreateBody()
	body["company_id"] = "404"
	if w := srv.do(t, "anon_a", http.MethodPost, "/api/sessions", body); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown company, got %d", w.Code)
	}

	body = validCreateBody()
	delete(body, "company_id")
	if w := srv.do(t, "anon_a", http.MethodPost, "/api/sessions", body); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 without company, got %d", w.Code)
	}

	body["company"] = domain.Company{Name: "Acme", Product: "Widget", Description: "Widgets", Category: "Hardware"}
	if w := srv.do(t, "anon_a", http.MethodPost, "/api/sessions", body); w.Code != http.StatusCreated {
		t.Errorf("Expected 201 for inline company, got %d: %s", w.Code, w.Body.String())
	}
}

func TestSuggestReturnsResponse(t *testing.T) {
	srv := newTestServer(t, nil)
	snap := srv.create(t, "anon_a")

	w := srv.do(t, "anon_a", http.MethodPost, "/api/sessions/"+snap.ID+"/suggestions", map[string]string{"text": "Open settings"})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var got suggestionResponse
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Response == nil || got.Response.Status == nil || *got.Response.Status != domain.StatusUnclear {
		t.Fatalf("Expected unclear response, got %+v", got.Response)
	}
	if got.Session.State != session.StateAwaitingSuggestion {
		t.Errorf("Expected awaiting_suggestion, got %s", got.Session.State)
	}
	if n := len(got.Session.Messages); n != 4 {
		t.Errorf("Expected 4 messages, got %d", n)
	}
}

func TestSuggestBlankIsIgnored(t *testing.T) {
	srv := newTestServer(t, nil)
	snap := srv.create(t, "anon_a")

	w := srv.do(t, "anon_a", http.MethodPost, "/api/sessions/"+snap.ID+"/suggestions", map[string]string{"text": "   "})
	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d", w.Code)
	}
	var body struct {
		Ignored bool             `json:"ignored"`
		Session session.Snapshot `json:"session"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.Ignored || len(body.Session.Messages) != 2 {
		t.Errorf("Expected ignored with unchanged log, got %+v", body)
	}
}

func TestSuggestWhileFollowUpPendingIsBusy(t *testing.T) {
	srv := newTestServer(t, nil)
	snap := srv.create(t, "anon_a")
	srv.gen.statuses = []domain.Status{domain.StatusNeedsMore}

	path := "/api/sessions/" + snap.ID + "/suggestions"
	if w := srv.do(t, "anon_a", http.MethodPost, path, map[string]string{"text": "Try the dashboard"}); w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if w := srv.do(t, "anon_a", http.MethodPost, path, map[string]string{"text": "Anything else"}); w.Code != http.StatusConflict {
		t.Errorf("Expected 409 while follow-up pending, got %d", w.Code)
	}
}

func TestSessionOwnership(t *testing.T) {
	srv := newTestServer(t, nil)
	snap := srv.create(t, "anon_a")

	if w := srv.do(t, "anon_b", http.MethodGet, "/api/sessions/"+snap.ID, nil); w.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for other owner, got %d", w.Code)
	}
	if w := srv.do(t, "anon_b", http.MethodGet, "/api/sessions/"+snap.ID+"/transcript", nil); w.Code != http.StatusForbidden {
		t.Errorf("Expected 403 transcript for other owner, got %d", w.Code)
	}
	if w := srv.do(t, "anon_a", http.MethodGet, "/api/sessions/missing", nil); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown id, got %d", w.Code)
	}

	w := srv.do(t, "anon_b", http.MethodGet, "/api/sessions", nil)
	var list struct {
		Sessions []session.Snapshot `json:"sessions"`
	}
	if err := json.NewDecoder(w.Body).Decode(&list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list.Sessions) != 0 {
		t.Errorf("Expected no sessions for anon_b, got %d", len(list.Sessions))
	}
}

func TestGenerationFailureAndRetry(t *testing.T) {
	srv := newTestServer(t, nil)
	snap := srv.create(t, "anon_a")
	path := "/api/sessions/" + snap.ID

	if w := srv.do(t, "anon_a", http.MethodPost, path+"/retry", nil); w.Code != http.StatusConflict {
		t.Errorf("Expected 409 retry when not stalled, got %d", w.Code)
	}

	srv.gen.failResponses(errors.New("model offline"))
	if w := srv.do(t, "anon_a", http.MethodPost, path+"/suggestions", map[string]string{"text": "Use search"}); w.Code != http.StatusBadGateway {
		t.Fatalf("Expected 502 on generation failure, got %d", w.Code)
	}
	if w := srv.do(t, "anon_a", http.MethodPost, path+"/suggestions", map[string]string{"text": "Again"}); w.Code != http.StatusConflict {
		t.Errorf("Expected 409 while stalled, got %d", w.Code)
	}

	srv.gen.failResponses(nil)
	w := srv.do(t, "anon_a", http.MethodPost, path+"/retry", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 retry, got %d: %s", w.Code, w.Body.String())
	}
	got := decodeSnapshot(t, w)
	if got.State != session.StateAwaitingSuggestion || got.Error != "" {
		t.Errorf("Expected recovered session, got %s err=%q", got.State, got.Error)
	}
	last := got.Messages[len(got.Messages)-1]
	if last.Kind != domain.KindPersonaResponse {
		t.Errorf("Expected retry to append a response, got %s", last.Kind)
	}
}

func TestDeleteKeepsTranscript(t *testing.T) {
	srv := newTestServer(t, nil)
	snap := srv.create(t, "anon_a")
	path := "/api/sessions/" + snap.ID

	if w := srv.do(t, "anon_a", http.MethodDelete, path, nil); w.Code != http.StatusNoContent {
		t.Fatalf("Expected 204, got %d", w.Code)
	}
	if w := srv.do(t, "anon_a", http.MethodGet, path, nil); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 after delete, got %d", w.Code)
	}

	w := srv.do(t, "anon_a", http.MethodGet, path+"/transcript", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 transcript, got %d", w.Code)
	}
	var tr domain.Transcript
	if err := json.NewDecoder(w.Body).Decode(&tr); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if tr.Session.State != string(session.StateDiscarded) || tr.Session.Active {
		t.Errorf("Expected discarded inactive record, got %s active=%v", tr.Session.State, tr.Session.Active)
	}
	if len(tr.Messages) != 2 {
		t.Errorf("Expected 2 persisted messages, got %d", len(tr.Messages))
	}

	w = srv.do(t, "anon_a", http.MethodGet, "/api/transcripts", nil)
	var list struct {
		Sessions []domain.SessionRecord `json:"sessions"`
	}
	if err := json.NewDecoder(w.Body).Decode(&list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list.Sessions) != 1 || list.Sessions[0].ID != snap.ID {
		t.Errorf("Expected the deleted session in transcripts, got %+v", list.Sessions)
	}
}

func TestSuggestionRateLimit(t *testing.T) {
	rl := middleware.NewRateLimiter(1, time.Minute)
	t.Cleanup(rl.Stop)
	srv := newTestServer(t, rl)
	snap := srv.create(t, "anon_a")
	path := "/api/sessions/" + snap.ID + "/suggestions"

	if w := srv.do(t, "anon_a", http.MethodPost, path, map[string]string{"text": "one"}); w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	w := srv.do(t, "anon_a", http.MethodPost, path, map[string]string{"text": "two"})
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("Expected 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("Expected Retry-After header")
	}
}

func TestCreateSessionKeepsCommaInExpertiseTag(t *testing.T) {
	srv := newTestServer(t, nil)
	body := validCreateBody()
	body["persona"] = map[string]interface{}{
		"name":       "Sarah Chen",
		"role":       "Sales Lead",
		"background": "Covers European accounts",
		"expertise":  []string{"Sales, EMEA", " Forecasting ", "Sales, EMEA"},
	}

	w := srv.do(t, "anon_a", http.MethodPost, "/api/sessions", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}
	got := decodeSnapshot(t, w).Persona.Expertise
	if len(got) != 2 || got[0] != "Sales, EMEA" || got[1] != "Forecasting" {
		t.Errorf("Expected [Sales, EMEA | Forecasting], got %q", got)
	}
}

func TestDeleteTranscript(t *testing.T) {
	srv := newTestServer(t, nil)
	snap := srv.create(t, "anon_a")
	path := "/api/transcripts/" + snap.ID

	if w := srv.do(t, "anon_b", http.MethodDelete, path, nil); w.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for other owner, got %d", w.Code)
	}
	if w := srv.do(t, "anon_a", http.MethodDelete, path, nil); w.Code != http.StatusNoContent {
		t.Fatalf("Expected 204, got %d: %s", w.Code, w.Body.String())
	}

	if w := srv.do(t, "anon_a", http.MethodGet, "/api/sessions/"+snap.ID, nil); w.Code != http.StatusNotFound {
		t.Errorf("Expected live session gone, got %d", w.Code)
	}
	if w := srv.do(t, "anon_a", http.MethodGet, "/api/sessions/"+snap.ID+"/transcript", nil); w.Code != http.StatusNotFound {
		t.Errorf("Expected transcript gone, got %d", w.Code)
	}
	msgs, err := srv.repo.ListMessages(context.Background(), snap.ID)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("Expected messages deleted, got %d", len(msgs))
	}
	if w := srv.do(t, "anon_a", http.MethodDelete, path, nil); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 on second delete, got %d", w.Code)
	}
}

func TestMe(t *testing.T) {
	srv := newTestServer(t, nil)

	if w := srv.do(t, "", http.MethodGet, "/api/me", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without identity, got %d", w.Code)
	}

	w := srv.do(t, "anon_0123456789abcdef0123456789abcdef", http.MethodGet, "/api/me", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var got map[string]string
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["user_id"] != "anon_0123456789abcdef0123456789abcdef" || got["username"] != "anon-89abcdef" {
		t.Errorf("unexpected identity %v", got)
	}
}
