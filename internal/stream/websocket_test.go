package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/ashureev/persona-lab/internal/dialogue"
	"github.com/ashureev/persona-lab/internal/domain"
	"github.com/ashureev/persona-lab/internal/identity"
	"github.com/ashureev/persona-lab/internal/session"
)

const testOwner = "anon_0123456789abcdef0123456789abcdef"

func newStreamServer(t *testing.T) (*httptest.Server, *session.Session) {
	t.Helper()
	hub := NewHub()
	gen := dialogue.NewTemplateGenerator(
		dialogue.WithRand(dialogue.NewSequence(0.9, 0)),
		dialogue.WithLatency(dialogue.LatencyConfig{}),
	)
	mgr := session.NewManager(gen, session.Timing{}, nil, hub)
	t.Cleanup(mgr.Close)

	sess, err := mgr.Create(testOwner,
		domain.Persona{Name: "Jamie", Role: "Analyst", Background: "Reports on weekly sales"},
		domain.Company{Name: "Acme", Product: "Acme Suite", Description: "Office tools", Category: "Software"})
	if err != nil {
		t.Fatal(err)
	}
	if err := sess.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			owner := r.URL.Query().Get("owner")
			next.ServeHTTP(w, r.WithContext(identity.WithUserID(r.Context(), owner)))
		})
	})
	r.Handle("/ws/sessions/{id}", NewHandler(mgr, hub, []string{"*"}, true))

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, sess
}

func wsURL(srv *httptest.Server, sessionID, owner string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/sessions/" + sessionID + "?owner=" + owner
}

func readFrame(t *testing.T, ctx context.Context, conn *websocket.Conn) Frame {
	t.Helper()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	return f
}

func TestStreamSendsSnapshotThenEvents(t *testing.T) {
	srv, sess := newStreamServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL(srv, sess.ID(), testOwner), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	first := readFrame(t, ctx, conn)
	if first.Type != "snapshot" || first.Snapshot == nil || len(first.Snapshot.Messages) != 2 {
		t.Fatalf("first frame = %+v", first)
	}

	// Draw 0.9 makes "ok" unclear, so no continuation follows.
	if _, err := sess.Submit(ctx, "ok"); err != nil {
		t.Fatal(err)
	}

	var kinds []domain.MessageKind
	for len(kinds) < 2 {
		f := readFrame(t, ctx, conn)
		if f.Type != "event" || f.Event == nil {
			t.Fatalf("unexpected frame %+v", f)
		}
		if f.Event.Type == session.EventMessage {
			kinds = append(kinds, f.Event.Message.Kind)
		}
	}
	if kinds[0] != domain.KindUserSuggestion || kinds[1] != domain.KindPersonaResponse {
		t.Errorf("message kinds = %v", kinds)
	}

	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"ping"}`)); err != nil {
		t.Fatal(err)
	}
	for {
		f := readFrame(t, ctx, conn)
		if f.Type == "pong" {
			break
		}
	}
}

func TestStreamRejectsOtherOwners(t *testing.T) {
	srv, sess := newStreamServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, resp, err := websocket.Dial(ctx, wsURL(srv, sess.ID(), "someone-else"), nil)
	if err == nil {
		t.Fatal("expected dial to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("response = %+v", resp)
	}

	_, resp, err = websocket.Dial(ctx, wsURL(srv, "missing", testOwner), nil)
	if err == nil || resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing session: err=%v resp=%+v", err, resp)
	}
}

func TestStreamClosesOnReset(t *testing.T) {
	srv, sess := newStreamServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL(srv, sess.ID(), testOwner), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()
	readFrame(t, ctx, conn)

	sess.Reset()
	f := readFrame(t, ctx, conn)
	if f.Event == nil || f.Event.Type != session.EventReset {
		t.Fatalf("frame = %+v", f)
	}
	if _, _, err := conn.Read(ctx); websocket.CloseStatus(err) != websocket.StatusNormalClosure {
		t.Errorf("expected normal closure, got %v", err)
	}
}

func TestCheckOrigin(t *testing.T) {
	h := NewHandler(nil, nil, []string{"https://a.example", "https://b.example"}, false)

	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"https://a.example", true},
		{"https://b.example", true},
		{"https://evil.example", false},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/ws/sessions/x", nil)
		if tt.origin != "" {
			req.Header.Set("Origin", tt.origin)
		}
		if got := h.checkOrigin(req); got != tt.want {
			t.Errorf("checkOrigin(%q) = %v, want %v", tt.origin, got, tt.want)
		}
	}
}
