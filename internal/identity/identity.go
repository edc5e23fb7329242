// Package identity gives every browser a stable anonymous owner id. Sessions
// and transcripts are scoped to that id; there are no accounts.
package identity

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CookieName is the cookie carrying the anonymous owner id.
const CookieName = "persona_anon_id"

const (
	idPrefix     = "anon_"
	cookieMaxAge = 30 * 24 * time.Hour
)

// Identity is the caller attached to a request.
type Identity struct {
	UserID   string
	Username string
}

type ctxKey struct{}

// WithUserID returns ctx carrying userID and its display name.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, Identity{UserID: userID, Username: displayName(userID)})
}

// FromContext returns the caller, if any.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok
}

// UserIDFromContext returns the caller's owner id or "".
func UserIDFromContext(ctx context.Context) string {
	id, _ := FromContext(ctx)
	return id.UserID
}

// newID returns "anon_" followed by 32 lowercase hex digits.
func newID() string {
	return idPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// validID accepts only ids newID could have produced.
func validID(id string) bool {
	hexPart, ok := strings.CutPrefix(id, idPrefix)
	if !ok || len(hexPart) != 32 || strings.ToLower(hexPart) != hexPart {
		return false
	}
	_, err := uuid.Parse(hexPart)
	return err == nil
}

func displayName(userID string) string {
	if len(userID) > len(idPrefix)+8 {
		return "anon-" + userID[len(userID)-8:]
	}
	return "anon-user"
}

func writeCookie(w http.ResponseWriter, id string, isDev bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(cookieMaxAge.Seconds()),
		Expires:  time.Now().Add(cookieMaxAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !isDev,
	})
}

// Middleware attaches the caller's identity, issuing a fresh id when the
// cookie is missing or malformed. The cookie is refreshed on every request.
func Middleware(isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var userID string
			if c, err := r.Cookie(CookieName); err == nil && validID(c.Value) {
				userID = c.Value
			} else {
				userID = newID()
				slog.Debug("Issued anonymous identity", "user_id", userID, "ip", IPFromRequest(r))
			}
			writeCookie(w, userID, isDev)
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}

// IPFromRequest returns the remote host without its port.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RequestKey identifies the caller for per-user limits, falling back to the
// remote IP when no identity is attached.
func RequestKey(r *http.Request) string {
	if id := UserIDFromContext(r.Context()); id != "" {
		return id
	}
	return "ip:" + IPFromRequest(r)
}
