package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/roomchat/internal/auth"
	"github.com/roomchat/internal/logger"
)

// UserEnsurer creates the profile row of a session's user on first sight.
type UserEnsurer interface {
	Ensure(ctx context.Context, sess *auth.Session) error
}

// maskToken keeps only a short prefix of a token for logs.
func maskToken(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= 8 {
		return "****"
	}
	return s[:8] + "***"
}

// tokenFrom reads the session token from the cookie, the Authorization header or, for WebSocket
// upgrades that cannot set headers, the "token" query parameter.
func tokenFrom(r *http.Request, cookieName string) string {
	if c, err := r.Cookie(cookieName); err == nil && c.Value != "" {
		return c.Value
	}
	if h := r.Header.Get("Authorization"); h != "" {
		if tok, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(tok)
		}
	}
	return r.URL.Query().Get("token")
}

// SessionAuth rejects requests without a valid session token with 401 and stores the user id in
// the request context.
func SessionAuth(tokens *auth.Tokens, cookieName string, users UserEnsurer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := tokenFrom(r, cookieName)
			if raw == "" {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
			sess, err := tokens.Parse(raw)
			if err != nil {
				logger.Infof("session rejected token=%s: %v", maskToken(raw), err)
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
			if users != nil {
				if err := users.Ensure(r.Context(), sess); err != nil {
					logger.Errorf("session ensure user=%s: %v", sess.UserID, err)
					http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
					return
				}
			}
			ctx := WithUserID(r.Context(), sess.UserID)
			ctx = context.WithValue(ctx, UsernameKey, sess.Username)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
