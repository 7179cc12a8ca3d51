// Package auth guards the live view server with a shared access token.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

// MinTokenLength is the shortest accepted configured token.
const MinTokenLength = 24

// CookieName holds the token for browsers that opened a link with ?token=.
const CookieName = "tlcrun_token"

// Auth checks requests against one token. Only its hash is kept.
type Auth struct {
	hash [sha256.Size]byte
}

// New creates an Auth for token. An empty token generates a random one, which is
// returned so it can be shown to the user.
func New(token string) (*Auth, string, error) {
	if token == "" {
		token = GenerateToken()
	}
	if len(token) < MinTokenLength {
		return nil, "", fmt.Errorf("access token must be at least %d characters long", MinTokenLength)
	}
	return &Auth{hash: sha256.Sum256([]byte(token))}, token, nil
}

// Valid reports whether token matches.
func (a *Auth) Valid(token string) bool {
	if token == "" {
		return false
	}
	h := sha256.Sum256([]byte(token))
	return subtle.ConstantTimeCompare(h[:], a.hash[:]) == 1
}

// FromRequest extracts a token from the Authorization header, the token query
// parameter or the cookie, in that order.
func FromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	if c, err := r.Cookie(CookieName); err == nil {
		return c.Value
	}
	return ""
}

// Middleware rejects requests without a valid token. A valid token from the query
// string is stored in a cookie so that links in the served pages keep working.
func (a *Auth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := FromRequest(r)
		if !a.Valid(token) {
			slog.Debug("Rejected request without valid token", "path", r.URL.Path, "remote", r.RemoteAddr)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if r.URL.Query().Get("token") != "" {
			http.SetCookie(w, &http.Cookie{
				Name:     CookieName,
				Value:    token,
				Path:     "/",
				HttpOnly: true,
				SameSite: http.SameSiteStrictMode,
			})
		}
		next.ServeHTTP(w, r)
	})
}

// GenerateToken returns a random hex token.
func GenerateToken() string {
	b := make([]byte, 32)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// TokenHash is the hex SHA-256 of token, for logging which token is in use.
func TokenHash(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:8])
}
