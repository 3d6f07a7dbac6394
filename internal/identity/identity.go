// Package identity supplies the authenticated-owner fact the engine consumes.
// Credential verification itself lives with an external provider; this
// package only carries the resulting owner identity on requests and fans out
// sign-in/sign-out events.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"
)

const (
	OwnerCookieName       = "lumina_owner_id"
	SessionHeaderName     = "X-Lumina-Session-ID"
	DefaultSessionIDValue = "default"
	ownerCookieMaxAge     = 30 * 24 * time.Hour
)

type contextKey int

const (
	ownerIDKey contextKey = iota
	sessionIDKey
)

var (
	ownerIDPattern   = regexp.MustCompile(`^owner_[a-f0-9]{32}$`)
	sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)
)

// OwnerIDFromContext extracts the owner ID from the request context. An empty
// string means the request is unauthenticated.
func OwnerIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ownerIDKey).(string); ok {
		return v
	}
	return ""
}

// SessionIDFromContext extracts the tab session ID from the request context.
func SessionIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(sessionIDKey).(string); ok {
		return v
	}
	return DefaultSessionIDValue
}

// GenerateOwnerID creates a fresh random owner identity.
func GenerateOwnerID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate owner id: %w", err)
	}
	return "owner_" + hex.EncodeToString(buf), nil
}

// IsValidOwnerID reports whether id looks like an identity this service
// issued.
func IsValidOwnerID(id string) bool {
	return ownerIDPattern.MatchString(id)
}

// DeriveUsername produces a short display name from an owner ID.
func DeriveUsername(ownerID string) string {
	if len(ownerID) > 14 {
		return "anon-" + ownerID[len(ownerID)-8:]
	}
	return "anon-user"
}

func sanitizeSessionID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || !sessionIDPattern.MatchString(id) {
		return DefaultSessionIDValue
	}
	return id
}

func sessionIDFromRequest(r *http.Request) string {
	sid := r.Header.Get(SessionHeaderName)
	if sid == "" {
		sid = r.URL.Query().Get("session_id")
	}
	return sanitizeSessionID(sid)
}

// SetOwnerCookie issues (or refreshes) the owner identity cookie.
func SetOwnerCookie(w http.ResponseWriter, ownerID string, isDev bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     OwnerCookieName,
		Value:    ownerID,
		Path:     "/",
		MaxAge:   int(ownerCookieMaxAge.Seconds()),
		Expires:  time.Now().Add(ownerCookieMaxAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !isDev,
	})
}

// ClearOwnerCookie removes the owner identity cookie.
func ClearOwnerCookie(w http.ResponseWriter, isDev bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     OwnerCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !isDev,
	})
}

// OwnerIDFromRequest returns the validated owner ID carried by the request,
// or "" when the request is unauthenticated.
func OwnerIDFromRequest(r *http.Request) string {
	c, err := r.Cookie(OwnerCookieName)
	if err != nil || !IsValidOwnerID(c.Value) {
		return ""
	}
	return c.Value
}

// Middleware injects the owner identity (when present) and the per-tab
// session ID into the request context. It never provisions identity on its
// own: unauthenticated requests pass through with an empty owner so handlers
// can short-circuit to a sign-in-required outcome.
func Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), ownerIDKey, OwnerIDFromRequest(r))
			ctx = context.WithValue(ctx, sessionIDKey, sessionIDFromRequest(r))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
