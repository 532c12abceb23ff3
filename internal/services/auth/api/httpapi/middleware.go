package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/clyde-sh/novus/internal/platform/errors"
	"github.com/clyde-sh/novus/internal/platform/requestctx"
	"github.com/clyde-sh/novus/internal/services/auth/user"
)

// SessionCookieName carries the session id for browser clients.
const SessionCookieName = "novus_session"

type principalKey struct{}

var errUnauthenticated = apperrors.New(apperrors.CodeUnauthenticated, "missing session")

// bearerToken returns the session id from the Authorization header, falling
// back to the session cookie.
func bearerToken(r *http.Request) string {
	if header := strings.TrimSpace(r.Header.Get("Authorization")); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	if cookie, err := r.Cookie(SessionCookieName); err == nil {
		return strings.TrimSpace(cookie.Value)
	}
	return ""
}

// requireSession resolves the bearer session and stores its owner in the
// request context.
func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, r, s.logger, errUnauthenticated)
			return
		}
		validated, err := s.sessions.Validate(r.Context(), token)
		if err != nil {
			if apperrors.GetCode(err) == apperrors.CodeNotFound {
				err = apperrors.Wrap(apperrors.CodeUnauthenticated, "unknown session", err)
			}
			writeError(w, r, s.logger, err)
			return
		}
		ctx := requestctx.WithUserID(r.Context(), validated.User.ID)
		ctx = requestctx.WithSessionID(ctx, validated.Session.ID)
		ctx = context.WithValue(ctx, principalKey{}, validated.User)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireAdmin must run after requireSession.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !principal(r.Context()).IsAdmin() {
			writeError(w, r, s.logger, apperrors.New(apperrors.CodePermissionDenied, "admin role required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func principal(ctx context.Context) user.User {
	u, _ := ctx.Value(principalKey{}).(user.User)
	return u
}

func (s *Server) setSessionCookie(w http.ResponseWriter, sessionID string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    sessionID,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   s.cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}
