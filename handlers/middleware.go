package handlers

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"forumd/auth"
	"forumd/config"
	"forumd/database"
	"forumd/models"
	"forumd/utils"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

// ContextKey is a custom type for context keys to avoid collisions.
type ContextKey string

const (
	MemberKey    ContextKey = "member"
	PermsKey     ContextKey = "permissions"
	CSRFTokenKey ContextKey = "csrfToken"
	AppKey       ContextKey = "app"
)

// AppContextMiddleware injects the App dependency into the request context.
// This is useful for handlers that are not wrapped by MakeHandler, like the not-found page.
func AppContextMiddleware(app App, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), AppKey, app)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// CSRFMiddleware protects against Cross-Site Request Forgery attacks.
func CSRFMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		csrfCookie, err := r.Cookie("csrf_token")
		var csrfToken string

		if err != nil || csrfCookie.Value == "" {
			csrfToken = uuid.New().String()
			http.SetCookie(w, &http.Cookie{
				Name:     "csrf_token",
				Value:    csrfToken,
				Path:     "/",
				HttpOnly: true,
				Secure:   r.TLS != nil,
				SameSite: http.SameSiteLaxMode,
			})
		} else {
			csrfToken = csrfCookie.Value
		}

		if r.Method == http.MethodPost {
			// This check handles both multipart/form-data and application/x-www-form-urlencoded
			tokenFromForm := r.FormValue("csrf_token")
			if tokenFromForm == "" {
				tokenFromForm = r.Header.Get("X-CSRF-Token")
			}

			if subtle.ConstantTimeCompare([]byte(tokenFromForm), []byte(csrfToken)) != 1 {
				http.Error(w, "Invalid CSRF token", http.StatusForbidden)
				return
			}
		}

		ctx := context.WithValue(r.Context(), CSRFTokenKey, csrfToken)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SessionMiddleware resolves the session cookie to a member and loads the
// effective permissions. Requests without a valid session run as guests.
func SessionMiddleware(app App) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger := app.Logger().With("middleware", "session")
			var member *models.Member

			if cookie, err := r.Cookie(config.SessionCookieName); err == nil && cookie.Value != "" {
				m, err := app.DB().GetSessionMember(r.Context(), cookie.Value)
				switch {
				case err == nil:
					member = m
				case errors.Is(err, database.ErrNotFound):
					clearSessionCookie(w, r)
				default:
					logger.Error("Failed to resolve session", "error", err)
				}
			}

			perms, err := app.DB().LoadPermissions(r.Context(), member)
			if err != nil {
				logger.Error("Failed to load permissions", "error", err)
				perms = auth.Guest(nil)
				member = nil
			}

			ctx := context.WithValue(r.Context(), MemberKey, member)
			ctx = context.WithValue(ctx, PermsKey, perms)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func setSessionCookie(w http.ResponseWriter, r *http.Request, token string, lifetime time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     config.SessionCookieName,
		Value:    token,
		Path:     "/",
		Expires:  utils.GetTime().Add(lifetime),
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
}

func clearSessionCookie(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     config.SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
}

// currentMember returns the logged in member, or nil for guests.
func currentMember(r *http.Request) *models.Member {
	m, _ := r.Context().Value(MemberKey).(*models.Member)
	return m
}

// currentPerms returns the request's permission set; never nil.
func currentPerms(r *http.Request) *auth.Permissions {
	if p, ok := r.Context().Value(PermsKey).(*auth.Permissions); ok && p != nil {
		return p
	}
	return auth.Guest(nil)
}

// RequireLAN restricts access to a handler to private or loopback IP addresses.
func RequireLAN(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !utils.IsLANAddress(r) {
			http.Error(w, "Forbidden: Moderation access restricted to LAN", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// NewSecurityHeadersMiddleware sets conservative browser security headers.
// extraImgSrc allows avatars served from object storage.
func NewSecurityHeadersMiddleware(extraImgSrc string) func(http.Handler) http.Handler {
	csp := "default-src 'self'; img-src 'self' data:"
	if extraImgSrc != "" {
		csp += " " + extraImgSrc
	}
	csp += "; style-src 'self' 'unsafe-inline'; frame-ancestors 'none'"
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("Content-Security-Policy", csp)
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", "same-origin")
			next.ServeHTTP(w, r)
		})
	}
}

// NewStructuredLogger logs one line per request through slog.
func NewStructuredLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				logger.Info("request",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"bytes", ww.BytesWritten(),
					"duration", time.Since(start),
					"request_id", middleware.GetReqID(r.Context()),
					"ip", utils.GetIPAddress(r),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
