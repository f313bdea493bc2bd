package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/marcogenualdo/sso-session/internal/cache"
	"github.com/marcogenualdo/sso-session/pkg/security"
)

// CSRFTokenTTL is how long an issued token stays redeemable.
const CSRFTokenTTL = 10 * time.Minute

// CSRFMiddleware protects state-changing requests with single-use tokens
// kept in the cache.
type CSRFMiddleware struct {
	cache  cache.Cache
	prefix string
	logger *slog.Logger
}

func NewCSRFMiddleware(cache cache.Cache, keyPrefix string, logger *slog.Logger) *CSRFMiddleware {
	return &CSRFMiddleware{
		cache:  cache,
		prefix: keyPrefix + "csrf:",
		logger: logger,
	}
}

func (cm *CSRFMiddleware) ValidateCSRF(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		default:
			next.ServeHTTP(w, r)
			return
		}

		token := r.Header.Get("X-CSRF-Token")
		if token == "" {
			token = r.FormValue("csrf_token")
		}

		if token == "" {
			cm.logger.Warn("missing CSRF token", "path", r.URL.Path)
			http.Error(w, "Missing CSRF token", http.StatusForbidden)
			return
		}

		exists, err := cm.cache.Exists(r.Context(), cm.prefix+token)
		if err != nil {
			cm.logger.Error("failed to check CSRF token", "error", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		if !exists {
			cm.logger.Warn("invalid CSRF token", "path", r.URL.Path)
			http.Error(w, "Invalid or expired CSRF token", http.StatusForbidden)
			return
		}

		if err := cm.cache.Delete(r.Context(), cm.prefix+token); err != nil {
			cm.logger.Warn("failed to consume CSRF token", "error", err)
		}

		next.ServeHTTP(w, r)
	})
}

// GenerateCSRFToken issues a token valid for CSRFTokenTTL.
func (cm *CSRFMiddleware) GenerateCSRFToken(ctx context.Context) (string, error) {
	token, err := security.NewCSRFToken()
	if err != nil {
		return "", err
	}

	if err := cm.cache.Set(ctx, cm.prefix+token, []byte("1"), CSRFTokenTTL); err != nil {
		return "", err
	}

	return token, nil
}
