package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// TokenHolder reports whether a session token is stored.
type TokenHolder interface {
	HasToken(ctx context.Context) bool
}

type AuthMiddleware struct {
	session   TokenHolder
	loginPath string
	logger    *slog.Logger
}

func NewAuthMiddleware(session TokenHolder, loginPath string, logger *slog.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		session:   session,
		loginPath: loginPath,
		logger:    logger,
	}
}

// RequireLogin sends page navigations to the login route while no token is
// stored. Other requests pass through; the transport reports their
// authentication state.
func (am *AuthMiddleware) RequireLogin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || !acceptsHTML(r) || am.session.HasToken(r.Context()) {
			next.ServeHTTP(w, r)
			return
		}

		am.logger.Debug("no session token, redirecting to login", "path", r.URL.Path)
		target := am.loginPath + "?redirect=" + url.QueryEscape(r.URL.RequestURI())
		http.Redirect(w, r, target, http.StatusFound)
	})
}

func acceptsHTML(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}
