package server

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/marcogenualdo/sso-session/internal/handlers"
	"github.com/marcogenualdo/sso-session/internal/middleware"
	"github.com/marcogenualdo/sso-session/internal/proxy"
)

const (
	LoginPath  = "/auth/login"
	LogoutPath = "/auth/logout"
	StatusPath = "/auth/status"
	HealthPath = "/health"
)

// routePath returns the path of an absolute redirect URI served by this
// process.
func routePath(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	p := strings.TrimSuffix(u.Path, "/")
	if p == "" {
		return "", fmt.Errorf("%s has no path to serve", raw)
	}
	return p, nil
}

func (s *Server) setupRoutes() (http.Handler, error) {
	mux := http.NewServeMux()

	callbackPath, err := routePath(s.cfg.OIDC.RedirectURI)
	if err != nil {
		return nil, fmt.Errorf("invalid redirect_uri: %w", err)
	}
	clearPath, err := routePath(s.cfg.OIDC.LogoutURI)
	if err != nil {
		return nil, fmt.Errorf("invalid logout_uri: %w", err)
	}

	csrfMiddleware := middleware.NewCSRFMiddleware(s.cache, s.cfg.Cache.KeyPrefix, s.logger)

	callbackHandler := handlers.NewCallbackHandler(s.session, s.nav, callbackPath+"/", s.logger)
	loginHandler := handlers.NewLoginHandler(s.session, s.nav, s.logger)
	logoutHandler := handlers.NewLogoutHandler(s.session, s.nav, s.logger)
	statusHandler := handlers.NewStatusHandler(s.session, csrfMiddleware, s.logger)
	healthHandler := handlers.NewHealthHandler(s.cfg, s.cache, s.session, s.logger)

	reverseProxy, err := proxy.NewReverseProxy(s.cfg.Backend, s.session, s.transport, s.logger)
	if err != nil {
		return nil, err
	}

	mux.HandleFunc("GET "+callbackPath, callbackHandler.HandleRelay)
	mux.HandleFunc("GET "+callbackPath+"/{data...}", callbackHandler.HandleData)
	mux.HandleFunc("GET "+clearPath, callbackHandler.HandleSignOut)

	mux.Handle("GET "+LoginPath, loginHandler)
	mux.Handle("POST "+LogoutPath, csrfMiddleware.ValidateCSRF(logoutHandler))
	mux.Handle("GET "+StatusPath, statusHandler)
	mux.Handle("GET "+HealthPath, healthHandler)

	var app http.Handler = reverseProxy
	if s.cfg.Server.RequireLogin {
		app = middleware.NewAuthMiddleware(s.session, LoginPath, s.logger).RequireLogin(app)
	}
	mux.Handle("/", app)

	handler := middleware.Logging(s.logger)(
		middleware.Recovery(s.logger)(
			addSecurityHeaders(mux),
		),
	)

	return handler, nil
}

func addSecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		next.ServeHTTP(w, r)
	})
}
