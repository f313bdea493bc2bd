package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/marcogenualdo/sso-session/internal/auth"
	"github.com/marcogenualdo/sso-session/internal/middleware"
)

type StatusHandler struct {
	session *auth.Controller
	csrf    *middleware.CSRFMiddleware
	logger  *slog.Logger
}

func NewStatusHandler(session *auth.Controller, csrf *middleware.CSRFMiddleware, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{
		session: session,
		csrf:    csrf,
		logger:  logger,
	}
}

type StatusResponse struct {
	Session   auth.Session `json:"session"`
	CSRFToken string       `json:"csrf_token"`
}

// ServeHTTP reports the session state together with a fresh CSRF token for
// the logout form.
func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	csrfToken, err := h.csrf.GenerateCSRFToken(r.Context())
	if err != nil {
		h.logger.Error("failed to generate CSRF token", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	response := StatusResponse{
		Session:   h.session.Session(r.Context()),
		CSRFToken: csrfToken,
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.logger.Error("failed to encode status", "error", err)
	}
}
