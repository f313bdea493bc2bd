package handlers

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/marcogenualdo/sso-session/internal/agent"
	"github.com/marcogenualdo/sso-session/internal/auth"
)

type LoginHandler struct {
	session *auth.Controller
	nav     *agent.Navigator
	logger  *slog.Logger
}

func NewLoginHandler(session *auth.Controller, nav *agent.Navigator, logger *slog.Logger) *LoginHandler {
	return &LoginHandler{
		session: session,
		nav:     nav,
		logger:  logger,
	}
}

// ServeHTTP starts the implicit flow and redirects the user agent to the
// identity provider. The optional redirect parameter is the local path to
// return to.
func (h *LoginHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	redirect := r.URL.Query().Get("redirect")
	if !isLocalPath(redirect) {
		redirect = ""
	}

	if err := h.session.SignIn(r.Context(), redirect); err != nil {
		h.logger.Error("failed to start sign-in", "error", err)
		http.Error(w, "Failed to initiate authentication", http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, h.nav.Location(), http.StatusFound)
}

// isLocalPath rejects anything a browser could resolve to another origin.
func isLocalPath(p string) bool {
	return strings.HasPrefix(p, "/") &&
		!strings.HasPrefix(p, "//") &&
		!strings.HasPrefix(p, "/\\")
}
