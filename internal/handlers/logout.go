package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/marcogenualdo/sso-session/internal/agent"
	"github.com/marcogenualdo/sso-session/internal/auth"
)

// logoutWait bounds how long the handler waits for the deferred logout
// navigation.
const logoutWait = 5 * time.Second

type LogoutHandler struct {
	session *auth.Controller
	nav     *agent.Navigator
	logger  *slog.Logger
}

func NewLogoutHandler(session *auth.Controller, nav *agent.Navigator, logger *slog.Logger) *LogoutHandler {
	return &LogoutHandler{
		session: session,
		nav:     nav,
		logger:  logger,
	}
}

func (h *LogoutHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	navigated := h.nav.Changed()
	if err := h.session.SignOut(r.Context()); err != nil {
		h.logger.Error("failed to start logout", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	select {
	case <-navigated:
	case <-r.Context().Done():
		return
	case <-time.After(logoutWait):
		h.logger.Error("logout navigation did not happen", "timeout", logoutWait)
		http.Error(w, "Gateway timeout", http.StatusGatewayTimeout)
		return
	}

	h.logger.Info("user logged out")
	http.Redirect(w, r, h.nav.Location(), http.StatusSeeOther)
}
