package handlers

import (
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"strings"

	"github.com/marcogenualdo/sso-session/internal/agent"
	"github.com/marcogenualdo/sso-session/internal/auth"
)

// The identity provider returns the token in the fragment, which never
// reaches the server. The relay page moves it into the path of the callback
// route.
const relayTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>Signing in</title>
</head>
<body>
    <noscript>JavaScript is required to complete the sign-in.</noscript>
    <script>
        (function () {
            var data = window.location.hash.replace(/^#/, "");
            window.location.replace({{.Route}} + data);
        })();
    </script>
</body>
</html>
`

var relayPage = template.Must(template.New("relay").Parse(relayTemplate))

type CallbackHandler struct {
	session *auth.Controller
	nav     *agent.Navigator
	route   string
	logger  *slog.Logger
}

// NewCallbackHandler serves the callback routes under route, which must end
// in '/'.
func NewCallbackHandler(session *auth.Controller, nav *agent.Navigator, route string, logger *slog.Logger) *CallbackHandler {
	if !strings.HasSuffix(route, "/") {
		route += "/"
	}
	return &CallbackHandler{
		session: session,
		nav:     nav,
		route:   route,
		logger:  logger,
	}
}

// HandleData serves GET <route>{data...}. The escaped path after the route
// is the fragment payload.
func (h *CallbackHandler) HandleData(w http.ResponseWriter, r *http.Request) {
	data := strings.TrimPrefix(r.URL.EscapedPath(), h.route)
	h.complete(w, r, data)
}

// HandleRelay serves GET <route without trailing slash>. Providers using a
// query response mode are handled directly, everything else gets the relay
// page.
func (h *CallbackHandler) HandleRelay(w http.ResponseWriter, r *http.Request) {
	if r.URL.RawQuery != "" {
		h.complete(w, r, r.URL.RawQuery)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := relayPage.Execute(w, struct{ Route string }{h.route}); err != nil {
		h.logger.Error("failed to render relay page", "error", err)
	}
}

func (h *CallbackHandler) complete(w http.ResponseWriter, r *http.Request, data string) {
	err := h.session.HandleSignInCallback(r.Context(), data)
	switch {
	case errors.Is(err, auth.ErrMissingCallbackData):
		h.logger.Warn("callback without data", "path", r.URL.Path)
		http.Error(w, "Missing callback data", http.StatusBadRequest)
		return
	case errors.Is(err, auth.ErrInvalidToken):
		h.logger.Warn("callback token rejected", "error", err)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	case err != nil:
		h.logger.Error("callback failed", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, h.nav.Path(), http.StatusFound)
}

// HandleSignOut serves the post-logout redirect target.
func (h *CallbackHandler) HandleSignOut(w http.ResponseWriter, r *http.Request) {
	if err := h.session.HandleSignOutCallback(r.Context()); err != nil {
		h.logger.Error("sign-out callback failed", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, h.nav.Path(), http.StatusFound)
}
