package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/marcogenualdo/sso-session/internal/auth"
	"github.com/marcogenualdo/sso-session/internal/cache"
	"github.com/marcogenualdo/sso-session/internal/config"
)

type HealthHandler struct {
	cfg       config.Config
	cache     cache.Cache
	session   *auth.Controller
	client    *http.Client
	logger    *slog.Logger
	startTime time.Time
}

func NewHealthHandler(cfg config.Config, cache cache.Cache, session *auth.Controller, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		cfg:       cfg,
		cache:     cache,
		session:   session,
		client:    &http.Client{Timeout: 5 * time.Second},
		logger:    logger,
		startTime: time.Now(),
	}
}

type HealthResponse struct {
	Status  string        `json:"status"`
	Uptime  string        `json:"uptime"`
	Cache   CacheHealth   `json:"cache"`
	Backend BackendHealth `json:"backend"`
	Session SessionHealth `json:"session"`
}

type CacheHealth struct {
	Type   string `json:"type"`
	Status string `json:"status"`
}

type BackendHealth struct {
	URL    string `json:"url"`
	Status string `json:"status"`
}

type SessionHealth struct {
	Issuer        string `json:"issuer"`
	Authenticated bool   `json:"authenticated"`
}

// ServeHTTP reports degraded when the shared store or the backend is
// unreachable. An unauthenticated session is not a failure.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	response := HealthResponse{
		Status: "healthy",
		Uptime: time.Since(h.startTime).String(),
	}

	key := h.cfg.Cache.KeyPrefix + "health:check"
	response.Cache.Type = h.cfg.Cache.Type
	if err := h.cache.Set(ctx, key, []byte("ok"), time.Minute); err != nil {
		response.Cache.Status = "error: " + err.Error()
		response.Status = "degraded"
	} else {
		response.Cache.Status = "connected"
		h.cache.Delete(ctx, key)
	}

	response.Backend.URL = h.cfg.Backend.URL
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.cfg.Backend.URL, nil)
	if err == nil {
		var resp *http.Response
		resp, err = h.client.Do(req)
		if err == nil {
			resp.Body.Close()
		}
	}
	if err != nil {
		h.logger.Debug("backend health check failed", "error", err)
		response.Backend.Status = "unreachable"
		response.Status = "degraded"
	} else {
		response.Backend.Status = "reachable"
	}

	response.Session.Issuer = h.cfg.OIDC.BasePath
	response.Session.Authenticated = h.session.IsAuthenticated(ctx)

	w.Header().Set("Content-Type", "application/json")
	if response.Status != "healthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	json.NewEncoder(w).Encode(response)
}
