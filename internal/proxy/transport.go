// Package proxy attaches the session's bearer token to outbound API calls
// and forwards server traffic to the backend through that transport.
package proxy

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/marcogenualdo/sso-session/internal/config"
	"github.com/marcogenualdo/sso-session/internal/events"
)

// Session is the part of auth.Controller the transport needs.
type Session interface {
	IDToken(ctx context.Context) string
	HasToken(ctx context.Context) bool
	IsAuthenticated(ctx context.Context) bool
	ValidateExpiry(ctx context.Context)
}

// Transport is an http.RoundTripper that authenticates requests under the
// configured API URL and reacts to the responses it sees: successful ones
// trigger an expiry check, 401s are classified and published.
type Transport struct {
	base    http.RoundTripper
	session Session
	bus     *events.Bus
	logger  *slog.Logger

	// apiURL is either an absolute URL prefix or, when apiPath is set, a
	// path prefix matched against the request path only.
	apiURL  string
	apiPath bool
	strict  bool
}

// NewTransport wraps base, or http.DefaultTransport when base is nil.
func NewTransport(cfg config.OIDCConfig, session Session, bus *events.Bus, logger *slog.Logger, base http.RoundTripper) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}

	t := &Transport{
		base:    base,
		session: session,
		bus:     bus,
		logger:  logger.With("component", "transport"),
		apiURL:  cfg.APIURL,
		strict:  cfg.EnableRequestChecks,
	}
	if u, err := url.Parse(cfg.APIURL); err != nil || !u.IsAbs() {
		t.apiPath = true
	}
	return t
}

func (t *Transport) inScope(req *http.Request) bool {
	if t.apiURL == "" {
		return false
	}
	if t.apiPath {
		return strings.HasPrefix(req.URL.Path, t.apiURL)
	}
	return strings.HasPrefix(req.URL.String(), t.apiURL)
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	if t.inScope(req) {
		if t.attachBearer(req) {
			req = req.Clone(ctx)
			req.Header.Set("Authorization", "Bearer "+t.session.IDToken(ctx))
		}
	}

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		t.classifyUnauthorized(req, resp)
	case resp.StatusCode < http.StatusBadRequest:
		t.session.ValidateExpiry(ctx)
	}
	return resp, nil
}

// attachBearer decides whether req gets the token. In strict mode only a
// currently valid token is sent and the reason for not sending one is
// published.
func (t *Transport) attachBearer(req *http.Request) bool {
	ctx := req.Context()

	if !t.strict {
		return t.session.HasToken(ctx)
	}

	switch {
	case !t.session.HasToken(ctx):
		t.bus.Publish(events.Event{Kind: events.TokenMissing, Request: req})
		return false
	case !t.session.IsAuthenticated(ctx):
		t.bus.Publish(events.Event{Kind: events.TokenExpired, Request: req})
		return false
	default:
		return true
	}
}

// classifyUnauthorized publishes why req was rejected. req is the request
// actually sent; resp.Request may be unset by custom base transports.
func (t *Transport) classifyUnauthorized(req *http.Request, resp *http.Response) {
	ctx := req.Context()
	kind := events.Unauthorized
	switch {
	case !t.session.HasToken(ctx):
		kind = events.TokenMissing
	case !t.session.IsAuthenticated(ctx):
		kind = events.TokenExpired
	}

	t.logger.Debug("request unauthorized", "url", req.URL.String(), "event", kind.String())
	t.bus.Publish(events.Event{Kind: kind, Request: req, Response: resp})
}
