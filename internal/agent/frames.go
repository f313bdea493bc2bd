package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"

	"github.com/marcogenualdo/sso-session/internal/auth"
	"github.com/marcogenualdo/sso-session/internal/cache"
	"github.com/marcogenualdo/sso-session/internal/config"
	"github.com/marcogenualdo/sso-session/internal/events"
	"github.com/marcogenualdo/sso-session/internal/querystring"
	"golang.org/x/net/publicsuffix"
)

const maxRedirects = 10

// Dispatch delivers the payload of a callback that reached the redirect URI.
type Dispatch func(ctx context.Context, data string) error

// FrameHost opens secondary contexts as HTTP round trips. Redirects are
// followed with a persistent cookie jar until one targets the redirect URI;
// the payload of that redirect is handed to dispatch instead of being
// fetched.
type FrameHost struct {
	client      *http.Client
	redirectURI *url.URL
	route       string
	dispatch    Dispatch
	logger      *slog.Logger

	wg sync.WaitGroup
}

type FrameOption func(*FrameHost)

// WithHTTPClient replaces the default client. Its CheckRedirect is
// overridden.
func WithHTTPClient(client *http.Client) FrameOption {
	return func(h *FrameHost) {
		c := *client
		h.client = &c
	}
}

// WithCallbackRoute sets the route stripped from fragment payloads.
func WithCallbackRoute(route string) FrameOption {
	return func(h *FrameHost) {
		h.route = route
	}
}

func NewFrameHost(redirectURI string, dispatch Dispatch, logger *slog.Logger, opts ...FrameOption) (*FrameHost, error) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return nil, fmt.Errorf("invalid redirect uri: %w", err)
	}
	if !u.IsAbs() {
		return nil, fmt.Errorf("redirect uri must be absolute: %s", redirectURI)
	}

	h := &FrameHost{
		redirectURI: u,
		route:       auth.DefaultCallbackRoute,
		dispatch:    dispatch,
		logger:      logger.With("component", "frames"),
	}
	for _, opt := range opts {
		opt(h)
	}

	if h.client == nil {
		jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			return nil, fmt.Errorf("failed to create cookie jar: %w", err)
		}
		h.client = &http.Client{
			Jar:     jar,
			Timeout: auth.RefreshTimeout,
		}
	}
	h.client.CheckRedirect = h.checkRedirect

	return h, nil
}

func (h *FrameHost) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return errors.New("stopped after 10 redirects")
	}
	if h.atRedirectURI(req.URL) {
		return http.ErrUseLastResponse
	}
	return nil
}

func (h *FrameHost) atRedirectURI(u *url.URL) bool {
	if u == nil {
		return false
	}
	return strings.EqualFold(u.Scheme, h.redirectURI.Scheme) &&
		strings.EqualFold(u.Host, h.redirectURI.Host) &&
		strings.TrimSuffix(u.Path, "/") == strings.TrimSuffix(h.redirectURI.Path, "/")
}

// Open starts loading rawURL in the background. The returned frame cancels
// the load when removed.
func (h *FrameHost) Open(ctx context.Context, rawURL string) (auth.Frame, error) {
	if _, err := url.Parse(rawURL); err != nil {
		return nil, fmt.Errorf("invalid frame url: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer cancel()
		h.load(ctx, rawURL)
	}()

	return &frame{cancel: cancel}, nil
}

// Wait blocks until every opened frame has finished loading.
func (h *FrameHost) Wait() {
	h.wg.Wait()
}

func (h *FrameHost) load(ctx context.Context, rawURL string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		h.logger.Error("failed to build frame request", "error", err)
		return
	}

	resp, err := h.client.Do(req)
	if err != nil {
		if ctx.Err() == nil {
			h.logger.Warn("secondary context failed to load", "error", err)
		}
		return
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
	resp.Body.Close()

	var landed *url.URL
	switch {
	case resp.StatusCode >= 300 && resp.StatusCode < 400:
		if loc, err := resp.Location(); err == nil && h.atRedirectURI(loc) {
			landed = loc
		}
	case h.atRedirectURI(resp.Request.URL):
		landed = resp.Request.URL
	}
	if landed == nil {
		h.logger.Warn("secondary context did not reach the redirect uri",
			"status", resp.StatusCode,
			"url", resp.Request.URL.Redacted(),
		)
		return
	}

	data := h.callbackData(landed)
	if data == "" {
		h.logger.Warn("redirect carried no callback data")
		return
	}

	if err := h.dispatch(ctx, data); err != nil {
		h.logger.Error("callback dispatch failed", "error", err)
	}
}

// callbackData prefers the fragment and falls back to the query, where
// providers put errors for some response modes.
func (h *FrameHost) callbackData(u *url.URL) string {
	if u.Fragment != "" {
		return querystring.CallbackData("#"+u.EscapedFragment(), h.route)
	}
	return u.RawQuery
}

type frame struct {
	cancel context.CancelFunc
}

func (f *frame) Remove() {
	f.cancel()
}

// SecondaryDispatch runs each callback in a fresh secondary controller with
// its own mirror of backend, the way a hidden iframe boots its own copy of
// the application.
func SecondaryDispatch(cfg config.OIDCConfig, backend cache.Cache, prefix string, bus *events.Bus, logger *slog.Logger, opts ...auth.Option) Dispatch {
	opts = append(append([]auth.Option{}, opts...), auth.AsSecondary())

	return func(ctx context.Context, data string) error {
		c, err := auth.New(ctx, cfg, cache.NewMirror(backend, prefix), NewNavigator(), nil, bus, logger, opts...)
		if err != nil {
			return fmt.Errorf("failed to start secondary controller: %w", err)
		}
		defer c.Close()

		return c.HandleSignInCallback(ctx, data)
	}
}
