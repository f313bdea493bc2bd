package proxy

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/marcogenualdo/sso-session/internal/config"
	"github.com/marcogenualdo/sso-session/internal/token"
)

// ClaimsSource exposes the claims of the current session once its token
// has passed signature verification. Identity headers are built only from
// these claims.
type ClaimsSource interface {
	VerifiedClaims(ctx context.Context) (token.Claims, error)
}

type ReverseProxy struct {
	proxy  *httputil.ReverseProxy
	cfg    config.BackendConfig
	claims ClaimsSource
	logger *slog.Logger
}

// BackendTransport is the base transport for backend calls, bounded by the
// configured timeout.
func BackendTransport(cfg config.BackendConfig) http.RoundTripper {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.Timeout,
	}
}

// NewReverseProxy forwards requests to cfg.URL through transport, which is
// normally a *Transport so that API calls carry the bearer token.
func NewReverseProxy(cfg config.BackendConfig, claims ClaimsSource, transport http.RoundTripper, logger *slog.Logger) (*ReverseProxy, error) {
	backendURL, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, err
	}

	proxy := httputil.NewSingleHostReverseProxy(backendURL)
	proxy.Transport = transport

	originalDirector := proxy.Director
	proxy.Director = func(req *http.Request) {
		originalDirector(req)
		if !cfg.PreserveHost {
			req.Host = backendURL.Host
		}
		req.URL.Scheme = backendURL.Scheme
		req.URL.Host = backendURL.Host
	}

	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.Error("proxy error",
			"error", err,
			"backend", backendURL.String(),
			"path", r.URL.Path,
		)
		http.Error(w, "Bad Gateway", http.StatusBadGateway)
	}

	return &ReverseProxy{
		proxy:  proxy,
		cfg:    cfg,
		claims: claims,
		logger: logger,
	}, nil
}

func (rp *ReverseProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	claims, err := rp.claims.VerifiedClaims(r.Context())
	if err != nil {
		// Identity headers are stripped; the transport still forwards the
		// bearer for the backend to verify.
		rp.logger.Debug("no verified claims for identity headers", "error", err)
		claims = nil
	}

	r = r.Clone(r.Context())
	r.Header.Del("Authorization")
	InjectHeaders(r, claims, rp.cfg.HeaderMappings)

	if rp.cfg.PreserveHost {
		if host := r.Header.Get("X-Forwarded-Host"); host != "" {
			r.Host = host
		}
	}

	rp.logger.Debug("proxying request",
		"path", r.URL.Path,
		"backend", rp.cfg.URL,
		"subject", claims.Subject(),
	)

	rp.proxy.ServeHTTP(w, r)
}
