package auth

import (
	"context"
	"net/url"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

// endpoint resolves p against the configured base path. Absolute endpoints,
// as produced by discovery, are returned unchanged.
func (c *Controller) endpoint(p string) string {
	if u, err := url.Parse(p); err == nil && u.IsAbs() {
		return p
	}
	base := c.cfg.BasePath
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return base + p
}

// CreateLoginURL builds the authorization request for nonce and state. An
// empty state falls back to the configured default. With sticky IDP enabled
// the idp claim of the current token is forwarded as acr_values.
func (c *Controller) CreateLoginURL(ctx context.Context, nonce, state string) string {
	if state == "" {
		state = c.cfg.State
	}

	oauth2Config := oauth2.Config{
		ClientID:    c.cfg.ClientID,
		RedirectURL: c.cfg.RedirectURI,
		Endpoint:    oauth2.Endpoint{AuthURL: c.endpoint(c.cfg.AuthorizationEndpoint)},
		Scopes:      strings.Fields(c.cfg.Scope),
	}

	opts := []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("response_type", c.cfg.ResponseType),
		oidc.Nonce(nonce),
	}

	if c.cfg.StickToLastKnownIdp {
		claims, err := c.tokens.AllClaims(ctx)
		if err != nil {
			c.logger.Debug("no claims for idp hint", "error", err)
		}
		if idp := claims.IDP(); idp != "" {
			opts = append(opts, oauth2.SetAuthURLParam("acr_values", "idp:"+idp))
		}
	}

	return oauth2Config.AuthCodeURL(state, opts...)
}

// CreateLogoutURL builds the end-session request. The r parameter defeats
// caching proxies.
func (c *Controller) CreateLogoutURL(ctx context.Context, state string) string {
	if state == "" {
		state = c.cfg.State
	}

	q := url.Values{}
	q.Set("id_token_hint", c.tokens.IDToken(ctx))
	q.Set("post_logout_redirect_uri", c.cfg.LogoutURI)
	q.Set("state", state)
	q.Set("r", uuid.NewString())

	u := c.endpoint(c.cfg.EndSessionEndpoint)
	sep := "?"
	if strings.Contains(u, "?") {
		sep = "&"
	}
	return u + sep + q.Encode()
}
