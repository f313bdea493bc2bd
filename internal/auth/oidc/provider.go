// Package oidc fills endpoint configuration from the issuer's discovery
// document and builds the id_token verifier backed by its key set.
package oidc

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/marcogenualdo/sso-session/internal/config"
)

// Endpoints are the absolute endpoint URLs advertised by an issuer.
type Endpoints struct {
	Issuer                string
	AuthorizationEndpoint string
	EndSessionEndpoint    string `json:"end_session_endpoint"`
	RevocationEndpoint    string `json:"revocation_endpoint"`

	provider *oidc.Provider
}

// Discover fetches the issuer's /.well-known/openid-configuration.
func Discover(ctx context.Context, issuer string) (Endpoints, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return Endpoints{}, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}

	var ep Endpoints
	if err := provider.Claims(&ep); err != nil {
		return Endpoints{}, fmt.Errorf("failed to parse discovery document: %w", err)
	}
	ep.Issuer = issuer
	ep.provider = provider
	ep.AuthorizationEndpoint = provider.Endpoint().AuthURL

	if ep.AuthorizationEndpoint == "" {
		return Endpoints{}, fmt.Errorf("issuer %s advertises no authorization endpoint", issuer)
	}
	return ep, nil
}

// Apply overrides the endpoints in cfg with the discovered ones. Endpoints
// the issuer does not advertise keep their configured value.
func (ep Endpoints) Apply(cfg *config.OIDCConfig) {
	cfg.AuthorizationEndpoint = ep.AuthorizationEndpoint
	if ep.EndSessionEndpoint != "" {
		cfg.EndSessionEndpoint = ep.EndSessionEndpoint
	}
	if ep.RevocationEndpoint != "" {
		cfg.RevocationEndpoint = ep.RevocationEndpoint
	}
}

// Verifier checks id_tokens against the issuer's published keys, its issuer
// and clientID as audience. Expiry is left to the session lifecycle, which
// runs on its own clock and refreshes ahead of time.
func (ep Endpoints) Verifier(clientID string) *oidc.IDTokenVerifier {
	return ep.provider.Verifier(&oidc.Config{
		ClientID:        clientID,
		SkipExpiryCheck: true,
	})
}
