package auth

import (
	"context"
	"time"

	"github.com/marcogenualdo/sso-session/internal/token"
)

// Session is a point-in-time view of a controller's state, as served by the
// status endpoint.
type Session struct {
	Authenticated bool         `json:"authenticated"`
	HasToken      bool         `json:"has_token"`
	Subject       string       `json:"subject,omitempty"`
	IDP           string       `json:"idp,omitempty"`
	IssuedAt      *time.Time   `json:"issued_at,omitempty"`
	ExpiresAt     *time.Time   `json:"expires_at,omitempty"`
	Claims        token.Claims `json:"claims,omitempty"`
	Flags         SessionFlags `json:"flags"`
}

// SessionFlags mirrors the lifecycle flags as last pulled from the shared
// store.
type SessionFlags struct {
	RefreshRunning bool `json:"refresh_running"`
	LoopRunning    bool `json:"loop_running"`
	LogoutActive   bool `json:"logout_active"`
}

func (c *Controller) Session(ctx context.Context) Session {
	c.sync(ctx)

	s := Session{
		Authenticated: c.tokens.HasValidToken(ctx),
		HasToken:      c.tokens.HasToken(ctx),
		Flags: SessionFlags{
			RefreshRunning: c.store.Bool(token.KeyRefreshRunning),
			LoopRunning:    c.store.Bool(keyLoopRunning),
			LogoutActive:   c.store.Bool(keyLogoutActive),
		},
	}

	claims, err := c.tokens.AllClaims(ctx)
	if err != nil || claims == nil {
		return s
	}
	s.Claims = claims
	s.Subject = claims.Subject()
	s.IDP = claims.IDP()
	if iat, ok := claims.IssuedAt(); ok {
		s.IssuedAt = &iat
	}
	if exp, ok := claims.ExpiresAt(); ok {
		s.ExpiresAt = &exp
	}
	return s
}
