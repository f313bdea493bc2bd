package auth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strings"

	"github.com/marcogenualdo/sso-session/internal/events"
	"github.com/marcogenualdo/sso-session/internal/querystring"
	"github.com/marcogenualdo/sso-session/internal/token"
	"github.com/marcogenualdo/sso-session/pkg/security"
)

// SignIn remembers localRedirect as the route to restore after the round
// trip and replaces the current document with the authorization request.
func (c *Controller) SignIn(ctx context.Context, localRedirect string) error {
	nonce, err := security.NewNonce()
	if err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}

	if r := strings.TrimPrefix(localRedirect, "#"); r != "" {
		c.store.SetString(keyLocalRedirect, r)
	} else {
		c.store.Delete(keyLocalRedirect)
	}
	c.store.SetString(keyLoginNonce, nonce)
	if err := c.store.Flush(ctx); err != nil {
		return fmt.Errorf("failed to persist sign-in: %w", err)
	}

	u := c.CreateLoginURL(ctx, nonce, "")
	c.logger.Info("starting implicit flow", "redirect", localRedirect)
	return c.nav.Replace(u)
}

// SignOut marks the logout as in progress, stops the expiry loop and
// navigates to the end-session endpoint after LogoutDelay.
func (c *Controller) SignOut(ctx context.Context) error {
	u := c.CreateLogoutURL(ctx, "")

	c.store.SetBool(keyLogoutActive, true)
	c.store.SetBool(keyLoopRunning, false)
	if err := c.store.Flush(ctx); err != nil {
		return fmt.Errorf("failed to persist logout: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.loopTimer != nil {
		c.loopTimer.Stop()
		c.loopTimer = nil
	}
	if c.logoutTimer != nil {
		c.logoutTimer.Stop()
	}
	c.logoutTimer = c.clock.AfterFunc(LogoutDelay, func() {
		if c.ctx.Err() != nil {
			return
		}
		if err := c.nav.Replace(u); err != nil {
			c.logger.Error("logout navigation failed", "error", err)
		}
	})

	c.logger.Info("logout started")
	return nil
}

// HandleSignInCallback processes the identity provider's redirect. data is
// the fragment payload bound from the callback route; when empty it is
// recovered from the current location fragment. A callback with
// state=refresh finishes a silent refresh, any other state completes a
// full login.
func (c *Controller) HandleSignInCallback(ctx context.Context, data string) error {
	if data == "" {
		data = querystring.CallbackData(c.nav.Hash(), c.route)
	}
	if data == "" {
		return ErrMissingCallbackData
	}

	fragments := querystring.Parse(data)
	state := fragments["state"]
	c.logger.Debug("processing callback", "state", state)

	if code, ok := fragments["error"]; ok {
		perr := &ProviderError{
			Code:        code,
			Description: fragments["error_description"],
			URI:         fragments["error_uri"],
		}
		c.logger.Warn("identity provider returned an error", "error", perr, "state", state)
		if state == RefreshState {
			c.finishSilentRefresh(ctx, events.SilentRefreshFailed)
		}
		return nil
	}

	idToken := fragments["id_token"]
	if idToken == "" {
		c.logger.Debug("callback carried no id_token")
		return nil
	}

	if state == RefreshState {
		c.handleSilentRefreshCallback(ctx, idToken)
		return nil
	}
	return c.handleImplicitFlowCallback(ctx, idToken)
}

func (c *Controller) handleImplicitFlowCallback(ctx context.Context, idToken string) error {
	if err := c.verifyCallbackToken(ctx, idToken, keyLoginNonce); err != nil {
		c.logger.Warn("login callback rejected", "error", err)
		return err
	}

	if err := c.tokens.SaveToken(ctx, idToken); err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}

	redirect := "/"
	if r := c.store.String(keyLocalRedirect); r != "" {
		redirect = r
		c.store.Delete(keyLocalRedirect)
		c.flush(ctx)
	}
	c.nav.SetPath(redirect)

	if c.tokens.HasValidToken(ctx) {
		c.startExpiryLoop(ctx)
	}

	c.logger.Info("logged in", "redirect", redirect)
	c.publish(events.LoggedIn)
	return nil
}

// handleSilentRefreshCallback accepts newIDToken only when it extends the
// current expiry, or when there is no current token.
func (c *Controller) handleSilentRefreshCallback(ctx context.Context, newIDToken string) {
	c.sync(ctx)

	if err := c.verifyCallbackToken(ctx, newIDToken, keyRefreshNonce); err != nil {
		c.logger.Warn("refreshed token rejected", "error", err)
		c.finishSilentRefresh(ctx, events.SilentRefreshFailed)
		return
	}

	current, err := c.tokens.AllClaims(ctx)
	if err != nil {
		c.logger.Debug("current claims unreadable", "error", err)
		current = nil
	}

	kind := events.SilentRefreshFailed
	if accept, reason := acceptRefreshed(current, newIDToken); accept {
		if err := c.tokens.SaveToken(ctx, newIDToken); err != nil {
			c.logger.Error("failed to save refreshed token", "error", err)
		} else {
			kind = events.SilentRefreshSucceeded
		}
	} else {
		c.logger.Info("refreshed token rejected", "reason", reason)
	}

	c.finishSilentRefresh(ctx, kind)
}

// verifyCallbackToken checks raw with the configured verifier and matches
// its nonce against the one stored under nonceKey. The stored nonce is
// consumed whatever the outcome. Without a verifier every token passes.
func (c *Controller) verifyCallbackToken(ctx context.Context, raw, nonceKey string) error {
	if c.verifier == nil {
		return nil
	}

	c.sync(ctx)
	want := c.store.String(nonceKey)
	c.store.Delete(nonceKey)
	c.flush(ctx)

	idToken, err := c.verifier.Verify(ctx, raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if want == "" {
		return fmt.Errorf("%w: no request is pending", ErrInvalidToken)
	}
	if subtle.ConstantTimeCompare([]byte(idToken.Nonce), []byte(want)) != 1 {
		return fmt.Errorf("%w: nonce mismatch", ErrInvalidToken)
	}
	return nil
}

func acceptRefreshed(current token.Claims, newIDToken string) (bool, string) {
	next, err := token.Decode(newIDToken)
	if err != nil {
		return false, err.Error()
	}
	if current == nil {
		return true, ""
	}

	curExp, ok := current.ExpiresAtSeconds()
	if !ok {
		return false, "current token has no exp"
	}
	nextExp, ok := next.ExpiresAtSeconds()
	if !ok {
		return false, "new token has no exp"
	}
	if nextExp <= curExp {
		return false, "new token does not extend expiry"
	}
	return true, ""
}

func (c *Controller) finishSilentRefresh(ctx context.Context, kind events.Kind) {
	c.store.SetBool(token.KeyRefreshRunning, false)
	c.flush(ctx)
	c.publish(kind)
}

// HandleSignOutCallback completes a logout on the post-logout redirect
// target.
func (c *Controller) HandleSignOutCallback(ctx context.Context) error {
	c.store.Delete(keyLogoutActive)
	c.store.Delete(keyLoopRunning)
	c.tokens.ClearTokens()
	if err := c.store.Flush(ctx); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}

	c.nav.SetPath("/")
	c.logger.Info("logged out")
	c.publish(events.LoggedOut)
	return nil
}
