package auth

import (
	"context"
	"time"

	"github.com/marcogenualdo/sso-session/internal/events"
	"github.com/marcogenualdo/sso-session/internal/token"
	"github.com/marcogenualdo/sso-session/pkg/security"
)

// TrySilentRefresh renews the token through a hidden secondary context. It
// is a no-op while any context shows a refresh in progress. The attempt
// ends when the secondary context reports back through
// HandleSignInCallback or, at the latest, after RefreshTimeout.
//
// The in-progress flag is advisory: two contexts that pull the store before
// either has flushed can both start a refresh.
func (c *Controller) TrySilentRefresh(ctx context.Context) {
	if c.secondary || c.frames == nil {
		return
	}

	nonce, err := security.NewNonce()
	if err != nil {
		c.logger.Error("failed to generate nonce", "error", err)
		return
	}

	c.mu.Lock()
	c.sync(ctx)
	if c.store.Bool(token.KeyRefreshRunning) {
		c.mu.Unlock()
		c.logger.Debug("silent refresh already running")
		return
	}
	c.store.SetBool(token.KeyRefreshRunning, true)
	c.store.SetString(keyRefreshNonce, nonce)
	c.flush(ctx)
	c.mu.Unlock()

	c.publish(events.SilentRefreshStarted)

	u := c.CreateLoginURL(ctx, nonce, RefreshState)

	c.logger.Info("silent refresh started")
	frame, err := c.frames.Open(c.ctx, u)
	if err != nil {
		c.logger.Error("failed to open secondary context", "error", err)
		c.finishSilentRefresh(ctx, events.SilentRefreshFailed)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.frame != nil {
		c.frame.Remove()
	}
	c.frame = frame

	if c.refreshTimer != nil {
		c.refreshTimer.Stop()
	}
	c.refreshTimer = c.clock.AfterFunc(RefreshTimeout, c.refreshDeadline)
}

// refreshDeadline ends the attempt started by TrySilentRefresh.
func (c *Controller) refreshDeadline() {
	if c.ctx.Err() != nil {
		return
	}
	ctx := c.ctx

	c.sync(ctx)
	if c.store.Bool(token.KeyRefreshRunning) {
		c.store.Delete(token.KeyRefreshRunning)
		c.flush(ctx)
		c.logger.Warn("silent refresh timed out", "timeout", RefreshTimeout)
		c.publish(events.SilentRefreshTimeout)
	}

	if c.tokens.HasValidToken(ctx) {
		c.startExpiryLoop(ctx)
	}

	c.mu.Lock()
	c.refreshTimer = nil
	frame := c.frame
	c.frame = nil
	c.mu.Unlock()

	if frame != nil {
		frame.Remove()
	}
}

// ValidateExpiry starts a silent refresh when the token is invalid or will
// expire within the advance-refresh window.
func (c *Controller) ValidateExpiry(ctx context.Context) {
	lookahead := c.clock.Now().Add(c.cfg.AdvanceRefreshDuration())
	if c.tokens.HasValidToken(ctx) && c.tokens.ValidAt(ctx, lookahead) {
		return
	}

	c.logger.Debug("token expires soon", "advance_refresh", c.cfg.AdvanceRefreshDuration())
	c.publish(events.TokenExpiresSoon)
	c.TrySilentRefresh(ctx)
}

// startExpiryLoop claims the loop liveness flag and runs the first tick.
// Nothing happens when another context already owns the loop.
func (c *Controller) startExpiryLoop(ctx context.Context) {
	if c.secondary || c.cfg.AdvanceRefresh <= 0 {
		return
	}

	c.mu.Lock()
	c.sync(ctx)
	if c.store.Bool(keyLoopRunning) {
		c.mu.Unlock()
		return
	}
	c.store.SetBool(keyLoopRunning, true)
	c.flush(ctx)
	c.mu.Unlock()

	c.logger.Debug("expiry loop started")
	c.tick(ctx)
}

// tick runs one validity check and reschedules itself while the liveness
// flag stays set. Clearing the flag stops the loop at its next tick.
func (c *Controller) tick(ctx context.Context) {
	if c.ctx.Err() != nil {
		return
	}

	c.sync(ctx)
	if !c.store.Bool(keyLoopRunning) {
		c.logger.Debug("expiry loop stopped")
		return
	}

	c.ValidateExpiry(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.loopTimer != nil {
		c.loopTimer.Stop()
	}
	c.loopTimer = c.clock.AfterFunc(c.loopInterval(), func() {
		c.tick(c.ctx)
	})
}

func (c *Controller) loopInterval() time.Duration {
	return c.cfg.AdvanceRefreshDuration()
}
