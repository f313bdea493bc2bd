// Package auth drives the implicit-flow session of one browsing context:
// sign-in and sign-out navigation, callback handling, silent refresh
// through a hidden secondary context, and the expiry loop that schedules
// those refreshes.
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/jonboulle/clockwork"
	"github.com/marcogenualdo/sso-session/internal/cache"
	"github.com/marcogenualdo/sso-session/internal/config"
	"github.com/marcogenualdo/sso-session/internal/events"
	"github.com/marcogenualdo/sso-session/internal/token"
)

// Shared store keys owned by the controller. All of them are advisory: two
// contexts can both read "unset" before either flushes "set".
const (
	keyLogoutActive  = "logoutActive"
	keyLoopRunning   = "validateExpirityLoopRunning"
	keyLocalRedirect = "localRedirect"

	// Nonces of the pending login and refresh requests, consumed by the
	// callback that answers them.
	keyLoginNonce   = "loginNonce"
	keyRefreshNonce = "refreshNonce"
)

const (
	// RefreshState marks a callback as the answer to a silent refresh.
	RefreshState = "refresh"

	// RefreshTimeout is the hard ceiling for one silent refresh attempt.
	RefreshTimeout = 30 * time.Second

	// LogoutDelay lets the flush issued by SignOut land before the document
	// is abandoned.
	LogoutDelay = 100 * time.Millisecond

	DefaultCallbackRoute = "/auth/callback/"
)

// TokenVerifier checks the signature and standard claims of a raw
// id_token. *oidc.IDTokenVerifier satisfies it.
type TokenVerifier interface {
	Verify(ctx context.Context, rawIDToken string) (*oidc.IDToken, error)
}

type options struct {
	clock         clockwork.Clock
	secondary     bool
	callbackRoute string
	verifier      TokenVerifier
}

type Option func(*options)

// WithClock replaces the wall clock used for validity checks and scheduling.
func WithClock(clock clockwork.Clock) Option {
	return func(o *options) {
		o.clock = clock
	}
}

// AsSecondary marks the controller as living in a hidden secondary context.
// Such a controller only processes callbacks: it never schedules refreshes
// or the expiry loop and leaves the lifecycle flags of other contexts alone.
func AsSecondary() Option {
	return func(o *options) {
		o.secondary = true
	}
}

// WithVerifier makes callbacks accept only tokens that pass v and carry the
// nonce of the request they answer. It also enables VerifiedClaims.
func WithVerifier(v TokenVerifier) Option {
	return func(o *options) {
		o.verifier = v
	}
}

// WithCallbackRoute sets the in-app route stripped from the location
// fragment when a callback arrives without explicit data.
func WithCallbackRoute(route string) Option {
	return func(o *options) {
		o.callbackRoute = route
	}
}

type Controller struct {
	cfg       config.OIDCConfig
	store     *cache.Mirror
	tokens    *token.Cache
	bus       *events.Bus
	nav       Navigator
	frames    FrameHost
	clock     clockwork.Clock
	logger    *slog.Logger
	secondary bool
	route     string
	verifier  TokenVerifier

	// ctx bounds scheduled tasks; Close cancels it.
	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	frame        Frame
	refreshTimer clockwork.Timer
	loopTimer    clockwork.Timer
	logoutTimer  clockwork.Timer
}

// New builds the controller for one browsing context and runs its startup
// transition: a pending logout clears the tokens, an invalid token starts a
// silent refresh and a valid one starts the expiry loop. frames may be nil
// for secondary controllers.
func New(ctx context.Context, cfg config.OIDCConfig, store *cache.Mirror, nav Navigator, frames FrameHost, bus *events.Bus, logger *slog.Logger, opt ...Option) (*Controller, error) {
	opts := options{
		clock:         clockwork.NewRealClock(),
		callbackRoute: DefaultCallbackRoute,
	}
	for _, o := range opt {
		o(&opts)
	}

	if nav == nil {
		return nil, fmt.Errorf("navigator is required")
	}
	if bus == nil {
		bus = events.NewBus()
	}

	store.Track(keyLogoutActive, keyLoopRunning, keyLocalRedirect, keyLoginNonce, keyRefreshNonce)

	bgCtx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		cfg:       cfg,
		store:     store,
		tokens:    token.NewCache(store, opts.clock, logger),
		bus:       bus,
		nav:       nav,
		frames:    frames,
		clock:     opts.clock,
		logger:    logger.With("component", "auth", "secondary", opts.secondary),
		secondary: opts.secondary,
		route:     opts.callbackRoute,
		verifier:  opts.verifier,
		ctx:       bgCtx,
		cancel:    cancel,
	}

	if err := c.init(ctx); err != nil {
		cancel()
		return nil, err
	}
	return c, nil
}

func (c *Controller) init(ctx context.Context) error {
	if err := c.store.Sync(ctx); err != nil {
		return fmt.Errorf("failed to load shared store: %w", err)
	}

	if c.store.Bool(keyLogoutActive) {
		c.logger.Info("finishing interrupted logout")
		c.store.Delete(keyLogoutActive)
		c.tokens.ClearTokens()
	}

	if !c.secondary {
		// A fresh top-level context owns no refresh and no loop yet.
		c.store.Delete(token.KeyRefreshRunning)
		c.store.Delete(keyLoopRunning)
	}

	if err := c.store.Flush(ctx); err != nil {
		return fmt.Errorf("failed to flush shared store: %w", err)
	}

	if c.secondary || c.cfg.AdvanceRefresh <= 0 || !c.tokens.HasToken(ctx) {
		return nil
	}

	if !c.tokens.HasValidToken(ctx) {
		c.logger.Info("stored token is no longer valid, refreshing")
		c.publish(events.SilentInitRefreshStarted)
		c.TrySilentRefresh(ctx)
		return nil
	}

	c.startExpiryLoop(ctx)
	return nil
}

// Close stops every scheduled task and removes an open secondary context.
func (c *Controller) Close() {
	c.cancel()

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, t := range []clockwork.Timer{c.refreshTimer, c.loopTimer, c.logoutTimer} {
		if t != nil {
			t.Stop()
		}
	}
	c.refreshTimer, c.loopTimer, c.logoutTimer = nil, nil, nil

	if c.frame != nil {
		c.frame.Remove()
		c.frame = nil
	}
}

// Bus returns the bus lifecycle events are published on.
func (c *Controller) Bus() *events.Bus {
	return c.bus
}

// Config returns the configuration the controller was built with.
func (c *Controller) Config() config.OIDCConfig {
	return c.cfg
}

// IDToken returns the current raw id_token or "".
func (c *Controller) IDToken(ctx context.Context) string {
	return c.tokens.IDToken(ctx)
}

// HasToken reports whether a token with iat and exp is stored, valid or not.
func (c *Controller) HasToken(ctx context.Context) bool {
	return c.tokens.HasToken(ctx)
}

// Claims returns the claims of the current token, nil when there is none.
func (c *Controller) Claims(ctx context.Context) (token.Claims, error) {
	return c.tokens.AllClaims(ctx)
}

// VerifiedClaims returns the claims of the current token after checking its
// signature, issuer and audience again. Use it wherever claims are trusted
// as identity. It returns nil, nil when there is no token.
func (c *Controller) VerifiedClaims(ctx context.Context) (token.Claims, error) {
	if c.verifier == nil {
		return nil, ErrVerificationDisabled
	}

	raw := c.tokens.IDToken(ctx)
	if raw == "" {
		return nil, nil
	}
	if _, err := c.verifier.Verify(ctx, raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return c.tokens.AllClaims(ctx)
}

// IsAuthenticated reports whether the stored token is currently valid.
func (c *Controller) IsAuthenticated(ctx context.Context) bool {
	return c.tokens.HasValidToken(ctx)
}

// IsAuthenticatedIn reports whether the token is valid now and will still
// be valid after d.
func (c *Controller) IsAuthenticatedIn(ctx context.Context, d time.Duration) bool {
	return c.tokens.HasValidToken(ctx) && c.tokens.ValidAt(ctx, c.clock.Now().Add(d))
}

func (c *Controller) publish(kind events.Kind) {
	c.bus.Publish(events.Event{Kind: kind, At: c.clock.Now()})
}

func (c *Controller) flush(ctx context.Context) {
	if err := c.store.Flush(ctx); err != nil {
		c.logger.Error("failed to flush shared store", "error", err)
	}
}

func (c *Controller) sync(ctx context.Context) {
	if err := c.store.Sync(ctx); err != nil {
		c.logger.Warn("failed to pull shared store", "error", err)
	}
}
