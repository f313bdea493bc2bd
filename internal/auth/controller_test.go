package auth

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/marcogenualdo/sso-session/internal/cache"
	"github.com/marcogenualdo/sso-session/internal/config"
	"github.com/marcogenualdo/sso-session/internal/events"
	"github.com/marcogenualdo/sso-session/internal/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Unix(1_700_000_000, 0)

const prefix = "test:"

type fakeNav struct {
	mu       sync.Mutex
	replaced []string
	path     string
	hash     string
}

func (n *fakeNav) Replace(url string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.replaced = append(n.replaced, url)
	return nil
}

func (n *fakeNav) SetPath(path string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.path = path
}

func (n *fakeNav) Hash() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.hash
}

func (n *fakeNav) Path() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.path
}

func (n *fakeNav) Replaced() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.replaced...)
}

type fakeFrame struct {
	mu      sync.Mutex
	url     string
	removed int
}

func (f *fakeFrame) Remove() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed++
}

func (f *fakeFrame) Removed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.removed > 0
}

type fakeFrames struct {
	mu     sync.Mutex
	frames []*fakeFrame
	onOpen func(url string)
}

func (h *fakeFrames) Open(_ context.Context, url string) (Frame, error) {
	f := &fakeFrame{url: url}
	h.mu.Lock()
	h.frames = append(h.frames, f)
	onOpen := h.onOpen
	h.mu.Unlock()

	if onOpen != nil {
		onOpen(url)
	}
	return f, nil
}

func (h *fakeFrames) Opened() []*fakeFrame {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*fakeFrame(nil), h.frames...)
}

func testConfig() config.OIDCConfig {
	return config.OIDCConfig{
		BasePath:              "https://idp.example.com",
		ClientID:              "app",
		ResponseType:          "id_token",
		Scope:                 "openid profile",
		RedirectURI:           "https://app.example.com/auth/callback",
		LogoutURI:             "https://app.example.com/auth/clear",
		State:                 "default",
		AuthorizationEndpoint: "connect/authorize",
		EndSessionEndpoint:    "connect/endsession",
		AdvanceRefresh:        300,
	}
}

type harness struct {
	t       *testing.T
	backend cache.Cache
	clock   clockwork.FakeClock
	bus     *events.Bus
	rec     *events.Recorder
	nav     *fakeNav
	frames  *fakeFrames
	logger  *slog.Logger
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	backend := cache.NewMemoryCache()
	t.Cleanup(func() { backend.Close() })

	bus := events.NewBus()
	rec := &events.Recorder{}
	bus.Subscribe(rec.Handle)

	return &harness{
		t:       t,
		backend: backend,
		clock:   clockwork.NewFakeClockAt(epoch),
		bus:     bus,
		rec:     rec,
		nav:     &fakeNav{},
		frames:  &fakeFrames{},
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func (h *harness) seed(key, value string) {
	h.t.Helper()
	require.NoError(h.t, h.backend.Set(context.Background(), prefix+key, []byte(value), 0))
}

func (h *harness) stored(key string) (string, bool) {
	v, err := h.backend.Get(context.Background(), prefix+key)
	if err != nil {
		return "", false
	}
	return string(v), true
}

func (h *harness) controller(cfg config.OIDCConfig, opts ...Option) *Controller {
	h.t.Helper()
	opts = append([]Option{WithClock(h.clock)}, opts...)
	c, err := New(context.Background(), cfg, cache.NewMirror(h.backend, prefix), h.nav, h.frames, h.bus, h.logger, opts...)
	require.NoError(h.t, err)
	h.t.Cleanup(c.Close)
	return c
}

// secondary builds a controller for a hidden context sharing the store.
func (h *harness) secondary(cfg config.OIDCConfig, opts ...Option) *Controller {
	h.t.Helper()
	opts = append([]Option{WithClock(h.clock), AsSecondary()}, opts...)
	c, err := New(context.Background(), cfg, cache.NewMirror(h.backend, prefix), &fakeNav{}, nil, h.bus, h.logger, opts...)
	require.NoError(h.t, err)
	h.t.Cleanup(c.Close)
	return c
}

func noLoop() config.OIDCConfig {
	cfg := testConfig()
	cfg.AdvanceRefresh = 0
	return cfg
}

func TestIsAuthenticatedIn(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.seed(token.KeyIDToken, token.TestTokenAt(epoch.Add(-10*time.Second), epoch.Add(3600*time.Second), nil))

	c := h.controller(noLoop())

	assert.True(t, c.IsAuthenticated(ctx))
	assert.True(t, c.IsAuthenticatedIn(ctx, 3600000*time.Millisecond))
	assert.False(t, c.IsAuthenticatedIn(ctx, 3600001*time.Millisecond))
}

func TestIsAuthenticatedWithoutToken(t *testing.T) {
	ctx := context.Background()
	c := newHarness(t).controller(noLoop())

	assert.False(t, c.IsAuthenticated(ctx))
	assert.False(t, c.IsAuthenticatedIn(ctx, time.Second))
	assert.False(t, c.HasToken(ctx))
	assert.Empty(t, c.IDToken(ctx))
}

func TestInitFinishesInterruptedLogout(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.seed(token.KeyIDToken, token.TestTokenAt(epoch, epoch.Add(time.Hour), nil))
	h.seed(keyLogoutActive, "true")

	c := h.controller(testConfig())

	assert.False(t, c.HasToken(ctx))
	_, ok := h.stored(token.KeyIDToken)
	assert.False(t, ok)
	_, ok = h.stored(keyLogoutActive)
	assert.False(t, ok)
	assert.Empty(t, h.frames.Opened())
}

func TestInitClearsStaleFlags(t *testing.T) {
	h := newHarness(t)
	h.seed(token.KeyRefreshRunning, "true")
	h.seed(keyLoopRunning, "true")

	h.controller(testConfig())

	_, ok := h.stored(token.KeyRefreshRunning)
	assert.False(t, ok)
	_, ok = h.stored(keyLoopRunning)
	assert.False(t, ok)
}

func TestInitSecondaryKeepsFlags(t *testing.T) {
	h := newHarness(t)
	h.seed(token.KeyRefreshRunning, "true")
	h.seed(keyLoopRunning, "true")

	h.secondary(testConfig())

	v, _ := h.stored(token.KeyRefreshRunning)
	assert.Equal(t, "true", v)
	v, _ = h.stored(keyLoopRunning)
	assert.Equal(t, "true", v)
}

func TestInitRefreshesInvalidToken(t *testing.T) {
	h := newHarness(t)
	h.seed(token.KeyIDToken, token.TestTokenAt(epoch.Add(-2*time.Hour), epoch.Add(-time.Hour), nil))

	h.controller(testConfig())

	assert.Equal(t, []events.Kind{
		events.SilentInitRefreshStarted,
		events.SilentRefreshStarted,
	}, h.rec.Kinds())
	require.Len(t, h.frames.Opened(), 1)
	assert.Contains(t, h.frames.Opened()[0].url, "state=refresh")
}

func TestInitStartsExpiryLoop(t *testing.T) {
	h := newHarness(t)
	h.seed(token.KeyIDToken, token.TestTokenAt(epoch, epoch.Add(time.Hour), nil))

	h.controller(testConfig())

	v, _ := h.stored(keyLoopRunning)
	assert.Equal(t, "true", v)
	assert.Empty(t, h.frames.Opened(), "token is far from expiry")

	// the tick at 3400s sees exp within the 300s window
	h.clock.Advance(3400 * time.Second)
	require.Eventually(t, func() bool {
		return len(h.frames.Opened()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, h.rec.Count(events.TokenExpiresSoon))
}

func TestExpiryLoopStopsWhenFlagCleared(t *testing.T) {
	h := newHarness(t)
	h.seed(token.KeyIDToken, token.TestTokenAt(epoch, epoch.Add(time.Hour), nil))

	h.controller(testConfig())
	require.NoError(t, h.backend.Set(context.Background(), prefix+keyLoopRunning, []byte("false"), 0))

	h.clock.Advance(3400 * time.Second)
	require.Never(t, func() bool {
		return len(h.frames.Opened()) > 0
	}, 50*time.Millisecond, 5*time.Millisecond)
	assert.Zero(t, h.rec.Count(events.TokenExpiresSoon))
}

func TestExpiryLoopDisabled(t *testing.T) {
	h := newHarness(t)
	h.seed(token.KeyIDToken, token.TestTokenAt(epoch, epoch.Add(time.Minute), nil))

	h.controller(noLoop())

	_, ok := h.stored(keyLoopRunning)
	assert.False(t, ok)
	assert.Empty(t, h.frames.Opened())
}

func TestValidateExpiry(t *testing.T) {
	ctx := context.Background()

	t.Run("valid beyond window", func(t *testing.T) {
		h := newHarness(t)
		h.seed(token.KeyIDToken, token.TestTokenAt(epoch, epoch.Add(time.Hour), nil))
		c := h.controller(noLoop())
		c.cfg.AdvanceRefresh = 300

		c.ValidateExpiry(ctx)
		assert.Zero(t, h.rec.Count(events.TokenExpiresSoon))
		assert.Empty(t, h.frames.Opened())
	})

	t.Run("inside window", func(t *testing.T) {
		h := newHarness(t)
		h.seed(token.KeyIDToken, token.TestTokenAt(epoch, epoch.Add(time.Minute), nil))
		c := h.controller(noLoop())
		c.cfg.AdvanceRefresh = 300

		c.ValidateExpiry(ctx)
		assert.Equal(t, 1, h.rec.Count(events.TokenExpiresSoon))
		assert.Len(t, h.frames.Opened(), 1)
	})

	t.Run("no token", func(t *testing.T) {
		h := newHarness(t)
		c := h.controller(testConfig())

		c.ValidateExpiry(ctx)
		assert.Equal(t, 1, h.rec.Count(events.TokenExpiresSoon))
		assert.Len(t, h.frames.Opened(), 1)
	})
}

func TestTrySilentRefreshOpensOneFrame(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	c := h.controller(testConfig())

	c.TrySilentRefresh(ctx)
	c.TrySilentRefresh(ctx)

	assert.Len(t, h.frames.Opened(), 1)
	assert.Equal(t, 1, h.rec.Count(events.SilentRefreshStarted))
	v, _ := h.stored(token.KeyRefreshRunning)
	assert.Equal(t, "true", v)
}

func TestTrySilentRefreshSeesOtherContext(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	c := h.controller(testConfig())

	// another tab flagged a refresh after this one started
	h.seed(token.KeyRefreshRunning, "true")

	c.TrySilentRefresh(ctx)
	assert.Empty(t, h.frames.Opened())
}

func TestSecondaryNeverRefreshes(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	c := h.secondary(testConfig())

	c.TrySilentRefresh(ctx)
	c.ValidateExpiry(ctx)

	assert.Empty(t, h.frames.Opened())
	assert.Zero(t, h.rec.Count(events.SilentRefreshStarted))
}

func TestSilentRefreshTimeout(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	c := h.controller(testConfig())

	c.TrySilentRefresh(ctx)
	require.Len(t, h.frames.Opened(), 1)
	frame := h.frames.Opened()[0]

	h.clock.Advance(RefreshTimeout - time.Millisecond)
	assert.False(t, frame.Removed())

	h.clock.Advance(time.Millisecond)
	require.Eventually(t, func() bool {
		return h.rec.Count(events.SilentRefreshTimeout) == 1 && frame.Removed()
	}, time.Second, 5*time.Millisecond)

	_, ok := h.stored(token.KeyRefreshRunning)
	assert.False(t, ok)

	// a new attempt is allowed after the timeout
	c.TrySilentRefresh(ctx)
	assert.Len(t, h.frames.Opened(), 2)
}

func TestSilentRefreshThroughSecondaryContext(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.seed(token.KeyIDToken, token.TestTokenAt(epoch.Add(-time.Hour), epoch.Add(time.Minute), nil))

	refreshed := token.TestTokenAt(epoch, epoch.Add(time.Hour), map[string]any{"sub": "alice"})
	h.frames.onOpen = func(url string) {
		require.Contains(t, url, "state=refresh")
		frame := h.secondary(testConfig())
		require.NoError(t, frame.HandleSignInCallback(ctx, "id_token="+refreshed+"&state=refresh"))
	}

	c := h.controller(noLoop())
	c.cfg.AdvanceRefresh = 300
	c.ValidateExpiry(ctx)

	assert.Equal(t, 1, h.rec.Count(events.SilentRefreshSucceeded))
	assert.Equal(t, refreshed, c.IDToken(ctx))

	h.clock.Advance(RefreshTimeout)
	require.Eventually(t, func() bool {
		return h.frames.Opened()[0].Removed()
	}, time.Second, 5*time.Millisecond)
	assert.Zero(t, h.rec.Count(events.SilentRefreshTimeout))

	// the deadline restarts the loop now that the token is valid again
	require.Eventually(t, func() bool {
		v, _ := h.stored(keyLoopRunning)
		return v == "true"
	}, time.Second, 5*time.Millisecond)
}

func TestRefreshedTokenVisibleAfterInFlightRequest(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.seed(token.KeyIDToken, token.TestTokenAt(epoch.Add(-2*time.Hour), epoch.Add(-time.Minute), nil))

	c := h.controller(noLoop())
	c.cfg.AdvanceRefresh = 300

	c.ValidateExpiry(ctx)
	require.Len(t, h.frames.Opened(), 1)

	// a request checks the session while the hidden context is loading
	assert.False(t, c.IsAuthenticated(ctx))

	refreshed := token.TestTokenAt(epoch, epoch.Add(time.Hour), nil)
	frame := h.secondary(testConfig())
	require.NoError(t, frame.HandleSignInCallback(ctx, "id_token="+refreshed+"&state=refresh"))
	require.Equal(t, 1, h.rec.Count(events.SilentRefreshSucceeded))

	assert.True(t, c.IsAuthenticated(ctx))
	assert.Equal(t, refreshed, c.IDToken(ctx))

	c.ValidateExpiry(ctx)
	assert.Len(t, h.frames.Opened(), 1)
	assert.Equal(t, 1, h.rec.Count(events.SilentRefreshStarted))
}

func TestCloseStopsScheduledWork(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	c := h.controller(testConfig())

	c.TrySilentRefresh(ctx)
	frame := h.frames.Opened()[0]
	c.Close()
	assert.True(t, frame.Removed())

	h.clock.Advance(RefreshTimeout)
	require.Never(t, func() bool {
		return h.rec.Count(events.SilentRefreshTimeout) > 0
	}, 50*time.Millisecond, 5*time.Millisecond)
}

func TestSessionSnapshot(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.seed(token.KeyIDToken, token.TestTokenAt(epoch, epoch.Add(time.Hour), map[string]any{"sub": "alice", "idp": "google"}))

	c := h.controller(testConfig())
	s := c.Session(ctx)

	assert.True(t, s.Authenticated)
	assert.True(t, s.HasToken)
	assert.Equal(t, "alice", s.Subject)
	assert.Equal(t, "google", s.IDP)
	require.NotNil(t, s.ExpiresAt)
	assert.True(t, epoch.Add(time.Hour).Equal(*s.ExpiresAt))
	assert.True(t, s.Flags.LoopRunning)
	assert.False(t, s.Flags.RefreshRunning)
}

func TestNewRequiresNavigator(t *testing.T) {
	h := newHarness(t)
	_, err := New(context.Background(), testConfig(), cache.NewMirror(h.backend, prefix), nil, nil, nil, h.logger)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "navigator"))
}
