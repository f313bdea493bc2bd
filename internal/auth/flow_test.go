package auth

import (
	"context"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/marcogenualdo/sso-session/internal/events"
	"github.com/marcogenualdo/sso-session/internal/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSilentRefreshCallback(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name      string
		prior     map[string]any
		next      map[string]any
		wantSaved bool
		wantEvent events.Kind
	}{
		{
			name:      "extends expiry",
			prior:     map[string]any{"iat": 900, "exp": 1000},
			next:      map[string]any{"iat": 1900, "exp": 2000},
			wantSaved: true,
			wantEvent: events.SilentRefreshSucceeded,
		},
		{
			name:      "earlier expiry",
			prior:     map[string]any{"iat": 900, "exp": 5000},
			next:      map[string]any{"iat": 1900, "exp": 2000},
			wantEvent: events.SilentRefreshFailed,
		},
		{
			name:      "same expiry",
			prior:     map[string]any{"iat": 900, "exp": 2000},
			next:      map[string]any{"iat": 1900, "exp": 2000},
			wantEvent: events.SilentRefreshFailed,
		},
		{
			name:      "fractional expiry extends",
			prior:     map[string]any{"iat": 900, "exp": 1000.4},
			next:      map[string]any{"iat": 900, "exp": 1000.7},
			wantSaved: true,
			wantEvent: events.SilentRefreshSucceeded,
		},
		{
			name:      "fractional expiry shrinks",
			prior:     map[string]any{"iat": 900, "exp": 1000.7},
			next:      map[string]any{"iat": 900, "exp": 1000.4},
			wantEvent: events.SilentRefreshFailed,
		},
		{
			name:      "no prior token",
			next:      map[string]any{"iat": 1900, "exp": 2000},
			wantSaved: true,
			wantEvent: events.SilentRefreshSucceeded,
		},
		{
			name:      "new token without exp",
			prior:     map[string]any{"iat": 900, "exp": 1000},
			next:      map[string]any{"iat": 1900},
			wantEvent: events.SilentRefreshFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			var prior string
			if tt.prior != nil {
				prior = token.TestToken(tt.prior)
				h.seed(token.KeyIDToken, prior)
			}
			h.seed(token.KeyRefreshRunning, "true")

			c := h.secondary(noLoop())
			next := token.TestToken(tt.next)

			require.NoError(t, c.HandleSignInCallback(ctx, "id_token="+next+"&state=refresh"))

			if tt.wantSaved {
				assert.Equal(t, next, c.IDToken(ctx))
			} else {
				assert.Equal(t, prior, c.IDToken(ctx))
			}
			assert.Equal(t, []events.Kind{tt.wantEvent}, h.rec.Kinds())

			v, _ := h.stored(token.KeyRefreshRunning)
			assert.Equal(t, "false", v)
		})
	}
}

func TestSilentRefreshCallbackMalformedToken(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	prior := token.TestToken(map[string]any{"iat": 900, "exp": 1000})
	h.seed(token.KeyIDToken, prior)

	c := h.secondary(noLoop())
	require.NoError(t, c.HandleSignInCallback(ctx, "id_token=AAA.BBB.CCC&state=refresh"))

	assert.Equal(t, prior, c.IDToken(ctx))
	assert.Equal(t, 1, h.rec.Count(events.SilentRefreshFailed))
}

func TestSilentRefreshCallbackProviderError(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.seed(token.KeyRefreshRunning, "true")

	c := h.secondary(noLoop())
	require.NoError(t, c.HandleSignInCallback(ctx, "error=login_required&error_description=Login%20required&state=refresh"))

	assert.Equal(t, 1, h.rec.Count(events.SilentRefreshFailed))
	v, _ := h.stored(token.KeyRefreshRunning)
	assert.Equal(t, "false", v)
}

func TestHandleSignInCallbackMissingData(t *testing.T) {
	ctx := context.Background()

	for name, hash := range map[string]string{
		"no fragment":       "",
		"hash not at start": "/auth/callback/#id_token=x",
		"empty payload":     "#/auth/callback/",
	} {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)
			h.nav.hash = hash
			c := h.controller(noLoop())

			err := c.HandleSignInCallback(ctx, "")
			require.ErrorIs(t, err, ErrMissingCallbackData)
			assert.Empty(t, h.rec.Kinds())
		})
	}
}

func TestHandleSignInCallbackFromFragment(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	raw := token.TestTokenAt(epoch, epoch.Add(time.Hour), nil)
	h.nav.hash = "#/auth/callback/id_token=" + raw + "&state=default"

	c := h.controller(testConfig())
	require.NoError(t, c.HandleSignInCallback(ctx, ""))

	assert.Equal(t, raw, c.IDToken(ctx))
	assert.Equal(t, "/", h.nav.Path())
	assert.Equal(t, 1, h.rec.Count(events.LoggedIn))
}

func TestHandleSignInCallbackWithoutToken(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	c := h.controller(noLoop())

	require.NoError(t, c.HandleSignInCallback(ctx, "state=default&session_state=abc"))
	assert.Empty(t, h.rec.Kinds())
	assert.False(t, c.HasToken(ctx))
}

func TestImplicitFlowCallback(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	c := h.controller(testConfig())

	require.NoError(t, c.SignIn(ctx, "#/orders/42"))
	require.Len(t, h.nav.Replaced(), 1)
	v, _ := h.stored(keyLocalRedirect)
	assert.Equal(t, "/orders/42", v)

	raw := token.TestTokenAt(epoch, epoch.Add(time.Hour), map[string]any{"sub": "alice"})
	require.NoError(t, c.HandleSignInCallback(ctx, "id_token="+raw+"&state=default"))

	assert.Equal(t, "/orders/42", h.nav.Path())
	_, ok := h.stored(keyLocalRedirect)
	assert.False(t, ok, "local redirect is consumed once")

	assert.True(t, c.IsAuthenticated(ctx))
	assert.Equal(t, []events.Kind{events.LoggedIn}, h.rec.Kinds())

	loop, _ := h.stored(keyLoopRunning)
	assert.Equal(t, "true", loop)
}

func TestImplicitFlowCallbackExpiredToken(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	c := h.controller(testConfig())

	raw := token.TestTokenAt(epoch.Add(-2*time.Hour), epoch.Add(-time.Hour), nil)
	require.NoError(t, c.HandleSignInCallback(ctx, "id_token="+raw))

	assert.Equal(t, raw, c.IDToken(ctx))
	assert.False(t, c.IsAuthenticated(ctx))
	_, ok := h.stored(keyLoopRunning)
	assert.False(t, ok, "no loop for an invalid token")
	assert.Equal(t, 1, h.rec.Count(events.LoggedIn))
}

func TestSignOut(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	raw := token.TestTokenAt(epoch, epoch.Add(time.Hour), nil)
	h.seed(token.KeyIDToken, raw)

	c := h.controller(testConfig())
	require.NoError(t, c.SignOut(ctx))

	v, _ := h.stored(keyLogoutActive)
	assert.Equal(t, "true", v)
	v, _ = h.stored(keyLoopRunning)
	assert.Equal(t, "false", v)
	assert.Empty(t, h.nav.Replaced(), "navigation is deferred")

	h.clock.Advance(LogoutDelay)
	require.Eventually(t, func() bool {
		return len(h.nav.Replaced()) == 1
	}, time.Second, 5*time.Millisecond)

	u, err := url.Parse(h.nav.Replaced()[0])
	require.NoError(t, err)
	assert.Equal(t, "/connect/endsession", u.Path)
	assert.Equal(t, raw, u.Query().Get("id_token_hint"))
}

func TestSignOutThenNewContext(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.seed(token.KeyIDToken, token.TestTokenAt(epoch, epoch.Add(time.Hour), nil))

	c := h.controller(testConfig())
	require.NoError(t, c.SignOut(ctx))
	c.Close()

	// the document was abandoned before the logout callback ran
	next := h.controller(testConfig())
	assert.False(t, next.HasToken(ctx))
}

func TestHandleSignOutCallback(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.seed(token.KeyIDToken, token.TestTokenAt(epoch, epoch.Add(time.Hour), nil))

	c := h.controller(noLoop())
	h.seed(keyLogoutActive, "true")
	h.seed(keyLoopRunning, "false")
	h.nav.SetPath("/somewhere")

	require.NoError(t, c.HandleSignOutCallback(ctx))

	assert.False(t, c.HasToken(ctx))
	assert.Equal(t, "/", h.nav.Path())
	assert.Equal(t, []events.Kind{events.LoggedOut}, h.rec.Kinds())
	for _, key := range []string{keyLogoutActive, keyLoopRunning, token.KeyIDToken} {
		_, ok := h.stored(key)
		assert.False(t, ok, key)
	}
}

func TestCreateLoginURL(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	c := h.controller(noLoop())

	u, err := url.Parse(c.CreateLoginURL(ctx, "n0nce", ""))
	require.NoError(t, err)

	assert.Equal(t, "idp.example.com", u.Host)
	assert.Equal(t, "/connect/authorize", u.Path)
	q := u.Query()
	assert.Equal(t, "id_token", q.Get("response_type"))
	assert.Equal(t, "app", q.Get("client_id"))
	assert.Equal(t, "default", q.Get("state"))
	assert.Equal(t, "https://app.example.com/auth/callback", q.Get("redirect_uri"))
	assert.Equal(t, "openid profile", q.Get("scope"))
	assert.Equal(t, "n0nce", q.Get("nonce"))
	assert.False(t, q.Has("acr_values"))

	u, err = url.Parse(c.CreateLoginURL(ctx, "n0nce", RefreshState))
	require.NoError(t, err)
	assert.Equal(t, RefreshState, u.Query().Get("state"))
}

func TestCreateLoginURLStickyIDP(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.seed(token.KeyIDToken, token.TestTokenAt(epoch, epoch.Add(time.Hour), map[string]any{"idp": "google"}))

	cfg := noLoop()
	cfg.StickToLastKnownIdp = true
	c := h.controller(cfg)

	u, err := url.Parse(c.CreateLoginURL(ctx, "n", ""))
	require.NoError(t, err)
	assert.Equal(t, "idp:google", u.Query().Get("acr_values"))

	cfg.StickToLastKnownIdp = false
	other := newHarness(t)
	other.seed(token.KeyIDToken, token.TestTokenAt(epoch, epoch.Add(time.Hour), map[string]any{"idp": "google"}))
	c = other.controller(cfg)
	assert.NotContains(t, c.CreateLoginURL(ctx, "n", ""), "acr_values")
}

func TestCreateLoginURLAbsoluteEndpoint(t *testing.T) {
	ctx := context.Background()
	cfg := noLoop()
	cfg.BasePath = "https://idp.example.com/realms/app/"
	cfg.AuthorizationEndpoint = "https://login.example.org/authorize"

	c := newHarness(t).controller(cfg)
	assert.True(t, strings.HasPrefix(c.CreateLoginURL(ctx, "n", ""), "https://login.example.org/authorize?"))

	cfg.AuthorizationEndpoint = "protocol/openid-connect/auth"
	c = newHarness(t).controller(cfg)
	assert.True(t, strings.HasPrefix(c.CreateLoginURL(ctx, "n", ""), "https://idp.example.com/realms/app/protocol/openid-connect/auth?"))
}

func TestCreateLogoutURL(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	raw := token.TestTokenAt(epoch, epoch.Add(time.Hour), nil)
	h.seed(token.KeyIDToken, raw)
	c := h.controller(noLoop())

	first := c.CreateLogoutURL(ctx, "")
	u, err := url.Parse(first)
	require.NoError(t, err)

	q := u.Query()
	assert.Equal(t, raw, q.Get("id_token_hint"))
	assert.Equal(t, "https://app.example.com/auth/clear", q.Get("post_logout_redirect_uri"))
	assert.Equal(t, "default", q.Get("state"))
	assert.NotEmpty(t, q.Get("r"))

	assert.NotEqual(t, first, c.CreateLogoutURL(ctx, ""), "cache buster differs per call")
	assert.Contains(t, c.CreateLogoutURL(ctx, "bye"), "state=bye")
}
