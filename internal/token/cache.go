// Package token keeps the current id_token and the claims derived from it
// in the shared store, and answers whether the holder is authenticated.
package token

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/marcogenualdo/sso-session/internal/cache"
)

// Shared store keys. The token and its cached claims are always written
// and cleared together.
const (
	KeyIDToken = "idToken"
	KeyClaims  = "cached-claims"

	// KeyRefreshRunning is set while a silent refresh is in flight in any
	// context.
	KeyRefreshRunning = "refreshRunning"
)

// IssuedAtSkew tolerates a local clock running behind the issuer.
const IssuedAtSkew = 5 * time.Minute

type Cache struct {
	store  *cache.Mirror
	clock  clockwork.Clock
	logger *slog.Logger
}

func NewCache(store *cache.Mirror, clock clockwork.Clock, logger *slog.Logger) *Cache {
	store.Track(KeyIDToken, KeyClaims, KeyRefreshRunning)
	return &Cache{
		store:  store,
		clock:  clock,
		logger: logger,
	}
}

// SaveToken replaces the stored token, drops the cached claims and
// publishes both to the shared store.
func (c *Cache) SaveToken(ctx context.Context, raw string) error {
	c.ClearTokens()
	c.store.SetString(KeyIDToken, raw)
	return c.store.Flush(ctx)
}

// ClearTokens unsets the token and its claims locally. Callers flush.
func (c *Cache) ClearTokens() {
	c.store.Delete(KeyClaims)
	c.store.Delete(KeyIDToken)
}

// IDToken returns the raw token, or "" when none is stored. While a refresh
// is running elsewhere the local mirror is pulled first.
func (c *Cache) IDToken(ctx context.Context) string {
	if c.store.Bool(KeyRefreshRunning) {
		if err := c.store.Sync(ctx); err != nil {
			c.logger.Warn("failed to pull shared store", "error", err)
		}
	}
	return c.store.String(KeyIDToken)
}

// AllClaims returns the cached claims, decoding and caching them from the
// stored token on a miss. It returns nil, nil when there is no token.
//
// The token is read first: while a refresh is running that pulls the
// shared store, and a pull drops the cached claims, so claims are never
// served for a token that another context has already replaced.
func (c *Cache) AllClaims(ctx context.Context) (Claims, error) {
	raw := c.IDToken(ctx)
	if raw == "" {
		return nil, nil
	}

	if v, ok := c.store.Get(KeyClaims); ok {
		claims, err := unmarshalClaims(v)
		if err == nil {
			return claims, nil
		}
		c.logger.Debug("dropping unreadable cached claims", "error", err)
		c.store.Delete(KeyClaims)
	}

	claims, err := Decode(raw)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(claims)
	if err != nil {
		return nil, err
	}
	c.store.Remember(KeyClaims, data)

	return claims, nil
}

// current returns the claims when a token with iat and exp is present.
func (c *Cache) current(ctx context.Context) (claims Claims, iat, exp time.Time, ok bool) {
	claims, err := c.AllClaims(ctx)
	if err != nil {
		c.logger.Debug("token claims unavailable", "error", err)
		return nil, time.Time{}, time.Time{}, false
	}
	if claims == nil || !claims.Has("iat") || !claims.Has("exp") {
		return nil, time.Time{}, time.Time{}, false
	}

	iat, iatOK := claims.IssuedAt()
	exp, expOK := claims.ExpiresAt()
	if !iatOK || !expOK {
		c.logger.Debug("token iat or exp is not numeric")
		return nil, time.Time{}, time.Time{}, false
	}
	return claims, iat, exp, true
}

// HasToken reports whether a token carrying both iat and exp is stored.
func (c *Cache) HasToken(ctx context.Context) bool {
	_, _, _, ok := c.current(ctx)
	return ok
}

// HasValidToken reports whether the stored token is inside its validity
// window: issued no later than IssuedAtSkew from now and not yet expired.
func (c *Cache) HasValidToken(ctx context.Context) bool {
	_, iat, exp, ok := c.current(ctx)
	if !ok {
		return false
	}

	now := c.clock.Now()
	if iat.Add(-IssuedAtSkew).After(now) {
		c.logger.Debug("token is not yet valid", "iat", iat)
		return false
	}
	if exp.Before(now) {
		c.logger.Debug("token has expired", "exp", exp)
		return false
	}
	return true
}

// ValidAt reports whether the stored token has not expired at t.
func (c *Cache) ValidAt(ctx context.Context, t time.Time) bool {
	claims, err := c.AllClaims(ctx)
	if err != nil || claims == nil {
		return false
	}
	exp, ok := claims.ExpiresAt()
	if !ok {
		return false
	}
	return !t.After(exp)
}

// Expiry returns the exp of the stored token.
func (c *Cache) Expiry(ctx context.Context) (time.Time, bool) {
	_, _, exp, ok := c.current(ctx)
	return exp, ok
}
