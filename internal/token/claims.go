package token

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrDecode is returned when a token payload is not base64url encoded JSON
// object.
var ErrDecode = errors.New("unable to decode token claims")

// Claims is the decoded payload segment of an id_token.
type Claims map[string]any

// Has reports whether the claim is present, whatever its value.
func (c Claims) Has(name string) bool {
	_, ok := c[name]
	return ok
}

// IssuedAt returns the iat claim. ok is false when it is missing or not a
// number.
func (c Claims) IssuedAt() (t time.Time, ok bool) {
	d, err := jwt.MapClaims(c).GetIssuedAt()
	if err != nil || d == nil {
		return time.Time{}, false
	}
	return d.Time, true
}

// ExpiresAt returns the exp claim. ok is false when it is missing or not a
// number.
func (c Claims) ExpiresAt() (t time.Time, ok bool) {
	d, err := jwt.MapClaims(c).GetExpirationTime()
	if err != nil || d == nil {
		return time.Time{}, false
	}
	return d.Time, true
}

// ExpiresAtSeconds returns the exp claim as the raw number of seconds,
// keeping any fractional part that ExpiresAt rounds away.
func (c Claims) ExpiresAtSeconds() (float64, bool) {
	switch v := c["exp"].(type) {
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case float64:
		return v, true
	case int64:
		return float64(v), true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}

// Subject returns the sub claim or "".
func (c Claims) Subject() string {
	s, _ := jwt.MapClaims(c).GetSubject()
	return s
}

// IDP returns the identity provider hint carried in the idp claim, or "".
func (c Claims) IDP() string {
	if v, ok := c["idp"].(string); ok {
		return v
	}
	return ""
}

var segmentParser = jwt.NewParser(jwt.WithPaddingAllowed())

// Decode decodes the payload segment of raw. The signature is not checked.
func Decode(raw string) (Claims, error) {
	parts := strings.Split(raw, ".")
	if len(parts) < 2 {
		return nil, fmt.Errorf("%w: expected header.payload.signature, got %d segment(s)", ErrDecode, len(parts))
	}

	payload, err := segmentParser.DecodeSegment(parts[1])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	return unmarshalClaims(payload)
}

func unmarshalClaims(data []byte) (Claims, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var c Claims
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if c == nil {
		return nil, fmt.Errorf("%w: payload is not a JSON object", ErrDecode)
	}
	return c, nil
}
