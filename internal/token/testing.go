package token

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
)

// TestToken builds an unsigned header.payload.signature string carrying
// claims. For tests only.
func TestToken(claims map[string]any) string {
	header, _ := json.Marshal(map[string]string{"alg": "none", "typ": "JWT"})
	payload, err := json.Marshal(claims)
	if err != nil {
		panic(err)
	}
	enc := base64.RawURLEncoding
	return enc.EncodeToString(header) + "." + enc.EncodeToString(payload) + ".c2ln"
}

// TestTokenAt builds a test token issued at iat and expiring at exp, both
// truncated to whole seconds.
func TestTokenAt(iat, exp time.Time, extra map[string]any) string {
	claims := map[string]any{
		"iat": iat.Unix(),
		"exp": exp.Unix(),
	}
	for k, v := range extra {
		claims[k] = v
	}
	return TestToken(claims)
}

// TestSigner issues RS256 tokens for one issuer and audience, and verifies
// them the way a discovered provider would. For tests only.
type TestSigner struct {
	Issuer   string
	ClientID string
	key      *rsa.PrivateKey
}

// NewTestSigner generates a fresh signing key.
func NewTestSigner(issuer, clientID string) (*TestSigner, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}
	return &TestSigner{Issuer: issuer, ClientID: clientID, key: key}, nil
}

// Sign builds a token issued at iat and expiring at exp for nonce.
func (s *TestSigner) Sign(iat, exp time.Time, nonce string, extra map[string]any) (string, error) {
	claims := jwt.MapClaims{
		"iss":   s.Issuer,
		"aud":   s.ClientID,
		"iat":   iat.Unix(),
		"exp":   exp.Unix(),
		"nonce": nonce,
	}
	for k, v := range extra {
		claims[k] = v
	}
	return jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(s.key)
}

// Verifier accepts tokens signed by s. Expiry is not checked.
func (s *TestSigner) Verifier() *oidc.IDTokenVerifier {
	keys := &oidc.StaticKeySet{PublicKeys: []crypto.PublicKey{s.key.Public()}}
	return oidc.NewVerifier(s.Issuer, keys, &oidc.Config{
		ClientID:        s.ClientID,
		SkipExpiryCheck: true,
	})
}
