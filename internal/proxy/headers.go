package proxy

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/marcogenualdo/sso-session/internal/token"
)

// Headers set from the session on every proxied request. Client supplied
// values are always dropped first.
const (
	HeaderSubject = "X-Auth-Subject"
	HeaderIDP     = "X-Auth-IDP"
)

// InjectHeaders copies the claims named in mappings (claim -> header) onto
// req. Headers named in mappings are removed when the claim is absent so
// that a client cannot supply them.
func InjectHeaders(req *http.Request, claims token.Claims, mappings map[string]string) {
	req.Header.Del(HeaderSubject)
	req.Header.Del(HeaderIDP)
	for _, header := range mappings {
		req.Header.Del(header)
	}

	if claims == nil {
		return
	}

	for claim, header := range mappings {
		value, exists := claims[claim]
		if !exists {
			continue
		}

		headerValue := formatHeaderValue(value)
		if headerValue != "" {
			req.Header.Set(header, headerValue)
		}
	}

	if sub := claims.Subject(); sub != "" {
		req.Header.Set(HeaderSubject, sub)
	}
	if idp := claims.IDP(); idp != "" {
		req.Header.Set(HeaderIDP, idp)
	}
}

func formatHeaderValue(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case []string:
		return strings.Join(v, ",")
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			if str, ok := item.(string); ok {
				parts = append(parts, str)
			} else {
				parts = append(parts, fmt.Sprintf("%v", item))
			}
		}
		return strings.Join(parts, ",")
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}
