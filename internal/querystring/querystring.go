// Package querystring decodes the key/value payload an identity provider
// appends to a redirect URI.
package querystring

import (
	"net/url"
	"strings"
)

// Parse splits s on '&' and each pair on its first '='. Keys and values are
// percent-decoded the way a URI component is ('+' is kept literally); a
// component that fails to decode is kept as is. A leading '/' on a key is
// dropped, which happens when the payload follows a hash route. Later
// duplicates win.
func Parse(s string) map[string]string {
	data := make(map[string]string)
	if s == "" {
		return data
	}

	for _, pair := range strings.Split(s, "&") {
		if pair == "" {
			continue
		}

		rawKey, rawValue, _ := strings.Cut(pair, "=")
		key := unescape(rawKey)
		key = strings.TrimPrefix(key, "/")
		data[key] = unescape(rawValue)
	}

	return data
}

func unescape(s string) string {
	v, err := url.PathUnescape(s)
	if err != nil {
		return s
	}
	return v
}

// CallbackData extracts the callback payload from a location fragment such
// as "#/auth/callback/id_token=...&state=..." or "#id_token=...". route is
// the in-app callback route; it is stripped when present. The fragment must
// start with '#', otherwise there is no payload.
func CallbackData(hash, route string) string {
	if !strings.HasPrefix(hash, "#") {
		return ""
	}
	data := hash[1:]

	if route != "" {
		route = "/" + strings.Trim(route, "/")
		if rest, ok := strings.CutPrefix(data, route); ok {
			data = strings.TrimPrefix(rest, "/")
		}
	}

	// Some providers append their own fragment to a redirect URI that
	// already carried one.
	if i := strings.LastIndex(data, "#"); i >= 0 {
		data = data[i+1:]
	}
	return strings.TrimPrefix(data, "?")
}
