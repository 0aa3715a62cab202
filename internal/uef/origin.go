package uef

import (
	"fmt"
	"net/url"
	"strings"
)

// Wildcard is the postMessage target used when no host origin is known.
const Wildcard = "*"

// NormalizeOrigin reduces a configured host (which may carry a path or a
// trailing slash) to scheme://host[:port]. Inbound origins are compared to
// the result with exact string equality.
func NormalizeOrigin(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", nil
	}
	u, err := url.Parse(s)
	if err != nil {
		return "", fmt.Errorf("uef: origin %q: %w", s, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("uef: origin %q: want scheme://host", s)
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host), nil
}
