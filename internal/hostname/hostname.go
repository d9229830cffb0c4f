// Package hostname normalizes the free-form host names reported by the
// engine and typed by operators, so that lock, history, disallow and
// whitelist keys compare equal regardless of case, trailing dots or
// Unicode versus punycode spelling.
package hostname

import (
	"errors"
	"strings"

	"golang.org/x/net/idna"
	"golang.org/x/text/unicode/norm"
)

// ErrInvalid is returned for hosts that cannot be used as a store key.
var ErrInvalid = errors.New("invalid host name")

// Normalize returns the canonical ASCII form of host.
//
// IDNA conversion follows the lookup profile. Hosts the profile rejects
// (underscores, raw IP literals with zones and similar engine-reported
// oddities) are kept in their case-folded form instead of being dropped.
func Normalize(host string) (string, error) {
	h := strings.TrimSpace(host)
	h = strings.TrimSuffix(h, ".")
	if h == "" {
		return "", ErrInvalid
	}
	if strings.ContainsAny(h, " \t\r\n/=\\") {
		return "", ErrInvalid
	}

	folded := strings.ToLower(norm.NFC.String(h))
	ascii, err := idna.Lookup.ToASCII(folded)
	if err != nil || ascii == "" {
		return folded, nil
	}
	return ascii, nil
}

// MustNormalize is Normalize for compile-time constant tables.
func MustNormalize(host string) string {
	h, err := Normalize(host)
	if err != nil {
		panic("hostname: " + err.Error() + ": " + host)
	}
	return h
}

// MatchesSuffix reports whether host is domain or a subdomain of it.
// Both arguments must already be normalized.
func MatchesSuffix(host, domain string) bool {
	if host == domain {
		return true
	}
	return strings.HasSuffix(host, "."+domain)
}
