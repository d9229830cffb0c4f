// Package protocol defines the protocol families the strategy engine learns
// per host, and the short labels the external engine uses to tag them.
//
// The engine reports many UDP sub-labels (QUIC, STUN, voice, tunnels). All of
// them collapse into the single UDP family: lock and history handling never
// distinguishes between them.
package protocol

import "strings"

// Protocol is a protocol family with its own independent lock map.
type Protocol string

const (
	TLS  Protocol = "tls"
	HTTP Protocol = "http"
	UDP  Protocol = "udp"
)

// All lists the families in the order their strategy templates are numbered.
var All = []Protocol{TLS, HTTP, UDP}

// labels maps every engine tag onto its family.
var labels = map[string]Protocol{
	"tls":       TLS,
	"https":     TLS,
	"http":      HTTP,
	"udp":       UDP,
	"quic":      UDP,
	"stun":      UDP,
	"discord":   UDP,
	"voice":     UDP,
	"wireguard": UDP,
	"wg":        UDP,
	"dtls":      UDP,
	"games":     UDP,
}

// Parse maps a protocol tag onto its family. Matching is case-insensitive.
func Parse(tag string) (Protocol, bool) {
	p, ok := labels[strings.ToLower(strings.TrimSpace(tag))]
	return p, ok
}

// String implements fmt.Stringer.
func (p Protocol) String() string {
	return string(p)
}

// Valid reports whether p is one of the three families.
func (p Protocol) Valid() bool {
	switch p {
	case TLS, HTTP, UDP:
		return true
	}
	return false
}

// IsUDP reports whether p belongs to the datagram family.
func (p Protocol) IsUDP() bool {
	return p == UDP
}

// AutoLockThreshold is the number of consecutive successes of one strategy
// needed before the client commits to it without an explicit engine LOCK.
// Datagram flows rarely repeat within a session, so one success is enough.
func (p Protocol) AutoLockThreshold() int {
	if p.IsUDP() {
		return 1
	}
	return 3
}
