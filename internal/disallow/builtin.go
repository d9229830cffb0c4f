package disallow

import "github.com/roach88/autolock/internal/hostname"

// NoopStrategy is the id of the pass-through directive. Sending traffic
// unmodified can never get through to a known-blocked domain.
const NoopStrategy = 1

// knownBlocked are domains behind DPI that drops plain traffic. Every
// subdomain inherits the built-in rule for NoopStrategy.
var knownBlocked = []string{
	"youtube.com",
	"youtu.be",
	"googlevideo.com",
	"ytimg.com",
	"ggpht.com",
	"discord.com",
	"discord.gg",
	"discord.media",
	"discordapp.com",
	"discordapp.net",
	"x.com",
	"twitter.com",
	"twimg.com",
	"instagram.com",
	"cdninstagram.com",
	"facebook.com",
	"fbcdn.net",
	"rutracker.org",
	"linkedin.com",
}

// KnownBlocked returns the normalized built-in known-blocked domain set.
func KnownBlocked() []string {
	out := make([]string, len(knownBlocked))
	for i, d := range knownBlocked {
		out[i] = hostname.MustNormalize(d)
	}
	return out
}

// builtinEntries derives the immutable entries: each known-blocked domain
// disallows NoopStrategy.
func builtinEntries() map[string]map[int]struct{} {
	m := make(map[string]map[int]struct{}, len(knownBlocked))
	for _, d := range KnownBlocked() {
		m[d] = map[int]struct{}{NoopStrategy: {}}
	}
	return m
}
