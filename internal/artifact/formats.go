package artifact

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/autolock/internal/commit"
	"github.com/roach88/autolock/internal/disallow"
	"github.com/roach88/autolock/internal/protocol"
)

const (
	KindComment Kind = "comment"
	KindDomain  Kind = "domain"
	KindOption  Kind = "option"
	KindNew     Kind = "new"

	KindLock       Kind = "lock"
	KindHistory    Kind = "history"
	KindSkip       Kind = "skip"
	KindSkipSuffix Kind = "skip-suffix"
)

const header = "generated by autolock, do not edit"

func comment(d Directive) (string, error) {
	return "# " + strings.Join(d.Args, " "), nil
}

// Whitelist renders one domain per line.
var Whitelist = FormatterFunc(func(d Directive) (string, error) {
	switch d.Kind {
	case KindComment:
		return comment(d)
	case KindDomain:
		if err := wantArgs(d, 1); err != nil {
			return "", err
		}
		return d.Args[0], nil
	}
	return "", fmt.Errorf("whitelist: unsupported directive %q", d.Kind)
})

// BuildWhitelist lists the excluded domains in the given order.
func BuildWhitelist(domains []string) Document {
	var doc Document
	doc.Add(KindComment, header)
	for _, d := range domains {
		doc.Add(KindDomain, d)
	}
	return doc
}

// RunConfig renders engine options one per line. Profiles are separated
// by a bare --new.
var RunConfig = FormatterFunc(func(d Directive) (string, error) {
	switch d.Kind {
	case KindComment:
		return comment(d)
	case KindNew:
		return "--new", nil
	case KindOption:
		switch len(d.Args) {
		case 1:
			return "--" + d.Args[0], nil
		case 2:
			return "--" + d.Args[0] + "=" + d.Args[1], nil
		}
		return "", fmt.Errorf("option takes 1 or 2 args, got %d", len(d.Args))
	}
	return "", fmt.Errorf("run config: unsupported directive %q", d.Kind)
})

// Profile is one engine stanza: traffic of one family on some ports,
// explored with the strategies of one numbered file.
type Profile struct {
	Protocol     protocol.Protocol
	Ports        []string
	StrategyFile string
}

// RunConfigInput is what BuildRunConfig needs.
type RunConfigInput struct {
	TCPPorts      []string
	UDPPorts      []string
	WhitelistPath string
	Profiles      []Profile
}

// BuildRunConfig emits the traffic filters followed by one stanza per
// profile.
func BuildRunConfig(in RunConfigInput) Document {
	var doc Document
	doc.Add(KindComment, header)
	if len(in.TCPPorts) > 0 {
		doc.Add(KindOption, "wf-tcp-out", strings.Join(in.TCPPorts, ","))
	}
	if len(in.UDPPorts) > 0 {
		doc.Add(KindOption, "wf-udp-out", strings.Join(in.UDPPorts, ","))
	}
	for i, p := range in.Profiles {
		if i > 0 {
			doc.Add(KindNew)
		}
		filter := "filter-tcp"
		if p.Protocol.IsUDP() {
			filter = "filter-udp"
		}
		doc.Add(KindOption, filter, strings.Join(p.Ports, ","))
		if !p.Protocol.IsUDP() {
			doc.Add(KindOption, "filter-l7", string(p.Protocol))
		}
		if in.WhitelistPath != "" {
			doc.Add(KindOption, "hostlist-exclude", in.WhitelistPath)
		}
		doc.Add(KindOption, "strategy-file", p.StrategyFile)
	}
	return doc
}

// Preload renders the learned state the engine resumes from:
//
//	lock <protocol> <host> <strategy>
//	history <host> <strategy> <successes> <failures>
//	skip <host> <strategy>
//	skip-suffix <domain> <strategy>
var Preload = FormatterFunc(func(d Directive) (string, error) {
	var n int
	switch d.Kind {
	case KindComment:
		return comment(d)
	case KindLock:
		n = 3
	case KindHistory:
		n = 4
	case KindSkip, KindSkipSuffix:
		n = 2
	default:
		return "", fmt.Errorf("preload: unsupported directive %q", d.Kind)
	}
	if err := wantArgs(d, n); err != nil {
		return "", err
	}
	return string(d.Kind) + " " + strings.Join(d.Args, " "), nil
})

// PreloadInput is the store state a preload is built from.
type PreloadInput struct {
	Locks        []commit.LockEntry
	History      []commit.HistoryEntry
	Disallowed   []disallow.Entry
	KnownBlocked []string

	// Blocked filters locks and history. Nil means nothing is blocked.
	Blocked func(host string, strategy int) bool
}

// BuildPreload seeds every lock and history tally that is not disallowed,
// then the rotation skips. Built-in disallow entries are covered by the
// skip-suffix lines and are not repeated.
func BuildPreload(in PreloadInput) Document {
	blocked := in.Blocked
	if blocked == nil {
		blocked = func(string, int) bool { return false }
	}

	var doc Document
	doc.Add(KindComment, header)
	for _, l := range in.Locks {
		if blocked(l.Host, l.Strategy) {
			continue
		}
		doc.Add(KindLock, string(l.Protocol), l.Host, strconv.Itoa(l.Strategy))
	}
	for _, h := range in.History {
		if h.Attempts() == 0 || blocked(h.Host, h.Strategy) {
			continue
		}
		doc.Add(KindHistory, h.Host, strconv.Itoa(h.Strategy),
			strconv.Itoa(h.Successes), strconv.Itoa(h.Failures))
	}
	for _, e := range in.Disallowed {
		if e.Builtin {
			continue
		}
		doc.Add(KindSkip, e.Host, strconv.Itoa(e.Strategy))
	}
	for _, domain := range in.KnownBlocked {
		doc.Add(KindSkipSuffix, domain, strconv.Itoa(disallow.NoopStrategy))
	}
	return doc
}

// Count returns how many directives of kind doc holds.
func (d Document) Count(kind Kind) int {
	n := 0
	for _, dir := range d {
		if dir.Kind == kind {
			n++
		}
	}
	return n
}
