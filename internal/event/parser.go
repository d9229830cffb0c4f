package event

import (
	"strconv"
	"strings"

	"github.com/roach88/autolock/internal/hostname"
	"github.com/roach88/autolock/internal/protocol"
)

// Parser decodes lines in stream order. It carries the last seen host so
// that follow-up lines without a host attach to the right destination.
//
// A Parser is not safe for concurrent use; the session reader owns one.
type Parser struct {
	lastHost string
}

// NewParser returns a parser with no carried host.
func NewParser() *Parser {
	return &Parser{}
}

// Parse decodes one line. The second result is false when the line is not a
// well-formed event.
func (p *Parser) Parse(line string) (Event, bool) {
	ev, ok := Decode(line, p.lastHost)
	if ok {
		p.lastHost = ev.Host
	}
	return ev, ok
}

var keywords = func() map[string]Kind {
	m := make(map[string]Kind, len(Kinds))
	for _, k := range Kinds {
		m[string(k)] = k
	}
	return m
}()

// needsStrategy lists kinds that are meaningless without a strategy id.
var needsStrategy = map[Kind]bool{
	KindLock:      true,
	KindApplied:   true,
	KindSuccess:   true,
	KindFail:      true,
	KindRotate:    true,
	KindHistory:   true,
	KindPreloaded: true,
}

// needsCounters lists kinds that must carry successes and total.
var needsCounters = map[Kind]bool{
	KindFail:    true,
	KindHistory: true,
}

// Decode is the stateless form of Parser.Parse: lastHost is used when the
// line has no host of its own.
func Decode(line, lastHost string) (Event, bool) {
	fields := strings.Fields(line)

	i := 0
	for i < len(fields) && strings.HasPrefix(fields[i], "[") {
		i++
	}
	if i >= len(fields) {
		return Event{}, false
	}
	kind, ok := keywords[strings.ToUpper(strings.TrimSuffix(fields[i], ":"))]
	if !ok {
		return Event{}, false
	}

	attrs := make(map[string]string)
	for _, f := range fields[i+1:] {
		key, value, found := strings.Cut(f, "=")
		if !found {
			continue
		}
		attrs[strings.ToLower(key)] = strings.Trim(value, `",;`)
	}

	ev := Event{Kind: kind, Raw: line}

	host := lastHost
	if h, ok := attrs["host"]; ok && h != "" {
		normalized, err := hostname.Normalize(h)
		if err != nil {
			return Event{}, false
		}
		host = normalized
	}
	if host == "" {
		return Event{}, false
	}
	ev.Host = host

	if s, ok := attrs["strategy"]; ok {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			return Event{}, false
		}
		ev.Strategy = n
	}
	if needsStrategy[kind] && ev.Strategy == 0 {
		return Event{}, false
	}

	if !decodeCounters(attrs, &ev) {
		return Event{}, false
	}
	if needsCounters[kind] && !ev.HasCounters {
		return Event{}, false
	}

	if !decodeProtocol(attrs, &ev) {
		return Event{}, false
	}
	return ev, true
}

func decodeCounters(attrs map[string]string, ev *Event) bool {
	succ, hasSucc := lookup(attrs, "successes", "ok")
	total, hasTotal := lookup(attrs, "total")
	if !hasSucc && !hasTotal {
		return true
	}
	if hasSucc != hasTotal {
		return false
	}
	s, err := strconv.Atoi(succ)
	if err != nil || s < 0 {
		return false
	}
	t, err := strconv.Atoi(total)
	if err != nil || t < 0 || s > t {
		return false
	}
	ev.Successes, ev.Total, ev.HasCounters = s, t, true
	return true
}

func decodeProtocol(attrs map[string]string, ev *Event) bool {
	if tag, ok := lookup(attrs, "protocol", "proto"); ok {
		p, known := protocol.Parse(tag)
		if !known {
			return false
		}
		ev.Protocol, ev.Label = p, strings.ToLower(tag)
		return true
	}

	if port, ok := attrs["port"]; ok {
		n, err := strconv.Atoi(port)
		if err != nil || n <= 0 || n > 65535 {
			return false
		}
	}
	if ev.Kind == KindUnlock {
		return true
	}
	ev.Protocol = inferProtocol(attrs)
	return true
}

// inferProtocol guesses the family of an untagged line.
func inferProtocol(attrs map[string]string) protocol.Protocol {
	if strings.EqualFold(attrs["l4"], "udp") {
		return protocol.UDP
	}
	switch attrs["port"] {
	case "80", "8080":
		return protocol.HTTP
	}
	return protocol.TLS
}

func lookup(attrs map[string]string, keys ...string) (string, bool) {
	for _, k := range keys {
		if v, ok := attrs[k]; ok {
			return v, true
		}
	}
	return "", false
}
