package session

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/roach88/autolock/internal/commit"
	"github.com/roach88/autolock/internal/disallow"
	"github.com/roach88/autolock/internal/event"
	"github.com/roach88/autolock/internal/notify"
	"github.com/roach88/autolock/internal/protocol"
	"github.com/roach88/autolock/internal/whitelist"
)

// Learner applies decoded engine events to the stores. It is the only
// mutator of the stores while a session runs; the runner's reader calls
// Apply for every event in output order.
type Learner struct {
	commit    *commit.Store
	disallow  *disallow.Store
	whitelist *whitelist.Store
	observer notify.Observer
	logger   *slog.Logger

	mu    sync.Mutex
	stats Stats
}

// Stats is the per-session bookkeeping.
type Stats struct {
	// Lines is every line read, parsed or not.
	Lines int `json:"lines"`

	// Events counts decoded events per kind.
	Events map[event.Kind]int `json:"events"`

	// DroppedLocks counts LOCK events refused because they were disallowed.
	DroppedLocks int `json:"dropped_locks"`

	// Whitelisted counts LOCK, SUCCESS and FAIL events ignored because the
	// host is whitelisted.
	Whitelisted int `json:"whitelisted"`

	// Preloaded counts PRELOADED confirmations.
	Preloaded int `json:"preloaded"`

	// Applied is the strategy last reported in use per (host, protocol).
	Applied []Applied `json:"applied"`

	// Resets counts RST events per host.
	Resets map[string]int `json:"resets"`

	applied map[appliedKey]int
}

// Applied is one APPLIED report.
type Applied struct {
	Host     string            `json:"host"`
	Protocol protocol.Protocol `json:"protocol"`
	Strategy int               `json:"strategy"`
}

type appliedKey struct {
	host  string
	proto protocol.Protocol
}

func newStats() Stats {
	return Stats{
		Events:  make(map[event.Kind]int),
		Resets:  make(map[string]int),
		applied: make(map[appliedKey]int),
	}
}

// NewLearner creates a learner over the given stores. w may be nil, in
// which case no host is treated as whitelisted.
func NewLearner(c *commit.Store, d *disallow.Store, w *whitelist.Store, observer notify.Observer, logger *slog.Logger) *Learner {
	if observer == nil {
		observer = notify.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Learner{
		commit:    c,
		disallow:  d,
		whitelist: w,
		observer:  observer,
		logger:    logger,
		stats:     newStats(),
	}
}

// Reset clears the bookkeeping for a new session.
func (l *Learner) Reset() {
	l.mu.Lock()
	l.stats = newStats()
	l.mu.Unlock()
}

// Line records that a raw line was read.
func (l *Learner) Line() {
	l.mu.Lock()
	l.stats.Lines++
	l.mu.Unlock()
}

// Apply updates the stores for one event. Store failures are logged and
// never stop the caller; the in-memory effect stays in place.
func (l *Learner) Apply(ctx context.Context, ev event.Event) {
	l.mu.Lock()
	l.stats.Events[ev.Kind]++
	l.mu.Unlock()

	if l.excluded(ev) {
		l.mu.Lock()
		l.stats.Whitelisted++
		l.mu.Unlock()
		l.logger.Debug("ignoring outcome for whitelisted host", "event", ev.String())
		return
	}

	var err error
	switch ev.Kind {
	case event.KindPreloaded:
		l.mu.Lock()
		l.stats.Preloaded++
		l.mu.Unlock()

	case event.KindApplied:
		l.mu.Lock()
		l.stats.applied[appliedKey{host: ev.Host, proto: ev.Protocol}] = ev.Strategy
		l.mu.Unlock()

	case event.KindRotate:
		l.logger.Debug("engine rotated candidate", "host", ev.Host, "strategy", ev.Strategy)

	case event.KindRST:
		l.mu.Lock()
		l.stats.Resets[ev.Host]++
		l.mu.Unlock()

	case event.KindHistory:
		err = l.commit.MergeHistory(ctx, ev.Host, ev.Strategy, counters(ev))

	case event.KindLock:
		err = l.lock(ctx, ev)

	case event.KindUnlock:
		err = l.unlock(ctx, ev)

	case event.KindSuccess:
		_, err = l.commit.ObserveSuccess(ctx, ev.Host, ev.Strategy, ev.Protocol)
		if err == nil && ev.HasCounters {
			err = l.commit.MergeHistory(ctx, ev.Host, ev.Strategy, counters(ev))
		}

	case event.KindFail:
		err = l.commit.ObserveFailure(ctx, ev.Host, ev.Strategy)
		if err == nil && ev.HasCounters {
			err = l.commit.MergeHistory(ctx, ev.Host, ev.Strategy, counters(ev))
		}
	}

	if err != nil {
		l.logger.Warn("event not fully applied", "event", ev.String(), "error", err)
	}
}

// excluded reports whether ev would teach something about a whitelisted
// host. Such hosts are never bypassed, so nothing is locked or counted.
func (l *Learner) excluded(ev event.Event) bool {
	if l.whitelist == nil {
		return false
	}
	switch ev.Kind {
	case event.KindLock, event.KindSuccess, event.KindFail:
		return l.whitelist.Contains(ev.Host)
	}
	return false
}

func (l *Learner) lock(ctx context.Context, ev event.Event) error {
	if l.disallow.IsBlocked(ev.Host, ev.Strategy) {
		l.mu.Lock()
		l.stats.DroppedLocks++
		l.mu.Unlock()
		l.logger.Debug("dropping engine lock on disallowed strategy",
			"host", ev.Host, "protocol", ev.Protocol, "strategy", ev.Strategy)
		return nil
	}
	return l.commit.Lock(ctx, ev.Host, ev.Strategy, ev.Protocol, commit.OriginEngine)
}

// unlock drops the host from every family's lock map and reports the next
// best candidate from history.
func (l *Learner) unlock(ctx context.Context, ev event.Event) error {
	var exclude int
	for _, p := range protocol.All {
		if s, ok := l.commit.Lookup(ev.Host, p); ok && (ev.Protocol == "" || ev.Protocol == p) {
			exclude = s
			break
		}
	}

	removed, err := l.commit.UnlockHost(ctx, ev.Host)
	if removed == 0 {
		return err
	}
	if best, ok := l.commit.BestStrategyFromHistory(ev.Host, exclude); ok {
		l.observer.Output(fmt.Sprintf("unlock: %s best candidate from history is strategy %d", ev.Host, best))
	}
	return err
}

// Stats returns a copy of the bookkeeping.
func (l *Learner) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := Stats{
		Lines:        l.stats.Lines,
		DroppedLocks: l.stats.DroppedLocks,
		Whitelisted:  l.stats.Whitelisted,
		Preloaded:    l.stats.Preloaded,
		Events:       make(map[event.Kind]int, len(l.stats.Events)),
		Resets:       make(map[string]int, len(l.stats.Resets)),
	}
	for k, v := range l.stats.Events {
		out.Events[k] = v
	}
	for k, v := range l.stats.Resets {
		out.Resets[k] = v
	}
	for k, v := range l.stats.applied {
		out.Applied = append(out.Applied, Applied{Host: k.host, Protocol: k.proto, Strategy: v})
	}
	sort.Slice(out.Applied, func(i, j int) bool {
		if out.Applied[i].Host != out.Applied[j].Host {
			return out.Applied[i].Host < out.Applied[j].Host
		}
		return out.Applied[i].Protocol < out.Applied[j].Protocol
	})
	return out
}

func counters(ev event.Event) commit.Counters {
	return commit.Counters{Successes: ev.Successes, Failures: ev.Failures()}
}
