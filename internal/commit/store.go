// Package commit keeps the learner's commitments: which strategy each host
// is locked to per protocol family, and the success/failure history every
// (host, strategy) pair has accumulated across sessions.
//
// Locks for TLS, HTTP and UDP are independent maps. History is one map
// shared by all families; strategy ids are numbered from a single counter
// across the families' templates, so ids never collide between families.
//
// The store never holds a lock that the disallow list forbids: Load runs a
// reconciliation pass once the persisted state is in memory, and Lock
// refuses disallowed strategies.
package commit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/roach88/autolock/internal/hostname"
	"github.com/roach88/autolock/internal/notify"
	"github.com/roach88/autolock/internal/protocol"
	"github.com/roach88/autolock/internal/store"
)

var (
	// LocksNamespace is the parent of the three per-family lock maps.
	LocksNamespace = store.Join("autolock", "locks")

	// HistoryNamespace is the parent of one namespace per host whose keys
	// are strategy ids.
	HistoryNamespace = store.Join("autolock", "history")
)

var (
	// ErrDisallowed is returned when locking a strategy the disallow list forbids.
	ErrDisallowed = errors.New("strategy is disallowed for host")

	// ErrInvalidStrategy is returned for non-positive strategy ids.
	ErrInvalidStrategy = errors.New("strategy id must be positive")

	// ErrInvalidProtocol is returned for an unknown protocol family.
	ErrInvalidProtocol = errors.New("unknown protocol family")
)

// Blocker answers disallow queries. *disallow.Store implements it.
type Blocker interface {
	IsBlocked(host string, strategy int) bool
}

// Origin records who asked for a lock.
type Origin string

const (
	// OriginEngine is an explicit LOCK reported by the engine.
	OriginEngine Origin = "engine"
	// OriginAuto is the local success-streak fallback.
	OriginAuto Origin = "auto"
	// OriginOperator is a lock set by hand.
	OriginOperator Origin = "operator"
)

// Conflict is a persisted lock dropped because the disallow list forbids it.
type Conflict struct {
	Host     string
	Protocol protocol.Protocol
	Strategy int
}

// Store holds locks, history and the auto-lock counters.
//
// Mutations are expected from one goroutine at a time (the session reader
// or a CLI command). Reads are safe from any goroutine and return copies.
type Store struct {
	kv       store.KV
	blocker  Blocker
	logger   *slog.Logger
	observer notify.Observer

	mu      sync.RWMutex
	locks   map[protocol.Protocol]map[string]int
	history map[string]*hostHistory

	// Session-scoped auto-lock state, reset by Load.
	streaks    map[streakKey]int
	suppressed map[string]bool
}

type streakKey struct {
	host     string
	proto    protocol.Protocol
	strategy int
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithObserver sets the observer notified on lock changes.
func WithObserver(observer notify.Observer) Option {
	return func(s *Store) { s.observer = observer }
}

type noBlocker struct{}

func (noBlocker) IsBlocked(string, int) bool { return false }

// New creates an empty store. blocker may be nil, meaning nothing is
// disallowed.
func New(kv store.KV, blocker Blocker, opts ...Option) *Store {
	if blocker == nil {
		blocker = noBlocker{}
	}
	s := &Store{
		kv:       kv,
		blocker:  blocker,
		logger:   slog.Default(),
		observer: notify.Nop{},
	}
	s.reset()
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) reset() {
	s.locks = make(map[protocol.Protocol]map[string]int, len(protocol.All))
	for _, p := range protocol.All {
		s.locks[p] = make(map[string]int)
	}
	s.history = make(map[string]*hostHistory)
	s.streaks = make(map[streakKey]int)
	s.suppressed = make(map[string]bool)
}

func lockNamespace(p protocol.Protocol) string {
	return store.Join(LocksNamespace, string(p))
}

func historyNamespace(host string) string {
	return store.Join(HistoryNamespace, host)
}

// Load replaces the in-memory state with the persisted one and then
// reconciles it against the disallow list. Read failures are logged and
// degrade to empty maps. Session-scoped auto-lock counters start over.
func (s *Store) Load(ctx context.Context) []Conflict {
	s.mu.Lock()
	s.reset()
	for _, p := range protocol.All {
		entries, err := s.kv.List(ctx, lockNamespace(p))
		if err != nil {
			s.logger.Warn("lock map unreadable, starting empty", "protocol", p, "error", err)
			continue
		}
		for _, e := range entries {
			var strategy int
			if err := store.Unmarshal(e.Value, &strategy); err != nil || strategy <= 0 {
				s.logger.Warn("skipping corrupt lock entry", "protocol", p, "host", e.Key, "error", err)
				continue
			}
			s.locks[p][e.Key] = strategy
		}
	}

	entries, err := s.kv.List(ctx, HistoryNamespace)
	if err != nil {
		s.logger.Warn("history unreadable, starting empty", "error", err)
		entries = nil
	}
	for _, e := range entries {
		host, ok := strings.CutPrefix(e.Namespace, HistoryNamespace+"/")
		if !ok || host == "" {
			continue
		}
		strategy, err := strconv.Atoi(e.Key)
		if err != nil || strategy <= 0 {
			s.logger.Warn("skipping corrupt history key", "host", host, "key", e.Key)
			continue
		}
		var c Counters
		if err := store.Unmarshal(e.Value, &c); err != nil {
			s.logger.Warn("skipping corrupt history entry", "host", host, "strategy", strategy, "error", err)
			continue
		}
		s.hostHistoryLocked(host).merge(strategy, c)
	}
	s.mu.Unlock()

	return s.Reconcile(ctx)
}

// Reconcile drops every lock whose strategy the disallow list forbids for
// its host. The disallow list always wins.
func (s *Store) Reconcile(ctx context.Context) []Conflict {
	var conflicts []Conflict

	s.mu.Lock()
	for _, p := range protocol.All {
		for host, strategy := range s.locks[p] {
			if s.blocker.IsBlocked(host, strategy) {
				delete(s.locks[p], host)
				conflicts = append(conflicts, Conflict{Host: host, Protocol: p, Strategy: strategy})
			}
		}
	}
	s.mu.Unlock()

	sort.Slice(conflicts, func(i, j int) bool {
		if conflicts[i].Host != conflicts[j].Host {
			return conflicts[i].Host < conflicts[j].Host
		}
		return conflicts[i].Protocol < conflicts[j].Protocol
	})
	for _, c := range conflicts {
		s.logger.Warn("dropping lock on disallowed strategy",
			"host", c.Host, "protocol", c.Protocol, "strategy", c.Strategy)
		if err := s.kv.Delete(ctx, lockNamespace(c.Protocol), c.Host); err != nil {
			s.writeFailed("reconcile", err)
		}
		s.observer.Unlocked(c.Host, c.Protocol, c.Strategy)
	}
	return conflicts
}

// Prune drops locks for which valid returns false, for example strategy
// ids that no longer exist after the templates changed.
func (s *Store) Prune(ctx context.Context, valid func(p protocol.Protocol, strategy int) bool) int {
	var dropped []Conflict

	s.mu.Lock()
	for _, p := range protocol.All {
		for host, strategy := range s.locks[p] {
			if !valid(p, strategy) {
				delete(s.locks[p], host)
				dropped = append(dropped, Conflict{Host: host, Protocol: p, Strategy: strategy})
			}
		}
	}
	s.mu.Unlock()

	for _, c := range dropped {
		s.logger.Warn("dropping lock on unknown strategy",
			"host", c.Host, "protocol", c.Protocol, "strategy", c.Strategy)
		if err := s.kv.Delete(ctx, lockNamespace(c.Protocol), c.Host); err != nil {
			s.writeFailed("prune", err)
		}
		s.observer.Unlocked(c.Host, c.Protocol, c.Strategy)
	}
	return len(dropped)
}

// Lock commits host to strategy for p. Locking the current value again is
// a no-op. Disallowed strategies are refused with ErrDisallowed.
//
// An engine-origin lock also stops the auto-lock fallback for the host for
// the rest of the session: once the engine reports its own commitments,
// bare SUCCESS streaks no longer override them.
func (s *Store) Lock(ctx context.Context, host string, strategy int, p protocol.Protocol, origin Origin) error {
	h, err := validate(host, strategy, p)
	if err != nil {
		return err
	}
	if s.blocker.IsBlocked(h, strategy) {
		return fmt.Errorf("%w: %s strategy %d", ErrDisallowed, h, strategy)
	}

	s.mu.Lock()
	if origin == OriginEngine {
		s.suppressed[h] = true
	}
	current, ok := s.locks[p][h]
	if ok && current == strategy {
		s.mu.Unlock()
		return nil
	}
	s.locks[p][h] = strategy
	s.mu.Unlock()

	s.logger.Info("locked strategy", "host", h, "protocol", p, "strategy", strategy, "origin", origin)
	s.observer.Locked(h, p, strategy)
	s.observer.Output(fmt.Sprintf("lock: %s %s -> strategy %d (%s)", p, h, strategy, origin))

	if err := s.putLock(ctx, p, h, strategy); err != nil {
		return s.writeFailed("lock", err)
	}
	return nil
}

// Unlock removes the lock for (host, p). It reports the strategy that was
// locked, or false when there was none.
func (s *Store) Unlock(ctx context.Context, host string, p protocol.Protocol) (int, bool, error) {
	if !p.Valid() {
		return 0, false, ErrInvalidProtocol
	}
	h := normalizeLoose(host)

	s.mu.Lock()
	strategy, ok := s.locks[p][h]
	if ok {
		delete(s.locks[p], h)
	}
	for k := range s.streaks {
		if k.host == h && k.proto == p {
			delete(s.streaks, k)
		}
	}
	s.mu.Unlock()

	if !ok {
		return 0, false, nil
	}

	s.logger.Info("unlocked strategy", "host", h, "protocol", p, "strategy", strategy)
	s.observer.Unlocked(h, p, strategy)
	s.observer.Output(fmt.Sprintf("unlock: %s %s (was strategy %d)", p, h, strategy))

	if err := s.kv.Delete(ctx, lockNamespace(p), h); err != nil {
		return strategy, true, s.writeFailed("unlock", err)
	}
	return strategy, true, nil
}

// UnlockHost removes the host from all three lock maps and returns how many
// locks were removed.
func (s *Store) UnlockHost(ctx context.Context, host string) (int, error) {
	var (
		removed  int
		firstErr error
	)
	for _, p := range protocol.All {
		_, ok, err := s.Unlock(ctx, host, p)
		if ok {
			removed++
		}
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return removed, firstErr
}

// Lookup returns the locked strategy for (host, p).
func (s *Store) Lookup(host string, p protocol.Protocol) (int, bool) {
	h := normalizeLoose(host)

	s.mu.RLock()
	defer s.mu.RUnlock()
	strategy, ok := s.locks[p][h]
	return strategy, ok
}

// Clear wipes every lock and all history.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.reset()
	s.mu.Unlock()

	s.logger.Info("cleared locks and history")
	s.observer.Output("commit: locks and history cleared")

	if err := s.kv.DeleteAll(ctx, LocksNamespace); err != nil {
		return s.writeFailed("clear", err)
	}
	if err := s.kv.DeleteAll(ctx, HistoryNamespace); err != nil {
		return s.writeFailed("clear", err)
	}
	return nil
}

// Save rewrites all persisted locks and history from memory. Entries are
// written before stale keys are removed, so a failed save never loses
// state that was already on disk.
func (s *Store) Save(ctx context.Context) error {
	snap := s.Snapshot()

	keep := make(map[store.EntryKey]bool, len(snap.Locks)+len(snap.History))
	for _, l := range snap.Locks {
		if err := s.putLock(ctx, l.Protocol, l.Host, l.Strategy); err != nil {
			return s.writeFailed("save", err)
		}
		keep[store.EntryKey{Namespace: lockNamespace(l.Protocol), Key: l.Host}] = true
	}
	for _, h := range snap.History {
		if err := s.putCounters(ctx, h.Host, h.Strategy, h.Counters); err != nil {
			return s.writeFailed("save", err)
		}
		keep[store.EntryKey{Namespace: historyNamespace(h.Host), Key: strconv.Itoa(h.Strategy)}] = true
	}

	for _, ns := range []string{LocksNamespace, HistoryNamespace} {
		if err := store.Retain(ctx, s.kv, ns, keep); err != nil {
			return s.writeFailed("save", err)
		}
	}
	return nil
}

// LockEntry is one committed (host, protocol) → strategy.
type LockEntry struct {
	Host     string            `json:"host"`
	Protocol protocol.Protocol `json:"protocol"`
	Strategy int               `json:"strategy"`
}

// Snapshot is a point-in-time copy of the store.
type Snapshot struct {
	// Locks are sorted by protocol order, then host.
	Locks []LockEntry `json:"locks"`
	// History is sorted by host, then first-seen order within a host.
	History []HistoryEntry `json:"history"`
}

// Snapshot copies the current locks and history.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var snap Snapshot
	for _, p := range protocol.All {
		hosts := make([]string, 0, len(s.locks[p]))
		for h := range s.locks[p] {
			hosts = append(hosts, h)
		}
		sort.Strings(hosts)
		for _, h := range hosts {
			snap.Locks = append(snap.Locks, LockEntry{Host: h, Protocol: p, Strategy: s.locks[p][h]})
		}
	}

	hosts := make([]string, 0, len(s.history))
	for h := range s.history {
		hosts = append(hosts, h)
	}
	sort.Strings(hosts)
	for _, h := range hosts {
		snap.History = append(snap.History, s.history[h].entries(h)...)
	}
	return snap
}

func (s *Store) putLock(ctx context.Context, p protocol.Protocol, host string, strategy int) error {
	data, err := store.Marshal(strategy)
	if err != nil {
		return err
	}
	return s.kv.Put(ctx, lockNamespace(p), host, data)
}

func (s *Store) putCounters(ctx context.Context, host string, strategy int, c Counters) error {
	data, err := store.Marshal(c)
	if err != nil {
		return err
	}
	return s.kv.Put(ctx, historyNamespace(host), strconv.Itoa(strategy), data)
}

// writeFailed logs a persistence failure. The in-memory change stays in
// effect for the session.
func (s *Store) writeFailed(op string, err error) error {
	s.logger.Error("commit store write failed", "op", op, "error", err)
	return fmt.Errorf("commit %s: %w", op, err)
}

func validate(host string, strategy int, p protocol.Protocol) (string, error) {
	if strategy <= 0 {
		return "", ErrInvalidStrategy
	}
	if !p.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidProtocol, p)
	}
	h, err := hostname.Normalize(host)
	if err != nil {
		return "", fmt.Errorf("%w: %q", err, host)
	}
	return h, nil
}

func normalizeLoose(host string) string {
	if h, err := hostname.Normalize(host); err == nil {
		return h
	}
	return host
}
