// Package disallow keeps the denylist of (host, strategy) pairs the learner
// must never choose, independent of how well the strategy performed.
//
// The list is the union of immutable built-in entries and operator entries.
// Only operator entries are persisted; built-ins are re-derived on every
// Load and can never be removed.
package disallow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"

	"github.com/roach88/autolock/internal/hostname"
	"github.com/roach88/autolock/internal/notify"
	"github.com/roach88/autolock/internal/store"
)

// Namespace holds one key per host; the value is the sorted list of
// operator-disallowed strategies.
var Namespace = store.Join("autolock", "disallow")

var (
	// ErrBuiltin is returned when removing a built-in entry.
	ErrBuiltin = errors.New("built-in disallow entry cannot be removed")

	// ErrInvalidStrategy is returned for non-positive strategy ids.
	ErrInvalidStrategy = errors.New("strategy id must be positive")
)

// Entry is one disallowed pair.
type Entry struct {
	Host     string `json:"host"`
	Strategy int    `json:"strategy"`
	Builtin  bool   `json:"builtin"`
}

// Store is the disallow list. Reads are safe from any goroutine; mutations
// persist synchronously before returning.
type Store struct {
	kv       store.KV
	logger   *slog.Logger
	observer notify.Observer

	mu      sync.RWMutex
	builtin map[string]map[int]struct{}
	user    map[string]map[int]struct{}
	suffix  []string
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithObserver sets the observer notified on every mutation.
func WithObserver(observer notify.Observer) Option {
	return func(s *Store) { s.observer = observer }
}

// New creates a store holding only the built-in entries. Call Load to merge
// persisted operator entries.
func New(kv store.KV, opts ...Option) *Store {
	s := &Store{
		kv:       kv,
		logger:   slog.Default(),
		observer: notify.Nop{},
		builtin:  builtinEntries(),
		user:     make(map[string]map[int]struct{}),
		suffix:   KnownBlocked(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load replaces the operator entries with the persisted ones. A read
// failure is logged and leaves only the built-ins; Load itself never fails.
func (s *Store) Load(ctx context.Context) {
	user := make(map[string]map[int]struct{})

	entries, err := s.kv.List(ctx, Namespace)
	if err != nil {
		s.logger.Warn("disallow list unreadable, using built-ins only", "error", err)
		entries = nil
	}

	builtin := builtinEntries()
	for _, e := range entries {
		var strategies []int
		if err := store.Unmarshal(e.Value, &strategies); err != nil {
			s.logger.Warn("skipping corrupt disallow entry", "host", e.Key, "error", err)
			continue
		}
		for _, id := range strategies {
			if id <= 0 {
				continue
			}
			if _, ok := builtin[e.Key][id]; ok {
				continue
			}
			if user[e.Key] == nil {
				user[e.Key] = make(map[int]struct{})
			}
			user[e.Key][id] = struct{}{}
		}
	}

	s.mu.Lock()
	s.builtin = builtin
	s.user = user
	s.mu.Unlock()

	s.logger.Debug("disallow list loaded", "builtin_hosts", len(builtin), "user_hosts", len(user))
}

// IsBlocked reports whether strategy must never be used for host: an exact
// entry exists, or strategy is the no-op and host is under a known-blocked
// domain.
func (s *Store) IsBlocked(host string, strategy int) bool {
	host = normalizeLoose(host)

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.blockedLocked(host, strategy)
}

func (s *Store) blockedLocked(host string, strategy int) bool {
	if _, ok := s.builtin[host][strategy]; ok {
		return true
	}
	if _, ok := s.user[host][strategy]; ok {
		return true
	}
	if strategy == NoopStrategy {
		for _, d := range s.suffix {
			if hostname.MatchesSuffix(host, d) {
				return true
			}
		}
	}
	return false
}

// Block adds an operator entry. It reports whether the pair was newly
// added; blocking a pair that is already blocked, including through the
// built-in suffix rule, is a successful no-op.
func (s *Store) Block(ctx context.Context, host string, strategy int) (bool, error) {
	h, err := validate(host, strategy)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	if s.blockedLocked(h, strategy) {
		s.mu.Unlock()
		return false, nil
	}
	if s.user[h] == nil {
		s.user[h] = make(map[int]struct{})
	}
	s.user[h][strategy] = struct{}{}
	ids := sortedIDs(s.user[h])
	s.mu.Unlock()

	s.observer.Output(fmt.Sprintf("disallow: strategy %d blocked for %s", strategy, h))
	return true, s.persistHost(ctx, h, ids)
}

// Unblock removes an operator entry. Built-in pairs are refused with
// ErrBuiltin and stay blocked.
func (s *Store) Unblock(ctx context.Context, host string, strategy int) (bool, error) {
	h, err := validate(host, strategy)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	if _, ok := s.builtin[h][strategy]; ok {
		s.mu.Unlock()
		return false, ErrBuiltin
	}
	if _, ok := s.user[h][strategy]; !ok {
		s.mu.Unlock()
		return false, nil
	}
	delete(s.user[h], strategy)
	ids := sortedIDs(s.user[h])
	if len(ids) == 0 {
		delete(s.user, h)
	}
	s.mu.Unlock()

	s.observer.Output(fmt.Sprintf("disallow: strategy %d unblocked for %s", strategy, h))
	return true, s.persistHost(ctx, h, ids)
}

// Save rewrites the persisted operator entries from memory. Entries are
// written before stale hosts are removed.
func (s *Store) Save(ctx context.Context) error {
	s.mu.RLock()
	snapshot := make(map[string][]int, len(s.user))
	for h, ids := range s.user {
		snapshot[h] = sortedIDs(ids)
	}
	s.mu.RUnlock()

	hosts := make([]string, 0, len(snapshot))
	for h := range snapshot {
		hosts = append(hosts, h)
	}
	sort.Strings(hosts)

	keep := make(map[store.EntryKey]bool, len(hosts))
	for _, h := range hosts {
		if len(snapshot[h]) == 0 {
			continue
		}
		if err := s.put(ctx, h, snapshot[h]); err != nil {
			return s.writeFailed("save", err)
		}
		keep[store.EntryKey{Namespace: Namespace, Key: h}] = true
	}
	if err := store.Retain(ctx, s.kv, Namespace, keep); err != nil {
		return s.writeFailed("save", err)
	}
	return nil
}

// Clear drops every operator entry, leaving only the built-ins.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.user = make(map[string]map[int]struct{})
	s.builtin = builtinEntries()
	s.mu.Unlock()

	s.observer.Output("disallow: operator entries cleared")
	if err := s.kv.DeleteAll(ctx, Namespace); err != nil {
		return s.writeFailed("clear", err)
	}
	return nil
}

// Entries returns every disallowed pair sorted by host then strategy.
func (s *Store) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Entry
	for h, ids := range s.builtin {
		for id := range ids {
			out = append(out, Entry{Host: h, Strategy: id, Builtin: true})
		}
	}
	for h, ids := range s.user {
		for id := range ids {
			out = append(out, Entry{Host: h, Strategy: id})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Host != out[j].Host {
			return out[i].Host < out[j].Host
		}
		return out[i].Strategy < out[j].Strategy
	})
	return out
}

// Strategies returns the strategies explicitly disallowed for host.
func (s *Store) Strategies(host string) []int {
	host = normalizeLoose(host)

	s.mu.RLock()
	defer s.mu.RUnlock()

	set := make(map[int]struct{})
	for id := range s.builtin[host] {
		set[id] = struct{}{}
	}
	for id := range s.user[host] {
		set[id] = struct{}{}
	}
	return sortedIDs(set)
}

// KnownBlocked returns the domains whose subdomains never use the no-op.
func (s *Store) KnownBlocked() []string {
	return slices.Clone(s.suffix)
}

func (s *Store) persistHost(ctx context.Context, host string, ids []int) error {
	var err error
	if len(ids) == 0 {
		err = s.kv.Delete(ctx, Namespace, host)
	} else {
		err = s.put(ctx, host, ids)
	}
	if err != nil {
		return s.writeFailed("persist", err)
	}
	return nil
}

func (s *Store) put(ctx context.Context, host string, ids []int) error {
	data, err := store.Marshal(ids)
	if err != nil {
		return err
	}
	return s.kv.Put(ctx, Namespace, host, data)
}

// writeFailed logs a persistence failure. The in-memory change stays in
// effect for the session.
func (s *Store) writeFailed(op string, err error) error {
	s.logger.Error("disallow list write failed", "op", op, "error", err)
	return fmt.Errorf("disallow %s: %w", op, err)
}

func validate(host string, strategy int) (string, error) {
	if strategy <= 0 {
		return "", ErrInvalidStrategy
	}
	h, err := hostname.Normalize(host)
	if err != nil {
		return "", fmt.Errorf("%w: %q", err, host)
	}
	return h, nil
}

// normalizeLoose normalizes for lookups; unusable input is looked up as-is
// and simply matches nothing.
func normalizeLoose(host string) string {
	if h, err := hostname.Normalize(host); err == nil {
		return h
	}
	return host
}

func sortedIDs(set map[int]struct{}) []int {
	ids := make([]int, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
