// Package whitelist keeps the domains excluded from any bypass attempt.
//
// Default entries ship with the binary and cannot be removed; operator
// entries are persisted one key per domain. Matching is suffix-aware, so
// an entry covers all of its subdomains.
package whitelist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/roach88/autolock/internal/hostname"
	"github.com/roach88/autolock/internal/notify"
	"github.com/roach88/autolock/internal/store"
)

// Namespace holds one key per operator domain.
var Namespace = store.Join("autolock", "whitelist")

// ErrDefault is returned when removing a default entry.
var ErrDefault = errors.New("default whitelist entry cannot be removed")

var defaults = []string{
	"localhost",
	"local",
	"lan",
	"home.arpa",
	"gosuslugi.ru",
	"nalog.gov.ru",
	"sberbank.ru",
	"tbank.ru",
	"vk.com",
	"yandex.ru",
	"ozon.ru",
	"wildberries.ru",
}

// Entry is one whitelisted domain.
type Entry struct {
	Domain    string `json:"domain"`
	IsDefault bool   `json:"is_default"`
}

// Store is the whitelist. Safe for concurrent use.
type Store struct {
	kv       store.KV
	logger   *slog.Logger
	observer notify.Observer

	mu   sync.RWMutex
	user map[string]struct{}
	defs map[string]struct{}
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

// New creates a store holding only the defaults.
func New(kv store.KV, opts ...Option) *Store {
	s := &Store{
		kv:       kv,
		logger:   slog.Default(),
		observer: notify.Nop{},
		user:     make(map[string]struct{}),
		defs:     make(map[string]struct{}, len(defaults)),
	}
	for _, d := range defaults {
		s.defs[hostname.MustNormalize(d)] = struct{}{}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load replaces the operator entries with the persisted ones. Read
// failures leave only the defaults.
func (s *Store) Load(ctx context.Context) {
	user := make(map[string]struct{})

	entries, err := s.kv.List(ctx, Namespace)
	if err != nil {
		s.logger.Warn("whitelist unreadable, using defaults only", "error", err)
		entries = nil
	}
	for _, e := range entries {
		d, err := hostname.Normalize(e.Key)
		if err != nil {
			s.logger.Warn("skipping corrupt whitelist entry", "domain", e.Key, "error", err)
			continue
		}
		if _, ok := s.defs[d]; ok {
			continue
		}
		user[d] = struct{}{}
	}

	s.mu.Lock()
	s.user = user
	s.mu.Unlock()
}

// Add whitelists domain. It reports whether the domain was newly added.
func (s *Store) Add(ctx context.Context, domain string) (bool, error) {
	d, err := hostname.Normalize(domain)
	if err != nil {
		return false, fmt.Errorf("%w: %q", err, domain)
	}

	s.mu.Lock()
	_, isDef := s.defs[d]
	_, isUser := s.user[d]
	if isDef || isUser {
		s.mu.Unlock()
		return false, nil
	}
	s.user[d] = struct{}{}
	s.mu.Unlock()

	s.observer.Output(fmt.Sprintf("whitelist: %s added", d))
	if err := s.kv.Put(ctx, Namespace, d, []byte{}); err != nil {
		return true, s.writeFailed("add", err)
	}
	return true, nil
}

// Remove drops an operator entry. Defaults are refused with ErrDefault.
func (s *Store) Remove(ctx context.Context, domain string) (bool, error) {
	d, err := hostname.Normalize(domain)
	if err != nil {
		return false, fmt.Errorf("%w: %q", err, domain)
	}

	s.mu.Lock()
	if _, ok := s.defs[d]; ok {
		s.mu.Unlock()
		return false, ErrDefault
	}
	if _, ok := s.user[d]; !ok {
		s.mu.Unlock()
		return false, nil
	}
	delete(s.user, d)
	s.mu.Unlock()

	s.observer.Output(fmt.Sprintf("whitelist: %s removed", d))
	if err := s.kv.Delete(ctx, Namespace, d); err != nil {
		return true, s.writeFailed("remove", err)
	}
	return true, nil
}

// Contains reports whether host is a whitelisted domain or one of its
// subdomains.
func (s *Store) Contains(host string) bool {
	h, err := hostname.Normalize(host)
	if err != nil {
		return false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, set := range []map[string]struct{}{s.defs, s.user} {
		for d := range set {
			if hostname.MatchesSuffix(h, d) {
				return true
			}
		}
	}
	return false
}

// Entries returns defaults and operator entries sorted by domain.
func (s *Store) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Entry, 0, len(s.defs)+len(s.user))
	for d := range s.defs {
		out = append(out, Entry{Domain: d, IsDefault: true})
	}
	for d := range s.user {
		out = append(out, Entry{Domain: d})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Domain < out[j].Domain })
	return out
}

// Domains returns every whitelisted domain sorted.
func (s *Store) Domains() []string {
	entries := s.Entries()
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Domain
	}
	return out
}

// Clear drops every operator entry.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.user = make(map[string]struct{})
	s.mu.Unlock()

	s.observer.Output("whitelist: operator entries cleared")
	if err := s.kv.DeleteAll(ctx, Namespace); err != nil {
		return s.writeFailed("clear", err)
	}
	return nil
}

func (s *Store) writeFailed(op string, err error) error {
	s.logger.Error("whitelist write failed", "op", op, "error", err)
	return fmt.Errorf("whitelist %s: %w", op, err)
}
