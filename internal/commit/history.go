package commit

import (
	"context"
	"fmt"

	"github.com/roach88/autolock/internal/protocol"
)

// Counters is the tally for one (host, strategy).
type Counters struct {
	Successes int `cbor:"s" json:"successes"`
	Failures  int `cbor:"f" json:"failures"`
}

// Attempts is Successes+Failures.
func (c Counters) Attempts() int {
	return c.Successes + c.Failures
}

// HistoryEntry is the tally of one (host, strategy).
type HistoryEntry struct {
	Host     string `json:"host"`
	Strategy int    `json:"strategy"`
	Counters
}

// hostHistory keeps the strategies of one host in first-seen order.
type hostHistory struct {
	order  []int
	counts map[int]Counters
}

func (s *Store) hostHistoryLocked(host string) *hostHistory {
	hh, ok := s.history[host]
	if !ok {
		hh = &hostHistory{counts: make(map[int]Counters)}
		s.history[host] = hh
	}
	return hh
}

func (hh *hostHistory) get(strategy int) Counters {
	return hh.counts[strategy]
}

func (hh *hostHistory) set(strategy int, c Counters) {
	if _, ok := hh.counts[strategy]; !ok {
		hh.order = append(hh.order, strategy)
	}
	hh.counts[strategy] = c
}

// merge raises each counter to at least the given value.
func (hh *hostHistory) merge(strategy int, c Counters) Counters {
	cur := hh.get(strategy)
	cur.Successes = max(cur.Successes, c.Successes)
	cur.Failures = max(cur.Failures, c.Failures)
	hh.set(strategy, cur)
	return cur
}

func (hh *hostHistory) entries(host string) []HistoryEntry {
	out := make([]HistoryEntry, 0, len(hh.order))
	for _, id := range hh.order {
		out = append(out, HistoryEntry{Host: host, Strategy: id, Counters: hh.counts[id]})
	}
	return out
}

// History returns the tallies for host in first-seen order.
func (s *Store) History(host string) []HistoryEntry {
	h := normalizeLoose(host)

	s.mu.RLock()
	defer s.mu.RUnlock()
	hh, ok := s.history[h]
	if !ok {
		return nil
	}
	return hh.entries(h)
}

// RecordOutcome adds one success or failure to the tally for
// (host, strategy) and persists it. It never locks.
func (s *Store) RecordOutcome(ctx context.Context, host string, strategy int, success bool) error {
	h, err := validate(host, strategy, protocol.TLS)
	if err != nil {
		return err
	}

	s.mu.Lock()
	hh := s.hostHistoryLocked(h)
	c := hh.get(strategy)
	if success {
		c.Successes++
	} else {
		c.Failures++
	}
	hh.set(strategy, c)
	s.mu.Unlock()

	if err := s.putCounters(ctx, h, strategy, c); err != nil {
		return s.writeFailed("record", err)
	}
	return nil
}

// MergeHistory folds engine-reported counters into the local tally. Each
// counter becomes the larger of the two values, so replaying the same
// report is harmless and counters never go down.
func (s *Store) MergeHistory(ctx context.Context, host string, strategy int, c Counters) error {
	h, err := validate(host, strategy, protocol.TLS)
	if err != nil {
		return err
	}
	if c.Successes < 0 || c.Failures < 0 {
		return fmt.Errorf("negative counters for %s strategy %d", h, strategy)
	}

	s.mu.Lock()
	hh := s.hostHistoryLocked(h)
	before := hh.get(strategy)
	after := hh.merge(strategy, c)
	s.mu.Unlock()

	if before == after && before.Attempts() > 0 {
		return nil
	}
	if err := s.putCounters(ctx, h, strategy, after); err != nil {
		return s.writeFailed("merge", err)
	}
	return nil
}

// ObserveSuccess records a bare SUCCESS and applies the auto-lock rule:
// once (host, strategy) reaches p's threshold of consecutive successes and
// the host has no lock for p, the strategy is locked. It reports whether a
// lock was created.
func (s *Store) ObserveSuccess(ctx context.Context, host string, strategy int, p protocol.Protocol) (bool, error) {
	h, err := validate(host, strategy, p)
	if err != nil {
		return false, err
	}
	recordErr := s.RecordOutcome(ctx, h, strategy, true)

	s.mu.Lock()
	if s.suppressed[h] {
		s.mu.Unlock()
		return false, recordErr
	}
	key := streakKey{host: h, proto: p, strategy: strategy}
	s.streaks[key]++
	streak := s.streaks[key]
	_, locked := s.locks[p][h]
	s.mu.Unlock()

	if locked || streak < p.AutoLockThreshold() {
		return false, recordErr
	}
	if s.blocker.IsBlocked(h, strategy) {
		s.logger.Debug("auto-lock skipped, strategy disallowed", "host", h, "protocol", p, "strategy", strategy)
		return false, recordErr
	}

	if err := s.Lock(ctx, h, strategy, p, OriginAuto); err != nil {
		return true, err
	}
	return true, recordErr
}

// ObserveFailure records a FAIL and breaks the success streak of
// (host, strategy) in every family.
func (s *Store) ObserveFailure(ctx context.Context, host string, strategy int) error {
	h, err := validate(host, strategy, protocol.TLS)
	if err != nil {
		return err
	}

	s.mu.Lock()
	for k := range s.streaks {
		if k.host == h && k.strategy == strategy {
			delete(s.streaks, k)
		}
	}
	s.mu.Unlock()

	return s.RecordOutcome(ctx, h, strategy, false)
}

// BestStrategyFromHistory returns the strategy with the highest success
// ratio for host among those with at least one attempt, skipping exclude
// and every disallowed strategy. Ties keep the first-seen strategy.
func (s *Store) BestStrategyFromHistory(host string, exclude int) (int, bool) {
	h := normalizeLoose(host)

	s.mu.RLock()
	hh, ok := s.history[h]
	var candidates []HistoryEntry
	if ok {
		candidates = hh.entries(h)
	}
	s.mu.RUnlock()

	var (
		best  HistoryEntry
		found bool
	)
	for _, e := range candidates {
		if e.Strategy == exclude || e.Attempts() == 0 {
			continue
		}
		if s.blocker.IsBlocked(h, e.Strategy) {
			continue
		}
		if !found || betterRatio(e.Counters, best.Counters) {
			best, found = e, true
		}
	}
	return best.Strategy, found
}

// betterRatio reports whether a has a strictly higher success ratio than b.
// Both must have at least one attempt.
func betterRatio(a, b Counters) bool {
	return a.Successes*b.Attempts() > b.Successes*a.Attempts()
}
