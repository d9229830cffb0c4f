// Package notify defines the observer the stores and the session runner
// report to. Observers are registered before a session starts and are
// called synchronously from the goroutine that made the change, so
// implementations must not block.
package notify

import (
	"sync"

	"github.com/roach88/autolock/internal/protocol"
)

// Observer receives lock changes and human-readable output lines.
type Observer interface {
	// Locked is called after a lock for (host, proto) was committed.
	Locked(host string, proto protocol.Protocol, strategy int)

	// Unlocked is called after the lock for (host, proto) was removed.
	Unlocked(host string, proto protocol.Protocol, strategy int)

	// Output carries engine lines and store change messages.
	Output(message string)
}

// Nop discards all notifications.
type Nop struct{}

func (Nop) Locked(string, protocol.Protocol, int)   {}
func (Nop) Unlocked(string, protocol.Protocol, int) {}
func (Nop) Output(string)                           {}

// Funcs adapts plain functions to Observer. Nil fields are skipped.
type Funcs struct {
	OnLocked   func(host string, proto protocol.Protocol, strategy int)
	OnUnlocked func(host string, proto protocol.Protocol, strategy int)
	OnOutput   func(message string)
}

func (f Funcs) Locked(host string, proto protocol.Protocol, strategy int) {
	if f.OnLocked != nil {
		f.OnLocked(host, proto, strategy)
	}
}

func (f Funcs) Unlocked(host string, proto protocol.Protocol, strategy int) {
	if f.OnUnlocked != nil {
		f.OnUnlocked(host, proto, strategy)
	}
}

func (f Funcs) Output(message string) {
	if f.OnOutput != nil {
		f.OnOutput(message)
	}
}

// Change is one recorded lock or unlock.
type Change struct {
	Locked   bool
	Host     string
	Protocol protocol.Protocol
	Strategy int
}

// Recorder keeps every notification in memory. It is safe for concurrent
// use and is mostly useful in tests.
type Recorder struct {
	mu      sync.Mutex
	changes []Change
	output  []string
}

func (r *Recorder) Locked(host string, proto protocol.Protocol, strategy int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, Change{Locked: true, Host: host, Protocol: proto, Strategy: strategy})
}

func (r *Recorder) Unlocked(host string, proto protocol.Protocol, strategy int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, Change{Host: host, Protocol: proto, Strategy: strategy})
}

func (r *Recorder) Output(message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.output = append(r.output, message)
}

// Changes returns a copy of the recorded lock changes.
func (r *Recorder) Changes() []Change {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Change(nil), r.changes...)
}

// Lines returns a copy of the recorded output lines.
func (r *Recorder) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.output...)
}
