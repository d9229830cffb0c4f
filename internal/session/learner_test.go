package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/autolock/internal/commit"
	"github.com/roach88/autolock/internal/disallow"
	"github.com/roach88/autolock/internal/event"
	"github.com/roach88/autolock/internal/notify"
	"github.com/roach88/autolock/internal/protocol"
	"github.com/roach88/autolock/internal/testutil"
	"github.com/roach88/autolock/internal/whitelist"
)

type learnerFixture struct {
	commit    *commit.Store
	whitelist *whitelist.Store
	learner   *Learner
	rec       *notify.Recorder
	parser    *event.Parser
}

func newLearnerFixture(t *testing.T) *learnerFixture {
	t.Helper()
	ctx := context.Background()
	kv := testutil.OpenStore(t)
	rec := &notify.Recorder{}
	d := disallow.New(kv)
	d.Load(ctx)
	c := commit.New(kv, d, commit.WithObserver(rec))
	c.Load(ctx)
	w := whitelist.New(kv)
	w.Load(ctx)
	return &learnerFixture{
		commit:    c,
		whitelist: w,
		learner:   NewLearner(c, d, w, rec, nil),
		rec:       rec,
		parser:    event.NewParser(),
	}
}

// feed runs lines through the parser and the learner like the reader loop.
func (f *learnerFixture) feed(t *testing.T, lines ...string) {
	t.Helper()
	for _, line := range lines {
		f.learner.Line()
		if ev, ok := f.parser.Parse(line); ok {
			f.learner.Apply(context.Background(), ev)
		}
	}
}

func TestLearner_EngineLock(t *testing.T) {
	f := newLearnerFixture(t)
	f.feed(t, "LOCK: host=example.com strategy=4 proto=tls")

	got, ok := f.commit.Lookup("example.com", protocol.TLS)
	require.True(t, ok)
	assert.Equal(t, 4, got)
	assert.Equal(t, 1, f.learner.Stats().Events[event.KindLock])
}

func TestLearner_DropsDisallowedLock(t *testing.T) {
	f := newLearnerFixture(t)
	f.feed(t, "LOCK host=youtube.com strategy=1 protocol=tls")

	_, ok := f.commit.Lookup("youtube.com", protocol.TLS)
	assert.False(t, ok)
	assert.Equal(t, 1, f.learner.Stats().DroppedLocks)
	assert.Empty(t, f.rec.Changes())
}

func TestLearner_AutoLockFromSuccesses(t *testing.T) {
	f := newLearnerFixture(t)
	f.feed(t,
		"[orchestra] SUCCESS host=example.org strategy=2 protocol=tls",
		"[orchestra] SUCCESS host=example.org strategy=2 protocol=tls",
	)
	_, ok := f.commit.Lookup("example.org", protocol.TLS)
	require.False(t, ok, "two successes are below the tls threshold")

	f.feed(t, "[orchestra] SUCCESS host=example.org strategy=2 protocol=tls")
	got, ok := f.commit.Lookup("example.org", protocol.TLS)
	require.True(t, ok)
	assert.Equal(t, 2, got)
}

func TestLearner_FailBreaksStreak(t *testing.T) {
	f := newLearnerFixture(t)
	f.feed(t,
		"SUCCESS host=example.org strategy=2 protocol=tls",
		"SUCCESS host=example.org strategy=2 protocol=tls",
		"FAIL host=example.org strategy=2 protocol=tls successes=2 total=3",
		"SUCCESS host=example.org strategy=2 protocol=tls",
	)

	_, ok := f.commit.Lookup("example.org", protocol.TLS)
	assert.False(t, ok)

	history := f.commit.History("example.org")
	require.Len(t, history, 1)
	assert.Equal(t, 3, history[0].Successes)
	assert.Equal(t, 1, history[0].Failures)
}

func TestLearner_UnlockReportsBestCandidate(t *testing.T) {
	f := newLearnerFixture(t)
	f.feed(t,
		"HISTORY host=example.net strategy=2 successes=5 total=6",
		"HISTORY host=example.net strategy=3 successes=1 total=4",
		"LOCK host=example.net strategy=2 protocol=tls",
		"LOCK host=example.net strategy=5 protocol=udp",
		"UNLOCK host=example.net protocol=tls",
	)

	// The tag only picks the excluded strategy; every family is unlocked.
	for _, p := range protocol.All {
		_, ok := f.commit.Lookup("example.net", p)
		assert.False(t, ok, "%s lock still held", p)
	}
	assert.Contains(t, f.rec.Lines(), "unlock: example.net best candidate from history is strategy 3")
}

func TestLearner_UnlockWithoutLockIsQuiet(t *testing.T) {
	f := newLearnerFixture(t)
	f.feed(t,
		"HISTORY host=example.net strategy=2 successes=5 total=6",
		"UNLOCK host=example.net",
	)
	for _, line := range f.rec.Lines() {
		assert.NotContains(t, line, "best candidate")
	}
}

func TestLearner_IgnoresWhitelistedHosts(t *testing.T) {
	f := newLearnerFixture(t)
	_, err := f.whitelist.Add(context.Background(), "corp.example")
	require.NoError(t, err)

	f.feed(t,
		"LOCK host=mail.corp.example strategy=2 protocol=tls",
		"SUCCESS host=vpn.corp.example strategy=6 protocol=udp",
		"FAIL host=vpn.corp.example strategy=6 protocol=udp successes=0 total=1",
		"APPLIED host=vpn.corp.example strategy=6 protocol=udp",
		"SUCCESS host=other.example strategy=6 protocol=udp",
	)

	for _, p := range protocol.All {
		_, ok := f.commit.Lookup("mail.corp.example", p)
		assert.False(t, ok)
		_, ok = f.commit.Lookup("vpn.corp.example", p)
		assert.False(t, ok)
	}
	assert.Empty(t, f.commit.History("vpn.corp.example"))
	_, ok := f.commit.Lookup("other.example", protocol.UDP)
	assert.True(t, ok)

	stats := f.learner.Stats()
	assert.Equal(t, 3, stats.Whitelisted)
	assert.Len(t, stats.Applied, 1, "informational events are still recorded")
}

func TestLearner_Stats(t *testing.T) {
	f := newLearnerFixture(t)
	f.feed(t,
		"engine banner, not an event",
		"APPLIED host=b.example strategy=3 protocol=http",
		"APPLIED host=a.example strategy=1 protocol=tls",
		"APPLIED host=a.example strategy=2 protocol=tls",
		"RST host=a.example",
		"RST",
		"PRELOADED host=a.example strategy=2 protocol=tls",
		"ROTATE host=a.example strategy=4",
	)

	stats := f.learner.Stats()
	assert.Equal(t, 8, stats.Lines)
	assert.Equal(t, 3, stats.Events[event.KindApplied])
	assert.Equal(t, 2, stats.Resets["a.example"], "bare RST inherits the previous host")
	assert.Equal(t, 1, stats.Preloaded)
	assert.Equal(t, []Applied{
		{Host: "a.example", Protocol: protocol.TLS, Strategy: 2},
		{Host: "b.example", Protocol: protocol.HTTP, Strategy: 3},
	}, stats.Applied)

	f.learner.Reset()
	stats = f.learner.Stats()
	assert.Zero(t, stats.Lines)
	assert.Empty(t, stats.Applied)
}
