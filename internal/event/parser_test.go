package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/autolock/internal/protocol"
)

func TestDecode_Kinds(t *testing.T) {
	tests := []struct {
		name string
		line string
		want Event
	}{
		{
			name: "lock",
			line: "LOCK host=example.com strategy=4 protocol=tls",
			want: Event{Kind: KindLock, Host: "example.com", Strategy: 4, Protocol: protocol.TLS, Label: "tls"},
		},
		{
			name: "lock with colon and prefix",
			line: "[orchestra] [12:00:01] LOCK: host=Example.COM strategy=7 proto=quic",
			want: Event{Kind: KindLock, Host: "example.com", Strategy: 7, Protocol: protocol.UDP, Label: "quic"},
		},
		{
			name: "unlock without protocol",
			line: "UNLOCK host=example.com",
			want: Event{Kind: KindUnlock, Host: "example.com"},
		},
		{
			name: "bare success",
			line: "SUCCESS host=example.com strategy=4 protocol=tls",
			want: Event{Kind: KindSuccess, Host: "example.com", Strategy: 4, Protocol: protocol.TLS, Label: "tls"},
		},
		{
			name: "success with counters",
			line: "success host=a.example strategy=2 protocol=http successes=3 total=5",
			want: Event{Kind: KindSuccess, Host: "a.example", Strategy: 2, Protocol: protocol.HTTP, Label: "http",
				Successes: 3, Total: 5, HasCounters: true},
		},
		{
			name: "fail",
			line: "FAIL host=a.example strategy=2 protocol=discord successes=0 total=2",
			want: Event{Kind: KindFail, Host: "a.example", Strategy: 2, Protocol: protocol.UDP, Label: "discord",
				Total: 2, HasCounters: true},
		},
		{
			name: "rst without strategy",
			line: "RST host=blocked.example",
			want: Event{Kind: KindRST, Host: "blocked.example", Protocol: protocol.TLS},
		},
		{
			name: "history",
			line: "HISTORY host=h.example strategy=9 protocol=udp ok=4 total=6",
			want: Event{Kind: KindHistory, Host: "h.example", Strategy: 9, Protocol: protocol.UDP, Label: "udp",
				Successes: 4, Total: 6, HasCounters: true},
		},
		{
			name: "rotate with inferred http",
			line: "ROTATE host=h.example strategy=3 port=80",
			want: Event{Kind: KindRotate, Host: "h.example", Strategy: 3, Protocol: protocol.HTTP},
		},
		{
			name: "applied with inferred udp",
			line: "APPLIED host=h.example strategy=12 l4=udp port=443",
			want: Event{Kind: KindApplied, Host: "h.example", Strategy: 12, Protocol: protocol.UDP},
		},
		{
			name: "preloaded",
			line: `PRELOADED host="h.example" strategy=1 protocol=tls`,
			want: Event{Kind: KindPreloaded, Host: "h.example", Strategy: 1, Protocol: protocol.TLS, Label: "tls"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Decode(tt.line, "")
			require.True(t, ok, "line should decode: %q", tt.line)
			tt.want.Raw = tt.line
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecode_Rejects(t *testing.T) {
	lines := []string{
		"",
		"   ",
		"[orchestra]",
		"connection established to example.com",
		"LOCKED host=example.com strategy=1",
		"LOCK host=example.com",
		"LOCK host=example.com strategy=abc protocol=tls",
		"LOCK host=example.com strategy=0 protocol=tls",
		"LOCK host=example.com strategy=-2 protocol=tls",
		"LOCK host=example.com strategy=4 protocol=smtp",
		"SUCCESS host=example.com strategy=4 successes=3",
		"SUCCESS host=example.com strategy=4 successes=x total=4",
		"SUCCESS host=example.com strategy=4 successes=5 total=4",
		"FAIL host=example.com strategy=4 protocol=tls",
		"HISTORY host=example.com strategy=4 protocol=tls total=-1 successes=0",
		"ROTATE host=example.com strategy=4 port=http",
		"ROTATE host=example.com strategy=4 port=70000",
		"LOCK host=exa/mple strategy=4",
		"LOCK strategy=4 protocol=tls",
	}

	for _, line := range lines {
		_, ok := Decode(line, "")
		assert.False(t, ok, "line should be dropped: %q", line)
	}
}

func TestParser_InheritsLastHost(t *testing.T) {
	p := NewParser()

	_, ok := p.Parse("SUCCESS strategy=4 protocol=tls")
	assert.False(t, ok, "no host seen yet")

	ev, ok := p.Parse("APPLIED host=first.example strategy=4 protocol=tls")
	require.True(t, ok)
	assert.Equal(t, "first.example", ev.Host)

	ev, ok = p.Parse("SUCCESS strategy=4 protocol=tls")
	require.True(t, ok)
	assert.Equal(t, "first.example", ev.Host)

	// A dropped line does not change the carried host.
	_, ok = p.Parse("SUCCESS host=second.example strategy=bad")
	assert.False(t, ok)
	ev, ok = p.Parse("RST")
	require.True(t, ok)
	assert.Equal(t, "first.example", ev.Host)

	ev, ok = p.Parse("RST host=second.example")
	require.True(t, ok)
	ev, ok = p.Parse("FAIL strategy=2 protocol=tls successes=0 total=1")
	require.True(t, ok)
	assert.Equal(t, "second.example", ev.Host)
}

func TestEvent_StringRoundTrip(t *testing.T) {
	lines := []string{
		"LOCK host=example.com strategy=4 protocol=tls",
		"UNLOCK host=example.com",
		"HISTORY host=example.com strategy=4 protocol=udp successes=2 total=3",
	}
	for _, line := range lines {
		ev, ok := Decode(line, "")
		require.True(t, ok)
		assert.Equal(t, line, ev.String())
	}
}

func TestEvent_Failures(t *testing.T) {
	ev := Event{Successes: 2, Total: 7}
	assert.Equal(t, 5, ev.Failures())
}
