package artifact

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/autolock/internal/commit"
	"github.com/roach88/autolock/internal/disallow"
	"github.com/roach88/autolock/internal/protocol"
)

func newGoldie(t *testing.T) *goldie.Goldie {
	t.Helper()
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func testTemplates() []Template {
	return []Template{
		{Protocol: protocol.UDP, Name: "udp.txt", Content: "# quic and voice\n--lua-desync=fake:blob=quic_google:repeat=6\n"},
		{Protocol: protocol.TLS, Name: "tls.txt", Content: "# pass-through first\n--lua-desync=pass\n\n--lua-desync=fake:blob=tls_google\n--lua-desync=multisplit:pos=1,midsld:strategy=17\n"},
		{Protocol: protocol.HTTP, Name: "http.txt", Content: "--dpi-desync=fake,split2\r\n--hostcase\r\n"},
	}
}

func TestNumber_Golden(t *testing.T) {
	n, err := Number(testTemplates())
	require.NoError(t, err)
	require.Len(t, n.Files, 3)

	g := newGoldie(t)
	for _, f := range n.Files {
		data, err := Render(f.Doc, Strategy)
		require.NoError(t, err)
		g.Assert(t, "strategy_"+string(f.Protocol), data)
	}
}

func TestNumber_Ranges(t *testing.T) {
	n, err := Number(testTemplates())
	require.NoError(t, err)

	assert.Equal(t, Range{First: 1, Last: 3}, n.Ranges[protocol.TLS])
	assert.Equal(t, Range{First: 4, Last: 4}, n.Ranges[protocol.HTTP])
	assert.Equal(t, Range{First: 5, Last: 5}, n.Ranges[protocol.UDP])
	assert.Equal(t, 5, n.Total())

	assert.True(t, n.Valid(protocol.TLS, 1))
	assert.False(t, n.Valid(protocol.TLS, 4))
	assert.False(t, n.Valid(protocol.UDP, 6))
	assert.False(t, n.Valid(protocol.HTTP, 0))
}

func TestNumber_Deterministic(t *testing.T) {
	first, err := Number(testTemplates())
	require.NoError(t, err)

	// Numbering the generated output again must not shift any id.
	var again []Template
	for _, f := range first.Files {
		data, err := Render(f.Doc, Strategy)
		require.NoError(t, err)
		again = append(again, Template{Protocol: f.Protocol, Name: f.Name, Content: string(data)})
	}
	second, err := Number(again)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestNumber_UnknownProtocol(t *testing.T) {
	_, err := Number([]Template{{Protocol: "sctp", Name: "x"}})
	assert.Error(t, err)
}

func TestNumber_EmptyProtocolHasNoRange(t *testing.T) {
	n, err := Number([]Template{{Protocol: protocol.TLS, Name: "tls.txt", Content: "--lua-desync=pass\n"}})
	require.NoError(t, err)
	assert.Equal(t, 0, n.Ranges[protocol.UDP].Len())
	assert.False(t, n.Valid(protocol.UDP, 1))
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint(testTemplates())
	assert.Len(t, a, 64)
	assert.Equal(t, a, Fingerprint(testTemplates()))

	changed := testTemplates()
	changed[1].Content += "--lua-desync=fake:blob=tls_clienthello_www_google_com\n"
	assert.NotEqual(t, a, Fingerprint(changed))
}

func TestWhitelist_Golden(t *testing.T) {
	data, err := Render(BuildWhitelist([]string{"corp.example", "localhost"}), Whitelist)
	require.NoError(t, err)
	newGoldie(t).Assert(t, "whitelist", data)
}

func TestRunConfig_Golden(t *testing.T) {
	doc := BuildRunConfig(RunConfigInput{
		TCPPorts:      []string{"80", "443"},
		UDPPorts:      []string{"443", "50000-50100"},
		WhitelistPath: "/var/lib/autolock/whitelist.txt",
		Profiles: []Profile{
			{Protocol: protocol.TLS, Ports: []string{"443"}, StrategyFile: "/var/lib/autolock/strategies/tls.txt"},
			{Protocol: protocol.HTTP, Ports: []string{"80"}, StrategyFile: "/var/lib/autolock/strategies/http.txt"},
			{Protocol: protocol.UDP, Ports: []string{"443", "50000-50100"}, StrategyFile: "/var/lib/autolock/strategies/udp.txt"},
		},
	})
	data, err := Render(doc, RunConfig)
	require.NoError(t, err)
	newGoldie(t).Assert(t, "runconfig", data)
}

func TestPreload_Golden(t *testing.T) {
	blocked := map[string]int{"skip.example": 6}
	doc := BuildPreload(PreloadInput{
		Locks: []commit.LockEntry{
			{Host: "example.com", Protocol: protocol.TLS, Strategy: 2},
			{Host: "skip.example", Protocol: protocol.TLS, Strategy: 6},
			{Host: "voice.example", Protocol: protocol.UDP, Strategy: 5},
		},
		History: []commit.HistoryEntry{
			{Host: "example.com", Strategy: 2, Counters: commit.Counters{Successes: 3}},
			{Host: "example.com", Strategy: 3, Counters: commit.Counters{Successes: 1, Failures: 4}},
			{Host: "example.com", Strategy: 9},
			{Host: "skip.example", Strategy: 6, Counters: commit.Counters{Successes: 8}},
		},
		Disallowed: []disallow.Entry{
			{Host: "skip.example", Strategy: 6},
			{Host: "youtube.com", Strategy: 1, Builtin: true},
		},
		KnownBlocked: []string{"youtube.com", "discord.com"},
		Blocked: func(host string, strategy int) bool {
			return blocked[host] == strategy
		},
	})

	assert.Equal(t, 2, doc.Count(KindLock))
	data, err := Render(doc, Preload)
	require.NoError(t, err)
	newGoldie(t).Assert(t, "preload", data)
}

func TestRender_RejectsUnknownDirective(t *testing.T) {
	var doc Document
	doc.Add(KindLock, "tls", "example.com")
	_, err := Render(doc, Preload)
	assert.Error(t, err)

	_, err = Render(Document{{Kind: KindNew}}, Whitelist)
	assert.Error(t, err)
}

func TestRender_Empty(t *testing.T) {
	data, err := Render(nil, Strategy)
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestWriteFile_Replaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "preload.txt")

	require.NoError(t, WriteFile(path, []byte("one\n")))
	require.NoError(t, WriteFile(path, []byte("two\n")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "two\n", string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestLoadTemplates(t *testing.T) {
	dir := t.TempDir()
	write := func(rel, content string) {
		t.Helper()
		path := filepath.Join(dir, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	write("udp/quic.txt", "--lua-desync=fake\n")
	write("tls/20-split.txt", "--lua-desync=multisplit\n")
	write("tls/10-pass.txt", "--lua-desync=pass\n")
	write("tls/README.md", "ignored\n")

	templates, err := LoadTemplates(dir)
	require.NoError(t, err)
	require.Len(t, templates, 3)
	assert.Equal(t, Template{Protocol: protocol.TLS, Name: "10-pass.txt", Content: "--lua-desync=pass\n"}, templates[0])
	assert.Equal(t, "20-split.txt", templates[1].Name)
	assert.Equal(t, protocol.UDP, templates[2].Protocol)
}
