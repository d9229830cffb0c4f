package harness

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/autolock/internal/event"
	"github.com/roach88/autolock/internal/protocol"
)

func TestScenarios_Golden(t *testing.T) {
	paths, err := Discover("testdata/scenarios")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		scenario, err := LoadScenario(path)
		require.NoError(t, err, path)

		t.Run(scenario.Name, func(t *testing.T) {
			result, err := RunWithGolden(t, scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, strings.Join(result.Errors, "\n"))
		})
	}
}

func TestRun_DroppedLockCounted(t *testing.T) {
	scenario := &Scenario{
		Name:        "dropped",
		Description: "disallowed engine lock",
		Setup:       Setup{Disallow: []DisallowStep{{Host: "example.net", Strategy: 2}}},
		Lines:       []string{"LOCK host=example.net strategy=2 proto=http"},
		Assertions:  []Assertion{{Type: AssertUnlocked, Host: "example.net", Protocol: protocol.HTTP}},
	}
	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass)
	assert.Equal(t, 1, result.Stats.DroppedLocks)
	assert.Equal(t, 1, result.Stats.Events[event.KindLock])
	assert.Empty(t, result.Locks)
}

func TestRun_SetupLocksAreNotTraced(t *testing.T) {
	scenario := &Scenario{
		Name:        "setup",
		Description: "operator lock then engine unlock",
		Setup:       Setup{Locks: []LockStep{{Host: "cdn.example", Protocol: protocol.HTTP, Strategy: 4}}},
		Lines:       []string{"UNLOCK host=cdn.example proto=http"},
		Assertions:  []Assertion{{Type: AssertUnlocked, Host: "cdn.example", Protocol: protocol.HTTP}},
	}
	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	require.True(t, result.Pass, strings.Join(result.Errors, "\n"))

	var types []string
	for _, ev := range result.Trace {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []string{TypeLine, TypeEvent, TypeUnlocked, TypeOutput}, types)
}

func TestRun_FailingAssertions(t *testing.T) {
	scenario := &Scenario{
		Name:        "failing",
		Description: "every assertion type failing",
		Lines:       []string{"[orchestra] SUCCESS host=example.com strategy=3 protocol=tls"},
		Assertions: []Assertion{
			{Type: AssertLocked, Host: "example.com", Protocol: protocol.TLS},
			{Type: AssertHistory, Host: "example.com", Strategy: 3, Successes: 2},
			{Type: AssertBest, Host: "example.com", Strategy: 7},
			{Type: AssertOutputContains, Text: "never printed"},
			{Type: AssertEventCount, Kind: event.KindSuccess, Count: 2},
		},
	}
	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 5)
	assert.Contains(t, result.Errors[0], "Assertion failed: locked")
	assert.Contains(t, result.Errors[0], "no lock")
	assert.Contains(t, result.Errors[1], "successes=1 failures=0")
	assert.Contains(t, result.Errors[2], "strategy 3")
	assert.Contains(t, result.Errors[3], "none matching")
	assert.Contains(t, result.Errors[4], "Expected: 2 SUCCESS events")
	assert.Contains(t, result.Errors[4], "[1] [orchestra] SUCCESS host=example.com")
}

func TestRun_LockedWrongStrategy(t *testing.T) {
	scenario := &Scenario{
		Name:        "wrong",
		Description: "lock on another strategy",
		Lines:       []string{"LOCK host=example.com strategy=2 proto=tls"},
		Assertions:  []Assertion{{Type: AssertLocked, Host: "example.com", Protocol: protocol.TLS, Strategy: 3}},
	}
	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "Actual: strategy 2")
}

func TestRun_SetupFailure(t *testing.T) {
	scenario := &Scenario{
		Name:        "bad setup",
		Description: "operator lock on a disallowed strategy",
		Setup: Setup{
			Disallow: []DisallowStep{{Host: "example.com", Strategy: 2}},
			Locks:    []LockStep{{Host: "example.com", Protocol: protocol.TLS, Strategy: 2}},
		},
		Lines:      []string{"noise"},
		Assertions: []Assertion{{Type: AssertUnlocked, Host: "example.com", Protocol: protocol.TLS}},
	}
	_, err := Run(context.Background(), scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "locks[0]")
}

func writeScenario(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadScenario_ValidFile(t *testing.T) {
	path := writeScenario(t, `
name: valid
description: "valid scenario"
setup:
  locks:
    - { host: example.com, protocol: tls, strategy: 2 }
lines:
  - "UNLOCK host=example.com"
assertions:
  - type: unlocked
    host: example.com
    protocol: tls
`)
	scenario, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, "valid", scenario.Name)
	assert.Equal(t, []LockStep{{Host: "example.com", Protocol: protocol.TLS, Strategy: 2}}, scenario.Setup.Locks)
	assert.Len(t, scenario.Lines, 1)
	assert.Len(t, scenario.Assertions, 1)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario("/nonexistent/scenario.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenario_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		errMsg  string
	}{
		{
			name:    "unknown field",
			content: "name: x\ndescription: y\nline: [a]\nassertions: [{type: best, host: a}]\n",
			errMsg:  "failed to parse YAML",
		},
		{
			name:    "missing name",
			content: "description: y\nlines: [a]\nassertions: [{type: best, host: a}]\n",
			errMsg:  "name is required",
		},
		{
			name:    "missing description",
			content: "name: x\nlines: [a]\nassertions: [{type: best, host: a}]\n",
			errMsg:  "description is required",
		},
		{
			name:    "no lines",
			content: "name: x\ndescription: y\nassertions: [{type: best, host: a}]\n",
			errMsg:  "lines list is required",
		},
		{
			name:    "no assertions",
			content: "name: x\ndescription: y\nlines: [a]\n",
			errMsg:  "assertions list is required",
		},
		{
			name:    "unknown assertion",
			content: "name: x\ndescription: y\nlines: [a]\nassertions: [{type: trace_order}]\n",
			errMsg:  `unknown assertion type "trace_order"`,
		},
		{
			name:    "locked without protocol",
			content: "name: x\ndescription: y\nlines: [a]\nassertions: [{type: locked, host: a}]\n",
			errMsg:  "host and protocol are required for locked",
		},
		{
			name:    "bad setup lock",
			content: "name: x\ndescription: y\nsetup: {locks: [{host: a, protocol: ftp, strategy: 1}]}\nlines: [a]\nassertions: [{type: best, host: a}]\n",
			errMsg:  "setup.locks[0]",
		},
		{
			name:    "negative count",
			content: "name: x\ndescription: y\nlines: [a]\nassertions: [{type: event_count, kind: LOCK, count: -1}]\n",
			errMsg:  "count must be non-negative",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadScenario(writeScenario(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestDiscover(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.yaml", "a.yml", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}

	paths, err := Discover(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.yml"), filepath.Join(dir, "b.yaml")}, paths)

	single, err := Discover(filepath.Join(dir, "b.yaml"))
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "b.yaml")}, single)

	_, err = Discover(filepath.Join(dir, "missing"))
	require.Error(t, err)
}
