package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/autolock/internal/commit"
	"github.com/roach88/autolock/internal/event"
	"github.com/roach88/autolock/internal/protocol"
	"github.com/roach88/autolock/internal/sessionlog"
)

// writeEngine installs a shell script that prints lines and exits.
func writeEngine(t *testing.T, env *testEnv, lines ...string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell engine requires a POSIX shell")
	}
	var script strings.Builder
	script.WriteString("#!/bin/sh\n")
	for _, l := range lines {
		fmt.Fprintf(&script, "echo '%s'\n", l)
	}
	path := filepath.Join(env.dir, "engine.sh")
	require.NoError(t, os.WriteFile(path, []byte(script.String()), 0o755))
	env.writeConfig(fmt.Sprintf("engine:\n  path: '%s'\n  stop_grace: 200ms\n", path))
	return path
}

func TestRunLearnsFromEngine(t *testing.T) {
	env := newTestEnv(t)
	writeEngine(t, env,
		"LOCK: host=example.org strategy=2 proto=tls",
		"[orchestra] SUCCESS host=example.org strategy=2 protocol=tls",
	)

	out := env.mustExecute("run")
	assert.Contains(t, out, "lock: tls example.org -> strategy 2 (engine)")
	assert.Contains(t, out, "2 lines, 1 locks held")

	var locks []commit.LockEntry
	decodeData(t, env.mustExecute("--format", "json", "locks", "list"), &locks)
	assert.Equal(t, []commit.LockEntry{{Host: "example.org", Protocol: protocol.TLS, Strategy: 2}}, locks)

	var logs []sessionlog.Info
	decodeData(t, env.mustExecute("--format", "json", "logs", "list"), &logs)
	require.Len(t, logs, 1)
	data, err := os.ReadFile(logs[0].Path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "LOCK: host=example.org strategy=2 proto=tls")
}

func TestRunJSONSummary(t *testing.T) {
	env := newTestEnv(t)
	env.mustExecute("disallow", "add", "example.org", "3")
	writeEngine(t, env,
		"LOCK: host=example.org strategy=3 proto=tls",
		"[orchestra] FAIL host=example.org strategy=3 protocol=tls successes=0 total=1",
	)

	var summary RunSummary
	decodeData(t, env.mustExecute("--format", "json", "run"), &summary)
	assert.NotEmpty(t, summary.SessionID)
	assert.Equal(t, 2, summary.Lines)
	assert.Equal(t, 1, summary.DroppedLocks)
	assert.Equal(t, 0, summary.Locks)
	assert.Equal(t, 1, summary.Events[event.KindLock])
	assert.Equal(t, 1, summary.Events[event.KindFail])
}

func TestRunWithoutEngine(t *testing.T) {
	env := newTestEnv(t)

	_, _, err := env.execute("run")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "cannot start engine")
}

func TestRunWithoutTemplates(t *testing.T) {
	env := newTestEnv(t)
	writeEngine(t, env)
	require.NoError(t, os.RemoveAll(env.templatesDir))

	_, _, err := env.execute("run")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "no strategy templates")
}
