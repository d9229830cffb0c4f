package harness

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/autolock/internal/commit"
)

// TraceSnapshot is the golden-file form of a replay.
type TraceSnapshot struct {
	ScenarioName string             `json:"scenario_name"`
	Trace        []TraceEvent       `json:"trace"`
	Locks        []commit.LockEntry `json:"locks"`
}

// MarshalSnapshot renders the snapshot of result as indented JSON with a
// trailing newline. Engine lines are kept verbatim, without HTML escaping.
func MarshalSnapshot(name string, result *Result) ([]byte, error) {
	locks := result.Locks
	if locks == nil {
		locks = []commit.LockEntry{}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(TraceSnapshot{
		ScenarioName: name,
		Trace:        result.Trace,
		Locks:        locks,
	}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// RunWithGolden replays scenario and compares its trace with
// testdata/golden/<name>.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), scenario)
	if err != nil {
		return nil, err
	}
	return result, AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an existing result with its golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := MarshalSnapshot(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}
