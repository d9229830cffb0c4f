package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/roach88/autolock/internal/event"
	"github.com/roach88/autolock/internal/protocol"
)

// Scenario is one replay test.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Setup seeds the stores before the first line is replayed.
	Setup Setup `yaml:"setup,omitempty"`

	// Lines is the engine output, replayed in order.
	Lines []string `yaml:"lines"`

	// Assertions validate the final state and the trace.
	Assertions []Assertion `yaml:"assertions"`
}

// Setup is the state the stores start from.
type Setup struct {
	Disallow []DisallowStep `yaml:"disallow,omitempty"`
	Locks    []LockStep     `yaml:"locks,omitempty"`
	History  []HistoryStep  `yaml:"history,omitempty"`
}

// DisallowStep blocks one (host, strategy) pair.
type DisallowStep struct {
	Host     string `yaml:"host"`
	Strategy int    `yaml:"strategy"`
}

// LockStep commits one lock as the operator would.
type LockStep struct {
	Host     string            `yaml:"host"`
	Protocol protocol.Protocol `yaml:"protocol"`
	Strategy int               `yaml:"strategy"`
}

// HistoryStep merges counters into the history.
type HistoryStep struct {
	Host      string `yaml:"host"`
	Strategy  int    `yaml:"strategy"`
	Successes int    `yaml:"successes"`
	Failures  int    `yaml:"failures"`
}

// Assertion validates the replay outcome. Which fields apply depends on
// Type; see the package documentation.
type Assertion struct {
	Type      string            `yaml:"type"`
	Host      string            `yaml:"host,omitempty"`
	Protocol  protocol.Protocol `yaml:"protocol,omitempty"`
	Strategy  int               `yaml:"strategy,omitempty"`
	Successes int               `yaml:"successes,omitempty"`
	Failures  int               `yaml:"failures,omitempty"`
	Text      string            `yaml:"text,omitempty"`
	Kind      event.Kind        `yaml:"kind,omitempty"`
	Count     int               `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertLocked         = "locked"
	AssertUnlocked       = "unlocked"
	AssertHistory        = "history"
	AssertOutputContains = "output_contains"
	AssertEventCount     = "event_count"
	AssertBest           = "best"
)

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected so a typo cannot silently disable an assertion.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// Discover returns the scenario files under path. A file path is returned
// as is; a directory yields its *.yaml and *.yml files sorted by name.
func Discover(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("scenario path: %w", err)
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	var out []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		matches, err := filepath.Glob(filepath.Join(path, pattern))
		if err != nil {
			return nil, err
		}
		out = append(out, matches...)
	}
	sort.Strings(out)
	return out, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Lines) == 0 {
		return fmt.Errorf("lines list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Setup.Disallow {
		if step.Host == "" || step.Strategy < 1 {
			return fmt.Errorf("setup.disallow[%d]: host and a positive strategy are required", i)
		}
	}
	for i, step := range s.Setup.Locks {
		if step.Host == "" || step.Strategy < 1 || !step.Protocol.Valid() {
			return fmt.Errorf("setup.locks[%d]: host, protocol and a positive strategy are required", i)
		}
	}
	for i, step := range s.Setup.History {
		if step.Host == "" || step.Strategy < 1 {
			return fmt.Errorf("setup.history[%d]: host and a positive strategy are required", i)
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, a); err != nil {
			return err
		}
	}
	return nil
}

func validateAssertion(index int, a Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertLocked, AssertUnlocked:
		if a.Host == "" || !a.Protocol.Valid() {
			return fmt.Errorf("assertions[%d]: host and protocol are required for %s", index, a.Type)
		}
	case AssertHistory:
		if a.Host == "" || a.Strategy < 1 {
			return fmt.Errorf("assertions[%d]: host and strategy are required for history", index)
		}
	case AssertBest:
		if a.Host == "" {
			return fmt.Errorf("assertions[%d]: host is required for best", index)
		}
	case AssertOutputContains:
		if a.Text == "" {
			return fmt.Errorf("assertions[%d]: text is required for output_contains", index)
		}
	case AssertEventCount:
		if a.Kind == "" {
			return fmt.Errorf("assertions[%d]: kind is required for event_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for event_count", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
