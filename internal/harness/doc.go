// Package harness replays recorded engine output against the learner and
// checks the resulting lock state.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: tls_autolock
//	description: "Three bare successes lock a TLS host"
//	setup:
//	  disallow:
//	    - { host: example.com, strategy: 2 }
//	  locks:
//	    - { host: cdn.example, protocol: http, strategy: 4 }
//	  history:
//	    - { host: cdn.example, strategy: 4, successes: 3, failures: 1 }
//	lines:
//	  - "[orchestra] SUCCESS host=example.com strategy=3 protocol=tls"
//	  - "LOCK: host=example.com strategy=3 proto=tls"
//	assertions:
//	  - type: locked
//	    host: example.com
//	    protocol: tls
//	    strategy: 3
//	  - type: event_count
//	    kind: SUCCESS
//	    count: 1
//
// # Assertion Types
//
//   - locked: the host holds a lock for the protocol, optionally on a given strategy
//   - unlocked: the host holds no lock for the protocol
//   - history: the host's counters for a strategy equal the given values
//   - output_contains: some output line contains the text
//   - event_count: the parser decoded exactly count events of kind
//   - best: the best candidate from history is the given strategy
//
// # Deterministic Testing
//
// Every scenario runs against a fresh in-memory SQLite store, so the trace
// depends only on the scenario file. RunWithGolden compares the trace with
// testdata/golden/<name>.golden; regenerate with
//
//	go test ./internal/harness -update
package harness
