// Package store provides SQLite-backed durable storage for learned strategy
// state.
//
// The store is a flat key/value table scoped by hierarchical namespaces:
//
//   - autolock/locks/{tls,http,udp}: host → committed strategy
//   - autolock/history/<host>: strategy → success/failure counters
//   - autolock/disallow: host → user-disallowed strategies
//   - autolock/whitelist: user whitelist domains
//   - autolock/meta: bookkeeping such as the template fingerprint
//
// List and DeleteAll take a namespace prefix and cover the namespace itself
// and every namespace below it.
//
// # Ordering
//
// Every row carries a seq assigned on first insert and preserved on update.
// All listings use ORDER BY seq ASC, key ASC so callers see entries in
// first-seen order regardless of how often they were rewritten.
//
// # Database Configuration
//
//   - WAL mode and synchronous=NORMAL for file databases
//   - busy_timeout=5000 so an operator command waits out a session's write
//   - one connection per Store; MemoryPath gives each Open its own database
//
// The schema is versioned with PRAGMA user_version; Open applies every
// pending migration.
//
// Values are opaque bytes; Marshal and Unmarshal encode them as
// deterministic CBOR.
package store
