package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("key not found")

// KV is the persistence surface the stores depend on. *Store implements it.
type KV interface {
	// Get returns the value stored under (namespace, key) or ErrNotFound.
	Get(ctx context.Context, namespace, key string) ([]byte, error)

	// Put inserts or replaces a value. Replacing keeps the original seq.
	Put(ctx context.Context, namespace, key string, value []byte) error

	// Delete removes one key. Deleting a missing key is not an error.
	Delete(ctx context.Context, namespace, key string) error

	// List returns every entry in prefix and in namespaces below it,
	// ordered by first insertion.
	List(ctx context.Context, prefix string) ([]Entry, error)

	// DeleteAll removes every entry List(prefix) would return.
	DeleteAll(ctx context.Context, prefix string) error
}

// Entry is one stored key/value pair.
type Entry struct {
	Namespace string
	Key       string
	Value     []byte
	Seq       int64
}

// EntryKey identifies one entry.
type EntryKey struct {
	Namespace string
	Key       string
}

// Retain deletes every entry in prefix, and below it, that keep does not
// name. Callers write the entries they keep first, so a failure part way
// leaves a superset of the wanted state on disk.
func Retain(ctx context.Context, kv KV, prefix string, keep map[EntryKey]bool) error {
	entries, err := kv.List(ctx, prefix)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if keep[EntryKey{Namespace: e.Namespace, Key: e.Key}] {
			continue
		}
		if err := kv.Delete(ctx, e.Namespace, e.Key); err != nil {
			return err
		}
	}
	return nil
}

// Join builds a namespace path from its segments.
func Join(segments ...string) string {
	return strings.Join(segments, "/")
}

// Get implements KV.
func (s *Store) Get(ctx context.Context, namespace, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT value FROM kv WHERE namespace = ? AND key = ?
	`, namespace, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", namespace, key, err)
	}
	return value, nil
}

// Put implements KV.
//
// Uses ON CONFLICT DO UPDATE so a rewritten key keeps its first-seen seq.
func (s *Store) Put(ctx context.Context, namespace, key string, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (namespace, key, value, seq)
		VALUES (?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM kv))
		ON CONFLICT(namespace, key) DO UPDATE SET value = excluded.value
	`, namespace, key, value)
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", namespace, key, err)
	}
	return nil
}

// Delete implements KV.
func (s *Store) Delete(ctx context.Context, namespace, key string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM kv WHERE namespace = ? AND key = ?
	`, namespace, key)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", namespace, key, err)
	}
	return nil
}

// List implements KV.
func (s *Store) List(ctx context.Context, prefix string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT namespace, key, value, seq
		FROM kv
		WHERE namespace = ? OR namespace LIKE ? ESCAPE '\'
		ORDER BY seq ASC, key COLLATE BINARY ASC
	`, prefix, likeChildren(prefix))
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Namespace, &e.Key, &e.Value, &e.Seq); err != nil {
			return nil, fmt.Errorf("scan %s: %w", prefix, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", prefix, err)
	}
	return entries, nil
}

// DeleteAll implements KV.
func (s *Store) DeleteAll(ctx context.Context, prefix string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM kv WHERE namespace = ? OR namespace LIKE ? ESCAPE '\'
	`, prefix, likeChildren(prefix))
	if err != nil {
		return fmt.Errorf("delete all %s: %w", prefix, err)
	}
	return nil
}

// likeChildren builds a LIKE pattern matching namespaces strictly below
// prefix. Host names may contain '_', which LIKE treats as a wildcard.
func likeChildren(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(prefix) + "/%"
}
