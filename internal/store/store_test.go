package store

import (
	"context"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_CreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	assert.FileExists(t, path)
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := Open("/nonexistent/dir/state.db")
	require.Error(t, err)
}

func TestClose_NilDB(t *testing.T) {
	s := &Store{}
	assert.NoError(t, s.Close())
}

func TestOpen_FilePragmas(t *testing.T) {
	s := createTestStore(t)

	tests := map[string]string{
		"journal_mode": "wal",
		"busy_timeout": "5000",
		"synchronous":  "1", // NORMAL
	}
	for name, want := range tests {
		t.Run(name, func(t *testing.T) {
			got, err := s.pragma(name)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestOpen_MemoryIsPrivate(t *testing.T) {
	ctx := context.Background()

	a, err := Open(MemoryPath)
	require.NoError(t, err)
	defer a.Close()
	b, err := Open(MemoryPath)
	require.NoError(t, err)
	defer b.Close()

	mode, err := a.pragma("journal_mode")
	require.NoError(t, err)
	assert.Equal(t, "memory", mode)

	require.NoError(t, a.Put(ctx, "autolock/meta", "k", []byte("v")))
	_, err = b.Get(ctx, "autolock/meta", "k")
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := a.Get(ctx, "autolock/meta", "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)
}

func TestMigrate_FullyMigrated(t *testing.T) {
	s := createTestStore(t)

	version, err := s.pragma("user_version")
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(SchemaVersion), version)

	for _, index := range []string{"idx_kv_seq", "idx_kv_namespace_seq"} {
		var name string
		err := s.db.QueryRow("SELECT name FROM sqlite_master WHERE type='index' AND name=?", index).Scan(&name)
		assert.NoError(t, err, "index %s missing", index)
	}
}

func TestMigrate_UpgradesOldDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	ctx := context.Background()

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, "autolock/locks/tls", "example.com", []byte{0x02}))
	// Pretend the database predates every migration.
	_, err = s.db.Exec("DROP INDEX idx_kv_namespace_seq")
	require.NoError(t, err)
	_, err = s.db.Exec("PRAGMA user_version = 0")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	version, err := s.pragma("user_version")
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(SchemaVersion), version)

	got, err := s.Get(ctx, "autolock/locks/tls", "example.com")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x02}, got)
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	for i := 0; i < 3; i++ {
		s, err := Open(path)
		require.NoError(t, err, "open %d", i)
		require.NoError(t, s.Close())
	}
}
