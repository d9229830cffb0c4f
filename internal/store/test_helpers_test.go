package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// createTestStore opens an on-disk store under t.TempDir.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}
