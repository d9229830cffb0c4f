package whitelist

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/autolock/internal/notify"
	"github.com/roach88/autolock/internal/testutil"
)

func TestDefaultsPresent(t *testing.T) {
	s := New(testutil.OpenStore(t))
	s.Load(context.Background())

	assert.True(t, s.Contains("localhost"))
	assert.True(t, s.Contains("www.gosuslugi.ru"))
	assert.False(t, s.Contains("example.com"))
}

func TestAddRemove(t *testing.T) {
	rec := &notify.Recorder{}
	s := New(testutil.OpenStore(t), WithObserver(rec))
	ctx := context.Background()
	s.Load(ctx)

	added, err := s.Add(ctx, "Corp.Example.")
	require.NoError(t, err)
	assert.True(t, added)
	assert.True(t, s.Contains("vpn.corp.example"))

	added, err = s.Add(ctx, "corp.example")
	require.NoError(t, err)
	assert.False(t, added)

	removed, err := s.Remove(ctx, "corp.example")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.False(t, s.Contains("vpn.corp.example"))

	assert.Equal(t, []string{"whitelist: corp.example added", "whitelist: corp.example removed"}, rec.Lines())
}

func TestRemoveDefaultRefused(t *testing.T) {
	s := New(testutil.OpenStore(t))
	s.Load(context.Background())

	removed, err := s.Remove(context.Background(), "localhost")
	assert.ErrorIs(t, err, ErrDefault)
	assert.False(t, removed)
	assert.True(t, s.Contains("localhost"))
}

func TestPersistsOnlyUserEntries(t *testing.T) {
	kv := testutil.OpenStore(t)
	ctx := context.Background()

	s1 := New(kv)
	s1.Load(ctx)
	_, err := s1.Add(ctx, "corp.example")
	require.NoError(t, err)
	_, err = s1.Add(ctx, "localhost")
	require.NoError(t, err)

	entries, err := kv.List(ctx, Namespace)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "corp.example", entries[0].Key)

	s2 := New(kv)
	s2.Load(ctx)
	assert.Equal(t, s1.Entries(), s2.Entries())
}

func TestEntriesSortedAndFlagged(t *testing.T) {
	s := New(testutil.OpenStore(t))
	ctx := context.Background()
	s.Load(ctx)
	_, err := s.Add(ctx, "aaa.example")
	require.NoError(t, err)

	entries := s.Entries()
	require.NotEmpty(t, entries)
	assert.Equal(t, Entry{Domain: "aaa.example"}, entries[0])
	for i := 1; i < len(entries); i++ {
		assert.Less(t, entries[i-1].Domain, entries[i].Domain)
	}
	assert.Len(t, s.Domains(), len(entries))
}

func TestLoad_ReadFailureKeepsDefaults(t *testing.T) {
	kv := testutil.NewFaultyKV(testutil.OpenStore(t))
	s := New(kv)
	ctx := context.Background()
	_, err := s.Add(ctx, "corp.example")
	require.NoError(t, err)

	kv.FailReads(true)
	s.Load(ctx)
	assert.False(t, s.Contains("corp.example"))
	assert.True(t, s.Contains("localhost"))
}

func TestClear(t *testing.T) {
	s := New(testutil.OpenStore(t))
	ctx := context.Background()
	s.Load(ctx)
	_, err := s.Add(ctx, "corp.example")
	require.NoError(t, err)

	require.NoError(t, s.Clear(ctx))
	assert.False(t, s.Contains("corp.example"))
	assert.True(t, s.Contains("localhost"))
}
