package testutil

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/roach88/autolock/internal/store"
)

// ErrInjected is the error FaultyKV returns for failed operations.
var ErrInjected = errors.New("injected store failure")

// OpenStore opens a SQLite store in a temp dir and closes it on cleanup.
func OpenStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("store.Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// FaultyKV wraps a KV and fails reads or writes on demand.
//
// Thread-safety: the failure switches are atomic and may be flipped while
// another goroutine is using the store.
type FaultyKV struct {
	store.KV

	failReads  atomic.Bool
	failWrites atomic.Bool
}

// NewFaultyKV wraps kv with both failure switches off.
func NewFaultyKV(kv store.KV) *FaultyKV {
	return &FaultyKV{KV: kv}
}

// FailReads toggles failure of Get and List.
func (f *FaultyKV) FailReads(fail bool) { f.failReads.Store(fail) }

// FailWrites toggles failure of Put, Delete and DeleteAll.
func (f *FaultyKV) FailWrites(fail bool) { f.failWrites.Store(fail) }

func (f *FaultyKV) Get(ctx context.Context, namespace, key string) ([]byte, error) {
	if f.failReads.Load() {
		return nil, ErrInjected
	}
	return f.KV.Get(ctx, namespace, key)
}

func (f *FaultyKV) List(ctx context.Context, prefix string) ([]store.Entry, error) {
	if f.failReads.Load() {
		return nil, ErrInjected
	}
	return f.KV.List(ctx, prefix)
}

func (f *FaultyKV) Put(ctx context.Context, namespace, key string, value []byte) error {
	if f.failWrites.Load() {
		return ErrInjected
	}
	return f.KV.Put(ctx, namespace, key, value)
}

func (f *FaultyKV) Delete(ctx context.Context, namespace, key string) error {
	if f.failWrites.Load() {
		return ErrInjected
	}
	return f.KV.Delete(ctx, namespace, key)
}

func (f *FaultyKV) DeleteAll(ctx context.Context, prefix string) error {
	if f.failWrites.Load() {
		return ErrInjected
	}
	return f.KV.DeleteAll(ctx, prefix)
}
