// Package blobtest holds the behavioural suite every blob backend must pass.
package blobtest

import (
	"bytes"
	"clinicflow/internal/blob/core"
	"context"
	"errors"
	"io"
	"testing"
)

// Run exercises put/get/head/list/delete semantics against store.
// The store must start empty.
func Run(t *testing.T, store core.Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("missing", func(t *testing.T) {
		if _, _, err := store.Get(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
			t.Fatalf("expected ErrNotFound from get, got %v", err)
		}
		if _, err := store.Head(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
			t.Fatalf("expected ErrNotFound from head, got %v", err)
		}
		if ok, err := store.Delete(ctx, "missing"); err != nil || ok {
			t.Fatalf("expected delete false, got %v %v", ok, err)
		}
	})

	t.Run("put overwrites", func(t *testing.T) {
		info, err := store.Put(ctx, "state", bytes.NewReader([]byte(`{"v":1}`)), core.PutOptions{ContentType: "application/json"})
		if err != nil {
			t.Fatalf("put: %v", err)
		}
		if info.Key != "state" || info.Size != 7 {
			t.Fatalf("unexpected info %+v", info)
		}
		if _, err := store.Put(ctx, "state", bytes.NewReader([]byte(`{"v":22}`)), core.PutOptions{ContentType: "application/json"}); err != nil {
			t.Fatalf("overwrite: %v", err)
		}
		b, err := core.ReadAll(ctx, store, "state")
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if string(b) != `{"v":22}` {
			t.Fatalf("expected overwritten value, got %q", b)
		}
		head, err := store.Head(ctx, "state")
		if err != nil {
			t.Fatalf("head: %v", err)
		}
		if head.Size != int64(len(b)) {
			t.Fatalf("head size %d, want %d", head.Size, len(b))
		}
	})

	t.Run("list and delete", func(t *testing.T) {
		if _, err := store.Put(ctx, "other", bytes.NewReader([]byte("x")), core.PutOptions{}); err != nil {
			t.Fatalf("put other: %v", err)
		}
		all, err := store.List(ctx, "")
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(all) != 2 || all[0].Key != "other" || all[1].Key != "state" {
			t.Fatalf("unexpected list %+v", all)
		}
		some, err := store.List(ctx, "st")
		if err != nil || len(some) != 1 {
			t.Fatalf("prefix list: %v %+v", err, some)
		}
		ok, err := store.Delete(ctx, "state")
		if err != nil || !ok {
			t.Fatalf("delete: %v %v", ok, err)
		}
		if _, rc, err := store.Get(ctx, "state"); !errors.Is(err, core.ErrNotFound) {
			if rc != nil {
				_, _ = io.Copy(io.Discard, rc)
				_ = rc.Close()
			}
			t.Fatalf("expected deleted key to be missing, got %v", err)
		}
		if _, err := store.Delete(ctx, "other"); err != nil {
			t.Fatalf("cleanup: %v", err)
		}
	})
}
