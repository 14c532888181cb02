package cache

import (
	"context"
	"errors"
	"strings"
	"testing"
)

// Fuzz Set/Get/Delete semantics under arbitrary string inputs, including keys
// that hash anywhere on the ring.
func FuzzCache_SetGetDelete(f *testing.F) {
	f.Add("", "")
	f.Add("a", "1")
	f.Add("αβγ", "δ")
	f.Add("emoji🙂", "🙂🙂")
	f.Add("long", strings.Repeat("x", 1024))

	c, err := New(Options[string]{
		Nodes:             []NodeID{"a", "b", "c"},
		CapacityPerShard:  16,
		ShardsPerNode:     2,
		ReplicationFactor: 2,
		SweepInterval:     -1,
		HeartbeatInterval: -1,
	})
	if err != nil {
		f.Fatal(err)
	}
	f.Cleanup(func() { _ = c.Close() })
	ctx := context.Background()

	f.Fuzz(func(t *testing.T, k, v string) {
		const limit = 1 << 12
		if len(k) > limit {
			k = k[:limit]
		}
		if len(v) > limit {
			v = v[:limit]
		}

		if err := c.Set(ctx, k, v); err != nil {
			t.Fatalf("Set: %v", err)
		}
		got, err := c.Get(ctx, k)
		if err != nil || got != v {
			t.Fatalf("after Set/Get: want %q, got %q err=%v", v, got, err)
		}

		if err := c.Delete(ctx, k); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if _, err := c.Get(ctx, k); !errors.Is(err, ErrNotFound) {
			t.Fatalf("key must be absent after Delete, err=%v", err)
		}
		if err := c.Delete(ctx, k); !errors.Is(err, ErrNotFound) {
			t.Fatalf("second Delete: want ErrNotFound, got %v", err)
		}
	})
}
