package upload

import (
	"bytes"
	"context"
	"testing"
	"time"

	"coursedeck/internal/testsupport/redisstub"
)

func newStubRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	srv, err := redisstub.Start(redisstub.Options{})
	if err != nil {
		t.Fatalf("start redis stub: %v", err)
	}
	t.Cleanup(func() {
		_ = srv.Close()
	})
	store, err := NewRedisStore(RedisStoreConfig{
		Addr:      srv.Addr(),
		KeyPrefix: "test:upload:",
		TTL:       time.Minute,
	})
	if err != nil {
		t.Fatalf("NewRedisStore error: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

func TestRedisStorePutCountsDistinctChunks(t *testing.T) {
	store := newStubRedisStore(t)
	ctx := context.Background()

	stored, count, err := store.Put(ctx, "session-1", 0, []byte("first"))
	if err != nil {
		t.Fatalf("Put error: %v", err)
	}
	if !stored || count != 1 {
		t.Fatalf("Put = (%v, %d), want (true, 1)", stored, count)
	}

	// A retransmitted chunk must not count twice.
	stored, count, err = store.Put(ctx, "session-1", 0, []byte("first"))
	if err != nil {
		t.Fatalf("duplicate Put error: %v", err)
	}
	if stored || count != 1 {
		t.Fatalf("duplicate Put = (%v, %d), want (false, 1)", stored, count)
	}

	stored, count, err = store.Put(ctx, "session-1", 1, []byte("second"))
	if err != nil {
		t.Fatalf("second Put error: %v", err)
	}
	if !stored || count != 2 {
		t.Fatalf("second Put = (%v, %d), want (true, 2)", stored, count)
	}
}

func TestRedisStoreTakeIsExclusive(t *testing.T) {
	store := newStubRedisStore(t)
	ctx := context.Background()

	if _, _, err := store.Put(ctx, "session-take", 0, []byte("aaa")); err != nil {
		t.Fatalf("Put error: %v", err)
	}
	if _, _, err := store.Put(ctx, "session-take", 1, []byte("bbb")); err != nil {
		t.Fatalf("Put error: %v", err)
	}

	chunks, ok, err := store.Take(ctx, "session-take")
	if err != nil {
		t.Fatalf("Take error: %v", err)
	}
	if !ok {
		t.Fatal("first Take should win the session")
	}
	if len(chunks) != 2 {
		t.Fatalf("chunk count = %d, want 2", len(chunks))
	}
	if !bytes.Equal(chunks[0], []byte("aaa")) || !bytes.Equal(chunks[1], []byte("bbb")) {
		t.Fatalf("chunks = %q / %q, want %q / %q", chunks[0], chunks[1], "aaa", "bbb")
	}

	// The losing caller sees the session already claimed.
	chunks, ok, err = store.Take(ctx, "session-take")
	if err != nil {
		t.Fatalf("second Take error: %v", err)
	}
	if ok {
		t.Fatalf("second Take should lose, got chunks %v", chunks)
	}
}

func TestRedisStoreDiscardRemovesSession(t *testing.T) {
	store := newStubRedisStore(t)
	ctx := context.Background()

	if _, _, err := store.Put(ctx, "session-discard", 0, []byte("x")); err != nil {
		t.Fatalf("Put error: %v", err)
	}
	if err := store.Discard(ctx, "session-discard"); err != nil {
		t.Fatalf("Discard error: %v", err)
	}
	if _, ok, err := store.Take(ctx, "session-discard"); err != nil || ok {
		t.Fatalf("Take after discard = (ok=%v, err=%v), want (false, nil)", ok, err)
	}

	// Discarding an unknown session is not an error.
	if err := store.Discard(ctx, "session-missing"); err != nil {
		t.Fatalf("Discard of missing session error: %v", err)
	}
}
