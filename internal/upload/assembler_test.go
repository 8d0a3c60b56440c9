package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func submitChunk(t *testing.T, a *Assembler, sessionID string, index, total int, data []byte) Result {
	t.Helper()
	res, err := a.Submit(context.Background(), Chunk{
		SessionID:      sessionID,
		Index:          index,
		Total:          total,
		Name:           "lesson.mp4",
		DeclaredLength: int64(len(data)),
		Data:           data,
	})
	if err != nil {
		t.Fatalf("submit chunk %d/%d: %v", index, total, err)
	}
	return res
}

func TestAssemblerSingleChunk(t *testing.T) {
	a := NewAssembler(NewMemoryStore(time.Minute), Options{})
	res := submitChunk(t, a, "sess-1", 0, 1, []byte("payload"))
	if res.State != Completed {
		t.Fatalf("state = %v, want Completed", res.State)
	}
	if !bytes.Equal(res.Data, []byte("payload")) {
		t.Fatalf("data = %q, want %q", res.Data, "payload")
	}
	if res.Name != "lesson.mp4" {
		t.Fatalf("name = %q", res.Name)
	}
}

func TestAssemblerOutOfOrderChunks(t *testing.T) {
	a := NewAssembler(NewMemoryStore(time.Minute), Options{})
	parts := [][]byte{[]byte("aa"), []byte("bb"), []byte("cc"), []byte("dd"), []byte("ee")}
	order := []int{3, 0, 4, 2, 1}

	var final Result
	for i, idx := range order {
		res := submitChunk(t, a, "sess-2", idx, len(parts), parts[idx])
		if i < len(order)-1 {
			if res.State != Continuing {
				t.Fatalf("chunk %d: state = %v, want Continuing", idx, res.State)
			}
			if res.Received != i+1 {
				t.Fatalf("chunk %d: received = %d, want %d", idx, res.Received, i+1)
			}
		} else {
			final = res
		}
	}
	if final.State != Completed {
		t.Fatalf("state = %v, want Completed", final.State)
	}
	if want := []byte("aabbccddee"); !bytes.Equal(final.Data, want) {
		t.Fatalf("data = %q, want %q", final.Data, want)
	}
}

func TestAssemblerDuplicateChunkDoesNotComplete(t *testing.T) {
	a := NewAssembler(NewMemoryStore(time.Minute), Options{})
	if res := submitChunk(t, a, "sess-3", 0, 2, []byte("aa")); res.State != Continuing {
		t.Fatalf("first chunk: state = %v", res.State)
	}
	res := submitChunk(t, a, "sess-3", 0, 2, []byte("aa"))
	if res.State != Continuing {
		t.Fatalf("duplicate chunk: state = %v, want Continuing", res.State)
	}
	if res.Received != 1 {
		t.Fatalf("duplicate chunk: received = %d, want 1", res.Received)
	}
	final := submitChunk(t, a, "sess-3", 1, 2, []byte("bb"))
	if final.State != Completed {
		t.Fatalf("final chunk: state = %v, want Completed", final.State)
	}
	if want := []byte("aabb"); !bytes.Equal(final.Data, want) {
		t.Fatalf("data = %q, want %q", final.Data, want)
	}
}

func TestAssemblerRejectsBadChunks(t *testing.T) {
	a := NewAssembler(NewMemoryStore(time.Minute), Options{MaxChunkBytes: 8, MaxChunks: 4})
	cases := []struct {
		name  string
		chunk Chunk
	}{
		{"missing session", Chunk{Index: 0, Total: 1, DeclaredLength: 1, Data: []byte("x")}},
		{"zero total", Chunk{SessionID: "s", Index: 0, Total: 0, DeclaredLength: 1, Data: []byte("x")}},
		{"index at total", Chunk{SessionID: "s", Index: 1, Total: 1, DeclaredLength: 1, Data: []byte("x")}},
		{"negative index", Chunk{SessionID: "s", Index: -1, Total: 1, DeclaredLength: 1, Data: []byte("x")}},
		{"empty payload", Chunk{SessionID: "s", Index: 0, Total: 1, DeclaredLength: 0}},
		{"length mismatch", Chunk{SessionID: "s", Index: 0, Total: 1, DeclaredLength: 3, Data: []byte("x")}},
		{"too many chunks", Chunk{SessionID: "s", Index: 0, Total: 5, DeclaredLength: 1, Data: []byte("x")}},
		{"oversized chunk", Chunk{SessionID: "s", Index: 0, Total: 1, DeclaredLength: 9, Data: []byte("123456789")}},
	}
	for _, tc := range cases {
		if _, err := a.Submit(context.Background(), tc.chunk); !errors.Is(err, ErrInvalidChunk) {
			t.Fatalf("%s: got %v, want ErrInvalidChunk", tc.name, err)
		}
	}
}

func TestAssemblerContentLengthMismatchEvictsSession(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	a := NewAssembler(store, Options{})
	_, err := a.Submit(context.Background(), Chunk{
		SessionID:      "sess-4",
		Index:          0,
		Total:          1,
		DeclaredLength: 2,
		ContentLength:  5,
		Data:           []byte("ab"),
	})
	if !errors.Is(err, ErrInvalidChunk) {
		t.Fatalf("got %v, want ErrInvalidChunk", err)
	}
	if _, ok, _ := store.Take(context.Background(), "sess-4"); ok {
		t.Fatal("session survived a failed assembly")
	}
}

func TestAssemblerConcurrentSessions(t *testing.T) {
	a := NewAssembler(NewMemoryStore(time.Minute), Options{})
	done := make(chan error, 8)
	for g := 0; g < 8; g++ {
		go func(g int) {
			session := fmt.Sprintf("sess-%d", g)
			want := make([]byte, 0, 3)
			for i := 0; i < 3; i++ {
				want = append(want, byte('a'+g), byte('0'+i))
			}
			var final Result
			for i := 0; i < 3; i++ {
				data := want[i*2 : i*2+2]
				res, err := a.Submit(context.Background(), Chunk{
					SessionID:      session,
					Index:          i,
					Total:          3,
					DeclaredLength: int64(len(data)),
					Data:           data,
				})
				if err != nil {
					done <- err
					return
				}
				final = res
			}
			if final.State != Completed {
				done <- fmt.Errorf("%s: state = %v", session, final.State)
				return
			}
			if !bytes.Equal(final.Data, want) {
				done <- fmt.Errorf("%s: data = %q, want %q", session, final.Data, want)
				return
			}
			done <- nil
		}(g)
	}
	for g := 0; g < 8; g++ {
		if err := <-done; err != nil {
			t.Fatal(err)
		}
	}
}

func TestMemoryStoreTakeIsExclusive(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	ctx := context.Background()
	if _, _, err := store.Put(ctx, "sess", 0, []byte("x")); err != nil {
		t.Fatalf("put: %v", err)
	}
	chunks, ok, err := store.Take(ctx, "sess")
	if err != nil || !ok {
		t.Fatalf("first take: ok=%v err=%v", ok, err)
	}
	if !bytes.Equal(chunks[0], []byte("x")) {
		t.Fatalf("chunk 0 = %q", chunks[0])
	}
	if _, ok, _ := store.Take(ctx, "sess"); ok {
		t.Fatal("second take succeeded")
	}
}

func TestMemoryStorePurgeExpired(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	base := time.Unix(1700000000, 0)
	store.now = func() time.Time { return base }
	ctx := context.Background()

	if _, _, err := store.Put(ctx, "stale", 0, []byte("x")); err != nil {
		t.Fatalf("put stale: %v", err)
	}
	store.now = func() time.Time { return base.Add(30 * time.Second) }
	if _, _, err := store.Put(ctx, "fresh", 0, []byte("y")); err != nil {
		t.Fatalf("put fresh: %v", err)
	}

	removed := store.PurgeExpired(base.Add(70 * time.Second))
	if removed != 1 {
		t.Fatalf("purged %d sessions, want 1", removed)
	}
	if _, ok, _ := store.Take(ctx, "stale"); ok {
		t.Fatal("stale session survived the purge")
	}
	if _, ok, _ := store.Take(ctx, "fresh"); !ok {
		t.Fatal("fresh session was purged")
	}
}

func TestMemoryStorePutRestartsExpiredSession(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	base := time.Unix(1700000000, 0)
	store.now = func() time.Time { return base }
	ctx := context.Background()

	if _, count, _ := store.Put(ctx, "sess", 0, []byte("x")); count != 1 {
		t.Fatalf("count = %d, want 1", count)
	}
	store.now = func() time.Time { return base.Add(2 * time.Minute) }
	stored, count, err := store.Put(ctx, "sess", 1, []byte("y"))
	if err != nil {
		t.Fatalf("put after expiry: %v", err)
	}
	if !stored || count != 1 {
		t.Fatalf("stored=%v count=%d, want stored into a fresh session", stored, count)
	}
}
