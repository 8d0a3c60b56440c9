// Package upload reassembles files that clients deliver as independent
// chunk requests. Each chunk carries its session id, its index, and the
// expected chunk count; the assembler parks chunks in a SessionStore until
// every index has arrived and then returns the concatenated payload exactly
// once.
package upload

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Chunk is one fragment of a chunked upload, already decoded from the
// transport headers by the caller.
type Chunk struct {
	SessionID string
	Index     int
	Total     int
	Name      string
	// DeclaredLength is the byte count the client announced for this
	// fragment. It must match len(Data).
	DeclaredLength int64
	// ContentLength is the announced size of the fully assembled file.
	// Zero means the client did not announce one.
	ContentLength int64
	Data          []byte
}

// State reports whether a session still waits for chunks or has produced
// its assembled payload.
type State int

const (
	Continuing State = iota
	Completed
)

// Result is the outcome of one accepted chunk.
type Result struct {
	State State
	// Received counts the distinct chunk indexes stored so far.
	Received int
	Name     string
	// Data holds the assembled file when State is Completed.
	Data []byte
}

var (
	// ErrInvalidChunk marks client mistakes: bad indexes, length
	// mismatches, or sessions whose chunks do not add up.
	ErrInvalidChunk = errors.New("invalid chunk")
	// ErrSessionConflict is returned when another request assembled and
	// claimed the session first.
	ErrSessionConflict = errors.New("upload session completed concurrently")
)

// SessionStore parks chunks for in-flight sessions. Put must be idempotent
// per (session, index): a duplicate index reports stored=false and leaves
// the count unchanged. Take removes the session and hands its chunks to
// exactly one caller.
type SessionStore interface {
	Put(ctx context.Context, sessionID string, index int, data []byte) (stored bool, count int, err error)
	Take(ctx context.Context, sessionID string) (map[int][]byte, bool, error)
	Discard(ctx context.Context, sessionID string) error
}

// Options bounds what the assembler accepts. Zero values select defaults.
type Options struct {
	MaxChunkBytes int64
	MaxChunks     int
}

const (
	defaultMaxChunkBytes = 32 << 20
	defaultMaxChunks     = 4096
)

// Assembler coordinates chunk submission for any number of concurrent
// sessions. Submissions for the same session are serialised so the
// completion check and the flush act on a consistent view.
type Assembler struct {
	store         SessionStore
	maxChunkBytes int64
	maxChunks     int

	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

func NewAssembler(store SessionStore, opts Options) *Assembler {
	if opts.MaxChunkBytes <= 0 {
		opts.MaxChunkBytes = defaultMaxChunkBytes
	}
	if opts.MaxChunks <= 0 {
		opts.MaxChunks = defaultMaxChunks
	}
	return &Assembler{
		store:         store,
		maxChunkBytes: opts.MaxChunkBytes,
		maxChunks:     opts.MaxChunks,
		locks:         make(map[string]*sessionLock),
	}
}

// Submit stores one chunk and reports whether the session is still filling
// or has completed. The final accepted chunk receives the assembled bytes;
// by then the session is gone from the store, so a retry of that request
// fails with ErrSessionConflict instead of producing a second copy.
func (a *Assembler) Submit(ctx context.Context, chunk Chunk) (Result, error) {
	if err := a.validate(chunk); err != nil {
		return Result{}, err
	}
	unlock := a.lockSession(chunk.SessionID)
	defer unlock()

	_, count, err := a.store.Put(ctx, chunk.SessionID, chunk.Index, chunk.Data)
	if err != nil {
		return Result{}, fmt.Errorf("store chunk: %w", err)
	}
	if count < chunk.Total {
		return Result{State: Continuing, Received: count, Name: chunk.Name}, nil
	}
	parts, ok, err := a.store.Take(ctx, chunk.SessionID)
	if err != nil {
		return Result{}, fmt.Errorf("collect chunks: %w", err)
	}
	if !ok {
		return Result{}, ErrSessionConflict
	}
	data, err := concat(parts, chunk.Total)
	if err != nil {
		return Result{}, err
	}
	if chunk.ContentLength > 0 && int64(len(data)) != chunk.ContentLength {
		return Result{}, fmt.Errorf("assembled %d bytes but %d were announced: %w", len(data), chunk.ContentLength, ErrInvalidChunk)
	}
	return Result{State: Completed, Received: chunk.Total, Name: chunk.Name, Data: data}, nil
}

func (a *Assembler) validate(chunk Chunk) error {
	if chunk.SessionID == "" {
		return fmt.Errorf("session id is required: %w", ErrInvalidChunk)
	}
	if chunk.Total < 1 {
		return fmt.Errorf("chunk count %d must be positive: %w", chunk.Total, ErrInvalidChunk)
	}
	if chunk.Total > a.maxChunks {
		return fmt.Errorf("chunk count %d exceeds the limit of %d: %w", chunk.Total, a.maxChunks, ErrInvalidChunk)
	}
	if chunk.Index < 0 || chunk.Index >= chunk.Total {
		return fmt.Errorf("chunk index %d is outside [0,%d): %w", chunk.Index, chunk.Total, ErrInvalidChunk)
	}
	if len(chunk.Data) == 0 {
		return fmt.Errorf("chunk payload is empty: %w", ErrInvalidChunk)
	}
	if int64(len(chunk.Data)) > a.maxChunkBytes {
		return fmt.Errorf("chunk of %d bytes exceeds the limit of %d: %w", len(chunk.Data), a.maxChunkBytes, ErrInvalidChunk)
	}
	if chunk.DeclaredLength != int64(len(chunk.Data)) {
		return fmt.Errorf("chunk carries %d bytes but %d were announced: %w", len(chunk.Data), chunk.DeclaredLength, ErrInvalidChunk)
	}
	return nil
}

func concat(parts map[int][]byte, total int) ([]byte, error) {
	size := 0
	for i := 0; i < total; i++ {
		part, ok := parts[i]
		if !ok {
			return nil, fmt.Errorf("chunk %d never arrived: %w", i, ErrInvalidChunk)
		}
		size += len(part)
	}
	buf := make([]byte, 0, size)
	for i := 0; i < total; i++ {
		buf = append(buf, parts[i]...)
	}
	return buf, nil
}

func (a *Assembler) lockSession(id string) func() {
	a.mu.Lock()
	l := a.locks[id]
	if l == nil {
		l = &sessionLock{}
		a.locks[id] = l
	}
	l.refs++
	a.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		a.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(a.locks, id)
		}
		a.mu.Unlock()
	}
}
