package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

type memoryBucketServer struct {
	mu      sync.Mutex
	bucket  string
	objects map[string][]byte
	lastReq struct {
		Method        string
		Authorization string
		ContentSHA    string
	}
}

func newMemoryBucketServer(bucket string) *memoryBucketServer {
	return &memoryBucketServer{bucket: bucket, objects: make(map[string][]byte)}
}

func (m *memoryBucketServer) key(path string) (string, bool) {
	prefix := "/" + m.bucket + "/"
	if !strings.HasPrefix(path, prefix) {
		return "", false
	}
	return strings.TrimPrefix(path, prefix), true
}

func (m *memoryBucketServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer func() {
		_ = r.Body.Close()
	}()
	m.mu.Lock()
	m.lastReq.Method = r.Method
	m.lastReq.Authorization = r.Header.Get("Authorization")
	m.lastReq.ContentSHA = r.Header.Get("x-amz-content-sha256")
	m.mu.Unlock()

	key, ok := m.key(r.URL.Path)
	if !ok {
		http.Error(w, "unknown bucket", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodPut:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		m.mu.Lock()
		m.objects[key] = body
		m.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	case http.MethodGet, http.MethodHead:
		m.mu.Lock()
		data, exists := m.objects[key]
		m.mu.Unlock()
		if !exists {
			http.Error(w, "no such key", http.StatusNotFound)
			return
		}
		rangeHeader := r.Header.Get("Range")
		if rangeHeader == "" {
			w.Header().Set("Content-Type", "application/octet-stream")
			w.Header().Set("Content-Length", strconv.Itoa(len(data)))
			w.WriteHeader(http.StatusOK)
			if r.Method == http.MethodGet {
				_, _ = w.Write(data)
			}
			return
		}
		spec := strings.TrimPrefix(rangeHeader, "bytes=")
		parts := strings.SplitN(spec, "-", 2)
		start, _ := strconv.Atoi(parts[0])
		end := len(data) - 1
		if len(parts) == 2 && parts[1] != "" {
			end, _ = strconv.Atoi(parts[1])
		}
		if start < 0 || start > end || end >= len(data) {
			http.Error(w, "bad range", http.StatusRequestedRangeNotSatisfiable)
			return
		}
		chunk := data[start : end+1]
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, len(data)))
		w.Header().Set("Content-Length", strconv.Itoa(len(chunk)))
		w.WriteHeader(http.StatusPartialContent)
		if r.Method == http.MethodGet {
			_, _ = w.Write(chunk)
		}
	case http.MethodDelete:
		m.mu.Lock()
		delete(m.objects, key)
		m.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "unsupported", http.StatusMethodNotAllowed)
	}
}

func newTestObjectStore(t *testing.T) (*memoryBucketServer, ObjectStore) {
	t.Helper()
	backend := newMemoryBucketServer("media")
	server := httptest.NewServer(backend)
	t.Cleanup(server.Close)

	store := NewObjectStore(ObjectStorageConfig{
		Endpoint:  server.URL,
		Bucket:    "media",
		AccessKey: "test-access",
		SecretKey: "test-secret",
		Region:    "us-east-1",
	})
	if !store.Enabled() {
		t.Fatalf("store disabled with full config")
	}
	return backend, store
}

func TestObjectStorePutSignsAndStores(t *testing.T) {
	backend, store := newTestObjectStore(t)

	ref, err := store.Put(context.Background(), "videos/a.mp4", "video/mp4", []byte("payload"))
	if err != nil {
		t.Fatalf("Put error: %v", err)
	}
	if ref.Key != "videos/a.mp4" {
		t.Fatalf("key = %q, want videos/a.mp4", ref.Key)
	}

	backend.mu.Lock()
	stored := backend.objects["videos/a.mp4"]
	auth := backend.lastReq.Authorization
	sha := backend.lastReq.ContentSHA
	backend.mu.Unlock()

	if string(stored) != "payload" {
		t.Fatalf("stored = %q, want payload", stored)
	}
	if !strings.HasPrefix(auth, "AWS4-HMAC-SHA256 Credential=test-access/") {
		t.Fatalf("authorization = %q, want SigV4 header", auth)
	}
	if sha != hashSHA256Hex([]byte("payload")) {
		t.Fatalf("content sha = %q, want payload hash", sha)
	}
}

func TestObjectStoreGetFullAndRange(t *testing.T) {
	backend, store := newTestObjectStore(t)
	backend.objects["clip.mp4"] = []byte("0123456789")

	full, err := store.Get(context.Background(), "clip.mp4", "")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	data, err := io.ReadAll(full.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	_ = full.Body.Close()
	if full.StatusCode != http.StatusOK || string(data) != "0123456789" {
		t.Fatalf("full get = %d %q", full.StatusCode, data)
	}

	partial, err := store.Get(context.Background(), "clip.mp4", "bytes=2-5")
	if err != nil {
		t.Fatalf("range Get error: %v", err)
	}
	data, err = io.ReadAll(partial.Body)
	if err != nil {
		t.Fatalf("read range body: %v", err)
	}
	_ = partial.Body.Close()
	if partial.StatusCode != http.StatusPartialContent {
		t.Fatalf("status = %d, want 206", partial.StatusCode)
	}
	if string(data) != "2345" {
		t.Fatalf("range data = %q, want 2345", data)
	}
	if partial.ContentRange != "bytes 2-5/10" {
		t.Fatalf("content range = %q", partial.ContentRange)
	}
}

func TestObjectStoreGetMissing(t *testing.T) {
	_, store := newTestObjectStore(t)
	_, err := store.Get(context.Background(), "absent", "")
	if !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("err = %v, want ErrObjectNotFound", err)
	}
}

func TestObjectStoreHead(t *testing.T) {
	backend, store := newTestObjectStore(t)
	backend.objects["doc.pdf"] = []byte("abcdef")

	info, err := store.Head(context.Background(), "doc.pdf")
	if err != nil {
		t.Fatalf("Head error: %v", err)
	}
	if info.ContentLength != 6 {
		t.Fatalf("length = %d, want 6", info.ContentLength)
	}
}

func TestObjectStoreDelete(t *testing.T) {
	backend, store := newTestObjectStore(t)
	backend.objects["gone.bin"] = []byte("x")

	if err := store.Delete(context.Background(), "gone.bin"); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	backend.mu.Lock()
	_, exists := backend.objects["gone.bin"]
	backend.mu.Unlock()
	if exists {
		t.Fatalf("object still present after delete")
	}
}

func TestObjectStorePrefixApplied(t *testing.T) {
	backend := newMemoryBucketServer("media")
	server := httptest.NewServer(backend)
	t.Cleanup(server.Close)

	store := NewObjectStore(ObjectStorageConfig{
		Endpoint:  server.URL,
		Bucket:    "media",
		Prefix:    "courses",
		AccessKey: "ak",
		SecretKey: "sk",
	})
	ref, err := store.Put(context.Background(), "thumb.png", "image/png", []byte("img"))
	if err != nil {
		t.Fatalf("Put error: %v", err)
	}
	if ref.Key != "courses/thumb.png" {
		t.Fatalf("key = %q, want prefix applied", ref.Key)
	}
	backend.mu.Lock()
	_, exists := backend.objects["courses/thumb.png"]
	backend.mu.Unlock()
	if !exists {
		t.Fatalf("prefixed object missing on backend")
	}
}

func TestObjectStoreSignedURL(t *testing.T) {
	_, store := newTestObjectStore(t)

	signed, err := store.SignedURL("clip.mp4", time.Hour)
	if err != nil {
		t.Fatalf("SignedURL error: %v", err)
	}
	for _, fragment := range []string{
		"X-Amz-Algorithm=AWS4-HMAC-SHA256",
		"X-Amz-Signature=",
		"X-Amz-Expires=3600",
		"/media/clip.mp4",
	} {
		if !strings.Contains(signed, fragment) {
			t.Fatalf("signed url %q missing %q", signed, fragment)
		}
	}
}

func TestObjectStoreDisabledWithoutBucket(t *testing.T) {
	store := NewObjectStore(ObjectStorageConfig{})
	if store.Enabled() {
		t.Fatalf("expected disabled store")
	}
	if _, err := store.Put(context.Background(), "k", "", nil); !errors.Is(err, ErrObjectStorageDisabled) {
		t.Fatalf("err = %v, want ErrObjectStorageDisabled", err)
	}
}
