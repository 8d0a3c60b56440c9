package api

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"coursedeck/internal/observability/metrics"
	"coursedeck/internal/storage"
	"coursedeck/internal/upload"
)

// Chunked uploads arrive as raw request bodies described entirely by
// headers. The header names are fixed by the legacy web client.
const (
	headerContentID      = "x-content-id"
	headerChunkID        = "x-chunk-id"
	headerChunkLength    = "x-chunk-length"
	headerChunksQuantity = "x-chunks-quantity"
	headerContentName    = "x-content-name"
	headerContentLength  = "x-content-length"
)

const maxChunkBodyBytes = 64 << 20

func readChunk(r *http.Request) (upload.Chunk, error) {
	sessionID := strings.TrimSpace(r.Header.Get(headerContentID))
	if sessionID == "" {
		return upload.Chunk{}, fmt.Errorf("%s header is required", headerContentID)
	}
	index, err := strconv.Atoi(strings.TrimSpace(r.Header.Get(headerChunkID)))
	if err != nil {
		return upload.Chunk{}, fmt.Errorf("%s header is not a number", headerChunkID)
	}
	total, err := strconv.Atoi(strings.TrimSpace(r.Header.Get(headerChunksQuantity)))
	if err != nil {
		return upload.Chunk{}, fmt.Errorf("%s header is not a number", headerChunksQuantity)
	}
	declared, err := strconv.ParseInt(strings.TrimSpace(r.Header.Get(headerChunkLength)), 10, 64)
	if err != nil {
		return upload.Chunk{}, fmt.Errorf("%s header is not a number", headerChunkLength)
	}
	contentLength := int64(0)
	if raw := strings.TrimSpace(r.Header.Get(headerContentLength)); raw != "" {
		contentLength, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return upload.Chunk{}, fmt.Errorf("%s header is not a number", headerContentLength)
		}
	}
	if r.Body == nil {
		return upload.Chunk{}, errors.New("request body is required")
	}
	defer r.Body.Close()
	data, err := io.ReadAll(io.LimitReader(r.Body, maxChunkBodyBytes+1))
	if err != nil {
		return upload.Chunk{}, fmt.Errorf("read chunk body: %w", err)
	}
	if int64(len(data)) > maxChunkBodyBytes {
		return upload.Chunk{}, fmt.Errorf("chunk body exceeds %d bytes", maxChunkBodyBytes)
	}
	return upload.Chunk{
		SessionID:      sessionID,
		Index:          index,
		Total:          total,
		Name:           strings.TrimSpace(r.Header.Get(headerContentName)),
		DeclaredLength: declared,
		ContentLength:  contentLength,
		Data:           data,
	}, nil
}

// acceptChunk reads and submits one chunk. It writes the response itself for
// every outcome except a completed session, which is handed back to the
// endpoint so it can persist the assembled file.
func (h *Handler) acceptChunk(w http.ResponseWriter, r *http.Request) (upload.Result, bool) {
	chunk, err := readChunk(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return upload.Result{}, false
	}
	result, err := h.assembler().Submit(r.Context(), chunk)
	if err != nil {
		switch {
		case errors.Is(err, upload.ErrInvalidChunk):
			writeError(w, http.StatusBadRequest, err)
		case errors.Is(err, upload.ErrSessionConflict):
			writeError(w, http.StatusConflict, err)
		default:
			h.logger().Error("chunk submission failed", "session", chunk.SessionID, "error", err)
			writeError(w, http.StatusInternalServerError, fmt.Errorf("chunk could not be stored"))
		}
		return upload.Result{}, false
	}
	if result.State == upload.Continuing {
		writeJSON(w, http.StatusOK, map[string]string{"message": "Continuing"})
		return upload.Result{}, false
	}
	metrics.ObserveUploadBytes(int64(len(result.Data)))
	return result, true
}

func fileExtension(name string) string {
	if idx := strings.LastIndex(name, "."); idx >= 0 {
		return name[idx:]
	}
	return ""
}

// newObjectKey generates a fresh object-store key preserving the uploaded
// file's extension, matching the {generatedId}{.ext} key convention.
func newObjectKey(name string) (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate object key: %w", err)
	}
	return hex.EncodeToString(buf) + fileExtension(name), nil
}

func contentTypeForKey(key string) string {
	if ct := mime.TypeByExtension(fileExtension(key)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// putObject stores an assembled upload, mapping object store failures to the
// upstream error status.
func (h *Handler) putObject(w http.ResponseWriter, r *http.Request, key, contentType string, data []byte) bool {
	if _, err := h.objects().Put(r.Context(), key, contentType, data); err != nil {
		if errors.Is(err, storage.ErrObjectStorageDisabled) {
			writeError(w, http.StatusServiceUnavailable, err)
			return false
		}
		h.logger().Error("object store put failed", "key", key, "error", err)
		writeError(w, http.StatusBadGateway, fmt.Errorf("media could not be stored"))
		return false
	}
	return true
}

func parseByteRange(header string, size int64) (start, end int64, err error) {
	const prefix = "bytes="
	if !strings.HasPrefix(header, prefix) {
		return 0, 0, fmt.Errorf("unsupported range unit")
	}
	spec := strings.TrimPrefix(header, prefix)
	if strings.Contains(spec, ",") {
		return 0, 0, fmt.Errorf("multiple ranges are not supported")
	}
	dash := strings.Index(spec, "-")
	if dash < 0 {
		return 0, 0, fmt.Errorf("malformed range")
	}
	startPart := strings.TrimSpace(spec[:dash])
	endPart := strings.TrimSpace(spec[dash+1:])
	if startPart == "" {
		return 0, 0, fmt.Errorf("suffix ranges are not supported")
	}
	start, err = strconv.ParseInt(startPart, 10, 64)
	if err != nil || start < 0 {
		return 0, 0, fmt.Errorf("malformed range start")
	}
	end = size - 1
	if endPart != "" {
		end, err = strconv.ParseInt(endPart, 10, 64)
		if err != nil {
			return 0, 0, fmt.Errorf("malformed range end")
		}
	}
	if start > end || end >= size {
		return 0, 0, fmt.Errorf("range out of bounds")
	}
	return start, end, nil
}

// streamObject serves the stored object, honouring a single bytes range.
// Invalid or out-of-bounds ranges never reach the object store; they are
// rejected here with 416 and the object's full length.
func (h *Handler) streamObject(w http.ResponseWriter, r *http.Request, key, contentType string) {
	store := h.objects()
	rangeHeader := strings.TrimSpace(r.Header.Get("Range"))

	if rangeHeader == "" {
		obj, err := store.Get(r.Context(), key, "")
		if err != nil {
			h.writeObjectError(w, key, err)
			return
		}
		defer obj.Body.Close()
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Accept-Ranges", "bytes")
		if obj.ContentLength > 0 {
			w.Header().Set("Content-Length", strconv.FormatInt(obj.ContentLength, 10))
		}
		w.WriteHeader(http.StatusOK)
		n, _ := io.Copy(w, obj.Body)
		metrics.ObserveStreamBytes(n)
		return
	}

	info, err := store.Head(r.Context(), key)
	if err != nil {
		h.writeObjectError(w, key, err)
		return
	}
	start, end, err := parseByteRange(rangeHeader, info.ContentLength)
	if err != nil {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", info.ContentLength))
		writeError(w, http.StatusRequestedRangeNotSatisfiable, err)
		return
	}
	obj, err := store.Get(r.Context(), key, fmt.Sprintf("bytes=%d-%d", start, end))
	if err != nil {
		h.writeObjectError(w, key, err)
		return
	}
	defer obj.Body.Close()
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Length", strconv.FormatInt(end-start+1, 10))
	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, info.ContentLength))
	w.WriteHeader(http.StatusPartialContent)
	n, _ := io.Copy(w, obj.Body)
	metrics.ObserveStreamBytes(n)
}

func (h *Handler) writeObjectError(w http.ResponseWriter, key string, err error) {
	switch {
	case errors.Is(err, storage.ErrObjectNotFound):
		writeError(w, http.StatusNotFound, fmt.Errorf("media not found"))
	case errors.Is(err, storage.ErrObjectStorageDisabled):
		writeError(w, http.StatusServiceUnavailable, err)
	default:
		h.logger().Error("object store read failed", "key", key, "error", err)
		writeError(w, http.StatusBadGateway, fmt.Errorf("media could not be read"))
	}
}
