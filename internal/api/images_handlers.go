package api

import (
	"fmt"
	"net/http"
	"strings"
)

// ImageByKey is a raw passthrough to the object store for operator tooling.
// Entity-scoped endpoints carry their own entitlement checks; this one is
// admin only because keys alone reveal nothing about ownership.
func (h *Handler) ImageByKey(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	if _, ok := h.requireAdmin(w, r); !ok {
		return
	}
	key := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/images/"), "/")
	if key == "" || strings.Contains(key, "/") || strings.Contains(key, "..") {
		writeError(w, http.StatusNotFound, fmt.Errorf("image key missing"))
		return
	}
	h.streamObject(w, r, key, contentTypeForKey(key))
}
