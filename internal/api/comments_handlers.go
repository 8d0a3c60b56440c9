package api

import (
	"fmt"
	"net/http"
	"strings"

	"coursedeck/internal/models"
)

type updateCommentRequest struct {
	CommentText string `json:"commentText"`
}

func (h *Handler) CommentByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/comments/")
	commentID := strings.Trim(path, "/")
	if commentID == "" || strings.Contains(commentID, "/") {
		writeError(w, http.StatusNotFound, fmt.Errorf("comment id missing"))
		return
	}

	actor, ok := h.requireAccount(w, r)
	if !ok {
		return
	}
	comment, exists := h.Store.GetComment(commentID)
	if !exists {
		writeError(w, http.StatusNotFound, fmt.Errorf("comment %s not found", commentID))
		return
	}

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, newCommentResponse(comment))
	case http.MethodPatch:
		if comment.AccountID != actor.ID && !actor.HasRole(models.RoleAdmin) {
			writeError(w, http.StatusForbidden, fmt.Errorf("forbidden"))
			return
		}
		var req updateCommentRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		updated, err := h.Store.UpdateComment(commentID, req.CommentText)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newCommentResponse(updated))
	case http.MethodDelete:
		if comment.AccountID != actor.ID && !actor.HasRole(models.RoleAdmin) {
			writeError(w, http.StatusForbidden, fmt.Errorf("forbidden"))
			return
		}
		if err := h.Store.HideComment(commentID); err != nil {
			writeStoreError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		w.Header().Set("Allow", "GET, PATCH, DELETE")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
	}
}
