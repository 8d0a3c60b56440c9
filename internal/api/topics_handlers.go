package api

import (
	"fmt"
	"net/http"
	"strings"

	"coursedeck/internal/models"
	"coursedeck/internal/storage"
)

type createTopicRequest struct {
	Title     string `json:"title"`
	TopicType string `json:"topicType"`
}

type updateTopicRequest struct {
	Title     *string `json:"title"`
	TopicType *string `json:"topicType"`
}

func (h *Handler) Topics(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		actor, ok := h.requireAccount(w, r)
		if !ok {
			return
		}
		includeHidden := actor.HasRole(models.RoleAdmin) && r.URL.Query().Get("includeHidden") == "true"
		topics := h.Store.ListTopics(includeHidden)
		response := make([]topicResponse, 0, len(topics))
		for _, topic := range topics {
			response = append(response, newTopicResponse(topic))
		}
		writeJSON(w, http.StatusOK, response)
	case http.MethodPost:
		if _, ok := h.requireAdmin(w, r); !ok {
			return
		}
		var req createTopicRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		topic, err := h.Store.CreateTopic(storage.CreateTopicParams{
			Title:     req.Title,
			TopicType: req.TopicType,
		})
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, newTopicResponse(topic))
	default:
		w.Header().Set("Allow", "GET, POST")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
	}
}

func (h *Handler) TopicByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/topics/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusNotFound, fmt.Errorf("topic id missing"))
		return
	}
	topicID := parts[0]

	if len(parts) == 2 && parts[1] == "file" {
		h.topicFile(topicID, w, r)
		return
	}
	if len(parts) > 1 {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown topic path"))
		return
	}

	switch r.Method {
	case http.MethodGet:
		if _, ok := h.requireAccount(w, r); !ok {
			return
		}
		topic, exists := h.Store.GetTopic(topicID)
		if !exists {
			writeError(w, http.StatusNotFound, fmt.Errorf("topic %s not found", topicID))
			return
		}
		writeJSON(w, http.StatusOK, newTopicResponse(topic))
	case http.MethodPatch:
		if _, ok := h.requireAdmin(w, r); !ok {
			return
		}
		var req updateTopicRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		topic, err := h.Store.UpdateTopic(topicID, storage.TopicUpdate{
			Title:     req.Title,
			TopicType: req.TopicType,
		})
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newTopicResponse(topic))
	case http.MethodDelete:
		if _, ok := h.requireAdmin(w, r); !ok {
			return
		}
		if err := h.Store.HideTopic(topicID); err != nil {
			writeStoreError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		w.Header().Set("Allow", "GET, PATCH, DELETE")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
	}
}

func (h *Handler) topicFile(topicID string, w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		if _, ok := h.requireAdmin(w, r); !ok {
			return
		}
		if _, exists := h.Store.GetTopic(topicID); !exists {
			writeError(w, http.StatusNotFound, fmt.Errorf("topic %s not found", topicID))
			return
		}
		result, done := h.acceptChunk(w, r)
		if !done {
			return
		}
		key, err := newObjectKey(result.Name)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		if !h.putObject(w, r, key, contentTypeForKey(key), result.Data) {
			return
		}
		topic, err := h.Store.SetTopicFile(topicID, key, result.Name)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, newTopicResponse(topic))
	case http.MethodGet:
		if _, ok := h.requireAccount(w, r); !ok {
			return
		}
		topic, exists := h.Store.GetTopic(topicID)
		if !exists {
			writeError(w, http.StatusNotFound, fmt.Errorf("topic %s not found", topicID))
			return
		}
		if topic.FileKey == "" {
			writeError(w, http.StatusNotFound, fmt.Errorf("topic %s has no file", topicID))
			return
		}
		h.streamObject(w, r, topic.FileKey, contentTypeForKey(topic.FileKey))
	default:
		w.Header().Set("Allow", "GET, POST")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
	}
}
