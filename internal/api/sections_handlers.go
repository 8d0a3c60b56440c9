package api

import (
	"fmt"
	"net/http"
	"strings"

	"coursedeck/internal/models"
	"coursedeck/internal/reorder"
	"coursedeck/internal/storage"
)

type updateSectionRequest struct {
	Title *string `json:"title"`
}

type createLectureRequest struct {
	Title string `json:"title"`
}

func (h *Handler) SectionByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/sections/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusNotFound, fmt.Errorf("section id missing"))
		return
	}
	sectionID := parts[0]

	if len(parts) == 2 {
		switch parts[1] {
		case "lectures":
			h.sectionLectures(sectionID, w, r)
		case "up", "down":
			h.moveSection(sectionID, parts[1], w, r)
		default:
			writeError(w, http.StatusNotFound, fmt.Errorf("unknown section path"))
		}
		return
	}
	if len(parts) > 2 {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown section path"))
		return
	}

	switch r.Method {
	case http.MethodGet:
		if _, ok := h.requireAccount(w, r); !ok {
			return
		}
		section, exists := h.Store.GetSection(sectionID)
		if !exists {
			writeError(w, http.StatusNotFound, fmt.Errorf("section %s not found", sectionID))
			return
		}
		writeJSON(w, http.StatusOK, newSectionResponse(section))
	case http.MethodPatch:
		if _, ok := h.requireAdmin(w, r); !ok {
			return
		}
		var req updateSectionRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		section, err := h.Store.UpdateSection(sectionID, storage.SectionUpdate{Title: req.Title})
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newSectionResponse(section))
	case http.MethodDelete:
		if _, ok := h.requireAdmin(w, r); !ok {
			return
		}
		if err := h.Store.HideSection(sectionID); err != nil {
			writeStoreError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		w.Header().Set("Allow", "GET, PATCH, DELETE")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
	}
}

func (h *Handler) sectionLectures(sectionID string, w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		actor, ok := h.requireAccount(w, r)
		if !ok {
			return
		}
		if _, exists := h.Store.GetSection(sectionID); !exists {
			writeError(w, http.StatusNotFound, fmt.Errorf("section %s not found", sectionID))
			return
		}
		includeHidden := actor.HasRole(models.RoleAdmin) && r.URL.Query().Get("includeHidden") == "true"
		lectures := h.Store.ListLectures(sectionID, includeHidden)
		response := make([]lectureResponse, 0, len(lectures))
		for _, lecture := range lectures {
			response = append(response, newLectureResponse(lecture))
		}
		writeJSON(w, http.StatusOK, response)
	case http.MethodPost:
		if _, ok := h.requireAdmin(w, r); !ok {
			return
		}
		var req createLectureRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		lecture, err := h.Store.CreateLecture(sectionID, req.Title)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, newLectureResponse(lecture))
	default:
		w.Header().Set("Allow", "GET, POST")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
	}
}

func (h *Handler) moveSection(sectionID, direction string, w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		w.Header().Set("Allow", "PUT")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	if _, ok := h.requireAdmin(w, r); !ok {
		return
	}
	dir, err := reorder.ParseDirection(direction)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	section, err := h.Store.MoveSection(sectionID, dir)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newSectionResponse(section))
}
