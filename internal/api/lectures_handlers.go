package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"coursedeck/internal/models"
	"coursedeck/internal/reorder"
	"coursedeck/internal/storage"
)

const playbackURLExpiry = 24 * time.Hour

type updateLectureRequest struct {
	Title *string `json:"title"`
}

type moveLectureRequest struct {
	SectionID string `json:"sectionId"`
}

type createCommentRequest struct {
	CommentText string `json:"commentText"`
	ParentID    string `json:"parentId"`
}

func (h *Handler) LectureByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/lectures/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusNotFound, fmt.Errorf("lecture id missing"))
		return
	}
	lectureID := parts[0]

	if len(parts) == 2 {
		switch parts[1] {
		case "video":
			h.lectureVideo(lectureID, w, r)
		case "playback-url":
			h.lecturePlaybackURL(lectureID, w, r)
		case "comments":
			h.lectureComments(lectureID, w, r)
		case "up", "down":
			h.moveLecture(lectureID, parts[1], w, r)
		default:
			writeError(w, http.StatusNotFound, fmt.Errorf("unknown lecture path"))
		}
		return
	}
	if len(parts) > 2 {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown lecture path"))
		return
	}

	switch r.Method {
	case http.MethodGet:
		if _, ok := h.requireAccount(w, r); !ok {
			return
		}
		lecture, exists := h.Store.GetLecture(lectureID)
		if !exists {
			writeError(w, http.StatusNotFound, fmt.Errorf("lecture %s not found", lectureID))
			return
		}
		writeJSON(w, http.StatusOK, newLectureResponse(lecture))
	case http.MethodPatch:
		if _, ok := h.requireAdmin(w, r); !ok {
			return
		}
		var req updateLectureRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		lecture, err := h.Store.UpdateLecture(lectureID, storage.LectureUpdate{Title: req.Title})
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newLectureResponse(lecture))
	case http.MethodDelete:
		if _, ok := h.requireAdmin(w, r); !ok {
			return
		}
		if err := h.Store.HideLecture(lectureID); err != nil {
			writeStoreError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		w.Header().Set("Allow", "GET, PATCH, DELETE")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
	}
}

func (h *Handler) moveLecture(lectureID, direction string, w http.ResponseWriter, r *http.Request) {
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
	// The body is optional; naming a section moves the lecture across
	// sections in the same pass.
	var req moveLectureRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	lecture, err := h.Store.MoveLecture(lectureID, dir, strings.TrimSpace(req.SectionID))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newLectureResponse(lecture))
}

// resolveLectureEntitlement walks the lecture to its course and checks that
// the caller either administers the platform or purchased the course.
func (h *Handler) resolveLectureEntitlement(w http.ResponseWriter, r *http.Request) (models.Account, models.Lecture, bool) {
	actor, ok := h.requireAccount(w, r)
	if !ok {
		return models.Account{}, models.Lecture{}, false
	}
	lectureID := lectureIDFromPath(r.URL.Path)
	lecture, exists := h.Store.GetLecture(lectureID)
	if !exists {
		writeError(w, http.StatusNotFound, fmt.Errorf("lecture %s not found", lectureID))
		return models.Account{}, models.Lecture{}, false
	}
	section, exists := h.Store.GetSection(lecture.SectionID)
	if !exists {
		writeError(w, http.StatusNotFound, fmt.Errorf("section %s not found", lecture.SectionID))
		return models.Account{}, models.Lecture{}, false
	}
	if !actor.HasRole(models.RoleAdmin) && !h.Store.IsEnrolled(actor.ID, section.CourseID) {
		writeError(w, http.StatusForbidden, fmt.Errorf("course not purchased"))
		return models.Account{}, models.Lecture{}, false
	}
	return actor, lecture, true
}

func lectureIDFromPath(path string) string {
	trimmed := strings.TrimPrefix(path, "/api/lectures/")
	parts := strings.Split(strings.Trim(trimmed, "/"), "/")
	if len(parts) == 0 {
		return ""
	}
	return parts[0]
}

func (h *Handler) lectureVideo(lectureID string, w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		if _, ok := h.requireAdmin(w, r); !ok {
			return
		}
		if _, exists := h.Store.GetLecture(lectureID); !exists {
			writeError(w, http.StatusNotFound, fmt.Errorf("lecture %s not found", lectureID))
			return
		}
		result, done := h.acceptChunk(w, r)
		if !done {
			return
		}
		video, err := h.Store.AttachVideo(storage.AttachVideoParams{
			LectureID: lectureID,
			FileName:  result.Name,
			SizeBytes: int64(len(result.Data)),
		})
		if err != nil {
			writeStoreError(w, err)
			return
		}
		if !h.putObject(w, r, video.StorageKey(), "video/mp4", result.Data) {
			return
		}
		writeJSON(w, http.StatusCreated, newVideoResponse(video))
	case http.MethodGet:
		_, lecture, ok := h.resolveLectureEntitlement(w, r)
		if !ok {
			return
		}
		video, exists := h.Store.GetLectureVideo(lecture.ID)
		if !exists {
			writeError(w, http.StatusNotFound, fmt.Errorf("lecture %s has no video", lecture.ID))
			return
		}
		h.streamObject(w, r, video.StorageKey(), "video/mp4")
	default:
		w.Header().Set("Allow", "GET, POST")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
	}
}

func (h *Handler) lecturePlaybackURL(lectureID string, w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	_, lecture, ok := h.resolveLectureEntitlement(w, r)
	if !ok {
		return
	}
	video, exists := h.Store.GetLectureVideo(lecture.ID)
	if !exists {
		writeError(w, http.StatusNotFound, fmt.Errorf("lecture %s has no video", lecture.ID))
		return
	}
	signed, err := h.objects().SignedURL(video.StorageKey(), playbackURLExpiry)
	if err != nil {
		if errors.Is(err, storage.ErrObjectStorageDisabled) {
			writeError(w, http.StatusServiceUnavailable, err)
			return
		}
		h.logger().Error("signing playback url failed", "lecture", lecture.ID, "error", err)
		writeError(w, http.StatusBadGateway, fmt.Errorf("playback url could not be signed"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"url":       signed,
		"expiresAt": formatTime(time.Now().Add(playbackURLExpiry)),
	})
}

func (h *Handler) lectureComments(lectureID string, w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		actor, ok := h.requireAccount(w, r)
		if !ok {
			return
		}
		if _, exists := h.Store.GetLecture(lectureID); !exists {
			writeError(w, http.StatusNotFound, fmt.Errorf("lecture %s not found", lectureID))
			return
		}
		includeHidden := actor.HasRole(models.RoleAdmin) && r.URL.Query().Get("includeHidden") == "true"
		comments := h.Store.ListComments(lectureID, includeHidden)
		response := make([]commentResponse, 0, len(comments))
		for _, comment := range comments {
			response = append(response, newCommentResponse(comment))
		}
		writeJSON(w, http.StatusOK, response)
	case http.MethodPost:
		actor, ok := h.requireAccount(w, r)
		if !ok {
			return
		}
		var req createCommentRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		comment, err := h.Store.CreateComment(storage.CreateCommentParams{
			LectureID:   lectureID,
			AccountID:   actor.ID,
			ParentID:    strings.TrimSpace(req.ParentID),
			CommentText: req.CommentText,
		})
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, newCommentResponse(comment))
	default:
		w.Header().Set("Allow", "GET, POST")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
	}
}
