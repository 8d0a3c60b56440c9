package api

import (
	"fmt"
	"net/http"
	"strings"

	"coursedeck/internal/models"
	"coursedeck/internal/storage"
)

type createCourseRequest struct {
	Title       string       `json:"title"`
	Description string       `json:"courseDescription"`
	Price       models.Money `json:"price"`
	CourseType  string       `json:"courseType"`
	Grade       string       `json:"grade"`
}

type updateCourseRequest struct {
	Title       *string       `json:"title"`
	Description *string       `json:"courseDescription"`
	Price       *models.Money `json:"price"`
	CourseType  *string       `json:"courseType"`
	Grade       *string       `json:"grade"`
}

type createSectionRequest struct {
	Title string `json:"title"`
}

func (h *Handler) Courses(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		actor, ok := h.requireAccount(w, r)
		if !ok {
			return
		}
		includeHidden := actor.HasRole(models.RoleAdmin) && r.URL.Query().Get("includeHidden") == "true"
		courses := h.Store.ListCourses(includeHidden)
		response := make([]courseResponse, 0, len(courses))
		for _, course := range courses {
			response = append(response, newCourseResponse(course))
		}
		writeJSON(w, http.StatusOK, response)
	case http.MethodPost:
		if _, ok := h.requireAdmin(w, r); !ok {
			return
		}
		var req createCourseRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		course, err := h.Store.CreateCourse(storage.CreateCourseParams{
			Title:       req.Title,
			Description: req.Description,
			Price:       req.Price,
			CourseType:  req.CourseType,
			Grade:       req.Grade,
		})
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, newCourseResponse(course))
	default:
		w.Header().Set("Allow", "GET, POST")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
	}
}

func (h *Handler) CourseByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/courses/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusNotFound, fmt.Errorf("course id missing"))
		return
	}
	courseID := parts[0]

	if len(parts) == 2 {
		switch parts[1] {
		case "sections":
			h.courseSections(courseID, w, r)
		case "thumbnail":
			h.courseThumbnail(courseID, w, r)
		case "enroll":
			h.courseEnroll(courseID, w, r)
		case "enrollments":
			h.courseEnrollments(courseID, w, r)
		default:
			writeError(w, http.StatusNotFound, fmt.Errorf("unknown course path"))
		}
		return
	}
	if len(parts) > 2 {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown course path"))
		return
	}

	switch r.Method {
	case http.MethodGet:
		if _, ok := h.requireAccount(w, r); !ok {
			return
		}
		course, exists := h.Store.GetCourse(courseID)
		if !exists {
			writeError(w, http.StatusNotFound, fmt.Errorf("course %s not found", courseID))
			return
		}
		writeJSON(w, http.StatusOK, newCourseResponse(course))
	case http.MethodPatch:
		if _, ok := h.requireAdmin(w, r); !ok {
			return
		}
		var req updateCourseRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		course, err := h.Store.UpdateCourse(courseID, storage.CourseUpdate{
			Title:       req.Title,
			Description: req.Description,
			Price:       req.Price,
			CourseType:  req.CourseType,
			Grade:       req.Grade,
		})
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newCourseResponse(course))
	case http.MethodDelete:
		if _, ok := h.requireAdmin(w, r); !ok {
			return
		}
		if err := h.Store.HideCourse(courseID); err != nil {
			writeStoreError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		w.Header().Set("Allow", "GET, PATCH, DELETE")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
	}
}

func (h *Handler) courseSections(courseID string, w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		actor, ok := h.requireAccount(w, r)
		if !ok {
			return
		}
		if _, exists := h.Store.GetCourse(courseID); !exists {
			writeError(w, http.StatusNotFound, fmt.Errorf("course %s not found", courseID))
			return
		}
		includeHidden := actor.HasRole(models.RoleAdmin) && r.URL.Query().Get("includeHidden") == "true"
		sections := h.Store.ListSections(courseID, includeHidden)
		response := make([]sectionResponse, 0, len(sections))
		for _, section := range sections {
			response = append(response, newSectionResponse(section))
		}
		writeJSON(w, http.StatusOK, response)
	case http.MethodPost:
		if _, ok := h.requireAdmin(w, r); !ok {
			return
		}
		var req createSectionRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		section, err := h.Store.CreateSection(courseID, req.Title)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, newSectionResponse(section))
	default:
		w.Header().Set("Allow", "GET, POST")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
	}
}

func (h *Handler) courseThumbnail(courseID string, w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		if _, ok := h.requireAdmin(w, r); !ok {
			return
		}
		if _, exists := h.Store.GetCourse(courseID); !exists {
			writeError(w, http.StatusNotFound, fmt.Errorf("course %s not found", courseID))
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
		course, err := h.Store.SetCourseThumbnail(courseID, key)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, newCourseResponse(course))
	case http.MethodGet:
		if _, ok := h.requireAccount(w, r); !ok {
			return
		}
		course, exists := h.Store.GetCourse(courseID)
		if !exists {
			writeError(w, http.StatusNotFound, fmt.Errorf("course %s not found", courseID))
			return
		}
		if course.ThumbnailKey == "" {
			writeError(w, http.StatusNotFound, fmt.Errorf("course %s has no thumbnail", courseID))
			return
		}
		h.streamObject(w, r, course.ThumbnailKey, contentTypeForKey(course.ThumbnailKey))
	default:
		w.Header().Set("Allow", "GET, POST")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
	}
}

func (h *Handler) courseEnroll(courseID string, w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	actor, ok := h.requireAccount(w, r)
	if !ok {
		return
	}
	enrollment, err := h.Store.CreateEnrollment(actor.ID, courseID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newEnrollmentResponse(enrollment))
}

func (h *Handler) courseEnrollments(courseID string, w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	if _, ok := h.requireAdmin(w, r); !ok {
		return
	}
	if _, exists := h.Store.GetCourse(courseID); !exists {
		writeError(w, http.StatusNotFound, fmt.Errorf("course %s not found", courseID))
		return
	}
	enrollments := h.Store.ListCourseEnrollments(courseID)
	response := make([]enrollmentResponse, 0, len(enrollments))
	for _, enrollment := range enrollments {
		response = append(response, newEnrollmentResponse(enrollment))
	}
	writeJSON(w, http.StatusOK, response)
}
