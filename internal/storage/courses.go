package storage

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"coursedeck/internal/models"
)

func validCourseType(courseType string) bool {
	return courseType == models.CourseTypeTheory || courseType == models.CourseTypeExamSolving
}

func validateTitle(title string) (string, error) {
	trimmed := strings.TrimSpace(title)
	if trimmed == "" {
		return "", errors.New("title is required")
	}
	if len(trimmed) > MaxTitleLength {
		return "", fmt.Errorf("title exceeds %d characters", MaxTitleLength)
	}
	return trimmed, nil
}

// CreateCourse registers a new course with zero learners and no content.
func (s *Storage) CreateCourse(params CreateCourseParams) (models.Course, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	title, err := validateTitle(params.Title)
	if err != nil {
		return models.Course{}, err
	}
	if !validCourseType(params.CourseType) {
		return models.Course{}, fmt.Errorf("invalid course type %s", params.CourseType)
	}
	if params.Price.IsNegative() {
		return models.Course{}, errors.New("price cannot be negative")
	}

	id, err := generateID()
	if err != nil {
		return models.Course{}, err
	}
	now := time.Now().UTC()
	course := models.Course{
		ID:          id,
		Title:       title,
		Description: strings.TrimSpace(params.Description),
		Price:       params.Price,
		CourseType:  params.CourseType,
		Grade:       strings.TrimSpace(params.Grade),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	s.data.Courses[id] = course
	if err := s.persist(); err != nil {
		delete(s.data.Courses, id)
		return models.Course{}, err
	}
	return course, nil
}

func (s *Storage) GetCourse(id string) (models.Course, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	course, ok := s.data.Courses[id]
	return course, ok
}

// ListCourses returns courses ordered by creation time. Hidden courses are
// included only when includeHidden is set.
func (s *Storage) ListCourses(includeHidden bool) []models.Course {
	s.mu.RLock()
	defer s.mu.RUnlock()

	courses := make([]models.Course, 0, len(s.data.Courses))
	for _, course := range s.data.Courses {
		if course.IsHidden && !includeHidden {
			continue
		}
		courses = append(courses, course)
	}
	sort.Slice(courses, func(i, j int) bool {
		if courses[i].CreatedAt.Equal(courses[j].CreatedAt) {
			return courses[i].ID < courses[j].ID
		}
		return courses[i].CreatedAt.Before(courses[j].CreatedAt)
	})
	return courses
}

func (s *Storage) UpdateCourse(id string, update CourseUpdate) (models.Course, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	updatedData := cloneDataset(s.data)

	course, ok := updatedData.Courses[id]
	if !ok {
		return models.Course{}, fmt.Errorf("course %s: %w", id, ErrNotFound)
	}

	if update.Title != nil {
		title, err := validateTitle(*update.Title)
		if err != nil {
			return models.Course{}, err
		}
		course.Title = title
	}
	if update.Description != nil {
		course.Description = strings.TrimSpace(*update.Description)
	}
	if update.Price != nil {
		if update.Price.IsNegative() {
			return models.Course{}, errors.New("price cannot be negative")
		}
		course.Price = *update.Price
	}
	if update.CourseType != nil {
		if !validCourseType(*update.CourseType) {
			return models.Course{}, fmt.Errorf("invalid course type %s", *update.CourseType)
		}
		course.CourseType = *update.CourseType
	}
	if update.Grade != nil {
		course.Grade = strings.TrimSpace(*update.Grade)
	}

	course.UpdatedAt = time.Now().UTC()
	updatedData.Courses[id] = course
	if err := s.persistDataset(updatedData); err != nil {
		return models.Course{}, err
	}
	s.data = updatedData
	return course, nil
}

// SetCourseThumbnail records the object-store key of the course thumbnail.
func (s *Storage) SetCourseThumbnail(id, key string) (models.Course, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if key == "" {
		return models.Course{}, errors.New("thumbnail key is required")
	}

	updatedData := cloneDataset(s.data)

	course, ok := updatedData.Courses[id]
	if !ok {
		return models.Course{}, fmt.Errorf("course %s: %w", id, ErrNotFound)
	}
	course.ThumbnailKey = key
	course.UpdatedAt = time.Now().UTC()
	updatedData.Courses[id] = course
	if err := s.persistDataset(updatedData); err != nil {
		return models.Course{}, err
	}
	s.data = updatedData
	return course, nil
}

// HideCourse soft-deletes the course. Sections and lectures under it keep
// their own visibility flags; listing endpoints gate on the course first.
func (s *Storage) HideCourse(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	updatedData := cloneDataset(s.data)

	course, ok := updatedData.Courses[id]
	if !ok {
		return fmt.Errorf("course %s: %w", id, ErrNotFound)
	}
	if course.IsHidden {
		return nil
	}
	course.IsHidden = true
	course.UpdatedAt = time.Now().UTC()
	updatedData.Courses[id] = course

	if err := s.persistDataset(updatedData); err != nil {
		return err
	}
	s.data = updatedData
	return nil
}
