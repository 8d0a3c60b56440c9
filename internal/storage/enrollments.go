package storage

import (
	"fmt"
	"sort"
	"time"

	"coursedeck/internal/models"
)

// CreateEnrollment records that a learner owns a course and bumps the course
// learner counter. Enrollment does not touch the learner's balance; balance
// movement happens only through deposit confirmation.
func (s *Storage) CreateEnrollment(learnerID, courseID string) (models.Enrollment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	updatedData := cloneDataset(s.data)

	learner, ok := updatedData.Accounts[learnerID]
	if !ok || learner.IsHidden {
		return models.Enrollment{}, fmt.Errorf("account %s: %w", learnerID, ErrNotFound)
	}
	course, ok := updatedData.Courses[courseID]
	if !ok || course.IsHidden {
		return models.Enrollment{}, fmt.Errorf("course %s: %w", courseID, ErrNotFound)
	}
	for _, enrollment := range updatedData.Enrollments {
		if enrollment.LearnerID == learnerID && enrollment.CourseID == courseID {
			return models.Enrollment{}, ErrAlreadyEnrolled
		}
	}

	id, err := generateID()
	if err != nil {
		return models.Enrollment{}, err
	}
	now := time.Now().UTC()
	enrollment := models.Enrollment{
		ID:        id,
		LearnerID: learnerID,
		CourseID:  courseID,
		CreatedAt: now,
	}
	updatedData.Enrollments[id] = enrollment

	course.LearnerCount++
	course.UpdatedAt = now
	updatedData.Courses[courseID] = course

	if err := s.persistDataset(updatedData); err != nil {
		return models.Enrollment{}, err
	}
	s.data = updatedData
	return enrollment, nil
}

// IsEnrolled reports whether the learner owns the course.
func (s *Storage) IsEnrolled(learnerID, courseID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, enrollment := range s.data.Enrollments {
		if enrollment.LearnerID == learnerID && enrollment.CourseID == courseID {
			return true
		}
	}
	return false
}

// ListEnrollments returns the learner's enrollments ordered by creation time.
func (s *Storage) ListEnrollments(learnerID string) []models.Enrollment {
	s.mu.RLock()
	defer s.mu.RUnlock()

	enrollments := make([]models.Enrollment, 0)
	for _, enrollment := range s.data.Enrollments {
		if enrollment.LearnerID != learnerID {
			continue
		}
		enrollments = append(enrollments, enrollment)
	}
	sort.Slice(enrollments, func(i, j int) bool {
		if enrollments[i].CreatedAt.Equal(enrollments[j].CreatedAt) {
			return enrollments[i].ID < enrollments[j].ID
		}
		return enrollments[i].CreatedAt.Before(enrollments[j].CreatedAt)
	})
	return enrollments
}

// ListCourseEnrollments returns every enrollment on the course.
func (s *Storage) ListCourseEnrollments(courseID string) []models.Enrollment {
	s.mu.RLock()
	defer s.mu.RUnlock()

	enrollments := make([]models.Enrollment, 0)
	for _, enrollment := range s.data.Enrollments {
		if enrollment.CourseID != courseID {
			continue
		}
		enrollments = append(enrollments, enrollment)
	}
	sort.Slice(enrollments, func(i, j int) bool {
		if enrollments[i].CreatedAt.Equal(enrollments[j].CreatedAt) {
			return enrollments[i].ID < enrollments[j].ID
		}
		return enrollments[i].CreatedAt.Before(enrollments[j].CreatedAt)
	})
	return enrollments
}
