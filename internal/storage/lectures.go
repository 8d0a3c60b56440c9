package storage

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"coursedeck/internal/models"
	"coursedeck/internal/reorder"
)

func lectureItems(data dataset, sectionID string) []reorder.Item {
	items := make([]reorder.Item, 0)
	for _, lecture := range data.Lectures {
		if lecture.SectionID != sectionID || lecture.IsHidden {
			continue
		}
		items = append(items, reorder.Item{ID: lecture.ID, Parent: lecture.SectionID, Order: lecture.LectureOrder})
	}
	return reorder.SortSiblings(items)
}

// CreateLecture appends a lecture at the end of its section.
func (s *Storage) CreateLecture(sectionID, title string) (models.Lecture, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	trimmed, err := validateTitle(title)
	if err != nil {
		return models.Lecture{}, err
	}

	updatedData := cloneDataset(s.data)

	section, ok := updatedData.Sections[sectionID]
	if !ok || section.IsHidden {
		return models.Lecture{}, fmt.Errorf("section %s: %w", sectionID, ErrNotFound)
	}

	id, err := generateID()
	if err != nil {
		return models.Lecture{}, err
	}
	now := time.Now().UTC()
	lecture := models.Lecture{
		ID:           id,
		Title:        trimmed,
		SectionID:    sectionID,
		LectureOrder: nextOrder(lectureItems(updatedData, sectionID)),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	updatedData.Lectures[id] = lecture

	if course, ok := updatedData.Courses[section.CourseID]; ok {
		course.LectureCount++
		course.UpdatedAt = now
		updatedData.Courses[section.CourseID] = course
	}

	if err := s.persistDataset(updatedData); err != nil {
		return models.Lecture{}, err
	}
	s.data = updatedData
	return lecture, nil
}

func (s *Storage) GetLecture(id string) (models.Lecture, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lecture, ok := s.data.Lectures[id]
	return lecture, ok
}

// ListLectures returns the lectures of a section in outline order.
func (s *Storage) ListLectures(sectionID string, includeHidden bool) []models.Lecture {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lectures := make([]models.Lecture, 0)
	for _, lecture := range s.data.Lectures {
		if lecture.SectionID != sectionID {
			continue
		}
		if lecture.IsHidden && !includeHidden {
			continue
		}
		lectures = append(lectures, lecture)
	}
	sort.Slice(lectures, func(i, j int) bool {
		if lectures[i].LectureOrder == lectures[j].LectureOrder {
			return lectures[i].ID < lectures[j].ID
		}
		return lectures[i].LectureOrder < lectures[j].LectureOrder
	})
	return lectures
}

func (s *Storage) UpdateLecture(id string, update LectureUpdate) (models.Lecture, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	updatedData := cloneDataset(s.data)

	lecture, ok := updatedData.Lectures[id]
	if !ok {
		return models.Lecture{}, fmt.Errorf("lecture %s: %w", id, ErrNotFound)
	}

	if update.Title != nil {
		title, err := validateTitle(*update.Title)
		if err != nil {
			return models.Lecture{}, err
		}
		lecture.Title = title
	}

	lecture.UpdatedAt = time.Now().UTC()
	updatedData.Lectures[id] = lecture
	if err := s.persistDataset(updatedData); err != nil {
		return models.Lecture{}, err
	}
	s.data = updatedData
	return lecture, nil
}

// MoveLecture shifts a lecture one step inside its section, or relocates it
// into targetSectionID when that differs from the current section. All order
// writes from a single move land in one persist so readers never observe a
// half-applied swap.
func (s *Storage) MoveLecture(id string, dir reorder.Direction, targetSectionID string) (models.Lecture, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	updatedData := cloneDataset(s.data)

	lecture, ok := updatedData.Lectures[id]
	if !ok || lecture.IsHidden {
		return models.Lecture{}, fmt.Errorf("lecture %s: %w", id, ErrNotFound)
	}

	now := time.Now().UTC()

	if targetSectionID == "" || targetSectionID == lecture.SectionID {
		moved, neighbour, err := reorder.MoveWithinParent(id, dir, lectureItems(updatedData, lecture.SectionID))
		if err != nil {
			return models.Lecture{}, err
		}
		lecture.LectureOrder = moved.Order
		lecture.UpdatedAt = now
		updatedData.Lectures[id] = lecture

		other := updatedData.Lectures[neighbour.ID]
		other.LectureOrder = neighbour.Order
		other.UpdatedAt = now
		updatedData.Lectures[neighbour.ID] = other
	} else {
		target, ok := updatedData.Sections[targetSectionID]
		if !ok || target.IsHidden {
			return models.Lecture{}, fmt.Errorf("section %s: %w", targetSectionID, ErrNotFound)
		}
		current, ok := updatedData.Sections[lecture.SectionID]
		if !ok {
			return models.Lecture{}, fmt.Errorf("section %s: %w", lecture.SectionID, ErrNotFound)
		}
		if target.CourseID != current.CourseID {
			return models.Lecture{}, errors.New("cannot move a lecture across courses")
		}

		item := reorder.Item{ID: lecture.ID, Parent: lecture.SectionID, Order: lecture.LectureOrder}
		changes := reorder.MoveAcrossParents(item, dir, targetSectionID, lectureItems(updatedData, targetSectionID))

		lecture.SectionID = targetSectionID
		lecture.UpdatedAt = now
		updatedData.Lectures[id] = lecture

		for _, change := range changes {
			entry := updatedData.Lectures[change.ID]
			entry.LectureOrder = change.Order
			entry.UpdatedAt = now
			updatedData.Lectures[change.ID] = entry
		}
		lecture = updatedData.Lectures[id]
	}

	if err := s.persistDataset(updatedData); err != nil {
		return models.Lecture{}, err
	}
	s.data = updatedData
	return lecture, nil
}

// HideLecture soft-deletes the lecture and updates the course counter.
func (s *Storage) HideLecture(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	updatedData := cloneDataset(s.data)

	lecture, ok := updatedData.Lectures[id]
	if !ok {
		return fmt.Errorf("lecture %s: %w", id, ErrNotFound)
	}
	if lecture.IsHidden {
		return nil
	}
	now := time.Now().UTC()
	lecture.IsHidden = true
	lecture.UpdatedAt = now
	updatedData.Lectures[id] = lecture

	if section, ok := updatedData.Sections[lecture.SectionID]; ok {
		if course, ok := updatedData.Courses[section.CourseID]; ok && course.LectureCount > 0 {
			course.LectureCount--
			course.UpdatedAt = now
			updatedData.Courses[section.CourseID] = course
		}
	}

	if err := s.persistDataset(updatedData); err != nil {
		return err
	}
	s.data = updatedData
	return nil
}

// AttachVideo records an assembled upload as the lecture's video. A lecture
// carries at most one visible video, so any prior video is hidden rather
// than removed.
func (s *Storage) AttachVideo(params AttachVideoParams) (models.Video, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if params.FileName == "" {
		return models.Video{}, errors.New("file name is required")
	}
	if params.SizeBytes < 0 {
		return models.Video{}, errors.New("size cannot be negative")
	}

	updatedData := cloneDataset(s.data)

	lecture, ok := updatedData.Lectures[params.LectureID]
	if !ok || lecture.IsHidden {
		return models.Video{}, fmt.Errorf("lecture %s: %w", params.LectureID, ErrNotFound)
	}

	now := time.Now().UTC()
	for videoID, video := range updatedData.Videos {
		if video.LectureID == params.LectureID && !video.IsHidden {
			video.IsHidden = true
			video.UpdatedAt = now
			updatedData.Videos[videoID] = video
		}
	}

	id, err := generateID()
	if err != nil {
		return models.Video{}, err
	}
	video := models.Video{
		ID:        id,
		FileName:  params.FileName,
		SizeBytes: params.SizeBytes,
		LectureID: params.LectureID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	updatedData.Videos[id] = video

	if err := s.persistDataset(updatedData); err != nil {
		return models.Video{}, err
	}
	s.data = updatedData
	return video, nil
}

// GetLectureVideo returns the lecture's visible video, if any.
func (s *Storage) GetLectureVideo(lectureID string) (models.Video, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, video := range s.data.Videos {
		if video.LectureID == lectureID && !video.IsHidden {
			return video, true
		}
	}
	return models.Video{}, false
}

func (s *Storage) GetVideo(id string) (models.Video, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	video, ok := s.data.Videos[id]
	return video, ok
}
