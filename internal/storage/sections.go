package storage

import (
	"fmt"
	"sort"
	"time"

	"coursedeck/internal/models"
	"coursedeck/internal/reorder"
)

func sectionItems(data dataset, courseID string) []reorder.Item {
	items := make([]reorder.Item, 0)
	for _, section := range data.Sections {
		if section.CourseID != courseID || section.IsHidden {
			continue
		}
		items = append(items, reorder.Item{ID: section.ID, Parent: section.CourseID, Order: section.SectionOrder})
	}
	return reorder.SortSiblings(items)
}

func nextOrder(items []reorder.Item) int {
	next := 1
	for _, item := range items {
		if item.Order >= next {
			next = item.Order + 1
		}
	}
	return next
}

// CreateSection appends a section at the end of the course outline.
func (s *Storage) CreateSection(courseID, title string) (models.Section, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	trimmed, err := validateTitle(title)
	if err != nil {
		return models.Section{}, err
	}

	updatedData := cloneDataset(s.data)

	course, ok := updatedData.Courses[courseID]
	if !ok || course.IsHidden {
		return models.Section{}, fmt.Errorf("course %s: %w", courseID, ErrNotFound)
	}

	id, err := generateID()
	if err != nil {
		return models.Section{}, err
	}
	now := time.Now().UTC()
	section := models.Section{
		ID:           id,
		Title:        trimmed,
		CourseID:     courseID,
		SectionOrder: nextOrder(sectionItems(updatedData, courseID)),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	updatedData.Sections[id] = section

	course.SectionCount++
	course.UpdatedAt = now
	updatedData.Courses[courseID] = course

	if err := s.persistDataset(updatedData); err != nil {
		return models.Section{}, err
	}
	s.data = updatedData
	return section, nil
}

func (s *Storage) GetSection(id string) (models.Section, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	section, ok := s.data.Sections[id]
	return section, ok
}

// ListSections returns the sections of a course in outline order.
func (s *Storage) ListSections(courseID string, includeHidden bool) []models.Section {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sections := make([]models.Section, 0)
	for _, section := range s.data.Sections {
		if section.CourseID != courseID {
			continue
		}
		if section.IsHidden && !includeHidden {
			continue
		}
		sections = append(sections, section)
	}
	sort.Slice(sections, func(i, j int) bool {
		if sections[i].SectionOrder == sections[j].SectionOrder {
			return sections[i].ID < sections[j].ID
		}
		return sections[i].SectionOrder < sections[j].SectionOrder
	})
	return sections
}

func (s *Storage) UpdateSection(id string, update SectionUpdate) (models.Section, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	updatedData := cloneDataset(s.data)

	section, ok := updatedData.Sections[id]
	if !ok {
		return models.Section{}, fmt.Errorf("section %s: %w", id, ErrNotFound)
	}

	if update.Title != nil {
		title, err := validateTitle(*update.Title)
		if err != nil {
			return models.Section{}, err
		}
		section.Title = title
	}

	section.UpdatedAt = time.Now().UTC()
	updatedData.Sections[id] = section
	if err := s.persistDataset(updatedData); err != nil {
		return models.Section{}, err
	}
	s.data = updatedData
	return section, nil
}

// MoveSection shifts a section one step within its course outline by
// swapping order values with its neighbour.
func (s *Storage) MoveSection(id string, dir reorder.Direction) (models.Section, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	updatedData := cloneDataset(s.data)

	section, ok := updatedData.Sections[id]
	if !ok || section.IsHidden {
		return models.Section{}, fmt.Errorf("section %s: %w", id, ErrNotFound)
	}

	moved, neighbour, err := reorder.MoveWithinParent(id, dir, sectionItems(updatedData, section.CourseID))
	if err != nil {
		return models.Section{}, err
	}

	now := time.Now().UTC()
	section.SectionOrder = moved.Order
	section.UpdatedAt = now
	updatedData.Sections[id] = section

	other := updatedData.Sections[neighbour.ID]
	other.SectionOrder = neighbour.Order
	other.UpdatedAt = now
	updatedData.Sections[neighbour.ID] = other

	if err := s.persistDataset(updatedData); err != nil {
		return models.Section{}, err
	}
	s.data = updatedData
	return section, nil
}

// HideSection soft-deletes the section and updates the course counter.
// Lectures under the section keep their own visibility flags.
func (s *Storage) HideSection(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	updatedData := cloneDataset(s.data)

	section, ok := updatedData.Sections[id]
	if !ok {
		return fmt.Errorf("section %s: %w", id, ErrNotFound)
	}
	if section.IsHidden {
		return nil
	}
	now := time.Now().UTC()
	section.IsHidden = true
	section.UpdatedAt = now
	updatedData.Sections[id] = section

	if course, ok := updatedData.Courses[section.CourseID]; ok && course.SectionCount > 0 {
		course.SectionCount--
		course.UpdatedAt = now
		updatedData.Courses[section.CourseID] = course
	}

	if err := s.persistDataset(updatedData); err != nil {
		return err
	}
	s.data = updatedData
	return nil
}
