package storage

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"coursedeck/internal/models"
)

// CreateComment records a comment on a lecture, optionally threaded under a
// parent comment on the same lecture.
func (s *Storage) CreateComment(params CreateCommentParams) (models.Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	text := strings.TrimSpace(params.CommentText)
	if text == "" {
		return models.Comment{}, errors.New("comment text is required")
	}
	if len(text) > MaxCommentLength {
		return models.Comment{}, fmt.Errorf("comment exceeds %d characters", MaxCommentLength)
	}

	updatedData := cloneDataset(s.data)

	account, ok := updatedData.Accounts[params.AccountID]
	if !ok || account.IsHidden {
		return models.Comment{}, fmt.Errorf("account %s: %w", params.AccountID, ErrNotFound)
	}
	lecture, ok := updatedData.Lectures[params.LectureID]
	if !ok || lecture.IsHidden {
		return models.Comment{}, fmt.Errorf("lecture %s: %w", params.LectureID, ErrNotFound)
	}
	if params.ParentID != "" {
		parent, ok := updatedData.Comments[params.ParentID]
		if !ok || parent.IsHidden {
			return models.Comment{}, fmt.Errorf("comment %s: %w", params.ParentID, ErrNotFound)
		}
		if parent.LectureID != params.LectureID {
			return models.Comment{}, errors.New("parent comment belongs to a different lecture")
		}
	}

	id, err := generateID()
	if err != nil {
		return models.Comment{}, err
	}
	now := time.Now().UTC()
	comment := models.Comment{
		ID:          id,
		CommentText: text,
		ParentID:    params.ParentID,
		AccountID:   params.AccountID,
		LectureID:   params.LectureID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	updatedData.Comments[id] = comment

	if err := s.persistDataset(updatedData); err != nil {
		return models.Comment{}, err
	}
	s.data = updatedData
	return comment, nil
}

func (s *Storage) GetComment(id string) (models.Comment, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	comment, ok := s.data.Comments[id]
	return comment, ok
}

// ListComments returns the visible comments on a lecture in creation order,
// replies included.
func (s *Storage) ListComments(lectureID string, includeHidden bool) []models.Comment {
	s.mu.RLock()
	defer s.mu.RUnlock()

	comments := make([]models.Comment, 0)
	for _, comment := range s.data.Comments {
		if comment.LectureID != lectureID {
			continue
		}
		if comment.IsHidden && !includeHidden {
			continue
		}
		comments = append(comments, comment)
	}
	sort.Slice(comments, func(i, j int) bool {
		if comments[i].CreatedAt.Equal(comments[j].CreatedAt) {
			return comments[i].ID < comments[j].ID
		}
		return comments[i].CreatedAt.Before(comments[j].CreatedAt)
	})
	return comments
}

// UpdateComment replaces the comment body. Only the author edits a comment;
// the handler enforces that before calling in.
func (s *Storage) UpdateComment(id, text string) (models.Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return models.Comment{}, errors.New("comment text is required")
	}
	if len(trimmed) > MaxCommentLength {
		return models.Comment{}, fmt.Errorf("comment exceeds %d characters", MaxCommentLength)
	}

	updatedData := cloneDataset(s.data)

	comment, ok := updatedData.Comments[id]
	if !ok || comment.IsHidden {
		return models.Comment{}, fmt.Errorf("comment %s: %w", id, ErrNotFound)
	}
	comment.CommentText = trimmed
	comment.UpdatedAt = time.Now().UTC()
	updatedData.Comments[id] = comment

	if err := s.persistDataset(updatedData); err != nil {
		return models.Comment{}, err
	}
	s.data = updatedData
	return comment, nil
}

// HideComment soft-deletes the comment. Replies stay visible; the client
// renders them under a placeholder.
func (s *Storage) HideComment(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	updatedData := cloneDataset(s.data)

	comment, ok := updatedData.Comments[id]
	if !ok {
		return fmt.Errorf("comment %s: %w", id, ErrNotFound)
	}
	if comment.IsHidden {
		return nil
	}
	comment.IsHidden = true
	comment.UpdatedAt = time.Now().UTC()
	updatedData.Comments[id] = comment

	if err := s.persistDataset(updatedData); err != nil {
		return err
	}
	s.data = updatedData
	return nil
}
