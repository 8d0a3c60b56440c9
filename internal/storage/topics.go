package storage

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"coursedeck/internal/models"
)

// CreateTopic registers a downloadable topic. The attachment itself arrives
// later through SetTopicFile once the upload completes.
func (s *Storage) CreateTopic(params CreateTopicParams) (models.Topic, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	title, err := validateTitle(params.Title)
	if err != nil {
		return models.Topic{}, err
	}
	topicType := strings.TrimSpace(params.TopicType)
	if topicType == "" {
		return models.Topic{}, errors.New("topic type is required")
	}

	id, err := generateID()
	if err != nil {
		return models.Topic{}, err
	}
	now := time.Now().UTC()
	topic := models.Topic{
		ID:        id,
		Title:     title,
		TopicType: topicType,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.data.Topics[id] = topic
	if err := s.persist(); err != nil {
		delete(s.data.Topics, id)
		return models.Topic{}, err
	}
	return topic, nil
}

func (s *Storage) GetTopic(id string) (models.Topic, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	topic, ok := s.data.Topics[id]
	return topic, ok
}

func (s *Storage) ListTopics(includeHidden bool) []models.Topic {
	s.mu.RLock()
	defer s.mu.RUnlock()

	topics := make([]models.Topic, 0, len(s.data.Topics))
	for _, topic := range s.data.Topics {
		if topic.IsHidden && !includeHidden {
			continue
		}
		topics = append(topics, topic)
	}
	sort.Slice(topics, func(i, j int) bool {
		if topics[i].CreatedAt.Equal(topics[j].CreatedAt) {
			return topics[i].ID < topics[j].ID
		}
		return topics[i].CreatedAt.Before(topics[j].CreatedAt)
	})
	return topics
}

func (s *Storage) UpdateTopic(id string, update TopicUpdate) (models.Topic, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	updatedData := cloneDataset(s.data)

	topic, ok := updatedData.Topics[id]
	if !ok {
		return models.Topic{}, fmt.Errorf("topic %s: %w", id, ErrNotFound)
	}

	if update.Title != nil {
		title, err := validateTitle(*update.Title)
		if err != nil {
			return models.Topic{}, err
		}
		topic.Title = title
	}
	if update.TopicType != nil {
		topicType := strings.TrimSpace(*update.TopicType)
		if topicType == "" {
			return models.Topic{}, errors.New("topic type is required")
		}
		topic.TopicType = topicType
	}

	topic.UpdatedAt = time.Now().UTC()
	updatedData.Topics[id] = topic
	if err := s.persistDataset(updatedData); err != nil {
		return models.Topic{}, err
	}
	s.data = updatedData
	return topic, nil
}

// SetTopicFile records the object-store key and original name of the topic
// attachment, replacing any previous one.
func (s *Storage) SetTopicFile(id, key, fileName string) (models.Topic, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if key == "" || fileName == "" {
		return models.Topic{}, errors.New("file key and name are required")
	}

	updatedData := cloneDataset(s.data)

	topic, ok := updatedData.Topics[id]
	if !ok {
		return models.Topic{}, fmt.Errorf("topic %s: %w", id, ErrNotFound)
	}
	topic.FileKey = key
	topic.FileName = fileName
	topic.UpdatedAt = time.Now().UTC()
	updatedData.Topics[id] = topic
	if err := s.persistDataset(updatedData); err != nil {
		return models.Topic{}, err
	}
	s.data = updatedData
	return topic, nil
}

func (s *Storage) HideTopic(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	updatedData := cloneDataset(s.data)

	topic, ok := updatedData.Topics[id]
	if !ok {
		return fmt.Errorf("topic %s: %w", id, ErrNotFound)
	}
	if topic.IsHidden {
		return nil
	}
	topic.IsHidden = true
	topic.UpdatedAt = time.Now().UTC()
	updatedData.Topics[id] = topic

	if err := s.persistDataset(updatedData); err != nil {
		return err
	}
	s.data = updatedData
	return nil
}
