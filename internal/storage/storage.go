package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"coursedeck/internal/models"
)

func newDataset() dataset {
	return dataset{
		Accounts:        make(map[string]models.Account),
		Courses:         make(map[string]models.Course),
		Sections:        make(map[string]models.Section),
		Lectures:        make(map[string]models.Lecture),
		Videos:          make(map[string]models.Video),
		Topics:          make(map[string]models.Topic),
		Enrollments:     make(map[string]models.Enrollment),
		Comments:        make(map[string]models.Comment),
		DepositRequests: make(map[string]models.DepositRequest),
	}
}

func (s *Storage) ensureDatasetInitializedLocked() {
	if s.data.Accounts == nil {
		s.data.Accounts = make(map[string]models.Account)
	}
	if s.data.Courses == nil {
		s.data.Courses = make(map[string]models.Course)
	}
	if s.data.Sections == nil {
		s.data.Sections = make(map[string]models.Section)
	}
	if s.data.Lectures == nil {
		s.data.Lectures = make(map[string]models.Lecture)
	}
	if s.data.Videos == nil {
		s.data.Videos = make(map[string]models.Video)
	}
	if s.data.Topics == nil {
		s.data.Topics = make(map[string]models.Topic)
	}
	if s.data.Enrollments == nil {
		s.data.Enrollments = make(map[string]models.Enrollment)
	}
	if s.data.Comments == nil {
		s.data.Comments = make(map[string]models.Comment)
	}
	if s.data.DepositRequests == nil {
		s.data.DepositRequests = make(map[string]models.DepositRequest)
	}
}

func NewStorage(path string, opts ...Option) (*Storage, error) {
	store := &Storage{filePath: path}
	for _, opt := range opts {
		if opt != nil {
			opt.applyJSON(store)
		}
	}
	if err := store.load(); err != nil {
		return nil, err
	}
	return store, nil
}

// Ping reports datastore health. The JSON store is always reachable once
// loaded.
func (s *Storage) Ping(ctx context.Context) error {
	return ctx.Err()
}

// ObjectStorage exposes the configured media bucket settings.
func (s *Storage) ObjectStorage() ObjectStorageConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.objectStorage
}

func (s *Storage) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.filePath), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	file, err := os.Open(s.filePath)
	if errors.Is(err, os.ErrNotExist) {
		s.data = newDataset()
		return nil
	} else if err != nil {
		return fmt.Errorf("open store file: %w", err)
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	if err := decoder.Decode(&s.data); err != nil {
		if errors.Is(err, io.EOF) {
			s.data = newDataset()
			return nil
		}
		return fmt.Errorf("decode store file: %w", err)
	}

	s.ensureDatasetInitializedLocked()

	return nil
}

func (s *Storage) persist() error {
	return s.persistDataset(s.data)
}

func (s *Storage) persistDataset(data dataset) error {
	if s.persistOverride != nil {
		if err := s.persistOverride(data); err != nil {
			return err
		}
	}

	dir := filepath.Dir(s.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, "store-*.json")
	if err != nil {
		return fmt.Errorf("create temp store file: %w", err)
	}
	tmpPath := tmpFile.Name()
	success := false
	defer func() {
		if !success {
			_ = tmpFile.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	encoder := json.NewEncoder(tmpFile)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("encode store file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("flush store file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp store file: %w", err)
	}

	if err := os.Rename(tmpPath, s.filePath); err != nil {
		return fmt.Errorf("replace store file: %w", err)
	}
	success = true
	return nil
}

// The entity structs carry no reference fields, so cloning is a shallow copy
// of each collection map.
func cloneDataset(src dataset) dataset {
	clone := newDataset()
	for id, account := range src.Accounts {
		clone.Accounts[id] = account
	}
	for id, course := range src.Courses {
		clone.Courses[id] = course
	}
	for id, section := range src.Sections {
		clone.Sections[id] = section
	}
	for id, lecture := range src.Lectures {
		clone.Lectures[id] = lecture
	}
	for id, video := range src.Videos {
		clone.Videos[id] = video
	}
	for id, topic := range src.Topics {
		clone.Topics[id] = topic
	}
	for id, enrollment := range src.Enrollments {
		clone.Enrollments[id] = enrollment
	}
	for id, comment := range src.Comments {
		clone.Comments[id] = comment
	}
	for id, deposit := range src.DepositRequests {
		clone.DepositRequests[id] = deposit
	}
	return clone
}

func normalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}

func validRole(role string) bool {
	return role == models.RoleAdmin || role == models.RoleLearner
}

// UpsertAccountFromIdentity resolves the account behind a verified identity,
// creating a learner account on first contact and refreshing profile fields
// that changed at the identity provider.
func (s *Storage) UpsertAccountFromIdentity(params CreateAccountParams) (models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := normalizeEmail(params.Email)
	if email == "" {
		return models.Account{}, errors.New("email is required")
	}

	for _, account := range s.data.Accounts {
		if account.Email != email {
			continue
		}
		if account.IsHidden {
			return models.Account{}, ErrAccountDisabled
		}
		fullName := strings.TrimSpace(params.FullName)
		avatarURL := strings.TrimSpace(params.AvatarURL)
		changed := false
		if fullName != "" && fullName != account.FullName {
			account.FullName = fullName
			changed = true
		}
		if avatarURL != "" && avatarURL != account.AvatarURL {
			account.AvatarURL = avatarURL
			changed = true
		}
		if !changed {
			return account, nil
		}
		account.UpdatedAt = time.Now().UTC()

		updatedData := cloneDataset(s.data)
		updatedData.Accounts[account.ID] = account
		if err := s.persistDataset(updatedData); err != nil {
			return models.Account{}, err
		}
		s.data = updatedData
		return account, nil
	}

	role := strings.TrimSpace(params.Role)
	if role == "" {
		role = models.RoleLearner
	}
	if !validRole(role) {
		return models.Account{}, fmt.Errorf("invalid role %s", role)
	}

	id, err := generateID()
	if err != nil {
		return models.Account{}, err
	}
	now := time.Now().UTC()
	account := models.Account{
		ID:        id,
		Email:     email,
		FullName:  strings.TrimSpace(params.FullName),
		AvatarURL: strings.TrimSpace(params.AvatarURL),
		Role:      role,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.data.Accounts[id] = account
	if err := s.persist(); err != nil {
		delete(s.data.Accounts, id)
		return models.Account{}, err
	}
	return account, nil
}

func (s *Storage) GetAccount(id string) (models.Account, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	account, ok := s.data.Accounts[id]
	return account, ok
}

// FindAccountByEmail looks up an account by its normalized email address.
func (s *Storage) FindAccountByEmail(email string) (models.Account, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	normalized := normalizeEmail(email)
	for _, account := range s.data.Accounts {
		if account.Email == normalized {
			return account, true
		}
	}
	return models.Account{}, false
}

// FindAccountByServiceKeyID looks up the account holding the given service
// key id.
func (s *Storage) FindAccountByServiceKeyID(keyID string) (models.Account, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if keyID == "" {
		return models.Account{}, false
	}
	for _, account := range s.data.Accounts {
		if account.ServiceKeyID == keyID {
			return account, true
		}
	}
	return models.Account{}, false
}

func (s *Storage) ListAccounts(includeHidden bool) []models.Account {
	s.mu.RLock()
	defer s.mu.RUnlock()

	accounts := make([]models.Account, 0, len(s.data.Accounts))
	for _, account := range s.data.Accounts {
		if account.IsHidden && !includeHidden {
			continue
		}
		accounts = append(accounts, account)
	}
	sort.Slice(accounts, func(i, j int) bool {
		if accounts[i].CreatedAt.Equal(accounts[j].CreatedAt) {
			return accounts[i].ID < accounts[j].ID
		}
		return accounts[i].CreatedAt.Before(accounts[j].CreatedAt)
	})
	return accounts
}

func (s *Storage) UpdateAccount(id string, update AccountUpdate) (models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	updatedData := cloneDataset(s.data)

	account, ok := updatedData.Accounts[id]
	if !ok {
		return models.Account{}, fmt.Errorf("account %s: %w", id, ErrNotFound)
	}

	if update.FullName != nil {
		name := strings.TrimSpace(*update.FullName)
		if name == "" {
			return models.Account{}, errors.New("fullName cannot be empty")
		}
		account.FullName = name
	}
	if update.AvatarURL != nil {
		account.AvatarURL = strings.TrimSpace(*update.AvatarURL)
	}
	if update.Role != nil {
		role := strings.TrimSpace(*update.Role)
		if !validRole(role) {
			return models.Account{}, fmt.Errorf("invalid role %s", role)
		}
		account.Role = role
	}

	account.UpdatedAt = time.Now().UTC()
	updatedData.Accounts[id] = account
	if err := s.persistDataset(updatedData); err != nil {
		return models.Account{}, err
	}
	s.data = updatedData
	return account, nil
}

// SetAccountServiceKey stores the service credential reference on the
// account, replacing any previous key.
func (s *Storage) SetAccountServiceKey(id, keyID, secretHash string) (models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if keyID == "" || secretHash == "" {
		return models.Account{}, errors.New("service key id and hash are required")
	}

	updatedData := cloneDataset(s.data)

	account, ok := updatedData.Accounts[id]
	if !ok {
		return models.Account{}, fmt.Errorf("account %s: %w", id, ErrNotFound)
	}
	for otherID, other := range updatedData.Accounts {
		if otherID != id && other.ServiceKeyID == keyID {
			return models.Account{}, fmt.Errorf("service key id %s already in use", keyID)
		}
	}

	account.ServiceKeyID = keyID
	account.ServiceKeyHash = secretHash
	account.UpdatedAt = time.Now().UTC()
	updatedData.Accounts[id] = account
	if err := s.persistDataset(updatedData); err != nil {
		return models.Account{}, err
	}
	s.data = updatedData
	return account, nil
}

// HideAccount soft-deletes the account. Existing enrollments and comments
// stay in place for audit purposes.
func (s *Storage) HideAccount(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	updatedData := cloneDataset(s.data)

	account, ok := updatedData.Accounts[id]
	if !ok {
		return fmt.Errorf("account %s: %w", id, ErrNotFound)
	}
	if account.IsHidden {
		return nil
	}
	account.IsHidden = true
	account.UpdatedAt = time.Now().UTC()
	updatedData.Accounts[id] = account

	if err := s.persistDataset(updatedData); err != nil {
		return err
	}
	s.data = updatedData
	return nil
}
