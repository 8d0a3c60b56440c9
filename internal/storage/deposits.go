package storage

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"coursedeck/internal/models"
)

// CreateDepositRequest opens a pending balance top-up request for a learner.
func (s *Storage) CreateDepositRequest(params CreateDepositParams) (models.DepositRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if params.Amount.IsZero() || params.Amount.IsNegative() {
		return models.DepositRequest{}, errors.New("amount must be positive")
	}

	updatedData := cloneDataset(s.data)

	learner, ok := updatedData.Accounts[params.LearnerID]
	if !ok || learner.IsHidden {
		return models.DepositRequest{}, fmt.Errorf("account %s: %w", params.LearnerID, ErrNotFound)
	}

	id, err := generateID()
	if err != nil {
		return models.DepositRequest{}, err
	}
	now := time.Now().UTC()
	deposit := models.DepositRequest{
		ID:        id,
		LearnerID: params.LearnerID,
		Amount:    params.Amount,
		Status:    models.DepositPending,
		ImageKey:  params.ImageKey,
		CreatedAt: now,
		UpdatedAt: now,
	}
	updatedData.DepositRequests[id] = deposit

	if err := s.persistDataset(updatedData); err != nil {
		return models.DepositRequest{}, err
	}
	s.data = updatedData
	return deposit, nil
}

func (s *Storage) GetDepositRequest(id string) (models.DepositRequest, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	deposit, ok := s.data.DepositRequests[id]
	return deposit, ok
}

// ListDepositRequests returns deposit requests ordered by creation time.
// Passing an empty learnerID lists every learner's requests.
func (s *Storage) ListDepositRequests(learnerID string, includeHidden bool) []models.DepositRequest {
	s.mu.RLock()
	defer s.mu.RUnlock()

	deposits := make([]models.DepositRequest, 0)
	for _, deposit := range s.data.DepositRequests {
		if learnerID != "" && deposit.LearnerID != learnerID {
			continue
		}
		if deposit.IsHidden && !includeHidden {
			continue
		}
		deposits = append(deposits, deposit)
	}
	sort.Slice(deposits, func(i, j int) bool {
		if deposits[i].CreatedAt.Equal(deposits[j].CreatedAt) {
			return deposits[i].ID < deposits[j].ID
		}
		return deposits[i].CreatedAt.Before(deposits[j].CreatedAt)
	})
	return deposits
}

// SetDepositImage attaches the payment-proof image key to a pending request.
func (s *Storage) SetDepositImage(id, key string) (models.DepositRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if key == "" {
		return models.DepositRequest{}, errors.New("image key is required")
	}

	updatedData := cloneDataset(s.data)

	deposit, ok := updatedData.DepositRequests[id]
	if !ok || deposit.IsHidden {
		return models.DepositRequest{}, fmt.Errorf("deposit request %s: %w", id, ErrNotFound)
	}
	if deposit.Status != models.DepositPending {
		return models.DepositRequest{}, ErrDepositSettled
	}
	deposit.ImageKey = key
	deposit.UpdatedAt = time.Now().UTC()
	updatedData.DepositRequests[id] = deposit

	if err := s.persistDataset(updatedData); err != nil {
		return models.DepositRequest{}, err
	}
	s.data = updatedData
	return deposit, nil
}

// ConfirmDepositRequest settles a pending request and credits the learner's
// balance in the same persist, so a crash cannot confirm without crediting.
func (s *Storage) ConfirmDepositRequest(id string) (models.DepositRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	updatedData := cloneDataset(s.data)

	deposit, ok := updatedData.DepositRequests[id]
	if !ok || deposit.IsHidden {
		return models.DepositRequest{}, fmt.Errorf("deposit request %s: %w", id, ErrNotFound)
	}
	if deposit.Status != models.DepositPending {
		return models.DepositRequest{}, ErrDepositSettled
	}
	learner, ok := updatedData.Accounts[deposit.LearnerID]
	if !ok {
		return models.DepositRequest{}, fmt.Errorf("account %s: %w", deposit.LearnerID, ErrNotFound)
	}

	now := time.Now().UTC()
	deposit.Status = models.DepositConfirmed
	deposit.UpdatedAt = now
	updatedData.DepositRequests[id] = deposit

	learner.Balance = learner.Balance.Add(deposit.Amount)
	learner.UpdatedAt = now
	updatedData.Accounts[learner.ID] = learner

	if err := s.persistDataset(updatedData); err != nil {
		return models.DepositRequest{}, err
	}
	s.data = updatedData
	return deposit, nil
}

// DenyDepositRequest settles a pending request without crediting anything.
func (s *Storage) DenyDepositRequest(id string) (models.DepositRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	updatedData := cloneDataset(s.data)

	deposit, ok := updatedData.DepositRequests[id]
	if !ok || deposit.IsHidden {
		return models.DepositRequest{}, fmt.Errorf("deposit request %s: %w", id, ErrNotFound)
	}
	if deposit.Status != models.DepositPending {
		return models.DepositRequest{}, ErrDepositSettled
	}

	deposit.Status = models.DepositDenied
	deposit.UpdatedAt = time.Now().UTC()
	updatedData.DepositRequests[id] = deposit

	if err := s.persistDataset(updatedData); err != nil {
		return models.DepositRequest{}, err
	}
	s.data = updatedData
	return deposit, nil
}

// HideDepositRequest soft-deletes the request without touching any balance.
func (s *Storage) HideDepositRequest(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	updatedData := cloneDataset(s.data)

	deposit, ok := updatedData.DepositRequests[id]
	if !ok {
		return fmt.Errorf("deposit request %s: %w", id, ErrNotFound)
	}
	if deposit.IsHidden {
		return nil
	}
	deposit.IsHidden = true
	deposit.UpdatedAt = time.Now().UTC()
	updatedData.DepositRequests[id] = deposit

	if err := s.persistDataset(updatedData); err != nil {
		return err
	}
	s.data = updatedData
	return nil
}
