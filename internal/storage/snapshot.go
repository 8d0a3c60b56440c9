package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"coursedeck/internal/models"
)

// Snapshot captures a complete JSON-serialisable view of the datastore,
// grouping each model collection by its primary identifier so it can be
// persisted and later replayed into another backing store.
type Snapshot struct {
	Accounts        map[string]models.Account        `json:"accounts"`
	Courses         map[string]models.Course         `json:"courses"`
	Sections        map[string]models.Section        `json:"sections"`
	Lectures        map[string]models.Lecture        `json:"lectures"`
	Videos          map[string]models.Video          `json:"videos"`
	Topics          map[string]models.Topic          `json:"topics"`
	Enrollments     map[string]models.Enrollment     `json:"enrollments"`
	Comments        map[string]models.Comment        `json:"comments"`
	DepositRequests map[string]models.DepositRequest `json:"depositRequests"`
}

// SnapshotCounts summarises the size of each collection stored in a Snapshot
// to help operators understand how much data will be imported.
type SnapshotCounts struct {
	Accounts        int
	Courses         int
	Sections        int
	Lectures        int
	Videos          int
	Topics          int
	Enrollments     int
	Comments        int
	DepositRequests int
}

// LoadSnapshotFromJSON reads a previously exported Snapshot from disk. The
// JSON store file uses the same shape, so a store file imports directly.
func LoadSnapshotFromJSON(path string) (*Snapshot, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open snapshot %s: %w", path, err)
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	var snapshot Snapshot
	if err := decoder.Decode(&snapshot); err != nil {
		if err == io.EOF {
			snapshot.ensureInitialized()
			return &snapshot, nil
		}
		return nil, fmt.Errorf("decode snapshot %s: %w", path, err)
	}
	snapshot.ensureInitialized()
	return &snapshot, nil
}

func (s *Snapshot) ensureInitialized() {
	if s.Accounts == nil {
		s.Accounts = make(map[string]models.Account)
	}
	if s.Courses == nil {
		s.Courses = make(map[string]models.Course)
	}
	if s.Sections == nil {
		s.Sections = make(map[string]models.Section)
	}
	if s.Lectures == nil {
		s.Lectures = make(map[string]models.Lecture)
	}
	if s.Videos == nil {
		s.Videos = make(map[string]models.Video)
	}
	if s.Topics == nil {
		s.Topics = make(map[string]models.Topic)
	}
	if s.Enrollments == nil {
		s.Enrollments = make(map[string]models.Enrollment)
	}
	if s.Comments == nil {
		s.Comments = make(map[string]models.Comment)
	}
	if s.DepositRequests == nil {
		s.DepositRequests = make(map[string]models.DepositRequest)
	}
}

// Counts walks a Snapshot and returns the SnapshotCounts summary.
func (s *Snapshot) Counts() SnapshotCounts {
	if s == nil {
		return SnapshotCounts{}
	}
	return SnapshotCounts{
		Accounts:        len(s.Accounts),
		Courses:         len(s.Courses),
		Sections:        len(s.Sections),
		Lectures:        len(s.Lectures),
		Videos:          len(s.Videos),
		Topics:          len(s.Topics),
		Enrollments:     len(s.Enrollments),
		Comments:        len(s.Comments),
		DepositRequests: len(s.DepositRequests),
	}
}

// ImportSnapshotToPostgres hands a Snapshot to the postgresRepository so the
// serialised datastore state can be bulk-loaded into Postgres.
func ImportSnapshotToPostgres(ctx context.Context, repo Repository, snapshot *Snapshot) error {
	if snapshot == nil {
		return fmt.Errorf("snapshot is required")
	}
	pgRepo, ok := repo.(*postgresRepository)
	if !ok {
		return fmt.Errorf("postgres repository required for snapshot import")
	}
	snapshot.ensureInitialized()
	return pgRepo.importSnapshot(ctx, snapshot)
}
