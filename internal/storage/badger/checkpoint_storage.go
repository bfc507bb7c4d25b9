package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/upstream/internal/interfaces"
	"github.com/ternarybob/upstream/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// checkpointKey is the singleton key under which the upload job record
// lives. Exactly one record exists at any time by construction.
const checkpointKey = "current_upload_job"

// CheckpointStorage implements the CheckpointStore interface for Badger
type CheckpointStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewCheckpointStorage creates a new CheckpointStorage instance
func NewCheckpointStorage(db *BadgerDB, logger arbor.ILogger) interfaces.CheckpointStore {
	return &CheckpointStorage{
		db:     db,
		logger: logger,
	}
}

// Load retrieves the persisted checkpoint record
func (s *CheckpointStorage) Load(ctx context.Context) (*models.UploadJob, error) {
	var job models.UploadJob
	err := s.db.Store().Get(checkpointKey, &job)
	if err == badgerhold.ErrNotFound {
		return nil, interfaces.ErrNoCheckpoint
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint record: %w", err)
	}
	return &job, nil
}

// Save overwrites the checkpoint record
func (s *CheckpointStorage) Save(ctx context.Context, job *models.UploadJob) error {
	if job == nil {
		return fmt.Errorf("cannot save nil checkpoint record")
	}
	job.Timestamp = time.Now()

	if err := s.db.Store().Upsert(checkpointKey, job); err != nil {
		return fmt.Errorf("failed to save checkpoint record: %w", err)
	}
	return nil
}

// Clear removes the checkpoint record
func (s *CheckpointStorage) Clear(ctx context.Context) error {
	err := s.db.Store().Delete(checkpointKey, &models.UploadJob{})
	if err == badgerhold.ErrNotFound {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to clear checkpoint record: %w", err)
	}
	s.logger.Debug().Msg("Checkpoint record cleared")
	return nil
}
