package interfaces

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/ternarybob/upstream/internal/models"
)

// ErrNoCheckpoint is returned when no checkpoint record is persisted
var ErrNoCheckpoint = errors.New("no checkpoint record")

// ErrBlobNotFound is returned when a spooled payload does not exist
var ErrBlobNotFound = errors.New("blob not found")

// CheckpointStore persists the single upload job checkpoint record.
// The record is a singleton: Save overwrites whatever is stored.
type CheckpointStore interface {
	// Load returns the persisted checkpoint, or ErrNoCheckpoint
	Load(ctx context.Context) (*models.UploadJob, error)

	// Save overwrites the checkpoint record
	Save(ctx context.Context, job *models.UploadJob) error

	// Clear removes the checkpoint record. Clearing an absent record is not an error.
	Clear(ctx context.Context) error
}

// BlobInfo describes one spooled payload
type BlobInfo struct {
	FileID  string
	ModTime time.Time
}

// BlobStore persists raw upload payloads keyed by upload id so a
// transfer can continue across process restarts.
type BlobStore interface {
	// Put spools the payload for fileID, replacing any existing entry
	Put(fileID string, r io.Reader) (int64, error)

	// Open returns a reader over the spooled payload, or ErrBlobNotFound
	Open(fileID string) (io.ReadSeekCloser, error)

	// Exists reports whether a payload is spooled for fileID
	Exists(fileID string) (bool, error)

	// Delete removes the spooled payload. Deleting an absent entry is not an error.
	Delete(fileID string) error

	// List returns all spooled payloads with their last modification time
	List() ([]BlobInfo, error)
}

// StorageManager bundles the storage backends and owns their lifecycle
type StorageManager interface {
	Checkpoints() CheckpointStore
	Blobs() BlobStore
	Close() error
}
