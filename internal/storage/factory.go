package storage

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/upstream/internal/common"
	"github.com/ternarybob/upstream/internal/interfaces"
	"github.com/ternarybob/upstream/internal/storage/badger"
	"github.com/ternarybob/upstream/internal/storage/blobfs"
)

// Manager bundles the record database and the blob spool
type Manager struct {
	db          *badger.BadgerDB
	checkpoints interfaces.CheckpointStore
	blobs       interfaces.BlobStore
}

// NewStorageManager opens the storage backends based on config
func NewStorageManager(logger arbor.ILogger, config *common.Config) (interfaces.StorageManager, error) {
	db, err := badger.NewBadgerDB(logger, &config.Storage.Badger)
	if err != nil {
		return nil, err
	}

	blobs, err := blobfs.NewBlobStorage(&config.Storage.Filesystem, logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Manager{
		db:          db,
		checkpoints: badger.NewCheckpointStorage(db, logger),
		blobs:       blobs,
	}, nil
}

// Checkpoints returns the checkpoint record store
func (m *Manager) Checkpoints() interfaces.CheckpointStore {
	return m.checkpoints
}

// Blobs returns the blob spool
func (m *Manager) Blobs() interfaces.BlobStore {
	return m.blobs
}

// Close closes the underlying database
func (m *Manager) Close() error {
	return m.db.Close()
}
