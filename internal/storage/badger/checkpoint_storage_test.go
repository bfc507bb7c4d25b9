package badger

import (
	"context"
	"testing"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/upstream/internal/interfaces"
	"github.com/ternarybob/upstream/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

func newTestStore(t *testing.T) interfaces.CheckpointStore {
	t.Helper()

	tmpDir := t.TempDir()
	options := badgerhold.DefaultOptions
	options.Dir = tmpDir
	options.ValueDir = tmpDir
	options.Logger = nil

	store, err := badgerhold.Open(options)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	db := &BadgerDB{store: store}
	return NewCheckpointStorage(db, arbor.NewLogger())
}

func TestCheckpointLoadEmpty(t *testing.T) {
	storage := newTestStore(t)

	_, err := storage.Load(context.Background())
	if err != interfaces.ErrNoCheckpoint {
		t.Errorf("Expected ErrNoCheckpoint, got %v", err)
	}
}

func TestCheckpointSaveLoadRoundtrip(t *testing.T) {
	storage := newTestStore(t)
	ctx := context.Background()

	job := &models.UploadJob{
		FileID:         "clip.mp4-2048-aaa",
		FileName:       "clip.mp4",
		FileSize:       2048,
		Status:         models.JobStatusUploading,
		LastChunkIndex: 2,
		TotalChunks:    4,
	}
	if err := storage.Save(ctx, job); err != nil {
		t.Fatalf("Failed to save checkpoint: %v", err)
	}
	if job.Timestamp.IsZero() {
		t.Error("Expected save to stamp the record")
	}

	loaded, err := storage.Load(ctx)
	if err != nil {
		t.Fatalf("Failed to load checkpoint: %v", err)
	}
	if loaded.FileID != job.FileID {
		t.Errorf("Expected file id %q, got %q", job.FileID, loaded.FileID)
	}
	if loaded.LastChunkIndex != 2 {
		t.Errorf("Expected watermark 2, got %d", loaded.LastChunkIndex)
	}
	if loaded.Status != models.JobStatusUploading {
		t.Errorf("Expected uploading status, got %s", loaded.Status)
	}
}

func TestCheckpointIsSingleton(t *testing.T) {
	storage := newTestStore(t)
	ctx := context.Background()

	first := &models.UploadJob{
		FileID: "first.mp4-1-a", FileName: "first.mp4", FileSize: 1,
		Status: models.JobStatusUploading, LastChunkIndex: -1, TotalChunks: 1,
	}
	second := &models.UploadJob{
		FileID: "second.mp4-2-b", FileName: "second.mp4", FileSize: 2,
		Status: models.JobStatusProcessing, LastChunkIndex: 0, TotalChunks: 1, JobID: "job-9",
	}

	if err := storage.Save(ctx, first); err != nil {
		t.Fatalf("Failed to save first record: %v", err)
	}
	if err := storage.Save(ctx, second); err != nil {
		t.Fatalf("Failed to save second record: %v", err)
	}

	loaded, err := storage.Load(ctx)
	if err != nil {
		t.Fatalf("Failed to load checkpoint: %v", err)
	}
	if loaded.FileID != second.FileID {
		t.Errorf("Expected the latest record to win, got %q", loaded.FileID)
	}
	if loaded.JobID != "job-9" {
		t.Errorf("Expected job id to survive the roundtrip, got %q", loaded.JobID)
	}
}

func TestCheckpointClear(t *testing.T) {
	storage := newTestStore(t)
	ctx := context.Background()

	// Clearing an absent record is not an error
	if err := storage.Clear(ctx); err != nil {
		t.Errorf("Expected idempotent clear, got %v", err)
	}

	job := &models.UploadJob{
		FileID: "gone.mp4-1-c", FileName: "gone.mp4", FileSize: 1,
		Status: models.JobStatusUploading, LastChunkIndex: -1, TotalChunks: 1,
	}
	if err := storage.Save(ctx, job); err != nil {
		t.Fatalf("Failed to save checkpoint: %v", err)
	}
	if err := storage.Clear(ctx); err != nil {
		t.Fatalf("Failed to clear checkpoint: %v", err)
	}

	if _, err := storage.Load(ctx); err != interfaces.ErrNoCheckpoint {
		t.Errorf("Expected ErrNoCheckpoint after clear, got %v", err)
	}
}

func TestCheckpointSaveNil(t *testing.T) {
	storage := newTestStore(t)

	if err := storage.Save(context.Background(), nil); err == nil {
		t.Error("Expected an error saving a nil record")
	}
}
