package blobfs

import (
	"bytes"
	"io"
	"testing"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/upstream/internal/common"
	"github.com/ternarybob/upstream/internal/interfaces"
)

func newTestStorage(t *testing.T) *BlobStorage {
	t.Helper()
	storage, err := NewBlobStorage(&common.FilesystemConfig{Blobs: t.TempDir()}, arbor.NewLogger())
	if err != nil {
		t.Fatalf("Failed to create blob storage: %v", err)
	}
	return storage
}

func TestBlobPutOpenRoundtrip(t *testing.T) {
	storage := newTestStorage(t)
	payload := []byte("not actually a video, but the bytes do not care")

	// Upload ids contain characters unsafe in file names
	fileID := "my video.mp4-1234-550e8400/with/slashes"

	n, err := storage.Put(fileID, bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("Failed to put blob: %v", err)
	}
	if n != int64(len(payload)) {
		t.Errorf("Expected %d bytes written, got %d", len(payload), n)
	}

	r, err := storage.Open(fileID)
	if err != nil {
		t.Fatalf("Failed to open blob: %v", err)
	}
	defer r.Close()

	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("Failed to read blob: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("Blob roundtrip mismatch: got %q, want %q", got, payload)
	}
}

func TestBlobOpenSupportsSeek(t *testing.T) {
	storage := newTestStorage(t)
	payload := []byte("0123456789")

	if _, err := storage.Put("seek-test", bytes.NewReader(payload)); err != nil {
		t.Fatalf("Failed to put blob: %v", err)
	}

	r, err := storage.Open("seek-test")
	if err != nil {
		t.Fatalf("Failed to open blob: %v", err)
	}
	defer r.Close()

	if _, err := r.Seek(4, io.SeekStart); err != nil {
		t.Fatalf("Failed to seek: %v", err)
	}
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("Failed to read after seek: %v", err)
	}
	if string(got) != "456789" {
		t.Errorf("Expected tail after seek, got %q", got)
	}
}

func TestBlobOpenMissing(t *testing.T) {
	storage := newTestStorage(t)

	if _, err := storage.Open("never-spooled"); err != interfaces.ErrBlobNotFound {
		t.Errorf("Expected ErrBlobNotFound, got %v", err)
	}
}

func TestBlobExistsAndDelete(t *testing.T) {
	storage := newTestStorage(t)

	if _, err := storage.Put("a", bytes.NewReader([]byte("x"))); err != nil {
		t.Fatalf("Failed to put blob: %v", err)
	}

	exists, err := storage.Exists("a")
	if err != nil {
		t.Fatalf("Failed to check existence: %v", err)
	}
	if !exists {
		t.Error("Expected blob to exist")
	}

	if err := storage.Delete("a"); err != nil {
		t.Fatalf("Failed to delete blob: %v", err)
	}
	exists, err = storage.Exists("a")
	if err != nil {
		t.Fatalf("Failed to check existence after delete: %v", err)
	}
	if exists {
		t.Error("Expected blob to be gone after delete")
	}

	// Deleting an absent blob is not an error
	if err := storage.Delete("a"); err != nil {
		t.Errorf("Expected idempotent delete, got %v", err)
	}
}

func TestBlobPutReplaces(t *testing.T) {
	storage := newTestStorage(t)

	if _, err := storage.Put("r", bytes.NewReader([]byte("first"))); err != nil {
		t.Fatalf("Failed to put blob: %v", err)
	}
	if _, err := storage.Put("r", bytes.NewReader([]byte("second"))); err != nil {
		t.Fatalf("Failed to replace blob: %v", err)
	}

	r, err := storage.Open("r")
	if err != nil {
		t.Fatalf("Failed to open blob: %v", err)
	}
	defer r.Close()
	got, _ := io.ReadAll(r)
	if string(got) != "second" {
		t.Errorf("Expected replaced content, got %q", got)
	}
}

func TestBlobList(t *testing.T) {
	storage := newTestStorage(t)

	ids := []string{"video-1", "video-2", "name with spaces-3"}
	for _, id := range ids {
		if _, err := storage.Put(id, bytes.NewReader([]byte(id))); err != nil {
			t.Fatalf("Failed to put blob %s: %v", id, err)
		}
	}

	listed, err := storage.List()
	if err != nil {
		t.Fatalf("Failed to list blobs: %v", err)
	}
	if len(listed) != len(ids) {
		t.Fatalf("Expected %d blobs, got %d: %v", len(ids), len(listed), listed)
	}

	found := make(map[string]bool)
	for _, info := range listed {
		found[info.FileID] = true
		if info.ModTime.IsZero() {
			t.Errorf("Expected a modification time for %q", info.FileID)
		}
	}
	for _, id := range ids {
		if !found[id] {
			t.Errorf("Expected %q in listing, got %v", id, listed)
		}
	}
}
