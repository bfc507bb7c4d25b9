package blobfs

import (
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/upstream/internal/common"
	"github.com/ternarybob/upstream/internal/interfaces"
)

const blobExt = ".blob"

// BlobStorage implements the BlobStore interface on the local filesystem.
// Payloads are multi-gigabyte video files, so they are spooled as plain
// files rather than stored in the record database. Upload ids are
// base64-encoded to produce safe file names.
type BlobStorage struct {
	dir    string
	logger arbor.ILogger
}

// NewBlobStorage creates a filesystem blob store rooted at the configured directory
func NewBlobStorage(config *common.FilesystemConfig, logger arbor.ILogger) (*BlobStorage, error) {
	if err := os.MkdirAll(config.Blobs, 0755); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}
	return &BlobStorage{
		dir:    config.Blobs,
		logger: logger,
	}, nil
}

func (s *BlobStorage) path(fileID string) string {
	name := base64.RawURLEncoding.EncodeToString([]byte(fileID))
	return filepath.Join(s.dir, name+blobExt)
}

// Put spools the payload for fileID. The payload is written to a
// temporary file and renamed into place so a crash mid-write never
// leaves a half-spooled blob that Load would mistake for the real pair.
func (s *BlobStorage) Put(fileID string, r io.Reader) (int64, error) {
	target := s.path(fileID)

	tmp, err := os.CreateTemp(s.dir, "spool-*")
	if err != nil {
		return 0, fmt.Errorf("failed to create spool file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		return 0, fmt.Errorf("failed to spool blob %s: %w", fileID, err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("failed to close spool file: %w", err)
	}

	if err := os.Rename(tmp.Name(), target); err != nil {
		return 0, fmt.Errorf("failed to finalize blob %s: %w", fileID, err)
	}

	s.logger.Debug().Str("file_id", fileID).Int64("bytes", n).Msg("Blob spooled")
	return n, nil
}

// Open returns a reader over the spooled payload
func (s *BlobStorage) Open(fileID string) (io.ReadSeekCloser, error) {
	f, err := os.Open(s.path(fileID))
	if os.IsNotExist(err) {
		return nil, interfaces.ErrBlobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open blob %s: %w", fileID, err)
	}
	return f, nil
}

// Exists reports whether a payload is spooled for fileID
func (s *BlobStorage) Exists(fileID string) (bool, error) {
	_, err := os.Stat(s.path(fileID))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to stat blob %s: %w", fileID, err)
	}
	return true, nil
}

// Delete removes the spooled payload
func (s *BlobStorage) Delete(fileID string) error {
	err := os.Remove(s.path(fileID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete blob %s: %w", fileID, err)
	}
	return nil
}

// List returns all spooled payloads with their last modification time
func (s *BlobStorage) List() ([]interfaces.BlobInfo, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list blob directory: %w", err)
	}

	var infos []interfaces.BlobInfo
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), blobExt) {
			continue
		}
		raw, err := base64.RawURLEncoding.DecodeString(strings.TrimSuffix(entry.Name(), blobExt))
		if err != nil {
			s.logger.Warn().Str("entry", entry.Name()).Msg("Skipping blob with undecodable name")
			continue
		}
		fi, err := entry.Info()
		if err != nil {
			// Removed between the directory read and the stat
			continue
		}
		infos = append(infos, interfaces.BlobInfo{FileID: string(raw), ModTime: fi.ModTime()})
	}
	return infos, nil
}
