package checkpoint

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/upstream/internal/interfaces"
	"github.com/ternarybob/upstream/internal/models"
)

// Protocol owns the persisted upload job checkpoint. The record and the
// spooled blob it references are a pair: a record whose blob is missing
// (or vice versa) is corrupt and gets discarded rather than continued.
// All components reach "the current job" through this accessor only.
type Protocol struct {
	records interfaces.CheckpointStore
	blobs   interfaces.BlobStore
	logger  arbor.ILogger
}

// NewProtocol creates the checkpoint protocol over the storage backends
func NewProtocol(records interfaces.CheckpointStore, blobs interfaces.BlobStore, logger arbor.ILogger) *Protocol {
	return &Protocol{
		records: records,
		blobs:   blobs,
		logger:  logger,
	}
}

// Load reads the checkpoint once at process start. It returns nil (no
// error) when no record exists or when the stored record is corrupt;
// corrupt records are cleared along with any associated blob so the
// caller always starts from a consistent slate.
func (p *Protocol) Load(ctx context.Context) (*models.UploadJob, error) {
	job, err := p.records.Load(ctx)
	if err == interfaces.ErrNoCheckpoint {
		return nil, nil
	}
	if err != nil {
		// A record that cannot be read is treated the same as a corrupt one
		p.logger.Warn().Err(err).Msg("Failed to read checkpoint record, discarding")
		p.discard(ctx, "")
		return nil, nil
	}

	if verr := job.Validate(); verr != nil {
		p.logger.Warn().Err(verr).Str("file_id", job.FileID).Msg("Corrupt checkpoint record, discarding")
		p.discard(ctx, job.FileID)
		return nil, nil
	}

	// An uploading checkpoint is useless without its payload
	if job.Status == models.JobStatusUploading {
		exists, berr := p.blobs.Exists(job.FileID)
		if berr != nil {
			p.logger.Warn().Err(berr).Str("file_id", job.FileID).Msg("Failed to check blob for checkpoint, discarding")
			p.discard(ctx, job.FileID)
			return nil, nil
		}
		if !exists {
			p.logger.Warn().Str("file_id", job.FileID).Msg("Checkpoint blob missing, discarding record")
			p.discard(ctx, job.FileID)
			return nil, nil
		}
	}

	p.logger.Info().
		Str("file_id", job.FileID).
		Str("status", string(job.Status)).
		Int("last_chunk_index", job.LastChunkIndex).
		Msg("Checkpoint loaded")
	return job, nil
}

// Save persists the record. Callers invoke it only after a successful
// transport acknowledgment, never before, so a crash between "chunk
// sent" and "record saved" loses at most the most recent chunk.
func (p *Protocol) Save(ctx context.Context, job *models.UploadJob) error {
	if err := p.records.Save(ctx, job); err != nil {
		return fmt.Errorf("checkpoint save: %w", err)
	}
	return nil
}

// Clear removes the record and, when fileID is known, the associated
// blob. Blob deletion failures are logged, not retried; the janitor
// sweep picks up anything left behind.
func (p *Protocol) Clear(ctx context.Context, fileID string) {
	if err := p.records.Clear(ctx); err != nil {
		p.logger.Warn().Err(err).Msg("Failed to clear checkpoint record")
	}
	if fileID != "" {
		if err := p.blobs.Delete(fileID); err != nil {
			p.logger.Warn().Err(err).Str("file_id", fileID).Msg("Failed to delete blob during clear")
		}
	}
}

// Current returns the live checkpoint record, or nil when none exists.
// Unlike Load it performs no corruption handling; it is the read-only
// accessor for components like the janitor.
func (p *Protocol) Current(ctx context.Context) *models.UploadJob {
	job, err := p.records.Load(ctx)
	if err != nil {
		return nil
	}
	return job
}

// Blobs exposes the blob store for components that spool or read payloads
func (p *Protocol) Blobs() interfaces.BlobStore {
	return p.blobs
}

func (p *Protocol) discard(ctx context.Context, fileID string) {
	p.Clear(ctx, fileID)
}
