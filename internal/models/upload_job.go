package models

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// JobStatus represents the lifecycle phase of the persisted upload job
type JobStatus string

const (
	// JobStatusUploading means chunk transfer is in progress or resumable
	JobStatusUploading JobStatus = "uploading"
	// JobStatusProcessing means the transfer completed and the server is processing
	JobStatusProcessing JobStatus = "processing"
)

// UploadJob is the single persisted checkpoint record describing the
// active job. At most one exists at any time; the record and the blob
// it references are a pair - if either is lost the job is discarded.
type UploadJob struct {
	FileID             string    `json:"fileId" validate:"required"`
	FileName           string    `json:"fileName" validate:"required"`
	FileSize           int64     `json:"fileSize" validate:"gt=0"`
	Status             JobStatus `json:"status" validate:"required,oneof=uploading processing"`
	LastChunkIndex     int       `json:"lastChunkIndex" validate:"gte=-1"` // High-water mark of the last acknowledged chunk; -1 before any chunk is sent
	TotalChunks        int       `json:"totalChunks" validate:"gt=0"`
	ChunkSize          int64     `json:"chunkSize"` // Chunk size the transfer was started with; a resume must reuse it
	JobID              string    `json:"jobId,omitempty"` // Server-assigned id, set only once processing starts
	ProcessingProgress float64   `json:"processingProgress,omitempty"`
	ProcessingStatus   string    `json:"processingStatus,omitempty"`
	Timestamp          time.Time `json:"timestamp"` // Last mutation time, advisory only
}

var validate = validator.New()

// Validate checks the record for the invariants a loadable checkpoint
// must satisfy. A record failing validation is treated as corrupt.
func (j *UploadJob) Validate() error {
	if err := validate.Struct(j); err != nil {
		return fmt.Errorf("invalid upload job record: %w", err)
	}
	switch j.Status {
	case JobStatusUploading:
		if j.LastChunkIndex >= j.TotalChunks {
			return fmt.Errorf("invalid upload job record: lastChunkIndex %d >= totalChunks %d", j.LastChunkIndex, j.TotalChunks)
		}
		if j.ChunkSize <= 0 {
			return fmt.Errorf("invalid upload job record: uploading status without chunk size")
		}
		// The watermark only means something under the scheme it was
		// recorded with; a record whose totals disagree is corrupt.
		if expected := int((j.FileSize + j.ChunkSize - 1) / j.ChunkSize); expected != j.TotalChunks {
			return fmt.Errorf("invalid upload job record: totalChunks %d does not match size %d at chunk size %d", j.TotalChunks, j.FileSize, j.ChunkSize)
		}
	case JobStatusProcessing:
		if j.JobID == "" {
			return fmt.Errorf("invalid upload job record: processing status without jobId")
		}
	}
	return nil
}

// Clone returns a deep copy of the record
func (j *UploadJob) Clone() *UploadJob {
	if j == nil {
		return nil
	}
	c := *j
	return &c
}

// Identifier returns the identifier to report to the server, favoring
// the server-assigned job id over the client-side upload id.
func (j *UploadJob) Identifier() (string, bool) {
	if j == nil {
		return "", false
	}
	if j.JobID != "" {
		return j.JobID, true
	}
	return j.FileID, false
}

// UploadedChunks returns how many chunks have been acknowledged
func (j *UploadJob) UploadedChunks() int {
	return j.LastChunkIndex + 1
}

// UploadPercent returns the acknowledged share of the transfer, 0-100
func (j *UploadJob) UploadPercent() float64 {
	if j.TotalChunks <= 0 {
		return 0
	}
	return float64(j.UploadedChunks()) / float64(j.TotalChunks) * 100
}
