package uploader

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ternarybob/upstream/internal/models"
)

// State is the explicit machine state. Every phase of the upload
// lifecycle is one tagged value; there are no side flags.
type State string

const (
	StateInitial             State = "initial"
	StatePendingResumeSelect State = "pending_resume_select_file"
	StateResumeMismatch      State = "resume_mismatch_choice"
	StateReadyToUploadNew    State = "ready_to_upload_new"
	StateReadyToResume       State = "ready_to_resume_upload"
	StateUploading           State = "uploading"
	StateCompleting          State = "completing"
	StateProcessing          State = "processing"
	StateFinished            State = "finished"
)

// PendingConfirm marks a destructive action awaiting explicit
// confirmation. Confirm and Dismiss are the only transitions out.
type PendingConfirm string

const (
	ConfirmNone    PendingConfirm = ""
	ConfirmCancel  PendingConfirm = "cancel"
	ConfirmReplace PendingConfirm = "replace"
)

// FileRef describes a user-selected source file
type FileRef struct {
	Name string
	Size int64
	Path string
}

// NewFileRef builds a FileRef from a filesystem path
func NewFileRef(path string) (FileRef, error) {
	info, err := os.Stat(path)
	if err != nil {
		return FileRef{}, fmt.Errorf("failed to stat file: %w", err)
	}
	if info.IsDir() {
		return FileRef{}, fmt.Errorf("%s is a directory", path)
	}
	return FileRef{
		Name: filepath.Base(path),
		Size: info.Size(),
		Path: path,
	}, nil
}

// Open returns a reader over the source file
func (f FileRef) Open() (io.ReadSeekCloser, error) {
	r, err := os.Open(f.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", f.Path, err)
	}
	return r, nil
}

// IdentityComparator decides whether a re-selected file continues an
// existing checkpoint. The default tests name+size equality only, which
// is collision-prone for distinct files sharing both; callers needing a
// stronger fingerprint plug in their own comparator.
type IdentityComparator func(job *models.UploadJob, file FileRef) bool

// NameSizeIdentity is the default comparator
func NameSizeIdentity(job *models.UploadJob, file FileRef) bool {
	if job == nil {
		return false
	}
	return job.FileName == file.Name && job.FileSize == file.Size
}

// Snapshot is a point-in-time view of the machine for presentation.
// The view layer renders it; it carries no behavior.
type Snapshot struct {
	State              State
	Pending            PendingConfirm
	StatusMessage      string
	FileID             string
	JobID              string
	FileName           string
	UploadedChunks     int
	TotalChunks        int
	UploadPercent      float64
	ProcessingProgress float64
	ProcessingStatus   string
}

// Active reports whether a job is in flight or resumable
func (s Snapshot) Active() bool {
	return s.State != StateInitial && s.State != StateFinished
}

// Listener receives a snapshot after every state change
type Listener func(Snapshot)
