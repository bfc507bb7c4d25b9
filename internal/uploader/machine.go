package uploader

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	units "github.com/docker/go-units"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/upstream/internal/checkpoint"
	"github.com/ternarybob/upstream/internal/common"
	"github.com/ternarybob/upstream/internal/interfaces"
	"github.com/ternarybob/upstream/internal/models"
)

// Machine is the upload orchestrator. It sequences chunk transfer,
// persists the resumability checkpoint after every acknowledgment,
// reconciles re-selected files against the checkpoint, and hands off to
// the progress supervisor once the transfer completes. The checkpoint
// has a single writer at all times: the machine during uploading and
// completing, the supervisor during processing.
type Machine struct {
	protocol   *checkpoint.Protocol
	transport  interfaces.ChunkTransport
	supervisor interfaces.ProgressWatcher
	chunkSize  int64
	identity   IdentityComparator
	logger     arbor.ILogger

	mu            sync.Mutex
	state         State
	pending       PendingConfirm
	job           *models.UploadJob // In-memory mirror of the checkpoint record
	selected      *FileRef
	mismatched    *FileRef // New file held separately while the mismatch choice is open
	statusMessage string
	listener      Listener

	cancelled  atomic.Bool
	done       chan struct{}
	finishOnce sync.Once
}

// Option customizes machine construction
type Option func(*Machine)

// WithIdentity replaces the default name+size identity comparator
func WithIdentity(cmp IdentityComparator) Option {
	return func(m *Machine) { m.identity = cmp }
}

// WithListener registers a snapshot listener invoked on every state change
func WithListener(l Listener) Option {
	return func(m *Machine) { m.listener = l }
}

// NewMachine creates the upload state machine
func NewMachine(protocol *checkpoint.Protocol, transport interfaces.ChunkTransport, supervisor interfaces.ProgressWatcher, chunkSize int64, logger arbor.ILogger, opts ...Option) *Machine {
	m := &Machine{
		protocol:   protocol,
		transport:  transport,
		supervisor: supervisor,
		chunkSize:  chunkSize,
		identity:   NameSizeIdentity,
		logger:     logger,
		state:      StateInitial,
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Done is closed when the machine reaches a resting point: finished,
// cancelled, or the processing watch was lost.
func (m *Machine) Done() <-chan struct{} {
	return m.done
}

func (m *Machine) finish() {
	m.finishOnce.Do(func() { close(m.done) })
}

// Snapshot returns a point-in-time view of the machine
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Machine) snapshotLocked() Snapshot {
	s := Snapshot{
		State:         m.state,
		Pending:       m.pending,
		StatusMessage: m.statusMessage,
	}
	if m.job != nil {
		s.FileID = m.job.FileID
		s.JobID = m.job.JobID
		s.FileName = m.job.FileName
		s.UploadedChunks = m.job.UploadedChunks()
		s.TotalChunks = m.job.TotalChunks
		s.UploadPercent = m.job.UploadPercent()
		s.ProcessingProgress = m.job.ProcessingProgress
		s.ProcessingStatus = m.job.ProcessingStatus
	} else if m.selected != nil {
		s.FileName = m.selected.Name
	}
	return s
}

func (m *Machine) notifyLocked() {
	if m.listener != nil {
		snapshot := m.snapshotLocked()
		m.listener(snapshot)
	}
}

func (m *Machine) setStatusLocked(format string, args ...interface{}) {
	m.statusMessage = fmt.Sprintf(format, args...)
}

// Bootstrap computes the cold-start state from the persisted checkpoint.
// Called exactly once, before any other operation.
func (m *Machine) Bootstrap(ctx context.Context) error {
	job, err := m.protocol.Load(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if job == nil {
		m.state = StateInitial
		m.setStatusLocked("Select a video to upload.")
		m.notifyLocked()
		return nil
	}

	m.job = job

	switch job.Status {
	case models.JobStatusUploading:
		m.state = StatePendingResumeSelect
		m.setStatusLocked(
			"Found a partial upload for %q (%.0f%% uploaded). Re-select %q to continue.",
			job.FileName, job.UploadPercent(), job.FileName,
		)
	case models.JobStatusProcessing:
		m.state = StateProcessing
		m.setStatusLocked(
			"Found an in-flight processing job for %q (job %s). Reconnecting to track progress.",
			job.FileName, job.JobID,
		)
		m.startSupervisorLocked(ctx)
	}

	m.logger.Info().
		Str("state", string(m.state)).
		Str("file_id", job.FileID).
		Msg("Machine bootstrapped from checkpoint")
	m.notifyLocked()
	return nil
}

// SelectFile reconciles a selected file against the checkpoint. An empty
// FileRef models a dismissed selection dialog: the current pending state
// is kept, and any held mismatch candidates are dropped.
func (m *Machine) SelectFile(ctx context.Context, file FileRef) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if file.Name == "" {
		switch m.state {
		case StatePendingResumeSelect:
			m.setStatusLocked("Selection dismissed. Re-select %q to continue the pending upload.", m.job.FileName)
		case StateResumeMismatch:
			m.selected = nil
			m.mismatched = nil
			m.state = StatePendingResumeSelect
			m.setStatusLocked("Selection dismissed. Re-select %q to continue, or pick a new file.", m.job.FileName)
		default:
			m.selected = nil
		}
		m.notifyLocked()
		return
	}

	hasPendingUpload := m.job != nil && m.job.Status == models.JobStatusUploading

	if hasPendingUpload && m.identity(m.job, file) {
		// The re-selected file continues the existing checkpoint
		m.selected = &file
		m.mismatched = nil
		m.state = StateReadyToResume
		m.setStatusLocked(
			"Re-selected %q. Ready to continue from chunk %d of %d.",
			file.Name, m.job.UploadedChunks()+1, m.job.TotalChunks,
		)
		m.logger.Info().Str("file_id", m.job.FileID).Msg("Selected file matches pending upload checkpoint")
	} else if m.job != nil {
		// A checkpoint exists but the selection does not continue it.
		// Hold the new file separately so neither it nor the checkpoint
		// is lost until the user decides.
		m.selected = &file
		m.mismatched = &file
		m.state = StateResumeMismatch
		identifier, _ := m.job.Identifier()
		m.setStatusLocked(
			"Selected %q (%s), but %q (%s) is still in flight (job %s). Replace it or re-select the original file.",
			file.Name, units.HumanSize(float64(file.Size)),
			m.job.FileName, units.HumanSize(float64(m.job.FileSize)),
			identifier,
		)
		m.logger.Info().
			Str("selected", file.Name).
			Str("checkpoint_file", m.job.FileName).
			Msg("Selected file does not match checkpoint")
	} else {
		m.selected = &file
		m.state = StateReadyToUploadNew
		m.setStatusLocked("Selected %q (%s). Ready to upload.", file.Name, units.HumanSize(float64(file.Size)))
	}

	m.notifyLocked()
}

// uploadPlan is the immutable description of one transfer attempt,
// captured under the lock and executed outside it.
type uploadPlan struct {
	fileID   string
	fileName string
	fileSize int64
	start    int
	plan     Plan
	reader   io.ReadSeekCloser
}

// Upload commits the transfer from ready_to_upload_new or
// ready_to_resume_upload and drives the sequential chunk loop. Errors
// are turned into state transitions with a user-visible message; the
// returned error carries the same information for programmatic callers.
func (m *Machine) Upload(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateReadyToUploadNew && m.state != StateReadyToResume {
		state := m.state
		m.mu.Unlock()
		return fmt.Errorf("cannot upload from state %q", state)
	}
	if m.selected == nil {
		m.state = StateInitial
		m.setStatusLocked("No file selected. Select a video to upload.")
		m.notifyLocked()
		m.mu.Unlock()
		return fmt.Errorf("no file selected")
	}

	m.cancelled.Store(false)

	var plan *uploadPlan
	var err error
	if m.state == StateReadyToResume && m.job != nil && m.job.Status == models.JobStatusUploading && m.identity(m.job, *m.selected) {
		plan, err = m.resumePlanLocked(ctx)
	} else {
		plan, err = m.freshPlanLocked(ctx)
	}
	if err != nil {
		m.notifyLocked()
		m.mu.Unlock()
		return err
	}

	m.state = StateUploading
	m.setStatusLocked("Uploading %q from chunk %d of %d...", plan.fileName, plan.start+1, plan.plan.TotalChunks())
	m.notifyLocked()
	m.mu.Unlock()

	defer plan.reader.Close()

	if err := m.transferLoop(ctx, plan); err != nil {
		return err
	}
	if m.cancelled.Load() {
		m.logger.Info().Str("file_id", plan.fileID).Msg("Transfer loop stopped by cancellation")
		return nil
	}

	return m.complete(ctx, plan)
}

// resumePlanLocked re-opens the spooled blob for the checkpoint's file.
// The freshly re-selected file object is discarded in favor of the
// persisted blob, which is the one with continuation history. The plan
// is rebuilt from the chunk size recorded in the checkpoint, not the
// configured one: the watermark indexes chunks of the original scheme,
// and mixing schemes would corrupt the assembled file.
func (m *Machine) resumePlanLocked(ctx context.Context) (*uploadPlan, error) {
	job := m.job
	reader, err := m.protocol.Blobs().Open(job.FileID)
	if err != nil {
		// Record without payload: the pair is broken, discard it
		m.logger.Error().Err(err).Str("file_id", job.FileID).Msg("Cannot restore spooled payload for resume")
		m.protocol.Clear(ctx, job.FileID)
		m.job = nil
		m.selected = nil
		m.state = StateInitial
		m.setStatusLocked("Could not restore the saved file. Select a video to start a new upload.")
		return nil, fmt.Errorf("resume payload unavailable: %w", err)
	}

	return &uploadPlan{
		fileID:   job.FileID,
		fileName: job.FileName,
		fileSize: job.FileSize,
		start:    job.LastChunkIndex + 1,
		plan:     NewPlan(job.FileSize, job.ChunkSize),
		reader:   reader,
	}, nil
}

// freshPlanLocked mints a new upload id, spools the payload and writes
// the initial checkpoint record before the first chunk is sent. Spool or
// record failures are logged and the upload proceeds without
// resumability guarantees rather than aborting.
func (m *Machine) freshPlanLocked(ctx context.Context) (*uploadPlan, error) {
	file := *m.selected
	fileID := common.NewUploadID(file.Name, file.Size)
	plan := NewPlan(file.Size, m.chunkSize)

	source, err := file.Open()
	if err != nil {
		m.state = StateInitial
		m.setStatusLocked("Could not read %q: %v", file.Name, err)
		return nil, err
	}

	spooled := true
	if _, err := m.protocol.Blobs().Put(fileID, source); err != nil {
		m.logger.Warn().Err(err).Str("file_id", fileID).Msg("Failed to spool payload, upload will not survive a restart")
		spooled = false
	}
	source.Close()

	var reader io.ReadSeekCloser
	if spooled {
		reader, err = m.protocol.Blobs().Open(fileID)
	} else {
		reader, err = file.Open()
	}
	if err != nil {
		m.state = StateInitial
		m.setStatusLocked("Could not read %q: %v", file.Name, err)
		return nil, err
	}

	// A fresh commit supersedes whatever job the singleton record held;
	// its payload would otherwise linger until the janitor finds it.
	if m.job != nil && m.job.FileID != fileID {
		if err := m.protocol.Blobs().Delete(m.job.FileID); err != nil {
			m.logger.Warn().Err(err).Str("file_id", m.job.FileID).Msg("Failed to delete superseded payload")
		}
	}

	m.job = &models.UploadJob{
		FileID:         fileID,
		FileName:       file.Name,
		FileSize:       file.Size,
		Status:         models.JobStatusUploading,
		LastChunkIndex: -1,
		TotalChunks:    plan.TotalChunks(),
		ChunkSize:      plan.ChunkSize,
	}
	if err := m.protocol.Save(ctx, m.job); err != nil {
		m.logger.Warn().Err(err).Str("file_id", fileID).Msg("Failed to write initial checkpoint record")
	}

	m.logger.Info().
		Str("file_id", fileID).
		Int("total_chunks", plan.TotalChunks()).
		Str("size", units.HumanSize(float64(file.Size))).
		Msg("Fresh upload job created")

	return &uploadPlan{
		fileID:   fileID,
		fileName: file.Name,
		fileSize: file.Size,
		start:    0,
		plan:     plan,
		reader:   reader,
	}, nil
}

// transferLoop sends chunks strictly sequentially. A failed send halts
// immediately with the checkpoint at the last acknowledged chunk; the
// cancellation flag is checked before each send, never mid-flight.
func (m *Machine) transferLoop(ctx context.Context, p *uploadPlan) error {
	total := p.plan.TotalChunks()

	if p.start > 0 {
		start, _ := p.plan.Range(p.start)
		if _, err := p.reader.Seek(start, io.SeekStart); err != nil {
			return m.haltTransfer(p, p.start, fmt.Errorf("failed to seek to chunk %d: %w", p.start+1, err))
		}
	}

	buf := make([]byte, p.plan.ChunkSize)

	for i := p.start; i < total; i++ {
		if m.cancelled.Load() {
			return nil
		}

		chunk := buf[:p.plan.Len(i)]
		if _, err := io.ReadFull(p.reader, chunk); err != nil {
			return m.haltTransfer(p, i, fmt.Errorf("failed to read chunk %d: %w", i+1, err))
		}

		m.mu.Lock()
		m.setStatusLocked("Uploading chunk %d of %d...", i+1, total)
		m.notifyLocked()
		m.mu.Unlock()

		if err := m.transport.SendChunk(ctx, p.fileID, i, chunk); err != nil {
			return m.haltTransfer(p, i, err)
		}

		// Persist strictly after the acknowledgment: a crash between the
		// send and this save loses at most one chunk, and resending it
		// is safe because chunk sends are idempotent server-side.
		m.mu.Lock()
		if m.job != nil {
			m.job.LastChunkIndex = i
			if err := m.protocol.Save(ctx, m.job); err != nil {
				m.logger.Warn().Err(err).Int("chunk_index", i).Msg("Failed to persist checkpoint after chunk")
			}
			percent := m.job.UploadPercent()
			if percent > 99 {
				percent = 99 // Hold at 99 until completion succeeds
			}
			m.setStatusLocked("Uploaded chunk %d of %d (%.0f%%).", i+1, total, percent)
		}
		m.notifyLocked()
		m.mu.Unlock()
	}

	return nil
}

// haltTransfer records a transfer failure: the loop stops, the
// checkpoint stays at the last acknowledged chunk, and the user must
// explicitly retry from ready_to_resume_upload.
func (m *Machine) haltTransfer(p *uploadPlan, chunkIndex int, err error) error {
	m.logger.Error().Err(err).
		Str("file_id", p.fileID).
		Int("chunk_index", chunkIndex).
		Msg("Chunk transfer halted")

	m.mu.Lock()
	m.state = StateReadyToResume
	m.setStatusLocked(
		"Upload of chunk %d failed: %v. Progress is saved; check the connection and retry.",
		chunkIndex+1, err,
	)
	m.notifyLocked()
	m.mu.Unlock()

	return fmt.Errorf("chunk %d of %s: %w", chunkIndex+1, p.fileID, err)
}

// complete signals the server that all chunks were sent and hands off
// to the progress supervisor. A completion failure returns the machine
// to ready_to_upload_new with the checkpoint unchanged for manual retry.
func (m *Machine) complete(ctx context.Context, p *uploadPlan) error {
	m.mu.Lock()
	m.state = StateCompleting
	m.setStatusLocked("Finalizing upload of %q...", p.fileName)
	m.notifyLocked()
	m.mu.Unlock()

	jobID, err := m.transport.CompleteUpload(ctx, p.fileID, p.plan.TotalChunks(), p.fileName)
	if err != nil {
		m.logger.Error().Err(err).Str("file_id", p.fileID).Msg("Upload completion failed")
		m.mu.Lock()
		m.state = StateReadyToUploadNew
		m.setStatusLocked("Could not finalize the upload: %v. Retry or pick another file.", err)
		m.notifyLocked()
		m.mu.Unlock()
		return err
	}

	// The payload is no longer needed once the server assembled it.
	// Deletion failure only costs disk space; the janitor sweeps it up.
	if err := m.protocol.Blobs().Delete(p.fileID); err != nil {
		m.logger.Warn().Err(err).Str("file_id", p.fileID).Msg("Failed to delete spooled payload after completion")
	}

	m.mu.Lock()
	m.job = &models.UploadJob{
		FileID:      p.fileID,
		FileName:    p.fileName,
		FileSize:    p.fileSize,
		TotalChunks: p.plan.TotalChunks(),
		ChunkSize:   p.plan.ChunkSize,
		Status:      models.JobStatusProcessing,
		JobID:       jobID,
	}
	if err := m.protocol.Save(ctx, m.job); err != nil {
		m.logger.Warn().Err(err).Str("file_id", p.fileID).Msg("Failed to persist processing checkpoint")
	}
	m.state = StateProcessing
	m.setStatusLocked("Upload complete. Tracking processing for job %s.", jobID)
	m.startSupervisorLocked(ctx)
	m.notifyLocked()
	m.mu.Unlock()

	return nil
}

// startSupervisorLocked hands checkpoint ownership to the progress
// supervisor, which is the sole writer during processing.
func (m *Machine) startSupervisorLocked(ctx context.Context) {
	job := m.job.Clone()

	m.supervisor.Start(ctx, job, interfaces.ProgressCallbacks{
		OnEvent: func(event models.ProgressEvent) {
			m.mu.Lock()
			if m.job != nil && m.job.JobID == event.JobID {
				m.job.ProcessingProgress = event.Progress
				m.job.ProcessingStatus = event.Status
				if !event.IsTerminal() {
					m.setStatusLocked("Processing: %.0f%% (%s).", event.Progress, event.Status)
				}
			}
			m.notifyLocked()
			m.mu.Unlock()
		},
		OnTerminal: func(status string) {
			m.mu.Lock()
			jobID := ""
			if m.job != nil {
				jobID = m.job.JobID
			}
			m.state = StateFinished
			m.setStatusLocked("Processing %s for job %s.", status, jobID)
			m.notifyLocked()
			m.mu.Unlock()
			m.finish()
		},
		OnWatchLost: func(err error) {
			// Non-fatal: the server may still be working. The checkpoint
			// stays in processing so the next run re-attaches.
			m.mu.Lock()
			m.setStatusLocked("Lost the progress connection and could not reconnect. The job may still be running; restart to re-attach.")
			m.notifyLocked()
			m.mu.Unlock()
			m.finish()
		},
	})
}
