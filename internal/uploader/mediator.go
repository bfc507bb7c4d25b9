package uploader

import (
	"context"
	"fmt"

	"github.com/ternarybob/upstream/internal/interfaces"
	"github.com/ternarybob/upstream/internal/models"
)

// Destructive actions are two-phase: an intent only marks a pending
// confirmation, a separate confirm performs the effect. Confirm and
// Dismiss are the only transitions out of a pending confirmation.

// RequestCancel marks cancellation as pending confirmation. Valid from
// any state with an active or resumable job.
func (m *Machine) RequestCancel() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateInitial || m.state == StateFinished {
		return fmt.Errorf("nothing to cancel in state %q", m.state)
	}
	m.pending = ConfirmCancel
	m.notifyLocked()
	return nil
}

// RequestReplace marks "replace the active job with the held new file"
// as pending confirmation. Only valid while the mismatch choice is open.
func (m *Machine) RequestReplace() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateResumeMismatch {
		return fmt.Errorf("no mismatch choice open in state %q", m.state)
	}
	if m.mismatched == nil {
		return fmt.Errorf("no held file to replace with")
	}
	m.pending = ConfirmReplace
	m.notifyLocked()
	return nil
}

// Dismiss drops the pending confirmation, leaving the machine where it was
func (m *Machine) Dismiss() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.pending = ConfirmNone
	m.notifyLocked()
}

// ConfirmCancel performs the confirmed cancellation: best-effort server
// notification, checkpoint and blob destruction, channel teardown, and
// a reset to the initial state.
func (m *Machine) ConfirmCancel(ctx context.Context) {
	m.mu.Lock()
	if m.pending != ConfirmCancel {
		m.mu.Unlock()
		return
	}
	m.pending = ConfirmNone
	m.setStatusLocked("Cancelling...")
	m.notifyLocked()
	job := m.job.Clone()
	m.mu.Unlock()

	m.cancelled.Store(true)
	m.notifyServerCancel(ctx, job)
	m.teardown(ctx, job)

	m.mu.Lock()
	m.state = StateInitial
	m.setStatusLocked("Upload cancelled by user.")
	m.notifyLocked()
	m.mu.Unlock()

	m.finish()
}

// ConfirmReplace performs the confirmed replacement: the old job is
// cancelled (server notified, checkpoint destroyed), then the held new
// file is committed as a fresh job.
func (m *Machine) ConfirmReplace(ctx context.Context) error {
	m.mu.Lock()
	if m.pending != ConfirmReplace {
		m.mu.Unlock()
		return fmt.Errorf("replace is not pending confirmation")
	}
	m.pending = ConfirmNone
	held := m.mismatched
	job := m.job.Clone()
	m.mu.Unlock()

	if held == nil {
		m.mu.Lock()
		m.state = StateInitial
		m.setStatusLocked("The new file is no longer available. Select a video to upload.")
		m.notifyLocked()
		m.mu.Unlock()
		return fmt.Errorf("no held file to replace with")
	}

	if job != nil {
		m.logger.Info().
			Str("file_id", job.FileID).
			Msg("Cancelling old job before starting replacement upload")
		m.notifyServerCancel(ctx, job)
		m.teardown(ctx, job)
	}

	m.mu.Lock()
	m.selected = held
	m.mismatched = nil
	m.state = StateReadyToUploadNew
	m.setStatusLocked("Preparing to upload %q...", held.Name)
	m.notifyLocked()
	m.mu.Unlock()

	return m.Upload(ctx)
}

// KeepOriginal resolves the mismatch choice in favor of the existing
// checkpoint: the held file is dropped and the user is re-prompted for
// the original file.
func (m *Machine) KeepOriginal() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateResumeMismatch {
		return fmt.Errorf("no mismatch choice open in state %q", m.state)
	}
	m.selected = nil
	m.mismatched = nil
	m.pending = ConfirmNone
	m.state = StatePendingResumeSelect
	m.setStatusLocked("Re-select %q to continue the pending upload.", m.job.FileName)
	m.notifyLocked()
	return nil
}

// notifyServerCancel reports the cancellation to the server, favoring
// the server-assigned job id over the upload id. Best-effort only:
// failures are logged by the transport and never block local cleanup.
func (m *Machine) notifyServerCancel(ctx context.Context, job *models.UploadJob) {
	if job == nil {
		m.logger.Info().Msg("No active job to cancel on server")
		return
	}
	identifier, isJobID := job.Identifier()
	idType := interfaces.IdentifierTypeFileID
	if isJobID {
		idType = interfaces.IdentifierTypeJobID
	}
	_ = m.transport.CancelJob(ctx, identifier, idType)
}

// teardown destroys the local job pair and closes the progress channel
func (m *Machine) teardown(ctx context.Context, job *models.UploadJob) {
	m.supervisor.Stop()

	fileID := ""
	if job != nil {
		fileID = job.FileID
	}
	m.protocol.Clear(ctx, fileID)

	m.mu.Lock()
	m.job = nil
	m.selected = nil
	m.mu.Unlock()
}
