package interfaces

import (
	"context"

	"github.com/ternarybob/upstream/internal/models"
)

// ProgressCallbacks deliver progress channel outcomes back to the caller
type ProgressCallbacks struct {
	// OnEvent fires for every applied (matching) progress event
	OnEvent func(event models.ProgressEvent)
	// OnTerminal fires once when a terminal status arrives; the
	// checkpoint has already been destroyed when it runs
	OnTerminal func(status string)
	// OnWatchLost fires when reconnection attempts are exhausted.
	// Non-fatal: the job may still be running server-side.
	OnWatchLost func(err error)
}

// ProgressWatcher supervises the progress channel for one processing job
type ProgressWatcher interface {
	// Start opens the channel and watches it until a terminal status,
	// teardown, or reconnect exhaustion
	Start(ctx context.Context, job *models.UploadJob, cb ProgressCallbacks)

	// Stop tears the channel down from the client side
	Stop()
}
