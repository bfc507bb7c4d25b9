package models

// SubscribeAction is the action field of the progress channel subscription message
const SubscribeAction = "subscribe_to_job"

// ProgressMessageType identifies server-pushed progress events
const ProgressMessageType = "progress"

// Terminal processing statuses after which no further events are expected
const (
	ProcessingCompleted = "completed"
	ProcessingFailed    = "failed"
)

// SubscribeMessage is sent by the client when the progress channel opens
type SubscribeMessage struct {
	Action string `json:"action"`
	JobID  string `json:"jobId"`
}

// ProgressEvent is a server-pushed processing update. Status carries
// free-form intermediate labels; only completed/failed are terminal.
type ProgressEvent struct {
	JobID    string  `json:"jobId"`
	Type     string  `json:"type"`
	Progress float64 `json:"progress"`
	Status   string  `json:"status"`
}

// IsTerminal reports whether the event's status ends the job
func (e *ProgressEvent) IsTerminal() bool {
	return e.Status == ProcessingCompleted || e.Status == ProcessingFailed
}
