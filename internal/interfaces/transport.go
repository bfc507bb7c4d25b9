package interfaces

import "context"

// IdentifierType distinguishes which identifier a cancel request carries
type IdentifierType string

const (
	// IdentifierTypeJobID addresses a job by its server-assigned id (post-upload)
	IdentifierTypeJobID IdentifierType = "jobId"
	// IdentifierTypeFileID addresses a job by its client-side upload id (pre-completion)
	IdentifierTypeFileID IdentifierType = "fileId"
)

// ChunkTransport is the request/response surface of the upload service.
// SendChunk is idempotent at the server for a given (fileID, chunkIndex),
// which is what makes resuming from the last acknowledged chunk safe.
type ChunkTransport interface {
	// SendChunk uploads one chunk. Any error means the chunk was not acknowledged.
	SendChunk(ctx context.Context, fileID string, chunkIndex int, chunk []byte) error

	// CompleteUpload signals that all chunks were sent and returns the
	// server-assigned processing job id. An empty id is an error.
	CompleteUpload(ctx context.Context, fileID string, totalChunks int, originalFileName string) (string, error)

	// CancelJob notifies the server of a cancellation. Best-effort: the
	// caller logs failures and proceeds with local cleanup regardless.
	CancelJob(ctx context.Context, identifier string, idType IdentifierType) error
}
