package common

import (
	"fmt"

	"github.com/google/uuid"
)

// NewUploadID generates an upload identifier for a fresh job.
// Format: <name>-<size>-<uuid>. The name-size prefix is what resume
// matching tests against; the uuid suffix makes each attempt unique.
func NewUploadID(fileName string, fileSize int64) string {
	return fmt.Sprintf("%s-%d-%s", fileName, fileSize, uuid.New().String())
}
