package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/upstream/internal/common"
	"github.com/ternarybob/upstream/internal/interfaces"
)

// RequestError carries the server's error response for a failed request
type RequestError struct {
	Op         string // "chunk", "complete" or "cancel"
	ChunkIndex int    // -1 when not a chunk request
	StatusCode int
	Body       string
}

func (e *RequestError) Error() string {
	if e.Op == "chunk" {
		return fmt.Sprintf("chunk %d upload failed: %d - %s", e.ChunkIndex+1, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s request failed: %d - %s", e.Op, e.StatusCode, e.Body)
}

// Client implements the ChunkTransport interface over HTTP. Requests are
// never retried automatically: a failure halts the caller's loop and the
// checkpoint stays at the last acknowledged chunk.
type Client struct {
	httpClient  *http.Client
	chunkURL    string
	completeURL string
	cancelURL   string
	logger      arbor.ILogger
}

// NewClient creates the upload service client from configuration
func NewClient(config *common.TransportConfig, logger arbor.ILogger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: common.DurationOrDefault(config.Timeout, 0),
		},
		chunkURL:    config.ChunkURL,
		completeURL: config.CompleteURL,
		cancelURL:   config.CancelURL,
		logger:      logger,
	}
}

// SendChunk uploads one chunk as multipart form data with fields
// file, fileId and chunkIndex.
func (c *Client) SendChunk(ctx context.Context, fileID string, chunkIndex int, chunk []byte) error {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	part, err := w.CreateFormFile("file", fileID)
	if err != nil {
		return fmt.Errorf("failed to build chunk form: %w", err)
	}
	if _, err := part.Write(chunk); err != nil {
		return fmt.Errorf("failed to write chunk payload: %w", err)
	}
	if err := w.WriteField("fileId", fileID); err != nil {
		return fmt.Errorf("failed to write fileId field: %w", err)
	}
	if err := w.WriteField("chunkIndex", strconv.Itoa(chunkIndex)); err != nil {
		return fmt.Errorf("failed to write chunkIndex field: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finalize chunk form: %w", err)
	}

	resp, err := c.post(ctx, c.chunkURL, w.FormDataContentType(), &body)
	if err != nil {
		return fmt.Errorf("chunk %d send: %w", chunkIndex+1, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &RequestError{Op: "chunk", ChunkIndex: chunkIndex, StatusCode: resp.StatusCode, Body: readBody(resp.Body)}
	}

	c.logger.Debug().Str("file_id", fileID).Int("chunk_index", chunkIndex).Msg("Chunk acknowledged")
	return nil
}

// CompleteUpload signals completion and returns the server-assigned job
// id. The success body is the raw id as plain text, not a structured
// payload; an empty body is itself an error.
func (c *Client) CompleteUpload(ctx context.Context, fileID string, totalChunks int, originalFileName string) (string, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	for field, value := range map[string]string{
		"fileId":           fileID,
		"totalChunks":      strconv.Itoa(totalChunks),
		"originalFileName": originalFileName,
	} {
		if err := w.WriteField(field, value); err != nil {
			return "", fmt.Errorf("failed to write %s field: %w", field, err)
		}
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize complete form: %w", err)
	}

	resp, err := c.post(ctx, c.completeURL, w.FormDataContentType(), &body)
	if err != nil {
		return "", fmt.Errorf("complete upload: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &RequestError{Op: "complete", ChunkIndex: -1, StatusCode: resp.StatusCode, Body: readBody(resp.Body)}
	}

	jobID := strings.TrimSpace(readBody(resp.Body))
	if jobID == "" {
		return "", fmt.Errorf("complete upload: no job id returned")
	}

	c.logger.Info().Str("file_id", fileID).Str("job_id", jobID).Msg("Upload completion acknowledged")
	return jobID, nil
}

// cancelPayload is the structured body of a cancel request
type cancelPayload struct {
	JobIdentifier  string `json:"jobIdentifier"`
	IdentifierType string `json:"identifierType"`
}

// CancelJob notifies the server of a cancellation. The response carries
// no business meaning; failures are logged and never retried, and the
// caller proceeds with local cleanup regardless.
func (c *Client) CancelJob(ctx context.Context, identifier string, idType interfaces.IdentifierType) error {
	if identifier == "" {
		c.logger.Warn().Msg("No job identifier provided for server cancellation")
		return nil
	}

	payload, err := json.Marshal(cancelPayload{
		JobIdentifier:  identifier,
		IdentifierType: string(idType),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal cancel payload: %w", err)
	}

	resp, err := c.post(ctx, c.cancelURL, "application/json", bytes.NewReader(payload))
	if err != nil {
		c.logger.Error().Err(err).Str("identifier", identifier).Msg("Cancel request failed")
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		err := &RequestError{Op: "cancel", ChunkIndex: -1, StatusCode: resp.StatusCode, Body: readBody(resp.Body)}
		c.logger.Error().Err(err).Str("identifier", identifier).Msg("Server refused cancellation")
		return err
	}

	c.logger.Info().Str("identifier", identifier).Str("identifier_type", string(idType)).Msg("Cancellation request sent")
	return nil
}

func (c *Client) post(ctx context.Context, url, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	return c.httpClient.Do(req)
}

func readBody(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 64*1024))
	if err != nil {
		return ""
	}
	return string(data)
}

var _ interfaces.ChunkTransport = (*Client)(nil)
