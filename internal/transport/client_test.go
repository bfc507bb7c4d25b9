package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/upstream/internal/common"
	"github.com/ternarybob/upstream/internal/interfaces"
)

func newTestClient(chunkURL, completeURL, cancelURL string) *Client {
	return NewClient(&common.TransportConfig{
		ChunkURL:    chunkURL,
		CompleteURL: completeURL,
		CancelURL:   cancelURL,
	}, arbor.NewLogger())
}

func TestSendChunkMultipartFields(t *testing.T) {
	var gotFileID, gotIndex string
	var gotChunk []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		gotFileID = r.FormValue("fileId")
		gotIndex = r.FormValue("chunkIndex")

		file, _, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		gotChunk, err = io.ReadAll(file)
		require.NoError(t, err)

		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL, srv.URL, srv.URL)
	err := client.SendChunk(context.Background(), "vid-1024-abc", 7, []byte("chunk payload"))

	require.NoError(t, err)
	assert.Equal(t, "vid-1024-abc", gotFileID)
	assert.Equal(t, "7", gotIndex)
	assert.Equal(t, []byte("chunk payload"), gotChunk)
}

func TestSendChunkServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInsufficientStorage)
		io.WriteString(w, "disk full")
	}))
	defer srv.Close()

	client := newTestClient(srv.URL, srv.URL, srv.URL)
	err := client.SendChunk(context.Background(), "vid", 2, []byte("x"))

	require.Error(t, err)
	var reqErr *RequestError
	require.True(t, errors.As(err, &reqErr))
	assert.Equal(t, "chunk", reqErr.Op)
	assert.Equal(t, 2, reqErr.ChunkIndex)
	assert.Equal(t, http.StatusInsufficientStorage, reqErr.StatusCode)
	assert.Equal(t, "disk full", reqErr.Body)
}

func TestCompleteUploadReturnsJobID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "vid-1024-abc", r.FormValue("fileId"))
		assert.Equal(t, "12", r.FormValue("totalChunks"))
		assert.Equal(t, "holiday.mp4", r.FormValue("originalFileName"))

		// The success body is the raw id, whitespace and all
		io.WriteString(w, "  job-7781 \n")
	}))
	defer srv.Close()

	client := newTestClient(srv.URL, srv.URL, srv.URL)
	jobID, err := client.CompleteUpload(context.Background(), "vid-1024-abc", 12, "holiday.mp4")

	require.NoError(t, err)
	assert.Equal(t, "job-7781", jobID)
}

func TestCompleteUploadEmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL, srv.URL, srv.URL)
	_, err := client.CompleteUpload(context.Background(), "vid", 1, "a.mp4")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "no job id returned")
}

func TestCompleteUploadServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "missing chunks", http.StatusConflict)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL, srv.URL, srv.URL)
	_, err := client.CompleteUpload(context.Background(), "vid", 1, "a.mp4")

	var reqErr *RequestError
	require.True(t, errors.As(err, &reqErr))
	assert.Equal(t, "complete", reqErr.Op)
	assert.Equal(t, http.StatusConflict, reqErr.StatusCode)
}

func TestCancelJobPayload(t *testing.T) {
	var got cancelPayload

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL, srv.URL, srv.URL)
	err := client.CancelJob(context.Background(), "job-42", interfaces.IdentifierTypeJobID)

	require.NoError(t, err)
	assert.Equal(t, "job-42", got.JobIdentifier)
	assert.Equal(t, "jobId", got.IdentifierType)
}

func TestCancelJobByFileID(t *testing.T) {
	var got cancelPayload

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL, srv.URL, srv.URL)
	require.NoError(t, client.CancelJob(context.Background(), "vid-1024-abc", interfaces.IdentifierTypeFileID))
	assert.Equal(t, "fileId", got.IdentifierType)
}

func TestCancelJobWithoutIdentifier(t *testing.T) {
	// Nothing to address server-side; the call is a logged no-op
	client := newTestClient("http://127.0.0.1:0", "http://127.0.0.1:0", "http://127.0.0.1:0")
	assert.NoError(t, client.CancelJob(context.Background(), "", interfaces.IdentifierTypeFileID))
}

func TestCancelJobServerRefusal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unknown job", http.StatusNotFound)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL, srv.URL, srv.URL)
	err := client.CancelJob(context.Background(), "job-1", interfaces.IdentifierTypeJobID)

	var reqErr *RequestError
	require.True(t, errors.As(err, &reqErr))
	assert.Equal(t, "cancel", reqErr.Op)
}

func TestRequestErrorMessage(t *testing.T) {
	chunkErr := &RequestError{Op: "chunk", ChunkIndex: 4, StatusCode: 500, Body: "boom"}
	assert.Equal(t, "chunk 5 upload failed: 500 - boom", chunkErr.Error())

	cancelErr := &RequestError{Op: "cancel", ChunkIndex: -1, StatusCode: 404, Body: "gone"}
	assert.Equal(t, "cancel request failed: 404 - gone", cancelErr.Error())
}
