package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imageforge/api/internal/config"
)

func newTestClient(baseURL string) *FluxClient {
	return NewFluxClient(&config.ProviderConfig{
		BaseURL:       baseURL,
		APIKey:        "test-key",
		SubmitTimeout: 2 * time.Second,
		PollTimeout:   2 * time.Second,
		FetchTimeout:  2 * time.Second,
	})
}

func TestSubmitReturnsHandle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/images/generations", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		w.Write([]byte(`{"task_id": "task-42", "status": "queued"}`))
	}))
	defer srv.Close()

	handle, err := newTestClient(srv.URL).Submit(context.Background(), &SubmitRequest{
		Prompt: "a red bicycle", Style: "minimalist", Width: 512, Height: 512,
	})
	require.NoError(t, err)
	assert.Equal(t, "task-42", handle)
}

func TestSubmitClassifiesRateLimitAsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Submit(context.Background(), &SubmitRequest{Prompt: "x"})
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.False(t, IsPermanent(err))
}

func TestSubmitClassifiesServerErrorAsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Submit(context.Background(), &SubmitRequest{Prompt: "x"})
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

func TestSubmitClassifiesBadRequestAsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`prompt violates content policy`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Submit(context.Background(), &SubmitRequest{Prompt: "x"})
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
	assert.False(t, IsTransient(err))
}

func TestSubmitClassifiesConnectionFailureAsTransient(t *testing.T) {
	// Closed server: connection refused.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	_, err := newTestClient(srv.URL).Submit(context.Background(), &SubmitRequest{Prompt: "x"})
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

func TestPollRunning(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/images/generations/task-42", r.URL.Path)
		w.Write([]byte(`{"task_id": "task-42", "status": "processing", "progress": 37}`))
	}))
	defer srv.Close()

	result, err := newTestClient(srv.URL).Poll(context.Background(), "task-42")
	require.NoError(t, err)
	assert.True(t, result.Running)
	assert.Equal(t, 37, result.Progress)
}

func TestPollSucceeded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"task_id": "task-42", "status": "succeeded", "image_url": "https://img.test/out.png", "width": 1024, "height": 1024}`))
	}))
	defer srv.Close()

	result, err := newTestClient(srv.URL).Poll(context.Background(), "task-42")
	require.NoError(t, err)
	assert.False(t, result.Running)
	assert.Equal(t, "https://img.test/out.png", result.ImageURL)
	assert.Equal(t, 1024, result.Width)
}

func TestPollRemoteFailureIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"task_id": "task-42", "status": "failed", "error": "content policy violation"}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Poll(context.Background(), "task-42")
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
	assert.Contains(t, err.Error(), "content policy violation")
}

func TestPollUnknownStatusKeepsPolling(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"task_id": "task-42", "status": "warming-up"}`))
	}))
	defer srv.Close()

	result, err := newTestClient(srv.URL).Poll(context.Background(), "task-42")
	require.NoError(t, err)
	assert.True(t, result.Running)
}

func TestFetchDownloadsBytes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("png-bytes"))
	}))
	defer srv.Close()

	img, err := newTestClient(srv.URL).Fetch(context.Background(), srv.URL+"/out.png")
	require.NoError(t, err)
	assert.Equal(t, []byte("png-bytes"), img.Data)
	assert.Equal(t, "image/png", img.ContentType)
}

func TestFetchErrorIsClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Fetch(context.Background(), srv.URL+"/out.png")
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}
