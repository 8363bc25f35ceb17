package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/imageforge/api/internal/config"
)

// FluxClient implements ImageGenerator against a Flux-style generation API.
type FluxClient struct {
	httpClient  *http.Client
	fetchClient *http.Client
	baseURL     string
	apiKey      string
}

// fluxSubmitResponse is the provider's answer to a generation request.
type fluxSubmitResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

// fluxStatusResponse is the provider's answer to a status poll.
type fluxStatusResponse struct {
	TaskID   string `json:"task_id"`
	Status   string `json:"status"`
	Progress int    `json:"progress"`
	ImageURL string `json:"image_url,omitempty"`
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
	Error    string `json:"error,omitempty"`
}

// NewFluxClient creates a provider client with bounded per-call timeouts.
func NewFluxClient(cfg *config.ProviderConfig) *FluxClient {
	return &FluxClient{
		httpClient:  &http.Client{Timeout: cfg.SubmitTimeout},
		fetchClient: &http.Client{Timeout: cfg.FetchTimeout},
		baseURL:     cfg.BaseURL,
		apiKey:      cfg.APIKey,
	}
}

// Submit starts a generation and returns the provider's task handle.
func (c *FluxClient) Submit(ctx context.Context, req *SubmitRequest) (string, error) {
	var result fluxSubmitResponse
	if err := c.post(ctx, "/v1/images/generations", req, &result); err != nil {
		return "", err
	}
	if result.TaskID == "" {
		return "", &TransientError{Err: fmt.Errorf("provider returned no task id")}
	}
	return result.TaskID, nil
}

// Poll observes one remote generation. A provider-side failure surfaces as
// a PermanentError; infrastructure trouble as a TransientError.
func (c *FluxClient) Poll(ctx context.Context, handle string) (*PollResult, error) {
	var result fluxStatusResponse
	if err := c.get(ctx, "/v1/images/generations/"+handle, &result); err != nil {
		return nil, err
	}

	switch result.Status {
	case "queued", "processing", "running":
		return &PollResult{Running: true, Progress: result.Progress}, nil
	case "succeeded", "completed":
		if result.ImageURL == "" {
			return nil, &TransientError{Err: fmt.Errorf("provider reported success without an image url")}
		}
		return &PollResult{
			ImageURL: result.ImageURL,
			Width:    result.Width,
			Height:   result.Height,
			Progress: 100,
		}, nil
	case "failed", "rejected", "error":
		reason := result.Error
		if reason == "" {
			reason = "generation failed"
		}
		return nil, &PermanentError{Status: http.StatusOK, Reason: reason}
	default:
		// Unknown status: keep polling, bounded by the stuck sweep.
		return &PollResult{Running: true, Progress: result.Progress}, nil
	}
}

// Fetch downloads the finished image bytes.
func (c *FluxClient) Fetch(ctx context.Context, url string) (*FetchedImage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &TransientError{Err: err}
	}

	resp, err := c.fetchClient.Do(req)
	if err != nil {
		return nil, &TransientError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, classifyStatus(resp.StatusCode, string(body))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransientError{Err: err}
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/png"
	}
	return &FetchedImage{Data: data, ContentType: contentType}, nil
}

// IsConfigured returns true if the client has valid configuration.
func (c *FluxClient) IsConfigured() bool {
	return c.apiKey != ""
}

func (c *FluxClient) post(ctx context.Context, endpoint string, body interface{}, result interface{}) error {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	return c.doRequest(req, result)
}

func (c *FluxClient) get(ctx context.Context, endpoint string, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	return c.doRequest(req, result)
}

func (c *FluxClient) doRequest(req *http.Request, result interface{}) error {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Timeouts and connection failures are retryable infrastructure trouble.
		log.Printf("[Flux API] ✗ %s %s — request failed: %v", req.Method, req.URL.String(), err)
		return &TransientError{Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransientError{Err: fmt.Errorf("failed to read response: %w", err)}
	}

	log.Printf("[Flux API] ← %d %s %s", resp.StatusCode, req.Method, req.URL.String())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return classifyStatus(resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return &TransientError{Err: fmt.Errorf("failed to unmarshal response: %w", err)}
	}

	return nil
}
