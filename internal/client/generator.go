package client

import (
	"context"
	"errors"
	"fmt"
)

// ImageGenerator defines the provider boundary: one submit, discrete polls,
// and a fetch of the finished bytes. Implementations classify every failure
// as transient or permanent and never retry internally — retry policy lives
// in the worker where the attempt counter and cancellation checks are.
type ImageGenerator interface {
	Submit(ctx context.Context, req *SubmitRequest) (handle string, err error)
	Poll(ctx context.Context, handle string) (*PollResult, error)
	Fetch(ctx context.Context, url string) (*FetchedImage, error)
}

// SubmitRequest carries the generation parameters to the provider.
type SubmitRequest struct {
	Prompt string `json:"prompt"`
	Style  string `json:"style,omitempty"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Seed   *int64 `json:"seed,omitempty"`
}

// PollResult is one observation of a remote generation.
type PollResult struct {
	// Running is true while the provider is still working.
	Running bool
	// ImageURL is set once the provider reports success.
	ImageURL string
	Width    int
	Height   int
	// Progress is the provider's 0-100 estimate, 0 when not reported.
	Progress int
}

// FetchedImage holds the downloaded artifact bytes.
type FetchedImage struct {
	Data        []byte
	ContentType string
}

// TransientError marks a failure worth retrying: rate limits, 5xx,
// timeouts, connection resets.
type TransientError struct {
	Status int
	Err    error
}

func (e *TransientError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("provider transient error (status %d): %v", e.Status, e.Err)
	}
	return fmt.Sprintf("provider transient error: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks a failure retrying cannot fix: the provider rejected
// the prompt or parameters.
type PermanentError struct {
	Status int
	Reason string
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("provider rejected request (status %d): %s", e.Status, e.Reason)
}

// IsTransient reports whether err is retry-eligible.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsPermanent reports whether err is a terminal provider rejection.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// classifyStatus maps an HTTP status to the error taxonomy. Anything
// ambiguous defaults to transient so the system fails closed behind the
// retry ceiling instead of giving up on a recoverable request.
func classifyStatus(status int, body string) error {
	switch {
	case status == 400 || status == 403 || status == 422:
		return &PermanentError{Status: status, Reason: body}
	default:
		return &TransientError{Status: status, Err: errors.New(body)}
	}
}
