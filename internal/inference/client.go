// Package inference wraps the external description/decision service behind a
// single "submit prompt + optional image, receive text" call. It supports
// Anthropic and OpenAI-compatible backends plus a mock for testing.
package inference

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrExternalService marks a transport-level failure: the service was
// unreachable, timed out, or answered with a non-OK status. Callers retry
// these with bounded attempts.
var ErrExternalService = errors.New("external service error")

// ErrSchemaValidation marks a response that arrived but is not valid per the
// expected strict-JSON contract. These are never retried; the unit of work
// is dropped or defaulted instead.
var ErrSchemaValidation = errors.New("schema validation error")

// Request is one call to the inference service.
type Request struct {
	// Prompt is the instruction text.
	Prompt string

	// ImagePath optionally attaches a screen image to the request.
	ImagePath string
}

// ClientConfig configures an inference client.
type ClientConfig struct {
	// Provider identifies the backend: "anthropic" or "openai".
	Provider string

	// APIKey is the credential for the provider.
	APIKey string

	// BaseURL overrides the provider's default endpoint.
	BaseURL string

	// Model is the model identifier to use for requests.
	Model string

	// Timeout is the maximum duration to wait for a response.
	Timeout time.Duration
}

// Client is the contract for the external inference service.
type Client interface {
	// Complete submits the request and returns the raw response text.
	// The text may be wrapped in a markdown code fence; use ExtractJSON
	// before decoding.
	Complete(ctx context.Context, req Request) (string, error)

	// Available returns true if the client is configured and ready to
	// handle requests. For API-based clients this checks that
	// credentials are present.
	Available() bool
}

// NewClient builds the provider-specific client for cfg.
func NewClient(cfg ClientConfig) (Client, error) {
	switch cfg.Provider {
	case "anthropic":
		return NewAnthropicClient(cfg), nil
	case "openai":
		return NewOpenAIClient(cfg), nil
	default:
		return nil, fmt.Errorf("unknown inference provider: %q", cfg.Provider)
	}
}
