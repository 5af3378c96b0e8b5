// Package gateway sends one instruction to the hosted model and hands back
// the raw completion text. It never interprets that text.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/antoniostano/memochat/internal/prompt"
)

var (
	ErrMissingCredential = errors.New("gemini api key is not configured")
	ErrMalformedResponse = errors.New("upstream response has no completion text")
	ErrTransport         = errors.New("upstream request failed")
)

// UpstreamError is a non-success answer from the model endpoint.
type UpstreamError struct {
	StatusCode int
	Message    string
}

func newUpstreamError(status int, message string) *UpstreamError {
	message = strings.TrimSpace(message)
	if message == "" {
		message = "Failed to fetch from Gemini"
	}
	return &UpstreamError{StatusCode: status, Message: message}
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("gemini status %d: %s", e.StatusCode, e.Message)
}

// Gateway performs exactly one upstream request per call and never retries.
type Gateway interface {
	Complete(ctx context.Context, p prompt.Payload) (string, error)
}

// Config controls gateway construction.
type Config struct {
	Mode    string
	APIKey  string
	Model   string
	BaseURL string
	// Timeout is applied to the HTTP client; zero leaves requests unbounded.
	Timeout    time.Duration
	HTTPClient *http.Client
}

func New(cfg Config) (Gateway, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "rest"
	}
	switch mode {
	case "rest":
		return NewRESTGateway(cfg), nil
	case "genai":
		return NewGenAIGateway(context.Background(), cfg)
	case "mock":
		return NewMockGateway(), nil
	default:
		return nil, fmt.Errorf("unsupported gateway mode %q", cfg.Mode)
	}
}

// Kind classifies err for metrics and logs.
func Kind(err error) string {
	var upstream *UpstreamError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrMissingCredential):
		return "credential"
	case errors.As(err, &upstream):
		return "upstream"
	case errors.Is(err, ErrMalformedResponse):
		return "malformed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case errors.Is(err, ErrTransport):
		return "transport"
	default:
		return "other"
	}
}

func httpClient(cfg Config) *http.Client {
	if cfg.HTTPClient != nil {
		return cfg.HTTPClient
	}
	return &http.Client{Timeout: cfg.Timeout}
}

func defaultModel(model string) string {
	model = strings.TrimSpace(model)
	if model == "" {
		return "gemini-3-flash-preview"
	}
	return model
}
