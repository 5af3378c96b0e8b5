package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/antoniostano/memochat/internal/prompt"
	"github.com/antoniostano/memochat/internal/redact"
)

// GenAIGateway issues the same request through the official Gemini SDK.
type GenAIGateway struct {
	client *genai.Client
	model  string
	apiKey string
}

func NewGenAIGateway(ctx context.Context, cfg Config) (*GenAIGateway, error) {
	g := &GenAIGateway{
		model:  defaultModel(cfg.Model),
		apiKey: strings.TrimSpace(cfg.APIKey),
	}
	// Without a key the client is left nil and every call reports the
	// missing credential, matching the REST backend.
	if g.apiKey == "" {
		return g, nil
	}

	base, version := splitBaseURL(cfg.BaseURL)
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     g.apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpClient(cfg),
		HTTPOptions: genai.HTTPOptions{
			BaseURL:    base,
			APIVersion: version,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	g.client = client
	return g, nil
}

func (g *GenAIGateway) Complete(ctx context.Context, p prompt.Payload) (string, error) {
	if g.client == nil {
		return "", ErrMissingCredential
	}

	cfg := &genai.GenerateContentConfig{
		MaxOutputTokens:  p.MaxOutputTokens,
		ResponseMIMEType: p.ResponseMIMEType,
	}
	if p.Temperature != 0 {
		cfg.Temperature = genai.Ptr(p.Temperature)
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(p.Instruction), cfg)
	if err != nil {
		return "", classifyGenAIError(ctx, err, g.apiKey)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0] == nil || resp.Candidates[0].Content == nil {
		return "", ErrMalformedResponse
	}

	var (
		out   strings.Builder
		found bool
	)
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil || part.Thought || part.Text == "" {
			continue
		}
		found = true
		out.WriteString(part.Text)
	}
	if !found {
		return "", ErrMalformedResponse
	}
	return out.String(), nil
}

func classifyGenAIError(ctx context.Context, err error, secret string) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return newUpstreamError(apiErr.Code, apiErr.Message)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return newUpstreamError(apiErrPtr.Code, apiErrPtr.Message)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("%w: %v", ErrTransport, redact.Secret(err.Error(), secret))
}

// splitBaseURL turns ".../v1beta" into the SDK's separate base and version.
func splitBaseURL(raw string) (string, string) {
	raw = strings.TrimRight(strings.TrimSpace(raw), "/")
	if raw == "" {
		return "", ""
	}
	i := strings.LastIndex(raw, "/")
	if i > 0 {
		last := raw[i+1:]
		if strings.HasPrefix(last, "v1") {
			return raw[:i+1], last
		}
	}
	return raw + "/", ""
}
