package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/antoniostano/memochat/internal/prompt"
	"github.com/antoniostano/memochat/internal/redact"
)

// RESTGateway calls the generateContent endpoint directly over HTTP.
type RESTGateway struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
}

func NewRESTGateway(cfg Config) *RESTGateway {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = "https://generativelanguage.googleapis.com/v1beta"
	}
	return &RESTGateway{
		apiKey:  strings.TrimSpace(cfg.APIKey),
		baseURL: base,
		model:   defaultModel(cfg.Model),
		client:  httpClient(cfg),
	}
}

type restRequest struct {
	Contents         []restContent         `json:"contents"`
	GenerationConfig *restGenerationConfig `json:"generationConfig,omitempty"`
}

type restContent struct {
	Role  string     `json:"role,omitempty"`
	Parts []restPart `json:"parts"`
}

type restPart struct {
	Text    *string `json:"text,omitempty"`
	Thought bool    `json:"thought,omitempty"`
}

type restGenerationConfig struct {
	Temperature      *float32 `json:"temperature,omitempty"`
	MaxOutputTokens  int32    `json:"maxOutputTokens,omitempty"`
	ResponseMIMEType string   `json:"responseMimeType,omitempty"`
}

type restResponse struct {
	Candidates []struct {
		Content *restContent `json:"content"`
	} `json:"candidates"`
	Error *restError `json:"error"`
}

type restError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

func (g *RESTGateway) Complete(ctx context.Context, p prompt.Payload) (string, error) {
	if g.apiKey == "" {
		return "", ErrMissingCredential
	}

	instruction := p.Instruction
	body := restRequest{
		Contents: []restContent{{Role: "user", Parts: []restPart{{Text: &instruction}}}},
	}
	if p.Temperature != 0 || p.MaxOutputTokens != 0 || p.ResponseMIMEType != "" {
		gc := &restGenerationConfig{
			MaxOutputTokens:  p.MaxOutputTokens,
			ResponseMIMEType: p.ResponseMIMEType,
		}
		if p.Temperature != 0 {
			t := p.Temperature
			gc.Temperature = &t
		}
		body.GenerationConfig = gc
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent", g.baseURL, url.PathEscape(g.model))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", g.apiKey)

	res, err := g.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w: %v", ErrTransport, redact.Secret(err.Error(), g.apiKey))
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 8<<20))
	if err != nil {
		return "", fmt.Errorf("%w: read response: %v", ErrTransport, err)
	}

	var decoded restResponse
	decodeErr := json.Unmarshal(raw, &decoded)

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		msg := ""
		if decodeErr == nil && decoded.Error != nil {
			msg = decoded.Error.Message
		}
		return "", newUpstreamError(res.StatusCode, msg)
	}
	if decodeErr != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedResponse, decodeErr)
	}
	if len(decoded.Candidates) == 0 || decoded.Candidates[0].Content == nil {
		return "", ErrMalformedResponse
	}

	var (
		out   strings.Builder
		found bool
	)
	for _, part := range decoded.Candidates[0].Content.Parts {
		if part.Text == nil || *part.Text == "" || part.Thought {
			continue
		}
		found = true
		out.WriteString(*part.Text)
	}
	if !found {
		return "", ErrMalformedResponse
	}
	return out.String(), nil
}
