package gateway

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/antoniostano/memochat/internal/prompt"
)

// MockGateway provides deterministic local replies when no model is wired.
type MockGateway struct{}

func NewMockGateway() *MockGateway { return &MockGateway{} }

func (g *MockGateway) Complete(ctx context.Context, p prompt.Payload) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	msg := p.Instruction
	if i := strings.LastIndex(msg, "User message:\n"); i >= 0 {
		msg = msg[i+len("User message:\n"):]
	}
	msg = strings.TrimSpace(msg)
	if msg == "" {
		msg = "I am listening."
	}

	out, err := json.Marshal(map[string]any{
		"reply": "I heard you: " + msg,
		"memo":  nil,
	})
	if err != nil {
		return "", err
	}
	return string(out), nil
}
