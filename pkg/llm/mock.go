package llm

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/sentineld/sentineld/pkg/types"
)

// MockClient is a deterministic, dependency-free base client used in
// tests and for LLM.provider == "mock": it classifies purely on
// substring heuristics over the message, always returning well-formed
// JSON so it can also exercise StrictJSON's happy path.
type MockClient struct{}

func NewMockClient() *MockClient { return &MockClient{} }

func (m *MockClient) Name() string { return "mock" }

func (m *MockClient) Analyze(ctx context.Context, event types.LogEvent, neighbors []Neighbor) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	risk := "low"
	confidence := 30
	lower := strings.ToLower(event.Message)
	switch {
	case strings.Contains(lower, "encodedcommand") || strings.Contains(lower, "mimikatz"):
		risk, confidence = "high", 90
	case strings.Contains(lower, "failed") || strings.Contains(lower, "denied"):
		risk, confidence = "medium", 55
	}

	verdict := types.LLMVerdict{
		Risk:       risk,
		Confidence: confidence,
		Summary:    types.DefaultFallbackSummary(event.Channel, event.EventID),
	}
	raw, err := json.Marshal(verdict)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func (m *MockClient) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return "mock response to: " + userPrompt, nil
}
