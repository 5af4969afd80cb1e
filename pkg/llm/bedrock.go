package llm

import (
	"context"
	"encoding/json"
	"net/http"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	sderrors "github.com/sentineld/sentineld/internal/errors"
	"github.com/sentineld/sentineld/pkg/types"
)

// BedrockProvider is a base Client over AWS Bedrock's InvokeModel API —
// the second real, independently-failing provider that makes the
// Ensemble decorator meaningful (SPEC_FULL.md §"C3 LLMClient").
type BedrockProvider struct {
	client  *bedrockruntime.Client
	modelID string
}

type bedrockRequest struct {
	AnthropicVersion string           `json:"anthropic_version"`
	MaxTokens        int              `json:"max_tokens"`
	System           string           `json:"system"`
	Messages         []bedrockMessage `json:"messages"`
}

type bedrockMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type bedrockResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
}

// NewBedrockProvider builds a BedrockProvider for modelID, loading AWS
// credentials from the default chain (env, shared config, instance
// role). When httpClient is non-nil it replaces the SDK's default
// transport, so this provider's traffic is covered by C1's pooling.
func NewBedrockProvider(ctx context.Context, modelID string, httpClient *http.Client) (*BedrockProvider, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{}
	if httpClient != nil {
		loadOpts = append(loadOpts, awsconfig.WithHTTPClient(httpClient))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, sderrors.FailedTo("load aws config for bedrock", err)
	}
	return &BedrockProvider{
		client:  bedrockruntime.NewFromConfig(cfg),
		modelID: modelID,
	}, nil
}

func (p *BedrockProvider) Name() string { return "bedrock" }

func (p *BedrockProvider) Analyze(ctx context.Context, event types.LogEvent, neighbors []Neighbor) (string, error) {
	system, user := BuildAnalyzePrompt(event, neighbors)
	return p.Generate(ctx, system, user)
}

func (p *BedrockProvider) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	body, err := json.Marshal(bedrockRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        1024,
		System:           systemPrompt,
		Messages:         []bedrockMessage{{Role: "user", Content: userPrompt}},
	})
	if err != nil {
		return "", sderrors.FailedTo("marshal bedrock request", err)
	}

	contentType := "application/json"
	out, err := p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     &p.modelID,
		Body:        body,
		ContentType: &contentType,
	})
	if err != nil {
		return "", sderrors.FailedTo("call bedrock invoke model", err)
	}

	var resp bedrockResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return "", sderrors.FailedTo("unmarshal bedrock response", err)
	}
	if len(resp.Content) == 0 {
		return "", sderrors.FailedTo("read bedrock response", errEmptyResponse)
	}
	return resp.Content[0].Text, nil
}

var errEmptyResponse = sderrors.FailedTo("extract model response content", nil)
