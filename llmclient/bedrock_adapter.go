package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/facilitycore/orchestrator/platform"
)

// RequestSigner signs an outbound HTTP request in place (e.g. SigV4).
// Kept as an injected collaborator rather than importing the AWS SDK
// directly — see DESIGN.md for why BedrockAdapter stays SDK-free.
type RequestSigner interface {
	Sign(req *http.Request, body []byte) error
}

// NoopSigner performs no signing; useful against a local Bedrock-compatible
// gateway that handles auth out of band.
type NoopSigner struct{}

func (NoopSigner) Sign(*http.Request, []byte) error { return nil }

// BedrockAdapter implements Client over a Bedrock Converse-style HTTP
// endpoint. Grounded on the shape of gomind's ai/providers/bedrock client
// (region-scoped runtime endpoint, a converse-style message envelope,
// model ID selection) without pulling in aws-sdk-go-v2; signing is
// delegated to RequestSigner so a real deployment can plug in SigV4
// without this package depending on the AWS SDK.
type BedrockAdapter struct {
	endpoint   string
	modelID    string
	signer     RequestSigner
	httpClient *http.Client
	logger     platform.Logger
}

// NewBedrockAdapter builds an adapter against endpoint (a regional Bedrock
// runtime URL) using modelID as the default model.
func NewBedrockAdapter(endpoint, modelID string, signer RequestSigner, logger platform.Logger) *BedrockAdapter {
	if signer == nil {
		signer = NoopSigner{}
	}
	if logger == nil {
		logger = platform.NoOpLogger{}
	}
	return &BedrockAdapter{
		endpoint:   endpoint,
		modelID:    modelID,
		signer:     signer,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
}

type bedrockConverseRequest struct {
	ModelID  string                   `json:"modelId"`
	Messages []map[string]interface{} `json:"messages"`
	Inference struct {
		Temperature float32 `json:"temperature"`
		MaxTokens   int     `json:"maxTokens"`
	} `json:"inferenceConfig"`
}

type bedrockConverseResponse struct {
	Output struct {
		Message struct {
			Content []struct {
				Text string `json:"text"`
			} `json:"content"`
		} `json:"message"`
	} `json:"output"`
}

// Invoke implements Client.
func (c *BedrockAdapter) Invoke(ctx context.Context, prompt string, options Options) (string, error) {
	if options.Timeout <= 0 {
		options.Timeout = DefaultOptions().Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, options.Timeout)
	defer cancel()

	model := options.Model
	if model == "" {
		model = c.modelID
	}

	reqBody := bedrockConverseRequest{
		ModelID: model,
		Messages: []map[string]interface{}{
			{"role": "user", "content": []map[string]string{{"text": prompt}}},
		},
	}
	reqBody.Inference.Temperature = options.Temperature
	reqBody.Inference.MaxTokens = options.MaxTokens

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", &FatalError{Err: fmt.Errorf("marshal bedrock request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/model/"+model+"/converse", bytes.NewReader(payload))
	if err != nil {
		return "", &FatalError{Err: fmt.Errorf("build bedrock request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	if err := c.signer.Sign(req, payload); err != nil {
		return "", &FatalError{Err: fmt.Errorf("sign bedrock request: %w", err)}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", &TransientError{Err: ctx.Err()}
		}
		return "", &TransientError{Err: fmt.Errorf("send bedrock request: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &TransientError{Err: fmt.Errorf("read bedrock response: %w", err)}
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return "", &TransientError{Err: fmt.Errorf("bedrock status %d: %s", resp.StatusCode, string(body))}
	}
	if resp.StatusCode != http.StatusOK {
		return "", &FatalError{Err: fmt.Errorf("bedrock status %d: %s", resp.StatusCode, string(body))}
	}

	var parsed bedrockConverseResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", &FatalError{Err: fmt.Errorf("parse bedrock response: %w", err)}
	}
	if len(parsed.Output.Message.Content) == 0 {
		return "", &FatalError{Err: fmt.Errorf("bedrock: empty content")}
	}

	return parsed.Output.Message.Content[0].Text, nil
}

var _ Client = (*BedrockAdapter)(nil)
