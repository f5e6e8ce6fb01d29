package llmclient

import (
	"context"
	"errors"
	"sync"
)

// MockClient is a deterministic, scriptable Client for tests. Grounded on
// gomind's ai/providers/mock.Client: a queue of canned responses plus an
// optional forced error, with call tracking for assertions.
type MockClient struct {
	mu sync.Mutex

	Responses     []string
	responseIndex int
	Err           error
	CallCount     int
	LastPrompt    string
	LastOptions   Options
}

// NewMockClient builds a MockClient that returns response on every call
// until reconfigured.
func NewMockClient(response string) *MockClient {
	return &MockClient{Responses: []string{response}}
}

// Invoke implements Client.
func (c *MockClient) Invoke(ctx context.Context, prompt string, options Options) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.CallCount++
	c.LastPrompt = prompt
	c.LastOptions = options

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	if c.Err != nil {
		return "", c.Err
	}

	if len(c.Responses) == 0 {
		return "", errors.New("mock llm client: no responses configured")
	}
	if c.responseIndex >= len(c.Responses) {
		c.responseIndex = len(c.Responses) - 1
	}
	resp := c.Responses[c.responseIndex]
	if c.responseIndex < len(c.Responses)-1 {
		c.responseIndex++
	}
	return resp, nil
}

// SetResponses replaces the scripted response queue and resets the cursor.
func (c *MockClient) SetResponses(responses ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Responses = responses
	c.responseIndex = 0
}

// SetError configures every future Invoke to fail with err.
func (c *MockClient) SetError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Err = err
}

var _ Client = (*MockClient)(nil)
