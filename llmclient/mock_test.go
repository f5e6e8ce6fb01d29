package llmclient_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/facilitycore/orchestrator/llmclient"
)

func TestMockClientReturnsConfiguredResponse(t *testing.T) {
	c := llmclient.NewMockClient("hello")
	out, err := c.Invoke(context.Background(), "prompt", llmclient.DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, "hello", out)
	assert.Equal(t, 1, c.CallCount)
	assert.Equal(t, "prompt", c.LastPrompt)
}

func TestMockClientCyclesThroughResponses(t *testing.T) {
	c := llmclient.NewMockClient("")
	c.SetResponses("first", "second")

	out1, err := c.Invoke(context.Background(), "p", llmclient.DefaultOptions())
	require.NoError(t, err)
	out2, err := c.Invoke(context.Background(), "p", llmclient.DefaultOptions())
	require.NoError(t, err)
	out3, err := c.Invoke(context.Background(), "p", llmclient.DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, "first", out1)
	assert.Equal(t, "second", out2)
	assert.Equal(t, "second", out3, "cursor pins to the last configured response")
}

func TestMockClientPropagatesConfiguredError(t *testing.T) {
	c := llmclient.NewMockClient("")
	wantErr := &llmclient.TransientError{Err: errors.New("boom")}
	c.SetError(wantErr)

	_, err := c.Invoke(context.Background(), "p", llmclient.DefaultOptions())
	require.Error(t, err)
	assert.True(t, llmclient.IsTransient(err))
}
