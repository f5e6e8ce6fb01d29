package llmclient_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/facilitycore/orchestrator/llmclient"
	"github.com/facilitycore/orchestrator/platform"
)

func newOpenAIAdapterAgainst(t *testing.T, handler http.HandlerFunc) *llmclient.OpenAIAdapter {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return llmclient.NewOpenAIAdapterWithBaseURL("test-key", server.URL, platform.NoOpLogger{})
}

func contextBackground() context.Context {
	return context.Background()
}

func TestOpenAIAdapterParsesSuccessfulResponse(t *testing.T) {
	adapter := newOpenAIAdapterAgainst(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"content": "cooling_level: high"}},
			},
		})
	})

	out, err := adapter.Invoke(contextBackground(), "prompt", llmclient.DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, "cooling_level: high", out)
}

func TestOpenAIAdapterClassifiesServerErrorsAsTransient(t *testing.T) {
	adapter := newOpenAIAdapterAgainst(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("overloaded"))
	})

	_, err := adapter.Invoke(contextBackground(), "prompt", llmclient.DefaultOptions())
	require.Error(t, err)
	assert.True(t, llmclient.IsTransient(err))
}

func TestOpenAIAdapterClassifiesBadRequestAsFatal(t *testing.T) {
	adapter := newOpenAIAdapterAgainst(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("bad request"))
	})

	_, err := adapter.Invoke(contextBackground(), "prompt", llmclient.DefaultOptions())
	require.Error(t, err)
	assert.True(t, llmclient.IsFatal(err))
}
