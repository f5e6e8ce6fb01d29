package worker_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/facilitycore/orchestrator/bus"
	"github.com/facilitycore/orchestrator/fallback"
	"github.com/facilitycore/orchestrator/llmclient"
	"github.com/facilitycore/orchestrator/modelmanager"
	"github.com/facilitycore/orchestrator/platform"
	"github.com/facilitycore/orchestrator/worker"
)

func newTestBus(t *testing.T) *bus.Bus {
	t.Helper()
	b := bus.New(bus.DefaultConfig(), nil, nil)
	b.Start()
	t.Cleanup(b.Stop)
	return b
}

func captureOn(t *testing.T, b *bus.Bus, topic platform.Topic) <-chan map[string]interface{} {
	t.Helper()
	ch := make(chan map[string]interface{}, 8)
	b.Subscribe(topic, func(ctx context.Context, e platform.Event) error {
		ch <- e.Payload
		return nil
	})
	return ch
}

func waitPayload(t *testing.T, ch <-chan map[string]interface{}) map[string]interface{} {
	t.Helper()
	select {
	case p := <-ch:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for published response")
		return nil
	}
}

func hvacManager(client llmclient.Client) *modelmanager.Manager {
	loader := &modelmanager.StaticLoader{
		Clients: map[platform.AgentType]llmclient.Client{platform.AgentHVAC: client},
	}
	return modelmanager.New(modelmanager.DefaultConfig(), nil, loader, nil, nil, nil)
}

func TestHVACFallbackRuleBoundaryExactly24IsLow(t *testing.T) {
	b := newTestBus(t)
	captured := captureOn(t, b, "hvac.cooling.decision")

	// Construct with a nil model manager: self-test fails, worker enters
	// permanent fallback_mode, exercising the rule-based path.
	worker.NewHVACWorker(b, nil, fallback.New(), nil, nil, time.Second)

	err := b.Publish(context.Background(), "hvac.temperature.changed", map[string]interface{}{"temperature": 24.0}, "")
	require.NoError(t, err)

	payload := waitPayload(t, captured)
	decision := payload["decision"].(map[string]interface{})
	assert.Equal(t, "low", decision["cooling_level"])
	assert.Equal(t, true, payload["fallback"])
}

func TestHVACFallbackRuleBoundaryJustOverThresholds(t *testing.T) {
	cases := []struct {
		temp     float64
		expected string
	}{
		{24.0001, "medium"},
		{26.0001, "high"},
		{10.0, "low"},
	}

	for _, tc := range cases {
		b := newTestBus(t)
		captured := captureOn(t, b, "hvac.cooling.decision")
		worker.NewHVACWorker(b, nil, fallback.New(), nil, nil, time.Second)

		err := b.Publish(context.Background(), "hvac.temperature.changed", map[string]interface{}{"temperature": tc.temp}, "")
		require.NoError(t, err)

		payload := waitPayload(t, captured)
		decision := payload["decision"].(map[string]interface{})
		assert.Equal(t, tc.expected, decision["cooling_level"], "temperature=%.4f", tc.temp)
	}
}

func TestHVACLLMPathParsesStructuredDecision(t *testing.T) {
	b := newTestBus(t)
	captured := captureOn(t, b, "hvac.cooling.decision")

	client := llmclient.NewMockClient(`{"cooling_level":"emergency","reasoning":"critical heat"}`)
	worker.NewHVACWorker(b, hvacManager(client), fallback.New(), nil, nil, time.Second)

	err := b.Publish(context.Background(), "hvac.temperature.changed", map[string]interface{}{"temperature": 32.5}, "")
	require.NoError(t, err)

	payload := waitPayload(t, captured)
	decision := payload["decision"].(map[string]interface{})
	assert.Equal(t, "emergency", decision["cooling_level"])
	assert.Equal(t, false, payload["fallback"])
}

func TestHVACLLMPathDegradesOnUnparsableOutput(t *testing.T) {
	b := newTestBus(t)
	captured := captureOn(t, b, "hvac.cooling.decision")

	client := llmclient.NewMockClient("not valid json at all")
	worker.NewHVACWorker(b, hvacManager(client), fallback.New(), nil, nil, time.Second)

	err := b.Publish(context.Background(), "hvac.temperature.changed", map[string]interface{}{"temperature": 25.0}, "")
	require.NoError(t, err)

	payload := waitPayload(t, captured)
	assert.Equal(t, "success", payload["status"])
	assert.Equal(t, false, payload["fallback"])
	assert.Equal(t, "not valid json at all", payload["reasoning"])
}

func TestHVACLLMPathFallsBackOnTransientError(t *testing.T) {
	b := newTestBus(t)
	captured := captureOn(t, b, "hvac.cooling.decision")

	client := llmclient.NewMockClient("")
	client.SetError(&llmclient.TransientError{Err: assertTestError{}})
	worker.NewHVACWorker(b, hvacManager(client), fallback.New(), nil, nil, time.Second)

	err := b.Publish(context.Background(), "hvac.temperature.changed", map[string]interface{}{"temperature": 30.0}, "")
	require.NoError(t, err)

	payload := waitPayload(t, captured)
	assert.Equal(t, true, payload["fallback"])
	decision := payload["decision"].(map[string]interface{})
	assert.Equal(t, "high", decision["cooling_level"])
	assert.GreaterOrEqual(t, payload["confidence"].(float64), 0.2)
}

func TestHVACCircuitBreakerOpensAfterRepeatedTransientFailuresAndSkipsInvoke(t *testing.T) {
	b := newTestBus(t)
	captured := captureOn(t, b, "hvac.cooling.decision")

	client := llmclient.NewMockClient("")
	client.SetError(&llmclient.TransientError{Err: assertTestError{}})
	worker.NewHVACWorker(b, hvacManager(client), fallback.New(), nil, nil, time.Second)

	const failureThreshold = 5
	for i := 0; i < failureThreshold; i++ {
		require.NoError(t, b.Publish(context.Background(), "hvac.temperature.changed", map[string]interface{}{"temperature": 30.0}, ""))
		waitPayload(t, captured)
	}
	callsAtOpen := client.CallCount
	assert.Equal(t, failureThreshold, callsAtOpen)

	require.NoError(t, b.Publish(context.Background(), "hvac.temperature.changed", map[string]interface{}{"temperature": 30.0}, ""))
	payload := waitPayload(t, captured)
	assert.Equal(t, true, payload["fallback"])
	assert.Equal(t, callsAtOpen, client.CallCount, "breaker should skip invoking the model once open")
}

func TestSecurityFallbackMapsEventTypeToThreatLevel(t *testing.T) {
	b := newTestBus(t)
	captured := captureOn(t, b, "security.assessment.decision")
	worker.NewSecurityWorker(b, nil, fallback.New(), nil, nil, time.Second)

	err := b.Publish(context.Background(), "facility.security.event", map[string]interface{}{"event_type": "intrusion_detected"}, "")
	require.NoError(t, err)

	payload := waitPayload(t, captured)
	decision := payload["decision"].(map[string]interface{})
	assert.Equal(t, "critical", decision["threat_level"])
}

func TestNetworkFallbackDegradesOnPacketLoss(t *testing.T) {
	b := newTestBus(t)
	captured := captureOn(t, b, "network.assessment.decision")
	worker.NewNetworkWorker(b, nil, fallback.New(), nil, nil, time.Second)

	err := b.Publish(context.Background(), "facility.network.event", map[string]interface{}{"packet_loss": 6.0, "latency": 50.0, "bandwidth_usage": 40.0}, "")
	require.NoError(t, err)

	payload := waitPayload(t, captured)
	decision := payload["decision"].(map[string]interface{})
	assert.Equal(t, "critical", decision["network_health"])
}

func TestPowerWorkerReactsToUpstreamCoolingLevel(t *testing.T) {
	b := newTestBus(t)
	captured := captureOn(t, b, "power.optimization.decision")
	worker.NewPowerWorker(b, nil, fallback.New(), nil, nil, time.Second)

	err := b.Publish(context.Background(), "hvac.cooling.decision", map[string]interface{}{
		"decision": map[string]interface{}{"cooling_level": "emergency"},
	}, "")
	require.NoError(t, err)

	payload := waitPayload(t, captured)
	decision := payload["decision"].(map[string]interface{})
	assert.Equal(t, "reallocate power to cooling systems", decision["power_optimization"])
}

type assertTestError struct{}

func (assertTestError) Error() string { return "simulated transient failure" }
