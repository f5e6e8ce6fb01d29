package coordinator_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/facilitycore/orchestrator/bus"
	"github.com/facilitycore/orchestrator/coordinator"
	"github.com/facilitycore/orchestrator/llmclient"
	"github.com/facilitycore/orchestrator/modelmanager"
	"github.com/facilitycore/orchestrator/platform"
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
		t.Fatal("timed out waiting for published payload")
		return nil
	}
}

func noPayload(t *testing.T, ch <-chan map[string]interface{}) {
	t.Helper()
	select {
	case p := <-ch:
		t.Fatalf("expected no payload, got %+v", p)
	case <-time.After(200 * time.Millisecond):
	}
}

func coordinatorWithClient(t *testing.T, b *bus.Bus, client llmclient.Client) *coordinator.Coordinator {
	t.Helper()
	loader := &modelmanager.StaticLoader{
		Clients: map[platform.AgentType]llmclient.Client{platform.AgentCoordinator: client},
	}
	models := modelmanager.New(modelmanager.DefaultConfig(), nil, loader, nil, nil, nil)
	return coordinator.New(coordinator.DefaultConfig(), b, models, nil, nil)
}

func publishWorkerResponse(t *testing.T, b *bus.Bus, topic platform.Topic, decision map[string]interface{}) {
	t.Helper()
	err := b.Publish(context.Background(), topic, map[string]interface{}{
		"status":   "success",
		"decision": decision,
		"fallback": false,
	}, "")
	require.NoError(t, err)
}

func TestQuorumFiresOnlyAfterAllFourSlotsFilled(t *testing.T) {
	b := newTestBus(t)
	captured := captureOn(t, b, coordinator.TopicDirective)
	client := llmclient.NewMockClient(`{"overall_status":"yellow","priority_event":"none","coordinated_plan":["Continue monitoring all systems"],"justification":"nominal"}`)
	coordinatorWithClient(t, b, client)

	publishWorkerResponse(t, b, "hvac.cooling.decision", map[string]interface{}{"cooling_level": "low"})
	publishWorkerResponse(t, b, "power.optimization.decision", map[string]interface{}{"power_optimization": "none"})
	publishWorkerResponse(t, b, "security.assessment.decision", map[string]interface{}{"threat_level": "informational"})

	noPayload(t, captured)

	publishWorkerResponse(t, b, "network.assessment.decision", map[string]interface{}{"network_health": "optimal"})

	payload := waitPayload(t, captured)
	assert.Equal(t, "yellow", payload["context"].(map[string]interface{})["overall_status"])
}

func TestFifthResponseDoesNotRetriggerUntilQuorumRefills(t *testing.T) {
	b := newTestBus(t)
	captured := captureOn(t, b, coordinator.TopicDirective)
	client := llmclient.NewMockClient(`{"overall_status":"green","priority_event":"none","coordinated_plan":["ok"],"justification":"fine"}`)
	coordinatorWithClient(t, b, client)

	publishWorkerResponse(t, b, "hvac.cooling.decision", map[string]interface{}{"cooling_level": "low"})
	publishWorkerResponse(t, b, "power.optimization.decision", map[string]interface{}{"power_optimization": "none"})
	publishWorkerResponse(t, b, "security.assessment.decision", map[string]interface{}{"threat_level": "informational"})
	publishWorkerResponse(t, b, "network.assessment.decision", map[string]interface{}{"network_health": "optimal"})
	waitPayload(t, captured) // first directive

	// A fifth HVAC response alone must not retrigger a directive.
	publishWorkerResponse(t, b, "hvac.cooling.decision", map[string]interface{}{"cooling_level": "medium"})
	noPayload(t, captured)

	publishWorkerResponse(t, b, "power.optimization.decision", map[string]interface{}{"power_optimization": "none"})
	publishWorkerResponse(t, b, "security.assessment.decision", map[string]interface{}{"threat_level": "informational"})
	publishWorkerResponse(t, b, "network.assessment.decision", map[string]interface{}{"network_health": "optimal"})
	waitPayload(t, captured) // second directive after refill
}

func TestLLMFailureProducesEmergencyDirective(t *testing.T) {
	b := newTestBus(t)
	captured := captureOn(t, b, coordinator.TopicDirective)
	client := llmclient.NewMockClient("")
	client.SetError(&llmclient.TransientError{Err: fakeErr{}})
	coordinatorWithClient(t, b, client)

	publishWorkerResponse(t, b, "hvac.cooling.decision", map[string]interface{}{"cooling_level": "high"})
	publishWorkerResponse(t, b, "power.optimization.decision", map[string]interface{}{"power_optimization": "x"})
	publishWorkerResponse(t, b, "security.assessment.decision", map[string]interface{}{"threat_level": "low"})
	publishWorkerResponse(t, b, "network.assessment.decision", map[string]interface{}{"network_health": "stable"})

	payload := waitPayload(t, captured)
	assert.Equal(t, "CRITICAL", payload["priority"])
	assert.Equal(t, "emergency_directive", payload["directive_type"])
}

func TestConflictResolutionSortsByPriority(t *testing.T) {
	b := newTestBus(t)
	captured := captureOn(t, b, coordinator.TopicConflictResolution)
	client := llmclient.NewMockClient("{}")
	coordinatorWithClient(t, b, client)

	err := b.Publish(context.Background(), coordinator.TopicConflict, map[string]interface{}{
		"conflicts": []interface{}{
			map[string]interface{}{"agent_type": "NETWORK", "priority": "low", "action": "throttle"},
			map[string]interface{}{"agent_type": "SECURITY", "priority": "critical", "action": "lockdown"},
			map[string]interface{}{"agent_type": "POWER", "priority": "high", "action": "reallocate"},
		},
	}, "")
	require.NoError(t, err)

	payload := waitPayload(t, captured)
	resolved := payload["resolved"].([]map[string]interface{})
	require.Len(t, resolved, 3)
	assert.Equal(t, "SECURITY", resolved[0]["agent_type"])
	assert.Equal(t, "POWER", resolved[1]["agent_type"])
	assert.Equal(t, "NETWORK", resolved[2]["agent_type"])
}

func TestScenarioOrchestrationEmitsActionPattern(t *testing.T) {
	b := newTestBus(t)
	captured := captureOn(t, b, coordinator.TopicScenarioOrchestration)
	client := llmclient.NewMockClient("{}")
	coordinatorWithClient(t, b, client)

	err := b.Publish(context.Background(), coordinator.TopicScenario, map[string]interface{}{
		"scenario_type": "temperature_emergency",
	}, "")
	require.NoError(t, err)

	payload := waitPayload(t, captured)
	actions := payload["actions"].(map[string]interface{})
	assert.Equal(t, "emergency_cooling", actions["HVAC"])
	assert.Equal(t, "allocation_support", actions["POWER"])
}

type fakeErr struct{}

func (fakeErr) Error() string { return "simulated transient coordination failure" }
