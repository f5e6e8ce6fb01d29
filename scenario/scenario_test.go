package scenario_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/facilitycore/orchestrator/bus"
	"github.com/facilitycore/orchestrator/coordinator"
	"github.com/facilitycore/orchestrator/fallback"
	"github.com/facilitycore/orchestrator/llmclient"
	"github.com/facilitycore/orchestrator/modelmanager"
	"github.com/facilitycore/orchestrator/platform"
	"github.com/facilitycore/orchestrator/scenario"
	"github.com/facilitycore/orchestrator/worker"
)

// rig wires one instance of every agent plus the Coordinator onto a shared
// bus, backed by scripted mock LLM responses, so the Scenario Orchestrator
// has a live facility to drive end to end.
func newRig(t *testing.T) (*bus.Bus, *scenario.Orchestrator) {
	t.Helper()
	b := bus.New(bus.DefaultConfig(), nil, nil)
	b.Start()
	t.Cleanup(b.Stop)

	clients := map[platform.AgentType]llmclient.Client{
		platform.AgentHVAC:        llmclient.NewMockClient(`{"cooling_level":"medium","reasoning":"nominal"}`),
		platform.AgentPower:       llmclient.NewMockClient(`{"power_optimization":"monitor and prepare reserve capacity","reasoning":"nominal"}`),
		platform.AgentSecurity:    llmclient.NewMockClient(`{"threat_level":"high","reasoning":"nominal"}`),
		platform.AgentNetwork:     llmclient.NewMockClient(`{"network_health":"degraded","reasoning":"nominal"}`),
		platform.AgentCoordinator: llmclient.NewMockClient(`{"overall_status":"yellow","priority_event":"none","coordinated_plan":["Continue monitoring"],"justification":"nominal"}`),
	}
	loader := &modelmanager.StaticLoader{Clients: clients}
	models := modelmanager.New(modelmanager.DefaultConfig(), nil, loader, nil, nil, nil)
	fb := fallback.New()

	worker.NewHVACWorker(b, models, fb, nil, nil, time.Second)
	worker.NewPowerWorker(b, models, fb, nil, nil, time.Second)
	worker.NewSecurityWorker(b, models, fb, nil, nil, time.Second)
	worker.NewNetworkWorker(b, models, fb, nil, nil, time.Second)
	coordinator.New(coordinator.DefaultConfig(), b, models, nil, nil)

	orch := scenario.New(b, scenario.BuiltinScenarios(), nil, nil)
	return b, orch
}

func waitForState(t *testing.T, orch *scenario.Orchestrator, want scenario.State, timeout time.Duration) scenario.StateSnapshot {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		snap := orch.GetScenarioState()
		if snap.State == want {
			return snap
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for state %s, last seen %s", want, orch.GetScenarioState().State)
	return scenario.StateSnapshot{}
}

func TestRoutineMaintenanceRunsToCompletion(t *testing.T) {
	_, orch := newRig(t)

	require.NoError(t, orch.TriggerScenario("routine_maintenance"))
	snap := waitForState(t, orch, scenario.StateCompleted, 10*time.Second)

	require.NotNil(t, snap.LastResult)
	assert.True(t, snap.LastResult.Success)
	assert.Equal(t, "routine_maintenance", snap.LastResult.ScenarioType)
	assert.GreaterOrEqual(t, snap.LastResult.UniqueAgentsResponded, 3)
}

func TestTriggerScenarioRejectsUnknownType(t *testing.T) {
	_, orch := newRig(t)
	err := orch.TriggerScenario("not_a_real_scenario")
	require.Error(t, err)
}

func TestTriggerScenarioRejectsWhileRunning(t *testing.T) {
	_, orch := newRig(t)
	require.NoError(t, orch.TriggerScenario("cooling_crisis"))
	err := orch.TriggerScenario("routine_maintenance")
	require.Error(t, err)
	waitForState(t, orch, scenario.StateCompleted, 15*time.Second)
}

func TestSecurityBreachExtraChecksSatisfied(t *testing.T) {
	_, orch := newRig(t)

	require.NoError(t, orch.TriggerScenario("security_breach"))
	snap := waitForState(t, orch, scenario.StateCompleted, 15*time.Second)

	require.NotNil(t, snap.LastResult)
	assert.True(t, snap.LastResult.Success, "security_breach should satisfy lockdown_initiated and network_isolation extras")
}

func TestPauseResumeRecomputesDeadline(t *testing.T) {
	_, orch := newRig(t)

	require.NoError(t, orch.TriggerScenario("energy_optimization"))
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, orch.Pause())
	assert.Equal(t, scenario.StatePaused, orch.State())

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, orch.Resume())
	assert.Equal(t, scenario.StateRunning, orch.State())

	waitForState(t, orch, scenario.StateCompleted, 15*time.Second)
}

func TestPauseFromIdleFails(t *testing.T) {
	_, orch := newRig(t)
	assert.Error(t, orch.Pause())
}

func TestStopDuringRunProducesFailedResult(t *testing.T) {
	_, orch := newRig(t)

	require.NoError(t, orch.TriggerScenario("cooling_crisis"))
	require.NoError(t, orch.Stop())
	snap := waitForState(t, orch, scenario.StateFailed, 5*time.Second)

	require.NotNil(t, snap.LastResult)
	assert.False(t, snap.LastResult.Success)
}

func TestResetTwiceIsIdempotentAndReturnsToIdle(t *testing.T) {
	b, orch := newRig(t)

	resets := make(chan struct{}, 8)
	b.Subscribe(scenario.TopicReset, func(_ context.Context, _ platform.Event) error {
		resets <- struct{}{}
		return nil
	})

	require.NoError(t, orch.TriggerScenario("routine_maintenance"))
	waitForState(t, orch, scenario.StateCompleted, 10*time.Second)

	require.NoError(t, orch.Reset())
	assert.Equal(t, scenario.StateIdle, orch.State())

	require.NoError(t, orch.Reset())
	assert.Equal(t, scenario.StateIdle, orch.State())

	select {
	case <-resets:
	default:
		t.Fatal("expected at least one demo.scenario.reset publish")
	}
	select {
	case <-resets:
	default:
		t.Fatal("expected a second demo.scenario.reset publish")
	}
}
