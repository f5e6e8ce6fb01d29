package statemanager_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/facilitycore/orchestrator/bus"
	"github.com/facilitycore/orchestrator/platform"
	"github.com/facilitycore/orchestrator/statemanager"
)

func newTestBus(t *testing.T) *bus.Bus {
	t.Helper()
	b := bus.New(bus.DefaultConfig(), nil, nil)
	b.Start()
	t.Cleanup(b.Stop)
	return b
}

func TestSaveAssignsVersionOneOnFirstWrite(t *testing.T) {
	m := statemanager.New(statemanager.DefaultConfig(), statemanager.NewInMemoryStore(), newTestBus(t), nil, nil)

	state, err := m.Save(context.Background(), platform.AgentState{
		AgentID: "hvac-1", AgentType: platform.AgentHVAC,
		StateBlob: map[string]interface{}{"cooling_level": "low"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), state.Version)
	assert.NotEmpty(t, state.Checksum)
}

func TestSaveIncrementsVersionOnSubsequentWrite(t *testing.T) {
	ctx := context.Background()
	m := statemanager.New(statemanager.DefaultConfig(), statemanager.NewInMemoryStore(), newTestBus(t), nil, nil)

	first, err := m.Save(ctx, platform.AgentState{AgentID: "hvac-1", AgentType: platform.AgentHVAC, StateBlob: map[string]interface{}{"v": 1}})
	require.NoError(t, err)

	second, err := m.Save(ctx, platform.AgentState{AgentID: "hvac-1", AgentType: platform.AgentHVAC, Version: first.Version, StateBlob: map[string]interface{}{"v": 2}})
	require.NoError(t, err)
	assert.Equal(t, first.Version+1, second.Version)
}

func TestSaveRejectsLowerVersionAsConflict(t *testing.T) {
	ctx := context.Background()
	m := statemanager.New(statemanager.DefaultConfig(), statemanager.NewInMemoryStore(), newTestBus(t), nil, nil)

	_, err := m.Save(ctx, platform.AgentState{AgentID: "hvac-1", StateBlob: map[string]interface{}{"v": 1}})
	require.NoError(t, err)
	_, err = m.Save(ctx, platform.AgentState{AgentID: "hvac-1", StateBlob: map[string]interface{}{"v": 2}})
	require.NoError(t, err) // now at version 2

	_, err = m.Save(ctx, platform.AgentState{AgentID: "hvac-1", Version: 0, StateBlob: map[string]interface{}{"v": 99}})
	require.Error(t, err)
	assert.ErrorIs(t, err, platform.ErrVersionConflict)
}

func TestLoadTreatsChecksumMismatchAsNotFound(t *testing.T) {
	ctx := context.Background()
	store := statemanager.NewInMemoryStore()
	m := statemanager.New(statemanager.DefaultConfig(), store, newTestBus(t), nil, nil)

	_, err := m.Save(ctx, platform.AgentState{AgentID: "hvac-1", StateBlob: map[string]interface{}{"v": 1}})
	require.NoError(t, err)

	raw, found, err := store.Get(ctx, "agent_state:hvac-1")
	require.NoError(t, err)
	require.True(t, found)

	var corrupted map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(raw), &corrupted))
	corrupted["checksum"] = "not-the-real-checksum"
	tampered, err := json.Marshal(corrupted)
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, "agent_state:hvac-1", string(tampered), time.Hour))

	_, found, err = m.Load(ctx, "hvac-1")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRecoverAgentStatePollsUntilSaved(t *testing.T) {
	ctx := context.Background()
	m := statemanager.New(statemanager.DefaultConfig(), statemanager.NewInMemoryStore(), newTestBus(t), nil, nil)

	go func() {
		time.Sleep(150 * time.Millisecond)
		_, _ = m.Save(ctx, platform.AgentState{AgentID: "network-1", StateBlob: map[string]interface{}{"network_health": "stable"}})
	}()

	state, err := m.RecoverAgentState(ctx, "network-1", 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "network-1", state.AgentID)
}

func TestRecoverAgentStateTimesOutWhenNeverSaved(t *testing.T) {
	m := statemanager.New(statemanager.DefaultConfig(), statemanager.NewInMemoryStore(), newTestBus(t), nil, nil)

	_, err := m.RecoverAgentState(context.Background(), "ghost-agent", 100*time.Millisecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, platform.ErrRecoveryTimeout)
}

func TestGracefulShutdownPersistsManifestFromRegisteredSources(t *testing.T) {
	ctx := context.Background()
	store := statemanager.NewInMemoryStore()
	b := newTestBus(t)
	m := statemanager.New(statemanager.DefaultConfig(), store, b, nil, nil)

	m.RegisterSnapshotSource("hvac-1", platform.AgentHVAC, func() map[string]interface{} {
		return map[string]interface{}{"cooling_level": "medium"}
	})
	callbackRan := false
	m.RegisterShutdownCallback(func(ctx context.Context) error {
		callbackRan = true
		return nil
	})

	require.NoError(t, m.GracefulShutdown(ctx))
	assert.True(t, callbackRan)
	assert.False(t, b.IsRunning())

	raw, found, err := store.Get(ctx, "system:manifest")
	require.NoError(t, err)
	require.True(t, found)
	var manifest []string
	require.NoError(t, json.Unmarshal([]byte(raw), &manifest))
	assert.Contains(t, manifest, "hvac-1")

	state, found, err := m.Load(ctx, "hvac-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "medium", state.StateBlob["cooling_level"])
}

func TestSystemRecoveryRestartsBusAndRestoresManifestAgents(t *testing.T) {
	ctx := context.Background()
	store := statemanager.NewInMemoryStore()
	b := newTestBus(t)
	m := statemanager.New(statemanager.DefaultConfig(), store, b, nil, nil)

	m.RegisterSnapshotSource("power-1", platform.AgentPower, func() map[string]interface{} {
		return map[string]interface{}{"power_optimization": "maintain current allocation"}
	})
	require.NoError(t, m.GracefulShutdown(ctx))
	require.False(t, b.IsRunning())

	require.NoError(t, m.SystemRecovery(ctx))
	assert.True(t, b.IsRunning())
}

func TestInMemoryStoreExpiresAfterTTL(t *testing.T) {
	store := statemanager.NewInMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "k", "v", 20*time.Millisecond))

	_, found, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)

	time.Sleep(50 * time.Millisecond)
	_, found, err = store.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)
}
