// Package statemanager implements the State/Recovery Manager: versioned
// AgentState persistence with checksum-verified reads, timeout-bounded
// recovery polling, and whole-system graceful shutdown / recovery over the
// Event Bus and a pluggable platform.KVStore.
//
// Grounded on gomind's orchestration.StateStore family
// (RedisStateStore/InMemoryStateStore) for the KV adapters, generalized
// from per-workflow-execution records to per-agent AgentState snapshots
// plus the system-wide manifest and pending-event queue this package adds.
package statemanager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/facilitycore/orchestrator/bus"
	"github.com/facilitycore/orchestrator/platform"
)

const (
	agentStateKeyPrefix = "agent_state:"
	manifestKey         = "system:manifest"
	pendingEventsKey    = "system:pending_events"
)

// Config tunes the Manager's timing budgets.
type Config struct {
	StateTTL             time.Duration
	RecoveryTimeout       time.Duration
	SystemRecoveryBudget  time.Duration
	PollInterval          time.Duration
}

// DefaultConfig returns the Manager's hard-coded defaults: 24h state TTL,
// 30s per-agent recovery timeout, 60s whole-system recovery budget.
func DefaultConfig() Config {
	return Config{
		StateTTL:            24 * time.Hour,
		RecoveryTimeout:      30 * time.Second,
		SystemRecoveryBudget: 60 * time.Second,
		PollInterval:         100 * time.Millisecond,
	}
}

type snapshotSource struct {
	agentID   string
	agentType platform.AgentType
	snapshot  func() map[string]interface{}
}

// Manager is the State/Recovery Manager. Construct with New.
type Manager struct {
	cfg     Config
	kv      platform.KVStore
	bus     *bus.Bus
	logger  platform.Logger
	metrics platform.MetricsSink

	mu                sync.Mutex
	sources           []snapshotSource
	shutdownCallbacks []func(ctx context.Context) error
}

// New constructs a Manager over kv and b.
func New(cfg Config, kv platform.KVStore, b *bus.Bus, logger platform.Logger, metrics platform.MetricsSink) *Manager {
	if cfg.StateTTL <= 0 {
		cfg.StateTTL = DefaultConfig().StateTTL
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = DefaultConfig().RecoveryTimeout
	}
	if cfg.SystemRecoveryBudget <= 0 {
		cfg.SystemRecoveryBudget = DefaultConfig().SystemRecoveryBudget
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	if logger == nil {
		logger = platform.NoOpLogger{}
	}
	if metrics == nil {
		metrics = platform.NoOpMetricsSink{}
	}
	return &Manager{cfg: cfg, kv: kv, bus: b, logger: logger, metrics: metrics}
}

// RegisterSnapshotSource lets a component (a worker, the Coordinator)
// contribute its in-memory state to graceful_shutdown's snapshot pass.
func (m *Manager) RegisterSnapshotSource(agentID string, agentType platform.AgentType, snapshot func() map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources = append(m.sources, snapshotSource{agentID: agentID, agentType: agentType, snapshot: snapshot})
}

// RegisterShutdownCallback runs fn during graceful_shutdown, after
// snapshots are persisted and before the bus is stopped.
func (m *Manager) RegisterShutdownCallback(fn func(ctx context.Context) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shutdownCallbacks = append(m.shutdownCallbacks, fn)
}

func agentStateKey(agentID string) string { return agentStateKeyPrefix + agentID }

// persistedState is the on-the-wire shape stored in the KV backend.
type persistedState struct {
	AgentID        string                 `json:"agent_id"`
	AgentType      platform.AgentType     `json:"agent_type"`
	StateBlob      map[string]interface{} `json:"state_blob"`
	LastUpdatedUTC time.Time              `json:"last_updated_utc"`
	Version        int64                  `json:"version"`
	Checksum       string                 `json:"checksum"`
}

func toAgentState(p persistedState) platform.AgentState {
	return platform.AgentState{
		AgentID:        p.AgentID,
		AgentType:      p.AgentType,
		StateBlob:      p.StateBlob,
		LastUpdatedUTC: p.LastUpdatedUTC,
		Version:        p.Version,
		Checksum:       p.Checksum,
	}
}

// Save persists state, keyed by AgentID. state.Version must carry the
// version the caller last observed (0 for a brand-new agent); Save rejects
// a lower version than what is currently stored as a conflict, otherwise
// increments the stored version by one and recomputes the checksum
// (save always writes version+1 over the stored value).
func (m *Manager) Save(ctx context.Context, state platform.AgentState) (platform.AgentState, error) {
	existing, found, err := m.loadRaw(ctx, state.AgentID)
	if err != nil {
		return platform.AgentState{}, err
	}
	if found && state.Version < existing.Version {
		return platform.AgentState{}, platform.NewFrameworkError("statemanager.Save", "state", platform.ErrVersionConflict)
	}

	nextVersion := int64(1)
	if found {
		nextVersion = existing.Version + 1
	}

	checksum, err := platform.Checksum(state.StateBlob)
	if err != nil {
		return platform.AgentState{}, platform.NewFrameworkError("statemanager.Save", "state", err)
	}

	out := platform.AgentState{
		AgentID:        state.AgentID,
		AgentType:      state.AgentType,
		StateBlob:      state.StateBlob,
		LastUpdatedUTC: time.Now().UTC(),
		Version:        nextVersion,
		Checksum:       checksum,
	}

	data, err := json.Marshal(persistedState{
		AgentID: out.AgentID, AgentType: out.AgentType, StateBlob: out.StateBlob,
		LastUpdatedUTC: out.LastUpdatedUTC, Version: out.Version, Checksum: out.Checksum,
	})
	if err != nil {
		return platform.AgentState{}, platform.NewFrameworkError("statemanager.Save", "state", err)
	}
	if err := m.kv.Set(ctx, agentStateKey(out.AgentID), string(data), m.cfg.StateTTL); err != nil {
		return platform.AgentState{}, err
	}
	m.metrics.Counter("statemanager.saves", "agent_type", string(out.AgentType))
	return out, nil
}

// loadRaw is Load without checksum verification skipped on miss, shared by
// Save's version check and Load itself.
func (m *Manager) loadRaw(ctx context.Context, agentID string) (platform.AgentState, bool, error) {
	raw, found, err := m.kv.Get(ctx, agentStateKey(agentID))
	if err != nil {
		return platform.AgentState{}, false, err
	}
	if !found {
		return platform.AgentState{}, false, nil
	}
	var p persistedState
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return platform.AgentState{}, false, platform.NewFrameworkError("statemanager.loadRaw", "state", err)
	}
	return toAgentState(p), true, nil
}

// Load returns the agent's state, verifying its checksum. A checksum
// mismatch is treated as corruption: it is logged and Load reports "not
// found" rather than returning an error.
func (m *Manager) Load(ctx context.Context, agentID string) (platform.AgentState, bool, error) {
	state, found, err := m.loadRaw(ctx, agentID)
	if err != nil || !found {
		return platform.AgentState{}, false, err
	}

	expected, err := platform.Checksum(state.StateBlob)
	if err != nil || expected != state.Checksum {
		m.logger.Error("agent state checksum mismatch, treating as corrupt", map[string]interface{}{
			"agent_id": agentID,
		})
		m.metrics.Counter("statemanager.checksum_mismatches")
		return platform.AgentState{}, false, nil
	}
	return state, true, nil
}

// RecoverAgentState polls Load until a valid snapshot appears or timeout
// elapses (zero timeout uses Config.RecoveryTimeout).
func (m *Manager) RecoverAgentState(ctx context.Context, agentID string, timeout time.Duration) (platform.AgentState, error) {
	if timeout <= 0 {
		timeout = m.cfg.RecoveryTimeout
	}
	deadline := time.Now().Add(timeout)

	for {
		state, found, err := m.Load(ctx, agentID)
		if err == nil && found {
			return state, nil
		}
		if time.Now().After(deadline) {
			return platform.AgentState{}, platform.NewFrameworkError("statemanager.RecoverAgentState", "state", platform.ErrRecoveryTimeout)
		}
		select {
		case <-ctx.Done():
			return platform.AgentState{}, ctx.Err()
		case <-time.After(m.cfg.PollInterval):
		}
	}
}

// GracefulShutdown snapshots every registered agent, persists the bus's
// pending event queue and agent manifest, runs registered shutdown
// callbacks, and stops the bus.
func (m *Manager) GracefulShutdown(ctx context.Context) error {
	m.mu.Lock()
	sources := append([]snapshotSource(nil), m.sources...)
	callbacks := append([]func(ctx context.Context) error(nil), m.shutdownCallbacks...)
	m.mu.Unlock()

	manifest := make([]string, 0, len(sources))
	var errs []error
	for _, src := range sources {
		blob := src.snapshot()
		existing, found, _ := m.loadRaw(ctx, src.agentID)
		version := int64(0)
		if found {
			version = existing.Version
		}
		if _, err := m.Save(ctx, platform.AgentState{AgentID: src.agentID, AgentType: src.agentType, StateBlob: blob, Version: version}); err != nil {
			errs = append(errs, fmt.Errorf("snapshotting %s: %w", src.agentID, err))
			continue
		}
		manifest = append(manifest, src.agentID)
	}

	if data, err := json.Marshal(manifest); err == nil {
		if err := m.kv.Set(ctx, manifestKey, string(data), m.cfg.StateTTL); err != nil {
			errs = append(errs, err)
		}
	}

	pending := m.bus.DrainPending()
	if data, err := json.Marshal(pending); err == nil {
		if err := m.kv.Set(ctx, pendingEventsKey, string(data), m.cfg.StateTTL); err != nil {
			errs = append(errs, err)
		}
	}

	for _, cb := range callbacks {
		if err := cb(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	m.bus.Stop()
	m.metrics.Counter("statemanager.graceful_shutdowns")
	return errors.Join(errs...)
}

// SystemRecovery loads the agent manifest, restores each agent's last
// snapshot, restarts the bus, replays any pending events, and validates
// the result — bus running, every manifest agent restored, KV reachable —
// all within Config.SystemRecoveryBudget (must complete in ≤ 60s).
func (m *Manager) SystemRecovery(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.SystemRecoveryBudget)
	defer cancel()

	raw, found, err := m.kv.Get(ctx, manifestKey)
	if err != nil {
		return err
	}
	var manifest []string
	if found {
		if err := json.Unmarshal([]byte(raw), &manifest); err != nil {
			return platform.NewFrameworkError("statemanager.SystemRecovery", "state", err)
		}
	}

	restored := 0
	for _, agentID := range manifest {
		if _, err := m.RecoverAgentState(ctx, agentID, m.cfg.RecoveryTimeout); err != nil {
			m.logger.Error("failed to recover agent state during system recovery", map[string]interface{}{
				"agent_id": agentID, "error": err.Error(),
			})
			continue
		}
		restored++
	}

	pendingRaw, found, err := m.kv.Get(ctx, pendingEventsKey)
	if err != nil {
		return err
	}

	if !m.bus.IsRunning() {
		m.bus.Start()
	}

	if found {
		var pending []platform.Event
		if err := json.Unmarshal([]byte(pendingRaw), &pending); err == nil {
			for _, event := range pending {
				_ = m.bus.Publish(ctx, event.Topic, event.Payload, event.RequestID)
			}
		}
	}

	if _, _, err := m.kv.Get(ctx, manifestKey); err != nil {
		return platform.NewFrameworkError("statemanager.SystemRecovery", "state", platform.ErrKVUnavailable)
	}
	if !m.bus.IsRunning() {
		return platform.NewFrameworkError("statemanager.SystemRecovery", "state", fmt.Errorf("bus failed to restart"))
	}
	if restored < len(manifest) {
		return platform.NewFrameworkError("statemanager.SystemRecovery", "state",
			fmt.Errorf("recovered %d of %d manifest agents", restored, len(manifest)))
	}

	m.metrics.Counter("statemanager.system_recoveries")
	return nil
}
