// Package modelmanager implements the Resource-Bounded Model Manager: at
// most MaxConcurrentModels live model slots under a soft memory threshold
// and a hard cap, served to workers via a borrowed Handle.
//
// Grounded on gomind's resilience.CircuitBreaker: a single internal mutex
// guarding all slot-table mutations (never re-entrant — Handle is a value
// borrowed for one call, not a lock workers can hold across invocations),
// and on ai.ProviderRegistry's static factory-table shape for the
// AgentType -> Descriptor mapping.
package modelmanager

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/facilitycore/orchestrator/platform"
)

// Config tunes the manager's resource limits.
type Config struct {
	MaxConcurrentModels int
	MemoryThresholdGB   float64
	MaxMemoryGB         float64
	CleanupIntervalSec  int
	// BaselineMemoryMB accounts for fixed process overhead outside any
	// model slot, matching the "sum(estimated_memory_mb) + baseline"
	// invariant the manager enforces on every load.
	BaselineMemoryMB int
}

// DefaultConfig returns the manager's hard-coded defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentModels: 2,
		MemoryThresholdGB:   7.0,
		MaxMemoryGB:         8.0,
		CleanupIntervalSec:  30,
		BaselineMemoryMB:    500,
	}
}

// Manager is the Resource-Bounded Model Manager.
type Manager struct {
	cfg         Config
	descriptors map[platform.AgentType]Descriptor
	loader      Loader
	probe       platform.MemoryProbe
	logger      platform.Logger
	metrics     platform.MetricsSink

	mu    sync.Mutex
	slots map[string]*internalSlot

	stopCh   chan struct{}
	monitorWG sync.WaitGroup
}

type internalSlot struct {
	slot   platform.ModelSlot
	handle Handle
}

// New constructs a Manager. descriptors defaults to DefaultDescriptorTable
// when nil.
func New(cfg Config, descriptors map[platform.AgentType]Descriptor, loader Loader, probe platform.MemoryProbe, logger platform.Logger, metrics platform.MetricsSink) *Manager {
	if descriptors == nil {
		descriptors = DefaultDescriptorTable()
	}
	if probe == nil {
		probe = platform.OSMemoryProbe{TotalGB: cfg.MaxMemoryGB}
	}
	if logger == nil {
		logger = platform.NoOpLogger{}
	}
	if metrics == nil {
		metrics = platform.NoOpMetricsSink{}
	}
	if cfg.MaxConcurrentModels <= 0 {
		cfg.MaxConcurrentModels = DefaultConfig().MaxConcurrentModels
	}
	if cfg.MemoryThresholdGB <= 0 {
		cfg.MemoryThresholdGB = DefaultConfig().MemoryThresholdGB
	}
	if cfg.MaxMemoryGB <= 0 {
		cfg.MaxMemoryGB = DefaultConfig().MaxMemoryGB
	}
	if cfg.CleanupIntervalSec <= 0 {
		cfg.CleanupIntervalSec = DefaultConfig().CleanupIntervalSec
	}

	return &Manager{
		cfg:         cfg,
		descriptors: descriptors,
		loader:      loader,
		probe:       probe,
		logger:      logger,
		metrics:     metrics,
		slots:       make(map[string]*internalSlot),
	}
}

// StartMonitor launches the background memory sampler: every
// CleanupIntervalSec it samples memory and triggers a non-forced cleanup
// if usage is above threshold. Stop via StopMonitor.
func (m *Manager) StartMonitor(ctx context.Context) {
	m.stopCh = make(chan struct{})
	m.monitorWG.Add(1)
	go func() {
		defer m.monitorWG.Done()
		ticker := time.NewTicker(time.Duration(m.cfg.CleanupIntervalSec) * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				stats, err := m.probe.Snapshot()
				if err != nil {
					m.logger.Warn("model manager memory probe failed", map[string]interface{}{"error": err.Error()})
					continue
				}
				if stats.UsedGB > m.cfg.MemoryThresholdGB {
					evicted := m.Cleanup(false)
					m.logger.Info("model manager background cleanup triggered", map[string]interface{}{
						"used_gb":   stats.UsedGB,
						"threshold": m.cfg.MemoryThresholdGB,
						"evicted":   evicted,
					})
				}
			case <-m.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// StopMonitor stops the background sampler, if running.
func (m *Manager) StopMonitor() {
	if m.stopCh == nil {
		return
	}
	select {
	case <-m.stopCh:
	default:
		close(m.stopCh)
	}
	m.monitorWG.Wait()
}

// GetOrLoad serves a cached slot, or loads
// one after evaluating (and if necessary freeing) capacity.
func (m *Manager) GetOrLoad(ctx context.Context, agentType platform.AgentType) (*Handle, error) {
	descriptor, ok := m.descriptors[agentType]
	if !ok {
		return nil, platform.NewFrameworkError("modelmanager.GetOrLoad", "model", fmt.Errorf("no model descriptor for agent type %q", agentType))
	}

	m.mu.Lock()
	if entry, cached := m.slots[descriptor.ModelID]; cached {
		entry.slot.LastUsedUTC = time.Now().UTC()
		entry.slot.UsageCount++
		handle := entry.handle
		m.mu.Unlock()
		m.metrics.Counter("modelmanager.slot.hits", "agent_type", string(agentType))
		return &handle, nil
	}
	m.mu.Unlock()

	m.mu.Lock()
	ok2, _ := m.canLoadLocked(descriptor.EstimatedMemoryMB)
	if !ok2 {
		m.cleanupLocked(false)
		ok2, _ = m.canLoadLocked(descriptor.EstimatedMemoryMB)
	}
	if !ok2 {
		m.cleanupLocked(true)
		ok2, _ = m.canLoadLocked(descriptor.EstimatedMemoryMB)
	}
	m.mu.Unlock()
	if !ok2 {
		m.metrics.Counter("modelmanager.out_of_memory", "agent_type", string(agentType))
		return nil, platform.NewFrameworkError("modelmanager.GetOrLoad", "memory", platform.ErrOutOfMemory)
	}

	start := time.Now()
	client, err := m.loader.Load(ctx, descriptor)
	if err != nil {
		return nil, platform.NewFrameworkError("modelmanager.GetOrLoad", "model", err)
	}
	loadTimeMS := time.Since(start).Milliseconds()

	m.mu.Lock()
	defer m.mu.Unlock()

	if entry, cached := m.slots[descriptor.ModelID]; cached {
		// Raced with a concurrent loader for the same model; keep the
		// existing slot rather than double counting usage.
		handle := entry.handle
		return &handle, nil
	}

	if len(m.slots) >= m.cfg.MaxConcurrentModels {
		if !m.evictOneLocked() {
			m.metrics.Counter("modelmanager.out_of_memory", "agent_type", string(agentType))
			return nil, platform.NewFrameworkError("modelmanager.GetOrLoad", "memory", platform.ErrOutOfMemory)
		}
	}

	slot := platform.ModelSlot{
		ModelID:           descriptor.ModelID,
		AgentType:         descriptor.AgentType,
		Priority:          descriptor.Priority,
		LastUsedUTC:       time.Now().UTC(),
		UsageCount:        1,
		EstimatedMemoryMB: descriptor.EstimatedMemoryMB,
		LoadTimeMS:        loadTimeMS,
	}
	handle := Handle{ModelID: descriptor.ModelID, AgentType: descriptor.AgentType, Client: client}
	m.slots[descriptor.ModelID] = &internalSlot{slot: slot, handle: handle}

	m.metrics.Gauge("modelmanager.active_slots", float64(len(m.slots)))
	return &handle, nil
}

// Unload removes a cached slot by model ID. Returns false if no such slot
// was cached.
func (m *Manager) Unload(modelID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.slots[modelID]; !ok {
		return false
	}
	delete(m.slots, modelID)
	m.metrics.Gauge("modelmanager.active_slots", float64(len(m.slots)))
	return true
}

// Cleanup performs LRU eviction among non-CRITICAL slots. With force=false
// it evicts the single lowest-priority, least-recently-used non-CRITICAL
// slot, and only when that does not leave zero slots. With force=true it
// evicts everything but the
// single highest-priority slot. CRITICAL-priority slots are never evicted
// by either mode. Returns the number of slots evicted.
func (m *Manager) Cleanup(force bool) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cleanupLocked(force)
}

func (m *Manager) cleanupLocked(force bool) int {
	type candidate struct {
		id   string
		slot platform.ModelSlot
	}
	var candidates []candidate
	for id, e := range m.slots {
		if e.slot.Priority == platform.ModelPriorityCritical {
			continue
		}
		candidates = append(candidates, candidate{id: id, slot: e.slot})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].slot.Priority != candidates[j].slot.Priority {
			return candidates[i].slot.Priority < candidates[j].slot.Priority
		}
		return candidates[i].slot.LastUsedUTC.Before(candidates[j].slot.LastUsedUTC)
	})

	evicted := 0
	if force {
		// Evict all non-critical slots but the single most-recently
		// prioritized survivor: keep the last (highest priority, most
		// recently used) candidate if it's the only slot left overall.
		limit := len(candidates)
		if len(m.slots)-len(candidates) == 0 && limit > 0 {
			limit-- // always leave at least one slot standing
		}
		for i := 0; i < limit; i++ {
			delete(m.slots, candidates[i].id)
			evicted++
		}
		return evicted
	}

	// Ordinary cleanup: evict the single LRU non-critical slot, unless
	// that would leave zero slots overall.
	if len(candidates) == 0 {
		return 0
	}
	if len(m.slots) <= 1 {
		return 0
	}
	delete(m.slots, candidates[0].id)
	return 1
}

// evictOneLocked evicts exactly one LRU non-CRITICAL slot to make room for
// an incoming load. Returns false if no evictable slot exists (i.e. every
// cached slot is CRITICAL).
func (m *Manager) evictOneLocked() bool {
	var victimID string
	var victim platform.ModelSlot
	found := false
	for id, e := range m.slots {
		if e.slot.Priority == platform.ModelPriorityCritical {
			continue
		}
		if !found || e.slot.Priority < victim.Priority ||
			(e.slot.Priority == victim.Priority && e.slot.LastUsedUTC.Before(victim.LastUsedUTC)) {
			victimID, victim, found = id, e.slot, true
		}
	}
	if !found {
		return false
	}
	delete(m.slots, victimID)
	return true
}

// CanLoad reports whether a model with the given estimated memory footprint
// can be loaded without exceeding the hard cap.
func (m *Manager) CanLoad(estimatedMemMB int) (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.canLoadLocked(estimatedMemMB)
}

// canLoadLocked evaluates feasibility against the bookkeeping invariant in
// Invariant: sum(estimated_memory_mb) + baseline <= MAX_MEMORY_GB x 1024.
// This is the hard, non-negotiable cap; the softer MemoryThresholdGB is
// used separately by the background monitor (StartMonitor) to trigger
// proactive cleanup before the hard cap is ever at risk.
func (m *Manager) canLoadLocked(estimatedMemMB int) (bool, string) {
	current := m.cfg.BaselineMemoryMB
	for _, e := range m.slots {
		current += e.slot.EstimatedMemoryMB
	}
	projectedGB := float64(current+estimatedMemMB) / 1024.0

	if projectedGB > m.cfg.MaxMemoryGB {
		return false, fmt.Sprintf("projected usage %.2fGB exceeds hard cap %.2fGB", projectedGB, m.cfg.MaxMemoryGB)
	}
	return true, ""
}

// Stats reports the current memory/slot snapshot.
type Stats struct {
	Memory       platform.MemoryStats
	ActiveModels int
	Slots        []platform.ModelSlot
}

// Stats implements the manager's stats() operation.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	slots := make([]platform.ModelSlot, 0, len(m.slots))
	for _, e := range m.slots {
		slots = append(slots, e.slot)
	}
	mem, _ := m.probe.Snapshot()
	return Stats{Memory: mem, ActiveModels: len(m.slots), Slots: slots}
}
