package modelmanager

import "github.com/facilitycore/orchestrator/platform"

// Descriptor is the fixed, per-agent-type model profile: agent_type maps
// to {model_id, default_parameters, estimated_mem_mb, priority} via a
// fixed table.
type Descriptor struct {
	ModelID           string
	AgentType         platform.AgentType
	EstimatedMemoryMB int
	Priority          platform.ModelPriority
	DefaultParameters map[string]interface{}
}

// DefaultDescriptorTable returns the glossary's priority map: CRITICAL
// (Security, Coordinator), HIGH (HVAC, Power), MEDIUM (Network).
// Memory estimates are chosen so the model-eviction walkthrough holds:
// baseline 500MB + HVAC 2200MB + Power 2200MB + Coordinator 4500MB = 9400MB
// is over the 8GB hard cap, and evicting one LRU slot brings it to 7200MB.
func DefaultDescriptorTable() map[platform.AgentType]Descriptor {
	return map[platform.AgentType]Descriptor{
		platform.AgentHVAC: {
			ModelID:           "hvac-decision-model",
			AgentType:         platform.AgentHVAC,
			EstimatedMemoryMB: 2200,
			Priority:          platform.ModelPriorityHigh,
			DefaultParameters: map[string]interface{}{"temperature": 0.2, "max_tokens": 500},
		},
		platform.AgentPower: {
			ModelID:           "power-decision-model",
			AgentType:         platform.AgentPower,
			EstimatedMemoryMB: 2200,
			Priority:          platform.ModelPriorityHigh,
			DefaultParameters: map[string]interface{}{"temperature": 0.2, "max_tokens": 500},
		},
		platform.AgentSecurity: {
			ModelID:           "security-assessment-model",
			AgentType:         platform.AgentSecurity,
			EstimatedMemoryMB: 3000,
			Priority:          platform.ModelPriorityCritical,
			DefaultParameters: map[string]interface{}{"temperature": 0.1, "max_tokens": 600},
		},
		platform.AgentNetwork: {
			ModelID:           "network-assessment-model",
			AgentType:         platform.AgentNetwork,
			EstimatedMemoryMB: 1800,
			Priority:          platform.ModelPriorityMedium,
			DefaultParameters: map[string]interface{}{"temperature": 0.2, "max_tokens": 400},
		},
		platform.AgentCoordinator: {
			ModelID:           "coordination-model",
			AgentType:         platform.AgentCoordinator,
			EstimatedMemoryMB: 4500,
			Priority:          platform.ModelPriorityCritical,
			DefaultParameters: map[string]interface{}{"temperature": 0.1, "max_tokens": 800},
		},
	}
}
