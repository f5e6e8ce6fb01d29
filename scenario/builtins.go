package scenario

import "github.com/facilitycore/orchestrator/platform"

// BuiltinScenarios returns the four fixed-budget scripted demos. Each step
// publishes one event and waits for the worker responses it requires;
// scenario-specific extras attach via Step.OnResponse and
// ScenarioDefinition.ExtraSuccessCheck rather than subclassing.
func BuiltinScenarios() map[string]ScenarioDefinition {
	defs := []ScenarioDefinition{
		coolingCrisis(),
		securityBreach(),
		energyOptimization(),
		routineMaintenance(),
	}
	out := make(map[string]ScenarioDefinition, len(defs))
	for _, d := range defs {
		out[d.Type] = d
	}
	return out
}

func coolingCrisis() ScenarioDefinition {
	return ScenarioDefinition{
		Type:                 "cooling_crisis",
		MaxDurationSec:       120,
		RequiredUniqueAgents: 3,
		Steps: []Step{
			{
				EventType: "hvac.temperature.changed",
				Payload: map[string]interface{}{
					"temperature": 32.5,
					"location":    "server_room_main",
				},
				DelaySec:               0,
				TimeoutSec:              30,
				RequiredAgents:          []platform.AgentType{platform.AgentHVAC, platform.AgentPower},
				ExpectedResponseTopics:  []platform.Topic{"hvac.cooling.decision", "power.optimization.decision"},
			},
			{
				EventType: "facility.security.event",
				Payload: map[string]interface{}{
					"event_type": "camera_offline",
					"location":   "server_room_main",
				},
				DelaySec:               2,
				TimeoutSec:              20,
				RequiredAgents:          []platform.AgentType{platform.AgentSecurity},
				ExpectedResponseTopics:  []platform.Topic{"security.assessment.decision"},
			},
			{
				EventType: "facility.network.event",
				Payload: map[string]interface{}{
					"event_type": "bandwidth_check",
					"location":   "server_room_main",
				},
				DelaySec:               3,
				TimeoutSec:              30,
				RequiredAgents:          []platform.AgentType{platform.AgentNetwork, platform.AgentCoordinator},
				ExpectedResponseTopics:  []platform.Topic{"network.assessment.decision", "facility.coordination.directive"},
			},
		},
		CleanupSteps: []Step{
			{EventType: "hvac.temperature.changed", Payload: map[string]interface{}{"temperature": 22.0, "location": "server_room_main"}},
		},
	}
}

func securityBreach() ScenarioDefinition {
	return ScenarioDefinition{
		Type:                 "security_breach",
		MaxDurationSec:       90,
		RequiredUniqueAgents: 3,
		Steps: []Step{
			{
				EventType: "facility.security.event",
				Payload: map[string]interface{}{
					"event_type": "intrusion_detected",
					"location":   "west_wing",
				},
				DelaySec:               0,
				TimeoutSec:              20,
				RequiredAgents:          []platform.AgentType{platform.AgentSecurity},
				ExpectedResponseTopics:  []platform.Topic{"security.assessment.decision"},
				OnResponse: func(tracker *Tracker, agentType platform.AgentType, decision map[string]interface{}) {
					if level, _ := decision["threat_level"].(string); level == "critical" || level == "high" {
						tracker.Increment("lockdown_initiated")
					}
				},
			},
			{
				EventType: "facility.network.event",
				Payload: map[string]interface{}{
					"event_type": "unauthorized_access_attempt",
					"location":   "west_wing",
				},
				DelaySec:               1,
				TimeoutSec:              20,
				RequiredAgents:          []platform.AgentType{platform.AgentNetwork},
				ExpectedResponseTopics:  []platform.Topic{"network.assessment.decision"},
				OnResponse: func(tracker *Tracker, agentType platform.AgentType, decision map[string]interface{}) {
					if health, _ := decision["network_health"].(string); health == "critical" || health == "degraded" {
						tracker.Increment("network_isolation")
					}
				},
			},
			{
				EventType: "hvac.temperature.changed",
				Payload: map[string]interface{}{
					"temperature": 23.0,
					"location":    "west_wing",
				},
				DelaySec:               2,
				TimeoutSec:              30,
				RequiredAgents:          []platform.AgentType{platform.AgentHVAC, platform.AgentPower},
				ExpectedResponseTopics:  []platform.Topic{"hvac.cooling.decision", "power.optimization.decision"},
			},
		},
		CleanupSteps: []Step{
			{EventType: "facility.security.event", Payload: map[string]interface{}{"event_type": "camera_offline", "location": "west_wing"}},
		},
		ExtraSuccessCheck: func(tracker *Tracker) (bool, string) {
			if tracker.Count("lockdown_initiated") < 1 {
				return false, "no lockdown_initiated observed"
			}
			if tracker.Count("network_isolation") < 1 {
				return false, "no network_isolation observed"
			}
			return true, ""
		},
	}
}

func energyOptimization() ScenarioDefinition {
	return ScenarioDefinition{
		Type:                 "energy_optimization",
		MaxDurationSec:       180,
		RequiredUniqueAgents: 3,
		Steps: []Step{
			{
				EventType: "hvac.temperature.changed",
				Payload: map[string]interface{}{
					"temperature": 21.0,
					"location":    "east_wing",
				},
				DelaySec:               0,
				TimeoutSec:              30,
				RequiredAgents:          []platform.AgentType{platform.AgentHVAC, platform.AgentPower},
				ExpectedResponseTopics:  []platform.Topic{"hvac.cooling.decision", "power.optimization.decision"},
				OnResponse: func(tracker *Tracker, agentType platform.AgentType, decision map[string]interface{}) {
					if agentType != platform.AgentPower {
						return
					}
					if action, _ := decision["power_optimization"].(string); action != "reallocate power to cooling systems" {
						tracker.Increment("energy_savings_achieved")
					}
				},
			},
			{
				EventType: "facility.network.event",
				Payload: map[string]interface{}{
					"event_type": "bandwidth_check",
					"location":   "east_wing",
				},
				DelaySec:               5,
				TimeoutSec:              30,
				RequiredAgents:          []platform.AgentType{platform.AgentNetwork},
				ExpectedResponseTopics:  []platform.Topic{"network.assessment.decision"},
			},
			{
				EventType: "facility.security.event",
				Payload: map[string]interface{}{
					"event_type": "camera_offline",
					"location":   "east_wing",
				},
				DelaySec:               5,
				TimeoutSec:              30,
				RequiredAgents:          []platform.AgentType{platform.AgentSecurity, platform.AgentCoordinator},
				ExpectedResponseTopics:  []platform.Topic{"security.assessment.decision", "facility.coordination.directive"},
			},
		},
		CleanupSteps: []Step{
			{EventType: "hvac.temperature.changed", Payload: map[string]interface{}{"temperature": 22.0, "location": "east_wing"}},
		},
		ExtraSuccessCheck: func(tracker *Tracker) (bool, string) {
			if tracker.Count("energy_savings_achieved") < 1 {
				return false, "no energy_savings_achieved observed"
			}
			return true, ""
		},
	}
}

func routineMaintenance() ScenarioDefinition {
	return ScenarioDefinition{
		Type:                 "routine_maintenance",
		MaxDurationSec:       60,
		RequiredUniqueAgents: 3,
		Steps: []Step{
			{
				EventType:              "facility.network.event",
				Payload:                map[string]interface{}{"event_type": "scheduled_diagnostic"},
				DelaySec:               0,
				TimeoutSec:             15,
				RequiredAgents:         []platform.AgentType{platform.AgentNetwork},
				ExpectedResponseTopics: []platform.Topic{"network.assessment.decision"},
			},
			{
				EventType:              "facility.security.event",
				Payload:                map[string]interface{}{"event_type": "camera_offline"},
				DelaySec:               1,
				TimeoutSec:             15,
				RequiredAgents:         []platform.AgentType{platform.AgentSecurity},
				ExpectedResponseTopics: []platform.Topic{"security.assessment.decision"},
			},
			{
				EventType:              "hvac.temperature.changed",
				Payload:                map[string]interface{}{"temperature": 22.0, "location": "main_building"},
				DelaySec:               1,
				TimeoutSec:             20,
				RequiredAgents:         []platform.AgentType{platform.AgentHVAC, platform.AgentPower},
				ExpectedResponseTopics: []platform.Topic{"hvac.cooling.decision", "power.optimization.decision"},
			},
		},
		CleanupSteps: []Step{
			{EventType: "facility.network.event", Payload: map[string]interface{}{"event_type": "diagnostic_complete"}},
		},
	}
}
