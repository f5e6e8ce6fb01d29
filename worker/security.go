package worker

import (
	"fmt"
	"time"

	"github.com/facilitycore/orchestrator/bus"
	"github.com/facilitycore/orchestrator/fallback"
	"github.com/facilitycore/orchestrator/modelmanager"
	"github.com/facilitycore/orchestrator/platform"
)

// SecurityWorker consumes facility.security.event and publishes
// security.assessment.decision.
type SecurityWorker struct {
	*Base
}

// NewSecurityWorker constructs and subscribes the Security worker.
func NewSecurityWorker(b *bus.Bus, models *modelmanager.Manager, fb *fallback.Responder, logger platform.Logger, metrics platform.MetricsSink, timeout time.Duration) *SecurityWorker {
	spec := Spec{
		AgentType:     platform.AgentSecurity,
		InputTopics:   []platform.Topic{"facility.security.event"},
		OutputTopic:   "security.assessment.decision",
		BuildPrompt:   securityPrompt,
		ScenarioKey:   securityScenarioKey,
		RuleFallback:  securityRuleFallback,
		ParseDecision: parseSecurityDecision,
		DecisionClass: func(decision map[string]interface{}) string {
			level, _ := stringField(decision, "threat_level")
			return level
		},
		SelfTest: func() error {
			if models == nil {
				return fmt.Errorf("security worker requires a model manager")
			}
			return nil
		},
	}
	return &SecurityWorker{Base: NewBase(spec, b, models, fb, logger, metrics, timeout)}
}

func securityPrompt(event platform.Event) string {
	eventType, _ := stringField(event.Payload, "event_type")
	location, _ := stringField(event.Payload, "location")
	return fmt.Sprintf("Assess threat_level (informational, low, medium, high, critical) for security event %q at %q. Respond as JSON with keys threat_level and reasoning.", eventType, location)
}

func securityScenarioKey(event platform.Event) string {
	key, _ := stringField(event.Payload, "scenario_key")
	return key
}

// securityEventThreatMap is the static event_type -> threat_level table
// securityRuleFallback uses when the LLM path is unavailable.
var securityEventThreatMap = map[string]string{
	"intrusion_detected": "critical",
	"unauthorized_access": "high",
	"badge_anomaly":       "medium",
	"door_held_open":      "low",
	"camera_offline":      "informational",
}

func securityRuleFallback(event platform.Event) map[string]interface{} {
	eventType, _ := stringField(event.Payload, "event_type")
	level, ok := securityEventThreatMap[eventType]
	if !ok {
		level = "medium"
	}
	return map[string]interface{}{"threat_level": level}
}

var securityThreatLevels = map[string]bool{"informational": true, "low": true, "medium": true, "high": true, "critical": true}

func parseSecurityDecision(raw string) (map[string]interface{}, error) {
	decision, err := parseJSONDecision(raw)
	if err != nil {
		return nil, err
	}
	level, ok := stringField(decision, "threat_level")
	if !ok || !securityThreatLevels[level] {
		return nil, fmt.Errorf("threat_level %q is not one of informational|low|medium|high|critical", level)
	}
	return decision, nil
}
