package worker

import (
	"fmt"
	"time"

	"github.com/facilitycore/orchestrator/bus"
	"github.com/facilitycore/orchestrator/fallback"
	"github.com/facilitycore/orchestrator/modelmanager"
	"github.com/facilitycore/orchestrator/platform"
)

// HVACWorker consumes hvac.temperature.changed and publishes
// hvac.cooling.decision.
type HVACWorker struct {
	*Base
}

// NewHVACWorker constructs and subscribes the HVAC worker.
func NewHVACWorker(b *bus.Bus, models *modelmanager.Manager, fb *fallback.Responder, logger platform.Logger, metrics platform.MetricsSink, timeout time.Duration) *HVACWorker {
	spec := Spec{
		AgentType:     platform.AgentHVAC,
		InputTopics:   []platform.Topic{"hvac.temperature.changed"},
		OutputTopic:   "hvac.cooling.decision",
		BuildPrompt:   hvacPrompt,
		ScenarioKey:   hvacScenarioKey,
		RuleFallback:  hvacRuleFallback,
		ParseDecision: parseHVACDecision,
		DecisionClass: func(decision map[string]interface{}) string {
			level, _ := stringField(decision, "cooling_level")
			return level
		},
		SelfTest: func() error {
			if models == nil {
				return fmt.Errorf("hvac worker requires a model manager")
			}
			return nil
		},
	}
	return &HVACWorker{Base: NewBase(spec, b, models, fb, logger, metrics, timeout)}
}

func hvacPrompt(event platform.Event) string {
	temp, _ := floatField(event.Payload, "temperature")
	zone, _ := stringField(event.Payload, "zone")
	return fmt.Sprintf("Determine a cooling_level (low, medium, high, emergency) for zone %q at temperature %.2fC. Respond as JSON with keys cooling_level and reasoning.", zone, temp)
}

func hvacScenarioKey(event platform.Event) string {
	key, _ := stringField(event.Payload, "scenario_key")
	return key
}

// hvacRuleFallback implements the boundary behavior exactly:
// temp>26 -> high, temp>24 -> medium, else low (strict >, so 24.0 is low).
func hvacRuleFallback(event platform.Event) map[string]interface{} {
	temp, _ := floatField(event.Payload, "temperature")
	level := "low"
	switch {
	case temp > 26:
		level = "high"
	case temp > 24:
		level = "medium"
	}
	return map[string]interface{}{"cooling_level": level}
}

var hvacCoolingLevels = map[string]bool{"low": true, "medium": true, "high": true, "emergency": true}

func parseHVACDecision(raw string) (map[string]interface{}, error) {
	decision, err := parseJSONDecision(raw)
	if err != nil {
		return nil, err
	}
	level, ok := stringField(decision, "cooling_level")
	if !ok || !hvacCoolingLevels[level] {
		return nil, fmt.Errorf("cooling_level %q is not one of low|medium|high|emergency", level)
	}
	return decision, nil
}
