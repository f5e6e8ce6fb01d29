package worker

import (
	"fmt"
	"time"

	"github.com/facilitycore/orchestrator/bus"
	"github.com/facilitycore/orchestrator/fallback"
	"github.com/facilitycore/orchestrator/modelmanager"
	"github.com/facilitycore/orchestrator/platform"
)

// PowerWorker consumes hvac.cooling.decision and publishes
// power.optimization.decision, treating the upstream HVAC
// cooling_level as its main context.
type PowerWorker struct {
	*Base
}

// NewPowerWorker constructs and subscribes the Power worker.
func NewPowerWorker(b *bus.Bus, models *modelmanager.Manager, fb *fallback.Responder, logger platform.Logger, metrics platform.MetricsSink, timeout time.Duration) *PowerWorker {
	spec := Spec{
		AgentType:     platform.AgentPower,
		InputTopics:   []platform.Topic{"hvac.cooling.decision"},
		OutputTopic:   "power.optimization.decision",
		BuildPrompt:   powerPrompt,
		ScenarioKey:   powerScenarioKey,
		RuleFallback:  powerRuleFallback,
		ParseDecision: parseJSONDecision,
		DecisionClass: func(decision map[string]interface{}) string {
			opt, _ := stringField(decision, "power_optimization")
			return opt
		},
		SelfTest: func() error {
			if models == nil {
				return fmt.Errorf("power worker requires a model manager")
			}
			return nil
		},
	}
	return &PowerWorker{Base: NewBase(spec, b, models, fb, logger, metrics, timeout)}
}

func coolingLevelFromEvent(event platform.Event) string {
	decision, ok := event.Payload["decision"].(map[string]interface{})
	if ok {
		if level, ok := stringField(decision, "cooling_level"); ok {
			return level
		}
	}
	// Tolerate a flattened payload shape (no nested "decision" key).
	level, _ := stringField(event.Payload, "cooling_level")
	return level
}

func powerPrompt(event platform.Event) string {
	level := coolingLevelFromEvent(event)
	return fmt.Sprintf("Given an upstream HVAC cooling_level of %q, decide a power_optimization action. Respond as JSON with keys power_optimization and reasoning.", level)
}

func powerScenarioKey(event platform.Event) string {
	key, _ := stringField(event.Payload, "scenario_key")
	return key
}

func powerRuleFallback(event platform.Event) map[string]interface{} {
	level := coolingLevelFromEvent(event)
	action := "maintain current allocation"
	switch level {
	case "emergency", "high":
		action = "reallocate power to cooling systems"
	case "medium":
		action = "monitor and prepare reserve capacity"
	}
	return map[string]interface{}{"power_optimization": action}
}
