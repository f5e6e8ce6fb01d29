package worker

import (
	"fmt"
	"time"

	"github.com/facilitycore/orchestrator/bus"
	"github.com/facilitycore/orchestrator/fallback"
	"github.com/facilitycore/orchestrator/modelmanager"
	"github.com/facilitycore/orchestrator/platform"
)

// NetworkWorker consumes facility.network.event (or
// facility.network.assessment) and publishes network.assessment.decision.
type NetworkWorker struct {
	*Base
}

// NewNetworkWorker constructs and subscribes the Network worker.
func NewNetworkWorker(b *bus.Bus, models *modelmanager.Manager, fb *fallback.Responder, logger platform.Logger, metrics platform.MetricsSink, timeout time.Duration) *NetworkWorker {
	spec := Spec{
		AgentType:   platform.AgentNetwork,
		InputTopics: []platform.Topic{"facility.network.event", "facility.network.assessment"},
		OutputTopic: "network.assessment.decision",
		BuildPrompt: networkPrompt,
		ScenarioKey: networkScenarioKey,
		RuleFallback: networkRuleFallback,
		ParseDecision: parseNetworkDecision,
		DecisionClass: func(decision map[string]interface{}) string {
			health, _ := stringField(decision, "network_health")
			return health
		},
		SelfTest: func() error {
			if models == nil {
				return fmt.Errorf("network worker requires a model manager")
			}
			return nil
		},
	}
	return &NetworkWorker{Base: NewBase(spec, b, models, fb, logger, metrics, timeout)}
}

func networkPrompt(event platform.Event) string {
	bandwidth, _ := floatField(event.Payload, "bandwidth_usage")
	latency, _ := floatField(event.Payload, "latency")
	lossPct, _ := floatField(event.Payload, "packet_loss")
	return fmt.Sprintf("Assess network_health (optimal, stable, degraded, critical) given bandwidth_usage=%.2f latency=%.2f packet_loss=%.2f. Respond as JSON with keys network_health and reasoning.", bandwidth, latency, lossPct)
}

func networkScenarioKey(event platform.Event) string {
	key, _ := stringField(event.Payload, "scenario_key")
	return key
}

// networkRuleFallback degrades by worst-indicator: high packet loss or
// latency outranks bandwidth pressure.
func networkRuleFallback(event platform.Event) map[string]interface{} {
	latency, _ := floatField(event.Payload, "latency")
	lossPct, _ := floatField(event.Payload, "packet_loss")
	bandwidth, _ := floatField(event.Payload, "bandwidth_usage")

	health := "optimal"
	switch {
	case lossPct > 5 || latency > 200:
		health = "critical"
	case lossPct > 1 || latency > 100 || bandwidth > 90:
		health = "degraded"
	case bandwidth > 70:
		health = "stable"
	}
	return map[string]interface{}{"network_health": health}
}

var networkHealthLevels = map[string]bool{"optimal": true, "stable": true, "degraded": true, "critical": true}

func parseNetworkDecision(raw string) (map[string]interface{}, error) {
	decision, err := parseJSONDecision(raw)
	if err != nil {
		return nil, err
	}
	health, ok := stringField(decision, "network_health")
	if !ok || !networkHealthLevels[health] {
		return nil, fmt.Errorf("network_health %q is not one of optimal|stable|degraded|critical", health)
	}
	return decision, nil
}
