// Package coordinator implements the Coordinator/Aggregator: it waits for
// one response from each of the four worker classes, then asks the LLM
// (or a static fallback) to produce a coordination plan. It also resolves
// cross-agent conflicts and orchestrates scenario-driven action patterns.
//
// Grounded on modelmanager.Manager's single-internal-lock slot table (the
// facility_status map here follows the same "one mutex, snapshot-then-
// release" discipline) and on bus.Bus's handler-per-goroutine dispatch,
// which is why the coordination routine itself runs on its own goroutine
// rather than inline in the bus's dispatch path, invoked asynchronously.
package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/facilitycore/orchestrator/bus"
	"github.com/facilitycore/orchestrator/llmclient"
	"github.com/facilitycore/orchestrator/modelmanager"
	"github.com/facilitycore/orchestrator/platform"
)

const (
	// TopicDirective is where coordination plans are published.
	TopicDirective platform.Topic = "facility.coordination.directive"
	// TopicConflict is the inbound conflict-resolution trigger.
	TopicConflict platform.Topic = "facility.coordination.conflict"
	// TopicScenario is the inbound scenario-orchestration trigger.
	TopicScenario platform.Topic = "facility.coordination.scenario"
	// TopicConflictResolution is where resolved conflicts are published.
	TopicConflictResolution platform.Topic = "facility.coordination.conflict_resolution"
	// TopicScenarioOrchestration is where scenario action patterns are
	// published.
	TopicScenarioOrchestration platform.Topic = "facility.coordination.scenario_orchestration"
)

// agentAll is the sentinel TargetAgent used for a broadcast emergency
// directive (tells all systems to maintain current operations).
const agentAll platform.AgentType = "ALL"

var workerOutputTopics = []platform.Topic{
	"hvac.cooling.decision",
	"power.optimization.decision",
	"security.assessment.decision",
	"network.assessment.decision",
}

var topicToAgentType = map[platform.Topic]platform.AgentType{
	"hvac.cooling.decision":        platform.AgentHVAC,
	"power.optimization.decision":  platform.AgentPower,
	"security.assessment.decision": platform.AgentSecurity,
	"network.assessment.decision":  platform.AgentNetwork,
}

// Config tunes the Coordinator's static tables. SystemDependencies and
// ScenarioActionPatterns are left to the caller rather than hard-coded, so
// deployments can override the dependency table without a code change.
type Config struct {
	// SystemDependencies maps an agent type to the agent types it
	// declares a dependency on, consulted during conflict resolution.
	SystemDependencies map[platform.AgentType][]platform.AgentType
	// ScenarioActionPatterns maps a scenario_type to the per-agent action
	// string issued during scenario orchestration.
	ScenarioActionPatterns map[string]map[platform.AgentType]string
	// RecentEventsLimit bounds how many recent worker responses are kept
	// for the coordination bundle's recent_events field.
	RecentEventsLimit int
}

// DefaultConfig returns the built-in dependency table and the
// temperature_emergency scenario pattern as a worked example.
func DefaultConfig() Config {
	return Config{
		SystemDependencies: map[platform.AgentType][]platform.AgentType{
			platform.AgentPower:   {platform.AgentHVAC},
			platform.AgentNetwork: {platform.AgentPower},
		},
		ScenarioActionPatterns: map[string]map[platform.AgentType]string{
			"temperature_emergency": {
				platform.AgentHVAC:     "emergency_cooling",
				platform.AgentPower:    "allocation_support",
				platform.AgentSecurity: "increased_monitoring",
				platform.AgentNetwork:  "priority_bandwidth",
			},
		},
		RecentEventsLimit: 20,
	}
}

// slotEntry records one worker's response alongside when it arrived, used
// to build the recent_events bundle.
type slotEntry struct {
	response platform.AgentResponse
	at       time.Time
}

// Coordinator is the Coordinator/Aggregator. Construct with New.
type Coordinator struct {
	cfg     Config
	bus     *bus.Bus
	models  *modelmanager.Manager
	logger  platform.Logger
	metrics platform.MetricsSink

	mu           sync.Mutex
	status       map[platform.AgentType]*slotEntry
	recentEvents []slotEntry

	conflictResolutions int64
	directivesPublished int64
}

// New constructs a Coordinator, subscribing it to the four worker output
// topics plus the conflict and scenario trigger topics.
func New(cfg Config, b *bus.Bus, models *modelmanager.Manager, logger platform.Logger, metrics platform.MetricsSink) *Coordinator {
	if logger == nil {
		logger = platform.NoOpLogger{}
	}
	if metrics == nil {
		metrics = platform.NoOpMetricsSink{}
	}
	if cfg.RecentEventsLimit <= 0 {
		cfg.RecentEventsLimit = DefaultConfig().RecentEventsLimit
	}

	c := &Coordinator{
		cfg:     cfg,
		bus:     b,
		models:  models,
		logger:  logger,
		metrics: metrics,
		status:  make(map[platform.AgentType]*slotEntry),
	}

	for _, topic := range workerOutputTopics {
		b.Subscribe(topic, c.handleWorkerResponse)
	}
	b.Subscribe(TopicConflict, c.handleConflict)
	b.Subscribe(TopicScenario, c.handleScenario)

	return c
}

// Status returns a point-in-time snapshot of which agent slots are
// currently filled since the last aggregation reset.
func (c *Coordinator) Status() map[platform.AgentType]platform.AgentResponse {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[platform.AgentType]platform.AgentResponse, len(c.status))
	for k, v := range c.status {
		out[k] = v.response
	}
	return out
}

// ConflictResolutionCount reports how many conflict resolutions have been
// emitted, for metrics/test observability.
func (c *Coordinator) ConflictResolutionCount() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conflictResolutions
}

// handleWorkerResponse updates the slot
// for this worker's agent type; once all four are filled, snapshot, reset,
// and run the coordination routine asynchronously so the bus dispatch path
// is never blocked on an LLM call.
func (c *Coordinator) handleWorkerResponse(ctx context.Context, event platform.Event) error {
	agentType, ok := topicToAgentType[event.Topic]
	if !ok {
		return fmt.Errorf("coordinator: unrecognized worker output topic %q", event.Topic)
	}

	response := responseFromPayload(agentType, event.Payload)

	c.mu.Lock()
	c.status[agentType] = &slotEntry{response: response, at: time.Now().UTC()}
	c.recentEvents = append(c.recentEvents, slotEntry{response: response, at: time.Now().UTC()})
	if len(c.recentEvents) > c.cfg.RecentEventsLimit {
		c.recentEvents = c.recentEvents[len(c.recentEvents)-c.cfg.RecentEventsLimit:]
	}

	quorum := len(c.status) == 4
	var bundle map[platform.AgentType]platform.AgentResponse
	var recent []slotEntry
	if quorum {
		bundle = make(map[platform.AgentType]platform.AgentResponse, 4)
		for k, v := range c.status {
			bundle[k] = v.response
		}
		recent = append([]slotEntry(nil), c.recentEvents...)
		c.status = make(map[platform.AgentType]*slotEntry)
	}
	c.mu.Unlock()

	if quorum {
		go c.coordinate(context.Background(), bundle, recent)
	}
	return nil
}

// coordinate builds a bundle, calls the LLM, parses the result, and
// publishes an AgentDirective. There is no separate fallback mode: a
// model-manager or LLM failure publishes the emergency directive instead.
func (c *Coordinator) coordinate(ctx context.Context, bundle map[platform.AgentType]platform.AgentResponse, recent []slotEntry) {
	handle, err := c.models.GetOrLoad(ctx, platform.AgentCoordinator)
	if err != nil {
		c.publishEmergencyDirective(ctx, err)
		return
	}

	prompt := coordinationPrompt(bundle, recent)
	invokeCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	text, err := handle.Client.Invoke(invokeCtx, prompt, llmclient.DefaultOptions())
	if err != nil {
		c.publishEmergencyDirective(ctx, err)
		return
	}

	plan, err := parseCoordinationPlan(text)
	if err != nil {
		plan = coordinationPlan{
			OverallStatus:  "yellow",
			CoordinatedPlan: []string{"Continue monitoring all systems"},
		}
	}

	directive := platform.AgentDirective{
		RequestID:     uuid.NewString(),
		TargetAgent:   platform.AgentCoordinator,
		DirectiveType: "coordination_plan",
		DirectiveText: plan.Justification,
		Priority:      platform.PriorityInfo,
		Context: map[string]interface{}{
			"overall_status": plan.OverallStatus,
			"priority_event": plan.PriorityEvent,
			"coordinated_plan": plan.CoordinatedPlan,
		},
		TimestampUTC: time.Now().UTC(),
	}
	c.publishDirective(ctx, directive)
}

// publishEmergencyDirective implements the emergency propagation policy:
// a model-acquisition or LLM-invocation failure in the coordination routine
// becomes a CRITICAL, all-systems-maintain-operations directive rather than
// a dropped result. An unparseable plan is not routed here; coordinate
// substitutes a yellow "Continue monitoring all systems" plan instead.
func (c *Coordinator) publishEmergencyDirective(ctx context.Context, cause error) {
	c.logger.Error("coordinator emergency fallback engaged", map[string]interface{}{"error": cause.Error()})
	directive := platform.AgentDirective{
		RequestID:     uuid.NewString(),
		TargetAgent:   agentAll,
		DirectiveType: "emergency_directive",
		DirectiveText: "maintain current operations",
		Priority:      platform.PriorityCritical,
		Context:       map[string]interface{}{"reason": cause.Error()},
		TimestampUTC:  time.Now().UTC(),
	}
	c.publishDirective(ctx, directive)
}

func (c *Coordinator) publishDirective(ctx context.Context, directive platform.AgentDirective) {
	c.mu.Lock()
	c.directivesPublished++
	c.mu.Unlock()

	payload := directiveToPayload(directive)
	if err := c.bus.Publish(ctx, TopicDirective, payload, directive.RequestID); err != nil {
		c.logger.Error("coordinator failed to publish directive", map[string]interface{}{"error": err.Error()})
	}
	c.metrics.Counter("coordinator.directives_published")
}

// handleConflict sorts conflicting
// decisions by priority, attach declared dependencies, and emit a
// resolution.
func (c *Coordinator) handleConflict(ctx context.Context, event platform.Event) error {
	raw, _ := event.Payload["conflicts"].([]interface{})
	conflicts := make([]conflictEntry, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		agentType := platform.NormalizeAgentType(fmt.Sprintf("%v", m["agent_type"]))
		priority, _ := stringVal(m["priority"])
		action, _ := stringVal(m["action"])
		conflicts = append(conflicts, conflictEntry{AgentType: agentType, Priority: priority, Action: action})
	}

	sort.SliceStable(conflicts, func(i, j int) bool {
		return priorityRank(conflicts[i].Priority) > priorityRank(conflicts[j].Priority)
	})

	resolved := make([]map[string]interface{}, 0, len(conflicts))
	for _, entry := range conflicts {
		resolved = append(resolved, map[string]interface{}{
			"agent_type":   string(entry.AgentType),
			"priority":     entry.Priority,
			"action":       entry.Action,
			"dependencies": dependencyNames(c.cfg.SystemDependencies[entry.AgentType]),
		})
	}

	c.mu.Lock()
	c.conflictResolutions++
	c.mu.Unlock()
	c.metrics.Counter("coordinator.conflict_resolutions")

	payload := map[string]interface{}{"resolved": resolved}
	return c.bus.Publish(ctx, TopicConflictResolution, payload, event.RequestID)
}

// handleScenario orchestrates per-scenario
// action patterns from the static table.
func (c *Coordinator) handleScenario(ctx context.Context, event platform.Event) error {
	scenarioType, _ := stringVal(event.Payload["scenario_type"])
	pattern, ok := c.cfg.ScenarioActionPatterns[scenarioType]
	actions := make(map[string]interface{})
	if ok {
		for agentType, action := range pattern {
			actions[string(agentType)] = action
		}
	}

	payload := map[string]interface{}{
		"scenario_type": scenarioType,
		"actions":       actions,
	}
	return c.bus.Publish(ctx, TopicScenarioOrchestration, payload, event.RequestID)
}

type conflictEntry struct {
	AgentType platform.AgentType
	Priority  string
	Action    string
}

func priorityRank(priority string) int {
	switch strings.ToLower(priority) {
	case "critical":
		return 3
	case "high":
		return 2
	case "medium":
		return 1
	default:
		return 0
	}
}

func dependencyNames(deps []platform.AgentType) []string {
	out := make([]string, 0, len(deps))
	for _, d := range deps {
		out = append(out, string(d))
	}
	return out
}

func stringVal(v interface{}) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

type coordinationPlan struct {
	OverallStatus   string   `json:"overall_status"`
	PriorityEvent   string   `json:"priority_event"`
	CoordinatedPlan []string `json:"coordinated_plan"`
	Justification   string   `json:"justification"`
}

func parseCoordinationPlan(raw string) (coordinationPlan, error) {
	var plan coordinationPlan
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &plan); err != nil {
		return coordinationPlan{}, err
	}
	if plan.OverallStatus != "green" && plan.OverallStatus != "yellow" && plan.OverallStatus != "red" {
		return coordinationPlan{}, fmt.Errorf("overall_status %q is not one of green|yellow|red", plan.OverallStatus)
	}
	return plan, nil
}

func coordinationPrompt(bundle map[platform.AgentType]platform.AgentResponse, recent []slotEntry) string {
	var sb strings.Builder
	sb.WriteString("Produce a coordination plan given the following agent assessments:\n")
	for _, agentType := range []platform.AgentType{platform.AgentHVAC, platform.AgentPower, platform.AgentSecurity, platform.AgentNetwork} {
		resp, ok := bundle[agentType]
		if !ok {
			continue
		}
		fmt.Fprintf(&sb, "- %s: %v (fallback=%v)\n", agentType, resp.Decision, resp.Fallback)
	}
	fmt.Fprintf(&sb, "Recent event count: %d\n", len(recent))
	sb.WriteString("Respond as JSON with keys overall_status (green|yellow|red), priority_event, coordinated_plan (array of strings), justification.")
	return sb.String()
}

func responseFromPayload(agentType platform.AgentType, payload map[string]interface{}) platform.AgentResponse {
	resp := platform.AgentResponse{AgentType: agentType, TimestampUTC: time.Now().UTC()}
	if status, ok := stringVal(payload["status"]); ok {
		resp.Status = status
	}
	if decision, ok := payload["decision"].(map[string]interface{}); ok {
		resp.Decision = decision
	}
	if reasoning, ok := stringVal(payload["reasoning"]); ok {
		resp.Reasoning = reasoning
	}
	if fb, ok := payload["fallback"].(bool); ok {
		resp.Fallback = fb
	}
	if confidence, ok := payload["confidence"].(float64); ok {
		resp.Confidence = confidence
	}
	return resp
}

func directiveToPayload(d platform.AgentDirective) map[string]interface{} {
	return map[string]interface{}{
		"target_agent":   string(d.TargetAgent),
		"directive_type": d.DirectiveType,
		"directive_text": d.DirectiveText,
		"priority":       d.Priority.String(),
		"context":        d.Context,
	}
}
