// Package scenario implements the Scenario Orchestrator: a deterministic,
// time-bounded state machine that runs one scripted scenario at a time,
// waiting for agent responses at each step, and produces a ScenarioResult
// whether or not the scenario succeeds.
//
// Grounded on gomind/orchestration's WorkflowEngine: a sequential step
// executor driven by plain-data step definitions (WorkflowStepDefinition)
// rather than by scenario objects that reach back into the engine — here
// generalized to a fixed IDLE/INITIALIZING/RUNNING/... lifecycle instead
// of gomind's pending/running/completed/failed/cancelled ExecutionStatus.
package scenario

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/facilitycore/orchestrator/bus"
	"github.com/facilitycore/orchestrator/platform"
)

// Topics the orchestrator publishes scenario lifecycle events on.
const (
	TopicInitialized platform.Topic = "demo.scenario.initialized"
	TopicStart       platform.Topic = "demo.scenario.start"
	TopicPaused      platform.Topic = "demo.scenario.paused"
	TopicResumed     platform.Topic = "demo.scenario.resumed"
	TopicStopped     platform.Topic = "demo.scenario.stopped"
	TopicCompleted   platform.Topic = "demo.scenario.completed"
	TopicFailed      platform.Topic = "demo.scenario.failed"
	TopicReset       platform.Topic = "demo.scenario.reset"
)

// responseTopicAgents is the fixed set of topics the orchestrator watches
// for step-completion responses, and how to recover an AgentType from an
// event seen on that topic.
var responseTopicAgents = map[platform.Topic]platform.AgentType{
	"hvac.cooling.decision":          platform.AgentHVAC,
	"power.optimization.decision":    platform.AgentPower,
	"security.assessment.decision":   platform.AgentSecurity,
	"network.assessment.decision":    platform.AgentNetwork,
	"facility.coordination.directive": platform.AgentCoordinator,
}

const recentResponsesCap = 512

// Orchestrator is the Scenario Orchestrator. Construct with New.
type Orchestrator struct {
	bus     *bus.Bus
	logger  platform.Logger
	metrics platform.MetricsSink

	definitions map[string]ScenarioDefinition

	mu             sync.Mutex
	state          State
	scenarioID     string
	currentDef     *ScenarioDefinition
	cancel         context.CancelFunc
	tracker        *Tracker
	segmentStart   time.Time
	elapsedAccum   time.Duration
	scenarioDeadline time.Time
	lastResult     *Result

	recentMu sync.Mutex
	recent   []observedResponse
}

// New constructs an Orchestrator in the IDLE state, subscribed to the
// fixed set of response topics it watches while a scenario runs.
func New(b *bus.Bus, definitions map[string]ScenarioDefinition, logger platform.Logger, metrics platform.MetricsSink) *Orchestrator {
	if logger == nil {
		logger = platform.NoOpLogger{}
	}
	if metrics == nil {
		metrics = platform.NoOpMetricsSink{}
	}
	if definitions == nil {
		definitions = BuiltinScenarios()
	}

	o := &Orchestrator{
		bus:         b,
		logger:      logger,
		metrics:     metrics,
		definitions: definitions,
		state:       StateIdle,
	}

	for topic, agentType := range responseTopicAgents {
		topic, agentType := topic, agentType
		b.Subscribe(topic, func(ctx context.Context, event platform.Event) error {
			o.observeResponse(topic, agentType, event)
			return nil
		})
	}

	return o
}

func (o *Orchestrator) observeResponse(topic platform.Topic, agentType platform.AgentType, event platform.Event) {
	decision, _ := event.Payload["decision"].(map[string]interface{})
	if decision == nil {
		if ctxMap, ok := event.Payload["context"].(map[string]interface{}); ok {
			decision = ctxMap
		}
	}

	o.recentMu.Lock()
	o.recent = append(o.recent, observedResponse{AgentType: agentType, Topic: topic, Decision: decision, At: time.Now().UTC()})
	if len(o.recent) > recentResponsesCap {
		o.recent = o.recent[len(o.recent)-recentResponsesCap:]
	}
	o.recentMu.Unlock()
}

func (o *Orchestrator) recentSince(since time.Time) []observedResponse {
	o.recentMu.Lock()
	defer o.recentMu.Unlock()
	out := make([]observedResponse, 0, len(o.recent))
	for _, r := range o.recent {
		if !r.At.Before(since) {
			out = append(out, r)
		}
	}
	return out
}

// State returns the current scenario state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// GetScenarioState returns a snapshot observers can read without racing
// the orchestrator's own run loop.
type StateSnapshot struct {
	State      State
	ScenarioID string
	LastResult *Result
}

func (o *Orchestrator) GetScenarioState() StateSnapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	snap := StateSnapshot{State: o.state, ScenarioID: o.scenarioID}
	if o.lastResult != nil {
		copied := *o.lastResult
		snap.LastResult = &copied
	}
	return snap
}

// TriggerScenario starts scenarioType running. Only valid from
// IDLE/COMPLETED/FAILED.
func (o *Orchestrator) TriggerScenario(scenarioType string) error {
	def, ok := o.definitions[scenarioType]
	if !ok {
		return platform.NewFrameworkError("scenario.TriggerScenario", "scenario", platform.ErrUnknownScenario)
	}

	o.mu.Lock()
	if o.state != StateIdle && o.state != StateCompleted && o.state != StateFailed {
		o.mu.Unlock()
		return platform.NewFrameworkError("scenario.TriggerScenario", "scenario", platform.ErrScenarioNotIdle)
	}
	scenarioID := uuid.NewString()
	o.state = StateInitializing
	o.scenarioID = scenarioID
	o.currentDef = &def
	o.tracker = newTracker()
	o.elapsedAccum = 0
	o.segmentStart = time.Now().UTC()
	o.scenarioDeadline = o.segmentStart.Add(time.Duration(def.MaxDurationSec) * time.Second)
	o.mu.Unlock()

	o.publishLifecycle(TopicInitialized, scenarioID, map[string]interface{}{"scenario_type": scenarioType})

	ctx, cancel := context.WithCancel(context.Background())
	o.mu.Lock()
	o.cancel = cancel
	o.state = StateRunning
	o.mu.Unlock()

	o.publishLifecycle(TopicStart, scenarioID, map[string]interface{}{"scenario_type": scenarioType})

	go o.runLoop(ctx, scenarioID, def)
	return nil
}

// Pause suspends the run at the next step boundary (only valid from
// RUNNING). The boundary-only cutover mirrors the deadline check, which is
// likewise evaluated only between steps.
func (o *Orchestrator) Pause() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != StateRunning {
		return platform.NewFrameworkError("scenario.Pause", "scenario", platform.ErrScenarioNotRunning)
	}
	o.elapsedAccum += time.Since(o.segmentStart)
	o.state = StatePaused
	scenarioID := o.scenarioID
	go o.publishLifecycle(TopicPaused, scenarioID, nil)
	return nil
}

// Resume recomputes the remaining budget as max_duration_sec minus elapsed
// time before the pause, re-arms the scenario deadline, and returns to
// RUNNING.
func (o *Orchestrator) Resume() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != StatePaused {
		return platform.NewFrameworkError("scenario.Resume", "scenario", platform.ErrScenarioNotPaused)
	}
	o.segmentStart = time.Now().UTC()
	remaining := time.Duration(o.currentDef.MaxDurationSec)*time.Second - o.elapsedAccum
	if remaining < 0 {
		remaining = 0
	}
	o.scenarioDeadline = o.segmentStart.Add(remaining)
	o.state = StateRunning
	scenarioID := o.scenarioID
	go o.publishLifecycle(TopicResumed, scenarioID, nil)
	return nil
}

// Stop cancels the current run; the run loop finalizes the ScenarioResult
// as a failure once it observes the cancellation.
func (o *Orchestrator) Stop() error {
	o.mu.Lock()
	if o.state != StateRunning && o.state != StatePaused {
		o.mu.Unlock()
		return platform.NewFrameworkError("scenario.Stop", "scenario", platform.ErrScenarioNotRunning)
	}
	cancel := o.cancel
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

// Reset is idempotent, valid from any terminal/resetting state (including
// IDLE, so reset(); reset() stays well-formed). It cancels any pending
// timers, publishes exactly
// one demo.scenario.reset, runs the last scenario's cleanup steps, clears
// recorded state, and returns to IDLE.
func (o *Orchestrator) Reset() error {
	o.mu.Lock()
	if o.state == StateRunning || o.state == StatePaused || o.state == StateInitializing {
		o.mu.Unlock()
		return platform.NewFrameworkError("scenario.Reset", "scenario", platform.ErrInvalidTransition)
	}
	cancel := o.cancel
	def := o.currentDef
	scenarioID := o.scenarioID
	o.state = StateResetting
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	o.publishLifecycle(TopicReset, scenarioID, nil)

	if def != nil {
		for _, step := range def.CleanupSteps {
			o.runCleanupStep(scenarioID, step)
		}
	}

	o.recentMu.Lock()
	o.recent = nil
	o.recentMu.Unlock()

	o.mu.Lock()
	o.state = StateIdle
	o.mu.Unlock()
	return nil
}

func (o *Orchestrator) runCleanupStep(scenarioID string, step Step) {
	if step.DelaySec > 0 {
		time.Sleep(time.Duration(step.DelaySec) * time.Second)
	}
	payload := augmentPayload(step.Payload, scenarioID, -1)
	_ = o.bus.Publish(context.Background(), step.EventType, payload, scenarioID)
}

func (o *Orchestrator) getDeadline() time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.scenarioDeadline
}

// runLoop drives def's steps sequentially, honoring pause/stop at each
// step boundary, and finalizes a ScenarioResult.
func (o *Orchestrator) runLoop(ctx context.Context, scenarioID string, def ScenarioDefinition) {
	startUTC := time.Now().UTC()
	var outcomes []StepOutcome
	stepsCompleted := 0
	successfulSteps := 0
	failureReason := ""

	for idx, step := range def.Steps {
		if !o.awaitRunnable(ctx) {
			failureReason = "stopped by operator"
			break
		}
		if time.Now().After(o.getDeadline()) {
			failureReason = fmt.Sprintf("Scenario timeout after %d seconds", def.MaxDurationSec)
			break
		}

		outcome, ok := o.executeStep(ctx, scenarioID, idx, step)
		if !ok {
			failureReason = "stopped by operator"
			break
		}
		outcomes = append(outcomes, outcome)
		stepsCompleted++
		if outcome.Success {
			successfulSteps++
		}
	}

	endUTC := time.Now().UTC()
	o.mu.Lock()
	tracker := o.tracker
	o.mu.Unlock()

	result := Result{
		ScenarioType:          def.Type,
		StartUTC:              startUTC,
		EndUTC:                endUTC,
		StepsTotal:            len(def.Steps),
		StepsCompleted:        stepsCompleted,
		SuccessfulSteps:       successfulSteps,
		UniqueAgentsResponded: tracker.UniqueAgentCount(),
		Steps:                 outcomes,
	}

	if failureReason != "" {
		result.Success = false
		result.Error = failureReason
	} else {
		result.Success = evaluateSuccess(def, result, tracker)
	}

	o.mu.Lock()
	o.lastResult = &result
	if result.Success {
		o.state = StateCompleted
	} else {
		o.state = StateFailed
	}
	o.mu.Unlock()

	if result.Success {
		o.publishLifecycle(TopicCompleted, scenarioID, resultPayload(result))
	} else {
		o.publishLifecycle(TopicFailed, scenarioID, resultPayload(result))
	}
}

// awaitRunnable blocks while the orchestrator is PAUSED, waking on resume
// or context cancellation. Returns false if ctx was cancelled (stop).
func (o *Orchestrator) awaitRunnable(ctx context.Context) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		default:
		}
		o.mu.Lock()
		st := o.state
		o.mu.Unlock()
		if st == StateRunning {
			return true
		}
		if st != StatePaused {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// executeStep runs one scenario step's execution sequence. The bool
// return is false only when the context was cancelled (stop) mid-wait.
func (o *Orchestrator) executeStep(ctx context.Context, scenarioID string, idx int, step Step) (StepOutcome, bool) {
	if step.DelaySec > 0 {
		select {
		case <-time.After(time.Duration(step.DelaySec) * time.Second):
		case <-ctx.Done():
			return StepOutcome{}, false
		}
	}

	stepStart := time.Now().UTC()
	payload := augmentPayload(step.Payload, scenarioID, idx)
	if err := o.bus.Publish(ctx, step.EventType, payload, scenarioID); err != nil {
		o.logger.Warn("scenario step publish failed", map[string]interface{}{"error": err.Error()})
	}

	deadline := stepStart.Add(time.Duration(step.TimeoutSec) * time.Second)
	expectedTopics := make(map[platform.Topic]bool, len(step.ExpectedResponseTopics))
	for _, t := range step.ExpectedResponseTopics {
		expectedTopics[t] = true
	}
	required := make(map[platform.AgentType]bool, len(step.RequiredAgents))
	for _, a := range step.RequiredAgents {
		required[a] = true
	}

	received := make(map[platform.AgentType]bool)
	o.mu.Lock()
	tracker := o.tracker
	o.mu.Unlock()

	ticker := time.NewTicker(25 * time.Millisecond)
	defer ticker.Stop()

	for {
		for _, r := range o.recentSince(stepStart) {
			if !expectedTopics[r.Topic] || !required[r.AgentType] || received[r.AgentType] {
				continue
			}
			received[r.AgentType] = true
			tracker.markAgent(r.AgentType)
			if step.OnResponse != nil {
				step.OnResponse(tracker, r.AgentType, r.Decision)
			}
		}

		if len(received) >= len(required) || time.Now().After(deadline) {
			break
		}

		select {
		case <-ctx.Done():
			return StepOutcome{}, false
		case <-ticker.C:
		}
	}

	success := float64(len(received)) >= math.Ceil(0.8*float64(len(required)))
	return StepOutcome{
		EventType: string(step.EventType),
		StartUTC:  stepStart,
		EndUTC:    time.Now().UTC(),
		Received:  len(received),
		Required:  len(required),
		Success:   success,
	}, true
}

func evaluateSuccess(def ScenarioDefinition, result Result, tracker *Tracker) bool {
	duration := result.EndUTC.Sub(result.StartUTC).Seconds()
	if duration > float64(def.MaxDurationSec) {
		return false
	}
	if result.StepsTotal == 0 {
		return false
	}
	if float64(result.StepsCompleted) < 0.8*float64(result.StepsTotal) {
		return false
	}
	if float64(result.SuccessfulSteps) < 0.6*float64(result.StepsTotal) {
		return false
	}
	if result.UniqueAgentsResponded < def.RequiredUniqueAgents {
		return false
	}
	if def.ExtraSuccessCheck != nil {
		if ok, _ := def.ExtraSuccessCheck(tracker); !ok {
			return false
		}
	}
	return true
}

func augmentPayload(base map[string]interface{}, scenarioID string, stepID int) map[string]interface{} {
	out := make(map[string]interface{}, len(base)+3)
	for k, v := range base {
		out[k] = v
	}
	out["scenario_id"] = scenarioID
	out["step_id"] = stepID
	out["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	return out
}

func resultPayload(r Result) map[string]interface{} {
	return map[string]interface{}{
		"scenario_type":    r.ScenarioType,
		"success":          r.Success,
		"error":            r.Error,
		"steps_total":      r.StepsTotal,
		"steps_completed":  r.StepsCompleted,
		"successful_steps": r.SuccessfulSteps,
	}
}

func (o *Orchestrator) publishLifecycle(topic platform.Topic, scenarioID string, extra map[string]interface{}) {
	payload := map[string]interface{}{"scenario_id": scenarioID}
	for k, v := range extra {
		payload[k] = v
	}
	if err := o.bus.Publish(context.Background(), topic, payload, scenarioID); err != nil {
		o.logger.Warn("scenario lifecycle publish failed", map[string]interface{}{"topic": string(topic), "error": err.Error()})
	}
}
