// Package worker implements the Worker Framework and the four specialized
// workers: HVAC, Power, Security, Network. Every worker shares one
// lifecycle — parse, bound the LLM call, degrade on malformed output,
// publish, record metrics — parameterized by a small per-agent Spec so the
// specialization itself stays a handful of pure functions.
//
// Grounded on gomind's ai.ProviderRegistry + core.AIClient split: a single
// generic call site (Base.handleEvent) that never knows which vendor/agent
// it's talking to, with per-agent behavior injected as data (Spec) the way
// gomind injects a provider factory rather than subclassing a base client.
package worker

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/facilitycore/orchestrator/bus"
	"github.com/facilitycore/orchestrator/fallback"
	"github.com/facilitycore/orchestrator/llmclient"
	"github.com/facilitycore/orchestrator/modelmanager"
	"github.com/facilitycore/orchestrator/platform"
	"github.com/facilitycore/orchestrator/resilience"
)

// DefaultTimeout is the worker invocation deadline: bounded execution time,
// default 60s total per event.
const DefaultTimeout = 60 * time.Second

// ParseOutcome is an explicit variant in place of exceptions-as-control-flow
// around JSON parse failures in worker output: either Structured holds a
// successfully parsed decision, or RawText holds the model's unparsed text
// for a degraded, still-successful response.
type ParseOutcome struct {
	Structured map[string]interface{}
	RawText    string
	IsStructured bool
}

// Spec is the pure-data specialization every concrete worker provides. It
// never reaches back into Base; Base calls it as a set of functions.
type Spec struct {
	AgentType   platform.AgentType
	InputTopics []platform.Topic
	OutputTopic platform.Topic

	// BuildPrompt renders the LLM prompt for an inbound event.
	BuildPrompt func(event platform.Event) string

	// ScenarioKey extracts the fallback table's scenario_key from an
	// inbound event's payload, or "" if the event carries none.
	ScenarioKey func(event platform.Event) string

	// RuleFallback computes the deterministic decision (not the fallback
	// responder's canned text) used when the LLM path is unavailable,
	// e.g. HVAC's temperature-threshold rule.
	RuleFallback func(event platform.Event) map[string]interface{}

	// ParseDecision parses the model's raw text into a structured
	// decision, validating any enum fields the worker's output contract
	// requires (e.g. cooling_level).
	ParseDecision func(raw string) (map[string]interface{}, error)

	// DecisionClass extracts the metrics bucket key from a decision
	// (e.g. decision["cooling_level"]).
	DecisionClass func(decision map[string]interface{}) string

	// SelfTest runs once at construction; a non-nil error puts the worker
	// into permanent fallback_mode, where it still operates on the
	// rule-based path instead of refusing to start.
	SelfTest func() error
}

// MetricsSnapshot is a point-in-time copy of a worker's per-call counters.
type MetricsSnapshot struct {
	Responses        int64
	TotalResponseMS  int64
	DecisionsByClass map[string]int64
}

// Base is the shared worker runtime every specialized worker embeds.
// Construct via NewBase, never directly.
type Base struct {
	spec      Spec
	bus       *bus.Bus
	models    *modelmanager.Manager
	fallback  *fallback.Responder
	logger    platform.Logger
	metrics   platform.MetricsSink
	timeout   time.Duration
	breaker   *resilience.Breaker

	mu           sync.Mutex
	fallbackMode bool
	responses    int64
	totalMS      int64
	byClass      map[string]int64
}

// NewBase wires a worker onto the bus, runs its self-test, and subscribes
// the generic handler to every input topic in spec. Construction never
// fails: a SelfTest error only flips the worker into fallback_mode.
func NewBase(spec Spec, b *bus.Bus, models *modelmanager.Manager, fb *fallback.Responder, logger platform.Logger, metrics platform.MetricsSink, timeout time.Duration) *Base {
	if logger == nil {
		logger = platform.NoOpLogger{}
	}
	if metrics == nil {
		metrics = platform.NoOpMetricsSink{}
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	w := &Base{
		spec:     spec,
		bus:      b,
		models:   models,
		fallback: fb,
		logger:   logger,
		metrics:  metrics,
		timeout:  timeout,
		byClass:  make(map[string]int64),
		breaker: resilience.New(string(spec.AgentType)+"-llm", resilience.Config{
			Classifier: llmclient.IsTransient,
		}, logger, metrics),
	}

	if spec.SelfTest != nil {
		if err := spec.SelfTest(); err != nil {
			w.logger.Error("worker self-test failed; entering fallback mode", map[string]interface{}{
				"agent_type": string(spec.AgentType),
				"error":      err.Error(),
			})
			w.fallbackMode = true
		}
	}

	for _, topic := range spec.InputTopics {
		b.Subscribe(topic, w.handleEvent)
	}

	return w
}

// InFallbackMode reports whether this worker is permanently degraded
// (construction self-test failure), independent of any per-call fallback.
func (w *Base) InFallbackMode() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.fallbackMode
}

// Metrics returns a point-in-time copy of this worker's counters.
func (w *Base) Metrics() MetricsSnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	byClass := make(map[string]int64, len(w.byClass))
	for k, v := range w.byClass {
		byClass[k] = v
	}
	return MetricsSnapshot{Responses: w.responses, TotalResponseMS: w.totalMS, DecisionsByClass: byClass}
}

// AvgResponseMS returns the running average response time, or 0 if no
// responses have been recorded yet.
func (s MetricsSnapshot) AvgResponseMS() float64 {
	if s.Responses == 0 {
		return 0
	}
	return float64(s.TotalResponseMS) / float64(s.Responses)
}

// handleEvent is the per-event lifecycle: parse, decide, publish, record.
// It is the bus.Handler registered for every input topic; the bus runs it
// on this subscription's own goroutine, separate from the dispatch loop, so
// a slow call delays this subscription's later events rather than the
// dispatch loop itself (until this subscription's mailbox fills).
func (w *Base) handleEvent(ctx context.Context, event platform.Event) error {
	requestID := event.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}
	start := time.Now()

	resp := w.respond(ctx, event, requestID)
	resp.RequestID = requestID
	resp.AgentType = w.spec.AgentType
	resp.ResponseTimeMS = time.Since(start).Milliseconds()
	resp.TimestampUTC = time.Now().UTC()

	w.recordMetrics(resp)

	payload := responseToPayload(resp)
	return w.bus.Publish(context.Background(), w.spec.OutputTopic, payload, requestID)
}

// respond runs the fallback-or-invoke decision, the bounded model call, and
// parse-or-degrade handling of its output.
func (w *Base) respond(ctx context.Context, event platform.Event, requestID string) platform.AgentResponse {
	if w.InFallbackMode() {
		return w.fallbackResponse(event)
	}

	if !w.breaker.Allow() {
		w.logger.Warn("circuit breaker open; falling back without invoking the model", map[string]interface{}{
			"agent_type": string(w.spec.AgentType),
		})
		return w.fallbackResponse(event)
	}

	handle, err := w.models.GetOrLoad(ctx, w.spec.AgentType)
	if err != nil {
		w.logger.Warn("worker could not acquire model handle; falling back", map[string]interface{}{
			"agent_type": string(w.spec.AgentType),
			"error":      err.Error(),
		})
		return w.fallbackResponse(event)
	}

	invokeCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	prompt := w.spec.BuildPrompt(event)
	text, err := handle.Client.Invoke(invokeCtx, prompt, llmclient.DefaultOptions())
	w.breaker.RecordResult(err)
	if err != nil {
		w.logger.Warn("worker llm invocation failed; falling back", map[string]interface{}{
			"agent_type": string(w.spec.AgentType),
			"error":      err.Error(),
		})
		return w.fallbackResponse(event)
	}

	outcome := parseOutcome(text, w.spec.ParseDecision)
	if outcome.IsStructured {
		return platform.AgentResponse{
			Status:     "success",
			Decision:   outcome.Structured,
			Reasoning:  "model decision",
			Confidence: 0.8,
			Fallback:   false,
		}
	}

	// Parse failed: degrade to a partial structured response carrying the
	// raw text. Still status=success — the worker produced an answer, just
	// not a machine-parseable one.
	return platform.AgentResponse{
		Status:     "success",
		Decision:   map[string]interface{}{},
		Reasoning:  outcome.RawText,
		Confidence: 0.5,
		Fallback:   false,
	}
}

func (w *Base) fallbackResponse(event platform.Event) platform.AgentResponse {
	scenarioKey := ""
	if w.spec.ScenarioKey != nil {
		scenarioKey = w.spec.ScenarioKey(event)
	}
	decision := map[string]interface{}{}
	if w.spec.RuleFallback != nil {
		decision = w.spec.RuleFallback(event)
	}
	fb := w.fallback.Fallback(w.spec.AgentType, scenarioKey, event.Payload)

	return platform.AgentResponse{
		Status:     "success",
		Decision:   decision,
		Reasoning:  fb.Reasoning,
		Confidence: fb.Confidence,
		Fallback:   true,
	}
}

// parseOutcome attempts to parse raw model text through parseDecision,
// returning an explicit ParseOutcome variant instead of propagating the
// JSON error as control flow.
func parseOutcome(raw string, parseDecision func(string) (map[string]interface{}, error)) ParseOutcome {
	if parseDecision == nil {
		return ParseOutcome{RawText: raw}
	}
	decision, err := parseDecision(raw)
	if err != nil {
		return ParseOutcome{RawText: raw}
	}
	return ParseOutcome{Structured: decision, IsStructured: true}
}

func (w *Base) recordMetrics(resp platform.AgentResponse) {
	class := ""
	if w.spec.DecisionClass != nil {
		class = w.spec.DecisionClass(resp.Decision)
	}

	w.mu.Lock()
	w.responses++
	w.totalMS += resp.ResponseTimeMS
	if class != "" {
		w.byClass[class]++
	}
	w.mu.Unlock()

	w.metrics.Counter("worker.responses", "agent_type", string(w.spec.AgentType))
	w.metrics.Histogram("worker.response_ms", float64(resp.ResponseTimeMS), "agent_type", string(w.spec.AgentType))
	if resp.Fallback {
		w.metrics.Counter("worker.fallback_responses", "agent_type", string(w.spec.AgentType))
	}
}

// responseToPayload flattens an AgentResponse into the bus's generic event
// payload shape, matching the orchestrator's external interface field
// names.
func responseToPayload(resp platform.AgentResponse) map[string]interface{} {
	payload := map[string]interface{}{
		"status":           resp.Status,
		"decision":         resp.Decision,
		"reasoning":        resp.Reasoning,
		"confidence":       resp.Confidence,
		"response_time_ms": resp.ResponseTimeMS,
		"fallback":         resp.Fallback,
		"agent_type":       string(resp.AgentType),
	}
	return payload
}

// parseJSONDecision is a shared helper for specializations whose
// ParseDecision is "unmarshal a JSON object, reject anything else".
func parseJSONDecision(raw string) (map[string]interface{}, error) {
	trimmed := strings.TrimSpace(raw)
	var decision map[string]interface{}
	if err := json.Unmarshal([]byte(trimmed), &decision); err != nil {
		return nil, err
	}
	return decision, nil
}
