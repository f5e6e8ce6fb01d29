package scenario

import (
	"sync"
	"time"

	"github.com/facilitycore/orchestrator/platform"
)

// State is one of the Scenario Orchestrator's state machine states
// (the scenario lifecycle's scripted unit of work).
type State string

const (
	StateIdle         State = "IDLE"
	StateInitializing State = "INITIALIZING"
	StateRunning      State = "RUNNING"
	StatePaused       State = "PAUSED"
	StateCompleted    State = "COMPLETED"
	StateFailed       State = "FAILED"
	StateResetting    State = "RESETTING"
)

// observedResponse is one worker/coordinator response seen on a topic the
// orchestrator tracks, timestamped for the "observed time >= step start
// time" rule.
type observedResponse struct {
	AgentType platform.AgentType
	Topic     platform.Topic
	Decision  map[string]interface{}
	At        time.Time
}

// Step is one entry in a ScenarioDefinition's sequential script.
type Step struct {
	// EventType is the topic this step publishes to.
	EventType platform.Topic
	// Payload is the step's base payload; the orchestrator augments it
	// with scenario_id, step_id, and an ISO-8601 UTC timestamp before
	// publishing.
	Payload map[string]interface{}
	// DelaySec is how long to wait before publishing this step's event.
	DelaySec int
	// TimeoutSec bounds how long this step waits for responses.
	TimeoutSec int
	// RequiredAgents lists the agent types this step expects a response
	// from.
	RequiredAgents []platform.AgentType
	// ExpectedResponseTopics lists the topics an acceptable response may
	// arrive on for any of RequiredAgents.
	ExpectedResponseTopics []platform.Topic
	// OnResponse is an optional hook invoked for every qualifying response
	// observed during this step's wait, letting scenario-specific extras
	// (e.g. Security Breach's lockdown_initiated counter) accumulate
	// without the step needing a back-reference into the orchestrator.
	OnResponse func(tracker *Tracker, agentType platform.AgentType, decision map[string]interface{})
}

// ScenarioDefinition is a built-in or custom scripted scenario. Plain data;
// the Orchestrator owns and drives ScenarioDefinition instances, never the
// reverse (no circular references back into the orchestrator).
type ScenarioDefinition struct {
	Type                 string
	MaxDurationSec        int
	Steps                 []Step
	CleanupSteps          []Step
	RequiredUniqueAgents  int
	// ExtraSuccessCheck evaluates scenario-specific success criteria at
	// completion (covers scenario-specific extras). A nil check
	// always passes.
	ExtraSuccessCheck func(tracker *Tracker) (ok bool, reason string)
}

// Tracker accumulates per-run observability: named counters incremented
// by Step.OnResponse hooks, and the set of distinct agent types that have
// responded this run.
type Tracker struct {
	mu       sync.Mutex
	counters map[string]int64
	agents   map[platform.AgentType]bool
}

func newTracker() *Tracker {
	return &Tracker{counters: make(map[string]int64), agents: make(map[platform.AgentType]bool)}
}

// Increment bumps a named counter by one.
func (t *Tracker) Increment(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counters[name]++
}

// Count returns a named counter's current value.
func (t *Tracker) Count(name string) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counters[name]
}

func (t *Tracker) markAgent(agentType platform.AgentType) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.agents[agentType] = true
}

// UniqueAgentCount returns how many distinct agent types have responded
// this run.
func (t *Tracker) UniqueAgentCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.agents)
}

// StepOutcome records one executed step's result for ScenarioResult.
type StepOutcome struct {
	EventType string
	StartUTC  time.Time
	EndUTC    time.Time
	Received  int
	Required  int
	Success   bool
}

// Result is the deterministic outcome every scenario run produces, success
// or failure; every failure path still publishes a well-formed Result.
type Result struct {
	ScenarioType          string
	Success               bool
	Error                 string
	StartUTC              time.Time
	EndUTC                time.Time
	StepsTotal            int
	StepsCompleted        int
	SuccessfulSteps       int
	UniqueAgentsResponded int
	Steps                 []StepOutcome
}
