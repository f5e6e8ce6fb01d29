// Package fallback implements the Fallback Responder: a deterministic,
// safe response path used whenever a worker's LLM path is unavailable or
// exceeds its deadline.
//
// Grounded on modelmanager's DefaultDescriptorTable: a fixed, in-process
// map keyed by a composite identity rather than a learned or remote
// lookup, plus ai/providers/mock.Client's call-counting style for test
// observability.
package fallback

import (
	"fmt"
	"sync"

	"github.com/facilitycore/orchestrator/platform"
)

// Response is the deterministic answer a Responder produces in place of an
// LLM invocation.
type Response struct {
	ResponseText string
	Confidence   float64
	Reasoning    string
}

// clamp bounds confidence to the [0.2, 0.95] range.
func clamp(confidence float64) float64 {
	switch {
	case confidence < 0.2:
		return 0.2
	case confidence > 0.95:
		return 0.95
	default:
		return confidence
	}
}

type key struct {
	agentType   platform.AgentType
	scenarioKey string
}

// entry is a static table row: the canned response plus its confidence,
// clamped once at registration time.
type entry struct {
	text       string
	confidence float64
}

// Responder is the Fallback Responder. Zero value is not usable; construct
// with New.
type Responder struct {
	mu      sync.Mutex
	table   map[key]entry
	generic map[platform.AgentType]entry
	calls   map[platform.AgentType]int64
}

// New constructs a Responder seeded with the built-in static table
// (defaultTableRows) plus a generic per-agent fallback for unmapped keys.
func New() *Responder {
	r := &Responder{
		table:   make(map[key]entry),
		generic: make(map[platform.AgentType]entry),
		calls:   make(map[platform.AgentType]int64),
	}
	for _, row := range defaultTableRows() {
		r.Register(row.agentType, row.scenarioKey, row.text, row.confidence)
	}
	for agentType, row := range defaultGenericRows() {
		r.RegisterGeneric(agentType, row.text, row.confidence)
	}
	return r
}

// Register adds or overwrites one (agent_type, scenario_key) table entry.
func (r *Responder) Register(agentType platform.AgentType, scenarioKey, text string, confidence float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.table[key{agentType, scenarioKey}] = entry{text: text, confidence: clamp(confidence)}
}

// RegisterGeneric adds or overwrites the per-agent generic fallback used
// when no (agent_type, scenario_key) entry matches.
func (r *Responder) RegisterGeneric(agentType platform.AgentType, text string, confidence float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.generic[agentType] = entry{text: text, confidence: clamp(confidence)}
}

// Fallback implements the contract:
// fallback(agent_type, scenario_key, context?) -> {response_text, confidence, reasoning}.
// Unknown (agent_type, scenario_key) pairs fall back to the per-agent
// generic entry; an agent type with no generic entry at all gets a final,
// hard-coded safe default so Fallback never errors.
func (r *Responder) Fallback(agentType platform.AgentType, scenarioKey string, context map[string]interface{}) Response {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[agentType]++

	if e, ok := r.table[key{agentType, scenarioKey}]; ok {
		return Response{
			ResponseText: e.text,
			Confidence:   e.confidence,
			Reasoning:    fmt.Sprintf("fallback table match for %s/%s", agentType, scenarioKey),
		}
	}
	if e, ok := r.generic[agentType]; ok {
		return Response{
			ResponseText: e.text,
			Confidence:   e.confidence,
			Reasoning:    fmt.Sprintf("generic fallback for %s (no entry for scenario_key=%q)", agentType, scenarioKey),
		}
	}
	return Response{
		ResponseText: "maintain current operations",
		Confidence:   0.2,
		Reasoning:    fmt.Sprintf("no fallback entry registered for agent_type=%s", agentType),
	}
}

// CallCount reports how many times Fallback has been invoked for
// agentType, exposed for test observability.
func (r *Responder) CallCount(agentType platform.AgentType) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[agentType]
}

type row struct {
	agentType   platform.AgentType
	scenarioKey string
	text        string
	confidence  float64
}

// defaultTableRows seeds the scenario-specific entries workers are
// expected to exercise during the built-in scenarios.
func defaultTableRows() []row {
	return []row{
		{platform.AgentHVAC, "cooling_crisis", "emergency cooling engaged", 0.6},
		{platform.AgentPower, "cooling_crisis", "reallocate power to cooling systems", 0.6},
		{platform.AgentSecurity, "security_breach", "lockdown initiated, monitoring increased", 0.7},
		{platform.AgentNetwork, "security_breach", "isolate affected network segment", 0.6},
		{platform.AgentPower, "energy_optimization", "defer non-critical loads to off-peak", 0.5},
		{platform.AgentHVAC, "routine_maintenance", "continue standard temperature regulation", 0.5},
	}
}

// defaultGenericRows seeds the per-agent generic fallback used for any
// scenario_key not present in defaultTableRows.
func defaultGenericRows() map[platform.AgentType]row {
	return map[platform.AgentType]row{
		platform.AgentHVAC:     {text: "maintain current cooling level", confidence: 0.4},
		platform.AgentPower:    {text: "maintain current power allocation", confidence: 0.4},
		platform.AgentSecurity: {text: "continue standard monitoring", confidence: 0.4},
		platform.AgentNetwork:  {text: "continue standard network monitoring", confidence: 0.4},
	}
}
