// Package platform holds the shared contracts and data model used across
// the facility orchestrator: the abstract Logger/KVStore/MemoryProbe
// collaborators, the Topic/Event/AgentResponse/AgentDirective/AgentState
// entities, and the enums that classify them. It plays the role gomind's
// core package plays for its agent framework: a dependency-free foundation
// every other package imports, never the other way around.
package platform

import (
	"strings"
	"time"
)

// Topic is a hierarchical dotted string such as "hvac.cooling.decision".
// Equality is plain string equality; there is no pattern matching.
type Topic string

// AgentType enumerates the agent roles the orchestrator knows about.
type AgentType string

const (
	AgentHVAC        AgentType = "HVAC"
	AgentPower       AgentType = "POWER"
	AgentSecurity    AgentType = "SECURITY"
	AgentNetwork     AgentType = "NETWORK"
	AgentCoordinator AgentType = "COORDINATOR"
)

// NormalizeAgentType is the single normalization site for agent-type strings
// arriving from untrusted payloads (event data, LLM output, config files).
// Unknown values pass through uppercased so callers can still decide to
// reject them explicitly.
func NormalizeAgentType(raw string) AgentType {
	return AgentType(strings.ToUpper(strings.TrimSpace(raw)))
}

// Valid reports whether the AgentType is one of the known roles.
func (a AgentType) Valid() bool {
	switch a {
	case AgentHVAC, AgentPower, AgentSecurity, AgentNetwork, AgentCoordinator:
		return true
	default:
		return false
	}
}

// AgentStatus enumerates the lifecycle status of a worker at the moment it
// produced a response or snapshot.
type AgentStatus string

const (
	StatusIdle       AgentStatus = "IDLE"
	StatusProcessing AgentStatus = "PROCESSING"
	StatusWaiting    AgentStatus = "WAITING"
	StatusError      AgentStatus = "ERROR"
	StatusOffline    AgentStatus = "OFFLINE"
)

// EventPriority ranks events/directives; CRITICAL outranks HIGH outranks
// MEDIUM outranks LOW.
type EventPriority int

const (
	PriorityInfo EventPriority = iota
	PriorityLow
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

func (p EventPriority) String() string {
	switch p {
	case PriorityCritical:
		return "CRITICAL"
	case PriorityHigh:
		return "HIGH"
	case PriorityMedium:
		return "MEDIUM"
	case PriorityLow:
		return "LOW"
	case PriorityInfo:
		return "INFO"
	default:
		return "UNKNOWN"
	}
}

// EventSeverity ranks raw facility events; CRITICAL outranks ERROR outranks
// WARNING outranks INFO outranks DEBUG.
type EventSeverity int

const (
	SeverityDebug EventSeverity = iota
	SeverityInfo
	SeverityWarning
	SeverityError
	SeverityCritical
)

func (s EventSeverity) String() string {
	switch s {
	case SeverityCritical:
		return "CRITICAL"
	case SeverityError:
		return "ERROR"
	case SeverityWarning:
		return "WARNING"
	case SeverityInfo:
		return "INFO"
	case SeverityDebug:
		return "DEBUG"
	default:
		return "UNKNOWN"
	}
}

// Event is the immutable unit of publication on the Event Bus. Payload is a
// structured, per-topic shape (see the worker packages for the concrete
// shapes they expect); the bus itself treats it opaquely.
type Event struct {
	Topic     Topic
	Payload   map[string]interface{}
	RequestID string
	// PublishedAt records when the event was enqueued; used by the
	// scenario orchestrator to discard stale responses observed before a
	// step began.
	PublishedAt time.Time
}

// AgentDirective is an immutable instruction emitted by the Coordinator (or,
// during scenario runs, injected directly onto the bus).
type AgentDirective struct {
	RequestID     string
	TargetAgent   AgentType
	DirectiveType string
	DirectiveText string
	Priority      EventPriority
	Context       map[string]interface{}
	TimestampUTC  time.Time
}

// AgentResponse is the immutable result a worker (or the Coordinator)
// publishes after handling an event. Correlation to the originating
// request is by RequestID.
type AgentResponse struct {
	RequestID       string
	AgentType       AgentType
	Status          string // "success" | "error"
	Decision        map[string]interface{}
	Reasoning       string
	Confidence      float64
	ResponseTimeMS  int64
	TimestampUTC    time.Time
	Fallback        bool
}

// AgentState is the mutable, versioned snapshot of a worker's internal
// state as persisted by the State/Recovery Manager. Version is monotonic
// per AgentID; Checksum is the canonical-serialization hash of StateBlob
// (see Checksum in checksum.go).
type AgentState struct {
	AgentID        string
	AgentType      AgentType
	StateBlob      map[string]interface{}
	LastUpdatedUTC time.Time
	Version        int64
	Checksum       string
}

// ModelSlot describes a language-model instance cached by the Model
// Manager. Ownership is exclusive to the Model Manager while cached;
// workers receive only a borrowed ModelHandle valid for one invocation.
type ModelSlot struct {
	ModelID           string
	AgentType         AgentType
	Priority          ModelPriority
	LastUsedUTC       time.Time
	UsageCount        int64
	EstimatedMemoryMB int
	LoadTimeMS        int64
}

// ModelPriority dictates eviction order in the Model Manager: CRITICAL
// slots are never evicted by ordinary cleanup.
type ModelPriority int

const (
	ModelPriorityLow ModelPriority = iota
	ModelPriorityMedium
	ModelPriorityHigh
	ModelPriorityCritical
)

func (p ModelPriority) String() string {
	switch p {
	case ModelPriorityCritical:
		return "CRITICAL"
	case ModelPriorityHigh:
		return "HIGH"
	case ModelPriorityMedium:
		return "MEDIUM"
	case ModelPriorityLow:
		return "LOW"
	default:
		return "UNKNOWN"
	}
}

// MemoryStats is the abstract snapshot a MemoryProbe returns.
type MemoryStats struct {
	TotalGB     float64
	UsedGB      float64
	AvailableGB float64
	Percent     float64
}
