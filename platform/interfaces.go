package platform

import (
	"context"
	"time"
)

// Logger is the minimal structured-logging contract every component
// depends on. Grounded on gomind's core.Logger: basic and
// context-correlated variants side by side so handlers running inside a
// traced request can bind request_id/agent_id without a second interface.
type Logger interface {
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	Debug(msg string, fields map[string]interface{})

	InfoWithContext(ctx context.Context, msg string, fields map[string]interface{})
	WarnWithContext(ctx context.Context, msg string, fields map[string]interface{})
	ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{})
	DebugWithContext(ctx context.Context, msg string, fields map[string]interface{})
}

// ComponentLogger extends Logger with the ability to bind a component name
// that shows up in every structured log line emitted through it, mirroring
// gomind's ComponentAwareLogger ("framework/core", "agent/hvac", ...).
type ComponentLogger interface {
	Logger
	WithComponent(component string) Logger
}

// KVStore is the abstract persistence collaborator the State/Recovery
// Manager depends on. The core never imports a concrete backend; Redis and
// in-memory adapters live in statemanager.
type KVStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// MemoryProbe reports host memory pressure to the Model Manager.
type MemoryProbe interface {
	Snapshot() (MemoryStats, error)
}

// MetricsSink is the narrow metrics-emission contract components reach for
// without importing a concrete backend (mirrors gomind's
// core.MetricsRegistry pattern of a package-level optional sink set once at
// startup).
type MetricsSink interface {
	Counter(name string, labels ...string)
	Gauge(name string, value float64, labels ...string)
	Histogram(name string, value float64, labels ...string)
}

// NoOpLogger discards everything. Useful as a safe zero value for tests and
// for components constructed before a real logger is wired.
type NoOpLogger struct{}

func (NoOpLogger) Info(string, map[string]interface{})  {}
func (NoOpLogger) Warn(string, map[string]interface{})  {}
func (NoOpLogger) Error(string, map[string]interface{}) {}
func (NoOpLogger) Debug(string, map[string]interface{}) {}

func (NoOpLogger) InfoWithContext(context.Context, string, map[string]interface{})  {}
func (NoOpLogger) WarnWithContext(context.Context, string, map[string]interface{})  {}
func (NoOpLogger) ErrorWithContext(context.Context, string, map[string]interface{}) {}
func (NoOpLogger) DebugWithContext(context.Context, string, map[string]interface{}) {}

func (n NoOpLogger) WithComponent(string) Logger { return n }

var _ ComponentLogger = NoOpLogger{}

// NoOpMetricsSink discards every metric. Safe zero value until a real sink
// is registered.
type NoOpMetricsSink struct{}

func (NoOpMetricsSink) Counter(string, ...string)            {}
func (NoOpMetricsSink) Gauge(string, float64, ...string)     {}
func (NoOpMetricsSink) Histogram(string, float64, ...string) {}

var _ MetricsSink = NoOpMetricsSink{}
