// Package logging provides the facility orchestrator's structured logger:
// ProductionLogger, grounded on gomind's core.ProductionLogger /
// telemetry.TelemetryLogger pair. It writes JSON in production-like
// environments and human-readable text locally, rate-limits error logs
// during sustained outages, binds a component name per gomind's
// ComponentAwareLogger convention, and optionally forwards structured
// events to a MetricsSink the way gomind forwards log events to its
// telemetry registry.
package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/facilitycore/orchestrator/platform"
)

type correlationKey struct{}

// Correlation carries request/agent identifiers threaded through a
// context so *WithContext log calls can bind them automatically without
// every call site repeating request_id/agent_id/agent_type by hand.
type Correlation struct {
	RequestID string
	AgentID   string
	AgentType platform.AgentType
}

// WithCorrelation attaches c to ctx for downstream *WithContext logging.
func WithCorrelation(ctx context.Context, c Correlation) context.Context {
	return context.WithValue(ctx, correlationKey{}, c)
}

func correlationFrom(ctx context.Context) (Correlation, bool) {
	if ctx == nil {
		return Correlation{}, false
	}
	c, ok := ctx.Value(correlationKey{}).(Correlation)
	return c, ok
}

// ProductionLogger is the default platform.ComponentLogger implementation.
type ProductionLogger struct {
	mu          sync.RWMutex
	serviceName string
	component   string
	level       string
	format      string // "json" | "text"
	output      io.Writer
	errLimiter  *rateLimiter
	metrics     platform.MetricsSink
}

// Option configures a ProductionLogger at construction time.
type Option func(*ProductionLogger)

// WithFormat overrides auto-detected output format ("json" or "text").
func WithFormat(format string) Option {
	return func(l *ProductionLogger) { l.format = format }
}

// WithLevel overrides the minimum log level ("DEBUG", "INFO", "WARN", "ERROR").
func WithLevel(level string) Option {
	return func(l *ProductionLogger) { l.level = strings.ToUpper(level) }
}

// WithOutput overrides the destination writer; tests use this to capture
// output instead of writing to stdout.
func WithOutput(w io.Writer) Option {
	return func(l *ProductionLogger) { l.output = w }
}

// WithMetricsSink forwards every log event's level/component as a counter
// metric, mirroring gomind's logger-to-telemetry-registry bridge.
func WithMetricsSink(sink platform.MetricsSink) Option {
	return func(l *ProductionLogger) { l.metrics = sink }
}

// New creates a ProductionLogger for serviceName. Format defaults to "json"
// when KUBERNETES_SERVICE_HOST is set (matching gomind's environment
// auto-detection) and "text" otherwise; level defaults to "INFO".
func New(serviceName string, opts ...Option) *ProductionLogger {
	format := "text"
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		format = "json"
	}

	l := &ProductionLogger{
		serviceName: serviceName,
		component:   "facilitycore",
		level:       "INFO",
		format:      format,
		output:      os.Stdout,
		errLimiter:  newRateLimiter(time.Second),
		metrics:     platform.NoOpMetricsSink{},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// WithComponent returns a logger that binds component to every log line it
// emits, without mutating the receiver (safe to share the parent logger
// across many components).
func (l *ProductionLogger) WithComponent(component string) platform.Logger {
	l.mu.RLock()
	clone := *l
	l.mu.RUnlock()
	clone.component = component
	return &clone
}

func (l *ProductionLogger) Info(msg string, fields map[string]interface{}) {
	l.logEvent(context.Background(), "INFO", msg, fields)
}

func (l *ProductionLogger) Warn(msg string, fields map[string]interface{}) {
	l.logEvent(context.Background(), "WARN", msg, fields)
}

func (l *ProductionLogger) Error(msg string, fields map[string]interface{}) {
	if !l.errLimiter.Allow() {
		return
	}
	l.logEvent(context.Background(), "ERROR", msg, fields)
}

func (l *ProductionLogger) Debug(msg string, fields map[string]interface{}) {
	l.logEvent(context.Background(), "DEBUG", msg, fields)
}

func (l *ProductionLogger) InfoWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.logEvent(ctx, "INFO", msg, fields)
}

func (l *ProductionLogger) WarnWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.logEvent(ctx, "WARN", msg, fields)
}

func (l *ProductionLogger) ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	if !l.errLimiter.Allow() {
		return
	}
	l.logEvent(ctx, "ERROR", msg, fields)
}

func (l *ProductionLogger) DebugWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.logEvent(ctx, "DEBUG", msg, fields)
}

func (l *ProductionLogger) logEvent(ctx context.Context, level, msg string, fields map[string]interface{}) {
	l.mu.RLock()
	format := l.format
	component := l.component
	serviceName := l.serviceName
	output := l.output
	shouldLog := l.shouldLog(level)
	l.mu.RUnlock()

	if !shouldLog {
		return
	}

	merged := make(map[string]interface{}, len(fields)+3)
	for k, v := range fields {
		merged[k] = v
	}
	if corr, ok := correlationFrom(ctx); ok {
		if corr.RequestID != "" {
			merged["request_id"] = corr.RequestID
		}
		if corr.AgentID != "" {
			merged["agent_id"] = corr.AgentID
		}
		if corr.AgentType != "" {
			merged["agent_type"] = string(corr.AgentType)
		}
	}

	timestamp := time.Now().UTC().Format(time.RFC3339)

	if format == "json" {
		entry := map[string]interface{}{
			"timestamp": timestamp,
			"level":     level,
			"service":   serviceName,
			"component": component,
			"message":   msg,
		}
		for k, v := range merged {
			entry[k] = v
		}
		if data, err := json.Marshal(entry); err == nil {
			fmt.Fprintln(output, string(data))
		}
	} else {
		var b strings.Builder
		for k, v := range merged {
			fmt.Fprintf(&b, "%s=%v ", k, v)
		}
		fmt.Fprintf(output, "%s [%s] [%s:%s] %s %s\n", timestamp, level, serviceName, component, msg, b.String())
	}

	if l.metrics != nil {
		l.metrics.Counter("facilitycore.log.events", "level", strings.ToLower(level), "component", component)
	}
}

func (l *ProductionLogger) shouldLog(level string) bool {
	order := map[string]int{"DEBUG": 0, "INFO": 1, "WARN": 2, "ERROR": 3}
	cur, ok1 := order[l.level]
	msg, ok2 := order[level]
	if !ok1 || !ok2 {
		return true
	}
	return msg >= cur
}

var _ platform.ComponentLogger = (*ProductionLogger)(nil)
