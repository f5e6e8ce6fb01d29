// Command facilityd is the composition root: it wires the Event Bus,
// Resource-Bounded Model Manager, the four worker agents, the Coordinator,
// the Scenario Orchestrator, and the State/Recovery Manager into one
// running process, then serves a small HTTP control surface (trigger a
// scenario, inspect status, scrape metrics).
//
// Grounded on gomind's cmd/*/main.go pattern: load config, build a logger,
// wire components with explicit constructor injection (no globals, no
// init()), start an HTTP server, and shut down on signal with a bounded
// grace period.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/facilitycore/orchestrator/bus"
	"github.com/facilitycore/orchestrator/coordinator"
	"github.com/facilitycore/orchestrator/fallback"
	"github.com/facilitycore/orchestrator/llmclient"
	"github.com/facilitycore/orchestrator/metrics"
	"github.com/facilitycore/orchestrator/modelmanager"
	"github.com/facilitycore/orchestrator/platform"
	"github.com/facilitycore/orchestrator/platform/config"
	"github.com/facilitycore/orchestrator/platform/logging"
	"github.com/facilitycore/orchestrator/scenario"
	"github.com/facilitycore/orchestrator/statemanager"
	"github.com/facilitycore/orchestrator/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "facilityd:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Default()
	cfg.DetectEnvironment()

	logger := logging.New("facilityd", logging.WithFormat(cfg.LogFormat))
	cfg.SetLogger(logger)
	if path := os.Getenv("FACILITYCORE_CONFIG_FILE"); path != "" {
		if err := cfg.LoadFromFile(path); err != nil {
			return fmt.Errorf("loading config file: %w", err)
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	metricsSink := metrics.New()
	logger = logging.New("facilityd", logging.WithFormat(cfg.LogFormat), logging.WithMetricsSink(metricsSink))

	kv, err := buildKVStore(cfg, logger)
	if err != nil {
		return fmt.Errorf("building kv store: %w", err)
	}

	eventBus := bus.New(bus.DefaultConfig(), logger, metricsSink)
	eventBus.Start()

	loader := buildLoader(logger)
	models := modelmanager.New(
		modelmanager.Config{
			MaxConcurrentModels: cfg.MaxConcurrentModels,
			MemoryThresholdGB:   cfg.MemoryThresholdGB,
			MaxMemoryGB:         cfg.MaxMemoryGB,
			CleanupIntervalSec:  cfg.CleanupIntervalSec,
			BaselineMemoryMB:    modelmanager.DefaultConfig().BaselineMemoryMB,
		},
		modelmanager.DefaultDescriptorTable(),
		loader,
		platform.OSMemoryProbe{TotalGB: cfg.MaxMemoryGB},
		logger,
		metricsSink,
	)
	monitorCtx, stopMonitor := context.WithCancel(context.Background())
	models.StartMonitor(monitorCtx)
	defer stopMonitor()

	fb := fallback.New()
	workerTimeout := time.Duration(cfg.WorkerTimeoutSec) * time.Second

	hvac := worker.NewHVACWorker(eventBus, models, fb, logger, metricsSink, workerTimeout)
	power := worker.NewPowerWorker(eventBus, models, fb, logger, metricsSink, workerTimeout)
	security := worker.NewSecurityWorker(eventBus, models, fb, logger, metricsSink, workerTimeout)
	network := worker.NewNetworkWorker(eventBus, models, fb, logger, metricsSink, workerTimeout)

	coordCfg := coordinator.DefaultConfig()
	if overrides := convertDependencyTable(cfg.SystemDependencies); len(overrides) > 0 {
		coordCfg.SystemDependencies = overrides
	}
	coord := coordinator.New(coordCfg, eventBus, models, logger, metricsSink)

	definitions := scenario.BuiltinScenarios()
	for scenarioType, def := range definitions {
		def.MaxDurationSec = int(cfg.ScenarioMaxDuration(scenarioType, time.Duration(def.MaxDurationSec)*time.Second).Seconds())
		definitions[scenarioType] = def
	}
	orch := scenario.New(eventBus, definitions, logger, metricsSink)

	stateCfg := statemanager.DefaultConfig()
	stateCfg.RecoveryTimeout = time.Duration(cfg.RecoveryTimeoutSec) * time.Second
	stateCfg.StateTTL = time.Duration(cfg.KVTTLSec) * time.Second
	stateMgr := statemanager.New(stateCfg, kv, eventBus, logger, metricsSink)

	registerSnapshotSources(stateMgr, hvac, power, security, network, coord)

	mux := buildMux(orch, coord, models, metricsSink)
	server := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}

	serverErrCh := make(chan error, 1)
	go func() {
		logger.Info("facilityd listening", map[string]interface{}{"addr": cfg.MetricsAddr})
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- err
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received", nil)
	case err := <-serverErrCh:
		logger.Error("http server failed", map[string]interface{}{"error": err.Error()})
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	_ = server.Shutdown(shutdownCtx)
	if err := stateMgr.GracefulShutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown reported an error", map[string]interface{}{"error": err.Error()})
	}
	return nil
}

// buildKVStore wires RedisStore when FACILITYCORE_REDIS_URL (or REDIS_URL)
// is set, falling back to the in-memory store for local/dev runs.
func buildKVStore(cfg *config.Config, logger platform.Logger) (platform.KVStore, error) {
	if cfg.RedisURL == "" {
		logger.Warn("no redis url configured; using in-memory state store", nil)
		return statemanager.NewInMemoryStore(), nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	client := redis.NewClient(opts)
	return statemanager.NewRedisStore(client), nil
}

// buildLoader wires an OpenAI-backed StaticLoader when
// FACILITYCORE_OPENAI_API_KEY is set, otherwise mock clients suitable for
// local demo runs of the scripted scenarios.
func buildLoader(logger platform.Logger) modelmanager.Loader {
	apiKey := os.Getenv("FACILITYCORE_OPENAI_API_KEY")
	if apiKey == "" {
		logger.Warn("no llm api key configured; using mock clients for all agents", nil)
		return &modelmanager.StaticLoader{
			Clients: map[platform.AgentType]llmclient.Client{
				platform.AgentHVAC:        llmclient.NewMockClient(`{"cooling_level":"medium","reasoning":"mock"}`),
				platform.AgentPower:       llmclient.NewMockClient(`{"power_optimization":"monitor and prepare reserve capacity","reasoning":"mock"}`),
				platform.AgentSecurity:    llmclient.NewMockClient(`{"threat_level":"low","reasoning":"mock"}`),
				platform.AgentNetwork:     llmclient.NewMockClient(`{"network_health":"stable","reasoning":"mock"}`),
				platform.AgentCoordinator: llmclient.NewMockClient(`{"overall_status":"green","reasoning":"mock"}`),
			},
		}
	}

	adapter := llmclient.NewOpenAIAdapter(apiKey, logger)
	return &modelmanager.StaticLoader{
		Clients: map[platform.AgentType]llmclient.Client{
			platform.AgentHVAC:        adapter,
			platform.AgentPower:       adapter,
			platform.AgentSecurity:    adapter,
			platform.AgentNetwork:     adapter,
			platform.AgentCoordinator: adapter,
		},
	}
}

// convertDependencyTable adapts the operator-facing string-keyed dependency
// table (as loaded from YAML) into coordinator.Config's platform.AgentType
// keys, dropping any agent type name that doesn't match a known AgentType.
func convertDependencyTable(table map[string][]string) map[platform.AgentType][]platform.AgentType {
	if len(table) == 0 {
		return nil
	}
	out := make(map[platform.AgentType][]platform.AgentType, len(table))
	for agent, deps := range table {
		agentType := platform.NormalizeAgentType(agent)
		if !agentType.Valid() {
			continue
		}
		converted := make([]platform.AgentType, 0, len(deps))
		for _, dep := range deps {
			depType := platform.NormalizeAgentType(dep)
			if !depType.Valid() {
				continue
			}
			converted = append(converted, depType)
		}
		out[agentType] = converted
	}
	return out
}

func registerSnapshotSources(m *statemanager.Manager, hvac *worker.HVACWorker, power *worker.PowerWorker, security *worker.SecurityWorker, network *worker.NetworkWorker, coord *coordinator.Coordinator) {
	m.RegisterSnapshotSource("hvac-1", platform.AgentHVAC, func() map[string]interface{} {
		return metricsToMap(hvac.Metrics())
	})
	m.RegisterSnapshotSource("power-1", platform.AgentPower, func() map[string]interface{} {
		return metricsToMap(power.Metrics())
	})
	m.RegisterSnapshotSource("security-1", platform.AgentSecurity, func() map[string]interface{} {
		return metricsToMap(security.Metrics())
	})
	m.RegisterSnapshotSource("network-1", platform.AgentNetwork, func() map[string]interface{} {
		return metricsToMap(network.Metrics())
	})
	m.RegisterSnapshotSource("coordinator-1", platform.AgentCoordinator, func() map[string]interface{} {
		status := coord.Status()
		snapshot := make(map[string]interface{}, len(status))
		for agentType, resp := range status {
			snapshot[string(agentType)] = resp.Decision
		}
		return snapshot
	})
}

func metricsToMap(m worker.MetricsSnapshot) map[string]interface{} {
	return map[string]interface{}{
		"responses":          m.Responses,
		"avg_response_ms":    m.AvgResponseMS(),
		"decisions_by_class": m.DecisionsByClass,
	}
}

func buildMux(orch *scenario.Orchestrator, coord *coordinator.Coordinator, models *modelmanager.Manager, metricsSink *metrics.Sink) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metricsSink.Handler())

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{
			"scenario":    orch.GetScenarioState(),
			"coordinator": coord.Status(),
			"models":      models.Stats(),
		})
	})

	mux.HandleFunc("/scenarios/trigger", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var body struct {
			ScenarioType string `json:"scenario_type"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if err := orch.TriggerScenario(body.ScenarioType); err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})

	mux.HandleFunc("/scenarios/pause", func(w http.ResponseWriter, r *http.Request) {
		if err := orch.Pause(); err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("/scenarios/resume", func(w http.ResponseWriter, r *http.Request) {
		if err := orch.Resume(); err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("/scenarios/reset", func(w http.ResponseWriter, r *http.Request) {
		orch.Reset()
		w.WriteHeader(http.StatusOK)
	})

	return mux
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
