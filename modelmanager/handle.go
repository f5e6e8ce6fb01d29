package modelmanager

import (
	"context"

	"github.com/facilitycore/orchestrator/llmclient"
	"github.com/facilitycore/orchestrator/platform"
)

// Loader loads (or simulates loading) a model instance for a descriptor.
// Abstracted so the Manager never depends on a concrete model runtime —
// the default loader binds a pre-configured llmclient.Client per agent
// type and reports a synthetic load time, exercising the same slot
// lifecycle a real loader (spinning up a local model process, warming a
// remote endpoint) would go through.
type Loader interface {
	Load(ctx context.Context, descriptor Descriptor) (llmclient.Client, error)
}

// StaticLoader returns a pre-bound client per agent type without any real
// load cost beyond SimulatedLoadMS, useful for tests and for deployments
// where every "model" is really a routed LLM API client rather than an
// in-process model weight load.
type StaticLoader struct {
	Clients         map[platform.AgentType]llmclient.Client
	SimulatedLoadMS int
}

// Load implements Loader.
func (l *StaticLoader) Load(ctx context.Context, descriptor Descriptor) (llmclient.Client, error) {
	client, ok := l.Clients[descriptor.AgentType]
	if !ok {
		return nil, platform.NewFrameworkError("modelmanager.StaticLoader.Load", "model", platform.ErrModelNotLoaded)
	}
	return client, nil
}

// Handle is the borrowed reference a worker holds for exactly one Invoke
// call. It is never retained across calls; re-acquire via GetOrLoad each
// time; reentrant acquisition is disallowed.
type Handle struct {
	ModelID   string
	AgentType platform.AgentType
	Client    llmclient.Client
}
