package fallback_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/facilitycore/orchestrator/fallback"
	"github.com/facilitycore/orchestrator/platform"
)

func TestFallbackMatchesTableEntry(t *testing.T) {
	r := fallback.New()
	resp := r.Fallback(platform.AgentHVAC, "cooling_crisis", nil)
	assert.Equal(t, "emergency cooling engaged", resp.ResponseText)
	assert.GreaterOrEqual(t, resp.Confidence, 0.2)
	assert.LessOrEqual(t, resp.Confidence, 0.95)
}

func TestFallbackUnknownScenarioUsesGeneric(t *testing.T) {
	r := fallback.New()
	resp := r.Fallback(platform.AgentHVAC, "never_registered_key", nil)
	assert.Equal(t, "maintain current cooling level", resp.ResponseText)
}

func TestFallbackUnknownAgentHasSafeDefault(t *testing.T) {
	r := fallback.New()
	resp := r.Fallback(platform.AgentType("ANALYTICS"), "anything", nil)
	assert.Equal(t, "maintain current operations", resp.ResponseText)
	assert.Equal(t, 0.2, resp.Confidence)
}

func TestFallbackConfidenceIsClampedOnRegister(t *testing.T) {
	r := fallback.New()
	r.Register(platform.AgentNetwork, "extreme", "too confident", 5.0)
	resp := r.Fallback(platform.AgentNetwork, "extreme", nil)
	assert.Equal(t, 0.95, resp.Confidence)

	r.Register(platform.AgentNetwork, "too_low", "not confident", -3.0)
	resp = r.Fallback(platform.AgentNetwork, "too_low", nil)
	assert.Equal(t, 0.2, resp.Confidence)
}

func TestFallbackCallCountIncrementsPerAgent(t *testing.T) {
	r := fallback.New()
	r.Fallback(platform.AgentHVAC, "cooling_crisis", nil)
	r.Fallback(platform.AgentHVAC, "routine_maintenance", nil)
	r.Fallback(platform.AgentPower, "cooling_crisis", nil)

	assert.Equal(t, int64(2), r.CallCount(platform.AgentHVAC))
	assert.Equal(t, int64(1), r.CallCount(platform.AgentPower))
	assert.Equal(t, int64(0), r.CallCount(platform.AgentSecurity))
}
