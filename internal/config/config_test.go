package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_RequiresAuthSigningKey(t *testing.T) {
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auth_signing_key")
}

func TestLoad_AppliesDefaults(t *testing.T) {
	t.Setenv("COUNSELOR_AUTH_SIGNING_KEY", "test-secret")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "relay", cfg.ICETransportPolicy)
	assert.Equal(t, 2000, cfg.MaxConcurrentRooms)
	assert.Equal(t, "openai", cfg.LLMProvider)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, 0.85, cfg.SemanticCacheThreshold)
}

func TestLoad_EnvOverridesDefault(t *testing.T) {
	t.Setenv("COUNSELOR_AUTH_SIGNING_KEY", "test-secret")
	t.Setenv("COUNSELOR_MAX_CONCURRENT_ROOMS", "50")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.MaxConcurrentRooms)
}

func TestPipelineNodeDeadline_ConvertsMillisToDuration(t *testing.T) {
	cfg := &Config{PipelineNodeDeadlineMs: 10000}
	assert.Equal(t, 10*time.Second, cfg.PipelineNodeDeadline())
}
