package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baro-gochi/counselor-assist-core/internal/errs"
)

func TestNew_UnknownProviderIsAgentFatal(t *testing.T) {
	_, err := New(context.Background(), "cohere", "some-model", "key", "key", BedrockOptions{})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.AgentFatal))
}

func TestNew_OpenAIRequiresKey(t *testing.T) {
	_, err := New(context.Background(), "openai", "gpt-4o-mini", "", "", BedrockOptions{})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.AgentFatal))

	client, err := New(context.Background(), "openai", "gpt-4o-mini", "sk-test", "", BedrockOptions{})
	require.NoError(t, err)
	assert.NotNil(t, client)
}

func TestNew_AnthropicRequiresKey(t *testing.T) {
	_, err := New(context.Background(), "anthropic", "claude-3-5-sonnet", "", "", BedrockOptions{})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.AgentFatal))

	client, err := New(context.Background(), "anthropic", "claude-3-5-sonnet", "", "sk-ant-test", BedrockOptions{})
	require.NoError(t, err)
	assert.NotNil(t, client)
}

func TestNew_BedrockRequiresCredentials(t *testing.T) {
	_, err := New(context.Background(), "bedrock", "anthropic.claude-3-5-sonnet-20241022-v2:0", "", "", BedrockOptions{})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.AgentFatal))

	client, err := New(context.Background(), "bedrock", "anthropic.claude-3-5-sonnet-20241022-v2:0", "", "", BedrockOptions{
		Region:          "us-east-1",
		AccessKeyID:     "AKIATEST",
		SecretAccessKey: "secret",
		EmbeddingModel:  "amazon.titan-embed-text-v2:0",
	})
	require.NoError(t, err)
	assert.NotNil(t, client)
}
