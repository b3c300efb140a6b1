// Package llm abstracts the LLM provider every analysis node calls
// through, with concrete openai-go, anthropic-sdk-go, and Bedrock
// (aws-sdk-go-v2) adapters. Grounded on the provider-abstraction
// pattern from the retrieval pack's llm.Provider interface
// (MrWong99-glyphoxa/pkg/provider/llm/openai/openai.go), adapted from
// a Discord-bot completion/streaming interface to the simple
// Complete/Embed contract, without streaming, the analysis nodes need (nodes are one-shot
// per tick, not conversational streaming UIs).
package llm

import (
	"context"
	"fmt"

	"github.com/baro-gochi/counselor-assist-core/internal/errs"
)

// Message is one turn in a chat-style prompt.
type Message struct {
	Role    string // "system" | "user" | "assistant"
	Content string
}

// Request is one completion call. SystemPrompt is kept stable across
// ticks by callers (see agent/nodes) so the provider's implicit
// prefix cache is reused — a property of the prompt text, not this
// package.
type Request struct {
	SystemPrompt string
	Messages     []Message
	Temperature  float64
	MaxTokens    int
}

// Response is the provider's completion result.
type Response struct {
	Content string
	Usage   Usage
}

// Usage reports token accounting for the completion.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Client is the abstraction every analysis node depends on.
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
	// Embed returns a single embedding vector for the text — used by
	// faq_search's semantic cache and rag_policy's vector queries.
	Embed(ctx context.Context, text string) ([]float32, error)
}

// BedrockOptions carries the Bedrock provider's region/credential/
// embedding-model configuration, kept as its own struct rather than
// more New positional args since no other provider needs them.
type BedrockOptions struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	EmbeddingModel  string
}

// New builds the configured Client. provider is "openai", "anthropic",
// or "bedrock" (§6 LLM_PROVIDER config). Returns an errs.AgentFatal
// error if the provider is unknown or its credentials are missing —
// callers are expected to emit agent_ready{llm_available:false} and
// have every node return skipped rather than panic (§7 AGENT_FATAL).
func New(ctx context.Context, provider, model, openaiKey, anthropicKey string, bedrock BedrockOptions) (Client, error) {
	switch provider {
	case "openai":
		if openaiKey == "" {
			return nil, errs.New(errs.AgentFatal, "AGENT_FATAL", "openai api key not configured")
		}
		return newOpenAIClient(openaiKey, model), nil
	case "anthropic":
		if anthropicKey == "" {
			return nil, errs.New(errs.AgentFatal, "AGENT_FATAL", "anthropic api key not configured")
		}
		return newAnthropicClient(anthropicKey, model), nil
	case "bedrock":
		if bedrock.Region == "" || bedrock.AccessKeyID == "" || bedrock.SecretAccessKey == "" {
			return nil, errs.New(errs.AgentFatal, "AGENT_FATAL", "bedrock region/access_key_id/secret_access_key not configured")
		}
		return newBedrockClient(ctx, bedrock.Region, bedrock.AccessKeyID, bedrock.SecretAccessKey, model, bedrock.EmbeddingModel)
	default:
		return nil, errs.New(errs.AgentFatal, "AGENT_FATAL", fmt.Sprintf("unknown llm provider %q", provider))
	}
}
