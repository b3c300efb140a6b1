// Package config loads the process configuration via viper, layering
// a config file over environment variables the way the teacher's
// deployment configs do. Every key recognised by the spec's
// "Configuration inputs" table (§6) has a typed field here.
package config

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the fully resolved, typed process configuration.
type Config struct {
	// Auth
	AuthSigningKey string `mapstructure:"auth_signing_key"`

	// STT
	STTLanguageCode               string `mapstructure:"stt_language_code"`
	STTModel                      string `mapstructure:"stt_model"`
	STTEnableAutomaticPunctuation bool   `mapstructure:"stt_enable_automatic_punctuation"`
	STTProviderURL                string `mapstructure:"stt_provider_url"`
	STTProviderAPIKey              string `mapstructure:"stt_provider_api_key"`

	// WebRTC / ICE
	ICETransportPolicy        string   `mapstructure:"ice_transport_policy"`
	ICEServerURLs             []string `mapstructure:"ice_server_urls"`
	TURNCredentialsTTLSeconds int      `mapstructure:"turn_credentials_ttl_seconds"`

	// Room / pipeline
	MaxConcurrentRooms    int `mapstructure:"max_concurrent_rooms"`
	PipelineNodeDeadlineMs int `mapstructure:"pipeline_node_deadline_ms"`
	EndSessionDeadlineMs   int `mapstructure:"end_session_deadline_ms"`

	// FAQ semantic cache
	SemanticCacheThreshold float64 `mapstructure:"semantic_cache_threshold"`

	// LLM
	LLMProvider    string `mapstructure:"llm_provider"` // "openai" | "anthropic" | "bedrock"
	LLMModel       string `mapstructure:"llm_model"`
	OpenAIAPIKey   string `mapstructure:"openai_api_key"`
	AnthropicAPIKey string `mapstructure:"anthropic_api_key"`

	// Bedrock (LLMProvider == "bedrock"): region + static credentials,
	// mirroring the teacher's Bedrock caller's three required
	// credential fields (region/access_key_id/secret_access_key).
	AWSRegion          string `mapstructure:"aws_region"`
	AWSAccessKeyID     string `mapstructure:"aws_access_key_id"`
	AWSSecretAccessKey string `mapstructure:"aws_secret_access_key"`
	BedrockEmbeddingModel string `mapstructure:"bedrock_embedding_model"`

	// Vector store
	OpenSearchURL string `mapstructure:"opensearch_url"`

	// MCP tool server (optional fallback/supplement to the vector
	// store for faq_search/rag_policy when an external knowledge
	// server is fronted over MCP instead of, or alongside, OpenSearch).
	MCPServerURL string `mapstructure:"mcp_server_url"`

	// Persistence
	PostgresDSN string `mapstructure:"postgres_dsn"`
	RedisAddr   string `mapstructure:"redis_addr"`

	// HTTP
	HTTPAddr string `mapstructure:"http_addr"`

	// Logging
	LogDevelopment bool   `mapstructure:"log_development"`
	LogFilePath    string `mapstructure:"log_file_path"`
}

// PipelineNodeDeadline returns PipelineNodeDeadlineMs as a time.Duration.
func (c *Config) PipelineNodeDeadline() time.Duration {
	return time.Duration(c.PipelineNodeDeadlineMs) * time.Millisecond
}

// EndSessionDeadline returns EndSessionDeadlineMs as a time.Duration.
func (c *Config) EndSessionDeadline() time.Duration {
	return time.Duration(c.EndSessionDeadlineMs) * time.Millisecond
}

// TURNCredentialsTTL returns TURNCredentialsTTLSeconds as a time.Duration.
func (c *Config) TURNCredentialsTTL() time.Duration {
	return time.Duration(c.TURNCredentialsTTLSeconds) * time.Second
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("stt_language_code", "ko-KR")
	v.SetDefault("stt_model", "streaming-general")
	v.SetDefault("stt_enable_automatic_punctuation", true)
	v.SetDefault("ice_transport_policy", "relay")
	v.SetDefault("ice_server_urls", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("turn_credentials_ttl_seconds", 3600)
	v.SetDefault("max_concurrent_rooms", 2000)
	v.SetDefault("pipeline_node_deadline_ms", 10000)
	v.SetDefault("end_session_deadline_ms", 30000)
	v.SetDefault("semantic_cache_threshold", 0.85)
	v.SetDefault("llm_provider", "openai")
	v.SetDefault("bedrock_embedding_model", "amazon.titan-embed-text-v2:0")
	v.SetDefault("http_addr", ":8080")
}

// Load reads configuration from an optional file (may be empty) and
// from environment variables prefixed COUNSELOR_ (e.g.
// COUNSELOR_POSTGRES_DSN), the way the teacher's viper setup keys off
// a single env prefix.
func Load(filePath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("counselor")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Unmarshal only sees keys viper already knows, so bind every
	// field's env var explicitly (keys without a default included).
	cfgType := reflect.TypeOf(Config{})
	for i := 0; i < cfgType.NumField(); i++ {
		if key := cfgType.Field(i).Tag.Get("mapstructure"); key != "" {
			_ = v.BindEnv(key)
		}
	}

	if filePath != "" {
		v.SetConfigFile(filePath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", filePath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if cfg.AuthSigningKey == "" {
		return nil, fmt.Errorf("config: auth_signing_key is required")
	}
	return &cfg, nil
}
