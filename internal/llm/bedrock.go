package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	bedrocktypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

// bedrockClient is a Client backed by the Bedrock Converse API for
// Complete and a Titan embedding InvokeModel call for Embed. Grounded
// on the teacher's internal/callers/bedrock/{llm.go,text-embedding.go}
// (region + static-credential config, Converse for chat, InvokeModel
// with a raw JSON body for embeddings) — generalised from that
// package's vision-capable multi-content-block request shape down to
// the text-only Complete/Embed contract this module's nodes need.
type bedrockClient struct {
	client         *bedrockruntime.Client
	model          string
	embeddingModel string
}

func newBedrockClient(ctx context.Context, region, accessKeyID, secretAccessKey, model, embeddingModel string) (*bedrockClient, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("bedrock: resolve aws config: %w", err)
	}
	return &bedrockClient{
		client:         bedrockruntime.NewFromConfig(cfg),
		model:          model,
		embeddingModel: embeddingModel,
	}, nil
}

func (c *bedrockClient) Complete(ctx context.Context, req Request) (*Response, error) {
	var messages []bedrocktypes.Message
	for _, m := range req.Messages {
		role := bedrocktypes.ConversationRoleUser
		if m.Role == "assistant" {
			role = bedrocktypes.ConversationRoleAssistant
		}
		messages = append(messages, bedrocktypes.Message{
			Role:    role,
			Content: []bedrocktypes.ContentBlock{&bedrocktypes.ContentBlockMemberText{Value: m.Content}},
		})
	}

	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(c.model),
		Messages: messages,
	}
	if req.SystemPrompt != "" {
		input.System = []bedrocktypes.SystemContentBlock{
			&bedrocktypes.SystemContentBlockMemberText{Value: req.SystemPrompt},
		}
	}
	if req.MaxTokens > 0 || req.Temperature != 0 {
		cfg := bedrocktypes.InferenceConfiguration{}
		if req.MaxTokens > 0 {
			mt := int32(req.MaxTokens)
			cfg.MaxTokens = &mt
		}
		if req.Temperature != 0 {
			t := float32(req.Temperature)
			cfg.Temperature = &t
		}
		input.InferenceConfig = &cfg
	}

	resp, err := c.client.Converse(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("bedrock converse: %w", err)
	}

	out, ok := resp.Output.(*bedrocktypes.ConverseOutputMemberMessage)
	if !ok {
		return nil, fmt.Errorf("bedrock converse: empty output")
	}
	var content string
	for _, block := range out.Value.Content {
		if text, ok := block.(*bedrocktypes.ContentBlockMemberText); ok {
			content += text.Value
		}
	}

	usage := Usage{}
	if resp.Usage != nil {
		usage = Usage{
			PromptTokens:     int(aws.ToInt32(resp.Usage.InputTokens)),
			CompletionTokens: int(aws.ToInt32(resp.Usage.OutputTokens)),
			TotalTokens:      int(aws.ToInt32(resp.Usage.TotalTokens)),
		}
	}
	return &Response{Content: content, Usage: usage}, nil
}

type bedrockEmbeddingRequest struct {
	InputText string `json:"inputText"`
}

type bedrockEmbeddingResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed calls the configured Titan embedding model via InvokeModel —
// Bedrock's Converse API has no embedding verb, so embeddings always
// go through the raw-JSON-body InvokeModel path the teacher's
// text-embedding.go caller uses.
func (c *bedrockClient) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(bedrockEmbeddingRequest{InputText: text})
	if err != nil {
		return nil, fmt.Errorf("bedrock embedding: marshal request: %w", err)
	}

	resp, err := c.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(c.embeddingModel),
		ContentType: aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, fmt.Errorf("bedrock embedding: invoke model: %w", err)
	}

	var out bedrockEmbeddingResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, fmt.Errorf("bedrock embedding: unmarshal response: %w", err)
	}
	return out.Embedding, nil
}
