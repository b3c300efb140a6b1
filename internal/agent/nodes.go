package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/baro-gochi/counselor-assist-core/internal/agent/tool/mcp"
	"github.com/baro-gochi/counselor-assist-core/internal/llm"
	"github.com/baro-gochi/counselor-assist-core/internal/persistence"
	"github.com/baro-gochi/counselor-assist-core/internal/room"
	"github.com/baro-gochi/counselor-assist-core/internal/vectorstore"
)

// summarizeNode rewrites fresh from the full transcript every tick
// (never incrementally appended) to bound the summary's length per
// §4.7.
func summarizeNode(ctx context.Context, g *Graph, snapshot []room.TranscriptTurn) (interface{}, error) {
	if len(snapshot) == 0 {
		return nil, nil
	}
	resp, err := g.Deps.LLM.Complete(ctx, llm.Request{
		SystemPrompt: summarizeSystemPrompt,
		Messages:     []llm.Message{{Role: "user", Content: customerContextBlock(g.State.CustomerContext()) + transcriptText(snapshot)}},
		MaxTokens:    300,
	})
	if err != nil {
		return nil, fmt.Errorf("summarize: %w", err)
	}
	var out SummarizeResult
	if err := json.Unmarshal([]byte(extractJSON(resp.Content)), &out); err != nil {
		return nil, fmt.Errorf("summarize: parse model output: %w", err)
	}
	return out, nil
}

func sentimentNode(ctx context.Context, g *Graph, snapshot []room.TranscriptTurn) (interface{}, error) {
	fromIdx := g.State.lastIndexFor(NodeSentiment)
	turns := turnsSince(snapshot, fromIdx)
	if len(turns) == 0 {
		return nil, nil
	}
	resp, err := g.Deps.LLM.Complete(ctx, llm.Request{
		SystemPrompt: sentimentSystemPrompt,
		Messages:     []llm.Message{{Role: "user", Content: transcriptText(turns)}},
		MaxTokens:    200,
	})
	if err != nil {
		return nil, fmt.Errorf("sentiment: %w", err)
	}
	var out SentimentResult
	if err := json.Unmarshal([]byte(extractJSON(resp.Content)), &out); err != nil {
		return nil, fmt.Errorf("sentiment: parse model output: %w", err)
	}
	return out, nil
}

// draftReplyNode consumes only turns authored by the customer since
// last_draft_reply_index (§4.7).
func draftReplyNode(ctx context.Context, g *Graph, snapshot []room.TranscriptTurn) (interface{}, error) {
	fromIdx := g.State.lastIndexFor(NodeDraftReply)
	turns := customerTurnsSince(snapshot, fromIdx)
	if len(turns) == 0 {
		return nil, nil
	}
	resp, err := g.Deps.LLM.Complete(ctx, llm.Request{
		SystemPrompt: draftReplySystemPrompt,
		Messages:     []llm.Message{{Role: "user", Content: customerContextBlock(g.State.CustomerContext()) + transcriptText(turns)}},
		MaxTokens:    200,
	})
	if err != nil {
		return nil, fmt.Errorf("draft_reply: %w", err)
	}
	var out DraftReplyResult
	if err := json.Unmarshal([]byte(extractJSON(resp.Content)), &out); err != nil {
		return nil, fmt.Errorf("draft_reply: parse model output: %w", err)
	}
	return out, nil
}

func riskNode(ctx context.Context, g *Graph, snapshot []room.TranscriptTurn) (interface{}, error) {
	fromIdx := g.State.lastIndexFor(NodeRisk)
	turns := turnsSince(snapshot, fromIdx)
	if len(turns) == 0 {
		return nil, nil
	}
	resp, err := g.Deps.LLM.Complete(ctx, llm.Request{
		SystemPrompt: riskSystemPrompt,
		Messages:     []llm.Message{{Role: "user", Content: transcriptText(turns)}},
		MaxTokens:    200,
	})
	if err != nil {
		return nil, fmt.Errorf("risk: %w", err)
	}
	var out RiskResult
	if err := json.Unmarshal([]byte(extractJSON(resp.Content)), &out); err != nil {
		return nil, fmt.Errorf("risk: parse model output: %w", err)
	}
	return out, nil
}

// faqSearchNode consults the semantic cache before the vector store
// (§4.7 FAQ semantic cache: cosine similarity >= 0.85 is a hit).
func faqSearchNode(ctx context.Context, g *Graph, snapshot []room.TranscriptTurn) (interface{}, error) {
	fromIdx := g.State.lastIndexFor(NodeFAQSearch)
	turns := customerTurnsSince(snapshot, fromIdx)
	if len(turns) == 0 {
		return nil, nil
	}
	query := turns[len(turns)-1].Text

	embedding, err := g.Deps.LLM.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("faq_search: embed query: %w", err)
	}

	threshold := g.Deps.FAQCacheThreshold
	if threshold <= 0 {
		threshold = defaultFAQCacheThreshold
	}

	if g.Deps.Persistence != nil {
		entry, err := g.Deps.Persistence.FAQCacheLookup(ctx, embedding, threshold)
		if err == nil && entry != nil {
			var cached FAQResult
			if err := json.Unmarshal(entry.ResultPayload, &cached); err == nil {
				cached.CacheHit = true
				return cached, nil
			}
		}
	}

	out := FAQResult{CacheHit: false}
	switch {
	case g.Deps.VectorStore != nil:
		hits, err := g.Deps.VectorStore.Search(ctx, []string{"mobile"}, embedding, 3)
		if err != nil {
			return nil, fmt.Errorf("faq_search: vector search: %w", err)
		}
		for _, h := range hits {
			out.FAQs = append(out.FAQs, FAQEntry{Question: h.Title, Answer: h.Content})
		}
	case g.Deps.MCP != nil:
		var mcpOut struct {
			FAQs []FAQEntry `json:"faqs"`
		}
		if err := g.Deps.MCP.Call(ctx, mcp.ToolFAQSearch, map[string]interface{}{"query": query}, &mcpOut); err != nil {
			return nil, fmt.Errorf("faq_search: mcp call: %w", err)
		}
		out.FAQs = mcpOut.FAQs
	}

	if g.Deps.Persistence != nil {
		payload, _ := json.Marshal(out)
		entry := &persistence.CacheEntry{
			Query:          query,
			QueryEmbedding: embedding,
			ResultPayload:  payload,
			HitCount:       0,
			CreatedAt:      time.Now().UnixMilli(),
		}
		_ = g.Deps.Persistence.FAQCacheInsert(ctx, entry)
	}
	return out, nil
}

func intentNode(ctx context.Context, g *Graph, snapshot []room.TranscriptTurn) (interface{}, error) {
	if len(snapshot) == 0 {
		return nil, nil
	}
	resp, err := g.Deps.LLM.Complete(ctx, llm.Request{
		SystemPrompt: intentSystemPrompt,
		Messages:     []llm.Message{{Role: "user", Content: customerContextBlock(g.State.CustomerContext()) + transcriptText(snapshot)}},
		MaxTokens:    150,
	})
	if err != nil {
		return nil, fmt.Errorf("intent: %w", err)
	}
	var out IntentResult
	if err := json.Unmarshal([]byte(extractJSON(resp.Content)), &out); err != nil {
		return nil, fmt.Errorf("intent: parse model output: %w", err)
	}
	return out, nil
}

// ragPolicyNode runs only after intent completes; its query plan uses
// intent_label to pick a fixed subset of vector collections (§4.7).
func ragPolicyNode(ctx context.Context, g *Graph, snapshot []room.TranscriptTurn) (interface{}, error) {
	raw := g.State.result(NodeIntent)
	if raw == nil {
		return nil, nil
	}
	var intent IntentResult
	if err := json.Unmarshal(raw, &intent); err != nil {
		return nil, fmt.Errorf("rag_policy: read intent result: %w", err)
	}
	if intent.Confidence < intentConfidenceFloor {
		return RAGPolicyResult{Skipped: true}, nil
	}

	collections := vectorstore.CollectionsForIntent(intent.IntentLabel)
	query := intent.IntentLabel + " " + intent.Explanation
	embedding, err := g.Deps.LLM.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("rag_policy: embed query: %w", err)
	}

	out := RAGPolicyResult{Skipped: false}
	switch {
	case g.Deps.VectorStore != nil:
		hits, err := g.Deps.VectorStore.Search(ctx, collections, embedding, 5)
		if err != nil {
			return nil, fmt.Errorf("rag_policy: vector search: %w", err)
		}
		for _, h := range hits {
			out.Recommendations = append(out.Recommendations, PolicyRecommendation{
				Title:          h.Title,
				Content:        h.Content,
				Metadata:       h.Meta,
				RelevanceScore: h.Score,
			})
		}
	case g.Deps.MCP != nil:
		var mcpOut struct {
			Recommendations []PolicyRecommendation `json:"recommendations"`
		}
		if err := g.Deps.MCP.Call(ctx, mcp.ToolPolicySearch, map[string]interface{}{
			"collections": collections,
			"query":       query,
		}, &mcpOut); err != nil {
			return nil, fmt.Errorf("rag_policy: mcp call: %w", err)
		}
		out.Recommendations = mcpOut.Recommendations
	default:
		return RAGPolicyResult{Skipped: true}, nil
	}
	return out, nil
}

// customerContextBlock renders the known customer fields and recent
// consultation history as a short prefix for the node's user message.
// It is never folded into a node's SystemPrompt: §4.7 "LLM caching"
// requires the system prompts to stay byte-identical across ticks so
// the provider's implicit prefix cache keeps hitting, and customer
// context varies per room. Returns "" when no context has resolved
// yet (customer-role peer just joined, lookup still in flight).
func customerContextBlock(cc *CustomerContext) string {
	if cc == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString("Known customer context:\n")
	for k, v := range cc.Fields {
		fmt.Fprintf(&b, "- %s: %v\n", k, v)
	}
	for i, h := range cc.ConsultationHistory {
		if i >= 3 {
			break
		}
		if summary, ok := h["final_summary"].(string); ok && summary != "" {
			fmt.Fprintf(&b, "- prior consultation: %s\n", summary)
		}
	}
	b.WriteString("\n")
	return b.String()
}

// extractJSON trims any prose wrapping a model's JSON object response
// down to the first balanced `{...}` block. Models occasionally wrap
// structured output in prose despite instructions; this keeps
// json.Unmarshal robust without an extra round trip.
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end == -1 || end < start {
		return s
	}
	return s[start : end+1]
}

const summarizeSystemPrompt = `You summarize a live customer support call for the agent. Respond with JSON: {"summary": one sentence, "customer_issue": one sentence, "agent_action": one sentence}.`

const sentimentSystemPrompt = `You classify customer sentiment. Respond with JSON: {"sentiment_label": string, "sentiment_score": number between 0 and 1, "explanation": one sentence}.`

const draftReplySystemPrompt = `You draft a short suggested reply for the agent based on the customer's most recent turns. Respond with JSON: {"short_reply": string, "keywords": [string]}.`

const riskSystemPrompt = `You flag conversational risk. Respond with JSON: {"risk_flags": array drawn only from ["churn","cancellation","complaint","escalation"], "explanation": one sentence}.`

const intentSystemPrompt = `You classify the customer's primary intent. Respond with JSON: {"intent_label": string, "confidence": number between 0 and 1, "explanation": one sentence}.`

// defaultFAQCacheThreshold matches config.Config's own
// "semantic_cache_threshold" default; used only when Dependencies
// carries no override (e.g. a Graph built outside cmd/server wiring).
const defaultFAQCacheThreshold = 0.85
