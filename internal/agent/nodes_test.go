package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baro-gochi/counselor-assist-core/internal/llm"
	"github.com/baro-gochi/counselor-assist-core/internal/persistence"
	"github.com/baro-gochi/counselor-assist-core/internal/room"
)

// fakeLLMClient returns scripted JSON content for Complete and a fixed
// vector for Embed, so nodes can be exercised without a live provider.
type fakeLLMClient struct {
	completeContent string
	completeErr     error
	embedding       []float32
	embedErr        error
	completeCalls   int
	embedCalls      int
}

func (f *fakeLLMClient) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	f.completeCalls++
	if f.completeErr != nil {
		return nil, f.completeErr
	}
	return &llm.Response{Content: f.completeContent}, nil
}

func (f *fakeLLMClient) Embed(ctx context.Context, text string) ([]float32, error) {
	f.embedCalls++
	if f.embedErr != nil {
		return nil, f.embedErr
	}
	return f.embedding, nil
}

// fakeGateway implements persistence.Gateway with an in-memory FAQ
// cache, enough to exercise faqSearchNode's cache-hit/miss paths.
type fakeGateway struct {
	persistence.Gateway
	cached       *persistence.CacheEntry
	insertCalled bool
}

func (f *fakeGateway) FAQCacheLookup(ctx context.Context, embedding []float32, threshold float64) (*persistence.CacheEntry, error) {
	return f.cached, nil
}

func (f *fakeGateway) FAQCacheInsert(ctx context.Context, entry *persistence.CacheEntry) error {
	f.insertCalled = true
	return nil
}

func turn(role room.Role, nickname, text string) room.TranscriptTurn {
	return room.TranscriptTurn{Nickname: nickname, SpeakerRole: role, Text: text, Timestamp: time.Now(), IsFinal: true}
}

func TestSummarizeNode_EmptySnapshotSkips(t *testing.T) {
	g := &Graph{State: newState(nil), Deps: Dependencies{LLM: &fakeLLMClient{}}}
	result, err := summarizeNode(context.Background(), g, nil)
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestSummarizeNode_ParsesModelJSON(t *testing.T) {
	client := &fakeLLMClient{completeContent: `{"summary":"s","customer_issue":"i","agent_action":"a"}`}
	g := &Graph{State: newState(nil), Deps: Dependencies{LLM: client}}

	result, err := summarizeNode(context.Background(), g, []room.TranscriptTurn{turn(room.RoleCustomer, "alice", "hi")})
	require.NoError(t, err)
	out := result.(SummarizeResult)
	assert.Equal(t, "s", out.Summary)
	assert.Equal(t, 1, client.completeCalls, "summarize must rewrite from the full snapshot, so exactly one completion per tick")
}

func TestSummarizeNode_ToleratesProseWrappedJSON(t *testing.T) {
	client := &fakeLLMClient{completeContent: "Sure, here you go:\n" + `{"summary":"s","customer_issue":"i","agent_action":"a"}` + "\nhope that helps!"}
	g := &Graph{State: newState(nil), Deps: Dependencies{LLM: client}}

	result, err := summarizeNode(context.Background(), g, []room.TranscriptTurn{turn(room.RoleCustomer, "alice", "hi")})
	require.NoError(t, err)
	assert.Equal(t, "s", result.(SummarizeResult).Summary)
}

func TestSentimentNode_OnlyConsumesTurnsSinceLastIndex(t *testing.T) {
	client := &fakeLLMClient{completeContent: `{"sentiment_label":"neutral","sentiment_score":0.5,"explanation":"e"}`}
	state := newState(nil)
	state.advanceIndex(NodeSentiment, 2)
	g := &Graph{State: state, Deps: Dependencies{LLM: client}}

	snapshot := []room.TranscriptTurn{turn(room.RoleCustomer, "a", "1"), turn(room.RoleCustomer, "a", "2")}
	result, err := sentimentNode(context.Background(), g, snapshot)
	require.NoError(t, err)
	assert.Nil(t, result, "nothing new since last_sentiment_index, node must contribute nothing")
	assert.Equal(t, 0, client.completeCalls)
}

func TestDraftReplyNode_OnlyConsumesCustomerTurns(t *testing.T) {
	client := &fakeLLMClient{completeContent: `{"short_reply":"r","keywords":["k"]}`}
	g := &Graph{State: newState(nil), Deps: Dependencies{LLM: client}}

	snapshot := []room.TranscriptTurn{
		turn(room.RoleAgent, "agent", "how can I help"),
		turn(room.RoleCustomer, "alice", "my bill is wrong"),
	}
	result, err := draftReplyNode(context.Background(), g, snapshot)
	require.NoError(t, err)
	out := result.(DraftReplyResult)
	assert.Equal(t, "r", out.ShortReply)
}

func TestDraftReplyNode_NoCustomerTurnsSkips(t *testing.T) {
	client := &fakeLLMClient{completeContent: `{"short_reply":"r"}`}
	g := &Graph{State: newState(nil), Deps: Dependencies{LLM: client}}

	snapshot := []room.TranscriptTurn{turn(room.RoleAgent, "agent", "hello")}
	result, err := draftReplyNode(context.Background(), g, snapshot)
	require.NoError(t, err)
	assert.Nil(t, result)
	assert.Equal(t, 0, client.completeCalls)
}

func TestRiskNode_PropagatesLLMError(t *testing.T) {
	client := &fakeLLMClient{completeErr: fmt.Errorf("provider unavailable")}
	g := &Graph{State: newState(nil), Deps: Dependencies{LLM: client}}

	_, err := riskNode(context.Background(), g, []room.TranscriptTurn{turn(room.RoleCustomer, "a", "x")})
	assert.Error(t, err)
}

func TestIntentNode_ParsesConfidence(t *testing.T) {
	client := &fakeLLMClient{completeContent: `{"intent_label":"billing","confidence":0.8,"explanation":"e"}`}
	g := &Graph{State: newState(nil), Deps: Dependencies{LLM: client}}

	result, err := intentNode(context.Background(), g, []room.TranscriptTurn{turn(room.RoleCustomer, "a", "x")})
	require.NoError(t, err)
	out := result.(IntentResult)
	assert.Equal(t, "billing", out.IntentLabel)
	assert.Equal(t, 0.8, out.Confidence)
}

func TestRAGPolicyNode_SkipsWithoutIntentResult(t *testing.T) {
	g := &Graph{State: newState(nil), Deps: Dependencies{LLM: &fakeLLMClient{}}}
	result, err := ragPolicyNode(context.Background(), g, nil)
	require.NoError(t, err)
	assert.Nil(t, result, "rag_policy must wait for an intent result before running at all")
}

func TestRAGPolicyNode_SkippedBelowConfidenceFloor(t *testing.T) {
	state := newState(nil)
	intentPayload, _ := json.Marshal(IntentResult{IntentLabel: "general", Confidence: 0.1})
	state.storeResult(NodeIntent, intentPayload)
	g := &Graph{State: state, Deps: Dependencies{LLM: &fakeLLMClient{}}}

	result, err := ragPolicyNode(context.Background(), g, nil)
	require.NoError(t, err)
	assert.True(t, result.(RAGPolicyResult).Skipped)
}

func TestRAGPolicyNode_SkippedWithNoVectorStoreOrMCP(t *testing.T) {
	state := newState(nil)
	intentPayload, _ := json.Marshal(IntentResult{IntentLabel: "billing", Confidence: 0.9})
	state.storeResult(NodeIntent, intentPayload)
	g := &Graph{State: state, Deps: Dependencies{LLM: &fakeLLMClient{embedding: []float32{0.1, 0.2}}}}

	result, err := ragPolicyNode(context.Background(), g, nil)
	require.NoError(t, err)
	assert.True(t, result.(RAGPolicyResult).Skipped, "with neither a vector store nor an mcp caller configured there is nowhere to search")
}

func TestFAQSearchNode_NoCustomerTurnsSkips(t *testing.T) {
	g := &Graph{State: newState(nil), Deps: Dependencies{LLM: &fakeLLMClient{}}}
	result, err := faqSearchNode(context.Background(), g, []room.TranscriptTurn{turn(room.RoleAgent, "a", "hi")})
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestFAQSearchNode_CacheHitSkipsInsert(t *testing.T) {
	cachedPayload, _ := json.Marshal(FAQResult{FAQs: []FAQEntry{{Question: "q", Answer: "a"}}})
	gw := &fakeGateway{cached: &persistence.CacheEntry{ResultPayload: cachedPayload}}
	client := &fakeLLMClient{embedding: []float32{0.1}}
	g := &Graph{State: newState(nil), Deps: Dependencies{LLM: client, Persistence: gw}}

	result, err := faqSearchNode(context.Background(), g, []room.TranscriptTurn{turn(room.RoleCustomer, "a", "what is my plan")})
	require.NoError(t, err)
	out := result.(FAQResult)
	assert.True(t, out.CacheHit)
	assert.Equal(t, "q", out.FAQs[0].Question)
	assert.False(t, gw.insertCalled, "a cache hit must not write a new cache entry")
}

func TestFAQSearchNode_CacheMissWithNoBackendReturnsEmptyAndInserts(t *testing.T) {
	gw := &fakeGateway{cached: nil}
	client := &fakeLLMClient{embedding: []float32{0.1}}
	g := &Graph{State: newState(nil), Deps: Dependencies{LLM: client, Persistence: gw}}

	result, err := faqSearchNode(context.Background(), g, []room.TranscriptTurn{turn(room.RoleCustomer, "a", "what is my plan")})
	require.NoError(t, err)
	out := result.(FAQResult)
	assert.False(t, out.CacheHit)
	assert.Empty(t, out.FAQs, "with neither a vector store nor an mcp caller there is nothing to search")
	assert.True(t, gw.insertCalled, "a miss is still worth caching so a near-duplicate question can hit next time")
}
