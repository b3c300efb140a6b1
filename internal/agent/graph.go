package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/baro-gochi/counselor-assist-core/internal/agent/tool/mcp"
	"github.com/baro-gochi/counselor-assist-core/internal/commons"
	"github.com/baro-gochi/counselor-assist-core/internal/llm"
	"github.com/baro-gochi/counselor-assist-core/internal/persistence"
	"github.com/baro-gochi/counselor-assist-core/internal/room"
	"github.com/baro-gochi/counselor-assist-core/internal/vectorstore"
	"github.com/baro-gochi/counselor-assist-core/internal/wire"
)

// nodeFunc is a pure function over a tick snapshot producing a partial
// result, or (nil, nil) if the node has nothing new to contribute this
// tick. Nodes check ctx between external calls to cooperate with
// cancellation (§4.6).
type nodeFunc func(ctx context.Context, g *Graph, snapshot []room.TranscriptTurn) (interface{}, error)

// Graph runs the fixed DAG of analysis nodes against one Room's
// AgentState. Summarize/sentiment/draft_reply/risk/faq_search/intent
// start in parallel at tick entry; rag_policy starts only once intent
// completes (§4.7). Uses errgroup per node-group purely for
// "wait for this group to finish" joining — NOT for fail-fast
// cancellation, since one node's error must never cancel its siblings
// (each nodeFunc catches its own errors and returns them, logged, with
// no write).
type Graph struct {
	Room         *room.Room
	State        *State
	Deps         Dependencies
	Logger       commons.Logger
	NodeDeadline time.Duration
}

// Dependencies are the external collaborators every node may call.
type Dependencies struct {
	LLM         llm.Client
	VectorStore *vectorstore.Store
	Persistence persistence.Gateway
	// MCP is an optional external tool server consulted by
	// faq_search/rag_policy when VectorStore is nil (e.g. the
	// knowledge base is fronted by an MCP server rather than an
	// OpenSearch collection the process talks to directly).
	MCP *mcp.Caller
	// CustomerDirectory resolves a customer record by phone number for
	// RoomAgent.ResolveCustomerContext (§4.6). Defaults to
	// NoopCustomerDirectory when unset.
	CustomerDirectory CustomerDirectory
	// FAQCacheThreshold is the semantic cache's cosine-similarity hit
	// floor (config `semantic_cache_threshold`, §6). Defaults to 0.85
	// when zero.
	FAQCacheThreshold float64
}

// RunTick executes one tick: a full snapshot of the transcript is
// taken once, then every parallel-eligible node runs concurrently,
// broadcasting + persisting its result the moment it finishes;
// rag_policy runs after intent.
func (g *Graph) RunTick(ctx context.Context, turnID string) {
	if g.Deps.LLM == nil {
		g.Logger.Debugw("no llm client configured, skipping tick", "turn_id", turnID)
		return
	}

	snapshot := g.Room.TranscriptSnapshot()

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error { g.runNode(gctx, NodeSummarize, summarizeNode, turnID, snapshot); return nil })
	group.Go(func() error { g.runNode(gctx, NodeSentiment, sentimentNode, turnID, snapshot); return nil })
	group.Go(func() error { g.runNode(gctx, NodeDraftReply, draftReplyNode, turnID, snapshot); return nil })
	group.Go(func() error { g.runNode(gctx, NodeRisk, riskNode, turnID, snapshot); return nil })
	group.Go(func() error { g.runNode(gctx, NodeFAQSearch, faqSearchNode, turnID, snapshot); return nil })
	group.Go(func() error {
		g.runNode(gctx, NodeIntent, intentNode, turnID, snapshot)
		g.runNode(gctx, NodeRAGPolicy, ragPolicyNode, turnID, snapshot)
		return nil
	})
	_ = group.Wait()
}

// runNode applies the node's own deadline, runs it, and on success
// fans the result out: broadcast + persist concurrently, per-node,
// never holding one result until the whole tick finishes (§4.6 output
// fan-out). A cancelled or erroring node simply does not write.
func (g *Graph) runNode(ctx context.Context, kind NodeKind, fn nodeFunc, turnID string, snapshot []room.TranscriptTurn) {
	nodeCtx, cancel := context.WithTimeout(ctx, g.NodeDeadline)
	defer cancel()

	start := time.Now()
	result, err := fn(nodeCtx, g, snapshot)
	if err != nil {
		if nodeCtx.Err() != nil {
			g.Logger.Debugw("node cancelled or timed out, no write", "node", kind, "error", err)
		} else {
			g.Logger.Warnw("node failed, no write", "node", kind, "error", err)
		}
		return
	}
	if result == nil {
		return
	}
	if ctx.Err() != nil {
		g.Logger.Debugw("tick cancelled, no write", "node", kind)
		return
	}

	payload, err := json.Marshal(result)
	if err != nil {
		g.Logger.Errorw("node result marshal failed", "node", kind, "error", err)
		return
	}

	g.State.advanceIndex(kind, len(snapshot))
	g.State.storeResult(kind, payload)

	go g.broadcast(kind, turnID, payload)
	go g.persist(kind, turnID, payload, time.Since(start))
}

func (g *Graph) broadcast(kind NodeKind, turnID string, payload json.RawMessage) {
	data, _ := json.Marshal(wire.AgentUpdateData{Payload: payload})
	g.Room.Broadcast(wire.Envelope{
		Type:   wire.TypeAgentUpdate,
		Node:   string(kind),
		TurnID: turnID,
		Data:   data,
	}, "")
}

func (g *Graph) persist(kind NodeKind, turnID string, payload json.RawMessage, elapsed time.Duration) {
	if g.Deps.Persistence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := g.Deps.Persistence.AgentResultWrite(ctx, g.Room.SessionID, turnID, persistence.NodeKind(kind), payload, elapsed.Milliseconds(), ""); err != nil {
		g.Logger.Errorw("agent result persist failed", "node", kind, "error", err)
	}
}

func turnsSince(snapshot []room.TranscriptTurn, fromIndex int) []room.TranscriptTurn {
	if fromIndex >= len(snapshot) {
		return nil
	}
	if fromIndex < 0 {
		fromIndex = 0
	}
	return snapshot[fromIndex:]
}

func customerTurnsSince(snapshot []room.TranscriptTurn, fromIndex int) []room.TranscriptTurn {
	var out []room.TranscriptTurn
	for _, t := range turnsSince(snapshot, fromIndex) {
		if t.SpeakerRole == room.RoleCustomer {
			out = append(out, t)
		}
	}
	return out
}

func transcriptText(turns []room.TranscriptTurn) string {
	text := ""
	for _, t := range turns {
		text += fmt.Sprintf("%s: %s\n", t.Nickname, t.Text)
	}
	return text
}
