package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/baro-gochi/counselor-assist-core/internal/commons"
	"github.com/baro-gochi/counselor-assist-core/internal/persistence"
	"github.com/baro-gochi/counselor-assist-core/internal/room"
	"github.com/baro-gochi/counselor-assist-core/internal/wire"
)

// RoomAgent implements room.Agent (C6): schedules ticks against the
// Graph (C7) on new transcript, serialises the explicit consultation
// task behind any in-flight tick, and flushes a final summary at
// end_session. Grounded on the teacher's internal/agent/executor task
// scheduling shape (one in-flight task per conversation, later
// requests coalesce) generalised from a single-task executor to the
// tick-plus-dirty-flag model spec.md §4.6 requires.
type RoomAgent struct {
	room   *room.Room
	state  *State
	graph  *Graph
	logger commons.Logger

	mu       sync.Mutex
	cancelFn context.CancelFunc
	closed   bool
}

// NewRoomAgent builds the RoomAgent bound to r, matching room.AgentFactory.
func NewRoomAgent(r *room.Room, deps Dependencies, logger commons.Logger, nodeDeadline time.Duration) *RoomAgent {
	st := newState(r)
	g := &Graph{
		Room:         r,
		State:        st,
		Deps:         deps,
		Logger:       logger,
		NodeDeadline: nodeDeadline,
	}
	return &RoomAgent{
		room:   r,
		state:  st,
		graph:  g,
		logger: logger,
	}
}

// Factory adapts NewRoomAgent to room.AgentFactory.
func Factory(deps Dependencies, logger commons.Logger, nodeDeadline time.Duration) room.AgentFactory {
	return func(r *room.Room) room.Agent {
		return NewRoomAgent(r, deps, logger, nodeDeadline)
	}
}

// NotifyFinalTranscript schedules a tick if none is running, or marks
// the current one dirty so a successor runs immediately after it
// completes (at-most-one-in-flight-plus-dirty-flag, §4.6).
func (a *RoomAgent) NotifyFinalTranscript() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.mu.Unlock()

	if !a.state.beginTick() {
		return
	}
	go a.runTickLoop()
}

// runTickLoop runs ticks back-to-back as long as beginTick finds
// successor work queued by endTick — this is how a transcript append
// that lands mid-tick still gets its own fresh snapshot without the
// notifier spinning up overlapping goroutines.
func (a *RoomAgent) runTickLoop() {
	for {
		ctx, cancel := context.WithCancel(context.Background())
		a.mu.Lock()
		a.cancelFn = cancel
		a.mu.Unlock()

		turnID := room.TurnID(a.room.TranscriptLen() - 1)
		a.graph.RunTick(ctx, turnID)
		cancel()

		a.mu.Lock()
		a.cancelFn = nil
		a.mu.Unlock()

		if !a.state.endTick() {
			return
		}
		if !a.state.beginTick() {
			return
		}
	}
}

// RunConsultationTask runs the one-shot agent_task{kind:"consultation"}
// path: intent, then rag_policy, composed into a guide. It is
// serialised behind any in-flight tick by taking the same tick flag so
// it never races a concurrently-running pipeline tick over State.
func (a *RoomAgent) RunConsultationTask(ctx context.Context, userOptions map[string]interface{}) (*wire.AgentConsultationData, error) {
	if a.graph.Deps.LLM == nil {
		return nil, fmt.Errorf("consultation: no llm client configured")
	}
	for !a.state.beginTick() {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(20 * time.Millisecond):
		}
	}
	defer func() {
		if a.state.endTick() && a.state.beginTick() {
			go a.runTickLoop()
		}
	}()

	snapshot := a.room.TranscriptSnapshot()
	turnID := room.TurnID(len(snapshot) - 1)

	intentRaw, err := intentNode(ctx, a.graph, snapshot)
	if err != nil {
		return nil, fmt.Errorf("consultation: intent: %w", err)
	}
	var intent IntentResult
	if intentRaw != nil {
		intent = intentRaw.(IntentResult)
		payload, _ := json.Marshal(intent)
		a.state.storeResult(NodeIntent, payload)
	}

	policyRaw, err := ragPolicyNode(ctx, a.graph, snapshot)
	if err != nil {
		return nil, fmt.Errorf("consultation: rag_policy: %w", err)
	}
	var policy RAGPolicyResult
	if policyRaw != nil {
		policy = policyRaw.(RAGPolicyResult)
	}

	guide := []string{}
	citations := []string{}
	recommendations := make([]map[string]interface{}, 0, len(policy.Recommendations))
	if intent.IntentLabel != "" {
		guide = append(guide, fmt.Sprintf("Customer intent: %s (%s)", intent.IntentLabel, intent.Explanation))
	}
	for _, rec := range policy.Recommendations {
		guide = append(guide, rec.Title)
		citations = append(citations, rec.Title)
		recommendations = append(recommendations, map[string]interface{}{
			"title":           rec.Title,
			"content":         rec.Content,
			"relevance_score": rec.RelevanceScore,
		})
	}
	if len(guide) == 0 {
		guide = append(guide, "No guidance available yet; continue the conversation.")
	}

	out := &wire.AgentConsultationData{
		Guide:           guide,
		Recommendations: recommendations,
		Citations:       citations,
		GeneratedAt:     time.Now().UnixMilli(),
	}
	_ = turnID
	return out, nil
}

// Flush runs end_session semantics: wait out any in-flight tick, then
// produce a final one-shot summary for SessionEnd persistence. It does
// not itself call SessionEnd — that belongs to the signalling layer,
// which owns the PersistenceGateway handle.
func (a *RoomAgent) Flush(ctx context.Context) (string, error) {
	if a.graph.Deps.LLM == nil {
		return "", nil
	}
	for !a.state.beginTick() {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(20 * time.Millisecond):
		}
	}
	defer func() {
		if a.state.endTick() && a.state.beginTick() {
			go a.runTickLoop()
		}
	}()

	snapshot := a.room.TranscriptSnapshot()
	if len(snapshot) == 0 {
		return "", nil
	}

	result, err := summarizeNode(ctx, a.graph, snapshot)
	if err != nil {
		return "", fmt.Errorf("flush: summarize: %w", err)
	}
	if result == nil {
		return "", nil
	}
	summary := result.(SummarizeResult)
	return summary.Summary, nil
}

// Close cancels any in-flight tick cooperatively. A cancelled node
// never writes a partial result (runNode checks ctx before marshalling),
// so Close never leaves half-applied per-node state behind.
func (a *RoomAgent) Close() {
	a.mu.Lock()
	a.closed = true
	cancel := a.cancelFn
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// customerHistoryLimit is "the last N consultation records" §4.6 names
// without pinning N; 5 mirrors the teacher's other "recent N" windows.
const customerHistoryLimit = 5

// ResolveCustomerContext loads the enriched customer snapshot for a
// newly-joined customer peer (§4.6 "Customer context loading"): an
// external CustomerDirectory lookup by phone number plus this
// customer's past consultation history from PersistenceGateway (ours,
// not external — §1 only excludes the CRUD *endpoints*). The result is
// stored on State so node prompts can read it (customerContextBlock in
// nodes.go) and is pushed immediately as a follow-up `user_joined`
// broadcast, since the resolution itself is asynchronous and must
// never block join handling on a persistence round trip.
func (a *RoomAgent) ResolveCustomerContext(ctx context.Context, peerID, nickname, phoneNumber string) {
	if phoneNumber == "" {
		return
	}

	cc := &CustomerContext{PhoneNumber: phoneNumber}

	directory := a.graph.Deps.CustomerDirectory
	if directory == nil {
		directory = NoopCustomerDirectory{}
	}
	if fields, err := directory.Lookup(ctx, phoneNumber); err != nil {
		a.logger.Warnw("customer directory lookup failed", "phone", phoneNumber, "error", err)
	} else {
		cc.Fields = fields
	}

	if persist := a.graph.Deps.Persistence; persist != nil {
		if err := persist.SetSessionCustomerRef(ctx, a.room.SessionID, phoneNumber); err != nil {
			a.logger.Warnw("set session customer ref failed", "phone", phoneNumber, "error", err)
		}
		history, err := persist.CustomerHistory(ctx, phoneNumber, customerHistoryLimit)
		if err != nil {
			a.logger.Warnw("customer history lookup failed", "phone", phoneNumber, "error", err)
		} else {
			cc.ConsultationHistory = consultationHistoryMaps(history)
		}
	}

	a.state.SetCustomerContext(cc)

	payload, _ := json.Marshal(wire.UserJoinedData{
		PeerID:              peerID,
		Nickname:            nickname,
		PeerCount:           a.room.MemberCount(),
		CustomerInfo:        cc.InfoMap(),
		ConsultationHistory: cc.ConsultationHistory,
	})
	a.room.Broadcast(wire.Envelope{Type: wire.TypeUserJoined, Data: payload}, "")
}

// consultationHistoryMaps renders persisted ConsultationSummary rows as
// the plain map shape wire.RoomJoinedData/UserJoinedData's
// ConsultationHistory field carries.
func consultationHistoryMaps(history []persistence.ConsultationSummary) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(history))
	for _, h := range history {
		out = append(out, map[string]interface{}{
			"session_id":        h.SessionID,
			"room_name":         h.RoomName,
			"final_summary":     h.FinalSummary,
			"consultation_type": h.ConsultationType,
			"ended_at":          h.EndedAtUnixMs,
		})
	}
	return out
}

// CustomerContext returns the resolved customer snapshot, or nil if
// none has resolved yet (no phone number on join, or resolution still
// in flight). Used by the session layer to eagerly populate a later
// join's room_joined/user_joined payload when the context already
// resolved earlier in the room's lifetime.
func (a *RoomAgent) CustomerContext() *CustomerContext {
	return a.state.CustomerContext()
}
