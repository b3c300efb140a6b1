// Package agent implements C6 (RoomAgent) and C7 (AnalysisGraph): the
// per-room tick-driven orchestrator that schedules a fixed DAG of
// analysis nodes over the transcript and fans results back out.
// Grounded on the teacher's internal/agent/executor package family for
// the overall "executor owns a graph of steps, fans results out as
// they complete" shape, and on golang.org/x/sync/errgroup for the
// per-tick fan-out — deliberately NOT used for cross-node cancellation
// (each node isolates its own errors so one node's failure never
// cancels its siblings, per spec.md §4.6 "a cancelled node simply does
// not write").
package agent

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/baro-gochi/counselor-assist-core/internal/room"
)

// NodeKind identifies one of the fixed analysis nodes.
type NodeKind string

const (
	NodeSummarize  NodeKind = "summarize"
	NodeIntent     NodeKind = "intent"
	NodeSentiment  NodeKind = "sentiment"
	NodeDraftReply NodeKind = "draft_reply"
	NodeRisk       NodeKind = "risk"
	NodeFAQSearch  NodeKind = "faq_search"
	NodeRAGPolicy  NodeKind = "rag_policy"
)

// AllNodes lists the fixed DAG (rag_policy depends on intent; all
// others may start in parallel at tick entry per §4.7).
var AllNodes = []NodeKind{NodeSummarize, NodeSentiment, NodeDraftReply, NodeRisk, NodeFAQSearch, NodeIntent, NodeRAGPolicy}

// CustomerContext is the enriched customer snapshot loaded on first
// join of a customer-role peer (§4.6 "Customer context loading").
type CustomerContext struct {
	PhoneNumber         string
	Fields              map[string]interface{}
	ConsultationHistory []map[string]interface{}
}

// InfoMap renders the context as the `customer_info` payload shape
// room_joined/user_joined carry (wire.RoomJoinedData.CustomerInfo,
// wire.UserJoinedData.CustomerInfo).
func (c *CustomerContext) InfoMap() map[string]interface{} {
	if c == nil {
		return nil
	}
	out := make(map[string]interface{}, len(c.Fields)+1)
	for k, v := range c.Fields {
		out[k] = v
	}
	out["phone_number"] = c.PhoneNumber
	return out
}

// CustomerDirectory resolves a customer record by phone number — the
// external collaborator spec.md §1 names (customer CRUD is out of
// scope; looking the record up to seed CustomerContext is not, per
// §4.6 "Customer context loading"). A real CRM/customer-service
// integration implements this interface the same way llm.Client and
// vectorstore.Store abstract their own external collaborators.
type CustomerDirectory interface {
	Lookup(ctx context.Context, phoneNumber string) (map[string]interface{}, error)
}

// NoopCustomerDirectory is the default CustomerDirectory: no external
// CRM is configured, so lookups return an empty field set rather than
// an error. RoomAgent still resolves and threads the customer's own
// consultation history from PersistenceGateway regardless of whether
// a directory is wired, since that data is ours, not external.
type NoopCustomerDirectory struct{}

func (NoopCustomerDirectory) Lookup(ctx context.Context, phoneNumber string) (map[string]interface{}, error) {
	return nil, nil
}

// State is the per-Room AgentState (§3 Data Model).
type State struct {
	mu sync.Mutex

	room *room.Room

	lastIndex    map[NodeKind]int
	latestResult map[NodeKind]json.RawMessage
	customer     *CustomerContext
	pipelineTick int

	tickRunning bool
	dirty       bool
}

// newState builds an empty AgentState bound to r.
func newState(r *room.Room) *State {
	return &State{
		room:         r,
		lastIndex:    make(map[NodeKind]int),
		latestResult: make(map[NodeKind]json.RawMessage),
	}
}

// lastIndexFor returns last_<kind>_index, defaulting to 0.
func (s *State) lastIndexFor(kind NodeKind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastIndex[kind]
}

// advanceIndex sets last_<kind>_index to at least snapshotLen.
func (s *State) advanceIndex(kind NodeKind, snapshotLen int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if snapshotLen > s.lastIndex[kind] {
		s.lastIndex[kind] = snapshotLen
	}
}

func (s *State) storeResult(kind NodeKind, payload json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latestResult[kind] = payload
}

func (s *State) result(kind NodeKind) json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latestResult[kind]
}

// SetCustomerContext stores the enriched customer snapshot.
func (s *State) SetCustomerContext(ctx *CustomerContext) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.customer = ctx
}

func (s *State) CustomerContext() *CustomerContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.customer
}

// beginTick returns true if this caller may start a new tick
// (at-most-one in-flight, §4.6). If a tick is already running it marks
// dirty and returns false; the running tick's completion will start a
// successor.
func (s *State) beginTick() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tickRunning {
		s.dirty = true
		return false
	}
	s.tickRunning = true
	s.dirty = false
	s.pipelineTick++
	return true
}

// endTick clears the running flag and reports whether a successor
// tick should start immediately (dirty flag was set while running).
func (s *State) endTick() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tickRunning = false
	successor := s.dirty
	s.dirty = false
	return successor
}

func (s *State) tickID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pipelineTick
}
