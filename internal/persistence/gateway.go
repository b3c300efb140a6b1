// Package persistence implements C9 (PersistenceGateway): the
// write-through interface to durable stores named in spec.md §6.
// Grounded on the teacher's internal_callcontext.Store (gorm +
// Postgres, idempotent-by-natural-key writes, never deletes live
// rows) generalised from call contexts to sessions/transcripts/
// agent-results, plus a Redis read-through layer for the FAQ semantic
// cache mirroring the teacher's layered-store style.
package persistence

import "context"

// NodeKind mirrors agent.NodeKind without importing package agent
// (persistence must stay agent-agnostic — only agent depends on it).
type NodeKind string

// CacheEntry is the FAQ semantic cache record (§3 Data Model).
type CacheEntry struct {
	Query          string
	QueryEmbedding []float32
	ResultPayload  []byte // opaque JSON blob of the cached faq_search result
	HitCount       int
	CreatedAt      int64
}

// ConsultationSummary is one row of a customer's past consultation
// history (§4.6 "Customer context loading": "loads the last N
// consultation records").
type ConsultationSummary struct {
	SessionID        string
	RoomName         string
	FinalSummary     string
	ConsultationType string
	EndedAtUnixMs    int64
}

// Gateway is the write-through interface to durable stores. The
// transcript and agent-result writes are idempotent, keyed the way §6
// specifies: transcripts by (session_id, turn_index), agent results by
// (session_id, turn_id, result_type). SessionBegin and FAQCacheInsert
// create a new row on every call.
type Gateway interface {
	SessionBegin(ctx context.Context, roomName string) (sessionID string, err error)

	TranscriptAppend(ctx context.Context, sessionID string, turnIndex int, speakerType, speakerName, text string, timestampUnixMs int64, confidence float64, isFinal bool, source string) error

	AgentResultWrite(ctx context.Context, sessionID, turnID string, resultType NodeKind, resultData []byte, processingTimeMs int64, modelVersion string) error

	SessionEnd(ctx context.Context, sessionID, finalSummary, consultationType string) (bool, error)

	FAQCacheLookup(ctx context.Context, embedding []float32, threshold float64) (*CacheEntry, error)
	FAQCacheInsert(ctx context.Context, entry *CacheEntry) error

	// SetSessionCustomerRef ties a live session to a customer so
	// CustomerHistory can later find it. customerRef is the phone
	// number today (room.Member.CustomerRef, §3 Data Model).
	SetSessionCustomerRef(ctx context.Context, sessionID, customerRef string) error

	// CustomerHistory returns up to limit of the customer's most
	// recent *completed* consultations, newest first.
	CustomerHistory(ctx context.Context, customerRef string, limit int) ([]ConsultationSummary, error)
}
