// Package room implements C5 (Room) and C8 (RoomManager): the
// signalling-level state machine for named rooms, their membership,
// and their append-only transcript. Grounded on the teacher's
// callcontext.Store (atomic claim/status pattern, adapted here from a
// single-row claim to per-room membership) and on the SFU room shape
// from the wider retrieval pack (room.go: Peers map, mu sync.RWMutex,
// lifecycle via ctx/cancel).
package room

import (
	"context"
	"time"

	"github.com/baro-gochi/counselor-assist-core/internal/wire"
)

// PeerID is an opaque, server-minted identifier, unique per SignalClient
// lifetime (I1: belongs to at most one Room at any instant).
type PeerID string

// Role is a peer's role within a room.
type Role string

const (
	RoleAgent    Role = "agent"
	RoleCustomer Role = "customer"
)

// Status is a Room's lifecycle status.
type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

// MessageSink is the minimal capability Room needs from a SignalClient:
// enqueue an outbound envelope without blocking the caller. Defined
// here (not in package signal) so room never imports signal — breaks
// the natural Room <-> SignalClient cycle per the "no back-pointers,
// resolve by id" design note.
type MessageSink interface {
	Send(env wire.Envelope) error
}

// PeerSessionHandle is the minimal capability Room needs from a
// PeerSession: ask it to renegotiate and to close. Defined here for the
// same reason as MessageSink.
type PeerSessionHandle interface {
	Renegotiate(reason string)
	Close(reason string) error
	ConnectionState() string // mirrors pionwebrtc.PeerConnectionState.String()
}

// Member is one joined participant: identity, transport handles, and
// the timestamp it joined at.
type Member struct {
	PeerID      PeerID
	Nickname    string
	Role        Role
	CustomerRef string
	JoinedAt    time.Time

	Sink PeerSessionHandle
	Out  MessageSink
}

// TranscriptTurn is one committed (is_final) utterance. Append-only,
// never mutated (I5).
type TranscriptTurn struct {
	TurnIndex  int
	PeerID     PeerID
	Nickname   string
	SpeakerRole Role
	Text       string
	Timestamp  time.Time
	IsFinal    bool
	Confidence float64
	Source     string
}

// TurnID formats the canonical turn_id string used to key AnalysisResults:
// "turn_" + the latest turn_index at the moment a pipeline tick began.
func TurnID(latestIndex int) string {
	if latestIndex < 0 {
		return "turn_-1"
	}
	return "turn_" + itoa(latestIndex)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// Agent is the capability Room needs from a RoomAgent (C6):
// schedule ticks on new transcript, run the explicit consultation task,
// flush-and-summarise on end_session, and tear down on room destruction.
// Implemented by package agent; declared here to keep room agent-agnostic
// (the cyclic reference design note in spec.md §9).
type Agent interface {
	// NotifyFinalTranscript signals a new final TranscriptTurn was
	// appended; schedules or marks-dirty the current tick.
	NotifyFinalTranscript()

	// RunConsultationTask runs the one-shot guide-generation path,
	// serialised behind any in-flight tick.
	RunConsultationTask(ctx context.Context, userOptions map[string]interface{}) (*wire.AgentConsultationData, error)

	// Flush runs end_session semantics: drain pending ticks, compute a
	// final summary, return it for persistence finalisation.
	Flush(ctx context.Context) (summary string, err error)

	// Close cancels any in-flight tick cooperatively and releases
	// cached state. Must not leave partial per-node writes behind.
	Close()
}

// AgentFactory builds a RoomAgent bound to a specific Room. Supplied to
// the Manager at construction time so room never imports package agent.
type AgentFactory func(r *Room) Agent
