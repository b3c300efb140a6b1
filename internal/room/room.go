package room

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/baro-gochi/counselor-assist-core/internal/commons"
	"github.com/baro-gochi/counselor-assist-core/internal/wire"
)

// Room is a group of peers sharing a logical name; owns the fan-out
// graph (conceptually — actual media fan-out lives in package peer/
// audio) and the append-only transcript (I5). One Room owns exactly
// one serialiser: its own mutex. No other goroutine mutates
// Room.transcript or Room.members directly (O2).
type Room struct {
	mu sync.Mutex

	Name      string
	SessionID string
	CreatedAt time.Time
	status    Status

	members   map[PeerID]*Member
	transcript []TranscriptTurn

	agent  Agent
	logger commons.Logger
}

func newRoom(name, sessionID string, logger commons.Logger, factory AgentFactory) *Room {
	r := &Room{
		Name:      name,
		SessionID: sessionID,
		CreatedAt: time.Now(),
		status:    StatusActive,
		members:   make(map[PeerID]*Member),
		logger:    logger.With("room", name),
	}
	r.agent = factory(r)
	return r
}

// Status returns the current room status under lock.
func (r *Room) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// MemberCount returns the number of joined peers.
func (r *Room) MemberCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

// Members returns a point-in-time snapshot of the roster (reads of the
// roster are permitted to be a snapshot per the concurrency model).
func (r *Room) Members() []Member {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Member, 0, len(r.members))
	for _, m := range r.members {
		out = append(out, *m)
	}
	return out
}

// Get returns a member by PeerID.
func (r *Room) Get(id PeerID) (*Member, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[id]
	return m, ok
}

func (r *Room) addMember(m *Member) {
	r.mu.Lock()
	r.members[m.PeerID] = m
	r.mu.Unlock()
}

func (r *Room) removeMember(id PeerID) (*Member, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[id]
	if ok {
		delete(r.members, id)
	}
	return m, ok
}

func (r *Room) end() {
	r.mu.Lock()
	r.status = StatusEnded
	r.mu.Unlock()
}

// TranscriptLen returns the number of committed turns (used as
// snapshot_len at tick start, I4).
func (r *Room) TranscriptLen() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.transcript)
}

// TranscriptSince returns a snapshot slice of turns with
// turn_index >= from, implementing the "new since last_<kind>_index"
// incremental input contract (§4.6).
func (r *Room) TranscriptSince(from int) []TranscriptTurn {
	r.mu.Lock()
	defer r.mu.Unlock()
	if from < 0 {
		from = 0
	}
	if from >= len(r.transcript) {
		return nil
	}
	out := make([]TranscriptTurn, len(r.transcript)-from)
	copy(out, r.transcript[from:])
	return out
}

// TranscriptSnapshot returns the full transcript as of now — used by
// `summarize`, which rewrites fresh from the whole history every tick
// (the documented special case in spec.md §9).
func (r *Room) TranscriptSnapshot() []TranscriptTurn {
	return r.TranscriptSince(0)
}

// AppendTranscript appends a new final TranscriptTurn with a dense,
// strictly increasing turn_index (I3) and notifies the room's agent
// that a tick should run. Room is the sole appender (O2) — callers
// (the STT final-transcript callback) never write to r.transcript
// directly.
func (r *Room) AppendTranscript(peerID PeerID, nickname string, speakerRole Role, text string, confidence float64, source string) TranscriptTurn {
	r.mu.Lock()
	turn := TranscriptTurn{
		TurnIndex:   len(r.transcript),
		PeerID:      peerID,
		Nickname:    nickname,
		SpeakerRole: speakerRole,
		Text:        text,
		Timestamp:   time.Now(),
		IsFinal:     true,
		Confidence:  confidence,
		Source:      source,
	}
	r.transcript = append(r.transcript, turn)
	agent := r.agent
	r.mu.Unlock()

	r.Broadcast(wire.Envelope{Type: wire.TypeTranscript, Data: mustJSON(wire.TranscriptData{
		PeerID:     string(peerID),
		Nickname:   nickname,
		Text:       text,
		Timestamp:  turn.Timestamp.UnixMilli(),
		IsFinal:    true,
		Confidence: confidence,
		Source:     source,
	})}, "")

	if agent != nil {
		agent.NotifyFinalTranscript()
	}
	return turn
}

// Agent returns the room's RoomAgent.
func (r *Room) Agent() Agent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.agent
}

// AllConnected reports whether every member except excludeID currently
// reports a "connected" PeerSessionHandle state (D-PS4's barrier: a
// joining peer's arrival must not renegotiate an existing member until
// that member's own connection has reached CONNECTED). A room with no
// other members is vacuously all-connected.
func (r *Room) AllConnected(excludeID PeerID) bool {
	for _, m := range r.Members() {
		if m.PeerID == excludeID || m.Sink == nil {
			continue
		}
		if m.Sink.ConnectionState() != "connected" {
			return false
		}
	}
	return true
}

// Broadcast enqueues a message to every member's SignalClient except
// the optionally excluded PeerID. Per-SignalClient FIFO is preserved
// (O5) because this loop issues each member's Send in the iteration
// order of a single snapshot and Send itself is non-blocking
// (channel-backed) on the receiving SignalClient — callers broadcasting
// results for the same tick in node-completion order therefore produce
// a consistent per-client ordering.
func (r *Room) Broadcast(env wire.Envelope, exclude PeerID) {
	for _, m := range r.Members() {
		if m.PeerID == exclude {
			continue
		}
		if err := m.Out.Send(env); err != nil {
			r.logger.Warnw("broadcast send failed", "peer", m.PeerID, "error", err)
		}
	}
}

func mustJSON(v interface{}) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return b
}
