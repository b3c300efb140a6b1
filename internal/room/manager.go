package room

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/baro-gochi/counselor-assist-core/internal/commons"
	"github.com/baro-gochi/counselor-assist-core/internal/errs"
	"github.com/baro-gochi/counselor-assist-core/internal/persistence"
	"github.com/baro-gochi/counselor-assist-core/internal/wire"
)

// lockTTL bounds how long a room's advisory Redis lock is held before
// it self-expires, so a crashed process never wedges a room name
// permanently (mirrors the teacher's claim-by-status-transition
// pattern in internal/callcontext.Store.Claim, generalised from a
// Postgres atomic UPDATE to a Redis SETNX since room routing is a
// hot, in-memory-first path).
const lockTTL = 10 * time.Second

// Manager implements C8 (RoomManager): join/leave/route/broadcast
// across every live Room, serialised per room name via an in-process
// mutex registry, with an optional Redis SETNX+TTL advisory lock layered
// on top for multi-instance deployments (a single-instance deployment
// works correctly with redisClient == nil; the in-process mutex alone
// is then the sole serialiser).
type Manager struct {
	logger  commons.Logger
	factory AgentFactory
	persist persistence.Gateway
	redis   *redis.Client

	maxConcurrentRooms int

	mu    sync.Mutex
	rooms map[string]*roomEntry
}

type roomEntry struct {
	mu   sync.Mutex
	room *Room
}

// NewManager builds a Manager. redisClient may be nil (single-instance
// deployment; the in-process mutex registry alone serialises access).
func NewManager(logger commons.Logger, factory AgentFactory, persist persistence.Gateway, redisClient *redis.Client, maxConcurrentRooms int) *Manager {
	return &Manager{
		logger:             logger,
		factory:            factory,
		persist:            persist,
		redis:              redisClient,
		maxConcurrentRooms: maxConcurrentRooms,
		rooms:              make(map[string]*roomEntry),
	}
}

// Join adds a new member, identified by a caller-minted PeerID (the
// session layer mints it up front so it can construct the peer's
// PeerSession — the PeerSessionHandle this call requires — before the
// room roster can reference it), to the named room, lazily creating
// the room (and its backing session) on first join. Returns the room
// and a snapshot of the other members already present.
func (m *Manager) Join(ctx context.Context, roomName string, id PeerID, nickname string, role Role, customerRef string, sink PeerSessionHandle, out MessageSink) (*Room, []Member, error) {
	entry, err := m.getOrCreate(ctx, roomName)
	if err != nil {
		return nil, nil, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.room.Status() != StatusActive {
		return nil, nil, errs.New(errs.Resource, errs.CodeRoomClosed, fmt.Sprintf("room %q is closed", roomName))
	}

	for _, existing := range entry.room.Members() {
		if existing.Nickname == nickname && existing.Role == role {
			return nil, nil, errs.New(errs.Protocol, errs.CodeDuplicateJoin, fmt.Sprintf("nickname %q already joined room %q", nickname, roomName))
		}
	}

	others := entry.room.Members()
	entry.room.addMember(&Member{
		PeerID:      id,
		Nickname:    nickname,
		Role:        role,
		CustomerRef: customerRef,
		JoinedAt:    time.Now(),
		Sink:        sink,
		Out:         out,
	})

	// D-PS4: a new peer's arrival renegotiates every already-present
	// member. Each member's own Renegotiate defers the notification
	// until that member's connection reaches CONNECTED (the
	// barrier Room.AllConnected reports, spec.md §4.3), so a peer
	// still mid-handshake sees exactly one renegotiation_needed once it
	// connects rather than one immediately plus a missed one later.
	for _, existing := range others {
		if existing.Sink != nil {
			existing.Sink.Renegotiate("peer_joined")
		}
	}

	m.logger.Infow("peer joined room", "room", roomName, "peer", id, "role", role)
	return entry.room, others, nil
}

// Leave removes a peer from its room. If the room becomes empty, it is
// torn down immediately (grace window of zero, §6): the room's agent
// is closed, any advisory Redis lock released, and the entry dropped
// from the registry so a later Join starts a fresh session.
func (m *Manager) Leave(ctx context.Context, roomName string, id PeerID) {
	m.mu.Lock()
	entry, ok := m.rooms[roomName]
	m.mu.Unlock()
	if !ok {
		return
	}

	entry.mu.Lock()
	member, existed := entry.room.removeMember(id)
	empty := entry.room.MemberCount() == 0
	entry.mu.Unlock()

	if existed {
		m.logger.Infow("peer left room", "room", roomName, "peer", id)
		data, _ := json.Marshal(wire.UserJoinedData{
			PeerID:    string(id),
			Nickname:  member.Nickname,
			PeerCount: entry.room.MemberCount(),
		})
		entry.room.Broadcast(wire.Envelope{Type: wire.TypeUserLeft, Data: data}, id)
	}

	if !empty {
		return
	}
	m.destroy(ctx, roomName, entry)
}

func (m *Manager) destroy(ctx context.Context, roomName string, entry *roomEntry) {
	entry.mu.Lock()
	entry.room.end()
	agent := entry.room.Agent()
	sessionID := entry.room.SessionID
	entry.mu.Unlock()

	if agent != nil {
		agent.Close()
	}

	if m.persist != nil && sessionID != "" {
		if _, err := m.persist.SessionEnd(ctx, sessionID, "", ""); err != nil {
			m.logger.Warnw("session end on room teardown failed", "room", roomName, "error", err)
		}
	}

	m.mu.Lock()
	delete(m.rooms, roomName)
	m.mu.Unlock()

	m.releaseLock(ctx, roomName)
	m.logger.Infow("room destroyed", "room", roomName)
}

// getOrCreate returns the existing room entry, or creates one if this
// is the first join — enforcing max_concurrent_rooms and claiming the
// optional distributed lock exactly once per room lifetime.
func (m *Manager) getOrCreate(ctx context.Context, roomName string) (*roomEntry, error) {
	m.mu.Lock()
	if entry, ok := m.rooms[roomName]; ok {
		m.mu.Unlock()
		return entry, nil
	}
	if m.maxConcurrentRooms > 0 && len(m.rooms) >= m.maxConcurrentRooms {
		m.mu.Unlock()
		return nil, errs.New(errs.Resource, errs.CodeTooManyRooms, "max_concurrent_rooms reached")
	}
	m.mu.Unlock()

	if err := m.acquireLock(ctx, roomName); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if entry, ok := m.rooms[roomName]; ok {
		return entry, nil
	}

	sessionID := ""
	if m.persist != nil {
		sid, err := m.persist.SessionBegin(ctx, roomName)
		if err != nil {
			m.logger.Warnw("session begin failed, continuing without persistence id", "room", roomName, "error", err)
		} else {
			sessionID = sid
		}
	}

	r := newRoom(roomName, sessionID, m.logger, m.factory)
	entry := &roomEntry{room: r}
	m.rooms[roomName] = entry
	m.logger.Infow("room created", "room", roomName, "session_id", sessionID)
	return entry, nil
}

// acquireLock claims the room name via SETNX when Redis is configured.
// A no-op (always succeeds) in single-instance deployments.
func (m *Manager) acquireLock(ctx context.Context, roomName string) error {
	if m.redis == nil {
		return nil
	}
	ok, err := m.redis.SetNX(ctx, lockKey(roomName), "1", lockTTL).Result()
	if err != nil {
		return errs.Wrap(errs.Persistence, errs.CodeBadState, "acquire room lock", err)
	}
	if !ok {
		return errs.New(errs.Resource, errs.CodeDuplicateJoin, fmt.Sprintf("room %q is owned by another instance", roomName))
	}
	return nil
}

func (m *Manager) releaseLock(ctx context.Context, roomName string) {
	if m.redis == nil {
		return
	}
	if err := m.redis.Del(ctx, lockKey(roomName)).Err(); err != nil {
		m.logger.Debugw("release room lock failed", "room", roomName, "error", err)
	}
}

func lockKey(roomName string) string {
	return "room_lock:" + roomName
}

// Get returns the live Room for roomName, if any.
func (m *Manager) Get(roomName string) (*Room, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.rooms[roomName]
	if !ok {
		return nil, false
	}
	return entry.room, true
}

// Shutdown tears down every live room — used during graceful server
// shutdown (§6 "Exit behaviour": drain Rooms before SignalClients).
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	entries := make(map[string]*roomEntry, len(m.rooms))
	for name, e := range m.rooms {
		entries[name] = e
	}
	m.mu.Unlock()

	for name, entry := range entries {
		m.destroy(ctx, name, entry)
	}
}
