package room

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baro-gochi/counselor-assist-core/internal/commons"
)

type fakePeerHandle struct {
	closed bool
}

func (f *fakePeerHandle) Renegotiate(reason string)   {}
func (f *fakePeerHandle) Close(reason string) error   { f.closed = true; return nil }
func (f *fakePeerHandle) ConnectionState() string     { return "connected" }

func newTestManager() *Manager {
	logger := commons.New(commons.WithDevelopment())
	factory := func(r *Room) Agent { return &fakeAgent{} }
	return NewManager(logger, factory, nil, nil, 0)
}

func TestManager_JoinCreatesRoomLazily(t *testing.T) {
	m := newTestManager()
	r, others, err := m.Join(context.Background(), "room-1", "peer-1", "alice", RoleCustomer, "", &fakePeerHandle{}, &fakeSink{})
	require.NoError(t, err)
	assert.Empty(t, others)
	assert.Equal(t, 1, r.MemberCount())

	_, ok := m.Get("room-1")
	assert.True(t, ok)
}

func TestManager_JoinRejectsDuplicateNicknameAndRole(t *testing.T) {
	m := newTestManager()
	_, _, err := m.Join(context.Background(), "room-1", "peer-1", "alice", RoleCustomer, "", &fakePeerHandle{}, &fakeSink{})
	require.NoError(t, err)

	_, _, err = m.Join(context.Background(), "room-1", "peer-2", "alice", RoleCustomer, "", &fakePeerHandle{}, &fakeSink{})
	assert.Error(t, err)
}

func TestManager_JoinEnforcesMaxConcurrentRooms(t *testing.T) {
	logger := commons.New(commons.WithDevelopment())
	factory := func(r *Room) Agent { return &fakeAgent{} }
	m := NewManager(logger, factory, nil, nil, 1)

	_, _, err := m.Join(context.Background(), "room-1", "peer-1", "alice", RoleCustomer, "", &fakePeerHandle{}, &fakeSink{})
	require.NoError(t, err)

	_, _, err = m.Join(context.Background(), "room-2", "peer-2", "bob", RoleCustomer, "", &fakePeerHandle{}, &fakeSink{})
	assert.Error(t, err, "a second room name must be rejected once max_concurrent_rooms is reached")
}

func TestManager_LeaveDestroysEmptyRoomImmediately(t *testing.T) {
	m := newTestManager()
	_, _, err := m.Join(context.Background(), "room-1", "peer-1", "alice", RoleCustomer, "", &fakePeerHandle{}, &fakeSink{})
	require.NoError(t, err)

	m.Leave(context.Background(), "room-1", "peer-1")

	_, ok := m.Get("room-1")
	assert.False(t, ok, "an empty room must be torn down with no grace window")
}

func TestManager_JoinAfterRoomDestroyedStartsFresh(t *testing.T) {
	m := newTestManager()
	_, _, err := m.Join(context.Background(), "room-1", "peer-1", "alice", RoleCustomer, "", &fakePeerHandle{}, &fakeSink{})
	require.NoError(t, err)
	m.Leave(context.Background(), "room-1", "peer-1")

	r, others, err := m.Join(context.Background(), "room-1", "peer-2", "alice", RoleCustomer, "", &fakePeerHandle{}, &fakeSink{})
	require.NoError(t, err)
	assert.Empty(t, others, "a fresh room after teardown starts with no prior members")
	assert.Equal(t, 1, r.MemberCount())
}
