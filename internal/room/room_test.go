package room

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baro-gochi/counselor-assist-core/internal/commons"
	"github.com/baro-gochi/counselor-assist-core/internal/wire"
)

type fakeAgent struct {
	notified int
	closed   bool
}

func (a *fakeAgent) NotifyFinalTranscript() { a.notified++ }
func (a *fakeAgent) RunConsultationTask(ctx context.Context, opts map[string]interface{}) (*wire.AgentConsultationData, error) {
	return nil, nil
}
func (a *fakeAgent) Flush(ctx context.Context) (string, error) { return "", nil }
func (a *fakeAgent) Close()                                    { a.closed = true }

type fakeSink struct {
	sent []wire.Envelope
}

func (s *fakeSink) Send(env wire.Envelope) error {
	s.sent = append(s.sent, env)
	return nil
}

func newTestRoom(t *testing.T) (*Room, *fakeAgent) {
	t.Helper()
	ag := &fakeAgent{}
	r := newRoom("test-room", "session-1", commons.New(commons.WithDevelopment()), func(_ *Room) Agent { return ag })
	return r, ag
}

func TestAppendTranscript_DenseIncreasingTurnIndex(t *testing.T) {
	r, ag := newTestRoom(t)

	t0 := r.AppendTranscript("peer-1", "alice", RoleCustomer, "hello", 0.9, "stt")
	t1 := r.AppendTranscript("peer-1", "alice", RoleCustomer, "world", 0.95, "stt")

	assert.Equal(t, 0, t0.TurnIndex)
	assert.Equal(t, 1, t1.TurnIndex)
	assert.Equal(t, 2, r.TranscriptLen())
	assert.Equal(t, 2, ag.notified, "every final turn must notify the room agent")
}

func TestTranscriptSince_ReturnsOnlyNewTurns(t *testing.T) {
	r, _ := newTestRoom(t)
	r.AppendTranscript("peer-1", "alice", RoleCustomer, "one", 0.9, "stt")
	r.AppendTranscript("peer-1", "alice", RoleCustomer, "two", 0.9, "stt")
	r.AppendTranscript("peer-1", "alice", RoleCustomer, "three", 0.9, "stt")

	since := r.TranscriptSince(1)
	require.Len(t, since, 2)
	assert.Equal(t, "two", since[0].Text)
	assert.Equal(t, "three", since[1].Text)
}

func TestBroadcast_ExcludesGivenPeer(t *testing.T) {
	r, _ := newTestRoom(t)
	sinkA := &fakeSink{}
	sinkB := &fakeSink{}
	r.addMember(&Member{PeerID: "a", Nickname: "A", Role: RoleAgent, Out: sinkA})
	r.addMember(&Member{PeerID: "b", Nickname: "B", Role: RoleCustomer, Out: sinkB})

	r.Broadcast(wire.Envelope{Type: wire.TypeUserJoined}, "a")

	assert.Empty(t, sinkA.sent, "excluded peer must not receive the broadcast")
	assert.Len(t, sinkB.sent, 1)
}

func TestRemoveMember_DropsFromRoster(t *testing.T) {
	r, _ := newTestRoom(t)
	r.addMember(&Member{PeerID: "a", Nickname: "A", Role: RoleAgent, Out: &fakeSink{}})
	assert.Equal(t, 1, r.MemberCount())

	m, ok := r.removeMember("a")
	require.True(t, ok)
	assert.Equal(t, PeerID("a"), m.PeerID)
	assert.Equal(t, 0, r.MemberCount())

	_, ok = r.removeMember("a")
	assert.False(t, ok, "removing an already-removed member reports not found")
}
