package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestState_BeginTick_AtMostOneInFlight(t *testing.T) {
	s := newState(nil)

	assert.True(t, s.beginTick(), "first caller starts the tick")
	assert.False(t, s.beginTick(), "a second caller while one is running must not start a concurrent tick")
}

func TestState_EndTick_ReportsDirtySuccessor(t *testing.T) {
	s := newState(nil)

	require := assert.New(t)
	require.True(s.beginTick())
	require.False(s.beginTick(), "marks dirty instead of starting a second tick")

	successor := s.endTick()
	require.True(successor, "a tick that arrived mid-run must trigger an immediate successor")

	successor = s.endTick()
	require.False(successor, "with no further dirty marks, no successor is needed")
}

func TestState_AdvanceIndex_NeverMovesBackward(t *testing.T) {
	s := newState(nil)

	s.advanceIndex(NodeIntent, 5)
	assert.Equal(t, 5, s.lastIndexFor(NodeIntent))

	s.advanceIndex(NodeIntent, 2)
	assert.Equal(t, 5, s.lastIndexFor(NodeIntent), "advanceIndex must not regress last_index")

	s.advanceIndex(NodeIntent, 9)
	assert.Equal(t, 9, s.lastIndexFor(NodeIntent))
}

func TestState_StoreAndReadResult(t *testing.T) {
	s := newState(nil)

	assert.Nil(t, s.result(NodeSummarize))

	s.storeResult(NodeSummarize, []byte(`{"summary":"x"}`))
	assert.Equal(t, []byte(`{"summary":"x"}`), []byte(s.result(NodeSummarize)))
}

func TestState_TickIDIncrementsPerTick(t *testing.T) {
	s := newState(nil)

	s.beginTick()
	first := s.tickID()
	s.endTick()

	s.beginTick()
	second := s.tickID()
	s.endTick()

	assert.Equal(t, first+1, second)
}
