package peer

import (
	"testing"
	"time"

	pionwebrtc "github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baro-gochi/counselor-assist-core/internal/audio"
	"github.com/baro-gochi/counselor-assist-core/internal/commons"
	"github.com/baro-gochi/counselor-assist-core/internal/room"
)

func testLogger() commons.Logger {
	return commons.New(commons.WithDevelopment())
}

// offererSDP builds a real SDP offer from a throwaway pion
// PeerConnection, the way a browser client would, so HandleOffer can
// be exercised against a valid offer without a live remote peer.
func offererSDP(t *testing.T) string {
	t.Helper()
	pc, err := pionwebrtc.NewPeerConnection(pionwebrtc.Configuration{})
	require.NoError(t, err)
	defer pc.Close()

	_, err = pc.AddTransceiverFromKind(pionwebrtc.RTPCodecTypeAudio)
	require.NoError(t, err)

	offer, err := pc.CreateOffer(nil)
	require.NoError(t, err)

	gatherComplete := pionwebrtc.GatheringCompletePromise(pc)
	require.NoError(t, pc.SetLocalDescription(offer))
	select {
	case <-gatherComplete:
	case <-time.After(5 * time.Second):
		t.Fatal("ice gathering for the test offerer never completed")
	}
	return pc.LocalDescription().SDP
}

func TestConnectionState_ReportsNewBeforeAnyOffer(t *testing.T) {
	s := New(room.PeerID("peer-1"), testLogger(), Config{})
	assert.Equal(t, string(StateNew), s.ConnectionState())
}

func TestHandleOffer_ProducesAnAnswer(t *testing.T) {
	s := New(room.PeerID("peer-1"), testLogger(), Config{})
	s.SetCallbacks(func(pionwebrtc.ICECandidateInit) {}, func(string) {}, func(*audio.RelayTrack) {})
	defer s.Close("test teardown")

	answer, err := s.HandleOffer(offererSDP(t))
	require.NoError(t, err)
	assert.Contains(t, answer, "v=0")
}

func TestHandleOffer_RejectedOnceClosed(t *testing.T) {
	s := New(room.PeerID("peer-1"), testLogger(), Config{})
	require.NoError(t, s.Close("early teardown"))

	_, err := s.HandleOffer(offererSDP(t))
	assert.Error(t, err, "a closed session must reject a late offer rather than reopen a connection")
}

func TestHandleRemoteICE_BuffersUntilRemoteDescriptionSet(t *testing.T) {
	s := New(room.PeerID("peer-1"), testLogger(), Config{})
	defer s.Close("test teardown")

	// Before any offer is handled the remote description is unset;
	// candidates must be buffered rather than erroring.
	err := s.HandleRemoteICE("candidate:1 1 udp 1 127.0.0.1 1 typ host", "0", 0)
	assert.NoError(t, err)

	s.mu.Lock()
	buffered := len(s.pendingICE)
	s.mu.Unlock()
	assert.Equal(t, 1, buffered)
}

func TestHandleRemoteICE_NoopOnceClosed(t *testing.T) {
	s := New(room.PeerID("peer-1"), testLogger(), Config{})
	require.NoError(t, s.Close("early teardown"))

	err := s.HandleRemoteICE("candidate:1 1 udp 1 127.0.0.1 1 typ host", "0", 0)
	assert.NoError(t, err, "a closed session must silently drop late candidates, not error")
}

func TestRenegotiate_DefersCallbackUntilConnected(t *testing.T) {
	s := New(room.PeerID("peer-1"), testLogger(), Config{})
	defer s.Close("test teardown")

	called := false
	s.SetCallbacks(func(pionwebrtc.ICECandidateInit) {}, func(string) { called = true }, nil)

	s.Renegotiate("transceiver_added")
	assert.False(t, called, "renegotiation before CONNECTED must defer, not fire immediately")

	s.mu.Lock()
	pending := s.renegotiatePending
	s.mu.Unlock()
	assert.True(t, pending)
}

func TestClose_IsIdempotent(t *testing.T) {
	s := New(room.PeerID("peer-1"), testLogger(), Config{})
	assert.NoError(t, s.Close("first"))
	assert.NoError(t, s.Close("second"))
}

func TestWriteSample_NoopBeforePeerConnectionCreated(t *testing.T) {
	s := New(room.PeerID("peer-1"), testLogger(), Config{})
	defer s.Close("test teardown")
	assert.NoError(t, s.WriteSample([]int16{0, 1, 2, 3}))
}
