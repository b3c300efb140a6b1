package audio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baro-gochi/counselor-assist-core/internal/commons"
)

func newTestRelay() *RelayTrack {
	return NewRelayTrack(commons.New(commons.WithDevelopment()), 960)
}

func TestRelayTrack_SubscribeReceivesPushedFrame(t *testing.T) {
	rt := newTestRelay()
	ch, id := rt.Subscribe()
	require.NotZero(t, len(rt.subscribers))

	pcm := make([]byte, OpusFrameBytes)
	rt.Push(pcm)

	select {
	case frame := <-ch:
		assert.Equal(t, pcm, frame.PCM)
		assert.False(t, frame.Silence)
	case <-time.After(time.Second):
		t.Fatal("expected a frame to be delivered")
	}

	rt.Unsubscribe(id)
	_, ok := <-ch
	assert.False(t, ok, "unsubscribe should close the subscriber channel")
}

func TestRelayTrack_PushSilenceAdvancesTimestamp(t *testing.T) {
	rt := newTestRelay()
	ch, _ := rt.Subscribe()

	rt.Push(make([]byte, OpusFrameBytes))
	first := <-ch

	time.Sleep(FrameDuration * 2)
	rt.PushSilence()
	second := <-ch

	assert.True(t, second.Silence)
	assert.Greater(t, second.Timestamp, first.Timestamp)
}

func TestRelayTrack_OverflowDropsOldestNotNewest(t *testing.T) {
	rt := newTestRelay()
	ch, _ := rt.Subscribe()

	// Fill the bounded queue well past capacity without draining.
	// Each frame carries its push order in its first byte.
	for i := 0; i < RelayBufferFrames+10; i++ {
		pcm := make([]byte, OpusFrameBytes)
		pcm[0] = byte(i)
		rt.Push(pcm)
	}

	assert.LessOrEqual(t, len(ch), RelayBufferFrames)

	// The channel must still be usable — draining it should not block
	// or panic even though frames were dropped along the way.
	count := 0
	var first, last byte
	for {
		select {
		case frame, ok := <-ch:
			if !ok {
				t.Fatal("channel closed unexpectedly")
			}
			if count == 0 {
				first = frame.PCM[0]
			}
			last = frame.PCM[0]
			count++
		default:
			assert.Greater(t, count, 0)
			assert.Equal(t, byte(10), first, "the 10 oldest frames are the ones dropped")
			assert.Equal(t, byte(RelayBufferFrames+9), last, "the newest frame is kept")
			return
		}
	}
}

func TestRelayTrack_CloseClosesAllSubscribers(t *testing.T) {
	rt := newTestRelay()
	ch1, _ := rt.Subscribe()
	ch2, _ := rt.Subscribe()

	rt.Close()

	_, ok1 := <-ch1
	_, ok2 := <-ch2
	assert.False(t, ok1)
	assert.False(t, ok2)

	// Push/PushSilence after Close must be no-ops, not panics.
	rt.Push(make([]byte, OpusFrameBytes))
	rt.PushSilence()
}

func TestRelayTrack_IndependentSubscriptionsDoNotShareFrames(t *testing.T) {
	rt := newTestRelay()
	chA, _ := rt.Subscribe()
	chB, _ := rt.Subscribe()

	pcm := make([]byte, OpusFrameBytes)
	rt.Push(pcm)

	fa := <-chA
	fb := <-chB
	assert.Equal(t, fa.Timestamp, fb.Timestamp)
}
