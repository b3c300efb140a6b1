package audio

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/baro-gochi/counselor-assist-core/internal/commons"
)

// Frame is one fixed-cadence unit of audio handed to a consumer.
type Frame struct {
	PCM       []byte // 16-bit mono PCM at OpusSampleRate (48kHz)
	Timestamp uint32 // RTP-style timestamp, strictly increasing (I7)
	Silence   bool
}

// RelayTrack wraps one upstream audio source (a PeerSession's decoded
// remote track) and exposes any number of independent downstream
// subscriptions, each with its own bounded queue — sharing one
// recv() cursor across consumers breaks timestamp continuity
// (D-PS2), so every Subscribe call gets a brand new goroutine-fed
// channel. Grounded on the teacher's bufferAndSendInput/runOutputWriter
// pacing pattern (internal/channel/webrtc/streamer.go), generalised
// from the teacher's single fixed consumer to N independent ones.
type RelayTrack struct {
	mu          sync.Mutex
	subscribers map[int]*subscription
	nextSubID   int
	clockStart  time.Time
	samplesPer  uint32 // timestamp advance per frame (20ms at 48kHz = 960)
	lastTS      uint32
	stamped     bool

	logger commons.Logger

	closed bool
	closeCh chan struct{}
}

type subscription struct {
	ch     chan Frame
	closed bool
}

// NewRelayTrack builds a RelayTrack. samplesPerFrame is the RTP
// timestamp advance of one FrameDuration tick (960 at 48kHz).
func NewRelayTrack(logger commons.Logger, samplesPerFrame uint32) *RelayTrack {
	return &RelayTrack{
		subscribers: make(map[int]*subscription),
		samplesPer:  samplesPerFrame,
		logger:      logger,
		closeCh:     make(chan struct{}),
	}
}

// Subscribe creates an independent downstream subscription with its
// own bounded queue (~1s, RelayBufferFrames deep). The returned
// channel yields Frame values until the RelayTrack closes or Unsubscribe
// is called. Push never blocks on it: an undrained queue loses its
// oldest frames on overflow.
func (t *RelayTrack) Subscribe() (<-chan Frame, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextSubID
	t.nextSubID++
	sub := &subscription{ch: make(chan Frame, RelayBufferFrames)}
	t.subscribers[id] = sub
	return sub.ch, id
}

// Unsubscribe removes and closes one subscription's channel.
func (t *RelayTrack) Unsubscribe(id int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	sub, ok := t.subscribers[id]
	if !ok {
		return
	}
	delete(t.subscribers, id)
	if !sub.closed {
		sub.closed = true
		close(sub.ch)
	}
}

// Push feeds one upstream-decoded PCM frame to every subscriber,
// stamping it with a strictly increasing timestamp (I7). Overflow on
// any one subscriber's queue drops that subscriber's oldest frame
// rather than blocking the others.
func (t *RelayTrack) Push(pcm []byte) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	if t.clockStart.IsZero() {
		t.clockStart = time.Now()
	}
	frame := Frame{PCM: pcm, Timestamp: t.nextTimestampLocked()}
	subs := make([]*subscription, 0, len(t.subscribers))
	for _, s := range t.subscribers {
		subs = append(subs, s)
	}
	t.mu.Unlock()

	for _, s := range subs {
		t.deliver(s, frame)
	}
}

// PushSilence emits a zero-filled frame with a correctly advancing
// timestamp, used when the upstream is late (§4.4 pacing contract).
func (t *RelayTrack) PushSilence() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	frame := Frame{PCM: make([]byte, OpusFrameBytes), Timestamp: t.nextTimestampLocked(), Silence: true}
	subs := make([]*subscription, 0, len(t.subscribers))
	for _, s := range t.subscribers {
		subs = append(subs, s)
	}
	t.mu.Unlock()

	for _, s := range subs {
		t.deliver(s, frame)
	}
}

func (t *RelayTrack) nextTimestampLocked() uint32 {
	if t.clockStart.IsZero() {
		t.clockStart = time.Now()
	}
	elapsed := time.Since(t.clockStart)
	frames := uint32(elapsed / FrameDuration)
	ts := frames * t.samplesPer
	if t.stamped && ts <= t.lastTS {
		ts = t.lastTS + t.samplesPer
	}
	t.lastTS = ts
	t.stamped = true
	return ts
}

func (t *RelayTrack) deliver(s *subscription, frame Frame) {
	select {
	case s.ch <- frame:
		return
	default:
	}
	// Bounded queue full: drop the oldest frame, then retry once.
	select {
	case <-s.ch:
	default:
	}
	select {
	case s.ch <- frame:
	default:
		t.logger.Debugw("relay subscriber dropped frame on overflow")
	}
}

// Close marks the track closed; subsequent Push/PushSilence calls are
// no-ops and every subscriber channel is closed so recv() returns EOF
// semantics (callers observe a closed channel) after draining.
func (t *RelayTrack) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	close(t.closeCh)
	for id, s := range t.subscribers {
		if !s.closed {
			s.closed = true
			close(s.ch)
		}
		delete(t.subscribers, id)
	}
}

// Pace runs a fixed-cadence ticker that pushes the next frame from
// source into track or, when source has nothing buffered, pushes a
// silence frame — used by
// PeerSession to drive a RelayTrack fed from a WebRTC remote track
// reader goroutine that may stall or burst.
func Pace(ctx context.Context, interval time.Duration, source <-chan []byte, track *RelayTrack) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-track.closeCh:
			return io.EOF
		case <-ticker.C:
			select {
			case pcm, ok := <-source:
				if !ok {
					return io.EOF
				}
				track.Push(pcm)
			default:
				track.PushSilence()
			}
		}
	}
}
