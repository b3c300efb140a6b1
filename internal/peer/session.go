// Package peer implements C2 (PeerSession): one browser's WebRTC peer
// connection, its state machine, and the independent downstream audio
// subscriptions it hands to the Room (for fan-out) and the STT stream.
// Grounded on the teacher's webrtcStreamer
// (internal/channel/webrtc/streamer.go) — peer connection setup, Opus
// codec registration, ICE handling, remote-track reading — with the
// gRPC signaling torn out (room/signal own the JSON envelope instead)
// and generalised from one fixed peer to N peers in a room wired
// together via independent RelayTrack subscriptions (D-PS2).
package peer

import (
	"context"
	"fmt"
	"sync"
	"time"

	pionwebrtc "github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/baro-gochi/counselor-assist-core/internal/audio"
	audioopus "github.com/baro-gochi/counselor-assist-core/internal/audio/opus"
	"github.com/baro-gochi/counselor-assist-core/internal/commons"
	"github.com/baro-gochi/counselor-assist-core/internal/errs"
	"github.com/baro-gochi/counselor-assist-core/internal/room"
)

// State mirrors the lifecycle in spec.md §4.3.
type State string

const (
	StateNew            State = "NEW"
	StateOfferReceived   State = "OFFER_RECEIVED"
	StateAnswering       State = "ANSWERING"
	StateConnected       State = "CONNECTED"
	StateFailed          State = "FAILED"
	StateClosed          State = "CLOSED"
)

// OnRemoteTrack is invoked once per incoming remote audio track, with
// the RelayTrack this PeerSession now feeds from decoded Opus PCM.
// Room uses it to fan the peer's audio out to every other member;
// package stt uses the tap subscription to feed transcription.
type OnRemoteTrack func(rt *audio.RelayTrack)

// Session owns one Pion PeerConnection plus the per-peer RelayTrack
// that fans its remote audio out to the Room and to STT.
type Session struct {
	mu sync.Mutex

	id     room.PeerID
	logger commons.Logger
	config Config

	pc    *pionwebrtc.PeerConnection
	state State

	localTrack *pionwebrtc.TrackLocalStaticSample
	opusEnc    *audioopus.Codec

	relay *audio.RelayTrack

	pendingICE []pionwebrtc.ICECandidateInit
	remoteSet  bool

	renegotiatePending bool

	onLocalICE    func(candidate pionwebrtc.ICECandidateInit)
	onRenegotiate func(reason string)
	onRemoteTrack OnRemoteTrack

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Config configures ICE transport policy and server list (D-PS1: TURN
// relay forced by default per spec.md).
type Config struct {
	ICEServers         []pionwebrtc.ICEServer
	ICETransportPolicy pionwebrtc.ICETransportPolicy
}

// New builds a Session in state NEW. Call SetCallbacks before
// HandleOffer so gathered ICE candidates and renegotiation events are
// not dropped.
func New(id room.PeerID, logger commons.Logger, cfg Config) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		id:     id,
		logger: logger.With("peer", string(id)),
		config: cfg,
		state:  StateNew,
		ctx:    ctx,
		cancel: cancel,
	}
}

// SetCallbacks wires the PeerSession's outward notifications. Must be
// called once, before HandleOffer.
func (s *Session) SetCallbacks(onLocalICE func(pionwebrtc.ICECandidateInit), onRenegotiate func(string), onRemoteTrack OnRemoteTrack) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onLocalICE = onLocalICE
	s.onRenegotiate = onRenegotiate
	s.onRemoteTrack = onRemoteTrack
}

// Relay returns the RelayTrack fed by this peer's remote audio track,
// or nil if no remote track has arrived yet (before OnTrack fires).
func (s *Session) Relay() *audio.RelayTrack {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.relay
}

// ConnectionState implements room.PeerSessionHandle.
func (s *Session) ConnectionState() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pc == nil {
		return string(s.state)
	}
	return s.pc.ConnectionState().String()
}

// HandleOffer applies a remote SDP offer, valid only in NEW or
// CONNECTED (renegotiation); returns the local SDP answer.
func (s *Session) HandleOffer(sdp string) (string, error) {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()

	if state != StateNew && state != StateConnected {
		return "", errs.New(errs.Protocol, errs.CodeBadState, fmt.Sprintf("handle_offer invalid in state %s", state))
	}

	if s.pc == nil {
		if err := s.createPeerConnection(); err != nil {
			return "", errs.Wrap(errs.MediaFatal, errs.CodeConnectionFailed, "create peer connection", err)
		}
	}

	s.mu.Lock()
	s.state = StateOfferReceived
	s.mu.Unlock()

	if err := s.pc.SetRemoteDescription(pionwebrtc.SessionDescription{
		Type: pionwebrtc.SDPTypeOffer,
		SDP:  sdp,
	}); err != nil {
		return "", errs.Wrap(errs.Protocol, errs.CodeBadState, "set remote description", err)
	}
	s.flushPendingICE()

	s.mu.Lock()
	s.state = StateAnswering
	s.mu.Unlock()

	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		return "", errs.Wrap(errs.Protocol, errs.CodeBadState, "create answer", err)
	}
	gatherComplete := pionwebrtc.GatheringCompletePromise(s.pc)
	if err := s.pc.SetLocalDescription(answer); err != nil {
		return "", errs.Wrap(errs.Protocol, errs.CodeBadState, "set local description", err)
	}
	<-gatherComplete

	return s.pc.LocalDescription().SDP, nil
}

// HandleRemoteICE buffers a candidate until the remote description is
// set, then applies it. Applying to a closed session is a no-op.
func (s *Session) HandleRemoteICE(candidate, sdpMid string, sdpMLineIndex int) error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	init := pionwebrtc.ICECandidateInit{
		Candidate:     candidate,
		SDPMid:        &sdpMid,
		SDPMLineIndex: ptrUint16(uint16(sdpMLineIndex)),
	}
	if !s.remoteSet {
		s.pendingICE = append(s.pendingICE, init)
		s.mu.Unlock()
		return nil
	}
	pc := s.pc
	s.mu.Unlock()

	if pc == nil {
		return nil
	}
	if err := pc.AddICECandidate(init); err != nil {
		return errs.Wrap(errs.Protocol, errs.CodeBadState, "add ice candidate", err)
	}
	return nil
}

func (s *Session) flushPendingICE() {
	s.mu.Lock()
	s.remoteSet = true
	pending := s.pendingICE
	s.pendingICE = nil
	pc := s.pc
	s.mu.Unlock()

	for _, c := range pending {
		if err := pc.AddICECandidate(c); err != nil {
			s.logger.Debugw("failed to apply buffered ice candidate", "error", err)
		}
	}
}

// Renegotiate implements room.PeerSessionHandle. Emits
// renegotiation_needed immediately if the connection is already
// CONNECTED; otherwise defers until it reaches CONNECTED (D-PS4).
func (s *Session) Renegotiate(reason string) {
	s.mu.Lock()
	if s.state != StateConnected {
		s.renegotiatePending = true
		s.mu.Unlock()
		return
	}
	cb := s.onRenegotiate
	s.mu.Unlock()
	if cb != nil {
		cb(reason)
	}
}

// Close implements room.PeerSessionHandle: cancels in-flight audio
// consumers, closes tracks, closes the peer connection.
func (s *Session) Close(reason string) error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	s.state = StateClosed
	pc := s.pc
	relay := s.relay
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()

	if relay != nil {
		relay.Close()
	}
	if pc != nil {
		if err := pc.Close(); err != nil {
			return errs.Wrap(errs.MediaFatal, errs.CodeConnectionFailed, "close peer connection", err)
		}
	}
	s.logger.Infow("peer session closed", "reason", reason)
	return nil
}

func (s *Session) createPeerConnection() error {
	mediaEngine := &pionwebrtc.MediaEngine{}
	if err := mediaEngine.RegisterCodec(pionwebrtc.RTPCodecParameters{
		RTPCodecCapability: pionwebrtc.RTPCodecCapability{
			MimeType:    pionwebrtc.MimeTypeOpus,
			ClockRate:   audio.OpusSampleRate,
			Channels:    audio.OpusChannels,
			SDPFmtpLine: audio.OpusSDPFmtp,
		},
		PayloadType: audio.OpusPayloadType,
	}, pionwebrtc.RTPCodecTypeAudio); err != nil {
		return fmt.Errorf("register opus codec: %w", err)
	}

	api := pionwebrtc.NewAPI(pionwebrtc.WithMediaEngine(mediaEngine))

	pcConfig := pionwebrtc.Configuration{
		ICEServers:         s.config.ICEServers,
		ICETransportPolicy: s.config.ICETransportPolicy,
	}
	pc, err := api.NewPeerConnection(pcConfig)
	if err != nil {
		return fmt.Errorf("new peer connection: %w", err)
	}

	localTrack, err := pionwebrtc.NewTrackLocalStaticSample(pionwebrtc.RTPCodecCapability{
		MimeType:  pionwebrtc.MimeTypeOpus,
		ClockRate: audio.OpusSampleRate,
		Channels:  audio.OpusChannels,
	}, "audio", "counselor-assist")
	if err != nil {
		return fmt.Errorf("new local track: %w", err)
	}
	if _, err := pc.AddTrack(localTrack); err != nil {
		return fmt.Errorf("add track: %w", err)
	}

	opusEnc, err := audioopus.New(audio.OpusSampleRate, 1)
	if err != nil {
		return fmt.Errorf("opus codec: %w", err)
	}

	s.mu.Lock()
	s.pc = pc
	s.localTrack = localTrack
	s.opusEnc = opusEnc
	s.mu.Unlock()

	s.setupEventHandlers()
	return nil
}

func (s *Session) setupEventHandlers() {
	s.pc.OnICECandidate(func(c *pionwebrtc.ICECandidate) {
		if c == nil {
			return
		}
		s.mu.Lock()
		cb := s.onLocalICE
		s.mu.Unlock()
		if cb != nil {
			cb(c.ToJSON())
		}
	})

	s.pc.OnConnectionStateChange(func(state pionwebrtc.PeerConnectionState) {
		s.logger.Infow("connection state changed", "state", state.String())
		s.mu.Lock()
		switch state {
		case pionwebrtc.PeerConnectionStateConnected:
			s.state = StateConnected
			pending := s.renegotiatePending
			s.renegotiatePending = false
			cb := s.onRenegotiate
			s.mu.Unlock()
			if pending && cb != nil {
				cb("deferred_until_connected")
			}
			return
		case pionwebrtc.PeerConnectionStateFailed:
			s.state = StateFailed
		case pionwebrtc.PeerConnectionStateClosed:
			s.state = StateClosed
		}
		s.mu.Unlock()
	})

	s.pc.OnTrack(func(track *pionwebrtc.TrackRemote, _ *pionwebrtc.RTPReceiver) {
		if track.Kind() != pionwebrtc.RTPCodecTypeAudio {
			return
		}
		relay := audio.NewRelayTrack(s.logger, 960)
		s.mu.Lock()
		s.relay = relay
		onRemote := s.onRemoteTrack
		s.mu.Unlock()

		if onRemote != nil {
			onRemote(relay)
		}

		s.wg.Add(1)
		go s.readRemoteAudio(track, relay)
	})
}

func (s *Session) readRemoteAudio(track *pionwebrtc.TrackRemote, relay *audio.RelayTrack) {
	defer s.wg.Done()

	dec, err := audioopus.New(audio.OpusSampleRate, 1)
	if err != nil {
		s.logger.Errorw("opus decoder create failed", "error", err)
		return
	}

	consecutiveErrors := 0
	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		pkt, _, err := track.ReadRTP()
		if err != nil {
			consecutiveErrors++
			if consecutiveErrors >= 50 {
				s.logger.Errorw("too many consecutive remote audio read errors, stopping", "error", err)
				return
			}
			continue
		}
		consecutiveErrors = 0

		pcm, err := dec.Decode(pkt.Payload, 960)
		if err != nil {
			s.logger.Debugw("opus decode failed", "error", err)
			continue
		}
		relay.Push(int16PCMToBytes(pcm))
	}
}

// WriteSample encodes one frame of mono 16-bit PCM (from the analysis
// pipeline's TTS-free path this stays unused today; kept for forward
// parity with the teacher's paced output writer) and writes it to the
// local track.
func (s *Session) WriteSample(pcm []int16) error {
	s.mu.Lock()
	enc := s.opusEnc
	track := s.localTrack
	s.mu.Unlock()
	if enc == nil || track == nil {
		return nil
	}
	encoded, err := enc.Encode(pcm)
	if err != nil {
		return fmt.Errorf("opus encode: %w", err)
	}
	return track.WriteSample(media.Sample{Data: encoded, Duration: 20 * time.Millisecond})
}

func ptrUint16(v uint16) *uint16 { return &v }

func int16PCMToBytes(s []int16) []byte {
	out := make([]byte, len(s)*2)
	for i, v := range s {
		out[2*i] = byte(uint16(v))
		out[2*i+1] = byte(uint16(v) >> 8)
	}
	return out
}
