package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	pionwebrtc "github.com/pion/webrtc/v4"

	"github.com/baro-gochi/counselor-assist-core/internal/agent"
	"github.com/baro-gochi/counselor-assist-core/internal/audio"
	"github.com/baro-gochi/counselor-assist-core/internal/audio/resampler"
	"github.com/baro-gochi/counselor-assist-core/internal/commons"
	"github.com/baro-gochi/counselor-assist-core/internal/config"
	"github.com/baro-gochi/counselor-assist-core/internal/errs"
	"github.com/baro-gochi/counselor-assist-core/internal/peer"
	"github.com/baro-gochi/counselor-assist-core/internal/room"
	"github.com/baro-gochi/counselor-assist-core/internal/signal"
	"github.com/baro-gochi/counselor-assist-core/internal/stt"
	"github.com/baro-gochi/counselor-assist-core/internal/wire"
)

// session is one browser's whole server-side presence: its
// SignalClient, its PeerSession, the Room it joined, and the STT
// stream and audio fan-out subscriptions feeding off its PeerSession's
// RelayTrack. One session handles exactly one inbound envelope at a
// time (signal.Client.Run's single reader goroutine), so no locking is
// needed around the join/offer/leave sequence itself; the mutex here
// only protects fields audio/STT goroutines also touch.
type session struct {
	deps     Deps
	client   *signal.Client
	logger   commons.Logger
	roomName string

	mu          sync.Mutex
	peerID      room.PeerID
	peerSession *peer.Session
	rm          *room.Room
	sttStream   *stt.Stream
	// inboundSubs: this peer's subscriptions on OTHER members' RelayTracks,
	// feeding audio into this peer's outbound track.
	inboundSubs map[room.PeerID]fanoutSub
	// outboundSubs: subscriptions OTHER members hold on this peer's own
	// RelayTrack, feeding audio into their outbound tracks.
	outboundSubs map[room.PeerID]fanoutSub
	resampler    *resampler.Resampler
}

type fanoutSub struct {
	relay *audio.RelayTrack
	subID int
}

func wsHandler(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		roomName := c.Param("room")
		token := c.Query("auth_token")
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing auth_token"})
			return
		}
		if _, err := signal.Authenticate(token, deps.Cfg.AuthSigningKey); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid auth_token"})
			return
		}

		client, err := signal.Upgrade(c.Writer, c.Request, deps.Logger)
		if err != nil {
			deps.Logger.Warnw("websocket upgrade failed", "error", err)
			return
		}

		rs, err := resampler.New()
		if err != nil {
			deps.Logger.Errorw("resampler init failed", "error", err)
			_ = client.Close()
			return
		}

		s := &session{
			deps:       deps,
			client:     client,
			logger:     deps.Logger.With("room", roomName),
			roomName:   roomName,
			inboundSubs:  make(map[room.PeerID]fanoutSub),
			outboundSubs: make(map[room.PeerID]fanoutSub),
			resampler:  rs,
		}

		client.Run(c.Request.Context(), s.handle)
		s.teardown()
	}
}

func (s *session) handle(env wire.Envelope) {
	var err error
	switch env.Type {
	case wire.TypeJoinRoom:
		err = s.handleJoinRoom(env)
	case wire.TypeOffer:
		err = s.handleOffer(env)
	case wire.TypeICE:
		err = s.handleICE(env)
	case wire.TypeLeaveRoom:
		s.teardown()
		return
	case wire.TypeAgentTask:
		err = s.handleAgentTask(env)
	case wire.TypeEndSession:
		err = s.handleEndSession(env)
	default:
		s.client.SendError(fmt.Sprintf("unknown message type %q", env.Type))
		return
	}
	if err == nil {
		return
	}
	if e, ok := err.(*errs.Error); ok && e.Kind == errs.Auth {
		s.client.SendError(e.Error())
		_ = s.client.Close()
		return
	}
	s.client.SendError(err.Error())
}

func (s *session) handleJoinRoom(env wire.Envelope) error {
	var data wire.JoinRoomData
	if err := signal.DecodeData(env, &data); err != nil {
		return err
	}

	role := room.RoleCustomer
	if data.AgentCode != "" {
		role = room.RoleAgent
	}

	id := room.PeerID(uuid.New().String())
	ps := peer.New(id, s.logger, buildPeerConfig(s.deps.Cfg))
	ps.SetCallbacks(
		func(c pionwebrtc.ICECandidateInit) { s.sendICE(c) },
		func(reason string) { s.sendRenegotiationNeeded(reason) },
		func(rt *audio.RelayTrack) { s.onRemoteTrack(rt) },
	)

	rm, others, err := s.deps.Manager.Join(context.Background(), s.roomName, id, data.Nickname, role, data.PhoneNumber, ps, s.client)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.peerID = id
	s.peerSession = ps
	s.rm = rm
	s.mu.Unlock()

	if data.PhoneNumber != "" {
		if ra, ok := rm.Agent().(*agent.RoomAgent); ok {
			go ra.ResolveCustomerContext(context.Background(), string(id), data.Nickname, data.PhoneNumber)
		}
	}

	var customerInfo map[string]interface{}
	var consultationHistory []map[string]interface{}
	if ra, ok := rm.Agent().(*agent.RoomAgent); ok {
		if cc := ra.CustomerContext(); cc != nil {
			customerInfo = cc.InfoMap()
			consultationHistory = cc.ConsultationHistory
		}
	}

	if role == room.RoleCustomer && s.deps.Cfg.STTProviderURL != "" {
		s.startSTT(data.Nickname)
	}

	s.subscribeFanoutForExisting(others)

	peerIDPayload, _ := json.Marshal(wire.PeerIDData{PeerID: string(id)})
	_ = s.client.Send(wire.Envelope{Type: wire.TypePeerID, Data: peerIDPayload})

	otherPeers := make([]wire.PeerSummary, 0, len(others))
	for _, m := range others {
		otherPeers = append(otherPeers, wire.PeerSummary{PeerID: string(m.PeerID), Nickname: m.Nickname, Role: string(m.Role)})
	}
	joinedPayload, _ := json.Marshal(wire.RoomJoinedData{
		RoomName:            s.roomName,
		PeerCount:           rm.MemberCount(),
		OtherPeers:          otherPeers,
		CustomerInfo:        customerInfo,
		ConsultationHistory: consultationHistory,
	})
	_ = s.client.Send(wire.Envelope{Type: wire.TypeRoomJoined, Data: joinedPayload})

	userJoinedPayload, _ := json.Marshal(wire.UserJoinedData{
		PeerID:              string(id),
		Nickname:            data.Nickname,
		PeerCount:           rm.MemberCount(),
		CustomerInfo:        customerInfo,
		ConsultationHistory: consultationHistory,
	})
	rm.Broadcast(wire.Envelope{Type: wire.TypeUserJoined, Data: userJoinedPayload}, id)

	llmAvailable := s.deps.LLM != nil
	readyPayload, _ := json.Marshal(wire.AgentReadyData{LLMAvailable: llmAvailable})
	_ = s.client.Send(wire.Envelope{Type: wire.TypeAgentReady, Data: readyPayload})

	return nil
}

// subscribeFanoutForExisting wires audio from every already-joined
// member into this peer's outbound track. The reverse direction (this
// peer's audio reaching the others) is wired the moment this peer's
// own remote track arrives, in onRemoteTrack, since the others' fanout
// loops can only subscribe to a RelayTrack that exists.
func (s *session) subscribeFanoutForExisting(existing []room.Member) {
	s.mu.Lock()
	self := s.peerSession
	s.mu.Unlock()
	if self == nil {
		return
	}
	for _, m := range existing {
		other, ok := m.Sink.(*peer.Session)
		if !ok {
			continue
		}
		rt := other.Relay()
		if rt == nil {
			continue
		}
		ch, subID := rt.Subscribe()
		s.mu.Lock()
		s.inboundSubs[m.PeerID] = fanoutSub{relay: rt, subID: subID}
		s.mu.Unlock()
		go forwardFrames(ch, self)
	}
}

// onRemoteTrack is invoked once this peer's PeerConnection negotiates
// an inbound audio track. It fans the decoded PCM out to every other
// room member's outbound track and, for customer peers, taps a second
// subscription into the STT stream.
func (s *session) onRemoteTrack(rt *audio.RelayTrack) {
	s.mu.Lock()
	rm := s.rm
	selfID := s.peerID
	s.mu.Unlock()
	if rm == nil {
		return
	}

	for _, m := range rm.Members() {
		if m.PeerID == selfID {
			continue
		}
		other, ok := m.Sink.(*peer.Session)
		if !ok {
			continue
		}
		ch, subID := rt.Subscribe()
		s.mu.Lock()
		s.outboundSubs[m.PeerID] = fanoutSub{relay: rt, subID: subID}
		s.mu.Unlock()
		go forwardFrames(ch, other)
	}

	s.mu.Lock()
	hasSTT := s.sttStream != nil
	s.mu.Unlock()
	if hasSTT {
		ch, _ := rt.Subscribe()
		go s.forwardToSTT(ch)
	}
}

func forwardFrames(ch <-chan audio.Frame, dest *peer.Session) {
	for frame := range ch {
		if frame.Silence {
			continue
		}
		samples := make([]int16, len(frame.PCM)/2)
		for i := range samples {
			samples[i] = int16(uint16(frame.PCM[2*i]) | uint16(frame.PCM[2*i+1])<<8)
		}
		if err := dest.WriteSample(samples); err != nil {
			return
		}
	}
}

func (s *session) forwardToSTT(ch <-chan audio.Frame) {
	for frame := range ch {
		if frame.Silence {
			continue
		}
		s.mu.Lock()
		sttStream := s.sttStream
		s.mu.Unlock()
		if sttStream == nil {
			continue
		}
		// The provider session is opened for 48kHz linear16, the
		// relay's own frame format, so frames are submitted unconverted.
		if err := sttStream.Submit(frame.PCM); err != nil {
			s.logger.Debugw("stt submit failed", "error", err)
			return
		}
	}
}

func (s *session) startSTT(nickname string) {
	cfg := s.deps.Cfg
	st, err := stt.Start(cfg.STTProviderURL, cfg.STTProviderAPIKey, stt.PeerInfo{
		LanguageCode: cfg.STTLanguageCode,
	}, s.logger, func(text string, confidence float64, isFinal bool) {
		s.mu.Lock()
		rm := s.rm
		id := s.peerID
		s.mu.Unlock()
		if rm == nil {
			return
		}
		if !isFinal {
			return
		}
		rm.AppendTranscript(id, nickname, room.RoleCustomer, text, confidence, "stt")
		if s.deps.Persistence != nil {
			turn := rm.TranscriptLen() - 1
			go func() {
				_ = s.deps.Persistence.TranscriptAppend(context.Background(), rm.SessionID, turn, string(room.RoleCustomer), nickname, text, 0, confidence, true, "stt")
			}()
		}
	})
	if err != nil {
		s.logger.Warnw("stt stream start failed, continuing without transcription for this peer", "error", err)
		s.client.SendError("speech-to-text unavailable for this peer")
		return
	}
	s.mu.Lock()
	s.sttStream = st
	s.mu.Unlock()
}

func (s *session) handleOffer(env wire.Envelope) error {
	var data wire.SDPData
	if err := signal.DecodeData(env, &data); err != nil {
		return err
	}
	s.mu.Lock()
	ps := s.peerSession
	s.mu.Unlock()
	if ps == nil {
		return errs.New(errs.Resource, errs.CodeNotInRoom, "offer received before join_room")
	}
	answerSDP, err := ps.HandleOffer(data.SDP)
	if err != nil {
		return err
	}
	payload, _ := json.Marshal(wire.SDPData{SDP: answerSDP, Type: "answer"})
	return s.client.Send(wire.Envelope{Type: wire.TypeAnswer, Data: payload})
}

func (s *session) handleICE(env wire.Envelope) error {
	var wrapper wire.ICECandidateWrapper
	if err := json.Unmarshal(env.Data, &wrapper); err == nil && wrapper.Candidate != nil {
		return s.applyICE(*wrapper.Candidate)
	}
	var data wire.ICECandidateData
	if err := signal.DecodeData(env, &data); err != nil {
		return err
	}
	return s.applyICE(data)
}

func (s *session) applyICE(data wire.ICECandidateData) error {
	s.mu.Lock()
	ps := s.peerSession
	s.mu.Unlock()
	if ps == nil {
		return errs.New(errs.Resource, errs.CodeNotInRoom, "ice_candidate received before join_room")
	}
	return ps.HandleRemoteICE(data.Candidate, data.SDPMid, data.SDPMLineIndex)
}

func (s *session) handleAgentTask(env wire.Envelope) error {
	var data wire.AgentTaskData
	if err := signal.DecodeData(env, &data); err != nil {
		return err
	}
	s.mu.Lock()
	rm := s.rm
	s.mu.Unlock()
	if rm == nil {
		return errs.New(errs.Resource, errs.CodeNotInRoom, "agent_task received before join_room")
	}

	statusPayload, _ := json.Marshal(wire.AgentStatusData{Task: data.Task, Status: "processing"})
	_ = s.client.Send(wire.Envelope{Type: wire.TypeAgentStatus, Data: statusPayload})

	guide, err := rm.Agent().RunConsultationTask(context.Background(), data.UserOptions)
	if err != nil {
		donePayload, _ := json.Marshal(wire.AgentStatusData{Task: data.Task, Status: "error", Message: err.Error()})
		_ = s.client.Send(wire.Envelope{Type: wire.TypeAgentStatus, Data: donePayload})
		return nil
	}

	consultPayload, _ := json.Marshal(guide)
	_ = s.client.Send(wire.Envelope{Type: wire.TypeAgentConsultation, Data: consultPayload})
	donePayload, _ := json.Marshal(wire.AgentStatusData{Task: data.Task, Status: "done"})
	_ = s.client.Send(wire.Envelope{Type: wire.TypeAgentStatus, Data: donePayload})
	return nil
}

func (s *session) handleEndSession(_ wire.Envelope) error {
	s.mu.Lock()
	rm := s.rm
	s.mu.Unlock()
	if rm == nil {
		return errs.New(errs.Resource, errs.CodeNotInRoom, "end_session received before join_room")
	}

	summary, err := rm.Agent().Flush(context.Background())
	success := err == nil
	message := ""
	if err != nil {
		message = err.Error()
	}
	if s.deps.Persistence != nil && rm.SessionID != "" {
		if _, endErr := s.deps.Persistence.SessionEnd(context.Background(), rm.SessionID, summary, ""); endErr != nil {
			s.logger.Warnw("session end persistence failed", "error", endErr)
		}
	}

	payload, _ := json.Marshal(wire.SessionEndedData{Success: success, SessionID: rm.SessionID, Message: message})
	_ = s.client.Send(wire.Envelope{Type: wire.TypeSessionEnded, Data: payload})
	return nil
}

func (s *session) sendICE(c pionwebrtc.ICECandidateInit) {
	data, _ := json.Marshal(wire.ICECandidateData{
		Candidate:     c.Candidate,
		SDPMid:        derefString(c.SDPMid),
		SDPMLineIndex: int(derefUint16(c.SDPMLineIndex)),
	})
	_ = s.client.Send(wire.Envelope{Type: wire.TypeICE, Data: data})
}

func (s *session) sendRenegotiationNeeded(reason string) {
	data, _ := json.Marshal(wire.RenegotiationNeededData{Reason: reason})
	_ = s.client.Send(wire.Envelope{Type: wire.TypeRenegotiationNeeded, Data: data})
}

func (s *session) teardown() {
	s.mu.Lock()
	ps := s.peerSession
	rm := s.rm
	id := s.peerID
	sttStream := s.sttStream
	s.sttStream = nil
	inbound := s.inboundSubs
	outbound := s.outboundSubs
	s.inboundSubs = make(map[room.PeerID]fanoutSub)
	s.outboundSubs = make(map[room.PeerID]fanoutSub)
	s.mu.Unlock()

	for _, sub := range inbound {
		sub.relay.Unsubscribe(sub.subID)
	}
	for _, sub := range outbound {
		sub.relay.Unsubscribe(sub.subID)
	}

	if sttStream != nil {
		_ = sttStream.Close()
	}
	if ps != nil {
		_ = ps.Close("session ended")
	}
	if rm != nil && id != "" {
		s.deps.Manager.Leave(context.Background(), s.roomName, id)
	}
	_ = s.client.Close()
}

func buildPeerConfig(cfg *config.Config) peer.Config {
	servers := make([]pionwebrtc.ICEServer, 0, len(cfg.ICEServerURLs))
	for _, url := range cfg.ICEServerURLs {
		servers = append(servers, pionwebrtc.ICEServer{URLs: []string{url}})
	}
	policy := pionwebrtc.ICETransportPolicyRelay
	if cfg.ICETransportPolicy == "all" {
		policy = pionwebrtc.ICETransportPolicyAll
	}
	return peer.Config{ICEServers: servers, ICETransportPolicy: policy}
}

func derefString(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func derefUint16(p *uint16) uint16 {
	if p == nil {
		return 0
	}
	return *p
}
