// Package wire defines the JSON signalling envelope and every inbound
// and outbound payload shape from spec.md §6. It has no behaviour —
// just types — so every other package (signal, room, peer, agent) can
// depend on it without creating import cycles. Grounded on the
// teacher's WSRequest/WSResponse envelope
// (internal/agent/executor/llm/internal/websocket/websocket_executor.go)
// adapted from a typed WSMessageType enum to the spec's open `type` string.
package wire

import "encoding/json"

// Envelope is the single message shape that flows in both directions
// over the duplex channel: `{ "type": ..., "data": ..., "node"?: ...,
// "turn_id"?: ... }`.
type Envelope struct {
	Type   string          `json:"type"`
	Data   json.RawMessage `json:"data"`
	Node   string          `json:"node,omitempty"`
	TurnID string          `json:"turn_id,omitempty"`
}

// Inbound message types (client -> server).
const (
	TypeJoinRoom    = "join_room"
	TypeOffer       = "offer"
	TypeICE         = "ice_candidate"
	TypeLeaveRoom   = "leave_room"
	TypeAgentTask   = "agent_task"
	TypeEndSession  = "end_session"
)

// Outbound message types (server -> client).
const (
	TypePeerID             = "peer_id"
	TypeRoomJoined          = "room_joined"
	TypeUserJoined          = "user_joined"
	TypeUserLeft            = "user_left"
	TypeAnswer              = "answer"
	TypeRenegotiationNeeded = "renegotiation_needed"
	TypeTranscript          = "transcript"
	TypeAgentReady          = "agent_ready"
	TypeAgentUpdate         = "agent_update"
	TypeAgentStatus         = "agent_status"
	TypeAgentConsultation   = "agent_consultation"
	TypeSessionEnded        = "session_ended"
	TypeError               = "error"
)

// ---- Inbound payloads ----

// JoinRoomData is data for `join_room`.
type JoinRoomData struct {
	RoomName     string `json:"room_name" validate:"required"`
	Nickname     string `json:"nickname" validate:"required"`
	PhoneNumber  string `json:"phone_number,omitempty"`
	AgentCode    string `json:"agent_code,omitempty"`
}

// SDPData is data for `offer`/`answer`.
type SDPData struct {
	SDP  string `json:"sdp" validate:"required"`
	Type string `json:"type" validate:"required,oneof=offer answer"`
}

// ICECandidateData is data for `ice_candidate`. One level of nesting
// ({"candidate":{"candidate":...}}) is tolerated per §6; Candidate is
// unwrapped into this flat shape before reaching PeerSession.
type ICECandidateData struct {
	Candidate        string `json:"candidate" validate:"required"`
	SDPMid            string `json:"sdpMid,omitempty"`
	SDPMLineIndex     int    `json:"sdpMLineIndex"`
}

// ICECandidateWrapper models the tolerated nested shape:
// {"candidate": {"candidate": "...", "sdpMid": "...", "sdpMLineIndex": 0}}
type ICECandidateWrapper struct {
	Candidate *ICECandidateData `json:"candidate,omitempty"`
}

// AgentTaskData is data for `agent_task`.
type AgentTaskData struct {
	Task        string                 `json:"task" validate:"required"`
	RoomName    string                 `json:"room_name" validate:"required"`
	UserOptions map[string]interface{} `json:"user_options,omitempty"`
}

// ---- Outbound payloads ----

// PeerIDData is data for `peer_id`.
type PeerIDData struct {
	PeerID string `json:"peer_id"`
}

// PeerSummary is a compact description of a room member used in
// room_joined/user_joined payloads.
type PeerSummary struct {
	PeerID   string `json:"peer_id"`
	Nickname string `json:"nickname"`
	Role     string `json:"role"`
}

// RoomJoinedData is data for `room_joined`.
type RoomJoinedData struct {
	RoomName            string                 `json:"room_name"`
	PeerCount           int                    `json:"peer_count"`
	OtherPeers          []PeerSummary          `json:"other_peers"`
	CustomerInfo        map[string]interface{} `json:"customer_info,omitempty"`
	ConsultationHistory []map[string]interface{} `json:"consultation_history,omitempty"`
}

// UserJoinedData is data for `user_joined`/`user_left`.
type UserJoinedData struct {
	PeerID              string                 `json:"peer_id"`
	Nickname            string                 `json:"nickname"`
	PeerCount           int                    `json:"peer_count"`
	CustomerInfo        map[string]interface{} `json:"customer_info,omitempty"`
	ConsultationHistory []map[string]interface{} `json:"consultation_history,omitempty"`
}

// RenegotiationNeededData is data for `renegotiation_needed`.
type RenegotiationNeededData struct {
	Reason string `json:"reason"`
}

// TranscriptData is data for `transcript`.
type TranscriptData struct {
	PeerID     string  `json:"peer_id"`
	Nickname   string  `json:"nickname"`
	Text       string  `json:"text"`
	Timestamp  int64   `json:"timestamp"`
	IsFinal    bool    `json:"is_final"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source"`
}

// AgentUpdateData is data for `agent_update`: one AnalysisResult, sent
// as soon as its node completes (§4.6 output fan-out). The envelope's
// own Node/TurnID fields carry node_key/turn_id; Payload is the node's
// opaque result shape (see agent/nodes for concrete payloads).
type AgentUpdateData struct {
	Payload json.RawMessage `json:"payload"`
}

// AgentReadyData is data for `agent_ready`.
type AgentReadyData struct {
	LLMAvailable bool `json:"llm_available"`
}

// AgentStatusData is data for `agent_status`.
type AgentStatusData struct {
	Task    string `json:"task"`
	Status  string `json:"status"` // processing | done | error
	Message string `json:"message,omitempty"`
}

// AgentConsultationData is data for `agent_consultation`.
type AgentConsultationData struct {
	Guide           []string                 `json:"guide"`
	Recommendations []map[string]interface{} `json:"recommendations"`
	Citations       []string                 `json:"citations"`
	GeneratedAt     int64                    `json:"generated_at"`
}

// SessionEndedData is data for `session_ended`.
type SessionEndedData struct {
	Success   bool   `json:"success"`
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message,omitempty"`
}

// ErrorData is data for `error`.
type ErrorData struct {
	Message string `json:"message"`
}
