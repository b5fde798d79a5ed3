package domain

import "encoding/json"

// Event names carried over the signaling channel. The set matches the
// consultation service's socket contract exactly.
const (
	EventWebRTCJoin         = "webrtc:join"
	EventWebRTCLeave        = "webrtc:leave"
	EventWebRTCOffer        = "webrtc:offer"
	EventWebRTCAnswer       = "webrtc:answer"
	EventWebRTCICECandidate = "webrtc:ice-candidate"
	EventWebRTCPeerJoined   = "webrtc:peer-joined"
	EventWebRTCPeerLeft     = "webrtc:peer-left"
	EventWebRTCRoomJoined   = "webrtc:room-joined"

	EventConsultationReady            = "consultation:ready"
	EventConsultationFrame            = "consultation:frame"
	EventConsultationVoice            = "consultation:voice"
	EventConsultationGesture          = "consultation:gesture"
	EventConsultationEnd              = "consultation:end"
	EventConsultationRequestGuidance  = "consultation:request-guidance"
	EventConsultationAnalysisProgress = "consultation:analysis-progress"
	EventConsultationAnalysisComplete = "consultation:analysis-complete"

	EventAIGuidance  = "ai:guidance"
	EventAIDetection = "ai:detection"
	EventAIResponse  = "ai:response"
)

// Envelope is the wire format of every signaling message: a named event plus
// an opaque structured payload.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// SessionDescriptionPayload carries an SDP offer or answer.
type SessionDescriptionPayload struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// ICECandidatePayload carries a discovered network path descriptor.
type ICECandidatePayload struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex"`
}

// JoinPayload announces room membership.
type JoinPayload struct {
	RoomID    string `json:"roomId"`
	SessionID string `json:"sessionId"`
}

// LeavePayload announces room departure.
type LeavePayload struct {
	RoomID string `json:"roomId"`
}

// OfferPayload carries an SDP offer scoped to a room.
type OfferPayload struct {
	RoomID string                    `json:"roomId"`
	Offer  SessionDescriptionPayload `json:"offer"`
	PeerID string                    `json:"peerId,omitempty"`
}

// AnswerPayload carries an SDP answer scoped to a room.
type AnswerPayload struct {
	RoomID string                    `json:"roomId"`
	PeerID string                    `json:"peerId"`
	Answer SessionDescriptionPayload `json:"answer"`
}

// CandidatePayload carries an ICE candidate scoped to a room.
type CandidatePayload struct {
	RoomID    string              `json:"roomId"`
	Candidate ICECandidatePayload `json:"candidate"`
	PeerID    string              `json:"peerId,omitempty"`
}

// RoomJoinedPayload confirms a join and lists peers already in the room.
type RoomJoinedPayload struct {
	RoomID        string   `json:"roomId"`
	ExistingPeers []string `json:"existingPeers"`
}

// PeerPayload identifies a peer that joined or left the room.
type PeerPayload struct {
	PeerID string `json:"peerId"`
}

// ReadyPayload announces that the consultation media path is established.
type ReadyPayload struct {
	SessionID string `json:"sessionId"`
	RoomID    string `json:"roomId"`
}

// FramePayload carries a captured image frame.
type FramePayload struct {
	SessionID   string `json:"sessionId"`
	ImageData   string `json:"imageData"`
	CaptureType string `json:"captureType"`
	Timestamp   int64  `json:"timestamp"`
}

// VoicePayload carries a captured voice clip.
type VoicePayload struct {
	SessionID string `json:"sessionId"`
	AudioData string `json:"audioData"`
	Duration  int64  `json:"duration"`
	Timestamp int64  `json:"timestamp"`
}

// GesturePayload carries a detected gesture event.
type GesturePayload struct {
	SessionID   string  `json:"sessionId"`
	GestureType string  `json:"gestureType"`
	Confidence  float64 `json:"confidence"`
	Timestamp   int64   `json:"timestamp"`
}

// EndPayload announces the cooperative end of a consultation.
type EndPayload struct {
	SessionID string `json:"sessionId"`
}

// RequestGuidancePayload asks the AI service for guidance of a given type.
type RequestGuidancePayload struct {
	SessionID string `json:"sessionId"`
	Type      string `json:"type"`
}
