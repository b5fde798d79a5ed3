package domain

import "time"

// SessionStatus represents the remote-authoritative status of a consultation session.
type SessionStatus string

const (
	SessionPending   SessionStatus = "pending"
	SessionActive    SessionStatus = "active"
	SessionAnalyzing SessionStatus = "analyzing"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
	SessionCancelled SessionStatus = "cancelled"
)

// Terminal reports whether the status ends the session lifecycle.
func (s SessionStatus) Terminal() bool {
	switch s {
	case SessionCompleted, SessionFailed, SessionCancelled:
		return true
	}
	return false
}

// ConsultationType identifies the kind of consultation requested.
type ConsultationType string

const (
	ConsultationGeneral       ConsultationType = "general"
	ConsultationTongue        ConsultationType = "tongue"
	ConsultationFacial        ConsultationType = "facial"
	ConsultationComprehensive ConsultationType = "comprehensive"
)

// CaptureType tags a captured artifact with the trigger that produced it.
type CaptureType string

const (
	CapturePeriodic       CaptureType = "periodic"
	CaptureOnDemand       CaptureType = "on_demand"
	CaptureGestureTrigger CaptureType = "gesture_trigger"
	CaptureTongue         CaptureType = "tongue"
	CaptureFacial         CaptureType = "facial"
)

// ICEServer describes a STUN/TURN server supplied by the consultation service.
type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// Session is the authoritative consultation session value. It is created by
// the session controller from a successful start-session call and mutated only
// by lifecycle transitions confirmed by the remote service.
type Session struct {
	ID                  string           `json:"sessionId"`
	UserID              string           `json:"userId,omitempty"`
	ConsultationType    ConsultationType `json:"consultationType"`
	Status              SessionStatus    `json:"status"`
	SignalingRoomID     string           `json:"signalingRoomId"`
	WebsocketURL        string           `json:"websocketUrl"`
	ICEServers          []ICEServer      `json:"iceServers,omitempty"`
	StartedAt           string           `json:"startedAt,omitempty"`
	EndedAt             string           `json:"endedAt,omitempty"`
	DurationSeconds     int              `json:"durationSeconds,omitempty"`
	TotalFramesCaptured int              `json:"totalFramesCaptured,omitempty"`
}

// AnalysisResult is the AI analysis outcome fetched after a session completes.
type AnalysisResult struct {
	ID               string            `json:"id"`
	SessionID        string            `json:"sessionId"`
	AnalyzedAt       string            `json:"analyzedAt"`
	RiskLevel        string            `json:"riskLevel"`
	UrgencyLevel     string            `json:"urgencyLevel"`
	FollowUpRequired bool              `json:"followUpRequired"`
	VisionSummary    string            `json:"visionSummary,omitempty"`
	TongueDiagnosis  *TongueDiagnosis  `json:"tongueDiagnosis,omitempty"`
	VoiceSummary     string            `json:"voiceSummary,omitempty"`
	GestureSummary   string            `json:"gestureSummary,omitempty"`
	Diagnosis        *OrientalDiagnosis `json:"orientalDiagnosis,omitempty"`
	Recommendations  []string          `json:"recommendations,omitempty"`
}

// TongueDiagnosis is the tongue inspection component of an analysis result.
type TongueDiagnosis struct {
	TongueColor    string `json:"tongueColor"`
	Coating        string `json:"coating"`
	Moisture       string `json:"moisture"`
	Shape          string `json:"shape"`
	Interpretation string `json:"interpretation,omitempty"`
}

// OrientalDiagnosis is the constitutional assessment component of an analysis result.
type OrientalDiagnosis struct {
	Qi               string   `json:"qi"`
	Blood            string   `json:"blood"`
	Yin              string   `json:"yin"`
	Yang             string   `json:"yang"`
	ConstitutionType string   `json:"constitutionType,omitempty"`
	Recommendations  []string `json:"recommendations,omitempty"`
}

// SessionHistoryEntry is one row of the paged session history listing.
type SessionHistoryEntry struct {
	ID                  string           `json:"id"`
	ConsultationType    ConsultationType `json:"consultationType"`
	Status              SessionStatus    `json:"status"`
	StartedAt           string           `json:"startedAt,omitempty"`
	EndedAt             string           `json:"endedAt,omitempty"`
	DurationSeconds     int              `json:"durationSeconds,omitempty"`
	TotalFramesCaptured int              `json:"totalFramesCaptured,omitempty"`
	AnalysisResultID    string           `json:"analysisResultId,omitempty"`
	CreatedAt           string           `json:"createdAt"`
}

// CaptureArtifact is a transient encoded frame packaged by the capture
// dispatcher and consumed once by the signaling channel.
type CaptureArtifact struct {
	SessionID   string
	CaptureType CaptureType
	Payload     []byte
	CapturedAt  time.Time
}
