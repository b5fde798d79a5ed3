package devserver

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/medlink-labs/consultkit/pkg/domain"
)

// SessionStore keeps consultation sessions in memory. It is the authority
// for session status: every transition callers can request goes through a
// store method that validates it.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session
	analyses map[string]*domain.AnalysisResult
	started  map[string]time.Time

	websocketURL string
	iceServers   []domain.ICEServer
}

// NewSessionStore creates an in-memory session store. websocketURL is handed
// to clients as the signaling endpoint for every session.
func NewSessionStore(websocketURL string) *SessionStore {
	return &SessionStore{
		sessions:     make(map[string]*domain.Session),
		analyses:     make(map[string]*domain.AnalysisResult),
		started:      make(map[string]time.Time),
		websocketURL: websocketURL,
		iceServers: []domain.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		},
	}
}

// Create starts a new pending session for the user.
func (s *SessionStore) Create(userID string, consultationType domain.ConsultationType) (domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.sessions {
		if existing.UserID == userID && !existing.Status.Terminal() {
			return domain.Session{}, fmt.Errorf("user %s already has session %s in status %s", userID, existing.ID, existing.Status)
		}
	}

	if consultationType == "" {
		consultationType = domain.ConsultationGeneral
	}

	id := uuid.NewString()
	session := &domain.Session{
		ID:               id,
		UserID:           userID,
		ConsultationType: consultationType,
		Status:           domain.SessionPending,
		SignalingRoomID:  "consultation-" + id,
		WebsocketURL:     s.websocketURL,
		ICEServers:       s.iceServers,
		StartedAt:        time.Now().UTC().Format(time.RFC3339),
	}
	s.sessions[id] = session
	s.started[id] = time.Now()

	return *session, nil
}

// Activate moves a pending session to active.
func (s *SessionStore) Activate(id string) (domain.Session, error) {
	return s.transition(id, domain.SessionActive, domain.SessionPending)
}

// End finalizes a session. An active session goes through analyzing first;
// the store resolves analysis synchronously since there is no real AI here.
func (s *SessionStore) End(id string) (domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return domain.Session{}, fmt.Errorf("session %s not found", id)
	}
	if session.Status.Terminal() {
		return *session, nil
	}

	s.finishLocked(session)
	session.Status = domain.SessionCompleted

	s.analyses[id] = s.stubAnalysis(session)

	return *session, nil
}

// Cancel aborts a pending or active session.
func (s *SessionStore) Cancel(id string) (domain.Session, error) {
	return s.transition(id, domain.SessionCancelled, domain.SessionPending, domain.SessionActive)
}

// Get returns a session by id.
func (s *SessionStore) Get(id string) (domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return domain.Session{}, fmt.Errorf("session %s not found", id)
	}
	return *session, nil
}

// Active returns the user's non-terminal session, if any.
func (s *SessionStore) Active(userID string) (domain.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, session := range s.sessions {
		if session.UserID == userID && !session.Status.Terminal() {
			return *session, true
		}
	}
	return domain.Session{}, false
}

// RecordFrame counts a captured frame against the session.
func (s *SessionStore) RecordFrame(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if session, ok := s.sessions[id]; ok {
		session.TotalFramesCaptured++
	}
}

// Analysis returns the AI result for a completed session.
func (s *SessionStore) Analysis(id string) (domain.AnalysisResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, ok := s.analyses[id]
	if !ok {
		return domain.AnalysisResult{}, fmt.Errorf("no analysis for session %s", id)
	}
	return *result, nil
}

// History lists the user's sessions, newest first.
func (s *SessionStore) History(userID string, page, size int) ([]domain.SessionHistoryEntry, int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var entries []domain.SessionHistoryEntry
	for _, session := range s.sessions {
		if session.UserID != userID {
			continue
		}
		entry := domain.SessionHistoryEntry{
			ID:                  session.ID,
			ConsultationType:    session.ConsultationType,
			Status:              session.Status,
			StartedAt:           session.StartedAt,
			EndedAt:             session.EndedAt,
			DurationSeconds:     session.DurationSeconds,
			TotalFramesCaptured: session.TotalFramesCaptured,
			CreatedAt:           session.StartedAt,
		}
		if analysis, ok := s.analyses[session.ID]; ok {
			entry.AnalysisResultID = analysis.ID
		}
		entries = append(entries, entry)
	}

	// RFC 3339 strings sort chronologically.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].StartedAt > entries[j].StartedAt
	})

	total := len(entries)
	if size <= 0 {
		size = 20
	}
	if page < 0 {
		page = 0
	}
	start := page * size
	if start >= total {
		return nil, total
	}
	end := start + size
	if end > total {
		end = total
	}
	return entries[start:end], total
}

func (s *SessionStore) transition(id string, to domain.SessionStatus, from ...domain.SessionStatus) (domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return domain.Session{}, fmt.Errorf("session %s not found", id)
	}

	allowed := false
	for _, status := range from {
		if session.Status == status {
			allowed = true
			break
		}
	}
	if !allowed {
		return domain.Session{}, fmt.Errorf("cannot move session %s from %s to %s", id, session.Status, to)
	}

	session.Status = to
	if to.Terminal() {
		s.finishLocked(session)
		session.Status = to
	}

	return *session, nil
}

// finishLocked stamps the end time and duration. Caller holds mu.
func (s *SessionStore) finishLocked(session *domain.Session) {
	now := time.Now()
	session.EndedAt = now.UTC().Format(time.RFC3339)
	if startedAt, ok := s.started[session.ID]; ok {
		session.DurationSeconds = int(now.Sub(startedAt).Seconds())
	}
}

// stubAnalysis fabricates a plausible result so client flows that read the
// analysis have something to render.
func (s *SessionStore) stubAnalysis(session *domain.Session) *domain.AnalysisResult {
	result := &domain.AnalysisResult{
		ID:            uuid.NewString(),
		SessionID:     session.ID,
		AnalyzedAt:    time.Now().UTC().Format(time.RFC3339),
		RiskLevel:     "low",
		UrgencyLevel:  "routine",
		VisionSummary: "Development stub analysis. No clinical signal was evaluated.",
		Recommendations: []string{
			"This is a development environment result.",
		},
	}

	switch session.ConsultationType {
	case domain.ConsultationTongue, domain.ConsultationComprehensive:
		result.TongueDiagnosis = &domain.TongueDiagnosis{
			TongueColor: "pale red",
			Coating:     "thin white",
			Moisture:    "moist",
			Shape:       "normal",
		}
	}

	return result
}
