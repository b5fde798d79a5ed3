package consultation

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/medlink-labs/consultkit/internal/logging"
	"github.com/medlink-labs/consultkit/pkg/domain"
	"github.com/medlink-labs/consultkit/pkg/errors"
	"github.com/medlink-labs/consultkit/pkg/rtc"
)

// Phase is the controller's view of the session lifecycle. It tracks the
// remote session status once a session exists, plus the local pre-session
// phases the service never sees.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseRequesting Phase = "requesting"
	PhasePending    Phase = "pending"
	PhaseActive     Phase = "active"
	PhaseAnalyzing  Phase = "analyzing"
	PhaseCompleted  Phase = "completed"
	PhaseFailed     Phase = "failed"
	PhaseCancelled  Phase = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseFailed || p == PhaseCancelled
}

func phaseOf(status domain.SessionStatus) Phase {
	switch status {
	case domain.SessionPending:
		return PhasePending
	case domain.SessionActive:
		return PhaseActive
	case domain.SessionAnalyzing:
		return PhaseAnalyzing
	case domain.SessionCompleted:
		return PhaseCompleted
	case domain.SessionFailed:
		return PhaseFailed
	case domain.SessionCancelled:
		return PhaseCancelled
	default:
		return PhaseIdle
	}
}

// sessionAPI is the slice of the consultation service the controller drives.
type sessionAPI interface {
	StartSession(ctx context.Context, req StartSessionRequest) (domain.Session, error)
	ActivateSession(ctx context.Context, sessionID string) (domain.Session, error)
	EndSession(ctx context.Context, sessionID string) (domain.Session, error)
	CancelSession(ctx context.Context, sessionID string) error
	GetAnalysisResult(ctx context.Context, sessionID string) (domain.AnalysisResult, error)
}

// sessionChannel is the signaling surface the controller needs.
type sessionChannel interface {
	Connect(ctx context.Context, endpoint, token string) error
	Disconnect() error
	Send(event string, payload any)
	Subscribe(event string) (<-chan json.RawMessage, func())
}

// peerOrchestrator is the negotiation surface the controller sequences.
type peerOrchestrator interface {
	Initialize() error
	StartLocalMedia(localPreview, remote rtc.Sink) error
	JoinRoom(roomID, sessionID string, iceServers []domain.ICEServer) error
	LeaveRoom()
	Release()
	States() <-chan rtc.StateChange
}

// ControllerOptions represents session controller options
type ControllerOptions struct {
	Logger *logging.Logger
}

// Controller sequences a consultation session end to end: it requests the
// session from the service, brings up signaling and peer negotiation, keeps
// its phase in lockstep with the remote status, and tears everything down on
// end or cancel. The service is authoritative for session status; the
// controller never invents a transition the service did not confirm.
type Controller struct {
	api     sessionAPI
	channel sessionChannel
	orch    peerOrchestrator
	tokens  TokenProvider
	logger  *logging.Logger

	mu      sync.Mutex
	phase   Phase
	session *domain.Session
	ended   bool

	phases chan PhaseChange

	watchOnce sync.Once
	cancels   []func()
}

// PhaseChange is published whenever the lifecycle phase moves.
type PhaseChange struct {
	Phase  Phase
	Reason string
}

// NewController creates a session lifecycle controller.
func NewController(api sessionAPI, channel sessionChannel, orch peerOrchestrator, tokens TokenProvider, options ControllerOptions) *Controller {
	logger := options.Logger
	if logger == nil {
		logger = logging.New(logging.Config{Level: "info", Format: "text"})
	}

	return &Controller{
		api:     api,
		channel: channel,
		orch:    orch,
		tokens:  tokens,
		logger:  logger,
		phase:   PhaseIdle,
		phases:  make(chan PhaseChange, 16),
	}
}

// Phases returns the stream of lifecycle phase changes.
func (c *Controller) Phases() <-chan PhaseChange {
	return c.phases
}

// Phase returns the current lifecycle phase.
func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Session returns a copy of the current session, if one exists.
func (c *Controller) Session() (domain.Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return domain.Session{}, false
	}
	return *c.session, true
}

// ActiveSession returns the session while it is in a capturable phase. It
// satisfies the capture dispatcher's session provider.
func (c *Controller) ActiveSession() (domain.Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return domain.Session{}, false
	}
	if c.phase != PhaseActive && c.phase != PhaseAnalyzing {
		return domain.Session{}, false
	}
	return *c.session, true
}

// StartSession requests a new session from the service, connects the
// signaling channel to the returned endpoint and prepares the peer
// orchestrator. On return the session is pending; media starts with
// ConnectMedia and activation follows the first successful ICE connection.
func (c *Controller) StartSession(ctx context.Context, consultationType domain.ConsultationType, deviceInfo string) (domain.Session, error) {
	c.mu.Lock()
	if c.phase != PhaseIdle && !c.phase.Terminal() {
		c.mu.Unlock()
		return domain.Session{}, errors.New(errors.ErrorTypeValidation, "SESSION_EXISTS", "a session is already in progress")
	}
	c.session = nil
	c.setPhaseLocked(PhaseRequesting, "session requested")
	c.mu.Unlock()

	session, err := c.api.StartSession(ctx, StartSessionRequest{
		ConsultationType: consultationType,
		DeviceInfo:       deviceInfo,
	})
	if err != nil {
		c.mu.Lock()
		c.setPhaseLocked(PhaseIdle, "session request failed")
		c.mu.Unlock()
		return domain.Session{}, err
	}

	c.mu.Lock()
	c.session = &session
	c.ended = false
	c.setPhaseLocked(phaseOf(session.Status), "session created")
	c.mu.Unlock()

	token, err := c.tokens.Token(ctx)
	if err != nil {
		c.fail("token unavailable")
		return domain.Session{}, err
	}

	if err := c.channel.Connect(ctx, session.WebsocketURL, token); err != nil {
		c.fail("signaling connect failed")
		return domain.Session{}, err
	}

	if err := c.orch.Initialize(); err != nil {
		c.fail("media engine init failed")
		return domain.Session{}, err
	}

	c.watchOnce.Do(func() {
		go c.watchNegotiation(ctx)
	})
	c.subscribeAnalysis()

	return session, nil
}

// ConnectMedia opens local capture, joins the session's signaling room and
// starts negotiation. Call after StartSession.
func (c *Controller) ConnectMedia(localPreview, remote rtc.Sink) error {
	c.mu.Lock()
	if c.session == nil {
		c.mu.Unlock()
		return domain.ErrNoActiveSession
	}
	session := *c.session
	c.mu.Unlock()

	if err := c.orch.StartLocalMedia(localPreview, remote); err != nil {
		return err
	}

	return c.orch.JoinRoom(session.SignalingRoomID, session.ID, session.ICEServers)
}

// Activate confirms the session with the service. It is a no-op unless the
// session is pending; the controller calls it itself when ICE first connects,
// so callers rarely need to.
func (c *Controller) Activate(ctx context.Context) error {
	c.mu.Lock()
	if c.session == nil {
		c.mu.Unlock()
		return domain.ErrNoActiveSession
	}
	if c.phase != PhasePending {
		c.mu.Unlock()
		return nil
	}
	id := c.session.ID
	c.mu.Unlock()

	session, err := c.api.ActivateSession(ctx, id)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.session = &session
	c.setPhaseLocked(phaseOf(session.Status), "session activated")
	c.mu.Unlock()

	return nil
}

// EndSession ends the session cooperatively: it announces the end over
// signaling, asks the service to finalize, and tears local media down
// whether or not the service call succeeded. Local resources are never
// held hostage to a remote failure.
func (c *Controller) EndSession(ctx context.Context) error {
	c.mu.Lock()
	if c.session == nil {
		c.mu.Unlock()
		return domain.ErrNoActiveSession
	}
	id := c.session.ID
	c.ended = true
	c.mu.Unlock()

	c.channel.Send(domain.EventConsultationEnd, domain.EndPayload{SessionID: id})

	session, err := c.api.EndSession(ctx, id)

	c.teardown()

	c.mu.Lock()
	if err != nil {
		c.logger.Error("end session request failed", "session_id", id, "error", err)
		c.setPhaseLocked(PhaseCompleted, "session ended locally")
	} else {
		c.session = &session
		c.setPhaseLocked(phaseOf(session.Status), "session ended")
	}
	c.mu.Unlock()

	return err
}

// Cancel aborts a pending or active session. Cancelling from any other
// phase is an invalid transition.
func (c *Controller) Cancel(ctx context.Context) error {
	c.mu.Lock()
	if c.session == nil {
		c.mu.Unlock()
		return domain.ErrNoActiveSession
	}
	if c.phase != PhasePending && c.phase != PhaseActive {
		c.mu.Unlock()
		return domain.ErrInvalidTransition
	}
	id := c.session.ID
	c.ended = true
	c.mu.Unlock()

	err := c.api.CancelSession(ctx, id)

	c.teardown()

	c.mu.Lock()
	c.setPhaseLocked(PhaseCancelled, "session cancelled")
	c.mu.Unlock()

	return err
}

// RequestGuidance asks the AI for guidance of the given kind.
func (c *Controller) RequestGuidance(kind string) error {
	c.mu.Lock()
	if c.session == nil || c.phase.Terminal() {
		c.mu.Unlock()
		return domain.ErrNoActiveSession
	}
	id := c.session.ID
	c.mu.Unlock()

	c.channel.Send(domain.EventConsultationRequestGuidance, domain.RequestGuidancePayload{
		SessionID: id,
		Type:      kind,
	})
	return nil
}

// AnalysisResult fetches the session's AI analysis result.
func (c *Controller) AnalysisResult(ctx context.Context) (domain.AnalysisResult, error) {
	c.mu.Lock()
	if c.session == nil {
		c.mu.Unlock()
		return domain.AnalysisResult{}, domain.ErrNoActiveSession
	}
	id := c.session.ID
	c.mu.Unlock()

	return c.api.GetAnalysisResult(ctx, id)
}

// watchNegotiation reacts to peer connection state: the first successful
// connection activates the session and greets the AI side; a hard
// negotiation failure fails the session.
func (c *Controller) watchNegotiation(ctx context.Context) {
	for change := range c.orch.States() {
		switch change.State {
		case rtc.StateConnected:
			c.mu.Lock()
			ended := c.ended
			pending := c.phase == PhasePending
			var id, room string
			if c.session != nil {
				id = c.session.ID
				room = c.session.SignalingRoomID
			}
			c.mu.Unlock()

			if ended || id == "" {
				continue
			}
			if pending {
				if err := c.Activate(ctx); err != nil {
					c.logger.Error("session activation failed", "session_id", id, "error", err)
					continue
				}
			}
			c.channel.Send(domain.EventConsultationReady, domain.ReadyPayload{SessionID: id, RoomID: room})

		case rtc.StateError:
			c.mu.Lock()
			ended := c.ended
			c.mu.Unlock()
			if !ended {
				c.fail(change.Reason)
			}
		}
	}
}

// subscribeAnalysis tracks the service-driven tail of the lifecycle. Called
// once per session; stale subscriptions from a previous session are cancelled
// first.
func (c *Controller) subscribeAnalysis() {
	for _, cancel := range c.cancels {
		cancel()
	}
	c.cancels = nil

	progress, cancelProgress := c.channel.Subscribe(domain.EventConsultationAnalysisProgress)
	complete, cancelComplete := c.channel.Subscribe(domain.EventConsultationAnalysisComplete)
	c.cancels = append(c.cancels, cancelProgress, cancelComplete)

	go func() {
		for range progress {
			c.mu.Lock()
			if !c.ended && c.phase == PhaseActive {
				if c.session != nil {
					c.session.Status = domain.SessionAnalyzing
				}
				c.setPhaseLocked(PhaseAnalyzing, "analysis started")
			}
			c.mu.Unlock()
		}
	}()

	go func() {
		for range complete {
			c.mu.Lock()
			if !c.ended && (c.phase == PhaseActive || c.phase == PhaseAnalyzing) {
				if c.session != nil {
					c.session.Status = domain.SessionCompleted
				}
				c.setPhaseLocked(PhaseCompleted, "analysis complete")
			}
			c.mu.Unlock()
		}
	}()
}

// fail moves the session to failed and releases local resources.
func (c *Controller) fail(reason string) {
	c.mu.Lock()
	if c.phase.Terminal() {
		c.mu.Unlock()
		return
	}
	c.ended = true
	if c.session != nil {
		c.session.Status = domain.SessionFailed
	}
	c.setPhaseLocked(PhaseFailed, reason)
	c.mu.Unlock()

	c.teardown()
}

// teardown releases negotiation and signaling resources.
func (c *Controller) teardown() {
	c.orch.LeaveRoom()
	c.orch.Release()

	if err := c.channel.Disconnect(); err != nil {
		c.logger.Debug("signaling disconnect", "error", err)
	}
}

// setPhaseLocked records and publishes a phase change. Caller holds mu.
func (c *Controller) setPhaseLocked(phase Phase, reason string) {
	if c.phase == phase {
		return
	}
	c.phase = phase
	c.logger.Info("session phase changed", "phase", string(phase), "reason", reason)

	select {
	case c.phases <- PhaseChange{Phase: phase, Reason: reason}:
	default:
	}
}
