package rtc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/medlink-labs/consultkit/internal/logging"
	"github.com/medlink-labs/consultkit/pkg/domain"
	"github.com/pion/webrtc/v4"
)

// State represents the peer connection orchestrator state.
type State int

const (
	StateIdle State = iota
	StateInitializing
	StateReady
	StateConnecting
	StateConnected
	StateDisconnected
	StateError
)

// String returns the state name
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// StateChange is one transition of the orchestrator state. Reason is set for
// StateError transitions.
type StateChange struct {
	State  State
	Reason string
}

// signalChannel is the orchestrator's only transport for negotiation messages.
type signalChannel interface {
	Send(event string, payload any)
	Subscribe(event string) (<-chan json.RawMessage, func())
}

// Options configures the orchestrator.
type Options struct {
	Logger     *logging.Logger
	Camera     CameraSource
	Microphone AudioSource
	VideoCodec webrtc.RTPCodecCapability
	AudioCodec webrtc.RTPCodecCapability
}

// DefaultOptions returns orchestrator options with VP8 video and Opus audio.
func DefaultOptions() Options {
	return Options{
		VideoCodec: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
		AudioCodec: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
	}
}

type eventKind int

const (
	cmdJoin eventKind = iota
	cmdLeave
	cmdRelease
	evRoomJoined
	evPeerJoined
	evRemoteOffer
	evRemoteAnswer
	evRemoteCandidate
	evLocalCandidate
	evICEState
)

// event is the tagged variant consumed by the orchestrator's single
// transition loop. Negotiation callbacks and subscription deliveries are
// posted here instead of mutating state from foreign goroutines.
type event struct {
	kind          eventKind
	roomID        string
	sessionID     string
	peerID        string
	iceServers    []domain.ICEServer
	desc          domain.SessionDescriptionPayload
	candidate     domain.ICECandidatePayload
	existingPeers []string
	iceState      webrtc.ICEConnectionState
	reply         chan error
}

// Orchestrator drives offer/answer/ICE negotiation against the local media
// engine, using the signaling channel as its only negotiation transport. It
// owns the peer connection, local tracks, and capture devices exclusively.
type Orchestrator struct {
	options Options
	logger  *logging.Logger
	channel signalChannel

	mu            sync.RWMutex
	state         State
	initialized   bool
	api           *webrtc.API
	videoTrack    *LocalTrack
	audioTrack    *LocalTrack
	localSink     Sink
	remoteSink    Sink
	roomID        string
	sessionID     string
	pendingCount  int
	mediaStop     context.CancelFunc
	loopStop      context.CancelFunc
	subCancels    []func()

	// newPeer builds the peer connection; replaced by tests.
	newPeer peerFactory

	events chan event
	states chan StateChange

	// peer and pending are owned by the run loop and never touched outside it.
	peer    mediaPeer
	pending []domain.ICECandidatePayload
}

// NewOrchestrator creates a peer connection orchestrator.
func NewOrchestrator(channel signalChannel, options Options) *Orchestrator {
	if options.Logger == nil {
		options.Logger = logging.New(logging.Config{Level: "info", Format: "text"})
	}
	if options.VideoCodec.MimeType == "" {
		options.VideoCodec = DefaultOptions().VideoCodec
	}
	if options.AudioCodec.MimeType == "" {
		options.AudioCodec = DefaultOptions().AudioCodec
	}

	o := &Orchestrator{
		options: options,
		logger:  options.Logger,
		channel: channel,
		state:   StateIdle,
		events:  make(chan event, 128),
		states:  make(chan StateChange, 16),
	}
	o.newPeer = func(iceServers []domain.ICEServer, tracks []*LocalTrack, remoteSink Sink, callbacks peerCallbacks, logger *logging.Logger) (mediaPeer, error) {
		return newPionPeer(o.api, iceServers, tracks, remoteSink, callbacks, logger)
	}

	return o
}

// Initialize prepares the local media engine exactly once. Calling it again
// while already initialized is a no-op.
func (o *Orchestrator) Initialize() error {
	o.mu.Lock()
	if o.initialized {
		o.mu.Unlock()
		o.logger.Debug("media engine already initialized")
		return nil
	}
	o.mu.Unlock()

	o.setState(StateInitializing, "")

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		o.setState(StateError, "failed to register codecs: "+err.Error())
		return err
	}

	loopCtx, loopStop := context.WithCancel(context.Background())

	o.mu.Lock()
	o.api = webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine))
	o.initialized = true
	o.loopStop = loopStop
	o.mu.Unlock()

	go o.run(loopCtx)
	o.subscribeSignaling(loopCtx)

	o.setState(StateReady, "")
	o.logger.Info("media engine initialized")

	return nil
}

// StartLocalMedia acquires the camera and microphone, producing the local
// tracks, and registers the preview and playback sinks. On failure the state
// transitions to Error and no tracks are left attached.
func (o *Orchestrator) StartLocalMedia(localSink, remoteSink Sink) error {
	o.mu.RLock()
	initialized := o.initialized
	o.mu.RUnlock()
	if !initialized {
		return domain.ErrNoMediaEngine
	}

	if o.options.Camera == nil || o.options.Microphone == nil {
		err := fmt.Errorf("no capture devices configured")
		o.setState(StateError, err.Error())
		return err
	}

	if err := o.options.Camera.Open(FacingFront); err != nil {
		o.setState(StateError, "failed to start camera: "+err.Error())
		return err
	}

	if err := o.options.Microphone.Open(); err != nil {
		o.options.Camera.Close()
		o.setState(StateError, "failed to start microphone: "+err.Error())
		return err
	}

	videoTrack, err := NewLocalTrack("video0", "stream0", o.options.VideoCodec)
	if err != nil {
		o.options.Camera.Close()
		o.options.Microphone.Close()
		o.setState(StateError, "failed to create video track: "+err.Error())
		return err
	}

	audioTrack, err := NewLocalTrack("audio0", "stream0", o.options.AudioCodec)
	if err != nil {
		o.options.Camera.Close()
		o.options.Microphone.Close()
		o.setState(StateError, "failed to create audio track: "+err.Error())
		return err
	}

	mediaCtx, mediaStop := context.WithCancel(context.Background())

	o.mu.Lock()
	o.videoTrack = videoTrack
	o.audioTrack = audioTrack
	o.localSink = localSink
	o.remoteSink = remoteSink
	o.mediaStop = mediaStop
	o.mu.Unlock()

	go pumpLocalTrack(mediaCtx, o.options.Camera, videoTrack, localSink, o.logger)
	go pumpLocalTrack(mediaCtx, o.options.Microphone, audioTrack, nil, o.logger)

	o.logger.Info("local media started")

	return nil
}

// JoinRoom transitions to Connecting, creates the peer connection configured
// with the session's ICE servers, attaches the local tracks, and announces
// room membership over the signaling channel.
func (o *Orchestrator) JoinRoom(roomID, sessionID string, iceServers []domain.ICEServer) error {
	o.mu.RLock()
	initialized := o.initialized
	o.mu.RUnlock()
	if !initialized {
		return domain.ErrNoMediaEngine
	}

	reply := make(chan error, 1)
	o.post(event{kind: cmdJoin, roomID: roomID, sessionID: sessionID, iceServers: iceServers, reply: reply})
	return <-reply
}

// LeaveRoom announces room departure, closes the peer connection, and sets
// the state to Disconnected.
func (o *Orchestrator) LeaveRoom() {
	o.mu.RLock()
	initialized := o.initialized
	o.mu.RUnlock()
	if !initialized {
		return
	}

	reply := make(chan error, 1)
	o.post(event{kind: cmdLeave, reply: reply})
	<-reply
}

// Release performs LeaveRoom plus full teardown of capture devices, tracks,
// and the media engine, returning the state to Idle. Safe to call repeatedly.
func (o *Orchestrator) Release() {
	o.mu.Lock()
	if !o.initialized {
		o.mu.Unlock()
		return
	}
	o.mu.Unlock()

	reply := make(chan error, 1)
	o.post(event{kind: cmdRelease, reply: reply})
	<-reply

	o.mu.Lock()
	for _, cancel := range o.subCancels {
		cancel()
	}
	o.subCancels = nil
	if o.loopStop != nil {
		o.loopStop()
		o.loopStop = nil
	}
	if o.mediaStop != nil {
		o.mediaStop()
		o.mediaStop = nil
	}
	videoTrack, audioTrack := o.videoTrack, o.audioTrack
	o.videoTrack = nil
	o.audioTrack = nil
	o.localSink = nil
	o.remoteSink = nil
	o.api = nil
	o.initialized = false
	o.mu.Unlock()

	if videoTrack != nil {
		videoTrack.Close()
	}
	if audioTrack != nil {
		audioTrack.Close()
	}
	if o.options.Camera != nil {
		o.options.Camera.Close()
	}
	if o.options.Microphone != nil {
		o.options.Microphone.Close()
	}

	o.setState(StateIdle, "")
	o.logger.Info("orchestrator released")
}

// ToggleVideo flips the local video track's enabled flag and returns the new
// state.
func (o *Orchestrator) ToggleVideo() bool {
	o.mu.RLock()
	track := o.videoTrack
	o.mu.RUnlock()
	if track == nil {
		return false
	}
	return track.Toggle()
}

// ToggleAudio flips the local audio track's enabled flag and returns the new
// state.
func (o *Orchestrator) ToggleAudio() bool {
	o.mu.RLock()
	track := o.audioTrack
	o.mu.RUnlock()
	if track == nil {
		return false
	}
	return track.Toggle()
}

// SwitchCamera swaps between front- and back-facing cameras without
// renegotiating.
func (o *Orchestrator) SwitchCamera() error {
	if o.options.Camera == nil {
		return domain.ErrNoLocalMedia
	}
	return o.options.Camera.Switch()
}

// State returns the current orchestrator state.
func (o *Orchestrator) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// States returns the connection-state stream.
func (o *Orchestrator) States() <-chan StateChange {
	return o.states
}

// PendingCandidateCount reports the number of buffered remote candidates.
func (o *Orchestrator) PendingCandidateCount() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.pendingCount
}

// post delivers an event to the run loop. Events posted after release are
// discarded.
func (o *Orchestrator) post(ev event) {
	select {
	case o.events <- ev:
	default:
		o.logger.Warn("event queue full, dropping event")
		if ev.reply != nil {
			ev.reply <- fmt.Errorf("orchestrator event queue full")
		}
	}
}

// run is the single consumer of the event queue. All negotiation state
// (peer connection, pending candidate buffer) is mutated here and only here.
func (o *Orchestrator) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-o.events:
			o.handle(ev)
		}
	}
}

// handle is the state-machine transition function.
func (o *Orchestrator) handle(ev event) {
	switch ev.kind {
	case cmdJoin:
		o.handleJoin(ev)

	case cmdLeave:
		o.teardownPeer(true)
		if ev.reply != nil {
			ev.reply <- nil
		}

	case cmdRelease:
		o.teardownPeer(true)
		if ev.reply != nil {
			ev.reply <- nil
		}

	case evRoomJoined:
		if o.peer == nil {
			return
		}
		o.logger.Info("joined room", "room_id", ev.roomID, "existing_peers", len(ev.existingPeers))
		if len(ev.existingPeers) > 0 {
			o.sendOffer()
		}

	case evPeerJoined:
		if o.peer == nil {
			return
		}
		o.logger.Info("peer joined", "peer_id", ev.peerID)
		o.sendOffer()

	case evRemoteOffer:
		o.handleRemoteOffer(ev)

	case evRemoteAnswer:
		o.handleRemoteAnswer(ev)

	case evRemoteCandidate:
		o.handleRemoteCandidate(ev)

	case evLocalCandidate:
		o.mu.RLock()
		roomID := o.roomID
		o.mu.RUnlock()
		if o.peer == nil || roomID == "" {
			return
		}
		o.channel.Send(domain.EventWebRTCICECandidate, domain.CandidatePayload{
			RoomID:    roomID,
			Candidate: ev.candidate,
		})

	case evICEState:
		o.handleICEState(ev.iceState)
	}
}

func (o *Orchestrator) handleJoin(ev event) {
	if o.peer != nil {
		o.teardownPeer(false)
	}

	o.mu.Lock()
	o.roomID = ev.roomID
	o.sessionID = ev.sessionID
	videoTrack, audioTrack := o.videoTrack, o.audioTrack
	remoteSink := o.remoteSink
	o.mu.Unlock()

	o.setState(StateConnecting, "")

	var tracks []*LocalTrack
	if videoTrack != nil {
		tracks = append(tracks, videoTrack)
	}
	if audioTrack != nil {
		tracks = append(tracks, audioTrack)
	}

	callbacks := peerCallbacks{
		onLocalCandidate: func(candidate domain.ICECandidatePayload) {
			o.post(event{kind: evLocalCandidate, candidate: candidate})
		},
		onICEStateChange: func(state webrtc.ICEConnectionState) {
			o.post(event{kind: evICEState, iceState: state})
		},
	}

	peer, err := o.newPeer(ev.iceServers, tracks, remoteSink, callbacks, o.logger)
	if err != nil {
		o.setState(StateError, "failed to create peer connection: "+err.Error())
		if ev.reply != nil {
			ev.reply <- err
		}
		return
	}

	o.peer = peer
	o.pending = nil
	o.syncPendingCount()

	o.channel.Send(domain.EventWebRTCJoin, domain.JoinPayload{
		RoomID:    ev.roomID,
		SessionID: ev.sessionID,
	})

	o.logger.Info("joining room", "room_id", ev.roomID, "session_id", ev.sessionID)

	if ev.reply != nil {
		ev.reply <- nil
	}
}

// sendOffer creates an offer, sets it locally, and sends it tagged with the
// room id. A failure here is terminal for the room join.
func (o *Orchestrator) sendOffer() {
	o.mu.RLock()
	roomID := o.roomID
	o.mu.RUnlock()

	desc, err := o.peer.CreateOffer()
	if err != nil {
		o.setState(StateError, "failed to create offer: "+err.Error())
		return
	}

	o.channel.Send(domain.EventWebRTCOffer, domain.OfferPayload{
		RoomID: roomID,
		Offer:  desc,
	})
}

func (o *Orchestrator) handleRemoteOffer(ev event) {
	if o.peer == nil {
		return
	}

	if err := o.peer.SetRemoteDescription(ev.desc); err != nil {
		o.setState(StateError, "failed to set remote offer: "+err.Error())
		return
	}

	o.drainPendingCandidates()

	answer, err := o.peer.CreateAnswer()
	if err != nil {
		o.setState(StateError, "failed to create answer: "+err.Error())
		return
	}

	o.mu.RLock()
	roomID := o.roomID
	o.mu.RUnlock()

	o.channel.Send(domain.EventWebRTCAnswer, domain.AnswerPayload{
		RoomID: roomID,
		PeerID: ev.peerID,
		Answer: answer,
	})
}

func (o *Orchestrator) handleRemoteAnswer(ev event) {
	if o.peer == nil {
		return
	}

	if err := o.peer.SetRemoteDescription(ev.desc); err != nil {
		o.setState(StateError, "failed to set remote answer: "+err.Error())
		return
	}

	o.drainPendingCandidates()
}

// handleRemoteCandidate applies the candidate immediately when a remote
// description exists, otherwise buffers it in receipt order.
func (o *Orchestrator) handleRemoteCandidate(ev event) {
	if o.peer == nil || !o.peer.HasRemoteDescription() {
		o.pending = append(o.pending, ev.candidate)
		o.syncPendingCount()
		o.logger.Debug("buffered remote ICE candidate", "pending", len(o.pending))
		return
	}

	if err := o.peer.AddICECandidate(ev.candidate); err != nil {
		o.logger.Warn("failed to add ICE candidate", "error", err)
	}
}

// drainPendingCandidates applies every buffered candidate in receipt order
// and clears the buffer.
func (o *Orchestrator) drainPendingCandidates() {
	for _, candidate := range o.pending {
		if err := o.peer.AddICECandidate(candidate); err != nil {
			o.logger.Warn("failed to add pending ICE candidate", "error", err)
		}
	}
	o.pending = nil
	o.syncPendingCount()
}

func (o *Orchestrator) handleICEState(state webrtc.ICEConnectionState) {
	switch state {
	case webrtc.ICEConnectionStateConnected, webrtc.ICEConnectionStateCompleted:
		o.setState(StateConnected, "")
	case webrtc.ICEConnectionStateDisconnected, webrtc.ICEConnectionStateFailed:
		o.setState(StateDisconnected, "")
	}
}

// teardownPeer closes the current peer connection and clears room state.
func (o *Orchestrator) teardownPeer(notify bool) {
	o.mu.RLock()
	roomID := o.roomID
	o.mu.RUnlock()

	if notify && roomID != "" {
		o.channel.Send(domain.EventWebRTCLeave, domain.LeavePayload{RoomID: roomID})
	}

	if o.peer != nil {
		o.peer.Close()
		o.peer = nil
	}
	o.pending = nil
	o.syncPendingCount()

	o.mu.Lock()
	o.roomID = ""
	o.sessionID = ""
	o.mu.Unlock()

	o.setState(StateDisconnected, "")
}

func (o *Orchestrator) syncPendingCount() {
	o.mu.Lock()
	o.pendingCount = len(o.pending)
	o.mu.Unlock()
}

// subscribeSignaling forwards negotiation events from the signaling channel
// onto the event queue. The forwarders are the marshaling boundary between
// the transport's goroutines and the run loop.
func (o *Orchestrator) subscribeSignaling(ctx context.Context) {
	forward := func(name string, convert func(json.RawMessage) (event, bool)) {
		ch, cancel := o.channel.Subscribe(name)
		o.mu.Lock()
		o.subCancels = append(o.subCancels, cancel)
		o.mu.Unlock()

		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case data, ok := <-ch:
					if !ok {
						return
					}
					if ev, ok := convert(data); ok {
						o.post(ev)
					}
				}
			}
		}()
	}

	forward(domain.EventWebRTCRoomJoined, func(data json.RawMessage) (event, bool) {
		var payload domain.RoomJoinedPayload
		if err := json.Unmarshal(data, &payload); err != nil {
			o.logger.Warn("malformed room-joined payload", "error", err)
			return event{}, false
		}
		return event{kind: evRoomJoined, roomID: payload.RoomID, existingPeers: payload.ExistingPeers}, true
	})

	forward(domain.EventWebRTCPeerJoined, func(data json.RawMessage) (event, bool) {
		var payload domain.PeerPayload
		if err := json.Unmarshal(data, &payload); err != nil {
			return event{}, false
		}
		return event{kind: evPeerJoined, peerID: payload.PeerID}, true
	})

	forward(domain.EventWebRTCOffer, func(data json.RawMessage) (event, bool) {
		var payload domain.OfferPayload
		if err := json.Unmarshal(data, &payload); err != nil {
			o.logger.Warn("malformed offer payload", "error", err)
			return event{}, false
		}
		return event{kind: evRemoteOffer, roomID: payload.RoomID, peerID: payload.PeerID, desc: payload.Offer}, true
	})

	forward(domain.EventWebRTCAnswer, func(data json.RawMessage) (event, bool) {
		var payload domain.AnswerPayload
		if err := json.Unmarshal(data, &payload); err != nil {
			o.logger.Warn("malformed answer payload", "error", err)
			return event{}, false
		}
		return event{kind: evRemoteAnswer, roomID: payload.RoomID, desc: payload.Answer}, true
	})

	forward(domain.EventWebRTCICECandidate, func(data json.RawMessage) (event, bool) {
		var payload domain.CandidatePayload
		if err := json.Unmarshal(data, &payload); err != nil {
			o.logger.Warn("malformed candidate payload", "error", err)
			return event{}, false
		}
		return event{kind: evRemoteCandidate, roomID: payload.RoomID, candidate: payload.Candidate}, true
	})
}

// setState updates the orchestrator state and publishes the transition.
func (o *Orchestrator) setState(state State, reason string) {
	o.mu.Lock()
	if o.state == state {
		o.mu.Unlock()
		return
	}
	o.state = state
	o.mu.Unlock()

	if reason != "" {
		o.logger.Warn("orchestrator state changed", "state", state.String(), "reason", reason)
	} else {
		o.logger.Debug("orchestrator state changed", "state", state.String())
	}

	select {
	case o.states <- StateChange{State: state, Reason: reason}:
	default:
	}
}
