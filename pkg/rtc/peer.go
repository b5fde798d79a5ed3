package rtc

import (
	"errors"
	"io"

	"github.com/medlink-labs/consultkit/internal/logging"
	"github.com/medlink-labs/consultkit/pkg/domain"
	"github.com/pion/webrtc/v4"
)

// mediaPeer is the orchestrator's view of one peer connection. The pion
// implementation is the only production one; tests substitute a fake.
type mediaPeer interface {
	CreateOffer() (domain.SessionDescriptionPayload, error)
	CreateAnswer() (domain.SessionDescriptionPayload, error)
	SetRemoteDescription(desc domain.SessionDescriptionPayload) error
	AddICECandidate(candidate domain.ICECandidatePayload) error
	HasRemoteDescription() bool
	Close() error
}

// peerCallbacks are invoked from the media engine's own execution context.
// The orchestrator marshals them onto its event loop before touching state.
type peerCallbacks struct {
	onLocalCandidate func(domain.ICECandidatePayload)
	onICEStateChange func(webrtc.ICEConnectionState)
}

// peerFactory builds a mediaPeer for a room join.
type peerFactory func(iceServers []domain.ICEServer, tracks []*LocalTrack, remoteSink Sink, callbacks peerCallbacks, logger *logging.Logger) (mediaPeer, error)

// pionPeer wraps a pion peer connection configured for trickle ICE.
type pionPeer struct {
	pc     *webrtc.PeerConnection
	logger *logging.Logger
}

// newPionPeer creates the peer connection, attaches the local tracks, and
// registers the negotiation callbacks.
func newPionPeer(api *webrtc.API, iceServers []domain.ICEServer, tracks []*LocalTrack, remoteSink Sink, callbacks peerCallbacks, logger *logging.Logger) (mediaPeer, error) {
	config := webrtc.Configuration{
		ICEServers: toPionICEServers(iceServers),
	}

	pc, err := api.NewPeerConnection(config)
	if err != nil {
		return nil, err
	}

	p := &pionPeer{pc: pc, logger: logger}

	for _, track := range tracks {
		if _, err := pc.AddTrack(track.Local()); err != nil {
			pc.Close()
			return nil, err
		}
	}

	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			return
		}
		init := candidate.ToJSON()
		callbacks.onLocalCandidate(domain.ICECandidatePayload{
			Candidate:     init.Candidate,
			SDPMid:        init.SDPMid,
			SDPMLineIndex: init.SDPMLineIndex,
		})
	})

	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		logger.Debug("ICE connection state changed", "state", state.String())
		callbacks.onICEStateChange(state)
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		logger.Info("remote track received",
			"track_id", track.ID(),
			"kind", track.Kind().String(),
			"codec", track.Codec().MimeType,
		)
		if remoteSink != nil {
			go pumpRemoteTrack(track, remoteSink, logger)
		}
	})

	return p, nil
}

// CreateOffer creates an SDP offer and sets it as the local description.
func (p *pionPeer) CreateOffer() (domain.SessionDescriptionPayload, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return domain.SessionDescriptionPayload{}, err
	}

	if err := p.pc.SetLocalDescription(offer); err != nil {
		return domain.SessionDescriptionPayload{}, err
	}

	p.logger.Debug("created offer")

	return domain.SessionDescriptionPayload{Type: "offer", SDP: offer.SDP}, nil
}

// CreateAnswer creates an SDP answer and sets it as the local description.
func (p *pionPeer) CreateAnswer() (domain.SessionDescriptionPayload, error) {
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return domain.SessionDescriptionPayload{}, err
	}

	if err := p.pc.SetLocalDescription(answer); err != nil {
		return domain.SessionDescriptionPayload{}, err
	}

	p.logger.Debug("created answer")

	return domain.SessionDescriptionPayload{Type: "answer", SDP: answer.SDP}, nil
}

// SetRemoteDescription sets the remote SDP.
func (p *pionPeer) SetRemoteDescription(desc domain.SessionDescriptionPayload) error {
	sdpType := webrtc.SDPTypeOffer
	if desc.Type == "answer" {
		sdpType = webrtc.SDPTypeAnswer
	}

	if err := p.pc.SetRemoteDescription(webrtc.SessionDescription{Type: sdpType, SDP: desc.SDP}); err != nil {
		return err
	}

	p.logger.Debug("set remote description", "type", desc.Type)

	return nil
}

// AddICECandidate applies an ICE candidate immediately. Buffering of early
// candidates is the orchestrator's responsibility.
func (p *pionPeer) AddICECandidate(candidate domain.ICECandidatePayload) error {
	return p.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:     candidate.Candidate,
		SDPMid:        candidate.SDPMid,
		SDPMLineIndex: candidate.SDPMLineIndex,
	})
}

// HasRemoteDescription reports whether a remote description has been applied.
func (p *pionPeer) HasRemoteDescription() bool {
	return p.pc.RemoteDescription() != nil
}

// Close closes the peer connection.
func (p *pionPeer) Close() error {
	return p.pc.Close()
}

// pumpRemoteTrack reads RTP payloads from a remote track and forwards them to
// the playback sink until the track ends.
func pumpRemoteTrack(track *webrtc.TrackRemote, sink Sink, logger *logging.Logger) {
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Debug("remote track read stopped", "error", err)
			}
			return
		}

		if err := sink.WritePayload(track.Kind().String(), pkt.Payload); err != nil {
			logger.Debug("remote sink write failed", "error", err)
			return
		}
	}
}

// toPionICEServers converts the session's ICE server descriptors verbatim
// into the peer connection configuration.
func toPionICEServers(servers []domain.ICEServer) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(servers))
	for _, s := range servers {
		server := webrtc.ICEServer{URLs: s.URLs}
		if s.Username != "" {
			server.Username = s.Username
			server.Credential = s.Credential
		}
		out = append(out, server)
	}
	return out
}
