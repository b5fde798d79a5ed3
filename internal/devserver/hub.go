package devserver

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/medlink-labs/consultkit/internal/logging"
	"github.com/medlink-labs/consultkit/pkg/domain"
)

// Hub tracks connected peers and their rooms and relays signaling events
// between them. All room mutations happen on the hub's run loop.
type Hub struct {
	register   chan *client
	unregister chan *client
	inbound    chan inboundMessage
	logger     *logging.Logger
	sessions   *SessionStore

	clients map[*client]struct{}
	rooms   map[string]map[*client]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type inboundMessage struct {
	from *client
	env  domain.Envelope
}

// NewHub creates a signaling hub. sessions may be nil; when set, the hub
// records frame counts and plays the AI side of the consultation so a lone
// client still sees greeting and analysis traffic.
func NewHub(logger *logging.Logger, sessions *SessionStore) *Hub {
	return &Hub{
		register:   make(chan *client, 64),
		unregister: make(chan *client, 64),
		inbound:    make(chan inboundMessage, 256),
		logger:     logger,
		sessions:   sessions,
		clients:    make(map[*client]struct{}),
		rooms:      make(map[string]map[*client]struct{}),
	}
}

// Start launches the hub loop.
func (h *Hub) Start(ctx context.Context) {
	h.ctx, h.cancel = context.WithCancel(ctx)
	h.wg.Add(1)
	go h.run()
	h.logger.Info("signaling hub started")
}

// Stop shuts the hub down and closes all client connections.
func (h *Hub) Stop() {
	h.cancel()
	h.wg.Wait()

	for c := range h.clients {
		c.close()
	}
	h.logger.Info("signaling hub stopped")
}

func (h *Hub) run() {
	defer h.wg.Done()

	for {
		select {
		case <-h.ctx.Done():
			return

		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.logger.Info("client connected", "client_id", c.id, "total_clients", len(h.clients))

		case c := <-h.unregister:
			h.handleLeave(c)
			delete(h.clients, c)
			c.close()
			h.logger.Info("client disconnected", "client_id", c.id, "total_clients", len(h.clients))

		case msg := <-h.inbound:
			h.route(msg.from, msg.env)
		}
	}
}

// route dispatches one envelope from a connected peer.
func (h *Hub) route(from *client, env domain.Envelope) {
	switch env.Event {
	case domain.EventWebRTCJoin:
		h.handleJoin(from, env.Data)

	case domain.EventWebRTCLeave:
		h.handleLeave(from)

	case domain.EventWebRTCOffer, domain.EventWebRTCAnswer, domain.EventWebRTCICECandidate:
		h.relay(from, env)

	default:
		// Consultation traffic goes to every other participant, which in
		// practice means the AI side of the room.
		h.relay(from, env)
		h.respondAI(from, env)
	}
}

// respondAI plays the AI side of the room so a single dev client exercises
// the full event surface.
func (h *Hub) respondAI(from *client, env domain.Envelope) {
	if h.sessions == nil {
		return
	}

	switch env.Event {
	case domain.EventConsultationReady:
		from.send(domain.EventAIGuidance, map[string]any{
			"guidance": domain.Guidance{
				Kind:           "greeting",
				Text:           "Hello, I will guide you through this consultation. Please face the camera.",
				TimeoutSeconds: 30,
			},
		})

	case domain.EventConsultationFrame:
		var frame domain.FramePayload
		if err := json.Unmarshal(env.Data, &frame); err == nil && frame.SessionID != "" {
			h.sessions.RecordFrame(frame.SessionID)
		}

	case domain.EventConsultationRequestGuidance:
		var req domain.RequestGuidancePayload
		kind := "instruction"
		if err := json.Unmarshal(env.Data, &req); err == nil && req.Type != "" {
			kind = req.Type
		}
		from.send(domain.EventAIGuidance, map[string]any{
			"guidance": domain.Guidance{
				Kind:           kind,
				Text:           "Please hold still for a moment.",
				TimeoutSeconds: 30,
			},
		})

	case domain.EventConsultationEnd:
		from.send(domain.EventConsultationAnalysisProgress, domain.AnalysisProgress{
			Step:       "aggregate",
			Percentage: 100,
			Message:    "analysis finished",
		})
		from.send(domain.EventConsultationAnalysisComplete, domain.AnalysisComplete{
			Summary: "stub analysis complete",
		})
	}
}

func (h *Hub) handleJoin(from *client, data json.RawMessage) {
	var join domain.JoinPayload
	if err := json.Unmarshal(data, &join); err != nil || join.RoomID == "" {
		h.logger.Warn("invalid join payload", "client_id", from.id, "error", err)
		return
	}

	if from.roomID != "" {
		h.handleLeave(from)
	}

	room := h.rooms[join.RoomID]
	if room == nil {
		room = make(map[*client]struct{})
		h.rooms[join.RoomID] = room
	}

	existing := make([]string, 0, len(room))
	for peer := range room {
		existing = append(existing, peer.id)
	}

	room[from] = struct{}{}
	from.roomID = join.RoomID

	from.send(domain.EventWebRTCRoomJoined, domain.RoomJoinedPayload{
		RoomID:        join.RoomID,
		ExistingPeers: existing,
	})

	for peer := range room {
		if peer == from {
			continue
		}
		peer.send(domain.EventWebRTCPeerJoined, domain.PeerPayload{PeerID: from.id})
	}

	h.logger.Info("client joined room",
		"client_id", from.id,
		"room_id", join.RoomID,
		"room_size", len(room),
	)
}

func (h *Hub) handleLeave(from *client) {
	if from.roomID == "" {
		return
	}

	roomID := from.roomID
	from.roomID = ""

	room := h.rooms[roomID]
	if room == nil {
		return
	}
	delete(room, from)
	if len(room) == 0 {
		delete(h.rooms, roomID)
		return
	}

	for peer := range room {
		peer.send(domain.EventWebRTCPeerLeft, domain.PeerPayload{PeerID: from.id})
	}
}

// relay forwards an envelope to every other member of the sender's room.
func (h *Hub) relay(from *client, env domain.Envelope) {
	if from.roomID == "" {
		h.logger.Debug("dropping message from roomless client", "client_id", from.id, "event", env.Event)
		return
	}

	for peer := range h.rooms[from.roomID] {
		if peer == from {
			continue
		}
		peer.sendRaw(env)
	}
}
