package rtc

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/medlink-labs/consultkit/internal/logging"
	"github.com/medlink-labs/consultkit/pkg/domain"
)

// fakeChannel records sends and lets tests inject subscription traffic.
type fakeChannel struct {
	mu   sync.Mutex
	sent []sentMessage
	subs map[string]chan json.RawMessage
}

type sentMessage struct {
	event   string
	payload any
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{subs: make(map[string]chan json.RawMessage)}
}

func (f *fakeChannel) Send(event string, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{event: event, payload: payload})
}

func (f *fakeChannel) Subscribe(event string) (<-chan json.RawMessage, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan json.RawMessage, 16)
	f.subs[event] = ch
	return ch, func() {}
}

// push injects a payload as if it arrived from the signaling server.
func (f *fakeChannel) push(t *testing.T, event string, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	f.mu.Lock()
	ch, ok := f.subs[event]
	f.mu.Unlock()
	if !ok {
		t.Fatalf("no subscription for %s", event)
	}
	ch <- data
}

func (f *fakeChannel) sentEvents(event string) []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sentMessage
	for _, msg := range f.sent {
		if msg.event == event {
			out = append(out, msg)
		}
	}
	return out
}

// fakePeer records negotiation calls for verification.
type fakePeer struct {
	mu         sync.Mutex
	remoteDesc bool
	added      []domain.ICECandidatePayload
	closed     bool
}

func (p *fakePeer) CreateOffer() (domain.SessionDescriptionPayload, error) {
	return domain.SessionDescriptionPayload{Type: "offer", SDP: "v=0\r\nfake-offer"}, nil
}

func (p *fakePeer) CreateAnswer() (domain.SessionDescriptionPayload, error) {
	return domain.SessionDescriptionPayload{Type: "answer", SDP: "v=0\r\nfake-answer"}, nil
}

func (p *fakePeer) SetRemoteDescription(desc domain.SessionDescriptionPayload) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.remoteDesc = true
	return nil
}

func (p *fakePeer) AddICECandidate(candidate domain.ICECandidatePayload) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.added = append(p.added, candidate)
	return nil
}

func (p *fakePeer) HasRemoteDescription() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.remoteDesc
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePeer) addedCandidates() []domain.ICECandidatePayload {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.ICECandidatePayload, len(p.added))
	copy(out, p.added)
	return out
}

func quietLogger() *logging.Logger {
	return logging.New(logging.Config{Level: "error", Format: "text"})
}

func newTestOrchestrator(t *testing.T, channel *fakeChannel, peer *fakePeer) *Orchestrator {
	t.Helper()

	o := NewOrchestrator(channel, Options{Logger: quietLogger()})
	o.newPeer = func(iceServers []domain.ICEServer, tracks []*LocalTrack, remoteSink Sink, callbacks peerCallbacks, logger *logging.Logger) (mediaPeer, error) {
		return peer, nil
	}

	if err := o.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	t.Cleanup(o.Release)

	return o
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestJoinRoom_BeforeInitialize(t *testing.T) {
	o := NewOrchestrator(newFakeChannel(), Options{Logger: quietLogger()})

	if err := o.JoinRoom("r1", "s1", nil); err != domain.ErrNoMediaEngine {
		t.Errorf("expected ErrNoMediaEngine, got %v", err)
	}
}

func TestJoinRoom_AnnouncesMembership(t *testing.T) {
	channel := newFakeChannel()
	o := newTestOrchestrator(t, channel, &fakePeer{})

	if err := o.JoinRoom("r1", "s1", nil); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}

	joins := channel.sentEvents(domain.EventWebRTCJoin)
	if len(joins) != 1 {
		t.Fatalf("expected 1 join, got %d", len(joins))
	}
	join := joins[0].payload.(domain.JoinPayload)
	if join.RoomID != "r1" || join.SessionID != "s1" {
		t.Errorf("unexpected join payload: %+v", join)
	}
}

func TestRoomJoined_NoOfferWhenAlone(t *testing.T) {
	channel := newFakeChannel()
	o := newTestOrchestrator(t, channel, &fakePeer{})

	if err := o.JoinRoom("r1", "s1", nil); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}

	channel.push(t, domain.EventWebRTCRoomJoined, domain.RoomJoinedPayload{RoomID: "r1"})

	// A candidate after room-joined proves the loop consumed both in order.
	channel.push(t, domain.EventWebRTCICECandidate, domain.CandidatePayload{
		RoomID:    "r1",
		Candidate: domain.ICECandidatePayload{Candidate: "c1"},
	})
	waitFor(t, "candidate buffered", func() bool { return o.PendingCandidateCount() == 1 })

	if offers := channel.sentEvents(domain.EventWebRTCOffer); len(offers) != 0 {
		t.Errorf("expected no offer to an empty room, got %d", len(offers))
	}
}

func TestRoomJoined_OffersWhenPeersPresent(t *testing.T) {
	channel := newFakeChannel()
	o := newTestOrchestrator(t, channel, &fakePeer{})

	if err := o.JoinRoom("r1", "s1", nil); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}

	channel.push(t, domain.EventWebRTCRoomJoined, domain.RoomJoinedPayload{
		RoomID:        "r1",
		ExistingPeers: []string{"p1"},
	})

	waitFor(t, "offer sent", func() bool {
		return len(channel.sentEvents(domain.EventWebRTCOffer)) == 1
	})

	offer := channel.sentEvents(domain.EventWebRTCOffer)[0].payload.(domain.OfferPayload)
	if offer.RoomID != "r1" || offer.Offer.Type != "offer" {
		t.Errorf("unexpected offer payload: %+v", offer)
	}
}

func TestPeerJoined_SendsOffer(t *testing.T) {
	channel := newFakeChannel()
	o := newTestOrchestrator(t, channel, &fakePeer{})

	if err := o.JoinRoom("r1", "s1", nil); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}

	channel.push(t, domain.EventWebRTCPeerJoined, domain.PeerPayload{PeerID: "p1"})

	waitFor(t, "offer sent", func() bool {
		return len(channel.sentEvents(domain.EventWebRTCOffer)) == 1
	})
}

func TestRemoteCandidates_BufferedUntilRemoteDescription(t *testing.T) {
	channel := newFakeChannel()
	peer := &fakePeer{}
	o := newTestOrchestrator(t, channel, peer)

	if err := o.JoinRoom("r1", "s1", nil); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}

	for _, name := range []string{"c1", "c2", "c3"} {
		channel.push(t, domain.EventWebRTCICECandidate, domain.CandidatePayload{
			RoomID:    "r1",
			Candidate: domain.ICECandidatePayload{Candidate: name},
		})
	}

	waitFor(t, "candidates buffered", func() bool { return o.PendingCandidateCount() == 3 })
	if added := peer.addedCandidates(); len(added) != 0 {
		t.Fatalf("candidates applied before remote description: %d", len(added))
	}

	channel.push(t, domain.EventWebRTCOffer, domain.OfferPayload{
		RoomID: "r1",
		Offer:  domain.SessionDescriptionPayload{Type: "offer", SDP: "v=0\r\nremote"},
	})

	waitFor(t, "candidates drained", func() bool { return len(peer.addedCandidates()) == 3 })

	added := peer.addedCandidates()
	for i, want := range []string{"c1", "c2", "c3"} {
		if added[i].Candidate != want {
			t.Errorf("candidate %d: want %s, got %s", i, want, added[i].Candidate)
		}
	}
	if o.PendingCandidateCount() != 0 {
		t.Errorf("buffer not cleared after drain: %d", o.PendingCandidateCount())
	}

	// The remote offer also produces an answer.
	waitFor(t, "answer sent", func() bool {
		return len(channel.sentEvents(domain.EventWebRTCAnswer)) == 1
	})
}

func TestRemoteCandidates_AppliedDirectlyAfterDescription(t *testing.T) {
	channel := newFakeChannel()
	peer := &fakePeer{}
	o := newTestOrchestrator(t, channel, peer)

	if err := o.JoinRoom("r1", "s1", nil); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}

	channel.push(t, domain.EventWebRTCAnswer, domain.AnswerPayload{
		RoomID: "r1",
		Answer: domain.SessionDescriptionPayload{Type: "answer", SDP: "v=0\r\nremote"},
	})
	channel.push(t, domain.EventWebRTCICECandidate, domain.CandidatePayload{
		RoomID:    "r1",
		Candidate: domain.ICECandidatePayload{Candidate: "late"},
	})

	waitFor(t, "candidate applied", func() bool { return len(peer.addedCandidates()) == 1 })
	if o.PendingCandidateCount() != 0 {
		t.Errorf("late candidate should not be buffered, pending=%d", o.PendingCandidateCount())
	}
}

func TestLeaveRoom_NotifiesAndClosesPeer(t *testing.T) {
	channel := newFakeChannel()
	peer := &fakePeer{}
	o := newTestOrchestrator(t, channel, peer)

	if err := o.JoinRoom("r1", "s1", nil); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}

	o.LeaveRoom()

	leaves := channel.sentEvents(domain.EventWebRTCLeave)
	if len(leaves) != 1 {
		t.Fatalf("expected 1 leave, got %d", len(leaves))
	}
	if leave := leaves[0].payload.(domain.LeavePayload); leave.RoomID != "r1" {
		t.Errorf("unexpected leave payload: %+v", leave)
	}

	peer.mu.Lock()
	closed := peer.closed
	peer.mu.Unlock()
	if !closed {
		t.Error("peer not closed on leave")
	}
}

func TestRelease_Idempotent(t *testing.T) {
	channel := newFakeChannel()
	o := newTestOrchestrator(t, channel, &fakePeer{})

	o.Release()
	o.Release()

	if state := o.State(); state != StateIdle {
		t.Errorf("expected idle after release, got %s", state)
	}
}
