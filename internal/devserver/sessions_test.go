package devserver

import (
	"testing"

	"github.com/medlink-labs/consultkit/pkg/domain"
)

func TestCreate_StartsPending(t *testing.T) {
	store := NewSessionStore("ws://test/ws")

	session, err := store.Create("u1", domain.ConsultationTongue)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if session.Status != domain.SessionPending {
		t.Errorf("status: want pending, got %s", session.Status)
	}
	if session.SignalingRoomID == "" || session.WebsocketURL != "ws://test/ws" {
		t.Errorf("session endpoints not filled: %+v", session)
	}
	if len(session.ICEServers) == 0 {
		t.Error("no ICE servers assigned")
	}
}

func TestCreate_RejectsSecondLiveSession(t *testing.T) {
	store := NewSessionStore("ws://test/ws")

	if _, err := store.Create("u1", domain.ConsultationGeneral); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := store.Create("u1", domain.ConsultationGeneral); err == nil {
		t.Error("expected second live session to be rejected")
	}
	// A different user is unaffected.
	if _, err := store.Create("u2", domain.ConsultationGeneral); err != nil {
		t.Errorf("other user's session rejected: %v", err)
	}
}

func TestActivate_OnlyFromPending(t *testing.T) {
	store := NewSessionStore("ws://test/ws")
	session, _ := store.Create("u1", domain.ConsultationGeneral)

	activated, err := store.Activate(session.ID)
	if err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if activated.Status != domain.SessionActive {
		t.Errorf("status: want active, got %s", activated.Status)
	}

	if _, err := store.Activate(session.ID); err == nil {
		t.Error("expected re-activation to fail")
	}
}

func TestEnd_CompletesAndStampsDuration(t *testing.T) {
	store := NewSessionStore("ws://test/ws")
	session, _ := store.Create("u1", domain.ConsultationTongue)
	store.Activate(session.ID)

	ended, err := store.End(session.ID)
	if err != nil {
		t.Fatalf("End: %v", err)
	}
	if ended.Status != domain.SessionCompleted {
		t.Errorf("status: want completed, got %s", ended.Status)
	}
	if ended.EndedAt == "" {
		t.Error("EndedAt not stamped")
	}

	// Ending produces an analysis result.
	result, err := store.Analysis(session.ID)
	if err != nil {
		t.Fatalf("Analysis: %v", err)
	}
	if result.SessionID != session.ID {
		t.Errorf("analysis session id: %s", result.SessionID)
	}
	if result.TongueDiagnosis == nil {
		t.Error("tongue consultation should include tongue diagnosis")
	}
}

func TestCancel_OnlyFromPendingOrActive(t *testing.T) {
	store := NewSessionStore("ws://test/ws")
	session, _ := store.Create("u1", domain.ConsultationGeneral)
	store.Activate(session.ID)
	store.End(session.ID)

	if _, err := store.Cancel(session.ID); err == nil {
		t.Error("expected cancel of completed session to fail")
	}
}

func TestActive_FindsLiveSession(t *testing.T) {
	store := NewSessionStore("ws://test/ws")
	session, _ := store.Create("u1", domain.ConsultationGeneral)

	got, ok := store.Active("u1")
	if !ok || got.ID != session.ID {
		t.Errorf("expected live session %s, got %+v ok=%v", session.ID, got, ok)
	}

	store.Cancel(session.ID)
	if _, ok := store.Active("u1"); ok {
		t.Error("cancelled session should not be active")
	}
}

func TestHistory_PagesNewestFirst(t *testing.T) {
	store := NewSessionStore("ws://test/ws")

	for i := 0; i < 3; i++ {
		session, err := store.Create("u1", domain.ConsultationGeneral)
		if err != nil {
			t.Fatalf("Create %d: %v", i, err)
		}
		if _, err := store.End(session.ID); err != nil {
			t.Fatalf("End %d: %v", i, err)
		}
	}

	entries, total := store.History("u1", 0, 2)
	if total != 3 {
		t.Errorf("total: want 3, got %d", total)
	}
	if len(entries) != 2 {
		t.Errorf("page size: want 2, got %d", len(entries))
	}

	rest, _ := store.History("u1", 1, 2)
	if len(rest) != 1 {
		t.Errorf("second page: want 1, got %d", len(rest))
	}

	if empty, _ := store.History("u1", 5, 2); empty != nil {
		t.Errorf("out-of-range page should be empty, got %d", len(empty))
	}
}

func TestHistory_NegativePageClampedToFirst(t *testing.T) {
	store := NewSessionStore("ws://test/ws")

	session, err := store.Create("u1", domain.ConsultationGeneral)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := store.End(session.ID); err != nil {
		t.Fatalf("End: %v", err)
	}

	entries, total := store.History("u1", -1, 20)
	if total != 1 {
		t.Errorf("total: want 1, got %d", total)
	}
	if len(entries) != 1 || entries[0].ID != session.ID {
		t.Errorf("negative page should return the first page, got %+v", entries)
	}
}
