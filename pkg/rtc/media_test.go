package rtc

import (
	"testing"

	"github.com/pion/webrtc/v4"
)

func newVideoTrack(t *testing.T) *LocalTrack {
	t.Helper()
	track, err := NewLocalTrack("video0", "stream0", webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeVP8,
		ClockRate: 90000,
	})
	if err != nil {
		t.Fatalf("NewLocalTrack: %v", err)
	}
	return track
}

func TestLocalTrack_StartsEnabled(t *testing.T) {
	track := newVideoTrack(t)

	if !track.Enabled() {
		t.Error("new track should start enabled")
	}
}

func TestLocalTrack_ToggleTwiceRestoresState(t *testing.T) {
	track := newVideoTrack(t)

	if got := track.Toggle(); got != false {
		t.Errorf("first toggle: want false, got %v", got)
	}
	if got := track.Toggle(); got != true {
		t.Errorf("second toggle: want true, got %v", got)
	}
	if !track.Enabled() {
		t.Error("track should be enabled after two toggles")
	}
}

func TestLocalTrack_ToggleReportsTrackState(t *testing.T) {
	track := newVideoTrack(t)

	got := track.Toggle()
	if got != track.Enabled() {
		t.Errorf("toggle return %v disagrees with Enabled() %v", got, track.Enabled())
	}
}

func TestSyntheticCamera_SwitchChangesFacing(t *testing.T) {
	camera := NewSyntheticCamera(64, 48, 30)
	if err := camera.Open(FacingFront); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer camera.Close()

	if camera.Facing() != FacingFront {
		t.Fatalf("expected front facing after open")
	}

	if err := camera.Switch(); err != nil {
		t.Fatalf("Switch: %v", err)
	}
	if camera.Facing() != FacingBack {
		t.Error("expected back facing after switch")
	}
}

func TestSyntheticCamera_ProducesI420Frames(t *testing.T) {
	width, height := 64, 48
	camera := NewSyntheticCamera(width, height, 120)
	if err := camera.Open(FacingFront); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer camera.Close()

	sample, err := camera.ReadSample()
	if err != nil {
		t.Fatalf("ReadSample: %v", err)
	}

	want := width*height + width*height/2
	if len(sample.Data) != want {
		t.Errorf("frame size: want %d, got %d", want, len(sample.Data))
	}
}
