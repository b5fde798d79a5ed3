package rtc

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/medlink-labs/consultkit/internal/logging"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

var (
	ErrTrackClosed = errors.New("local track closed")
)

// Sink receives media payloads for rendering. Rendering itself lives outside
// this core; a sink is just the handoff point.
type Sink interface {
	WritePayload(kind string, payload []byte) error
}

// CameraFacing selects the physical camera direction.
type CameraFacing int

const (
	FacingFront CameraFacing = iota
	FacingBack
)

// CameraSource acquires encoded video samples from a capture device. Open
// fails when no camera is available or platform permission is denied.
type CameraSource interface {
	Open(facing CameraFacing) error
	ReadSample() (media.Sample, error)
	// Switch swaps between front- and back-facing cameras without
	// interrupting the sample stream.
	Switch() error
	Close() error
}

// AudioSource acquires encoded audio samples from a microphone.
type AudioSource interface {
	Open() error
	ReadSample() (media.Sample, error)
	Close() error
}

// LocalTrack wraps a local media track with a mute flag. While disabled the
// capture pump drops samples instead of writing them.
type LocalTrack struct {
	id      string
	kind    string
	track   *webrtc.TrackLocalStaticSample
	mu      sync.RWMutex
	enabled bool
	closed  bool
}

// NewLocalTrack creates a local track for the given codec.
func NewLocalTrack(id, streamID string, codec webrtc.RTPCodecCapability) (*LocalTrack, error) {
	track, err := webrtc.NewTrackLocalStaticSample(codec, id, streamID)
	if err != nil {
		return nil, err
	}

	return &LocalTrack{
		id:      id,
		kind:    track.Kind().String(),
		track:   track,
		enabled: true,
	}, nil
}

// ID returns the track ID
func (t *LocalTrack) ID() string {
	return t.id
}

// Kind returns "audio" or "video".
func (t *LocalTrack) Kind() string {
	return t.kind
}

// Local returns the underlying pion track.
func (t *LocalTrack) Local() *webrtc.TrackLocalStaticSample {
	return t.track
}

// Enabled reports whether the track is currently enabled.
func (t *LocalTrack) Enabled() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.enabled
}

// SetEnabled flips the enabled flag and returns the new state.
func (t *LocalTrack) SetEnabled(enabled bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = enabled
	return t.enabled
}

// Toggle flips the enabled flag and returns the new state.
func (t *LocalTrack) Toggle() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = !t.enabled
	return t.enabled
}

// WriteSample writes a sample to the track unless the track is disabled.
func (t *LocalTrack) WriteSample(sample media.Sample) error {
	t.mu.RLock()
	if t.closed {
		t.mu.RUnlock()
		return ErrTrackClosed
	}
	enabled := t.enabled
	t.mu.RUnlock()

	if !enabled {
		return nil
	}

	return t.track.WriteSample(sample)
}

// Close marks the track closed. Subsequent writes fail.
func (t *LocalTrack) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
}

// sampleReader is the common read surface of camera and audio sources.
type sampleReader interface {
	ReadSample() (media.Sample, error)
}

// pumpLocalTrack feeds samples from a capture source into a local track and
// the preview sink until the source ends or the context is cancelled.
func pumpLocalTrack(ctx context.Context, source sampleReader, track *LocalTrack, preview Sink, logger *logging.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		sample, err := source.ReadSample()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Debug("capture source read stopped", "kind", track.Kind(), "error", err)
			}
			return
		}

		if err := track.WriteSample(sample); err != nil {
			if errors.Is(err, ErrTrackClosed) {
				return
			}
			logger.Debug("local track write failed", "kind", track.Kind(), "error", err)
		}

		if preview != nil && track.Enabled() {
			if err := preview.WritePayload(track.Kind(), sample.Data); err != nil {
				logger.Debug("preview sink write failed", "error", err)
			}
		}
	}
}
