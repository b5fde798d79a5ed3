package capture

import (
	"context"
	"encoding/base64"
	"time"

	"github.com/medlink-labs/consultkit/internal/logging"
	"github.com/medlink-labs/consultkit/pkg/domain"
)

// FrameEncoder turns a raw captured image into a transmittable byte payload.
// Codec internals live outside this core.
type FrameEncoder interface {
	Encode(image []byte, captureType domain.CaptureType) ([]byte, error)
}

// SessionProvider exposes the authoritative session value read-only.
type SessionProvider interface {
	ActiveSession() (domain.Session, bool)
}

// signalSender is the outbound half of the signaling channel.
type signalSender interface {
	Send(event string, payload any)
}

// Dispatcher packages captured sensor artifacts and sends them over the
// signaling channel tagged with the active session. Sends are fire-and-forget;
// without an active session every operation is a no-op.
type Dispatcher struct {
	channel  signalSender
	sessions SessionProvider
	encoder  FrameEncoder
	logger   *logging.Logger
}

// NewDispatcher creates a media capture dispatcher.
func NewDispatcher(channel signalSender, sessions SessionProvider, encoder FrameEncoder, logger *logging.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.New(logging.Config{Level: "info", Format: "text"})
	}

	return &Dispatcher{
		channel:  channel,
		sessions: sessions,
		encoder:  encoder,
		logger:   logger,
	}
}

// CaptureFrame encodes the given image and sends it tagged with the active
// session id, capture type, and capture timestamp.
func (d *Dispatcher) CaptureFrame(image []byte, captureType domain.CaptureType) {
	session, ok := d.sessions.ActiveSession()
	if !ok {
		d.logger.Debug("dropping frame, no active session")
		return
	}

	payload, err := d.encoder.Encode(image, captureType)
	if err != nil {
		d.logger.Error("failed to encode frame", "capture_type", captureType, "error", err)
		return
	}

	d.dispatchFrame(domain.CaptureArtifact{
		SessionID:   session.ID,
		CaptureType: captureType,
		Payload:     payload,
		CapturedAt:  time.Now(),
	})
}

// dispatchFrame converts a packaged artifact into its wire payload.
func (d *Dispatcher) dispatchFrame(artifact domain.CaptureArtifact) {
	d.channel.Send(domain.EventConsultationFrame, domain.FramePayload{
		SessionID:   artifact.SessionID,
		ImageData:   base64.StdEncoding.EncodeToString(artifact.Payload),
		CaptureType: string(artifact.CaptureType),
		Timestamp:   artifact.CapturedAt.UnixMilli(),
	})
}

// CaptureTongue sends a tongue-inspection frame.
func (d *Dispatcher) CaptureTongue(image []byte) {
	d.CaptureFrame(image, domain.CaptureTongue)
}

// CaptureFacial sends a facial-inspection frame.
func (d *Dispatcher) CaptureFacial(image []byte) {
	d.CaptureFrame(image, domain.CaptureFacial)
}

// SendVoice sends a captured voice clip with its duration in milliseconds.
func (d *Dispatcher) SendVoice(audio []byte, durationMs int64) {
	session, ok := d.sessions.ActiveSession()
	if !ok {
		d.logger.Debug("dropping voice clip, no active session")
		return
	}

	d.channel.Send(domain.EventConsultationVoice, domain.VoicePayload{
		SessionID: session.ID,
		AudioData: base64.StdEncoding.EncodeToString(audio),
		Duration:  durationMs,
		Timestamp: time.Now().UnixMilli(),
	})
}

// SendGesture sends a detected gesture event.
func (d *Dispatcher) SendGesture(kind string, confidence float64) {
	session, ok := d.sessions.ActiveSession()
	if !ok {
		d.logger.Debug("dropping gesture, no active session")
		return
	}

	d.channel.Send(domain.EventConsultationGesture, domain.GesturePayload{
		SessionID:   session.ID,
		GestureType: kind,
		Confidence:  confidence,
		Timestamp:   time.Now().UnixMilli(),
	})
}

// RunPeriodic captures a frame from grab at the given interval until the
// context is cancelled. Grab failures skip the tick.
func (d *Dispatcher) RunPeriodic(ctx context.Context, interval time.Duration, grab func() ([]byte, error)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			image, err := grab()
			if err != nil {
				d.logger.Debug("periodic capture failed", "error", err)
				continue
			}
			d.CaptureFrame(image, domain.CapturePeriodic)
		}
	}
}
