package consultation

import (
	"encoding/json"
	"time"

	"github.com/medlink-labs/consultkit/internal/logging"
	"github.com/medlink-labs/consultkit/pkg/domain"
)

const defaultGuidanceTimeout = 30

// AIEvent is one event from the AI side of the consultation. Exactly one
// field is non-nil.
type AIEvent struct {
	Guidance  *domain.Guidance
	Detection *domain.Detection
	Response  *domain.AIResponse
	Progress  *domain.AnalysisProgress
	Complete  *domain.AnalysisComplete
}

// subscriber is the slice of the signaling channel the router consumes.
type subscriber interface {
	Subscribe(event string) (<-chan json.RawMessage, func())
}

// AIRouter turns raw AI signaling payloads into typed events on a single
// stream. Parsing is forgiving: missing optional fields fall back to
// defaults and malformed payloads are logged and dropped, never fatal.
type AIRouter struct {
	channel subscriber
	logger  *logging.Logger
	events  chan AIEvent
	cancels []func()
}

// NewAIRouter creates an AI event router.
func NewAIRouter(channel subscriber, logger *logging.Logger) *AIRouter {
	if logger == nil {
		logger = logging.New(logging.Config{Level: "info", Format: "text"})
	}

	return &AIRouter{
		channel: channel,
		logger:  logger,
		events:  make(chan AIEvent, 64),
	}
}

// Events returns the typed AI event stream.
func (r *AIRouter) Events() <-chan AIEvent {
	return r.events
}

// Start subscribes to the AI-facing signaling events. Call after the
// channel is connected; Stop cancels the subscriptions.
func (r *AIRouter) Start() {
	r.route(domain.EventAIGuidance, r.onGuidance)
	r.route(domain.EventAIDetection, r.onDetection)
	r.route(domain.EventAIResponse, r.onResponse)
	r.route(domain.EventConsultationReady, r.onReady)
	r.route(domain.EventConsultationAnalysisProgress, r.onProgress)
	r.route(domain.EventConsultationAnalysisComplete, r.onComplete)
}

// Stop cancels all subscriptions. The event stream stays open so late
// consumers can drain it.
func (r *AIRouter) Stop() {
	for _, cancel := range r.cancels {
		cancel()
	}
	r.cancels = nil
}

func (r *AIRouter) route(event string, handle func(json.RawMessage)) {
	ch, cancel := r.channel.Subscribe(event)
	r.cancels = append(r.cancels, cancel)

	go func() {
		for data := range ch {
			handle(data)
		}
	}()
}

func (r *AIRouter) emit(event AIEvent) {
	select {
	case r.events <- event:
	default:
		r.logger.Warn("ai event dropped, consumer too slow")
	}
}

func (r *AIRouter) onGuidance(data json.RawMessage) {
	// Guidance arrives either nested under a "guidance" key or flat.
	var wrapper struct {
		Guidance json.RawMessage `json:"guidance"`
	}
	if err := json.Unmarshal(data, &wrapper); err == nil && len(wrapper.Guidance) > 0 {
		data = wrapper.Guidance
	}

	guidance, err := decodeGuidance(data)
	if err != nil {
		r.logger.Warn("malformed guidance payload", "error", err)
		return
	}

	r.emit(AIEvent{Guidance: guidance})
}

func decodeGuidance(data json.RawMessage) (*domain.Guidance, error) {
	var guidance domain.Guidance
	if err := json.Unmarshal(data, &guidance); err != nil {
		return nil, err
	}

	if guidance.Kind == "" {
		guidance.Kind = "instruction"
	}
	if guidance.TimeoutSeconds <= 0 {
		guidance.TimeoutSeconds = defaultGuidanceTimeout
	}

	return &guidance, nil
}

func (r *AIRouter) onDetection(data json.RawMessage) {
	var detection domain.Detection
	if err := json.Unmarshal(data, &detection); err != nil {
		r.logger.Warn("malformed detection payload", "error", err)
		return
	}

	if detection.Kind == "" {
		detection.Kind = "object"
	}
	if detection.Timestamp == 0 {
		detection.Timestamp = time.Now().UnixMilli()
	}

	r.emit(AIEvent{Detection: &detection})
}

func (r *AIRouter) onResponse(data json.RawMessage) {
	// Responses arrive either nested under a "response" key or flat.
	var wrapper struct {
		Response json.RawMessage `json:"response"`
	}
	if err := json.Unmarshal(data, &wrapper); err == nil && len(wrapper.Response) > 0 {
		data = wrapper.Response
	}

	var response domain.AIResponse
	if err := json.Unmarshal(data, &response); err != nil {
		r.logger.Warn("malformed ai response payload", "error", err)
		return
	}

	r.emit(AIEvent{Response: &response})
}

// onReady surfaces the AI greeting as an initial guidance event so the
// consumer has a single stream to render. The greeting is a full guidance
// object; readiness acks without one carry no information for the consumer.
func (r *AIRouter) onReady(data json.RawMessage) {
	var ready struct {
		Greeting json.RawMessage `json:"greeting"`
	}
	if err := json.Unmarshal(data, &ready); err != nil {
		r.logger.Warn("malformed ready payload", "error", err)
		return
	}
	if len(ready.Greeting) == 0 {
		return
	}

	guidance, err := decodeGuidance(ready.Greeting)
	if err != nil {
		r.logger.Warn("malformed greeting payload", "error", err)
		return
	}
	if guidance.Text == "" {
		return
	}

	r.emit(AIEvent{Guidance: guidance})
}

func (r *AIRouter) onProgress(data json.RawMessage) {
	var progress domain.AnalysisProgress
	if err := json.Unmarshal(data, &progress); err != nil {
		r.logger.Warn("malformed analysis progress payload", "error", err)
		return
	}

	r.emit(AIEvent{Progress: &progress})
}

func (r *AIRouter) onComplete(data json.RawMessage) {
	var complete domain.AnalysisComplete
	if err := json.Unmarshal(data, &complete); err != nil {
		r.logger.Warn("malformed analysis complete payload", "error", err)
		return
	}

	r.emit(AIEvent{Complete: &complete})
}
