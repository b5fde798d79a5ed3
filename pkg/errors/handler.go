package errors

import (
	"context"
	"log/slog"
)

// Handler handles errors in a consistent way
type Handler interface {
	// Handle processes an error
	Handle(ctx context.Context, err error)
}

// DefaultHandler is the default error handler
type DefaultHandler struct {
	logger *slog.Logger
}

// NewDefaultHandler creates a new default error handler
func NewDefaultHandler(logger *slog.Logger) *DefaultHandler {
	return &DefaultHandler{
		logger: logger,
	}
}

// Handle implements the Handler interface
func (h *DefaultHandler) Handle(ctx context.Context, err error) {
	if err == nil {
		return
	}

	e, ok := err.(*Error)
	if !ok {
		h.logger.ErrorContext(ctx, err.Error())
		return
	}

	attrs := []any{
		slog.String("error_code", e.Code),
		slog.String("error_type", errorTypeToString(e.Type)),
		slog.Time("timestamp", e.Timestamp),
	}

	if e.Details != "" {
		attrs = append(attrs, slog.String("details", e.Details))
	}

	if e.Cause != nil {
		attrs = append(attrs, slog.String("cause", e.Cause.Error()))
	}

	switch e.Type {
	case ErrorTypeInternal:
		h.logger.ErrorContext(ctx, e.Message, attrs...)
	case ErrorTypeTimeout, ErrorTypeValidation:
		h.logger.WarnContext(ctx, e.Message, attrs...)
	default:
		h.logger.ErrorContext(ctx, e.Message, attrs...)
	}
}

func errorTypeToString(t ErrorType) string {
	switch t {
	case ErrorTypeTransport:
		return "transport"
	case ErrorTypeRemote:
		return "remote"
	case ErrorTypeNegotiation:
		return "negotiation"
	case ErrorTypeValidation:
		return "validation"
	case ErrorTypeInternal:
		return "internal"
	case ErrorTypeTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}
