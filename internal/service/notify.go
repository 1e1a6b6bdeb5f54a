package service

import (
	"context"
	"errors"

	"marketplace/internal/events"
	"marketplace/internal/metrics"

	"go.uber.org/zap"
)

// publishEvent hands a committed transition to the event sinks. A failure is
// logged and never undoes the transition.
func publishEvent(ctx context.Context, publisher events.Publisher, logger *zap.Logger, event events.Event) {
	if err := publisher.Publish(ctx, event); err != nil {
		logger.Warn("event publish failed", zap.String("type", event.Type), zap.Error(err))
	}
}

func recordRejection(op string, err error) {
	if kind := errorKind(err); kind != "" {
		metrics.IncRejected(op, kind)
	}
}

// errorKind labels domain errors for metrics; infrastructure errors return "".
func errorKind(err error) string {
	var (
		ve *ValidationError
		se *InvalidStateError
		pe *PreconditionError
		ne *NotFoundError
		fe *ForbiddenError
	)
	switch {
	case errors.As(err, &ve):
		return "validation"
	case errors.As(err, &se):
		return "invalid_state"
	case errors.As(err, &pe):
		return "precondition"
	case errors.As(err, &ne):
		return "not_found"
	case errors.As(err, &fe):
		return "forbidden"
	default:
		return ""
	}
}
