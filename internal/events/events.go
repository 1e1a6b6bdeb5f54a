// Package events carries state-machine transitions out to projections
// (dashboards, notifications). Publishing is best effort and never blocks a transition.
package events

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Event type constants double as AMQP routing keys.
const (
	ProposalSubmitted  = "proposal.submitted"
	ProposalAccepted   = "proposal.accepted"
	ProposalRejected   = "proposal.rejected"
	MilestonesEdited   = "milestones.edited"
	MilestonesApproved = "milestones.approved"
	MilestonesLocked   = "milestones.locked"
	DeliverableOK      = "milestone.deliverable_approved"
	PaymentEscrowed    = "payment.escrowed"
	PaymentReleased    = "payment.released"
	PaymentTransferred = "payment.transferred"
)

type Event struct {
	Type       string                 `json:"type"`
	ProjectID  string                 `json:"project_id,omitempty"`
	EntityID   string                 `json:"entity_id"`
	ActorID    string                 `json:"actor_id,omitempty"`
	Data       map[string]interface{} `json:"data,omitempty"`
	OccurredAt time.Time              `json:"occurred_at"`
}

type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Fanout publishes to every sink and logs failures instead of returning them.
type Fanout struct {
	sinks  []Publisher
	logger *zap.Logger
}

func NewFanout(logger *zap.Logger, sinks ...Publisher) *Fanout {
	return &Fanout{sinks: sinks, logger: logger}
}

func (f *Fanout) Publish(ctx context.Context, event Event) error {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}
	for _, s := range f.sinks {
		if err := s.Publish(ctx, event); err != nil {
			f.logger.Warn("event publish failed",
				zap.String("type", event.Type),
				zap.String("entity_id", event.EntityID),
				zap.Error(err),
			)
		}
	}
	return nil
}
