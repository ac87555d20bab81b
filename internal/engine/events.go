package engine

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/groveline/prospector/internal/model"
	"github.com/groveline/prospector/internal/store"
)

// HandleEvent applies an inbound delivery notification: it updates the
// step and lead, feeds bounces and complaints into the suppression list,
// and enforces the cross-channel stop on reply. Events are the only path
// by which recipient behavior reaches the guard's ledgers.
func (e *Engine) HandleEvent(ctx context.Context, ev *model.InboundEvent) error {
	zap.L().Info("engine: inbound event",
		zap.String("type", string(ev.Type)),
		zap.String("lead_id", ev.LeadID),
		zap.String("channel", string(ev.Channel)),
	)

	switch ev.Type {
	case model.EventDelivered:
		return e.updateEventStep(ctx, ev, model.StepStatusDelivered)

	case model.EventOpened:
		if err := e.updateEventStep(ctx, ev, model.StepStatusOpened); err != nil {
			return err
		}
		return e.moveLead(ctx, ev.LeadID, model.LeadStatusOpened)

	case model.EventClicked:
		if err := e.updateEventStep(ctx, ev, model.StepStatusClicked); err != nil {
			return err
		}
		// A click implies an open even when the open pixel was blocked.
		return e.moveLead(ctx, ev.LeadID, model.LeadStatusOpened)

	case model.EventBounced:
		return e.handleBounceEvent(ctx, ev)

	case model.EventReplied:
		// Cross-channel stop: a reply on any channel ends the sequence
		// everywhere.
		if _, err := e.store.CancelFutureSteps(ctx, ev.LeadID); err != nil {
			return eris.Wrap(err, "engine: cancel steps on reply")
		}
		return e.moveLead(ctx, ev.LeadID, model.LeadStatusReplied)

	case model.EventUnsubscribe:
		return e.handleOptOut(ctx, ev, model.SuppressionUnsubscribed)

	case model.EventComplaint:
		// A spam complaint is an unsubscribe with extra urgency.
		return e.handleOptOut(ctx, ev, model.SuppressionComplaint)

	default:
		return eris.Errorf("engine: unknown event type %q", ev.Type)
	}
}

func (e *Engine) handleBounceEvent(ctx context.Context, ev *model.InboundEvent) error {
	if ev.Address != "" {
		if err := e.guard.Suppress(ctx, ev.OrgID, ev.Address, model.SuppressionHardBounce, ev.LeadID); err != nil {
			return err
		}
	}
	if ev.AccountID != "" {
		if _, err := e.pool.RecordBounce(ctx, ev.AccountID); err != nil {
			return err
		}
	}
	if err := e.updateEventStep(ctx, ev, model.StepStatusBounced); err != nil {
		return err
	}
	if _, err := e.store.CancelFutureSteps(ctx, ev.LeadID); err != nil {
		return eris.Wrap(err, "engine: cancel steps on bounce")
	}
	return e.moveLead(ctx, ev.LeadID, model.LeadStatusBounced)
}

func (e *Engine) handleOptOut(ctx context.Context, ev *model.InboundEvent, reason model.SuppressionReason) error {
	if ev.Address != "" {
		if err := e.guard.Suppress(ctx, ev.OrgID, ev.Address, reason, ev.LeadID); err != nil {
			return err
		}
	}
	if _, err := e.store.CancelFutureSteps(ctx, ev.LeadID); err != nil {
		return eris.Wrap(err, "engine: cancel steps on opt-out")
	}
	return e.moveLead(ctx, ev.LeadID, model.LeadStatusUnsubscribed)
}

// moveLead applies an event-driven status change. Out-of-order webhooks
// routinely arrive after the lead has already advanced, so an illegal
// transition is logged and swallowed rather than failing the event.
func (e *Engine) moveLead(ctx context.Context, leadID string, to model.LeadStatus) error {
	err := e.store.UpdateLeadStatus(ctx, leadID, to)
	if err == nil {
		return nil
	}
	if eris.Is(err, store.ErrIllegalTransition) || eris.Is(err, store.ErrStale) {
		zap.L().Warn("engine: event arrived out of order",
			zap.String("lead_id", leadID),
			zap.String("to", string(to)),
			zap.Error(err),
		)
		return nil
	}
	return err
}

// updateEventStep marks the step the event refers to, matched by message
// id when the provider echoes one, otherwise the lead's most recent
// executed step.
func (e *Engine) updateEventStep(ctx context.Context, ev *model.InboundEvent, status model.StepStatus) error {
	steps, err := e.store.ListSteps(ctx, ev.LeadID)
	if err != nil {
		return eris.Wrap(err, "engine: list steps for event")
	}

	var target *model.SequenceStep
	for i := range steps {
		s := &steps[i]
		if ev.MessageID != "" {
			if s.MessageID == ev.MessageID {
				target = s
				break
			}
			continue
		}
		if s.Executed() && (target == nil || s.Position > target.Position) {
			target = s
		}
	}
	if target == nil {
		zap.L().Warn("engine: event matched no step",
			zap.String("lead_id", ev.LeadID),
			zap.String("message_id", ev.MessageID),
		)
		return nil
	}

	target.Status = status
	return e.store.UpdateStep(ctx, target)
}
