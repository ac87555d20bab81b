// Package sequence plans the next multi-channel step for a lead from the
// policy tables, per-lead lifetime ceilings, and the cross-channel
// cooldown matrix.
package sequence

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/groveline/prospector/internal/model"
	"github.com/groveline/prospector/internal/policy"
	"github.com/groveline/prospector/internal/store"
)

// SkipReason names why no step could be planned right now.
type SkipReason string

const (
	SkipNone         SkipReason = ""
	SkipExhausted    SkipReason = "sequence_exhausted"
	SkipCooldown     SkipReason = "cross_channel_cooldown"
	SkipNoContact    SkipReason = "no_contact_for_any_channel"
	SkipOutsideHours SkipReason = "outside_window"
)

// Plan is the planner's verdict for one lead.
type Plan struct {
	// Step is nil when Skip is set.
	Step *model.SequenceStep
	Skip SkipReason
	// RetryAt is set for cooldown skips.
	RetryAt time.Time
}

// Planner selects the next (channel, position) for a lead.
type Planner struct {
	store  store.Store
	policy policy.SequencePolicy
	now    func() time.Time
}

// New creates a Planner.
func New(st store.Store, pol policy.SequencePolicy) *Planner {
	return &Planner{store: st, policy: pol, now: time.Now}
}

// Next plans the lead's next step. The template names the intended
// channel; the planner enforces lifetime ceilings, the postal hot gate,
// and the cooldown matrix, falling back through the category's channel
// priority list before skipping the lead.
func (p *Planner) Next(ctx context.Context, lead *model.Lead) (*Plan, error) {
	template := p.policy.TemplateFor(lead.Category)
	if lead.SequencePosition >= len(template) {
		return &Plan{Skip: SkipExhausted}, nil
	}
	step := template[lead.SequencePosition]

	executed, err := p.store.ExecutedByChannel(ctx, lead.ID)
	if err != nil {
		return nil, eris.Wrap(err, "sequence: executed counts")
	}
	lastAt, lastCh, hasPrev, err := p.store.LastContactAt(ctx, lead.ID)
	if err != nil {
		return nil, eris.Wrap(err, "sequence: last contact")
	}

	// The template's day offsets pace the sequence: the step is due only
	// once its offset gap from the previous step has elapsed.
	if hasPrev && lead.SequencePosition > 0 {
		prev := template[lead.SequencePosition-1]
		due := lastAt.Add(time.Duration(step.DayOffset-prev.DayOffset) * 24 * time.Hour)
		if p.now().Before(due) {
			return &Plan{Skip: SkipOutsideHours, RetryAt: due}, nil
		}
	}

	// The templated channel first, then the category's priority order.
	candidates := []model.Channel{step.Channel}
	for _, ch := range p.policy.PriorityFor(lead.Category) {
		if ch != step.Channel {
			candidates = append(candidates, ch)
		}
	}

	var earliestRetry time.Time
	sawCooldown := false
	for _, ch := range candidates {
		if lead.ContactFor(ch) == nil {
			continue
		}
		if p.ceilingReached(ch, executed) {
			continue
		}
		if ch == model.ChannelPostal && !p.postalAllowed(lead, template) {
			continue
		}
		if hasPrev {
			retryAt := lastAt.Add(p.policy.GapFor(lastCh, ch))
			if p.now().Before(retryAt) {
				sawCooldown = true
				if earliestRetry.IsZero() || retryAt.Before(earliestRetry) {
					earliestRetry = retryAt
				}
				continue
			}
		}

		return &Plan{Step: &model.SequenceStep{
			OrgID:     lead.OrgID,
			LeadID:    lead.ID,
			Position:  lead.SequencePosition + 1,
			DayOffset: step.DayOffset,
			Channel:   ch,
			Status:    model.StepStatusPlanned,
		}}, nil
	}

	if sawCooldown {
		return &Plan{Skip: SkipCooldown, RetryAt: earliestRetry}, nil
	}

	zap.L().Debug("sequence: no channel available for lead",
		zap.String("lead_id", lead.ID),
		zap.Int("position", lead.SequencePosition),
	)
	return &Plan{Skip: SkipNoContact}, nil
}

// ceilingReached checks the per-lead lifetime ceiling for a channel.
// Email channels share a ceiling only if one is configured for either.
func (p *Planner) ceilingReached(ch model.Channel, executed map[model.Channel]int) bool {
	ceiling, ok := p.policy.LifetimeCeilings[ch]
	if !ok {
		return false
	}
	count := executed[ch]
	if ch.IsEmail() {
		for other, n := range executed {
			if other.IsEmail() && other != ch {
				count += n
			}
		}
	}
	return count >= ceiling
}

// postalAllowed gates physical mail: hot leads qualify anywhere, others
// only when postal is the template's explicit last step.
func (p *Planner) postalAllowed(lead *model.Lead, template []policy.TemplateStep) bool {
	if lead.Score >= p.policy.HotScoreThreshold {
		return true
	}
	last := template[len(template)-1]
	return last.Channel == model.ChannelPostal && lead.SequencePosition == len(template)-1
}
