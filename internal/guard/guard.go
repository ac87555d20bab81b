// Package guard is the authority that decides whether a given
// (account, lead, channel) send is currently permitted, and the sole
// writer of suppression and domain-cooldown state.
package guard

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/groveline/prospector/internal/model"
	"github.com/groveline/prospector/internal/policy"
	"github.com/groveline/prospector/internal/store"
)

// DenyReason names why a send was refused. Denials are outcomes, not
// errors: the orchestrator records them and moves on.
type DenyReason string

const (
	DenyNone             DenyReason = ""
	DenyNoContactMethod  DenyReason = "no_contact_method"
	DenyLeadStopped      DenyReason = "lead_stopped"
	DenyQuotaReached     DenyReason = "quota_reached"
	DenySuppressed       DenyReason = "suppressed"
	DenyDomainCooldown   DenyReason = "domain_cooldown"
	DenyAccountUnhealthy DenyReason = "account_unhealthy"
)

// Decision is the result of a permission check.
type Decision struct {
	Allowed bool
	Reason  DenyReason
	// RetryAt is set for time-bounded denials (cooldown) so callers can
	// tell a permanent refusal from a deferred one.
	RetryAt time.Time
}

func deny(reason DenyReason) Decision { return Decision{Reason: reason} }

// Guard evaluates send permission and owns suppression bookkeeping.
type Guard struct {
	store  store.Store
	warmup policy.WarmupCurve

	// DomainCooldown is the minimum wait between contacting any two
	// addresses on the same domain.
	DomainCooldown time.Duration
	// BounceRateCeiling mirrors the pool's pause threshold; an account
	// over it is refused and paused here even before the pool reacts.
	BounceRateCeiling float64

	now func() time.Time
}

// New creates a Guard with the default thresholds.
func New(st store.Store, warmup policy.WarmupCurve) *Guard {
	return &Guard{
		store:             st,
		warmup:            warmup,
		DomainCooldown:    7 * 24 * time.Hour,
		BounceRateCeiling: 0.05,
		now:               time.Now,
	}
}

// CanSend runs the ordered permission checks for one send. Cheap local
// checks come first; checks that read shared guard state follow. The
// first failing check wins and the rest are skipped.
func (g *Guard) CanSend(ctx context.Context, account *model.SendingAccount, lead *model.Lead, ch model.Channel) (Decision, error) {
	// 1. The lead must be reachable on the requested channel at all.
	contact := lead.ContactFor(ch)
	if contact == nil {
		return deny(DenyNoContactMethod), nil
	}

	// 2. The lead must still be live. The send batch is listed before
	// each dispatch, so a reply or unsubscribe landing mid-batch would
	// otherwise slip through; re-reading the status here closes that race.
	current, err := g.store.GetLead(ctx, lead.ID)
	if err != nil {
		return Decision{}, eris.Wrap(err, "guard: lead lookup")
	}
	if current.Status.Terminal() {
		return deny(DenyLeadStopped), nil
	}

	// 3. Account quota, against the warmup-capped effective limit. This
	// is a cheap pre-check; the authoritative gate is the atomic counter
	// bump at send time.
	if account.SentToday >= g.warmup.EffectiveLimit(account) {
		return deny(DenyQuotaReached), nil
	}

	// 4. Suppression list. Permanent, no retry time.
	suppressed, err := g.store.IsSuppressed(ctx, lead.OrgID, contact.Address)
	if err != nil {
		return Decision{}, eris.Wrap(err, "guard: suppression lookup")
	}
	if suppressed {
		return deny(DenySuppressed), nil
	}

	// 5. Domain cooldown. The cooldown throttles first contact to a new
	// lead on a domain; a lead already in sequence stamped the cooldown
	// itself, so its follow-up steps pass.
	if lead.SequencePosition == 0 {
		cooldown, err := g.store.GetDomainCooldown(ctx, lead.OrgID, lead.Domain)
		if err != nil {
			return Decision{}, eris.Wrap(err, "guard: cooldown lookup")
		}
		if cooldown != nil {
			retryAt := cooldown.LastContactedAt.Add(g.DomainCooldown)
			if g.now().Before(retryAt) {
				d := deny(DenyDomainCooldown)
				d.RetryAt = retryAt
				return d, nil
			}
		}
	}

	// 6. Account health. A bounce-rate breach found here escalates to a
	// pause; the one place the read path mutates state.
	if !account.Usable() {
		return deny(DenyAccountUnhealthy), nil
	}
	if account.BounceRate() > g.BounceRateCeiling {
		if err := g.PauseAccount(ctx, account); err != nil {
			return Decision{}, err
		}
		return deny(DenyAccountUnhealthy), nil
	}

	return Decision{Allowed: true}, nil
}

// PauseAccount takes an account out of rotation after a bounce-rate
// breach. Named separately so the escalation can be asserted on apart
// from the read-only checks.
func (g *Guard) PauseAccount(ctx context.Context, account *model.SendingAccount) error {
	if account.Status == model.AccountStatusPaused {
		return nil
	}
	if err := g.store.SetAccountStatus(ctx, account.ID, model.AccountStatusPaused); err != nil {
		return eris.Wrap(err, "guard: pause account")
	}
	account.Status = model.AccountStatusPaused
	zap.L().Warn("guard: account paused for bounce rate",
		zap.String("account_id", account.ID),
		zap.String("address", account.Address),
		zap.Float64("bounce_rate", account.BounceRate()),
		zap.Float64("ceiling", g.BounceRateCeiling),
	)
	return nil
}

// RecordContact updates the domain-cooldown ledger after a successful
// send. This is the only writer of cooldown timestamps.
func (g *Guard) RecordContact(ctx context.Context, orgID, domain string) error {
	if err := g.store.TouchDomainCooldown(ctx, orgID, domain, g.now().UTC()); err != nil {
		return eris.Wrap(err, "guard: record contact")
	}
	return nil
}

// Suppress adds a permanent suppression entry for an address. Duplicate
// additions keep the original reason.
func (g *Guard) Suppress(ctx context.Context, orgID, address string, reason model.SuppressionReason, leadID string) error {
	err := g.store.AddSuppression(ctx, &model.SuppressionEntry{
		OrgID:   orgID,
		Address: address,
		Reason:  reason,
		LeadID:  leadID,
	})
	if err != nil {
		return eris.Wrap(err, "guard: suppress")
	}
	zap.L().Info("guard: address suppressed",
		zap.String("org_id", orgID),
		zap.String("reason", string(reason)),
		zap.String("lead_id", leadID),
	)
	return nil
}

// Health is the read-only deliverability snapshot for dashboards.
type Health struct {
	Suppressions    int `json:"suppressions"`
	ActiveCooldowns int `json:"active_cooldowns"`
}

// DeliverabilityHealth returns suppression and cooldown counts for an
// organization.
func (g *Guard) DeliverabilityHealth(ctx context.Context, orgID string) (*Health, error) {
	suppressions, err := g.store.CountSuppressions(ctx, orgID)
	if err != nil {
		return nil, eris.Wrap(err, "guard: count suppressions")
	}
	cooldowns, err := g.store.CountActiveCooldowns(ctx, orgID, g.now().Add(-g.DomainCooldown))
	if err != nil {
		return nil, eris.Wrap(err, "guard: count cooldowns")
	}
	return &Health{Suppressions: suppressions, ActiveCooldowns: cooldowns}, nil
}
