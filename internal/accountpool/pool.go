// Package accountpool owns sending identities: warmup progression, daily
// counters, health, and next-account selection.
package accountpool

import (
	"context"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/groveline/prospector/internal/model"
	"github.com/groveline/prospector/internal/policy"
	"github.com/groveline/prospector/internal/store"
)

// ErrNoUsableAccount is returned when every account for the requested
// channel is paused, errored, or out of quota.
var ErrNoUsableAccount = eris.New("accountpool: no usable account")

// Manager mediates all SendingAccount mutations. Counters are bumped
// through the store's guarded increments, never read-modify-write.
type Manager struct {
	store  store.Store
	warmup policy.WarmupCurve

	// BounceRateCeiling pauses an account whose bounce rate exceeds it.
	BounceRateCeiling float64
}

// New creates a Manager with the given warmup curve.
func New(st store.Store, warmup policy.WarmupCurve) *Manager {
	return &Manager{
		store:             st,
		warmup:            warmup,
		BounceRateCeiling: 0.05,
	}
}

// EffectiveLimit returns the account's current daily ceiling, the warmup
// cap applied on top of the owner-configured limit.
func (m *Manager) EffectiveLimit(a *model.SendingAccount) int {
	return m.warmup.EffectiveLimit(a)
}

// ListUsable returns the org's accounts that can still send on the given
// channel today, least-used first. Email channels are interchangeable.
func (m *Manager) ListUsable(ctx context.Context, orgID string, ch model.Channel) ([]model.SendingAccount, error) {
	accounts, err := m.store.ListAccounts(ctx, orgID)
	if err != nil {
		return nil, eris.Wrap(err, "accountpool: list accounts")
	}

	var usable []model.SendingAccount
	for _, a := range accounts {
		if !a.Usable() {
			continue
		}
		if a.Channel != ch && !(ch.IsEmail() && a.Channel.IsEmail()) {
			continue
		}
		if a.SentToday >= m.EffectiveLimit(&a) {
			continue
		}
		usable = append(usable, a)
	}

	// Least-loaded first; ties break on creation order so selection is
	// deterministic across runs.
	sort.SliceStable(usable, func(i, j int) bool {
		if usable[i].SentToday != usable[j].SentToday {
			return usable[i].SentToday < usable[j].SentToday
		}
		return usable[i].CreatedAt.Before(usable[j].CreatedAt)
	})
	return usable, nil
}

// SelectNext returns the least-used account with quota headroom for the
// channel, or ErrNoUsableAccount.
func (m *Manager) SelectNext(ctx context.Context, orgID string, ch model.Channel) (*model.SendingAccount, error) {
	usable, err := m.ListUsable(ctx, orgID, ch)
	if err != nil {
		return nil, err
	}
	if len(usable) == 0 {
		return nil, ErrNoUsableAccount
	}
	return &usable[0], nil
}

// RecordSend applies the quota-guarded counter bump for one dispatched
// message. It returns false when the account had no headroom left, which
// callers must treat as a refused send.
func (m *Manager) RecordSend(ctx context.Context, a *model.SendingAccount) (bool, error) {
	applied, err := m.store.IncrementSent(ctx, a.ID, m.EffectiveLimit(a))
	if err != nil {
		return false, eris.Wrap(err, "accountpool: record send")
	}
	if !applied {
		zap.L().Warn("accountpool: quota race lost, send refused",
			zap.String("account_id", a.ID),
			zap.Int("limit", m.EffectiveLimit(a)),
		)
	}
	return applied, nil
}

// RecordBounce bumps the bounce counter and pauses the account when its
// bounce rate crosses the ceiling. The check applies from the very first
// send: a bounce on a nearly-fresh account is the worst reputation
// signal there is, not noise to wait out.
func (m *Manager) RecordBounce(ctx context.Context, accountID string) (*model.SendingAccount, error) {
	a, err := m.store.IncrementBounce(ctx, accountID)
	if err != nil {
		return nil, eris.Wrap(err, "accountpool: record bounce")
	}

	if a.BounceRate() > m.BounceRateCeiling && a.Status != model.AccountStatusPaused {
		if err := m.store.SetAccountStatus(ctx, a.ID, model.AccountStatusPaused); err != nil {
			return nil, eris.Wrap(err, "accountpool: pause account")
		}
		a.Status = model.AccountStatusPaused
		zap.L().Warn("accountpool: account paused for bounce rate",
			zap.String("account_id", a.ID),
			zap.String("address", a.Address),
			zap.Float64("bounce_rate", a.BounceRate()),
			zap.Float64("ceiling", m.BounceRateCeiling),
		)
	}
	return a, nil
}

// ResetDaily zeroes every account's sent_today counter. Run once per
// calendar day before the cycle.
func (m *Manager) ResetDaily(ctx context.Context, orgID string) (int, error) {
	n, err := m.store.ResetDailyCounters(ctx, orgID)
	if err != nil {
		return 0, eris.Wrap(err, "accountpool: reset daily")
	}
	zap.L().Info("accountpool: daily counters reset",
		zap.String("org_id", orgID),
		zap.Int("accounts", n),
	)
	return n, nil
}

// AdvanceWarmupDay bumps every warming account's day counter and
// activates those that crossed the final curve threshold.
func (m *Manager) AdvanceWarmupDay(ctx context.Context, orgID string) (int, error) {
	n, err := m.store.AdvanceWarmup(ctx, orgID, m.warmup.FinalThreshold())
	if err != nil {
		return 0, eris.Wrap(err, "accountpool: advance warmup")
	}
	if n > 0 {
		zap.L().Info("accountpool: warmup advanced",
			zap.String("org_id", orgID),
			zap.Int("accounts", n),
		)
	}
	return n, nil
}

// AccountStatus is one row of the pool status snapshot.
type AccountStatus struct {
	ID             string              `json:"id"`
	Address        string              `json:"address"`
	Channel        model.Channel       `json:"channel"`
	Status         model.AccountStatus `json:"status"`
	WarmupDay      int                 `json:"warmup_day"`
	EffectiveLimit int                 `json:"effective_limit"`
	SentToday      int                 `json:"sent_today"`
	Remaining      int                 `json:"remaining"`
	BounceRate     float64             `json:"bounce_rate"`
	Reputation     float64             `json:"reputation"`
}

// Status returns a read-only pool snapshot for dashboards.
func (m *Manager) Status(ctx context.Context, orgID string) ([]AccountStatus, error) {
	accounts, err := m.store.ListAccounts(ctx, orgID)
	if err != nil {
		return nil, eris.Wrap(err, "accountpool: status")
	}

	out := make([]AccountStatus, 0, len(accounts))
	for _, a := range accounts {
		limit := m.EffectiveLimit(&a)
		remaining := limit - a.SentToday
		if remaining < 0 {
			remaining = 0
		}
		out = append(out, AccountStatus{
			ID:             a.ID,
			Address:        a.Address,
			Channel:        a.Channel,
			Status:         a.Status,
			WarmupDay:      a.WarmupDay,
			EffectiveLimit: limit,
			SentToday:      a.SentToday,
			Remaining:      remaining,
			BounceRate:     a.BounceRate(),
			Reputation:     a.Reputation,
		})
	}
	return out, nil
}
