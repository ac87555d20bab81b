package guard

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/groveline/prospector/internal/model"
	"github.com/groveline/prospector/internal/policy"
	"github.com/groveline/prospector/internal/store"
)

func newTestGuard(t *testing.T) (*Guard, store.Store, string) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := store.NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	org := &model.Organization{Name: "Groveline Foods", Active: true}
	require.NoError(t, st.CreateOrganization(context.Background(), org))

	// CanSend re-reads the lead, so the canonical test lead must exist.
	_, err = st.UpsertLeads(context.Background(), []model.Lead{*guardLead(org.ID)})
	require.NoError(t, err)

	return New(st, policy.DefaultWarmupCurve()), st, org.ID
}

func guardLead(orgID string) *model.Lead {
	return &model.Lead{
		ID:     "lead-1",
		OrgID:  orgID,
		Domain: "rosebakery.com",
		Contacts: []model.ContactMethod{
			{Channel: model.ChannelEmailSMTP, Address: "rose@rosebakery.com", Priority: 0},
		},
	}
}

func healthyAccount() *model.SendingAccount {
	return &model.SendingAccount{
		ID:         "acct-1",
		Channel:    model.ChannelEmailSMTP,
		Address:    "sam@groveline-foods.com",
		Status:     model.AccountStatusActive,
		DailyLimit: 50,
		TotalSent:  100,
	}
}

func TestCanSend_Allowed(t *testing.T) {
	g, _, orgID := newTestGuard(t)

	d, err := g.CanSend(context.Background(), healthyAccount(), guardLead(orgID), model.ChannelEmailSMTP)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, DenyNone, d.Reason)
}

func TestCanSend_NoContactMethod(t *testing.T) {
	g, _, orgID := newTestGuard(t)

	lead := guardLead(orgID)
	lead.Contacts = nil

	d, err := g.CanSend(context.Background(), healthyAccount(), lead, model.ChannelEmailSMTP)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, DenyNoContactMethod, d.Reason)

	// A channel the lead has no address for is the same denial.
	d, err = g.CanSend(context.Background(), healthyAccount(), guardLead(orgID), model.ChannelSMS)
	require.NoError(t, err)
	assert.Equal(t, DenyNoContactMethod, d.Reason)
}

func TestCanSend_QuotaReached(t *testing.T) {
	g, _, orgID := newTestGuard(t)

	a := healthyAccount()
	a.SentToday = 50

	d, err := g.CanSend(context.Background(), a, guardLead(orgID), model.ChannelEmailSMTP)
	require.NoError(t, err)
	assert.Equal(t, DenyQuotaReached, d.Reason)
}

func TestCanSend_QuotaUsesWarmupCap(t *testing.T) {
	g, _, orgID := newTestGuard(t)

	a := healthyAccount()
	a.Status = model.AccountStatusWarmingUp
	a.WarmupDay = 1
	a.SentToday = 5 // at the day-1 cap of 5, well under daily_limit 50

	d, err := g.CanSend(context.Background(), a, guardLead(orgID), model.ChannelEmailSMTP)
	require.NoError(t, err)
	assert.Equal(t, DenyQuotaReached, d.Reason)
}

func TestCanSend_Suppressed(t *testing.T) {
	g, _, orgID := newTestGuard(t)
	ctx := context.Background()

	require.NoError(t, g.Suppress(ctx, orgID, "Rose@RoseBakery.com", model.SuppressionUnsubscribed, "lead-1"))

	d, err := g.CanSend(ctx, healthyAccount(), guardLead(orgID), model.ChannelEmailSMTP)
	require.NoError(t, err)
	assert.Equal(t, DenySuppressed, d.Reason)
	assert.True(t, d.RetryAt.IsZero(), "suppression is permanent")
}

func TestCanSend_DomainCooldown(t *testing.T) {
	g, _, orgID := newTestGuard(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return base }

	require.NoError(t, g.RecordContact(ctx, orgID, "rosebakery.com"))

	// Two days later the domain is still cooling down.
	g.now = func() time.Time { return base.Add(48 * time.Hour) }
	d, err := g.CanSend(ctx, healthyAccount(), guardLead(orgID), model.ChannelEmailSMTP)
	require.NoError(t, err)
	assert.Equal(t, DenyDomainCooldown, d.Reason)
	assert.Equal(t, base.Add(7*24*time.Hour), d.RetryAt)

	// Past the window the send is allowed again.
	g.now = func() time.Time { return base.Add(8 * 24 * time.Hour) }
	d, err = g.CanSend(ctx, healthyAccount(), guardLead(orgID), model.ChannelEmailSMTP)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestCanSend_FollowUpExemptFromDomainCooldown(t *testing.T) {
	g, _, orgID := newTestGuard(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return base }
	require.NoError(t, g.RecordContact(ctx, orgID, "rosebakery.com"))

	// Two days later the lead's own next step goes out despite the
	// cooldown its first contact stamped.
	g.now = func() time.Time { return base.Add(48 * time.Hour) }
	lead := guardLead(orgID)
	lead.SequencePosition = 1

	d, err := g.CanSend(ctx, healthyAccount(), lead, model.ChannelEmailSMTP)
	require.NoError(t, err)
	assert.True(t, d.Allowed, "cooldown throttles new leads, not follow-ups")
}

func TestCanSend_RepliedLeadDenied(t *testing.T) {
	g, st, orgID := newTestGuard(t)
	ctx := context.Background()

	for _, status := range []model.LeadStatus{
		model.LeadStatusScraped, model.LeadStatusScored,
		model.LeadStatusReady, model.LeadStatusReplied,
	} {
		require.NoError(t, st.UpdateLeadStatus(ctx, "lead-1", status))
	}

	// The caller holds a stale copy listed before the reply landed.
	stale := guardLead(orgID)
	stale.Status = model.LeadStatusReady

	d, err := g.CanSend(ctx, healthyAccount(), stale, model.ChannelEmailSMTP)
	require.NoError(t, err)
	assert.Equal(t, DenyLeadStopped, d.Reason)
}

func TestCanSend_AccountUnhealthy(t *testing.T) {
	g, st, orgID := newTestGuard(t)
	ctx := context.Background()

	t.Run("paused account", func(t *testing.T) {
		a := healthyAccount()
		a.Status = model.AccountStatusPaused

		d, err := g.CanSend(ctx, a, guardLead(orgID), model.ChannelEmailSMTP)
		require.NoError(t, err)
		assert.Equal(t, DenyAccountUnhealthy, d.Reason)
	})

	t.Run("bounce rate over ceiling pauses the account", func(t *testing.T) {
		a := healthyAccount()
		a.ID = ""
		a.OrgID = orgID
		a.TotalSent = 100
		a.BounceCount = 6 // 6% > 5%
		require.NoError(t, st.CreateAccount(ctx, a))

		d, err := g.CanSend(ctx, a, guardLead(orgID), model.ChannelEmailSMTP)
		require.NoError(t, err)
		assert.Equal(t, DenyAccountUnhealthy, d.Reason)

		// The denial escalated: the breach is persisted as a pause.
		stored, err := st.GetAccount(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, model.AccountStatusPaused, stored.Status)
	})

	t.Run("one bounce on a fresh account is enough", func(t *testing.T) {
		a := healthyAccount()
		a.ID = ""
		a.OrgID = orgID
		a.Address = "new@groveline-foods.com"
		a.TotalSent = 5
		a.BounceCount = 1 // 20% on a tiny sample still breaches
		require.NoError(t, st.CreateAccount(ctx, a))

		d, err := g.CanSend(ctx, a, guardLead(orgID), model.ChannelEmailSMTP)
		require.NoError(t, err)
		assert.Equal(t, DenyAccountUnhealthy, d.Reason)
		assert.Equal(t, model.AccountStatusPaused, a.Status)
	})
}

func TestCanSend_CheckOrderShortCircuits(t *testing.T) {
	g, _, orgID := newTestGuard(t)
	ctx := context.Background()

	// Lead is suppressed AND the account is over quota; quota is checked
	// first so it is the reported reason.
	require.NoError(t, g.Suppress(ctx, orgID, "rose@rosebakery.com", model.SuppressionUnsubscribed, "lead-1"))
	a := healthyAccount()
	a.SentToday = 50

	d, err := g.CanSend(ctx, a, guardLead(orgID), model.ChannelEmailSMTP)
	require.NoError(t, err)
	assert.Equal(t, DenyQuotaReached, d.Reason)
}

func TestDeliverabilityHealth(t *testing.T) {
	g, _, orgID := newTestGuard(t)
	ctx := context.Background()

	require.NoError(t, g.Suppress(ctx, orgID, "a@x.com", model.SuppressionHardBounce, ""))
	require.NoError(t, g.Suppress(ctx, orgID, "b@y.com", model.SuppressionUnsubscribed, ""))
	require.NoError(t, g.RecordContact(ctx, orgID, "x.com"))

	h, err := g.DeliverabilityHealth(ctx, orgID)
	require.NoError(t, err)
	assert.Equal(t, 2, h.Suppressions)
	assert.Equal(t, 1, h.ActiveCooldowns)
}
