package engine

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/groveline/prospector/internal/model"
	"github.com/groveline/prospector/internal/store"
)

// seedSentLead creates a lead that has already received its first email,
// with one planned follow-up on another channel.
func seedSentLead(t *testing.T, env *testEnv) (*model.Lead, *model.SequenceStep, *model.SequenceStep) {
	t.Helper()
	ctx := context.Background()

	lead := model.Lead{
		ID:     uuid.New().String(),
		OrgID:  env.org.ID,
		URL:    "https://rosebakery.com",
		Domain: "rosebakery.com",
		Name:   "Rose Bakery",
		Contacts: []model.ContactMethod{
			{Channel: model.ChannelEmailSMTP, Address: "rose@rosebakery.com", Personal: true},
			{Channel: model.ChannelSMS, Address: "+15035550188", Priority: 1},
		},
		Category: "storefront",
		Status:   model.LeadStatusFound,
	}
	_, err := env.store.UpsertLeads(ctx, []model.Lead{lead})
	require.NoError(t, err)
	for _, s := range []model.LeadStatus{
		model.LeadStatusScraped, model.LeadStatusScored,
		model.LeadStatusReady, model.LeadStatusSent,
	} {
		require.NoError(t, env.store.UpdateLeadStatus(ctx, lead.ID, s))
	}

	now := time.Now().UTC()
	sent := &model.SequenceStep{
		ID: uuid.New().String(), OrgID: env.org.ID, LeadID: lead.ID,
		Position: 1, Channel: model.ChannelEmailSMTP,
		Status: model.StepStatusSent, MessageID: "msg-1", SentAt: &now,
	}
	require.NoError(t, env.store.CreateStep(ctx, sent))

	planned := &model.SequenceStep{
		ID: uuid.New().String(), OrgID: env.org.ID, LeadID: lead.ID,
		Position: 2, Channel: model.ChannelSMS,
		Status: model.StepStatusPlanned,
	}
	require.NoError(t, env.store.CreateStep(ctx, planned))

	return &lead, sent, planned
}

func stepByID(t *testing.T, st store.Store, leadID, stepID string) *model.SequenceStep {
	t.Helper()
	steps, err := st.ListSteps(context.Background(), leadID)
	require.NoError(t, err)
	for i := range steps {
		if steps[i].ID == stepID {
			return &steps[i]
		}
	}
	t.Fatalf("step %s not found", stepID)
	return nil
}

func TestHandleEvent_ReplyStopsAllChannels(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	lead, _, planned := seedSentLead(t, env)

	err := env.engine.HandleEvent(ctx, &model.InboundEvent{
		Type: model.EventReplied, OrgID: env.org.ID, LeadID: lead.ID,
		Channel: model.ChannelEmailSMTP,
	})
	require.NoError(t, err)

	got, err := env.store.GetLead(ctx, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LeadStatusReplied, got.Status)

	// The planned sms follow-up is cancelled even though the reply came
	// in on email.
	assert.Equal(t, model.StepStatusCancelled, stepByID(t, env.store, lead.ID, planned.ID).Status)
}

func TestHandleEvent_BounceSuppressesAndCancels(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	acct := env.addAccount(t, model.ChannelEmailSMTP, 50)
	lead, sent, planned := seedSentLead(t, env)

	err := env.engine.HandleEvent(ctx, &model.InboundEvent{
		Type: model.EventBounced, OrgID: env.org.ID, LeadID: lead.ID,
		AccountID: acct.ID, Address: "rose@rosebakery.com", MessageID: "msg-1",
	})
	require.NoError(t, err)

	suppressed, err := env.store.IsSuppressed(ctx, env.org.ID, "rose@rosebakery.com")
	require.NoError(t, err)
	assert.True(t, suppressed)

	updated, err := env.store.GetAccount(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, updated.BounceCount)

	got, err := env.store.GetLead(ctx, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LeadStatusBounced, got.Status)

	assert.Equal(t, model.StepStatusBounced, stepByID(t, env.store, lead.ID, sent.ID).Status)
	assert.Equal(t, model.StepStatusCancelled, stepByID(t, env.store, lead.ID, planned.ID).Status)
}

func TestHandleEvent_UnsubscribeSuppresses(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	lead, _, planned := seedSentLead(t, env)

	err := env.engine.HandleEvent(ctx, &model.InboundEvent{
		Type: model.EventUnsubscribe, OrgID: env.org.ID, LeadID: lead.ID,
		Address: "Rose@RoseBakery.com",
	})
	require.NoError(t, err)

	// Suppression lookups normalize case.
	suppressed, err := env.store.IsSuppressed(ctx, env.org.ID, "rose@rosebakery.com")
	require.NoError(t, err)
	assert.True(t, suppressed)

	got, err := env.store.GetLead(ctx, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LeadStatusUnsubscribed, got.Status)
	assert.Equal(t, model.StepStatusCancelled, stepByID(t, env.store, lead.ID, planned.ID).Status)
}

func TestHandleEvent_OpenAdvancesLeadAndStep(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	lead, sent, _ := seedSentLead(t, env)

	err := env.engine.HandleEvent(ctx, &model.InboundEvent{
		Type: model.EventOpened, OrgID: env.org.ID, LeadID: lead.ID, MessageID: "msg-1",
	})
	require.NoError(t, err)

	got, err := env.store.GetLead(ctx, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LeadStatusOpened, got.Status)
	assert.Equal(t, model.StepStatusOpened, stepByID(t, env.store, lead.ID, sent.ID).Status)
}

func TestHandleEvent_OutOfOrderEventIsSwallowed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	lead, _, _ := seedSentLead(t, env)

	require.NoError(t, env.engine.HandleEvent(ctx, &model.InboundEvent{
		Type: model.EventReplied, OrgID: env.org.ID, LeadID: lead.ID,
	}))

	// A late open notification cannot pull the lead back out of replied.
	err := env.engine.HandleEvent(ctx, &model.InboundEvent{
		Type: model.EventOpened, OrgID: env.org.ID, LeadID: lead.ID, MessageID: "msg-1",
	})
	require.NoError(t, err)

	got, err := env.store.GetLead(ctx, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LeadStatusReplied, got.Status)
}

func TestHandleEvent_UnknownType(t *testing.T) {
	env := newTestEnv(t)
	err := env.engine.HandleEvent(context.Background(), &model.InboundEvent{Type: "forwarded"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown event type")
}

func TestDomainOf(t *testing.T) {
	cases := []struct {
		raw  string
		want string
	}{
		{"https://www.rosebakery.com/menu", "rosebakery.com"},
		{"http://ELMDELI.COM", "elmdeli.com"},
		{"https://sub.example.co.uk/", "sub.example.co.uk"},
		{"not a url", ""},
		{"https://localhost/", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, domainOf(tc.raw), tc.raw)
	}
}

func TestBusinessName(t *testing.T) {
	cases := []struct {
		title string
		want  string
	}{
		{"Rose Bakery | Portland's Finest", "Rose Bakery"},
		{"Elm Deli - Sandwiches", "Elm Deli"},
		{"Plain Title", "Plain Title"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, businessName(tc.title))
	}
}
