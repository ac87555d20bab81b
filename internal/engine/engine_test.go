package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/groveline/prospector/internal/channel"
	"github.com/groveline/prospector/internal/model"
	"github.com/groveline/prospector/internal/policy"
	"github.com/groveline/prospector/internal/resilience"
	"github.com/groveline/prospector/internal/sequence"
	"github.com/groveline/prospector/internal/store"
	"github.com/groveline/prospector/pkg/searchapi"
)

// stubSearch serves canned search results and page content.
type stubSearch struct {
	results map[string][]searchapi.Result // keyed by query substring
	pages   map[string]string             // keyed by URL substring
}

func (s *stubSearch) Search(ctx context.Context, query string, opts ...searchapi.SearchOption) ([]searchapi.Result, error) {
	for key, res := range s.results {
		if strings.Contains(query, key) {
			return res, nil
		}
	}
	return nil, nil
}

func (s *stubSearch) Fetch(ctx context.Context, pageURL string) (*searchapi.Page, error) {
	for key, content := range s.pages {
		if strings.Contains(pageURL, key) {
			return &searchapi.Page{URL: pageURL, Content: content}, nil
		}
	}
	return nil, fmt.Errorf("fetch %s: not found", pageURL)
}

// fakeSender records send requests and can be primed to fail.
type fakeSender struct {
	mu      sync.Mutex
	channel model.Channel
	sends   []channel.Request
	err     error
}

func (f *fakeSender) Channel() model.Channel { return f.channel }

func (f *fakeSender) Send(ctx context.Context, req channel.Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.sends = append(f.sends, req)
	return fmt.Sprintf("msg-%d", len(f.sends)), nil
}

type testEnv struct {
	store  store.Store
	engine *Engine
	search *stubSearch
	email  *fakeSender
	sms    *fakeSender
	org    *model.Organization
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "engine.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { st.Close() })

	search := &stubSearch{
		results: map[string][]searchapi.Result{},
		pages:   map[string]string{},
	}

	email := &fakeSender{channel: model.ChannelEmailSMTP}
	sms := &fakeSender{channel: model.ChannelSMS}
	registry := channel.NewRegistry()
	registry.Register(email)
	registry.Register(sms)

	eng, err := New(st, search, registry, policy.Defaults(), Config{
		SearchInterval: time.Millisecond,
	})
	require.NoError(t, err)
	eng.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	eng.sendDelay = func() time.Duration { return 0 }

	org := &model.Organization{
		ID:          uuid.New().String(),
		Name:        "Groveline Foods",
		SenderName:  "Sam Reyes",
		DailyVolume: 10,
		Keywords:    []string{"bakery"},
		Region:      "Portland OR",
		Active:      true,
	}
	require.NoError(t, st.CreateOrganization(context.Background(), org))

	return &testEnv{store: st, engine: eng, search: search, email: email, sms: sms, org: org}
}

func (env *testEnv) addAccount(t *testing.T, ch model.Channel, limit int) *model.SendingAccount {
	t.Helper()
	a := &model.SendingAccount{
		ID:         uuid.New().String(),
		OrgID:      env.org.ID,
		Channel:    ch,
		Address:    fmt.Sprintf("acct-%s@groveline-foods.com", uuid.New().String()[:8]),
		Status:     model.AccountStatusActive,
		DailyLimit: limit,
	}
	require.NoError(t, env.store.CreateAccount(context.Background(), a))
	return a
}

const bakeryPage = `# Rose Bakery

Fresh bread daily. Owner: Rose Delgado.
Email us at rose@rosebakery.com or call (503) 555-0188.
Best viewed in Internet Explorer 5.
`

func TestRunCycle_EndToEnd(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.addAccount(t, model.ChannelEmailSMTP, 50)
	env.search.results["bakery"] = []searchapi.Result{
		{Title: "Rose Bakery | Portland", URL: "https://www.rosebakery.com/"},
		{Title: "Best bakeries - Yelp", URL: "https://www.yelp.com/search?q=bakery"},
	}
	env.search.pages["rosebakery.com"] = bakeryPage

	summary, err := env.engine.RunCycle(ctx, env.org.ID)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Found, "directory results are filtered out")
	assert.Equal(t, 1, summary.Scraped)
	assert.Equal(t, 1, summary.Scored)
	assert.Equal(t, 1, summary.Ready)
	assert.Equal(t, 1, summary.Sent)
	assert.Empty(t, summary.Errors)

	leads, err := env.store.ListLeads(ctx, env.org.ID, store.LeadFilter{Status: model.LeadStatusSent})
	require.NoError(t, err)
	require.Len(t, leads, 1)
	lead := leads[0]
	assert.Equal(t, "rosebakery.com", lead.Domain)
	assert.Equal(t, "Rose Bakery", lead.Name)
	assert.Equal(t, 1, lead.SequencePosition)
	assert.Positive(t, lead.Score)
	assert.NotEmpty(t, lead.LastMessages)

	require.Len(t, env.email.sends, 1)
	assert.Equal(t, "rose@rosebakery.com", env.email.sends[0].To)

	steps, err := env.store.ListSteps(ctx, lead.ID)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, model.StepStatusSent, steps[0].Status)
	assert.NotEmpty(t, steps[0].MessageID)

	cd, err := env.store.GetDomainCooldown(ctx, env.org.ID, "rosebakery.com")
	require.NoError(t, err)
	require.NotNil(t, cd)
}

func TestRunCycle_NoContactLeadParksAsNoEmail(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.addAccount(t, model.ChannelEmailSMTP, 50)
	env.search.results["bakery"] = []searchapi.Result{
		{Title: "Ghost Bakery", URL: "https://ghostbakery.com/"},
	}
	env.search.pages["ghostbakery.com"] = "# Ghost Bakery\n\nWe bake things.\n"

	summary, err := env.engine.RunCycle(ctx, env.org.ID)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Found)
	assert.Equal(t, 0, summary.Scraped)
	assert.Equal(t, 1, summary.NoContact)
	assert.Equal(t, 0, summary.Sent)

	leads, err := env.store.ListLeads(ctx, env.org.ID, store.LeadFilter{Status: model.LeadStatusNoEmail})
	require.NoError(t, err)
	assert.Len(t, leads, 1)
}

func TestRunCycle_SecondRunSkipsKnownDomains(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.addAccount(t, model.ChannelEmailSMTP, 50)
	env.search.results["bakery"] = []searchapi.Result{
		{Title: "Rose Bakery", URL: "https://rosebakery.com/"},
	}
	env.search.pages["rosebakery.com"] = bakeryPage

	_, err := env.engine.RunCycle(ctx, env.org.ID)
	require.NoError(t, err)

	summary, err := env.engine.RunCycle(ctx, env.org.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Found)
}

func TestRunCycle_QuotaExhaustedDefersLeads(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// One send per day; two leads discovered.
	env.addAccount(t, model.ChannelEmailSMTP, 1)
	env.search.results["bakery"] = []searchapi.Result{
		{Title: "Rose Bakery", URL: "https://rosebakery.com/"},
		{Title: "Elm Deli", URL: "https://elmdeli.com/"},
	}
	env.search.pages["rosebakery.com"] = bakeryPage
	env.search.pages["elmdeli.com"] = strings.ReplaceAll(bakeryPage, "rosebakery.com", "elmdeli.com")

	summary, err := env.engine.RunCycle(ctx, env.org.ID)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Sent)
	assert.Equal(t, 1, summary.Deferred)
	require.Len(t, env.email.sends, 1)

	// The deferred lead stays ready for the next cycle.
	ready, err := env.store.ListLeads(ctx, env.org.ID, store.LeadFilter{Status: model.LeadStatusReady})
	require.NoError(t, err)
	assert.Len(t, ready, 1)
}

func TestRunCycle_FollowUpStepDispatches(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.addAccount(t, model.ChannelEmailSMTP, 50)
	env.addAccount(t, model.ChannelSMS, 50)
	env.search.results["bakery"] = []searchapi.Result{
		{Title: "Rose Bakery", URL: "https://rosebakery.com/"},
	}
	env.search.pages["rosebakery.com"] = bakeryPage

	// Opener plus an immediate sms follow-up with no pacing, so the
	// second cycle can dispatch step two right away.
	pol := policy.DefaultSequencePolicy()
	pol.Templates[policy.CategoryStorefront] = []policy.TemplateStep{
		{DayOffset: 0, Channel: model.ChannelEmailSMTP},
		{DayOffset: 0, Channel: model.ChannelSMS},
	}
	pol.MinGapHours = 0
	env.engine.planner = sequence.New(env.store, pol)

	_, err := env.engine.RunCycle(ctx, env.org.ID)
	require.NoError(t, err)
	require.Len(t, env.email.sends, 1)

	// The domain cooldown stamped by the opener must not block the
	// lead's own follow-up.
	summary, err := env.engine.RunCycle(ctx, env.org.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Sent)
	require.Len(t, env.sms.sends, 1)
	assert.Equal(t, "+15035550188", env.sms.sends[0].To)

	leads, err := env.store.ListLeads(ctx, env.org.ID, store.LeadFilter{Status: model.LeadStatusSent})
	require.NoError(t, err)
	require.Len(t, leads, 1)
	assert.Equal(t, 2, leads[0].SequencePosition)

	steps, err := env.store.ListSteps(ctx, leads[0].ID)
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, model.ChannelSMS, steps[1].Channel)
	assert.Equal(t, model.StepStatusSent, steps[1].Status)
}

func TestSendDelay_SlowConfigDerivesUpperBound(t *testing.T) {
	env := newTestEnv(t)

	registry := channel.NewRegistry()
	registry.Register(&fakeSender{channel: model.ChannelEmailSMTP})
	eng, err := New(env.store, env.search, registry, policy.Defaults(), Config{
		SendDelayMin: 2 * time.Minute,
	})
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		d := eng.sendDelay()
		assert.GreaterOrEqual(t, d, 2*time.Minute)
		assert.Less(t, d, 2*time.Minute+70*time.Second)
	}
}

func TestRunCycle_HardBounceSuppressesAddress(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	acct := env.addAccount(t, model.ChannelEmailSMTP, 50)
	env.email.err = resilience.NewPermanentError(fmt.Errorf("550 user unknown"), "bounce_hard")
	env.search.results["bakery"] = []searchapi.Result{
		{Title: "Rose Bakery", URL: "https://rosebakery.com/"},
	}
	env.search.pages["rosebakery.com"] = bakeryPage

	summary, err := env.engine.RunCycle(ctx, env.org.ID)
	require.NoError(t, err)

	assert.Equal(t, 0, summary.Sent)
	require.NotEmpty(t, summary.Errors)

	suppressed, err := env.store.IsSuppressed(ctx, env.org.ID, "rose@rosebakery.com")
	require.NoError(t, err)
	assert.True(t, suppressed)

	updated, err := env.store.GetAccount(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, updated.BounceCount)

	// The lead stays ready but the guard now denies its only address.
	ready, err := env.store.ListLeads(ctx, env.org.ID, store.LeadFilter{Status: model.LeadStatusReady})
	require.NoError(t, err)
	assert.Len(t, ready, 1)
}

func TestRunAllCycles_SkipsInactiveOrgs(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.store.CreateOrganization(ctx, &model.Organization{
		ID:       uuid.New().String(),
		Name:     "Dormant Co",
		Keywords: []string{"bakery"},
		Active:   false,
	}))
	env.addAccount(t, model.ChannelEmailSMTP, 50)
	env.search.results["bakery"] = []searchapi.Result{
		{Title: "Rose Bakery", URL: "https://rosebakery.com/"},
	}
	env.search.pages["rosebakery.com"] = bakeryPage

	require.NoError(t, env.engine.RunAllCycles(ctx))

	// Only the active org's lead exists.
	leads, err := env.store.ListLeads(ctx, env.org.ID, store.LeadFilter{})
	require.NoError(t, err)
	assert.Len(t, leads, 1)
}
