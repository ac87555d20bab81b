// Package engine runs the daily prospecting cycle: discover new leads,
// extract contact details, score the digital gap, then send the day's
// outreach under the deliverability guard.
package engine

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/groveline/prospector/internal/accountpool"
	"github.com/groveline/prospector/internal/channel"
	"github.com/groveline/prospector/internal/compose"
	"github.com/groveline/prospector/internal/extract"
	"github.com/groveline/prospector/internal/guard"
	"github.com/groveline/prospector/internal/model"
	"github.com/groveline/prospector/internal/policy"
	"github.com/groveline/prospector/internal/resilience"
	"github.com/groveline/prospector/internal/scorer"
	"github.com/groveline/prospector/internal/sequence"
	"github.com/groveline/prospector/internal/store"
	"github.com/groveline/prospector/pkg/searchapi"
)

// Config bounds one cycle's work. Zero values fall back to defaults.
type Config struct {
	// MaxQueriesPerRun caps discovery searches per cycle so one org with a
	// long keyword list cannot exhaust the search budget.
	MaxQueriesPerRun int `yaml:"max_queries_per_run" mapstructure:"max_queries_per_run"`
	// ExtractBatch caps how many found leads get their pages fetched per
	// cycle.
	ExtractBatch int `yaml:"extract_batch" mapstructure:"extract_batch"`
	// SendDelayMin/Max bound the randomized pause between consecutive
	// sends. Humans do not dispatch on a metronome.
	SendDelayMin time.Duration `yaml:"send_delay_min" mapstructure:"send_delay_min"`
	SendDelayMax time.Duration `yaml:"send_delay_max" mapstructure:"send_delay_max"`
	// OrgConcurrency bounds how many organizations cycle in parallel.
	OrgConcurrency int `yaml:"org_concurrency" mapstructure:"org_concurrency"`
	// SearchInterval paces discovery queries against the search API.
	SearchInterval time.Duration `yaml:"search_interval" mapstructure:"search_interval"`
	// DirectoryBlocklist replaces the built-in list of aggregator domains
	// skipped during discovery.
	DirectoryBlocklist []string `yaml:"directory_blocklist" mapstructure:"directory_blocklist"`
	// PagePaths and PageTimeout tune the contact extraction walk.
	PagePaths   []string      `yaml:"page_paths" mapstructure:"page_paths"`
	PageTimeout time.Duration `yaml:"page_timeout" mapstructure:"page_timeout"`
}

func (c Config) withDefaults() Config {
	if c.MaxQueriesPerRun <= 0 {
		c.MaxQueriesPerRun = 10
	}
	if c.ExtractBatch <= 0 {
		c.ExtractBatch = 50
	}
	if c.SendDelayMin <= 0 {
		c.SendDelayMin = 20 * time.Second
	}
	if c.SendDelayMax <= c.SendDelayMin {
		c.SendDelayMax = c.SendDelayMin + 70*time.Second
	}
	if c.OrgConcurrency <= 0 {
		c.OrgConcurrency = 2
	}
	if c.SearchInterval <= 0 {
		c.SearchInterval = 2 * time.Second
	}
	return c
}

// Engine wires the pipeline stages together over one Store.
type Engine struct {
	store     store.Store
	search    searchapi.Client
	extractor *extract.Extractor
	scorer    *scorer.Scorer
	composer  *compose.Composer
	planner   *sequence.Planner
	pool      *accountpool.Manager
	guard     *guard.Guard
	senders   *channel.Registry
	tables    policy.Tables
	cfg       Config

	searchLimiter *rate.Limiter
	directories   map[string]bool

	// extractions carries page signals from the extract phase to the
	// scoring phase within one process. Leads scored in a later run are
	// refetched instead.
	mu          sync.Mutex
	extractions map[string]*extract.Extraction

	// sleep and sendDelay are swapped out in tests so cycles finish in
	// milliseconds instead of minutes.
	sleep     func(ctx context.Context, d time.Duration) error
	sendDelay func() time.Duration
}

func (e *Engine) stashExtraction(leadID string, ex *extract.Extraction) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.extractions[leadID] = ex
}

func (e *Engine) takeExtraction(leadID string) *extract.Extraction {
	e.mu.Lock()
	defer e.mu.Unlock()
	ex := e.extractions[leadID]
	delete(e.extractions, leadID)
	return ex
}

// New assembles an Engine from its transports and policy tables.
func New(st store.Store, search searchapi.Client, senders *channel.Registry, tables policy.Tables, cfg Config) (*Engine, error) {
	composer, err := compose.New()
	if err != nil {
		return nil, eris.Wrap(err, "engine: build composer")
	}
	cfg = cfg.withDefaults()
	var exOpts []extract.Option
	if len(cfg.PagePaths) > 0 {
		exOpts = append(exOpts, extract.WithPagePaths(cfg.PagePaths))
	}
	if cfg.PageTimeout > 0 {
		exOpts = append(exOpts, extract.WithPageTimeout(cfg.PageTimeout))
	}
	e := &Engine{
		store:         st,
		search:        search,
		extractor:     extract.New(search, exOpts...),
		scorer:        scorer.New(tables.Scoring),
		composer:      composer,
		planner:       sequence.New(st, tables.Sequence),
		pool:          accountpool.New(st, tables.Warmup),
		guard:         guard.New(st, tables.Warmup),
		senders:       senders,
		tables:        tables,
		cfg:           cfg,
		searchLimiter: rate.NewLimiter(rate.Every(cfg.SearchInterval), 1),
		directories:   defaultDirectoryDomains,
		extractions:   make(map[string]*extract.Extraction),
	}
	if len(cfg.DirectoryBlocklist) > 0 {
		e.directories = make(map[string]bool, len(cfg.DirectoryBlocklist))
		for _, d := range cfg.DirectoryBlocklist {
			e.directories[strings.ToLower(d)] = true
		}
	}
	e.sleep = func(ctx context.Context, d time.Duration) error {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			return nil
		}
	}
	e.sendDelay = func() time.Duration {
		span := cfg.SendDelayMax - cfg.SendDelayMin
		return cfg.SendDelayMin + time.Duration(rand.Int63n(int64(span)))
	}
	return e, nil
}

// Pool exposes the account manager for schedulers and status endpoints.
func (e *Engine) Pool() *accountpool.Manager { return e.pool }

// Guard exposes the deliverability guard for status endpoints.
func (e *Engine) Guard() *guard.Guard { return e.guard }

// RunAllCycles runs one cycle per active organization, a bounded number
// at a time. Per-org failures are logged and do not stop the others.
func (e *Engine) RunAllCycles(ctx context.Context) error {
	orgs, err := e.store.ListOrganizations(ctx, true)
	if err != nil {
		return eris.Wrap(err, "engine: list organizations")
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.OrgConcurrency)
	for i := range orgs {
		org := orgs[i]
		g.Go(func() error {
			if _, err := e.RunCycle(ctx, org.ID); err != nil {
				zap.L().Error("engine: cycle failed",
					zap.String("org_id", org.ID),
					zap.String("org", org.Name),
					zap.Error(err),
				)
			}
			return nil
		})
	}
	return g.Wait()
}

// RunCycle executes one full cycle for an organization and records a
// CycleRun with its summary. The cycle is resumable: each phase picks up
// leads by status, so leads stranded by a crash are processed next run.
func (e *Engine) RunCycle(ctx context.Context, orgID string) (*model.RunSummary, error) {
	org, err := e.store.GetOrganization(ctx, orgID)
	if err != nil {
		return nil, eris.Wrap(err, "engine: load organization")
	}

	run, err := e.store.CreateCycleRun(ctx, orgID)
	if err != nil {
		return nil, eris.Wrap(err, "engine: create cycle run")
	}
	zap.L().Info("engine: cycle started",
		zap.String("org_id", orgID),
		zap.String("run_id", run.ID),
	)

	summary := &model.RunSummary{}

	e.discover(ctx, org, summary)
	e.extractPhase(ctx, org, summary)
	e.scorePhase(ctx, org, summary)
	e.sendPhase(ctx, org, summary)

	status := model.RunStatusComplete
	if ctx.Err() != nil {
		status = model.RunStatusFailed
		summary.AddError(ctx.Err().Error())
	}
	if err := e.store.CompleteCycleRun(ctx, run.ID, status, summary); err != nil {
		zap.L().Error("engine: record cycle run", zap.String("run_id", run.ID), zap.Error(err))
	}

	zap.L().Info("engine: cycle finished",
		zap.String("org_id", orgID),
		zap.Int("found", summary.Found),
		zap.Int("scraped", summary.Scraped),
		zap.Int("scored", summary.Scored),
		zap.Int("sent", summary.Sent),
		zap.Int("deferred", summary.Deferred),
		zap.Int("errors", len(summary.Errors)),
	)
	return summary, nil
}

// extractPhase walks found leads, fetches their pages, and stashes the
// extraction for the scoring phase. Leads with no contact method at all
// move to no_email; the rest move to scraped.
func (e *Engine) extractPhase(ctx context.Context, org *model.Organization, summary *model.RunSummary) {
	leads, err := e.store.ListLeads(ctx, org.ID, store.LeadFilter{
		Status: model.LeadStatusFound,
		Limit:  e.cfg.ExtractBatch,
	})
	if err != nil {
		summary.AddError(fmt.Sprintf("extract: list leads: %v", err))
		return
	}

	for i := range leads {
		lead := &leads[i]
		if ctx.Err() != nil {
			return
		}

		ex, err := e.extractor.Extract(ctx, lead)
		if err != nil {
			// Leave the lead in found; the next cycle retries it.
			summary.AddError(fmt.Sprintf("extract %s: %v", lead.Domain, err))
			continue
		}

		if len(ex.Contacts) == 0 {
			if err := e.store.UpdateLeadStatus(ctx, lead.ID, model.LeadStatusNoEmail); err != nil {
				summary.AddError(fmt.Sprintf("extract %s: %v", lead.Domain, err))
			} else {
				summary.NoContact++
			}
			continue
		}

		lead.Contacts = ex.Contacts
		lead.ContactName = ex.ContactName
		lead.Phone = ex.Phone
		lead.Category = scorer.Categorize(lead, ex)
		if err := e.store.UpdateLead(ctx, lead); err != nil {
			summary.AddError(fmt.Sprintf("extract %s: save: %v", lead.Domain, err))
			continue
		}
		if err := e.store.UpdateLeadStatus(ctx, lead.ID, model.LeadStatusScraped); err != nil {
			summary.AddError(fmt.Sprintf("extract %s: %v", lead.Domain, err))
			continue
		}
		e.stashExtraction(lead.ID, ex)
		summary.Scraped++
	}
}

// scorePhase scores scraped leads and promotes them to ready, top-N by
// score capped at the org's daily volume.
func (e *Engine) scorePhase(ctx context.Context, org *model.Organization, summary *model.RunSummary) {
	leads, err := e.store.ListLeads(ctx, org.ID, store.LeadFilter{
		Status: model.LeadStatusScraped,
		Limit:  e.cfg.ExtractBatch,
	})
	if err != nil {
		summary.AddError(fmt.Sprintf("score: list leads: %v", err))
		return
	}

	for i := range leads {
		lead := &leads[i]
		if ctx.Err() != nil {
			return
		}

		ex := e.takeExtraction(lead.ID)
		if ex == nil {
			// Scraped in an earlier run; refetch to rebuild the signals.
			ex, err = e.extractor.Extract(ctx, lead)
			if err != nil {
				summary.AddError(fmt.Sprintf("score %s: refetch: %v", lead.Domain, err))
				continue
			}
		}

		detail := e.scorer.Score(lead, ex)
		if detail.Total == 0 && !lead.HasContact() {
			if err := e.store.UpdateLeadStatus(ctx, lead.ID, model.LeadStatusNoContact); err != nil {
				summary.AddError(fmt.Sprintf("score %s: %v", lead.Domain, err))
			} else {
				summary.NoContact++
			}
			continue
		}

		lead.Score = detail.Total
		lead.ScoreDetail = detail
		if err := e.store.UpdateLead(ctx, lead); err != nil {
			summary.AddError(fmt.Sprintf("score %s: save: %v", lead.Domain, err))
			continue
		}
		if err := e.store.UpdateLeadStatus(ctx, lead.ID, model.LeadStatusScored); err != nil {
			summary.AddError(fmt.Sprintf("score %s: %v", lead.Domain, err))
			continue
		}
		summary.Scored++
	}

	// Promote the day's best scored leads to ready.
	scored, err := e.store.ListLeads(ctx, org.ID, store.LeadFilter{
		Status:       model.LeadStatusScored,
		OrderByScore: true,
		Limit:        org.DailyVolume,
	})
	if err != nil {
		summary.AddError(fmt.Sprintf("score: list scored: %v", err))
		return
	}
	for i := range scored {
		if err := e.store.UpdateLeadStatus(ctx, scored[i].ID, model.LeadStatusReady); err != nil {
			summary.AddError(fmt.Sprintf("score %s: promote: %v", scored[i].Domain, err))
			continue
		}
		summary.Ready++
	}
}

// sendPhase dispatches the next planned step for every lead with an open
// sequence: fresh ready leads plus sent and opened leads whose follow-up
// step has come due. The account is bound lazily so quota consumed
// earlier in the loop shifts later sends to other accounts.
func (e *Engine) sendPhase(ctx context.Context, org *model.Organization, summary *model.RunSummary) {
	var leads []model.Lead
	for _, status := range []model.LeadStatus{
		model.LeadStatusReady, model.LeadStatusSent, model.LeadStatusOpened,
	} {
		batch, err := e.store.ListLeads(ctx, org.ID, store.LeadFilter{
			Status:       status,
			OrderByScore: true,
			Limit:        org.DailyVolume,
		})
		if err != nil {
			summary.AddError(fmt.Sprintf("send: list %s leads: %v", status, err))
			return
		}
		leads = append(leads, batch...)
	}

	for i := range leads {
		lead := &leads[i]
		if ctx.Err() != nil {
			return
		}

		sent, err := e.sendOne(ctx, org, lead, summary)
		if err != nil {
			summary.AddError(fmt.Sprintf("send %s: %v", lead.Domain, err))
			continue
		}
		if sent && i < len(leads)-1 {
			if err := e.sleep(ctx, e.sendDelay()); err != nil {
				return
			}
		}
	}
}

func (e *Engine) sendOne(ctx context.Context, org *model.Organization, lead *model.Lead, summary *model.RunSummary) (bool, error) {
	plan, err := e.planner.Next(ctx, lead)
	if err != nil {
		return false, err
	}
	if plan.Step == nil {
		switch plan.Skip {
		case sequence.SkipNoContact:
			summary.NoContact++
		case sequence.SkipExhausted:
			// Sequence complete; nothing left to plan.
		default:
			summary.Deferred++
		}
		zap.L().Debug("engine: lead skipped",
			zap.String("domain", lead.Domain),
			zap.String("reason", string(plan.Skip)),
		)
		return false, nil
	}

	ch := plan.Step.Channel
	account, err := e.pool.SelectNext(ctx, org.ID, ch)
	if err != nil {
		if eris.Is(err, accountpool.ErrNoUsableAccount) {
			summary.Deferred++
			zap.L().Warn("engine: no usable account",
				zap.String("org_id", org.ID),
				zap.String("channel", string(ch)),
			)
			return false, nil
		}
		return false, err
	}

	decision, err := e.guard.CanSend(ctx, account, lead, ch)
	if err != nil {
		return false, err
	}
	if !decision.Allowed {
		summary.Deferred++
		zap.L().Info("engine: send denied",
			zap.String("domain", lead.Domain),
			zap.String("channel", string(ch)),
			zap.String("reason", string(decision.Reason)),
		)
		return false, nil
	}

	msg, err := e.composer.Compose(lead, org, ch, plan.Step.Position-1)
	if err != nil {
		return false, err
	}

	step := plan.Step
	step.OrgID = org.ID
	step.AccountID = account.ID
	step.Subject = msg.Subject
	step.Body = msg.Body
	if err := e.store.CreateStep(ctx, step); err != nil {
		return false, err
	}

	// The atomic counter bump is the authoritative quota gate; the guard's
	// check above was only a pre-screen.
	applied, err := e.pool.RecordSend(ctx, account)
	if err != nil {
		return false, err
	}
	if !applied {
		step.Status = model.StepStatusCancelled
		if err := e.store.UpdateStep(ctx, step); err != nil {
			return false, err
		}
		summary.Deferred++
		return false, nil
	}

	contact := lead.ContactFor(ch)
	sender, err := e.senders.For(account.Channel)
	if err != nil {
		return false, err
	}
	messageID, err := sender.Send(ctx, channel.Request{
		Account: account,
		Lead:    lead,
		To:      contact.Address,
		Message: msg,
	})
	if err != nil {
		if resilience.IsPermanent(err) {
			e.handleSendBounce(ctx, org.ID, lead, account, step, contact.Address)
			summary.AddError(fmt.Sprintf("send %s: hard bounce: %v", lead.Domain, err))
			return false, nil
		}
		step.Status = model.StepStatusCancelled
		if uerr := e.store.UpdateStep(ctx, step); uerr != nil {
			return false, uerr
		}
		return false, err
	}

	now := time.Now().UTC()
	step.Status = model.StepStatusSent
	step.MessageID = messageID
	step.SentAt = &now
	if err := e.store.UpdateStep(ctx, step); err != nil {
		return false, err
	}

	if err := e.guard.RecordContact(ctx, org.ID, lead.Domain); err != nil {
		zap.L().Error("engine: record domain contact",
			zap.String("domain", lead.Domain), zap.Error(err))
	}

	lead.SequencePosition = step.Position
	if lead.LastMessages == nil {
		lead.LastMessages = make(map[model.Channel]string)
	}
	lead.LastMessages[ch] = msg.Body
	if err := e.store.UpdateLead(ctx, lead); err != nil {
		return false, err
	}
	if err := e.store.UpdateLeadStatus(ctx, lead.ID, model.LeadStatusSent); err != nil {
		return false, err
	}

	zap.L().Info("engine: step sent",
		zap.String("domain", lead.Domain),
		zap.String("channel", string(ch)),
		zap.Int("position", step.Position),
		zap.String("account", account.Address),
	)
	summary.Sent++
	return true, nil
}

// handleSendBounce reacts to a hard rejection at send time: suppress the
// address, count the bounce against the account, and mark the step. The
// lead stays ready so a later cycle can try another contact method.
func (e *Engine) handleSendBounce(ctx context.Context, orgID string, lead *model.Lead, account *model.SendingAccount, step *model.SequenceStep, address string) {
	if err := e.guard.Suppress(ctx, orgID, address, model.SuppressionHardBounce, lead.ID); err != nil {
		zap.L().Error("engine: suppress bounced address", zap.Error(err))
	}
	if _, err := e.pool.RecordBounce(ctx, account.ID); err != nil {
		zap.L().Error("engine: record bounce", zap.String("account", account.ID), zap.Error(err))
	}
	step.Status = model.StepStatusBounced
	if err := e.store.UpdateStep(ctx, step); err != nil {
		zap.L().Error("engine: mark step bounced", zap.String("step", step.ID), zap.Error(err))
	}
}
