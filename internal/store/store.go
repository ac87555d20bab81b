package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/groveline/prospector/internal/model"
)

// ErrIllegalTransition is returned when a lead status update violates the
// transition table.
var ErrIllegalTransition = eris.New("store: illegal lead status transition")

// ErrStale is returned when an optimistic update lost a race and should be
// re-read before retrying.
var ErrStale = eris.New("store: stale update")

// LeadFilter selects leads for a pipeline pass.
type LeadFilter struct {
	Status model.LeadStatus
	// OrderByScore ranks results by score descending instead of creation
	// order; used to pick the day's top-N for composition.
	OrderByScore bool
	Limit        int
}

// Store defines the persistence interface for the prospecting engine.
// All collections are organization-scoped.
type Store interface {
	// Organizations
	ListOrganizations(ctx context.Context, onlyActive bool) ([]model.Organization, error)
	GetOrganization(ctx context.Context, orgID string) (*model.Organization, error)
	CreateOrganization(ctx context.Context, org *model.Organization) error

	// Sending accounts. Counter mutations are atomic at the storage layer:
	// two concurrent sends against the same account must never race past
	// its quota.
	CreateAccount(ctx context.Context, a *model.SendingAccount) error
	GetAccount(ctx context.Context, accountID string) (*model.SendingAccount, error)
	ListAccounts(ctx context.Context, orgID string) ([]model.SendingAccount, error)
	// IncrementSent bumps sent_today/total_sent only while sent_today is
	// still below limit; reports whether the increment was applied.
	IncrementSent(ctx context.Context, accountID string, limit int) (bool, error)
	// IncrementBounce bumps bounce_count and returns the updated account.
	IncrementBounce(ctx context.Context, accountID string) (*model.SendingAccount, error)
	SetAccountStatus(ctx context.Context, accountID string, status model.AccountStatus) error
	// ResetDailyCounters zeroes sent_today for every account of the org.
	ResetDailyCounters(ctx context.Context, orgID string) (int, error)
	// AdvanceWarmup increments warmup_day on warming-up accounts and
	// promotes those past finalThreshold to active. Returns accounts touched.
	AdvanceWarmup(ctx context.Context, orgID string, finalThreshold int) (int, error)

	// Leads
	UpsertLeads(ctx context.Context, leads []model.Lead) (int64, error)
	GetLead(ctx context.Context, leadID string) (*model.Lead, error)
	UpdateLead(ctx context.Context, lead *model.Lead) error
	// UpdateLeadStatus enforces the lead transition table and optimistic
	// concurrency on the previous status.
	UpdateLeadStatus(ctx context.Context, leadID string, to model.LeadStatus) error
	ListLeads(ctx context.Context, orgID string, filter LeadFilter) ([]model.Lead, error)
	LeadDomainKnown(ctx context.Context, orgID, domain string) (bool, error)

	// Suppression list (append-only)
	AddSuppression(ctx context.Context, entry *model.SuppressionEntry) error
	IsSuppressed(ctx context.Context, orgID, address string) (bool, error)
	CountSuppressions(ctx context.Context, orgID string) (int, error)

	// Domain cooldown ledger
	GetDomainCooldown(ctx context.Context, orgID, domain string) (*model.DomainCooldown, error)
	TouchDomainCooldown(ctx context.Context, orgID, domain string, at time.Time) error
	CountActiveCooldowns(ctx context.Context, orgID string, since time.Time) (int, error)

	// Sequence steps
	CreateStep(ctx context.Context, step *model.SequenceStep) error
	UpdateStep(ctx context.Context, step *model.SequenceStep) error
	ListSteps(ctx context.Context, leadID string) ([]model.SequenceStep, error)
	// CancelFutureSteps marks every still-planned step for the lead as
	// cancelled, across all channels. Returns the number cancelled.
	CancelFutureSteps(ctx context.Context, leadID string) (int, error)
	// ExecutedByChannel counts executed steps per channel over the lead's
	// lifetime, for the per-lead channel ceilings.
	ExecutedByChannel(ctx context.Context, leadID string) (map[model.Channel]int, error)
	// LastContactAt returns the time of the lead's most recent executed
	// step and its channel; ok is false when the lead was never contacted.
	LastContactAt(ctx context.Context, leadID string) (time.Time, model.Channel, bool, error)

	// Cycle runs
	CreateCycleRun(ctx context.Context, orgID string) (*model.CycleRun, error)
	CompleteCycleRun(ctx context.Context, runID string, status model.RunStatus, summary *model.RunSummary) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
