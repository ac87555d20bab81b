package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/groveline/prospector/internal/db"
	"github.com/groveline/prospector/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool (used by tests with pgxmock).
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Pool returns the underlying database pool for bulk helpers.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS organizations (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	name         TEXT NOT NULL,
	sender_name  TEXT NOT NULL DEFAULT '',
	sender_title TEXT NOT NULL DEFAULT '',
	daily_volume INTEGER NOT NULL DEFAULT 25,
	keywords     JSONB NOT NULL DEFAULT '[]',
	region       TEXT NOT NULL DEFAULT '',
	active       BOOLEAN NOT NULL DEFAULT true,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS sending_accounts (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	org_id       TEXT NOT NULL REFERENCES organizations(id),
	channel      TEXT NOT NULL,
	address      TEXT NOT NULL,
	display_name TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL DEFAULT 'warming_up',
	warmup_day   INTEGER NOT NULL DEFAULT 1,
	daily_limit  INTEGER NOT NULL DEFAULT 50,
	sent_today   INTEGER NOT NULL DEFAULT 0,
	total_sent   INTEGER NOT NULL DEFAULT 0,
	bounce_count INTEGER NOT NULL DEFAULT 0,
	reputation   DOUBLE PRECISION NOT NULL DEFAULT 1.0,
	last_used_at TIMESTAMPTZ,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_accounts_org ON sending_accounts(org_id);
CREATE INDEX IF NOT EXISTS idx_accounts_org_status ON sending_accounts(org_id, status);

CREATE TABLE IF NOT EXISTS leads (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	org_id       TEXT NOT NULL REFERENCES organizations(id),
	url          TEXT NOT NULL,
	domain       TEXT NOT NULL,
	name         TEXT NOT NULL DEFAULT '',
	contact_name TEXT NOT NULL DEFAULT '',
	phone        TEXT NOT NULL DEFAULT '',
	contacts     JSONB NOT NULL DEFAULT '[]',
	category     TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL DEFAULT 'found',
	score        INTEGER NOT NULL DEFAULT 0,
	score_detail JSONB,
	last_messages JSONB NOT NULL DEFAULT '{}',
	sequence_position INTEGER NOT NULL DEFAULT 0,
	source       TEXT NOT NULL DEFAULT 'discovery',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (org_id, domain)
);

CREATE INDEX IF NOT EXISTS idx_leads_org_status ON leads(org_id, status);
CREATE INDEX IF NOT EXISTS idx_leads_org_score ON leads(org_id, score DESC);

CREATE TABLE IF NOT EXISTS suppressions (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	org_id     TEXT NOT NULL REFERENCES organizations(id),
	address    TEXT NOT NULL,
	reason     TEXT NOT NULL,
	lead_id    TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (org_id, address)
);

CREATE INDEX IF NOT EXISTS idx_suppressions_org_address ON suppressions(org_id, address);

CREATE TABLE IF NOT EXISTS domain_cooldowns (
	org_id            TEXT NOT NULL REFERENCES organizations(id),
	domain            TEXT NOT NULL,
	last_contacted_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (org_id, domain)
);

CREATE TABLE IF NOT EXISTS sequence_steps (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	org_id     TEXT NOT NULL REFERENCES organizations(id),
	lead_id    TEXT NOT NULL REFERENCES leads(id),
	account_id TEXT,
	position   INTEGER NOT NULL,
	day_offset INTEGER NOT NULL,
	channel    TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'planned',
	subject    TEXT NOT NULL DEFAULT '',
	body       TEXT NOT NULL DEFAULT '',
	message_id TEXT NOT NULL DEFAULT '',
	sent_at    TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_steps_lead ON sequence_steps(lead_id);
CREATE INDEX IF NOT EXISTS idx_steps_lead_status ON sequence_steps(lead_id, status);

CREATE TABLE IF NOT EXISTS cycle_runs (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	org_id       TEXT NOT NULL REFERENCES organizations(id),
	status       TEXT NOT NULL DEFAULT 'running',
	summary      JSONB,
	started_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_cycle_runs_org ON cycle_runs(org_id, started_at DESC);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// Organizations

func (s *PostgresStore) CreateOrganization(ctx context.Context, org *model.Organization) error {
	if org.ID == "" {
		org.ID = uuid.New().String()
	}
	if org.CreatedAt.IsZero() {
		org.CreatedAt = time.Now().UTC()
	}
	keywordsJSON, err := json.Marshal(org.Keywords)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal keywords")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO organizations (id, name, sender_name, sender_title, daily_volume, keywords, region, active, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		org.ID, org.Name, org.SenderName, org.SenderTitle, org.DailyVolume,
		keywordsJSON, org.Region, org.Active, org.CreatedAt,
	)
	return eris.Wrap(err, "postgres: insert organization")
}

func (s *PostgresStore) GetOrganization(ctx context.Context, orgID string) (*model.Organization, error) {
	var org model.Organization
	var keywordsJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, sender_name, sender_title, daily_volume, keywords, region, active, created_at
		 FROM organizations WHERE id = $1`,
		orgID,
	).Scan(&org.ID, &org.Name, &org.SenderName, &org.SenderTitle, &org.DailyVolume,
		&keywordsJSON, &org.Region, &org.Active, &org.CreatedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get organization %s", orgID)
	}
	if err := json.Unmarshal(keywordsJSON, &org.Keywords); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal keywords")
	}
	return &org, nil
}

func (s *PostgresStore) ListOrganizations(ctx context.Context, onlyActive bool) ([]model.Organization, error) {
	query := `SELECT id, name, sender_name, sender_title, daily_volume, keywords, region, active, created_at
	          FROM organizations`
	if onlyActive {
		query += ` WHERE active`
	}
	query += ` ORDER BY created_at`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list organizations")
	}
	defer rows.Close()

	var orgs []model.Organization
	for rows.Next() {
		var org model.Organization
		var keywordsJSON []byte
		if err := rows.Scan(&org.ID, &org.Name, &org.SenderName, &org.SenderTitle,
			&org.DailyVolume, &keywordsJSON, &org.Region, &org.Active, &org.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan organization")
		}
		if err := json.Unmarshal(keywordsJSON, &org.Keywords); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal keywords")
		}
		orgs = append(orgs, org)
	}
	return orgs, eris.Wrap(rows.Err(), "postgres: list organizations iterate")
}

// Sending accounts

const accountColumns = `id, org_id, channel, address, display_name, status, warmup_day,
	daily_limit, sent_today, total_sent, bounce_count, reputation, last_used_at, created_at, updated_at`

func scanAccount(row pgx.Row) (*model.SendingAccount, error) {
	var a model.SendingAccount
	err := row.Scan(&a.ID, &a.OrgID, &a.Channel, &a.Address, &a.DisplayName,
		&a.Status, &a.WarmupDay, &a.DailyLimit, &a.SentToday, &a.TotalSent,
		&a.BounceCount, &a.Reputation, &a.LastUsedAt, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *PostgresStore) CreateAccount(ctx context.Context, a *model.SendingAccount) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	if a.Status == "" {
		a.Status = model.AccountStatusWarmingUp
	}
	if a.WarmupDay == 0 {
		a.WarmupDay = 1
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO sending_accounts (id, org_id, channel, address, display_name, status, warmup_day,
		   daily_limit, sent_today, total_sent, bounce_count, reputation, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		a.ID, a.OrgID, string(a.Channel), a.Address, a.DisplayName, string(a.Status),
		a.WarmupDay, a.DailyLimit, a.SentToday, a.TotalSent, a.BounceCount,
		a.Reputation, a.CreatedAt, a.UpdatedAt,
	)
	return eris.Wrap(err, "postgres: insert account")
}

func (s *PostgresStore) GetAccount(ctx context.Context, accountID string) (*model.SendingAccount, error) {
	a, err := scanAccount(s.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM sending_accounts WHERE id = $1`, accountID))
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get account %s", accountID)
	}
	return a, nil
}

func (s *PostgresStore) ListAccounts(ctx context.Context, orgID string) ([]model.SendingAccount, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+accountColumns+` FROM sending_accounts WHERE org_id = $1 ORDER BY created_at`, orgID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list accounts")
	}
	defer rows.Close()

	var accounts []model.SendingAccount
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan account")
		}
		accounts = append(accounts, *a)
	}
	return accounts, eris.Wrap(rows.Err(), "postgres: list accounts iterate")
}

// IncrementSent applies the quota-guarded counter bump in a single
// statement. The WHERE clause is the compare half of the compare-and-swap:
// two concurrent callers cannot both pass it once the quota is exhausted.
func (s *PostgresStore) IncrementSent(ctx context.Context, accountID string, limit int) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sending_accounts
		 SET sent_today = sent_today + 1, total_sent = total_sent + 1,
		     last_used_at = now(), updated_at = now()
		 WHERE id = $1 AND sent_today < $2`,
		accountID, limit,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: increment sent %s", accountID)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) IncrementBounce(ctx context.Context, accountID string) (*model.SendingAccount, error) {
	a, err := scanAccount(s.pool.QueryRow(ctx,
		`UPDATE sending_accounts
		 SET bounce_count = bounce_count + 1, updated_at = now()
		 WHERE id = $1
		 RETURNING `+accountColumns,
		accountID,
	))
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: increment bounce %s", accountID)
	}
	return a, nil
}

func (s *PostgresStore) SetAccountStatus(ctx context.Context, accountID string, status model.AccountStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sending_accounts SET status = $1, updated_at = now() WHERE id = $2`,
		string(status), accountID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set account status %s", accountID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("account not found: %s", accountID)
	}
	return nil
}

func (s *PostgresStore) ResetDailyCounters(ctx context.Context, orgID string) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sending_accounts SET sent_today = 0, updated_at = now() WHERE org_id = $1`,
		orgID,
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: reset daily counters")
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) AdvanceWarmup(ctx context.Context, orgID string, finalThreshold int) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sending_accounts
		 SET warmup_day = warmup_day + 1,
		     status = CASE WHEN warmup_day + 1 >= $2 THEN 'active' ELSE status END,
		     updated_at = now()
		 WHERE org_id = $1 AND status = 'warming_up'`,
		orgID, finalThreshold,
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: advance warmup")
	}
	return int(tag.RowsAffected()), nil
}

// Leads

const leadColumns = `id, org_id, url, domain, name, contact_name, phone, contacts, category,
	status, score, score_detail, last_messages, sequence_position, source, created_at, updated_at`

func scanLead(row pgx.Row) (*model.Lead, error) {
	var l model.Lead
	var contactsJSON, messagesJSON []byte
	var detailJSON *[]byte
	err := row.Scan(&l.ID, &l.OrgID, &l.URL, &l.Domain, &l.Name, &l.ContactName,
		&l.Phone, &contactsJSON, &l.Category, &l.Status, &l.Score, &detailJSON,
		&messagesJSON, &l.SequencePosition, &l.Source, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(contactsJSON, &l.Contacts); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal contacts")
	}
	if err := json.Unmarshal(messagesJSON, &l.LastMessages); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal last messages")
	}
	if detailJSON != nil {
		l.ScoreDetail = &model.ScoreDetail{}
		if err := json.Unmarshal(*detailJSON, l.ScoreDetail); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal score detail")
		}
	}
	return &l, nil
}

// UpsertLeads bulk-inserts discovered or imported leads, updating nothing
// on conflict so known domains keep their pipeline state.
// bulkInsertThreshold is the batch size above which UpsertLeads switches
// from per-row inserts to a COPY through a temp table. Spreadsheet
// imports land thousands of rows; discovery lands dozens.
const bulkInsertThreshold = 100

func (s *PostgresStore) UpsertLeads(ctx context.Context, leads []model.Lead) (int64, error) {
	if len(leads) == 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	for i := range leads {
		l := &leads[i]
		if l.ID == "" {
			l.ID = uuid.New().String()
		}
		if l.Status == "" {
			l.Status = model.LeadStatusFound
		}
		if l.CreatedAt.IsZero() {
			l.CreatedAt = now
		}
		l.UpdatedAt = now
	}

	if len(leads) >= bulkInsertThreshold {
		return s.bulkInsertLeads(ctx, leads)
	}

	var inserted int64
	for i := range leads {
		l := &leads[i]
		contactsJSON, err := json.Marshal(l.Contacts)
		if err != nil {
			return inserted, eris.Wrap(err, "postgres: marshal contacts")
		}

		tag, err := s.pool.Exec(ctx,
			`INSERT INTO leads (id, org_id, url, domain, name, contact_name, phone, contacts,
			   category, status, score, sequence_position, source, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
			 ON CONFLICT (org_id, domain) DO NOTHING`,
			l.ID, l.OrgID, l.URL, l.Domain, l.Name, l.ContactName, l.Phone, contactsJSON,
			l.Category, string(l.Status), l.Score, l.SequencePosition, l.Source,
			l.CreatedAt, l.UpdatedAt,
		)
		if err != nil {
			return inserted, eris.Wrap(err, "postgres: upsert lead")
		}
		inserted += tag.RowsAffected()
	}
	return inserted, nil
}

func (s *PostgresStore) bulkInsertLeads(ctx context.Context, leads []model.Lead) (int64, error) {
	rows := make([][]any, 0, len(leads))
	for i := range leads {
		l := &leads[i]
		contactsJSON, err := json.Marshal(l.Contacts)
		if err != nil {
			return 0, eris.Wrap(err, "postgres: marshal contacts")
		}
		rows = append(rows, []any{
			l.ID, l.OrgID, l.URL, l.Domain, l.Name, l.ContactName, l.Phone, contactsJSON,
			l.Category, string(l.Status), l.Score, l.SequencePosition, l.Source,
			l.CreatedAt, l.UpdatedAt,
		})
	}

	return db.BulkInsertNew(ctx, s.pool, db.InsertConfig{
		Table: "leads",
		Columns: []string{
			"id", "org_id", "url", "domain", "name", "contact_name", "phone", "contacts",
			"category", "status", "score", "sequence_position", "source",
			"created_at", "updated_at",
		},
		ConflictKeys: []string{"org_id", "domain"},
	}, rows)
}

func (s *PostgresStore) GetLead(ctx context.Context, leadID string) (*model.Lead, error) {
	l, err := scanLead(s.pool.QueryRow(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE id = $1`, leadID))
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get lead %s", leadID)
	}
	return l, nil
}

// UpdateLead persists all mutable lead fields except status, which goes
// through UpdateLeadStatus so the transition table stays authoritative.
func (s *PostgresStore) UpdateLead(ctx context.Context, lead *model.Lead) error {
	contactsJSON, err := json.Marshal(lead.Contacts)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal contacts")
	}
	messagesJSON, err := json.Marshal(lead.LastMessages)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal last messages")
	}
	var detailJSON []byte
	if lead.ScoreDetail != nil {
		detailJSON, err = json.Marshal(lead.ScoreDetail)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal score detail")
		}
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE leads SET name = $1, contact_name = $2, phone = $3, contacts = $4,
		   category = $5, score = $6, score_detail = $7, last_messages = $8,
		   sequence_position = $9, updated_at = now()
		 WHERE id = $10`,
		lead.Name, lead.ContactName, lead.Phone, contactsJSON, lead.Category,
		lead.Score, detailJSON, messagesJSON, lead.SequencePosition, lead.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update lead %s", lead.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("lead not found: %s", lead.ID)
	}
	return nil
}

func (s *PostgresStore) UpdateLeadStatus(ctx context.Context, leadID string, to model.LeadStatus) error {
	var current model.LeadStatus
	err := s.pool.QueryRow(ctx,
		`SELECT status FROM leads WHERE id = $1`, leadID,
	).Scan(&current)
	if err != nil {
		return eris.Wrapf(err, "postgres: read lead status %s", leadID)
	}

	if current == to {
		return nil
	}
	if !model.CanTransition(current, to) {
		return eris.Wrapf(ErrIllegalTransition, "%s -> %s for lead %s", current, to, leadID)
	}

	// Optimistic check on the previous status: a racing event handler
	// (e.g. a reply landing mid-batch) wins, and the caller re-reads.
	tag, err := s.pool.Exec(ctx,
		`UPDATE leads SET status = $1, updated_at = now() WHERE id = $2 AND status = $3`,
		string(to), leadID, string(current),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update lead status %s", leadID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrStale, "lead %s changed from %s concurrently", leadID, current)
	}
	return nil
}

func (s *PostgresStore) ListLeads(ctx context.Context, orgID string, filter LeadFilter) ([]model.Lead, error) {
	query := `SELECT ` + leadColumns + ` FROM leads WHERE org_id = $1`
	args := []any{orgID}
	argIdx := 2

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.OrderByScore {
		query += ` ORDER BY score DESC, created_at`
	} else {
		query += ` ORDER BY created_at`
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list leads")
	}
	defer rows.Close()

	var leads []model.Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan lead")
		}
		leads = append(leads, *l)
	}
	return leads, eris.Wrap(rows.Err(), "postgres: list leads iterate")
}

func (s *PostgresStore) LeadDomainKnown(ctx context.Context, orgID, domain string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM leads WHERE org_id = $1 AND domain = $2)`,
		orgID, domain,
	).Scan(&exists)
	return exists, eris.Wrap(err, "postgres: lead domain known")
}

// Suppression list

func (s *PostgresStore) AddSuppression(ctx context.Context, entry *model.SuppressionEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	// Append-only: a duplicate keeps the original reason.
	_, err := s.pool.Exec(ctx,
		`INSERT INTO suppressions (id, org_id, address, reason, lead_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (org_id, address) DO NOTHING`,
		entry.ID, entry.OrgID, model.NormalizeAddress(entry.Address),
		string(entry.Reason), entry.LeadID, entry.CreatedAt,
	)
	return eris.Wrap(err, "postgres: add suppression")
}

func (s *PostgresStore) IsSuppressed(ctx context.Context, orgID, address string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM suppressions WHERE org_id = $1 AND address = $2)`,
		orgID, model.NormalizeAddress(address),
	).Scan(&exists)
	return exists, eris.Wrap(err, "postgres: is suppressed")
}

func (s *PostgresStore) CountSuppressions(ctx context.Context, orgID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM suppressions WHERE org_id = $1`, orgID,
	).Scan(&count)
	return count, eris.Wrap(err, "postgres: count suppressions")
}

// Domain cooldowns

func (s *PostgresStore) GetDomainCooldown(ctx context.Context, orgID, domain string) (*model.DomainCooldown, error) {
	var dc model.DomainCooldown
	err := s.pool.QueryRow(ctx,
		`SELECT org_id, domain, last_contacted_at FROM domain_cooldowns
		 WHERE org_id = $1 AND domain = $2`,
		orgID, domain,
	).Scan(&dc.OrgID, &dc.Domain, &dc.LastContactedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: get domain cooldown")
	}
	return &dc, nil
}

func (s *PostgresStore) TouchDomainCooldown(ctx context.Context, orgID, domain string, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO domain_cooldowns (org_id, domain, last_contacted_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (org_id, domain) DO UPDATE SET last_contacted_at = $3`,
		orgID, domain, at,
	)
	return eris.Wrap(err, "postgres: touch domain cooldown")
}

func (s *PostgresStore) CountActiveCooldowns(ctx context.Context, orgID string, since time.Time) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM domain_cooldowns WHERE org_id = $1 AND last_contacted_at > $2`,
		orgID, since,
	).Scan(&count)
	return count, eris.Wrap(err, "postgres: count active cooldowns")
}

// Sequence steps

const stepColumns = `id, org_id, lead_id, account_id, position, day_offset, channel,
	status, subject, body, message_id, sent_at, created_at`

func scanStep(row pgx.Row) (*model.SequenceStep, error) {
	var st model.SequenceStep
	var accountID *string
	err := row.Scan(&st.ID, &st.OrgID, &st.LeadID, &accountID, &st.Position,
		&st.DayOffset, &st.Channel, &st.Status, &st.Subject, &st.Body,
		&st.MessageID, &st.SentAt, &st.CreatedAt)
	if err != nil {
		return nil, err
	}
	if accountID != nil {
		st.AccountID = *accountID
	}
	return &st, nil
}

func (s *PostgresStore) CreateStep(ctx context.Context, step *model.SequenceStep) error {
	if step.ID == "" {
		step.ID = uuid.New().String()
	}
	if step.CreatedAt.IsZero() {
		step.CreatedAt = time.Now().UTC()
	}
	if step.Status == "" {
		step.Status = model.StepStatusPlanned
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sequence_steps (id, org_id, lead_id, account_id, position, day_offset,
		   channel, status, subject, body, message_id, sent_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		step.ID, step.OrgID, step.LeadID, nullable(step.AccountID), step.Position,
		step.DayOffset, string(step.Channel), string(step.Status), step.Subject,
		step.Body, step.MessageID, step.SentAt, step.CreatedAt,
	)
	return eris.Wrap(err, "postgres: insert step")
}

func (s *PostgresStore) UpdateStep(ctx context.Context, step *model.SequenceStep) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sequence_steps SET account_id = $1, status = $2, subject = $3,
		   body = $4, message_id = $5, sent_at = $6
		 WHERE id = $7`,
		nullable(step.AccountID), string(step.Status), step.Subject, step.Body,
		step.MessageID, step.SentAt, step.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update step %s", step.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("step not found: %s", step.ID)
	}
	return nil
}

func (s *PostgresStore) ListSteps(ctx context.Context, leadID string) ([]model.SequenceStep, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+stepColumns+` FROM sequence_steps WHERE lead_id = $1 ORDER BY position`, leadID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list steps")
	}
	defer rows.Close()

	var steps []model.SequenceStep
	for rows.Next() {
		st, err := scanStep(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan step")
		}
		steps = append(steps, *st)
	}
	return steps, eris.Wrap(rows.Err(), "postgres: list steps iterate")
}

func (s *PostgresStore) CancelFutureSteps(ctx context.Context, leadID string) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sequence_steps SET status = 'cancelled' WHERE lead_id = $1 AND status = 'planned'`,
		leadID,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: cancel future steps %s", leadID)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) ExecutedByChannel(ctx context.Context, leadID string) (map[model.Channel]int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT channel, COUNT(*) FROM sequence_steps
		 WHERE lead_id = $1 AND status NOT IN ('planned', 'cancelled')
		 GROUP BY channel`,
		leadID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: executed by channel")
	}
	defer rows.Close()

	counts := make(map[model.Channel]int)
	for rows.Next() {
		var ch string
		var n int
		if err := rows.Scan(&ch, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan channel count")
		}
		counts[model.Channel(ch)] = n
	}
	return counts, eris.Wrap(rows.Err(), "postgres: executed by channel iterate")
}

func (s *PostgresStore) LastContactAt(ctx context.Context, leadID string) (time.Time, model.Channel, bool, error) {
	var at time.Time
	var ch string
	err := s.pool.QueryRow(ctx,
		`SELECT sent_at, channel FROM sequence_steps
		 WHERE lead_id = $1 AND sent_at IS NOT NULL
		 ORDER BY sent_at DESC LIMIT 1`,
		leadID,
	).Scan(&at, &ch)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, "", false, nil
		}
		return time.Time{}, "", false, eris.Wrap(err, "postgres: last contact at")
	}
	return at, model.Channel(ch), true, nil
}

// Cycle runs

func (s *PostgresStore) CreateCycleRun(ctx context.Context, orgID string) (*model.CycleRun, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO cycle_runs (id, org_id, status, started_at) VALUES ($1, $2, $3, $4)`,
		id, orgID, string(model.RunStatusRunning), now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert cycle run")
	}

	return &model.CycleRun{
		ID:        id,
		OrgID:     orgID,
		Status:    model.RunStatusRunning,
		StartedAt: now,
	}, nil
}

func (s *PostgresStore) CompleteCycleRun(ctx context.Context, runID string, status model.RunStatus, summary *model.RunSummary) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal run summary")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE cycle_runs SET status = $1, summary = $2, completed_at = $3 WHERE id = $4`,
		string(status), summaryJSON, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete cycle run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("cycle run not found: %s", runID)
	}
	return nil
}

// nullable converts an empty string to a NULL parameter.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
