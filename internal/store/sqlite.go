package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/groveline/prospector/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. It is intended
// for single-operator installs and local development.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS organizations (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	sender_name  TEXT NOT NULL DEFAULT '',
	sender_title TEXT NOT NULL DEFAULT '',
	daily_volume INTEGER NOT NULL DEFAULT 25,
	keywords     TEXT NOT NULL DEFAULT '[]',
	region       TEXT NOT NULL DEFAULT '',
	active       INTEGER NOT NULL DEFAULT 1,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS sending_accounts (
	id           TEXT PRIMARY KEY,
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
	reputation   REAL NOT NULL DEFAULT 1.0,
	last_used_at DATETIME,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_accounts_org ON sending_accounts(org_id);
CREATE INDEX IF NOT EXISTS idx_accounts_org_status ON sending_accounts(org_id, status);

CREATE TABLE IF NOT EXISTS leads (
	id           TEXT PRIMARY KEY,
	org_id       TEXT NOT NULL REFERENCES organizations(id),
	url          TEXT NOT NULL,
	domain       TEXT NOT NULL,
	name         TEXT NOT NULL DEFAULT '',
	contact_name TEXT NOT NULL DEFAULT '',
	phone        TEXT NOT NULL DEFAULT '',
	contacts     TEXT NOT NULL DEFAULT '[]',
	category     TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL DEFAULT 'found',
	score        INTEGER NOT NULL DEFAULT 0,
	score_detail TEXT,
	last_messages TEXT NOT NULL DEFAULT '{}',
	sequence_position INTEGER NOT NULL DEFAULT 0,
	source       TEXT NOT NULL DEFAULT 'discovery',
	created_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (org_id, domain)
);

CREATE INDEX IF NOT EXISTS idx_leads_org_status ON leads(org_id, status);
CREATE INDEX IF NOT EXISTS idx_leads_org_score ON leads(org_id, score DESC);

CREATE TABLE IF NOT EXISTS suppressions (
	id         TEXT PRIMARY KEY,
	org_id     TEXT NOT NULL REFERENCES organizations(id),
	address    TEXT NOT NULL,
	reason     TEXT NOT NULL,
	lead_id    TEXT,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (org_id, address)
);

CREATE TABLE IF NOT EXISTS domain_cooldowns (
	org_id            TEXT NOT NULL REFERENCES organizations(id),
	domain            TEXT NOT NULL,
	last_contacted_at DATETIME NOT NULL,
	PRIMARY KEY (org_id, domain)
);

CREATE TABLE IF NOT EXISTS sequence_steps (
	id         TEXT PRIMARY KEY,
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
	sent_at    DATETIME,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_steps_lead ON sequence_steps(lead_id);
CREATE INDEX IF NOT EXISTS idx_steps_lead_status ON sequence_steps(lead_id, status);

CREATE TABLE IF NOT EXISTS cycle_runs (
	id           TEXT PRIMARY KEY,
	org_id       TEXT NOT NULL REFERENCES organizations(id),
	status       TEXT NOT NULL DEFAULT 'running',
	summary      TEXT,
	started_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	completed_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_cycle_runs_org ON cycle_runs(org_id, started_at DESC);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func checkRowsAffected(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", kind, id)
	}
	return nil
}

// Organizations

func (s *SQLiteStore) CreateOrganization(ctx context.Context, org *model.Organization) error {
	if org.ID == "" {
		org.ID = uuid.New().String()
	}
	if org.CreatedAt.IsZero() {
		org.CreatedAt = time.Now().UTC()
	}
	keywordsJSON, err := json.Marshal(org.Keywords)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal keywords")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO organizations (id, name, sender_name, sender_title, daily_volume, keywords, region, active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		org.ID, org.Name, org.SenderName, org.SenderTitle, org.DailyVolume,
		string(keywordsJSON), org.Region, org.Active, org.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: insert organization")
}

func (s *SQLiteStore) GetOrganization(ctx context.Context, orgID string) (*model.Organization, error) {
	var org model.Organization
	var keywordsJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, sender_name, sender_title, daily_volume, keywords, region, active, created_at
		 FROM organizations WHERE id = ?`,
		orgID,
	).Scan(&org.ID, &org.Name, &org.SenderName, &org.SenderTitle, &org.DailyVolume,
		&keywordsJSON, &org.Region, &org.Active, &org.CreatedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get organization %s", orgID)
	}
	if err := json.Unmarshal([]byte(keywordsJSON), &org.Keywords); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal keywords")
	}
	return &org, nil
}

func (s *SQLiteStore) ListOrganizations(ctx context.Context, onlyActive bool) ([]model.Organization, error) {
	query := `SELECT id, name, sender_name, sender_title, daily_volume, keywords, region, active, created_at
	          FROM organizations`
	if onlyActive {
		query += ` WHERE active = 1`
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list organizations")
	}
	defer rows.Close()

	var orgs []model.Organization
	for rows.Next() {
		var org model.Organization
		var keywordsJSON string
		if err := rows.Scan(&org.ID, &org.Name, &org.SenderName, &org.SenderTitle,
			&org.DailyVolume, &keywordsJSON, &org.Region, &org.Active, &org.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan organization")
		}
		if err := json.Unmarshal([]byte(keywordsJSON), &org.Keywords); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal keywords")
		}
		orgs = append(orgs, org)
	}
	return orgs, eris.Wrap(rows.Err(), "sqlite: list organizations iterate")
}

// Sending accounts

type sqlRow interface {
	Scan(dest ...any) error
}

func scanSQLAccount(row sqlRow) (*model.SendingAccount, error) {
	var a model.SendingAccount
	var lastUsed sql.NullTime
	err := row.Scan(&a.ID, &a.OrgID, &a.Channel, &a.Address, &a.DisplayName,
		&a.Status, &a.WarmupDay, &a.DailyLimit, &a.SentToday, &a.TotalSent,
		&a.BounceCount, &a.Reputation, &lastUsed, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if lastUsed.Valid {
		a.LastUsedAt = &lastUsed.Time
	}
	return &a, nil
}

func (s *SQLiteStore) CreateAccount(ctx context.Context, a *model.SendingAccount) error {
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

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sending_accounts (id, org_id, channel, address, display_name, status, warmup_day,
		   daily_limit, sent_today, total_sent, bounce_count, reputation, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.OrgID, string(a.Channel), a.Address, a.DisplayName, string(a.Status),
		a.WarmupDay, a.DailyLimit, a.SentToday, a.TotalSent, a.BounceCount,
		a.Reputation, a.CreatedAt, a.UpdatedAt,
	)
	return eris.Wrap(err, "sqlite: insert account")
}

func (s *SQLiteStore) GetAccount(ctx context.Context, accountID string) (*model.SendingAccount, error) {
	a, err := scanSQLAccount(s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM sending_accounts WHERE id = ?`, accountID))
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get account %s", accountID)
	}
	return a, nil
}

func (s *SQLiteStore) ListAccounts(ctx context.Context, orgID string) ([]model.SendingAccount, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+accountColumns+` FROM sending_accounts WHERE org_id = ? ORDER BY created_at`, orgID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list accounts")
	}
	defer rows.Close()

	var accounts []model.SendingAccount
	for rows.Next() {
		a, err := scanSQLAccount(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan account")
		}
		accounts = append(accounts, *a)
	}
	return accounts, eris.Wrap(rows.Err(), "sqlite: list accounts iterate")
}

func (s *SQLiteStore) IncrementSent(ctx context.Context, accountID string, limit int) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sending_accounts
		 SET sent_today = sent_today + 1, total_sent = total_sent + 1,
		     last_used_at = datetime('now'), updated_at = datetime('now')
		 WHERE id = ? AND sent_today < ?`,
		accountID, limit,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: increment sent %s", accountID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n > 0, nil
}

func (s *SQLiteStore) IncrementBounce(ctx context.Context, accountID string) (*model.SendingAccount, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sending_accounts
		 SET bounce_count = bounce_count + 1, updated_at = datetime('now')
		 WHERE id = ?`,
		accountID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: increment bounce %s", accountID)
	}
	if err := checkRowsAffected(res, "account", accountID); err != nil {
		return nil, err
	}
	return s.GetAccount(ctx, accountID)
}

func (s *SQLiteStore) SetAccountStatus(ctx context.Context, accountID string, status model.AccountStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sending_accounts SET status = ?, updated_at = datetime('now') WHERE id = ?`,
		string(status), accountID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set account status %s", accountID)
	}
	return checkRowsAffected(res, "account", accountID)
}

func (s *SQLiteStore) ResetDailyCounters(ctx context.Context, orgID string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sending_accounts SET sent_today = 0, updated_at = datetime('now') WHERE org_id = ?`,
		orgID,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: reset daily counters")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: rows affected")
	}
	return int(n), nil
}

func (s *SQLiteStore) AdvanceWarmup(ctx context.Context, orgID string, finalThreshold int) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sending_accounts
		 SET warmup_day = warmup_day + 1,
		     status = CASE WHEN warmup_day + 1 >= ? THEN 'active' ELSE status END,
		     updated_at = datetime('now')
		 WHERE org_id = ? AND status = 'warming_up'`,
		finalThreshold, orgID,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: advance warmup")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: rows affected")
	}
	return int(n), nil
}

// Leads

func scanSQLLead(row sqlRow) (*model.Lead, error) {
	var l model.Lead
	var contactsJSON, messagesJSON string
	var detailJSON sql.NullString
	err := row.Scan(&l.ID, &l.OrgID, &l.URL, &l.Domain, &l.Name, &l.ContactName,
		&l.Phone, &contactsJSON, &l.Category, &l.Status, &l.Score, &detailJSON,
		&messagesJSON, &l.SequencePosition, &l.Source, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(contactsJSON), &l.Contacts); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal contacts")
	}
	if err := json.Unmarshal([]byte(messagesJSON), &l.LastMessages); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal last messages")
	}
	if detailJSON.Valid {
		l.ScoreDetail = &model.ScoreDetail{}
		if err := json.Unmarshal([]byte(detailJSON.String), l.ScoreDetail); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal score detail")
		}
	}
	return &l, nil
}

func (s *SQLiteStore) UpsertLeads(ctx context.Context, leads []model.Lead) (int64, error) {
	if len(leads) == 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	var inserted int64
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

		contactsJSON, err := json.Marshal(l.Contacts)
		if err != nil {
			return inserted, eris.Wrap(err, "sqlite: marshal contacts")
		}

		res, err := s.db.ExecContext(ctx,
			`INSERT INTO leads (id, org_id, url, domain, name, contact_name, phone, contacts,
			   category, status, score, sequence_position, source, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (org_id, domain) DO NOTHING`,
			l.ID, l.OrgID, l.URL, l.Domain, l.Name, l.ContactName, l.Phone,
			string(contactsJSON), l.Category, string(l.Status), l.Score,
			l.SequencePosition, l.Source, l.CreatedAt, l.UpdatedAt,
		)
		if err != nil {
			return inserted, eris.Wrap(err, "sqlite: upsert lead")
		}
		n, err := res.RowsAffected()
		if err != nil {
			return inserted, eris.Wrap(err, "sqlite: rows affected")
		}
		inserted += n
	}
	return inserted, nil
}

func (s *SQLiteStore) GetLead(ctx context.Context, leadID string) (*model.Lead, error) {
	l, err := scanSQLLead(s.db.QueryRowContext(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE id = ?`, leadID))
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get lead %s", leadID)
	}
	return l, nil
}

func (s *SQLiteStore) UpdateLead(ctx context.Context, lead *model.Lead) error {
	contactsJSON, err := json.Marshal(lead.Contacts)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal contacts")
	}
	messagesJSON, err := json.Marshal(lead.LastMessages)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal last messages")
	}
	var detailJSON any
	if lead.ScoreDetail != nil {
		b, err := json.Marshal(lead.ScoreDetail)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal score detail")
		}
		detailJSON = string(b)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE leads SET name = ?, contact_name = ?, phone = ?, contacts = ?,
		   category = ?, score = ?, score_detail = ?, last_messages = ?,
		   sequence_position = ?, updated_at = datetime('now')
		 WHERE id = ?`,
		lead.Name, lead.ContactName, lead.Phone, string(contactsJSON), lead.Category,
		lead.Score, detailJSON, string(messagesJSON), lead.SequencePosition, lead.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update lead %s", lead.ID)
	}
	return checkRowsAffected(res, "lead", lead.ID)
}

func (s *SQLiteStore) UpdateLeadStatus(ctx context.Context, leadID string, to model.LeadStatus) error {
	var current model.LeadStatus
	err := s.db.QueryRowContext(ctx,
		`SELECT status FROM leads WHERE id = ?`, leadID,
	).Scan(&current)
	if err != nil {
		return eris.Wrapf(err, "sqlite: read lead status %s", leadID)
	}

	if current == to {
		return nil
	}
	if !model.CanTransition(current, to) {
		return eris.Wrapf(ErrIllegalTransition, "%s -> %s for lead %s", current, to, leadID)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE leads SET status = ?, updated_at = datetime('now') WHERE id = ? AND status = ?`,
		string(to), leadID, string(current),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update lead status %s", leadID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrStale, "lead %s changed from %s concurrently", leadID, current)
	}
	return nil
}

func (s *SQLiteStore) ListLeads(ctx context.Context, orgID string, filter LeadFilter) ([]model.Lead, error) {
	query := `SELECT ` + leadColumns + ` FROM leads WHERE org_id = ?`
	args := []any{orgID}

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
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
	query += fmt.Sprintf(` LIMIT %d`, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list leads")
	}
	defer rows.Close()

	var leads []model.Lead
	for rows.Next() {
		l, err := scanSQLLead(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan lead")
		}
		leads = append(leads, *l)
	}
	return leads, eris.Wrap(rows.Err(), "sqlite: list leads iterate")
}

func (s *SQLiteStore) LeadDomainKnown(ctx context.Context, orgID, domain string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM leads WHERE org_id = ? AND domain = ?)`,
		orgID, domain,
	).Scan(&exists)
	return exists, eris.Wrap(err, "sqlite: lead domain known")
}

// Suppression list

func (s *SQLiteStore) AddSuppression(ctx context.Context, entry *model.SuppressionEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO suppressions (id, org_id, address, reason, lead_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (org_id, address) DO NOTHING`,
		entry.ID, entry.OrgID, model.NormalizeAddress(entry.Address),
		string(entry.Reason), entry.LeadID, entry.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: add suppression")
}

func (s *SQLiteStore) IsSuppressed(ctx context.Context, orgID, address string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM suppressions WHERE org_id = ? AND address = ?)`,
		orgID, model.NormalizeAddress(address),
	).Scan(&exists)
	return exists, eris.Wrap(err, "sqlite: is suppressed")
}

func (s *SQLiteStore) CountSuppressions(ctx context.Context, orgID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM suppressions WHERE org_id = ?`, orgID,
	).Scan(&count)
	return count, eris.Wrap(err, "sqlite: count suppressions")
}

// Domain cooldowns

func (s *SQLiteStore) GetDomainCooldown(ctx context.Context, orgID, domain string) (*model.DomainCooldown, error) {
	var dc model.DomainCooldown
	err := s.db.QueryRowContext(ctx,
		`SELECT org_id, domain, last_contacted_at FROM domain_cooldowns
		 WHERE org_id = ? AND domain = ?`,
		orgID, domain,
	).Scan(&dc.OrgID, &dc.Domain, &dc.LastContactedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "sqlite: get domain cooldown")
	}
	return &dc, nil
}

func (s *SQLiteStore) TouchDomainCooldown(ctx context.Context, orgID, domain string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO domain_cooldowns (org_id, domain, last_contacted_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT (org_id, domain) DO UPDATE SET last_contacted_at = excluded.last_contacted_at`,
		orgID, domain, at,
	)
	return eris.Wrap(err, "sqlite: touch domain cooldown")
}

func (s *SQLiteStore) CountActiveCooldowns(ctx context.Context, orgID string, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM domain_cooldowns WHERE org_id = ? AND last_contacted_at > ?`,
		orgID, since,
	).Scan(&count)
	return count, eris.Wrap(err, "sqlite: count active cooldowns")
}

// Sequence steps

func scanSQLStep(row sqlRow) (*model.SequenceStep, error) {
	var st model.SequenceStep
	var accountID sql.NullString
	var sentAt sql.NullTime
	err := row.Scan(&st.ID, &st.OrgID, &st.LeadID, &accountID, &st.Position,
		&st.DayOffset, &st.Channel, &st.Status, &st.Subject, &st.Body,
		&st.MessageID, &sentAt, &st.CreatedAt)
	if err != nil {
		return nil, err
	}
	if accountID.Valid {
		st.AccountID = accountID.String
	}
	if sentAt.Valid {
		st.SentAt = &sentAt.Time
	}
	return &st, nil
}

func (s *SQLiteStore) CreateStep(ctx context.Context, step *model.SequenceStep) error {
	if step.ID == "" {
		step.ID = uuid.New().String()
	}
	if step.CreatedAt.IsZero() {
		step.CreatedAt = time.Now().UTC()
	}
	if step.Status == "" {
		step.Status = model.StepStatusPlanned
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sequence_steps (id, org_id, lead_id, account_id, position, day_offset,
		   channel, status, subject, body, message_id, sent_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		step.ID, step.OrgID, step.LeadID, nullable(step.AccountID), step.Position,
		step.DayOffset, string(step.Channel), string(step.Status), step.Subject,
		step.Body, step.MessageID, step.SentAt, step.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: insert step")
}

func (s *SQLiteStore) UpdateStep(ctx context.Context, step *model.SequenceStep) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sequence_steps SET account_id = ?, status = ?, subject = ?,
		   body = ?, message_id = ?, sent_at = ?
		 WHERE id = ?`,
		nullable(step.AccountID), string(step.Status), step.Subject, step.Body,
		step.MessageID, step.SentAt, step.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update step %s", step.ID)
	}
	return checkRowsAffected(res, "step", step.ID)
}

func (s *SQLiteStore) ListSteps(ctx context.Context, leadID string) ([]model.SequenceStep, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+stepColumns+` FROM sequence_steps WHERE lead_id = ? ORDER BY position`, leadID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list steps")
	}
	defer rows.Close()

	var steps []model.SequenceStep
	for rows.Next() {
		st, err := scanSQLStep(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan step")
		}
		steps = append(steps, *st)
	}
	return steps, eris.Wrap(rows.Err(), "sqlite: list steps iterate")
}

func (s *SQLiteStore) CancelFutureSteps(ctx context.Context, leadID string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sequence_steps SET status = 'cancelled' WHERE lead_id = ? AND status = 'planned'`,
		leadID,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: cancel future steps %s", leadID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: rows affected")
	}
	return int(n), nil
}

func (s *SQLiteStore) ExecutedByChannel(ctx context.Context, leadID string) (map[model.Channel]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT channel, COUNT(*) FROM sequence_steps
		 WHERE lead_id = ? AND status NOT IN ('planned', 'cancelled')
		 GROUP BY channel`,
		leadID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: executed by channel")
	}
	defer rows.Close()

	counts := make(map[model.Channel]int)
	for rows.Next() {
		var ch string
		var n int
		if err := rows.Scan(&ch, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan channel count")
		}
		counts[model.Channel(ch)] = n
	}
	return counts, eris.Wrap(rows.Err(), "sqlite: executed by channel iterate")
}

func (s *SQLiteStore) LastContactAt(ctx context.Context, leadID string) (time.Time, model.Channel, bool, error) {
	var at time.Time
	var ch string
	err := s.db.QueryRowContext(ctx,
		`SELECT sent_at, channel FROM sequence_steps
		 WHERE lead_id = ? AND sent_at IS NOT NULL
		 ORDER BY sent_at DESC LIMIT 1`,
		leadID,
	).Scan(&at, &ch)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, "", false, nil
		}
		return time.Time{}, "", false, eris.Wrap(err, "sqlite: last contact at")
	}
	return at, model.Channel(ch), true, nil
}

// Cycle runs

func (s *SQLiteStore) CreateCycleRun(ctx context.Context, orgID string) (*model.CycleRun, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cycle_runs (id, org_id, status, started_at) VALUES (?, ?, ?, ?)`,
		id, orgID, string(model.RunStatusRunning), now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert cycle run")
	}

	return &model.CycleRun{
		ID:        id,
		OrgID:     orgID,
		Status:    model.RunStatusRunning,
		StartedAt: now,
	}, nil
}

func (s *SQLiteStore) CompleteCycleRun(ctx context.Context, runID string, status model.RunStatus, summary *model.RunSummary) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal run summary")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE cycle_runs SET status = ?, summary = ?, completed_at = ? WHERE id = ?`,
		string(status), string(summaryJSON), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete cycle run %s", runID)
	}
	return checkRowsAffected(res, "cycle run", runID)
}
