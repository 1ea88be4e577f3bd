package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/prospect-labs/leadgen-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. Intended for local
// development and offline runs; production deployments use PostgresStore.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens (or creates) a sqlite database at the given DSN.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// sqlite allows one writer; serialize access through a single connection.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA foreign_keys = ON`); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "sqlite: enable foreign keys")
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS organizations (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS campaigns (
	id         TEXT PRIMARY KEY,
	org_id     TEXT NOT NULL REFERENCES organizations(id),
	name       TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'draft',
	params     TEXT,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS jobs (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	name         TEXT NOT NULL,
	job_type     TEXT NOT NULL,
	campaign_id  TEXT REFERENCES campaigns(id),
	status       TEXT NOT NULL DEFAULT 'pending',
	task_id      TEXT NOT NULL DEFAULT '',
	params       TEXT,
	result       TEXT NOT NULL DEFAULT '',
	error        TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMP NOT NULL,
	updated_at   TIMESTAMP NOT NULL,
	completed_at TIMESTAMP
);

CREATE TABLE IF NOT EXISTS leads (
	id                TEXT PRIMARY KEY,
	campaign_id       TEXT NOT NULL REFERENCES campaigns(id),
	first_name        TEXT NOT NULL DEFAULT '',
	last_name         TEXT NOT NULL DEFAULT '',
	email             TEXT,
	phone             TEXT NOT NULL DEFAULT '',
	company           TEXT NOT NULL DEFAULT '',
	title             TEXT NOT NULL DEFAULT '',
	linkedin_url      TEXT NOT NULL DEFAULT '',
	source_url        TEXT NOT NULL DEFAULT '',
	raw_data          TEXT,
	enrichment_data   TEXT,
	verification_data TEXT,
	created_at        TIMESTAMP NOT NULL,
	updated_at        TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_campaign_id ON jobs(campaign_id);
CREATE INDEX IF NOT EXISTS idx_campaigns_org_id ON campaigns(org_id);
CREATE INDEX IF NOT EXISTS idx_leads_campaign_id ON leads(campaign_id);

CREATE UNIQUE INDEX IF NOT EXISTS uq_leads_email ON leads(email) WHERE email IS NOT NULL;
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateOrganization(ctx context.Context, name string) (*model.Organization, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO organizations (id, name, created_at) VALUES (?, ?, ?)`,
		id, name, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert organization")
	}
	return &model.Organization{ID: id, Name: name, CreatedAt: now}, nil
}

func (s *SQLiteStore) GetOrganization(ctx context.Context, id string) (*model.Organization, error) {
	var o model.Organization
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, created_at FROM organizations WHERE id = ?`,
		id,
	).Scan(&o.ID, &o.Name, &o.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get organization %s", id)
	}
	return &o, nil
}

func (s *SQLiteStore) CreateCampaign(ctx context.Context, c model.Campaign) (*model.Campaign, error) {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.Status == "" {
		c.Status = model.CampaignStatusDraft
	}
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now

	var params any
	if len(c.Params) > 0 {
		params = string(c.Params)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO campaigns (id, org_id, name, status, params, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.OrgID, c.Name, string(c.Status), params, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert campaign")
	}
	return &c, nil
}

func (s *SQLiteStore) GetCampaign(ctx context.Context, id string) (*model.Campaign, error) {
	var c model.Campaign
	var params sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, org_id, name, status, params, created_at, updated_at FROM campaigns WHERE id = ?`,
		id,
	).Scan(&c.ID, &c.OrgID, &c.Name, &c.Status, &params, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get campaign %s", id)
	}
	if params.Valid {
		c.Params = []byte(params.String)
	}
	return &c, nil
}

func (s *SQLiteStore) CreateJob(ctx context.Context, j model.Job) (*model.Job, error) {
	if j.Status == "" {
		j.Status = model.JobStatusPending
	}
	now := time.Now().UTC()
	j.CreatedAt = now
	j.UpdatedAt = now

	var params any
	if len(j.Params) > 0 {
		params = string(j.Params)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (name, job_type, campaign_id, status, params, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		j.Name, string(j.Type), j.CampaignID, string(j.Status), params, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert job")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: job id")
	}
	j.ID = id
	return &j, nil
}

func (s *SQLiteStore) scanJobRow(row *sql.Row) (*model.Job, error) {
	var j model.Job
	var params, result, errMsg sql.NullString
	var completed sql.NullTime
	err := row.Scan(&j.ID, &j.Name, &j.Type, &j.CampaignID, &j.Status, &j.TaskID,
		&params, &result, &errMsg, &j.CreatedAt, &j.UpdatedAt, &completed)
	if err != nil {
		return nil, err
	}
	if params.Valid {
		j.Params = []byte(params.String)
	}
	j.Result = result.String
	j.Error = errMsg.String
	if completed.Valid {
		t := completed.Time
		j.CompletedAt = &t
	}
	return &j, nil
}

func (s *SQLiteStore) GetJob(ctx context.Context, id int64) (*model.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, job_type, campaign_id, status, task_id, params, result, error, created_at, updated_at, completed_at
		 FROM jobs WHERE id = ?`,
		id,
	)
	j, err := s.scanJobRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get job %d", id)
	}
	return j, nil
}

func (s *SQLiteStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error) {
	query := `SELECT id, name, job_type, campaign_id, status, task_id, params, result, error, created_at, updated_at, completed_at
	          FROM jobs WHERE 1=1`
	args := []any{}

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.CampaignID != "" {
		query += ` AND campaign_id = ?`
		args = append(args, filter.CampaignID)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list jobs")
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		var j model.Job
		var params, result, errMsg sql.NullString
		var completed sql.NullTime
		if err := rows.Scan(&j.ID, &j.Name, &j.Type, &j.CampaignID, &j.Status, &j.TaskID,
			&params, &result, &errMsg, &j.CreatedAt, &j.UpdatedAt, &completed); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan job")
		}
		if params.Valid {
			j.Params = []byte(params.String)
		}
		j.Result = result.String
		j.Error = errMsg.String
		if completed.Valid {
			t := completed.Time
			j.CompletedAt = &t
		}
		jobs = append(jobs, j)
	}
	return jobs, eris.Wrap(rows.Err(), "sqlite: list jobs iterate")
}

func (s *SQLiteStore) MarkJobProcessing(ctx context.Context, id int64, taskID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = 'processing', task_id = ?, updated_at = ?
		 WHERE id = ? AND status = 'pending'`,
		taskID, time.Now().UTC(), id,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: mark job %d processing", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n > 0, nil
}

func (s *SQLiteStore) CompleteJob(ctx context.Context, id int64, status model.JobStatus, result, errMsg string) (bool, error) {
	if !status.Terminal() {
		return false, eris.Errorf("sqlite: complete job %d: %q is not a terminal status", id, status)
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, result = ?, error = ?, updated_at = ?, completed_at = ?
		 WHERE id = ? AND status IN ('pending', 'processing')`,
		string(status), result, errMsg, now, now, id,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: complete job %d", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n > 0, nil
}

func (s *SQLiteStore) CreateLead(ctx context.Context, l model.Lead) (*model.Lead, error) {
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	l.CreatedAt = now
	l.UpdatedAt = now

	if err := s.insertLead(ctx, s.db, l, now); err != nil {
		return nil, eris.Wrap(err, "sqlite: insert lead")
	}
	return &l, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQLiteStore) insertLead(ctx context.Context, e execer, l model.Lead, now time.Time) error {
	var email any
	if l.Email != "" {
		email = l.Email
	}
	var raw any
	if len(l.RawData) > 0 {
		raw = string(l.RawData)
	}
	_, err := e.ExecContext(ctx,
		`INSERT INTO leads (id, campaign_id, first_name, last_name, email, phone, company, title, linkedin_url, source_url, raw_data, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.CampaignID, l.FirstName, l.LastName, email, l.Phone,
		l.Company, l.Title, l.LinkedInURL, l.SourceURL, raw, now, now,
	)
	return err
}

func (s *SQLiteStore) CreateLeads(ctx context.Context, leads []model.Lead) error {
	if len(leads) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: create leads: begin tx")
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for _, l := range leads {
		if err := s.insertLead(ctx, tx, l, now); err != nil {
			return eris.Wrap(err, "sqlite: create leads: insert")
		}
	}
	if err := tx.Commit(); err != nil {
		return eris.Wrap(err, "sqlite: create leads: commit")
	}
	return nil
}

func (s *SQLiteStore) ExistingEmails(ctx context.Context, emails []string) (map[string]struct{}, error) {
	existing := make(map[string]struct{})
	if len(emails) == 0 {
		return existing, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(emails)), ",")
	args := make([]any, len(emails))
	for i, e := range emails {
		args[i] = e
	}

	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT email FROM leads WHERE email IN (%s)`, placeholders),
		args...,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: existing emails")
	}
	defer rows.Close()

	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan email")
		}
		existing[email] = struct{}{}
	}
	return existing, eris.Wrap(rows.Err(), "sqlite: existing emails iterate")
}

func (s *SQLiteStore) ListLeads(ctx context.Context, filter LeadFilter) ([]model.Lead, error) {
	query := `SELECT id, campaign_id, first_name, last_name, COALESCE(email, ''), phone, company, title, linkedin_url, source_url, raw_data, created_at, updated_at
	          FROM leads WHERE 1=1`
	args := []any{}

	if filter.CampaignID != "" {
		query += ` AND campaign_id = ?`
		args = append(args, filter.CampaignID)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list leads")
	}
	defer rows.Close()

	var leads []model.Lead
	for rows.Next() {
		var l model.Lead
		var raw sql.NullString
		if err := rows.Scan(&l.ID, &l.CampaignID, &l.FirstName, &l.LastName, &l.Email, &l.Phone,
			&l.Company, &l.Title, &l.LinkedInURL, &l.SourceURL, &raw, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan lead")
		}
		if raw.Valid {
			l.RawData = []byte(raw.String)
		}
		leads = append(leads, l)
	}
	return leads, eris.Wrap(rows.Err(), "sqlite: list leads iterate")
}
