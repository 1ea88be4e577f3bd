package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/prospect-labs/leadgen-cli/internal/db"
	"github.com/prospect-labs/leadgen-cli/internal/model"
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

// Hot-path queries, prepared on every new connection. The call sites use
// these same strings so pgx's statement cache actually matches them.
const (
	sqlGetJob            = `SELECT id, name, job_type, campaign_id, status, task_id, params, result, error, created_at, updated_at, completed_at FROM jobs WHERE id = $1`
	sqlMarkJobProcessing = `UPDATE jobs SET status = 'processing', task_id = $1, updated_at = $2 WHERE id = $3 AND status = 'pending'`
	sqlCompleteJob       = `UPDATE jobs SET status = $1, result = $2, error = $3, updated_at = $4, completed_at = $4 WHERE id = $5 AND status IN ('pending', 'processing')`
	sqlExistingEmails    = `SELECT email FROM leads WHERE email = ANY($1)`
)

var preparedStatements = map[string]string{
	"get_job":             sqlGetJob,
	"mark_job_processing": sqlMarkJobProcessing,
	"complete_job":        sqlCompleteJob,
	"existing_emails":     sqlExistingEmails,
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

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

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

const postgresMigration = `
CREATE TABLE IF NOT EXISTS organizations (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS campaigns (
	id         TEXT PRIMARY KEY,
	org_id     TEXT NOT NULL REFERENCES organizations(id),
	name       TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'draft',
	params     JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS jobs (
	id           BIGSERIAL PRIMARY KEY,
	name         TEXT NOT NULL,
	job_type     TEXT NOT NULL,
	campaign_id  TEXT REFERENCES campaigns(id),
	status       TEXT NOT NULL DEFAULT 'pending',
	task_id      TEXT NOT NULL DEFAULT '',
	params       JSONB,
	result       TEXT NOT NULL DEFAULT '',
	error        TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at TIMESTAMPTZ
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
	raw_data          JSONB,
	enrichment_data   JSONB,
	verification_data JSONB,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_campaign_id ON jobs(campaign_id);
CREATE INDEX IF NOT EXISTS idx_campaigns_org_id ON campaigns(org_id);
CREATE INDEX IF NOT EXISTS idx_leads_campaign_id ON leads(campaign_id);

-- Safety net behind the dedup engine: email is globally unique when present.
CREATE UNIQUE INDEX IF NOT EXISTS uq_leads_email ON leads(email) WHERE email IS NOT NULL;
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

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

func (s *PostgresStore) CreateOrganization(ctx context.Context, name string) (*model.Organization, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO organizations (id, name, created_at) VALUES ($1, $2, $3)`,
		id, name, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert organization")
	}
	return &model.Organization{ID: id, Name: name, CreatedAt: now}, nil
}

func (s *PostgresStore) GetOrganization(ctx context.Context, id string) (*model.Organization, error) {
	var o model.Organization
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, created_at FROM organizations WHERE id = $1`,
		id,
	).Scan(&o.ID, &o.Name, &o.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get organization %s", id)
	}
	return &o, nil
}

func (s *PostgresStore) CreateCampaign(ctx context.Context, c model.Campaign) (*model.Campaign, error) {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.Status == "" {
		c.Status = model.CampaignStatusDraft
	}
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now

	_, err := s.pool.Exec(ctx,
		`INSERT INTO campaigns (id, org_id, name, status, params, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		c.ID, c.OrgID, c.Name, string(c.Status), []byte(c.Params), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert campaign")
	}
	return &c, nil
}

func (s *PostgresStore) GetCampaign(ctx context.Context, id string) (*model.Campaign, error) {
	var c model.Campaign
	var params []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id, org_id, name, status, params, created_at, updated_at FROM campaigns WHERE id = $1`,
		id,
	).Scan(&c.ID, &c.OrgID, &c.Name, &c.Status, &params, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get campaign %s", id)
	}
	c.Params = params
	return &c, nil
}

func (s *PostgresStore) CreateJob(ctx context.Context, j model.Job) (*model.Job, error) {
	if j.Status == "" {
		j.Status = model.JobStatusPending
	}
	now := time.Now().UTC()
	j.CreatedAt = now
	j.UpdatedAt = now

	err := s.pool.QueryRow(ctx,
		`INSERT INTO jobs (name, job_type, campaign_id, status, params, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		j.Name, string(j.Type), j.CampaignID, string(j.Status), []byte(j.Params), now, now,
	).Scan(&j.ID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert job")
	}
	return &j, nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id int64) (*model.Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx, sqlGetJob, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get job %d", id)
	}
	return j, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*model.Job, error) {
	var j model.Job
	var params []byte
	if err := row.Scan(&j.ID, &j.Name, &j.Type, &j.CampaignID, &j.Status, &j.TaskID,
		&params, &j.Result, &j.Error, &j.CreatedAt, &j.UpdatedAt, &j.CompletedAt); err != nil {
		return nil, err
	}
	j.Params = params
	return &j, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error) {
	query := `SELECT id, name, job_type, campaign_id, status, task_id, params, result, error, created_at, updated_at, completed_at
	          FROM jobs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.CampaignID != "" {
		query += fmt.Sprintf(` AND campaign_id = $%d`, argIdx)
		args = append(args, filter.CampaignID)
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list jobs")
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan job")
		}
		jobs = append(jobs, *j)
	}
	return jobs, eris.Wrap(rows.Err(), "postgres: list jobs iterate")
}

func (s *PostgresStore) MarkJobProcessing(ctx context.Context, id int64, taskID string) (bool, error) {
	tag, err := s.pool.Exec(ctx, sqlMarkJobProcessing, taskID, time.Now().UTC(), id)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: mark job %d processing", id)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) CompleteJob(ctx context.Context, id int64, status model.JobStatus, result, errMsg string) (bool, error) {
	if !status.Terminal() {
		return false, eris.Errorf("postgres: complete job %d: %q is not a terminal status", id, status)
	}
	tag, err := s.pool.Exec(ctx, sqlCompleteJob,
		string(status), result, errMsg, time.Now().UTC(), id,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: complete job %d", id)
	}
	return tag.RowsAffected() > 0, nil
}

var leadColumns = []string{
	"id", "campaign_id", "first_name", "last_name", "email", "phone",
	"company", "title", "linkedin_url", "source_url", "raw_data",
	"created_at", "updated_at",
}

func leadRow(l model.Lead, now time.Time) []any {
	var email any
	if l.Email != "" {
		email = l.Email
	}
	var raw any
	if len(l.RawData) > 0 {
		raw = []byte(l.RawData)
	}
	return []any{
		l.ID, l.CampaignID, l.FirstName, l.LastName, email, l.Phone,
		l.Company, l.Title, l.LinkedInURL, l.SourceURL, raw, now, now,
	}
}

func (s *PostgresStore) CreateLead(ctx context.Context, l model.Lead) (*model.Lead, error) {
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	l.CreatedAt = now
	l.UpdatedAt = now

	row := leadRow(l, now)
	_, err := s.pool.Exec(ctx,
		`INSERT INTO leads (id, campaign_id, first_name, last_name, email, phone, company, title, linkedin_url, source_url, raw_data, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		row...,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert lead")
	}
	return &l, nil
}

// CreateLeads persists the batch atomically: a single transaction, COPY for
// throughput, full rollback on any failure. A unique-index violation here
// means a duplicate slipped past the dedup engine; the whole batch fails and
// the error propagates.
func (s *PostgresStore) CreateLeads(ctx context.Context, leads []model.Lead) error {
	if len(leads) == 0 {
		return nil
	}

	now := time.Now().UTC()
	rows := make([][]any, 0, len(leads))
	for _, l := range leads {
		rows = append(rows, leadRow(l, now))
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: create leads: begin tx")
	}
	defer tx.Rollback(ctx)

	if _, err := db.CopyFrom(ctx, tx, "leads", leadColumns, rows); err != nil {
		return eris.Wrap(err, "postgres: create leads: copy")
	}
	if err := tx.Commit(ctx); err != nil {
		return eris.Wrap(err, "postgres: create leads: commit")
	}
	return nil
}

func (s *PostgresStore) ExistingEmails(ctx context.Context, emails []string) (map[string]struct{}, error) {
	existing := make(map[string]struct{})
	if len(emails) == 0 {
		return existing, nil
	}

	rows, err := s.pool.Query(ctx, sqlExistingEmails, emails)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: existing emails")
	}
	defer rows.Close()

	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, eris.Wrap(err, "postgres: scan email")
		}
		existing[email] = struct{}{}
	}
	return existing, eris.Wrap(rows.Err(), "postgres: existing emails iterate")
}

func (s *PostgresStore) ListLeads(ctx context.Context, filter LeadFilter) ([]model.Lead, error) {
	query := `SELECT id, campaign_id, first_name, last_name, COALESCE(email, ''), phone, company, title, linkedin_url, source_url, raw_data, created_at, updated_at
	          FROM leads WHERE true`
	args := []any{}
	argIdx := 1

	if filter.CampaignID != "" {
		query += fmt.Sprintf(` AND campaign_id = $%d`, argIdx)
		args = append(args, filter.CampaignID)
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list leads")
	}
	defer rows.Close()

	var leads []model.Lead
	for rows.Next() {
		var l model.Lead
		var raw []byte
		if err := rows.Scan(&l.ID, &l.CampaignID, &l.FirstName, &l.LastName, &l.Email, &l.Phone,
			&l.Company, &l.Title, &l.LinkedInURL, &l.SourceURL, &raw, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan lead")
		}
		l.RawData = raw
		leads = append(leads, l)
	}
	return leads, eris.Wrap(rows.Err(), "postgres: list leads iterate")
}
