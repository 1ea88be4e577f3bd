package store

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prospect-labs/leadgen-cli/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_GetJob_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, name, job_type, campaign_id, status, task_id, params, result, error, created_at, updated_at, completed_at`).
		WithArgs(int64(404)).
		WillReturnError(pgx.ErrNoRows)

	j, err := s.GetJob(context.Background(), 404)
	require.NoError(t, err)
	assert.Nil(t, j)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_MarkJobProcessing(t *testing.T) {
	tests := []struct {
		name         string
		rowsAffected int64
		want         bool
	}{
		{"pending job transitions", 1, true},
		{"non-pending job untouched", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newMockPostgresStore(t)

			mock.ExpectExec(`UPDATE jobs SET status = 'processing', task_id = \$1`).
				WithArgs("task-abc", pgxmock.AnyArg(), int64(7)).
				WillReturnResult(pgxmock.NewResult("UPDATE", tt.rowsAffected))

			applied, err := s.MarkJobProcessing(context.Background(), 7, "task-abc")
			require.NoError(t, err)
			assert.Equal(t, tt.want, applied)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPostgresStore_CompleteJob_TerminalGuard(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	// Zero rows affected: the job is already terminal. Not an error — the
	// late write is ignored, never an overwrite.
	mock.ExpectExec(`UPDATE jobs SET status = \$1, result = \$2, error = \$3`).
		WithArgs("completed", "done", "", pgxmock.AnyArg(), int64(3)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	applied, err := s.CompleteJob(context.Background(), 3, model.JobStatusCompleted, "done", "")
	require.NoError(t, err)
	assert.False(t, applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_HotPathQueriesMatchPreparedStatements(t *testing.T) {
	// Exact-match mode: the queries these methods send must be byte-identical
	// to the statements AfterConnect prepares, or the statement cache never
	// serves them.
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })
	s := &PostgresStore{pool: mock}
	ctx := context.Background()

	mock.ExpectQuery(preparedStatements["get_job"]).
		WithArgs(int64(1)).
		WillReturnError(pgx.ErrNoRows)
	_, err = s.GetJob(ctx, 1)
	require.NoError(t, err)

	mock.ExpectExec(preparedStatements["mark_job_processing"]).
		WithArgs("task-1", pgxmock.AnyArg(), int64(1)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	_, err = s.MarkJobProcessing(ctx, 1, "task-1")
	require.NoError(t, err)

	mock.ExpectExec(preparedStatements["complete_job"]).
		WithArgs("completed", "done", "", pgxmock.AnyArg(), int64(1)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	_, err = s.CompleteJob(ctx, 1, model.JobStatusCompleted, "done", "")
	require.NoError(t, err)

	mock.ExpectQuery(preparedStatements["existing_emails"]).
		WithArgs([]string{"a@x.com"}).
		WillReturnRows(pgxmock.NewRows([]string{"email"}))
	_, err = s.ExistingEmails(ctx, []string{"a@x.com"})
	require.NoError(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CompleteJob_RejectsNonTerminal(t *testing.T) {
	s, _ := newMockPostgresStore(t)

	_, err := s.CompleteJob(context.Background(), 3, model.JobStatusProcessing, "", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a terminal status")
}

func TestPostgresStore_CreateJob(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`INSERT INTO jobs`).
		WithArgs("fetch campaign-1", "fetch_leads", pgxmock.AnyArg(), "pending",
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(42)))

	campaignID := "campaign-1"
	j, err := s.CreateJob(context.Background(), model.Job{
		Name:       "fetch campaign-1",
		Type:       model.JobTypeFetchLeads,
		CampaignID: &campaignID,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(42), j.ID)
	assert.Equal(t, model.JobStatusPending, j.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ExistingEmails(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT email FROM leads WHERE email = ANY`).
		WithArgs([]string{"a@x.com", "b@x.com"}).
		WillReturnRows(pgxmock.NewRows([]string{"email"}).AddRow("a@x.com"))

	existing, err := s.ExistingEmails(context.Background(), []string{"a@x.com", "b@x.com"})
	require.NoError(t, err)
	assert.Contains(t, existing, "a@x.com")
	assert.NotContains(t, existing, "b@x.com")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ExistingEmails_EmptyInput(t *testing.T) {
	s, _ := newMockPostgresStore(t)

	existing, err := s.ExistingEmails(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, existing)
}

func TestPostgresStore_CreateLeads_CommitFailureRollsBack(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectCopyFrom(pgx.Identifier{"leads"}, leadColumns).WillReturnResult(2)
	mock.ExpectCommit().WillReturnError(assert.AnError)
	mock.ExpectRollback()

	err := s.CreateLeads(context.Background(), []model.Lead{
		{ID: "l1", CampaignID: "c1", Email: "a@x.com"},
		{ID: "l2", CampaignID: "c1", Email: "b@x.com"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "commit")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateLeads_Empty(t *testing.T) {
	s, _ := newMockPostgresStore(t)
	require.NoError(t, s.CreateLeads(context.Background(), nil))
}
