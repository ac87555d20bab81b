package store

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/groveline/prospector/internal/model"
)

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPostgresFromPool(mock), mock
}

func TestPostgresStore_IncrementSent_Applied(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE sending_accounts`).
		WithArgs("acct-1", 20).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	ok, err := s.IncrementSent(context.Background(), "acct-1", 20)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_IncrementSent_QuotaExhausted(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE sending_accounts`).
		WithArgs("acct-1", 20).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	ok, err := s.IncrementSent(context.Background(), "acct-1", 20)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateLeadStatus_Illegal(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT status FROM leads`).
		WithArgs("lead-1").
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow("found"))

	err := s.UpdateLeadStatus(context.Background(), "lead-1", model.LeadStatusSent)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrIllegalTransition)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateLeadStatus_Stale(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT status FROM leads`).
		WithArgs("lead-1").
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow("ready"))
	mock.ExpectExec(`UPDATE leads SET status`).
		WithArgs("sent", "lead-1", "ready").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateLeadStatus(context.Background(), "lead-1", model.LeadStatusSent)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStale)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateLeadStatus_SelfTransition(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT status FROM leads`).
		WithArgs("lead-1").
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow("ready"))

	err := s.UpdateLeadStatus(context.Background(), "lead-1", model.LeadStatusReady)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_IsSuppressed_NormalizesAddress(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("org-1", "rose@rosebakery.com").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	suppressed, err := s.IsSuppressed(context.Background(), "org-1", " Rose@RoseBakery.COM ")
	require.NoError(t, err)
	assert.True(t, suppressed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_TouchDomainCooldown(t *testing.T) {
	s, mock := newMockStore(t)

	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	mock.ExpectExec(`INSERT INTO domain_cooldowns`).
		WithArgs("org-1", "rosebakery.com", at).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.TouchDomainCooldown(context.Background(), "org-1", "rosebakery.com", at)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CancelFutureSteps(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE sequence_steps SET status = 'cancelled'`).
		WithArgs("lead-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 3))

	n, err := s.CancelFutureSteps(context.Background(), "lead-1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
