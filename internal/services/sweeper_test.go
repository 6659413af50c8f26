package services

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	tmock "github.com/stretchr/testify/mock"
)

func newSweeperForTest(t *testing.T) (*ExpirySweeper, sqlmock.Sqlmock, *MockNotifier) {
	t.Helper()

	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ledger := NewCoinLedgerService(db)
	catalog := NewCatalogService(db, nil)
	deployments := NewDeploymentService(db, catalog, ledger, testPlanConfig())
	notifier := new(MockNotifier)

	cfg := testPlanConfig()
	cfg.SweepInterval = time.Minute
	cfg.SweepBatchSize = 100

	return NewExpirySweeper(db, deployments, notifier, cfg), mock, notifier
}

func expectExpiredScan(mock sqlmock.Sqlmock, rows *sqlmock.Rows) {
	mock.ExpectQuery("SELECT id, account_id, plan FROM deployments WHERE status IN \\(\\$1, \\$2\\) AND expires_at IS NOT NULL AND expires_at < \\$3 ORDER BY expires_at LIMIT \\$4").
		WithArgs("RUNNING", "DEPLOYING", sqlmock.AnyArg(), 100).
		WillReturnRows(rows)
}

func expectGuardedStop(mock sqlmock.Sqlmock, id string, rowsAffected int64) {
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE deployments SET status = \\$1, updated_at = \\$2 WHERE id = \\$3 AND status IN \\(\\$4, \\$5, \\$6\\)").
		WithArgs("STOPPED", sqlmock.AnyArg(), id, "QUEUED", "DEPLOYING", "RUNNING").
		WillReturnResult(sqlmock.NewResult(0, rowsAffected))
	if rowsAffected == 0 {
		mock.ExpectRollback()
		return
	}
	mock.ExpectExec("INSERT INTO deployment_logs").
		WithArgs(id, "INFO", "plan expired", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO deployment_logs").
		WithArgs(id, "INFO", "container stopped", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
}

func TestExpirySweeper_SweepOnce(t *testing.T) {
	t.Run("expired trial is stopped and removed", func(t *testing.T) {
		sweeper, mock, notifier := newSweeperForTest(t)

		expectExpiredScan(mock, sqlmock.NewRows([]string{"id", "account_id", "plan"}).
			AddRow("dep_trial", "acc_1", "TRIAL"))

		expectGuardedStop(mock, "dep_trial", 1)

		mock.ExpectBegin()
		mock.ExpectExec("DELETE FROM deployment_logs WHERE deployment_id = \\$1").
			WithArgs("dep_trial").
			WillReturnResult(sqlmock.NewResult(0, 4))
		mock.ExpectExec("DELETE FROM deployments WHERE id = \\$1").
			WithArgs("dep_trial").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		notifier.On("Publish", tmock.Anything, "acc_1", "Deployment expired", tmock.Anything, "WARNING").Once()

		sweeper.SweepOnce(context.Background())

		assert.NoError(t, mock.ExpectationsWereMet())
		notifier.AssertExpectations(t)
	})

	t.Run("expired monthly stays stopped", func(t *testing.T) {
		sweeper, mock, notifier := newSweeperForTest(t)

		expectExpiredScan(mock, sqlmock.NewRows([]string{"id", "account_id", "plan"}).
			AddRow("dep_monthly", "acc_1", "MONTHLY"))

		expectGuardedStop(mock, "dep_monthly", 1)

		notifier.On("Publish", tmock.Anything, "acc_1", "Deployment expired", tmock.Anything, "WARNING").Once()

		sweeper.SweepOnce(context.Background())

		// No DELETE expected for monthly plans
		assert.NoError(t, mock.ExpectationsWereMet())
		notifier.AssertExpectations(t)
	})

	t.Run("deployment stopped by user first is skipped", func(t *testing.T) {
		sweeper, mock, notifier := newSweeperForTest(t)

		expectExpiredScan(mock, sqlmock.NewRows([]string{"id", "account_id", "plan"}).
			AddRow("dep_raced", "acc_1", "TRIAL"))

		expectGuardedStop(mock, "dep_raced", 0)

		sweeper.SweepOnce(context.Background())

		assert.NoError(t, mock.ExpectationsWereMet())
		notifier.AssertNotCalled(t, "Publish", tmock.Anything, tmock.Anything, tmock.Anything, tmock.Anything, tmock.Anything)
	})

	t.Run("one notification per account per sweep", func(t *testing.T) {
		sweeper, mock, notifier := newSweeperForTest(t)

		expectExpiredScan(mock, sqlmock.NewRows([]string{"id", "account_id", "plan"}).
			AddRow("dep_a", "acc_1", "MONTHLY").
			AddRow("dep_b", "acc_1", "MONTHLY"))

		expectGuardedStop(mock, "dep_a", 1)
		expectGuardedStop(mock, "dep_b", 1)

		notifier.On("Publish", tmock.Anything, "acc_1", "Deployment expired", tmock.Anything, "WARNING").Once()

		sweeper.SweepOnce(context.Background())

		assert.NoError(t, mock.ExpectationsWereMet())
		notifier.AssertNumberOfCalls(t, "Publish", 1)
	})

	t.Run("nothing expired", func(t *testing.T) {
		sweeper, mock, notifier := newSweeperForTest(t)

		expectExpiredScan(mock, sqlmock.NewRows([]string{"id", "account_id", "plan"}))

		sweeper.SweepOnce(context.Background())

		assert.NoError(t, mock.ExpectationsWereMet())
		notifier.AssertNotCalled(t, "Publish", tmock.Anything, tmock.Anything, tmock.Anything, tmock.Anything, tmock.Anything)
	})
}
