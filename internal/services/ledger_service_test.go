package services

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
)

func TestCoinLedgerService_GetBalance(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewCoinLedgerService(db)

	t.Run("existing account", func(t *testing.T) {
		mock.ExpectQuery("SELECT balance FROM accounts WHERE account_id = \\$1").
			WithArgs("acc_1").
			WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(250))

		balance, err := service.GetBalance(context.Background(), "acc_1")
		assert.NoError(t, err)
		assert.Equal(t, int64(250), balance)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing account reads as zero", func(t *testing.T) {
		mock.ExpectQuery("SELECT balance FROM accounts WHERE account_id = \\$1").
			WithArgs("acc_unknown").
			WillReturnRows(sqlmock.NewRows([]string{"balance"}))

		balance, err := service.GetBalance(context.Background(), "acc_unknown")
		assert.NoError(t, err)
		assert.Equal(t, int64(0), balance)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestCoinLedgerService_Credit(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewCoinLedgerService(db)

	t.Run("successful credit", func(t *testing.T) {
		mock.ExpectBegin()

		mock.ExpectExec("INSERT INTO accounts").
			WithArgs("acc_1", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 0))

		mock.ExpectQuery("SELECT balance, version FROM accounts WHERE account_id = \\$1 FOR UPDATE").
			WithArgs("acc_1").
			WillReturnRows(sqlmock.NewRows([]string{"balance", "version"}).AddRow(100, 3))

		mock.ExpectExec("INSERT INTO coin_entries").
			WithArgs("acc_1", int64(50), "CREDIT", int64(150), "chg_abc", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectExec("UPDATE accounts SET balance = \\$1, version = version \\+ 1, updated_at = \\$2 WHERE account_id = \\$3 AND version = \\$4").
			WithArgs(int64(150), sqlmock.AnyArg(), "acc_1", 3).
			WillReturnResult(sqlmock.NewResult(0, 1))

		mock.ExpectCommit()

		balance, err := service.Credit(context.Background(), "acc_1", 50, "chg_abc")
		assert.NoError(t, err)
		assert.Equal(t, int64(150), balance)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects non-positive amount", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectRollback()

		_, err := service.Credit(context.Background(), "acc_1", 0, "chg_zero")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "must be positive")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("optimistic lock conflict", func(t *testing.T) {
		mock.ExpectBegin()

		mock.ExpectExec("INSERT INTO accounts").
			WithArgs("acc_1", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 0))

		mock.ExpectQuery("SELECT balance, version FROM accounts WHERE account_id = \\$1 FOR UPDATE").
			WithArgs("acc_1").
			WillReturnRows(sqlmock.NewRows([]string{"balance", "version"}).AddRow(100, 3))

		mock.ExpectExec("INSERT INTO coin_entries").
			WithArgs("acc_1", int64(50), "CREDIT", int64(150), "chg_abc", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectExec("UPDATE accounts SET balance = \\$1, version = version \\+ 1, updated_at = \\$2 WHERE account_id = \\$3 AND version = \\$4").
			WithArgs(int64(150), sqlmock.AnyArg(), "acc_1", 3).
			WillReturnResult(sqlmock.NewResult(0, 0))

		mock.ExpectRollback()

		_, err := service.Credit(context.Background(), "acc_1", 50, "chg_abc")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "optimistic lock failed")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestCoinLedgerService_Debit(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewCoinLedgerService(db)

	t.Run("successful debit", func(t *testing.T) {
		mock.ExpectBegin()

		mock.ExpectExec("INSERT INTO accounts").
			WithArgs("acc_1", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 0))

		mock.ExpectQuery("SELECT balance, version FROM accounts WHERE account_id = \\$1 FOR UPDATE").
			WithArgs("acc_1").
			WillReturnRows(sqlmock.NewRows([]string{"balance", "version"}).AddRow(100, 1))

		mock.ExpectExec("INSERT INTO coin_entries").
			WithArgs("acc_1", int64(-40), "DEBIT", int64(60), "dep_1", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectExec("UPDATE accounts SET balance = \\$1, version = version \\+ 1, updated_at = \\$2 WHERE account_id = \\$3 AND version = \\$4").
			WithArgs(int64(60), sqlmock.AnyArg(), "acc_1", 1).
			WillReturnResult(sqlmock.NewResult(0, 1))

		mock.ExpectCommit()

		balance, err := service.Debit(context.Background(), "acc_1", 40, "dep_1")
		assert.NoError(t, err)
		assert.Equal(t, int64(60), balance)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insufficient balance leaves account untouched", func(t *testing.T) {
		mock.ExpectBegin()

		mock.ExpectExec("INSERT INTO accounts").
			WithArgs("acc_1", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 0))

		mock.ExpectQuery("SELECT balance, version FROM accounts WHERE account_id = \\$1 FOR UPDATE").
			WithArgs("acc_1").
			WillReturnRows(sqlmock.NewRows([]string{"balance", "version"}).AddRow(30, 1))

		mock.ExpectRollback()

		_, err := service.Debit(context.Background(), "acc_1", 100, "dep_1")
		assert.Error(t, err)

		var insufficient *InsufficientFundsError
		assert.ErrorAs(t, err, &insufficient)
		assert.Equal(t, int64(100), insufficient.Required)
		assert.Equal(t, int64(30), insufficient.Balance)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
