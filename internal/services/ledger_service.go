package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// CoinLedgerService owns the per-account coin balance. Balances are mutated
// only through Credit/Debit, which lock the account row and append a coin
// entry in the same database transaction, so a balance can never go negative
// and every movement is traceable.
type CoinLedgerService struct {
	db *sql.DB
}

func NewCoinLedgerService(db *sql.DB) *CoinLedgerService {
	return &CoinLedgerService{db: db}
}

// GetBalance reads the current balance. A missing account reads as zero; rows
// are only created on the first credit or debit.
func (s *CoinLedgerService) GetBalance(ctx context.Context, accountID string) (int64, error) {
	var balance int64
	err := s.db.QueryRowContext(ctx, `
		SELECT balance FROM accounts WHERE account_id = $1`, accountID).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return balance, nil
}

func (s *CoinLedgerService) Credit(ctx context.Context, accountID string, amount int64, reference string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	balance, err := s.CreditTx(tx, accountID, amount, reference)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return balance, nil
}

func (s *CoinLedgerService) Debit(ctx context.Context, accountID string, amount int64, reference string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	balance, err := s.DebitTx(tx, accountID, amount, reference)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return balance, nil
}

// CreditTx applies a credit inside the caller's transaction. Callers that need
// the credit atomic with other writes (journal updates, deployment inserts)
// pass their own tx.
func (s *CoinLedgerService) CreditTx(tx *sql.Tx, accountID string, amount int64, reference string) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("credit amount must be positive, got %d", amount)
	}

	if err := s.ensureAccount(tx, accountID); err != nil {
		return 0, err
	}

	account, err := s.lockAccount(tx, accountID)
	if err != nil {
		return 0, err
	}

	newBalance := account.Balance + amount

	if err := s.createCoinEntry(tx, accountID, amount, "CREDIT", newBalance, reference); err != nil {
		return 0, err
	}

	if err := s.updateAccountBalance(tx, accountID, newBalance, account.Version); err != nil {
		return 0, err
	}

	return newBalance, nil
}

// DebitTx applies a debit inside the caller's transaction. It refuses with
// InsufficientFundsError when the balance would go negative; the row is left
// untouched.
func (s *CoinLedgerService) DebitTx(tx *sql.Tx, accountID string, amount int64, reference string) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("debit amount must be positive, got %d", amount)
	}

	if err := s.ensureAccount(tx, accountID); err != nil {
		return 0, err
	}

	account, err := s.lockAccount(tx, accountID)
	if err != nil {
		return 0, err
	}

	if account.Balance < amount {
		return 0, &InsufficientFundsError{Required: amount, Balance: account.Balance}
	}

	newBalance := account.Balance - amount

	if err := s.createCoinEntry(tx, accountID, -amount, "DEBIT", newBalance, reference); err != nil {
		return 0, err
	}

	if err := s.updateAccountBalance(tx, accountID, newBalance, account.Version); err != nil {
		return 0, err
	}

	return newBalance, nil
}

// BalanceEnquiry returns the caller's coin balance
// @Summary Get coin balance
// @Description Retrieve the authenticated account's coin balance
// @Tags coins
// @Produce json
// @Success 200 {object} object{accountId=string,balance=int64}
// @Failure 401 {object} map[string]string
// @Failure 500 {object} map[string]string
// @Router /coins/balance [get]
func (s *CoinLedgerService) BalanceEnquiry(w http.ResponseWriter, r *http.Request) {
	accountID, ok := r.Context().Value("accountID").(string)
	if !ok || accountID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	balance, err := s.GetBalance(r.Context(), accountID)
	if err != nil {
		SendErrorResponse(w, "Failed to fetch balance", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"accountId": accountID,
		"balance":   balance,
	})
}

type lockedAccount struct {
	Balance int64
	Version int
}

func (s *CoinLedgerService) ensureAccount(tx *sql.Tx, accountID string) error {
	_, err := tx.Exec(`
		INSERT INTO accounts (account_id, balance, version, created_at, updated_at)
		VALUES ($1, 0, 0, $2, $2)
		ON CONFLICT (account_id) DO NOTHING`,
		accountID, time.Now())
	return err
}

func (s *CoinLedgerService) lockAccount(tx *sql.Tx, accountID string) (*lockedAccount, error) {
	var account lockedAccount
	err := tx.QueryRow(`
		SELECT balance, version
		FROM accounts
		WHERE account_id = $1
		FOR UPDATE`, accountID).Scan(&account.Balance, &account.Version)

	return &account, err
}

func (s *CoinLedgerService) createCoinEntry(tx *sql.Tx, accountID string, amount int64, entryType string, balanceAfter int64, reference string) error {
	_, err := tx.Exec(`
		INSERT INTO coin_entries (account_id, amount, entry_type, balance_after, reference, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		accountID, amount, entryType, balanceAfter, reference, time.Now())
	return err
}

func (s *CoinLedgerService) updateAccountBalance(tx *sql.Tx, accountID string, newBalance int64, version int) error {
	result, err := tx.Exec(`
		UPDATE accounts
		SET balance = $1, version = version + 1, updated_at = $2
		WHERE account_id = $3 AND version = $4`,
		newBalance, time.Now(), accountID, version)

	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return fmt.Errorf("optimistic lock failed for account %s", accountID)
	}

	return nil
}
